// Package conf provides configuration management using Viper.
// It supports loading configuration from YAML files and environment variables.
package conf

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// NewBootstrap creates and initializes a Bootstrap configuration.
// It loads configuration from the specified config file path, applies defaults,
// and allows overrides from environment variables prefixed with METADJ_.
//
// Configuration priority: Environment variables > Config file > Defaults
//
// Shared store capability (both required, absence means single-instance mode):
//   - REDIS_URL or METADJ_DATA_REDIS_URL
//   - REDIS_TOKEN or METADJ_DATA_REDIS_TOKEN
func NewBootstrap(configPath string) (*Bootstrap, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("METADJ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("data.redis.url", "REDIS_URL", "METADJ_DATA_REDIS_URL")
	_ = v.BindEnv("data.redis.token", "REDIS_TOKEN", "METADJ_DATA_REDIS_TOKEN")
	_ = v.BindEnv("data.database.source", "MYSQL_DSN", "METADJ_DATA_DATABASE_SOURCE")
	_ = v.BindEnv("auth.admin_token", "ADMIN_TOKEN", "METADJ_AUTH_ADMIN_TOKEN")
	_ = v.BindEnv("auth.encryption_key", "ENCRYPTION_KEY", "METADJ_AUTH_ENCRYPTION_KEY")
	_ = v.BindEnv("resilience.rate_limit.fail_closed", "RATE_LIMIT_FAIL_CLOSED", "METADJ_RESILIENCE_RATE_LIMIT_FAIL_CLOSED")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	var upstreams []*Provider
	if err := v.UnmarshalKey("providers.upstreams", &upstreams); err != nil {
		return nil, fmt.Errorf("failed to parse providers.upstreams: %w", err)
	}

	bc := &Bootstrap{
		Server: &Server{
			Http: &Server_HTTP{
				Network: v.GetString("server.http.network"),
				Addr:    v.GetString("server.http.addr"),
				Timeout: v.GetDuration("server.http.timeout"),
			},
		},
		Data: &Data{
			Database: &Data_Database{
				Driver: v.GetString("data.database.driver"),
				Source: v.GetString("data.database.source"),
			},
			Redis: &Data_Redis{
				Url:          v.GetString("data.redis.url"),
				Token:        v.GetString("data.redis.token"),
				ReadTimeout:  v.GetDuration("data.redis.read_timeout"),
				WriteTimeout: v.GetDuration("data.redis.write_timeout"),
			},
		},
		Auth: &Auth{
			AdminToken:    v.GetString("auth.admin_token"),
			EncryptionKey: v.GetString("auth.encryption_key"),
		},
		Log: &Log{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			Env:        v.GetString("log.env"),
			OutputFile: v.GetString("log.output_file"),
		},
		Resilience: &Resilience{
			Circuit: &Circuit{
				FailureThreshold:   v.GetInt("resilience.circuit.failure_threshold"),
				RecoveryWindow:     v.GetDuration("resilience.circuit.recovery_window"),
				SuccessResetWindow: v.GetDuration("resilience.circuit.success_reset_window"),
				RecordTTL:          v.GetDuration("resilience.circuit.record_ttl"),
				Hydrate:            v.GetBool("resilience.circuit.hydrate"),
				WriteQueueSize:     v.GetInt("resilience.circuit.write_queue_size"),
			},
			RateLimit: &RateLimit{
				Window:           v.GetDuration("resilience.rate_limit.window"),
				WindowMax:        v.GetInt("resilience.rate_limit.window_max"),
				BurstInterval:    v.GetDuration("resilience.rate_limit.burst_interval"),
				TranscribeWindow: v.GetDuration("resilience.rate_limit.transcribe_window"),
				TranscribeMax:    v.GetInt("resilience.rate_limit.transcribe_max"),
				FailClosed:       v.GetBool("resilience.rate_limit.fail_closed"),
				LocalCapacity:    v.GetInt("resilience.rate_limit.local_capacity"),
				SweepSchedule:    v.GetString("resilience.rate_limit.sweep_schedule"),
				StoreTimeout:     v.GetDuration("resilience.rate_limit.store_timeout"),
			},
		},
		Providers: &Providers{
			Primary:       v.GetString("providers.primary"),
			Secondary:     v.GetString("providers.secondary"),
			StreamTimeout: v.GetDuration("providers.stream_timeout"),
			SyncTimeout:   v.GetDuration("providers.sync_timeout"),
			Upstreams:     upstreams,
		},
		Parser: &Parser{
			KnownTools:      v.GetStringSlice("parser.known_tools"),
			MaxEnvelopeSize: v.GetInt("parser.max_envelope_size"),
		},
	}

	for _, up := range bc.Providers.Upstreams {
		applyProviderDefaults(up)
	}

	if err := Validate(bc); err != nil {
		return nil, err
	}

	return bc, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http.network", "tcp")
	v.SetDefault("server.http.addr", ":8080")
	v.SetDefault("server.http.timeout", 120*time.Second)

	v.SetDefault("data.database.driver", "mysql")
	v.SetDefault("data.redis.read_timeout", 500*time.Millisecond)
	v.SetDefault("data.redis.write_timeout", 500*time.Millisecond)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("resilience.circuit.failure_threshold", 3)
	v.SetDefault("resilience.circuit.recovery_window", 60*time.Second)
	v.SetDefault("resilience.circuit.success_reset_window", 300*time.Second)
	v.SetDefault("resilience.circuit.record_ttl", 3600*time.Second)
	v.SetDefault("resilience.circuit.hydrate", true)
	v.SetDefault("resilience.circuit.write_queue_size", 256)

	v.SetDefault("resilience.rate_limit.window", 5*time.Minute)
	v.SetDefault("resilience.rate_limit.window_max", 20)
	v.SetDefault("resilience.rate_limit.burst_interval", 500*time.Millisecond)
	v.SetDefault("resilience.rate_limit.transcribe_window", 5*time.Minute)
	v.SetDefault("resilience.rate_limit.transcribe_max", 5)
	v.SetDefault("resilience.rate_limit.fail_closed", false)
	v.SetDefault("resilience.rate_limit.local_capacity", 10000)
	v.SetDefault("resilience.rate_limit.sweep_schedule", "@every 1m")
	v.SetDefault("resilience.rate_limit.store_timeout", 500*time.Millisecond)

	v.SetDefault("providers.stream_timeout", 90*time.Second)
	v.SetDefault("providers.sync_timeout", 30*time.Second)

	v.SetDefault("parser.max_envelope_size", 64*1024)
}

// applyProviderDefaults fills the endpoint paths an upstream may omit.
func applyProviderDefaults(p *Provider) {
	if p == nil {
		return
	}
	if p.StreamPath == "" {
		p.StreamPath = "/v1/chat/stream"
	}
	if p.SyncPath == "" {
		p.SyncPath = "/v1/chat"
	}
	if p.TranscribePath == "" {
		p.TranscribePath = "/v1/audio/transcriptions"
	}
}

// Validate checks that all required configuration fields are present and valid.
// It returns an error listing all problems found.
func Validate(bc *Bootstrap) error {
	var problems []string

	if bc.Providers == nil || len(bc.Providers.Upstreams) == 0 {
		problems = append(problems, "providers.upstreams must list at least one provider")
	} else {
		seen := make(map[string]bool, len(bc.Providers.Upstreams))
		for i, up := range bc.Providers.Upstreams {
			if up == nil || up.Name == "" {
				problems = append(problems, fmt.Sprintf("providers.upstreams[%d].name is required", i))
				continue
			}
			if seen[up.Name] {
				problems = append(problems, fmt.Sprintf("providers.upstreams[%d].name %q is duplicated", i, up.Name))
			}
			seen[up.Name] = true
			if up.BaseURL == "" {
				problems = append(problems, fmt.Sprintf("providers.upstreams[%d].base_url is required", i))
			}
		}

		if bc.Providers.Primary == "" {
			bc.Providers.Primary = bc.Providers.Upstreams[0].Name
		}
		if bc.Providers.Find(bc.Providers.Primary) == nil {
			problems = append(problems, fmt.Sprintf("providers.primary %q is not a configured upstream", bc.Providers.Primary))
		}
		if bc.Providers.Secondary != "" && bc.Providers.Find(bc.Providers.Secondary) == nil {
			problems = append(problems, fmt.Sprintf("providers.secondary %q is not a configured upstream", bc.Providers.Secondary))
		}
	}

	if c := bc.Resilience; c != nil && c.Circuit != nil && c.Circuit.FailureThreshold < 1 {
		problems = append(problems, "resilience.circuit.failure_threshold must be >= 1")
	}
	if c := bc.Resilience; c != nil && c.RateLimit != nil {
		if c.RateLimit.WindowMax < 1 || c.RateLimit.TranscribeMax < 1 {
			problems = append(problems, "resilience.rate_limit window maxima must be >= 1")
		}
		if c.RateLimit.LocalCapacity < 1 {
			problems = append(problems, "resilience.rate_limit.local_capacity must be >= 1")
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, ", "))
	}

	return nil
}

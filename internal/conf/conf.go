// Package conf holds the service configuration tree.
package conf

import "time"

// Bootstrap is the root configuration.
type Bootstrap struct {
	Server     *Server
	Data       *Data
	Auth       *Auth
	Log        *Log
	Resilience *Resilience
	Providers  *Providers
	Parser     *Parser
}

// Server configures the HTTP listener.
type Server struct {
	Http *Server_HTTP
}

// Server_HTTP is the HTTP listener configuration.
type Server_HTTP struct {
	Network string
	Addr    string
	Timeout time.Duration
}

// Data configures the shared store and the optional audit database.
type Data struct {
	Database *Data_Database
	Redis    *Data_Redis
}

// Data_Database is the optional MySQL database used for circuit audit rows.
type Data_Database struct {
	Driver string
	Source string
}

// Data_Redis is the shared key-value store. Both Url and Token must be set
// to switch the breaker and the limiter into shared-store mode.
type Data_Redis struct {
	Url          string
	Token        string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Enabled reports whether the shared store capability is configured.
func (r *Data_Redis) Enabled() bool {
	return r != nil && r.Url != "" && r.Token != ""
}

// Auth holds secrets used by the service itself.
type Auth struct {
	AdminToken    string
	EncryptionKey string
}

// Log configures the zap logger.
type Log struct {
	Level      string
	Format     string
	Env        string
	OutputFile string
}

// Resilience groups circuit breaker and rate limiter policy.
type Resilience struct {
	Circuit   *Circuit
	RateLimit *RateLimit
}

// Circuit is the per-provider circuit breaker policy.
type Circuit struct {
	FailureThreshold   int
	RecoveryWindow     time.Duration
	SuccessResetWindow time.Duration
	RecordTTL          time.Duration
	Hydrate            bool
	WriteQueueSize     int
}

// RateLimit is the per-client throttle policy.
type RateLimit struct {
	Window           time.Duration
	WindowMax        int
	BurstInterval    time.Duration
	TranscribeWindow time.Duration
	TranscribeMax    int
	FailClosed       bool
	LocalCapacity    int
	SweepSchedule    string
	StoreTimeout     time.Duration
}

// Providers lists the upstream model providers.
type Providers struct {
	Primary       string
	Secondary     string
	StreamTimeout time.Duration
	SyncTimeout   time.Duration
	Upstreams     []*Provider
}

// Provider is one upstream model endpoint.
type Provider struct {
	Name           string `mapstructure:"name"`
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	StreamPath     string `mapstructure:"stream_path"`
	SyncPath       string `mapstructure:"sync_path"`
	TranscribePath string `mapstructure:"transcribe_path"`
	ProxyURL       string `mapstructure:"proxy_url"`
}

// Find returns the provider with the given name, or nil.
func (p *Providers) Find(name string) *Provider {
	if p == nil {
		return nil
	}
	for _, up := range p.Upstreams {
		if up != nil && up.Name == name {
			return up
		}
	}
	return nil
}

// Parser configures the stream parser.
type Parser struct {
	KnownTools      []string
	MaxEnvelopeSize int
}

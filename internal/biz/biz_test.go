package biz

import (
	"strings"
	"testing"

	"MetaDJ/internal/conf"
	"MetaDJ/internal/data"
	"MetaDJ/pkg/crypto"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectors_LocalMode(t *testing.T) {
	d, cleanup, err := data.NewData(&conf.Data{}, log.DefaultLogger, nil, nil, nil)
	require.NoError(t, err)
	defer cleanup()

	assert.IsType(t, &data.MemoryCircuitRepo{}, NewCircuitBreakerRepo(d, testResilience(), log.DefaultLogger))
	assert.IsType(t, &data.LogEventSink{}, NewCircuitEventSink(d, log.DefaultLogger))
	assert.Nil(t, NewSharedRateLimitRepo(d, log.DefaultLogger))

	local, err := NewLocalRateLimitStore(testResilience())
	require.NoError(t, err)
	assert.Equal(t, 0, local.Len())
}

func TestSelectors_SharedMode(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	c := &conf.Data{Redis: &conf.Data_Redis{Url: "redis://" + mr.Addr(), Token: "token"}}
	d, cleanup, err := data.NewData(c, log.DefaultLogger, rdb, data.NewCacheClient(rdb), nil)
	require.NoError(t, err)
	defer cleanup()

	assert.IsType(t, &data.RedisCircuitRepo{}, NewCircuitBreakerRepo(d, testResilience(), log.DefaultLogger))
	assert.IsType(t, &data.RedisRateLimitRepo{}, NewSharedRateLimitRepo(d, log.DefaultLogger))
}

func testProviders() *conf.Providers {
	return &conf.Providers{
		Primary:   "openai",
		Secondary: "anthropic",
		Upstreams: []*conf.Provider{
			{Name: "openai", BaseURL: "http://127.0.0.1:4000", Model: "gpt-4o-mini", StreamPath: "/v1/chat/stream", SyncPath: "/v1/chat"},
			{Name: "anthropic", BaseURL: "http://127.0.0.1:4001", Model: "claude-3-5-haiku"},
		},
	}
}

func TestNewProviderRegistry(t *testing.T) {
	reg, err := NewProviderRegistry(testProviders(), &conf.Auth{}, log.DefaultLogger)
	require.NoError(t, err)

	assert.Equal(t, "openai", reg.Primary().Name())
	assert.Equal(t, "gpt-4o-mini", reg.Primary().Model())
	require.NotNil(t, reg.Secondary())
	assert.Equal(t, "anthropic", reg.Secondary().Name())
	assert.Len(t, reg.All(), 2)
	assert.Equal(t, "anthropic", reg.other(reg.Primary()).Name())
	assert.Equal(t, "openai", reg.other(reg.Secondary()).Name())
}

func TestNewProviderRegistry_NoSecondary(t *testing.T) {
	c := testProviders()
	c.Secondary = "openai"

	reg, err := NewProviderRegistry(c, nil, log.DefaultLogger)
	require.NoError(t, err)
	assert.Nil(t, reg.Secondary())
	assert.Len(t, reg.All(), 1)
	assert.Nil(t, reg.other(reg.Primary()))
}

func TestNewProviderRegistry_Errors(t *testing.T) {
	_, err := NewProviderRegistry(&conf.Providers{}, nil, log.DefaultLogger)
	assert.Error(t, err)

	c := testProviders()
	c.Secondary = "missing"
	_, err = NewProviderRegistry(c, nil, log.DefaultLogger)
	assert.ErrorContains(t, err, `"missing"`)

	_, err = NewProviderRegistry(testProviders(), &conf.Auth{EncryptionKey: "short"}, log.DefaultLogger)
	assert.ErrorContains(t, err, "encryption key")
}

func TestNewProviderRegistry_SealedKeys(t *testing.T) {
	key := strings.Repeat("ab", 32)
	box, err := crypto.NewSecretBox(key)
	require.NoError(t, err)
	sealed, err := box.Seal("sk-live")
	require.NoError(t, err)

	c := testProviders()
	c.Upstreams[0].APIKey = sealed

	_, err = NewProviderRegistry(c, &conf.Auth{EncryptionKey: key}, log.DefaultLogger)
	require.NoError(t, err)

	// A sealed key without a configured encryption key is a startup error.
	_, err = NewProviderRegistry(c, &conf.Auth{}, log.DefaultLogger)
	assert.ErrorIs(t, err, crypto.ErrNoKey)
}

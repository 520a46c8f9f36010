package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		Name   string
		Modify func(c *Config)
		Err    string
	}{
		{Name: "Memory", Modify: func(c *Config) {}},
		{Name: "PostgresWithURL", Modify: func(c *Config) {
			c.Storage = StoragePostgres
			c.DatabaseURL = "postgres://localhost/shop"
		}},
		{Name: "PostgresWithoutURL", Modify: func(c *Config) { c.Storage = StoragePostgres }, Err: "database URL"},
		{Name: "UnknownStorage", Modify: func(c *Config) { c.Storage = "sqlite" }, Err: "unknown storage"},
		{Name: "CardWithoutBaseURL", Modify: func(c *Config) {
			c.Card = CardConfig{APIKey: "sk", WebhookSecret: "whsec"}
		}, Err: "card base URL"},
		{Name: "CardWithoutSecret", Modify: func(c *Config) {
			c.Card = CardConfig{APIKey: "sk", BaseURL: "http://card"}
		}, Err: "webhook secret"},
		{Name: "KeysWithoutPepper", Modify: func(c *Config) {
			c.Admin.KeyHashes = []string{"abc"}
		}, Err: "pepper"},
	} {
		t.Run(tt.Name, func(t *testing.T) {
			t.Parallel()
			c := &Config{Storage: StorageMemory}
			tt.Modify(c)
			err := c.validate()
			if tt.Err == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.Err)
		})
	}
}

func TestConfig_ApplyPlatformDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://platform/db")
	t.Setenv("REDIS_URL", "redis://platform:6379/0")
	t.Setenv("PORT", "9000")

	c := &Config{
		Addr:          "0.0.0.0:8080",
		PublicURL:     "https://api.example/",
		StorefrontURL: "https://shop.example//",
	}
	c.applyPlatformDefaults()

	assert.Equal(t, "postgres://platform/db", c.DatabaseURL)
	assert.Equal(t, "redis://platform:6379/0", c.Redis.URL)
	assert.Equal(t, "0.0.0.0:9000", c.Addr)
	assert.Equal(t, "https://api.example", c.PublicURL)
	assert.Equal(t, "https://shop.example", c.StorefrontURL)
}

func TestConfig_ApplyPlatformDefaults_KeepsExplicit(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://platform/db")
	t.Setenv("PORT", "9000")

	c := &Config{
		Addr:        "127.0.0.1:7000",
		DatabaseURL: "postgres://explicit/db",
		Redis:       RedisConfig{Addr: "localhost:6379"},
	}
	c.applyPlatformDefaults()

	assert.Equal(t, "postgres://explicit/db", c.DatabaseURL)
	assert.Equal(t, "127.0.0.1:7000", c.Addr)
	assert.Empty(t, c.Redis.URL)
}

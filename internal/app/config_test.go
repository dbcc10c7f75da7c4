package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.Equal(t, 5*time.Minute, cfg.ReportCacheTTL)
	require.Equal(t, 3, cfg.TxMaxRetries)
	require.Equal(t, "IDR", cfg.DefaultCurrency)
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("PG_MAX_CONNS", "25")
	t.Setenv("REPORT_CACHE_TTL", "30s")
	t.Setenv("DEFAULT_CURRENCY", "USD")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.True(t, cfg.IsProduction())
	require.EqualValues(t, 25, cfg.PGMaxConns)
	require.Equal(t, 30*time.Second, cfg.ReportCacheTTL)
	require.Equal(t, "USD", cfg.DefaultCurrency)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	for name, env := range map[string][2]string{
		"retries":  {"TX_MAX_RETRIES", "0"},
		"currency": {"DEFAULT_CURRENCY", "rupiah"},
		"duration": {"APP_READ_TIMEOUT", "soon"},
	} {
		t.Run(name, func(t *testing.T) {
			t.Setenv(env[0], env[1])
			_, err := LoadConfig()
			require.Error(t, err)
		})
	}
}

package pricing

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront-checkout/internal/domain/money"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pricing.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
currency: irr
tax:
  default_rate: "9"
  regions:
    - country: IR
      province: Kish
      rate: "0"
shipping:
  base_fee: 350000
  free_threshold: 10000000
  overrides:
    - country: IR
      city: Zahedan
      multiplier: "1.5"
      extra: 20000
`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, money.Currency("IRR"), cfg.Currency)
	assert.True(t, decimal.NewFromInt(9).Equal(cfg.Tax.DefaultRate))
	require.Len(t, cfg.Tax.Regions, 1)
	assert.Equal(t, "Kish", cfg.Tax.Regions[0].Province)
	assert.Equal(t, money.Amount(350000), cfg.Shipping.BaseFee)
	require.Len(t, cfg.Shipping.Overrides, 1)
	assert.Equal(t, "Zahedan", cfg.Shipping.Overrides[0].City)
	assert.True(t, decimal.RequireFromString("1.5").Equal(cfg.Shipping.Overrides[0].Multiplier))
	// Keys absent from the file keep defaults.
	assert.Equal(t, "1-2 business days", cfg.Shipping.ExpressETA)
}

func TestLoadConfig_Empty(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfig_NegativeRate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pricing.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tax:\n  default_rate: \"-1\"\n"), 0o600))

	_, err := LoadConfig(path)
	require.Error(t, err)
}

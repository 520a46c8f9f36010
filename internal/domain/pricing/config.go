package pricing

import (
	"os"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/xenking/storefront-checkout/internal/domain/money"
	"github.com/xenking/storefront-checkout/internal/domain/shipping"
	"github.com/xenking/storefront-checkout/internal/domain/tax"
)

// Config is the pricing table document.
type Config struct {
	Currency money.Currency  `yaml:"currency"`
	Tax      tax.Config      `yaml:"tax"`
	Shipping shipping.Config `yaml:"shipping"`
}

// DefaultConfig returns the built-in rates used when no pricing file is set.
func DefaultConfig() Config {
	return Config{
		Currency: "IRR",
		Tax: tax.Config{
			DefaultRate: decimal.NewFromInt(10),
		},
		Shipping: shipping.Config{
			BaseFee:          300000,
			FreeThreshold:    10000000,
			ExpressSurcharge: 500000,
			StandardETA:      "3-5 business days",
			ExpressETA:       "1-2 business days",
		},
	}
}

// LoadConfig reads a YAML pricing document. Missing keys keep their
// DefaultConfig values.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "read pricing file")
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrapf(err, "decode pricing file %s", path)
	}
	cfg.Currency = money.NormalizeCurrency(string(cfg.Currency))
	if cfg.Currency == "" {
		return Config{}, errors.New("pricing currency is required")
	}
	if cfg.Tax.DefaultRate.IsNegative() {
		return Config{}, errors.New("default tax rate must not be negative")
	}
	for _, r := range cfg.Tax.Regions {
		if r.Rate.IsNegative() {
			return Config{}, errors.Errorf("tax rate for %+v must not be negative", r.Selector)
		}
	}
	return cfg, nil
}

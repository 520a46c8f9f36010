package app

import (
	"go.uber.org/zap"

	"github.com/xenking/storefront-checkout/internal/domain/payment"
	"github.com/xenking/storefront-checkout/internal/gateway"
	"github.com/xenking/storefront-checkout/internal/gateway/card"
	"github.com/xenking/storefront-checkout/internal/gateway/zarinpal"
	"github.com/xenking/storefront-checkout/internal/handler"
)

// gateways are the configured payment gateways and their callback parsers.
type gateways struct {
	registry *payment.Registry
	webhooks map[string]handler.WebhookParser
	returns  map[string]handler.ReturnParser
}

// openGateways builds a breaker-guarded client for every configured gateway.
// Webhook parsing stays on the raw client: it makes no outgoing calls.
func openGateways(lg *zap.Logger, m Telemetry, cfg *Config) gateways {
	client := gateway.NewHTTPClient(cfg.Payment.HTTPTimeout, m.TracerProvider(), m.MeterProvider())
	breaker := gateway.BreakerConfig{
		MaxRequests:         1,
		Interval:            cfg.Breaker.Interval,
		OpenTimeout:         cfg.Breaker.OpenTimeout,
		ConsecutiveFailures: cfg.Breaker.ConsecutiveFailures,
	}

	var (
		list []payment.Gateway
		gws  = gateways{
			webhooks: map[string]handler.WebhookParser{},
			returns:  map[string]handler.ReturnParser{},
		}
	)
	if cfg.Zarinpal.MerchantID != "" {
		zp := zarinpal.New(zarinpal.Config{
			MerchantID: cfg.Zarinpal.MerchantID,
			BaseURL:    cfg.Zarinpal.BaseURL,
		}, client)
		list = append(list, gateway.Wrap(zp, breaker, lg.Named("gateway")))
		gws.returns[zarinpal.Name] = zarinpal.ParseReturn
	}
	if cfg.Card.APIKey != "" {
		c := card.New(card.Config{
			BaseURL:       cfg.Card.BaseURL,
			APIKey:        cfg.Card.APIKey,
			WebhookSecret: cfg.Card.WebhookSecret,
		}, client)
		list = append(list, gateway.Wrap(c, breaker, lg.Named("gateway")))
		gws.webhooks[card.Name] = c
		gws.returns[card.Name] = card.ParseReturn
	}
	gws.registry = payment.NewRegistry(list...)
	return gws
}

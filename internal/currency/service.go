package currency

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/quoteflow-io/quoteflow-backend/pkg/config"
	"github.com/quoteflow-io/quoteflow-backend/pkg/httpclient"
	"github.com/quoteflow-io/quoteflow-backend/pkg/logger"
)

// Service returns today's conversion rate from a currency to the base currency.
type Service interface {
	Rate(ctx context.Context, currencyCode string) (decimal.Decimal, error)
}

type service struct {
	client       *httpclient.Client
	baseCurrency string
}

// NewService builds the HTTP-backed currency port.
func NewService(cfg config.ServicesConfig, baseCurrency string, logg *logger.Logger) (Service, error) {
	if cfg.CurrencyBaseURL == "" {
		return nil, errors.New("currency base url is required")
	}
	if baseCurrency == "" {
		return nil, errors.New("base currency is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &service{
		client:       httpclient.New(cfg.CurrencyBaseURL, cfg.APIToken, cfg.CallTimeout, logg),
		baseCurrency: strings.ToUpper(baseCurrency),
	}, nil
}

type rateResponse struct {
	Rate decimal.Decimal `json:"rate"`
}

func (s *service) Rate(ctx context.Context, currencyCode string) (decimal.Decimal, error) {
	code := strings.ToUpper(strings.TrimSpace(currencyCode))
	if code == "" || code == s.baseCurrency {
		return decimal.NewFromInt(1), nil
	}
	var resp rateResponse
	err := s.client.GetJSON(ctx, "/v1/rates", map[string]string{
		"from": code,
		"to":   s.baseCurrency,
	}, &resp)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if resp.Rate.LessThanOrEqual(decimal.Zero) {
		return decimal.Decimal{}, errors.New("currency service returned non-positive rate")
	}
	return resp.Rate, nil
}

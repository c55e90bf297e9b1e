package transport

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/quoteflow-io/quoteflow-backend/pkg/config"
	"github.com/quoteflow-io/quoteflow-backend/pkg/httpclient"
	"github.com/quoteflow-io/quoteflow-backend/pkg/logger"
)

// Option is one carrier quote for a shipment.
type Option struct {
	Carrier     string          `json:"carrier"`
	Cost        decimal.Decimal `json:"cost"`
	LeadDays    int             `json:"lead_days"`
	Reliability float64         `json:"reliability"`
}

// Service returns ranked carrier options for a shipment.
type Service interface {
	Quote(ctx context.Context, weightKG float64, destination string) ([]Option, error)
}

type service struct {
	client *httpclient.Client
}

// NewService builds the HTTP-backed transport calculator port.
func NewService(cfg config.ServicesConfig, logg *logger.Logger) (Service, error) {
	if cfg.TransportBaseURL == "" {
		return nil, errors.New("transport base url is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &service{
		client: httpclient.New(cfg.TransportBaseURL, cfg.APIToken, cfg.CallTimeout, logg),
	}, nil
}

type quoteResponse struct {
	Options []Option `json:"options"`
}

func (s *service) Quote(ctx context.Context, weightKG float64, destination string) ([]Option, error) {
	var resp quoteResponse
	err := s.client.GetJSON(ctx, "/v1/quotes", map[string]string{
		"weight_kg":   strconv.FormatFloat(weightKG, 'f', 3, 64),
		"destination": destination,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Options, nil
}

// Select picks one option deterministically: lowest cost, then shortest lead
// time, then highest reliability, then carrier name ascending. The returned
// reason names the winning criterion.
func Select(options []Option) (Option, string, error) {
	if len(options) == 0 {
		return Option{}, "", errors.New("no transport options available")
	}

	ranked := make([]Option, len(options))
	copy(ranked, options)
	sort.SliceStable(ranked, func(i, j int) bool {
		if !ranked[i].Cost.Equal(ranked[j].Cost) {
			return ranked[i].Cost.LessThan(ranked[j].Cost)
		}
		if ranked[i].LeadDays != ranked[j].LeadDays {
			return ranked[i].LeadDays < ranked[j].LeadDays
		}
		if ranked[i].Reliability != ranked[j].Reliability {
			return ranked[i].Reliability > ranked[j].Reliability
		}
		return ranked[i].Carrier < ranked[j].Carrier
	})

	selected := ranked[0]
	reason := selectionReason(selected, ranked)
	return selected, reason, nil
}

func selectionReason(selected Option, ranked []Option) string {
	if len(ranked) == 1 {
		return fmt.Sprintf("only carrier available (%s)", selected.Carrier)
	}
	runnerUp := ranked[1]
	switch {
	case selected.Cost.LessThan(runnerUp.Cost):
		return fmt.Sprintf("lowest cost (%s EUR vs %s EUR for %s)",
			selected.Cost.StringFixed(2), runnerUp.Cost.StringFixed(2), runnerUp.Carrier)
	case selected.LeadDays < runnerUp.LeadDays:
		return fmt.Sprintf("equal cost, shortest lead time (%d days vs %d for %s)",
			selected.LeadDays, runnerUp.LeadDays, runnerUp.Carrier)
	case selected.Reliability > runnerUp.Reliability:
		return fmt.Sprintf("equal cost and lead time, highest reliability (%.2f vs %.2f for %s)",
			selected.Reliability, runnerUp.Reliability, runnerUp.Carrier)
	default:
		return fmt.Sprintf("tie on all criteria, first carrier alphabetically (%s)", selected.Carrier)
	}
}

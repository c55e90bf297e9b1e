package discount

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quoteflow-io/quoteflow-backend/pkg/config"
	"github.com/quoteflow-io/quoteflow-backend/pkg/enums"
	"github.com/quoteflow-io/quoteflow-backend/pkg/httpclient"
	"github.com/quoteflow-io/quoteflow-backend/pkg/logger"
)

// Discount is a supplier discount with its applicability conditions.
type Discount struct {
	Type        enums.DiscountType
	Value       decimal.Decimal
	MinQuantity int
	MinAmount   decimal.Decimal
	ValidFrom   *time.Time
	ValidUntil  *time.Time
}

// AppliesTo reports whether the discount's conditions are met for the given
// quantity and gross amount at the given time.
func (d Discount) AppliesTo(quantity int, amount decimal.Decimal, now time.Time) bool {
	if d.MinQuantity > 0 && quantity < d.MinQuantity {
		return false
	}
	if d.MinAmount.IsPositive() && amount.LessThan(d.MinAmount) {
		return false
	}
	if d.ValidFrom != nil && now.Before(*d.ValidFrom) {
		return false
	}
	if d.ValidUntil != nil && now.After(*d.ValidUntil) {
		return false
	}
	return true
}

// Apply returns the amount reduced by the discount. Fixed discounts never
// push the amount below zero.
func (d Discount) Apply(amount decimal.Decimal) decimal.Decimal {
	switch d.Type {
	case enums.DiscountTypePercentage:
		factor := decimal.NewFromInt(1).Sub(d.Value.Div(decimal.NewFromInt(100)))
		return amount.Mul(factor)
	case enums.DiscountTypeFixed:
		reduced := amount.Sub(d.Value)
		if reduced.IsNegative() {
			return decimal.Zero
		}
		return reduced
	default:
		return amount
	}
}

// Service returns the applicable supplier discount for an item, if any.
type Service interface {
	Lookup(ctx context.Context, supplierCode, itemCode string, quantity int) (*Discount, error)
}

type service struct {
	client *httpclient.Client
}

// NewService builds the HTTP-backed discount port.
func NewService(cfg config.ServicesConfig, logg *logger.Logger) (Service, error) {
	if cfg.DiscountBaseURL == "" {
		return nil, errors.New("discount base url is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &service{
		client: httpclient.New(cfg.DiscountBaseURL, cfg.APIToken, cfg.CallTimeout, logg),
	}, nil
}

type discountResponse struct {
	Discount *struct {
		Type        string          `json:"type"`
		Value       decimal.Decimal `json:"value"`
		MinQuantity int             `json:"min_quantity"`
		MinAmount   decimal.Decimal `json:"min_amount"`
		ValidFrom   *time.Time      `json:"valid_from"`
		ValidUntil  *time.Time      `json:"valid_until"`
	} `json:"discount"`
}

func (s *service) Lookup(ctx context.Context, supplierCode, itemCode string, quantity int) (*Discount, error) {
	var resp discountResponse
	err := s.client.GetJSON(ctx, "/v1/discounts", map[string]string{
		"supplier_code": supplierCode,
		"item_code":     itemCode,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Discount == nil {
		return nil, nil
	}
	discountType, err := enums.ParseDiscountType(resp.Discount.Type)
	if err != nil {
		return nil, err
	}
	return &Discount{
		Type:        discountType,
		Value:       resp.Discount.Value,
		MinQuantity: resp.Discount.MinQuantity,
		MinAmount:   resp.Discount.MinAmount,
		ValidFrom:   resp.Discount.ValidFrom,
		ValidUntil:  resp.Discount.ValidUntil,
	}, nil
}

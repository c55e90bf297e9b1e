package history

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quoteflow-io/quoteflow-backend/pkg/config"
	"github.com/quoteflow-io/quoteflow-backend/pkg/httpclient"
	"github.com/quoteflow-io/quoteflow-backend/pkg/logger"
)

// CustomerSale is the most recent sale of an item to a specific customer.
type CustomerSale struct {
	UnitPrice           decimal.Decimal
	SupplierPriceAtSale decimal.Decimal
	Quantity            int
	SoldAt              time.Time
}

// ReferenceSale is one prior sale of an item to some other customer.
type ReferenceSale struct {
	UnitPrice decimal.Decimal
	Quantity  int
	SoldAt    time.Time
}

// Snapshot bundles everything the pricing engine needs to know about an
// item's sales and purchase history. CustomerSale is nil when the item never
// sold to the requested customer.
type Snapshot struct {
	ItemCode         string
	CustomerSale     *CustomerSale
	OtherSales       []ReferenceSale
	SupplierCode     string
	SupplierPrice    decimal.Decimal
	SupplierCurrency string
}

// Service returns sales/purchase history snapshots from the upstream ERP.
type Service interface {
	Lookup(ctx context.Context, itemCode, customerCode string) (*Snapshot, error)
}

type service struct {
	client *httpclient.Client
}

// NewService builds the HTTP-backed history port.
func NewService(cfg config.ServicesConfig, logg *logger.Logger) (Service, error) {
	if cfg.HistoryBaseURL == "" {
		return nil, errors.New("history base url is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &service{
		client: httpclient.New(cfg.HistoryBaseURL, cfg.APIToken, cfg.CallTimeout, logg),
	}, nil
}

type snapshotResponse struct {
	ItemCode     string `json:"item_code"`
	CustomerSale *struct {
		UnitPrice           decimal.Decimal `json:"unit_price"`
		SupplierPriceAtSale decimal.Decimal `json:"supplier_price_at_sale"`
		Quantity            int             `json:"quantity"`
		SoldAt              time.Time       `json:"sold_at"`
	} `json:"customer_sale"`
	OtherSales []struct {
		UnitPrice decimal.Decimal `json:"unit_price"`
		Quantity  int             `json:"quantity"`
		SoldAt    time.Time       `json:"sold_at"`
	} `json:"other_sales"`
	SupplierCode     string          `json:"supplier_code"`
	SupplierPrice    decimal.Decimal `json:"supplier_price"`
	SupplierCurrency string          `json:"supplier_currency"`
}

func (s *service) Lookup(ctx context.Context, itemCode, customerCode string) (*Snapshot, error) {
	query := map[string]string{"item_code": itemCode}
	if customerCode != "" {
		query["customer_code"] = customerCode
	}
	var resp snapshotResponse
	if err := s.client.GetJSON(ctx, "/v1/history", query, &resp); err != nil {
		return nil, err
	}

	snapshot := &Snapshot{
		ItemCode:         resp.ItemCode,
		SupplierCode:     resp.SupplierCode,
		SupplierPrice:    resp.SupplierPrice,
		SupplierCurrency: resp.SupplierCurrency,
	}
	if resp.CustomerSale != nil {
		snapshot.CustomerSale = &CustomerSale{
			UnitPrice:           resp.CustomerSale.UnitPrice,
			SupplierPriceAtSale: resp.CustomerSale.SupplierPriceAtSale,
			Quantity:            resp.CustomerSale.Quantity,
			SoldAt:              resp.CustomerSale.SoldAt,
		}
	}
	for _, sale := range resp.OtherSales {
		snapshot.OtherSales = append(snapshot.OtherSales, ReferenceSale{
			UnitPrice: sale.UnitPrice,
			Quantity:  sale.Quantity,
			SoldAt:    sale.SoldAt,
		})
	}
	return snapshot, nil
}

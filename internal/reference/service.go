package reference

import (
	"context"
	"errors"

	"github.com/quoteflow-io/quoteflow-backend/pkg/config"
	"github.com/quoteflow-io/quoteflow-backend/pkg/httpclient"
	"github.com/quoteflow-io/quoteflow-backend/pkg/logger"
)

// Customer is a resolved or newly created account on the upstream CRM.
type Customer struct {
	Code  string
	Name  string
	Email string
	IsNew bool
}

// CatalogItem is a resolved product from the upstream catalog. SupplierCodes
// carries every supplier the catalog associates with the item; pricing demands
// exactly one.
type CatalogItem struct {
	Code          string
	DisplayName   string
	Unit          string
	WeightKG      *float64
	SupplierCodes []string
}

// Service resolves free-form identifiers against the upstream CRM/catalog.
// Confidence is a 0-100 score produced upstream; callers threshold it but
// never re-derive it.
type Service interface {
	ResolveCustomer(ctx context.Context, nameOrEmail string) (*Customer, int, error)
	CreateCustomer(ctx context.Context, name, email string) (*Customer, error)
	ResolveProduct(ctx context.Context, codeOrDescription string) (*CatalogItem, int, error)
}

type service struct {
	client *httpclient.Client
}

// NewService builds the HTTP-backed reference lookup port.
func NewService(cfg config.ServicesConfig, logg *logger.Logger) (Service, error) {
	if cfg.ReferenceBaseURL == "" {
		return nil, errors.New("reference base url is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &service{
		client: httpclient.New(cfg.ReferenceBaseURL, cfg.APIToken, cfg.CallTimeout, logg),
	}, nil
}

type resolveCustomerResponse struct {
	Customer   *customerDTO `json:"customer"`
	Confidence int          `json:"confidence"`
}

type customerDTO struct {
	Code  string `json:"code"`
	Name  string `json:"name"`
	Email string `json:"email"`
	IsNew bool   `json:"is_new"`
}

type resolveProductResponse struct {
	Item       *catalogItemDTO `json:"item"`
	Confidence int             `json:"confidence"`
}

type catalogItemDTO struct {
	Code          string   `json:"code"`
	DisplayName   string   `json:"display_name"`
	Unit          string   `json:"unit"`
	WeightKG      *float64 `json:"weight_kg"`
	SupplierCodes []string `json:"supplier_codes"`
}

func (s *service) ResolveCustomer(ctx context.Context, nameOrEmail string) (*Customer, int, error) {
	var resp resolveCustomerResponse
	err := s.client.GetJSON(ctx, "/v1/customers/resolve", map[string]string{"query": nameOrEmail}, &resp)
	if err != nil {
		return nil, 0, err
	}
	if resp.Customer == nil {
		return nil, resp.Confidence, nil
	}
	return &Customer{
		Code:  resp.Customer.Code,
		Name:  resp.Customer.Name,
		Email: resp.Customer.Email,
		IsNew: resp.Customer.IsNew,
	}, resp.Confidence, nil
}

func (s *service) CreateCustomer(ctx context.Context, name, email string) (*Customer, error) {
	var resp customerDTO
	body := map[string]string{"name": name, "email": email}
	if err := s.client.PostJSON(ctx, "/v1/customers", body, &resp); err != nil {
		return nil, err
	}
	return &Customer{
		Code:  resp.Code,
		Name:  resp.Name,
		Email: resp.Email,
		IsNew: true,
	}, nil
}

func (s *service) ResolveProduct(ctx context.Context, codeOrDescription string) (*CatalogItem, int, error) {
	var resp resolveProductResponse
	err := s.client.GetJSON(ctx, "/v1/products/resolve", map[string]string{"query": codeOrDescription}, &resp)
	if err != nil {
		return nil, 0, err
	}
	if resp.Item == nil {
		return nil, resp.Confidence, nil
	}
	return &CatalogItem{
		Code:          resp.Item.Code,
		DisplayName:   resp.Item.DisplayName,
		Unit:          resp.Item.Unit,
		WeightKG:      resp.Item.WeightKG,
		SupplierCodes: resp.Item.SupplierCodes,
	}, resp.Confidence, nil
}

package pricing

import (
	"context"
	"io"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quoteflow-io/quoteflow-backend/internal/currency"
	"github.com/quoteflow-io/quoteflow-backend/internal/discount"
	"github.com/quoteflow-io/quoteflow-backend/internal/history"
	"github.com/quoteflow-io/quoteflow-backend/pkg/config"
	"github.com/quoteflow-io/quoteflow-backend/pkg/enums"
	"github.com/quoteflow-io/quoteflow-backend/pkg/logger"
)

type fakeHistory struct {
	snapshot *history.Snapshot
	err      error
	calls    int
}

func (f *fakeHistory) Lookup(_ context.Context, itemCode, _ string) (*history.Snapshot, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	snap := *f.snapshot
	snap.ItemCode = itemCode
	return &snap, nil
}

type fakeCurrency struct {
	rate decimal.Decimal
	err  error
}

func (f *fakeCurrency) Rate(_ context.Context, currencyCode string) (decimal.Decimal, error) {
	if f.err != nil {
		return decimal.Decimal{}, f.err
	}
	if currencyCode == "" || currencyCode == "EUR" {
		return decimal.NewFromInt(1), nil
	}
	return f.rate, nil
}

type fakeDiscount struct {
	discount *discount.Discount
	err      error
}

func (f *fakeDiscount) Lookup(_ context.Context, _, _ string, _ int) (*discount.Discount, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.discount, nil
}

func testConfig() config.PricingConfig {
	return config.PricingConfig{
		MarginFraction:     0.45,
		MinMarginFraction:  0.35,
		MaxMarginFraction:  0.45,
		MinReferenceSales:  3,
		StabilityThreshold: 0.05,
		TaxRate:            0.20,
		BaseCurrency:       "EUR",
	}
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "pricing-test", Output: io.Discard})
}

func newTestEngine(t *testing.T, h history.Service, c currency.Service, d discount.Service, cache Cache) Engine {
	t.Helper()
	eng, err := NewEngine(h, c, d, cache, testConfig(), testLogger(), nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return eng
}

func baseRequest() Request {
	return Request{
		ItemCode:         "VIS-M8-100",
		CustomerCode:     "CUST-042",
		Quantity:         10,
		SupplierCode:     "SUP-001",
		SupplierPrice:    decimal.NewFromInt(100),
		SupplierCurrency: "EUR",
		Now:              time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
	}
}

func emptySnapshot() *history.Snapshot {
	return &history.Snapshot{
		SupplierCode:     "SUP-001",
		SupplierPrice:    decimal.NewFromInt(100),
		SupplierCurrency: "EUR",
	}
}

func TestPriceNewProductUsesMarginFormula(t *testing.T) {
	eng := newTestEngine(t,
		&fakeHistory{snapshot: emptySnapshot()},
		&fakeCurrency{rate: decimal.NewFromInt(1)},
		&fakeDiscount{},
		nil,
	)

	decision, err := eng.Price(context.Background(), baseRequest())
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	if decision.Case != enums.PricingCaseNewProduct {
		t.Fatalf("case = %s, want %s", decision.Case, enums.PricingCaseNewProduct)
	}
	// 100 / (1 - 0.45) = 181.8181... rounded to 181.82, not 100 * 1.45.
	if got := decision.UnitPrice.StringFixed(2); got != "181.82" {
		t.Fatalf("unit price = %s, want 181.82", got)
	}
	if !decision.RequiresValidation {
		t.Fatal("new product pricing must require validation")
	}
	if decision.Confidence != confidenceNewProduct {
		t.Fatalf("confidence = %d, want %d", decision.Confidence, confidenceNewProduct)
	}
}

func TestPriceStableRepeatSaleKeepsLastPrice(t *testing.T) {
	snap := emptySnapshot()
	snap.SupplierPrice = decimal.NewFromInt(102)
	snap.CustomerSale = &history.CustomerSale{
		UnitPrice:           decimal.NewFromInt(150),
		SupplierPriceAtSale: decimal.NewFromInt(100),
		Quantity:            5,
		SoldAt:              time.Date(2025, 11, 2, 0, 0, 0, 0, time.UTC),
	}
	req := baseRequest()
	req.SupplierPrice = decimal.NewFromInt(102)

	eng := newTestEngine(t, &fakeHistory{snapshot: snap}, &fakeCurrency{rate: decimal.NewFromInt(1)}, &fakeDiscount{}, nil)
	decision, err := eng.Price(context.Background(), req)
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	if decision.Case != enums.PricingCaseClientStable {
		t.Fatalf("case = %s, want %s", decision.Case, enums.PricingCaseClientStable)
	}
	if got := decision.UnitPrice.StringFixed(2); got != "150.00" {
		t.Fatalf("unit price = %s, want 150.00", got)
	}
	if decision.RequiresValidation {
		t.Fatal("stable repeat sale must not require validation")
	}
	if len(decision.Alerts) != 0 {
		t.Fatalf("unexpected alerts: %v", decision.Alerts)
	}
}

func TestPriceSupplierShockReprices(t *testing.T) {
	snap := emptySnapshot()
	snap.CustomerSale = &history.CustomerSale{
		UnitPrice:           decimal.NewFromInt(150),
		SupplierPriceAtSale: decimal.NewFromInt(100),
		Quantity:            5,
		SoldAt:              time.Date(2025, 11, 2, 0, 0, 0, 0, time.UTC),
	}
	req := baseRequest()
	req.SupplierPrice = decimal.NewFromInt(120)

	eng := newTestEngine(t, &fakeHistory{snapshot: snap}, &fakeCurrency{rate: decimal.NewFromInt(1)}, &fakeDiscount{}, nil)
	decision, err := eng.Price(context.Background(), req)
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	if decision.Case != enums.PricingCaseClientRepriced {
		t.Fatalf("case = %s, want %s", decision.Case, enums.PricingCaseClientRepriced)
	}
	// 120 / 0.55 = 218.1818...
	if got := decision.UnitPrice.StringFixed(2); got != "218.18" {
		t.Fatalf("unit price = %s, want 218.18", got)
	}
	if !decision.RequiresValidation {
		t.Fatal("repriced sale must require validation")
	}
	var found bool
	for _, alert := range decision.Alerts {
		if strings.Contains(alert, "+20.00%") {
			found = true
		}
	}
	if !found {
		t.Fatalf("alerts %v do not mention the +20.00%% variation", decision.Alerts)
	}
}

func TestPriceStabilityBoundaryIsInclusive(t *testing.T) {
	cases := []struct {
		name     string
		price    string
		wantCase enums.PricingCase
	}{
		{name: "just below", price: "104.99", wantCase: enums.PricingCaseClientStable},
		{name: "exactly at threshold", price: "105.00", wantCase: enums.PricingCaseClientStable},
		{name: "just above", price: "105.01", wantCase: enums.PricingCaseClientRepriced},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			snap := emptySnapshot()
			snap.CustomerSale = &history.CustomerSale{
				UnitPrice:           decimal.NewFromInt(150),
				SupplierPriceAtSale: decimal.NewFromInt(100),
				Quantity:            5,
				SoldAt:              time.Date(2025, 11, 2, 0, 0, 0, 0, time.UTC),
			}
			req := baseRequest()
			req.SupplierPrice = decimal.RequireFromString(tc.price)

			eng := newTestEngine(t, &fakeHistory{snapshot: snap}, &fakeCurrency{rate: decimal.NewFromInt(1)}, &fakeDiscount{}, nil)
			decision, err := eng.Price(context.Background(), req)
			if err != nil {
				t.Fatalf("Price: %v", err)
			}
			if decision.Case != tc.wantCase {
				t.Fatalf("case = %s, want %s", decision.Case, tc.wantCase)
			}
		})
	}
}

func TestPriceMarketReferenceWeightedAverage(t *testing.T) {
	snap := emptySnapshot()
	snap.OtherSales = []history.ReferenceSale{
		{UnitPrice: decimal.NewFromInt(100), Quantity: 2},
		{UnitPrice: decimal.NewFromInt(110), Quantity: 1},
		{UnitPrice: decimal.NewFromInt(95), Quantity: 1},
	}

	eng := newTestEngine(t, &fakeHistory{snapshot: snap}, &fakeCurrency{rate: decimal.NewFromInt(1)}, &fakeDiscount{}, nil)
	decision, err := eng.Price(context.Background(), baseRequest())
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	if decision.Case != enums.PricingCaseMarketReference {
		t.Fatalf("case = %s, want %s", decision.Case, enums.PricingCaseMarketReference)
	}
	// (100*2 + 110*1 + 95*1) / 4 = 101.25
	if got := decision.UnitPrice.StringFixed(2); got != "101.25" {
		t.Fatalf("unit price = %s, want 101.25", got)
	}
	if decision.RequiresValidation {
		t.Fatal("market reference pricing at the threshold must not require validation")
	}
}

func TestPriceBelowReferenceThresholdFallsToNewProduct(t *testing.T) {
	snap := emptySnapshot()
	snap.OtherSales = []history.ReferenceSale{
		{UnitPrice: decimal.NewFromInt(100), Quantity: 2},
		{UnitPrice: decimal.NewFromInt(110), Quantity: 1},
	}

	eng := newTestEngine(t, &fakeHistory{snapshot: snap}, &fakeCurrency{rate: decimal.NewFromInt(1)}, &fakeDiscount{}, nil)
	decision, err := eng.Price(context.Background(), baseRequest())
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	if decision.Case != enums.PricingCaseNewProduct {
		t.Fatalf("case = %s, want %s", decision.Case, enums.PricingCaseNewProduct)
	}
	var found bool
	for _, alert := range decision.Alerts {
		if strings.Contains(alert, "reference sale") {
			found = true
		}
	}
	if !found {
		t.Fatalf("alerts %v do not mention the missing reference sales", decision.Alerts)
	}
}

func TestPriceZeroQuantityReferencesFallToNewProduct(t *testing.T) {
	snap := emptySnapshot()
	snap.OtherSales = []history.ReferenceSale{
		{UnitPrice: decimal.NewFromInt(100), Quantity: 0},
		{UnitPrice: decimal.NewFromInt(110), Quantity: 0},
		{UnitPrice: decimal.NewFromInt(95), Quantity: 0},
	}

	eng := newTestEngine(t, &fakeHistory{snapshot: snap}, &fakeCurrency{rate: decimal.NewFromInt(1)}, &fakeDiscount{}, nil)
	decision, err := eng.Price(context.Background(), baseRequest())
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	if decision.Case != enums.PricingCaseNewProduct {
		t.Fatalf("case = %s, want %s", decision.Case, enums.PricingCaseNewProduct)
	}
	// 100 / (1 - 0.45) = 181.82
	if got := decision.UnitPrice.StringFixed(2); got != "181.82" {
		t.Fatalf("unit price = %s, want 181.82", got)
	}
	var found bool
	for _, alert := range decision.Alerts {
		if strings.Contains(alert, "zero total quantity") {
			found = true
		}
	}
	if !found {
		t.Fatalf("alerts %v do not mention the undefined weighted average", decision.Alerts)
	}
}

func TestPriceIgnoresZeroQuantityReferenceSales(t *testing.T) {
	snap := emptySnapshot()
	snap.OtherSales = []history.ReferenceSale{
		{UnitPrice: decimal.NewFromInt(100), Quantity: 2},
		{UnitPrice: decimal.NewFromInt(110), Quantity: 1},
		{UnitPrice: decimal.NewFromInt(500), Quantity: 0},
	}

	eng := newTestEngine(t, &fakeHistory{snapshot: snap}, &fakeCurrency{rate: decimal.NewFromInt(1)}, &fakeDiscount{}, nil)
	decision, err := eng.Price(context.Background(), baseRequest())
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	if decision.Case != enums.PricingCaseMarketReference {
		t.Fatalf("case = %s, want %s", decision.Case, enums.PricingCaseMarketReference)
	}
	// (100*2 + 110*1) / 3 = 103.33, the zero-quantity sale contributes nothing.
	if got := decision.UnitPrice.StringFixed(2); got != "103.33" {
		t.Fatalf("unit price = %s, want 103.33", got)
	}
}

func TestPriceConvertsCurrencyOnceBeforeMargin(t *testing.T) {
	req := baseRequest()
	req.SupplierCurrency = "GBP"

	eng := newTestEngine(t,
		&fakeHistory{snapshot: emptySnapshot()},
		&fakeCurrency{rate: decimal.RequireFromString("1.15")},
		&fakeDiscount{},
		nil,
	)
	decision, err := eng.Price(context.Background(), req)
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	// 100 GBP * 1.15 = 115 EUR net, then 115 / 0.55 = 209.09.
	if got := decision.NetSupplierCost.StringFixed(2); got != "115.00" {
		t.Fatalf("net cost = %s, want 115.00", got)
	}
	if got := decision.UnitPrice.StringFixed(2); got != "209.09" {
		t.Fatalf("unit price = %s, want 209.09", got)
	}
	if got := decision.FxRate.StringFixed(2); got != "1.15" {
		t.Fatalf("fx rate = %s, want 1.15", got)
	}
}

func TestPriceAppliesDiscountToNetCostBeforeMargin(t *testing.T) {
	disc := &discount.Discount{
		Type:        enums.DiscountTypePercentage,
		Value:       decimal.NewFromInt(10),
		MinQuantity: 5,
	}

	eng := newTestEngine(t,
		&fakeHistory{snapshot: emptySnapshot()},
		&fakeCurrency{rate: decimal.NewFromInt(1)},
		&fakeDiscount{discount: disc},
		nil,
	)
	decision, err := eng.Price(context.Background(), baseRequest())
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	// 100 - 10% = 90 net, then 90 / 0.55 = 163.64.
	if got := decision.UnitPrice.StringFixed(2); got != "163.64" {
		t.Fatalf("unit price = %s, want 163.64", got)
	}
	if decision.DiscountType == nil || *decision.DiscountType != enums.DiscountTypePercentage {
		t.Fatalf("discount type = %v, want percentage", decision.DiscountType)
	}
	if !decision.DiscountValue.Valid {
		t.Fatal("discount value must be recorded")
	}
}

func TestPriceSkipsDiscountWhenConditionsUnmet(t *testing.T) {
	disc := &discount.Discount{
		Type:        enums.DiscountTypePercentage,
		Value:       decimal.NewFromInt(10),
		MinQuantity: 50,
	}

	eng := newTestEngine(t,
		&fakeHistory{snapshot: emptySnapshot()},
		&fakeCurrency{rate: decimal.NewFromInt(1)},
		&fakeDiscount{discount: disc},
		nil,
	)
	decision, err := eng.Price(context.Background(), baseRequest())
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	if got := decision.UnitPrice.StringFixed(2); got != "181.82" {
		t.Fatalf("unit price = %s, want undiscounted 181.82", got)
	}
	if decision.DiscountType != nil {
		t.Fatalf("discount type = %v, want none", *decision.DiscountType)
	}
}

func TestPriceHistoryOutageFallsBackDeterministically(t *testing.T) {
	histSvc := &fakeHistory{err: context.DeadlineExceeded}
	cache := NewMemoryCache(16, time.Minute)

	eng := newTestEngine(t, histSvc, &fakeCurrency{rate: decimal.NewFromInt(1)}, &fakeDiscount{}, cache)
	decision, err := eng.Price(context.Background(), baseRequest())
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	if decision.Case != enums.PricingCaseNewProduct {
		t.Fatalf("case = %s, want %s", decision.Case, enums.PricingCaseNewProduct)
	}
	if decision.Confidence != confidenceFallback {
		t.Fatalf("confidence = %d, want %d", decision.Confidence, confidenceFallback)
	}
	if !decision.RequiresValidation {
		t.Fatal("fallback pricing must require validation")
	}
	var found bool
	for _, alert := range decision.Alerts {
		if strings.Contains(alert, "history unavailable") {
			found = true
		}
	}
	if !found {
		t.Fatalf("alerts %v do not mention the history outage", decision.Alerts)
	}

	key := Key{ItemCode: "VIS-M8-100", CustomerCode: "CUST-042", Quantity: 10}
	if _, ok := cache.Get(context.Background(), key); ok {
		t.Fatal("fallback decisions must not be cached")
	}
}

func TestPriceCurrencyOutageAssumesRateOne(t *testing.T) {
	req := baseRequest()
	req.SupplierCurrency = "USD"

	eng := newTestEngine(t,
		&fakeHistory{snapshot: emptySnapshot()},
		&fakeCurrency{err: context.DeadlineExceeded},
		&fakeDiscount{},
		nil,
	)
	decision, err := eng.Price(context.Background(), req)
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	if got := decision.FxRate.StringFixed(2); got != "1.00" {
		t.Fatalf("fx rate = %s, want 1.00", got)
	}
	if decision.Confidence != confidenceFallback {
		t.Fatalf("confidence = %d, want %d", decision.Confidence, confidenceFallback)
	}
	var found bool
	for _, alert := range decision.Alerts {
		if strings.Contains(alert, "currency service unavailable") {
			found = true
		}
	}
	if !found {
		t.Fatalf("alerts %v do not mention the currency outage", decision.Alerts)
	}
}

func TestPriceIsDeterministic(t *testing.T) {
	snap := emptySnapshot()
	snap.OtherSales = []history.ReferenceSale{
		{UnitPrice: decimal.NewFromInt(100), Quantity: 2},
		{UnitPrice: decimal.NewFromInt(110), Quantity: 1},
		{UnitPrice: decimal.NewFromInt(95), Quantity: 1},
	}

	run := func() *Decision {
		eng := newTestEngine(t, &fakeHistory{snapshot: snap}, &fakeCurrency{rate: decimal.NewFromInt(1)}, &fakeDiscount{}, nil)
		decision, err := eng.Price(context.Background(), baseRequest())
		if err != nil {
			t.Fatalf("Price: %v", err)
		}
		return decision
	}

	first, second := run(), run()
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("decisions differ:\n%+v\n%+v", first, second)
	}
}

func TestPriceServesSecondCallFromCache(t *testing.T) {
	histSvc := &fakeHistory{snapshot: emptySnapshot()}
	cache := NewMemoryCache(16, time.Minute)

	eng := newTestEngine(t, histSvc, &fakeCurrency{rate: decimal.NewFromInt(1)}, &fakeDiscount{}, cache)
	first, err := eng.Price(context.Background(), baseRequest())
	if err != nil {
		t.Fatalf("first Price: %v", err)
	}
	second, err := eng.Price(context.Background(), baseRequest())
	if err != nil {
		t.Fatalf("second Price: %v", err)
	}
	if histSvc.calls != 1 {
		t.Fatalf("history calls = %d, want 1", histSvc.calls)
	}
	if !first.UnitPrice.Equal(second.UnitPrice) {
		t.Fatalf("cached price %s differs from original %s", second.UnitPrice, first.UnitPrice)
	}
}

func TestPriceRejectsInvalidRequests(t *testing.T) {
	eng := newTestEngine(t, &fakeHistory{snapshot: emptySnapshot()}, &fakeCurrency{rate: decimal.NewFromInt(1)}, &fakeDiscount{}, nil)

	cases := []struct {
		name   string
		mutate func(*Request)
	}{
		{name: "missing item code", mutate: func(r *Request) { r.ItemCode = "" }},
		{name: "missing customer code", mutate: func(r *Request) { r.CustomerCode = "" }},
		{name: "zero quantity", mutate: func(r *Request) { r.Quantity = 0 }},
		{name: "zero supplier price", mutate: func(r *Request) { r.SupplierPrice = decimal.Zero }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := baseRequest()
			tc.mutate(&req)
			if _, err := eng.Price(context.Background(), req); err == nil {
				t.Fatal("expected a validation error")
			}
		})
	}
}

package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/quoteflow-io/quoteflow-backend/pkg/migrate"
)

func TestPricingDecisionsMigrationContainsConstraints(t *testing.T) {
	matches, err := filepath.Glob(filepath.Join("migrations", "*_create_pricing_decisions.sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no pricing decisions migration file found")
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	content := string(data)

	checks := []string{
		"CREATE TABLE IF NOT EXISTS pricing_decisions",
		"FOREIGN KEY (quote_id) REFERENCES quote_drafts(id) ON DELETE CASCADE",
		"CHECK (unit_price >= 0)",
		"CHECK (margin_fraction >= 0 AND margin_fraction < 1)",
		"CHECK (confidence >= 0 AND confidence <= 100)",
		"DROP TABLE IF EXISTS pricing_decisions",
	}

	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestLineItemsMigrationEnforcesUniqueItemPerQuote(t *testing.T) {
	matches, err := filepath.Glob(filepath.Join("migrations", "*_create_quote_line_items.sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no line items migration file found")
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	content := string(data)

	checks := []string{
		"CREATE TABLE IF NOT EXISTS quote_line_items",
		"CHECK (quantity > 0)",
		"CREATE UNIQUE INDEX IF NOT EXISTS uq_quote_line_items_quote_item",
		"DROP TABLE IF EXISTS quote_line_items",
	}

	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestValidateDirAcceptsShippedMigrations(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("validate migrations dir: %v", err)
	}
}

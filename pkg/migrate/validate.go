package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// migrationFileRe pins the naming scheme used under migrations/:
// a 14-digit timestamp version followed by a snake_case description.
var migrationFileRe = regexp.MustCompile(`^(\d{14})_[a-z0-9_]+\.sql$`)

// gooseMarkers are the annotations goose needs to split a file into its
// apply and rollback halves. Every quote schema migration ships both so
// a bad deploy can always be rolled back.
var gooseMarkers = []string{"-- +goose Up", "-- +goose Down"}

// ValidateDir checks every .sql file in dir against the naming scheme and
// the goose annotations before anything touches the database. cmd/migrate
// runs it as a standalone command and the test suite runs it against the
// shipped quote schema migrations.
func ValidateDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("dir is required")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read dir %q: %w", dir, err)
	}

	versions := map[string]string{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		version, err := checkMigrationFile(dir, name)
		if err != nil {
			return err
		}
		if prev, ok := versions[version]; ok {
			return fmt.Errorf("duplicate migration version %s in %q and %q", version, prev, name)
		}
		versions[version] = name
	}
	return nil
}

func checkMigrationFile(dir, name string) (version string, err error) {
	m := migrationFileRe.FindStringSubmatch(name)
	if m == nil {
		return "", fmt.Errorf("invalid migration filename %q (expected YYYYMMDDHHMMSS_name.sql)", name)
	}

	raw, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return "", fmt.Errorf("read migration %q: %w", name, err)
	}
	contents := string(raw)
	for _, marker := range gooseMarkers {
		if !strings.Contains(contents, marker) {
			return "", fmt.Errorf("migration %q missing %q", name, marker)
		}
	}
	return m[1], nil
}

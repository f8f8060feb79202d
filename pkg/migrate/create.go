package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const versionLayout = "20060102150405"

var (
	nameSanitizeRe = regexp.MustCompile(`[^a-z0-9_]+`)
)

// CreateSQLMigration creates a goose SQL migration file:
//
//	<dir>/<YYYYMMDDHHMMSS>_<name>.sql
//
// The version always sorts after the newest existing migration, and a name that
// is already taken (for example a second create_subscriptions) is rejected.
func CreateSQLMigration(dir string, name string) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("dir is required")
	}
	if name == "" {
		return "", fmt.Errorf("name is required")
	}

	safe := strings.ToLower(strings.TrimSpace(name))
	safe = strings.ReplaceAll(safe, " ", "_")
	safe = nameSanitizeRe.ReplaceAllString(safe, "_")
	safe = strings.Trim(safe, "_")
	if safe == "" {
		return "", fmt.Errorf("name %q results in empty sanitized filename", name)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %q: %w", dir, err)
	}

	latest, err := latestVersion(dir, safe)
	if err != nil {
		return "", err
	}
	next := time.Now().UTC().Truncate(time.Second)
	if !next.After(latest) {
		next = latest.Add(time.Second)
	}

	filename := fmt.Sprintf("%s_%s.sql", next.Format(versionLayout), safe)
	fullpath := filepath.Join(dir, filename)

	template := fmt.Sprintf(`-- +goose Up
-- +goose StatementBegin
-- %s
-- +goose StatementEnd

-- +goose Down
-- +goose StatementBegin
-- rollback %s
-- +goose StatementEnd
`, safe, safe)

	if err := os.WriteFile(fullpath, []byte(template), 0o644); err != nil {
		return "", fmt.Errorf("write migration %q: %w", fullpath, err)
	}

	return fullpath, nil
}

// latestVersion returns the newest migration version in dir and fails when name is taken.
func latestVersion(dir, name string) (time.Time, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return time.Time{}, fmt.Errorf("read %q: %w", dir, err)
	}
	var latest time.Time
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".sql" {
			continue
		}
		base := strings.TrimSuffix(entry.Name(), ".sql")
		version, existing, ok := strings.Cut(base, "_")
		if !ok {
			continue
		}
		if existing == name {
			return time.Time{}, fmt.Errorf("migration named %q already exists: %s", name, entry.Name())
		}
		ts, err := time.Parse(versionLayout, version)
		if err != nil {
			continue
		}
		if ts.After(latest) {
			latest = ts
		}
	}
	return latest, nil
}

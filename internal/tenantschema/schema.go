// Package tenantschema embeds the per-tenant database schema: the baseline
// tables, the seed and demo data, and the forward-only migration catalog.
package tenantschema

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"time"

	"github.com/angelmondragon/storegrid-backend/pkg/migrate"
	"gorm.io/gorm"
)

const migrationsDir = "migrations"

//go:embed sql/*.sql migrations/*.sql
var files embed.FS

// Migration is one versioned tenant schema change.
type Migration struct {
	Version    string
	Name       string
	Statements []string
}

// Catalog returns every tenant migration in ascending version order.
func Catalog() ([]Migration, error) {
	return catalogFrom(files, migrationsDir)
}

func catalogFrom(fsys fs.FS, dir string) ([]Migration, error) {
	listed, err := migrate.ListFS(fsys, dir)
	if err != nil {
		return nil, err
	}
	out := make([]Migration, 0, len(listed))
	for _, f := range listed {
		body, err := fs.ReadFile(fsys, path.Join(dir, f.Filename))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", f.Filename, err)
		}
		stmts := SplitStatements(string(body))
		if len(stmts) == 0 {
			return nil, fmt.Errorf("migration %s has no statements", f.Filename)
		}
		out = append(out, Migration{Version: f.Version, Name: f.Name, Statements: stmts})
	}
	return out, nil
}

// LatestVersion is the version of the newest migration in the catalog.
func LatestVersion() (string, error) {
	catalog, err := Catalog()
	if err != nil {
		return "", err
	}
	if len(catalog) == 0 {
		return "", nil
	}
	return catalog[len(catalog)-1].Version, nil
}

// ApplyBaseline creates the baseline tables. Every statement is idempotent.
func ApplyBaseline(ctx context.Context, tx *gorm.DB) error {
	return execFile(ctx, tx, "sql/baseline.sql")
}

// ApplyDemo loads the demo catalog. Every statement is idempotent.
func ApplyDemo(ctx context.Context, tx *gorm.DB) error {
	return execFile(ctx, tx, "sql/demo.sql")
}

// SeedInput carries the store facts copied into a new tenant.
type SeedInput struct {
	StoreName    string
	Slug         string
	Country      string
	Currency     string
	LanguageCode string
	ThemePreset  string
}

// Seed inserts the minimum rows a storefront needs. Existing rows are left untouched.
func Seed(ctx context.Context, tx *gorm.DB, in SeedInput) error {
	lang := in.LanguageCode
	if lang == "" {
		lang = "en"
	}
	currency := in.Currency
	if currency == "" {
		currency = "USD"
	}
	now := time.Now().UTC()

	settings := [][2]string{
		{"store_name", in.StoreName},
		{"store_slug", in.Slug},
		{"country", in.Country},
		{"currency", currency},
		{"default_language", lang},
		{"theme_preset", in.ThemePreset},
	}
	for _, kv := range settings {
		if err := tx.WithContext(ctx).Exec(
			"INSERT INTO store_settings (setting_key, setting_value, updated_at) VALUES (?, ?, ?) ON CONFLICT (setting_key) DO NOTHING",
			kv[0], kv[1], now,
		).Error; err != nil {
			return fmt.Errorf("seed setting %s: %w", kv[0], err)
		}
	}

	if err := tx.WithContext(ctx).Exec(
		"INSERT INTO languages (code, name, is_default, is_active) VALUES (?, ?, ?, ?) ON CONFLICT (code) DO NOTHING",
		lang, languageName(lang), true, true,
	).Error; err != nil {
		return fmt.Errorf("seed language: %w", err)
	}

	if err := tx.WithContext(ctx).Exec(
		"INSERT INTO tax_classes (id, name, rate, is_default) VALUES (?, ?, ?, ?) ON CONFLICT (id) DO NOTHING",
		"standard", "Standard", "0", true,
	).Error; err != nil {
		return fmt.Errorf("seed tax class: %w", err)
	}
	return nil
}

func languageName(code string) string {
	switch code {
	case "en":
		return "English"
	case "es":
		return "Español"
	case "fr":
		return "Français"
	case "de":
		return "Deutsch"
	default:
		return strings.ToUpper(code)
	}
}

func execFile(ctx context.Context, tx *gorm.DB, name string) error {
	body, err := fs.ReadFile(files, name)
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	for i, stmt := range SplitStatements(string(body)) {
		if err := tx.WithContext(ctx).Exec(stmt).Error; err != nil {
			return fmt.Errorf("%s statement %d: %w", name, i+1, err)
		}
	}
	return nil
}

// SplitStatements drops `--` comment lines and splits the remainder on ';'.
// Statements must not contain literal semicolons.
func SplitStatements(body string) []string {
	var b strings.Builder
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	var out []string
	for _, part := range strings.Split(b.String(), ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

package db

import (
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	"kirakira/backend/internal/config"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

const (
	driverSQLite = "sqlite"
	driverLibsql = "libsql"
)

var localPragmas = []string{
	"foreign_keys(1)",
	"busy_timeout(5000)",
	"journal_mode(WAL)",
}

// Open connects to the configured database. file: URLs go through the
// embedded sqlite driver, everything else through libsql.
func Open(cfg config.Config) (*sql.DB, string, error) {
	driver, dsn, err := buildDSN(cfg.DatabaseURL, cfg.DatabaseAuthToken)
	if err != nil {
		return nil, "", err
	}

	database, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, "", fmt.Errorf("open %s db: %w", driver, err)
	}

	if driver == driverSQLite {
		database.SetMaxOpenConns(1)
		database.SetMaxIdleConns(1)
		database.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := database.Ping(); err != nil {
		_ = database.Close()
		return nil, "", fmt.Errorf("ping db: %w", err)
	}

	return database, driver, nil
}

func buildDSN(rawURL, authToken string) (string, string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", "", fmt.Errorf("empty database url")
	}

	if strings.HasPrefix(rawURL, "file:") {
		return driverSQLite, withPragmas(rawURL), nil
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("parse database url: %w", err)
	}

	switch parsed.Scheme {
	case "libsql", "https", "http", "wss", "ws":
	default:
		return "", "", fmt.Errorf("unsupported database url scheme %q", parsed.Scheme)
	}

	if parsed.Scheme == "libsql" {
		query := parsed.Query()
		if query.Get("authToken") == "" && strings.TrimSpace(authToken) != "" {
			query.Set("authToken", strings.TrimSpace(authToken))
			parsed.RawQuery = query.Encode()
		}
	}

	return driverLibsql, parsed.String(), nil
}

func withPragmas(fileURL string) string {
	if strings.Contains(fileURL, "_pragma=") {
		return fileURL
	}
	params := make([]string, 0, len(localPragmas))
	for _, pragma := range localPragmas {
		params = append(params, "_pragma="+pragma)
	}
	separator := "?"
	if strings.Contains(fileURL, "?") {
		separator = "&"
	}
	return fileURL + separator + strings.Join(params, "&")
}

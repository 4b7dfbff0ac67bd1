// Package migrations embeds the schema for the database-backed stores.
package migrations

import (
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed postgresql/*.sql mysql/*.sql
var files embed.FS

// Dir maps a database/sql driver name to its migration directory.
func Dir(driver string) (string, error) {
	switch driver {
	case "postgres":
		return "postgresql", nil
	case "mysql":
		return "mysql", nil
	default:
		return "", fmt.Errorf("no migrations for driver %q", driver)
	}
}

// Source returns a migrate source reading the embedded files for driver.
func Source(driver string) (source.Driver, error) {
	dir, err := Dir(driver)
	if err != nil {
		return nil, err
	}
	src, err := iofs.New(files, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s migrations: %w", dir, err)
	}
	return src, nil
}

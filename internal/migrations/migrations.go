package migrations

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
)

const initialSchemaFile = "001_initial_schema.sql"

//go:embed schema/*.sql
var embedded embed.FS

var (
	// MigrationsDir can be overridden in tests or by the application
	MigrationsDir = "scripts/migrations"
)

// GetInitialSchema returns the delivery log schema. A file under
// MigrationsDir takes precedence over the compiled-in copy.
func GetInitialSchema() (string, error) {
	searchPaths := []string{
		filepath.Join(MigrationsDir, initialSchemaFile),
		filepath.Join("..", "..", MigrationsDir, initialSchemaFile),
		filepath.Join("..", MigrationsDir, initialSchemaFile),
	}

	for _, path := range searchPaths {
		schemaContent, err := os.ReadFile(path) // #nosec G304 - fixed file name under a configured directory
		if err == nil {
			return string(schemaContent), nil
		}
	}

	schemaContent, err := embedded.ReadFile("schema/" + initialSchemaFile)
	if err != nil {
		return "", fmt.Errorf("could not find schema file in any location: %w", err)
	}
	return string(schemaContent), nil
}

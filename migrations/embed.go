// Package migrations embeds the journal schema into the binary.
//
// Importing this package for its side effect registers the embedded files
// with the database package, so ferrobot can migrate without the SQL files
// on disk.
package migrations

import (
	"embed"

	"github.com/nerrad567/ferrobot-core/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.RegisterMigrations(migrationsFS, ".")
}

package auth

import (
	"embed"
)

//go:embed data/sql/migrations
var migrationsFS embed.FS

// GetMigrationsFS returns the migration files for this package. Each dialect
// has its own directory under data/sql/migrations.
func GetMigrationsFS() embed.FS {
	return migrationsFS
}

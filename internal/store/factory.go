package store

import (
	"fmt"

	"github.com/readify/gateway/internal/config"
)

// New opens the project/file store selected by storage.driver: "sqlite"
// (the default, backed by modernc.org/sqlite, where ":memory:" gives a
// throwaway database) or "postgres" (pgx). Both run their migrations
// before returning.
func New(cfg config.StorageConfig) (Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("storage.dsn is required for the postgres driver")
		}
		return NewPostgres(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q (want sqlite or postgres)", cfg.Driver)
	}
}

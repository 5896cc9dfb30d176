package ledger

import (
	"fmt"

	"github.com/zulandar/qotd/internal/config"
	"github.com/zulandar/qotd/internal/db"
)

// Open returns the Store selected by cfg.
func Open(cfg config.LedgerConfig) (Store, error) {
	switch cfg.Driver {
	case "", "file":
		return NewFileStore(cfg.Path), nil
	case db.DriverSQLite, db.DriverMySQL:
		gdb, err := db.Open(cfg.Driver, cfg.DSN)
		if err != nil {
			return nil, &IOError{Op: "open", Path: cfg.Driver, Err: err}
		}
		s, err := NewSQLStore(gdb)
		if err != nil {
			if sqlDB, dbErr := gdb.DB(); dbErr == nil {
				sqlDB.Close()
			}
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("ledger: unsupported driver %q", cfg.Driver)
	}
}

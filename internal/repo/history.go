// Package repo persists the history of finished downloads.
package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tinoosan/mediamgr/internal/data"
	"github.com/tinoosan/mediamgr/internal/fp"
)

// DefaultListLimit bounds List when the caller passes no limit.
const DefaultListLimit = 50

var ErrUnknownDriver = errors.New("unknown history driver")

type HistoryRepo interface {
	HistoryReader
	HistoryWriter
	Close() error
}

type HistoryReader interface {
	// List returns the most recently finished records first.
	List(ctx context.Context, limit int) (data.Records, error)
	Get(ctx context.Context, id string) (*data.Record, error)
	Stats(ctx context.Context) (data.Stats, error)
}

type HistoryWriter interface {
	// Record inserts r, or replaces the row with the same fingerprint
	// keeping its id.
	Record(ctx context.Context, r *data.Record) (*data.Record, error)
}

// Open selects a backend by driver name: memory, postgres or sqlite. For
// postgres an empty dsn is built from POSTGRES_* environment variables.
func Open(ctx context.Context, driver, dsn string) (HistoryRepo, error) {
	switch strings.ToLower(driver) {
	case "", "memory":
		return NewInMemoryHistoryRepo(), nil
	case "postgres":
		if dsn == "" {
			dsn = PostgresDSNFromEnv()
		}
		return NewPostgresRepo(ctx, dsn)
	case "sqlite":
		if dsn == "" {
			dsn = "mediamgr.db"
		}
		return NewSQLiteRepo(ctx, dsn)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}

func prepare(r *data.Record) (*data.Record, error) {
	if r == nil || r.FileID == "" {
		return nil, fmt.Errorf("record: missing file id")
	}
	c := r.Clone()
	if c.Fingerprint == "" {
		c.Fingerprint = fp.Fingerprint(c.FileID, c.Filename)
	}
	return c, nil
}

func clampLimit(n int) int {
	if n <= 0 {
		return DefaultListLimit
	}
	return n
}

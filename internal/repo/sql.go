package repo

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tinoosan/mediamgr/internal/data"
)

// sqlRepo is the database/sql implementation shared by the postgres and
// sqlite backends. Queries are written with ? placeholders and rebound for
// drivers that number them.
type sqlRepo struct {
	db       *sql.DB
	numbered bool
}

const schema = `
CREATE TABLE IF NOT EXISTS download_history (
    id TEXT PRIMARY KEY,
    fingerprint TEXT NOT NULL UNIQUE,
    file_id TEXT NOT NULL,
    filename TEXT NOT NULL,
    path TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    size BIGINT NOT NULL DEFAULT 0,
    bytes BIGINT NOT NULL DEFAULT 0,
    avg_speed DOUBLE PRECISION NOT NULL DEFAULT 0,
    attempts INTEGER NOT NULL DEFAULT 0,
    error TEXT NOT NULL DEFAULT '',
    started_at BIGINT NOT NULL DEFAULT 0,
    finished_at BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS download_history_finished_idx ON download_history (finished_at);
`

const columns = `id,fingerprint,file_id,filename,path,status,size,bytes,avg_speed,attempts,error,started_at,finished_at`

func (r *sqlRepo) ensureSchema(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// rebind turns ? placeholders into $1, $2... when the driver needs it.
func (r *sqlRepo) rebind(q string) string {
	if !r.numbered {
		return q
	}
	var b strings.Builder
	n := 0
	for _, c := range q {
		if c == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

func (r *sqlRepo) Close() error { return r.db.Close() }

// Record implements HistoryWriter.Record as a single upsert on fingerprint.
func (r *sqlRepo) Record(ctx context.Context, rec *data.Record) (*data.Record, error) {
	c, err := prepare(rec)
	if err != nil {
		return nil, err
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	q := r.rebind(`
INSERT INTO download_history (` + columns + `)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT (fingerprint) DO UPDATE SET
    file_id=excluded.file_id, filename=excluded.filename, path=excluded.path,
    status=excluded.status, size=excluded.size, bytes=excluded.bytes,
    avg_speed=excluded.avg_speed, attempts=excluded.attempts, error=excluded.error,
    started_at=excluded.started_at, finished_at=excluded.finished_at
RETURNING id`)
	err = r.db.QueryRowContext(ctx, q,
		c.ID, c.Fingerprint, c.FileID, c.Filename, c.Path, string(c.Status), c.Size, c.Bytes,
		c.AvgSpeed, c.Attempts, c.Error, toMillis(c.StartedAt), toMillis(c.FinishedAt),
	).Scan(&c.ID)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// List implements HistoryReader.List
func (r *sqlRepo) List(ctx context.Context, limit int) (data.Records, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(`SELECT `+columns+` FROM download_history ORDER BY finished_at DESC LIMIT ?`), clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(data.Records, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Get implements HistoryReader.Get
func (r *sqlRepo) Get(ctx context.Context, id string) (*data.Record, error) {
	row := r.db.QueryRowContext(ctx, r.rebind(`SELECT `+columns+` FROM download_history WHERE id=?`), id)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, data.ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

// Stats implements HistoryReader.Stats
func (r *sqlRepo) Stats(ctx context.Context) (data.Stats, error) {
	var total, ok, failed, bytes int64
	err := r.db.QueryRowContext(ctx, r.rebind(`
SELECT
    CAST(COUNT(*) AS BIGINT),
    CAST(COALESCE(SUM(CASE WHEN status=? THEN 1 ELSE 0 END),0) AS BIGINT),
    CAST(COALESCE(SUM(CASE WHEN status=? THEN 1 ELSE 0 END),0) AS BIGINT),
    CAST(COALESCE(SUM(bytes),0) AS BIGINT)
FROM download_history`), string(data.StatusCompleted), string(data.StatusError)).Scan(&total, &ok, &failed, &bytes)
	if err != nil {
		return data.Stats{}, err
	}
	return data.Stats{Total: int(total), Succeeded: int(ok), Failed: int(failed), Bytes: bytes}, nil
}

type rowScanner interface{ Scan(dest ...any) error }

func scanRecord(rs rowScanner) (*data.Record, error) {
	var (
		rec               data.Record
		status            string
		started, finished int64
	)
	if err := rs.Scan(&rec.ID, &rec.Fingerprint, &rec.FileID, &rec.Filename, &rec.Path, &status,
		&rec.Size, &rec.Bytes, &rec.AvgSpeed, &rec.Attempts, &rec.Error, &started, &finished); err != nil {
		return nil, err
	}
	rec.Status = data.TaskStatus(status)
	rec.StartedAt = fromMillis(started)
	rec.FinishedAt = fromMillis(finished)
	return &rec, nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

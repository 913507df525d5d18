// Package postgres implements a sources.Source reading CaptureRecords from
// a Postgres capture_records table: a read-only repository over
// github.com/jmoiron/sqlx atop github.com/jackc/pgx/v5's stdlib driver,
// with schema managed by github.com/pressly/goose/v3 migrations, which Open
// applies over the same pgx-backed connection the queries use. The
// github.com/lib/pq driver is registered by a blank import but Open does
// not use it (SPEC_FULL §3).
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"

	"github.com/jordigilh/crawlstats/pkg/errs"
	"github.com/jordigilh/crawlstats/pkg/shared/types"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// captureRecordRow mirrors one row of the capture_records table; the
// variable-shaped payloads (headers, meta tags, scripts, detections,
// robots) are stored as JSON columns rather than normalized tables, since
// the core never queries into them in SQL — it only streams whole rows
// back out.
type captureRecordRow struct {
	URL              string         `db:"url"`
	Timestamp        time.Time      `db:"timestamp"`
	HTTPHeaders      []byte         `db:"http_headers"`
	MetaTags         []byte         `db:"meta_tags"`
	Scripts          []byte         `db:"scripts"`
	DetectionResults []byte         `db:"detection_results"`
	RobotsTxt        sql.NullString `db:"robots_txt"`
}

// Source reads CaptureRecords from a capture_records table.
type Source struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// Open connects to dsn (a pgx-compatible DSN), runs pending goose
// migrations, and returns a ready Source. logger may be nil.
func Open(ctx context.Context, dsn string, logger *zap.Logger) (*Source, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		return nil, errs.Load("connect postgres: %v", err)
	}

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		db.Close()
		return nil, errs.Load("goose dialect: %v", err)
	}
	if err := goose.Up(db.DB, "migrations"); err != nil {
		db.Close()
		return nil, errs.Load("run migrations: %v", err)
	}

	return &Source{db: db, logger: logger}, nil
}

// Close releases the underlying connection pool.
func (s *Source) Close() error {
	return s.db.Close()
}

const sendBufferSize = 256

// Load streams every capture_records row whose timestamp falls within
// dateRange onto the returned channel, pushing the date bound down into
// the SQL WHERE clause rather than relying on the preprocessor to filter
// every row client-side.
func (s *Source) Load(ctx context.Context, dateRange types.DateRange) (<-chan types.CaptureRecord, error) {
	query := `SELECT url, timestamp, http_headers, meta_tags, scripts, detection_results, robots_txt
	          FROM capture_records
	          WHERE ($1::timestamptz IS NULL OR timestamp >= $1)
	            AND ($2::timestamptz IS NULL OR timestamp <= $2)
	          ORDER BY timestamp`
	rows, err := s.db.QueryxContext(ctx, query, dateRange.Start, dateRange.End)
	if err != nil {
		return nil, errs.Load("query capture_records: %v", err)
	}

	out := make(chan types.CaptureRecord, sendBufferSize)
	go func() {
		defer rows.Close()
		defer close(out)
		for rows.Next() {
			select {
			case <-ctx.Done():
				return
			default:
			}
			var row captureRecordRow
			if err := rows.StructScan(&row); err != nil {
				if s.logger != nil {
					s.logger.Error("scan capture_records row", zap.Error(err))
				}
				return
			}
			rec, err := row.toRecord()
			if err != nil {
				if s.logger != nil {
					s.logger.Error("decode capture_records row", zap.Error(err))
				}
				continue
			}
			select {
			case out <- rec:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (r captureRecordRow) toRecord() (types.CaptureRecord, error) {
	rec := types.CaptureRecord{URL: r.URL, Timestamp: r.Timestamp}

	if len(r.HTTPHeaders) > 0 {
		if err := json.Unmarshal(r.HTTPHeaders, &rec.HTTPHeaders); err != nil {
			return rec, err
		}
	}
	if len(r.MetaTags) > 0 {
		if err := json.Unmarshal(r.MetaTags, &rec.MetaTags); err != nil {
			return rec, err
		}
	}
	if len(r.Scripts) > 0 {
		if err := json.Unmarshal(r.Scripts, &rec.Scripts); err != nil {
			return rec, err
		}
	}
	if len(r.DetectionResults) > 0 {
		if err := json.Unmarshal(r.DetectionResults, &rec.DetectionResults); err != nil {
			return rec, err
		}
	}
	if r.RobotsTxt.Valid && r.RobotsTxt.String != "" {
		var rt types.RobotsTxt
		if err := json.Unmarshal([]byte(r.RobotsTxt.String), &rt); err != nil {
			return rec, err
		}
		rec.RobotsTxt = &rt
	}
	return rec, nil
}

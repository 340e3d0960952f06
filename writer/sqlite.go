package writer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	appconfig "digitflow/config"
	"digitflow/logger"
	"digitflow/models"

	_ "modernc.org/sqlite"
)

const marketDataSchema = `
CREATE TABLE IF NOT EXISTS market_data (
	symbol        TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	entropy       REAL NOT NULL,
	status        TEXT NOT NULL,
	direction     TEXT NOT NULL,
	quality_score TEXT NOT NULL,
	price         REAL NOT NULL,
	last_digit    INTEGER NOT NULL,
	last_update   INTEGER NOT NULL
)`

const upsertMarketData = `
INSERT INTO market_data (symbol, name, entropy, status, direction, quality_score, price, last_digit, last_update)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(symbol) DO UPDATE SET
	name = excluded.name,
	entropy = excluded.entropy,
	status = excluded.status,
	direction = excluded.direction,
	quality_score = excluded.quality_score,
	price = excluded.price,
	last_digit = excluded.last_digit,
	last_update = excluded.last_update`

// SQLiteSink upserts the latest record per symbol into a local database.
type SQLiteSink struct {
	db  *sql.DB
	log *logger.Log
}

// NewSQLiteSink opens (and creates if needed) the database at cfg.Storage.SQLite.Path.
func NewSQLiteSink(ctx context.Context, cfg *appconfig.Config) (*SQLiteSink, error) {
	path := cfg.Storage.SQLite.Path
	if path == "" {
		return nil, errors.New("sqlite path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.ExecContext(ctx, marketDataSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create market_data table: %w", err)
	}

	s := &SQLiteSink{db: db, log: logger.GetLogger()}
	s.log.WithComponent("sqlite_sink").WithField("path", path).Debug("sqlite sink initialized")
	return s, nil
}

func (s *SQLiteSink) Name() string { return "sqlite" }

func (s *SQLiteSink) Write(ctx context.Context, rec models.MarketRecord) error {
	_, err := s.db.ExecContext(ctx, upsertMarketData,
		rec.Symbol, rec.Name, rec.Entropy, string(rec.Status), string(rec.Direction),
		rec.QualityScore, rec.Price, rec.LastDigit, rec.LastUpdate)
	if err != nil {
		if isReadOnly(err) {
			return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
		return fmt.Errorf("upsert %s: %w", rec.Symbol, err)
	}
	return nil
}

// Load returns the stored records ordered by symbol.
func (s *SQLiteSink) Load(ctx context.Context) ([]models.MarketRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT symbol, name, entropy, status, direction, quality_score, price, last_digit, last_update FROM market_data ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("query market_data: %w", err)
	}
	defer rows.Close()

	var out []models.MarketRecord
	for rows.Next() {
		var rec models.MarketRecord
		var status, direction string
		if err := rows.Scan(&rec.Symbol, &rec.Name, &rec.Entropy, &status, &direction, &rec.QualityScore, &rec.Price, &rec.LastDigit, &rec.LastUpdate); err != nil {
			return nil, fmt.Errorf("scan market_data: %w", err)
		}
		rec.Status = models.Status(status)
		rec.Direction = models.Direction(direction)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteSink) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func isReadOnly(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "readonly") || strings.Contains(msg, "read-only") || strings.Contains(msg, "permission denied")
}

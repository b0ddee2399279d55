// Package sqlite journals computed risk reports. Only outputs are stored;
// the position book itself is never persisted.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/PurpleRainAndMJ/Options-Risks/internal/model"
)

const (
	defaultBatchSize  = 50
	defaultFlushDelay = 500 * time.Millisecond
	defaultRetention  = 1000
)

// Config configures the journal.
type Config struct {
	DBPath    string // path to SQLite database file, e.g. "data/risk.db"
	Retention int    // reports kept per symbol; older rows are pruned
}

// Journal is a single-writer SQLite store for risk reports.
type Journal struct {
	db        *sql.DB
	retention int
}

// Open opens (or creates) the journal with WAL mode and the schema.
func Open(cfg Config) (*Journal, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	retention := cfg.Retention
	if retention <= 0 {
		retention = defaultRetention
	}
	log.Printf("[sqlite] opened journal at %s (retention %d)", cfg.DBPath, retention)
	return &Journal{db: db, retention: retention}, nil
}

// DB returns the underlying sql.DB for health checks.
func (j *Journal) DB() *sql.DB { return j.db }

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS risk_reports (
			id          TEXT    PRIMARY KEY,
			ts          INTEGER NOT NULL,
			symbol      TEXT    NOT NULL,
			spot        REAL    NOT NULL,
			vol         REAL    NOT NULL,
			rate        REAL    NOT NULL,
			spot_source TEXT    NOT NULL,
			value       REAL    NOT NULL,
			delta       REAL    NOT NULL,
			gamma       REAL    NOT NULL,
			vega        REAL    NOT NULL,
			theta       REAL    NOT NULL,
			explained   REAL    NOT NULL,
			residual    REAL    NOT NULL,
			breaches    INTEGER NOT NULL,
			data        TEXT    NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_risk_reports_symbol_ts ON risk_reports (symbol, ts);
	`)
	return err
}

// Record inserts one report and prunes old rows for its symbol.
func (j *Journal) Record(ctx context.Context, r model.RiskReport) error {
	if err := j.insertBatch(ctx, []model.RiskReport{r}); err != nil {
		return err
	}
	return j.prune(ctx, r.Symbol)
}

// Run reads reports from ch and inserts them in batched transactions.
// Flushes every batch-size reports OR every flush delay, whichever first.
// Blocks until ctx is cancelled or ch is closed; reports still queued in ch
// at cancellation are written in the final flush before Run returns.
func (j *Journal) Run(ctx context.Context, ch <-chan model.RiskReport) {
	batch := make([]model.RiskReport, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Use a fresh context so the final flush survives shutdown.
		fctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		start := time.Now()
		if err := j.insertBatch(fctx, batch); err != nil {
			log.Printf("[sqlite] batch insert error: %v", err)
		} else {
			symbols := map[string]bool{}
			for _, r := range batch {
				symbols[r.Symbol] = true
			}
			for s := range symbols {
				if err := j.prune(fctx, s); err != nil {
					log.Printf("[sqlite] prune %s warning: %v", s, err)
				}
			}
			log.Printf("[sqlite] committed %d reports in %v", len(batch), time.Since(start))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			// Keep whatever is already queued.
		drain:
			for {
				select {
				case r, ok := <-ch:
					if !ok {
						break drain
					}
					batch = append(batch, r)
				default:
					break drain
				}
			}
			flush()
			return
		case r, ok := <-ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, r)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}
		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// insertBatch inserts reports in a single transaction.
func (j *Journal) insertBatch(ctx context.Context, reports []model.RiskReport) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO risk_reports
			(id, ts, symbol, spot, vol, rate, spot_source, value, delta, gamma, vega, theta, explained, residual, breaches, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, r := range reports {
		data, err := json.Marshal(r)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("marshal report %s: %w", r.ID, err)
		}
		_, err = stmt.ExecContext(ctx,
			r.ID, r.At.UnixNano(), r.Symbol,
			r.Market.Spot, r.Market.Vol, r.Market.Rate, string(r.SpotSource),
			r.Totals.Value, r.Totals.Delta, r.Totals.Gamma, r.Totals.Vega, r.Totals.Theta,
			r.Explain.Total, r.Residual, len(r.Breaches), string(data),
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("insert report %s: %w", r.ID, err)
		}
	}

	return tx.Commit()
}

// prune keeps the newest retention rows for symbol.
func (j *Journal) prune(ctx context.Context, symbol string) error {
	_, err := j.db.ExecContext(ctx, `
		DELETE FROM risk_reports
		WHERE symbol = ? AND id NOT IN (
			SELECT id FROM risk_reports WHERE symbol = ? ORDER BY ts DESC LIMIT ?
		)
	`, symbol, symbol, j.retention)
	return err
}

// Recent returns up to limit reports for symbol, newest first.
func (j *Journal) Recent(ctx context.Context, symbol string, limit int) ([]model.RiskReport, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT data FROM risk_reports
		WHERE symbol = ?
		ORDER BY ts DESC
		LIMIT ?
	`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query risk_reports: %w", err)
	}
	defer rows.Close()

	reports := make([]model.RiskReport, 0, limit)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("sqlite scan risk_reports: %w", err)
		}
		var r model.RiskReport
		if err := json.Unmarshal([]byte(data), &r); err != nil {
			return nil, fmt.Errorf("decode report: %w", err)
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// Count returns the number of stored reports for symbol.
func (j *Journal) Count(ctx context.Context, symbol string) (int, error) {
	var n int
	err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM risk_reports WHERE symbol = ?`, symbol).Scan(&n)
	return n, err
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Package storage keeps a SQLite journal of delivered signal alerts.
package storage

import (
	"database/sql"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/rewired-gh/confluence/internal/models"
)

// Journal is an append-mostly record of alerts that reached the chat.
// It is never read back into alert state.
type Journal struct {
	db         *sql.DB
	maxSignals int
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/confluence/journal.db. maxSignals <= 0
// keeps every record.
func New(maxSignals int, dbPath string) (*Journal, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "confluence", "journal.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; also keeps :memory: on one connection
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	j := &Journal{db: db, maxSignals: maxSignals}
	if err := j.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return j, nil
}

// Close closes the underlying database connection.
func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS signals (
			id              TEXT PRIMARY KEY,
			symbol          TEXT NOT NULL,
			interval        TEXT NOT NULL,
			strength        INTEGER NOT NULL,
			conditions_met  INTEGER NOT NULL,
			trend_score     INTEGER NOT NULL,
			price           REAL NOT NULL,
			stop_loss       REAL NOT NULL,
			take_profit_1   REAL NOT NULL,
			take_profit_2   REAL NOT NULL,
			risk_reward_1   REAL NOT NULL,
			meets_min_ratio INTEGER NOT NULL DEFAULT 0,
			sent_at         INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_sent_at ON signals(sent_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_symbol ON signals(symbol)`,
	}
	for _, stmt := range stmts {
		if _, err := j.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// RecordSignal appends a delivered alert and trims the journal to the
// maxSignals newest rows.
func (j *Journal) RecordSignal(alert *models.Alert) error {
	if alert == nil || alert.Symbol == "" {
		return fmt.Errorf("invalid alert: symbol is required")
	}
	ev := alert.Evaluation
	risk := alert.Risk

	tx, err := j.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.Exec(`
		INSERT INTO signals
			(id, symbol, interval, strength, conditions_met, trend_score, price,
			 stop_loss, take_profit_1, take_profit_2, risk_reward_1, meets_min_ratio, sent_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		uuid.NewString(), alert.Symbol, alert.Interval,
		int(ev.Strength), ev.ConditionsMet, ev.Trend.Score, ev.Snapshot.Price,
		finiteOrZero(risk.StopLoss), finiteOrZero(risk.TakeProfit1), finiteOrZero(risk.TakeProfit2),
		finiteOrZero(risk.RiskReward1), boolToInt(risk.MeetsMinimumRatio),
		alert.DetectedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert signal: %w", err)
	}

	if j.maxSignals > 0 {
		if _, err = tx.Exec(`
			DELETE FROM signals WHERE rowid NOT IN (
				SELECT rowid FROM signals ORDER BY sent_at DESC, rowid DESC LIMIT ?
			)`, j.maxSignals); err != nil {
			return fmt.Errorf("failed to enforce signal cap: %w", err)
		}
	}

	return tx.Commit()
}

// RecentSignals returns up to k records, newest first.
func (j *Journal) RecentSignals(k int) ([]models.SignalRecord, error) {
	rows, err := j.db.Query(`
		SELECT id, symbol, interval, strength, conditions_met, trend_score, price,
		       stop_loss, take_profit_1, take_profit_2, risk_reward_1, meets_min_ratio, sent_at
		FROM signals ORDER BY sent_at DESC, rowid DESC LIMIT ?`, k)
	if err != nil {
		return nil, fmt.Errorf("failed to query signals: %w", err)
	}
	defer rows.Close()

	records := []models.SignalRecord{}
	for rows.Next() {
		var r models.SignalRecord
		var strength, meets int
		var sentAtNano int64

		err := rows.Scan(
			&r.ID, &r.Symbol, &r.Interval, &strength, &r.ConditionsMet, &r.TrendScore, &r.Price,
			&r.StopLoss, &r.TakeProfit1, &r.TakeProfit2, &r.RiskReward1, &meets, &sentAtNano,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan signal: %w", err)
		}

		r.Strength = models.Strength(strength)
		r.MeetsMinRatio = meets != 0
		r.SentAt = time.Unix(0, sentAtNano)
		records = append(records, r)
	}

	return records, rows.Err()
}

// CountSignals returns the number of journaled signals.
func (j *Journal) CountSignals() (int, error) {
	var n int
	if err := j.db.QueryRow(`SELECT COUNT(*) FROM signals`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count signals: %w", err)
	}
	return n, nil
}

// finiteOrZero keeps NaN out of NOT NULL REAL columns.
func finiteOrZero(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// AlertRow is one archived evaluation or dispatched proposal.
// Evaluation rows carry an empty Side and ProposalID; dispatched
// rows reference the proposal they produced.
type AlertRow struct {
	ID         string
	Ts         time.Time
	Coin       string
	Side       string
	Score      float64
	Passed     bool
	ProposalID string
	Reasons    []string
}

// Archive wraps a SQLite database holding the alert history.
type Archive struct {
	db *sql.DB
}

// NewArchive opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/fomocalc/alerts.db.
func NewArchive(dbPath string) (*Archive, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "fomocalc", "alerts.db")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	a := &Archive{db: db}
	if err := a.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return a, nil
}

// Close closes the underlying database connection.
func (a *Archive) Close() error {
	return a.db.Close()
}

func (a *Archive) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS alerts (
			id          TEXT PRIMARY KEY,
			ts          INTEGER NOT NULL,
			coin        TEXT NOT NULL,
			side        TEXT,
			score       REAL NOT NULL,
			passed      INTEGER NOT NULL,
			proposal_id TEXT,
			reasons     TEXT NOT NULL DEFAULT '[]'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_ts ON alerts(ts)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_coin ON alerts(coin)`,
	}
	for _, stmt := range stmts {
		if _, err := a.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Record inserts one alert row. A missing ID gets a fresh UUID and a
// zero Ts defaults to the current time.
func (a *Archive) Record(row *AlertRow) error {
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	if row.Ts.IsZero() {
		row.Ts = time.Now().UTC()
	}
	reasons, err := json.Marshal(row.Reasons)
	if err != nil {
		return fmt.Errorf("failed to encode reasons: %w", err)
	}
	if row.Reasons == nil {
		reasons = []byte(`[]`)
	}
	_, err = a.db.Exec(`
		INSERT INTO alerts (id, ts, coin, side, score, passed, proposal_id, reasons)
		VALUES (?,?,?,?,?,?,?,?)`,
		row.ID, row.Ts.UnixNano(), row.Coin, row.Side, row.Score,
		boolToInt(row.Passed), row.ProposalID, string(reasons),
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

// RecentAlerts returns the n newest dispatched alerts, most recent first.
func (a *Archive) RecentAlerts(n int) ([]AlertRow, error) {
	rows, err := a.db.Query(`
		SELECT `+alertCols+`
		FROM alerts WHERE proposal_id != '' ORDER BY ts DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []AlertRow
	for rows.Next() {
		row, err := scanAlertRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, *row)
	}
	return alerts, rows.Err()
}

// AlertsInLastHour counts dispatched alerts newer than one hour before now.
func (a *Archive) AlertsInLastHour(now time.Time) (int, error) {
	var n int
	err := a.db.QueryRow(`
		SELECT COUNT(*) FROM alerts WHERE proposal_id != '' AND ts > ?`,
		now.Add(-time.Hour).UnixNano(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count alerts: %w", err)
	}
	return n, nil
}

// CountByCoin counts all archived rows for one coin.
func (a *Archive) CountByCoin(coin string) (int, error) {
	var n int
	err := a.db.QueryRow(`SELECT COUNT(*) FROM alerts WHERE coin = ?`, coin).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count alerts: %w", err)
	}
	return n, nil
}

// Counts returns the total number of archived rows and how many of
// them dispatched a proposal.
func (a *Archive) Counts() (total int, dispatched int, err error) {
	err = a.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN proposal_id != '' THEN 1 ELSE 0 END), 0)
		FROM alerts`).Scan(&total, &dispatched)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count alerts: %w", err)
	}
	return total, dispatched, nil
}

// PruneOlderThan deletes rows older than cutoff and reports how many went.
func (a *Archive) PruneOlderThan(cutoff time.Time) (int64, error) {
	res, err := a.db.Exec(`DELETE FROM alerts WHERE ts < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to prune alerts: %w", err)
	}
	return res.RowsAffected()
}

const alertCols = `id, ts, coin, side, score, passed, proposal_id, reasons`

func scanAlertRow(scan func(...any) error) (*AlertRow, error) {
	var row AlertRow
	var tsNano int64
	var passed int
	var reasons string
	err := scan(
		&row.ID, &tsNano, &row.Coin, &row.Side, &row.Score,
		&passed, &row.ProposalID, &reasons,
	)
	if err != nil {
		return nil, err
	}
	row.Ts = time.Unix(0, tsNano)
	row.Passed = passed != 0
	if reasons != "" {
		if err := json.Unmarshal([]byte(reasons), &row.Reasons); err != nil {
			return nil, fmt.Errorf("failed to decode reasons: %w", err)
		}
	}
	return &row, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

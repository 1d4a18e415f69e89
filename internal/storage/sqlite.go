// Package storage persists signals, decisions, orders, trades, and positions
// in a local SQLite database.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mstanton/tradepulse/internal/models"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Interface on top of a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at path and runs the schema.
// Pass ":memory:" for an ephemeral store.
func Open(path string) (*SQLiteStore, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate db: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS signals (
			id             TEXT PRIMARY KEY,
			correlation_id TEXT NOT NULL,
			source         TEXT NOT NULL,
			symbol         TEXT NOT NULL,
			direction      TEXT NOT NULL,
			timeframe      TEXT NOT NULL,
			price          REAL NOT NULL,
			ts             TEXT NOT NULL,
			metadata       TEXT,
			status         TEXT NOT NULL,
			created_at     TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_signals_peer ON signals(symbol, timeframe, ts);

		CREATE TABLE IF NOT EXISTS refactored_signals (
			id             TEXT PRIMARY KEY,
			fingerprint    TEXT NOT NULL UNIQUE,
			correlation_id TEXT NOT NULL,
			source         TEXT NOT NULL,
			symbol         TEXT NOT NULL,
			direction      TEXT NOT NULL,
			timeframe      TEXT NOT NULL,
			price          REAL NOT NULL,
			ts             TEXT NOT NULL,
			metadata       TEXT,
			status         TEXT NOT NULL,
			created_at     TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS refactored_pipeline_failures (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			correlation_id TEXT NOT NULL,
			stage          TEXT NOT NULL,
			reason         TEXT NOT NULL,
			payload        TEXT,
			created_at     TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS refactored_decisions (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			correlation_id TEXT NOT NULL,
			kind           TEXT NOT NULL,
			subject_id     TEXT NOT NULL,
			decision       TEXT NOT NULL,
			confidence     REAL,
			position_size  INTEGER,
			exit_reason    TEXT,
			reasoning      TEXT NOT NULL,
			calculations   TEXT NOT NULL,
			created_at     TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS refactored_context_snapshots (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			correlation_id TEXT NOT NULL,
			vix            REAL NOT NULL,
			trend          TEXT NOT NULL,
			bias           REAL NOT NULL,
			regime         TEXT NOT NULL,
			ts             TEXT NOT NULL,
			created_at     TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS gex_signals (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol    TEXT NOT NULL,
			timeframe TEXT NOT NULL,
			direction TEXT NOT NULL,
			strength  REAL NOT NULL,
			ts        TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_gex_lookup ON gex_signals(symbol, timeframe, ts);

		CREATE TABLE IF NOT EXISTS orders (
			id              TEXT PRIMARY KEY,
			correlation_id  TEXT NOT NULL,
			signal_id       TEXT NOT NULL,
			position_id     TEXT,
			option_symbol   TEXT NOT NULL,
			side            TEXT NOT NULL,
			quantity        INTEGER NOT NULL,
			status          TEXT NOT NULL,
			broker_order_id TEXT,
			filled_quantity INTEGER NOT NULL DEFAULT 0,
			avg_fill_price  REAL NOT NULL DEFAULT 0,
			created_at      TEXT NOT NULL,
			updated_at      TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS trades (
			id             TEXT PRIMARY KEY,
			order_id       TEXT NOT NULL,
			correlation_id TEXT NOT NULL,
			symbol         TEXT NOT NULL,
			side           TEXT NOT NULL,
			quantity       INTEGER NOT NULL,
			price          REAL NOT NULL,
			executed_at    TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS adapter_logs (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			correlation_id TEXT NOT NULL,
			adapter        TEXT NOT NULL,
			event          TEXT NOT NULL,
			detail         TEXT,
			created_at     TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS refactored_positions (
			id             TEXT PRIMARY KEY,
			signal_id      TEXT NOT NULL,
			correlation_id TEXT NOT NULL,
			symbol         TEXT NOT NULL,
			direction      TEXT NOT NULL,
			quantity       INTEGER NOT NULL,
			entry_price    REAL NOT NULL,
			entry_time     TEXT NOT NULL,
			current_price  REAL,
			unrealized_pnl REAL,
			exit_price     REAL,
			exit_time      TEXT,
			realized_pnl   REAL,
			status         TEXT NOT NULL,
			underlying     TEXT,
			strike         REAL,
			expiration     TEXT,
			option_type    TEXT,
			timeframe      TEXT
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_positions_open_signal
			ON refactored_positions(signal_id) WHERE status = 'OPEN';
	`)
	return err
}

const timeLayout = time.RFC3339Nano

func encodeTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func decodeTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func encodeMetadata(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encoding metadata: %w", err)
	}
	return string(b), nil
}

// SaveSignal inserts a row into the canonical signals table.
func (s *SQLiteStore) SaveSignal(ctx context.Context, sig *models.Signal, status string) error {
	meta, err := encodeMetadata(sig.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO signals (id, correlation_id, source, symbol, direction, timeframe, price, ts, metadata, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sig.ID, sig.CorrelationID, string(sig.Source), sig.Symbol, string(sig.Direction),
		sig.Timeframe, sig.Price, encodeTime(sig.Timestamp), meta, status, encodeTime(time.Now()))
	if err != nil {
		return fmt.Errorf("saving signal %s: %w", sig.ID, err)
	}
	return nil
}

// SaveRefactoredSignal inserts a row into refactored_signals. The fingerprint
// column is unique, so a duplicate within the dedup window maps to
// ErrDuplicateSignal rather than a second row.
func (s *SQLiteStore) SaveRefactoredSignal(ctx context.Context, sig *models.Signal, fingerprint, status string) error {
	meta, err := encodeMetadata(sig.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO refactored_signals (id, fingerprint, correlation_id, source, symbol, direction, timeframe, price, ts, metadata, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sig.ID, fingerprint, sig.CorrelationID, string(sig.Source), sig.Symbol, string(sig.Direction),
		sig.Timeframe, sig.Price, encodeTime(sig.Timestamp), meta, status, encodeTime(time.Now()))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateSignal
		}
		return fmt.Errorf("saving refactored signal %s: %w", sig.ID, err)
	}
	return nil
}

// UpdateSignalStatus updates the status column in both signal tables.
func (s *SQLiteStore) UpdateSignalStatus(ctx context.Context, signalID, status string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE signals SET status = ? WHERE id = ?`, status, signalID); err != nil {
		return fmt.Errorf("updating signal %s status: %w", signalID, err)
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE refactored_signals SET status = ? WHERE id = ?`, status, signalID); err != nil {
		return fmt.Errorf("updating refactored signal %s status: %w", signalID, err)
	}
	return nil
}

func scanSignals(rows *sql.Rows) ([]models.Signal, error) {
	var out []models.Signal
	for rows.Next() {
		var sig models.Signal
		var source, direction, ts string
		var meta sql.NullString
		if err := rows.Scan(&sig.ID, &sig.CorrelationID, &source, &sig.Symbol,
			&direction, &sig.Timeframe, &sig.Price, &ts, &meta); err != nil {
			return nil, err
		}
		sig.Source = models.SignalSource(source)
		sig.Direction = models.Direction(direction)
		sig.Timestamp = decodeTime(ts)
		if meta.Valid && meta.String != "" {
			_ = json.Unmarshal([]byte(meta.String), &sig.Metadata)
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}

// PeerSignals returns signals sharing symbol and timeframe received at or
// after since, newest first. Used by the confluence calculator.
func (s *SQLiteStore) PeerSignals(ctx context.Context, symbol, timeframe string, since time.Time) ([]models.Signal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, correlation_id, source, symbol, direction, timeframe, price, ts, metadata
		FROM signals WHERE symbol = ? AND timeframe = ? AND ts >= ?
		ORDER BY ts DESC`, symbol, timeframe, encodeTime(since))
	if err != nil {
		return nil, fmt.Errorf("querying peer signals: %w", err)
	}
	defer rows.Close()
	return scanSignals(rows)
}

// ListSignals returns the most recent signals, newest first.
func (s *SQLiteStore) ListSignals(ctx context.Context, limit int) ([]models.Signal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, correlation_id, source, symbol, direction, timeframe, price, ts, metadata
		FROM signals ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing signals: %w", err)
	}
	defer rows.Close()
	return scanSignals(rows)
}

// SavePipelineFailure records a dropped signal with its stage and reason.
func (s *SQLiteStore) SavePipelineFailure(ctx context.Context, f *PipelineFailure) error {
	created := f.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refactored_pipeline_failures (correlation_id, stage, reason, payload, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		f.CorrelationID, f.Stage, f.Reason, f.Payload, encodeTime(created))
	if err != nil {
		return fmt.Errorf("saving pipeline failure: %w", err)
	}
	return nil
}

func (s *SQLiteStore) saveDecision(ctx context.Context, correlationID, kind, subjectID, decision string,
	confidence float64, positionSize int, exitReason string, reasoning []string, calculations any) error {
	reasonJSON, err := json.Marshal(reasoning)
	if err != nil {
		return fmt.Errorf("encoding reasoning: %w", err)
	}
	calcJSON, err := json.Marshal(calculations)
	if err != nil {
		return fmt.Errorf("encoding calculations: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO refactored_decisions (correlation_id, kind, subject_id, decision, confidence, position_size, exit_reason, reasoning, calculations, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		correlationID, kind, subjectID, decision, confidence, positionSize, exitReason,
		string(reasonJSON), string(calcJSON), encodeTime(time.Now()))
	if err != nil {
		return fmt.Errorf("saving %s decision: %w", kind, err)
	}
	return nil
}

// SaveEntryDecision persists an entry decision audit row.
func (s *SQLiteStore) SaveEntryDecision(ctx context.Context, correlationID string, d *models.EntryDecision) error {
	subject := ""
	if d.Signal != nil {
		subject = d.Signal.ID
	}
	return s.saveDecision(ctx, correlationID, "ENTRY", subject, string(d.Decision),
		d.Confidence, d.PositionSize, "", d.Reasoning, d.Calculations)
}

// SaveExitDecision persists an exit decision audit row.
func (s *SQLiteStore) SaveExitDecision(ctx context.Context, correlationID string, d *models.ExitDecision) error {
	subject := ""
	if d.Position != nil {
		subject = d.Position.ID
	}
	return s.saveDecision(ctx, correlationID, "EXIT", subject, string(d.Decision),
		0, 0, string(d.ExitReason), d.Reasoning, d.Calculations)
}

// SaveContextSnapshot persists a market-context snapshot.
func (s *SQLiteStore) SaveContextSnapshot(ctx context.Context, correlationID string, data *models.ContextData) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refactored_context_snapshots (correlation_id, vix, trend, bias, regime, ts, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		correlationID, data.VIX, string(data.Trend), data.Bias, string(data.Regime),
		encodeTime(data.Timestamp), encodeTime(time.Now()))
	if err != nil {
		return fmt.Errorf("saving context snapshot: %w", err)
	}
	return nil
}

// LatestContextSnapshot returns the most recent snapshot or ErrNotFound.
func (s *SQLiteStore) LatestContextSnapshot(ctx context.Context) (*models.ContextData, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT vix, trend, bias, regime, ts FROM refactored_context_snapshots
		ORDER BY id DESC LIMIT 1`)
	var data models.ContextData
	var trend, regime, ts string
	if err := row.Scan(&data.VIX, &trend, &data.Bias, &regime, &ts); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying latest context snapshot: %w", err)
	}
	data.Trend = models.Trend(trend)
	data.Regime = models.Regime(regime)
	data.Timestamp = decodeTime(ts)
	return &data, nil
}

// SaveGEXSignal persists a gamma-exposure reading.
func (s *SQLiteStore) SaveGEXSignal(ctx context.Context, g *models.GEXSignal) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO gex_signals (symbol, timeframe, direction, strength, ts)
		VALUES (?, ?, ?, ?, ?)`,
		g.Symbol, g.Timeframe, string(g.Direction), g.Strength, encodeTime(g.Timestamp))
	if err != nil {
		return fmt.Errorf("saving gex signal: %w", err)
	}
	return nil
}

// RecentGEXSignals returns up to limit readings for symbol/timeframe, newest
// first.
func (s *SQLiteStore) RecentGEXSignals(ctx context.Context, symbol, timeframe string, limit int) ([]models.GEXSignal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, timeframe, direction, strength, ts FROM gex_signals
		WHERE symbol = ? AND timeframe = ? ORDER BY ts DESC LIMIT ?`,
		symbol, timeframe, limit)
	if err != nil {
		return nil, fmt.Errorf("querying gex signals: %w", err)
	}
	defer rows.Close()

	var out []models.GEXSignal
	for rows.Next() {
		var g models.GEXSignal
		var direction, ts string
		if err := rows.Scan(&g.Symbol, &g.Timeframe, &direction, &g.Strength, &ts); err != nil {
			return nil, err
		}
		g.Direction = models.Direction(direction)
		g.Timestamp = decodeTime(ts)
		out = append(out, g)
	}
	return out, rows.Err()
}

// SaveOrder persists an order together with its adapter result.
func (s *SQLiteStore) SaveOrder(ctx context.Context, req *models.OrderRequest, res *models.OrderResult) error {
	now := encodeTime(time.Now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (id, correlation_id, signal_id, position_id, option_symbol, side, quantity, status, broker_order_id, filled_quantity, avg_fill_price, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.CorrelationID, req.SignalID, req.PositionID, req.OptionSymbol, string(req.Side),
		req.Quantity, string(res.Status), res.BrokerOrderID, res.FilledQuantity, res.AvgFillPrice, now, now)
	if err != nil {
		return fmt.Errorf("saving order %s: %w", req.ID, err)
	}
	return nil
}

// UpdateOrderStatus updates broker-reported execution state for an order.
func (s *SQLiteStore) UpdateOrderStatus(ctx context.Context, orderID string, status models.OrderStatus, filledQty int, avgPrice float64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders SET status = ?, filled_quantity = ?, avg_fill_price = ?, updated_at = ?
		WHERE id = ?`,
		string(status), filledQty, avgPrice, encodeTime(time.Now()), orderID)
	if err != nil {
		return fmt.Errorf("updating order %s: %w", orderID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveTrade persists a confirmed execution.
func (s *SQLiteStore) SaveTrade(ctx context.Context, t *models.Trade) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trades (id, order_id, correlation_id, symbol, side, quantity, price, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.OrderID, t.CorrelationID, t.Symbol, string(t.Side), t.Quantity, t.Price,
		encodeTime(t.ExecutedAt))
	if err != nil {
		return fmt.Errorf("saving trade %s: %w", t.ID, err)
	}
	return nil
}

// SaveAdapterLog records an adapter interaction for audit.
func (s *SQLiteStore) SaveAdapterLog(ctx context.Context, correlationID, adapter, event, detail string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO adapter_logs (correlation_id, adapter, event, detail, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		correlationID, adapter, event, detail, encodeTime(time.Now()))
	if err != nil {
		return fmt.Errorf("saving adapter log: %w", err)
	}
	return nil
}

// ListOrders returns the most recent orders, newest first.
func (s *SQLiteStore) ListOrders(ctx context.Context, limit int) ([]OrderRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, correlation_id, signal_id, COALESCE(position_id, ''), option_symbol, side, quantity, status, COALESCE(broker_order_id, ''), filled_quantity, avg_fill_price, created_at
		FROM orders ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	defer rows.Close()
	return scanOrders(rows)
}

func scanOrders(rows *sql.Rows) ([]OrderRow, error) {
	var out []OrderRow
	for rows.Next() {
		var o OrderRow
		var side, status, created string
		if err := rows.Scan(&o.ID, &o.CorrelationID, &o.SignalID, &o.PositionID, &o.OptionSymbol,
			&side, &o.Quantity, &status, &o.BrokerOrderID, &o.FilledQuantity, &o.AvgFillPrice, &created); err != nil {
			return nil, err
		}
		o.Side = models.OrderSide(side)
		o.Status = models.OrderStatus(status)
		o.CreatedAt = decodeTime(created)
		out = append(out, o)
	}
	return out, rows.Err()
}

// PendingOrders returns all orders still awaiting a terminal broker status,
// oldest first. Used by the reconciliation poller.
func (s *SQLiteStore) PendingOrders(ctx context.Context) ([]OrderRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, correlation_id, signal_id, COALESCE(position_id, ''), option_symbol, side, quantity, status, COALESCE(broker_order_id, ''), filled_quantity, avg_fill_price, created_at
		FROM orders WHERE status = 'PENDING' ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("querying pending orders: %w", err)
	}
	defer rows.Close()
	return scanOrders(rows)
}

// ListTrades returns the most recent trades, newest first.
func (s *SQLiteStore) ListTrades(ctx context.Context, limit int) ([]models.Trade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, correlation_id, symbol, side, quantity, price, executed_at
		FROM trades ORDER BY executed_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing trades: %w", err)
	}
	defer rows.Close()

	var out []models.Trade
	for rows.Next() {
		var t models.Trade
		var side, executed string
		if err := rows.Scan(&t.ID, &t.OrderID, &t.CorrelationID, &t.Symbol, &side, &t.Quantity, &t.Price, &executed); err != nil {
			return nil, err
		}
		t.Side = models.OrderSide(side)
		t.ExecutedAt = decodeTime(executed)
		out = append(out, t)
	}
	return out, rows.Err()
}

func positionArgs(p *models.Position) []any {
	var exitTime any
	if !p.ExitTime.IsZero() {
		exitTime = encodeTime(p.ExitTime)
	}
	return []any{
		p.SignalID, p.CorrelationID, p.Symbol, string(p.Direction), p.Quantity,
		p.EntryPrice, encodeTime(p.EntryTime), p.CurrentPrice, p.UnrealizedPnL,
		p.ExitPrice, exitTime, p.RealizedPnL, string(p.Status),
		p.Contract.Underlying, p.Contract.Strike, encodeTime(p.Contract.Expiration),
		string(p.Contract.OptionType), p.Contract.Timeframe,
	}
}

// SavePosition inserts a new position row. The partial unique index on
// (signal_id) WHERE status='OPEN' enforces at most one open position per
// signal; violations map to ErrDuplicateSignal.
func (s *SQLiteStore) SavePosition(ctx context.Context, p *models.Position) error {
	args := append([]any{p.ID}, positionArgs(p)...)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refactored_positions (id, signal_id, correlation_id, symbol, direction, quantity, entry_price, entry_time, current_price, unrealized_pnl, exit_price, exit_time, realized_pnl, status, underlying, strike, expiration, option_type, timeframe)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateSignal
		}
		return fmt.Errorf("saving position %s: %w", p.ID, err)
	}
	return nil
}

// UpdatePosition rewrites a position row in place.
func (s *SQLiteStore) UpdatePosition(ctx context.Context, p *models.Position) error {
	args := append(positionArgs(p), p.ID)
	res, err := s.db.ExecContext(ctx, `
		UPDATE refactored_positions SET signal_id = ?, correlation_id = ?, symbol = ?, direction = ?, quantity = ?, entry_price = ?, entry_time = ?, current_price = ?, unrealized_pnl = ?, exit_price = ?, exit_time = ?, realized_pnl = ?, status = ?, underlying = ?, strike = ?, expiration = ?, option_type = ?, timeframe = ?
		WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("updating position %s: %w", p.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanPositions(rows *sql.Rows) ([]models.Position, error) {
	var out []models.Position
	for rows.Next() {
		var p models.Position
		var direction, entryTime, status, optionType string
		var exitTime, underlying, expiration, timeframe sql.NullString
		var currentPrice, unrealized, exitPrice, realized, strike sql.NullFloat64
		if err := rows.Scan(&p.ID, &p.SignalID, &p.CorrelationID, &p.Symbol, &direction,
			&p.Quantity, &p.EntryPrice, &entryTime, &currentPrice, &unrealized,
			&exitPrice, &exitTime, &realized, &status,
			&underlying, &strike, &expiration, &optionType, &timeframe); err != nil {
			return nil, err
		}
		p.Direction = models.Direction(direction)
		p.EntryTime = decodeTime(entryTime)
		p.CurrentPrice = currentPrice.Float64
		p.UnrealizedPnL = unrealized.Float64
		p.ExitPrice = exitPrice.Float64
		if exitTime.Valid {
			p.ExitTime = decodeTime(exitTime.String)
		}
		p.RealizedPnL = realized.Float64
		p.Status = models.PositionStatus(status)
		p.Contract = models.ContractDetails{
			Underlying: underlying.String,
			Strike:     strike.Float64,
			Expiration: decodeTime(expiration.String),
			OptionType: models.Direction(optionType),
			Timeframe:  timeframe.String,
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

const positionColumns = `id, signal_id, correlation_id, symbol, direction, quantity, entry_price, entry_time, current_price, unrealized_pnl, exit_price, exit_time, realized_pnl, status, underlying, strike, expiration, option_type, timeframe`

// OpenPositions returns all OPEN positions.
func (s *SQLiteStore) OpenPositions(ctx context.Context) ([]models.Position, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+positionColumns+` FROM refactored_positions WHERE status = 'OPEN' ORDER BY entry_time`)
	if err != nil {
		return nil, fmt.Errorf("querying open positions: %w", err)
	}
	defer rows.Close()
	return scanPositions(rows)
}

// ListPositions returns the most recent positions regardless of status.
func (s *SQLiteStore) ListPositions(ctx context.Context, limit int) ([]models.Position, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+positionColumns+` FROM refactored_positions ORDER BY entry_time DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing positions: %w", err)
	}
	defer rows.Close()
	return scanPositions(rows)
}

// GetStats aggregates trading outcomes across the store.
func (s *SQLiteStore) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN status NOT IN ('REJECTED', 'FAILED') THEN 1 ELSE 0 END), 0) FROM signals`).
		Scan(&stats.TotalSignals, &stats.AcceptedSignals); err != nil {
		return nil, fmt.Errorf("counting signals: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM trades`).Scan(&stats.TotalTrades); err != nil {
		return nil, fmt.Errorf("counting trades: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN status = 'OPEN' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'CLOSED' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'CLOSED' AND realized_pnl > 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'CLOSED' AND realized_pnl <= 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'CLOSED' THEN realized_pnl ELSE 0 END), 0)
		FROM refactored_positions`).
		Scan(&stats.OpenPositions, &stats.ClosedPositions, &stats.WinningTrades, &stats.LosingTrades, &stats.TotalPnL); err != nil {
		return nil, fmt.Errorf("aggregating positions: %w", err)
	}
	if stats.ClosedPositions > 0 {
		stats.WinRate = float64(stats.WinningTrades) / float64(stats.ClosedPositions)
	}
	return stats, nil
}

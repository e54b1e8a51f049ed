/*
Package sqldb provides a SQL-backed reajuste.Store for SQLite and PostgreSQL.

PURPOSE:
  Implements every repository the readjustment engine needs on top of sqlx.
  Queries are written once with ? placeholders and rebound for the driver,
  so the same code runs on SQLite (development, tests) and PostgreSQL.

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE on readjustment_records or index_snapshots
  - idx_records_contract_installment makes (contract_id, reference_installment)
    unique, the last line of defence against a double Apply

KEY TABLES:
  contracts:               collaborator-owned, plus last_adjustment_json
  readjustment_parameters: singleton row (id = 1)
  index_snapshots:         append-only index series
  readjustment_records:    append-only applied readjustments

DECIMALS:
  Money and percents are stored as TEXT (decimal.Decimal.String) so no value
  ever passes through float64.

CONCURRENCY:
  A sync.RWMutex serializes writers. SQLite allows one writer at a time
  anyway; on PostgreSQL the unique index still arbitrates between processes.

USAGE:
  store, err := sqldb.New("./data/reajuste.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := reajuste.NewEngine(store)

SEE ALSO:
  - reajuste/store.go: interface definitions
  - store/memory: in-memory implementation
*/
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/terravista/lot-sales/generic"
	"github.com/terravista/lot-sales/reajuste"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"

	// Fixed width so lexical order equals chronological order.
	timestampLayout = "2006-01-02T15:04:05.000000000Z"
)

// Store implements reajuste.Store and reajuste.ContractWriter.
type Store struct {
	db *sqlx.DB
	mu sync.RWMutex
}

// New opens a SQLite database. Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sqlx.Open(DriverSQLite, dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: ":memory:" databases are per connection, and SQLite
	// has a single writer regardless.
	db.SetMaxOpenConns(1)
	return open(db)
}

// NewPostgres connects to PostgreSQL with a lib/pq DSN.
func NewPostgres(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, DriverPostgres, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return open(db)
}

// Open picks the constructor for driver.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	switch driver {
	case DriverSQLite, "sqlite", "":
		return New(dsn)
	case DriverPostgres:
		return NewPostgres(ctx, dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

func open(db *sqlx.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DriverName reports the underlying driver, e.g. "sqlite3".
func (s *Store) DriverName() string {
	return s.db.DriverName()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema. The statements are valid on both
// SQLite and PostgreSQL.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS contracts (
		id TEXT PRIMARY KEY,
		client_name TEXT NOT NULL DEFAULT '',
		lot_code TEXT NOT NULL DEFAULT '',
		start_date TEXT NOT NULL,
		total_installments INTEGER NOT NULL,
		paid_installments INTEGER NOT NULL,
		total_value TEXT NOT NULL,
		entry_value TEXT NOT NULL,
		status TEXT NOT NULL,
		last_adjustment_json TEXT,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_contracts_status
		ON contracts(status);

	-- Singleton: the CHECK keeps it to one row
	CREATE TABLE IF NOT EXISTS readjustment_parameters (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		index_name TEXT NOT NULL,
		additional_percent TEXT NOT NULL,
		installment_interval INTEGER NOT NULL,
		early_warning_days INTEGER NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Index series (append-only)
	CREATE TABLE IF NOT EXISTS index_snapshots (
		id TEXT PRIMARY KEY,
		effective_date TEXT NOT NULL,
		values_json TEXT NOT NULL,
		source TEXT NOT NULL DEFAULT '',
		recorded_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_index_snapshots_effective
		ON index_snapshots(effective_date DESC, recorded_at DESC);

	-- Readjustment history (append-only)
	CREATE TABLE IF NOT EXISTS readjustment_records (
		id TEXT PRIMARY KEY,
		contract_id TEXT NOT NULL,
		reference_installment INTEGER NOT NULL,
		original_value TEXT NOT NULL,
		adjusted_value TEXT NOT NULL,
		index_name TEXT NOT NULL,
		index_value TEXT NOT NULL,
		additional_percent TEXT NOT NULL,
		total_percent TEXT NOT NULL,
		reference_date TEXT NOT NULL,
		application_date TEXT,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- CRITICAL: at most one record per contract and reference installment
	CREATE UNIQUE INDEX IF NOT EXISTS idx_records_contract_installment
		ON readjustment_records(contract_id, reference_installment);

	CREATE INDEX IF NOT EXISTS idx_records_reference_date
		ON readjustment_records(reference_date);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Reset clears all data. Development only.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"readjustment_records", "index_snapshots", "readjustment_parameters", "contracts"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
	}
	return nil
}

// =============================================================================
// CONTRACTS
// =============================================================================

type contractRow struct {
	ID                 string         `db:"id"`
	ClientName         string         `db:"client_name"`
	LotCode            string         `db:"lot_code"`
	StartDate          string         `db:"start_date"`
	TotalInstallments  int            `db:"total_installments"`
	PaidInstallments   int            `db:"paid_installments"`
	TotalValue         string         `db:"total_value"`
	EntryValue         string         `db:"entry_value"`
	Status             string         `db:"status"`
	LastAdjustmentJSON sql.NullString `db:"last_adjustment_json"`
	UpdatedAt          string         `db:"updated_at"`
}

const contractColumns = `id, client_name, lot_code, start_date, total_installments, paid_installments,
	total_value, entry_value, status, last_adjustment_json, updated_at`

// SaveContract creates or replaces a contract.
func (s *Store) SaveContract(ctx context.Context, c reajuste.Contract) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, err := toContractRow(c)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO contracts (` + contractColumns + `)
		VALUES (:id, :client_name, :lot_code, :start_date, :total_installments, :paid_installments,
		        :total_value, :entry_value, :status, :last_adjustment_json, :updated_at)
		ON CONFLICT(id) DO UPDATE SET
			client_name = excluded.client_name,
			lot_code = excluded.lot_code,
			start_date = excluded.start_date,
			total_installments = excluded.total_installments,
			paid_installments = excluded.paid_installments,
			total_value = excluded.total_value,
			entry_value = excluded.entry_value,
			status = excluded.status,
			last_adjustment_json = excluded.last_adjustment_json,
			updated_at = excluded.updated_at
	`
	if _, err := sqlx.NamedExecContext(ctx, s.db, query, row); err != nil {
		return fmt.Errorf("failed to save contract: %w", err)
	}
	return nil
}

func (s *Store) GetContract(ctx context.Context, id reajuste.ContractID) (reajuste.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getContract(ctx, s.db, id)
}

func getContract(ctx context.Context, q sqlx.ExtContext, id reajuste.ContractID) (reajuste.Contract, error) {
	var row contractRow
	err := sqlx.GetContext(ctx, q, &row, q.Rebind(`SELECT `+contractColumns+` FROM contracts WHERE id = ?`), string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return reajuste.Contract{}, &reajuste.ContractNotFoundError{ID: id}
	}
	if err != nil {
		return reajuste.Contract{}, fmt.Errorf("failed to get contract: %w", err)
	}
	return row.toContract()
}

func (s *Store) ListContracts(ctx context.Context) ([]reajuste.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listContracts(ctx, `SELECT `+contractColumns+` FROM contracts ORDER BY id`)
}

func (s *Store) ListActiveContracts(ctx context.Context) ([]reajuste.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listContracts(ctx, `SELECT `+contractColumns+` FROM contracts WHERE status = ? ORDER BY id`,
		string(reajuste.ContractActive))
}

func (s *Store) listContracts(ctx context.Context, query string, args ...any) ([]reajuste.Contract, error) {
	var rows []contractRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list contracts: %w", err)
	}
	out := make([]reajuste.Contract, 0, len(rows))
	for _, row := range rows {
		c, err := row.toContract()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func toContractRow(c reajuste.Contract) (contractRow, error) {
	row := contractRow{
		ID:                string(c.ID),
		ClientName:        c.ClientName,
		LotCode:           c.LotCode,
		StartDate:         c.StartDate.String(),
		TotalInstallments: c.TotalInstallments,
		PaidInstallments:  c.PaidInstallments,
		TotalValue:        c.TotalValue.String(),
		EntryValue:        c.EntryValue.String(),
		Status:            string(c.Status),
		UpdatedAt:         time.Now().UTC().Format(timestampLayout),
	}
	if c.LastAdjustment != nil {
		b, err := json.Marshal(toLastAdjustmentDoc(*c.LastAdjustment))
		if err != nil {
			return contractRow{}, fmt.Errorf("failed to encode last adjustment: %w", err)
		}
		row.LastAdjustmentJSON = sql.NullString{String: string(b), Valid: true}
	}
	return row, nil
}

func (row contractRow) toContract() (reajuste.Contract, error) {
	start, err := generic.ParseDate(row.StartDate)
	if err != nil {
		return reajuste.Contract{}, fmt.Errorf("contract %s: bad start_date %q: %w", row.ID, row.StartDate, err)
	}
	c := reajuste.Contract{
		ID:                reajuste.ContractID(row.ID),
		ClientName:        row.ClientName,
		LotCode:           row.LotCode,
		StartDate:         start,
		TotalInstallments: row.TotalInstallments,
		PaidInstallments:  row.PaidInstallments,
		TotalValue:        generic.MustParseDecimal(row.TotalValue),
		EntryValue:        generic.MustParseDecimal(row.EntryValue),
		Status:            reajuste.ContractStatus(row.Status),
	}
	if row.LastAdjustmentJSON.Valid && row.LastAdjustmentJSON.String != "" {
		var doc lastAdjustmentDoc
		if err := json.Unmarshal([]byte(row.LastAdjustmentJSON.String), &doc); err != nil {
			return reajuste.Contract{}, fmt.Errorf("contract %s: bad last_adjustment_json: %w", row.ID, err)
		}
		la := doc.toLastAdjustment()
		c.LastAdjustment = &la
	}
	return c, nil
}

// lastAdjustmentDoc is the JSON shape of contracts.last_adjustment_json.
type lastAdjustmentDoc struct {
	RecordID             string          `json:"record_id"`
	ReferenceInstallment int             `json:"reference_installment"`
	IndexName            string          `json:"index_name"`
	IndexValue           decimal.Decimal `json:"index_value"`
	TotalPercent         decimal.Decimal `json:"total_percent"`
	InstallmentValue     decimal.Decimal `json:"installment_value"`
	Date                 string          `json:"date"`
}

func toLastAdjustmentDoc(la reajuste.LastAdjustment) lastAdjustmentDoc {
	return lastAdjustmentDoc{
		RecordID:             string(la.RecordID),
		ReferenceInstallment: la.ReferenceInstallment,
		IndexName:            string(la.IndexName),
		IndexValue:           la.IndexValue,
		TotalPercent:         la.TotalPercent,
		InstallmentValue:     la.InstallmentValue,
		Date:                 la.Date.String(),
	}
}

func (d lastAdjustmentDoc) toLastAdjustment() reajuste.LastAdjustment {
	return reajuste.LastAdjustment{
		RecordID:             reajuste.RecordID(d.RecordID),
		ReferenceInstallment: d.ReferenceInstallment,
		IndexName:            reajuste.IndexName(d.IndexName),
		IndexValue:           d.IndexValue,
		TotalPercent:         d.TotalPercent,
		InstallmentValue:     d.InstallmentValue,
		Date:                 generic.MustDate(d.Date),
	}
}

// =============================================================================
// PARAMETERS
// =============================================================================

type parametersRow struct {
	ID                  int    `db:"id"`
	IndexName           string `db:"index_name"`
	AdditionalPercent   string `db:"additional_percent"`
	InstallmentInterval int    `db:"installment_interval"`
	EarlyWarningDays    int    `db:"early_warning_days"`
	UpdatedAt           string `db:"updated_at"`
}

func (s *Store) LoadParameters(ctx context.Context) (reajuste.Parameters, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var row parametersRow
	err := s.db.GetContext(ctx, &row, `SELECT id, index_name, additional_percent, installment_interval,
		early_warning_days, updated_at FROM readjustment_parameters WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return reajuste.Parameters{}, false, nil
	}
	if err != nil {
		return reajuste.Parameters{}, false, fmt.Errorf("failed to load parameters: %w", err)
	}
	updated, _ := time.Parse(timestampLayout, row.UpdatedAt)
	return reajuste.Parameters{
		IndexName:           reajuste.IndexName(row.IndexName),
		AdditionalPercent:   generic.MustParseDecimal(row.AdditionalPercent),
		InstallmentInterval: row.InstallmentInterval,
		EarlyWarningDays:    row.EarlyWarningDays,
		UpdatedAt:           updated,
	}, true, nil
}

func (s *Store) SaveParameters(ctx context.Context, p reajuste.Parameters) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO readjustment_parameters
		(id, index_name, additional_percent, installment_interval, early_warning_days, updated_at)
		VALUES (:id, :index_name, :additional_percent, :installment_interval, :early_warning_days, :updated_at)
		ON CONFLICT(id) DO UPDATE SET
			index_name = excluded.index_name,
			additional_percent = excluded.additional_percent,
			installment_interval = excluded.installment_interval,
			early_warning_days = excluded.early_warning_days,
			updated_at = excluded.updated_at
	`
	_, err := sqlx.NamedExecContext(ctx, s.db, query, parametersRow{
		ID:                  1,
		IndexName:           string(p.IndexName),
		AdditionalPercent:   p.AdditionalPercent.String(),
		InstallmentInterval: p.InstallmentInterval,
		EarlyWarningDays:    p.EarlyWarningDays,
		UpdatedAt:           p.UpdatedAt.UTC().Format(timestampLayout),
	})
	if err != nil {
		return fmt.Errorf("failed to save parameters: %w", err)
	}
	return nil
}

// =============================================================================
// INDEX SNAPSHOTS (append-only)
// =============================================================================

type snapshotRow struct {
	ID            string `db:"id"`
	EffectiveDate string `db:"effective_date"`
	ValuesJSON    string `db:"values_json"`
	Source        string `db:"source"`
	RecordedAt    string `db:"recorded_at"`
}

func (s *Store) AppendSnapshot(ctx context.Context, snap reajuste.IndexSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := json.Marshal(snap.Values)
	if err != nil {
		return fmt.Errorf("failed to encode index values: %w", err)
	}
	_, err = sqlx.NamedExecContext(ctx, s.db, `
		INSERT INTO index_snapshots (id, effective_date, values_json, source, recorded_at)
		VALUES (:id, :effective_date, :values_json, :source, :recorded_at)
	`, snapshotRow{
		ID:            snap.ID,
		EffectiveDate: snap.EffectiveDate.String(),
		ValuesJSON:    string(values),
		Source:        snap.Source,
		RecordedAt:    snap.RecordedAt.UTC().Format(timestampLayout),
	})
	if err != nil {
		return fmt.Errorf("failed to append index snapshot: %w", err)
	}
	return nil
}

func (s *Store) LatestSnapshot(ctx context.Context) (reajuste.IndexSnapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var row snapshotRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, effective_date, values_json, source, recorded_at
		FROM index_snapshots
		ORDER BY effective_date DESC, recorded_at DESC
		LIMIT 1
	`)
	if errors.Is(err, sql.ErrNoRows) {
		return reajuste.IndexSnapshot{}, false, nil
	}
	if err != nil {
		return reajuste.IndexSnapshot{}, false, fmt.Errorf("failed to load latest snapshot: %w", err)
	}
	snap, err := row.toSnapshot()
	return snap, err == nil, err
}

func (s *Store) ListSnapshots(ctx context.Context) ([]reajuste.IndexSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []snapshotRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT id, effective_date, values_json, source, recorded_at
		FROM index_snapshots
		ORDER BY effective_date ASC, recorded_at ASC
	`); err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	out := make([]reajuste.IndexSnapshot, 0, len(rows))
	for _, row := range rows {
		snap, err := row.toSnapshot()
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}

func (row snapshotRow) toSnapshot() (reajuste.IndexSnapshot, error) {
	var values map[reajuste.IndexName]decimal.Decimal
	if err := json.Unmarshal([]byte(row.ValuesJSON), &values); err != nil {
		return reajuste.IndexSnapshot{}, fmt.Errorf("snapshot %s: bad values_json: %w", row.ID, err)
	}
	recorded, _ := time.Parse(timestampLayout, row.RecordedAt)
	return reajuste.IndexSnapshot{
		ID:            row.ID,
		Values:        values,
		EffectiveDate: generic.MustDate(row.EffectiveDate),
		Source:        row.Source,
		RecordedAt:    recorded,
	}, nil
}

// =============================================================================
// RECORDS (append-only)
// =============================================================================

type recordRow struct {
	ID                   string         `db:"id"`
	ContractID           string         `db:"contract_id"`
	ReferenceInstallment int            `db:"reference_installment"`
	OriginalValue        string         `db:"original_value"`
	AdjustedValue        string         `db:"adjusted_value"`
	IndexName            string         `db:"index_name"`
	IndexValue           string         `db:"index_value"`
	AdditionalPercent    string         `db:"additional_percent"`
	TotalPercent         string         `db:"total_percent"`
	ReferenceDate        string         `db:"reference_date"`
	ApplicationDate      sql.NullString `db:"application_date"`
	Status               string         `db:"status"`
	CreatedAt            string         `db:"created_at"`
}

const recordColumns = `id, contract_id, reference_installment, original_value, adjusted_value,
	index_name, index_value, additional_percent, total_percent, reference_date,
	application_date, status, created_at`

func (s *Store) RecordsByContract(ctx context.Context, id reajuste.ContractID) ([]reajuste.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return recordsByContract(ctx, s.db, id)
}

func recordsByContract(ctx context.Context, q sqlx.ExtContext, id reajuste.ContractID) ([]reajuste.Record, error) {
	return queryRecords(ctx, q, `SELECT `+recordColumns+` FROM readjustment_records
		WHERE contract_id = ? ORDER BY reference_date ASC, reference_installment ASC`, string(id))
}

func (s *Store) QueryRecords(ctx context.Context, f reajuste.RecordFilter) ([]reajuste.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		where []string
		args  []any
	)
	if f.ContractID != "" {
		where = append(where, "contract_id = ?")
		args = append(args, string(f.ContractID))
	}
	if f.IndexName != "" {
		where = append(where, "index_name = ?")
		args = append(args, string(f.IndexName))
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.From != nil {
		where = append(where, "reference_date >= ?")
		args = append(args, f.From.String())
	}
	if f.To != nil {
		where = append(where, "reference_date <= ?")
		args = append(args, f.To.String())
	}

	query := `SELECT ` + recordColumns + ` FROM readjustment_records`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY contract_id ASC, reference_date ASC, reference_installment ASC"
	return queryRecords(ctx, s.db, query, args...)
}

func (s *Store) FindRecord(ctx context.Context, id reajuste.ContractID, installment int) (*reajuste.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findRecord(ctx, s.db, id, installment)
}

func findRecord(ctx context.Context, q sqlx.ExtContext, id reajuste.ContractID, installment int) (*reajuste.Record, error) {
	recs, err := queryRecords(ctx, q, `SELECT `+recordColumns+` FROM readjustment_records
		WHERE contract_id = ? AND reference_installment = ?`, string(id), installment)
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return &recs[0], nil
}

func queryRecords(ctx context.Context, q sqlx.ExtContext, query string, args ...any) ([]reajuste.Record, error) {
	var rows []recordRow
	if err := sqlx.SelectContext(ctx, q, &rows, q.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	out := make([]reajuste.Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toRecord())
	}
	return out, nil
}

func appendRecord(ctx context.Context, e sqlx.ExtContext, r reajuste.Record) error {
	row := recordRow{
		ID:                   string(r.ID),
		ContractID:           string(r.ContractID),
		ReferenceInstallment: r.ReferenceInstallment,
		OriginalValue:        r.OriginalValue.String(),
		AdjustedValue:        r.AdjustedValue.String(),
		IndexName:            string(r.IndexName),
		IndexValue:           r.IndexValue.String(),
		AdditionalPercent:    r.AdditionalPercent.String(),
		TotalPercent:         r.TotalPercent.String(),
		ReferenceDate:        r.ReferenceDate.String(),
		Status:               string(r.Status),
		CreatedAt:            time.Now().UTC().Format(timestampLayout),
	}
	if r.ApplicationDate != nil {
		row.ApplicationDate = sql.NullString{String: r.ApplicationDate.UTC().Format(timestampLayout), Valid: true}
	}

	_, err := sqlx.NamedExecContext(ctx, e, `
		INSERT INTO readjustment_records (`+recordColumns+`)
		VALUES (:id, :contract_id, :reference_installment, :original_value, :adjusted_value,
		        :index_name, :index_value, :additional_percent, :total_percent, :reference_date,
		        :application_date, :status, :created_at)
	`, row)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &reajuste.DuplicateApplicationError{ContractID: r.ContractID, ReferenceInstallment: r.ReferenceInstallment}
		}
		return fmt.Errorf("failed to append record: %w", err)
	}
	return nil
}

func (row recordRow) toRecord() reajuste.Record {
	r := reajuste.Record{
		ID:                   reajuste.RecordID(row.ID),
		ContractID:           reajuste.ContractID(row.ContractID),
		ReferenceInstallment: row.ReferenceInstallment,
		OriginalValue:        generic.MustParseDecimal(row.OriginalValue),
		AdjustedValue:        generic.MustParseDecimal(row.AdjustedValue),
		IndexName:            reajuste.IndexName(row.IndexName),
		IndexValue:           generic.MustParseDecimal(row.IndexValue),
		AdditionalPercent:    generic.MustParseDecimal(row.AdditionalPercent),
		TotalPercent:         generic.MustParseDecimal(row.TotalPercent),
		ReferenceDate:        generic.MustDate(row.ReferenceDate),
		Status:               reajuste.RecordStatus(row.Status),
	}
	if row.ApplicationDate.Valid {
		if t, err := time.Parse(timestampLayout, row.ApplicationDate.String); err == nil {
			r.ApplicationDate = &t
		}
	}
	return r
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(reajuste.ApplyTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&txStore{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// txStore reads and writes through the open transaction only.
type txStore struct {
	tx *sqlx.Tx
}

func (ts *txStore) GetContract(ctx context.Context, id reajuste.ContractID) (reajuste.Contract, error) {
	return getContract(ctx, ts.tx, id)
}

func (ts *txStore) RecordsByContract(ctx context.Context, id reajuste.ContractID) ([]reajuste.Record, error) {
	return recordsByContract(ctx, ts.tx, id)
}

func (ts *txStore) FindRecord(ctx context.Context, id reajuste.ContractID, installment int) (*reajuste.Record, error) {
	return findRecord(ctx, ts.tx, id, installment)
}

func (ts *txStore) AppendRecord(ctx context.Context, r reajuste.Record) error {
	return appendRecord(ctx, ts.tx, r)
}

func (ts *txStore) UpdateLastAdjustment(ctx context.Context, id reajuste.ContractID, la reajuste.LastAdjustment) error {
	b, err := json.Marshal(toLastAdjustmentDoc(la))
	if err != nil {
		return fmt.Errorf("failed to encode last adjustment: %w", err)
	}
	res, err := ts.tx.ExecContext(ctx,
		ts.tx.Rebind(`UPDATE contracts SET last_adjustment_json = ?, updated_at = ? WHERE id = ?`),
		string(b), time.Now().UTC().Format(timestampLayout), string(id))
	if err != nil {
		return fmt.Errorf("failed to update last adjustment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &reajuste.ContractNotFoundError{ID: id}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

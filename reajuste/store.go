package reajuste

import "context"

// =============================================================================
// REPOSITORIES - What the engine needs from persistence
// =============================================================================
//
// Implementations:
//   - store/memory: in-memory, for tests and demos
//   - store/sqldb:  SQLite / PostgreSQL
//
// Records are APPEND-ONLY. There is no method to update or delete one.

// ContractRepository reads contracts owned by the contracts collaborator.
type ContractRepository interface {
	// GetContract returns *ContractNotFoundError for an unknown id.
	GetContract(ctx context.Context, id ContractID) (Contract, error)

	// ListActiveContracts returns contracts with status active, ordered by id.
	ListActiveContracts(ctx context.Context) ([]Contract, error)
}

// ContractWriter is the collaborator side used to register contracts.
type ContractWriter interface {
	SaveContract(ctx context.Context, c Contract) error
	ListContracts(ctx context.Context) ([]Contract, error)
}

type ParameterRepository interface {
	// LoadParameters returns found=false when nothing was ever saved.
	LoadParameters(ctx context.Context) (p Parameters, found bool, err error)

	// SaveParameters creates or replaces the singleton.
	SaveParameters(ctx context.Context, p Parameters) error
}

type IndexRepository interface {
	// LatestSnapshot returns found=false for an empty series.
	LatestSnapshot(ctx context.Context) (s IndexSnapshot, found bool, err error)

	// AppendSnapshot adds to the series. Existing snapshots are never touched.
	AppendSnapshot(ctx context.Context, s IndexSnapshot) error

	// ListSnapshots returns the series ascending by effective date.
	ListSnapshots(ctx context.Context) ([]IndexSnapshot, error)
}

type RecordRepository interface {
	// RecordsByContract returns the contract's records by ReferenceDate ascending.
	RecordsByContract(ctx context.Context, id ContractID) ([]Record, error)

	// QueryRecords returns matching records by contract, then ReferenceDate.
	QueryRecords(ctx context.Context, f RecordFilter) ([]Record, error)

	// FindRecord returns nil when no record exists for the installment.
	FindRecord(ctx context.Context, id ContractID, installment int) (*Record, error)
}

// ApplyTx is the view of the store inside an Apply transaction.
type ApplyTx interface {
	GetContract(ctx context.Context, id ContractID) (Contract, error)
	RecordsByContract(ctx context.Context, id ContractID) ([]Record, error)
	FindRecord(ctx context.Context, id ContractID, installment int) (*Record, error)

	// AppendRecord returns *DuplicateApplicationError if the installment
	// already has a record.
	AppendRecord(ctx context.Context, r Record) error

	// UpdateLastAdjustment writes the denormalized summary onto the contract.
	UpdateLastAdjustment(ctx context.Context, id ContractID, la LastAdjustment) error
}

// Store is everything the engine persists or reads.
type Store interface {
	ContractRepository
	ParameterRepository
	IndexRepository
	RecordRepository

	// WithTx runs fn atomically. If fn returns an error nothing is written.
	WithTx(ctx context.Context, fn func(tx ApplyTx) error) error
}

/*
engine.go - Forecast, simulate and apply readjustments

PURPOSE:
  The Engine combines contracts, parameters and index values with the pure
  schedule and adjustment functions. Three operations share one calculation:

  Forecast  portfolio preview of readjustments due inside a date window
  Simulate  single-contract preview, optionally with parameter overrides
  Apply     single-contract commit: persists an applied Record

  Forecast and Simulate never write. Apply is the only write path.

CYCLE STATES (per contract):
  exhausted  next reference installment > total installments
  pending    a readjustment can be previewed and applied
  applied    the current reference installment already has a record

  pending --Apply--> applied --(more installments paid)--> pending | exhausted

APPLY AS ONE TRANSACTION:
  1. Take the per-contract lock (generic.Locker)
  2. Inside Store.WithTx: re-read contract and its records
  3. Recompute the next reference installment
  4. Reject with DuplicateApplicationError if it already has a record
  5. Insert the applied record and update the contract summary

  Two concurrent Apply calls for one contract: exactly one persists, the
  other observes the duplicate. The SQL store backs this with a unique index
  on (contract_id, reference_installment).

SEE ALSO:
  - schedule.go, adjustment.go: the shared calculation
  - history.go: reporting over applied records
*/
package reajuste

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/terravista/lot-sales/generic"
	"go.uber.org/zap"
)

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	store   Store
	params  *ParameterService
	indices *IndexRegistry
	locker  generic.Locker
	clock   func() time.Time
	newID   func() RecordID
	log     *zap.Logger
}

type Option func(*Engine)

// WithLocker replaces the in-process keyed mutex, e.g. with a Redis lock.
func WithLocker(l generic.Locker) Option { return func(e *Engine) { e.locker = l } }

func WithClock(clock func() time.Time) Option { return func(e *Engine) { e.clock = clock } }

func WithLogger(l *zap.Logger) Option { return func(e *Engine) { e.log = l } }

// WithIDGenerator controls record ids. Defaults to random UUIDs.
func WithIDGenerator(fn func() RecordID) Option { return func(e *Engine) { e.newID = fn } }

func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		locker: generic.NewKeyedMutex(),
		clock:  time.Now,
		newID:  func() RecordID { return RecordID(uuid.NewString()) },
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.params = NewParameterService(store, e.clock)
	e.indices = NewIndexRegistry(store, e.clock)
	return e
}

func (e *Engine) Parameters() *ParameterService { return e.params }
func (e *Engine) Indices() *IndexRegistry       { return e.indices }

// =============================================================================
// FORECAST
// =============================================================================

// Forecast previews the readjustment of every active contract whose next
// reference date falls inside window. Results are ordered by contract id.
func (e *Engine) Forecast(ctx context.Context, window generic.Window) ([]Record, error) {
	if err := window.Validate(); err != nil {
		return nil, err
	}
	params, err := e.params.Get(ctx)
	if err != nil {
		return nil, err
	}
	indexValue, err := e.indices.Resolve(ctx, params.IndexName)
	if err != nil {
		return nil, err
	}

	contracts, err := e.store.ListActiveContracts(ctx)
	if err != nil {
		return nil, generic.StoreError("list active contracts", err)
	}
	applied, err := e.store.QueryRecords(ctx, RecordFilter{Status: StatusApplied})
	if err != nil {
		return nil, generic.StoreError("load applied records", err)
	}
	byContract := make(map[ContractID][]Record)
	for _, r := range applied {
		byContract[r.ContractID] = append(byContract[r.ContractID], r)
	}

	out := make([]Record, 0)
	for _, c := range contracts {
		if c.Status != ContractActive {
			continue
		}
		next := NextReferenceInstallment(c.PaidInstallments, params.InstallmentInterval)
		if IsExhausted(next, c.TotalInstallments) {
			continue
		}
		if !window.Contains(ReferenceDate(c.StartDate, next)) {
			continue
		}
		rec, _, _ := Plan(c, byContract[c.ID], params, indexValue)
		rec.Simulated = true
		out = append(out, rec)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].ContractID < out[j].ContractID })
	return out, nil
}

// =============================================================================
// SIMULATE
// =============================================================================

// Simulate previews the next readjustment of one contract. Overrides are
// merged onto the current parameters for this call only.
func (e *Engine) Simulate(ctx context.Context, id ContractID, o Overrides) (Record, error) {
	c, err := e.store.GetContract(ctx, id)
	if err != nil {
		return Record{}, err
	}
	global, err := e.params.Get(ctx)
	if err != nil {
		return Record{}, err
	}
	params := o.Merge(global)
	if err := params.Validate(); err != nil {
		return Record{}, err
	}

	var indexValue decimal.Decimal
	if o.IndexValue != nil {
		indexValue = *o.IndexValue
	} else if indexValue, err = e.indices.Resolve(ctx, params.IndexName); err != nil {
		return Record{}, err
	}

	history, err := e.store.RecordsByContract(ctx, id)
	if err != nil {
		return Record{}, generic.StoreError("load contract records", err)
	}

	rec, next, ok := Plan(c, history, params, indexValue)
	if !ok {
		return Record{}, &NoPendingAdjustmentError{ContractID: id, NextInstallment: next, TotalInstallments: c.TotalInstallments}
	}
	rec.Simulated = true
	return rec, nil
}

// =============================================================================
// APPLY
// =============================================================================

// Apply commits the next readjustment of one contract and returns the
// applied record.
func (e *Engine) Apply(ctx context.Context, id ContractID) (Record, error) {
	params, err := e.params.Get(ctx)
	if err != nil {
		return Record{}, err
	}
	indexValue, err := e.indices.Resolve(ctx, params.IndexName)
	if err != nil {
		return Record{}, err
	}

	unlock, err := e.locker.Lock(ctx, "reajuste:contract:"+string(id))
	if err != nil {
		return Record{}, err
	}
	defer unlock()

	var applied Record
	err = e.store.WithTx(ctx, func(tx ApplyTx) error {
		c, err := tx.GetContract(ctx, id)
		if err != nil {
			return err
		}
		history, err := tx.RecordsByContract(ctx, id)
		if err != nil {
			return generic.StoreError("load contract records", err)
		}

		rec, next, ok := Plan(c, history, params, indexValue)
		if !ok {
			return &NoPendingAdjustmentError{ContractID: id, NextInstallment: next, TotalInstallments: c.TotalInstallments}
		}

		existing, err := tx.FindRecord(ctx, id, next)
		if err != nil {
			return generic.StoreError("find record", err)
		}
		if existing != nil {
			return &DuplicateApplicationError{ContractID: id, ReferenceInstallment: next, ExistingID: existing.ID}
		}

		now := e.clock().UTC()
		rec.ID = e.newID()
		rec.Status = StatusApplied
		rec.ApplicationDate = &now

		if err := tx.AppendRecord(ctx, rec); err != nil {
			return err
		}
		if err := tx.UpdateLastAdjustment(ctx, id, LastAdjustment{
			RecordID:             rec.ID,
			ReferenceInstallment: rec.ReferenceInstallment,
			IndexName:            rec.IndexName,
			IndexValue:           rec.IndexValue,
			TotalPercent:         rec.TotalPercent,
			InstallmentValue:     rec.AdjustedValue,
			Date:                 generic.FromTime(now),
		}); err != nil {
			return err
		}
		applied = rec
		return nil
	})
	if err != nil {
		e.logApplyFailure(id, err)
		return Record{}, err
	}

	e.log.Info("readjustment applied",
		zap.String("contract_id", string(id)),
		zap.String("record_id", string(applied.ID)),
		zap.Int("reference_installment", applied.ReferenceInstallment),
		zap.String("original_value", applied.OriginalValue.StringFixed(2)),
		zap.String("adjusted_value", applied.AdjustedValue.StringFixed(2)),
		zap.String("total_percent", applied.TotalPercent.String()),
	)
	return applied, nil
}

func (e *Engine) logApplyFailure(id ContractID, err error) {
	fields := []zap.Field{zap.String("contract_id", string(id)), zap.Error(err)}
	switch {
	case generic.IsNotFound(err), generic.IsBusinessRule(err), generic.IsConflict(err), generic.IsClientError(err):
		e.log.Info("readjustment rejected", fields...)
	default:
		e.log.Error("readjustment failed", fields...)
	}
}

// =============================================================================
// STATE
// =============================================================================

// State reports where the contract stands in its current cycle, along with
// the reference installment that state refers to.
func (e *Engine) State(ctx context.Context, id ContractID) (CycleState, int, error) {
	c, err := e.store.GetContract(ctx, id)
	if err != nil {
		return "", 0, err
	}
	params, err := e.params.Get(ctx)
	if err != nil {
		return "", 0, err
	}
	next := NextReferenceInstallment(c.PaidInstallments, params.InstallmentInterval)
	if IsExhausted(next, c.TotalInstallments) {
		return StateExhausted, next, nil
	}
	existing, err := e.store.FindRecord(ctx, id, next)
	if err != nil {
		return "", 0, generic.StoreError("find record", err)
	}
	if existing != nil {
		return StateApplied, next, nil
	}
	return StatePending, next, nil
}

// =============================================================================
// APPLY DUE - Batch commit for every contract whose readjustment is due
// =============================================================================

// BatchOutcome is the result of one contract in ApplyDue.
type BatchOutcome struct {
	ContractID ContractID
	Record     *Record
	Err        error
}

// Skipped reports an outcome that is not a failure: the installment was
// already readjusted, or the contract ran out of installments meanwhile.
func (o BatchOutcome) Skipped() bool {
	return o.Err != nil && (errors.Is(o.Err, ErrDuplicateApplication) || errors.Is(o.Err, ErrNoPendingAdjustment))
}

// DueContracts lists active contracts whose pending readjustment has a
// reference date on or before asOf and no applied record yet.
func (e *Engine) DueContracts(ctx context.Context, asOf generic.TimePoint) ([]ContractID, error) {
	params, err := e.params.Get(ctx)
	if err != nil {
		return nil, err
	}
	contracts, err := e.store.ListActiveContracts(ctx)
	if err != nil {
		return nil, generic.StoreError("list active contracts", err)
	}
	var due []ContractID
	for _, c := range contracts {
		next := NextReferenceInstallment(c.PaidInstallments, params.InstallmentInterval)
		if IsExhausted(next, c.TotalInstallments) || ReferenceDate(c.StartDate, next).After(asOf) {
			continue
		}
		existing, err := e.store.FindRecord(ctx, c.ID, next)
		if err != nil {
			return nil, generic.StoreError("find record", err)
		}
		if existing == nil {
			due = append(due, c.ID)
		}
	}
	return due, nil
}

// ApplyDue applies every due contract. A failing contract does not stop
// the batch; only errors listing the portfolio are returned directly.
// progress, when set, is called once per processed contract.
func (e *Engine) ApplyDue(ctx context.Context, asOf generic.TimePoint, progress func(BatchOutcome)) ([]BatchOutcome, error) {
	due, err := e.DueContracts(ctx, asOf)
	if err != nil {
		return nil, err
	}
	outcomes := make([]BatchOutcome, 0, len(due))
	for _, id := range due {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}
		o := BatchOutcome{ContractID: id}
		rec, err := e.Apply(ctx, id)
		if err != nil {
			o.Err = err
		} else {
			o.Record = &rec
		}
		outcomes = append(outcomes, o)
		if progress != nil {
			progress(o)
		}
	}
	return outcomes, nil
}

package reajuste

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/terravista/lot-sales/generic"
)

// =============================================================================
// INDEX REGISTRY - Append-only series of economic index values
// =============================================================================

// IndexRegistry records published index values and resolves the value in
// force. A missing value is an error: substituting a constant would hide
// data-entry mistakes behind a plausible-looking readjustment.
type IndexRegistry struct {
	repo  IndexRepository
	clock func() time.Time

	seedMu sync.Mutex
}

func NewIndexRegistry(repo IndexRepository, clock func() time.Time) *IndexRegistry {
	if clock == nil {
		clock = time.Now
	}
	return &IndexRegistry{repo: repo, clock: clock}
}

// Latest returns the snapshot with the greatest effective date, seeding the
// default values when the series is empty.
func (r *IndexRegistry) Latest(ctx context.Context) (IndexSnapshot, error) {
	s, found, err := r.repo.LatestSnapshot(ctx)
	if err != nil {
		return IndexSnapshot{}, generic.StoreError("load latest indices", err)
	}
	if found {
		return s, nil
	}

	r.seedMu.Lock()
	defer r.seedMu.Unlock()

	// Another caller may have seeded while we waited.
	if s, found, err = r.repo.LatestSnapshot(ctx); err != nil {
		return IndexSnapshot{}, generic.StoreError("load latest indices", err)
	} else if found {
		return s, nil
	}

	now := r.clock().UTC()
	s = IndexSnapshot{
		ID:            uuid.NewString(),
		Values:        defaultIndexValues(),
		EffectiveDate: generic.FromTime(now),
		Source:        "default",
		RecordedAt:    now,
	}
	if err := r.repo.AppendSnapshot(ctx, s); err != nil {
		return IndexSnapshot{}, generic.StoreError("seed indices", err)
	}
	return s, nil
}

// Record validates and appends a snapshot. The returned value carries the
// assigned ID and RecordedAt.
func (r *IndexRegistry) Record(ctx context.Context, s IndexSnapshot) (IndexSnapshot, error) {
	if s.EffectiveDate.IsZero() {
		return IndexSnapshot{}, &ValidationError{Field: "effective_date", Message: "effective date is required"}
	}
	if len(s.Values) == 0 {
		return IndexSnapshot{}, &ValidationError{Field: "values", Message: "at least one index value is required"}
	}
	values := make(map[IndexName]decimal.Decimal, len(s.Values))
	for name, v := range s.Values {
		if !name.Valid() {
			return IndexSnapshot{}, &ValidationError{Field: "values", Message: "unknown index: " + string(name)}
		}
		values[name] = v
	}

	s.Values = values
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	s.RecordedAt = r.clock().UTC()
	if err := r.repo.AppendSnapshot(ctx, s); err != nil {
		return IndexSnapshot{}, generic.StoreError("append indices", err)
	}
	return s, nil
}

// Resolve returns the value of name in the latest snapshot.
func (r *IndexRegistry) Resolve(ctx context.Context, name IndexName) (decimal.Decimal, error) {
	if !name.Valid() {
		return decimal.Zero, &UnknownIndexError{Name: name, Reason: "not a recognized index"}
	}
	s, err := r.Latest(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	v, ok := s.Value(name)
	if !ok {
		return decimal.Zero, &UnknownIndexError{Name: name, Reason: "no value in snapshot effective " + s.EffectiveDate.String()}
	}
	return v, nil
}

// History returns every snapshot, oldest first.
func (r *IndexRegistry) History(ctx context.Context) ([]IndexSnapshot, error) {
	list, err := r.repo.ListSnapshots(ctx)
	if err != nil {
		return nil, generic.StoreError("list indices", err)
	}
	return list, nil
}

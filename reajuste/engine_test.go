/*
engine_test.go - Behavior of forecast, simulate and apply

Tests are grouped by operation:
  1. Forecast - window selection, ordering, previews are never persisted
  2. Simulate - overrides, validation
  3. Apply    - round trip, idempotence, exhaustion, concurrency
  4. ApplyDue - batch over the portfolio
*/
package reajuste_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terravista/lot-sales/generic"
	"github.com/terravista/lot-sales/reajuste"
)

// =============================================================================
// FORECAST
// =============================================================================

func TestForecast_ScenarioC(t *testing.T) {
	// GIVEN: a contract due 2023-12-10 and one due 2024-01-05
	due := scenarioA("C-A")
	later := lotContract("C-B", "2023-02-05", 36, 11, "46000.00", "10000.00")
	engine, _ := newTestEngine(t, due, later)

	// WHEN: forecasting December 2023
	recs, err := engine.Forecast(context.Background(), window("2023-12-01", "2023-12-31"))

	// THEN: only the December contract is previewed
	require.NoError(t, err)
	require.Len(t, recs, 1)
	r := recs[0]
	assert.Equal(t, reajuste.ContractID("C-A"), r.ContractID)
	assert.Equal(t, 12, r.ReferenceInstallment)
	assert.Equal(t, "2023-12-10", r.ReferenceDate.String())
	assert.Equal(t, "1000.00", r.OriginalValue.StringFixed(2))
	assert.Equal(t, "1115.00", r.AdjustedValue.StringFixed(2))
	assert.Equal(t, "11.5", r.TotalPercent.String())
	assert.True(t, r.Simulated)
	assert.Empty(t, r.ID)
}

func TestForecast_WindowBoundsAreInclusive(t *testing.T) {
	engine, _ := newTestEngine(t, scenarioA("C-A"))

	recs, err := engine.Forecast(context.Background(), window("2023-12-10", "2023-12-10"))
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestForecast_SkipsExhaustedAndInactive(t *testing.T) {
	// GIVEN: a due contract, an exhausted one, and a settled one
	exhausted := lotContract("C-D", "2022-12-10", 24, 24, "34000.00", "10000.00")
	settled := scenarioA("C-S")
	settled.Status = reajuste.ContractSettled
	engine, _ := newTestEngine(t, scenarioA("C-A"), exhausted, settled)

	// WHEN: forecasting a very wide window
	recs, err := engine.Forecast(context.Background(), window("2000-01-01", "2100-12-31"))

	// THEN: only the active, non-exhausted contract appears
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, reajuste.ContractID("C-A"), recs[0].ContractID)
}

func TestForecast_OrderedByContractID(t *testing.T) {
	engine, _ := newTestEngine(t, scenarioA("C-3"), scenarioA("C-1"), scenarioA("C-2"))

	recs, err := engine.Forecast(context.Background(), window("2023-12-01", "2023-12-31"))
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, reajuste.ContractID("C-1"), recs[0].ContractID)
	assert.Equal(t, reajuste.ContractID("C-2"), recs[1].ContractID)
	assert.Equal(t, reajuste.ContractID("C-3"), recs[2].ContractID)
}

func TestForecast_EmptyWindowIsNotAnError(t *testing.T) {
	engine, _ := newTestEngine(t, scenarioA("C-A"))

	recs, err := engine.Forecast(context.Background(), window("2030-01-01", "2030-01-31"))
	require.NoError(t, err)
	assert.NotNil(t, recs)
	assert.Empty(t, recs)
}

func TestForecast_InvalidWindow(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, err := engine.Forecast(context.Background(), window("2023-12-31", "2023-12-01"))
	assert.ErrorIs(t, err, generic.ErrInvalidWindow)
	assert.True(t, generic.IsClientError(err))
}

func TestForecast_DoesNotPersist(t *testing.T) {
	engine, st := newTestEngine(t, scenarioA("C-A"))
	ctx := context.Background()

	_, err := engine.Forecast(ctx, window("2023-12-01", "2023-12-31"))
	require.NoError(t, err)

	recs, err := st.QueryRecords(ctx, reajuste.RecordFilter{})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

// =============================================================================
// SIMULATE
// =============================================================================

func TestSimulate_MatchesForecast(t *testing.T) {
	engine, _ := newTestEngine(t, scenarioA("C-A"))
	ctx := context.Background()

	sim, err := engine.Simulate(ctx, "C-A", reajuste.Overrides{})
	require.NoError(t, err)
	recs, err := engine.Forecast(ctx, window("2023-12-01", "2023-12-31"))
	require.NoError(t, err)
	require.Len(t, recs, 1)

	assertSamePreview(t, recs[0], sim)
}

func TestSimulate_Overrides(t *testing.T) {
	engine, st := newTestEngine(t, scenarioA("C-A"))
	ctx := context.Background()

	// WHEN: the operator tries another index value and no additional percent
	indexValue := dec("10")
	additional := decimal.Zero
	sim, err := engine.Simulate(ctx, "C-A", reajuste.Overrides{
		IndexValue:        &indexValue,
		AdditionalPercent: &additional,
	})

	// THEN: the preview uses them, and nothing is stored
	require.NoError(t, err)
	assert.Equal(t, "1100.00", sim.AdjustedValue.StringFixed(2))
	assert.Equal(t, "10", sim.TotalPercent.String())
	assert.True(t, sim.Simulated)

	p, err := engine.Parameters().Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "6", p.AdditionalPercent.String())
	recs, err := st.QueryRecords(ctx, reajuste.RecordFilter{})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestSimulate_IntervalOverrideMovesReference(t *testing.T) {
	engine, _ := newTestEngine(t, scenarioA("C-A"))

	interval := 5
	sim, err := engine.Simulate(context.Background(), "C-A", reajuste.Overrides{InstallmentInterval: &interval})
	require.NoError(t, err)
	assert.Equal(t, 15, sim.ReferenceInstallment)
	assert.Equal(t, "2024-03-10", sim.ReferenceDate.String())
}

func TestSimulate_InvalidOverride(t *testing.T) {
	engine, _ := newTestEngine(t, scenarioA("C-A"))

	interval := 0
	_, err := engine.Simulate(context.Background(), "C-A", reajuste.Overrides{InstallmentInterval: &interval})

	var verr *reajuste.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "installment_interval", verr.Field)
	assert.ErrorIs(t, err, generic.ErrValidation)
}

func TestSimulate_UnknownContract(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, err := engine.Simulate(context.Background(), "missing", reajuste.Overrides{})
	assert.ErrorIs(t, err, reajuste.ErrContractNotFound)
	assert.True(t, generic.IsNotFound(err))
}

func TestSimulate_Exhausted(t *testing.T) {
	engine, _ := newTestEngine(t, lotContract("C-D", "2022-01-10", 24, 24, "34000.00", "10000.00"))

	_, err := engine.Simulate(context.Background(), "C-D", reajuste.Overrides{})
	assert.ErrorIs(t, err, reajuste.ErrNoPendingAdjustment)
}

// =============================================================================
// APPLY
// =============================================================================

func TestApply_RoundTrip(t *testing.T) {
	// GIVEN: Scenario A with its pending readjustment
	engine, st := newTestEngine(t, scenarioA("C-A"))
	ctx := context.Background()

	preview, err := engine.Simulate(ctx, "C-A", reajuste.Overrides{})
	require.NoError(t, err)

	// WHEN: applying it
	rec, err := engine.Apply(ctx, "C-A")
	require.NoError(t, err)

	// THEN: the applied record carries exactly the previewed values
	assert.Equal(t, reajuste.RecordID("rec-1"), rec.ID)
	assert.Equal(t, reajuste.StatusApplied, rec.Status)
	assert.False(t, rec.Simulated)
	require.NotNil(t, rec.ApplicationDate)
	assert.True(t, rec.ApplicationDate.Equal(fixedNow))
	assert.Equal(t, preview.ReferenceInstallment, rec.ReferenceInstallment)
	assert.True(t, preview.AdjustedValue.Equal(rec.AdjustedValue))
	assert.True(t, preview.OriginalValue.Equal(rec.OriginalValue))

	// AND: it is stored and summarized on the contract
	stored, err := st.FindRecord(ctx, "C-A", 12)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, rec.ID, stored.ID)

	c, err := st.GetContract(ctx, "C-A")
	require.NoError(t, err)
	require.NotNil(t, c.LastAdjustment)
	assert.Equal(t, rec.ID, c.LastAdjustment.RecordID)
	assert.Equal(t, "1115.00", c.LastAdjustment.InstallmentValue.StringFixed(2))
	assert.Equal(t, "2023-11-20", c.LastAdjustment.Date.String())

	// AND: the cycle is now applied
	state, next, err := engine.State(ctx, "C-A")
	require.NoError(t, err)
	assert.Equal(t, reajuste.StateApplied, state)
	assert.Equal(t, 12, next)
}

func TestApply_TwiceIsRejected(t *testing.T) {
	engine, st := newTestEngine(t, scenarioA("C-A"))
	ctx := context.Background()

	first, err := engine.Apply(ctx, "C-A")
	require.NoError(t, err)

	// WHEN: applying the same cycle again
	_, err = engine.Apply(ctx, "C-A")

	// THEN: it is a duplicate, and still exactly one record exists
	var dup *reajuste.DuplicateApplicationError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, 12, dup.ReferenceInstallment)
	assert.Equal(t, first.ID, dup.ExistingID)
	assert.ErrorIs(t, err, reajuste.ErrDuplicateApplication)
	assert.True(t, generic.IsConflict(err))

	recs, err := st.RecordsByContract(ctx, "C-A")
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestApply_PreviewIsStableAfterApply(t *testing.T) {
	engine, _ := newTestEngine(t, scenarioA("C-A"))
	ctx := context.Background()

	before, err := engine.Simulate(ctx, "C-A", reajuste.Overrides{})
	require.NoError(t, err)
	_, err = engine.Apply(ctx, "C-A")
	require.NoError(t, err)
	after, err := engine.Simulate(ctx, "C-A", reajuste.Overrides{})
	require.NoError(t, err)

	assertSamePreview(t, before, after)
}

func TestApply_CompoundsOnPreviousReadjustment(t *testing.T) {
	// GIVEN: the first readjustment applied, then one more year paid
	engine, st := newTestEngine(t, scenarioA("C-A"))
	ctx := context.Background()
	_, err := engine.Apply(ctx, "C-A")
	require.NoError(t, err)

	c, err := st.GetContract(ctx, "C-A")
	require.NoError(t, err)
	c.PaidInstallments = 12
	require.NoError(t, st.SaveContract(ctx, c))

	// WHEN: applying the next cycle
	rec, err := engine.Apply(ctx, "C-A")

	// THEN: installment 24 starts from 1115.00
	require.NoError(t, err)
	assert.Equal(t, 24, rec.ReferenceInstallment)
	assert.Equal(t, "2024-12-10", rec.ReferenceDate.String())
	assert.Equal(t, "1115.00", rec.OriginalValue.StringFixed(2))
	assert.Equal(t, "1243.23", rec.AdjustedValue.StringFixed(2))
}

func TestApply_ScenarioD_Exhausted(t *testing.T) {
	engine, st := newTestEngine(t, lotContract("C-D", "2022-01-10", 24, 24, "34000.00", "10000.00"))
	ctx := context.Background()

	_, err := engine.Apply(ctx, "C-D")

	var npe *reajuste.NoPendingAdjustmentError
	require.ErrorAs(t, err, &npe)
	assert.Equal(t, 36, npe.NextInstallment)
	assert.Equal(t, 24, npe.TotalInstallments)
	assert.True(t, generic.IsBusinessRule(err))

	state, next, err := engine.State(ctx, "C-D")
	require.NoError(t, err)
	assert.Equal(t, reajuste.StateExhausted, state)
	assert.Equal(t, 36, next)

	recs, err := st.QueryRecords(ctx, reajuste.RecordFilter{})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestApply_UnknownContract(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, err := engine.Apply(context.Background(), "missing")
	var nf *reajuste.ContractNotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, reajuste.ContractID("missing"), nf.ID)
}

func TestApply_MissingIndexValueFails(t *testing.T) {
	// GIVEN: parameters pointing at IPCA while the snapshot only has IGPM
	engine, st := newTestEngine(t, scenarioA("C-A"))
	ctx := context.Background()
	p := reajuste.DefaultParameters()
	p.IndexName = reajuste.IndexIPCA
	_, err := engine.Parameters().Set(ctx, p)
	require.NoError(t, err)

	// WHEN: applying
	_, err = engine.Apply(ctx, "C-A")

	// THEN: no value is made up and nothing is written
	var uie *reajuste.UnknownIndexError
	require.ErrorAs(t, err, &uie)
	assert.Equal(t, reajuste.IndexIPCA, uie.Name)
	assert.ErrorIs(t, err, reajuste.ErrUnknownIndex)

	recs, err := st.QueryRecords(ctx, reajuste.RecordFilter{})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestApply_ConcurrentCallsApplyOnce(t *testing.T) {
	// GIVEN: several operators applying the same contract at once
	engine, st := newTestEngine(t, scenarioA("C-A"))
	ctx := context.Background()

	const callers = 16
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = engine.Apply(ctx, "C-A")
		}(i)
	}
	wg.Wait()

	// THEN: exactly one succeeds, the rest see a duplicate
	var ok, dup int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, reajuste.ErrDuplicateApplication):
			dup++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, callers-1, dup)

	recs, err := st.RecordsByContract(ctx, "C-A")
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestState_Pending(t *testing.T) {
	engine, _ := newTestEngine(t, scenarioA("C-A"))

	state, next, err := engine.State(context.Background(), "C-A")
	require.NoError(t, err)
	assert.Equal(t, reajuste.StatePending, state)
	assert.Equal(t, 12, next)
}

func assertSamePreview(t *testing.T, want, got reajuste.Record) {
	t.Helper()
	assert.Equal(t, want.ContractID, got.ContractID)
	assert.Equal(t, want.ReferenceInstallment, got.ReferenceInstallment)
	assert.Equal(t, want.ReferenceDate.String(), got.ReferenceDate.String())
	assert.True(t, want.OriginalValue.Equal(got.OriginalValue), "original %s != %s", want.OriginalValue, got.OriginalValue)
	assert.True(t, want.AdjustedValue.Equal(got.AdjustedValue), "adjusted %s != %s", want.AdjustedValue, got.AdjustedValue)
	assert.True(t, want.TotalPercent.Equal(got.TotalPercent))
	assert.Equal(t, want.IndexName, got.IndexName)
	assert.Equal(t, want.Simulated, got.Simulated)
}

// =============================================================================
// APPLY DUE
// =============================================================================

func TestApplyDue(t *testing.T) {
	// GIVEN: one contract due 2023-12-10 and one due 2024-01-05
	engine, _ := newTestEngine(t,
		scenarioA("C-A"),
		lotContract("C-B", "2023-02-05", 36, 11, "46000.00", "10000.00"),
	)
	ctx := context.Background()

	// WHEN: applying everything due by the end of December
	var seen []reajuste.ContractID
	outcomes, err := engine.ApplyDue(ctx, date("2023-12-31"), func(o reajuste.BatchOutcome) {
		seen = append(seen, o.ContractID)
	})

	// THEN: only C-A is applied
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, reajuste.ContractID("C-A"), outcomes[0].ContractID)
	require.NoError(t, outcomes[0].Err)
	require.NotNil(t, outcomes[0].Record)
	assert.Equal(t, "1115.00", outcomes[0].Record.AdjustedValue.StringFixed(2))
	assert.Equal(t, []reajuste.ContractID{"C-A"}, seen)

	// AND: a second run finds nothing left
	outcomes, err = engine.ApplyDue(ctx, date("2023-12-31"), nil)
	require.NoError(t, err)
	assert.Empty(t, outcomes)
}

func TestBatchOutcome_Skipped(t *testing.T) {
	dup := reajuste.BatchOutcome{Err: &reajuste.DuplicateApplicationError{ContractID: "C-1", ReferenceInstallment: 12}}
	exhausted := reajuste.BatchOutcome{Err: &reajuste.NoPendingAdjustmentError{ContractID: "C-1"}}
	failed := reajuste.BatchOutcome{Err: generic.StoreError("append", errors.New("disk"))}

	assert.True(t, dup.Skipped())
	assert.True(t, exhausted.Skipped())
	assert.False(t, failed.Skipped())
	assert.False(t, reajuste.BatchOutcome{}.Skipped())
}

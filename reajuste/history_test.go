package reajuste_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terravista/lot-sales/generic"
	"github.com/terravista/lot-sales/reajuste"
	"github.com/terravista/lot-sales/store/memory"
)

// appliedPortfolio applies C-A at IGPM+6 (1000.00 -> 1115.00) and C-X at
// IGPM+4 (2000.00 -> 2190.00).
func appliedPortfolio(t *testing.T) (*reajuste.Reporter, *memory.Memory) {
	t.Helper()
	engine, st := newTestEngine(t,
		scenarioA("C-A"),
		lotContract("C-X", "2023-01-10", 24, 11, "58000.00", "10000.00"),
		lotContract("C-N", "2023-01-10", 24, 3, "34000.00", "10000.00"),
	)
	ctx := context.Background()

	_, err := engine.Apply(ctx, "C-A")
	require.NoError(t, err)

	p := reajuste.DefaultParameters()
	p.AdditionalPercent = dec("4")
	_, err = engine.Parameters().Set(ctx, p)
	require.NoError(t, err)
	_, err = engine.Apply(ctx, "C-X")
	require.NoError(t, err)

	return reajuste.NewReporter(st, st, fixedClock), st
}

func TestHistoryForContract(t *testing.T) {
	reporter, _ := appliedPortfolio(t)
	ctx := context.Background()

	recs, err := reporter.HistoryForContract(ctx, "C-A")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "1115.00", recs[0].AdjustedValue.StringFixed(2))

	// A known contract without readjustments has an empty history.
	recs, err = reporter.HistoryForContract(ctx, "C-N")
	require.NoError(t, err)
	assert.Empty(t, recs)

	_, err = reporter.HistoryForContract(ctx, "missing")
	assert.True(t, generic.IsNotFound(err))
}

func TestBuildReport_Summary(t *testing.T) {
	reporter, _ := appliedPortfolio(t)

	report, err := reporter.BuildReport(context.Background(), reajuste.RecordFilter{})
	require.NoError(t, err)

	assert.True(t, report.GeneratedAt.Equal(fixedNow))
	assert.Equal(t, 2, report.TotalContracts)
	require.Len(t, report.Contracts, 2)

	a := report.Contracts[0]
	assert.Equal(t, reajuste.ContractID("C-A"), a.ContractID)
	assert.Equal(t, 1, a.Count)
	assert.Equal(t, "115.00", a.Delta.StringFixed(2))
	assert.Equal(t, "11.50", a.PercentDelta.StringFixed(2))

	x := report.Contracts[1]
	assert.Equal(t, reajuste.ContractID("C-X"), x.ContractID)
	assert.Equal(t, "2000.00", x.SumOriginal.StringFixed(2))
	assert.Equal(t, "2190.00", x.SumAdjusted.StringFixed(2))
	assert.Equal(t, "9.50", x.PercentDelta.StringFixed(2))

	s := report.Summary
	assert.Equal(t, 2, s.Records)
	assert.Equal(t, "3000.00", s.SumOriginal.StringFixed(2))
	assert.Equal(t, "3305.00", s.SumAdjusted.StringFixed(2))
	assert.Equal(t, "305.00", s.Delta.StringFixed(2))
	assert.Equal(t, "10.17", s.PercentDelta.StringFixed(2))
	assert.InDelta(t, 10.5, s.MeanPercentDelta, 1e-9)
	assert.InDelta(t, 10.5, s.MedianPercentDelta, 1e-9)
	assert.InDelta(t, 11.5, s.MaxPercentDelta, 1e-9)
}

func TestBuildReport_Filters(t *testing.T) {
	reporter, _ := appliedPortfolio(t)
	ctx := context.Background()

	byContract, err := reporter.BuildReport(ctx, reajuste.RecordFilter{ContractID: "C-X"})
	require.NoError(t, err)
	require.Len(t, byContract.Contracts, 1)
	assert.Equal(t, reajuste.ContractID("C-X"), byContract.Contracts[0].ContractID)

	otherIndex, err := reporter.BuildReport(ctx, reajuste.RecordFilter{IndexName: reajuste.IndexIPCA})
	require.NoError(t, err)
	assert.Equal(t, 0, otherIndex.TotalContracts)
	assert.Empty(t, otherIndex.Contracts)
	assert.True(t, otherIndex.Summary.SumOriginal.IsZero())

	from, to := date("2024-01-01"), date("2024-12-31")
	outside, err := reporter.BuildReport(ctx, reajuste.RecordFilter{From: &from, To: &to})
	require.NoError(t, err)
	assert.Empty(t, outside.Contracts)

	from, to = date("2023-12-01"), date("2023-12-31")
	inside, err := reporter.BuildReport(ctx, reajuste.RecordFilter{From: &from, To: &to, Status: reajuste.StatusApplied})
	require.NoError(t, err)
	assert.Equal(t, 2, inside.TotalContracts)
}

func TestBuildReport_InvalidRange(t *testing.T) {
	reporter, _ := appliedPortfolio(t)
	from, to := date("2023-12-31"), date("2023-12-01")

	_, err := reporter.BuildReport(context.Background(), reajuste.RecordFilter{From: &from, To: &to})
	assert.ErrorIs(t, err, generic.ErrInvalidWindow)
}

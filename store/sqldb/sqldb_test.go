package sqldb_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terravista/lot-sales/generic"
	"github.com/terravista/lot-sales/reajuste"
	"github.com/terravista/lot-sales/store/sqldb"
)

func newStore(t *testing.T) *sqldb.Store {
	t.Helper()
	store, err := sqldb.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func scenarioA(id string) reajuste.Contract {
	return reajuste.Contract{
		ID:                reajuste.ContractID(id),
		ClientName:        "Maria Souza",
		LotCode:           "Q1-L07",
		StartDate:         generic.MustDate("2023-01-10"),
		TotalInstallments: 24,
		PaidInstallments:  11,
		TotalValue:        generic.MustParseDecimal("34000.00"),
		EntryValue:        generic.MustParseDecimal("10000.00"),
		Status:            reajuste.ContractActive,
	}
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := sqldb.Open(context.Background(), "mysql", "whatever")
	assert.Error(t, err)
}

func TestContracts_RoundTrip(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	// GIVEN: a contract with a display summary
	c := scenarioA("C-1")
	c.LastAdjustment = &reajuste.LastAdjustment{
		RecordID:             "rec-1",
		ReferenceInstallment: 12,
		IndexName:            reajuste.IndexIGPM,
		IndexValue:           generic.MustParseDecimal("5.5"),
		TotalPercent:         generic.MustParseDecimal("11.5"),
		InstallmentValue:     generic.MustParseDecimal("1115.00"),
		Date:                 generic.MustDate("2023-11-20"),
	}
	require.NoError(t, store.SaveContract(ctx, c))

	// WHEN: reading it back
	got, err := store.GetContract(ctx, "C-1")

	// THEN: every field survives
	require.NoError(t, err)
	assert.Equal(t, c.ClientName, got.ClientName)
	assert.Equal(t, c.LotCode, got.LotCode)
	assert.Equal(t, "2023-01-10", got.StartDate.String())
	assert.Equal(t, 24, got.TotalInstallments)
	assert.Equal(t, 11, got.PaidInstallments)
	assert.True(t, c.TotalValue.Equal(got.TotalValue))
	assert.True(t, c.EntryValue.Equal(got.EntryValue))
	assert.Equal(t, reajuste.ContractActive, got.Status)
	require.NotNil(t, got.LastAdjustment)
	assert.Equal(t, reajuste.RecordID("rec-1"), got.LastAdjustment.RecordID)
	assert.Equal(t, "1115.00", got.LastAdjustment.InstallmentValue.StringFixed(2))
	assert.Equal(t, "2023-11-20", got.LastAdjustment.Date.String())

	// AND: saving again replaces it
	c.PaidInstallments = 12
	require.NoError(t, store.SaveContract(ctx, c))
	got, err = store.GetContract(ctx, "C-1")
	require.NoError(t, err)
	assert.Equal(t, 12, got.PaidInstallments)
}

func TestContracts_NotFoundAndActiveList(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	_, err := store.GetContract(ctx, "missing")
	assert.ErrorIs(t, err, reajuste.ErrContractNotFound)

	settled := scenarioA("C-0")
	settled.Status = reajuste.ContractSettled
	require.NoError(t, store.SaveContract(ctx, scenarioA("C-2")))
	require.NoError(t, store.SaveContract(ctx, scenarioA("C-1")))
	require.NoError(t, store.SaveContract(ctx, settled))

	active, err := store.ListActiveContracts(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, reajuste.ContractID("C-1"), active[0].ID)
	assert.Equal(t, reajuste.ContractID("C-2"), active[1].ID)

	all, err := store.ListContracts(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestParameters_Singleton(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	_, found, err := store.LoadParameters(ctx)
	require.NoError(t, err)
	assert.False(t, found)

	p := reajuste.DefaultParameters()
	p.UpdatedAt = time.Date(2023, 11, 20, 9, 30, 0, 0, time.UTC)
	require.NoError(t, store.SaveParameters(ctx, p))

	p.AdditionalPercent = generic.MustParseDecimal("4.25")
	p.IndexName = reajuste.IndexIPCA
	require.NoError(t, store.SaveParameters(ctx, p))

	got, found, err := store.LoadParameters(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, reajuste.IndexIPCA, got.IndexName)
	assert.Equal(t, "4.25", got.AdditionalPercent.String())
	assert.Equal(t, 12, got.InstallmentInterval)
	assert.True(t, got.UpdatedAt.Equal(p.UpdatedAt))
}

func TestSnapshots_LatestByEffectiveDate(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	recorded := time.Date(2023, 11, 20, 9, 0, 0, 0, time.UTC)

	snap := func(id, effective string, igpm string, at time.Time) reajuste.IndexSnapshot {
		return reajuste.IndexSnapshot{
			ID:            id,
			Values:        map[reajuste.IndexName]decimal.Decimal{reajuste.IndexIGPM: generic.MustParseDecimal(igpm)},
			EffectiveDate: generic.MustDate(effective),
			Source:        "test",
			RecordedAt:    at,
		}
	}
	require.NoError(t, store.AppendSnapshot(ctx, snap("nov", "2023-11-01", "5.5", recorded)))
	require.NoError(t, store.AppendSnapshot(ctx, snap("jun", "2023-06-01", "3.1", recorded.Add(time.Hour))))
	require.NoError(t, store.AppendSnapshot(ctx, snap("nov-fix", "2023-11-01", "5.6", recorded.Add(2*time.Hour))))

	latest, found, err := store.LatestSnapshot(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "nov-fix", latest.ID)
	v, ok := latest.Value(reajuste.IndexIGPM)
	require.True(t, ok)
	assert.Equal(t, "5.6", v.String())

	list, err := store.ListSnapshots(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "jun", list[0].ID)
	assert.Equal(t, "nov", list[1].ID)
	assert.Equal(t, "nov-fix", list[2].ID)
}

func TestWithTx_UniqueInstallment(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveContract(ctx, scenarioA("C-1")))

	rec := reajuste.Record{
		ID:                   "rec-1",
		ContractID:           "C-1",
		ReferenceInstallment: 12,
		OriginalValue:        generic.MustParseDecimal("1000.00"),
		AdjustedValue:        generic.MustParseDecimal("1115.00"),
		IndexName:            reajuste.IndexIGPM,
		IndexValue:           generic.MustParseDecimal("5.5"),
		AdditionalPercent:    generic.MustParseDecimal("6"),
		TotalPercent:         generic.MustParseDecimal("11.5"),
		ReferenceDate:        generic.MustDate("2023-12-10"),
		Status:               reajuste.StatusApplied,
	}
	require.NoError(t, store.WithTx(ctx, func(tx reajuste.ApplyTx) error {
		return tx.AppendRecord(ctx, rec)
	}))

	// WHEN: a second record targets the same installment
	rec.ID = "rec-2"
	err := store.WithTx(ctx, func(tx reajuste.ApplyTx) error {
		return tx.AppendRecord(ctx, rec)
	})

	// THEN: the unique index rejects it as a duplicate application
	assert.ErrorIs(t, err, reajuste.ErrDuplicateApplication)
	recs, err := store.RecordsByContract(ctx, "C-1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, reajuste.RecordID("rec-1"), recs[0].ID)
	assert.Equal(t, "1115", recs[0].AdjustedValue.String())
	assert.Equal(t, "2023-12-10", recs[0].ReferenceDate.String())
}

func TestWithTx_RollsBack(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveContract(ctx, scenarioA("C-1")))

	boom := errors.New("boom")
	err := store.WithTx(ctx, func(tx reajuste.ApplyTx) error {
		if err := tx.AppendRecord(ctx, reajuste.Record{
			ID: "rec-1", ContractID: "C-1", ReferenceInstallment: 12,
			ReferenceDate: generic.MustDate("2023-12-10"), Status: reajuste.StatusApplied,
		}); err != nil {
			return err
		}
		if err := tx.UpdateLastAdjustment(ctx, "C-1", reajuste.LastAdjustment{RecordID: "rec-1"}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	found, err := store.FindRecord(ctx, "C-1", 12)
	require.NoError(t, err)
	assert.Nil(t, found)
	c, err := store.GetContract(ctx, "C-1")
	require.NoError(t, err)
	assert.Nil(t, c.LastAdjustment)
}

func TestUpdateLastAdjustment_UnknownContract(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	err := store.WithTx(ctx, func(tx reajuste.ApplyTx) error {
		return tx.UpdateLastAdjustment(ctx, "missing", reajuste.LastAdjustment{})
	})
	assert.ErrorIs(t, err, reajuste.ErrContractNotFound)
}

// =============================================================================
// ENGINE OVER SQLITE
// =============================================================================

func TestEngine_ApplyOverSQLite(t *testing.T) {
	// GIVEN: Scenario A stored in SQLite with IGPM 5.5
	store := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveContract(ctx, scenarioA("C-1")))
	engine := reajuste.NewEngine(store)
	_, err := engine.Indices().Record(ctx, reajuste.IndexSnapshot{
		Values:        map[reajuste.IndexName]decimal.Decimal{reajuste.IndexIGPM: generic.MustParseDecimal("5.5")},
		EffectiveDate: generic.MustDate("2023-11-01"),
	})
	require.NoError(t, err)

	// WHEN: applying concurrently from several goroutines
	const callers = 8
	var wg sync.WaitGroup
	results := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = engine.Apply(ctx, "C-1")
		}(i)
	}
	wg.Wait()

	// THEN: one success, the rest duplicates
	var ok int
	for _, err := range results {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, reajuste.ErrDuplicateApplication)
	}
	assert.Equal(t, 1, ok)

	rec, err := store.FindRecord(ctx, "C-1", 12)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "1115.00", rec.AdjustedValue.StringFixed(2))
	assert.Equal(t, reajuste.StatusApplied, rec.Status)
	require.NotNil(t, rec.ApplicationDate)

	c, err := store.GetContract(ctx, "C-1")
	require.NoError(t, err)
	require.NotNil(t, c.LastAdjustment)
	assert.Equal(t, rec.ID, c.LastAdjustment.RecordID)
}

func TestQueryRecords_Filters(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	mk := func(id, contract string, inst int, ref string, index reajuste.IndexName) reajuste.Record {
		return reajuste.Record{
			ID: reajuste.RecordID(id), ContractID: reajuste.ContractID(contract), ReferenceInstallment: inst,
			IndexName: index, ReferenceDate: generic.MustDate(ref), Status: reajuste.StatusApplied,
		}
	}
	require.NoError(t, store.WithTx(ctx, func(tx reajuste.ApplyTx) error {
		for _, r := range []reajuste.Record{
			mk("r1", "C-2", 12, "2023-12-10", reajuste.IndexIGPM),
			mk("r2", "C-1", 24, "2024-12-10", reajuste.IndexIPCA),
			mk("r3", "C-1", 12, "2023-12-10", reajuste.IndexIGPM),
		} {
			if err := tx.AppendRecord(ctx, r); err != nil {
				return err
			}
		}
		return nil
	}))

	all, err := store.QueryRecords(ctx, reajuste.RecordFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, reajuste.RecordID("r3"), all[0].ID)
	assert.Equal(t, reajuste.RecordID("r2"), all[1].ID)
	assert.Equal(t, reajuste.RecordID("r1"), all[2].ID)

	igpm, err := store.QueryRecords(ctx, reajuste.RecordFilter{IndexName: reajuste.IndexIGPM})
	require.NoError(t, err)
	assert.Len(t, igpm, 2)

	from, to := generic.MustDate("2024-01-01"), generic.MustDate("2024-12-31")
	ranged, err := store.QueryRecords(ctx, reajuste.RecordFilter{From: &from, To: &to})
	require.NoError(t, err)
	require.Len(t, ranged, 1)
	assert.Equal(t, reajuste.RecordID("r2"), ranged[0].ID)

	one, err := store.QueryRecords(ctx, reajuste.RecordFilter{ContractID: "C-2", Status: reajuste.StatusApplied})
	require.NoError(t, err)
	assert.Len(t, one, 1)
}

func TestReset(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveContract(ctx, scenarioA("C-1")))
	require.NoError(t, store.SaveParameters(ctx, reajuste.DefaultParameters()))

	require.NoError(t, store.Reset(ctx))

	all, err := store.ListContracts(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
	_, found, err := store.LoadParameters(ctx)
	require.NoError(t, err)
	assert.False(t, found)
}

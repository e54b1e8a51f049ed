package reajuste_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/terravista/lot-sales/generic"
	"github.com/terravista/lot-sales/reajuste"
	"github.com/terravista/lot-sales/store/memory"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var fixedNow = time.Date(2023, 11, 20, 9, 30, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

func dec(s string) decimal.Decimal { return generic.MustParseDecimal(s) }

func date(s string) generic.TimePoint { return generic.MustDate(s) }

func sequentialIDs() func() reajuste.RecordID {
	var n int64
	return func() reajuste.RecordID {
		return reajuste.RecordID(fmt.Sprintf("rec-%d", atomic.AddInt64(&n, 1)))
	}
}

// lotContract builds an active contract. Total and entry are chosen by the
// caller so the base installment is easy to read.
func lotContract(id, start string, total, paid int, value, entry string) reajuste.Contract {
	return reajuste.Contract{
		ID:                reajuste.ContractID(id),
		ClientName:        "Client " + id,
		LotCode:           "L-" + id,
		StartDate:         date(start),
		TotalInstallments: total,
		PaidInstallments:  paid,
		TotalValue:        dec(value),
		EntryValue:        dec(entry),
		Status:            reajuste.ContractActive,
	}
}

// scenarioA is 24 installments, 11 paid, base installment 1000.00.
func scenarioA(id string) reajuste.Contract {
	return lotContract(id, "2023-01-10", 24, 11, "34000.00", "10000.00")
}

// newTestEngine returns an engine over a fresh memory store with default
// parameters (IGPM + 6%) and an IGPM of 5.5 effective 2023-11-01.
func newTestEngine(t *testing.T, contracts ...reajuste.Contract) (*reajuste.Engine, *memory.Memory) {
	t.Helper()
	ctx := context.Background()
	st := memory.New()
	engine := reajuste.NewEngine(st,
		reajuste.WithClock(fixedClock),
		reajuste.WithIDGenerator(sequentialIDs()),
	)

	_, err := engine.Indices().Record(ctx, reajuste.IndexSnapshot{
		Values:        map[reajuste.IndexName]decimal.Decimal{reajuste.IndexIGPM: dec("5.5")},
		EffectiveDate: date("2023-11-01"),
		Source:        "test",
	})
	require.NoError(t, err)

	for _, c := range contracts {
		require.NoError(t, st.SaveContract(ctx, c))
	}
	return engine, st
}

func window(from, to string) generic.Window {
	return generic.Window{Start: date(from), End: date(to)}
}

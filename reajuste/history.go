package reajuste

import (
	"context"
	"sort"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/shopspring/decimal"
	"github.com/terravista/lot-sales/generic"
)

// =============================================================================
// REPORTER - Aggregation over applied history
// =============================================================================

// Reporter reads persisted records only. It never computes a readjustment.
type Reporter struct {
	contracts ContractRepository
	records   RecordRepository
	clock     func() time.Time
}

func NewReporter(contracts ContractRepository, records RecordRepository, clock func() time.Time) *Reporter {
	if clock == nil {
		clock = time.Now
	}
	return &Reporter{contracts: contracts, records: records, clock: clock}
}

// HistoryForContract returns the contract's records by reference date.
func (r *Reporter) HistoryForContract(ctx context.Context, id ContractID) ([]Record, error) {
	if _, err := r.contracts.GetContract(ctx, id); err != nil {
		return nil, err
	}
	recs, err := r.records.RecordsByContract(ctx, id)
	if err != nil {
		return nil, generic.StoreError("load contract records", err)
	}
	sortByReferenceDate(recs)
	return recs, nil
}

// ContractSummary aggregates one contract's matching records.
type ContractSummary struct {
	ContractID   ContractID
	Count        int
	SumOriginal  decimal.Decimal
	SumAdjusted  decimal.Decimal
	Delta        decimal.Decimal
	PercentDelta decimal.Decimal
	Records      []Record
}

// PortfolioSummary aggregates across every contract in the report.
// The percent statistics describe the distribution of per-contract
// PercentDelta values.
type PortfolioSummary struct {
	Records            int
	SumOriginal        decimal.Decimal
	SumAdjusted        decimal.Decimal
	Delta              decimal.Decimal
	PercentDelta       decimal.Decimal
	MeanPercentDelta   float64
	MedianPercentDelta float64
	MaxPercentDelta    float64
}

type Report struct {
	GeneratedAt    time.Time
	TotalContracts int
	Filters        RecordFilter
	Contracts      []ContractSummary
	Summary        PortfolioSummary
}

// BuildReport groups matching records by contract, ordered by contract id.
func (r *Reporter) BuildReport(ctx context.Context, f RecordFilter) (Report, error) {
	if f.From != nil && f.To != nil {
		if err := (generic.Window{Start: *f.From, End: *f.To}).Validate(); err != nil {
			return Report{}, err
		}
	}
	recs, err := r.records.QueryRecords(ctx, f)
	if err != nil {
		return Report{}, generic.StoreError("query records", err)
	}

	groups := make(map[ContractID][]Record)
	var ids []ContractID
	for _, rec := range recs {
		if !f.Matches(rec) {
			continue
		}
		if _, seen := groups[rec.ContractID]; !seen {
			ids = append(ids, rec.ContractID)
		}
		groups[rec.ContractID] = append(groups[rec.ContractID], rec)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	report := Report{
		GeneratedAt: r.clock().UTC(),
		Filters:     f,
		Contracts:   make([]ContractSummary, 0, len(ids)),
	}
	var percents stats.Float64Data
	for _, id := range ids {
		s := summarize(id, groups[id])
		report.Contracts = append(report.Contracts, s)
		report.Summary.Records += s.Count
		report.Summary.SumOriginal = report.Summary.SumOriginal.Add(s.SumOriginal)
		report.Summary.SumAdjusted = report.Summary.SumAdjusted.Add(s.SumAdjusted)
		pct, _ := s.PercentDelta.Float64()
		percents = append(percents, pct)
	}
	report.TotalContracts = len(report.Contracts)
	report.Summary.Delta = report.Summary.SumAdjusted.Sub(report.Summary.SumOriginal)
	report.Summary.PercentDelta = generic.PercentOf(report.Summary.Delta, report.Summary.SumOriginal)

	if len(percents) > 0 {
		report.Summary.MeanPercentDelta, _ = stats.Round(mustStat(percents.Mean()), 2)
		report.Summary.MedianPercentDelta, _ = stats.Round(mustStat(percents.Median()), 2)
		report.Summary.MaxPercentDelta = mustStat(percents.Max())
	}
	return report, nil
}

func summarize(id ContractID, recs []Record) ContractSummary {
	sortByReferenceDate(recs)
	s := ContractSummary{ContractID: id, Count: len(recs), Records: recs}
	for _, rec := range recs {
		s.SumOriginal = s.SumOriginal.Add(rec.OriginalValue)
		s.SumAdjusted = s.SumAdjusted.Add(rec.AdjustedValue)
	}
	s.Delta = s.SumAdjusted.Sub(s.SumOriginal)
	s.PercentDelta = generic.PercentOf(s.Delta, s.SumOriginal)
	return s
}

func sortByReferenceDate(recs []Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		if !recs[i].ReferenceDate.Equal(recs[j].ReferenceDate) {
			return recs[i].ReferenceDate.Before(recs[j].ReferenceDate)
		}
		return recs[i].ReferenceInstallment < recs[j].ReferenceInstallment
	})
}

// mustStat drops the error stats returns for empty input; callers check
// length first.
func mustStat(v float64, _ error) float64 { return v }

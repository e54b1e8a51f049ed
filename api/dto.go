/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the engine's types from the external API contract:
  - money is rendered with exactly two decimals ("1115.00")
  - percents and index values keep their stored precision ("11.5")
  - dates are YYYY-MM-DD, timestamps RFC 3339

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

VALIDATION:
  Validation is done in handlers and the engine, not in DTOs.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/terravista/lot-sales/generic"
	"github.com/terravista/lot-sales/reajuste"
)

// =============================================================================
// PARAMETERS
// =============================================================================

type ParametersDTO struct {
	IndexName           string `json:"index_name"`
	AdditionalPercent   string `json:"additional_percent"`
	InstallmentInterval int    `json:"installment_interval"`
	EarlyWarningDays    int    `json:"early_warning_days"`
	UpdatedAt           string `json:"updated_at,omitempty"`
}

// UpdateParametersRequest replaces the configuration. Omitted fields keep
// their current value.
type UpdateParametersRequest struct {
	IndexName           *string          `json:"index_name"`
	AdditionalPercent   *decimal.Decimal `json:"additional_percent"`
	InstallmentInterval *int             `json:"installment_interval"`
	EarlyWarningDays    *int             `json:"early_warning_days"`
}

func toParametersDTO(p reajuste.Parameters) ParametersDTO {
	dto := ParametersDTO{
		IndexName:           string(p.IndexName),
		AdditionalPercent:   p.AdditionalPercent.String(),
		InstallmentInterval: p.InstallmentInterval,
		EarlyWarningDays:    p.EarlyWarningDays,
	}
	if !p.UpdatedAt.IsZero() {
		dto.UpdatedAt = p.UpdatedAt.Format(time.RFC3339)
	}
	return dto
}

// =============================================================================
// INDICES
// =============================================================================

type IndexSnapshotDTO struct {
	ID            string            `json:"id"`
	EffectiveDate string            `json:"effective_date"`
	Values        map[string]string `json:"values"`
	Source        string            `json:"source,omitempty"`
	RecordedAt    string            `json:"recorded_at,omitempty"`
}

type RecordIndicesRequest struct {
	EffectiveDate string                     `json:"effective_date"`
	Values        map[string]decimal.Decimal `json:"values"`
	Source        string                     `json:"source"`
}

func toIndexSnapshotDTO(s reajuste.IndexSnapshot) IndexSnapshotDTO {
	values := make(map[string]string, len(s.Values))
	for name, v := range s.Values {
		values[string(name)] = v.String()
	}
	dto := IndexSnapshotDTO{
		ID:            s.ID,
		EffectiveDate: s.EffectiveDate.String(),
		Values:        values,
		Source:        s.Source,
	}
	if !s.RecordedAt.IsZero() {
		dto.RecordedAt = s.RecordedAt.Format(time.RFC3339)
	}
	return dto
}

// =============================================================================
// CONTRACTS
// =============================================================================

type ContractDTO struct {
	ID                string             `json:"id"`
	ClientName        string             `json:"client_name,omitempty"`
	LotCode           string             `json:"lot_code,omitempty"`
	StartDate         string             `json:"start_date"`
	TotalInstallments int                `json:"total_installments"`
	PaidInstallments  int                `json:"paid_installments"`
	TotalValue        string             `json:"total_value"`
	EntryValue        string             `json:"entry_value"`
	Status            string             `json:"status"`
	InstallmentValue  string             `json:"base_installment_value"`
	LastAdjustment    *LastAdjustmentDTO `json:"last_adjustment,omitempty"`
}

type LastAdjustmentDTO struct {
	RecordID             string `json:"record_id"`
	ReferenceInstallment int    `json:"reference_installment_number"`
	IndexName            string `json:"index_name"`
	IndexValue           string `json:"index_value"`
	TotalPercent         string `json:"total_percent"`
	InstallmentValue     string `json:"installment_value"`
	Date                 string `json:"date"`
}

type SaveContractRequest struct {
	ID                string          `json:"id" validate:"required"`
	ClientName        string          `json:"client_name"`
	LotCode           string          `json:"lot_code"`
	StartDate         string          `json:"start_date" validate:"required"`
	TotalInstallments int             `json:"total_installments" validate:"gt=0"`
	PaidInstallments  int             `json:"paid_installments" validate:"gte=0,ltefield=TotalInstallments"`
	TotalValue        decimal.Decimal `json:"total_value"`
	EntryValue        decimal.Decimal `json:"entry_value"`
	Status            string          `json:"status" validate:"omitempty,oneof=active settled cancelled"`
}

func toContractDTO(c reajuste.Contract) ContractDTO {
	dto := ContractDTO{
		ID:                string(c.ID),
		ClientName:        c.ClientName,
		LotCode:           c.LotCode,
		StartDate:         c.StartDate.String(),
		TotalInstallments: c.TotalInstallments,
		PaidInstallments:  c.PaidInstallments,
		TotalValue:        money(c.TotalValue),
		EntryValue:        money(c.EntryValue),
		Status:            string(c.Status),
		InstallmentValue:  money(reajuste.BaseInstallmentValue(c)),
	}
	if la := c.LastAdjustment; la != nil {
		dto.LastAdjustment = &LastAdjustmentDTO{
			RecordID:             string(la.RecordID),
			ReferenceInstallment: la.ReferenceInstallment,
			IndexName:            string(la.IndexName),
			IndexValue:           la.IndexValue.String(),
			TotalPercent:         la.TotalPercent.String(),
			InstallmentValue:     money(la.InstallmentValue),
			Date:                 la.Date.String(),
		}
	}
	return dto
}

// =============================================================================
// READJUSTMENTS
// =============================================================================

// ReadjustmentDTO is both the preview payload (simulated=true, no status)
// and the applied payload (status="applied", application_date set).
type ReadjustmentDTO struct {
	ID                   string `json:"id,omitempty"`
	ContractID           string `json:"contract_id"`
	ReferenceInstallment int    `json:"reference_installment_number"`
	OriginalValue        string `json:"original_value"`
	AdjustedValue        string `json:"adjusted_value"`
	IndexName            string `json:"index_name"`
	IndexValue           string `json:"index_value"`
	AdditionalPercent    string `json:"additional_percent"`
	TotalPercent         string `json:"total_percent"`
	ReferenceDate        string `json:"reference_date"`
	ApplicationDate      string `json:"application_date,omitempty"`
	Status               string `json:"status,omitempty"`
	Simulated            bool   `json:"simulated,omitempty"`
}

// SimulateRequest overrides parameters for one simulation. All optional.
type SimulateRequest struct {
	IndexName           *string          `json:"index_name"`
	IndexValue          *decimal.Decimal `json:"index_value"`
	AdditionalPercent   *decimal.Decimal `json:"additional_percent"`
	InstallmentInterval *int             `json:"installment_interval"`
}

func (r SimulateRequest) toOverrides() reajuste.Overrides {
	o := reajuste.Overrides{
		IndexValue:          r.IndexValue,
		AdditionalPercent:   r.AdditionalPercent,
		InstallmentInterval: r.InstallmentInterval,
	}
	if r.IndexName != nil {
		name := reajuste.IndexName(*r.IndexName)
		o.IndexName = &name
	}
	return o
}

type ForecastResponse struct {
	From  string            `json:"from"`
	To    string            `json:"to"`
	Count int               `json:"count"`
	Items []ReadjustmentDTO `json:"items"`
}

type ContractStateDTO struct {
	ContractID           string `json:"contract_id"`
	State                string `json:"state"`
	ReferenceInstallment int    `json:"reference_installment_number"`
	TotalInstallments    int    `json:"total_installments"`
}

func toReadjustmentDTO(r reajuste.Record) ReadjustmentDTO {
	dto := ReadjustmentDTO{
		ID:                   string(r.ID),
		ContractID:           string(r.ContractID),
		ReferenceInstallment: r.ReferenceInstallment,
		OriginalValue:        money(r.OriginalValue),
		AdjustedValue:        money(r.AdjustedValue),
		IndexName:            string(r.IndexName),
		IndexValue:           r.IndexValue.String(),
		AdditionalPercent:    r.AdditionalPercent.String(),
		TotalPercent:         r.TotalPercent.String(),
		ReferenceDate:        r.ReferenceDate.String(),
		Simulated:            r.Simulated,
	}
	if !r.Simulated {
		dto.Status = string(r.Status)
	}
	if r.ApplicationDate != nil {
		dto.ApplicationDate = r.ApplicationDate.Format(time.RFC3339)
	}
	return dto
}

func toReadjustmentDTOs(recs []reajuste.Record) []ReadjustmentDTO {
	out := make([]ReadjustmentDTO, len(recs))
	for i, r := range recs {
		out[i] = toReadjustmentDTO(r)
	}
	return out
}

// =============================================================================
// REPORTS
// =============================================================================

type ReportDTO struct {
	GeneratedAt    string               `json:"generated_at"`
	TotalContracts int                  `json:"total_contracts"`
	Filters        ReportFiltersDTO     `json:"filters"`
	Contracts      []ContractReportDTO  `json:"contracts"`
	Summary        PortfolioSummaryDTO  `json:"summary"`
}

type ReportFiltersDTO struct {
	ContractID string `json:"contract_id,omitempty"`
	IndexName  string `json:"index_name,omitempty"`
	Status     string `json:"status,omitempty"`
	From       string `json:"from,omitempty"`
	To         string `json:"to,omitempty"`
}

type ContractReportDTO struct {
	ContractID    string            `json:"contract_id"`
	Count         int               `json:"count"`
	SumOriginal   string            `json:"sum_original"`
	SumAdjusted   string            `json:"sum_adjusted"`
	Delta         string            `json:"delta"`
	PercentDelta  string            `json:"percent_delta"`
	Readjustments []ReadjustmentDTO `json:"readjustments"`
}

type PortfolioSummaryDTO struct {
	Records            int     `json:"records"`
	SumOriginal        string  `json:"sum_original"`
	SumAdjusted        string  `json:"sum_adjusted"`
	Delta              string  `json:"delta"`
	PercentDelta       string  `json:"percent_delta"`
	MeanPercentDelta   float64 `json:"mean_percent_delta"`
	MedianPercentDelta float64 `json:"median_percent_delta"`
	MaxPercentDelta    float64 `json:"max_percent_delta"`
}

func toReportDTO(r reajuste.Report) ReportDTO {
	dto := ReportDTO{
		GeneratedAt:    r.GeneratedAt.Format(time.RFC3339),
		TotalContracts: r.TotalContracts,
		Filters: ReportFiltersDTO{
			ContractID: string(r.Filters.ContractID),
			IndexName:  string(r.Filters.IndexName),
			Status:     string(r.Filters.Status),
			From:       datePtr(r.Filters.From),
			To:         datePtr(r.Filters.To),
		},
		Contracts: make([]ContractReportDTO, len(r.Contracts)),
		Summary: PortfolioSummaryDTO{
			Records:            r.Summary.Records,
			SumOriginal:        money(r.Summary.SumOriginal),
			SumAdjusted:        money(r.Summary.SumAdjusted),
			Delta:              money(r.Summary.Delta),
			PercentDelta:       r.Summary.PercentDelta.StringFixed(2),
			MeanPercentDelta:   r.Summary.MeanPercentDelta,
			MedianPercentDelta: r.Summary.MedianPercentDelta,
			MaxPercentDelta:    r.Summary.MaxPercentDelta,
		},
	}
	for i, c := range r.Contracts {
		dto.Contracts[i] = ContractReportDTO{
			ContractID:    string(c.ContractID),
			Count:         c.Count,
			SumOriginal:   money(c.SumOriginal),
			SumAdjusted:   money(c.SumAdjusted),
			Delta:         money(c.Delta),
			PercentDelta:  c.PercentDelta.StringFixed(2),
			Readjustments: toReadjustmentDTOs(c.Records),
		}
	}
	return dto
}

// =============================================================================
// ALERTS / SCENARIOS / ERRORS
// =============================================================================

type AlertRunDTO struct {
	RanAt string            `json:"ran_at"`
	From  string            `json:"from"`
	To    string            `json:"to"`
	Due   []ReadjustmentDTO `json:"due"`
	Error string            `json:"error,omitempty"`
}

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func money(d decimal.Decimal) string {
	return d.StringFixed(generic.MoneyPlaces)
}

func datePtr(tp *generic.TimePoint) string {
	if tp == nil {
		return ""
	}
	return tp.String()
}

package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	jmespath "github.com/jmespath-community/go-jmespath"

	"github.com/bizmarket/analysis-pipeline/internal/domain/model"
)

// Each expression is evaluated against the listing document; JMESPath `||` picks the
// first non-empty source column.
const (
	exprTitle            = "title"
	exprIndustry         = "industry || category || profile.industry"
	exprLocation         = "join(', ', [city, state, country][?@])"
	exprAskingPrice      = "asking_price"
	exprRevenue          = "financials.annual_revenue || financials.gross_revenue || financials.revenue"
	exprEBITDA           = "financials.ebitda || financials.cash_flow"
	exprEmployees        = "employees || profile.full_time_staff"
	exprYearEstablished  = "year_established || profile.founded_year"
	exprBusinessType     = "business_type || category"
	exprOwnerInvolvement = "profile.owner_involvement"
	exprReasonForSelling = "reason_for_selling"
	exprDocumentCount    = "length(documents || `[]`)"
)

// Fallbacks for listings with missing fields.
const (
	revenueFromAskingPrice = 0.3
	ebitdaFromRevenue      = 0.15
	defaultIndustry        = "General Business"
	defaultLocation        = "Location undisclosed"
	defaultOwnerRole       = "unspecified"
	defaultReason          = "Not disclosed"
)

// Expressions lists every normalization expression, for validation.
func Expressions() []string {
	return []string{
		exprTitle, exprIndustry, exprLocation, exprAskingPrice, exprRevenue, exprEBITDA,
		exprEmployees, exprYearEstablished, exprBusinessType, exprOwnerInvolvement,
		exprReasonForSelling, exprDocumentCount,
	}
}

// Normalize converts a listing document and the job parameters into an AnalysisContext,
// applying fallbacks for missing fields.
func Normalize(listing *model.Listing, parameters json.RawMessage) (model.AnalysisContext, error) {
	if listing == nil {
		return model.AnalysisContext{}, errors.New("listing is nil")
	}

	var doc any
	if len(listing.Document) > 0 {
		if err := json.Unmarshal(listing.Document, &doc); err != nil {
			return model.AnalysisContext{}, fmt.Errorf("decode listing document: %w", err)
		}
	}
	if doc == nil {
		doc = map[string]any{}
	}

	ev := evaluator{doc: doc}
	out := model.AnalysisContext{
		ListingID:        listing.ID,
		Title:            ev.str(exprTitle, "Listing "+listing.ID),
		Industry:         ev.str(exprIndustry, defaultIndustry),
		Location:         ev.str(exprLocation, defaultLocation),
		AskingPrice:      ev.num(exprAskingPrice),
		Employees:        int(ev.num(exprEmployees)),
		YearEstablished:  int(ev.num(exprYearEstablished)),
		OwnerInvolvement: ev.str(exprOwnerInvolvement, defaultOwnerRole),
		ReasonForSelling: ev.str(exprReasonForSelling, defaultReason),
		DocumentCount:    int(ev.num(exprDocumentCount)),
	}
	out.BusinessType = ev.str(exprBusinessType, out.Industry)

	out.AnnualRevenue = ev.num(exprRevenue)
	if out.AnnualRevenue <= 0 {
		out.AnnualRevenue = roundCents(out.AskingPrice * revenueFromAskingPrice)
	}
	out.EBITDA = ev.num(exprEBITDA)
	if out.EBITDA == 0 {
		out.EBITDA = roundCents(out.AnnualRevenue * ebitdaFromRevenue)
	}
	if out.Employees <= 0 {
		out.Employees = 1
	}

	if ev.err != nil {
		return model.AnalysisContext{}, ev.err
	}

	params, err := decodeParameters(parameters)
	if err != nil {
		return model.AnalysisContext{}, err
	}
	out.Parameters = params
	return out, nil
}

func decodeParameters(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return map[string]any{}, nil
	}
	var params map[string]any
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, fmt.Errorf("decode job parameters: %w", err)
	}
	if params == nil {
		params = map[string]any{}
	}
	return params, nil
}

// evaluator keeps the first search error so callers can check once.
type evaluator struct {
	doc any
	err error
}

func (e *evaluator) search(expr string) any {
	v, err := jmespath.Search(expr, e.doc)
	if err != nil {
		if e.err == nil {
			e.err = fmt.Errorf("evaluate %q: %w", expr, err)
		}
		return nil
	}
	return v
}

func (e *evaluator) str(expr, fallback string) string {
	switch v := e.search(expr).(type) {
	case string:
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	case float64:
		return fmt.Sprintf("%g", v)
	}
	return fallback
}

func (e *evaluator) num(expr string) float64 {
	switch v := e.search(expr).(type) {
	case float64:
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			return v
		}
	case int:
		return float64(v)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
	}
	return 0
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

package analysis

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/bizmarket/analysis-pipeline/internal/domain/model"
)

// The built-in analyzers are deterministic heuristics. They stand in for a model-backed
// implementation and produce the same result shape.

// industryProfile holds the valuation multiple range and outlook of an industry.
type industryProfile struct {
	lowMultiple  float64
	highMultiple float64
	growth       string
	demand       int
}

var industryProfiles = map[string]industryProfile{
	"technology":      {lowMultiple: 4.0, highMultiple: 7.0, growth: "high", demand: 85},
	"software":        {lowMultiple: 4.5, highMultiple: 8.0, growth: "high", demand: 90},
	"healthcare":      {lowMultiple: 3.5, highMultiple: 6.0, growth: "high", demand: 80},
	"food & beverage": {lowMultiple: 2.0, highMultiple: 3.5, growth: "moderate", demand: 65},
	"retail":          {lowMultiple: 1.5, highMultiple: 3.0, growth: "low", demand: 50},
	"manufacturing":   {lowMultiple: 3.0, highMultiple: 5.0, growth: "moderate", demand: 70},
	"services":        {lowMultiple: 2.0, highMultiple: 4.0, growth: "moderate", demand: 65},
	"construction":    {lowMultiple: 2.5, highMultiple: 4.0, growth: "moderate", demand: 60},
}

var defaultProfile = industryProfile{lowMultiple: 2.0, highMultiple: 4.0, growth: "moderate", demand: 60}

func profileFor(industry string) industryProfile {
	key := strings.ToLower(strings.TrimSpace(industry))
	if p, ok := industryProfiles[key]; ok {
		return p
	}
	for name, p := range industryProfiles {
		if strings.Contains(key, name) {
			return p
		}
	}
	return defaultProfile
}

func margin(in model.AnalysisContext) float64 {
	if in.AnnualRevenue <= 0 {
		return 0
	}
	return in.EBITDA / in.AnnualRevenue
}

func businessAge(in model.AnalysisContext) int {
	if in.YearEstablished <= 0 {
		return 0
	}
	return max(referenceYear-in.YearEstablished, 0)
}

// referenceYear anchors age calculations so results are reproducible.
const referenceYear = 2025

func clampScore(v float64) int {
	return int(math.Max(0, math.Min(100, math.Round(v))))
}

func round(v float64) float64 {
	return math.Round(v)
}

func analyzeBusiness(ctx context.Context, in model.AnalysisContext, progress ProgressFunc) (map[string]any, error) {
	if err := report(ctx, progress, 35, "Evaluating financial health"); err != nil {
		return nil, err
	}
	m := margin(in)
	age := businessAge(in)

	if err := report(ctx, progress, 55, "Computing valuation multiples"); err != nil {
		return nil, err
	}
	p := profileFor(in.Industry)
	base := math.Max(in.EBITDA, 0)
	low, high := round(base*p.lowMultiple), round(base*p.highMultiple)

	if err := report(ctx, progress, 75, "Scoring business health"); err != nil {
		return nil, err
	}
	score := 40.0 + m*100 + math.Min(float64(age), 20) + math.Min(float64(in.Employees), 20)/2
	if strings.EqualFold(in.OwnerInvolvement, "full-time") {
		score -= 10
	}

	var strengths, risks []string
	if m >= 0.15 {
		strengths = append(strengths, "Healthy EBITDA margin")
	} else {
		risks = append(risks, "Thin margins")
	}
	if age >= 10 {
		strengths = append(strengths, "Long operating history")
	} else if age > 0 && age < 3 {
		risks = append(risks, "Limited operating history")
	}
	if strings.EqualFold(in.OwnerInvolvement, "full-time") {
		risks = append(risks, "High owner dependence")
	}
	if in.AskingPrice > 0 && high > 0 && in.AskingPrice > high {
		risks = append(risks, "Asking price above estimated valuation range")
	}

	if err := report(ctx, progress, 90, "Compiling analysis"); err != nil {
		return nil, err
	}
	return map[string]any{
		"summary": in.Title + " in " + in.Location,
		"valuation": map[string]any{
			"low":        low,
			"high":       high,
			"multiple":   []float64{p.lowMultiple, p.highMultiple},
			"askingRate": priceToEarnings(in),
		},
		"healthScore": clampScore(score),
		"margin":      math.Round(m*1000) / 1000,
		"strengths":   nonNil(strengths),
		"risks":       nonNil(risks),
	}, nil
}

func priceToEarnings(in model.AnalysisContext) float64 {
	if in.EBITDA <= 0 {
		return 0
	}
	return math.Round(in.AskingPrice/in.EBITDA*100) / 100
}

func analyzeMarket(ctx context.Context, in model.AnalysisContext, progress ProgressFunc) (map[string]any, error) {
	if err := report(ctx, progress, 40, "Sizing the local market"); err != nil {
		return nil, err
	}
	p := profileFor(in.Industry)

	if err := report(ctx, progress, 65, "Reviewing competitive landscape"); err != nil {
		return nil, err
	}
	competition := "moderate"
	switch {
	case p.demand >= 80:
		competition = "high"
	case p.demand < 55:
		competition = "low"
	}

	if err := report(ctx, progress, 90, "Summarizing market outlook"); err != nil {
		return nil, err
	}
	return map[string]any{
		"industry":         in.Industry,
		"location":         in.Location,
		"growthOutlook":    p.growth,
		"buyerDemandScore": p.demand,
		"competition":      competition,
		"comparableMultiples": map[string]any{
			"low":  p.lowMultiple,
			"high": p.highMultiple,
		},
	}, nil
}

func analyzeDueDiligence(ctx context.Context, in model.AnalysisContext, progress ProgressFunc) (map[string]any, error) {
	if err := report(ctx, progress, 40, "Reviewing documentation"); err != nil {
		return nil, err
	}
	checklist := []map[string]any{
		{"item": "Three years of financial statements", "status": docStatus(in.DocumentCount >= 3)},
		{"item": "Tax returns", "status": docStatus(in.DocumentCount >= 4)},
		{"item": "Lease and property agreements", "status": docStatus(in.DocumentCount >= 2)},
		{"item": "Employee roster and contracts", "status": docStatus(in.Employees <= 1 || in.DocumentCount >= 5)},
	}

	if err := report(ctx, progress, 65, "Assessing risk factors"); err != nil {
		return nil, err
	}
	var flags []string
	if in.DocumentCount == 0 {
		flags = append(flags, "No supporting documents uploaded")
	}
	if margin(in) < 0.05 {
		flags = append(flags, "Low or negative profitability")
	}
	if strings.EqualFold(in.OwnerInvolvement, "full-time") {
		flags = append(flags, "Transition plan needed for owner-operated business")
	}
	if reason := strings.ToLower(in.ReasonForSelling); strings.Contains(reason, "declin") || strings.Contains(reason, "loss") {
		flags = append(flags, "Stated reason for selling suggests performance concerns")
	}

	if err := report(ctx, progress, 90, "Preparing checklist"); err != nil {
		return nil, err
	}
	level := "low"
	switch {
	case len(flags) >= 3:
		level = "high"
	case len(flags) >= 1:
		level = "medium"
	}
	return map[string]any{
		"checklist": checklist,
		"redFlags":  nonNil(flags),
		"riskLevel": level,
	}, nil
}

func docStatus(ok bool) string {
	if ok {
		return "provided"
	}
	return "requested"
}

func analyzeBuyerMatch(ctx context.Context, in model.AnalysisContext, progress ProgressFunc) (map[string]any, error) {
	if err := report(ctx, progress, 45, "Building buyer profiles"); err != nil {
		return nil, err
	}
	m := margin(in)
	size := in.AnnualRevenue

	if err := report(ctx, progress, 70, "Scoring buyer fit"); err != nil {
		return nil, err
	}
	matches := []map[string]any{
		{
			"profile":   "owner_operator",
			"fitScore":  clampScore(80 - size/100000 + boolScore(in.Employees < 20, 10)),
			"rationale": "Smaller businesses suit buyers who will run day-to-day operations",
		},
		{
			"profile":   "strategic_acquirer",
			"fitScore":  clampScore(40 + float64(profileFor(in.Industry).demand)/2 + boolScore(m >= 0.15, 10)),
			"rationale": "Industry demand and margins drive interest from competitors",
		},
		{
			"profile":   "financial_buyer",
			"fitScore":  clampScore(30 + m*150 + boolScore(in.EBITDA >= 1_000_000, 20)),
			"rationale": "Private equity looks for scale and stable cash flow",
		},
	}

	if err := report(ctx, progress, 90, "Ranking matches"); err != nil {
		return nil, err
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i]["fitScore"].(int) > matches[j]["fitScore"].(int)
	})
	if limit, ok := in.Parameters["limit"].(float64); ok && limit >= 1 && int(limit) < len(matches) {
		matches = matches[:int(limit)]
	}
	return map[string]any{"matches": matches}, nil
}

func boolScore(ok bool, v float64) float64 {
	if ok {
		return v
	}
	return 0
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

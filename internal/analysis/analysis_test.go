package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	jmespath "github.com/jmespath-community/go-jmespath"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bizmarket/analysis-pipeline/internal/domain/model"
)

func listing(doc string) *model.Listing {
	return &model.Listing{ID: "listing-1", Document: json.RawMessage(doc)}
}

func TestExpressions_Compile(t *testing.T) {
	for _, expr := range Expressions() {
		_, err := jmespath.Compile(expr)
		assert.NoError(t, err, expr)
	}
}

func TestNormalize_FullListing(t *testing.T) {
	in, err := Normalize(DemoListing("listing-9"), json.RawMessage(`{"focus":"growth"}`))
	require.NoError(t, err)

	assert.Equal(t, "listing-9", in.ListingID)
	assert.Equal(t, "Food & Beverage", in.Industry)
	assert.Equal(t, "Portland, OR, US", in.Location)
	assert.InDelta(t, 850000, in.AskingPrice, 0.001)
	assert.InDelta(t, 1200000, in.AnnualRevenue, 0.001)
	assert.InDelta(t, 210000, in.EBITDA, 0.001)
	assert.Equal(t, 14, in.Employees)
	assert.Equal(t, 2012, in.YearEstablished)
	assert.Equal(t, "part-time", in.OwnerInvolvement)
	assert.Equal(t, 3, in.DocumentCount)
	assert.Equal(t, "growth", in.Parameters["focus"])
}

func TestNormalize_Fallbacks(t *testing.T) {
	in, err := Normalize(listing(`{"asking_price": 500000}`), nil)
	require.NoError(t, err)

	assert.Equal(t, "Listing listing-1", in.Title)
	assert.Equal(t, defaultIndustry, in.Industry)
	assert.Equal(t, defaultIndustry, in.BusinessType)
	assert.Equal(t, defaultLocation, in.Location)
	assert.InDelta(t, 150000, in.AnnualRevenue, 0.001)
	assert.InDelta(t, 22500, in.EBITDA, 0.001)
	assert.Equal(t, 1, in.Employees)
	assert.Equal(t, defaultOwnerRole, in.OwnerInvolvement)
	assert.Equal(t, defaultReason, in.ReasonForSelling)
	assert.Equal(t, 0, in.DocumentCount)
	assert.NotNil(t, in.Parameters)
}

func TestNormalize_SecondarySources(t *testing.T) {
	doc := `{
		"category": "Retail",
		"city": "Austin",
		"country": "US",
		"financials": {"gross_revenue": 400000, "cash_flow": 50000},
		"profile": {"full_time_staff": 6, "founded_year": 2019}
	}`
	in, err := Normalize(listing(doc), nil)
	require.NoError(t, err)

	assert.Equal(t, "Retail", in.Industry)
	assert.Equal(t, "Austin, US", in.Location)
	assert.InDelta(t, 400000, in.AnnualRevenue, 0.001)
	assert.InDelta(t, 50000, in.EBITDA, 0.001)
	assert.Equal(t, 6, in.Employees)
	assert.Equal(t, 2019, in.YearEstablished)
}

func TestNormalize_EmptyDocument(t *testing.T) {
	in, err := Normalize(&model.Listing{ID: "x"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Listing x", in.Title)
	assert.Zero(t, in.AnnualRevenue)
	assert.Zero(t, in.EBITDA)
}

func TestNormalize_Errors(t *testing.T) {
	_, err := Normalize(nil, nil)
	assert.Error(t, err)

	_, err = Normalize(listing(`{not json`), nil)
	assert.Error(t, err)

	_, err = Normalize(listing(`{}`), json.RawMessage(`[1,2]`))
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry()
	assert.Equal(t, []model.AnalysisType{
		model.AnalysisTypeBusiness,
		model.AnalysisTypeBuyerMatch,
		model.AnalysisTypeDueDiligence,
		model.AnalysisTypeMarket,
	}, r.Types())

	_, err := NewRegistry().Lookup(model.AnalysisTypeMarket)
	assert.ErrorIs(t, err, ErrNoAnalyzer)

	assert.Error(t, r.Register("bogus", AnalyzerFunc(analyzeMarket)))
	assert.Error(t, r.Register(model.AnalysisTypeMarket, nil))

	custom := AnalyzerFunc(func(context.Context, model.AnalysisContext, ProgressFunc) (map[string]any, error) {
		return map[string]any{"custom": true}, nil
	})
	require.NoError(t, r.Register(model.AnalysisTypeMarket, custom))
	a, err := r.Lookup(model.AnalysisTypeMarket)
	require.NoError(t, err)
	out, err := a.Analyze(context.Background(), model.AnalysisContext{}, nil)
	require.NoError(t, err)
	assert.Equal(t, true, out["custom"])
}

func demoContext(t *testing.T) model.AnalysisContext {
	t.Helper()
	in, err := Normalize(DemoListing("demo"), nil)
	require.NoError(t, err)
	return in
}

func TestAnalyzers_ReportIncreasingProgress(t *testing.T) {
	r := DefaultRegistry()
	for _, typ := range r.Types() {
		t.Run(string(typ), func(t *testing.T) {
			a, err := r.Lookup(typ)
			require.NoError(t, err)

			var seen []int
			out, err := a.Analyze(context.Background(), demoContext(t), func(_ context.Context, p int, step string) error {
				assert.NotEmpty(t, step)
				seen = append(seen, p)
				return nil
			})
			require.NoError(t, err)
			assert.NotEmpty(t, out)

			require.NotEmpty(t, seen)
			assert.IsIncreasing(t, seen)
			assert.Greater(t, seen[0], 20)
			assert.LessOrEqual(t, seen[len(seen)-1], 90)
		})
	}
}

func TestAnalyzers_StopOnProgressError(t *testing.T) {
	stop := errors.New("job cancelled")
	_, err := analyzeBusiness(context.Background(), demoContext(t), func(context.Context, int, string) error {
		return stop
	})
	assert.ErrorIs(t, err, stop)
}

func TestAnalyzers_StopOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := analyzeMarket(ctx, demoContext(t), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAnalyzeBusiness(t *testing.T) {
	out, err := analyzeBusiness(context.Background(), demoContext(t), nil)
	require.NoError(t, err)

	valuation := out["valuation"].(map[string]any)
	assert.InDelta(t, 420000, valuation["low"], 0.001)
	assert.InDelta(t, 735000, valuation["high"], 0.001)
	assert.Contains(t, out["strengths"], "Long operating history")
	assert.Contains(t, out["risks"], "Asking price above estimated valuation range")

	score := out["healthScore"].(int)
	assert.GreaterOrEqual(t, score, 0)
	assert.LessOrEqual(t, score, 100)
}

func TestAnalyzeDueDiligence(t *testing.T) {
	in := model.AnalysisContext{
		AnnualRevenue:    100000,
		EBITDA:           1000,
		OwnerInvolvement: "full-time",
		ReasonForSelling: "Declining sales",
	}
	out, err := analyzeDueDiligence(context.Background(), in, nil)
	require.NoError(t, err)
	assert.Equal(t, "high", out["riskLevel"])
	assert.Len(t, out["redFlags"], 4)

	out, err = analyzeDueDiligence(context.Background(), demoContext(t), nil)
	require.NoError(t, err)
	assert.Equal(t, "low", out["riskLevel"])
	assert.Empty(t, out["redFlags"])
}

func TestAnalyzeBuyerMatch_SortedAndLimited(t *testing.T) {
	in := demoContext(t)
	out, err := analyzeBuyerMatch(context.Background(), in, nil)
	require.NoError(t, err)

	matches := out["matches"].([]map[string]any)
	require.Len(t, matches, 3)
	for i := 1; i < len(matches); i++ {
		assert.GreaterOrEqual(t, matches[i-1]["fitScore"].(int), matches[i]["fitScore"].(int))
	}

	in.Parameters = map[string]any{"limit": float64(1)}
	out, err = analyzeBuyerMatch(context.Background(), in, nil)
	require.NoError(t, err)
	assert.Len(t, out["matches"], 1)
}

func TestAnalyzeMarket_IndustryLookup(t *testing.T) {
	out, err := analyzeMarket(context.Background(), model.AnalysisContext{Industry: "Enterprise Software"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "high", out["growthOutlook"])
	assert.Equal(t, "high", out["competition"])

	out, err = analyzeMarket(context.Background(), model.AnalysisContext{Industry: "Pet grooming"}, nil)
	require.NoError(t, err)
	assert.Equal(t, defaultProfile.growth, out["growthOutlook"])
}

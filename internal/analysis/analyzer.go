// Package analysis defines the analysis function boundary: analyzers keyed by
// analysis type, listing normalization and the demo fallback listing.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/bizmarket/analysis-pipeline/internal/domain/model"
)

// ErrNoAnalyzer is returned when no analyzer is registered for an analysis type.
var ErrNoAnalyzer = errors.New("no analyzer registered")

// ProgressFunc reports intermediate progress. A non-nil error tells the analyzer to stop.
type ProgressFunc func(ctx context.Context, progress int, step string) error

// Analyzer turns a normalized listing context into a JSON-serializable result.
type Analyzer interface {
	Analyze(ctx context.Context, in model.AnalysisContext, progress ProgressFunc) (map[string]any, error)
}

// AnalyzerFunc adapts a function to the Analyzer interface.
type AnalyzerFunc func(ctx context.Context, in model.AnalysisContext, progress ProgressFunc) (map[string]any, error)

// Analyze calls f.
func (f AnalyzerFunc) Analyze(ctx context.Context, in model.AnalysisContext, progress ProgressFunc) (map[string]any, error) {
	return f(ctx, in, progress)
}

// Registry maps analysis types to analyzers. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	analyzers map[model.AnalysisType]Analyzer
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{analyzers: make(map[model.AnalysisType]Analyzer)}
}

// DefaultRegistry returns a registry with the built-in heuristic analyzers for every type.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.mustRegister(model.AnalysisTypeBusiness, AnalyzerFunc(analyzeBusiness))
	r.mustRegister(model.AnalysisTypeMarket, AnalyzerFunc(analyzeMarket))
	r.mustRegister(model.AnalysisTypeDueDiligence, AnalyzerFunc(analyzeDueDiligence))
	r.mustRegister(model.AnalysisTypeBuyerMatch, AnalyzerFunc(analyzeBuyerMatch))
	return r
}

// Register sets the analyzer for t, replacing any previous one.
func (r *Registry) Register(t model.AnalysisType, a Analyzer) error {
	if !t.Valid() {
		return fmt.Errorf("invalid analysis type: %q", t)
	}
	if a == nil {
		return errors.New("analyzer is nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.analyzers[t] = a
	return nil
}

func (r *Registry) mustRegister(t model.AnalysisType, a Analyzer) {
	if err := r.Register(t, a); err != nil {
		panic(err)
	}
}

// Lookup returns the analyzer for t or ErrNoAnalyzer.
func (r *Registry) Lookup(t model.AnalysisType) (Analyzer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.analyzers[t]
	if !ok {
		return nil, fmt.Errorf("%w for %s", ErrNoAnalyzer, t)
	}
	return a, nil
}

// Types returns the registered analysis types in name order.
func (r *Registry) Types() []model.AnalysisType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.AnalysisType, 0, len(r.analyzers))
	for t := range r.analyzers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// report calls progress when set.
func report(ctx context.Context, progress ProgressFunc, pct int, step string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if progress == nil {
		return nil
	}
	return progress(ctx, pct, step)
}

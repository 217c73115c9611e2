package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/bizmarket/analysis-pipeline/internal/core"
	"github.com/bizmarket/analysis-pipeline/internal/domain/model"
)

// SubscriptionRepo resolves plan tiers from user_subscriptions.
type SubscriptionRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

var _ core.SubscriptionRepository = (*SubscriptionRepo)(nil)

// NewSubscriptionRepo creates a new SubscriptionRepo.
func NewSubscriptionRepo(db *sql.DB, tp TimeProvider) *SubscriptionRepo {
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &SubscriptionRepo{DB: db, timeProvider: tp}
}

// PlanFor returns the user's active plan, or model.PlanFree when none is stored.
// An unrecognized stored plan also resolves to free.
func (r *SubscriptionRepo) PlanFor(ctx context.Context, userID string) (model.PlanTier, error) {
	var plan string
	err := r.DB.QueryRowContext(ctx, `
		SELECT plan FROM user_subscriptions WHERE user_id = $1 AND active
	`, userID).Scan(&plan)
	if errors.Is(err, sql.ErrNoRows) {
		return model.PlanFree, nil
	}
	if err != nil {
		return "", fmt.Errorf("get subscription: %w", err)
	}
	tier := model.PlanTier(strings.ToLower(strings.TrimSpace(plan)))
	if !tier.Valid() {
		return model.PlanFree, nil
	}
	return tier, nil
}

// SetPlan upserts the user's active plan.
func (r *SubscriptionRepo) SetPlan(ctx context.Context, userID string, tier model.PlanTier) error {
	if !tier.Valid() {
		return fmt.Errorf("invalid plan tier: %q", tier)
	}
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO user_subscriptions (user_id, plan, active, updated_at)
		VALUES ($1, $2, TRUE, $3)
		ON CONFLICT (user_id) DO UPDATE SET plan = EXCLUDED.plan, active = TRUE, updated_at = EXCLUDED.updated_at
	`, userID, string(tier), r.timeProvider.Now().UTC())
	if err != nil {
		return fmt.Errorf("set subscription: %w", err)
	}
	return nil
}

package database

import (
	"context"
	"encoding/json"
)

const defaultRuleID = "default"

// ============================================================================
// AUTO-TRIGGER RULE (C14) — singleton by id (spec.md §9)
// ============================================================================

// GetOrCreateAutoTriggerRule returns the singleton rule, seeding sane
// defaults (disabled) on first access.
func (r *Repository) GetOrCreateAutoTriggerRule(ctx context.Context) (*AutoTriggerRule, error) {
	rule, err := r.getAutoTriggerRule(ctx)
	if err == nil {
		return rule, nil
	}
	if err != ErrNotFound {
		return nil, err
	}

	defaults := &AutoTriggerRule{
		ID:              defaultRuleID,
		Enabled:         false,
		SegmentFilter:   "both",
		TimeRange:       "24h",
		MinTraders:      3,
		MinConfidence:   60,
		MinSentimentAbs: 50,
		Leverage:        5,
		MarginNotional:  100,
		CooldownMinutes: 60,
		PortfolioID:     defaultRuleID,
	}
	if err := r.UpdateAutoTriggerRule(ctx, defaults); err != nil {
		return nil, err
	}
	return r.getAutoTriggerRule(ctx)
}

func (r *Repository) getAutoTriggerRule(ctx context.Context) (*AutoTriggerRule, error) {
	query := `
		SELECT id, enabled, segment_filter, time_range, min_traders, min_confidence, min_sentiment_abs,
		       leverage, margin_notional, cooldown_minutes, portfolio_id, last_run_at, updated_at
		FROM auto_trigger_rules WHERE id = $1
	`
	rule := &AutoTriggerRule{}
	err := r.db.Pool.QueryRow(ctx, query, defaultRuleID).Scan(
		&rule.ID, &rule.Enabled, &rule.SegmentFilter, &rule.TimeRange, &rule.MinTraders, &rule.MinConfidence, &rule.MinSentimentAbs,
		&rule.Leverage, &rule.MarginNotional, &rule.CooldownMinutes, &rule.PortfolioID, &rule.LastRunAt, &rule.UpdatedAt,
	)
	if err != nil {
		return nil, translateNotFound(err)
	}
	return rule, nil
}

// UpdateAutoTriggerRule upserts the singleton rule row.
func (r *Repository) UpdateAutoTriggerRule(ctx context.Context, rule *AutoTriggerRule) error {
	rule.ID = defaultRuleID
	query := `
		INSERT INTO auto_trigger_rules (id, enabled, segment_filter, time_range, min_traders, min_confidence,
			min_sentiment_abs, leverage, margin_notional, cooldown_minutes, portfolio_id, last_run_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
		ON CONFLICT (id) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			segment_filter = EXCLUDED.segment_filter,
			time_range = EXCLUDED.time_range,
			min_traders = EXCLUDED.min_traders,
			min_confidence = EXCLUDED.min_confidence,
			min_sentiment_abs = EXCLUDED.min_sentiment_abs,
			leverage = EXCLUDED.leverage,
			margin_notional = EXCLUDED.margin_notional,
			cooldown_minutes = EXCLUDED.cooldown_minutes,
			portfolio_id = EXCLUDED.portfolio_id,
			last_run_at = EXCLUDED.last_run_at,
			updated_at = NOW()
	`
	_, err := r.db.Pool.Exec(ctx, query, rule.ID, rule.Enabled, rule.SegmentFilter, rule.TimeRange, rule.MinTraders,
		rule.MinConfidence, rule.MinSentimentAbs, rule.Leverage, rule.MarginNotional, rule.CooldownMinutes,
		rule.PortfolioID, rule.LastRunAt)
	return err
}

// MarkAutoTriggerRan stamps lastRunAt after a committed auto-trigger pass
// (C14). The per-symbol cooldown check does not read it.
func (r *Repository) MarkAutoTriggerRan(ctx context.Context, runAt any) error {
	_, err := r.db.Pool.Exec(ctx, `UPDATE auto_trigger_rules SET last_run_at = $1, updated_at = NOW() WHERE id = $2`, runAt, defaultRuleID)
	return err
}

// ============================================================================
// INSIGHTS RULE (C12) — singleton by id (spec.md §9)
// ============================================================================

// DefaultInsightsPresets is the built-in conservative/balanced/aggressive
// threshold bundle, used to seed the singleton on first access and as the
// fallback when a preset is missing from a stored rule.
func DefaultInsightsPresets() map[InsightsMode]InsightsThresholds {
	return map[InsightsMode]InsightsThresholds{
		InsightsConservative: {
			CrowdedMinTraders: 5, CrowdedMinConfidence: 75, CrowdedMinSentimentAbs: 70,
			LowConfidenceLimit: 30, HighLeverageThreshold: 15, ExtremeLeverageThreshold: 30,
			UnstableFlipThreshold: 2, ClusterFlipThreshold: 3, ScoreMultiplier: 0.8,
		},
		InsightsBalanced: {
			CrowdedMinTraders: 3, CrowdedMinConfidence: 60, CrowdedMinSentimentAbs: 50,
			LowConfidenceLimit: 40, HighLeverageThreshold: 20, ExtremeLeverageThreshold: 50,
			UnstableFlipThreshold: 3, ClusterFlipThreshold: 4, ScoreMultiplier: 1.0,
		},
		InsightsAggressive: {
			CrowdedMinTraders: 2, CrowdedMinConfidence: 45, CrowdedMinSentimentAbs: 35,
			LowConfidenceLimit: 50, HighLeverageThreshold: 25, ExtremeLeverageThreshold: 75,
			UnstableFlipThreshold: 4, ClusterFlipThreshold: 5, ScoreMultiplier: 1.2,
		},
	}
}

// GetOrCreateInsightsRule returns the singleton insights configuration,
// seeding DefaultInsightsPresets on first access.
func (r *Repository) GetOrCreateInsightsRule(ctx context.Context) (*InsightsRule, error) {
	rule, err := r.getInsightsRule(ctx)
	if err == nil {
		return rule, nil
	}
	if err != ErrNotFound {
		return nil, err
	}

	defaults := &InsightsRule{
		ID:          defaultRuleID,
		DefaultMode: InsightsBalanced,
		Presets:     DefaultInsightsPresets(),
	}
	if err := r.UpdateInsightsRule(ctx, defaults); err != nil {
		return nil, err
	}
	return r.getInsightsRule(ctx)
}

func (r *Repository) getInsightsRule(ctx context.Context) (*InsightsRule, error) {
	query := `SELECT id, default_mode, presets, updated_at FROM insights_rules WHERE id = $1`
	var presets []byte
	rule := &InsightsRule{}
	err := r.db.Pool.QueryRow(ctx, query, defaultRuleID).Scan(&rule.ID, &rule.DefaultMode, &presets, &rule.UpdatedAt)
	if err != nil {
		return nil, translateNotFound(err)
	}
	rule.Presets = map[InsightsMode]InsightsThresholds{}
	if err := json.Unmarshal(presets, &rule.Presets); err != nil {
		return nil, err
	}
	return rule, nil
}

// UpdateInsightsRule upserts the singleton insights rule, sanitizing any
// missing preset entries back to the built-in defaults before persisting
// (spec.md §9: a partial preset payload must not leave a mode unusable).
func (r *Repository) UpdateInsightsRule(ctx context.Context, rule *InsightsRule) error {
	rule.ID = defaultRuleID
	if rule.Presets == nil {
		rule.Presets = map[InsightsMode]InsightsThresholds{}
	}
	for mode, defaults := range DefaultInsightsPresets() {
		if _, ok := rule.Presets[mode]; !ok {
			rule.Presets[mode] = defaults
		}
	}

	presets, err := json.Marshal(rule.Presets)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO insights_rules (id, default_mode, presets, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (id) DO UPDATE SET
			default_mode = EXCLUDED.default_mode,
			presets = EXCLUDED.presets,
			updated_at = NOW()
	`
	_, err = r.db.Pool.Exec(ctx, query, rule.ID, rule.DefaultMode, presets)
	return err
}

package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/triarb/internal/domain"
)

// Journal records evaluation decisions and order submissions.
type Journal struct {
	client *Client
}

// NewJournal creates a Journal backed by the given Client.
func NewJournal(client *Client) *Journal {
	return &Journal{client: client}
}

// InsertDecision persists one evaluation outcome. The plan is stored as
// JSONB only when the decision produced one.
func (j *Journal) InsertDecision(ctx context.Context, d domain.Decision) error {
	var planJSON []byte
	if !d.Plan.None() {
		var err error
		planJSON, err = json.Marshal(d.Plan)
		if err != nil {
			return fmt.Errorf("postgres: marshal plan: %w", err)
		}
	}

	_, err := j.client.pool.Exec(ctx, `
		INSERT INTO decisions
			(id, evaluated_at, scenario_low, scenario_high, threshold, ref_leg, opportunity, error, plan)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`,
		d.ID, d.EvaluatedAt, d.ScenarioLow, d.ScenarioHigh, d.Threshold,
		d.RefLeg, d.Opportunity(), d.Err, planJSON,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert decision %s: %w", d.ID, err)
	}
	return nil
}

// InsertSubmission persists one placed order leg belonging to a decision.
func (j *Journal) InsertSubmission(ctx context.Context, decisionID string, leg domain.PlanLeg, res domain.OrderResult) error {
	_, err := j.client.pool.Exec(ctx, `
		INSERT INTO submissions
			(decision_id, symbol, side, price, quantity, client_order_id, order_id, status, test_mode)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		decisionID, leg.Symbol, string(leg.Side), leg.Price, leg.Quantity,
		res.ClientOrderID, res.OrderID, res.Status, res.Test,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert submission for %s: %w", decisionID, err)
	}
	return nil
}

// RecentDecisions returns up to limit decisions, newest first.
func (j *Journal) RecentDecisions(ctx context.Context, limit int) ([]domain.Decision, error) {
	rows, err := j.client.pool.Query(ctx, `
		SELECT id, evaluated_at, scenario_low, scenario_high, threshold, ref_leg, error, plan
		FROM decisions
		ORDER BY evaluated_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: query decisions: %w", err)
	}
	defer rows.Close()

	var out []domain.Decision
	for rows.Next() {
		var (
			d        domain.Decision
			at       time.Time
			planJSON []byte
		)
		if err := rows.Scan(&d.ID, &at, &d.ScenarioLow, &d.ScenarioHigh, &d.Threshold, &d.RefLeg, &d.Err, &planJSON); err != nil {
			return nil, fmt.Errorf("postgres: scan decision: %w", err)
		}
		d.EvaluatedAt = at
		if len(planJSON) > 0 {
			if err := json.Unmarshal(planJSON, &d.Plan); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal plan for %s: %w", d.ID, err)
			}
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate decisions: %w", err)
	}
	return out, nil
}

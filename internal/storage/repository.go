package storage

import (
	"context"
)

// Repository is write-through persistence for rules and alert history.
// The engine's in-memory registry stays authoritative; persistence exists
// for restart continuity and alert audit.
type Repository struct {
	Store *Store
}

func NewRepository(store *Store) *Repository {
	return &Repository{Store: store}
}

func (r *Repository) UpsertRule(ctx context.Context, rec RuleRecord) error {
	_, err := r.Store.Pool.Exec(ctx, `
		INSERT INTO rules (id, name, rule_json, updated_at)
		VALUES ($1,$2,$3,now())
		ON CONFLICT (id) DO UPDATE SET name=$2, rule_json=$3, updated_at=now()`,
		rec.ID, rec.Name, rec.RuleJSON)
	return err
}

func (r *Repository) DeleteRule(ctx context.Context, id string) error {
	tag, err := r.Store.Pool.Exec(ctx, `DELETE FROM rules WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) ListRules(ctx context.Context) ([]RuleRecord, error) {
	rows, err := r.Store.Pool.Query(ctx, `SELECT id, name, rule_json FROM rules ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := []RuleRecord{}
	for rows.Next() {
		var rec RuleRecord
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.RuleJSON); err != nil {
			return nil, err
		}
		results = append(results, rec)
	}
	return results, nil
}

func (r *Repository) GetRule(ctx context.Context, id string) (RuleRecord, error) {
	row := r.Store.Pool.QueryRow(ctx, `SELECT id, name, rule_json FROM rules WHERE id=$1`, id)
	var rec RuleRecord
	if err := row.Scan(&rec.ID, &rec.Name, &rec.RuleJSON); err != nil {
		return RuleRecord{}, ErrNotFound
	}
	return rec, nil
}

func (r *Repository) CreateAlert(ctx context.Context, alert AlertRecord) error {
	_, err := r.Store.Pool.Exec(ctx, `
		INSERT INTO alerts (alert_id, rule_id, ts_utc, severity, message, correlation_id, observed_values, channel_results, escalated, treated)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		alert.AlertID, alert.RuleID, alert.TSUTC, alert.Severity, alert.Message,
		alert.CorrelationID, alert.Values, alert.Results, alert.Escalated, alert.Treated)
	return err
}

func (r *Repository) ListAlertsForRule(ctx context.Context, ruleID string, limit int) ([]AlertRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.Store.Pool.Query(ctx, `
		SELECT alert_id, rule_id, ts_utc, severity, message, correlation_id, observed_values, channel_results, escalated, treated
		FROM alerts WHERE rule_id=$1 ORDER BY ts_utc DESC LIMIT $2`, ruleID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := []AlertRecord{}
	for rows.Next() {
		var rec AlertRecord
		if err := rows.Scan(&rec.AlertID, &rec.RuleID, &rec.TSUTC, &rec.Severity, &rec.Message,
			&rec.CorrelationID, &rec.Values, &rec.Results, &rec.Escalated, &rec.Treated); err != nil {
			return nil, err
		}
		results = append(results, rec)
	}
	return results, nil
}

func (r *Repository) UpdateAlertTreated(ctx context.Context, alertID string, treated bool) error {
	tag, err := r.Store.Pool.Exec(ctx, `UPDATE alerts SET treated=$1 WHERE alert_id=$2`, treated, alertID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

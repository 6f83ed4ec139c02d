package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"

	"github.com/smilemakc/flowforge/internal/domain/repository"
	storagemodels "github.com/smilemakc/flowforge/internal/infrastructure/storage/models"
	"github.com/smilemakc/flowforge/pkg/models"
)

// --- signals ---

type bunSignalRepo struct {
	db *bun.DB
}

func (r *bunSignalRepo) Append(ctx context.Context, signal *models.Signal) error {
	_, err := r.db.NewInsert().Model(storagemodels.NewSignalModel(signal)).Exec(ctx)
	return err
}

func (r *bunSignalRepo) OldestPending(ctx context.Context, executionID, signalType string) (*models.Signal, error) {
	row := new(storagemodels.SignalModel)
	q := r.db.NewSelect().Model(row).
		Where("s.execution_id = ?", executionID).
		Where("s.processed = FALSE").
		Order("received_at ASC").
		Limit(1)
	if signalType != "" {
		q = q.Where("s.signal_type = ?", signalType)
	}
	if err := q.Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return row.ToDomain(), nil
}

func (r *bunSignalRepo) OldestUnrouted(ctx context.Context, signalType string) (*models.Signal, error) {
	row := new(storagemodels.SignalModel)
	err := r.db.NewSelect().Model(row).
		Where("s.execution_id = ''").
		Where("s.signal_type = ?", signalType).
		Where("s.processed = FALSE").
		Order("received_at ASC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return row.ToDomain(), nil
}

func (r *bunSignalRepo) HasPending(ctx context.Context, executionID string) (bool, error) {
	count, err := r.db.NewSelect().
		Model((*storagemodels.SignalModel)(nil)).
		Where("execution_id = ?", executionID).
		Where("processed = FALSE").
		Count(ctx)
	return count > 0, err
}

func (r *bunSignalRepo) MarkProcessed(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.NewUpdate().
		Model((*storagemodels.SignalModel)(nil)).
		Set("processed = TRUE").
		Set("processed_at = ?", at).
		Where("id = ?", id).
		Where("processed = FALSE").
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return models.ErrSignalNotFound
	}
	return nil
}

// DeadLetterExpired moves timed-out unprocessed signals to the dead-letter
// table in one transaction.
func (r *bunSignalRepo) DeadLetterExpired(ctx context.Context, ttl time.Duration, now time.Time, reason string) (int, error) {
	cutoff := now.Add(-ttl)
	moved := 0
	err := r.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		var expired []storagemodels.SignalModel
		err := tx.NewSelect().Model(&expired).
			Where("s.processed = FALSE").
			Where("s.received_at < ?", cutoff).
			Scan(ctx)
		if err != nil {
			return err
		}
		if len(expired) == 0 {
			return nil
		}

		dead := make([]*storagemodels.DeadLetterSignalModel, len(expired))
		ids := make([]string, len(expired))
		for i := range expired {
			dead[i] = &storagemodels.DeadLetterSignalModel{
				ID:          expired[i].ID,
				ExecutionID: expired[i].ExecutionID,
				SignalType:  expired[i].SignalType,
				SignalData:  expired[i].SignalData,
				ReceivedAt:  expired[i].ReceivedAt,
				Reason:      reason,
				DroppedAt:   now,
			}
			ids[i] = expired[i].ID
		}
		if _, err := tx.NewInsert().Model(&dead).Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewDelete().Model((*storagemodels.SignalModel)(nil)).Where("id IN (?)", bun.In(ids)).Exec(ctx); err != nil {
			return err
		}
		moved = len(expired)
		return nil
	})
	return moved, err
}

// --- schedules ---

type bunScheduleRepo struct {
	db *bun.DB
}

func (r *bunScheduleRepo) Create(ctx context.Context, schedule *models.Schedule) error {
	_, err := r.db.NewInsert().Model(storagemodels.NewScheduleModel(schedule)).Exec(ctx)
	return err
}

func (r *bunScheduleRepo) Update(ctx context.Context, schedule *models.Schedule) error {
	res, err := r.db.NewUpdate().Model(storagemodels.NewScheduleModel(schedule)).WherePK().Exec(ctx)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return models.ErrScheduleNotFound
	}
	return nil
}

func (r *bunScheduleRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.NewDelete().Model((*storagemodels.ScheduleModel)(nil)).Where("id = ?", id).Exec(ctx)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return models.ErrScheduleNotFound
	}
	return nil
}

func (r *bunScheduleRepo) Get(ctx context.Context, id string) (*models.Schedule, error) {
	row := new(storagemodels.ScheduleModel)
	err := r.db.NewSelect().Model(row).Where("sc.id = ?", id).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrScheduleNotFound
		}
		return nil, err
	}
	return row.ToDomain(), nil
}

func (r *bunScheduleRepo) List(ctx context.Context, workflowID string) ([]*models.Schedule, error) {
	var rows []storagemodels.ScheduleModel
	q := r.db.NewSelect().Model(&rows).Order("created_at ASC")
	if workflowID != "" {
		q = q.Where("workflow_id = ?", workflowID)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]*models.Schedule, len(rows))
	for i := range rows {
		out[i] = rows[i].ToDomain()
	}
	return out, nil
}

// Due advances next_fire_at with a conditional update per row: whichever
// poller wins the update fires the schedule, so the same instant never fires
// twice.
func (r *bunScheduleRepo) Due(ctx context.Context, now time.Time, max int, next repository.NextFireFunc) ([]*models.Schedule, error) {
	var candidates []storagemodels.ScheduleModel
	err := r.db.NewSelect().Model(&candidates).
		Where("sc.active = TRUE").
		Where("sc.next_fire_at <= ?", now).
		Order("next_fire_at ASC").
		Limit(max).
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	fired := make([]*models.Schedule, 0, len(candidates))
	for i := range candidates {
		nextFire, err := next(candidates[i].CronExpr, now)
		if err != nil {
			// Unparseable rule: deactivate rather than spin on it.
			_, _ = r.db.NewUpdate().
				Model((*storagemodels.ScheduleModel)(nil)).
				Set("active = FALSE").
				Where("id = ?", candidates[i].ID).
				Exec(ctx)
			continue
		}
		res, err := r.db.NewUpdate().
			Model((*storagemodels.ScheduleModel)(nil)).
			Set("next_fire_at = ?", nextFire).
			Where("id = ?", candidates[i].ID).
			Where("next_fire_at = ?", candidates[i].NextFireAt).
			Where("active = TRUE").
			Exec(ctx)
		if err != nil {
			return fired, err
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			continue // another poller fired it
		}
		fired = append(fired, candidates[i].ToDomain())
	}
	return fired, nil
}

// --- logs ---

type bunLogRepo struct {
	db *bun.DB
}

func (r *bunLogRepo) Append(ctx context.Context, log *models.ExecutionLog) error {
	row := &storagemodels.ExecutionLogModel{
		ExecutionID: log.ExecutionID,
		NodeID:      log.NodeID,
		Level:       log.Level,
		Message:     log.Message,
		Timestamp:   log.Timestamp,
	}
	_, err := r.db.NewInsert().Model(row).Exec(ctx)
	return err
}

func (r *bunLogRepo) ListByExecution(ctx context.Context, executionID string, limit int) ([]*models.ExecutionLog, error) {
	var rows []storagemodels.ExecutionLogModel
	q := r.db.NewSelect().Model(&rows).
		Where("execution_id = ?", executionID).
		Order("timestamp ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]*models.ExecutionLog, len(rows))
	for i := range rows {
		out[i] = &models.ExecutionLog{
			ID:          rows[i].ID,
			ExecutionID: rows[i].ExecutionID,
			NodeID:      rows[i].NodeID,
			Level:       rows[i].Level,
			Message:     rows[i].Message,
			Timestamp:   rows[i].Timestamp,
		}
	}
	return out, nil
}

// --- webhook subscriptions ---

type bunSubscriptionRepo struct {
	db *bun.DB
}

func (r *bunSubscriptionRepo) Create(ctx context.Context, sub *models.WebhookSubscription) error {
	_, err := r.db.NewInsert().Model(storagemodels.NewWebhookSubscriptionModel(sub)).Exec(ctx)
	return err
}

func (r *bunSubscriptionRepo) Update(ctx context.Context, sub *models.WebhookSubscription) error {
	res, err := r.db.NewUpdate().Model(storagemodels.NewWebhookSubscriptionModel(sub)).WherePK().Exec(ctx)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return models.ErrSubscriptionNotFound
	}
	return nil
}

func (r *bunSubscriptionRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.NewDelete().Model((*storagemodels.WebhookSubscriptionModel)(nil)).Where("id = ?", id).Exec(ctx)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return models.ErrSubscriptionNotFound
	}
	return nil
}

func (r *bunSubscriptionRepo) Get(ctx context.Context, id string) (*models.WebhookSubscription, error) {
	row := new(storagemodels.WebhookSubscriptionModel)
	err := r.db.NewSelect().Model(row).Where("ws.id = ?", id).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return row.ToDomain(), nil
}

func (r *bunSubscriptionRepo) FindByTrigger(ctx context.Context, connectorSlug, triggerID string) ([]*models.WebhookSubscription, error) {
	var rows []storagemodels.WebhookSubscriptionModel
	err := r.db.NewSelect().Model(&rows).
		Where("connector_slug = ?", connectorSlug).
		Where("trigger_id = ?", triggerID).
		Where("active = TRUE").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*models.WebhookSubscription, len(rows))
	for i := range rows {
		out[i] = rows[i].ToDomain()
	}
	return out, nil
}

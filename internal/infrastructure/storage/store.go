// Package storage provides the bun/Postgres implementation of the
// repository contracts, plus an in-memory implementation for tests and
// embedded use.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/smilemakc/flowforge/internal/domain/repository"
	storagemodels "github.com/smilemakc/flowforge/internal/infrastructure/storage/models"
	"github.com/smilemakc/flowforge/pkg/models"
)

// frozenCondition matches rows whose execution is terminal: completed,
// terminated, or failed with no retry pending. Such rows are never
// overwritten or re-claimed.
const frozenCondition = `(status IN ('completed', 'terminated') OR (status = 'failed' AND next_retry_at IS NULL))`

// BunStore implements repository.Store on Postgres via bun.
type BunStore struct {
	db *bun.DB

	workflows     *bunWorkflowRepo
	executions    *bunExecutionRepo
	signals       *bunSignalRepo
	schedules     *bunScheduleRepo
	logs          *bunLogRepo
	subscriptions *bunSubscriptionRepo
}

// NewBunStore opens a Postgres-backed store from a DSN.
func NewBunStore(dsn string) *BunStore {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	return NewBunStoreFromDB(db)
}

// NewBunStoreFromDB wraps an existing bun handle.
func NewBunStoreFromDB(db *bun.DB) *BunStore {
	s := &BunStore{db: db}
	s.workflows = &bunWorkflowRepo{db: db}
	s.executions = &bunExecutionRepo{db: db}
	s.signals = &bunSignalRepo{db: db}
	s.schedules = &bunScheduleRepo{db: db}
	s.logs = &bunLogRepo{db: db}
	s.subscriptions = &bunSubscriptionRepo{db: db}
	return s
}

func (s *BunStore) Workflows() repository.WorkflowRepository         { return s.workflows }
func (s *BunStore) Executions() repository.ExecutionRepository       { return s.executions }
func (s *BunStore) Signals() repository.SignalRepository             { return s.signals }
func (s *BunStore) Schedules() repository.ScheduleRepository         { return s.schedules }
func (s *BunStore) Logs() repository.LogRepository                   { return s.logs }
func (s *BunStore) Subscriptions() repository.SubscriptionRepository { return s.subscriptions }

// Ping checks connectivity.
func (s *BunStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the connection pool.
func (s *BunStore) Close() error {
	return s.db.Close()
}

// InitSchema creates all tables and the worker's claim indexes.
func (s *BunStore) InitSchema(ctx context.Context) error {
	tables := []interface{}{
		(*storagemodels.WorkflowModel)(nil),
		(*storagemodels.WorkflowVersionModel)(nil),
		(*storagemodels.ExecutionModel)(nil),
		(*storagemodels.SignalModel)(nil),
		(*storagemodels.DeadLetterSignalModel)(nil),
		(*storagemodels.ScheduleModel)(nil),
		(*storagemodels.ExecutionLogModel)(nil),
		(*storagemodels.WebhookSubscriptionModel)(nil),
	}
	for _, table := range tables {
		if _, err := s.db.NewCreateTable().Model(table).IfNotExists().Exec(ctx); err != nil {
			return err
		}
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_executions_claim ON executions (status, next_retry_at, lease_until)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_workflow ON executions (workflow_id, started_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_pending ON signals (execution_id, signal_type) WHERE NOT processed`,
		`CREATE INDEX IF NOT EXISTS idx_schedules_due ON schedules (next_fire_at) WHERE active`,
		`CREATE INDEX IF NOT EXISTS idx_logs_execution ON execution_logs (execution_id, timestamp)`,
	}
	for _, idx := range indexes {
		if _, err := s.db.ExecContext(ctx, idx); err != nil {
			return err
		}
	}
	return nil
}

// --- workflows ---

type bunWorkflowRepo struct {
	db *bun.DB
}

func (r *bunWorkflowRepo) Create(ctx context.Context, workflow *models.Workflow) error {
	return r.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(storagemodels.NewWorkflowModel(workflow)).Exec(ctx); err != nil {
			return err
		}
		return insertVersion(ctx, tx, workflow)
	})
}

func (r *bunWorkflowRepo) Update(ctx context.Context, workflow *models.Workflow) error {
	return r.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		workflow.UpdatedAt = time.Now()
		res, err := tx.NewUpdate().
			Model(storagemodels.NewWorkflowModel(workflow)).
			WherePK().
			Where("deleted = FALSE").
			Exec(ctx)
		if err != nil {
			return err
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return models.ErrWorkflowNotFound
		}
		return insertVersion(ctx, tx, workflow)
	})
}

// insertVersion snapshots the graph; versions are immutable so conflicts are
// left untouched.
func insertVersion(ctx context.Context, tx bun.Tx, workflow *models.Workflow) error {
	version := &storagemodels.WorkflowVersionModel{
		WorkflowID: workflow.ID,
		Version:    workflow.Version,
		Nodes:      workflow.Nodes,
		Edges:      workflow.Edges,
		CreatedAt:  time.Now(),
	}
	_, err := tx.NewInsert().
		Model(version).
		On("CONFLICT (workflow_id, version) DO NOTHING").
		Exec(ctx)
	return err
}

func (r *bunWorkflowRepo) FindByID(ctx context.Context, id string) (*models.Workflow, error) {
	head := new(storagemodels.WorkflowModel)
	err := r.db.NewSelect().Model(head).Where("w.id = ?", id).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrWorkflowNotFound
		}
		return nil, err
	}
	workflow := head.ToDomain()

	snapshot, err := r.FindVersion(ctx, id, head.Version)
	if err != nil {
		return nil, err
	}
	workflow.Nodes = snapshot.Nodes
	workflow.Edges = snapshot.Edges
	return workflow, nil
}

func (r *bunWorkflowRepo) FindVersion(ctx context.Context, id string, version int) (*models.WorkflowVersion, error) {
	row := new(storagemodels.WorkflowVersionModel)
	err := r.db.NewSelect().Model(row).
		Where("wv.workflow_id = ?", id).
		Where("wv.version = ?", version).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrWorkflowNotFound
		}
		return nil, err
	}
	return &models.WorkflowVersion{
		WorkflowID: row.WorkflowID,
		Version:    row.Version,
		Nodes:      row.Nodes,
		Edges:      row.Edges,
		CreatedAt:  row.CreatedAt,
	}, nil
}

func (r *bunWorkflowRepo) List(ctx context.Context) ([]*models.Workflow, error) {
	var rows []storagemodels.WorkflowModel
	err := r.db.NewSelect().Model(&rows).
		Where("deleted = FALSE").
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*models.Workflow, len(rows))
	for i := range rows {
		out[i] = rows[i].ToDomain()
	}
	return out, nil
}

func (r *bunWorkflowRepo) SoftDelete(ctx context.Context, id string) error {
	res, err := r.db.NewUpdate().
		Model((*storagemodels.WorkflowModel)(nil)).
		Set("deleted = TRUE").
		Set("is_active = FALSE").
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return models.ErrWorkflowNotFound
	}
	return nil
}

// --- executions ---

type bunExecutionRepo struct {
	db *bun.DB
}

func (r *bunExecutionRepo) Create(ctx context.Context, execution *models.Execution) error {
	row, err := storagemodels.NewExecutionModel(execution)
	if err != nil {
		return err
	}
	_, err = r.db.NewInsert().Model(row).Exec(ctx)
	return err
}

func (r *bunExecutionRepo) Get(ctx context.Context, id string) (*models.Execution, error) {
	row := new(storagemodels.ExecutionModel)
	err := r.db.NewSelect().Model(row).Where("e.id = ?", id).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrExecutionNotFound
		}
		return nil, err
	}
	return row.ToDomain()
}

func (r *bunExecutionRepo) List(ctx context.Context, workflowID string, limit, offset int) ([]*models.Execution, error) {
	var rows []storagemodels.ExecutionModel
	q := r.db.NewSelect().Model(&rows).Order("started_at DESC")
	if workflowID != "" {
		q = q.Where("workflow_id = ?", workflowID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]*models.Execution, 0, len(rows))
	for i := range rows {
		execution, err := rows[i].ToDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, execution)
	}
	return out, nil
}

// Save writes the step outcome. Terminal rows are never overwritten; with a
// lease owner set the write is conditional on the live lease and releases it
// unless KeepLease. A processed signal id is flipped in the same
// transaction, enforcing single consumption.
func (r *bunExecutionRepo) Save(ctx context.Context, execution *models.Execution, opts repository.SaveOptions) error {
	row, err := storagemodels.NewExecutionModel(execution)
	if err != nil {
		return err
	}

	return r.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if opts.ProcessedSignalID != "" {
			now := time.Now()
			res, err := tx.NewUpdate().
				Model((*storagemodels.SignalModel)(nil)).
				Set("processed = TRUE").
				Set("processed_at = ?", now).
				Where("id = ?", opts.ProcessedSignalID).
				Where("processed = FALSE").
				Exec(ctx)
			if err != nil {
				return err
			}
			if affected, _ := res.RowsAffected(); affected == 0 {
				return fmt.Errorf("signal %s already consumed", opts.ProcessedSignalID)
			}
		}

		q := tx.NewUpdate().
			Model(row).
			Column("status", "completed_at", "retry_count", "next_retry_at", "error",
				"waiting_signal_type", "state_version", "state").
			WherePK().
			Where("NOT " + frozenCondition)

		if opts.LeaseOwner != "" {
			q = q.Where("lease_owner = ?", opts.LeaseOwner).
				Where("lease_until > ?", time.Now())
			if !opts.KeepLease {
				q = q.Set("lease_owner = NULL").Set("lease_until = NULL")
			}
		}

		res, err := q.Exec(ctx)
		if err != nil {
			return err
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return r.classifySaveConflict(ctx, tx, execution.ID)
		}
		return nil
	})
}

// classifySaveConflict distinguishes a terminal row from a lost lease.
func (r *bunExecutionRepo) classifySaveConflict(ctx context.Context, tx bun.Tx, id string) error {
	row := new(storagemodels.ExecutionModel)
	err := tx.NewSelect().Model(row).Where("e.id = ?", id).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.ErrExecutionNotFound
		}
		return err
	}
	execution, convErr := row.ToDomain()
	if convErr == nil && execution.IsTerminal() {
		return models.ErrExecutionTerminal
	}
	return models.ErrLeaseNotHeld
}

// ClaimRunnable leases runnable executions: the scan finds candidates, and a
// per-row conditional update wins or skips — two workers can never both
// claim the same row.
func (r *bunExecutionRepo) ClaimRunnable(ctx context.Context, owner string, max int, now time.Time, leaseTTL time.Duration) ([]*models.Execution, error) {
	var candidates []storagemodels.ExecutionModel
	err := r.db.NewSelect().
		Model(&candidates).
		Where("NOT "+frozenCondition).
		Where("e.status != ?", string(models.ExecutionStatusPaused)).
		Where("e.lease_owner IS NULL OR e.lease_owner = '' OR e.lease_until < ?", now).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.
				Where("e.status = ?", string(models.ExecutionStatusRunning)).
				WhereOr("e.status = ? AND e.next_retry_at IS NOT NULL AND e.next_retry_at <= ?",
					string(models.ExecutionStatusFailed), now).
				WhereOr("e.status = ? AND EXISTS (SELECT 1 FROM signals s WHERE s.processed = FALSE AND s.signal_type = e.waiting_signal_type AND (s.execution_id = e.id OR s.execution_id = ''))",
					string(models.ExecutionStatusWaitingForSignal))
		}).
		Order("started_at ASC").
		Limit(max).
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	leaseUntil := now.Add(leaseTTL)
	claimed := make([]*models.Execution, 0, len(candidates))
	for i := range candidates {
		res, err := r.db.NewUpdate().
			Model((*storagemodels.ExecutionModel)(nil)).
			Set("lease_owner = ?", owner).
			Set("lease_until = ?", leaseUntil).
			Where("id = ?", candidates[i].ID).
			Where("status = ?", candidates[i].Status).
			Where("lease_owner IS NULL OR lease_owner = '' OR lease_until < ?", now).
			Exec(ctx)
		if err != nil {
			return claimed, err
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			continue // another worker won the row
		}
		execution, err := candidates[i].ToDomain()
		if err != nil {
			return claimed, err
		}
		execution.LeaseOwner = owner
		execution.LeaseUntil = &leaseUntil
		claimed = append(claimed, execution)
	}
	return claimed, nil
}

func (r *bunExecutionRepo) ReleaseLease(ctx context.Context, id, owner string) error {
	_, err := r.db.NewUpdate().
		Model((*storagemodels.ExecutionModel)(nil)).
		Set("lease_owner = NULL").
		Set("lease_until = NULL").
		Where("id = ?", id).
		Where("lease_owner = ?", owner).
		Exec(ctx)
	return err
}

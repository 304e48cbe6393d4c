// internal/manager/tenant_manager.go
package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/streadway/amqp"

	"inbox-hub/internal/autoreply"
	"inbox-hub/internal/consumer"
	"inbox-hub/internal/messaging"
	"inbox-hub/internal/model"
	"inbox-hub/internal/storage"
	"inbox-hub/internal/worker"
)

var ErrTenantNotFound = errors.New("tenant not found")

// Handler executes one auto-reply task.
type Handler func(ctx context.Context, task autoreply.Task) error

type Store interface {
	CreateTenant(ctx context.Context, t model.Tenant) error
	GetTenant(ctx context.Context, id uuid.UUID) (model.Tenant, error)
	ListTenants(ctx context.Context) ([]model.Tenant, error)
	EnsurePartition(ctx context.Context, tenantID uuid.UUID) error
	UpdateTenantConcurrency(ctx context.Context, tenantID uuid.UUID, workers int) error
}

type tenantRuntime struct {
	pool     *worker.WorkerPool
	consumer *consumer.Consumer
	ctx      context.Context
	cancel   context.CancelFunc
}

// TenantManager owns each tenant's auto-reply runtime: a bounded worker pool
// fed either by the tenant's RabbitMQ queue or, without a broker, directly.
type TenantManager struct {
	rabbit         *messaging.RabbitClient
	storage        Store
	handler        Handler
	defaultWorkers int
	base           *slog.Logger
	logger         *slog.Logger

	mu      sync.RWMutex
	tenants map[uuid.UUID]*tenantRuntime
}

// NewTenantManager builds a manager. A nil rabbit client dispatches tasks
// straight to the in-process pools.
func NewTenantManager(rabbit *messaging.RabbitClient, storage Store, handler Handler, defaultWorkers int, logger *slog.Logger) *TenantManager {
	return &TenantManager{
		rabbit:         rabbit,
		storage:        storage,
		handler:        handler,
		defaultWorkers: defaultWorkers,
		base:           logger,
		logger:         logger.With(slog.String("component", "manager")),
		tenants:        make(map[uuid.UUID]*tenantRuntime),
	}
}

// AddTenant saves the tenant, creates its message partition and starts its runtime.
func (tm *TenantManager) AddTenant(ctx context.Context, t model.Tenant) error {
	if t.Concurrency <= 0 {
		t.Concurrency = tm.defaultWorkers
	}
	if err := tm.storage.CreateTenant(ctx, t); err != nil {
		return fmt.Errorf("failed to save tenant: %w", err)
	}
	if err := tm.storage.EnsurePartition(ctx, t.ID); err != nil {
		return err
	}

	tm.mu.Lock()
	defer tm.mu.Unlock()
	if err := tm.startLocked(t); err != nil {
		return err
	}
	tm.logger.Info("tenant added", slog.String("tenant_id", t.ID.String()))
	return nil
}

// StartAll recovers the runtimes of every stored tenant.
func (tm *TenantManager) StartAll(ctx context.Context) error {
	tenants, err := tm.storage.ListTenants(ctx)
	if err != nil {
		return fmt.Errorf("failed to load tenants: %w", err)
	}

	tm.mu.Lock()
	defer tm.mu.Unlock()
	for _, t := range tenants {
		if err := tm.storage.EnsurePartition(ctx, t.ID); err != nil {
			tm.logger.Warn("failed to recover tenant", slog.String("tenant_id", t.ID.String()), slog.Any("error", err))
			continue
		}
		if err := tm.startLocked(t); err != nil {
			tm.logger.Warn("failed to recover tenant", slog.String("tenant_id", t.ID.String()), slog.Any("error", err))
			continue
		}
		tm.logger.Info("recovered tenant", slog.String("tenant_id", t.ID.String()))
	}
	return nil
}

func (tm *TenantManager) startLocked(t model.Tenant) error {
	if _, exists := tm.tenants[t.ID]; exists {
		return nil
	}

	workers := t.Concurrency
	if workers <= 0 {
		workers = tm.defaultWorkers
	}
	ctx, cancel := context.WithCancel(context.Background())
	rt := &tenantRuntime{
		pool:   worker.NewWorkerPool(t.ID.String(), workers, tm.base),
		ctx:    ctx,
		cancel: cancel,
	}
	rt.pool.Start()

	if tm.rabbit != nil {
		if err := tm.rabbit.DeclareQueue(t.ID.String()); err != nil {
			cancel()
			rt.pool.Stop()
			return err
		}
		c, err := consumer.StartConsumer(tm.rabbit.GetConnection(), t.ID.String(), workers,
			func(tenantID string, d amqp.Delivery) { tm.handleDelivery(rt, tenantID, d) }, tm.base)
		if err != nil {
			cancel()
			rt.pool.Stop()
			return err
		}
		rt.consumer = c
	}

	tm.tenants[t.ID] = rt
	return nil
}

// RemoveTenant stops the runtime and deletes the queue. Stored rows are kept.
func (tm *TenantManager) RemoveTenant(tenantID uuid.UUID) error {
	tm.mu.Lock()
	rt, exists := tm.tenants[tenantID]
	delete(tm.tenants, tenantID)
	tm.mu.Unlock()
	if !exists {
		return nil // nothing to remove
	}

	tm.stopRuntime(rt)
	if tm.rabbit != nil {
		if err := tm.rabbit.DeleteQueue(tenantID.String()); err != nil {
			tm.logger.Warn("failed to delete queue", slog.String("tenant_id", tenantID.String()), slog.Any("error", err))
		}
	}
	tm.logger.Info("tenant removed", slog.String("tenant_id", tenantID.String()))
	return nil
}

func (tm *TenantManager) stopRuntime(rt *tenantRuntime) {
	rt.cancel()
	if rt.consumer != nil {
		rt.consumer.Stop()
	}
	rt.pool.Stop()
	if rt.consumer != nil {
		rt.consumer.Close()
	}
}

// ShutdownAll stops every tenant runtime, letting running tasks finish.
func (tm *TenantManager) ShutdownAll() {
	tm.mu.Lock()
	runtimes := tm.tenants
	tm.tenants = make(map[uuid.UUID]*tenantRuntime)
	tm.mu.Unlock()

	for id, rt := range runtimes {
		tm.stopRuntime(rt)
		tm.logger.Info("stopped tenant", slog.String("tenant_id", id.String()))
	}
}

// ListTenantIDs returns all currently running tenant UUIDs
func (tm *TenantManager) ListTenantIDs() []string {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	ids := make([]string, 0, len(tm.tenants))
	for id := range tm.tenants {
		ids = append(ids, id.String())
	}
	return ids
}

func (tm *TenantManager) SetWorkerCount(ctx context.Context, tenantID uuid.UUID, n int) error {
	if n <= 0 {
		return fmt.Errorf("worker count must be positive, got %d", n)
	}
	rt, err := tm.runtime(ctx, tenantID)
	if err != nil {
		return err
	}
	rt.pool.SetWorkerCount(n)

	if err := tm.storage.UpdateTenantConcurrency(ctx, tenantID, n); err != nil {
		return fmt.Errorf("failed to persist concurrency: %w", err)
	}
	return nil
}

// Dispatch queues an auto-reply task for its tenant. With RabbitMQ it is
// published to the tenant queue; otherwise it waits for a free worker until ctx is done.
func (tm *TenantManager) Dispatch(ctx context.Context, task autoreply.Task) error {
	rt, err := tm.runtime(ctx, task.TenantID)
	if err != nil {
		return err
	}
	if tm.rabbit != nil {
		return tm.rabbit.PublishJSON(task.TenantID.String(), task)
	}
	return rt.pool.Submit(ctx, func() {
		_ = tm.run(task)
	})
}

// runtime returns the tenant's runtime, starting it on first use. Tenants
// provisioned by another process are picked up this way.
func (tm *TenantManager) runtime(ctx context.Context, tenantID uuid.UUID) (*tenantRuntime, error) {
	tm.mu.RLock()
	rt, ok := tm.tenants[tenantID]
	tm.mu.RUnlock()
	if ok {
		return rt, nil
	}

	t, err := tm.storage.GetTenant(ctx, tenantID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrTenantNotFound, tenantID)
	}
	if err != nil {
		return nil, err
	}

	tm.mu.Lock()
	defer tm.mu.Unlock()
	if err := tm.startLocked(t); err != nil {
		return nil, err
	}
	return tm.tenants[tenantID], nil
}

func (tm *TenantManager) run(task autoreply.Task) error {
	return tm.handler(context.Background(), task)
}

// handleDelivery is the consumer callback. Undecodable or failed tasks are
// dead-lettered; tasks that could not be scheduled are requeued.
func (tm *TenantManager) handleDelivery(rt *tenantRuntime, tenantID string, d amqp.Delivery) {
	log := tm.logger.With(slog.String("tenant_id", tenantID))

	var task autoreply.Task
	if err := json.Unmarshal(d.Body, &task); err != nil || task.TenantID.String() != tenantID {
		log.Warn("dead-lettering malformed task", slog.Any("error", err))
		_ = d.Reject(false)
		return
	}

	err := rt.pool.Submit(rt.ctx, func() {
		if err := tm.run(task); err != nil {
			_ = d.Reject(false)
			return
		}
		_ = d.Ack(false)
	})
	if err != nil {
		log.Info("requeueing task", slog.Any("error", err))
		_ = d.Nack(false, true)
	}
}

// MonitorQueueDepth refreshes the queue depth gauge until ctx is done.
func (tm *TenantManager) MonitorQueueDepth(ctx context.Context, interval time.Duration) {
	if tm.rabbit == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, tenantID := range tm.ListTenantIDs() {
				tm.rabbit.UpdateQueueDepth(tenantID)
			}
		}
	}
}

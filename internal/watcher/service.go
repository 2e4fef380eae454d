// Package watcher wires the registry, scheduler, event bus, execution engine
// and history store into one running service.
package watcher

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"k8s.io/utils/clock"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/djlord-it/easy-watcher/internal/actions"
	"github.com/djlord-it/easy-watcher/internal/api"
	"github.com/djlord-it/easy-watcher/internal/circuitbreaker"
	"github.com/djlord-it/easy-watcher/internal/condition"
	"github.com/djlord-it/easy-watcher/internal/config"
	"github.com/djlord-it/easy-watcher/internal/domain"
	"github.com/djlord-it/easy-watcher/internal/engine"
	"github.com/djlord-it/easy-watcher/internal/history"
	"github.com/djlord-it/easy-watcher/internal/input"
	"github.com/djlord-it/easy-watcher/internal/mail"
	"github.com/djlord-it/easy-watcher/internal/metrics"
	"github.com/djlord-it/easy-watcher/internal/provisioner"
	"github.com/djlord-it/easy-watcher/internal/registry"
	"github.com/djlord-it/easy-watcher/internal/schedule"
	"github.com/djlord-it/easy-watcher/internal/scheduler"
	"github.com/djlord-it/easy-watcher/internal/storage"
	"github.com/djlord-it/easy-watcher/internal/transport/channel"
)

var (
	ErrNotTimeWarp    = errors.New("service is not running in time-warp mode")
	ErrAlreadyStarted = errors.New("service already started")
)

// Deps are the collaborators the service does not build from config.
type Deps struct {
	// Backend stores history partitions. Required.
	Backend storage.Backend

	// Mail delivers email actions. Nil builds an SMTP transport from the
	// configured email accounts.
	Mail actions.Transport

	// Webhooks sends webhook actions. Nil uses the HTTP sender.
	Webhooks actions.WebhookSender

	Metrics   metrics.Sink         // optional, nil = no-op sink
	Analytics engine.AnalyticsSink // optional, nil = disabled

	// Clock is the virtual clock used in time-warp mode. Nil starts one at
	// the current wall time.
	Clock *clocktesting.FakeClock
}

type Service struct {
	cfg    config.Config
	logger *zap.SugaredLogger

	registry    *registry.Registry
	actions     *actions.Registry
	bus         *channel.EventBus
	scheduler   *scheduler.Scheduler
	warp        *scheduler.TimeWarp // nil unless time-warp mode
	engine      *engine.Engine
	runner      *engine.Runner
	history     *history.Store
	provisioner *provisioner.Provisioner
	handler     *api.Handler

	mu              sync.Mutex
	started         bool
	cancelScheduler context.CancelFunc
	cancelProvision context.CancelFunc
	cancelRunner    context.CancelFunc
	schedulerWg     sync.WaitGroup
	provisionWg     sync.WaitGroup
	runnerWg        sync.WaitGroup
}

// New builds every component from cfg. Nothing runs until Start.
func New(cfg config.Config, deps Deps, logger *zap.SugaredLogger) (*Service, error) {
	if deps.Backend == nil {
		return nil, errors.New("watcher: history backend is required")
	}

	var clk clock.WithTicker = clock.RealClock{}
	var fake *clocktesting.FakeClock
	if cfg.TimeWarp {
		fake = deps.Clock
		if fake == nil {
			fake = clocktesting.NewFakeClock(time.Now())
		}
		clk = fake
	}

	transport := deps.Mail
	defaultAccount := cfg.EmailDefaultAccount
	if transport == nil {
		svc, err := mail.NewService(mailAccounts(cfg.EmailAccounts), cfg.EmailDefaultAccount)
		if err != nil {
			return nil, errors.Wrap(err, "watcher: email accounts")
		}
		transport = svc
		defaultAccount = svc.DefaultAccount()
	}

	sender := deps.Webhooks
	if sender == nil {
		sender = actions.NewHTTPWebhookSender()
	}

	sink := deps.Metrics
	if sink == nil {
		sink = metrics.NewNoopSink()
	}

	s := &Service{cfg: cfg, logger: logger}

	s.registry = registry.New(schedule.NewEvaluator()).WithClock(clk)

	policy := history.DefaultRetryPolicy()
	if cfg.HistoryRetryAttempts > 0 {
		policy.Attempts = cfg.HistoryRetryAttempts
	}
	if cfg.HistoryRetryInitialBackoff > 0 {
		policy.InitialBackoff = cfg.HistoryRetryInitialBackoff
	}
	if cfg.HistoryRetryMaxBackoff > 0 {
		policy.MaxBackoff = cfg.HistoryRetryMaxBackoff
	}
	s.history = history.NewStore(deps.Backend, logger.Named("history")).WithRetryPolicy(policy)

	s.bus = channel.NewEventBus(cfg.EventBusBufferSize, channel.WithMetrics(sink))

	s.scheduler = scheduler.New(
		scheduler.Config{TickInterval: cfg.TickInterval},
		s.registry,
		schedule.NewEvaluator(),
		s.bus,
		logger.Named("scheduler"),
	)
	if fake != nil {
		s.warp = scheduler.NewTimeWarp(s.scheduler, fake)
	}

	webhooks := actions.NewWebhookExecutor(sender)
	if cfg.CircuitBreakerThreshold > 0 {
		webhooks = webhooks.WithCircuitBreaker(circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown).WithClock(clk))
	}

	s.actions = actions.NewRegistry(logger.Named("actions")).WithClock(clk)
	s.actions.Register(actions.NewEmailExecutor(transport, defaultAccount))
	s.actions.Register(webhooks)
	s.actions.Register(actions.NewIndexExecutor(deps.Backend))
	s.actions.Register(actions.NewLoggingExecutor(logger.Named("watch")))

	s.engine = engine.New(
		s.registry,
		input.NewDefaultRegistry(),
		condition.NewDefaultRegistry(),
		s.actions,
		s.history,
		logger.Named("engine"),
	).WithClock(clk)
	if deps.Analytics != nil {
		s.engine = s.engine.WithAnalytics(deps.Analytics)
	}
	s.runner = engine.NewRunner(s.engine, logger.Named("engine")).WithDrainTimeout(cfg.DrainTimeout)

	s.provisioner = provisioner.New(
		provisioner.Config{Interval: cfg.ProvisionInterval, LookaheadDays: cfg.ProvisionLookaheadDays},
		s.history,
		logger.Named("provisioner"),
	).WithClock(clk)

	s.handler = api.NewHandler(s.registry, s.history, logger.Named("api")).
		WithScheduler(s.scheduler).
		WithHealthChecker(deps.Backend)

	s.history.WithMetrics(sink)
	s.scheduler.WithMetrics(sink)
	s.engine.WithMetrics(sink)
	s.provisioner.WithMetrics(sink)
	s.actions.WithMetrics(sink)
	webhooks.WithMetrics(sink)

	return s, nil
}

func mailAccounts(in []config.EmailAccount) []mail.Account {
	out := make([]mail.Account, len(in))
	for i, a := range in {
		out[i] = mail.Account{
			ID:       a.ID,
			Host:     a.Host,
			Port:     a.Port,
			Username: a.User,
			Password: a.Password,
			Auth:     a.Auth,
			TLS:      a.TLS,
			From:     a.From,
			Timeout:  a.Timeout,
		}
	}
	return out
}

func (s *Service) Registry() *registry.Registry { return s.registry }

func (s *Service) History() *history.Store { return s.history }

// Handler serves the read-only HTTP API.
func (s *Service) Handler() http.Handler { return s.handler }

// LoadWatches registers every watch definition under dir.
func (s *Service) LoadWatches(dir string) (int, error) {
	n, err := registry.LoadInto(s.registry, dir)
	if err != nil {
		return 0, err
	}
	s.logger.Infow("watcher: watches loaded", "dir", dir, "count", n)
	return n, nil
}

// RemoveWatch unregisters id. Executions already running complete and are
// recorded; the scheduler drops the watch on its next tick.
func (s *Service) RemoveWatch(id string) error {
	if err := s.registry.Delete(id); err != nil {
		return err
	}
	s.actions.Forget(id)
	return nil
}

// Start provisions the current partitions, then runs the engine, the
// scheduler (unless time-warped) and the provisioner in the background.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}

	if err := s.provisioner.RunCycle(ctx); err != nil {
		return errors.Wrap(err, "watcher: initial partition provisioning")
	}

	var runnerCtx, schedulerCtx context.Context
	runnerCtx, s.cancelRunner = context.WithCancel(context.WithoutCancel(ctx))
	schedulerCtx, s.cancelScheduler = context.WithCancel(context.WithoutCancel(ctx))

	s.runnerWg.Add(1)
	go func() {
		defer s.runnerWg.Done()
		s.runner.Run(runnerCtx, s.bus.Channel())
	}()

	if s.warp == nil {
		s.schedulerWg.Add(1)
		go func() {
			defer s.schedulerWg.Done()
			if err := s.scheduler.Run(schedulerCtx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Errorw("watcher: scheduler stopped with error", "error", err)
			}
		}()
	}

	if s.cfg.ProvisionEnabled {
		var provisionCtx context.Context
		provisionCtx, s.cancelProvision = context.WithCancel(context.WithoutCancel(ctx))
		s.provisionWg.Add(1)
		go func() {
			defer s.provisionWg.Done()
			s.provisioner.Run(provisionCtx)
		}()
	}

	s.started = true
	s.logger.Infow("watcher: started",
		"watches", s.registry.Len(),
		"tick", s.cfg.TickInterval,
		"time_warp", s.warp != nil,
		"provision", s.cfg.ProvisionEnabled)
	return nil
}

// Stop shuts down in order: the scheduler stops emitting, the provisioner
// stops, then the engine drains buffered events and waits for running
// executions.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}

	s.logger.Infow("watcher: stopping scheduler")
	s.cancelScheduler()
	s.schedulerWg.Wait()

	if s.cancelProvision != nil {
		s.logger.Infow("watcher: stopping provisioner")
		s.cancelProvision()
		s.provisionWg.Wait()
	}

	s.logger.Infow("watcher: stopping engine (draining events)")
	s.cancelRunner()
	s.runnerWg.Wait()

	s.started = false
	s.logger.Infow("watcher: stopped")
}

// Advance moves virtual time forward by d, firing every watch that falls
// due on the way. It returns the number of events emitted.
func (s *Service) Advance(ctx context.Context, d time.Duration) (int, error) {
	if s.warp == nil {
		return 0, ErrNotTimeWarp
	}
	return s.warp.Advance(ctx, d), nil
}

// Trigger emits a manual event for watchID through the event bus.
func (s *Service) Trigger(ctx context.Context, watchID string) (domain.TriggerEvent, error) {
	if s.warp != nil {
		return s.warp.Trigger(ctx, watchID)
	}
	return s.scheduler.Trigger(ctx, watchID)
}

// ExecuteNow runs watchID synchronously on the caller's goroutine, outside
// the event bus and the per-watch lanes, and returns the stored record.
func (s *Service) ExecuteNow(ctx context.Context, watchID string) (*domain.WatchRecord, error) {
	now := s.now()
	event := domain.TriggerEvent{
		ID:            uuid.New(),
		WatchID:       watchID,
		ScheduledTime: now,
		TriggeredTime: now,
		Manual:        true,
	}
	if err := s.history.EnsurePartition(ctx, history.PartitionName(now)); err != nil {
		return nil, err
	}
	return s.engine.Execute(ctx, event)
}

func (s *Service) now() time.Time {
	if s.warp != nil {
		return s.warp.Now()
	}
	return time.Now()
}

// Package service provides the progression service that implements the
// operations required by the HTTP API.
package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	auditqueue "github.com/okian/bitgalaxy/internal/adapters/mq/queue"
	auditworker "github.com/okian/bitgalaxy/internal/adapters/mq/worker"
	"github.com/okian/bitgalaxy/internal/adapters/repository"
	"github.com/okian/bitgalaxy/internal/domain/dedupe"
	"github.com/okian/bitgalaxy/internal/domain/model"
	"github.com/okian/bitgalaxy/pkg/logger"
	"github.com/okian/bitgalaxy/pkg/metrics"
)

const tracerName = "github.com/okian/bitgalaxy/internal/app"

// Default service configuration.
const (
	defaultAuditQueueSize = 10_000
	defaultAuditWorkers   = 4
	defaultDedupeSize     = 50_000
	defaultBaseXP         = 50
)

// SessionMinter mints player session tokens.
type SessionMinter interface {
	Mint(s model.Session) (string, error)
}

// ArcadeQuest is the definition materialized the first time an arcade quest
// is completed in an org.
type ArcadeQuest struct {
	Title           string
	Description     string
	XP              int
	ScoreThresholds []int
}

// ArcadeDefaults configures arcade quests that have no stored definition.
type ArcadeDefaults struct {
	BaseXP int
	Quests map[string]ArcadeQuest
}

// Service implements the API dependencies of the progression engine.
type Service struct {
	mu sync.RWMutex

	// Core components
	players  repository.PlayerStore
	catalog  repository.QuestCatalog
	sink     repository.AuditSink
	deduper  dedupe.Deduper
	sessions SessionMinter

	// Audit pipeline, created on Start
	auditQueue *auditqueue.InMemoryQueue
	auditPool  *auditworker.Pool

	// Configuration
	arcade         ArcadeDefaults
	retryOpts      []repository.RetryOption
	auditQueueSize int
	auditWorkers   int
	now            func() time.Time

	// State
	started   bool
	runCancel context.CancelFunc

	logger logger.Logger
	tracer trace.Tracer
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithPlayers sets the player store. It is wrapped with conflict retries.
func WithPlayers(store repository.PlayerStore) Option {
	return func(s *Service) {
		if store != nil {
			s.players = store
		}
	}
}

// WithCatalog sets the quest catalog.
func WithCatalog(catalog repository.QuestCatalog) Option {
	return func(s *Service) {
		if catalog != nil {
			s.catalog = catalog
		}
	}
}

// WithAudit sets the sink the audit workers write to.
func WithAudit(sink repository.AuditSink) Option {
	return func(s *Service) {
		if sink != nil {
			s.sink = sink
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(logger logger.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source used for week keys and timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRetry configures the optimistic-concurrency retries of player updates.
func WithRetry(maxAttempts int, baseBackoff time.Duration) Option {
	return func(s *Service) {
		s.retryOpts = append(s.retryOpts,
			repository.WithMaxAttempts(maxAttempts),
			repository.WithBaseBackoff(baseBackoff),
		)
	}
}

// WithArcadeDefaults sets the arcade quest defaults.
func WithArcadeDefaults(defaults ArcadeDefaults) Option {
	return func(s *Service) {
		if defaults.BaseXP > 0 {
			s.arcade.BaseXP = defaults.BaseXP
		}
		for id, q := range defaults.Quests {
			s.arcade.Quests[id] = q
		}
	}
}

// WithDeduper sets the run-id deduper.
func WithDeduper(d dedupe.Deduper) Option {
	return func(s *Service) {
		if d != nil {
			s.deduper = d
		}
	}
}

// WithSessions enables session minting on lookup and join.
func WithSessions(m SessionMinter) Option {
	return func(s *Service) {
		if m != nil {
			s.sessions = m
		}
	}
}

// WithAuditQueueSize sets the capacity of the audit queue.
func WithAuditQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.auditQueueSize = size
		}
	}
}

// WithAuditWorkers sets the number of audit workers.
func WithAuditWorkers(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.auditWorkers = count
		}
	}
}

// New constructs a new Service. Without stores it runs on a fresh in-memory
// store.
func New(opts ...Option) *Service {
	s := &Service{
		arcade:         ArcadeDefaults{BaseXP: defaultBaseXP, Quests: map[string]ArcadeQuest{}},
		auditQueueSize: defaultAuditQueueSize,
		auditWorkers:   defaultAuditWorkers,
		now:            time.Now,
		logger:         logger.NewNop(),
		tracer:         otel.Tracer(tracerName),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.players == nil || s.catalog == nil {
		mem := repository.NewMemoryStore()
		if s.players == nil {
			s.players = mem
		}
		if s.catalog == nil {
			s.catalog = mem
		}
		if s.sink == nil {
			s.sink = mem
		}
	}
	if s.sink == nil {
		s.sink = repository.NewLogSink(s.logger.Named("audit"))
	}
	if s.deduper == nil {
		s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(defaultDedupeSize))
	}
	s.players = repository.WithRetry(s.players, s.retryOpts...)

	return s
}

// Start initializes and starts the audit pipeline.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	s.logger.Info(ctx, "starting progression service...")

	s.auditQueue = auditqueue.NewInMemoryQueue(auditqueue.WithCapacity(s.auditQueueSize))
	s.auditPool = auditworker.NewPool(s.auditWorkers, s.auditQueue, s.sink,
		auditworker.WithLogger(s.logger.Named("audit")),
	)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.runCancel = cancel
	s.auditPool.Start(runCtx)

	s.started = true
	s.logger.Info(ctx, "progression service started",
		logger.Int("auditWorkers", s.auditWorkers),
		logger.Int("auditQueueSize", s.auditQueueSize),
	)

	return nil
}

// Stop gracefully shuts down the service, draining queued audit records.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	ctx := context.Background()
	s.logger.Info(ctx, "stopping progression service...")

	if s.auditPool != nil {
		if err := s.auditPool.Shutdown(ctx); err != nil {
			s.logger.Warn(ctx, "audit pool shutdown incomplete", logger.Error(err))
		}
	}
	if s.runCancel != nil {
		s.runCancel()
	}

	s.started = false
	s.logger.Info(ctx, "progression service stopped",
		logger.Int64("auditWritten", s.auditPool.Written()),
		logger.Int64("auditFailed", s.auditPool.Failed()),
	)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":        s.started,
		"auditWorkers":   s.auditWorkers,
		"auditQueueSize": s.auditQueueSize,
		"dedupeSize":     s.deduper.Size(),
	}

	if counter, ok := unwrapPlayers(s.players).(interface{ Count() int }); ok {
		stats["totalPlayers"] = counter.Count()
	}

	if s.started {
		queueLen := s.auditQueue.Len()
		stats["auditQueueLength"] = queueLen
		stats["auditWritten"] = s.auditPool.Written()
		stats["auditFailed"] = s.auditPool.Failed()

		metrics.UpdateAuditQueueSize(queueLen)
	}

	return stats
}

func unwrapPlayers(store repository.PlayerStore) repository.PlayerStore {
	if r, ok := store.(*repository.RetryStore); ok {
		return r.PlayerStore
	}
	return store
}

// audit enqueues rec for the audit workers. Records are dropped when the
// service is not started or the queue is full.
func (s *Service) audit(ctx context.Context, rec model.AuditRecord) {
	rec.ID = uuid.NewString()
	rec.CreatedAt = s.now().UTC()

	s.mu.RLock()
	q := s.auditQueue
	s.mu.RUnlock()

	if q == nil {
		metrics.RecordAuditDropped()
		s.logger.Debug(ctx, "audit pipeline not started, record dropped",
			logger.String("eventType", rec.EventType))
		return
	}
	// The queue counts its own drops and enqueues.
	if err := q.Enqueue(ctx, rec); err != nil {
		s.logger.Warn(ctx, "audit record dropped",
			logger.String("eventType", rec.EventType),
			logger.String("userId", rec.UserID),
			logger.Error(err),
		)
		return
	}
}

// startSpan opens a span for op. end records err on the span before ending it.
func (s *Service) startSpan(ctx context.Context, op string) (context.Context, func(err error)) {
	ctx, span := s.tracer.Start(ctx, "service."+op)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

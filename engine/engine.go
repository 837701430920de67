package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	gu "github.com/xraph/go-utils/metrics"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	dispatch "github.com/CorbanSy/PropDash-sub000"
	"github.com/CorbanSy/PropDash-sub000/backoff"
	"github.com/CorbanSy/PropDash-sub000/coordinator"
	"github.com/CorbanSy/PropDash-sub000/cron"
	"github.com/CorbanSy/PropDash-sub000/ext"
	"github.com/CorbanSy/PropDash-sub000/id"
	"github.com/CorbanSy/PropDash-sub000/job"
	mw "github.com/CorbanSy/PropDash-sub000/middleware"
	"github.com/CorbanSy/PropDash-sub000/observability"
	"github.com/CorbanSy/PropDash-sub000/queue"
	"github.com/CorbanSy/PropDash-sub000/ranking"
	"github.com/CorbanSy/PropDash-sub000/store"
	"github.com/CorbanSy/PropDash-sub000/stream"
	"github.com/CorbanSy/PropDash-sub000/task"
	"github.com/CorbanSy/PropDash-sub000/worker"
)

// SweepEntry is the name of the cron entry that runs the expiry sweep.
const SweepEntry = "expiry-sweep"

// DefaultTaskTimeout bounds a single dispatch, expire or sweep task.
const DefaultTaskTimeout = 30 * time.Second

// Engine wires a Dispatcher to its subsystems.
// Use Build() to create one from a Dispatcher.
type Engine struct {
	d          *dispatch.Dispatcher
	store      store.Store
	extensions *ext.Registry
	ranker     *ranking.Ranker
	coord      *coordinator.Coordinator
	pool       *worker.Pool
	timers     *worker.Timers
	scheduler  *cron.Scheduler
	broker     *stream.Broker
	logger     *slog.Logger

	bo          backoff.Strategy
	clock       clockwork.Clock
	weights     *ranking.Weights
	mws         []mw.Middleware
	taskTimeout time.Duration
	withBroker  bool

	queueConfigs []queue.Config
	queueManager *queue.Manager

	// Optional providers; nil means the globals.
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	metricFactory  gu.MetricFactory
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) { eng.extensions.Register(e) }
}

// WithMiddleware appends middleware to the task chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) { eng.mws = append(eng.mws, m) }
}

// WithBackoff sets the claim retry backoff. Default is
// backoff.DefaultStrategy().
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) { eng.bo = b }
}

// WithClock sets the time source for the coordinator, timers and sweep.
func WithClock(c clockwork.Clock) Option {
	return func(eng *Engine) { eng.clock = c }
}

// WithWeights overrides the ranking weights.
func WithWeights(w ranking.Weights) Option {
	return func(eng *Engine) { eng.weights = &w }
}

// WithTaskTimeout bounds each background task.
func WithTaskTimeout(d time.Duration) Option {
	return func(eng *Engine) { eng.taskTimeout = d }
}

// WithQueueConfig registers per-kind admission limits.
func WithQueueConfig(configs ...queue.Config) Option {
	return func(eng *Engine) { eng.queueConfigs = append(eng.queueConfigs, configs...) }
}

// WithStreamBroker enables the realtime broker. Offer events then reach
// provider topics, which the DWP server and bridge listeners consume.
func WithStreamBroker() Option {
	return func(eng *Engine) { eng.withBroker = true }
}

// WithTracerProvider sets the OTel TracerProvider for the tracing
// middleware.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) { eng.tracerProvider = tp }
}

// WithMeterProvider sets the OTel MeterProvider for the metrics
// middleware.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) { eng.meterProvider = mp }
}

// WithMetricFactory sets the factory for the lifecycle counters.
func WithMetricFactory(f gu.MetricFactory) Option {
	return func(eng *Engine) { eng.metricFactory = f }
}

// Build creates an Engine from an existing Dispatcher. The Dispatcher's
// store must implement store.Store.
func Build(d *dispatch.Dispatcher, opts ...Option) (*Engine, error) {
	logger := d.Logger()
	if d.Store() == nil {
		return nil, dispatch.ErrNoStore
	}
	s, ok := d.Store().(store.Store)
	if !ok {
		return nil, errors.New("dispatch: store does not implement store.Store")
	}

	eng := &Engine{
		d:           d,
		store:       s,
		extensions:  ext.NewRegistry(logger),
		logger:      logger,
		clock:       clockwork.NewRealClock(),
		taskTimeout: DefaultTaskTimeout,
	}
	for _, opt := range opts {
		opt(eng)
	}
	if eng.bo == nil {
		eng.bo = backoff.DefaultStrategy()
	}
	cfg := d.Config()

	// Lifecycle counters.
	var obsExt *observability.MetricsExtension
	if eng.metricFactory != nil {
		obsExt = observability.NewMetricsExtensionWithFactory(eng.metricFactory)
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)

	if eng.withBroker {
		eng.broker = stream.NewBroker(logger)
		eng.extensions.Register(eng.broker)
	}

	// Ranking.
	rankOpts := []ranking.Option{ranking.WithMaxCandidates(cfg.MaxCandidates)}
	if eng.weights != nil {
		if err := eng.weights.Validate(); err != nil {
			return nil, fmt.Errorf("dispatch: %w", err)
		}
		rankOpts = append(rankOpts, ranking.WithWeights(*eng.weights))
	}
	eng.ranker = ranking.New(s, rankOpts...)

	eng.coord = coordinator.New(s, eng.ranker,
		coordinator.WithConfig(cfg),
		coordinator.WithClock(eng.clock),
		coordinator.WithBackoff(eng.bo),
		coordinator.WithExtensions(eng.extensions),
		coordinator.WithLogger(logger),
	)

	// Default chain: recover → tracing → metrics → logging → timeout.
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer("github.com/CorbanSy/PropDash-sub000"))
	} else {
		tracingMw = mw.Tracing()
	}
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter("github.com/CorbanSy/PropDash-sub000"))
	} else {
		metricsMw = mw.Metrics()
	}
	allMws := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
		mw.Timeout(eng.taskTimeout),
	}
	allMws = append(allMws, eng.mws...)

	executor := worker.NewExecutor(eng.coord, logger, allMws...)
	poolOpts := []worker.PoolOption{
		worker.WithConcurrency(cfg.Concurrency),
		worker.WithClock(eng.clock),
	}
	if len(eng.queueConfigs) > 0 {
		eng.queueManager = queue.NewManager(eng.queueConfigs...)
		poolOpts = append(poolOpts, worker.WithAdmission(eng.queueManager))
	}
	eng.pool = worker.NewPool(executor, logger, poolOpts...)

	eng.timers = worker.NewTimers(eng.pool, eng.clock, logger)
	eng.coord.SetArmer(eng.timers)

	eng.scheduler = cron.NewScheduler(eng.pool, logger, cron.WithClock(eng.clock))
	if err := eng.scheduler.Register(SweepEntry, cfg.SweepSchedule, task.KindSweep); err != nil {
		return nil, fmt.Errorf("dispatch: sweep schedule: %w", err)
	}

	d.SetPool(eng.pool)
	d.SetExtensions(eng.extensions)
	return eng, nil
}

// PostJob stores a new job and queues its dispatch. The run starts on a
// worker; the returned job is still open.
func (eng *Engine) PostJob(ctx context.Context, j *job.Job) (*job.Job, error) {
	if err := eng.store.CreateJob(ctx, j); err != nil {
		return nil, err
	}
	if err := eng.SubmitDispatch(j); err != nil {
		// The job exists; a later dispatch call or the API retries it.
		eng.logger.Warn("dispatch not queued",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
	}
	return j, nil
}

// SubmitDispatch queues a dispatch task for j.
func (eng *Engine) SubmitDispatch(j *job.Job) error {
	return eng.pool.Submit(task.Dispatch(j.ID, j.CustomerID.String(), eng.clock.Now()))
}

// Dispatch runs the job's dispatch on the calling goroutine. Calling it
// again for the same job reports the existing run.
func (eng *Engine) Dispatch(ctx context.Context, jobID id.JobID) (*coordinator.Result, error) {
	return eng.coord.Dispatch(ctx, jobID)
}

// Start runs the sweep schedule and the worker pool. Offers still pending
// from a previous process are left to the sweep.
func (eng *Engine) Start(ctx context.Context) error {
	if err := eng.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start cron scheduler: %w", err)
	}
	return eng.d.Start(ctx)
}

// Stop halts the schedule and timers, drains the pool and closes the
// store.
func (eng *Engine) Stop(ctx context.Context) error {
	if err := eng.scheduler.Stop(ctx); err != nil {
		eng.logger.Error("cron scheduler stop error", slog.String("error", err.Error()))
	}
	eng.timers.StopAll()
	return eng.d.Stop(ctx)
}

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Dispatcher returns the underlying Dispatcher.
func (eng *Engine) Dispatcher() *dispatch.Dispatcher { return eng.d }

// Store returns the store.
func (eng *Engine) Store() store.Store { return eng.store }

// Coordinator returns the dispatch coordinator.
func (eng *Engine) Coordinator() *coordinator.Coordinator { return eng.coord }

// Ranker returns the candidate ranker.
func (eng *Engine) Ranker() *ranking.Ranker { return eng.ranker }

// Pool returns the worker pool.
func (eng *Engine) Pool() *worker.Pool { return eng.pool }

// Timers returns the offer deadline timers.
func (eng *Engine) Timers() *worker.Timers { return eng.timers }

// Scheduler returns the cron scheduler.
func (eng *Engine) Scheduler() *cron.Scheduler { return eng.scheduler }

// StreamBroker returns the realtime broker, or nil unless
// WithStreamBroker was given.
func (eng *Engine) StreamBroker() *stream.Broker { return eng.broker }

// QueueManager returns the admission manager, or nil without queue
// configs.
func (eng *Engine) QueueManager() *queue.Manager { return eng.queueManager }

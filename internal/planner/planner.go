// Package planner runs plan-generation jobs: it sends an opportunity payload
// upstream, recovers a plan from the response, reconciles it against the
// payload and persists every state change in the job store.
package planner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/opportunity-planner/internal/config"
	"github.com/sells-group/opportunity-planner/internal/cost"
	"github.com/sells-group/opportunity-planner/internal/model"
	"github.com/sells-group/opportunity-planner/internal/payload"
	"github.com/sells-group/opportunity-planner/internal/reconcile"
	"github.com/sells-group/opportunity-planner/internal/recovery"
	"github.com/sells-group/opportunity-planner/internal/resilience"
	"github.com/sells-group/opportunity-planner/internal/store"
	"github.com/sells-group/opportunity-planner/pkg/anthropic"
)

var (
	// ErrEmptyOpportunitySet rejects a submission with no records.
	ErrEmptyOpportunitySet = eris.New("planner: empty opportunity set")
	// ErrInvalidPayload rejects a payload whose driver impacts do not add up
	// to its monthly revenue delta.
	ErrInvalidPayload = eris.New("planner: invalid payload")
	// ErrJobNotFound is returned by Status for unknown job ids.
	ErrJobNotFound = eris.New("planner: job not found")

	errUpstreamTimeout = eris.New("planner: upstream timed out")
)

// Options configures a Planner.
type Options struct {
	Model      string
	MaxTokens  int64
	CacheTTL   string
	Timeout    time.Duration
	RateLimit  float64
	Burst      int
	Retry      resilience.RetryConfig
	Circuit    resilience.CircuitBreakerConfig
	Tolerances reconcile.Tolerances
	Rates      cost.Rates
	Payload    payload.Options
}

// OptionsFromConfig maps application config onto planner options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Model:      cfg.Anthropic.Model,
		MaxTokens:  cfg.Anthropic.MaxTokens,
		CacheTTL:   cfg.Anthropic.CacheTTL,
		Timeout:    cfg.Planner.Timeout(),
		RateLimit:  cfg.Planner.RateLimit,
		Burst:      cfg.Planner.Burst,
		Retry:      cfg.Retry.Policy(),
		Circuit:    cfg.Circuit.Breaker(),
		Tolerances: cfg.Reconcile,
		Rates:      cfg.Pricing.Rates(),
		Payload: payload.Options{
			IncludedDrivers: cfg.Planner.IncludedDrivers,
			DetailDrivers:   cfg.Planner.DetailDrivers,
		},
	}
}

// Planner owns the job lifecycle. Each job is processed by one goroutine and
// only that goroutine writes the job's key after submission.
type Planner struct {
	client    anthropic.Client
	store     store.Store
	opts      Options
	generator *payload.Generator
	validator *reconcile.Validator
	costCalc  *cost.Calculator
	limiter   *rate.Limiter
	breaker   *resilience.CircuitBreaker
	persist   resilience.RetryConfig

	nowFunc func() time.Time
	newID   func() string
	wg      sync.WaitGroup
}

// New creates a Planner.
func New(client anthropic.Client, st store.Store, opts Options) *Planner {
	if opts.Timeout <= 0 {
		opts.Timeout = 90 * time.Second
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 4096
	}
	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	if opts.Retry.OnRetry == nil {
		opts.Retry.OnRetry = resilience.RetryLogger("anthropic", "create_message")
	}

	var genOpts []payload.Option
	if opts.Payload.IncludedDrivers > 0 {
		genOpts = append(genOpts, payload.WithOptions(opts.Payload))
	}

	return &Planner{
		client:    client,
		store:     st,
		opts:      opts,
		generator: payload.New(genOpts...),
		validator: reconcile.New(opts.Tolerances),
		costCalc:  cost.NewCalculator(opts.Rates),
		limiter:   rate.NewLimiter(limit, opts.Burst),
		breaker:   resilience.NewCircuitBreaker(opts.Circuit),
		persist:   persistRetry(),
		nowFunc:   time.Now,
		newID:     uuid.NewString,
	}
}

// persistRetry retries store writes on any error except cancellation.
func persistRetry() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    4,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		Multiplier:     2,
		ShouldRetry: func(err error) bool {
			return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		},
		OnRetry: resilience.RetryLogger("store", "put_job"),
	}
}

// Breaker exposes the upstream circuit breaker for health reporting.
func (p *Planner) Breaker() *resilience.CircuitBreaker {
	return p.breaker
}

// Payload builds the opportunity payload for a set of records.
func (p *Planner) Payload(records []model.ServiceOpportunity, prefs model.PlanPreferences) (*model.OpportunityPayload, error) {
	pl := p.generator.Generate(records, prefs)
	if pl == nil {
		return nil, ErrEmptyOpportunitySet
	}
	return pl, nil
}

// Validate rejects payloads that cannot be planned: nil or empty payloads
// return ErrEmptyOpportunitySet and payloads whose figures do not reconcile
// return an error wrapping ErrInvalidPayload.
func (p *Planner) Validate(pl *model.OpportunityPayload) error {
	if pl == nil || pl.SummaryMetrics.ItemCount == 0 {
		return ErrEmptyOpportunitySet
	}
	if err := payload.CheckInvariant(pl); err != nil {
		return eris.Wrap(ErrInvalidPayload, err.Error())
	}
	return nil
}

// SubmitRecords generates a payload and submits it. An empty record set is
// rejected before anything is stored or sent.
func (p *Planner) SubmitRecords(ctx context.Context, records []model.ServiceOpportunity, prefs model.PlanPreferences) (*model.Job, error) {
	pl, err := p.Payload(records, prefs)
	if err != nil {
		return nil, err
	}
	return p.Submit(ctx, pl)
}

// Submit persists a pending job and processes it in the background. The job
// keeps running after ctx is cancelled; callers poll Status.
func (p *Planner) Submit(ctx context.Context, pl *model.OpportunityPayload) (*model.Job, error) {
	job, err := p.create(ctx, pl)
	if err != nil {
		return nil, err
	}

	snapshot := *job
	bg := context.WithoutCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		_ = p.process(bg, job)
	}()
	return &snapshot, nil
}

// Run processes a payload synchronously and returns the terminal job. An
// error is returned with the job when its terminal state could not be stored.
func (p *Planner) Run(ctx context.Context, pl *model.OpportunityPayload) (*model.Job, error) {
	job, err := p.create(ctx, pl)
	if err != nil {
		return nil, err
	}
	if err := p.process(context.WithoutCancel(ctx), job); err != nil {
		return job, err
	}
	return job, nil
}

// Wait blocks until every background job has reached a terminal state.
func (p *Planner) Wait() {
	p.wg.Wait()
}

// Status returns the stored job.
func (p *Planner) Status(ctx context.Context, id string) (*model.Job, error) {
	job, err := store.GetJob(ctx, p.store, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "planner: load job %s", id)
	}
	return job, nil
}

func (p *Planner) create(ctx context.Context, pl *model.OpportunityPayload) (*model.Job, error) {
	if err := p.Validate(pl); err != nil {
		return nil, err
	}
	now := p.nowFunc().UTC()
	job := &model.Job{
		ID:        p.newID(),
		Status:    model.JobStatusPending,
		Payload:   pl,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := store.PutJob(ctx, p.store, job); err != nil {
		return nil, eris.Wrap(err, "planner: persist pending job")
	}
	zap.L().Info("planner: job submitted",
		zap.String("job_id", job.ID),
		zap.Int("items", pl.SummaryMetrics.ItemCount),
		zap.String("financial_mode", string(pl.Metadata.FinancialMode)),
	)
	return job, nil
}

// process drives one job to a terminal state and persists it. The terminal
// write is retried so a stored job does not stay pending after a transient
// store failure.
func (p *Planner) process(ctx context.Context, job *model.Job) error {
	log := zap.L().With(zap.String("job_id", job.ID))
	start := p.nowFunc()

	req, err := p.buildRequest(job.Payload)
	if err != nil {
		p.fail(job, model.JobErrorInput, err, nil)
	} else {
		resp, attempts, callErr := p.call(ctx, req)
		job.Attempts = attempts
		if resp != nil {
			modelID := resp.Model
			if modelID == "" {
				modelID = req.Model
			}
			job.Usage = p.costCalc.Usage(modelID, resp.Usage)
			cost.Log(job.ID, job.Usage)
			if resp.Truncated() {
				log.Warn("planner: response hit the token budget", zap.Int64("max_tokens", req.MaxTokens))
			}
		}
		p.resolve(job, resp, callErr)
	}

	now := p.nowFunc().UTC()
	job.UpdatedAt = now
	job.CompletedAt = &now
	err = resilience.Do(ctx, p.persist, func(ctx context.Context) error {
		return store.PutJob(ctx, p.store, job)
	})
	if err != nil {
		log.Error("planner: persist terminal job", zap.String("status", string(job.Status)), zap.Error(err))
		return eris.Wrap(err, "planner: persist terminal job")
	}

	fields := []zap.Field{
		zap.String("status", string(job.Status)),
		zap.Int("attempts", job.Attempts),
		zap.Strings("repairs", job.Repairs),
		zap.Duration("elapsed", now.Sub(start)),
	}
	if job.Error != nil {
		fields = append(fields, zap.String("error_kind", string(job.Error.Kind)), zap.String("error", job.Error.Message))
	}
	if job.Plan != nil {
		fields = append(fields, zap.Bool("fallback", job.Plan.Fallback), zap.Int("findings", len(job.Plan.Validation)))
	}
	log.Info("planner: job finished", fields...)
	return nil
}

// call sends the request through the rate limiter, retry policy and circuit
// breaker, bounded by the job timeout. It returns the number of attempts made.
func (p *Planner) call(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, int, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	attempts := 0
	resp, err := resilience.DoVal(callCtx, p.opts.Retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "planner: rate limit wait")
		}
		attempts++
		return resilience.ExecuteVal(ctx, p.breaker, func(ctx context.Context) (*anthropic.MessageResponse, error) {
			return p.client.CreateMessage(ctx, req)
		})
	})
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		// A response that arrived after the deadline is discarded, but its
		// usage is still attributed.
		return resp, attempts, errUpstreamTimeout
	}
	return resp, attempts, err
}

// resolve maps the upstream outcome onto the job's terminal state.
func (p *Planner) resolve(job *model.Job, resp *anthropic.MessageResponse, err error) {
	switch {
	case err == nil:
		p.complete(job, resp.Text())
	case errors.Is(err, errUpstreamTimeout):
		job.Status = model.JobStatusComplete
		job.Plan = recovery.FallbackPlan(fmt.Sprintf("the upstream service did not respond within %s", p.opts.Timeout))
	case resilience.IsFatal(err):
		p.fail(job, model.JobErrorFatalUpstream, err, nil)
	case errors.Is(err, resilience.ErrCircuitOpen):
		p.fail(job, model.JobErrorTransientUpstream, err,
			recovery.FallbackPlan("the upstream service is unavailable; requests are paused after repeated failures"))
	default:
		p.fail(job, model.JobErrorTransientUpstream, err,
			recovery.FallbackPlan(fmt.Sprintf("the upstream service failed after %d attempts", job.Attempts)))
	}
}

// complete recovers and reconciles the response text.
func (p *Planner) complete(job *model.Job, text string) {
	res := recovery.Recover(text)
	job.Repairs = res.Repairs
	if len(res.Repairs) > 0 {
		zap.L().Debug("planner: recovery repairs applied",
			zap.String("job_id", job.ID),
			zap.Strings("repairs", res.Repairs),
			zap.String("stage", string(res.Stage)),
		)
	}

	if !res.OK() {
		p.fail(job, model.JobErrorRecovery, res.Failure,
			recovery.FallbackPlan(fmt.Sprintf("the response could not be recovered (%s)", res.Failure.Kind)))
		job.Error.RecoveryFailure = string(res.Failure.Kind)
		return
	}

	plan := res.Plan
	if !plan.Fallback {
		plan.Validation = p.validator.Reconcile(plan, job.Payload)
	}
	job.Status = model.JobStatusComplete
	job.Plan = plan
}

func (p *Planner) fail(job *model.Job, kind model.JobErrorKind, err error, fallback *model.GeneratedPlan) {
	job.Status = model.JobStatusError
	job.Plan = fallback
	job.Error = &model.JobError{
		Kind:       kind,
		Message:    err.Error(),
		StatusCode: resilience.StatusCode(err),
	}
}

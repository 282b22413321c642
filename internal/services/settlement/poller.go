// Package settlement follows submitted conversion jobs until the backend
// reports them completed or failed.
package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vadiminshakov/fxdesk/internal/clients"
	"github.com/vadiminshakov/fxdesk/internal/domain"
	"github.com/vadiminshakov/fxdesk/internal/events"
	"github.com/vadiminshakov/fxdesk/internal/storage/jobjournal"
	"github.com/vadiminshakov/fxdesk/pkg/retrier"
)

var (
	ErrJobFailed         = errors.New("conversion job failed")
	ErrSettlementTimeout = errors.New("conversion job did not settle in time")

	errNotSettled = errors.New("job not settled yet")
)

var settlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "fxdesk_settlements_total",
	Help: "Conversion jobs followed to an outcome",
}, []string{"outcome"})

const (
	defaultTimeout         = 30 * time.Second
	defaultInitialInterval = 500 * time.Millisecond
	defaultMaxInterval     = 5 * time.Second
	defaultResumeLimit     = 4
)

// JobFetcher is the part of the gateway client used for polling.
type JobFetcher interface {
	FetchJob(ctx context.Context, jobID, userID string) (domain.ConversionJob, error)
}

// Journal tracks jobs that still await settlement.
type Journal interface {
	Pending() []jobjournal.Entry
	MarkSettled(jobID string, status jobjournal.Status, cause error) error
}

// Outcome is the result of following one job.
type Outcome struct {
	Job    domain.ConversionJob
	Status events.SettlementStatus
	// Reconciled is true when the settled target amount matches the preview.
	Reconciled  bool
	Discrepancy string
}

// Poller polls the backend with bounded exponential backoff.
type Poller struct {
	fetcher JobFetcher
	journal Journal
	bus     *events.Bus
	logger  *zap.Logger

	timeout         time.Duration
	initialInterval time.Duration
	maxInterval     time.Duration
}

type Option func(*Poller)

// WithTimeout bounds how long a single job is polled.
func WithTimeout(d time.Duration) Option {
	return func(p *Poller) {
		p.timeout = d
	}
}

// WithIntervals sets the first and the largest delay between polls.
func WithIntervals(initial, max time.Duration) Option {
	return func(p *Poller) {
		p.initialInterval = initial
		p.maxInterval = max
	}
}

func WithJournal(j Journal) Option {
	return func(p *Poller) {
		p.journal = j
	}
}

func WithBus(bus *events.Bus) Option {
	return func(p *Poller) {
		p.bus = bus
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(p *Poller) {
		p.logger = l
	}
}

func NewPoller(fetcher JobFetcher, opts ...Option) *Poller {
	p := &Poller{
		fetcher:         fetcher,
		logger:          zap.NewNop(),
		timeout:         defaultTimeout,
		initialInterval: defaultInitialInterval,
		maxInterval:     defaultMaxInterval,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Await polls jobID until it is terminal. A failed job is returned together
// with ErrJobFailed; running out of time yields ErrSettlementTimeout.
func (p *Poller) Await(ctx context.Context, jobID, userID string) (domain.ConversionJob, error) {
	r := retrier.New(
		retrier.WithInitialInterval(p.initialInterval),
		retrier.WithMaxInterval(p.maxInterval),
		retrier.WithMaxRetries(retrier.Unlimited),
		retrier.WithJitter(true),
		retrier.WithTimeout(p.timeout),
		retrier.WithRetryIf(func(err error) bool {
			return errors.Is(err, errNotSettled) || clients.IsRetryable(err)
		}),
	)

	job, err := retrier.DoWithData(r, ctx, func(ctx context.Context) (domain.ConversionJob, error) {
		job, err := p.fetcher.FetchJob(ctx, jobID, userID)
		if err != nil {
			if clients.IsNotFound(err) {
				return domain.ConversionJob{}, errNotSettled
			}
			return domain.ConversionJob{}, err
		}
		if !job.Status.IsTerminal() {
			return job, errNotSettled
		}
		return job, nil
	})

	switch {
	case errors.Is(err, retrier.ErrTimeout):
		return domain.ConversionJob{}, errors.Wrapf(ErrSettlementTimeout, "job %s after %s", jobID, p.timeout)
	case err != nil:
		return domain.ConversionJob{}, errors.Wrapf(err, "poll job %s", jobID)
	case job.Status == domain.JobStatusFailed:
		return job, errors.Wrapf(ErrJobFailed, "job %s", jobID)
	}

	return job, nil
}

// Settle follows handle to an outcome, marks it in the journal and publishes
// events.JobSettled. The returned error is the one from Await.
func (p *Poller) Settle(ctx context.Context, handle domain.JobHandle) (Outcome, error) {
	userID := handle.Request.ClientID
	job, err := p.Await(ctx, handle.JobID, userID)
	if err != nil && ctx.Err() != nil {
		// abandoned by the caller, the journal keeps the job pending
		return Outcome{}, err
	}

	var outcome Outcome
	journalStatus := jobjournal.StatusCompleted
	switch {
	case errors.Is(err, ErrJobFailed):
		outcome = Outcome{Job: job, Status: events.SettlementFailed}
		journalStatus = jobjournal.StatusFailed
	case errors.Is(err, ErrSettlementTimeout):
		job = domain.ConversionJob{JobID: handle.JobID, ClientID: userID, Status: handle.Status}
		outcome = Outcome{Job: job, Status: events.SettlementTimedOut}
		journalStatus = jobjournal.StatusAbandoned
	case err != nil:
		p.logger.Warn("job polling stopped", zap.String("job_id", handle.JobID), zap.Error(err))
		return Outcome{}, err
	default:
		outcome = Outcome{Job: job, Status: events.SettlementCompleted}
		outcome.Reconciled, outcome.Discrepancy = reconcile(handle.ExpectedTarget, job)
		if !outcome.Reconciled {
			p.logger.Warn("settled amount differs from preview",
				zap.String("job_id", job.JobID),
				zap.String("discrepancy", outcome.Discrepancy),
			)
		}
	}

	settlementsTotal.WithLabelValues(string(outcome.Status)).Inc()
	p.logger.Info("conversion job settled",
		zap.String("job_id", handle.JobID),
		zap.String("outcome", string(outcome.Status)),
	)

	if p.journal != nil {
		if jerr := p.journal.MarkSettled(handle.JobID, journalStatus, err); jerr != nil {
			p.logger.Warn("failed to update job journal", zap.String("job_id", handle.JobID), zap.Error(jerr))
		}
	}

	if p.bus != nil {
		p.bus.Settled.Publish(events.JobSettled{
			Job:         outcome.Job,
			UserID:      userID,
			Outcome:     outcome.Status,
			Discrepancy: outcome.Discrepancy,
		})
	}

	return outcome, err
}

// Resume settles every job left pending in the journal, for example by a
// previous run that stopped before the backend finished.
func (p *Poller) Resume(ctx context.Context) error {
	if p.journal == nil {
		return nil
	}

	pending := p.journal.Pending()
	if len(pending) == 0 {
		return nil
	}
	p.logger.Info("resuming settlement of pending jobs", zap.Int("count", len(pending)))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(defaultResumeLimit)
	for _, entry := range pending {
		g.Go(func() error {
			_, err := p.Settle(gctx, entry.Handle())
			if err != nil && gctx.Err() == nil &&
				!errors.Is(err, ErrJobFailed) && !errors.Is(err, ErrSettlementTimeout) {
				p.logger.Warn("resumed job not settled", zap.String("job_id", entry.JobID), zap.Error(err))
			}
			return nil
		})
	}

	return g.Wait()
}

// reconcile compares the previewed target amount with what the backend
// converted, at cent precision. The preview excludes the fee, so the settled
// side is target plus fee. When the job carries its own rate, the preview is
// rebuilt from it since that rate is the one the backend applied.
func reconcile(expected decimal.Decimal, job domain.ConversionJob) (bool, string) {
	if expected.IsZero() {
		return true, ""
	}
	if job.Rate.IsPositive() && job.SourceAmount.IsPositive() {
		expected = job.SourceAmount.Mul(job.Rate)
	}
	settled := job.TargetAmount.Add(job.Fee)
	if expected.Round(2).Equal(settled.Round(2)) {
		return true, ""
	}
	return false, fmt.Sprintf("expected %s, settled %s", expected.StringFixed(2), settled.StringFixed(2))
}

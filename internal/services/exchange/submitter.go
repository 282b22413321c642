// Package exchange submits conversion jobs to the remote backend.
package exchange

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/vadiminshakov/fxdesk/internal/clients"
	"github.com/vadiminshakov/fxdesk/internal/domain"
)

// SubmissionError is a job submission rejected by the remote backend.
type SubmissionError struct {
	Status int
	Body   string
	Err    error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("conversion job rejected: %v", e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// JobCreator is the part of the gateway client used for submissions.
type JobCreator interface {
	CreateConversionJob(ctx context.Context, req domain.ConversionJobRequest) (domain.ConversionJob, error)
}

// Journal records submitted jobs until they settle.
type Journal interface {
	Record(handle domain.JobHandle) error
}

// Submitter sends one validated job per call. It keeps no state between calls.
type Submitter struct {
	creator JobCreator
	journal Journal
	logger  *zap.Logger
}

func NewSubmitter(creator JobCreator, journal Journal, logger *zap.Logger) *Submitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Submitter{creator: creator, journal: journal, logger: logger}
}

// Submit validates req, posts it once and returns the handle of the created job.
// expected is the locally previewed target amount, zero when unknown.
func (s *Submitter) Submit(ctx context.Context, req domain.ConversionJobRequest, expected decimal.Decimal) (domain.JobHandle, error) {
	req.SourceCurrency = domain.NormalizeCode(req.SourceCurrency)
	req.TargetCurrency = domain.NormalizeCode(req.TargetCurrency)
	if err := req.Validate(); err != nil {
		return domain.JobHandle{}, err
	}

	job, err := s.creator.CreateConversionJob(ctx, req)
	if err != nil {
		var upstream *clients.UpstreamError
		if errors.As(err, &upstream) {
			return domain.JobHandle{}, &SubmissionError{Status: upstream.Status, Body: upstream.Body, Err: err}
		}
		return domain.JobHandle{}, errors.Wrap(err, "submit conversion job")
	}

	status := job.Status
	if status == "" {
		status = domain.JobStatusQueued
	}
	handle := domain.JobHandle{
		JobID:          job.JobID,
		Status:         status,
		CreatedAt:      job.CreatedAt,
		Request:        req,
		ExpectedTarget: expected,
	}

	s.record(handle)

	return handle, nil
}

// Adopt journals a job created by forwarding payload to the backend as is,
// so it is followed like one sent through Submit. response is the body the
// backend answered with.
func (s *Submitter) Adopt(payload, response []byte, expected decimal.Decimal) (domain.JobHandle, error) {
	jobID := gjson.GetBytes(response, "job_id").String()
	if jobID == "" {
		return domain.JobHandle{}, errors.Wrap(clients.ErrMalformedResponse, "job_id missing from create response")
	}

	amount, err := decimalAt(payload, "source_amount")
	if err != nil {
		return domain.JobHandle{}, err
	}
	req := domain.ConversionJobRequest{
		ClientID:       gjson.GetBytes(payload, "client_id").String(),
		SourceCurrency: domain.NormalizeCode(gjson.GetBytes(payload, "source_currency").String()),
		TargetCurrency: domain.NormalizeCode(gjson.GetBytes(payload, "target_currency").String()),
		SourceAmount:   amount,
		IdempotencyKey: gjson.GetBytes(payload, "idempotency_key").String(),
	}
	if err := req.Validate(); err != nil {
		return domain.JobHandle{}, err
	}

	status := domain.JobStatus(gjson.GetBytes(response, "status").String())
	if status == "" {
		status = domain.JobStatusQueued
	}
	handle := domain.JobHandle{
		JobID:          jobID,
		Status:         status,
		CreatedAt:      gjson.GetBytes(response, "created_at").Time(),
		Request:        req,
		ExpectedTarget: expected,
	}

	s.record(handle)

	return handle, nil
}

func (s *Submitter) record(handle domain.JobHandle) {
	s.logger.Info("conversion job submitted",
		zap.String("job_id", handle.JobID),
		zap.String("pair", handle.Request.Pair().String()),
		zap.String("amount", handle.Request.SourceAmount.String()),
	)

	if s.journal != nil {
		if err := s.journal.Record(handle); err != nil {
			s.logger.Warn("failed to journal job", zap.String("job_id", handle.JobID), zap.Error(err))
		}
	}
}

// decimalAt reads a number or a numeric string at path.
func decimalAt(body []byte, path string) (decimal.Decimal, error) {
	r := gjson.GetBytes(body, path)
	raw := r.Raw
	if r.Type == gjson.String {
		raw = r.Str
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, errors.Wrapf(domain.ErrInvalidAmount, "%s %q", path, raw)
	}
	return d, nil
}

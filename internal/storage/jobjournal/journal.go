// Package jobjournal records submitted conversion jobs until they settle, so
// polling can resume after a restart.
package jobjournal

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/gowal"

	"github.com/vadiminshakov/fxdesk/internal/domain"
)

const (
	defaultJournalDir   = "./wal/jobs"
	journalSegmentLimit = 1000
	journalMaxSegments  = 10
	jobKeyPrefix        = "conversion_job_"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	// StatusAbandoned polling gave up before the job reached a terminal state.
	StatusAbandoned Status = "abandoned"
)

// Entry one journaled job.
type Entry struct {
	JobID          string          `json:"job_id"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	UserID         string          `json:"user_id"`
	From           string          `json:"from"`
	To             string          `json:"to"`
	SourceAmount   decimal.Decimal `json:"source_amount"`
	ExpectedTarget decimal.Decimal `json:"expected_target"`
	Status         Status          `json:"status"`
	SubmittedAt    time.Time       `json:"submitted_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	Error          string          `json:"error,omitempty"`
}

// Handle rebuilds the submission handle of the entry.
func (e Entry) Handle() domain.JobHandle {
	return domain.JobHandle{
		JobID:     e.JobID,
		Status:    domain.JobStatusQueued,
		CreatedAt: e.SubmittedAt,
		Request: domain.ConversionJobRequest{
			ClientID:       e.UserID,
			SourceCurrency: e.From,
			TargetCurrency: e.To,
			SourceAmount:   e.SourceAmount,
			IdempotencyKey: e.IdempotencyKey,
		},
		ExpectedTarget: e.ExpectedTarget,
	}
}

// Journal is a WAL-backed job journal. The latest write of a job wins.
type Journal struct {
	wal   *gowal.Wal
	mu    sync.Mutex
	index map[string]*Entry
}

// Open opens the journal under dir and replays it.
func Open(dir string) (*Journal, error) {
	if dir == "" {
		dir = defaultJournalDir
	}

	wal, err := gowal.NewWAL(gowal.Config{
		Dir:              dir,
		Prefix:           "jobs_",
		SegmentThreshold: journalSegmentLimit,
		MaxSegments:      journalMaxSegments,
		IsInSyncDiskMode: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "init job journal WAL")
	}

	j := &Journal{wal: wal, index: make(map[string]*Entry)}
	for msg := range wal.Iterator() {
		if !strings.HasPrefix(msg.Key, jobKeyPrefix) {
			continue
		}
		var e Entry
		if err := json.Unmarshal(msg.Value, &e); err != nil {
			return nil, errors.Wrapf(err, "decode journal entry %s", msg.Key)
		}
		j.index[e.JobID] = &e
	}

	return j, nil
}

// Record journals a freshly submitted job as pending.
func (j *Journal) Record(handle domain.JobHandle) error {
	if handle.JobID == "" {
		return errors.New("job id is required")
	}

	now := time.Now().UTC()
	submitted := handle.CreatedAt
	if submitted.IsZero() {
		submitted = now
	}

	e := &Entry{
		JobID:          handle.JobID,
		IdempotencyKey: handle.Request.IdempotencyKey,
		UserID:         handle.Request.ClientID,
		From:           handle.Request.SourceCurrency,
		To:             handle.Request.TargetCurrency,
		SourceAmount:   handle.Request.SourceAmount,
		ExpectedTarget: handle.ExpectedTarget,
		Status:         StatusPending,
		SubmittedAt:    submitted,
		UpdatedAt:      now,
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.persist(e); err != nil {
		return err
	}
	j.index[e.JobID] = e
	return nil
}

// MarkSettled moves the job out of pending. cause is stored as the error text.
func (j *Journal) MarkSettled(jobID string, status Status, cause error) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	e, ok := j.index[jobID]
	if !ok {
		return errors.Errorf("job %s is not journaled", jobID)
	}

	updated := *e
	updated.Status = status
	updated.UpdatedAt = time.Now().UTC()
	updated.Error = ""
	if cause != nil {
		updated.Error = cause.Error()
	}

	if err := j.persist(&updated); err != nil {
		return err
	}
	j.index[jobID] = &updated
	return nil
}

// Get returns the journaled state of jobID.
func (j *Journal) Get(jobID string) (Entry, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()

	e, ok := j.index[jobID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Pending returns jobs that still await settlement, oldest first.
func (j *Journal) Pending() []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()

	var pending []Entry
	for _, e := range j.index {
		if e.Status == StatusPending {
			pending = append(pending, *e)
		}
	}
	sort.Slice(pending, func(a, b int) bool {
		return pending[a].SubmittedAt.Before(pending[b].SubmittedAt)
	})
	return pending
}

// Close closes the underlying WAL.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.wal.Close()
}

func (j *Journal) persist(e *Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "failed to marshal journal entry")
	}
	nextIndex := j.wal.CurrentIndex() + 1
	return j.wal.Write(nextIndex, jobKeyPrefix+e.JobID, data)
}

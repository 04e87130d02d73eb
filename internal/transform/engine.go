package transform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/voxledger/voxledger/internal/billing"
	"github.com/voxledger/voxledger/internal/observe"
)

// Result is the outcome of one transform execution.
type Result struct {
	// Success is true when the derived document was persisted and the job
	// completed.
	Success bool `json:"success"`

	// Job is the audit record in its final observed state. Nil only when
	// validation rejected the config before a job was created.
	Job *billing.TransformJob `json:"job,omitempty"`

	// GeneratedDocument is the persisted derived document on success.
	GeneratedDocument *billing.Document `json:"generated_document,omitempty"`

	// Error is the recorded failure message, mirroring the job's error
	// field.
	Error string `json:"error,omitempty"`
}

// Option configures an [Engine].
type Option func(*Engine)

// WithMetrics attaches metric instruments. When unset, no metrics are
// recorded.
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator overrides ID generation. Intended for tests.
func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) { e.newID = newID }
}

// Engine executes document transforms. It is stateless across requests and
// safe for concurrent use; all state lives in the injected stores.
type Engine struct {
	documents billing.DocumentStore
	jobs      billing.JobStore
	metrics   *observe.Metrics
	now       func() time.Time
	newID     func() string
}

// New creates an [Engine] over the given document and job stores.
func New(documents billing.DocumentStore, jobs billing.JobStore, opts ...Option) *Engine {
	e := &Engine{
		documents: documents,
		jobs:      jobs,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// ExecuteTransform runs one transform for actorUserID.
//
// Sequence:
//
//  1. Validate cfg. A malformed config fails fast with a [*ValidationError]
//     and no job record — structurally invalid requests leave no audit trail.
//  2. Create the job in the queued status, bound to actorUserID.
//  3. Fetch every source document, enforcing per-document ownership. A source
//     that does not exist — or that belongs to another user — fails the job
//     identically.
//  4. Transition the job to running.
//  5. Compute the derived document (pure; no store access).
//  6. Persist the derived document, then complete the job with its ID.
//
// Persistence of the new document is the last effectful step before job
// completion, so a failure anywhere earlier cannot leave a half-built
// document behind. Cancellation is honoured cooperatively at the step
// boundaries; a cancel that lands mid-step takes effect at the next check.
//
// Failures during steps 3–6 are recorded on the job (failed status plus the
// error message) and returned as a [*ExecutionError]. The caller receives
// the job in both cases.
func (e *Engine) ExecuteTransform(ctx context.Context, cfg Config, actorUserID string) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	start := e.now()
	if e.metrics != nil {
		e.metrics.ActiveTransforms.Add(ctx, 1)
		defer e.metrics.ActiveTransforms.Add(ctx, -1)
		defer func() {
			e.metrics.TransformDuration.Record(ctx, time.Since(start).Seconds())
		}()
	}

	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("transform: marshal config: %w", err)
	}

	job := &billing.TransformJob{
		ID:        e.newID(),
		UserID:    actorUserID,
		Status:    billing.JobQueued,
		Config:    cfgJSON,
		CreatedAt: start,
		UpdatedAt: start,
	}
	if err := e.jobs.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("transform: create job: %w", err)
	}

	log := observe.Logger(ctx).With("job_id", job.ID, "operation", string(cfg.Operation))
	log.Info("transform queued", "user_id", actorUserID)

	// Fetch sources with per-document ownership enforcement. Ownership is
	// re-validated on every execution; a concurrent job may have deleted or
	// mutated a source since any earlier check.
	sources := make([]*billing.Document, 0, len(cfg.sourceIDs()))
	for _, id := range cfg.sourceIDs() {
		doc, err := e.documents.GetDocument(ctx, actorUserID, id)
		if err != nil {
			if errors.Is(err, billing.ErrNotFound) {
				return e.failJob(ctx, job, cfg, fmt.Errorf("source document %q not found", id))
			}
			return e.failJob(ctx, job, cfg, fmt.Errorf("fetch source document %q: %w", id, err))
		}
		if doc.Type != cfg.SourceDocumentType {
			return e.failJob(ctx, job, cfg, fmt.Errorf("source document %q has type %q, want %q", id, doc.Type, cfg.SourceDocumentType))
		}
		sources = append(sources, doc)
	}

	if cancelled, res := e.checkCancelled(ctx, job); cancelled {
		return res, nil
	}

	job.Status = billing.JobRunning
	if err := e.jobs.UpdateJob(ctx, job); err != nil {
		if errors.Is(err, billing.ErrTerminalJob) {
			// Cancelled between creation and the running transition.
			return e.terminalResult(ctx, job), nil
		}
		return e.failJob(ctx, job, cfg, fmt.Errorf("transition to running: %w", err))
	}

	derived, err := e.deriveDocument(cfg, actorUserID, sources)
	if err != nil {
		return e.failJob(ctx, job, cfg, err)
	}

	if cancelled, res := e.checkCancelled(ctx, job); cancelled {
		return res, nil
	}
	if err := ctx.Err(); err != nil {
		return e.failJob(ctx, job, cfg, fmt.Errorf("request aborted: %w", err))
	}

	if err := e.documents.InsertDocument(ctx, derived); err != nil {
		return e.failJob(ctx, job, cfg, fmt.Errorf("persist derived document: %w", err))
	}

	job.Status = billing.JobCompleted
	job.ResultDocumentID = derived.ID
	if err := e.jobs.UpdateJob(ctx, job); err != nil {
		if errors.Is(err, billing.ErrTerminalJob) {
			// A cancel won the race after the document write; the write is
			// atomic and stands, the job keeps its terminal status.
			return e.terminalResult(ctx, job), nil
		}
		return e.failJob(ctx, job, cfg, fmt.Errorf("complete job: %w", err))
	}

	if e.metrics != nil {
		e.metrics.RecordTransform(ctx, string(cfg.Operation), "completed")
	}
	log.Info("transform completed", "result_document_id", derived.ID)

	return &Result{Success: true, Job: job, GeneratedDocument: derived}, nil
}

// GetTransformJob looks up a job, tenant-scoped. Returns (nil, nil) when the
// job does not exist or belongs to another user.
func (e *Engine) GetTransformJob(ctx context.Context, jobID, userID string) (*billing.TransformJob, error) {
	job, err := e.jobs.GetJob(ctx, userID, jobID)
	if err != nil {
		if errors.Is(err, billing.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("transform: get job %q: %w", jobID, err)
	}
	return job, nil
}

// CancelTransformJob requests cancellation of a queued or running job.
// It reports true when the cancellation was recorded and false when the job
// is unknown to the user or already terminal; a terminal job's stored state
// is never altered.
func (e *Engine) CancelTransformJob(ctx context.Context, jobID, userID string) (bool, error) {
	job, err := e.jobs.GetJob(ctx, userID, jobID)
	if err != nil {
		if errors.Is(err, billing.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("transform: cancel job %q: %w", jobID, err)
	}
	if job.Status.Terminal() {
		return false, nil
	}

	job.Status = billing.JobCancelled
	if err := e.jobs.UpdateJob(ctx, job); err != nil {
		if errors.Is(err, billing.ErrTerminalJob) {
			// Lost the race against completion or failure.
			return false, nil
		}
		return false, fmt.Errorf("transform: cancel job %q: %w", jobID, err)
	}

	observe.Logger(ctx).Info("transform cancelled", "job_id", jobID)
	return true, nil
}

// checkCancelled re-reads the job between steps and reports whether a
// concurrent cancel landed. The second return value carries the result to
// hand back when it did.
func (e *Engine) checkCancelled(ctx context.Context, job *billing.TransformJob) (bool, *Result) {
	stored, err := e.jobs.GetJob(ctx, job.UserID, job.ID)
	if err != nil {
		// The cancellation probe is best-effort; a read failure here must
		// not fail an otherwise healthy transform.
		return false, nil
	}
	if stored.Status != billing.JobCancelled {
		return false, nil
	}
	*job = *stored
	return true, &Result{Job: job}
}

// terminalResult re-reads the job's stored terminal state and wraps it.
func (e *Engine) terminalResult(ctx context.Context, job *billing.TransformJob) *Result {
	if stored, err := e.jobs.GetJob(ctx, job.UserID, job.ID); err == nil {
		*job = *stored
	}
	res := &Result{Job: job, Error: job.Error, Success: job.Status == billing.JobCompleted}
	if res.Success {
		if doc, err := e.documents.GetDocument(ctx, job.UserID, job.ResultDocumentID); err == nil {
			res.GeneratedDocument = doc
		}
	}
	return res
}

// failJob records an execution failure on the job and wraps it in a
// [*ExecutionError].
func (e *Engine) failJob(ctx context.Context, job *billing.TransformJob, cfg Config, cause error) (*Result, error) {
	// The cause may be the request context itself expiring. The terminal
	// state must still reach the store, or the job stays in running forever.
	ctx = context.WithoutCancel(ctx)

	job.Status = billing.JobFailed
	job.Error = cause.Error()
	if err := e.jobs.UpdateJob(ctx, job); err != nil {
		if errors.Is(err, billing.ErrTerminalJob) {
			// The job was cancelled concurrently; keep the stored state.
			return e.terminalResult(ctx, job), nil
		}
		observe.Logger(ctx).Error("transform: failed to record job failure",
			"job_id", job.ID, "cause", cause, "update_error", err)
	}

	if e.metrics != nil {
		e.metrics.RecordTransform(ctx, string(cfg.Operation), "failed")
	}
	observe.Logger(ctx).Warn("transform failed", "job_id", job.ID, "error", cause)

	return &Result{Job: job, Error: job.Error}, &ExecutionError{JobID: job.ID, Err: cause}
}

package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"conveyor/internal/document"
	"conveyor/internal/logging"
	"conveyor/internal/services"
	"conveyor/internal/stage"
)

type persistOp func(ctx context.Context, doc *document.Document) (bool, error)

// settle persists a processed document according to outcome and the error
// policy. Every path ends in exactly one store write or transition.
func (m *Manager) settle(ctx context.Context, logger *slog.Logger, snapshot, doc *document.Document, outcome stage.Outcome, procErr error) {
	if procErr != nil && outcome != stage.Rejected {
		message := failureMessage(m.cfg.Name, procErr)
		doc.AddError(m.cfg.Name, message)
		if m.cfg.FailOnError {
			m.logFailure(logger, "stage failed; failing document", procErr, true)
			m.transition(ctx, logger, snapshot, doc, stage.Rejected, m.pipeline.MarkFailed)
			return
		}
		m.logFailure(logger, "stage failed; saving document with error", procErr, false)
		m.save(ctx, logger, snapshot, doc)
		return
	}

	switch outcome {
	case stage.Processed:
		m.transition(ctx, logger, snapshot, doc, outcome, m.pipeline.MarkProcessed)
	case stage.Discarded:
		m.transition(ctx, logger, snapshot, doc, outcome, m.pipeline.MarkDiscarded)
	case stage.Rejected:
		message := failureMessage(m.cfg.Name, procErr)
		if procErr == nil {
			message = m.cfg.Name + " rejected the document"
		}
		doc.AddError(m.cfg.Name, message)
		m.transition(ctx, logger, snapshot, doc, outcome, m.pipeline.MarkFailed)
	case stage.Pending:
		m.transition(ctx, logger, snapshot, doc, outcome, m.pipeline.MarkPending)
	default:
		if m.cfg.Output {
			m.transition(ctx, logger, snapshot, doc, stage.Processed, m.pipeline.MarkProcessed)
			return
		}
		m.save(ctx, logger, snapshot, doc)
	}
}

// transition applies a terminal (or pending) transition carrying doc's
// changes. A false result means another worker finished the document first.
func (m *Manager) transition(ctx context.Context, logger *slog.Logger, snapshot, doc *document.Document, outcome stage.Outcome, op persistOp) {
	ok, err := m.persist(ctx, document.Changes(snapshot, doc), op)
	switch {
	case err != nil:
		m.setLastError(err)
		logging.ErrorWithContext(logger, "document transition failed", "transition_failed",
			logging.String("outcome", outcome.String()),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check node reachability and store health"),
		)
	case !ok:
		logger.Debug("document no longer active", logging.String("outcome", outcome.String()))
	default:
		m.recordOutcome(doc, outcome)
	}
}

// save writes doc's changes back and releases it. When the write does not
// take effect the stored document is failed with an errors-only change set.
func (m *Manager) save(ctx context.Context, logger *slog.Logger, snapshot, doc *document.Document) {
	changes := document.Changes(snapshot, doc)
	ok, err := m.persist(ctx, changes, func(ctx context.Context, d *document.Document) (bool, error) {
		return m.pipeline.Write(ctx, d, true, true)
	})
	if err == nil && ok {
		m.recordOutcome(doc, stage.Continue)
		return
	}
	if err == nil {
		err = errors.New("document was not active when saved")
	}
	m.setLastError(err)
	logging.WarnWithContext(logger, "document save failed; recording failure", "save_failed",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check node reachability and document size limits"),
		logging.String(logging.FieldImpact, "document is archived as failed"),
	)

	// Only the annotation travels: the write may have landed before the
	// release failed, and the stored fields are the ones to archive.
	failed := &document.Document{ID: snapshot.ID}
	failed.AddError(m.cfg.Name, failureMessage(m.cfg.Name, err))
	recorded, ferr := m.persist(ctx, failed, m.pipeline.MarkFailed)
	if ferr != nil {
		logging.ErrorWithContext(logger, "failure record not written", "failure_record_failed",
			logging.Error(ferr),
			logging.String(logging.FieldErrorHint, "document stays active; inspect it with conveyor doc show"),
		)
		return
	}
	if recorded {
		m.recordOutcome(failed, stage.Rejected)
	}
}

// failTimedOut hard-fails the claimed document after its unit overran.
func (m *Manager) failTimedOut(ctx context.Context, logger *slog.Logger, snapshot *document.Document, cause error) {
	m.setLastError(cause)
	failed := snapshot.Clone()
	failed.AddError(m.cfg.Name, failureMessage(m.cfg.Name, cause))
	logging.ErrorWithContext(logger, "stage processing timed out", "processing_timeout",
		logging.Duration("processing_timeout", m.cfg.ProcessingTimeout),
		logging.String(logging.FieldErrorHint, "raise processing_timeout_ms or investigate the stage"),
	)
	ok, err := m.persist(ctx, failed, m.pipeline.MarkFailed)
	if err != nil {
		logging.ErrorWithContext(logger, "failure record not written", "failure_record_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check node reachability and store health"),
		)
		return
	}
	if ok {
		m.recordOutcome(failed, stage.Rejected)
	}
}

// persist runs op, retrying once when the first attempt fails transiently.
func (m *Manager) persist(ctx context.Context, doc *document.Document, op persistOp) (bool, error) {
	ok, err := op(ctx, doc)
	if err == nil || !errors.Is(err, services.ErrTransient) {
		return ok, err
	}
	backoff := m.errorBackoff
	if backoff <= 0 || backoff > time.Second {
		backoff = time.Second
	}
	if !sleepCtx(ctx, backoff) {
		return false, err
	}
	return op(ctx, doc)
}

func (m *Manager) logFailure(logger *slog.Logger, msg string, err error, hard bool) {
	attrs := []logging.Attr{
		logging.Error(err),
		logging.Bool("fail_on_error", hard),
		logging.String(logging.FieldErrorHint, "inspect the document's errors metadata"),
	}
	if kind := services.Kind(err); kind != "" {
		attrs = append(attrs, logging.String("error_kind", kind))
	}
	if hard {
		logging.ErrorWithContext(logger, msg, "stage_failure", attrs...)
		return
	}
	logging.WarnWithContext(logger, msg, "stage_failure",
		append(attrs, logging.String(logging.FieldImpact, "document continues with an error annotation"))...)
}

func failureMessage(stageName string, err error) string {
	if err == nil {
		return fmt.Sprintf("%s failed without error detail", stageName)
	}
	if msg := strings.TrimSpace(err.Error()); msg != "" {
		return msg
	}
	return fmt.Sprintf("%s failed", stageName)
}

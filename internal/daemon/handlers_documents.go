package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"conveyor/internal/api"
	"conveyor/internal/config"
	"conveyor/internal/document"
	"conveyor/internal/logging"
	"conveyor/internal/store"
)

func (d *Daemon) handlePing(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusOK, d.instanceID)
}

func (d *Daemon) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	perf := d.startPerf(r, "getDocument")
	defer perf.done()

	stageName, err := requireParam(r, api.ParamStage)
	if err != nil {
		d.writeError(w, r, err)
		return
	}
	recurring, err := optionalFlag(r, api.ParamRecurring)
	if err != nil {
		d.writeError(w, r, err)
		return
	}
	body, err := d.readBody(w, r)
	if err != nil {
		d.writeError(w, r, err)
		return
	}
	q := document.NewQuery()
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &q); err != nil {
			d.writeError(w, r, badRequest("Unable to parse query", err))
			return
		}
	}
	perf.set("stage_name", stageName)
	perf.phase("parse")

	var doc *document.Document
	if recurring {
		doc, err = d.store.ClaimRecurring(r.Context(), q, d.recurringInterval(), stageName)
	} else {
		doc, err = d.store.Claim(r.Context(), q, stageName)
	}
	perf.phase("claim")
	if err != nil {
		d.writeError(w, r, err)
		return
	}
	if doc == nil {
		d.metrics.claims.WithLabelValues(stageName, "empty").Inc()
		writeText(w, http.StatusNotFound, "No document found matching your query")
		return
	}
	d.metrics.claims.WithLabelValues(stageName, "claimed").Inc()
	perf.set("doc_id", doc.ID)
	d.writeJSON(w, http.StatusOK, doc)
	perf.phase("respond")
}

func (d *Daemon) recurringInterval() time.Duration {
	if d.cfg.Worker.RecurringIntervalMS > 0 {
		return time.Duration(d.cfg.Worker.RecurringIntervalMS) * time.Millisecond
	}
	return store.DefaultRecurringInterval
}

// decodeDocument parses the body as a document. Patches keep null fields so
// the store can delete them.
func (d *Daemon) decodeDocument(w http.ResponseWriter, r *http.Request, patch bool) (*document.Document, error) {
	body, err := d.readBody(w, r)
	if err != nil {
		return nil, err
	}
	var doc *document.Document
	if patch {
		doc, err = document.DecodePatch(body)
	} else {
		doc, err = document.Decode(body)
	}
	if err != nil {
		return nil, badRequest("Unable to parse document", err)
	}
	return doc, nil
}

func (d *Daemon) handleWrite(w http.ResponseWriter, r *http.Request) {
	perf := d.startPerf(r, "write")
	defer perf.done()

	stageName, err := requireParam(r, api.ParamStage)
	if err != nil {
		d.writeError(w, r, err)
		return
	}
	partial, err := requireFlag(r, api.ParamPartial)
	if err != nil {
		d.writeError(w, r, err)
		return
	}
	noRelease, err := requireFlag(r, api.ParamNoRelease)
	if err != nil {
		d.writeError(w, r, err)
		return
	}
	doc, err := d.decodeDocument(w, r, partial)
	if err != nil {
		d.writeError(w, r, err)
		return
	}
	if partial && doc.ID == "" {
		d.writeError(w, r, badRequest("Partial update requires a document id", nil))
		return
	}
	perf.set("stage_name", stageName)
	perf.set("doc_id", doc.ID)
	perf.phase("parse")

	ctx := r.Context()
	if doc.ID != "" {
		ok, err := d.store.Update(ctx, doc, partial)
		perf.phase("update")
		if err != nil {
			d.writeError(w, r, err)
			return
		}
		if !ok {
			writeText(w, http.StatusNotFound, noDocument(doc.ID))
			return
		}
	} else {
		stored, err := d.store.Insert(ctx, doc)
		perf.phase("insert")
		if err != nil {
			d.writeError(w, r, err)
			return
		}
		doc = stored
		perf.set("doc_id", doc.ID)
	}

	if !noRelease {
		ok, err := d.store.Touch(ctx, doc.ID, stageName)
		perf.phase("release")
		if err != nil || !ok {
			if err == nil {
				err = fmt.Errorf("document %s left the active set before release", doc.ID)
			}
			logging.ErrorWithContext(logging.WithContext(ctx, d.logger), "document written but not released", "release_failed",
				logging.DocumentID(doc.ID),
				logging.Stage(stageName),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "the stage may claim the document again"),
			)
			writeText(w, http.StatusInternalServerError, "Document saved but could not be released")
			return
		}
	}

	d.writeJSON(w, http.StatusOK, d.latest(ctx, doc))
	perf.phase("respond")
}

// latest returns the stored state of doc, falling back to doc itself when it
// has already left the active set.
func (d *Daemon) latest(ctx context.Context, doc *document.Document) *document.Document {
	stored, err := d.store.GetByID(ctx, doc.ID)
	if err != nil || stored == nil {
		document.StripNulls(doc.Content)
		return doc
	}
	return stored
}

func (d *Daemon) handleRelease(w http.ResponseWriter, r *http.Request) {
	perf := d.startPerf(r, "release")
	defer perf.done()

	stageName, err := requireParam(r, api.ParamStage)
	if err != nil {
		d.writeError(w, r, err)
		return
	}
	doc, err := d.decodeDocument(w, r, false)
	if err != nil {
		d.writeError(w, r, err)
		return
	}
	perf.set("stage_name", stageName)
	perf.set("doc_id", doc.ID)
	perf.phase("parse")

	ok, err := d.store.Touch(r.Context(), doc.ID, stageName)
	perf.phase("release")
	if err != nil {
		d.writeError(w, r, err)
		return
	}
	if !ok {
		writeText(w, http.StatusNotFound, noDocument(doc.ID))
		return
	}
	writeText(w, http.StatusOK, "Document successfully released")
}

type transition struct {
	event  string
	status document.Status
	apply  func(st *store.Store, ctx context.Context, doc *document.Document, stage string) (bool, error)
}

var (
	transitionProcessed = transition{event: "markProcessed", status: document.StatusProcessed, apply: (*store.Store).MarkProcessed}
	transitionDiscarded = transition{event: "markDiscarded", status: document.StatusDiscarded, apply: (*store.Store).MarkDiscarded}
	transitionFailed    = transition{event: "markFailed", status: document.StatusFailed, apply: (*store.Store).MarkFailed}
	transitionPending   = transition{event: "markPending", status: document.StatusPending, apply: (*store.Store).MarkPending}
)

func (d *Daemon) transitionHandler(t transition) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		perf := d.startPerf(r, t.event)
		defer perf.done()

		stageName, err := requireParam(r, api.ParamStage)
		if err != nil {
			d.writeError(w, r, err)
			return
		}
		doc, err := d.decodeDocument(w, r, true)
		if err != nil {
			d.writeError(w, r, err)
			return
		}
		perf.set("stage_name", stageName)
		perf.set("doc_id", doc.ID)
		perf.phase("parse")

		ok, err := t.apply(d.store, r.Context(), doc, stageName)
		perf.phase("transition")
		if err != nil {
			d.writeError(w, r, err)
			return
		}
		if !ok {
			writeText(w, http.StatusNotFound, noDocument(doc.ID))
			return
		}
		d.metrics.transitions.WithLabelValues(stageName, string(t.status)).Inc()
		writeText(w, http.StatusOK, fmt.Sprintf("Document %s successfully saved", doc.ID))
	}
}

func (d *Daemon) handleGetProperties(w http.ResponseWriter, r *http.Request) {
	stageName, err := requireParam(r, api.ParamStage)
	if err != nil {
		d.writeError(w, r, err)
		return
	}
	props, ok := d.settings().stages[stageName]
	if !ok {
		props = config.StageProperties{}
	}
	d.writeJSON(w, http.StatusOK, props)
}

func noDocument(id string) string {
	return fmt.Sprintf("No document found with id %s", id)
}

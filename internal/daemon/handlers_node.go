package daemon

import (
	"net/http"

	"conveyor/internal/api"
	"conveyor/internal/store"
)

func (d *Daemon) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := d.Status(r.Context())
	if err != nil {
		d.writeError(w, r, err)
		return
	}
	d.writeJSON(w, http.StatusOK, status)
}

// handleDocument looks a document up in the active set first and the archive
// second.
func (d *Daemon) handleDocument(w http.ResponseWriter, r *http.Request) {
	id, err := requireParam(r, api.ParamID)
	if err != nil {
		d.writeError(w, r, err)
		return
	}
	ctx := r.Context()

	doc, err := d.store.GetByID(ctx, id)
	if err != nil {
		d.writeError(w, r, err)
		return
	}
	if doc != nil {
		files, err := d.store.AttachmentNames(ctx, id)
		if err != nil {
			d.writeError(w, r, err)
			return
		}
		d.writeJSON(w, http.StatusOK, api.DocumentResponse{
			Status:   string(doc.Status()),
			Files:    files,
			Document: doc,
		})
		return
	}

	entry, err := d.store.FindArchived(ctx, id)
	if err != nil {
		d.writeError(w, r, err)
		return
	}
	if entry == nil {
		writeText(w, http.StatusNotFound, noDocument(id))
		return
	}
	d.writeJSON(w, http.StatusOK, api.DocumentResponse{
		Archived:   true,
		ArchivedAt: api.FormatTime(entry.ArchivedAt),
		Status:     string(entry.Document.Status()),
		Document:   entry.Document,
	})
}

// handleArchive serves a page of the audit log. With wait set and nothing
// past the cursor, the request is held on a tail reader until an entry
// arrives or its poll budget runs out.
func (d *Daemon) handleArchive(w http.ResponseWriter, r *http.Request) {
	after, err := optionalInt(r, api.ParamAfter, 0)
	if err != nil {
		d.writeError(w, r, err)
		return
	}
	limit, err := optionalInt(r, api.ParamLimit, defaultPageLimit)
	if err != nil {
		d.writeError(w, r, err)
		return
	}
	switch {
	case limit <= 0:
		limit = defaultPageLimit
	case limit > maxPageLimit:
		limit = maxPageLimit
	}
	wait, err := optionalFlag(r, api.ParamWait)
	if err != nil {
		d.writeError(w, r, err)
		return
	}
	ctx := r.Context()

	entries, err := d.store.ArchivedAfter(ctx, after, int(limit))
	if err != nil {
		d.writeError(w, r, err)
		return
	}
	if len(entries) == 0 && wait {
		entries, err = d.awaitArchive(r, after, int(limit))
		if err != nil {
			d.writeError(w, r, err)
			return
		}
	}
	d.writeJSON(w, http.StatusOK, api.FromArchivedList(entries, after))
}

func (d *Daemon) awaitArchive(r *http.Request, after int64, limit int) ([]*store.ArchivedDocument, error) {
	ctx := r.Context()
	reader := d.store.TailArchiveAfter(after)
	defer reader.Interrupt()
	if !reader.HasNext(ctx) {
		return nil, reader.Err()
	}
	return d.store.ArchivedAfter(ctx, after, limit)
}

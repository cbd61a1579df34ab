package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"conveyor/internal/api"
	"conveyor/internal/services"
	"conveyor/internal/store"
)

func (d *Daemon) handleSaveFile(w http.ResponseWriter, r *http.Request) {
	perf := d.startPerf(r, "saveFile")
	defer perf.done()

	body, err := d.readBody(w, r)
	if err != nil {
		d.writeError(w, r, err)
		return
	}
	var a store.Attachment
	if err := json.Unmarshal(body, &a); err != nil {
		d.writeError(w, r, badRequest("Unable to parse file", err))
		return
	}
	if a.DocumentID == "" {
		a.DocumentID = strings.TrimSpace(r.URL.Query().Get(api.ParamDocID))
	}
	if a.SavedByStage == "" {
		a.SavedByStage = strings.TrimSpace(r.URL.Query().Get(api.ParamStage))
	}
	perf.set("stage_name", a.SavedByStage)
	perf.set("doc_id", a.DocumentID)
	perf.phase("parse")

	err = d.store.SaveAttachment(r.Context(), &a)
	perf.phase("save")
	switch {
	case errors.Is(err, services.ErrNotFound):
		writeText(w, http.StatusNotFound, fmt.Sprintf("No active document with id %s", a.DocumentID))
	case err != nil:
		d.writeError(w, r, err)
	default:
		writeText(w, http.StatusOK, fmt.Sprintf("File %s successfully saved", a.FileName))
	}
}

func (d *Daemon) handleGetFile(w http.ResponseWriter, r *http.Request) {
	docID, err := requireParam(r, api.ParamDocID)
	if err != nil {
		d.writeError(w, r, err)
		return
	}
	fileName := strings.TrimSpace(r.URL.Query().Get(api.ParamFileName))
	if fileName == "" {
		names, err := d.store.AttachmentNames(r.Context(), docID)
		if err != nil {
			d.writeError(w, r, err)
			return
		}
		d.writeJSON(w, http.StatusOK, names)
		return
	}

	a, err := d.store.GetAttachment(r.Context(), docID, fileName)
	if err != nil {
		d.writeError(w, r, err)
		return
	}
	if a == nil {
		writeText(w, http.StatusNotFound, noFile(fileName))
		return
	}
	d.writeJSON(w, http.StatusOK, a)
}

func (d *Daemon) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	docID, err := requireParam(r, api.ParamDocID)
	if err != nil {
		d.writeError(w, r, err)
		return
	}
	fileName, err := requireParam(r, api.ParamFileName)
	if err != nil {
		d.writeError(w, r, err)
		return
	}
	deleted, err := d.store.DeleteAttachment(r.Context(), docID, fileName)
	if err != nil {
		d.writeError(w, r, err)
		return
	}
	if !deleted {
		writeText(w, http.StatusNotFound, noFile(fileName))
		return
	}
	writeText(w, http.StatusOK, fmt.Sprintf("File %s successfully deleted", fileName))
}

func noFile(name string) string {
	return fmt.Sprintf("No file found by the name %s", name)
}

package api

import (
	"time"

	"conveyor/internal/document"
	"conveyor/internal/pipelinestatus"
	"conveyor/internal/store"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// NodeStatus summarizes a running node.
type NodeStatus struct {
	InstanceID   string                `json:"instanceId"`
	StartedAt    string                `json:"startedAt,omitempty"`
	Alive        bool                  `json:"alive"`
	Active       int64                 `json:"active"`
	Archived     int64                 `json:"archived"`
	ArchiveBytes int64                 `json:"archiveBytes"`
	IndexedTags  int                   `json:"indexedTags"`
	Pipeline     pipelinestatus.Status `json:"pipeline"`
	// Buffered holds counter increments not yet flushed into Pipeline.
	Buffered Counts   `json:"buffered"`
	Stages   []string `json:"stages"`
}

// Counts mirrors pipelinestatus.Counts with JSON names.
type Counts struct {
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
	Discarded int64 `json:"discarded"`
}

// FromCounts converts aggregator counts.
func FromCounts(c pipelinestatus.Counts) Counts {
	return Counts{Processed: c.Processed, Failed: c.Failed, Discarded: c.Discarded}
}

// DocumentResponse is a document looked up by id in the active set or, when
// it already left it, the archive.
type DocumentResponse struct {
	Archived   bool               `json:"archived"`
	ArchivedAt string             `json:"archivedAt,omitempty"`
	Status     string             `json:"status"`
	Files      []string           `json:"files,omitempty"`
	Document   *document.Document `json:"document"`
}

// ArchiveEntry is one audit log record.
type ArchiveEntry struct {
	Seq        int64              `json:"seq"`
	ArchivedAt string             `json:"archivedAt"`
	Status     string             `json:"status"`
	Document   *document.Document `json:"document"`
}

// ArchiveResponse is a page of the audit log. Next is the sequence to pass as
// after on the following request.
type ArchiveResponse struct {
	Entries []ArchiveEntry `json:"entries"`
	Next    int64          `json:"next"`
}

// FromArchived converts a store archive entry.
func FromArchived(entry *store.ArchivedDocument) ArchiveEntry {
	return ArchiveEntry{
		Seq:        entry.Seq,
		ArchivedAt: FormatTime(entry.ArchivedAt),
		Status:     string(entry.Document.Status()),
		Document:   entry.Document,
	}
}

// FromArchivedList converts entries and computes the next cursor; after is
// returned unchanged when the page is empty.
func FromArchivedList(entries []*store.ArchivedDocument, after int64) ArchiveResponse {
	resp := ArchiveResponse{Entries: make([]ArchiveEntry, 0, len(entries)), Next: after}
	for _, entry := range entries {
		resp.Entries = append(resp.Entries, FromArchived(entry))
		if entry.Seq > resp.Next {
			resp.Next = entry.Seq
		}
	}
	return resp
}

// FormatTime renders t in the API timestamp format, or "" for the zero time.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

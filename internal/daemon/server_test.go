package daemon_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"conveyor/internal/api"
	"conveyor/internal/config"
	"conveyor/internal/document"
	"conveyor/internal/store"
	"conveyor/internal/testsupport"
)

func TestInsertClaimProcessScenario(t *testing.T) {
	n := newNode(t)
	ctx := context.Background()

	status, body := n.call(t, http.MethodPost, api.PathWrite,
		stageParams("input", api.ParamPartial, "0", api.ParamNoRelease, "1"),
		document.NewWithContent(map[string]any{"name": "test"}))
	if status != http.StatusOK {
		t.Fatalf("write = %d %s", status, body)
	}
	inserted := decodeDoc(t, body)
	if inserted.ID == "" {
		t.Fatal("expected insert to return the assigned id")
	}

	status, body = n.call(t, http.MethodPost, api.PathGetDocument, stageParams("s1", api.ParamRecurring, "0"), "{}")
	if status != http.StatusOK {
		t.Fatalf("getDocument = %d %s", status, body)
	}
	claimed := decodeDoc(t, body)
	if claimed.ID != inserted.ID {
		t.Fatalf("claimed %s, want %s", claimed.ID, inserted.ID)
	}

	status, body = n.call(t, http.MethodPost, api.PathGetDocument, stageParams("s1"), "")
	if status != http.StatusNotFound || string(body) != "No document found matching your query" {
		t.Fatalf("second getDocument = %d %s", status, body)
	}

	status, body = n.call(t, http.MethodPost, api.PathMarkProcessed, stageParams("s1"), claimed)
	if status != http.StatusOK || string(body) != "Document "+claimed.ID+" successfully saved" {
		t.Fatalf("markProcessed = %d %s", status, body)
	}
	status, _ = n.call(t, http.MethodPost, api.PathMarkFailed, stageParams("s1"), claimed)
	if status != http.StatusNotFound {
		t.Fatalf("second transition = %d, want 404", status)
	}

	active, _ := n.store.ActiveCount(ctx)
	archived, _ := n.store.ArchiveCount(ctx)
	if active != 0 || archived != 1 {
		t.Fatalf("active=%d archived=%d, want 0 and 1", active, archived)
	}
}

func TestGetDocumentAppliesQuery(t *testing.T) {
	n := newNode(t)
	testsupport.InsertContent(t, n.store, map[string]any{"kind": "a"})
	want := testsupport.InsertContent(t, n.store, map[string]any{"kind": "b"})

	query, _ := json.Marshal(document.NewQuery().Equals("kind", "b"))
	status, body := n.call(t, http.MethodPost, api.PathGetDocument, stageParams("reader"), query)
	if status != http.StatusOK || decodeDoc(t, body).ID != want.ID {
		t.Fatalf("getDocument = %d %s", status, body)
	}

	status, body = n.call(t, http.MethodPost, api.PathGetDocument, stageParams("reader"), "{not json")
	if status != http.StatusBadRequest || !strings.HasPrefix(string(body), "Unable to parse query") {
		t.Fatalf("bad query = %d %s", status, body)
	}
}

func TestMissingParametersAreRejected(t *testing.T) {
	n := newNode(t)

	status, body := n.call(t, http.MethodPost, api.PathGetDocument, nil, "{}")
	if status != http.StatusBadRequest || string(body) != "Parameter 'stage' is missing from request URI" {
		t.Fatalf("getDocument without stage = %d %s", status, body)
	}
	status, body = n.call(t, http.MethodPost, api.PathWrite, stageParams("s", api.ParamPartial, "1"), "{}")
	if status != http.StatusBadRequest || !strings.Contains(string(body), "'norelease'") {
		t.Fatalf("write without norelease = %d %s", status, body)
	}
	status, _ = n.call(t, http.MethodPost, api.PathWrite,
		stageParams("s", api.ParamPartial, "maybe", api.ParamNoRelease, "1"), "{}")
	if status != http.StatusBadRequest {
		t.Fatalf("write with bad flag = %d", status)
	}
}

func TestWriteUpdatesAndReleases(t *testing.T) {
	n := newNode(t)
	ctx := context.Background()
	doc := testsupport.InsertContent(t, n.store, map[string]any{"keep": 1, "drop": "x"})

	status, body := n.call(t, http.MethodPost, api.PathWrite,
		stageParams("editor", api.ParamPartial, "1", api.ParamNoRelease, "0"),
		`{"_id":"`+doc.ID+`","contents":{"drop":null,"added":true},"metadata":{}}`)
	if status != http.StatusOK {
		t.Fatalf("partial write = %d %s", status, body)
	}
	stored, _ := n.store.GetByID(ctx, doc.ID)
	if stored.Has("drop") || !stored.Has("added") || !stored.Has("keep") {
		t.Fatalf("unexpected content after partial write: %v", stored.Content)
	}
	if _, touched := stored.Touched("editor"); !touched {
		t.Fatal("expected write without norelease to touch the document")
	}

	status, body = n.call(t, http.MethodPost, api.PathWrite,
		stageParams("editor", api.ParamPartial, "1", api.ParamNoRelease, "1"), `{"contents":{"a":1}}`)
	if status != http.StatusBadRequest {
		t.Fatalf("partial write without id = %d %s", status, body)
	}

	status, body = n.call(t, http.MethodPost, api.PathWrite,
		stageParams("editor", api.ParamPartial, "0", api.ParamNoRelease, "1"), `{"_id":"missing","contents":{"a":1}}`)
	if status != http.StatusNotFound {
		t.Fatalf("write to unknown id = %d %s", status, body)
	}

	status, body = n.call(t, http.MethodPost, api.PathWrite,
		stageParams("editor", api.ParamPartial, "0", api.ParamNoRelease, "1"), `{"_id":"`+doc.ID+`","contents":{"only":1}}`)
	if status != http.StatusOK {
		t.Fatalf("full write = %d %s", status, body)
	}
	stored, _ = n.store.GetByID(ctx, doc.ID)
	if len(stored.Content) != 1 || !stored.Has("only") {
		t.Fatalf("expected full write to replace content, got %v", stored.Content)
	}
}

func TestWriteRejectsOversizedDocument(t *testing.T) {
	n := newNode(t, testsupport.WithMaxDocumentBytes(256))
	big := strings.Repeat("x", 1024)
	status, body := n.call(t, http.MethodPost, api.PathWrite,
		stageParams("input", api.ParamPartial, "0", api.ParamNoRelease, "1"),
		document.NewWithContent(map[string]any{"big": big}))
	if status != http.StatusBadRequest {
		t.Fatalf("oversized write = %d %s", status, body)
	}
}

func TestPartialWriteCannotGrowPastLimit(t *testing.T) {
	n := newNode(t, testsupport.WithMaxDocumentBytes(256))
	doc := testsupport.InsertContent(t, n.store, map[string]any{"a": 1})
	grow := func(field string) (int, []byte) {
		patch := &document.Document{ID: doc.ID, Content: map[string]any{field: strings.Repeat("x", 150)}}
		return n.call(t, http.MethodPost, api.PathWrite,
			stageParams("input", api.ParamPartial, "1", api.ParamNoRelease, "1"), patch)
	}

	if status, body := grow("first"); status != http.StatusOK {
		t.Fatalf("first partial write = %d %s", status, body)
	}
	if status, body := grow("second"); status != http.StatusBadRequest {
		t.Fatalf("growing partial write = %d %s", status, body)
	}
	stored, err := n.store.GetByID(context.Background(), doc.ID)
	if err != nil || stored == nil || stored.Has("second") {
		t.Fatalf("rejected write must not be stored: %v, %v", stored, err)
	}
}

func TestReleaseAndPending(t *testing.T) {
	n := newNode(t)
	ctx := context.Background()
	doc := testsupport.InsertContent(t, n.store, map[string]any{"a": 1})

	status, body := n.call(t, http.MethodPost, api.PathRelease, stageParams("reader"), doc)
	if status != http.StatusOK || string(body) != "Document successfully released" {
		t.Fatalf("release = %d %s", status, body)
	}
	status, _ = n.call(t, http.MethodPost, api.PathRelease, stageParams("reader"), `{"_id":"missing","contents":{}}`)
	if status != http.StatusNotFound {
		t.Fatalf("release unknown = %d", status)
	}

	status, body = n.call(t, http.MethodPost, api.PathMarkPending, stageParams("waiter"),
		`{"_id":"`+doc.ID+`","contents":{"a":null,"note":"later"}}`)
	if status != http.StatusOK {
		t.Fatalf("markPending = %d %s", status, body)
	}
	stored, _ := n.store.GetByID(ctx, doc.ID)
	if stored.Status() != document.StatusPending || stored.Has("a") || !stored.Has("note") {
		t.Fatalf("unexpected pending document: status=%s content=%v", stored.Status(), stored.Content)
	}
	status, _ = n.call(t, http.MethodPost, api.PathGetDocument, stageParams("other"), "{}")
	if status != http.StatusNotFound {
		t.Fatalf("pending document was claimable: %d", status)
	}
}

func TestFileEndpoints(t *testing.T) {
	n := newNode(t)
	doc := testsupport.InsertContent(t, n.store, map[string]any{"a": 1})
	files := url.Values{api.ParamStage: {"ocr"}, api.ParamDocID: {doc.ID}}
	named := url.Values{api.ParamStage: {"ocr"}, api.ParamDocID: {doc.ID}, api.ParamFileName: {"scan.png"}}

	status, body := n.call(t, http.MethodPost, api.PathFile, url.Values{api.ParamStage: {"ocr"}},
		store.Attachment{DocumentID: doc.ID, FileName: "scan.png", MimeType: "image/png", Data: []byte("png")})
	if status != http.StatusOK {
		t.Fatalf("save file = %d %s", status, body)
	}

	status, body = n.call(t, http.MethodGet, api.PathFile, files, nil)
	var names []string
	if status != http.StatusOK || json.Unmarshal(body, &names) != nil || len(names) != 1 || names[0] != "scan.png" {
		t.Fatalf("list files = %d %s", status, body)
	}

	status, body = n.call(t, http.MethodGet, api.PathFile, named, nil)
	var got store.Attachment
	if status != http.StatusOK || json.Unmarshal(body, &got) != nil {
		t.Fatalf("get file = %d %s", status, body)
	}
	if string(got.Data) != "png" || got.SavedByStage != "ocr" || got.MimeType != "image/png" {
		t.Fatalf("unexpected attachment: %+v", got)
	}

	status, _ = n.call(t, http.MethodDelete, api.PathFile, named, nil)
	if status != http.StatusOK {
		t.Fatalf("delete file = %d", status)
	}
	status, body = n.call(t, http.MethodGet, api.PathFile, named, nil)
	if status != http.StatusNotFound || string(body) != "No file found by the name scan.png" {
		t.Fatalf("get deleted file = %d %s", status, body)
	}
	status, _ = n.call(t, http.MethodDelete, api.PathFile, named, nil)
	if status != http.StatusNotFound {
		t.Fatalf("second delete = %d", status)
	}

	status, _ = n.call(t, http.MethodPost, api.PathFile, nil,
		store.Attachment{DocumentID: "missing", FileName: "a.txt", Data: []byte("x")})
	if status != http.StatusNotFound {
		t.Fatalf("save to unknown document = %d", status)
	}
}

func TestDocumentLookupCoversArchive(t *testing.T) {
	n := newNode(t)
	ctx := context.Background()
	doc := testsupport.InsertContent(t, n.store, map[string]any{"a": 1})

	status, body := n.call(t, http.MethodGet, api.PathDocument, url.Values{api.ParamID: {doc.ID}}, nil)
	var resp api.DocumentResponse
	if status != http.StatusOK || json.Unmarshal(body, &resp) != nil || resp.Archived {
		t.Fatalf("active lookup = %d %s", status, body)
	}

	if ok, err := n.store.MarkDiscarded(ctx, doc, "filter"); err != nil || !ok {
		t.Fatalf("MarkDiscarded = %v, %v", ok, err)
	}
	status, body = n.call(t, http.MethodGet, api.PathDocument, url.Values{api.ParamID: {doc.ID}}, nil)
	resp = api.DocumentResponse{}
	if status != http.StatusOK || json.Unmarshal(body, &resp) != nil {
		t.Fatalf("archived lookup = %d %s", status, body)
	}
	if !resp.Archived || resp.Status != string(document.StatusDiscarded) || resp.ArchivedAt == "" {
		t.Fatalf("unexpected archived response: %+v", resp)
	}

	status, _ = n.call(t, http.MethodGet, api.PathDocument, url.Values{api.ParamID: {"nope"}}, nil)
	if status != http.StatusNotFound {
		t.Fatalf("unknown lookup = %d", status)
	}
}

func TestArchivePagingAndWait(t *testing.T) {
	n := newNode(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		doc := testsupport.InsertContent(t, n.store, map[string]any{"i": i})
		if ok, err := n.store.MarkProcessed(ctx, doc, "sink"); err != nil || !ok {
			t.Fatalf("MarkProcessed = %v, %v", ok, err)
		}
	}

	status, body := n.call(t, http.MethodGet, api.PathArchive, url.Values{api.ParamLimit: {"2"}}, nil)
	var page api.ArchiveResponse
	if status != http.StatusOK || json.Unmarshal(body, &page) != nil || len(page.Entries) != 2 {
		t.Fatalf("archive page = %d %s", status, body)
	}
	status, body = n.call(t, http.MethodGet, api.PathArchive,
		url.Values{api.ParamAfter: {jsonNumber(page.Next)}}, nil)
	page = api.ArchiveResponse{}
	if status != http.StatusOK || json.Unmarshal(body, &page) != nil || len(page.Entries) != 1 {
		t.Fatalf("archive page 2 = %d %s", status, body)
	}
	end := page.Next

	go func() {
		doc, err := n.store.Insert(ctx, document.NewWithContent(map[string]any{"late": true}))
		if err == nil {
			_, _ = n.store.MarkProcessed(ctx, doc, "sink")
		}
	}()
	status, body = n.call(t, http.MethodGet, api.PathArchive,
		url.Values{api.ParamAfter: {jsonNumber(end)}, api.ParamWait: {"1"}}, nil)
	page = api.ArchiveResponse{}
	if status != http.StatusOK || json.Unmarshal(body, &page) != nil {
		t.Fatalf("archive wait = %d %s", status, body)
	}
	if len(page.Entries) == 1 && page.Entries[0].Document.Has("late") {
		return
	}
	// The poll budget can expire before the insert lands; the next poll must
	// then see it.
	waitFor(t, "late archive entry", func() bool {
		_, body := n.call(t, http.MethodGet, api.PathArchive, url.Values{api.ParamAfter: {jsonNumber(end)}}, nil)
		var p api.ArchiveResponse
		return json.Unmarshal(body, &p) == nil && len(p.Entries) == 1
	})

	status, _ = n.call(t, http.MethodGet, api.PathArchive, url.Values{api.ParamAfter: {"x"}}, nil)
	if status != http.StatusBadRequest {
		t.Fatalf("bad cursor = %d", status)
	}
}

func jsonNumber(n int64) string {
	data, _ := json.Marshal(n)
	return string(data)
}

func TestForbiddenHost(t *testing.T) {
	n := newNode(t, func(c *config.Config) {
		c.Node.AllowedHosts = []string{"10.9.8.7"}
	})
	status, body := n.call(t, http.MethodGet, api.PathPing, nil, nil)
	if status != http.StatusForbidden || string(body) != "Access forbidden" {
		t.Fatalf("ping from disallowed host = %d %s", status, body)
	}

	allowed := testsupport.NewConfig(t)
	allowed.Node.AllowedHosts = []string{"localhost"}
	n.daemon.Reload(allowed)
	status, _ = n.call(t, http.MethodGet, api.PathPing, nil, nil)
	if status != http.StatusOK {
		t.Fatalf("ping after allow-list reload = %d", status)
	}
}

func TestDeadNode(t *testing.T) {
	n := newNode(t)
	if err := n.store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	status, body := n.call(t, http.MethodGet, api.PathPing, nil, nil)
	if status != http.StatusInternalServerError || string(body) != "Node appears to be dead" {
		t.Fatalf("ping on closed store = %d %s", status, body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	n := newNode(t)
	n.call(t, http.MethodPost, api.PathGetDocument, stageParams("reader"), "{}")

	status, body := n.call(t, http.MethodGet, api.PathMetrics, nil, nil)
	if status != http.StatusOK {
		t.Fatalf("metrics = %d", status)
	}
	text := string(body)
	for _, want := range []string{
		`conveyor_node_requests_total{code="404",endpoint="getDocument"} 1`,
		`conveyor_claims_total{result="empty",stage="reader"} 1`,
		"conveyor_active_documents 0",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("metrics missing %q", want)
		}
	}
}

func TestPerformanceLogging(t *testing.T) {
	buf := &syncBuffer{}
	logger := slog.New(slog.NewTextHandler(buf, nil))
	n := newNodeWithLogger(t, logger, func(c *config.Config) {
		c.Node.PerformanceLogging = true
	})
	doc := testsupport.InsertContent(t, n.store, map[string]any{"a": 1})
	n.call(t, http.MethodPost, api.PathRelease, stageParams("reader"), doc)

	waitFor(t, "performance line", func() bool {
		out := buf.String()
		return strings.Contains(out, "type=performance") &&
			strings.Contains(out, "event=release") &&
			strings.Contains(out, "stage_name=reader") &&
			strings.Contains(out, "doc_id="+doc.ID)
	})
}

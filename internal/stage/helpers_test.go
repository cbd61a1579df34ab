package stage_test

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"conveyor/internal/document"
	"conveyor/internal/services"
	"conveyor/internal/stage"
)

// memoryPipeline is a minimal in-memory Pipeline for helper tests.
type memoryPipeline struct {
	mu        sync.Mutex
	name      string
	docs      []*document.Document
	discarded []string
}

func (p *memoryPipeline) Stage() string { return p.name }

func (p *memoryPipeline) Claim(_ context.Context, q document.Query, _ bool) (*document.Document, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, doc := range p.docs {
		if _, fetched := doc.Fetched(p.name); fetched {
			continue
		}
		if q.Matches(doc) {
			doc.SetFetched(p.name, time.Now())
			return doc.Clone(), nil
		}
	}
	return nil, nil
}

func (p *memoryPipeline) remove(id string) bool {
	for i, doc := range p.docs {
		if doc.ID == id {
			p.docs = append(p.docs[:i], p.docs[i+1:]...)
			return true
		}
	}
	return false
}

func (p *memoryPipeline) Write(context.Context, *document.Document, bool, bool) (bool, error) {
	return true, nil
}
func (p *memoryPipeline) Release(context.Context, *document.Document) (bool, error) { return true, nil }
func (p *memoryPipeline) MarkProcessed(context.Context, *document.Document) (bool, error) {
	return true, nil
}

func (p *memoryPipeline) MarkDiscarded(_ context.Context, doc *document.Document) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.remove(doc.ID) {
		return false, nil
	}
	p.discarded = append(p.discarded, doc.ID)
	return true, nil
}

func (p *memoryPipeline) MarkFailed(context.Context, *document.Document) (bool, error) {
	return true, nil
}
func (p *memoryPipeline) MarkPending(context.Context, *document.Document) (bool, error) {
	return true, nil
}
func (p *memoryPipeline) Properties(context.Context) (map[string]any, error) { return nil, nil }

func seeded(id, url string) *document.Document {
	doc := document.NewWithContent(map[string]any{"url": url})
	doc.ID = id
	return doc
}

func TestDiscardOld(t *testing.T) {
	p := &memoryPipeline{name: "input", docs: []*document.Document{
		seeded("1", "http://a"),
		seeded("2", "http://b"),
		seeded("3", "http://a"),
	}}

	fresh := document.NewWithContent(map[string]any{"url": "http://a"})
	n, err := stage.DiscardOld(context.Background(), p, "url", fresh)
	if err != nil || n != 2 {
		t.Fatalf("DiscardOld = %d, %v", n, err)
	}
	if !reflect.DeepEqual(p.discarded, []string{"1", "3"}) {
		t.Fatalf("discarded = %v", p.discarded)
	}
	if len(p.docs) != 1 || p.docs[0].ID != "2" {
		t.Fatalf("expected only document 2 left, got %d docs", len(p.docs))
	}
}

func TestDiscardOldRequiresField(t *testing.T) {
	p := &memoryPipeline{name: "input"}

	if _, err := stage.DiscardOld(context.Background(), p, "", document.New()); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration for an empty field, got %v", err)
	}
	if _, err := stage.DiscardOld(context.Background(), p, "url", document.New()); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected ErrValidation for a document without the field, got %v", err)
	}
}

func TestOutputAcceptsAndRejects(t *testing.T) {
	var delivered []string
	out := stage.Output(func(_ context.Context, doc *document.Document) error {
		if doc.Has("bad") {
			return errors.New("sink refused document")
		}
		delivered = append(delivered, doc.ID)
		return nil
	})

	good := seeded("ok", "x")
	outcome, err := out.Process(context.Background(), good)
	if err != nil || outcome != stage.Processed {
		t.Fatalf("Process(good) = %s, %v", outcome, err)
	}
	if !reflect.DeepEqual(delivered, []string{"ok"}) {
		t.Fatalf("delivered = %v", delivered)
	}

	bad := document.NewWithContent(map[string]any{"bad": true})
	outcome, err = out.Process(context.Background(), bad)
	if outcome != stage.Rejected || err == nil || err.Error() != "sink refused document" {
		t.Fatalf("Process(bad) = %s, %v", outcome, err)
	}
}

func TestOutputPassesCancellationThrough(t *testing.T) {
	out := stage.Output(func(ctx context.Context, _ *document.Document) error {
		return context.Canceled
	})
	outcome, err := out.Process(context.Background(), document.New())
	if outcome != stage.Continue || !errors.Is(err, context.Canceled) {
		t.Fatalf("Process = %s, %v", outcome, err)
	}
}

func TestMapping(t *testing.T) {
	if _, err := stage.NewMapping(nil); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration for an empty mapping, got %v", err)
	}
	if _, err := stage.NewMapping(map[string]string{"a": `b"c`}); err == nil {
		t.Fatal("expected invalid target name to fail")
	}

	m, err := stage.NewMapping(map[string]string{"b": "b2", "a": "a2", "missing": "x"})
	if err != nil {
		t.Fatalf("NewMapping failed: %v", err)
	}

	doc := document.NewWithContent(map[string]any{"a": 1, "b": 2})
	var seen []string
	err = m.Apply(doc, func(_ *document.Document, from, to string) error {
		seen = append(seen, from+"->"+to)
		return nil
	})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if !reflect.DeepEqual(seen, []string{"a->a2", "b->b2"}) {
		t.Fatalf("applied pairs = %v", seen)
	}
}

func TestOutcomeString(t *testing.T) {
	cases := map[stage.Outcome]string{stage.Continue: "continue", stage.Rejected: "rejected", stage.Outcome(42): "unknown"}
	for outcome, want := range cases {
		if got := outcome.String(); got != want {
			t.Fatalf("Outcome(%d).String() = %q, want %q", int(outcome), got, want)
		}
	}
}

type checkedStage struct{ stage.Func }

func (checkedStage) HealthCheck(context.Context) stage.Health {
	return stage.Unhealthy("", "sink offline")
}

func TestCheck(t *testing.T) {
	plain := stage.Func(func(context.Context, *document.Document) (stage.Outcome, error) { return stage.Continue, nil })
	if got := stage.Check(context.Background(), "plain", plain); got != stage.Healthy("plain") {
		t.Fatalf("Check(plain) = %+v", got)
	}

	h := stage.Check(context.Background(), "sink", checkedStage{plain})
	if h.Ready || h.Name != "sink" || h.Detail != "sink offline" {
		t.Fatalf("Check(sink) = %+v", h)
	}
}

package stage_test

import (
	"reflect"
	"testing"
	"time"

	"conveyor/internal/config"
	"conveyor/internal/document"
	"conveyor/internal/stage"
)

func workerDefaults() config.Worker {
	return config.Default().Worker
}

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := stage.ParseConfig("enrich", map[string]any{"type": "copy"}, workerDefaults())
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}

	if cfg.Name != "enrich" || cfg.Type != "copy" || cfg.Threads != 1 {
		t.Fatalf("unexpected identity: %+v", cfg)
	}
	if cfg.ProcessingTimeout != 0 {
		t.Fatalf("expected no processing timeout, got %s", cfg.ProcessingTimeout)
	}
	if cfg.HoldInterval != 2*time.Second {
		t.Fatalf("expected default hold interval, got %s", cfg.HoldInterval)
	}
	if cfg.FailOnError || cfg.Output {
		t.Fatalf("expected flags off by default: %+v", cfg)
	}
	if !cfg.Query.IsEmpty() || len(cfg.Params) != 0 {
		t.Fatalf("expected empty query and params, got %v / %v", cfg.Query.Predicates(), cfg.Params)
	}
}

func TestParseConfigAcceptsTOMLAndJSONNumbers(t *testing.T) {
	fromTOML := map[string]any{
		"type":                  "log",
		"threads":               int64(3),
		"processing_timeout_ms": int64(1500),
		"claim_rate":            int64(5),
		"output":                true,
		"mapping":               map[string]any{"a": "b"},
	}
	fromJSON := map[string]any{
		"type":                  "log",
		"threads":               float64(3),
		"processing_timeout_ms": float64(1500),
		"claim_rate":            2.5,
		"output":                true,
		"mapping":               map[string]any{"a": "b"},
	}

	a, err := stage.ParseConfig("sink", fromTOML, workerDefaults())
	if err != nil {
		t.Fatalf("ParseConfig(toml) failed: %v", err)
	}
	b, err := stage.ParseConfig("sink", fromJSON, workerDefaults())
	if err != nil {
		t.Fatalf("ParseConfig(json) failed: %v", err)
	}

	for _, cfg := range []stage.Config{a, b} {
		if cfg.Threads != 3 || cfg.ProcessingTimeout != 1500*time.Millisecond || !cfg.Output {
			t.Fatalf("unexpected runtime settings: %+v", cfg)
		}
		if keys := cfg.Params.Keys(); !reflect.DeepEqual(keys, []string{"mapping"}) {
			t.Fatalf("params keys = %v", keys)
		}
	}
	if a.ClaimRate != 5.0 || b.ClaimRate != 2.5 {
		t.Fatalf("claim rates = %v, %v", a.ClaimRate, b.ClaimRate)
	}
}

func TestParseConfigQuery(t *testing.T) {
	props := map[string]any{
		"query": map[string]any{
			"touched": map[string]any{"fetch": true, "enrich": false},
			"exists":  map[string]any{"title": true},
		},
	}
	cfg, err := stage.ParseConfig("enrich", props, workerDefaults())
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}

	doc := document.NewWithContent(map[string]any{"title": "x"})
	if cfg.Query.Matches(doc) {
		t.Fatal("expected no match before fetch touched it")
	}
	doc.SetTouched("fetch", time.Now())
	if !cfg.Query.Matches(doc) {
		t.Fatal("expected match once fetch touched it")
	}
	doc.SetTouched("enrich", time.Now())
	if cfg.Query.Matches(doc) {
		t.Fatal("expected no match after enrich touched it")
	}
}

func TestParseConfigRejectsBadValues(t *testing.T) {
	cases := map[string]map[string]any{
		"threads type":   {"threads": "two"},
		"threads zero":   {"threads": 0},
		"fraction":       {"threads": 1.5},
		"negative rate":  {"claim_rate": -1},
		"query type":     {"query": "all"},
		"bad query":      {"query": map[string]any{"exists": map[string]any{`a"b`: true}}},
		"output type":    {"output": "yes"},
		"recurring type": {"recurring": 1},
	}
	for name, props := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := stage.ParseConfig("s", props, workerDefaults()); err == nil {
				t.Fatalf("expected error for %v", props)
			}
		})
	}

	for _, name := range []string{`bad"name`, "  "} {
		if _, err := stage.ParseConfig(name, nil, workerDefaults()); err == nil {
			t.Fatalf("expected stage name %q to be rejected", name)
		}
	}
}

func TestParseConfigOverridesTiming(t *testing.T) {
	cfg, err := stage.ParseConfig("poller", map[string]any{
		"recurring":             true,
		"recurring_interval_ms": 250,
		"hold_interval_ms":      50,
		"fail_on_error":         true,
	}, workerDefaults())
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}

	if !cfg.Recurring || !cfg.FailOnError {
		t.Fatalf("expected recurring and fail_on_error set: %+v", cfg)
	}
	if cfg.RecurringInterval != 250*time.Millisecond || cfg.HoldInterval != 50*time.Millisecond {
		t.Fatalf("intervals = %s / %s", cfg.RecurringInterval, cfg.HoldInterval)
	}
}

func TestParamsGetters(t *testing.T) {
	p := stage.Params{
		"name":   "x",
		"list":   []any{"a", "b"},
		"single": "only",
		"table":  map[string]any{"k": "v"},
		"flag":   true,
		"mixed":  []any{"a", 1},
	}

	if s, err := p.String("name", ""); err != nil || s != "x" {
		t.Fatalf("String = %q, %v", s, err)
	}
	if _, err := p.RequiredString("missing"); err == nil {
		t.Fatal("expected missing required string to fail")
	}
	if list, err := p.Strings("list"); err != nil || !reflect.DeepEqual(list, []string{"a", "b"}) {
		t.Fatalf("Strings(list) = %v, %v", list, err)
	}
	if single, err := p.Strings("single"); err != nil || !reflect.DeepEqual(single, []string{"only"}) {
		t.Fatalf("Strings(single) = %v, %v", single, err)
	}
	if _, err := p.Strings("mixed"); err == nil {
		t.Fatal("expected mixed list to fail")
	}
	if table, err := p.StringMap("table"); err != nil || !reflect.DeepEqual(table, map[string]string{"k": "v"}) {
		t.Fatalf("StringMap = %v, %v", table, err)
	}
	if flag, err := p.Bool("flag", false); err != nil || !flag {
		t.Fatalf("Bool = %v, %v", flag, err)
	}
	if !p.Has("name") || p.Has("nope") {
		t.Fatal("Has reported wrong presence")
	}
}

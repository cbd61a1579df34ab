package stage

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"conveyor/internal/config"
	"conveyor/internal/document"
)

// Property keys understood by the runtime. Anything else is a stage
// parameter.
const (
	PropType              = "type"
	PropThreads           = "threads"
	PropQuery             = "query"
	PropProcessingTimeout = "processing_timeout_ms"
	PropHoldInterval      = "hold_interval_ms"
	PropRecurring         = "recurring"
	PropRecurringInterval = "recurring_interval_ms"
	PropFailOnError       = "fail_on_error"
	PropClaimRate         = "claim_rate"
	PropOutput            = "output"
)

var runtimeKeys = map[string]struct{}{
	PropType: {}, PropThreads: {}, PropQuery: {}, PropProcessingTimeout: {}, PropHoldInterval: {},
	PropRecurring: {}, PropRecurringInterval: {}, PropFailOnError: {}, PropClaimRate: {}, PropOutput: {},
}

// Config is the typed runtime configuration of one stage.
type Config struct {
	Name string
	Type string

	Threads           int
	Query             document.Query
	ProcessingTimeout time.Duration
	HoldInterval      time.Duration
	Recurring         bool
	RecurringInterval time.Duration
	FailOnError       bool
	// ClaimRate caps claims per second across the stage's workers; zero
	// means unlimited.
	ClaimRate float64
	// Output stages archive documents as processed instead of writing them
	// back when Process returns Continue.
	Output bool

	Params Params
}

// ParseConfig builds a stage config from its property table. Timing values
// missing from props fall back to defaults.
func ParseConfig(name string, props map[string]any, defaults config.Worker) (Config, error) {
	p := Params(props)
	cfg := Config{
		Name:              strings.TrimSpace(name),
		Threads:           1,
		HoldInterval:      millis(defaults.HoldIntervalMS),
		RecurringInterval: millis(defaults.RecurringIntervalMS),
		Params:            Params{},
	}

	var err error
	if cfg.Type, err = p.String(PropType, ""); err != nil {
		return Config{}, err
	}
	if cfg.Threads, err = p.Int(PropThreads, 1); err != nil {
		return Config{}, err
	}
	timeout, err := p.Int(PropProcessingTimeout, -1)
	if err != nil {
		return Config{}, err
	}
	if timeout > 0 {
		cfg.ProcessingTimeout = millis(timeout)
	}
	if hold, err := p.Int(PropHoldInterval, 0); err != nil {
		return Config{}, err
	} else if hold > 0 {
		cfg.HoldInterval = millis(hold)
	}
	if interval, err := p.Int(PropRecurringInterval, 0); err != nil {
		return Config{}, err
	} else if interval > 0 {
		cfg.RecurringInterval = millis(interval)
	}
	if cfg.Recurring, err = p.Bool(PropRecurring, false); err != nil {
		return Config{}, err
	}
	if cfg.FailOnError, err = p.Bool(PropFailOnError, false); err != nil {
		return Config{}, err
	}
	if cfg.Output, err = p.Bool(PropOutput, false); err != nil {
		return Config{}, err
	}
	if cfg.ClaimRate, err = p.Float(PropClaimRate, 0); err != nil {
		return Config{}, err
	}

	if raw, ok := props[PropQuery]; ok && raw != nil {
		table, ok := raw.(map[string]any)
		if !ok {
			return Config{}, fmt.Errorf("%s: expected a table, got %T", PropQuery, raw)
		}
		if cfg.Query, err = document.QueryFromMap(table); err != nil {
			return Config{}, fmt.Errorf("%s: %w", PropQuery, err)
		}
	}

	for k, v := range props {
		if _, reserved := runtimeKeys[k]; !reserved {
			cfg.Params[k] = v
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the config for values the runtime cannot work with.
func (c Config) Validate() error {
	if c.Name == "" {
		return errors.New("stage name must not be empty")
	}
	if err := document.ValidateName(c.Name); err != nil {
		return fmt.Errorf("stage name: %w", err)
	}
	if c.Threads < 1 {
		return fmt.Errorf("%s must be at least 1", PropThreads)
	}
	if c.HoldInterval <= 0 {
		return fmt.Errorf("%s must be positive", PropHoldInterval)
	}
	if c.Recurring && c.RecurringInterval <= 0 {
		return fmt.Errorf("%s must be positive for recurring stages", PropRecurringInterval)
	}
	if c.ClaimRate < 0 {
		return fmt.Errorf("%s must not be negative", PropClaimRate)
	}
	return c.Query.Validate()
}

func millis(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

// Params holds a stage's own parameters. Values come from TOML (int64) or
// JSON (float64) so numeric getters accept both.
type Params map[string]any

// Has reports whether key is set.
func (p Params) Has(key string) bool {
	v, ok := p[key]
	return ok && v != nil
}

// String returns key as a string, or def when unset.
func (p Params) String(key, def string) (string, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s: expected a string, got %T", key, v)
	}
	return s, nil
}

// RequiredString returns key as a non-empty string.
func (p Params) RequiredString(key string) (string, error) {
	s, err := p.String(key, "")
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("required parameter %q not configured", key)
	}
	return s, nil
}

// Int returns key as an int, or def when unset.
func (p Params) Int(key string, def int) (int, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("%s: expected a whole number, got %v", key, n)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("%s: expected a number, got %T", key, v)
	}
}

// Float returns key as a float64, or def when unset.
func (p Params) Float(key string, def float64) (float64, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case float64:
		return n, nil
	default:
		return 0, fmt.Errorf("%s: expected a number, got %T", key, v)
	}
}

// Bool returns key as a bool, or def when unset.
func (p Params) Bool(key string, def bool) (bool, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%s: expected a boolean, got %T", key, v)
	}
	return b, nil
}

// Strings returns key as a list of strings. A single string is accepted as a
// one-element list.
func (p Params) Strings(key string) ([]string, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return nil, nil
	}
	switch list := v.(type) {
	case string:
		return []string{list}, nil
	case []string:
		return append([]string(nil), list...), nil
	case []any:
		out := make([]string, 0, len(list))
		for i, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%s[%d]: expected a string, got %T", key, i, item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%s: expected a list of strings, got %T", key, v)
	}
}

// StringMap returns key as a string to string table.
func (p Params) StringMap(key string) (map[string]string, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return nil, nil
	}
	table, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s: expected a table, got %T", key, v)
	}
	out := make(map[string]string, len(table))
	for k, item := range table {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("%s.%s: expected a string, got %T", key, k, item)
		}
		out[k] = s
	}
	return out, nil
}

// Table returns key as a raw table.
func (p Params) Table(key string) (map[string]any, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return nil, nil
	}
	table, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s: expected a table, got %T", key, v)
	}
	return table, nil
}

// Keys returns the parameter names in sorted order.
func (p Params) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

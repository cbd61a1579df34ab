package daemon

import (
	"log/slog"
	"net/http"
	"time"

	"conveyor/internal/logging"
)

// perfLog collects phase timings for one request and emits a single
// type=performance line when performance logging is on.
type perfLog struct {
	logger *slog.Logger
	event  string
	start  time.Time
	last   time.Time
	attrs  []logging.Attr
}

func (d *Daemon) startPerf(r *http.Request, event string) *perfLog {
	if !d.settings().performance {
		return nil
	}
	now := time.Now()
	return &perfLog{
		logger: logging.WithContext(r.Context(), d.logger),
		event:  event,
		start:  now,
		last:   now,
	}
}

// phase records the time since the previous phase under name.
func (p *perfLog) phase(name string) {
	if p == nil {
		return
	}
	now := time.Now()
	p.attrs = append(p.attrs, logging.Duration(name, now.Sub(p.last)))
	p.last = now
}

func (p *perfLog) set(key, value string) {
	if p == nil || value == "" {
		return
	}
	p.attrs = append(p.attrs, logging.String(key, value))
}

func (p *perfLog) done() {
	if p == nil {
		return
	}
	attrs := append([]logging.Attr{
		logging.String("type", "performance"),
		logging.String("event", p.event),
	}, p.attrs...)
	attrs = append(attrs, logging.Duration("total", time.Since(p.start)))
	p.logger.Info("performance", logging.Args(attrs...)...)
}

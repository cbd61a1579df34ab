package workflow

import (
	"context"

	"conveyor/internal/stage"
)

// Health reports the stage's own health, or unhealthy when the stage is not
// configured.
func (m *Manager) Health(ctx context.Context) stage.Health {
	if m.stage == nil {
		return stage.Unhealthy(m.cfg.Name, "stage not configured")
	}
	return stage.Check(ctx, m.cfg.Name, m.stage)
}

package workflow

import (
	"log/slog"

	"conveyor/internal/logging"
)

func (m *Manager) workerLogger(slot int) *slog.Logger {
	base := m.logger
	if base == nil {
		base = logging.NewNop()
	}
	return base.With(logging.Int(logging.FieldWorker, slot))
}

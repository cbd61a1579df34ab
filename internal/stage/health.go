package stage

import "context"

// Health summarizes the readiness of a stage.
type Health struct {
	Name   string
	Ready  bool
	Detail string
}

// Healthy constructs a ready Health record.
func Healthy(name string) Health {
	return Health{Name: name, Ready: true}
}

// Unhealthy constructs an unhealthy Health record with context detail.
func Unhealthy(name, detail string) Health {
	return Health{Name: name, Ready: false, Detail: detail}
}

// Check asks s for its health when it implements HealthChecker and reports
// ready otherwise.
func Check(ctx context.Context, name string, s Stage) Health {
	if checker, ok := s.(HealthChecker); ok {
		h := checker.HealthCheck(ctx)
		if h.Name == "" {
			h.Name = name
		}
		return h
	}
	return Healthy(name)
}

package health

import (
	"regexp"
	"time"

	"github.com/c360/flowmesh/errors"
)

// State is a three-level health classification. Degraded components
// keep serving with reduced capacity; unhealthy ones do not.
type State string

const (
	StateHealthy   State = "healthy"
	StateDegraded  State = "degraded"
	StateUnhealthy State = "unhealthy"
)

// Status is the health of one component at one point in time.
type Status struct {
	Component string    `json:"component"`
	State     State     `json:"state"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Sub       []Status  `json:"sub_statuses,omitempty"`
}

// Healthy creates a healthy status.
func Healthy(component, message string) Status {
	return Status{Component: component, State: StateHealthy, Message: message, Timestamp: time.Now()}
}

// Degraded creates a degraded status.
func Degraded(component, message string) Status {
	return Status{Component: component, State: StateDegraded, Message: message, Timestamp: time.Now()}
}

// Unhealthy creates an unhealthy status.
func Unhealthy(component, message string) Status {
	return Status{Component: component, State: StateUnhealthy, Message: message, Timestamp: time.Now()}
}

// FromError derives a status from an error. Nil is healthy, transient
// failures are degraded, everything else is unhealthy. The error text
// is sanitized before it becomes the message.
func FromError(component string, err error) Status {
	if err == nil {
		return Healthy(component, "")
	}
	message := Sanitize(err.Error())
	if errors.IsTransient(err) {
		return Degraded(component, message)
	}
	return Unhealthy(component, message)
}

// IsHealthy reports whether the state is healthy.
func (s Status) IsHealthy() bool { return s.State == StateHealthy }

// IsDegraded reports whether the state is degraded.
func (s Status) IsDegraded() bool { return s.State == StateDegraded }

// IsUnhealthy reports whether the state is unhealthy.
func (s Status) IsUnhealthy() bool { return s.State == StateUnhealthy }

// WithSub returns a copy with one more sub-status attached. The
// receiver's slice is never shared.
func (s Status) WithSub(sub Status) Status {
	combined := make([]Status, len(s.Sub), len(s.Sub)+1)
	copy(combined, s.Sub)
	s.Sub = append(combined, sub)
	return s
}

// Aggregate folds sub-statuses into one component status with
// worst-case rules: any unhealthy sub makes the whole unhealthy, any
// degraded sub (with none unhealthy) makes it degraded.
func Aggregate(component string, subs []Status) Status {
	var unhealthy, degraded bool
	for _, sub := range subs {
		switch sub.State {
		case StateUnhealthy:
			unhealthy = true
		case StateDegraded:
			degraded = true
		}
	}

	var status Status
	switch {
	case unhealthy:
		status = Unhealthy(component, "one or more components are unhealthy")
	case degraded:
		status = Degraded(component, "one or more components are degraded")
	default:
		status = Healthy(component, "all components are healthy")
	}
	status.Sub = append([]Status(nil), subs...)
	return status
}

var (
	urlPattern         = regexp.MustCompile(`(?:https?|wss?|tcp)://\S+`)
	unixPathPattern    = regexp.MustCompile(`/[a-zA-Z0-9/_.-]+`)
	windowsPathPattern = regexp.MustCompile(`[A-Z]:\\[^:\s]+`)
	ipAddrPattern      = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	portPattern        = regexp.MustCompile(`:\d{2,5}\b`)
	credentialPattern  = regexp.MustCompile(`(?i)(password|token|key|secret|credential)[^a-zA-Z]*[:=][^,\s}]+`)
)

// Sanitize redacts URLs, file paths, addresses, ports and
// credential-shaped fragments from a message before it is exposed.
func Sanitize(message string) string {
	if message == "" {
		return ""
	}
	out := urlPattern.ReplaceAllString(message, "[URL]")
	out = unixPathPattern.ReplaceAllString(out, "[PATH]")
	out = windowsPathPattern.ReplaceAllString(out, "[PATH]")
	out = ipAddrPattern.ReplaceAllString(out, "[IP]")
	out = portPattern.ReplaceAllString(out, "[PORT]")
	out = credentialPattern.ReplaceAllString(out, "[REDACTED]")
	return out
}

package logging

import "log/slog"

// Common field names for consistent logging across components.
const (
	FieldService      = "service"
	FieldComponent    = "component"
	FieldPackageID    = "package_id"
	FieldOutcome      = "outcome"
	FieldTarget       = "target"
	FieldSubject      = "subject"
	FieldState        = "state"
	FieldInvocationID = "invocation_id"
	FieldDuration     = "duration_ms"
	FieldError        = "error"
)

// Service returns a slog attribute for the service name.
func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

// Component returns a slog attribute for the emitting component.
func Component(name string) slog.Attr {
	return slog.String(FieldComponent, name)
}

// PackageID returns a slog attribute for an ingest package identifier.
func PackageID(id string) slog.Attr {
	return slog.String(FieldPackageID, id)
}

// Outcome returns a slog attribute for a processing outcome.
func Outcome(outcome string) slog.Attr {
	return slog.String(FieldOutcome, outcome)
}

// Target returns a slog attribute for a notification target name.
func Target(name string) slog.Attr {
	return slog.String(FieldTarget, name)
}

// Subject returns a slog attribute for a message broker subject.
func Subject(subject string) slog.Attr {
	return slog.String(FieldSubject, subject)
}

// State returns a slog attribute for a pipeline state.
func State(state string) slog.Attr {
	return slog.String(FieldState, state)
}

// InvocationID returns a slog attribute for the per-message invocation ID.
func InvocationID(id string) slog.Attr {
	return slog.String(FieldInvocationID, id)
}

// Duration returns a slog attribute for duration in milliseconds.
func Duration(ms int64) slog.Attr {
	return slog.Int64(FieldDuration, ms)
}

// Error returns a slog attribute for an error.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "")
	}
	return slog.String(FieldError, err.Error())
}

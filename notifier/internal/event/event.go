// Package event turns the loosely-typed attributes of an inbound ingest status
// message into a validated, immutable IngestEvent.
package event

import (
	"fmt"
	"strings"
)

// Attribute names carried by ingest status messages.
const (
	AttrPackageID   = "package_id"
	AttrService     = "service"
	AttrOutcome     = "outcome"
	AttrPackageData = "package_data"
	AttrTraceback   = "traceback"
)

// Attributes is the raw attribute mapping decoded from the transport.
type Attributes map[string]any

// Outcome is the result a producing service reports for one step.
type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeFailure Outcome = "FAILURE"
)

// ParseOutcome converts a raw attribute value into an Outcome.
// Matching is case-sensitive; surrounding whitespace is ignored.
func ParseOutcome(s string) (Outcome, error) {
	switch o := Outcome(strings.TrimSpace(s)); o {
	case OutcomeSuccess, OutcomeFailure:
		return o, nil
	default:
		return "", fmt.Errorf("unrecognized outcome %q", s)
	}
}

func (o Outcome) String() string { return string(o) }

// IngestEvent is one validated status report about one package.
// It is never mutated after Parse returns it.
type IngestEvent struct {
	packageID   string
	service     string
	outcome     Outcome
	packageData map[string]any
	traceback   string
}

// PackageID returns the opaque package identifier.
func (e *IngestEvent) PackageID() string { return e.packageID }

// Service returns the name of the producing service.
func (e *IngestEvent) Service() string { return e.service }

// Outcome returns the reported outcome.
func (e *IngestEvent) Outcome() Outcome { return e.outcome }

// HasPackageData reports whether the producer supplied package data.
func (e *IngestEvent) HasPackageData() bool { return e.packageData != nil }

// PackageData returns a copy of the package data, or nil when absent.
func (e *IngestEvent) PackageData() map[string]any {
	if e.packageData == nil {
		return nil
	}
	return copyMap(e.packageData)
}

// Traceback returns the failure traceback. It is empty for SUCCESS events.
func (e *IngestEvent) Traceback() string { return e.traceback }

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = copyValue(item)
		}
		return out
	default:
		return v
	}
}

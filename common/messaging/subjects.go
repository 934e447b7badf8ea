// Package messaging defines standard subject names for the ingest message bus.
package messaging

// Subject constants for the ingest message bus.
// Follow the pattern: {domain}.{action}.{resource}
const (
	// Status messages published by ingest pipeline services after each step.
	SubjectIngestNotificationsStatus = "ingest.notifications.status"

	// Rejected status messages (append .{reason}).
	SubjectIngestNotificationsDLQ = "ingest.notifications.dlq"

	// Requests asking the next pipeline service to start on a package.
	SubjectIngestServicesStart = "ingest.services.start"
)

// Queue group names for load-balanced consumers.
// Workers in the same queue group share messages (each message processed once).
const (
	QueueNotifyWorkers = "notify-workers"
)

// DLQSubject returns the dead-letter subject for a rejection reason.
// Example: ingest.notifications.dlq.validation
func DLQSubject(reason string) string {
	return SubjectIngestNotificationsDLQ + "." + reason
}

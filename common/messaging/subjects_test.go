package messaging

import (
	"strings"
	"testing"
)

func TestSubjectConstants_FollowNamingConvention(t *testing.T) {
	// Subjects should follow the pattern: {domain}.{action}.{resource}
	subjects := []string{
		SubjectIngestNotificationsStatus,
		SubjectIngestNotificationsDLQ,
		SubjectIngestServicesStart,
	}

	for _, subject := range subjects {
		parts := strings.Split(subject, ".")
		if len(parts) < 3 {
			t.Errorf("subject %q does not follow {domain}.{action}.{resource} pattern", subject)
		}
		if !strings.HasPrefix(subject, "ingest.") {
			t.Errorf("subject %q should start with 'ingest.'", subject)
		}
	}
}

func TestQueueConstants_NoDots(t *testing.T) {
	if strings.Contains(QueueNotifyWorkers, ".") {
		t.Errorf("queue name %q should not contain dots", QueueNotifyWorkers)
	}
}

func TestDLQSubject(t *testing.T) {
	tests := []struct {
		reason   string
		expected string
	}{
		{"validation", "ingest.notifications.dlq.validation"},
		{"decode", "ingest.notifications.dlq.decode"},
		{"", "ingest.notifications.dlq."},
	}

	for _, tt := range tests {
		t.Run(tt.reason, func(t *testing.T) {
			if got := DLQSubject(tt.reason); got != tt.expected {
				t.Errorf("DLQSubject(%q) = %q, want %q", tt.reason, got, tt.expected)
			}
		})
	}
}

package format

import (
	"strings"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/telhawk-systems/ingest-notify/notifier/internal/event"
)

func mustParse(t *testing.T, attrs event.Attributes) *event.IngestEvent {
	t.Helper()
	ev, err := event.Parse(attrs)
	require.NoError(t, err)
	return ev
}

func TestParseDataStyle(t *testing.T) {
	tests := []struct {
		input   string
		want    DataStyle
		wantErr bool
	}{
		{"", DataStyleIndent, false},
		{"json", DataStyleJSON, false},
		{"indent", DataStyleIndent, false},
		{"lines", DataStyleLines, false},
		{"yaml", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDataStyle(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormat_SuccessWithData(t *testing.T) {
	ev := mustParse(t, event.Attributes{
		"package_id":   "pkg-123",
		"service":      "transfer-service",
		"outcome":      "SUCCESS",
		"package_data": map[string]any{"size": 42},
	})

	msg := New(Options{DataStyle: DataStyleJSON}).Format(ev)

	assert.Equal(t, "transfer-service: SUCCESS — package pkg-123", msg.Subject)
	assert.Equal(t,
		"transfer-service completed successfully for package pkg-123.\n\nPackage data:\n{\"size\":42}\n",
		msg.Body)
}

func TestFormat_SuccessWithoutData(t *testing.T) {
	ev := mustParse(t, event.Attributes{
		"package_id": "pkg-1",
		"service":    "fornax",
		"outcome":    "SUCCESS",
		"traceback":  "leftover traceback text",
	})

	msg := New(Options{}).Format(ev)

	assert.Equal(t, "fornax completed successfully for package pkg-1.\n", msg.Body)
	assert.NotContains(t, msg.Body, "Package data")
	assert.NotContains(t, msg.Body, "Traceback")
	assert.NotContains(t, msg.Body, "leftover traceback text")
}

func TestFormat_Failure(t *testing.T) {
	ev := mustParse(t, event.Attributes{
		"package_id":   "pkg-456",
		"service":      "validation-service",
		"outcome":      "FAILURE",
		"traceback":    "KeyError: 'checksum'",
		"package_data": `{"size": 1}`,
	})

	msg := New(Options{}).Format(ev)

	assert.Equal(t, "validation-service: FAILURE — package pkg-456", msg.Subject)
	assert.Equal(t, "validation-service failed for package pkg-456.\n\nTraceback:\nKeyError: 'checksum'", msg.Body)
	assert.NotContains(t, msg.Body, "Package data")
}

func TestFormat_FailureTracebackVerbatim(t *testing.T) {
	faker := gofakeit.New(7)
	f := New(Options{})

	for i := 0; i < 100; i++ {
		tb := faker.Paragraph(2, 3, 12, "\n") + "\n\t<&> ünïcödé"
		ev := mustParse(t, event.Attributes{
			"package_id": faker.UUID(),
			"service":    faker.AppName(),
			"outcome":    "FAILURE",
			"traceback":  tb,
		})

		assert.Contains(t, f.Format(ev).Body, tb)
	}
}

func TestFormat_IndentStyleSortsKeys(t *testing.T) {
	ev := mustParse(t, event.Attributes{
		"package_id":   "pkg-1",
		"service":      "fornax",
		"outcome":      "SUCCESS",
		"package_data": `{"zeta": 1, "alpha": {"b": true, "a": "<x&y>"}}`,
	})

	msg := New(Options{DataStyle: DataStyleIndent}).Format(ev)

	expected := "Package data:\n" +
		"{\n" +
		"  \"alpha\": {\n" +
		"    \"a\": \"<x&y>\",\n" +
		"    \"b\": true\n" +
		"  },\n" +
		"  \"zeta\": 1\n" +
		"}\n"
	assert.True(t, strings.HasSuffix(msg.Body, expected), "body was:\n%s", msg.Body)
}

func TestFormat_LinesStyle(t *testing.T) {
	ev := mustParse(t, event.Attributes{
		"package_id":   "pkg-1",
		"service":      "fornax",
		"outcome":      "SUCCESS",
		"package_data": `{"foo": "bar", "baz": [{"bus": true, "buz": false}], "empty": {}, "none": null, "size": 42}`,
	})

	msg := New(Options{DataStyle: DataStyleLines}).Format(ev)

	expected := "Package data:\n" +
		"baz[0].bus: true\n" +
		"baz[0].buz: false\n" +
		"empty: {}\n" +
		"foo: bar\n" +
		"none: null\n" +
		"size: 42\n"
	assert.True(t, strings.HasSuffix(msg.Body, expected), "body was:\n%s", msg.Body)
}

func TestFormat_UnknownStyleFallsBackToIndent(t *testing.T) {
	f := New(Options{DataStyle: "xml"})
	assert.Equal(t, DataStyleIndent, f.opts.DataStyle)
}

func TestFormat_TracebackTruncation(t *testing.T) {
	tests := []struct {
		name     string
		limit    int
		tb       string
		expected string
	}{
		{"unlimited", 0, "abcdef", "abcdef"},
		{"under limit", 10, "abcdef", "abcdef"},
		{"exact limit", 6, "abcdef", "abcdef"},
		{"over limit", 4, "abcdef", "abcd\n[traceback truncated: 2 bytes omitted]"},
		// "é" is two bytes; a cut at byte 2 would split it.
		{"rune boundary", 2, "aéb", "a\n[traceback truncated: 3 bytes omitted]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := mustParse(t, event.Attributes{
				"package_id": "pkg-1", "service": "fornax", "outcome": "FAILURE", "traceback": tt.tb,
			})
			msg := New(Options{MaxTracebackBytes: tt.limit}).Format(ev)
			assert.True(t, strings.HasSuffix(msg.Body, "Traceback:\n"+tt.expected), "body was:\n%s", msg.Body)
		})
	}
}

func TestFormat_Deterministic(t *testing.T) {
	faker := gofakeit.New(99)

	for _, style := range []DataStyle{DataStyleJSON, DataStyleIndent, DataStyleLines} {
		f := New(Options{DataStyle: style})
		for i := 0; i < 50; i++ {
			data := map[string]any{}
			for j := 0; j < 8; j++ {
				data[faker.Word()] = map[string]any{
					faker.Word(): faker.Number(0, 1000),
					faker.Word(): faker.Bool(),
				}
			}
			ev := mustParse(t, event.Attributes{
				"package_id":   faker.UUID(),
				"service":      faker.AppName(),
				"outcome":      "SUCCESS",
				"package_data": data,
			})

			first := f.Format(ev)
			second := f.Format(ev)
			assert.Equal(t, first, second)

			// A second parse of the same attributes must render identically too.
			again := mustParse(t, event.Attributes{
				"package_id":   ev.PackageID(),
				"service":      ev.Service(),
				"outcome":      "SUCCESS",
				"package_data": data,
			})
			assert.Equal(t, first, f.Format(again))
		}
	}
}

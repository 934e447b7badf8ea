// Package format renders a validated IngestEvent as a human-readable
// notification with a subject line and a body.
package format

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/telhawk-systems/ingest-notify/notifier/internal/event"
)

// DataStyle selects how package data is rendered in a SUCCESS body.
type DataStyle string

const (
	// DataStyleJSON renders compact JSON with sorted keys.
	DataStyleJSON DataStyle = "json"
	// DataStyleIndent renders indented JSON with sorted keys.
	DataStyleIndent DataStyle = "indent"
	// DataStyleLines renders one "dotted.key: value" line per leaf.
	DataStyleLines DataStyle = "lines"
)

// ParseDataStyle converts a configuration string into a DataStyle.
// An empty string selects DataStyleIndent.
func ParseDataStyle(s string) (DataStyle, error) {
	switch DataStyle(s) {
	case "":
		return DataStyleIndent, nil
	case DataStyleJSON, DataStyleIndent, DataStyleLines:
		return DataStyle(s), nil
	default:
		return "", fmt.Errorf("unknown package data style %q", s)
	}
}

// Message is the notification produced for one event.
type Message struct {
	Subject string
	Body    string
}

// Options configures rendering.
type Options struct {
	// DataStyle selects the package data rendering. Zero value is DataStyleIndent.
	DataStyle DataStyle

	// MaxTracebackBytes caps the traceback length in the body. Zero or
	// negative means unlimited.
	MaxTracebackBytes int
}

// Formatter is safe for concurrent use; it holds only immutable options.
type Formatter struct {
	opts Options
}

// New returns a Formatter. Unknown data styles fall back to DataStyleIndent.
func New(opts Options) *Formatter {
	if style, err := ParseDataStyle(string(opts.DataStyle)); err == nil {
		opts.DataStyle = style
	} else {
		opts.DataStyle = DataStyleIndent
	}
	return &Formatter{opts: opts}
}

// Format renders ev. It never fails for a parsed event and is deterministic.
func (f *Formatter) Format(ev *event.IngestEvent) Message {
	return Message{
		Subject: Subject(ev),
		Body:    f.body(ev),
	}
}

// Subject builds "<service>: <outcome> — package <package_id>".
func Subject(ev *event.IngestEvent) string {
	return fmt.Sprintf("%s: %s — package %s", ev.Service(), ev.Outcome(), ev.PackageID())
}

func (f *Formatter) body(ev *event.IngestEvent) string {
	var b strings.Builder

	switch ev.Outcome() {
	case event.OutcomeSuccess:
		fmt.Fprintf(&b, "%s completed successfully for package %s.\n", ev.Service(), ev.PackageID())
		if ev.HasPackageData() {
			b.WriteString("\nPackage data:\n")
			b.WriteString(f.renderData(ev.PackageData()))
			b.WriteString("\n")
		}
	case event.OutcomeFailure:
		fmt.Fprintf(&b, "%s failed for package %s.\n", ev.Service(), ev.PackageID())
		b.WriteString("\nTraceback:\n")
		b.WriteString(f.traceback(ev.Traceback()))
	default:
		panic(fmt.Sprintf("format: unhandled outcome %q", ev.Outcome()))
	}

	return b.String()
}

func (f *Formatter) renderData(data map[string]any) string {
	switch f.opts.DataStyle {
	case DataStyleJSON:
		return marshal(data, "")
	case DataStyleLines:
		return renderLines(data)
	default:
		return marshal(data, "  ")
	}
}

// marshal renders data as JSON. encoding/json sorts map keys, which keeps the
// output deterministic. HTML escaping is disabled so "<" and "&" stay readable.
func marshal(data map[string]any, indent string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if indent != "" {
		enc.SetIndent("", indent)
	}
	if err := enc.Encode(data); err != nil {
		// Parsed package data always round-trips through JSON.
		return fmt.Sprintf("%v", data)
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

func renderLines(data map[string]any) string {
	var lines []string
	flatten("", data, &lines)
	sort.Strings(lines)
	return strings.Join(lines, "\n")
}

func flatten(prefix string, v any, lines *[]string) {
	switch t := v.(type) {
	case map[string]any:
		if len(t) == 0 {
			*lines = append(*lines, prefix+": {}")
			return
		}
		for k, child := range t {
			flatten(joinKey(prefix, k), child, lines)
		}
	case []any:
		if len(t) == 0 {
			*lines = append(*lines, prefix+": []")
			return
		}
		for i, child := range t {
			flatten(fmt.Sprintf("%s[%d]", prefix, i), child, lines)
		}
	case string:
		*lines = append(*lines, prefix+": "+t)
	case nil:
		*lines = append(*lines, prefix+": null")
	default:
		*lines = append(*lines, fmt.Sprintf("%s: %v", prefix, t))
	}
}

func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

// traceback applies MaxTracebackBytes, cutting on a rune boundary.
func (f *Formatter) traceback(tb string) string {
	limit := f.opts.MaxTracebackBytes
	if limit <= 0 || len(tb) <= limit {
		return tb
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(tb[cut]) {
		cut--
	}
	return fmt.Sprintf("%s\n[traceback truncated: %d bytes omitted]", tb[:cut], len(tb)-cut)
}

package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Parse validates raw attributes and builds an IngestEvent.
// Unknown attributes are ignored. Every problem found is reported in the
// returned *ValidationError. Parse has no side effects.
func Parse(attrs Attributes) (*IngestEvent, error) {
	var probs problems
	ev := &IngestEvent{}

	ev.packageID = requiredString(attrs, AttrPackageID, &probs)
	ev.service = requiredString(attrs, AttrService, &probs)

	rawOutcome, ok, err := stringAttr(attrs, AttrOutcome)
	switch {
	case err != nil:
		probs.add(AttrOutcome, err.Error())
	case !ok || strings.TrimSpace(rawOutcome) == "":
		probs.add(AttrOutcome, "missing")
	default:
		outcome, err := ParseOutcome(rawOutcome)
		if err != nil {
			probs.add(AttrOutcome, err.Error())
		}
		ev.outcome = outcome
	}

	// package_data is only read on SUCCESS and traceback only on FAILURE; the
	// other outcome drops them without validating.
	switch ev.outcome {
	case OutcomeSuccess:
		data, err := packageDataAttr(attrs)
		if err != nil {
			probs.add(AttrPackageData, err.Error())
		}
		ev.packageData = data
	case OutcomeFailure:
		traceback, _, err := stringAttr(attrs, AttrTraceback)
		switch {
		case err != nil:
			probs.add(AttrTraceback, err.Error())
		case strings.TrimSpace(traceback) == "":
			probs.add(AttrTraceback, "required when outcome is FAILURE")
		}
		ev.traceback = traceback
	}

	if err := probs.err(); err != nil {
		return nil, err
	}
	return ev, nil
}

func requiredString(attrs Attributes, name string, probs *problems) string {
	v, ok, err := stringAttr(attrs, name)
	if err != nil {
		probs.add(name, err.Error())
		return ""
	}
	v = strings.TrimSpace(v)
	if !ok || v == "" {
		probs.add(name, "missing")
		return ""
	}
	return v
}

// stringAttr reads a string attribute. ok is false when the attribute is
// absent or null.
func stringAttr(attrs Attributes, name string) (value string, ok bool, err error) {
	raw, present := attrs[name]
	if !present || raw == nil {
		return "", false, nil
	}
	switch v := unwrapAttribute(raw).(type) {
	case nil:
		return "", false, nil
	case string:
		return v, true, nil
	case []byte:
		return string(v), true, nil
	default:
		return "", false, fmt.Errorf("must be a string, got %T", v)
	}
}

// packageDataAttr reads package_data as a JSON object. It accepts a decoded
// object or a JSON-encoded string. Empty strings count as absent.
func packageDataAttr(attrs Attributes) (map[string]any, error) {
	raw, present := attrs[AttrPackageData]
	if !present || raw == nil {
		return nil, nil
	}

	var encoded []byte
	switch v := unwrapAttribute(raw).(type) {
	case nil:
		return nil, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return nil, nil
		}
		encoded = []byte(v)
	case []byte:
		if len(bytes.TrimSpace(v)) == 0 {
			return nil, nil
		}
		encoded = v
	case map[string]any:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("not JSON-serializable: %v", err)
		}
		encoded = b
	default:
		return nil, fmt.Errorf("must be a JSON object, got %T", v)
	}

	return decodeObject(encoded)
}

// decodeObject decodes exactly one JSON object, keeping numbers as json.Number
// so they render exactly as the producer sent them.
func decodeObject(b []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("invalid JSON: %v", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("invalid JSON: trailing data after object")
	}

	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("must be a JSON object, got %s", jsonKind(v))
	}
	return obj, nil
}

// snsAttributeKeys are the keys of an SNS/SQS message attribute object.
var snsAttributeKeys = map[string]bool{
	"Type": true, "DataType": true, "Value": true, "StringValue": true, "BinaryValue": true,
}

// unwrapAttribute returns the value inside an SNS-style attribute object
// ({"Type": "String", "Value": "..."} or {"DataType": ..., "StringValue": ...}).
// The object must carry a type key and a string value, and nothing outside the
// attribute keys. Anything else is returned unchanged.
func unwrapAttribute(v any) any {
	m, ok := v.(map[string]any)
	if !ok || len(m) == 0 {
		return v
	}
	for k := range m {
		if !snsAttributeKeys[k] {
			return v
		}
	}
	_, hasType := m["Type"]
	_, hasDataType := m["DataType"]
	if !hasType && !hasDataType {
		return v
	}
	for _, key := range []string{"Value", "StringValue"} {
		if val, ok := m[key].(string); ok {
			return val
		}
	}
	return v
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	case json.Number, float64:
		return "number"
	default:
		return fmt.Sprintf("%T", v)
	}
}

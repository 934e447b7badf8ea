package consumer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/telhawk-systems/ingest-notify/common/messaging"
	"github.com/telhawk-systems/ingest-notify/notifier/internal/event"
)

// DecodeAttributes turns a transport message into ingest attributes.
//
// Headers become string attributes. A non-empty body must be a JSON object:
// either the attributes themselves, an object holding MessageAttributes, or
// an SNS notification envelope, in which case the first record is used.
// Body attributes override headers with the same name.
func DecodeAttributes(msg *messaging.Message) (event.Attributes, error) {
	attrs := event.Attributes{}
	if msg == nil {
		return attrs, nil
	}
	for k, v := range msg.Metadata {
		attrs[k] = v
	}

	body := bytes.TrimSpace(msg.Data)
	if len(body) == 0 {
		return attrs, nil
	}

	var doc map[string]any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil || doc == nil {
		return nil, event.NewValidationError("body", "not a JSON object")
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, event.NewValidationError("body", "trailing data after JSON object")
	}

	fromBody, err := bodyAttributes(doc)
	if err != nil {
		return nil, err
	}
	for k, v := range fromBody {
		attrs[k] = v
	}
	return attrs, nil
}

func bodyAttributes(doc map[string]any) (map[string]any, error) {
	if raw, ok := doc["Records"]; ok {
		records, ok := raw.([]any)
		if !ok || len(records) == 0 {
			return nil, event.NewValidationError("Records", "expected a non-empty array")
		}
		record, ok := records[0].(map[string]any)
		if !ok {
			return nil, event.NewValidationError("Records", "first record is not an object")
		}
		sns, ok := record["Sns"].(map[string]any)
		if !ok {
			return nil, event.NewValidationError("Records", "first record has no Sns notification")
		}
		return messageAttributes(sns, "Records[0].Sns.MessageAttributes")
	}
	if _, ok := doc["MessageAttributes"]; ok {
		return messageAttributes(doc, "MessageAttributes")
	}
	return doc, nil
}

func messageAttributes(container map[string]any, field string) (map[string]any, error) {
	attrs, ok := container["MessageAttributes"].(map[string]any)
	if !ok {
		return nil, event.NewValidationError(field, fmt.Sprintf("expected an object, got %T", container["MessageAttributes"]))
	}
	return attrs, nil
}

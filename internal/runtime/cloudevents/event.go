// Package cloudevents implements the CloudEvents v1.0 JSON envelope used by
// the hub binding, with adapterflow extension attributes for call routing.
package cloudevents

import (
	"encoding/json"
	"fmt"
	"time"

	idspkg "github.com/drblury/adapterflow/internal/runtime/ids"
	"github.com/drblury/adapterflow/internal/runtime/jsoncodec"
)

// SpecVersion is the CloudEvents specification version implemented.
const SpecVersion = "1.0"

// ContentTypeJSON is the data content type of every hub event.
const ContentTypeJSON = "application/json"

// Event is a CloudEvents v1.0 event. Data holds raw JSON so payloads cross
// the hub without being decoded.
type Event struct {
	// Required attributes
	SpecVersion string
	Type        string
	Source      string
	ID          string

	// Optional attributes
	Time            time.Time
	DataContentType *string
	Subject         *string
	Data            json.RawMessage

	// Extensions are flattened into the top-level JSON object. Adapterflow
	// extensions use the "pf_" prefix.
	Extensions map[string]any
}

// New creates an event with a fresh ULID and the current time.
func New(eventType, source string, data []byte) Event {
	evt := Event{
		SpecVersion: SpecVersion,
		Type:        eventType,
		Source:      source,
		ID:          idspkg.CreateULID(),
		Time:        time.Now().UTC(),
		Extensions:  make(map[string]any),
	}
	if len(data) > 0 {
		evt.Data = json.RawMessage(data)
		evt = evt.WithDataContentType(ContentTypeJSON)
	}
	return evt
}

// WithSubject sets the subject field and returns the event.
func (e Event) WithSubject(subject string) Event {
	e.Subject = &subject
	return e
}

// WithDataContentType sets the data content type and returns the event.
func (e Event) WithDataContentType(contentType string) Event {
	e.DataContentType = &contentType
	return e
}

// WithExtension sets an extension attribute and returns the event.
func (e Event) WithExtension(key string, value any) Event {
	if e.Extensions == nil {
		e.Extensions = make(map[string]any)
	}
	e.Extensions[key] = value
	return e
}

// GetExtension returns an extension value, or nil.
func (e Event) GetExtension(key string) any {
	if e.Extensions == nil {
		return nil
	}
	return e.Extensions[key]
}

// GetExtensionString returns an extension as a string. Missing extensions
// yield "".
func (e Event) GetExtensionString(key string) string {
	v := e.GetExtension(key)
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// GetExtensionInt64 returns a numeric extension. Missing or non-numeric
// extensions yield 0.
func (e Event) GetExtensionInt64(key string) int64 {
	switch n := e.GetExtension(key).(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case uint64:
		return int64(n)
	case float64:
		return int64(n)
	case json.Number:
		i, _ := n.Int64()
		return i
	default:
		return 0
	}
}

// Validate checks the required CloudEvents attributes.
func (e Event) Validate() error {
	if e.SpecVersion == "" {
		return fmt.Errorf("specversion is required")
	}
	if e.SpecVersion != SpecVersion {
		return fmt.Errorf("specversion must be %q, got %q", SpecVersion, e.SpecVersion)
	}
	if e.Type == "" {
		return fmt.Errorf("type is required")
	}
	if e.Source == "" {
		return fmt.Errorf("source is required")
	}
	if e.ID == "" {
		return fmt.Errorf("id is required")
	}
	return nil
}

// knownAttrs are the attributes that never land in Extensions.
var knownAttrs = map[string]bool{
	"specversion":     true,
	"type":            true,
	"source":          true,
	"id":              true,
	"time":            true,
	"datacontenttype": true,
	"subject":         true,
	"data":            true,
}

// MarshalJSON writes the structured CloudEvents JSON format.
func (e Event) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(e.Extensions)+8)
	for k, v := range e.Extensions {
		m[k] = v
	}
	m["specversion"] = e.SpecVersion
	m["type"] = e.Type
	m["source"] = e.Source
	m["id"] = e.ID
	if !e.Time.IsZero() {
		m["time"] = e.Time.Format(time.RFC3339Nano)
	}
	if e.DataContentType != nil {
		m["datacontenttype"] = *e.DataContentType
	}
	if e.Subject != nil {
		m["subject"] = *e.Subject
	}
	if len(e.Data) > 0 {
		m["data"] = e.Data
	}
	return jsoncodec.Marshal(m)
}

// UnmarshalJSON reads the structured CloudEvents JSON format.
func (e *Event) UnmarshalJSON(data []byte) error {
	var m map[string]json.RawMessage
	if err := jsoncodec.Unmarshal(data, &m); err != nil {
		return err
	}

	str := func(key string, dst *string) error {
		raw, ok := m[key]
		if !ok {
			return nil
		}
		if err := jsoncodec.Unmarshal(raw, dst); err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		return nil
	}
	for key, dst := range map[string]*string{
		"specversion": &e.SpecVersion,
		"type":        &e.Type,
		"source":      &e.Source,
		"id":          &e.ID,
	} {
		if err := str(key, dst); err != nil {
			return err
		}
	}

	if raw, ok := m["time"]; ok {
		var ts string
		if err := jsoncodec.Unmarshal(raw, &ts); err != nil {
			return fmt.Errorf("invalid time: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return fmt.Errorf("invalid time format: %w", err)
		}
		e.Time = t
	}
	if _, ok := m["datacontenttype"]; ok {
		var v string
		if err := str("datacontenttype", &v); err != nil {
			return err
		}
		e.DataContentType = &v
	}
	if _, ok := m["subject"]; ok {
		var v string
		if err := str("subject", &v); err != nil {
			return err
		}
		e.Subject = &v
	}
	if raw, ok := m["data"]; ok && string(raw) != "null" {
		e.Data = append(json.RawMessage(nil), raw...)
	}

	e.Extensions = make(map[string]any)
	for k, raw := range m {
		if knownAttrs[k] {
			continue
		}
		var v any
		if err := jsoncodec.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("invalid extension %q: %w", k, err)
		}
		e.Extensions[k] = v
	}
	return nil
}

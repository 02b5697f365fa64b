package features

import (
	"encoding/json"
	"time"
)

// AdapterProperty is a free-form name/value pair attached to results.
type AdapterProperty struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// TagValueStatus is the quality of a tag value.
type TagValueStatus string

const (
	StatusGood      TagValueStatus = "Good"
	StatusUncertain TagValueStatus = "Uncertain"
	StatusBad       TagValueStatus = "Bad"
)

// DigitalState is one named state of a digital tag.
type DigitalState struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

// TagDefinition describes a tag.
type TagDefinition struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Units       string            `json:"units,omitempty"`
	DataType    string            `json:"dataType,omitempty"`
	States      []DigitalState    `json:"states,omitempty"`
	Labels      []string          `json:"labels,omitempty"`
	Properties  []AdapterProperty `json:"properties,omitempty"`
}

// TagValue is one sample.
type TagValue struct {
	UtcSampleTime time.Time         `json:"utcSampleTime"`
	Value         any               `json:"value"`
	DisplayValue  string            `json:"displayValue,omitempty"`
	Status        TagValueStatus    `json:"status"`
	Units         string            `json:"units,omitempty"`
	Notes         string            `json:"notes,omitempty"`
	Error         string            `json:"error,omitempty"`
	Properties    []AdapterProperty `json:"properties,omitempty"`
}

// Float returns the value as float64 when it is numeric.
func (v TagValue) Float() (float64, bool) {
	switch n := v.Value.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// Query types reported in TagValueQueryResult.
const (
	QuerySnapshot  = "Snapshot"
	QueryRaw       = "Raw"
	QueryPlot      = "Plot"
	QueryProcessed = "Processed"
	QueryAtTimes   = "ValuesAtTimes"
)

// TagValueQueryResult is a value returned by a tag query.
type TagValueQueryResult struct {
	TagID     string   `json:"tagId"`
	TagName   string   `json:"tagName"`
	QueryType string   `json:"queryType"`
	Value     TagValue `json:"value"`
}

// ProcessedTagValueQueryResult is a value produced by a data function.
type ProcessedTagValueQueryResult struct {
	TagValueQueryResult
	DataFunction string `json:"dataFunction"`
}

// DataFunctionDescriptor describes an aggregation supported by
// ReadProcessedTagValues.
type DataFunctionDescriptor struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Built-in data function ids.
const (
	DataFunctionAverage = "AVG"
	DataFunctionMinimum = "MIN"
	DataFunctionMaximum = "MAX"
	DataFunctionCount   = "COUNT"
	DataFunctionRange   = "RANGE"
)

// WriteStatus is the outcome of one written item.
type WriteStatus string

const (
	WriteSuccess WriteStatus = "Success"
	WriteFail    WriteStatus = "Fail"
	WritePending WriteStatus = "Pending"
	WriteUnknown WriteStatus = "Unknown"
)

// WriteTagValueItem is one value to write.
type WriteTagValueItem struct {
	CorrelationID string         `json:"correlationId,omitempty"`
	TagID         string         `json:"tagId"`
	UtcSampleTime time.Time      `json:"utcSampleTime"`
	Value         any            `json:"value"`
	Status        TagValueStatus `json:"status,omitempty"`
	Units         string         `json:"units,omitempty"`
}

// WriteTagValueResult reports the outcome of one WriteTagValueItem.
type WriteTagValueResult struct {
	CorrelationID string      `json:"correlationId,omitempty"`
	TagID         string      `json:"tagId"`
	Status        WriteStatus `json:"status"`
	Notes         string      `json:"notes,omitempty"`
}

// EventPriority ranks event messages.
type EventPriority string

const (
	PriorityUnknown  EventPriority = "Unknown"
	PriorityLow      EventPriority = "Low"
	PriorityMedium   EventPriority = "Medium"
	PriorityHigh     EventPriority = "High"
	PriorityCritical EventPriority = "Critical"
)

// EventMessage is an alarm or event.
type EventMessage struct {
	ID           string            `json:"id"`
	Topic        string            `json:"topic,omitempty"`
	UtcEventTime time.Time         `json:"utcEventTime"`
	Priority     EventPriority     `json:"priority,omitempty"`
	Category     string            `json:"category,omitempty"`
	Type         string            `json:"type,omitempty"`
	Message      string            `json:"message,omitempty"`
	Properties   []AdapterProperty `json:"properties,omitempty"`
}

// EventMessageWithCursorPosition pairs a message with the cursor that
// resumes reading after it.
type EventMessageWithCursorPosition struct {
	EventMessage
	CursorPosition string `json:"cursorPosition"`
}

// WriteEventMessageItem is one event to write.
type WriteEventMessageItem struct {
	CorrelationID string       `json:"correlationId,omitempty"`
	Message       EventMessage `json:"message"`
}

// WriteEventMessageResult reports the outcome of one WriteEventMessageItem.
type WriteEventMessageResult struct {
	CorrelationID string      `json:"correlationId,omitempty"`
	Status        WriteStatus `json:"status"`
	Notes         string      `json:"notes,omitempty"`
}

// DataReference links an asset model node to a tag.
type DataReference struct {
	TagName string `json:"tagName"`
}

// AssetModelNode is a node of the asset hierarchy.
type AssetModelNode struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	Description   string            `json:"description,omitempty"`
	Parent        string            `json:"parent,omitempty"`
	HasChildren   bool              `json:"hasChildren"`
	DataReference *DataReference    `json:"dataReference,omitempty"`
	Properties    []AdapterProperty `json:"properties,omitempty"`
}

// AnnotationType is the shape of an annotation.
type AnnotationType string

const (
	AnnotationInstantaneous AnnotationType = "Instantaneous"
	AnnotationTimeRange     AnnotationType = "TimeRange"
)

// AnnotationFields are the writable fields of an annotation.
type AnnotationFields struct {
	AnnotationType AnnotationType    `json:"annotationType"`
	UtcStartTime   time.Time         `json:"utcStartTime"`
	UtcEndTime     *time.Time        `json:"utcEndTime,omitempty"`
	Value          string            `json:"value"`
	Description    string            `json:"description,omitempty"`
	Properties     []AdapterProperty `json:"properties,omitempty"`
}

// TagValueAnnotation is a note attached to a tag over an instant or a range.
type TagValueAnnotation struct {
	ID    string `json:"id"`
	TagID string `json:"tagId"`
	AnnotationFields
}

// TagValueAnnotationQueryResult groups annotations found for a tag.
type TagValueAnnotationQueryResult struct {
	TagID       string               `json:"tagId"`
	TagName     string               `json:"tagName"`
	Annotations []TagValueAnnotation `json:"annotations"`
}

// WriteTagValueAnnotationResult reports the outcome of an annotation write.
type WriteTagValueAnnotationResult struct {
	TagID        string      `json:"tagId"`
	AnnotationID string      `json:"annotationId"`
	Status       WriteStatus `json:"status"`
	Notes        string      `json:"notes,omitempty"`
}

// HealthStatus is an adapter health state.
type HealthStatus string

const (
	Healthy   HealthStatus = "Healthy"
	Degraded  HealthStatus = "Degraded"
	Unhealthy HealthStatus = "Unhealthy"
)

// HealthCheckResult is the result of a health check. Composite results
// carry the worst status of their children.
type HealthCheckResult struct {
	DisplayName  string              `json:"displayName"`
	Status       HealthStatus        `json:"status"`
	Description  string              `json:"description,omitempty"`
	Error        string              `json:"error,omitempty"`
	Data         map[string]string   `json:"data,omitempty"`
	InnerResults []HealthCheckResult `json:"innerResults,omitempty"`
}

// Composite builds a result whose status is the worst of inner.
func Composite(displayName string, inner ...HealthCheckResult) HealthCheckResult {
	status := Healthy
	for _, r := range inner {
		status = worst(status, r.Status)
	}
	return HealthCheckResult{DisplayName: displayName, Status: status, InnerResults: inner}
}

func worst(a, b HealthStatus) HealthStatus {
	rank := map[HealthStatus]int{Healthy: 0, Degraded: 1, Unhealthy: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// ExtensionOperation describes one operation of an extension feature.
type ExtensionOperation struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Streaming   bool   `json:"streaming"`
}

// InvokeExtensionResponse carries an opaque JSON result.
type InvokeExtensionResponse struct {
	Payload json.RawMessage `json:"payload,omitempty"`
}

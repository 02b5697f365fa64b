package features

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	errspkg "github.com/drblury/adapterflow/internal/runtime/errors"
)

// Request limits.
const (
	MaxPageSize          = 1000
	MaxTagsPerRequest    = 1000
	MaxIntervalsPerQuery = 10000
)

// Validator is implemented by every request.
type Validator interface {
	Validate() error
}

// Validate runs v.Validate when v is a Validator.
func Validate(v any) error {
	if val, ok := v.(Validator); ok {
		return val.Validate()
	}
	return nil
}

func validateTags(tags []string) error {
	if len(tags) == 0 {
		return errspkg.Validation("tags", "at least one tag is required")
	}
	if len(tags) > MaxTagsPerRequest {
		return errspkg.Validation("tags", fmt.Sprintf("at most %d tags are allowed", MaxTagsPerRequest))
	}
	for i, tag := range tags {
		if strings.TrimSpace(tag) == "" {
			return errspkg.Validation(fmt.Sprintf("tags[%d]", i), "tag must not be empty")
		}
	}
	return nil
}

func validateRange(start, end time.Time) error {
	if start.IsZero() {
		return errspkg.Validation("utcStartTime", "start time is required")
	}
	if end.IsZero() {
		return errspkg.Validation("utcEndTime", "end time is required")
	}
	if end.Before(start) {
		return errspkg.Validation("utcEndTime", "end time must not be before start time")
	}
	return nil
}

func validatePaging(pageSize, page int) error {
	if pageSize < 1 || pageSize > MaxPageSize {
		return errspkg.Validation("pageSize", fmt.Sprintf("must be between 1 and %d", MaxPageSize))
	}
	if page < 1 {
		return errspkg.Validation("page", "must be at least 1")
	}
	return nil
}

// FindTagsRequest searches tags by name, description, units or label.
// Filters use '*' as a wildcard.
type FindTagsRequest struct {
	Name        string            `json:"name,omitempty"`
	Description string            `json:"description,omitempty"`
	Units       string            `json:"units,omitempty"`
	Label       string            `json:"label,omitempty"`
	Other       map[string]string `json:"other,omitempty"`
	PageSize    int               `json:"pageSize"`
	Page        int               `json:"page"`
}

func (r FindTagsRequest) Validate() error { return validatePaging(r.PageSize, r.Page) }

// GetTagsRequest fetches tags by id or name.
type GetTagsRequest struct {
	Tags []string `json:"tags"`
}

func (r GetTagsRequest) Validate() error { return validateTags(r.Tags) }

// ReadSnapshotTagValuesRequest reads the current value of tags.
type ReadSnapshotTagValuesRequest struct {
	Tags []string `json:"tags"`
}

func (r ReadSnapshotTagValuesRequest) Validate() error { return validateTags(r.Tags) }

// RawDataBoundaryType controls whether raw queries include the samples
// immediately outside the range.
type RawDataBoundaryType string

const (
	BoundaryInside  RawDataBoundaryType = "Inside"
	BoundaryOutside RawDataBoundaryType = "Outside"
)

// ReadRawTagValuesRequest reads recorded samples in a time range.
// SampleCount limits the samples per tag; zero means no limit.
type ReadRawTagValuesRequest struct {
	Tags         []string            `json:"tags"`
	UtcStartTime time.Time           `json:"utcStartTime"`
	UtcEndTime   time.Time           `json:"utcEndTime"`
	SampleCount  int                 `json:"sampleCount"`
	BoundaryType RawDataBoundaryType `json:"boundaryType,omitempty"`
}

func (r ReadRawTagValuesRequest) Validate() error {
	if err := validateTags(r.Tags); err != nil {
		return err
	}
	if err := validateRange(r.UtcStartTime, r.UtcEndTime); err != nil {
		return err
	}
	if r.SampleCount < 0 {
		return errspkg.Validation("sampleCount", "must not be negative")
	}
	switch r.BoundaryType {
	case "", BoundaryInside, BoundaryOutside:
	default:
		return errspkg.Validation("boundaryType", fmt.Sprintf("unknown boundary type %q", r.BoundaryType))
	}
	return nil
}

// ReadPlotTagValuesRequest reads values suitable for plotting a trend over
// the given number of pixel intervals.
type ReadPlotTagValuesRequest struct {
	Tags         []string  `json:"tags"`
	UtcStartTime time.Time `json:"utcStartTime"`
	UtcEndTime   time.Time `json:"utcEndTime"`
	Intervals    int       `json:"intervals"`
}

func (r ReadPlotTagValuesRequest) Validate() error {
	if err := validateTags(r.Tags); err != nil {
		return err
	}
	if err := validateRange(r.UtcStartTime, r.UtcEndTime); err != nil {
		return err
	}
	if r.Intervals < 1 || r.Intervals > MaxIntervalsPerQuery {
		return errspkg.Validation("intervals", fmt.Sprintf("must be between 1 and %d", MaxIntervalsPerQuery))
	}
	return nil
}

// ReadProcessedTagValuesRequest aggregates values into fixed buckets.
type ReadProcessedTagValuesRequest struct {
	Tags           []string      `json:"tags"`
	UtcStartTime   time.Time     `json:"utcStartTime"`
	UtcEndTime     time.Time     `json:"utcEndTime"`
	SampleInterval time.Duration `json:"sampleInterval"`
	DataFunctions  []string      `json:"dataFunctions"`
}

func (r ReadProcessedTagValuesRequest) Validate() error {
	if err := validateTags(r.Tags); err != nil {
		return err
	}
	if err := validateRange(r.UtcStartTime, r.UtcEndTime); err != nil {
		return err
	}
	if r.SampleInterval <= 0 {
		return errspkg.Validation("sampleInterval", "must be positive")
	}
	if buckets := r.UtcEndTime.Sub(r.UtcStartTime) / r.SampleInterval; buckets > MaxIntervalsPerQuery {
		return errspkg.Validation("sampleInterval", fmt.Sprintf("produces more than %d buckets", MaxIntervalsPerQuery))
	}
	if len(r.DataFunctions) == 0 {
		return errspkg.Validation("dataFunctions", "at least one data function is required")
	}
	return nil
}

// ReadTagValuesAtTimesRequest reads interpolated values at given instants.
type ReadTagValuesAtTimesRequest struct {
	Tags           []string    `json:"tags"`
	UtcSampleTimes []time.Time `json:"utcSampleTimes"`
}

func (r ReadTagValuesAtTimesRequest) Validate() error {
	if err := validateTags(r.Tags); err != nil {
		return err
	}
	if len(r.UtcSampleTimes) == 0 {
		return errspkg.Validation("utcSampleTimes", "at least one sample time is required")
	}
	return nil
}

// WriteTagValuesRequest opens a snapshot write. The values themselves
// arrive as a sequence.
type WriteTagValuesRequest struct {
	Properties map[string]string `json:"properties,omitempty"`
}

func (r WriteTagValuesRequest) Validate() error { return nil }

// Validate checks one item of a write stream.
func (i WriteTagValueItem) Validate() error {
	if strings.TrimSpace(i.TagID) == "" {
		return errspkg.Validation("tagId", "tag is required")
	}
	if i.UtcSampleTime.IsZero() {
		return errspkg.Validation("utcSampleTime", "sample time is required")
	}
	return nil
}

// CreateSnapshotTagValueSubscriptionRequest subscribes to snapshot changes
// of a set of tags.
type CreateSnapshotTagValueSubscriptionRequest struct {
	Tags            []string      `json:"tags"`
	PublishInterval time.Duration `json:"publishInterval,omitempty"`
}

func (r CreateSnapshotTagValueSubscriptionRequest) Validate() error {
	if err := validateTags(r.Tags); err != nil {
		return err
	}
	if r.PublishInterval < 0 {
		return errspkg.Validation("publishInterval", "must not be negative")
	}
	return nil
}

// Topic normalises the tag set into a subscription topic so that requests
// for the same tags in any order share one feed.
func (r CreateSnapshotTagValueSubscriptionRequest) Topic() string {
	tags := append([]string(nil), r.Tags...)
	sort.Strings(tags)
	topic := strings.Join(tags, ",")
	if r.PublishInterval > 0 {
		topic += "@" + r.PublishInterval.String()
	}
	return topic
}

// SubscriptionType is the subscriber kind requested by a push consumer.
type SubscriptionType string

const (
	SubscriptionActive  SubscriptionType = "Active"
	SubscriptionPassive SubscriptionType = "Passive"
)

// CreateEventMessageSubscriptionRequest subscribes to event messages,
// optionally restricted to one topic.
type CreateEventMessageSubscriptionRequest struct {
	SubscriptionType SubscriptionType `json:"subscriptionType"`
	Topic            string           `json:"topic,omitempty"`
}

func (r CreateEventMessageSubscriptionRequest) Validate() error {
	switch r.SubscriptionType {
	case "", SubscriptionActive, SubscriptionPassive:
		return nil
	}
	return errspkg.Validation("subscriptionType", fmt.Sprintf("unknown subscription type %q", r.SubscriptionType))
}

// IsPassive reports whether the request asks for a passive subscription.
func (r CreateEventMessageSubscriptionRequest) IsPassive() bool {
	return r.SubscriptionType == SubscriptionPassive
}

// ReadDirection orders historical event reads.
type ReadDirection string

const (
	Forwards  ReadDirection = "Forwards"
	Backwards ReadDirection = "Backwards"
)

func validateDirection(d ReadDirection) error {
	switch d {
	case "", Forwards, Backwards:
		return nil
	}
	return errspkg.Validation("direction", fmt.Sprintf("unknown direction %q", d))
}

// ReadEventMessagesForTimeRangeRequest reads historical events by time.
type ReadEventMessagesForTimeRangeRequest struct {
	UtcStartTime time.Time     `json:"utcStartTime"`
	UtcEndTime   time.Time     `json:"utcEndTime"`
	Topics       []string      `json:"topics,omitempty"`
	Direction    ReadDirection `json:"direction,omitempty"`
	PageSize     int           `json:"pageSize"`
	Page         int           `json:"page"`
}

func (r ReadEventMessagesForTimeRangeRequest) Validate() error {
	if err := validateRange(r.UtcStartTime, r.UtcEndTime); err != nil {
		return err
	}
	if err := validateDirection(r.Direction); err != nil {
		return err
	}
	return validatePaging(r.PageSize, r.Page)
}

// ReadEventMessagesUsingCursorRequest reads historical events after (or
// before) a cursor position. An empty cursor starts at the oldest (or
// newest) message.
type ReadEventMessagesUsingCursorRequest struct {
	CursorPosition string        `json:"cursorPosition,omitempty"`
	Topic          string        `json:"topic,omitempty"`
	Direction      ReadDirection `json:"direction,omitempty"`
	PageSize       int           `json:"pageSize"`
}

func (r ReadEventMessagesUsingCursorRequest) Validate() error {
	if err := validateDirection(r.Direction); err != nil {
		return err
	}
	if r.PageSize < 1 || r.PageSize > MaxPageSize {
		return errspkg.Validation("pageSize", fmt.Sprintf("must be between 1 and %d", MaxPageSize))
	}
	return nil
}

// WriteEventMessagesRequest opens an event write. The messages arrive as a
// sequence.
type WriteEventMessagesRequest struct {
	Properties map[string]string `json:"properties,omitempty"`
}

func (r WriteEventMessagesRequest) Validate() error { return nil }

// Validate checks one item of a write stream.
func (i WriteEventMessageItem) Validate() error {
	if strings.TrimSpace(i.Message.Message) == "" {
		return errspkg.Validation("message.message", "message text is required")
	}
	return nil
}

// BrowseAssetModelNodesRequest lists the children of a node; an empty
// ParentID lists the roots.
type BrowseAssetModelNodesRequest struct {
	ParentID string `json:"parentId,omitempty"`
	PageSize int    `json:"pageSize"`
	Page     int    `json:"page"`
}

func (r BrowseAssetModelNodesRequest) Validate() error { return validatePaging(r.PageSize, r.Page) }

// GetAssetModelNodesRequest fetches nodes by id.
type GetAssetModelNodesRequest struct {
	Nodes []string `json:"nodes"`
}

func (r GetAssetModelNodesRequest) Validate() error {
	if len(r.Nodes) == 0 {
		return errspkg.Validation("nodes", "at least one node is required")
	}
	return nil
}

// FindAssetModelNodesRequest searches nodes by name or description.
type FindAssetModelNodesRequest struct {
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	PageSize    int    `json:"pageSize"`
	Page        int    `json:"page"`
}

func (r FindAssetModelNodesRequest) Validate() error { return validatePaging(r.PageSize, r.Page) }

// ReadAnnotationsRequest reads the annotations of tags in a time range.
type ReadAnnotationsRequest struct {
	Tags               []string  `json:"tags"`
	UtcStartTime       time.Time `json:"utcStartTime"`
	UtcEndTime         time.Time `json:"utcEndTime"`
	MaxAnnotationCount int       `json:"maxAnnotationCount"`
}

func (r ReadAnnotationsRequest) Validate() error {
	if err := validateTags(r.Tags); err != nil {
		return err
	}
	if err := validateRange(r.UtcStartTime, r.UtcEndTime); err != nil {
		return err
	}
	if r.MaxAnnotationCount < 0 {
		return errspkg.Validation("maxAnnotationCount", "must not be negative")
	}
	return nil
}

// ReadAnnotationRequest fetches one annotation.
type ReadAnnotationRequest struct {
	TagID        string `json:"tagId"`
	AnnotationID string `json:"annotationId"`
}

func (r ReadAnnotationRequest) Validate() error {
	return validateAnnotationRef(r.TagID, r.AnnotationID)
}

func validateAnnotationRef(tagID, annotationID string) error {
	if strings.TrimSpace(tagID) == "" {
		return errspkg.Validation("tagId", "tag is required")
	}
	if strings.TrimSpace(annotationID) == "" {
		return errspkg.Validation("annotationId", "annotation id is required")
	}
	return nil
}

func (f AnnotationFields) validate() error {
	switch f.AnnotationType {
	case AnnotationInstantaneous:
	case AnnotationTimeRange:
		if f.UtcEndTime == nil {
			return errspkg.Validation("annotation.utcEndTime", "time range annotations need an end time")
		}
		if f.UtcEndTime.Before(f.UtcStartTime) {
			return errspkg.Validation("annotation.utcEndTime", "end time must not be before start time")
		}
	default:
		return errspkg.Validation("annotation.annotationType", fmt.Sprintf("unknown annotation type %q", f.AnnotationType))
	}
	if f.UtcStartTime.IsZero() {
		return errspkg.Validation("annotation.utcStartTime", "start time is required")
	}
	if strings.TrimSpace(f.Value) == "" {
		return errspkg.Validation("annotation.value", "value is required")
	}
	return nil
}

// CreateAnnotationRequest adds an annotation to a tag.
type CreateAnnotationRequest struct {
	TagID      string           `json:"tagId"`
	Annotation AnnotationFields `json:"annotation"`
}

func (r CreateAnnotationRequest) Validate() error {
	if strings.TrimSpace(r.TagID) == "" {
		return errspkg.Validation("tagId", "tag is required")
	}
	return r.Annotation.validate()
}

// UpdateAnnotationRequest replaces the fields of an annotation.
type UpdateAnnotationRequest struct {
	TagID        string           `json:"tagId"`
	AnnotationID string           `json:"annotationId"`
	Annotation   AnnotationFields `json:"annotation"`
}

func (r UpdateAnnotationRequest) Validate() error {
	if err := validateAnnotationRef(r.TagID, r.AnnotationID); err != nil {
		return err
	}
	return r.Annotation.validate()
}

// DeleteAnnotationRequest removes an annotation.
type DeleteAnnotationRequest struct {
	TagID        string `json:"tagId"`
	AnnotationID string `json:"annotationId"`
}

func (r DeleteAnnotationRequest) Validate() error {
	return validateAnnotationRef(r.TagID, r.AnnotationID)
}

// InvokeExtensionRequest calls an extension operation with an opaque JSON
// payload.
type InvokeExtensionRequest struct {
	OperationID string          `json:"operationId"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

func (r InvokeExtensionRequest) Validate() error {
	if strings.TrimSpace(r.OperationID) == "" {
		return errspkg.Validation("operationId", "operation id is required")
	}
	if len(r.Payload) > 0 && !json.Valid(r.Payload) {
		return errspkg.Validation("payload", "payload must be valid JSON")
	}
	return nil
}

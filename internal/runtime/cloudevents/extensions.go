package cloudevents

// Adapterflow extension keys. Hub envelopes carry call routing and
// completion status in these.
const (
	// ExtCallID correlates every event of one remote call.
	ExtCallID = "pf_call_id"

	// ExtReplyTo is the topic the caller listens on.
	ExtReplyTo = "pf_reply_to"

	ExtAdapterID = "pf_adapter_id"
	ExtFeature   = "pf_feature"
	ExtOperation = "pf_operation"

	// ExtSeq orders the items of a stream, starting at 0.
	ExtSeq = "pf_seq"

	// ExtCount is the number of items that preceded a completion.
	ExtCount = "pf_count"

	// ExtErrorKind classifies a failed completion.
	ExtErrorKind = "pf_error_kind"

	// ExtErrorMessage stores the failure message of a completion.
	ExtErrorMessage = "pf_error_message"

	// ExtCorrelationID is the caller's correlation id.
	ExtCorrelationID = "pf_correlation_id"

	// ExtTraceID is the distributed trace id.
	ExtTraceID = "pf_trace_id"
)

// CallID returns the call an event belongs to.
func CallID(evt Event) string {
	return evt.GetExtensionString(ExtCallID)
}

// ReplyTo returns the caller's reply topic.
func ReplyTo(evt Event) string {
	return evt.GetExtensionString(ExtReplyTo)
}

// Seq returns the position of a stream item.
func Seq(evt Event) uint64 {
	return uint64(evt.GetExtensionInt64(ExtSeq))
}

// SetSeq stores the position of a stream item.
func SetSeq(evt *Event, seq uint64) {
	if evt.Extensions == nil {
		evt.Extensions = make(map[string]any)
	}
	evt.Extensions[ExtSeq] = seq
}

// Count returns the item count carried by a completion.
func Count(evt Event) uint64 {
	return uint64(evt.GetExtensionInt64(ExtCount))
}

// SetCount stores the item count of a completion.
func SetCount(evt *Event, n uint64) {
	if evt.Extensions == nil {
		evt.Extensions = make(map[string]any)
	}
	evt.Extensions[ExtCount] = n
}

// ErrorKind returns the failure class of a completion, or "".
func ErrorKind(evt Event) string {
	return evt.GetExtensionString(ExtErrorKind)
}

// GetErrorMessage returns the failure message of a completion.
func GetErrorMessage(evt Event) string {
	return evt.GetExtensionString(ExtErrorMessage)
}

// SetError stores a failure class and message.
func SetError(evt *Event, kind, msg string) {
	if evt.Extensions == nil {
		evt.Extensions = make(map[string]any)
	}
	evt.Extensions[ExtErrorKind] = kind
	evt.Extensions[ExtErrorMessage] = msg
}

// GetCorrelationID returns the correlation id.
func GetCorrelationID(evt Event) string {
	return evt.GetExtensionString(ExtCorrelationID)
}

// SetCorrelationID sets the correlation id.
func SetCorrelationID(evt *Event, correlationID string) {
	if evt.Extensions == nil {
		evt.Extensions = make(map[string]any)
	}
	evt.Extensions[ExtCorrelationID] = correlationID
}

// GetTraceID returns the distributed trace id.
func GetTraceID(evt Event) string {
	return evt.GetExtensionString(ExtTraceID)
}

// SetTraceID sets the distributed trace id.
func SetTraceID(evt *Event, traceID string) {
	if evt.Extensions == nil {
		evt.Extensions = make(map[string]any)
	}
	evt.Extensions[ExtTraceID] = traceID
}

// CopyTracingContext copies tracing extensions from src to dst.
func CopyTracingContext(src Event, dst *Event) {
	if traceID := GetTraceID(src); traceID != "" {
		SetTraceID(dst, traceID)
	}
	if correlationID := GetCorrelationID(src); correlationID != "" {
		SetCorrelationID(dst, correlationID)
	}
}

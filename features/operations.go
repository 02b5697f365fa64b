package features

// OperationKind tells the remote bindings how an operation travels.
type OperationKind int

const (
	// Unary operations produce exactly one result.
	Unary OperationKind = iota
	// ServerStream operations produce a finite sequence of results.
	ServerStream
	// ClientStream operations consume an input sequence and stream results.
	ClientStream
	// Push operations produce an unbounded live feed.
	Push
)

func (k OperationKind) String() string {
	switch k {
	case Unary:
		return "unary"
	case ServerStream:
		return "server-stream"
	case ClientStream:
		return "client-stream"
	case Push:
		return "push"
	default:
		return "unknown"
	}
}

// Operation names used on the wire.
const (
	OpCheckHealth                   = "CheckHealth"
	OpFindTags                      = "FindTags"
	OpGetTags                       = "GetTags"
	OpReadSnapshotTagValues         = "ReadSnapshotTagValues"
	OpReadRawTagValues              = "ReadRawTagValues"
	OpReadPlotTagValues             = "ReadPlotTagValues"
	OpGetSupportedDataFunctions     = "GetSupportedDataFunctions"
	OpReadProcessedTagValues        = "ReadProcessedTagValues"
	OpReadTagValuesAtTimes          = "ReadTagValuesAtTimes"
	OpWriteSnapshotTagValues        = "WriteSnapshotTagValues"
	OpSubscribeSnapshotTagValues    = "SubscribeSnapshotTagValues"
	OpSubscribeEventMessages        = "SubscribeEventMessages"
	OpReadEventMessagesForTimeRange = "ReadEventMessagesForTimeRange"
	OpReadEventMessagesUsingCursor  = "ReadEventMessagesUsingCursor"
	OpWriteEventMessages            = "WriteEventMessages"
	OpBrowseAssetModelNodes         = "BrowseAssetModelNodes"
	OpGetAssetModelNodes            = "GetAssetModelNodes"
	OpFindAssetModelNodes           = "FindAssetModelNodes"
	OpReadAnnotations               = "ReadAnnotations"
	OpReadAnnotation                = "ReadAnnotation"
	OpCreateAnnotation              = "CreateAnnotation"
	OpUpdateAnnotation              = "UpdateAnnotation"
	OpDeleteAnnotation              = "DeleteAnnotation"
	OpExtensionOperations           = "Operations"
	OpExtensionInvoke               = "Invoke"
	OpExtensionStream               = "Stream"
)

// Operation describes one operation of a contract.
type Operation struct {
	Feature string
	Name    string
	Kind    OperationKind
}

var operations = map[string]map[string]OperationKind{
	HealthCheckFeature.URI(): {OpCheckHealth: Unary},
	TagSearchFeature.URI(): {
		OpFindTags: ServerStream,
		OpGetTags:  ServerStream,
	},
	ReadSnapshotTagValuesFeature.URI(): {OpReadSnapshotTagValues: ServerStream},
	ReadRawTagValuesFeature.URI():      {OpReadRawTagValues: ServerStream},
	ReadPlotTagValuesFeature.URI():     {OpReadPlotTagValues: ServerStream},
	ReadProcessedTagValuesFeature.URI(): {
		OpGetSupportedDataFunctions: ServerStream,
		OpReadProcessedTagValues:    ServerStream,
	},
	ReadTagValuesAtTimesFeature.URI():          {OpReadTagValuesAtTimes: ServerStream},
	WriteSnapshotTagValuesFeature.URI():        {OpWriteSnapshotTagValues: ClientStream},
	SnapshotTagValuePushFeature.URI():          {OpSubscribeSnapshotTagValues: Push},
	EventMessagePushFeature.URI():              {OpSubscribeEventMessages: Push},
	ReadEventMessagesForTimeRangeFeature.URI(): {OpReadEventMessagesForTimeRange: ServerStream},
	ReadEventMessagesUsingCursorFeature.URI():  {OpReadEventMessagesUsingCursor: ServerStream},
	WriteEventMessagesFeature.URI():            {OpWriteEventMessages: ClientStream},
	AssetModelBrowseFeature.URI(): {
		OpBrowseAssetModelNodes: ServerStream,
		OpGetAssetModelNodes:    ServerStream,
	},
	AssetModelSearchFeature.URI(): {OpFindAssetModelNodes: ServerStream},
	ReadAnnotationsFeature.URI(): {
		OpReadAnnotations: ServerStream,
		OpReadAnnotation:  Unary,
	},
	WriteAnnotationsFeature.URI(): {
		OpCreateAnnotation: Unary,
		OpUpdateAnnotation: Unary,
		OpDeleteAnnotation: Unary,
	},
}

var extensionOperations = map[string]OperationKind{
	OpExtensionOperations: ServerStream,
	OpExtensionInvoke:     Unary,
	OpExtensionStream:     ServerStream,
}

// LookupOperation returns the kind of op on the contract registered under
// featureURI. Every extension URI shares the extension operations.
func LookupOperation(featureURI, op string) (Operation, bool) {
	ops, ok := operations[featureURI]
	if !ok {
		if _, builtin := Builtin(featureURI); builtin {
			return Operation{}, false
		}
		ops = extensionOperations
	}
	kind, ok := ops[op]
	if !ok {
		return Operation{}, false
	}
	return Operation{Feature: featureURI, Name: op, Kind: kind}, true
}

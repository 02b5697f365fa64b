package adapter

import (
	"github.com/drblury/adapterflow/internal/runtime/ids"
	"github.com/drblury/adapterflow/internal/runtime/metadata"
)

// CallContext carries the caller identity and a property bag that is opaque
// to the core. Authorization has already happened when a feature operation
// receives it.
type CallContext struct {
	CallerID      string
	CallerName    string
	CorrelationID string
	Properties    metadata.Metadata
}

// NewCallContext returns a CallContext with a fresh correlation id.
func NewCallContext(callerID, callerName string) *CallContext {
	return &CallContext{
		CallerID:      callerID,
		CallerName:    callerName,
		CorrelationID: ids.CreateULID(),
		Properties:    metadata.Metadata{},
	}
}

// Anonymous is the context used when no caller is known.
func Anonymous() *CallContext { return NewCallContext("", "") }

// OrAnonymous returns cc, or an anonymous context when cc is nil.
func OrAnonymous(cc *CallContext) *CallContext {
	if cc == nil {
		return Anonymous()
	}
	return cc
}

// Set stores a property.
func (c *CallContext) Set(key, value string) {
	if c.Properties == nil {
		c.Properties = metadata.Metadata{}
	}
	c.Properties[key] = value
}

// Get reads a property.
func (c *CallContext) Get(key string) string {
	return c.Properties.Get(key)
}

// Metadata flattens the context for a remote call.
func (c *CallContext) Metadata() metadata.Metadata {
	if c == nil {
		return metadata.Metadata{}
	}
	md := c.Properties.Clone()
	if c.CallerID != "" {
		md[metadata.KeyCallerID] = c.CallerID
	}
	if c.CallerName != "" {
		md[metadata.KeyCallerName] = c.CallerName
	}
	if c.CorrelationID != "" {
		md[metadata.KeyCorrelationID] = c.CorrelationID
	}
	return md
}

// FromMetadata rebuilds a CallContext on the receiving side of a remote
// call. A missing correlation id is generated.
func FromMetadata(md metadata.Metadata) *CallContext {
	props := md.Clone()
	cc := &CallContext{
		CallerID:      props[metadata.KeyCallerID],
		CallerName:    props[metadata.KeyCallerName],
		CorrelationID: props[metadata.KeyCorrelationID],
	}
	delete(props, metadata.KeyCallerID)
	delete(props, metadata.KeyCallerName)
	delete(props, metadata.KeyCorrelationID)
	cc.Properties = props
	if cc.CorrelationID == "" {
		cc.CorrelationID = ids.CreateULID()
	}
	return cc
}

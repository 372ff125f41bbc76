// Package tracing provides the span helpers the connection engine uses
// for each connect and each executed command (so folder, mailbox and
// IDLE commands are traced through it) and the S3 blob store uses for
// uploads; the pool opens no spans of its own. It is trimmed
// down to the opentracing-go core: this library has no HTTP/GraphQL/
// gRPC surface of its own to carry spans across, so only the
// StartSpanFromContext / tag / error helpers exist.
package tracing

import (
	"context"

	"github.com/opentracing/opentracing-go"
	otlog "github.com/opentracing/opentracing-go/log"
)

const (
	TagComponent = "component"
	TagHost      = "imap.host"
	TagUser      = "imap.user"
	TagMailbox   = "imap.mailbox"
	TagTag       = "imap.tag"
	TagConnID    = "imap.connection_id"
	TagError     = "error"
)

const ComponentConnectionEngine = "connection-engine"

// StartSpanFromContext starts a child span of whatever span ctx
// carries, or a new root span if none.
func StartSpanFromContext(ctx context.Context, operationName string) (opentracing.Span, context.Context) {
	return opentracing.StartSpanFromContext(ctx, operationName)
}

// ChildOf starts a new span explicitly parented to parent, for work
// that outlives the span that spawned it. Nothing in this module calls
// it at present.
func ChildOf(parent opentracing.Span, operationName string) opentracing.Span {
	return opentracing.StartSpan(operationName, opentracing.ChildOf(parent.Context()))
}

// SetDefaultServiceSpanTags tags span with the component this library
// identifies itself as, the way
// internal/tracing.SetDefaultServiceSpanTags does for every mailstack
// service span.
func SetDefaultServiceSpanTags(_ context.Context, span opentracing.Span) {
	span.SetTag(TagComponent, ComponentConnectionEngine)
}

// TraceErr logs err onto span and marks it errored, mirroring
// internal/tracing.TraceErr.
func TraceErr(span opentracing.Span, err error) {
	if err == nil {
		return
	}
	span.SetTag(TagError, true)
	span.LogFields(otlog.Error(err))
}

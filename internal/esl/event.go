package esl

import (
	"strconv"
	"time"
)

// Canonical ESL headers the orchestrator cares about. Kept as constants so
// callers never typo a header name.
const (
	HeaderContentType   = "Content-Type"
	HeaderContentLength = "Content-Length"
	HeaderReplyText     = "Reply-Text"

	HeaderEventName          = "Event-Name"
	HeaderUniqueID           = "Unique-ID"
	HeaderOtherLegUniqueID   = "Other-Leg-Unique-ID"
	HeaderCallDirection      = "Call-Direction"
	HeaderAnswerState        = "Answer-State"
	HeaderHangupCause        = "Hangup-Cause"
	HeaderCallerCallerIDName = "Caller-Caller-ID-Name"
	HeaderCallerCallerIDNum  = "Caller-Caller-ID-Number"
	HeaderCallID             = "Call-ID"
	HeaderEventSequence      = "Event-Sequence"
	HeaderEventTimestamp     = "Event-Date-Timestamp"
)

// Content-Type values for the frames the transport distinguishes.
const (
	contentTypeAuthRequest  = "auth/request"
	contentTypeCommandReply = "command/reply"
	contentTypeAPIResponse  = "api/response"
	contentTypeEventPlain   = "text/event-plain"
	contentTypeDisconnect   = "text/disconnect-notice"
)

// Event is a parsed ESL event as a flat header map; an event's own body is
// not kept apart from its headers (see parseEventBody). Channel events carry
// Unique-ID; CUSTOM events may carry an Event-Subclass instead
// of a plain Event-Name, but this orchestrator only consumes core channel
// events, so Name() only ever needs Event-Name.
type Event map[string]string

// Get returns the header value for key, or "" if absent.
func (e Event) Get(key string) string {
	return e[key]
}

// Name returns the Event-Name header.
func (e Event) Name() string {
	return e[HeaderEventName]
}

// UUID returns the Unique-ID header identifying the channel this event
// belongs to.
func (e Event) UUID() string {
	return e[HeaderUniqueID]
}

// HangupCause returns the Hangup-Cause header, if present.
func (e Event) HangupCause() string {
	return e[HeaderHangupCause]
}

// Sequence returns the Event-Sequence header as an int64, or 0 if absent or
// unparsable.
func (e Event) Sequence() int64 {
	n, _ := strconv.ParseInt(e[HeaderEventSequence], 10, 64)
	return n
}

// Timestamp returns the Event-Date-Timestamp header (microseconds since the
// epoch) as a time.Time, or the zero time if absent or unparsable.
func (e Event) Timestamp() time.Time {
	n, err := strconv.ParseInt(e[HeaderEventTimestamp], 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMicro(n)
}

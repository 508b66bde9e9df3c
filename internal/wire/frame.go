// Package wire defines the JSON frame shapes exchanged between a
// connection and the coordination core, shared by the Canvas Hub (which
// produces the subscribe preamble and live echo frames) and the Session
// Protocol (which produces error frames and parses inbound frames).
package wire

import "encoding/json"

// ClientFrame is any inbound frame a connection may send. Only the fields
// relevant to command are populated by real clients; unrecognized or
// missing fields are a ValidationError, not a panic.
type ClientFrame struct {
	Command         string            `json:"command,omitempty"`
	CanvasID        string            `json:"canvasId,omitempty"`
	EventsForCanvas []json.RawMessage `json:"eventsForCanvas,omitempty"`
}

const (
	CommandRegister   = "registerForCanvas"
	CommandUnregister = "unregisterForCanvas"
	CommandToggleMod  = "toggleModerated"
)

// ServerFrame is any outbound frame the core sends to a connection. Only
// one of EventsForCanvas, Moderated, YourPermission, or Error is set per
// frame; omitempty keeps the others out of the wire encoding.
//
// hasEvents distinguishes "this is an events frame, possibly with zero
// events" from "this frame never carries events": a history-batch
// preamble for a canvas with no events yet must still marshal
// "eventsForCanvas":[] rather than omitting the field, since a client
// keys on the field's presence (spec §6, §8 property 2). omitempty on
// EventsForCanvas would drop a len-0 slice the same as a nil one, so
// MarshalJSON below handles the two cases explicitly instead.
type ServerFrame struct {
	CanvasID        string            `json:"canvasId"`
	EventsForCanvas []json.RawMessage `json:"eventsForCanvas,omitempty"`
	Moderated       *bool             `json:"moderated,omitempty"`
	YourPermission  string            `json:"yourPermission,omitempty"`
	Error           string            `json:"error,omitempty"`

	hasEvents bool
}

// Events builds a history-batch or live-echo frame for canvasID. records
// may be empty (a late joiner on a canvas with no history yet); the
// resulting frame still marshals "eventsForCanvas":[].
func Events(canvasID string, records [][]byte) ServerFrame {
	raw := make([]json.RawMessage, len(records))
	for i, r := range records {
		raw[i] = json.RawMessage(r)
	}
	return ServerFrame{CanvasID: canvasID, EventsForCanvas: raw, hasEvents: true}
}

// ModerationState builds the moderation-state preamble/broadcast frame.
func ModerationState(canvasID string, moderated bool) ServerFrame {
	return ServerFrame{CanvasID: canvasID, Moderated: &moderated}
}

// YourPermission builds the permission preamble frame for canvasID.
func YourPermission(canvasID, level string) ServerFrame {
	return ServerFrame{CanvasID: canvasID, YourPermission: level}
}

// Err builds an error frame for canvasID.
func Err(canvasID, message string) ServerFrame {
	return ServerFrame{CanvasID: canvasID, Error: message}
}

// wireFrame is the on-the-wire shape MarshalJSON encodes non-events
// frames to. Events frames use eventsWireFrame instead, whose
// EventsForCanvas has no omitempty so an explicitly-set empty slice
// still renders as [].
type wireFrame struct {
	CanvasID        string            `json:"canvasId"`
	EventsForCanvas []json.RawMessage `json:"eventsForCanvas,omitempty"`
	Moderated       *bool             `json:"moderated,omitempty"`
	YourPermission  string            `json:"yourPermission,omitempty"`
	Error           string            `json:"error,omitempty"`
}

type eventsWireFrame struct {
	CanvasID        string            `json:"canvasId"`
	EventsForCanvas []json.RawMessage `json:"eventsForCanvas"`
}

// MarshalJSON encodes f as the UTF-8 JSON text the transport sends
// verbatim, rendering "eventsForCanvas":[] for an events frame with no
// records instead of omitting the field.
func (f ServerFrame) MarshalJSON() ([]byte, error) {
	if f.hasEvents {
		events := f.EventsForCanvas
		if events == nil {
			events = []json.RawMessage{}
		}
		return json.Marshal(eventsWireFrame{CanvasID: f.CanvasID, EventsForCanvas: events})
	}
	return json.Marshal(wireFrame{
		CanvasID:       f.CanvasID,
		Moderated:      f.Moderated,
		YourPermission: f.YourPermission,
		Error:          f.Error,
	})
}

// Marshal encodes f as the UTF-8 JSON text the transport sends verbatim.
func (f ServerFrame) Marshal() ([]byte, error) {
	return json.Marshal(f)
}

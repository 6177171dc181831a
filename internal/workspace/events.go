package workspace

import (
	"encoding/json"

	"github.com/pulumi/pulumi/sdk/v3/go/auto/events"
)

// EventKind names the payload carried by an Event. Values match the Pulumi
// engine event field names without their "Event" suffix.
type EventKind string

const (
	KindCancel          EventKind = "cancel"
	KindStdout          EventKind = "stdout"
	KindDiagnostic      EventKind = "diagnostic"
	KindPrelude         EventKind = "prelude"
	KindSummary         EventKind = "summary"
	KindResourcePre     EventKind = "resourcePre"
	KindResourceOutputs EventKind = "resOutputs"
	KindOperationFailed EventKind = "resOpFailed"
	KindPolicy          EventKind = "policy"
	KindOther           EventKind = "other"
)

// Event is an engine event reduced to a single tagged payload.
type Event struct {
	Kind     EventKind
	Sequence int
	// Payload is the typed apitype event, or the whole raw event for KindOther.
	Payload any
}

// MarshalJSON renders {"<kind>Event": payload}; other events render as-is.
func (e Event) MarshalJSON() ([]byte, error) {
	if e.Kind == KindOther {
		return json.Marshal(e.Payload)
	}
	return json.Marshal(map[string]any{string(e.Kind) + "Event": e.Payload})
}

// FromEngine converts a Pulumi engine event.
func FromEngine(e events.EngineEvent) Event {
	ev := Event{Sequence: e.Sequence}
	switch {
	case e.CancelEvent != nil:
		ev.Kind, ev.Payload = KindCancel, e.CancelEvent
	case e.StdoutEvent != nil:
		ev.Kind, ev.Payload = KindStdout, e.StdoutEvent
	case e.DiagnosticEvent != nil:
		ev.Kind, ev.Payload = KindDiagnostic, e.DiagnosticEvent
	case e.PreludeEvent != nil:
		ev.Kind, ev.Payload = KindPrelude, e.PreludeEvent
	case e.SummaryEvent != nil:
		ev.Kind, ev.Payload = KindSummary, e.SummaryEvent
	case e.ResourcePreEvent != nil:
		ev.Kind, ev.Payload = KindResourcePre, e.ResourcePreEvent
	case e.ResOutputsEvent != nil:
		ev.Kind, ev.Payload = KindResourceOutputs, e.ResOutputsEvent
	case e.ResOpFailedEvent != nil:
		ev.Kind, ev.Payload = KindOperationFailed, e.ResOpFailedEvent
	case e.PolicyEvent != nil:
		ev.Kind, ev.Payload = KindPolicy, e.PolicyEvent
	default:
		ev.Kind, ev.Payload = KindOther, e.EngineEvent
	}
	return ev
}

// Package bridge defines the JSON envelope exchanged between the webview
// engine and its runtime, the table of calls awaiting a response, and an
// in-process message pipe.
package bridge

import (
	"encoding/json"
	"fmt"

	"github.com/a3tai/papyrus-engine/internal/engine"
	"github.com/a3tai/papyrus-engine/internal/source"
)

// Command kinds understood by the runtime.
const (
	KindLoad              = "load"
	KindGoToPage          = "go-to-page"
	KindSetZoom           = "set-zoom"
	KindSetRotation       = "set-rotation"
	KindGetTextContent    = "get-text-content"
	KindGetPageDimensions = "get-page-dimensions"
	KindSearchText        = "search-text"
	KindSelectText        = "select-text"
	KindGetOutline        = "get-outline"
	KindGetPageIndex      = "get-page-index"
	KindDestroy           = "destroy"
)

// Inbound message types.
const (
	TypeReady    = "ready"
	TypeResponse = "response"
	TypeEvent    = "event"
	TypeState    = "state"
)

// Event names emitted by the runtime.
const (
	EventTextSelected    = "TEXT_SELECTED"
	EventDocumentLoaded  = "DOCUMENT_LOADED"
	EventSearchCompleted = "SEARCH_COMPLETED"
)

// Request is an outbound command.
type Request struct {
	ID      string          `json:"id"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewRequest marshals payload into a request. A nil payload is omitted.
func NewRequest(id, kind string, payload any) (Request, error) {
	req := Request{ID: id, Kind: kind}
	if payload == nil {
		return req, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Request{}, fmt.Errorf("failed to marshal %s payload: %w", kind, err)
	}
	req.Payload = raw
	return req, nil
}

// Message is any inbound message. Which fields are set depends on Type.
type Message struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	OK      *bool           `json:"ok,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	Name    string          `json:"name,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Succeeded reports whether a response carries ok:true.
func (m Message) Succeeded() bool {
	return m.OK != nil && *m.OK
}

// Ready builds the readiness signal.
func Ready() Message {
	return Message{Type: TypeReady}
}

// Response builds a successful response carrying data.
func Response(id string, data any) (Message, error) {
	ok := true
	msg := Message{Type: TypeResponse, ID: id, OK: &ok}
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, err
	}
	msg.Data = raw
	return msg, nil
}

// Failure builds a failed response.
func Failure(id string, err error) Message {
	ok := false
	msg := Message{Type: TypeResponse, ID: id, OK: &ok, Error: "unknown error"}
	if err != nil {
		msg.Error = err.Error()
	}
	return msg
}

// Event builds an event notification.
func Event(name string, payload any) (Message, error) {
	msg := Message{Type: TypeEvent, Name: name}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Message{}, err
		}
		msg.Payload = raw
	}
	return msg, nil
}

// StateMessage builds a state snapshot.
func StateMessage(s State) (Message, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: TypeState, Payload: raw}, nil
}

// Encode serializes v for the wire.
func Encode(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// State is a partial snapshot of the runtime's document state. Nil fields
// are unchanged.
type State struct {
	PageCount   *int                 `json:"pageCount,omitempty"`
	CurrentPage *int                 `json:"currentPage,omitempty"`
	Zoom        *float64             `json:"zoom,omitempty"`
	Outline     []engine.OutlineItem `json:"outline,omitempty"`
}

// Payloads and results of the individual commands.
type (
	LoadPayload struct {
		Type   string            `json:"type"`
		Source source.WireSource `json:"source"`
	}

	LoadResult struct {
		PageCount int                  `json:"pageCount"`
		Outline   []engine.OutlineItem `json:"outline"`
	}

	PagePayload struct {
		Page int `json:"page"`
	}

	PageResult struct {
		CurrentPage int `json:"currentPage"`
	}

	ZoomPayload struct {
		Zoom float64 `json:"zoom"`
	}

	ZoomResult struct {
		Zoom float64 `json:"zoom"`
	}

	RotationPayload struct {
		Rotation int `json:"rotation"`
	}

	PageIndexPayload struct {
		PageIndex int `json:"pageIndex"`
	}

	QueryPayload struct {
		Query string `json:"query"`
	}

	SelectPayload struct {
		PageIndex int          `json:"pageIndex"`
		Rect      *engine.Rect `json:"rect,omitempty"`
	}

	DestPayload struct {
		Dest       string `json:"dest,omitempty"`
		PageNumber int    `json:"pageNumber,omitempty"`
	}

	TextSelectedPayload struct {
		Text      string `json:"text"`
		PageIndex int    `json:"pageIndex"`
	}

	DocumentLoadedPayload struct {
		PageCount int `json:"pageCount"`
	}

	SearchCompletedPayload struct {
		Query   string `json:"query"`
		Results int    `json:"results"`
	}
)

// IntPtr and FloatPtr help build State values.
func IntPtr(v int) *int { return &v }

func FloatPtr(v float64) *float64 { return &v }

// Package sdkbridge defines the routing seam for the `sdk.*` message
// family of spec §4.3/§6. The external SDK bridge collaborator that
// actually interprets these messages lives outside the core; this
// package only gives the Session Manager a typed shape to decode enough
// of a frame to route and authorize it, and a Handler seam a
// collaborator plugs into. Modeled on trybotster's deprecated go-hub
// relay package, which takes the same flat-struct approach to a
// message family it forwards rather than interprets.
package sdkbridge

import "encoding/json"

// Message is the flat, partially-typed shape the Session Manager needs
// to route an `sdk.*` frame: enough to authorize (TerminalID, checked
// against connection ownership) and correlate (RequestID), with the
// rest left as an opaque Payload for the collaborator to interpret.
type Message struct {
	Type       string          `json:"type"`
	RequestID  string          `json:"requestId,omitempty"`
	TerminalID string          `json:"terminalId,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// Handler is implemented by the external SDK bridge collaborator. It
// receives the owning connection's ID and the decoded message, and may
// return a response frame to send back on that connection.
type Handler func(connID string, msg Message) (response any, err error)

// Bridge routes `sdk.*` frames to an injected Handler. A nil Handler
// means no collaborator is wired up; Route reports that explicitly so
// the Session Manager can surface INTERNAL_ERROR rather than silently
// dropping the frame.
type Bridge struct {
	handler Handler
}

// New creates a Bridge. handler may be nil (no collaborator wired up).
func New(handler Handler) *Bridge {
	return &Bridge{handler: handler}
}

// ErrNoHandler is returned by Route when no Handler has been wired up.
type ErrNoHandler struct{}

func (ErrNoHandler) Error() string { return "sdkbridge: no handler configured" }

// Route decodes raw as a Message and forwards it to the configured
// Handler. connID identifies the owning connection for authorization
// and correlation; the Session Manager is responsible for checking
// ownership of msg.TerminalID before calling Route.
func (b *Bridge) Route(connID string, raw []byte) (any, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, err
	}
	if b.handler == nil {
		return nil, ErrNoHandler{}
	}
	return b.handler(connID, msg)
}

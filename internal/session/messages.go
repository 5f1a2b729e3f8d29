package session

import (
	"encoding/json"

	"github.com/gfbonny/freshell/internal/terminal"
	"github.com/gfbonny/freshell/internal/wsproto"
)

// InboundMessage is the flat, tagged-union shape of every client-to-server
// frame in the taxonomy of spec §4.3. Exactly one Type is valid per
// message; unused fields are left zero. Modeled on botster-hub's
// BrowserCommand, which takes the same flat-struct approach to a
// multi-shape inbound protocol.
type InboundMessage struct {
	Type wsproto.FrameType `json:"type"`

	// hello
	Token        string   `json:"token,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
	Client       *struct {
		Mobile *bool `json:"mobile,omitempty"`
	} `json:"client,omitempty"`

	// terminal.create
	RequestID       string            `json:"requestId,omitempty"`
	Mode            terminal.Mode     `json:"mode,omitempty"`
	Shell           terminal.Shell    `json:"shell,omitempty"`
	Cwd             string            `json:"cwd,omitempty"`
	Cols            uint16            `json:"cols,omitempty"`
	Rows            uint16            `json:"rows,omitempty"`
	Env             map[string]string `json:"env,omitempty"`
	ResumeSessionID string            `json:"resumeSessionId,omitempty"`
	Restore         bool              `json:"restore,omitempty"`

	// terminal.attach / detach / input / resize / kill
	TerminalID    string  `json:"terminalId,omitempty"`
	SinceSequence *uint64 `json:"sinceSequence,omitempty"`
	Data          string  `json:"data,omitempty"`

	// ping
	Timestamp int64 `json:"timestamp,omitempty"`
}

// ParseInbound unmarshals a raw client frame. Malformed JSON is reported
// to the caller as a plain error; the caller turns it into INVALID_MESSAGE
// (spec §4.3: "Invalid JSON → same error").
func ParseInbound(raw []byte) (InboundMessage, error) {
	var m InboundMessage
	err := json.Unmarshal(raw, &m)
	return m, err
}

// Marshal is a convenience wrapper used by the connection's send queue.
func Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Package wsproto implements the wire-agnostic frame taxonomy of spec
// §4.2/§4.3/§6: the chunked-snapshot-then-live-delta sequence, the typed
// error code set, and the client-side attach state machine that
// reassembles a chunked snapshot. It has no knowledge
// of the transport (gorilla/websocket lives one layer up, in
// internal/transport) and no knowledge of session bookkeeping (that is
// internal/session).
package wsproto

// FrameType discriminates every outbound and inbound frame shape.
type FrameType string

const (
	// Outbound — chunked snapshot.
	FrameAttachedStart FrameType = "attached.start"
	FrameAttachedChunk FrameType = "attached.chunk"
	FrameAttachedEnd   FrameType = "attached.end"

	// Outbound — live delta.
	FrameOutput FrameType = "output"
	FrameExit   FrameType = "exit"

	// Outbound — protocol/control.
	FramePong                   FrameType = "pong"
	FrameReady                  FrameType = "ready"
	FrameError                  FrameType = "error"
	FrameTerminalCreated        FrameType = "terminal.created"
	FrameTerminalListResponse   FrameType = "terminal.list.response"
	FrameTerminalListUpdated    FrameType = "terminal.list.updated"
	FrameTerminalMetaListResult FrameType = "terminal.meta.list.response"
	FrameUICommand              FrameType = "ui.command"

	// Inbound.
	FramePing           FrameType = "ping"
	FrameHello          FrameType = "hello"
	FrameTerminalCreate FrameType = "terminal.create"
	FrameTerminalAttach FrameType = "terminal.attach"
	FrameTerminalDetach FrameType = "terminal.detach"
	FrameTerminalInput  FrameType = "terminal.input"
	FrameTerminalResize FrameType = "terminal.resize"
	FrameTerminalKill   FrameType = "terminal.kill"
	FrameTerminalList   FrameType = "terminal.list"
	FrameTerminalMeta   FrameType = "terminal.meta.list"
)

// ErrorCode is the stable, client-facing error identifier of spec §6/§7.
// Clients key off code only; message is free-form.
type ErrorCode string

const (
	ErrNotAuthenticated  ErrorCode = "NOT_AUTHENTICATED"
	ErrInvalidMessage    ErrorCode = "INVALID_MESSAGE"
	ErrInvalidTerminalID ErrorCode = "INVALID_TERMINAL_ID"
	ErrInvalidSessionID  ErrorCode = "INVALID_SESSION_ID"
	ErrUnauthorized      ErrorCode = "UNAUTHORIZED"
	ErrRateLimited       ErrorCode = "RATE_LIMITED"
	ErrSpawnFailed       ErrorCode = "SPAWN_FAILED"
	ErrSlowConsumer      ErrorCode = "SLOW_CONSUMER"
	ErrInternal          ErrorCode = "INTERNAL_ERROR"
)

// Close codes, spec §6.
const (
	CloseAuthFailed   = 4001
	CloseHelloTimeout = 4002
)

// ErrorFrame is the shape of every error sent to a client (spec §6).
type ErrorFrame struct {
	Type       FrameType `json:"type"`
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	RequestID  string    `json:"requestId,omitempty"`
	TerminalID string    `json:"terminalId,omitempty"`
}

// NewError builds an ErrorFrame. requestID and terminalID may be empty.
func NewError(code ErrorCode, message, requestID, terminalID string) ErrorFrame {
	return ErrorFrame{Type: FrameError, Code: code, Message: message, RequestID: requestID, TerminalID: terminalID}
}

// AttachedStart announces a chunked snapshot, spec §4.2.
type AttachedStart struct {
	Type               FrameType `json:"type"`
	TerminalID         string    `json:"terminalId"`
	TotalCodeUnits     int       `json:"totalCodeUnits"`
	TotalChunks        int       `json:"totalChunks"`
	SequenceAtSnapshot uint64    `json:"sequenceAtSnapshot"`
}

// AttachedChunk is one slice of the scrollback, spec §4.2.
type AttachedChunk struct {
	Type       FrameType `json:"type"`
	TerminalID string    `json:"terminalId"`
	Chunk      string    `json:"chunk"`
	ChunkIndex int       `json:"chunkIndex"`
}

// AttachedEnd marks snapshot completion, spec §4.2.
type AttachedEnd struct {
	Type           FrameType `json:"type"`
	TerminalID     string    `json:"terminalId"`
	TotalCodeUnits int       `json:"totalCodeUnits"`
	TotalChunks    int       `json:"totalChunks"`
}

// OutputFrame is a live delta, spec §4.2.
type OutputFrame struct {
	Type           FrameType `json:"type"`
	TerminalID     string    `json:"terminalId"`
	Data           string    `json:"data"`
	SequenceNumber uint64    `json:"sequenceNumber"`
}

// ExitFrame announces process termination, spec §4.2.
type ExitFrame struct {
	Type       FrameType `json:"type"`
	TerminalID string    `json:"terminalId"`
	ExitCode   int       `json:"exitCode"`
}

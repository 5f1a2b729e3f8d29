// Package terminal owns PTY child processes, their scrollback, and their
// subscriber fan-out. It is the Terminal Registry of spec §4.1: the only
// core component with no dependency on any other core package.
package terminal

import (
	"errors"
	"time"
)

// Mode selects which command family a terminal launches. It is opaque to
// the registry beyond resolving a launch command; the registry does not
// interpret a mode's output.
type Mode string

const (
	ModeShell    Mode = "shell"
	ModeClaude   Mode = "claude"
	ModeCodex    Mode = "codex"
	ModeOpenCode Mode = "opencode"
	ModeGemini   Mode = "gemini"
	ModeKimi     Mode = "kimi"
)

// Shell selects the concrete shell to launch on Windows. Elsewhere the
// only meaningful value is ShellSystem (the user's login shell).
type Shell string

const (
	ShellSystem     Shell = "system"
	ShellCmd        Shell = "cmd"
	ShellPowerShell Shell = "powershell"
	ShellWSL        Shell = "wsl"
)

// Status is a terminal's lifecycle state.
type Status string

const (
	// StatusCreating never appears server-side; it exists only as a
	// client-only transient per spec §4.1. Create returns either a
	// terminal in StatusRunning or an error.
	StatusCreating Status = "creating"
	StatusRunning  Status = "running"
	StatusExited   Status = "exited"

	// StatusError is part of the spec §4.1 state machine but currently
	// unreachable server-side: Create either returns a *terminalHandle
	// in StatusRunning or an error and no handle at all, so a terminal
	// never transitions into StatusError after being registered.
	StatusError Status = "error"
)

// Sentinel errors returned by Registry operations.
var (
	ErrNotFound    = errors.New("terminal: not found")
	ErrSpawnFailed = errors.New("terminal: spawn failed")
	ErrAlreadyDead = errors.New("terminal: process already exited")
)

// CreateOptions configures a new terminal.
type CreateOptions struct {
	Mode  Mode
	Shell Shell
	Cwd   string

	// Cols/Rows default to 80x24 when zero, per spec §4.1.
	Cols uint16
	Rows uint16

	// ResumeSessionID threads through to the launched command's
	// environment (e.g. so a coding-CLI mode can resume its own session);
	// opaque to the registry.
	ResumeSessionID string

	// Env holds additional environment variables layered on os.Environ().
	Env map[string]string
}

// Info is a read-only snapshot of a terminal's metadata, safe to share
// across goroutines and serialize to JSON for the agent API / WS layer.
type Info struct {
	ID              string    `json:"id"`
	Mode            Mode      `json:"mode"`
	Shell           Shell     `json:"shell"`
	Cwd             string    `json:"cwd"`
	Status          Status    `json:"status"`
	ExitCode        *int      `json:"exitCode,omitempty"`
	Cols            uint16    `json:"cols"`
	Rows            uint16    `json:"rows"`
	SequenceNumber  uint64    `json:"sequenceNumber"`
	SubscriberCount int       `json:"subscriberCount"`
	CreatedAt       time.Time `json:"createdAt"`
	LastActivityAt  time.Time `json:"lastActivityAt"`
}

// EventKind discriminates Event payloads.
type EventKind int

const (
	EventOutput EventKind = iota
	EventExit
)

// Event is a single fan-out item delivered to a subscriber's channel.
type Event struct {
	Kind EventKind

	// Seq is set for EventOutput: the sequence number of this output
	// event, per spec §3/§4.1.
	Seq uint64

	// Data is the raw output bytes for EventOutput.
	Data []byte

	// ExitCode is set for EventExit.
	ExitCode int
}

// Snapshot is returned by Attach: the scrollback as of attach time plus
// the sequence number it ends at.
type Snapshot struct {
	Data       []byte
	SequenceAt uint64

	// CatchUp is set by AttachSince when Data is only the bytes emitted
	// after the requested cursor, not the full scrollback. Callers must
	// send it as a single output-style delta, not a chunked snapshot.
	CatchUp bool
}

// Package layout implements the per-tab pane tree and the target
// resolution grammar of spec §3/§4.4. It has no dependency on any other
// core package and only emits ui.command broadcasts through a callback
// supplied at construction.
package layout

import "fmt"

// ContentKind discriminates what a leaf pane displays.
type ContentKind string

const (
	ContentTerminal  ContentKind = "terminal"
	ContentBrowser   ContentKind = "browser"
	ContentEditor    ContentKind = "editor"
	ContentAgentChat ContentKind = "agent-chat"
	ContentPicker    ContentKind = "picker"
)

// Content is a leaf pane's payload. Exactly one of the Ref fields is
// meaningful, selected by Kind.
type Content struct {
	Kind ContentKind `json:"kind"`

	TerminalRef string `json:"terminalRef,omitempty"`
	BrowserURL  string `json:"browserUrl,omitempty"`
	EditorFile  string `json:"editorFile,omitempty"`
	AgentRef    string `json:"agentRef,omitempty"`
}

// Direction is a split's orientation.
type Direction string

const (
	Horizontal Direction = "horizontal"
	Vertical   Direction = "vertical"
)

// NodeKind discriminates a tree Node.
type NodeKind int

const (
	NodeLeaf NodeKind = iota
	NodeSplit
)

// Node is one node of a tab's binary layout tree: either a leaf carrying
// Content, or a split carrying two children and a size ratio, per spec
// §3's pane/tab data model.
type Node struct {
	ID     string
	Kind   NodeKind
	Parent *Node

	// Leaf fields.
	Content *Content

	// Split fields.
	Direction Direction
	Sizes     [2]int
	Children  [2]*Node
}

// Tab is one entry in the global ordered tab list.
type Tab struct {
	ID           string
	Title        string
	Root         *Node
	ActivePaneID string
}

// Sentinel errors.
var (
	ErrTabNotFound  = fmt.Errorf("layout: tab not found")
	ErrPaneNotFound = fmt.Errorf("layout: pane not found")
	ErrSoleLeaf     = fmt.Errorf("layout: pane is the sole leaf of its tab")
)

// CommandKind identifies a ui.command broadcast emitted after a mutation.
type CommandKind string

const (
	CmdTabCreated   CommandKind = "tab.created"
	CmdTabSelected  CommandKind = "tab.selected"
	CmdTabRenamed   CommandKind = "tab.renamed"
	CmdTabClosed    CommandKind = "tab.closed"
	CmdPaneSplit    CommandKind = "pane.split"
	CmdPaneClosed   CommandKind = "pane.closed"
	CmdPaneResized  CommandKind = "pane.resized"
	CmdPaneSwapped  CommandKind = "pane.swapped"
	CmdPaneAttached CommandKind = "pane.attached"
)

// Command is broadcast to all clients of a logical session so they
// converge on the same layout, per spec §4.4.
type Command struct {
	Kind   CommandKind `json:"kind"`
	TabID  string      `json:"tabId,omitempty"`
	PaneID string      `json:"paneId,omitempty"`
}

// Target is the result of resolving a client-supplied string, per
// spec §4.4.
type Target struct {
	TabID   string `json:"tabId,omitempty"`
	PaneID  string `json:"paneId,omitempty"`
	Message string `json:"message,omitempty"`
}

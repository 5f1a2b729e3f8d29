package layout

import (
	"sync"

	"github.com/google/uuid"
)

// Store holds the global tab list and per-tab active pane, and performs
// the pure tree transforms of spec §4.4. Every mutating operation emits a
// Command through the onCommand callback supplied at construction so all
// clients of a logical session converge, per spec §4.4.
type Store struct {
	mu          sync.Mutex
	tabs        []*Tab
	activeTabID string
	onCommand   func(Command)
}

// NewStore creates an empty Store. onCommand may be nil.
func NewStore(onCommand func(Command)) *Store {
	if onCommand == nil {
		onCommand = func(Command) {}
	}
	return &Store{onCommand: onCommand}
}

func newID(prefix string) string {
	return prefix + "_" + uuid.NewString()
}

func (s *Store) emit(c Command) {
	s.onCommand(c)
}

// SetOnCommand replaces the broadcast callback. Used at startup to wire
// the Store (constructed before the Session Manager exists) to the
// Manager's cross-connection fan-out once both are built; fn may be nil.
func (s *Store) SetOnCommand(fn func(Command)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn == nil {
		fn = func(Command) {}
	}
	s.onCommand = fn
}

func (s *Store) tabByID(id string) *Tab {
	for _, t := range s.tabs {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// CreateTab appends a new tab whose layout is a single leaf, and makes
// it active.
func (s *Store) CreateTab(title string, content Content) (tabID, paneID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	paneID = newID("pane")
	leaf := &Node{ID: paneID, Kind: NodeLeaf, Content: &content}
	tabID = newID("tab")
	tab := &Tab{ID: tabID, Title: title, Root: leaf, ActivePaneID: paneID}

	s.tabs = append(s.tabs, tab)
	s.activeTabID = tabID

	s.emit(Command{Kind: CmdTabCreated, TabID: tabID, PaneID: paneID})
	return tabID, paneID
}

// SelectTab makes tabID the active tab.
func (s *Store) SelectTab(tabID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tabByID(tabID) == nil {
		return ErrTabNotFound
	}
	s.activeTabID = tabID
	s.emit(Command{Kind: CmdTabSelected, TabID: tabID})
	return nil
}

// RenameTab changes a tab's title.
func (s *Store) RenameTab(tabID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tab := s.tabByID(tabID)
	if tab == nil {
		return ErrTabNotFound
	}
	tab.Title = name
	s.emit(Command{Kind: CmdTabRenamed, TabID: tabID})
	return nil
}

// CloseTab removes a tab entirely.
func (s *Store) CloseTab(tabID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, t := range s.tabs {
		if t.ID == tabID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return ErrTabNotFound
	}
	s.tabs = append(s.tabs[:idx], s.tabs[idx+1:]...)

	if s.activeTabID == tabID {
		s.activeTabID = ""
		if len(s.tabs) > 0 {
			next := idx
			if next >= len(s.tabs) {
				next = len(s.tabs) - 1
			}
			s.activeTabID = s.tabs[next].ID
		}
	}

	s.emit(Command{Kind: CmdTabClosed, TabID: tabID})
	return nil
}

// SplitPane splits paneID: the new leaf's sibling is the old leaf, and
// their parent becomes a 50/50 split in direction dir, per spec §4.4.
func (s *Store) SplitPane(tabID, paneID string, dir Direction, content Content) (newPaneID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tab := s.tabByID(tabID)
	if tab == nil {
		return "", ErrTabNotFound
	}
	target := findLeaf(tab.Root, paneID)
	if target == nil {
		return "", ErrPaneNotFound
	}

	newPaneID = newID("pane")
	newLeaf := &Node{ID: newPaneID, Kind: NodeLeaf, Content: &content}

	oldLeafCopy := &Node{ID: target.ID, Kind: NodeLeaf, Content: target.Content}
	split := &Node{
		ID:        newID("split"),
		Kind:      NodeSplit,
		Direction: dir,
		Sizes:     [2]int{50, 50},
		Children:  [2]*Node{oldLeafCopy, newLeaf},
	}
	oldLeafCopy.Parent = split
	newLeaf.Parent = split

	if target.Parent == nil {
		tab.Root = split
	} else {
		replaceInParent(target, split)
	}

	tab.ActivePaneID = newPaneID
	s.emit(Command{Kind: CmdPaneSplit, TabID: tabID, PaneID: newPaneID})
	return newPaneID, nil
}

// ClosePane closes a leaf. If it is the sole leaf of its tab the whole
// tab closes; otherwise its sibling is promoted in place of the parent
// split, per spec §4.4.
func (s *Store) ClosePane(tabID, paneID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tab := s.tabByID(tabID)
	if tab == nil {
		return ErrTabNotFound
	}
	target := findLeaf(tab.Root, paneID)
	if target == nil {
		return ErrPaneNotFound
	}

	if target.Parent == nil {
		// Sole leaf of the tab: close the tab itself.
		s.mu.Unlock()
		err := s.CloseTab(tabID)
		s.mu.Lock()
		return err
	}

	parentSplit := target.Parent
	sib := sibling(target)
	if parentSplit.Parent == nil {
		tab.Root = sib
		sib.Parent = nil
	} else {
		replaceInParent(parentSplit, sib)
	}

	if tab.ActivePaneID == paneID {
		ls := leaves(tab.Root)
		if len(ls) > 0 {
			tab.ActivePaneID = ls[0].ID
		}
	}

	s.emit(Command{Kind: CmdPaneClosed, TabID: tabID, PaneID: paneID})
	return nil
}

// ResizePane normalizes (a,b) to sum to 100 and applies it to the split
// that paneID names or belongs to, per spec §4.4's findSplitForPane.
func (s *Store) ResizePane(tabID, paneID string, a, b int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tab := s.tabByID(tabID)
	if tab == nil {
		return ErrTabNotFound
	}
	split := findSplitForPane(tab.Root, paneID)
	if split == nil {
		return ErrPaneNotFound
	}

	total := a + b
	if total <= 0 {
		a, b = 50, 50
	} else if total != 100 {
		a = a * 100 / total
		b = 100 - a
	}
	split.Sizes = [2]int{a, b}

	s.emit(Command{Kind: CmdPaneResized, TabID: tabID, PaneID: split.ID})
	return nil
}

// SwapPane exchanges the Content of two leaves within a tab.
func (s *Store) SwapPane(tabID, paneID, otherID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tab := s.tabByID(tabID)
	if tab == nil {
		return ErrTabNotFound
	}
	a := findLeaf(tab.Root, paneID)
	b := findLeaf(tab.Root, otherID)
	if a == nil || b == nil {
		return ErrPaneNotFound
	}
	a.Content, b.Content = b.Content, a.Content

	s.emit(Command{Kind: CmdPaneSwapped, TabID: tabID, PaneID: paneID})
	return nil
}

// AttachPaneContent replaces a leaf's content, used both for initial
// attach and respawn, per spec §4.4.
func (s *Store) AttachPaneContent(tabID, paneID string, content Content) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tab := s.tabByID(tabID)
	if tab == nil {
		return ErrTabNotFound
	}
	leaf := findLeaf(tab.Root, paneID)
	if leaf == nil {
		return ErrPaneNotFound
	}
	leaf.Content = &content

	s.emit(Command{Kind: CmdPaneAttached, TabID: tabID, PaneID: paneID})
	return nil
}

// Tabs returns an ordered, read-only view of every tab for the HTTP
// agent API collaborator (spec §6).
func (s *Store) Tabs() []Tab {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Tab, len(s.tabs))
	for i, t := range s.tabs {
		out[i] = *t
	}
	return out
}

// Panes enumerates tabID's leaves left-to-right.
func (s *Store) Panes(tabID string) ([]Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tab := s.tabByID(tabID)
	if tab == nil {
		return nil, ErrTabNotFound
	}
	ls := leaves(tab.Root)
	out := make([]Node, len(ls))
	for i, l := range ls {
		out[i] = *l
	}
	return out, nil
}

// ActiveTabID returns the currently active tab, if any.
func (s *Store) ActiveTabID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeTabID
}

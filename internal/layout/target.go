package layout

import (
	"strconv"
	"strings"
)

// ResolveTarget implements the 5-rule target grammar of spec §4.4:
//
//  1. A string that exactly matches a pane ID resolves to that pane,
//     in its owning tab.
//  2. Else, a string that exactly matches a tab ID or tab title
//     resolves to that tab's active pane.
//  3. Else, a "session:" prefix is stripped and the remainder is
//     parsed as "tab.pane", where tab is a tab ID or title and pane is
//     a 1-based leaf index within that tab.
//  4. Else, a bare non-negative integer is treated as a 1-based leaf
//     index into the active tab.
//  5. Else the target is unresolved.
//
// Rule 2 takes precedence over rule 3: an exact tab title match beats
// a "tab.pane" parse, so a tab literally titled "alpha.1" resolves to
// its own active pane rather than being parsed as tab "alpha" pane 1.
func (s *Store) ResolveTarget(raw string) Target {
	s.mu.Lock()
	defer s.mu.Unlock()

	if raw == "" {
		return Target{Message: "empty target"}
	}

	// Rule 1: exact pane ID, anywhere.
	for _, t := range s.tabs {
		if findLeaf(t.Root, raw) != nil {
			return Target{TabID: t.ID, PaneID: raw}
		}
	}

	// Rule 2: exact tab ID or title match wins over any tab.pane parse,
	// per spec §4.4's alpha.1 tie-break example.
	if t := s.findTabByIDOrTitle(raw); t != nil {
		return Target{TabID: t.ID, PaneID: t.ActivePaneID}
	}

	stripped := strings.TrimPrefix(raw, "session:")

	// Rule 3: "tab.pane" — split on the last '.' so titles containing
	// dots still parse as long as the suffix is numeric.
	if idx := strings.LastIndex(stripped, "."); idx > 0 && idx < len(stripped)-1 {
		tabPart, panePart := stripped[:idx], stripped[idx+1:]
		if n, err := strconv.Atoi(panePart); err == nil && n >= 1 {
			if t := s.findTabByIDOrTitle(tabPart); t != nil {
				ls := leaves(t.Root)
				if n <= len(ls) {
					return Target{TabID: t.ID, PaneID: ls[n-1].ID}
				}
				return Target{Message: "pane index out of range: " + stripped}
			}
		}
	}

	// Rule 4: bare numeric index into the active tab.
	if n, err := strconv.Atoi(stripped); err == nil && n >= 1 {
		if t := s.tabByID(s.activeTabID); t != nil {
			ls := leaves(t.Root)
			if n <= len(ls) {
				return Target{TabID: t.ID, PaneID: ls[n-1].ID}
			}
		}
		return Target{Message: "pane index out of range: " + stripped}
	}

	// Rule 5: unresolved.
	return Target{Message: "unresolved target: " + raw}
}

func (s *Store) findTabByIDOrTitle(name string) *Tab {
	for _, t := range s.tabs {
		if t.ID == name || t.Title == name {
			return t
		}
	}
	return nil
}

package tui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/gfbonny/freshell/internal/layout"
	"github.com/gfbonny/freshell/internal/terminal"
)

func TestPollReturnsRegistryAndLayoutSnapshots(t *testing.T) {
	reg := terminal.NewRegistry(1<<20, nil)
	defer func() {
		for _, info := range reg.List() {
			reg.Kill(info.ID)
		}
	}()
	store := layout.NewStore(nil)
	store.CreateTab("build", layout.Content{Kind: layout.ContentTerminal, TerminalRef: "t1"})

	m := New(reg, store)
	msg := m.poll()
	pm, ok := msg.(pollMsg)
	if !ok {
		t.Fatalf("poll() returned %T, want pollMsg", msg)
	}
	if len(pm.tabs) != 1 || pm.tabs[0].Title != "build" {
		t.Fatalf("tabs = %+v, want one tab titled build", pm.tabs)
	}
}

func TestUpdateAppliesPollSnapshot(t *testing.T) {
	reg := terminal.NewRegistry(1<<20, nil)
	store := layout.NewStore(nil)
	m := New(reg, store)

	updated, _ := m.Update(pollMsg{
		terminals: []terminal.Info{{ID: "term_1", Mode: terminal.ModeShell, Status: terminal.StatusRunning}},
		tabs:      []layout.Tab{{ID: "tab_1", Title: "one"}},
	})
	mm := updated.(Model)
	if len(mm.terminals) != 1 || mm.terminals[0].ID != "term_1" {
		t.Fatalf("terminals = %+v", mm.terminals)
	}
	if len(mm.tabs) != 1 || mm.tabs[0].ID != "tab_1" {
		t.Fatalf("tabs = %+v", mm.tabs)
	}
}

func TestViewRendersTerminalsAndTabs(t *testing.T) {
	m := New(terminal.NewRegistry(1<<20, nil), layout.NewStore(nil))
	updated, _ := m.Update(pollMsg{
		terminals: []terminal.Info{{ID: "term_abcdefghijklmnop", Mode: terminal.ModeShell, Status: terminal.StatusRunning, Cwd: "/tmp"}},
		tabs:      []layout.Tab{{ID: "tab_1", Title: "build"}},
	})
	view := updated.(Model).View()
	if !strings.Contains(view, "Terminals (1)") {
		t.Fatalf("view missing terminal count:\n%s", view)
	}
	if !strings.Contains(view, "build") {
		t.Fatalf("view missing tab title:\n%s", view)
	}
}

func TestUpdateQuitsOnQ(t *testing.T) {
	m := New(terminal.NewRegistry(1<<20, nil), layout.NewStore(nil))
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Fatal("expected tea.Quit cmd")
	}
}

func TestPollIntervalIsPositive(t *testing.T) {
	if pollInterval <= 0 {
		t.Fatal("pollInterval must be positive")
	}
	if pollInterval > 5*time.Second {
		t.Fatal("pollInterval unexpectedly long for a live dashboard")
	}
}

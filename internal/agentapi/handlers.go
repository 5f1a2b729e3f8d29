package agentapi

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/gfbonny/freshell/internal/layout"
	"github.com/gfbonny/freshell/internal/terminal"
)

// Response helpers, grounded on homeport's jsonResponse/errorResponse.

func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}

func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	return dec.Decode(v)
}

func layoutErrorStatus(err error) int {
	switch err {
	case layout.ErrTabNotFound, layout.ErrPaneNotFound:
		return http.StatusNotFound
	case layout.ErrSoleLeaf:
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

// PaneDTO is the JSON view of one leaf pane; layout.Node is never
// marshaled directly because Parent pointers make it cyclic.
type PaneDTO struct {
	ID      string         `json:"id"`
	Content layout.Content `json:"content"`
}

// TabDTO is the JSON view of one tab, optionally with its panes.
type TabDTO struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	ActivePaneID string    `json:"activePaneId"`
	Panes        []PaneDTO `json:"panes,omitempty"`
}

func paneDTOs(nodes []layout.Node) []PaneDTO {
	out := make([]PaneDTO, len(nodes))
	for i, n := range nodes {
		var content layout.Content
		if n.Content != nil {
			content = *n.Content
		}
		out[i] = PaneDTO{ID: n.ID, Content: content}
	}
	return out
}

// handleListTabs enumerates tabs and panes, ordered and deterministic
// per spec §6.
func (s *Server) handleListTabs(w http.ResponseWriter, r *http.Request) {
	tabs := s.layout.Tabs()
	out := make([]TabDTO, len(tabs))
	for i, t := range tabs {
		panes, err := s.layout.Panes(t.ID)
		if err != nil {
			errorResponse(w, layoutErrorStatus(err), err.Error())
			return
		}
		out[i] = TabDTO{ID: t.ID, Title: t.Title, ActivePaneID: t.ActivePaneID, Panes: paneDTOs(panes)}
	}
	jsonResponse(w, http.StatusOK, out)
}

func (s *Server) handleListPanes(w http.ResponseWriter, r *http.Request) {
	tabID := chi.URLParam(r, "tabId")
	panes, err := s.layout.Panes(tabID)
	if err != nil {
		errorResponse(w, layoutErrorStatus(err), err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, paneDTOs(panes))
}

type createTabRequest struct {
	Title   string         `json:"title"`
	Content layout.Content `json:"content"`
}

func (s *Server) handleCreateTab(w http.ResponseWriter, r *http.Request) {
	var req createTabRequest
	if err := decodeBody(r, &req); err != nil {
		errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	tabID, paneID := s.layout.CreateTab(req.Title, req.Content)
	jsonResponse(w, http.StatusCreated, map[string]string{"tabId": tabID, "paneId": paneID})
}

type renameTabRequest struct {
	Title string `json:"title"`
}

func (s *Server) handleRenameTab(w http.ResponseWriter, r *http.Request) {
	tabID := chi.URLParam(r, "tabId")
	var req renameTabRequest
	if err := decodeBody(r, &req); err != nil {
		errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.layout.RenameTab(tabID, req.Title); err != nil {
		errorResponse(w, layoutErrorStatus(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSelectTab(w http.ResponseWriter, r *http.Request) {
	tabID := chi.URLParam(r, "tabId")
	if err := s.layout.SelectTab(tabID); err != nil {
		errorResponse(w, layoutErrorStatus(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCloseTab(w http.ResponseWriter, r *http.Request) {
	tabID := chi.URLParam(r, "tabId")
	if err := s.layout.CloseTab(tabID); err != nil {
		errorResponse(w, layoutErrorStatus(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type splitPaneRequest struct {
	PaneID    string           `json:"paneId"`
	Direction layout.Direction `json:"direction"`
	Content   layout.Content   `json:"content"`
}

func (s *Server) handleSplitPane(w http.ResponseWriter, r *http.Request) {
	tabID := chi.URLParam(r, "tabId")
	var req splitPaneRequest
	if err := decodeBody(r, &req); err != nil {
		errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	newPaneID, err := s.layout.SplitPane(tabID, req.PaneID, req.Direction, req.Content)
	if err != nil {
		errorResponse(w, layoutErrorStatus(err), err.Error())
		return
	}
	jsonResponse(w, http.StatusCreated, map[string]string{"paneId": newPaneID})
}

func (s *Server) handleClosePane(w http.ResponseWriter, r *http.Request) {
	tabID := chi.URLParam(r, "tabId")
	paneID := chi.URLParam(r, "paneId")
	if err := s.layout.ClosePane(tabID, paneID); err != nil {
		errorResponse(w, layoutErrorStatus(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type resizePaneRequest struct {
	A int `json:"a"`
	B int `json:"b"`
}

func (s *Server) handleResizePane(w http.ResponseWriter, r *http.Request) {
	tabID := chi.URLParam(r, "tabId")
	paneID := chi.URLParam(r, "paneId")
	var req resizePaneRequest
	if err := decodeBody(r, &req); err != nil {
		errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.layout.ResizePane(tabID, paneID, req.A, req.B); err != nil {
		errorResponse(w, layoutErrorStatus(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type swapPaneRequest struct {
	OtherID string `json:"otherId"`
}

func (s *Server) handleSwapPane(w http.ResponseWriter, r *http.Request) {
	tabID := chi.URLParam(r, "tabId")
	paneID := chi.URLParam(r, "paneId")
	var req swapPaneRequest
	if err := decodeBody(r, &req); err != nil {
		errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.layout.SwapPane(tabID, paneID, req.OtherID); err != nil {
		errorResponse(w, layoutErrorStatus(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type attachPaneContentRequest struct {
	Content layout.Content `json:"content"`
}

// handleAttachPaneContent implements spec §4.4's attachPaneContent,
// exposed over HTTP for the same reason every other layout mutator is:
// replacing a pane's content wholesale, used both for a pane's initial
// attach and for respawning a terminal into an existing pane.
func (s *Server) handleAttachPaneContent(w http.ResponseWriter, r *http.Request) {
	tabID := chi.URLParam(r, "tabId")
	paneID := chi.URLParam(r, "paneId")
	var req attachPaneContentRequest
	if err := decodeBody(r, &req); err != nil {
		errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.layout.AttachPaneContent(tabID, paneID, req.Content); err != nil {
		errorResponse(w, layoutErrorStatus(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleResolveTarget implements spec §6's "resolve a string target to
// a {tabId, paneId}" capability over the grammar of spec §4.4.
func (s *Server) handleResolveTarget(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "raw")
	target := s.layout.ResolveTarget(raw)
	jsonResponse(w, http.StatusOK, target)
}

func (s *Server) handleListTerminals(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, s.registry.List())
}

type inputRequest struct {
	Data string `json:"data"`
}

func (s *Server) handleInput(w http.ResponseWriter, r *http.Request) {
	terminalID := chi.URLParam(r, "terminalId")
	var req inputRequest
	if err := decodeBody(r, &req); err != nil {
		errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ok, err := s.registry.Input(terminalID, []byte(req.Data))
	if err == terminal.ErrAlreadyDead {
		errorResponse(w, http.StatusConflict, "terminal is not running")
		return
	}
	if err != nil {
		errorResponse(w, http.StatusNotFound, err.Error())
		return
	}
	if !ok {
		errorResponse(w, http.StatusConflict, "terminal is not running")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCaptureOutput implements spec §6's "capture output from a
// pane's terminal": a point-in-time read of current scrollback via a
// throwaway Attach/Detach pair, with no lingering subscription.
func (s *Server) handleCaptureOutput(w http.ResponseWriter, r *http.Request) {
	terminalID := chi.URLParam(r, "terminalId")
	subscriberID := "capture-" + uuid.NewString()
	snap, _, err := s.registry.Attach(terminalID, subscriberID)
	if err != nil {
		errorResponse(w, http.StatusNotFound, err.Error())
		return
	}
	s.registry.Detach(terminalID, subscriberID)

	jsonResponse(w, http.StatusOK, map[string]any{
		"sequenceAt": snap.SequenceAt,
		"data":       base64.StdEncoding.EncodeToString(snap.Data),
	})
}

const (
	defaultWaitTimeout  = 5 * time.Second
	defaultStableWindow = 500 * time.Millisecond
)

type waitRequest struct {
	Pattern   string `json:"pattern"`
	TimeoutMS int    `json:"timeoutMs"`
	StableMS  int    `json:"stableMs"`
}

type waitResponse struct {
	Matched bool   `json:"matched"`
	Stable  bool   `json:"stable"`
	Data    string `json:"data"`
}

// handleWaitForMatch implements spec §6's "wait-for-match-or-stable on a
// pane's terminal": it attaches a throwaway subscriber, accumulates
// output against the scrollback-at-attach baseline, and returns as soon
// as Pattern matches the accumulated text, the output goes quiet for
// StableMS, or TimeoutMS elapses — whichever comes first.
func (s *Server) handleWaitForMatch(w http.ResponseWriter, r *http.Request) {
	terminalID := chi.URLParam(r, "terminalId")
	var req waitRequest
	if err := decodeBody(r, &req); err != nil {
		errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var matcher *regexp.Regexp
	if req.Pattern != "" {
		re, err := regexp.Compile(req.Pattern)
		if err != nil {
			errorResponse(w, http.StatusBadRequest, "invalid pattern: "+err.Error())
			return
		}
		matcher = re
	}

	timeout := defaultWaitTimeout
	if req.TimeoutMS > 0 {
		timeout = time.Duration(req.TimeoutMS) * time.Millisecond
	}
	stableWindow := defaultStableWindow
	if req.StableMS > 0 {
		stableWindow = time.Duration(req.StableMS) * time.Millisecond
	}

	subscriberID := "wait-" + uuid.NewString()
	snap, sub, err := s.registry.Attach(terminalID, subscriberID)
	if err != nil {
		errorResponse(w, http.StatusNotFound, err.Error())
		return
	}
	defer s.registry.Detach(terminalID, subscriberID)

	buf := append([]byte(nil), snap.Data...)
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	stableTimer := time.NewTimer(stableWindow)
	defer stableTimer.Stop()

	resp := waitResponse{}
	for {
		if matcher != nil && matcher.Match(buf) {
			resp.Matched = true
			break
		}
		select {
		case ev, ok := <-sub.Events:
			if !ok {
				resp.Stable = true
				goto done
			}
			if ev.Kind == terminal.EventOutput {
				buf = append(buf, ev.Data...)
			}
			if !stableTimer.Stop() {
				<-stableTimer.C
			}
			stableTimer.Reset(stableWindow)
		case <-stableTimer.C:
			resp.Stable = true
			goto done
		case <-sub.Dropped:
			resp.Stable = true
			goto done
		case <-deadline.C:
			goto done
		}
	}
done:
	resp.Data = base64.StdEncoding.EncodeToString(buf)
	jsonResponse(w, http.StatusOK, resp)
}

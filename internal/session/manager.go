// Package session implements the Session/Connection Manager of spec
// §4.3: handshake, the message taxonomy, terminal.create idempotency and
// rate limiting, ownership authorization, and disconnect cleanup. It is
// the only core component that knows about the wire (spec §2); the actual
// gorilla/websocket pump lives one layer up in internal/transport and
// calls into this package's Manager for every frame.
package session

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gfbonny/freshell/internal/layout"
	"github.com/gfbonny/freshell/internal/sdkbridge"
	"github.com/gfbonny/freshell/internal/terminal"
	"github.com/gfbonny/freshell/internal/wsproto"
)

// sdkFramePrefix marks the `sdk.*` message family of spec §4.3, routed
// to the external SDK bridge collaborator rather than interpreted here.
const sdkFramePrefix = "sdk."

// Outcome tells the transport pump what to do after HandleMessage or the
// hello timer fires: optionally close the connection with a specific
// close code (spec §6: 4001/4002).
type Outcome struct {
	Close     bool
	CloseCode int
	Reason    string
}

func keepOpen() Outcome { return Outcome{} }

func closeWith(code int, reason string) Outcome {
	return Outcome{Close: true, CloseCode: code, Reason: reason}
}

// Manager dispatches inbound frames for every live connection and owns
// the terminal Registry and layout Store it fronts. Constructor-injected,
// per spec §9's "global mutable singletons" redesign note.
type Manager struct {
	logger            *slog.Logger
	registry          *terminal.Registry
	layout            *layout.Store
	authToken         string
	helloTimeout      time.Duration
	createLimit       int
	createWindow      time.Duration
	maxChunkSize      int
	slowConsumerLimit int
	sdkBridge         *sdkbridge.Bridge

	mu    sync.Mutex
	conns map[string]*Connection
}

// New creates a Manager. slowConsumerQueueLimit is the outbound queue
// depth above which a connection is proactively dropped with
// SLOW_CONSUMER (spec §4.2 backpressure warning threshold) rather than
// waiting for its queue to fill outright; zero or negative disables the
// proactive check and leaves only the hard channel-full drop. logger may
// be nil.
func New(registry *terminal.Registry, layoutStore *layout.Store, authToken string, helloTimeout time.Duration, createLimit int, createWindow time.Duration, maxChunkBytes, slowConsumerQueueLimit int, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		logger:            logger,
		registry:          registry,
		layout:            layoutStore,
		authToken:         authToken,
		helloTimeout:      helloTimeout,
		createLimit:       createLimit,
		createWindow:      createWindow,
		maxChunkSize:      maxChunkBytes,
		slowConsumerLimit: slowConsumerQueueLimit,
		sdkBridge:         sdkbridge.New(nil),
		conns:             make(map[string]*Connection),
	}
}

// SetSDKBridge wires the external SDK bridge collaborator into the
// `sdk.*` message family (spec §4.3/§6). Safe to call once at startup
// before the manager serves any connection.
func (m *Manager) SetSDKBridge(b *sdkbridge.Bridge) {
	m.sdkBridge = b
}

// Connect registers a new Connection and arms its hello timer. The
// transport pump should select on timer.C alongside reads, and Stop the
// timer once HandleMessage reports the connection authenticated; if the
// timer fires first, close with 4002.
func (m *Manager) Connect() (*Connection, *time.Timer) {
	conn := NewConnection(uuid.NewString(), m.createLimit, m.createWindow)
	m.mu.Lock()
	m.conns[conn.ID] = conn
	m.mu.Unlock()

	timer := time.NewTimer(m.helloTimeout)
	return conn, timer
}

// HelloTimedOut is called by the transport when the hello timer fires
// before authentication completed.
func (m *Manager) HelloTimedOut(conn *Connection) Outcome {
	if conn.Authenticated() {
		return keepOpen()
	}
	return closeWith(wsproto.CloseHelloTimeout, "hello timeout")
}

// Disconnect cleans up a closed connection: detaches it from every
// terminal it was attached to (without killing them) and drops its
// owned-session set, per spec §4.3.
func (m *Manager) Disconnect(conn *Connection) {
	m.mu.Lock()
	delete(m.conns, conn.ID)
	m.mu.Unlock()

	for _, tid := range conn.AttachedTerminalIDs() {
		conn.ForgetAttachment(tid)
		m.registry.Detach(tid, conn.ID)
	}
	m.logger.Info("connection disconnected", "connection", conn.ID)
}

// HandleMessage parses and dispatches one inbound frame, per the
// taxonomy table of spec §4.3.
func (m *Manager) HandleMessage(ctx context.Context, conn *Connection, raw []byte) Outcome {
	msg, err := ParseInbound(raw)
	if err != nil {
		m.sendError(conn, wsproto.ErrInvalidMessage, "malformed JSON", "", "")
		return keepOpen()
	}

	if !conn.Authenticated() {
		if msg.Type == wsproto.FramePing {
			m.handlePing(conn, msg)
			return keepOpen()
		}
		if msg.Type != wsproto.FrameHello {
			m.sendError(conn, wsproto.ErrNotAuthenticated, "hello required before any other message", "", "")
			return closeWith(wsproto.CloseAuthFailed, "not authenticated")
		}
		return m.handleHello(conn, msg)
	}

	switch msg.Type {
	case wsproto.FramePing:
		m.handlePing(conn, msg)
	case wsproto.FrameHello:
		// Post-hello hellos are ignored per spec §4.3.
	case wsproto.FrameTerminalCreate:
		m.handleCreate(conn, msg)
	case wsproto.FrameTerminalAttach:
		m.handleAttach(ctx, conn, msg)
	case wsproto.FrameTerminalDetach:
		m.handleDetach(conn, msg)
	case wsproto.FrameTerminalInput:
		m.handleInput(conn, msg)
	case wsproto.FrameTerminalResize:
		m.handleResize(conn, msg)
	case wsproto.FrameTerminalKill:
		m.handleKill(conn, msg)
	case wsproto.FrameTerminalList:
		m.handleList(conn)
	case wsproto.FrameTerminalMeta:
		m.handleMetaList(conn)
	default:
		if strings.HasPrefix(string(msg.Type), sdkFramePrefix) {
			m.handleSDK(conn, msg, raw)
			return keepOpen()
		}
		m.sendError(conn, wsproto.ErrInvalidMessage, fmt.Sprintf("unknown message type %q", msg.Type), "", "")
	}
	return keepOpen()
}

// handleSDK routes an `sdk.*` frame to the external SDK bridge
// collaborator, per spec §4.3's taxonomy and §6's "route to the
// external SDK bridge collaborator" note. sdk.* operations target
// resources the connection must own, same as destructive terminal
// operations (spec §4.3 authorization).
func (m *Manager) handleSDK(conn *Connection, msg InboundMessage, raw []byte) {
	if msg.TerminalID != "" && !conn.Owns(msg.TerminalID) {
		m.sendError(conn, wsproto.ErrUnauthorized, "connection does not own this terminal", msg.RequestID, msg.TerminalID)
		return
	}
	resp, err := m.sdkBridge.Route(conn.ID, raw)
	if err != nil {
		m.sendError(conn, wsproto.ErrInternal, err.Error(), msg.RequestID, msg.TerminalID)
		return
	}
	if resp != nil {
		m.send(conn, resp)
	}
}

func (m *Manager) handlePing(conn *Connection, msg InboundMessage) {
	m.send(conn, map[string]any{"type": "pong", "timestamp": msg.Timestamp})
}

func (m *Manager) handleHello(conn *Connection, msg InboundMessage) Outcome {
	if m.authToken != "" && subtle.ConstantTimeCompare([]byte(msg.Token), []byte(m.authToken)) != 1 {
		m.logger.Warn("hello auth failed", "connection", conn.ID)
		return closeWith(wsproto.CloseAuthFailed, "invalid token")
	}
	conn.MarkAuthenticated()
	if msg.Client != nil && msg.Client.Mobile != nil {
		conn.SetMobile(*msg.Client.Mobile)
	}
	m.send(conn, map[string]any{"type": "ready"})
	return keepOpen()
}

func (m *Manager) handleCreate(conn *Connection, msg InboundMessage) {
	if msg.RequestID == "" {
		m.sendError(conn, wsproto.ErrInvalidMessage, "terminal.create requires requestId", "", "")
		return
	}
	if cached, ok := conn.CachedCreateReply(msg.RequestID); ok {
		m.send(conn, json.RawMessage(cached.Payload))
		return
	}
	if !conn.AllowCreate(msg.Restore, time.Now()) {
		m.sendError(conn, wsproto.ErrRateLimited, "terminal.create rate limit exceeded", msg.RequestID, "")
		return
	}

	info, err := m.registry.Create(terminal.CreateOptions{
		Mode:            msg.Mode,
		Shell:           msg.Shell,
		Cwd:             msg.Cwd,
		Cols:            msg.Cols,
		Rows:            msg.Rows,
		Env:             msg.Env,
		ResumeSessionID: msg.ResumeSessionID,
	})
	if err != nil {
		m.sendError(conn, wsproto.ErrSpawnFailed, err.Error(), msg.RequestID, "")
		return
	}
	conn.Own(info.ID)

	reply := map[string]any{
		"type":       wsproto.FrameTerminalCreated,
		"requestId":  msg.RequestID,
		"terminalId": info.ID,
	}
	payload, err := Marshal(reply)
	if err != nil {
		m.logger.Error("marshal terminal.created failed", "error", err)
		return
	}
	conn.CacheCreateReply(msg.RequestID, InboundCreateReply{TerminalID: info.ID, Payload: payload})
	conn.Enqueue(payload)
	m.broadcastListUpdated()
}

// handleAttach implements the attach side of spec §4.2: snapshot the
// terminal, send attached.start/chunk*/end in order, then pump live
// output in sequence order. If sinceSequence is supplied and still
// covered by scrollback, a cursor-resume fast path sends only a catch-up
// output frame instead of a full chunked snapshot.
func (m *Manager) handleAttach(ctx context.Context, conn *Connection, msg InboundMessage) {
	if msg.TerminalID == "" {
		m.sendError(conn, wsproto.ErrInvalidTerminalID, "terminal.attach requires terminalId", "", "")
		return
	}

	// Stop any prior pump for this terminal before the registry replaces
	// its subscriber, so the old pump does not read the replacement as a
	// slow-consumer drop.
	conn.ForgetAttachment(msg.TerminalID)

	var snap terminal.Snapshot
	var sub *terminal.Subscriber
	var err error
	if msg.SinceSequence != nil {
		snap, sub, err = m.registry.AttachSince(msg.TerminalID, conn.ID, *msg.SinceSequence)
	} else {
		snap, sub, err = m.registry.Attach(msg.TerminalID, conn.ID)
	}
	if err != nil {
		m.sendError(conn, wsproto.ErrInvalidTerminalID, "unknown terminal", "", msg.TerminalID)
		return
	}

	pumpCtx, cancel := context.WithCancel(ctx)
	conn.TrackAttachment(msg.TerminalID, cancel)

	if snap.CatchUp {
		// Cursor-resume: sinceSequence was still covered by retained
		// output, so send only the bytes emitted after it as a single
		// delta instead of the full chunked snapshot.
		payload, err := Marshal(wsproto.OutputFrame{
			Type:           wsproto.FrameOutput,
			TerminalID:     msg.TerminalID,
			Data:           string(snap.Data),
			SequenceNumber: snap.SequenceAt,
		})
		if err == nil && !m.enqueueOrDrop(conn, msg.TerminalID, payload) {
			cancel()
			return
		}
	} else {
		frames := wsproto.BuildSnapshotFrames(msg.TerminalID, snap.Data, snap.SequenceAt, m.maxChunkSize)
		for _, f := range frames {
			payload, err := Marshal(f)
			if err != nil {
				continue
			}
			if !m.enqueueOrDrop(conn, msg.TerminalID, payload) {
				cancel()
				return
			}
		}
	}

	go m.pumpOutput(pumpCtx, conn, msg.TerminalID, sub)
}

// enqueueOrDrop enqueues payload on conn's outbound queue, proactively
// dropping the connection's attachment with SLOW_CONSUMER once its queue
// depth reaches the configured warning threshold (spec §4.2's backpressure
// threshold, default ~200 frames) instead of waiting for the queue to fill
// outright. terminalID may be empty for frames not tied to one terminal.
func (m *Manager) enqueueOrDrop(conn *Connection, terminalID string, payload []byte) bool {
	if m.slowConsumerLimit > 0 && conn.QueueDepth() >= m.slowConsumerLimit {
		m.dropSlowConsumer(conn, terminalID, "outbound queue exceeded slow-consumer threshold")
		return false
	}
	if !conn.Enqueue(payload) {
		m.dropSlowConsumer(conn, terminalID, "outbound queue full")
		return false
	}
	return true
}

// dropSlowConsumer best-effort notifies conn it is being treated as a slow
// consumer and detaches it from terminalID, if any. The error frame is
// enqueued directly rather than through enqueueOrDrop since the connection
// is already being dropped.
func (m *Manager) dropSlowConsumer(conn *Connection, terminalID, reason string) {
	payload, err := Marshal(wsproto.NewError(wsproto.ErrSlowConsumer, reason, "", terminalID))
	if err == nil {
		conn.Enqueue(payload)
	}
	if terminalID != "" {
		m.registry.Detach(terminalID, conn.ID)
	}
}

// pumpOutput drains one subscriber's event channel and enqueues frames
// in strict sequence order, finishing with exit last, per spec §4.3's
// fan-out ordering guarantee.
func (m *Manager) pumpOutput(ctx context.Context, conn *Connection, terminalID string, sub *terminal.Subscriber) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Dropped:
			m.sendError(conn, wsproto.ErrSlowConsumer, "subscriber could not keep up", "", terminalID)
			return
		case ev, ok := <-sub.Events:
			if !ok {
				return
			}
			switch ev.Kind {
			case terminal.EventOutput:
				payload, _ := Marshal(wsproto.OutputFrame{
					Type:           wsproto.FrameOutput,
					TerminalID:     terminalID,
					Data:           string(ev.Data),
					SequenceNumber: ev.Seq,
				})
				if !m.enqueueOrDrop(conn, terminalID, payload) {
					return
				}
			case terminal.EventExit:
				payload, _ := Marshal(wsproto.ExitFrame{
					Type:       wsproto.FrameExit,
					TerminalID: terminalID,
					ExitCode:   ev.ExitCode,
				})
				conn.Enqueue(payload)
				return
			}
		}
	}
}

func (m *Manager) handleDetach(conn *Connection, msg InboundMessage) {
	conn.ForgetAttachment(msg.TerminalID)
	m.registry.Detach(msg.TerminalID, conn.ID)
}

func (m *Manager) handleInput(conn *Connection, msg InboundMessage) {
	ok, err := m.registry.Input(msg.TerminalID, []byte(msg.Data))
	if err == terminal.ErrAlreadyDead {
		m.sendError(conn, wsproto.ErrInvalidTerminalID, "terminal is not running", "", msg.TerminalID)
		return
	}
	if err != nil {
		m.sendError(conn, wsproto.ErrInvalidTerminalID, "unknown terminal", "", msg.TerminalID)
		return
	}
	if !ok {
		m.sendError(conn, wsproto.ErrInvalidTerminalID, "terminal is not running", "", msg.TerminalID)
	}
}

func (m *Manager) handleResize(conn *Connection, msg InboundMessage) {
	ok, err := m.registry.Resize(msg.TerminalID, msg.Cols, msg.Rows)
	if err != nil {
		m.sendError(conn, wsproto.ErrInvalidTerminalID, "unknown terminal", "", msg.TerminalID)
		return
	}
	if !ok {
		m.sendError(conn, wsproto.ErrInvalidTerminalID, "terminal is not running", "", msg.TerminalID)
	}
}

func (m *Manager) handleKill(conn *Connection, msg InboundMessage) {
	if !conn.Owns(msg.TerminalID) {
		m.sendError(conn, wsproto.ErrUnauthorized, "connection does not own this terminal", "", msg.TerminalID)
		return
	}
	if _, err := m.registry.Kill(msg.TerminalID); err != nil && err != terminal.ErrAlreadyDead {
		m.sendError(conn, wsproto.ErrInvalidTerminalID, "unknown terminal", "", msg.TerminalID)
		return
	}
	m.broadcastListUpdated()
}

func (m *Manager) handleList(conn *Connection) {
	m.send(conn, map[string]any{
		"type":      wsproto.FrameTerminalListResponse,
		"terminals": m.registry.List(),
	})
}

func (m *Manager) handleMetaList(conn *Connection) {
	list := m.registry.List()
	meta := make([]map[string]any, 0, len(list))
	for _, t := range list {
		meta = append(meta, map[string]any{
			"terminalId": t.ID,
			"mode":       t.Mode,
			"status":     t.Status,
		})
	}
	m.send(conn, map[string]any{
		"type":      wsproto.FrameTerminalMetaListResult,
		"terminals": meta,
	})
}

// broadcastListUpdated notifies every authenticated connection that the
// terminal list changed, per spec §4.3's terminal.kill/create effects.
// Cross-connection broadcasts may interleave freely with per-terminal
// streams (spec §4.3 fan-out ordering).
func (m *Manager) broadcastListUpdated() {
	m.mu.Lock()
	conns := make([]*Connection, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	payload, err := Marshal(map[string]any{"type": wsproto.FrameTerminalListUpdated})
	if err != nil {
		return
	}
	for _, c := range conns {
		if c.Authenticated() {
			m.enqueueOrDrop(c, "", payload)
		}
	}
}

// BroadcastUICommand fans a layout mutation out to every authenticated
// connection so all clients of the same logical session converge, per
// spec §4.4. Wire it as the layout.Store's onCommand callback once both
// the Store and the Manager exist.
func (m *Manager) BroadcastUICommand(c layout.Command) {
	m.mu.Lock()
	conns := make([]*Connection, 0, len(m.conns))
	for _, conn := range m.conns {
		conns = append(conns, conn)
	}
	m.mu.Unlock()

	payload, err := Marshal(map[string]any{
		"type":   wsproto.FrameUICommand,
		"kind":   c.Kind,
		"tabId":  c.TabID,
		"paneId": c.PaneID,
	})
	if err != nil {
		return
	}
	for _, conn := range conns {
		if conn.Authenticated() {
			m.enqueueOrDrop(conn, "", payload)
		}
	}
}

func (m *Manager) send(conn *Connection, v any) {
	payload, err := Marshal(v)
	if err != nil {
		m.logger.Error("marshal outbound frame failed", "error", err)
		return
	}
	conn.Enqueue(payload)
}

func (m *Manager) sendError(conn *Connection, code wsproto.ErrorCode, message, requestID, terminalID string) {
	m.send(conn, wsproto.NewError(code, message, requestID, terminalID))
}

package session

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/gfbonny/freshell/internal/layout"
	"github.com/gfbonny/freshell/internal/sdkbridge"
	"github.com/gfbonny/freshell/internal/terminal"
)

func newTestManager(t *testing.T) (*Manager, *Connection) {
	t.Helper()
	reg := terminal.NewRegistry(1<<20, nil)
	store := layout.NewStore(nil)
	m := New(reg, store, "secret", time.Second, 10, 10*time.Second, 4000, 200, nil)
	conn, timer := m.Connect()
	timer.Stop()
	return m, conn
}

func decodeFrame(t *testing.T, raw []byte) map[string]any {
	t.Helper()
	var v map[string]any
	if err := json.Unmarshal(raw, &v); err != nil {
		t.Fatalf("decode frame: %v (raw=%s)", err, raw)
	}
	return v
}

func TestHandleMessagePreHelloOtherMessageCloses(t *testing.T) {
	m, conn := newTestManager(t)
	outcome := m.HandleMessage(context.Background(), conn, []byte(`{"type":"terminal.list"}`))
	if !outcome.Close || outcome.CloseCode != 4001 {
		t.Fatalf("outcome = %+v, want close 4001", outcome)
	}
}

func TestHandleMessageHelloWrongTokenCloses4001(t *testing.T) {
	m, conn := newTestManager(t)
	outcome := m.HandleMessage(context.Background(), conn, []byte(`{"type":"hello","token":"wrong"}`))
	if !outcome.Close || outcome.CloseCode != 4001 {
		t.Fatalf("outcome = %+v, want close 4001", outcome)
	}
}

func TestHandleMessageHelloCorrectTokenAuthenticates(t *testing.T) {
	m, conn := newTestManager(t)
	outcome := m.HandleMessage(context.Background(), conn, []byte(`{"type":"hello","token":"secret"}`))
	if outcome.Close {
		t.Fatalf("outcome = %+v, want keep open", outcome)
	}
	if !conn.Authenticated() {
		t.Fatal("expected connection to be authenticated")
	}

	select {
	case payload := <-conn.Send:
		frame := decodeFrame(t, payload)
		if frame["type"] != "ready" {
			t.Fatalf("frame = %v, want type=ready", frame)
		}
	default:
		t.Fatal("expected a ready frame to be queued")
	}
}

func TestHandleMessageInvalidJSONKeepsConnectionOpen(t *testing.T) {
	m, conn := newTestManager(t)
	outcome := m.HandleMessage(context.Background(), conn, []byte(`not json`))
	if outcome.Close {
		t.Fatalf("outcome = %+v, want keep open per spec invalid-json handling", outcome)
	}
	select {
	case payload := <-conn.Send:
		frame := decodeFrame(t, payload)
		if frame["code"] != "INVALID_MESSAGE" {
			t.Fatalf("frame = %v, want code INVALID_MESSAGE", frame)
		}
	default:
		t.Fatal("expected an error frame")
	}
}

func TestTerminalCreateIdempotentReplay(t *testing.T) {
	m, conn := newTestManager(t)
	m.HandleMessage(context.Background(), conn, []byte(`{"type":"hello","token":"secret"}`))
	<-conn.Send // drain ready

	create := []byte(`{"type":"terminal.create","requestId":"req-1","mode":"shell","cwd":"."}`)
	m.HandleMessage(context.Background(), conn, create)

	var first map[string]any
	select {
	case payload := <-conn.Send:
		first = decodeFrame(t, payload)
	default:
		t.Fatal("expected terminal.created frame")
	}
	if first["type"] != "terminal.created" {
		t.Fatalf("first = %v, want type=terminal.created", first)
	}
	<-conn.Send // drain terminal.list.updated

	m.HandleMessage(context.Background(), conn, create)
	select {
	case payload := <-conn.Send:
		second := decodeFrame(t, payload)
		if second["terminalId"] != first["terminalId"] {
			t.Fatalf("replay terminalId = %v, want %v", second["terminalId"], first["terminalId"])
		}
	default:
		t.Fatal("expected replayed terminal.created frame")
	}

	m.registry.Kill(first["terminalId"].(string))
}

func TestHandleAttachSendsChunkedSnapshot(t *testing.T) {
	m, conn := newTestManager(t)
	m.HandleMessage(context.Background(), conn, []byte(`{"type":"hello","token":"secret"}`))
	<-conn.Send // drain ready

	m.HandleMessage(context.Background(), conn, []byte(`{"type":"terminal.create","requestId":"req-1","mode":"shell","cwd":"."}`))
	created := decodeFrame(t, <-conn.Send)
	terminalID := created["terminalId"].(string)
	defer m.registry.Kill(terminalID)
	<-conn.Send // drain terminal.list.updated

	m.HandleMessage(context.Background(), conn, []byte(`{"type":"terminal.attach","terminalId":"`+terminalID+`"}`))

	start := decodeFrame(t, <-conn.Send)
	if start["type"] != "attached.start" {
		t.Fatalf("frame = %v, want type=attached.start", start)
	}
	end := decodeFrame(t, <-conn.Send)
	if end["type"] != "attached.end" {
		t.Fatalf("frame = %v, want type=attached.end (fresh terminal has empty scrollback)", end)
	}
}

func TestHandleAttachCursorResumeSendsCatchUpInsteadOfSnapshot(t *testing.T) {
	m, conn := newTestManager(t)
	m.HandleMessage(context.Background(), conn, []byte(`{"type":"hello","token":"secret"}`))
	<-conn.Send // drain ready

	m.HandleMessage(context.Background(), conn, []byte(`{"type":"terminal.create","requestId":"req-1","mode":"shell","cwd":"."}`))
	created := decodeFrame(t, <-conn.Send)
	terminalID := created["terminalId"].(string)
	defer m.registry.Kill(terminalID)
	<-conn.Send // drain terminal.list.updated

	m.HandleMessage(context.Background(), conn, []byte(`{"type":"terminal.attach","terminalId":"`+terminalID+`"}`))
	<-conn.Send // attached.start
	<-conn.Send // attached.end

	if _, err := m.registry.Input(terminalID, []byte("echo marker-output\n")); err != nil {
		t.Fatalf("Input: %v", err)
	}
	var output map[string]any
	select {
	case payload := <-conn.Send:
		output = decodeFrame(t, payload)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for output frame")
	}
	if output["type"] != "output" {
		t.Fatalf("frame = %v, want type=output", output)
	}
	sinceSeq := uint64(output["sequenceNumber"].(float64))

	m.HandleMessage(context.Background(), conn, []byte(
		fmt.Sprintf(`{"type":"terminal.attach","terminalId":"%s","sinceSequence":%d}`, terminalID, sinceSeq)))

	resume := decodeFrame(t, <-conn.Send)
	if resume["type"] != "output" {
		t.Fatalf("frame = %v, want a single catch-up type=output frame instead of a chunked snapshot", resume)
	}
}

func TestEnqueueOrDropAllowsBelowThreshold(t *testing.T) {
	reg := terminal.NewRegistry(1<<20, nil)
	store := layout.NewStore(nil)
	m := New(reg, store, "secret", time.Second, 10, 10*time.Second, 4000, 5, nil)
	conn, timer := m.Connect()
	timer.Stop()

	if !m.enqueueOrDrop(conn, "", []byte("x")) {
		t.Fatal("enqueueOrDrop = false, want true below threshold")
	}
	if payload := <-conn.Send; string(payload) != "x" {
		t.Fatalf("payload = %q, want %q", payload, "x")
	}
}

// TestEnqueueOrDropDropsAtSlowConsumerThreshold exercises the proactive
// backpressure check ahead of the hard channel-full drop: once a
// connection's queue depth reaches the configured threshold, the next
// frame is refused and a SLOW_CONSUMER error is queued instead.
func TestEnqueueOrDropDropsAtSlowConsumerThreshold(t *testing.T) {
	reg := terminal.NewRegistry(1<<20, nil)
	store := layout.NewStore(nil)
	m := New(reg, store, "secret", time.Second, 10, 10*time.Second, 4000, 2, nil)
	conn, timer := m.Connect()
	timer.Stop()

	conn.Enqueue([]byte("a"))
	conn.Enqueue([]byte("b"))

	if m.enqueueOrDrop(conn, "", []byte("c")) {
		t.Fatal("enqueueOrDrop = true, want false once QueueDepth reaches the threshold")
	}

	<-conn.Send
	<-conn.Send
	errFrame := decodeFrame(t, <-conn.Send)
	if errFrame["code"] != "SLOW_CONSUMER" {
		t.Fatalf("frame = %v, want code=SLOW_CONSUMER", errFrame)
	}
}

func TestTerminalCreateRateLimited(t *testing.T) {
	reg := terminal.NewRegistry(1<<20, nil)
	store := layout.NewStore(nil)
	m := New(reg, store, "secret", time.Second, 1, 10*time.Second, 4000, 200, nil)
	conn, timer := m.Connect()
	timer.Stop()

	m.HandleMessage(context.Background(), conn, []byte(`{"type":"hello","token":"secret"}`))
	<-conn.Send

	m.HandleMessage(context.Background(), conn, []byte(`{"type":"terminal.create","requestId":"r1","mode":"shell","cwd":"."}`))
	first := decodeFrame(t, <-conn.Send)
	m.registry.Kill(first["terminalId"].(string))
	<-conn.Send // drain terminal.list.updated

	m.HandleMessage(context.Background(), conn, []byte(`{"type":"terminal.create","requestId":"r2","mode":"shell","cwd":"."}`))
	second := decodeFrame(t, <-conn.Send)
	if second["code"] != "RATE_LIMITED" {
		t.Fatalf("second = %v, want code RATE_LIMITED", second)
	}
}

func TestKillWithoutOwnershipIsUnauthorized(t *testing.T) {
	m, conn := newTestManager(t)
	m.HandleMessage(context.Background(), conn, []byte(`{"type":"hello","token":"secret"}`))
	<-conn.Send

	info, err := m.registry.Create(terminal.CreateOptions{Mode: terminal.ModeShell, Cwd: "."})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer m.registry.Kill(info.ID)

	m.HandleMessage(context.Background(), conn, []byte(`{"type":"terminal.kill","terminalId":"`+info.ID+`"}`))
	frame := decodeFrame(t, <-conn.Send)
	if frame["code"] != "UNAUTHORIZED" {
		t.Fatalf("frame = %v, want code UNAUTHORIZED", frame)
	}
}

func TestSDKMessageWithoutBridgeReportsInternalError(t *testing.T) {
	m, conn := newTestManager(t)
	m.HandleMessage(context.Background(), conn, []byte(`{"type":"hello","token":"secret"}`))
	<-conn.Send

	m.HandleMessage(context.Background(), conn, []byte(`{"type":"sdk.prompt","requestId":"r1"}`))
	frame := decodeFrame(t, <-conn.Send)
	if frame["code"] != "INTERNAL_ERROR" {
		t.Fatalf("frame = %v, want code INTERNAL_ERROR", frame)
	}
}

func TestSDKMessageRoutedToBridgeHandler(t *testing.T) {
	m, conn := newTestManager(t)
	m.HandleMessage(context.Background(), conn, []byte(`{"type":"hello","token":"secret"}`))
	<-conn.Send

	var gotConnID string
	var gotType string
	m.SetSDKBridge(sdkbridge.New(func(connID string, msg sdkbridge.Message) (any, error) {
		gotConnID = connID
		gotType = msg.Type
		return map[string]any{"type": "sdk.prompt.ack", "requestId": msg.RequestID}, nil
	}))

	m.HandleMessage(context.Background(), conn, []byte(`{"type":"sdk.prompt","requestId":"r1"}`))
	frame := decodeFrame(t, <-conn.Send)
	if frame["type"] != "sdk.prompt.ack" || frame["requestId"] != "r1" {
		t.Fatalf("frame = %v, want sdk.prompt.ack for r1", frame)
	}
	if gotConnID != conn.ID || gotType != "sdk.prompt" {
		t.Fatalf("handler saw connID=%q type=%q", gotConnID, gotType)
	}
}

func TestSDKMessageTargetingUnownedTerminalIsUnauthorized(t *testing.T) {
	m, conn := newTestManager(t)
	m.HandleMessage(context.Background(), conn, []byte(`{"type":"hello","token":"secret"}`))
	<-conn.Send

	info, err := m.registry.Create(terminal.CreateOptions{Mode: terminal.ModeShell, Cwd: "."})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer m.registry.Kill(info.ID)

	m.HandleMessage(context.Background(), conn, []byte(`{"type":"sdk.prompt","requestId":"r1","terminalId":"`+info.ID+`"}`))
	frame := decodeFrame(t, <-conn.Send)
	if frame["code"] != "UNAUTHORIZED" {
		t.Fatalf("frame = %v, want code UNAUTHORIZED", frame)
	}
}

func TestBroadcastUICommandReachesAuthenticatedConnections(t *testing.T) {
	m, conn := newTestManager(t)
	m.HandleMessage(context.Background(), conn, []byte(`{"type":"hello","token":"secret"}`))
	<-conn.Send

	m.BroadcastUICommand(layout.Command{Kind: layout.CmdTabCreated, TabID: "tab_1", PaneID: "pane_1"})
	frame := decodeFrame(t, <-conn.Send)
	if frame["type"] != "ui.command" || frame["tabId"] != "tab_1" {
		t.Fatalf("frame = %v, want ui.command for tab_1", frame)
	}
}

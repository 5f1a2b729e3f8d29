package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/gfbonny/freshell/internal/terminal"
	"github.com/gfbonny/freshell/internal/wsproto"
)

func newAttachCmd() *cobra.Command {
	var tokenFlag string
	var serverURL string

	cmd := &cobra.Command{
		Use:   "attach [terminal-id]",
		Short: "Attach a raw-mode terminal to a running freshell server",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			terminalID := ""
			if len(args) == 1 {
				terminalID = args[0]
			}
			token := loadToken(tokenFlag)
			return doAttach(serverURL, token, terminalID)
		},
	}

	cmd.Flags().StringVar(&tokenFlag, "token", "", "auth token (overrides AUTH_TOKEN and the keychain)")
	cmd.Flags().StringVar(&serverURL, "url", "ws://localhost:7770/ws", "freshell server WebSocket URL")
	return cmd
}

// doAttach dials the server, authenticates, creates or attaches a
// terminal, and pumps stdin/stdout until the user detaches (Ctrl-]) or
// the remote terminal exits. Modeled on grove's cmd_attach.go, adapted
// from a raw Unix-socket framing to the JSON WebSocket protocol.
func doAttach(serverURL, token, terminalID string) error {
	conn, _, err := websocket.DefaultDialer.Dial(serverURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", serverURL, err)
	}
	defer conn.Close()

	fd := int(os.Stdin.Fd())
	cols, rows := uint16(80), uint16(24)
	if c, r, err := term.GetSize(fd); err == nil {
		cols, rows = uint16(c), uint16(r)
	}

	var writeMu sync.Mutex
	writeJSON := func(v any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(v)
	}

	if err := writeJSON(map[string]any{"type": wsproto.FrameHello, "token": token}); err != nil {
		return fmt.Errorf("send hello: %w", err)
	}

	ready := false
	for !ready {
		var frame map[string]any
		if err := conn.ReadJSON(&frame); err != nil {
			return fmt.Errorf("handshake: %w", err)
		}
		switch frame["type"] {
		case string(wsproto.FrameReady):
			ready = true
		case string(wsproto.FrameError):
			return fmt.Errorf("server rejected hello: %v", frame["message"])
		}
	}

	if terminalID == "" {
		if err := writeJSON(map[string]any{
			"type":      wsproto.FrameTerminalCreate,
			"requestId": "attach-create",
			"mode":      terminal.ModeShell,
			"cwd":       ".",
			"cols":      cols,
			"rows":      rows,
		}); err != nil {
			return fmt.Errorf("send terminal.create: %w", err)
		}
		var created map[string]any
		if err := conn.ReadJSON(&created); err != nil {
			return fmt.Errorf("await terminal.created: %w", err)
		}
		if created["type"] != string(wsproto.FrameTerminalCreated) {
			return fmt.Errorf("unexpected response to terminal.create: %v", created)
		}
		terminalID, _ = created["terminalId"].(string)
	}
	if err := writeJSON(map[string]any{
		"type":       wsproto.FrameTerminalAttach,
		"terminalId": terminalID,
	}); err != nil {
		return fmt.Errorf("send terminal.attach: %w", err)
	}

	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("set raw mode: %w", err)
	}
	var restoreOnce sync.Once
	restore := func() { restoreOnce.Do(func() { term.Restore(fd, oldState) }) }
	defer restore()

	fmt.Fprintf(os.Stdout, "\r\n[freshell] attached to %s  (detach: Ctrl-])\r\n", terminalID)

	done := make(chan struct{}, 1)
	signalDone := func() {
		select {
		case done <- struct{}{}:
		default:
		}
	}

	go readPump(conn, os.Stdout, signalDone)
	go stdinPump(writeJSON, terminalID, signalDone)

	winchCh := make(chan os.Signal, 1)
	signal.Notify(winchCh, syscall.SIGWINCH)
	defer signal.Stop(winchCh)
	go func() {
		for range winchCh {
			if c, r, err := term.GetSize(fd); err == nil {
				writeJSON(map[string]any{
					"type":       wsproto.FrameTerminalResize,
					"terminalId": terminalID,
					"cols":       uint16(c),
					"rows":       uint16(r),
				})
			}
		}
	}()

	<-done
	restore()
	fmt.Fprintf(os.Stdout, "\n[freshell] detached from %s\n", terminalID)
	return nil
}

// readPump decodes every server frame and writes output/snapshot chunks
// to w, terminating on exit or a read error.
func readPump(conn *websocket.Conn, w io.Writer, done func()) {
	defer done()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame map[string]json.RawMessage
		if err := json.Unmarshal(raw, &frame); err != nil {
			continue
		}
		var frameType string
		json.Unmarshal(frame["type"], &frameType)

		switch wsproto.FrameType(frameType) {
		case wsproto.FrameAttachedChunk:
			var chunk string
			json.Unmarshal(frame["chunk"], &chunk)
			io.WriteString(w, chunk)
		case wsproto.FrameOutput:
			var data string
			json.Unmarshal(frame["data"], &data)
			io.WriteString(w, data)
		case wsproto.FrameExit:
			return
		case wsproto.FrameError:
			var code, message string
			json.Unmarshal(frame["code"], &code)
			json.Unmarshal(frame["message"], &message)
			fmt.Fprintf(os.Stderr, "\r\n[freshell] error %s: %s\r\n", code, message)
			if code == string(wsproto.ErrUnauthorized) || code == string(wsproto.ErrInvalidTerminalID) {
				return
			}
		}
	}
}

// stdinPump reads raw keystrokes and forwards them as terminal.input
// frames, watching for the Ctrl-] detach byte (0x1D).
func stdinPump(writeJSON func(any) error, terminalID string, done func()) {
	defer done()
	buf := make([]byte, 4096)
	for {
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if idx := bytes.IndexByte(chunk, 0x1D); idx >= 0 {
				if idx > 0 {
					sendInput(writeJSON, terminalID, chunk[:idx])
				}
				return
			}
			sendInput(writeJSON, terminalID, chunk)
		}
		if err != nil {
			return
		}
	}
}

func sendInput(writeJSON func(any) error, terminalID string, data []byte) {
	writeJSON(map[string]any{
		"type":       wsproto.FrameTerminalInput,
		"terminalId": terminalID,
		"data":       string(data),
	})
}

package terminal

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"
)

const (
	defaultCols = 80
	defaultRows = 24

	// subscriberQueueSize bounds each subscriber's private event channel.
	// A full channel is this terminal's half of backpressure detection;
	// the other half (deciding to actually drop a slow connection with
	// SLOW_CONSUMER) lives in the session layer, which watches Dropped.
	subscriberQueueSize = 256
)

// Registry owns all PTY-backed terminals for one server process. It has
// no dependency on any other core package (spec §2 dependency order).
type Registry struct {
	logger             *slog.Logger
	scrollbackMaxBytes int

	mu    sync.RWMutex
	terms map[string]*terminalHandle
}

// terminalHandle is the registry's internal, mutable view of a terminal.
// Info() produces the immutable, shareable snapshot callers actually see.
type terminalHandle struct {
	id    string
	mode  Mode
	shell Shell
	cwd   string
	cols  uint16
	rows  uint16

	createdAt      time.Time
	lastActivityAt time.Time

	ptmx *os.File
	cmd  *exec.Cmd

	mu       sync.Mutex
	status   Status
	exitCode int
	seq      uint64
	ring     *ringBuffer
	seqIdx   *seqIndex
	subs     map[string]*Subscriber

	readerDone chan struct{}
}

// Subscriber is a live attachment to one terminal's event stream.
type Subscriber struct {
	ID     string
	Events chan Event

	// Dropped is closed by the registry when this subscription ends
	// without a queued exit event: the subscriber is evicted for being too
	// slow to drain Events (spec §4.2 backpressure), detached, replaced by
	// a re-attach under the same ID, or has no room for the exit event.
	// Callers should select on it alongside Events.
	Dropped chan struct{}
}

// NewRegistry creates a Registry. scrollbackMaxBytes bounds each
// terminal's retained history; logger may be nil.
func NewRegistry(scrollbackMaxBytes int, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if scrollbackMaxBytes <= 0 {
		scrollbackMaxBytes = 4 * 1024 * 1024
	}
	return &Registry{
		logger:             logger,
		scrollbackMaxBytes: scrollbackMaxBytes,
		terms:              make(map[string]*terminalHandle),
	}
}

// Create spawns a new PTY child and registers it. It always returns with
// status running (spec §4.1: "creating" never appears server-side).
func (r *Registry) Create(opts CreateOptions) (Info, error) {
	cols, rows := opts.Cols, opts.Rows
	if cols == 0 {
		cols = defaultCols
	}
	if rows == 0 {
		rows = defaultRows
	}
	cwd := opts.Cwd
	if cwd == "" {
		cwd = defaultCwd()
	}

	bin, args := resolveCommand(opts.Mode, opts.Shell)
	cmd := exec.Command(bin, args...)
	cmd.Dir = cwd
	cmd.Env = buildEnv(opts)

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: rows, Cols: cols})
	if err != nil {
		r.logger.Error("terminal spawn failed", "mode", opts.Mode, "error", err)
		return Info{}, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	th := &terminalHandle{
		id:             uuid.NewString(),
		mode:           opts.Mode,
		shell:          opts.Shell,
		cwd:            cwd,
		cols:           cols,
		rows:           rows,
		createdAt:      time.Now(),
		lastActivityAt: time.Now(),
		ptmx:           ptmx,
		cmd:            cmd,
		status:         StatusRunning,
		ring:           newRingBuffer(r.scrollbackMaxBytes),
		seqIdx:         newSeqIndex(r.scrollbackMaxBytes),
		subs:           make(map[string]*Subscriber),
		readerDone:     make(chan struct{}),
	}

	r.mu.Lock()
	r.terms[th.id] = th
	r.mu.Unlock()

	go r.readLoop(th)

	r.logger.Info("terminal created", "id", th.id, "mode", opts.Mode, "cwd", cwd)
	return th.info(), nil
}

func buildEnv(opts CreateOptions) []string {
	env := os.Environ()
	for k, v := range opts.Env {
		env = append(env, k+"="+v)
	}
	if opts.ResumeSessionID != "" {
		env = append(env, "FRESHELL_RESUME_SESSION_ID="+opts.ResumeSessionID)
	}
	env = append(env, "TERM=xterm-256color")
	return env
}

// readLoop copies PTY output into scrollback and fans it out to
// subscribers until the child exits. One reader per terminal, matching
// the spec §5 scheduling model (one producer per terminal).
func (r *Registry) readLoop(th *terminalHandle) {
	defer close(th.readerDone)

	buf := make([]byte, 4096)
	for {
		n, err := th.ptmx.Read(buf)
		if n > 0 {
			r.emitOutput(th, append([]byte{}, buf[:n]...))
		}
		if err != nil {
			if err != io.EOF {
				r.logger.Warn("terminal read error", "id", th.id, "error", err)
			}
			break
		}
	}
	r.reap(th)
}

// emitOutput appends a chunk to scrollback, advances the sequence
// number, and fans it out. Implements the algorithm in spec §4.1.
func (r *Registry) emitOutput(th *terminalHandle, data []byte) {
	if len(data) == 0 {
		return
	}

	th.mu.Lock()
	th.ring.Append(data)
	th.seq++
	th.seqIdx.Append(th.seq, data)
	ev := Event{Kind: EventOutput, Seq: th.seq, Data: data}
	th.lastActivityAt = time.Now()
	subs := make([]*Subscriber, 0, len(th.subs))
	for _, s := range th.subs {
		subs = append(subs, s)
	}
	th.mu.Unlock()

	for _, s := range subs {
		r.deliver(th, s, ev)
	}
}

// deliver sends ev to s, dropping s (and closing Dropped) if its queue is
// full rather than blocking the shared PTY reader or losing ordering for
// other subscribers (spec §4.2 backpressure, §5 cancellation).
func (r *Registry) deliver(th *terminalHandle, s *Subscriber, ev Event) {
	select {
	case s.Events <- ev:
	default:
		r.logger.Warn("dropping slow subscriber", "terminal", th.id, "subscriber", s.ID)
		r.dropSubscriber(th, s)
	}
}

func (r *Registry) dropSubscriber(th *terminalHandle, s *Subscriber) {
	th.mu.Lock()
	if cur, ok := th.subs[s.ID]; ok && cur == s {
		delete(th.subs, s.ID)
	}
	th.mu.Unlock()
	closeSubscriber(s)
}

func closeSubscriber(s *Subscriber) {
	select {
	case <-s.Dropped:
	default:
		close(s.Dropped)
	}
}

// reap finalizes a terminal after its child process exits: flush final
// state, transition to exited, notify and drop every subscriber. No
// terminal leaks past process-close (spec §4.1 invariant).
func (r *Registry) reap(th *terminalHandle) {
	var exitCode int
	if th.cmd != nil {
		_ = th.cmd.Wait()
		if st := th.cmd.ProcessState; st != nil {
			exitCode = st.ExitCode()
		}
	}
	_ = th.ptmx.Close()

	th.mu.Lock()
	th.status = StatusExited
	th.exitCode = exitCode
	subs := make([]*Subscriber, 0, len(th.subs))
	for _, s := range th.subs {
		subs = append(subs, s)
	}
	th.subs = make(map[string]*Subscriber)
	th.mu.Unlock()

	exitEv := Event{Kind: EventExit, ExitCode: exitCode}
	for _, s := range subs {
		select {
		case s.Events <- exitEv:
		default:
			closeSubscriber(s)
		}
	}

	r.logger.Info("terminal exited", "id", th.id, "exitCode", exitCode)
}

// Attach adds subscriberID to terminalID's subscriber set and returns the
// current scrollback plus the sequence number it ends at. Re-attaching an
// existing subscriberID replaces the prior attachment (spec §4.1).
func (r *Registry) Attach(terminalID, subscriberID string) (Snapshot, *Subscriber, error) {
	return r.attach(terminalID, subscriberID, nil)
}

// AttachSince behaves like Attach, but when sinceSeq is still covered by
// retained output it returns a catch-up-only snapshot (just the bytes
// emitted after sinceSeq) instead of the full scrollback, per spec
// §4.2's cursor-resume fast path. Snapshot.CatchUp reports which case
// applied; callers must fall back to treating it as a full snapshot when
// CatchUp is false, since coverage wasn't available.
func (r *Registry) AttachSince(terminalID, subscriberID string, sinceSeq uint64) (Snapshot, *Subscriber, error) {
	return r.attach(terminalID, subscriberID, &sinceSeq)
}

func (r *Registry) attach(terminalID, subscriberID string, sinceSeq *uint64) (Snapshot, *Subscriber, error) {
	th, err := r.handle(terminalID)
	if err != nil {
		return Snapshot{}, nil, err
	}

	sub := &Subscriber{
		ID:      subscriberID,
		Events:  make(chan Event, subscriberQueueSize),
		Dropped: make(chan struct{}),
	}

	th.mu.Lock()
	if old, ok := th.subs[subscriberID]; ok {
		closeSubscriber(old)
	}
	th.subs[subscriberID] = sub

	snap := Snapshot{Data: th.ring.Snapshot(), SequenceAt: th.seq}
	if sinceSeq != nil {
		if data, covered := th.seqIdx.Since(*sinceSeq); covered {
			snap = Snapshot{Data: data, SequenceAt: th.seq, CatchUp: true}
		}
	}
	th.lastActivityAt = time.Now()
	th.mu.Unlock()

	return snap, sub, nil
}

// Detach removes subscriberID from terminalID's subscriber set. It does
// not affect the running process.
func (r *Registry) Detach(terminalID, subscriberID string) bool {
	th, err := r.handle(terminalID)
	if err != nil {
		return false
	}

	th.mu.Lock()
	sub, ok := th.subs[subscriberID]
	if ok {
		delete(th.subs, subscriberID)
	}
	th.mu.Unlock()

	if ok {
		closeSubscriber(sub)
	}
	return ok
}

// Input writes bytes to the PTY master. Bytes are opaque.
func (r *Registry) Input(terminalID string, data []byte) (bool, error) {
	th, err := r.handle(terminalID)
	if err != nil {
		return false, err
	}
	th.mu.Lock()
	dead := th.status != StatusRunning
	th.mu.Unlock()
	if dead {
		return false, ErrAlreadyDead
	}
	if _, err := th.ptmx.Write(data); err != nil {
		return false, nil
	}
	th.mu.Lock()
	th.lastActivityAt = time.Now()
	th.mu.Unlock()
	return true, nil
}

// Resize changes the PTY window size.
func (r *Registry) Resize(terminalID string, cols, rows uint16) (bool, error) {
	th, err := r.handle(terminalID)
	if err != nil {
		return false, err
	}
	if err := pty.Setsize(th.ptmx, &pty.Winsize{Rows: rows, Cols: cols}); err != nil {
		return false, nil
	}
	th.mu.Lock()
	th.cols, th.rows = cols, rows
	th.mu.Unlock()
	return true, nil
}

// Kill signals the child process. The final flush and subscriber
// notification happen asynchronously in reap once the reader observes
// EOF, per spec §4.1.
func (r *Registry) Kill(terminalID string) (bool, error) {
	th, err := r.handle(terminalID)
	if err != nil {
		return false, err
	}
	th.mu.Lock()
	alreadyDead := th.status != StatusRunning
	th.mu.Unlock()
	if alreadyDead {
		return false, ErrAlreadyDead
	}
	if th.cmd != nil && th.cmd.Process != nil {
		_ = th.cmd.Process.Kill()
	}
	return true, nil
}

// Get returns a read-only view of one terminal.
func (r *Registry) Get(terminalID string) (Info, bool) {
	r.mu.RLock()
	th, ok := r.terms[terminalID]
	r.mu.RUnlock()
	if !ok {
		return Info{}, false
	}
	return th.info(), true
}

// List returns read-only views of every known terminal.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Info, 0, len(r.terms))
	for _, th := range r.terms {
		out = append(out, th.info())
	}
	return out
}

func (r *Registry) handle(terminalID string) (*terminalHandle, error) {
	r.mu.RLock()
	th, ok := r.terms[terminalID]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return th, nil
}

func (th *terminalHandle) info() Info {
	th.mu.Lock()
	defer th.mu.Unlock()

	info := Info{
		ID:              th.id,
		Mode:            th.mode,
		Shell:           th.shell,
		Cwd:             th.cwd,
		Status:          th.status,
		Cols:            th.cols,
		Rows:            th.rows,
		SequenceNumber:  th.seq,
		SubscriberCount: len(th.subs),
		CreatedAt:       th.createdAt,
		LastActivityAt:  th.lastActivityAt,
	}
	if th.status == StatusExited {
		ec := th.exitCode
		info.ExitCode = &ec
	}
	return info
}

package wsproto

// BuildSnapshotFrames implements the server-side half of spec §4.2's
// attach algorithm: split a scrollback snapshot into attached.start,
// one attached.chunk per slice, and attached.end, in that exact order.
// The caller is responsible for buffering any live deltas generated
// for this subscriber while these frames are in flight and releasing
// them only after the last frame returned here has been sent.
func BuildSnapshotFrames(terminalID string, snapshot []byte, sequenceAtSnapshot uint64, maxChunkBytes int) []any {
	chunks := Chunk(snapshot, maxChunkBytes)
	totalCodeUnits := CodeUnitLen(snapshot)

	frames := make([]any, 0, len(chunks)+2)
	frames = append(frames, AttachedStart{
		Type:               FrameAttachedStart,
		TerminalID:         terminalID,
		TotalCodeUnits:     totalCodeUnits,
		TotalChunks:        len(chunks),
		SequenceAtSnapshot: sequenceAtSnapshot,
	})
	for i, c := range chunks {
		frames = append(frames, AttachedChunk{
			Type:       FrameAttachedChunk,
			TerminalID: terminalID,
			Chunk:      string(c),
			ChunkIndex: i,
		})
	}
	frames = append(frames, AttachedEnd{
		Type:           FrameAttachedEnd,
		TerminalID:     terminalID,
		TotalCodeUnits: totalCodeUnits,
		TotalChunks:    len(chunks),
	})
	return frames
}

// ReassemblyState is the client-side attach state machine of spec §4.2:
// ExpectingStart -> ReceivingChunks -> Complete | Degraded. Within this
// repository it is exercised by tests of the wire contract without a
// live PTY; the CLI's attach command writes chunks straight to stdout.
type ReassemblyState int

const (
	ExpectingStart ReassemblyState = iota
	ReceivingChunks
	Complete
	Degraded
)

// Reassembler tracks one attached terminal's snapshot reconstruction.
type Reassembler struct {
	State ReassemblyState

	TotalCodeUnits int
	TotalChunks    int
	Generation     int

	received      map[int][]byte
	receivedUnits int
}

// NewReassembler starts a fresh reassembly in ExpectingStart.
func NewReassembler() *Reassembler {
	return &Reassembler{State: ExpectingStart, received: make(map[int][]byte)}
}

// OnStart handles an attached.start frame.
func (r *Reassembler) OnStart(f AttachedStart) {
	r.State = ReceivingChunks
	r.TotalCodeUnits = f.TotalCodeUnits
	r.TotalChunks = f.TotalChunks
	r.received = make(map[int][]byte)
	r.receivedUnits = 0
}

// OnChunk handles an attached.chunk frame. Chunks arriving in any state
// other than ReceivingChunks are ignored: a reconnect bumps
// Generation and callers should discard stale reassemblers rather than
// feed them frames from a prior generation.
func (r *Reassembler) OnChunk(f AttachedChunk) {
	if r.State != ReceivingChunks {
		return
	}
	data := []byte(f.Chunk)
	if _, dup := r.received[f.ChunkIndex]; dup {
		return
	}
	r.received[f.ChunkIndex] = data
	r.receivedUnits += CodeUnitLen(data)
}

// OnEnd handles an attached.end frame and decides complete vs degraded
// per spec §4.2: complete iff every chunk arrived and the code unit
// tally matches exactly.
func (r *Reassembler) OnEnd(f AttachedEnd) {
	if r.State != ReceivingChunks {
		return
	}
	if len(r.received) == f.TotalChunks && r.receivedUnits == f.TotalCodeUnits {
		r.State = Complete
		return
	}
	r.State = Degraded
}

// OnTimeout degrades a reassembly that never saw attached.end within
// the chunk-timeout window (spec §4.2, default ~35s).
func (r *Reassembler) OnTimeout() {
	if r.State == ReceivingChunks || r.State == ExpectingStart {
		r.State = Degraded
	}
}

// Assembled concatenates received chunks in index order. Only
// meaningful once State == Complete.
func (r *Reassembler) Assembled() []byte {
	out := make([]byte, 0, r.receivedUnits)
	for i := 0; i < r.TotalChunks; i++ {
		out = append(out, r.received[i]...)
	}
	return out
}

// Reconnect increments Generation and resets to ExpectingStart, used
// when a degraded reassembly triggers the single automatic re-attach
// spec §4.2 allows per generation.
func (r *Reassembler) Reconnect() {
	r.Generation++
	r.State = ExpectingStart
	r.received = make(map[int][]byte)
	r.receivedUnits = 0
}

package wsproto

import "testing"

func TestBuildSnapshotFramesOrderAndShape(t *testing.T) {
	snap := []byte("0123456789")
	frames := BuildSnapshotFrames("t1", snap, 42, 4)

	if len(frames) != 5 { // start + 3 chunks (4,4,2) + end
		t.Fatalf("len(frames) = %d, want 5", len(frames))
	}
	start, ok := frames[0].(AttachedStart)
	if !ok {
		t.Fatalf("frames[0] = %T, want AttachedStart", frames[0])
	}
	if start.TotalChunks != 3 || start.SequenceAtSnapshot != 42 || start.TotalCodeUnits != 10 {
		t.Fatalf("start = %+v", start)
	}

	for i := 1; i <= 3; i++ {
		chunk, ok := frames[i].(AttachedChunk)
		if !ok {
			t.Fatalf("frames[%d] = %T, want AttachedChunk", i, frames[i])
		}
		if chunk.ChunkIndex != i-1 {
			t.Fatalf("chunk[%d].ChunkIndex = %d, want %d", i, chunk.ChunkIndex, i-1)
		}
	}

	end, ok := frames[4].(AttachedEnd)
	if !ok {
		t.Fatalf("frames[4] = %T, want AttachedEnd", frames[4])
	}
	if end.TotalChunks != 3 || end.TotalCodeUnits != 10 {
		t.Fatalf("end = %+v", end)
	}
}

func TestReassemblerCompletesOnExactMatch(t *testing.T) {
	r := NewReassembler()
	r.OnStart(AttachedStart{TotalChunks: 2, TotalCodeUnits: 6})
	r.OnChunk(AttachedChunk{Chunk: "abc", ChunkIndex: 0})
	r.OnChunk(AttachedChunk{Chunk: "def", ChunkIndex: 1})
	r.OnEnd(AttachedEnd{TotalChunks: 2, TotalCodeUnits: 6})

	if r.State != Complete {
		t.Fatalf("State = %v, want Complete", r.State)
	}
	if string(r.Assembled()) != "abcdef" {
		t.Fatalf("Assembled() = %q, want abcdef", r.Assembled())
	}
}

func TestReassemblerDegradesOnMissingChunk(t *testing.T) {
	r := NewReassembler()
	r.OnStart(AttachedStart{TotalChunks: 2, TotalCodeUnits: 6})
	r.OnChunk(AttachedChunk{Chunk: "abc", ChunkIndex: 0})
	r.OnEnd(AttachedEnd{TotalChunks: 2, TotalCodeUnits: 6})

	if r.State != Degraded {
		t.Fatalf("State = %v, want Degraded", r.State)
	}
}

func TestReassemblerTimeoutDegrades(t *testing.T) {
	r := NewReassembler()
	r.OnStart(AttachedStart{TotalChunks: 2, TotalCodeUnits: 6})
	r.OnTimeout()
	if r.State != Degraded {
		t.Fatalf("State = %v, want Degraded", r.State)
	}
}

func TestReassemblerReconnectIncrementsGenerationAndResets(t *testing.T) {
	r := NewReassembler()
	r.OnStart(AttachedStart{TotalChunks: 1, TotalCodeUnits: 1})
	r.OnTimeout()
	r.Reconnect()

	if r.Generation != 1 {
		t.Fatalf("Generation = %d, want 1", r.Generation)
	}
	if r.State != ExpectingStart {
		t.Fatalf("State = %v, want ExpectingStart", r.State)
	}
}

func TestReassemblerIgnoresDuplicateChunkIndex(t *testing.T) {
	r := NewReassembler()
	r.OnStart(AttachedStart{TotalChunks: 1, TotalCodeUnits: 3})
	r.OnChunk(AttachedChunk{Chunk: "abc", ChunkIndex: 0})
	r.OnChunk(AttachedChunk{Chunk: "xyz", ChunkIndex: 0}) // duplicate, should be ignored
	r.OnEnd(AttachedEnd{TotalChunks: 1, TotalCodeUnits: 3})

	if r.State != Complete {
		t.Fatalf("State = %v, want Complete", r.State)
	}
	if string(r.Assembled()) != "abc" {
		t.Fatalf("Assembled() = %q, want abc (first write wins)", r.Assembled())
	}
}

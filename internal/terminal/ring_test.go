package terminal

import "testing"

func TestRingBufferAppendWithinCapacity(t *testing.T) {
	r := newRingBuffer(10)
	r.Append([]byte("hello"))
	if got := string(r.Snapshot()); got != "hello" {
		t.Errorf("Snapshot() = %q, want %q", got, "hello")
	}
	if r.Len() != 5 {
		t.Errorf("Len() = %d, want 5", r.Len())
	}
}

func TestRingBufferTrimsOldest(t *testing.T) {
	r := newRingBuffer(5)
	r.Append([]byte("abc"))
	r.Append([]byte("def"))
	if got := string(r.Snapshot()); got != "bcdef" {
		t.Errorf("Snapshot() = %q, want %q", got, "bcdef")
	}
}

func TestRingBufferSingleWriteExceedsCapacity(t *testing.T) {
	r := newRingBuffer(3)
	r.Append([]byte("abcdefgh"))
	if got := string(r.Snapshot()); got != "fgh" {
		t.Errorf("Snapshot() = %q, want %q", got, "fgh")
	}
}

func TestRingBufferSnapshotIsCopy(t *testing.T) {
	r := newRingBuffer(10)
	r.Append([]byte("hello"))
	snap := r.Snapshot()
	snap[0] = 'X'
	if got := string(r.Snapshot()); got != "hello" {
		t.Errorf("mutating snapshot affected buffer: %q", got)
	}
}

func TestRingBufferEmpty(t *testing.T) {
	r := newRingBuffer(10)
	if got := r.Snapshot(); len(got) != 0 {
		t.Errorf("Snapshot() on empty buffer = %v, want empty", got)
	}
}

func TestSeqIndexSinceCovered(t *testing.T) {
	idx := newSeqIndex(1024)
	idx.Append(1, []byte("abc"))
	idx.Append(2, []byte("def"))
	idx.Append(3, []byte("ghi"))

	data, covered := idx.Since(1)
	if !covered {
		t.Fatalf("Since(1) covered = false, want true")
	}
	if got := string(data); got != "defghi" {
		t.Errorf("Since(1) = %q, want %q", got, "defghi")
	}
}

func TestSeqIndexSinceLatestIsEmpty(t *testing.T) {
	idx := newSeqIndex(1024)
	idx.Append(1, []byte("abc"))

	data, covered := idx.Since(1)
	if !covered {
		t.Fatalf("Since(1) covered = false, want true")
	}
	if len(data) != 0 {
		t.Errorf("Since(1) = %q, want empty", data)
	}
}

func TestSeqIndexSinceEvictedIsUncovered(t *testing.T) {
	idx := newSeqIndex(4)
	idx.Append(1, []byte("abcd"))
	idx.Append(2, []byte("efgh"))

	if _, covered := idx.Since(0); covered {
		t.Errorf("Since(0) covered = true, want false: chunk 1 was evicted and its bytes are still needed")
	}
}

func TestSeqIndexSinceZeroOnEmptyIndexIsCovered(t *testing.T) {
	idx := newSeqIndex(1024)
	data, covered := idx.Since(0)
	if !covered {
		t.Errorf("Since(0) on empty index covered = false, want true")
	}
	if len(data) != 0 {
		t.Errorf("Since(0) on empty index = %q, want empty", data)
	}
}

func TestSeqIndexEvictsWholeChunks(t *testing.T) {
	idx := newSeqIndex(5)
	idx.Append(1, []byte("abc"))
	idx.Append(2, []byte("de"))
	idx.Append(3, []byte("f"))

	data, covered := idx.Since(1)
	if !covered {
		t.Fatalf("Since(1) covered = false, want true")
	}
	if got := string(data); got != "def" {
		t.Errorf("Since(1) = %q, want %q", got, "def")
	}
	if _, covered := idx.Since(0); covered {
		t.Errorf("Since(0) covered = true, want false after chunk 1 was evicted")
	}
}

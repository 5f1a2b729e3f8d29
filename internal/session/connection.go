package session

import (
	"context"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// idempotencyCacheSize bounds how many terminal.create responses one
// connection remembers for replay (spec §4.3). Sized generously above
// the default rate-limit window's burst so a reconnect-free session
// never evicts a still-relevant entry.
const idempotencyCacheSize = 512

// Connection is per-WebSocket-connection state owned by the Session
// Manager: handshake progress, ownership, rate limiting, idempotent
// replay, and the ordered outbound queue. It has no knowledge of the
// transport; internal/transport pumps Send's output onto the wire.
type Connection struct {
	ID string

	mu            sync.Mutex
	authenticated bool
	mobile        bool

	owned map[string]struct{} // resource IDs created via this connection

	createLimiter *slidingWindowLimiter
	createCache   *lru.Cache[string, InboundCreateReply]

	// attached tracks one cancel func per terminal this connection has a
	// live attachment or in-flight chunked send for, so disconnect/detach
	// can stop that pump goroutine (spec §4.3: "cancels any in-flight
	// chunked sends for that connection").
	attached map[string]context.CancelFunc

	Send chan []byte // ordered outbound queue; transport drains this
}

// InboundCreateReply is the cached terminal.created response replayed
// verbatim for a duplicate requestId (spec §4.3 idempotency rule).
type InboundCreateReply struct {
	TerminalID string
	Payload    []byte
}

const sendQueueSize = 512

// NewConnection allocates per-connection state. createLimit/createWindow
// configure the terminal.create rate bucket (spec §4.3).
func NewConnection(id string, createLimit int, createWindow time.Duration) *Connection {
	cache, _ := lru.New[string, InboundCreateReply](idempotencyCacheSize)
	return &Connection{
		ID:            id,
		owned:         make(map[string]struct{}),
		createLimiter: newSlidingWindowLimiter(createLimit, createWindow),
		createCache:   cache,
		attached:      make(map[string]context.CancelFunc),
		Send:          make(chan []byte, sendQueueSize),
	}
}

// MarkAuthenticated completes the handshake.
func (c *Connection) MarkAuthenticated() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authenticated = true
}

// Authenticated reports whether hello has succeeded.
func (c *Connection) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

// SetMobile overrides UA-derived classification with the client's own
// hello.client.mobile, per spec §4.3 step 5.
func (c *Connection) SetMobile(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mobile = v
}

func (c *Connection) Mobile() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mobile
}

// ClassifyMobile derives a default mobile classification from a
// User-Agent header, used when hello.client.mobile is absent.
func ClassifyMobile(userAgent string) bool {
	ua := strings.ToLower(userAgent)
	for _, marker := range []string{"android", "iphone", "ipad", "ipod", "mobile"} {
		if strings.Contains(ua, marker) {
			return true
		}
	}
	return false
}

// Own records resourceID as created via this connection (spec §4.3
// authorization: ownership is the set of resource IDs created here).
func (c *Connection) Own(resourceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.owned[resourceID] = struct{}{}
}

// Owns reports whether resourceID was created via this connection.
func (c *Connection) Owns(resourceID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.owned[resourceID]
	return ok
}

// OwnedIDs returns a snapshot of every resource ID this connection owns.
// Disconnect does not consult it; it detaches via AttachedTerminalIDs.
func (c *Connection) OwnedIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.owned))
	for id := range c.owned {
		out = append(out, id)
	}
	return out
}

// AllowCreate checks and records against the sliding-window rate bucket.
// restore bypasses the bucket entirely per spec §4.3.
func (c *Connection) AllowCreate(restore bool, now time.Time) bool {
	if restore {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.createLimiter.Allow(now)
}

// CachedCreateReply returns a previously cached terminal.created response
// for requestID, if any (idempotent retry replay).
func (c *Connection) CachedCreateReply(requestID string) (InboundCreateReply, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.createCache.Get(requestID)
}

// CacheCreateReply stores a successful terminal.created response for
// replay. The cache holds at most idempotencyCacheSize entries; once it
// is full the least recently used reply is evicted, and a retry of an
// evicted requestId is treated as a new create.
func (c *Connection) CacheCreateReply(requestID string, reply InboundCreateReply) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.createCache.Add(requestID, reply)
}

// TrackAttachment records the cancel func for terminalID's pump
// goroutine, replacing and cancelling any prior one for the same
// terminal (re-attach semantics).
func (c *Connection) TrackAttachment(terminalID string, cancel context.CancelFunc) {
	c.mu.Lock()
	prior, ok := c.attached[terminalID]
	c.attached[terminalID] = cancel
	c.mu.Unlock()
	if ok {
		prior()
	}
}

// ForgetAttachment cancels and drops the pump goroutine for terminalID,
// used on detach and on disconnect (spec §4.3: "cancels any in-flight
// chunked sends for that connection").
func (c *Connection) ForgetAttachment(terminalID string) {
	c.mu.Lock()
	cancel, ok := c.attached[terminalID]
	delete(c.attached, terminalID)
	c.mu.Unlock()
	if ok {
		cancel()
	}
}

// AttachedTerminalIDs lists every terminal this connection currently has
// an attachment or in-flight snapshot for.
func (c *Connection) AttachedTerminalIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.attached))
	for id := range c.attached {
		out = append(out, id)
	}
	return out
}

// Enqueue pushes payload onto the ordered outbound queue. If the queue is
// full the connection is considered a slow consumer; the caller (Manager)
// is responsible for deciding whether to drop it with SLOW_CONSUMER.
func (c *Connection) Enqueue(payload []byte) bool {
	select {
	case c.Send <- payload:
		return true
	default:
		return false
	}
}

// QueueDepth reports how many frames are queued, for SLOW_CONSUMER
// threshold checks (spec §4.2 backpressure: default warning ~200 frames).
func (c *Connection) QueueDepth() int {
	return len(c.Send)
}

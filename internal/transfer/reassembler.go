// Package transfer reassembles chunked uploads from kiosks.
//
// A kiosk sends a photo as total_parts ordered chunks on one client id.
// Chunks may arrive in any order; the payload is released exactly once,
// when every index 0..total-1 is held. In-flight transfers live in a bounded
// LRU with an idle TTL, so abandoned uploads cannot grow memory without limit.
package transfer

import (
	"bytes"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Defaults applied when Config fields are zero.
const (
	defaultMaxPending = 64
	defaultMaxParts   = 256
	defaultIdleTTL    = time.Minute
)

// Logger is the logging surface the reassembler needs.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Config bounds the reassembler.
type Config struct {
	// MaxPending is the number of concurrent transfers kept. Adding one more
	// evicts the least recently touched.
	MaxPending int

	// MaxParts is the largest total a transfer may announce.
	MaxParts int

	// IdleTTL evicts a transfer that has received no chunk for this long.
	IdleTTL time.Duration
}

// pending is one in-flight transfer. total and clientID never change after
// creation; chunks is guarded by Reassembler.mu.
type pending struct {
	clientID string
	total    int
	chunks   map[int][]byte
	started  time.Time

	// released marks transfers removed by the reassembler itself, so the
	// eviction callback only reports capacity and TTL evictions.
	released atomic.Bool
}

// Reassembler accumulates chunks per client id.
//
// All methods are safe for concurrent use, but callers that need arrival
// order per client id must call Add from a single goroutine.
type Reassembler struct {
	mu      sync.Mutex
	cache   *expirable.LRU[string, *pending]
	maxPart int
	logger  Logger
	evicted atomic.Uint64
}

// New creates a Reassembler. A nil logger discards log output.
func New(cfg Config, logger Logger) *Reassembler {
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = defaultMaxPending
	}
	if cfg.MaxParts <= 0 {
		cfg.MaxParts = defaultMaxParts
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = defaultIdleTTL
	}
	if logger == nil {
		logger = noopLogger{}
	}

	r := &Reassembler{maxPart: cfg.MaxParts, logger: logger}
	// The callback runs inside the LRU's own lock, sometimes while r.mu is
	// held. It must not touch r.mu or r.cache.
	r.cache = expirable.NewLRU[string, *pending](cfg.MaxPending, r.onEvict, cfg.IdleTTL)
	return r
}

func (r *Reassembler) onEvict(clientID string, p *pending) {
	if p.released.Load() {
		return
	}
	r.evicted.Add(1)
	r.logger.Warn("image transfer evicted before completion",
		"client_id", clientID,
		"total_parts", p.total,
		"age", time.Since(p.started).Round(time.Millisecond).String(),
	)
}

// Add stores chunk at index part of the transfer keyed by clientID.
//
// The first chunk of a transfer fixes its total. Storing an index twice keeps
// the later chunk. When the transfer holds every index it is removed and the
// concatenated payload returned with complete set.
//
// Any error discards the client's transfer: a chunk whose header disagrees
// with the transfer means the upload is corrupt.
//
// Returns:
//   - payload: The chunks concatenated in index order (only when complete)
//   - complete: True exactly once per transfer
//   - error: ErrInvalidClientID, ErrInvalidTotal, ErrInvalidPart or
//     ErrTotalMismatch
//
// ErrMissingPart is not reachable here: indices are bounds-checked against a
// fixed total, so holding total chunks means holding every index. assemble
// still checks it.
func (r *Reassembler) Add(clientID string, part, total int, chunk []byte) (payload []byte, complete bool, err error) {
	if clientID == "" {
		return nil, false, ErrInvalidClientID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if total <= 0 || total > r.maxPart {
		r.discardLocked(clientID)
		return nil, false, fmt.Errorf("%w: %d (max %d)", ErrInvalidTotal, total, r.maxPart)
	}
	if part < 0 || part >= total {
		r.discardLocked(clientID)
		return nil, false, fmt.Errorf("%w: %d of %d", ErrInvalidPart, part, total)
	}

	p, ok := r.cache.Get(clientID)
	if !ok {
		// An expired entry the sweeper has not reached yet would be
		// overwritten by Add without firing the eviction callback.
		r.cache.Remove(clientID)
		p = &pending{
			clientID: clientID,
			total:    total,
			chunks:   make(map[int][]byte, total),
			started:  time.Now(),
		}
	} else if p.total != total {
		r.discardLocked(clientID)
		return nil, false, fmt.Errorf("%w: started with %d, got %d", ErrTotalMismatch, p.total, total)
	}

	if _, dup := p.chunks[part]; dup {
		r.logger.Debug("image chunk replaced", "client_id", clientID, "part", part)
	}
	p.chunks[part] = bytes.Clone(chunk)

	if len(p.chunks) < p.total {
		// Re-adding refreshes both recency and the idle TTL.
		r.cache.Add(clientID, p)
		return nil, false, nil
	}

	r.discardLocked(clientID)
	payload, err = p.assemble()
	if err != nil {
		return nil, false, err
	}
	return payload, true, nil
}

// Discard drops the client's transfer, if any.
func (r *Reassembler) Discard(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.discardLocked(clientID)
}

func (r *Reassembler) discardLocked(clientID string) {
	if p, ok := r.cache.Peek(clientID); ok {
		p.released.Store(true)
		r.cache.Remove(clientID)
	}
}

// Len returns the number of in-flight transfers, including any that have
// expired but not yet been swept.
func (r *Reassembler) Len() int {
	return r.cache.Len()
}

// Evicted returns how many transfers were dropped by capacity or idle TTL
// before completing.
func (r *Reassembler) Evicted() uint64 {
	return r.evicted.Load()
}

// assemble concatenates chunks in index order.
func (p *pending) assemble() ([]byte, error) {
	size := 0
	for _, c := range p.chunks {
		size += len(c)
	}

	out := make([]byte, 0, size)
	for i := range p.total {
		c, ok := p.chunks[i]
		if !ok {
			return nil, fmt.Errorf("%w: index %d of %d", ErrMissingPart, i, p.total)
		}
		out = append(out, c...)
	}
	return out, nil
}

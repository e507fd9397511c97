package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/kiosk-gateway/internal/library"
)

// Defaults applied when Options leaves a field zero.
const (
	DefaultMaxActiveLoans = 3
	DefaultLoanPeriod     = 7 * 24 * time.Hour
	DefaultRequestTimeout = 10 * time.Second
)

// Publisher sends one message to the broker.
// Satisfied by *mqtt.Manager.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// Store is the subset of the lending store the handlers use.
// Satisfied by *library.SQLiteRepository.
type Store interface {
	FindBorrowerByID(ctx context.Context, id int64) (*library.Borrower, error)
	CountActiveLoansByBorrower(ctx context.Context, borrowerID int64) (int, error)
	FindBookByCode(ctx context.Context, code string) (*library.Book, error)
	FindActiveLoanByBook(ctx context.Context, bookID int64) (*library.Loan, error)
	CreateLoan(ctx context.Context, nl library.NewLoan) (*library.Loan, error)
	RecordRequest(ctx context.Context, req library.Request) error
}

// Transfers accumulates image chunks per client.
// Satisfied by *transfer.Reassembler.
type Transfers interface {
	Add(clientID string, part, total int, chunk []byte) (payload []byte, complete bool, err error)
	Discard(clientID string)
}

// Decoder recognizes a code in image bytes.
// Satisfied by *decode.ZXingDecoder.
type Decoder interface {
	Decode(ctx context.Context, data []byte) (string, error)
}

// Metrics records the outcome of each handled request. Optional.
type Metrics interface {
	RecordRequest(kind, outcome string, elapsed time.Duration)
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options holds the collaborators and tunables for a Gateway.
type Options struct {
	// Publisher is required.
	Publisher Publisher

	// Store is required.
	Store Store

	// Transfers is required.
	Transfers Transfers

	// Decoder is required.
	Decoder Decoder

	// Metrics is optional; nil disables request telemetry.
	Metrics Metrics

	// Logger is optional; nil discards output.
	Logger Logger

	// MaxActiveLoans is the per-borrower limit on unreturned loans.
	MaxActiveLoans int

	// LoanPeriod is added to the retrieval time to get the due date.
	LoanPeriod time.Duration

	// RequestTimeout bounds the store and decode work for one request.
	RequestTimeout time.Duration

	// DrainTimeout is how long Stop waits for in-flight requests before
	// cancelling them. Defaults to RequestTimeout.
	DrainTimeout time.Duration
}

// Stats is a snapshot of gateway counters for the metrics endpoint.
type Stats struct {
	Received        uint64 `json:"received"`
	Dropped         uint64 `json:"dropped"`
	Replies         uint64 `json:"replies"`
	PublishFailures uint64 `json:"publish_failures"`
	StoreFaults     uint64 `json:"store_faults"`
	InFlight        int64  `json:"in_flight"`
}

// Gateway routes kiosk requests to their handlers and publishes one reply
// per request.
//
// Route is called for every inbound message in arrival order. Handlers that
// touch the store or the decoder run on goroutines tracked by the gateway, so
// a slow request never blocks the next one. Stop lets those goroutines finish
// and cancels only the ones still running after the drain timeout.
type Gateway struct {
	pub       Publisher
	store     Store
	transfers Transfers
	decoder   Decoder
	metrics   Metrics
	topics    Topics

	maxActive      int
	loanPeriod     time.Duration
	requestTimeout time.Duration
	drainTimeout   time.Duration
	now            func() time.Time

	ctx       context.Context
	ctxCancel context.CancelFunc
	mu        sync.Mutex
	stopped   bool
	wg        sync.WaitGroup
	stopOnce  sync.Once

	received        atomic.Uint64
	dropped         atomic.Uint64
	replies         atomic.Uint64
	publishFailures atomic.Uint64
	storeFaults     atomic.Uint64
	inFlight        atomic.Int64

	logger   Logger
	loggerMu sync.RWMutex
}

// New creates a gateway. It is ready to Route immediately.
func New(opts Options) (*Gateway, error) {
	if opts.Publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if opts.Transfers == nil {
		return nil, fmt.Errorf("transfers is required")
	}
	if opts.Decoder == nil {
		return nil, fmt.Errorf("decoder is required")
	}

	if opts.MaxActiveLoans <= 0 {
		opts.MaxActiveLoans = DefaultMaxActiveLoans
	}
	if opts.LoanPeriod <= 0 {
		opts.LoanPeriod = DefaultLoanPeriod
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = opts.RequestTimeout
	}
	var logger Logger = noopLogger{}
	if opts.Logger != nil {
		logger = opts.Logger
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	return &Gateway{
		pub:            opts.Publisher,
		store:          opts.Store,
		transfers:      opts.Transfers,
		decoder:        opts.Decoder,
		metrics:        opts.Metrics, // May be nil (optional)
		maxActive:      opts.MaxActiveLoans,
		loanPeriod:     opts.LoanPeriod,
		requestTimeout: opts.RequestTimeout,
		drainTimeout:   opts.DrainTimeout,
		now:            time.Now,
		ctx:            ctx,
		ctxCancel:      ctxCancel,
		logger:         logger,
	}, nil
}

// Subscriptions returns the topic filters the broker connection must hold.
func (g *Gateway) Subscriptions() []string {
	return []string{
		g.topics.AuthRequests(),
		g.topics.StatusRequests(),
		g.topics.LoanRequests(),
		g.topics.LoanMake(),
		g.topics.ImageRequests(),
	}
}

// Route classifies one inbound message and dispatches it.
//
// Returns an error only for messages that are dropped without a reply:
// unparseable payloads, bad client ids, garbled chunk headers, or arrival
// after Stop. Business outcomes and store faults are handled internally.
// Unknown topics are ignored.
func (g *Gateway) Route(topic string, payload []byte) error {
	g.received.Add(1)

	r := classify(topic)
	switch r {
	case routeUnknown:
		g.dropped.Add(1)
		g.getLogger().Debug("ignoring message on unrouted topic", "topic", topic)
		return nil

	case routeAuth, routeStatus:
		var req UserRequest
		if err := g.decodeRequest(payload, &req, &req.ClientID); err != nil {
			return g.drop(topic, err)
		}
		if r == routeAuth {
			return g.spawn(topic, func(ctx context.Context) { g.handleAuth(ctx, req) })
		}
		return g.spawn(topic, func(ctx context.Context) { g.handleStatus(ctx, req) })

	case routeLoan:
		var req LoanRequest
		if err := g.decodeRequest(payload, &req, &req.ClientID); err != nil {
			return g.drop(topic, err)
		}
		return g.spawn(topic, func(ctx context.Context) { g.handleLoan(ctx, req) })

	case routeImagePart:
		var part ImagePart
		if err := g.decodeRequest(payload, &part, &part.ClientID); err != nil {
			return g.drop(topic, err)
		}
		return g.ingestImagePart(topic, part)

	case routeImageFinal:
		var final ImageFinal
		if err := json.Unmarshal(payload, &final); err != nil {
			return g.drop(topic, fmt.Errorf("%w: %w", ErrMalformedPayload, err))
		}
		g.getLogger().Debug("image final marker ignored", "client_id", final.ClientID)
		return nil
	}
	return nil
}

// decodeRequest unmarshals payload into dst and validates the client id
// it carries.
func (g *Gateway) decodeRequest(payload []byte, dst any, clientID *string) error {
	if err := json.Unmarshal(payload, dst); err != nil {
		if errors.Is(err, ErrInvalidUserID) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	return validateClientID(*clientID)
}

func (g *Gateway) drop(topic string, err error) error {
	g.dropped.Add(1)
	return fmt.Errorf("dropping message on %s: %w", topic, err)
}

// spawn runs fn on a tracked goroutine with a per-request deadline derived
// from the gateway context.
func (g *Gateway) spawn(topic string, fn func(ctx context.Context)) error {
	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		return g.drop(topic, ErrStopped)
	}
	g.wg.Add(1)
	g.mu.Unlock()

	g.inFlight.Add(1)
	go func() {
		defer g.wg.Done()
		defer g.inFlight.Add(-1)
		defer func() {
			if rec := recover(); rec != nil {
				g.getLogger().Error("request handler panic recovered", "topic", topic, "panic", rec)
			}
		}()

		ctx, cancel := context.WithTimeout(g.ctx, g.requestTimeout)
		defer cancel()
		fn(ctx)
	}()
	return nil
}

// Stop refuses new requests and waits for in-flight handlers so every
// accepted request still gets its reply. Handlers still running after the
// drain timeout are cancelled. Safe to call more than once.
func (g *Gateway) Stop() {
	g.stopOnce.Do(func() {
		g.mu.Lock()
		g.stopped = true
		g.mu.Unlock()

		done := make(chan struct{})
		go func() {
			g.wg.Wait()
			close(done)
		}()

		timer := time.NewTimer(g.drainTimeout)
		defer timer.Stop()

		select {
		case <-done:
		case <-timer.C:
			g.getLogger().Warn("drain timeout reached, cancelling in-flight requests",
				"in_flight", g.inFlight.Load(),
				"timeout", g.drainTimeout,
			)
			g.ctxCancel()
			<-done
		}
		g.ctxCancel()
		g.getLogger().Info("gateway stopped")
	})
}

// Stats returns a snapshot of the gateway counters.
func (g *Gateway) Stats() Stats {
	return Stats{
		Received:        g.received.Load(),
		Dropped:         g.dropped.Load(),
		Replies:         g.replies.Load(),
		PublishFailures: g.publishFailures.Load(),
		StoreFaults:     g.storeFaults.Load(),
		InFlight:        g.inFlight.Load(),
	}
}

// SetLogger sets the logger. A nil logger discards output.
func (g *Gateway) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	g.loggerMu.Lock()
	g.logger = logger
	g.loggerMu.Unlock()
}

func (g *Gateway) getLogger() Logger {
	g.loggerMu.RLock()
	defer g.loggerMu.RUnlock()
	return g.logger
}

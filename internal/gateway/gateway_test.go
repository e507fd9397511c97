package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/kiosk-gateway/internal/library"
	"github.com/nerrad567/kiosk-gateway/internal/transfer"
)

// ============================================================================
// Test doubles
// ============================================================================

type published struct {
	Topic   string
	Payload string
}

type mockPublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (p *mockPublisher) Publish(topic string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, published{Topic: topic, Payload: string(payload)})
	return nil
}

func (p *mockPublisher) all() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.msgs...)
}

// mockStore is an in-memory Store. faultErr, when set, is returned by every
// read as a store fault. Like the SQLite store, every method fails once its
// context is done.
type mockStore struct {
	mu         sync.Mutex
	borrowers  map[int64]bool
	books      map[string]int64
	active     map[int64]int  // borrower -> active loan count
	onLoan     map[int64]bool // book -> has active loan
	faultErr   error
	createErr  error
	requestErr error
	created    []library.NewLoan
	requests   []library.Request
}

func newMockStore() *mockStore {
	return &mockStore{
		borrowers: map[int64]bool{},
		books:     map[string]int64{},
		active:    map[int64]int{},
		onLoan:    map[int64]bool{},
	}
}

func (s *mockStore) FindBorrowerByID(ctx context.Context, id int64) (*library.Borrower, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.faultErr != nil {
		return nil, s.faultErr
	}
	if !s.borrowers[id] {
		return nil, library.ErrBorrowerNotFound
	}
	return &library.Borrower{ID: id}, nil
}

func (s *mockStore) CountActiveLoansByBorrower(ctx context.Context, id int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.faultErr != nil {
		return 0, s.faultErr
	}
	return s.active[id], nil
}

func (s *mockStore) FindBookByCode(ctx context.Context, code string) (*library.Book, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.faultErr != nil {
		return nil, s.faultErr
	}
	id, ok := s.books[code]
	if !ok {
		return nil, library.ErrBookNotFound
	}
	return &library.Book{ID: id, Code: code}, nil
}

func (s *mockStore) FindActiveLoanByBook(ctx context.Context, bookID int64) (*library.Loan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.faultErr != nil {
		return nil, s.faultErr
	}
	if !s.onLoan[bookID] {
		return nil, library.ErrLoanNotFound
	}
	return &library.Loan{ID: 1, BookID: bookID}, nil
}

func (s *mockStore) CreateLoan(ctx context.Context, nl library.NewLoan) (*library.Loan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return nil, s.createErr
	}
	s.created = append(s.created, nl)
	s.onLoan[nl.BookID] = true
	s.active[nl.BorrowerID]++
	return &library.Loan{
		ID:          int64(len(s.created)),
		BorrowerID:  nl.BorrowerID,
		BookID:      nl.BookID,
		RetrievedAt: nl.RetrievedAt,
		DueAt:       nl.DueAt,
	}, nil
}

func (s *mockStore) RecordRequest(ctx context.Context, req library.Request) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.requestErr != nil {
		return s.requestErr
	}
	s.requests = append(s.requests, req)
	return nil
}

// mockDecoder returns code for any input it recognizes as "IMAGE:<code>".
// It fails once its context is done.
type mockDecoder struct {
	mu     sync.Mutex
	inputs [][]byte
}

func (d *mockDecoder) Decode(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	d.mu.Lock()
	d.inputs = append(d.inputs, append([]byte(nil), data...))
	d.mu.Unlock()

	if code, ok := strings.CutPrefix(string(data), "IMAGE:"); ok {
		return code, nil
	}
	return "", errors.New("no code")
}

type metricEvent struct {
	Kind, Outcome string
}

type mockMetrics struct {
	mu     sync.Mutex
	events []metricEvent
}

func (m *mockMetrics) RecordRequest(kind, outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, metricEvent{Kind: kind, Outcome: outcome})
}

type testEnv struct {
	gw      *Gateway
	pub     *mockPublisher
	store   *mockStore
	decoder *mockDecoder
	metrics *mockMetrics
}

var testNow = time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC)

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		pub:     &mockPublisher{},
		store:   newMockStore(),
		decoder: &mockDecoder{},
		metrics: &mockMetrics{},
	}
	gw, err := New(Options{
		Publisher: env.pub,
		Store:     env.store,
		Transfers: transfer.New(transfer.Config{MaxPending: 8, MaxParts: 16, IdleTTL: time.Minute}, nil),
		Decoder:   env.decoder,
		Metrics:   env.metrics,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	gw.now = func() time.Time { return testNow }
	env.gw = gw
	t.Cleanup(gw.Stop)
	return env
}

// route delivers a message and fails the test on a routing error.
func (e *testEnv) route(t *testing.T, topic, payload string) {
	t.Helper()
	if err := e.gw.Route(topic, []byte(payload)); err != nil {
		t.Fatalf("Route(%q) error = %v", topic, err)
	}
}

// drain waits for every in-flight handler and returns what was published.
func (e *testEnv) drain() []published {
	e.gw.Stop()
	return e.pub.all()
}

func assertReply(t *testing.T, msgs []published, topic, body string) {
	t.Helper()
	if len(msgs) != 1 {
		t.Fatalf("published %d messages, want 1: %+v", len(msgs), msgs)
	}
	if msgs[0].Topic != topic {
		t.Errorf("reply topic = %q, want %q", msgs[0].Topic, topic)
	}
	if !jsonEqual(t, msgs[0].Payload, body) {
		t.Errorf("reply body = %s, want %s", msgs[0].Payload, body)
	}
}

func jsonEqual(t *testing.T, a, b string) bool {
	t.Helper()
	var va, vb any
	if err := json.Unmarshal([]byte(a), &va); err != nil {
		t.Fatalf("invalid JSON %q: %v", a, err)
	}
	if err := json.Unmarshal([]byte(b), &vb); err != nil {
		t.Fatalf("invalid JSON %q: %v", b, err)
	}
	return fmt.Sprint(va) == fmt.Sprint(vb)
}

// ============================================================================
// Construction
// ============================================================================

func TestNew_RequiresCollaborators(t *testing.T) {
	full := Options{
		Publisher: &mockPublisher{},
		Store:     newMockStore(),
		Transfers: transfer.New(transfer.Config{}, nil),
		Decoder:   &mockDecoder{},
	}

	tests := []struct {
		name   string
		mutate func(*Options)
	}{
		{"publisher", func(o *Options) { o.Publisher = nil }},
		{"store", func(o *Options) { o.Store = nil }},
		{"transfers", func(o *Options) { o.Transfers = nil }},
		{"decoder", func(o *Options) { o.Decoder = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := full
			tt.mutate(&opts)
			if _, err := New(opts); err == nil {
				t.Errorf("New() without %s: expected error, got nil", tt.name)
			}
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	gw, err := New(Options{
		Publisher: &mockPublisher{},
		Store:     newMockStore(),
		Transfers: transfer.New(transfer.Config{}, nil),
		Decoder:   &mockDecoder{},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer gw.Stop()

	if gw.maxActive != DefaultMaxActiveLoans {
		t.Errorf("maxActive = %d, want %d", gw.maxActive, DefaultMaxActiveLoans)
	}
	if gw.loanPeriod != DefaultLoanPeriod {
		t.Errorf("loanPeriod = %v, want %v", gw.loanPeriod, DefaultLoanPeriod)
	}
	if gw.requestTimeout != DefaultRequestTimeout {
		t.Errorf("requestTimeout = %v, want %v", gw.requestTimeout, DefaultRequestTimeout)
	}
	if gw.drainTimeout != DefaultRequestTimeout {
		t.Errorf("drainTimeout = %v, want %v", gw.drainTimeout, DefaultRequestTimeout)
	}
}

func TestSubscriptions(t *testing.T) {
	env := newTestEnv(t)

	want := []string{
		"esp32/auth/request/#",
		"esp32/status/request/#",
		"esp32/loan/request/#",
		"esp32/loan/make/#",
		"esp32/image/request/#",
	}
	got := env.gw.Subscriptions()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("Subscriptions() = %v, want %v", got, want)
	}
}

// ============================================================================
// Topic classification
// ============================================================================

func TestClassify(t *testing.T) {
	tests := []struct {
		topic string
		want  route
	}{
		{"esp32/auth/request", routeAuth},
		{"esp32/auth/request/c1", routeAuth},
		{"esp32/status/request", routeStatus},
		{"esp32/status/request/desk-2", routeStatus},
		{"esp32/loan/request", routeLoan},
		{"esp32/loan/make", routeLoan},
		{"esp32/loan/make/c1", routeLoan},
		{"esp32/image/request/c1/part", routeImagePart},
		{"esp32/image/request/c1/final", routeImageFinal},
		{"esp32/image/request/c1", routeUnknown},
		{"esp32/image/request", routeUnknown},
		{"esp32/auth/response/c1", routeUnknown},
		{"esp32/unknown/request", routeUnknown},
		{"other/auth/request", routeUnknown},
		{"", routeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			if got := classify(tt.topic); got != tt.want {
				t.Errorf("classify(%q) = %v, want %v", tt.topic, got, tt.want)
			}
		})
	}
}

func TestTopics_Response(t *testing.T) {
	topics := Topics{}
	tests := []struct {
		kind, client, want string
	}{
		{KindAuth, "c1", "esp32/auth/response/c1"},
		{KindStatus, "c1", "esp32/status/response/c1"},
		{KindLoan, "kiosk-7", "esp32/loan/response/kiosk-7"},
		{KindImage, "c9", "esp32/image/response/c9"},
	}
	for _, tt := range tests {
		if got := topics.Response(tt.kind, tt.client); got != tt.want {
			t.Errorf("Response(%q, %q) = %q, want %q", tt.kind, tt.client, got, tt.want)
		}
	}
}

// ============================================================================
// Message parsing
// ============================================================================

func TestUserID_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    UserID
		wantErr bool
	}{
		{"number", `42`, 42, false},
		{"string", `"42"`, 42, false},
		{"padded string", `" 7 "`, 7, false},
		{"null", `null`, 0, false},
		{"float", `4.2`, 0, true},
		{"word", `"abc"`, 0, true},
		{"bool", `true`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got UserID
			err := json.Unmarshal([]byte(tt.input), &got)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Unmarshal(%s) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrInvalidUserID) {
				t.Errorf("Unmarshal(%s) error = %v, want ErrInvalidUserID", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("Unmarshal(%s) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestValidateClientID(t *testing.T) {
	tests := []struct {
		id   string
		want error
	}{
		{"c1", nil},
		{"kiosk-7_a", nil},
		{"", ErrMissingClientID},
		{"a/b", ErrInvalidClientID},
		{"a+", ErrInvalidClientID},
		{"#", ErrInvalidClientID},
	}
	for _, tt := range tests {
		err := validateClientID(tt.id)
		if !errors.Is(err, tt.want) && !(err == nil && tt.want == nil) {
			t.Errorf("validateClientID(%q) = %v, want %v", tt.id, err, tt.want)
		}
	}
}

// ============================================================================
// Routing errors
// ============================================================================

func TestRoute_DropsWithoutReply(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		payload string
		want    error
	}{
		{"not json", "esp32/auth/request", `{client_id:`, ErrMalformedPayload},
		{"wrong field type", "esp32/loan/request", `{"client_id":"c1","book_code":5}`, ErrMalformedPayload},
		{"missing client id", "esp32/auth/request", `{"user_id":42}`, ErrMissingClientID},
		{"empty client id", "esp32/status/request", `{"client_id":"","user_id":42}`, ErrMissingClientID},
		{"wildcard client id", "esp32/auth/request", `{"client_id":"c/#","user_id":42}`, ErrInvalidClientID},
		{"bad user id", "esp32/auth/request", `{"client_id":"c1","user_id":"abc"}`, ErrInvalidUserID},
		{"garbled part index", "esp32/image/request/c1/part", `{"client_id":"c1","part":5,"total_parts":3,"image_chunk":"AA"}`, transfer.ErrInvalidPart},
		{"garbled total", "esp32/image/request/c1/part", `{"client_id":"c1","part":0,"total_parts":0,"image_chunk":"AA"}`, transfer.ErrInvalidTotal},
		{"final not json", "esp32/image/request/c1/final", `nope`, ErrMalformedPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.store.borrowers[42] = true

			err := env.gw.Route(tt.topic, []byte(tt.payload))
			if !errors.Is(err, tt.want) {
				t.Fatalf("Route() error = %v, want %v", err, tt.want)
			}
			if msgs := env.drain(); len(msgs) != 0 {
				t.Errorf("published %d messages for dropped request, want 0: %+v", len(msgs), msgs)
			}
			if got := env.gw.Stats().Dropped; got != 1 {
				t.Errorf("Stats().Dropped = %d, want 1", got)
			}
		})
	}
}

func TestRoute_UnknownTopicIgnored(t *testing.T) {
	env := newTestEnv(t)

	if err := env.gw.Route("esp32/telemetry/heartbeat", []byte(`{}`)); err != nil {
		t.Errorf("Route(unknown) error = %v, want nil", err)
	}
	if msgs := env.drain(); len(msgs) != 0 {
		t.Errorf("published %d messages, want 0", len(msgs))
	}
}

func TestRoute_ImageFinalIsNoOp(t *testing.T) {
	env := newTestEnv(t)

	env.route(t, "esp32/image/request/c1/final", `{"client_id":"c1"}`)
	if msgs := env.drain(); len(msgs) != 0 {
		t.Errorf("published %d messages, want 0", len(msgs))
	}
}

func TestRoute_AfterStop(t *testing.T) {
	env := newTestEnv(t)
	env.gw.Stop()

	err := env.gw.Route("esp32/auth/request", []byte(`{"client_id":"c1","user_id":1}`))
	if !errors.Is(err, ErrStopped) {
		t.Errorf("Route() after Stop error = %v, want ErrStopped", err)
	}
}

func TestStop_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	env.gw.Stop()
	env.gw.Stop()
}

// blockingStore holds every borrower lookup until release is closed or its
// context ends.
type blockingStore struct {
	*mockStore
	entered chan struct{}
	release chan struct{}
}

func newBlockingStore() *blockingStore {
	return &blockingStore{
		mockStore: newMockStore(),
		entered:   make(chan struct{}, 1),
		release:   make(chan struct{}),
	}
}

func (s *blockingStore) FindBorrowerByID(ctx context.Context, id int64) (*library.Borrower, error) {
	s.entered <- struct{}{}
	select {
	case <-s.release:
		return &library.Borrower{ID: id}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestStop_DrainsInFlightHandlers(t *testing.T) {
	pub := &mockPublisher{}
	store := newBlockingStore()
	gw, err := New(Options{
		Publisher:    pub,
		Store:        store,
		Transfers:    transfer.New(transfer.Config{}, nil),
		Decoder:      &mockDecoder{},
		DrainTimeout: time.Hour,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := gw.Route("esp32/auth/request", []byte(`{"client_id":"c1","user_id":1}`)); err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	<-store.entered

	done := make(chan struct{})
	go func() {
		gw.Stop()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Stop() returned while a handler was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(store.release)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not return after the handler finished")
	}

	assertReply(t, pub.all(), "esp32/auth/response/c1", `{"auth":true,"status":null}`)
	if got := gw.Stats().StoreFaults; got != 0 {
		t.Errorf("Stats().StoreFaults = %d, want 0", got)
	}
}

func TestStop_CancelsAfterDrainTimeout(t *testing.T) {
	pub := &mockPublisher{}
	store := newBlockingStore()
	gw, err := New(Options{
		Publisher:      pub,
		Store:          store,
		Transfers:      transfer.New(transfer.Config{}, nil),
		Decoder:        &mockDecoder{},
		RequestTimeout: time.Hour,
		DrainTimeout:   20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := gw.Route("esp32/auth/request", []byte(`{"client_id":"c1","user_id":1}`)); err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	<-store.entered

	done := make(chan struct{})
	go func() {
		gw.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not return after the drain timeout")
	}
	if n := len(pub.all()); n != 0 {
		t.Errorf("published %d messages after cancelled store call, want 0", n)
	}
	if got := gw.Stats().StoreFaults; got != 1 {
		t.Errorf("Stats().StoreFaults = %d, want 1", got)
	}
}

// TestStop_RepliesToEveryAcceptedRequest stops the gateway straight after
// routing one request of each kind.
func TestStop_RepliesToEveryAcceptedRequest(t *testing.T) {
	env := newTestEnv(t)
	env.store.borrowers[42] = true
	env.store.books["B1"] = 10

	image := base64.StdEncoding.EncodeToString([]byte("IMAGE:B1"))
	env.route(t, "esp32/auth/request", `{"client_id":"ka","user_id":42}`)
	env.route(t, "esp32/status/request", `{"client_id":"ks","user_id":42}`)
	env.route(t, "esp32/loan/request", `{"client_id":"kl","user_id":42,"book_code":"B1"}`)
	env.route(t, "esp32/image/request/ki/part",
		fmt.Sprintf(`{"client_id":"ki","part":0,"total_parts":1,"image_chunk":%q}`, image))

	msgs := env.drain()

	want := map[string]string{
		"esp32/auth/response/ka":   `{"auth":true,"status":null}`,
		"esp32/status/response/ks": `{"auth":null,"status":true}`,
		"esp32/loan/response/kl":   `{"auth":null,"status":null,"loan":true}`,
		"esp32/image/response/ki":  `{"image":true,"code":"B1"}`,
	}
	if len(msgs) != len(want) {
		t.Fatalf("published %d messages, want %d: %+v", len(msgs), len(want), msgs)
	}
	for _, m := range msgs {
		body, ok := want[m.Topic]
		if !ok {
			t.Errorf("unexpected reply on %q", m.Topic)
			continue
		}
		if !jsonEqual(t, m.Payload, body) {
			t.Errorf("reply on %q = %s, want %s", m.Topic, m.Payload, body)
		}
		delete(want, m.Topic)
	}
	if got := env.gw.Stats().StoreFaults; got != 0 {
		t.Errorf("Stats().StoreFaults = %d, want 0", got)
	}
}

func TestRequestTimeout_BoundsStoreCall(t *testing.T) {
	pub := &mockPublisher{}
	store := newBlockingStore()
	gw, err := New(Options{
		Publisher:      pub,
		Store:          store,
		Transfers:      transfer.New(transfer.Config{}, nil),
		Decoder:        &mockDecoder{},
		RequestTimeout: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer gw.Stop()

	if err := gw.Route("esp32/auth/request", []byte(`{"client_id":"c1","user_id":1}`)); err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	<-store.entered

	deadline := time.Now().Add(2 * time.Second)
	for gw.Stats().InFlight != 0 {
		if time.Now().After(deadline) {
			t.Fatal("handler still in flight after request timeout")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := gw.Stats().StoreFaults; got != 1 {
		t.Errorf("Stats().StoreFaults = %d, want 1", got)
	}
}

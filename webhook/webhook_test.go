package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/petal-labs/toolpilot/bus"
	"github.com/petal-labs/toolpilot/tool"
)

func testDSN(t *testing.T) string {
	t.Helper()
	return fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
}

func eachStore(t *testing.T, fn func(t *testing.T, store Store)) {
	t.Run("sqlite", func(t *testing.T) {
		store, err := NewSQLiteStore(SQLiteStoreConfig{DSN: testDSN(t)})
		if err != nil {
			t.Fatalf("NewSQLiteStore: %v", err)
		}
		t.Cleanup(func() { store.Close() })
		fn(t, store)
	})
	t.Run("memory", func(t *testing.T) {
		store, err := NewMemStore()
		if err != nil {
			t.Fatalf("NewMemStore: %v", err)
		}
		fn(t, store)
	})
}

func TestSignVerify(t *testing.T) {
	body := []byte(`{"event":"tool.success"}`)
	sig := Sign("s3cret", body)
	if len(sig) != 64 {
		t.Fatalf("signature length = %d, want 64 hex chars", len(sig))
	}
	if !Verify("s3cret", body, sig) {
		t.Fatal("Verify() = false for matching secret")
	}
	if Verify("other", body, sig) {
		t.Fatal("Verify() = true for wrong secret")
	}
	if Verify("s3cret", []byte(`{}`), sig) {
		t.Fatal("Verify() = true for tampered body")
	}
	if Verify("s3cret", body, "not-hex") {
		t.Fatal("Verify() = true for malformed signature")
	}
}

func TestHookNormalize(t *testing.T) {
	h, err := Hook{URL: " https://example.com/hook "}.Normalize()
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if h.URL != "https://example.com/hook" || h.Retries != DefaultRetries || !h.Global() {
		t.Fatalf("Normalize = %+v", h)
	}

	for _, bad := range []Hook{{URL: "ftp://example.com"}, {URL: "/relative"}, {URL: "https://x", Retries: -1}} {
		if _, err := bad.Normalize(); !errors.Is(err, ErrInvalidHook) {
			t.Fatalf("Normalize(%+v) error = %v, want ErrInvalidHook", bad, err)
		}
	}

	if got := (Hook{Secret: "abc"}).Redacted().Secret; got == "abc" {
		t.Fatal("Redacted() kept the secret")
	}
}

func TestStoreAddListRemove(t *testing.T) {
	eachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		global, err := store.Add(ctx, Hook{URL: "https://example.com/all", Secret: "s"})
		if err != nil {
			t.Fatalf("Add(global): %v", err)
		}
		scoped, err := store.Add(ctx, Hook{URL: "https://example.com/add", Tool: "add", Retries: 5, CreatedAt: global.CreatedAt.Add(time.Second)})
		if err != nil {
			t.Fatalf("Add(scoped): %v", err)
		}
		if global.ID == "" || scoped.ID == global.ID {
			t.Fatalf("ids = %q, %q", global.ID, scoped.ID)
		}

		hooks, err := store.List(ctx)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(hooks) != 2 || hooks[0].ID != global.ID || hooks[1].Retries != 5 {
			t.Fatalf("List = %+v", hooks)
		}

		matching, _ := Matching(ctx, store, "echo")
		if len(matching) != 1 || matching[0].ID != global.ID {
			t.Fatalf("Matching(echo) = %+v", matching)
		}
		matching, _ = Matching(ctx, store, "add")
		if len(matching) != 2 {
			t.Fatalf("Matching(add) = %+v", matching)
		}

		if err := store.Remove(ctx, global.ID); err != nil {
			t.Fatalf("Remove: %v", err)
		}
		if err := store.Remove(ctx, global.ID); !errors.Is(err, ErrHookNotFound) {
			t.Fatalf("Remove twice error = %v, want ErrHookNotFound", err)
		}
		if _, err := store.Add(ctx, Hook{URL: "nope"}); !errors.Is(err, ErrInvalidHook) {
			t.Fatalf("Add(invalid) error = %v, want ErrInvalidHook", err)
		}
	})
}

func TestEnsureSkipsExistingHooks(t *testing.T) {
	eachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		hooks := []Hook{
			{URL: "https://a.example.com/hook", Tool: "add"},
			{URL: "https://b.example.com/hook"},
		}
		n, err := Ensure(ctx, store, hooks...)
		if err != nil || n != 2 {
			t.Fatalf("Ensure() = %d, %v, want 2", n, err)
		}
		n, err = Ensure(ctx, store, append(hooks, Hook{URL: "https://a.example.com/hook", Tool: "echo"})...)
		if err != nil || n != 1 {
			t.Fatalf("second Ensure() = %d, %v, want 1", n, err)
		}
		listed, _ := store.List(ctx)
		if len(listed) != 3 {
			t.Fatalf("List() = %d hooks, want 3", len(listed))
		}

		if _, err := Ensure(ctx, store, Hook{URL: "ftp://nope"}); !errors.Is(err, ErrInvalidHook) {
			t.Fatalf("Ensure(invalid) error = %v, want ErrInvalidHook", err)
		}
	})
}

func TestNewPayload(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := NewPayload(tool.CallEvent{
		Kind:       tool.EventError,
		CallID:     "c1",
		ToolName:   "add",
		DurationMS: 3,
		Inputs:     map[string]any{"x": 1},
		Error:      "boom",
		ErrorCode:  tool.ErrorCodeExecution,
	}, now)

	raw, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for _, want := range []string{`"event":"tool.error"`, `"tool":"add"`, `"call_id":"c1"`, `"error":"boom"`, `"duration_ms":3`} {
		if !strings.Contains(string(raw), want) {
			t.Fatalf("payload %s missing %s", raw, want)
		}
	}

	start := NewPayload(tool.CallEvent{Kind: tool.EventCall, ToolName: "add"}, now)
	if start.Data.DurationMS != nil || start.Data.Inputs == nil {
		t.Fatalf("call payload data = %+v", start.Data)
	}
}

func TestDeliverWithRetry(t *testing.T) {
	attempts := 0
	n, err := deliverWithRetry(context.Background(), 3, 0, func(ctx context.Context, attempt int) error {
		attempts++
		if attempt < 3 {
			return &DeliveryError{StatusCode: http.StatusBadGateway}
		}
		return nil
	})
	if err != nil || n != 3 || attempts != 3 {
		t.Fatalf("deliverWithRetry = %d, %v (attempts %d); want 3, nil", n, err, attempts)
	}

	attempts = 0
	n, err = deliverWithRetry(context.Background(), 3, 0, func(ctx context.Context, attempt int) error {
		attempts++
		return &DeliveryError{StatusCode: http.StatusBadRequest}
	})
	if err == nil || n != 3 || attempts != 3 {
		t.Fatalf("client error = %d, %v (attempts %d); want 3 attempts", n, err, attempts)
	}
}

func TestDispatcherRetriesClientErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	t.Cleanup(srv.Close)
	store, _ := NewMemStore(Hook{URL: srv.URL})
	d, _ := NewDispatcher(DispatcherConfig{Store: store, Backoff: -1})

	deliveries, err := d.Dispatch(context.Background(), tool.CallEvent{Kind: tool.EventCall, ToolName: "add"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if deliveries[0].Attempts != DefaultRetries || int(hits.Load()) != DefaultRetries {
		t.Fatalf("attempts = %d, hits = %d, want %d", deliveries[0].Attempts, hits.Load(), DefaultRetries)
	}
	var de *DeliveryError
	if !errors.As(deliveries[0].Err, &de) || de.StatusCode != http.StatusBadRequest {
		t.Fatalf("delivery error = %v, want 400 DeliveryError", deliveries[0].Err)
	}
}

func TestDeliverWithRetryHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	n, err := deliverWithRetry(ctx, 3, time.Hour, func(ctx context.Context, attempt int) error {
		cancel()
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if n != 1 {
		t.Fatalf("attempts = %d, want 1", n)
	}
}

func TestRetryBackoffDuration(t *testing.T) {
	if got := retryBackoffDuration(100*time.Millisecond, 3); got != 300*time.Millisecond {
		t.Fatalf("backoff = %v, want 300ms", got)
	}
	if got := retryBackoffDuration(0, 3); got != 0 {
		t.Fatalf("backoff = %v, want 0", got)
	}
}

type receivedRequest struct {
	path      string
	signature string
	payload   Payload
}

func newReceiver(t *testing.T, failFirst int) (*httptest.Server, func() []receivedRequest) {
	t.Helper()
	var (
		mu       sync.Mutex
		received []receivedRequest
		calls    atomic.Int32
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if int(calls.Add(1)) <= failFirst {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		body, _ := io.ReadAll(r.Body)
		var p Payload
		if err := json.Unmarshal(body, &p); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		sig := r.Header.Get(SignatureHeader)
		if sig != "" && !Verify("s3cret", body, sig) {
			t.Errorf("signature %q does not verify", sig)
		}
		mu.Lock()
		received = append(received, receivedRequest{path: r.URL.Path, signature: sig, payload: p})
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []receivedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]receivedRequest(nil), received...)
	}
}

func TestDispatcherDeliversToMatchingHooks(t *testing.T) {
	srv, received := newReceiver(t, 0)
	store, _ := NewMemStore(
		Hook{URL: srv.URL + "/all", Secret: "s3cret"},
		Hook{URL: srv.URL + "/add", Tool: "add"},
		Hook{URL: srv.URL + "/echo", Tool: "echo"},
	)
	d, err := NewDispatcher(DispatcherConfig{Store: store, Backoff: -1})
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}

	deliveries, err := d.Dispatch(context.Background(), tool.CallEvent{
		Kind:     tool.EventSuccess,
		CallID:   "c1",
		ToolName: "add",
		Inputs:   map[string]any{"x": 2},
		Outputs:  5,
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(deliveries) != 2 {
		t.Fatalf("deliveries = %d, want 2", len(deliveries))
	}
	for _, dl := range deliveries {
		if dl.Err != nil || dl.Attempts != 1 || dl.StatusCode != http.StatusNoContent {
			t.Fatalf("delivery = %+v", dl)
		}
	}

	got := received()
	paths := map[string]receivedRequest{}
	for _, r := range got {
		paths[r.path] = r
	}
	if _, ok := paths["/echo"]; ok {
		t.Fatal("echo hook received an add event")
	}
	all, ok := paths["/all"]
	if !ok || all.signature == "" {
		t.Fatalf("global hook request = %+v, want signed delivery", all)
	}
	if paths["/add"].signature != "" {
		t.Fatal("hook without secret should not be signed")
	}
	if all.payload.Event != tool.EventSuccess || all.payload.Tool != "add" || all.payload.CallID != "c1" {
		t.Fatalf("payload = %+v", all.payload)
	}
}

func TestDispatcherRetriesTransientFailures(t *testing.T) {
	srv, received := newReceiver(t, 2)
	store, _ := NewMemStore(Hook{URL: srv.URL, Retries: 3})
	d, _ := NewDispatcher(DispatcherConfig{Store: store, Backoff: time.Millisecond})

	deliveries, err := d.Dispatch(context.Background(), tool.CallEvent{Kind: tool.EventCall, ToolName: "add"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if deliveries[0].Err != nil || deliveries[0].Attempts != 3 {
		t.Fatalf("delivery = %+v, want success on attempt 3", deliveries[0])
	}
	if len(received()) != 1 {
		t.Fatalf("received = %d, want 1", len(received()))
	}
}

func TestDispatcherReportsFinalFailure(t *testing.T) {
	srv, _ := newReceiver(t, 100)
	store, _ := NewMemStore(Hook{URL: srv.URL, Retries: 2})
	d, _ := NewDispatcher(DispatcherConfig{Store: store, Backoff: -1})

	deliveries, _ := d.Dispatch(context.Background(), tool.CallEvent{Kind: tool.EventCall, ToolName: "add"})
	var de *DeliveryError
	if !errors.As(deliveries[0].Err, &de) || de.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("delivery error = %v, want 503 DeliveryError", deliveries[0].Err)
	}
	if deliveries[0].Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", deliveries[0].Attempts)
	}
}

func TestDispatcherEventFilter(t *testing.T) {
	srv, received := newReceiver(t, 0)
	store, _ := NewMemStore(Hook{URL: srv.URL})
	d, _ := NewDispatcher(DispatcherConfig{Store: store, Events: []tool.EventKind{tool.EventError}})

	deliveries, _ := d.Dispatch(context.Background(), tool.CallEvent{Kind: tool.EventSuccess, ToolName: "add"})
	if deliveries != nil || len(received()) != 0 {
		t.Fatal("success event delivered despite error-only filter")
	}
}

func TestDispatcherRunConsumesBus(t *testing.T) {
	srv, received := newReceiver(t, 0)
	store, _ := NewMemStore(Hook{URL: srv.URL})
	d, _ := NewDispatcher(DispatcherConfig{Store: store})

	b := bus.NewMemBus(bus.MemBusConfig{})
	sub := b.SubscribeAll()
	done := make(chan struct{})
	go func() {
		d.Run(context.Background(), sub)
		close(done)
	}()

	b.Publish(tool.CallEvent{Kind: tool.EventCall, CallID: "c1", ToolName: "add"})
	b.Publish(tool.CallEvent{Kind: tool.EventSuccess, CallID: "c1", ToolName: "add"})
	b.Close()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	if got := len(received()); got != 2 {
		t.Fatalf("received = %d, want 2", got)
	}
}

package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"newswire/internal/delivery"
	"newswire/internal/ledger"
	"newswire/internal/news"
	"newswire/internal/subscription"
	"newswire/pkg/logx"
)

func testLogger() logx.Logger { return logx.Nop() }

// fakeClient scripts per-endpoint failures and counts every send.
type fakeClient struct {
	mu    sync.Mutex
	sends map[string]int
	fail  map[string][]error // consumed front-first per endpoint

	// block, when non-nil, makes Send wait until the channel is closed.
	// started receives the endpoint id as soon as Send is entered.
	block   chan struct{}
	started chan string

	edits   int
	deletes int
}

func newFakeClient() *fakeClient {
	return &fakeClient{sends: map[string]int{}, fail: map[string][]error{}}
}

func (f *fakeClient) Send(ctx context.Context, endpoint string, item news.Item) (string, error) {
	if f.started != nil {
		f.started <- endpoint
	}
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends[endpoint]++
	if q := f.fail[endpoint]; len(q) > 0 {
		err := q[0]
		f.fail[endpoint] = q[1:]
		return "", err
	}
	return fmt.Sprintf("msg-%s-%d", endpoint, f.sends[endpoint]), nil
}

func (f *fakeClient) Edit(ctx context.Context, endpoint, ref string, item news.Item) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits++
	return nil
}

func (f *fakeClient) Delete(ctx context.Context, endpoint, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	return nil
}

func (f *fakeClient) sent(endpoint string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sends[endpoint]
}

func (f *fakeClient) totalSends() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int
	for _, c := range f.sends {
		n += c
	}
	return n
}

type failingSubs struct{}

func (failingSubs) List(ctx context.Context) ([]subscription.Subscription, error) {
	return nil, errors.New("store down")
}
func (failingSubs) Put(ctx context.Context, s subscription.Subscription) error { return nil }
func (failingSubs) Remove(ctx context.Context, id string) error                { return nil }

func testItem(t *testing.T) news.Item {
	t.Helper()
	item, err := news.NewItem("Volcano erupts", "A volcano erupted overnight.", "", "", "rep-1",
		news.Tags{Region: news.RegionEurope, Category: news.CategoryWorld, Language: "en"})
	if err != nil {
		t.Fatalf("NewItem: %v", err)
	}
	return item
}

func fastConfig() Config {
	return Config{
		MaxInFlight:   4,
		RetryMax:      3,
		RatePerSec:    1000,
		RetryBase:     time.Millisecond,
		RetryMaxDelay: 5 * time.Millisecond,
	}
}

func allSub(id string) subscription.Subscription {
	return subscription.Subscription{EndpointID: id}
}

func TestBroadcastDeliversToMatchingEndpoints(t *testing.T) {
	t.Parallel()

	subs := subscription.NewMemoryStore(
		subscription.Subscription{EndpointID: "E1", Regions: []news.Region{news.RegionEurope}, Languages: []news.Language{"en"}},
		subscription.Subscription{EndpointID: "E2", Categories: []news.Category{news.CategorySports}, Languages: []news.Language{"en"}},
		subscription.Subscription{EndpointID: "E3", Regions: []news.Region{news.RegionEurope}, Categories: []news.Category{news.CategoryWorld}, Languages: []news.Language{"fr"}},
	)
	led := ledger.NewMemory()
	client := newFakeClient()
	svc := New(fastConfig(), subs, led, client, testLogger())

	out, err := svc.Broadcast(context.Background(), testItem(t))
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if out.Matched != 1 || out.Delivered() != 1 {
		t.Fatalf("outcome = matched %d delivered %d, want 1/1", out.Matched, out.Delivered())
	}
	if client.sent("E1") != 1 || client.sent("E2") != 0 || client.sent("E3") != 0 {
		t.Fatalf("sends = %v, want only E1", client.sends)
	}
	if led.Count(ledger.StatusDelivered) != 1 {
		t.Fatalf("ledger delivered = %d, want 1", led.Count(ledger.StatusDelivered))
	}
}

func TestBroadcastIdempotentUnderRetry(t *testing.T) {
	t.Parallel()

	subs := subscription.NewMemoryStore(allSub("E1"), allSub("E2"))
	led := ledger.NewMemory()
	client := newFakeClient()
	svc := New(fastConfig(), subs, led, client, testLogger())
	item := testItem(t)

	if _, err := svc.Broadcast(context.Background(), item); err != nil {
		t.Fatalf("first broadcast: %v", err)
	}
	out, err := svc.Broadcast(context.Background(), item)
	if err != nil {
		t.Fatalf("second broadcast: %v", err)
	}

	if out.Skipped() != 2 || out.Delivered() != 0 {
		t.Fatalf("second outcome = skipped %d delivered %d, want 2/0", out.Skipped(), out.Delivered())
	}
	if got := client.totalSends(); got != 2 {
		t.Fatalf("total sends = %d, want 2 (no re-sends)", got)
	}
	if led.Count(ledger.StatusDelivered) != 2 {
		t.Fatalf("ledger delivered = %d, want 2", led.Count(ledger.StatusDelivered))
	}
}

func TestBroadcastSkipsPreviouslyDelivered(t *testing.T) {
	t.Parallel()

	item := testItem(t)
	subs := subscription.NewMemoryStore(allSub("E1"))
	led := ledger.NewMemory()
	if _, err := led.InsertIfAbsent(context.Background(), ledger.Record{
		ItemID: item.ID, EndpointID: "E1", Status: ledger.StatusDelivered,
	}); err != nil {
		t.Fatalf("seed ledger: %v", err)
	}
	client := newFakeClient()
	svc := New(fastConfig(), subs, led, client, testLogger())

	out, err := svc.Broadcast(context.Background(), item)
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if out.Skipped() != 1 || out.Delivered() != 0 || out.Failed() != 0 {
		t.Fatalf("outcome = %+v, want single skip", out)
	}
	if client.totalSends() != 0 {
		t.Fatalf("sends = %d, want 0", client.totalSends())
	}
}

func TestBroadcastConcurrentCallersSingleSend(t *testing.T) {
	t.Parallel()

	subs := subscription.NewMemoryStore(allSub("E1"))
	led := ledger.NewMemory()
	client := newFakeClient()
	svc := New(fastConfig(), subs, led, client, testLogger())
	item := testItem(t)

	var wg sync.WaitGroup
	outcomes := make([]Outcome, 2)
	for i := 0; i < 2; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := svc.Broadcast(context.Background(), item)
			if err != nil {
				t.Errorf("broadcast %d: %v", i, err)
			}
			outcomes[i] = out
		}()
	}
	wg.Wait()

	if got := client.sent("E1"); got != 1 {
		t.Fatalf("external sends = %d, want exactly 1", got)
	}
	if led.Count(ledger.StatusDelivered) != 1 {
		t.Fatalf("ledger delivered = %d, want 1", led.Count(ledger.StatusDelivered))
	}
	delivered := outcomes[0].Delivered() + outcomes[1].Delivered()
	skipped := outcomes[0].Skipped() + outcomes[1].Skipped()
	if delivered != 1 || skipped != 1 {
		t.Fatalf("combined outcomes = delivered %d skipped %d, want 1/1", delivered, skipped)
	}
}

func TestBroadcastRetriesTransientThenDelivers(t *testing.T) {
	t.Parallel()

	subs := subscription.NewMemoryStore(allSub("E4"))
	led := ledger.NewMemory()
	client := newFakeClient()
	client.fail["E4"] = []error{
		delivery.Transient(errors.New("timeout")),
		delivery.Transient(errors.New("timeout")),
	}
	svc := New(fastConfig(), subs, led, client, testLogger())

	out, err := svc.Broadcast(context.Background(), testItem(t))
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if out.Delivered() != 1 {
		t.Fatalf("delivered = %d, want 1", out.Delivered())
	}
	if got := out.Endpoints[0].Attempts; got != 3 {
		t.Fatalf("attempts = %d, want 3", got)
	}
	if client.sent("E4") != 3 {
		t.Fatalf("sends = %d, want 3", client.sent("E4"))
	}
	if led.Count(ledger.StatusDelivered) != 1 {
		t.Fatalf("ledger delivered = %d, want exactly 1", led.Count(ledger.StatusDelivered))
	}
}

func TestBroadcastHonorsRetryAfterHint(t *testing.T) {
	t.Parallel()

	subs := subscription.NewMemoryStore(allSub("E1"))
	led := ledger.NewMemory()
	client := newFakeClient()
	client.fail["E1"] = []error{
		delivery.TransientAfter(errors.New("flood"), 150*time.Millisecond),
	}
	// RetryBase is 1ms; only the platform hint can explain a 150ms delay.
	svc := New(fastConfig(), subs, led, client, testLogger())

	start := time.Now()
	out, err := svc.Broadcast(context.Background(), testItem(t))
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if out.Delivered() != 1 {
		t.Fatalf("delivered = %d, want 1", out.Delivered())
	}
	if got := out.Endpoints[0].Attempts; got != 2 {
		t.Fatalf("attempts = %d, want 2", got)
	}
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Fatalf("retry fired after %v, want >= 150ms (hint ignored)", elapsed)
	}
}

func TestBroadcastAppliesGlobalRateLimit(t *testing.T) {
	t.Parallel()

	cfg := fastConfig()
	cfg.RatePerSec = 2 // burst 2, so a third send must wait for a token
	subs := subscription.NewMemoryStore(allSub("E1"), allSub("E2"), allSub("E3"))
	led := ledger.NewMemory()
	client := newFakeClient()
	svc := New(cfg, subs, led, client, testLogger())

	start := time.Now()
	out, err := svc.Broadcast(context.Background(), testItem(t))
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if out.Delivered() != 3 {
		t.Fatalf("delivered = %d, want 3", out.Delivered())
	}
	if elapsed := time.Since(start); elapsed < 400*time.Millisecond {
		t.Fatalf("three sends at 2/s finished in %v, want >= 400ms", elapsed)
	}
}

func TestBroadcastFailureIsolation(t *testing.T) {
	t.Parallel()

	subs := subscription.NewMemoryStore(allSub("bad"), allSub("good1"), allSub("good2"))
	led := ledger.NewMemory()
	client := newFakeClient()
	client.fail["bad"] = []error{delivery.Permanent(errors.New("chat not found"))}
	svc := New(fastConfig(), subs, led, client, testLogger())

	out, err := svc.Broadcast(context.Background(), testItem(t))
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if out.Delivered() != 2 || out.Failed() != 1 {
		t.Fatalf("outcome = delivered %d failed %d, want 2/1", out.Delivered(), out.Failed())
	}
	// Permanent failures are not retried.
	if client.sent("bad") != 1 {
		t.Fatalf("sends to bad = %d, want 1", client.sent("bad"))
	}
	if led.Count(ledger.StatusFailedPermanent) != 1 {
		t.Fatalf("failed-permanent records = %d, want 1", led.Count(ledger.StatusFailedPermanent))
	}
}

func TestBroadcastRetriesExhausted(t *testing.T) {
	t.Parallel()

	cfg := fastConfig()
	cfg.RetryMax = 1
	subs := subscription.NewMemoryStore(allSub("E1"))
	led := ledger.NewMemory()
	client := newFakeClient()
	client.fail["E1"] = []error{
		delivery.Transient(errors.New("timeout")),
		delivery.Transient(errors.New("timeout")),
		delivery.Transient(errors.New("timeout")),
	}
	svc := New(cfg, subs, led, client, testLogger())

	out, err := svc.Broadcast(context.Background(), testItem(t))
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if out.Failed() != 1 {
		t.Fatalf("failed = %d, want 1", out.Failed())
	}
	if client.sent("E1") != 2 {
		t.Fatalf("sends = %d, want 2 (first attempt + one retry)", client.sent("E1"))
	}
	// No delivered record: a later re-broadcast may try again.
	if led.Count(ledger.StatusDelivered) != 0 {
		t.Fatalf("ledger delivered = %d, want 0", led.Count(ledger.StatusDelivered))
	}
}

func TestBroadcastFailsClosedWhenLedgerDown(t *testing.T) {
	t.Parallel()

	subs := subscription.NewMemoryStore(allSub("E1"))
	led := ledger.NewMemory()
	led.Fail = true
	client := newFakeClient()
	svc := New(fastConfig(), subs, led, client, testLogger())

	out, err := svc.Broadcast(context.Background(), testItem(t))
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if out.Failed() != 1 {
		t.Fatalf("failed = %d, want 1", out.Failed())
	}
	// Fail closed: an unreadable ledger must never trigger a send.
	if client.totalSends() != 0 {
		t.Fatalf("sends = %d, want 0", client.totalSends())
	}
}

func TestBroadcastAbortsOnSubscriptionLoadError(t *testing.T) {
	t.Parallel()

	svc := New(fastConfig(), failingSubs{}, ledger.NewMemory(), newFakeClient(), testLogger())
	_, err := svc.Broadcast(context.Background(), testItem(t))
	if !errors.Is(err, ErrSubscriptionLoad) {
		t.Fatalf("err = %v, want ErrSubscriptionLoad", err)
	}
}

func TestBroadcastCancellationDoesNotAbortInFlight(t *testing.T) {
	t.Parallel()

	subs := subscription.NewMemoryStore(allSub("E1"))
	led := ledger.NewMemory()
	client := newFakeClient()
	client.block = make(chan struct{})
	client.started = make(chan string, 1)
	svc := New(fastConfig(), subs, led, client, testLogger())

	item := testItem(t)
	ctx, cancel := context.WithCancel(context.Background())
	type result struct {
		out Outcome
		err error
	}
	resCh := make(chan result, 1)
	go func() {
		out, err := svc.Broadcast(ctx, item)
		resCh <- result{out, err}
	}()

	<-client.started // delivery reached the client
	cancel()

	res := <-resCh
	if !errors.Is(res.err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", res.err)
	}
	if !res.out.Incomplete {
		t.Fatal("outcome should be marked incomplete")
	}

	// Release the in-flight send; it must run to a terminal state and still
	// record into the ledger.
	close(client.block)
	deadline := time.After(2 * time.Second)
	for led.Count(ledger.StatusDelivered) != 1 {
		select {
		case <-deadline:
			t.Fatalf("ledger delivered = %d, want 1 after cancel", led.Count(ledger.StatusDelivered))
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestReviseEditsDeliveredCopies(t *testing.T) {
	t.Parallel()

	subs := subscription.NewMemoryStore(allSub("E1"), allSub("E2"))
	led := ledger.NewMemory()
	client := newFakeClient()
	svc := New(fastConfig(), subs, led, client, testLogger())
	item := testItem(t)

	if _, err := svc.Broadcast(context.Background(), item); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}

	edited, err := svc.Revise(context.Background(), item)
	if err != nil {
		t.Fatalf("Revise: %v", err)
	}
	if edited != 2 || client.edits != 2 {
		t.Fatalf("edited = %d (client %d), want 2", edited, client.edits)
	}

	removed, err := svc.Retract(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("Retract: %v", err)
	}
	if removed != 2 || client.deletes != 2 {
		t.Fatalf("removed = %d (client %d), want 2", removed, client.deletes)
	}
}

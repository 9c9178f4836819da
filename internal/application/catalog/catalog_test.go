package catalog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doeshing/flowcard/internal/domain"
	"github.com/doeshing/flowcard/internal/infrastructure/cache"
	"github.com/doeshing/flowcard/internal/infrastructure/storage"
)

type fakeSource struct {
	mu      sync.Mutex
	cards   []domain.Card
	err     error
	calls   int
	gate    chan struct{}
	entered chan struct{}
}

func (f *fakeSource) ListCards(ctx context.Context) ([]domain.Card, error) {
	f.mu.Lock()
	f.calls++
	cards, err, gate, entered := f.cards, f.err, f.gate, f.entered
	f.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	return cards, err
}

func (f *fakeSource) set(cards []domain.Card) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cards = cards
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []domain.Event
}

func (n *recordingNotifier) Publish(_ context.Context, e domain.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

func card(id string) domain.Card {
	return domain.Card{ID: id, Title: "Card " + id, WorkflowID: "wf-" + id}
}

func newFixture(t *testing.T, cooldown time.Duration) (*Service, *fakeSource, *recordingNotifier, *clock, *cache.Store) {
	t.Helper()
	clk := &clock{t: time.UnixMilli(1_700_000_000_000)}
	store := cache.New(storage.NewMemoryStore(), cache.Options{Now: clk.Now})
	src := &fakeSource{cards: []domain.Card{card("a"), card("b")}}
	notifier := &recordingNotifier{}
	svc := NewService(src, store, Options{TTL: time.Minute, Cooldown: cooldown, Notifier: notifier, Now: clk.Now})
	return svc, src, notifier, clk, store
}

func TestListCachesCards(t *testing.T) {
	svc, src, _, _, _ := newFixture(t, 0)
	ctx := context.Background()

	first, err := svc.List(ctx)
	require.NoError(t, err)
	second, err := svc.List(ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, second, 2)
	assert.Equal(t, 1, src.callCount())
}

func TestListReloadsAfterTTL(t *testing.T) {
	svc, src, _, clk, _ := newFixture(t, 0)
	ctx := context.Background()

	_, err := svc.List(ctx)
	require.NoError(t, err)
	clk.t = clk.t.Add(time.Minute)
	_, err = svc.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, src.callCount())
}

func TestFindCard(t *testing.T) {
	svc, _, _, _, _ := newFixture(t, 0)
	ctx := context.Background()

	got, err := svc.Find(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "wf-b", got.WorkflowID)

	_, err = svc.Find(ctx, "zzz")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSyncPublishesOnlyOnChange(t *testing.T) {
	svc, src, notifier, clk, _ := newFixture(t, 0)
	ctx := context.Background()

	outcome, err := svc.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, RefreshUpdated, outcome)
	assert.Equal(t, 1, notifier.count())

	clk.t = clk.t.Add(time.Second)
	outcome, err = svc.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, RefreshUnchanged, outcome)
	assert.Equal(t, 1, notifier.count())

	src.set([]domain.Card{card("a"), card("c")})
	clk.t = clk.t.Add(time.Second)
	outcome, err = svc.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, RefreshUpdated, outcome)
	require.Equal(t, 2, notifier.count())
	assert.Equal(t, domain.EventCatalogChanged, notifier.events[1].Type)
	assert.Equal(t, domain.CardsCacheKey, notifier.events[1].Key)

	cards, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, "c", cards[1].ID)
}

func TestSyncRespectsCooldown(t *testing.T) {
	svc, src, _, clk, _ := newFixture(t, 30*time.Second)
	ctx := context.Background()

	outcome, err := svc.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, RefreshUpdated, outcome)

	clk.t = clk.t.Add(29 * time.Second)
	outcome, err = svc.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, RefreshSkipped, outcome)
	assert.Equal(t, 1, src.callCount())

	clk.t = clk.t.Add(time.Second)
	outcome, err = svc.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, RefreshUnchanged, outcome)
	assert.Equal(t, 2, src.callCount())
}

func TestSyncSkipsWhileInFlight(t *testing.T) {
	svc, src, _, _, _ := newFixture(t, 0)
	src.gate = make(chan struct{})
	src.entered = make(chan struct{}, 1)
	ctx := context.Background()

	done := make(chan RefreshOutcome, 1)
	go func() {
		outcome, _ := svc.Sync(ctx)
		done <- outcome
	}()
	<-src.entered

	outcome, err := svc.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, RefreshSkipped, outcome)

	close(src.gate)
	assert.Equal(t, RefreshUpdated, <-done)
	assert.Equal(t, 1, src.callCount())
}

func TestSyncLoadErrorLeavesCache(t *testing.T) {
	svc, src, notifier, clk, store := newFixture(t, 0)
	ctx := context.Background()

	_, err := svc.List(ctx)
	require.NoError(t, err)

	src.mu.Lock()
	src.err = errors.New("catalog down")
	src.mu.Unlock()
	clk.t = clk.t.Add(time.Second)

	_, err = svc.Sync(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "catalog down")
	assert.True(t, store.Has(ctx, domain.CardsCacheKey))
	assert.Zero(t, notifier.count())
}

func TestFailedSyncDoesNotStartCooldown(t *testing.T) {
	svc, src, _, _, _ := newFixture(t, 30*time.Second)
	ctx := context.Background()

	src.mu.Lock()
	src.err = errors.New("catalog down")
	src.mu.Unlock()
	_, err := svc.Sync(ctx)
	require.Error(t, err)

	src.mu.Lock()
	src.err = nil
	src.mu.Unlock()
	outcome, err := svc.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, RefreshUpdated, outcome)
	assert.Equal(t, 2, src.callCount())

	outcome, err = svc.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, RefreshSkipped, outcome)
}

func TestInvalidateDropsList(t *testing.T) {
	svc, src, _, _, store := newFixture(t, 0)
	ctx := context.Background()

	_, err := svc.List(ctx)
	require.NoError(t, err)
	require.NoError(t, svc.Invalidate(ctx))
	assert.False(t, store.Has(ctx, domain.CardsCacheKey))

	_, err = svc.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, src.callCount())
}

func TestRunStopsOnCancel(t *testing.T) {
	svc, src, _, _, _ := newFixture(t, 0)
	ctx, cancel := context.WithCancel(context.Background())

	stopped := make(chan struct{})
	go func() {
		svc.RunSync(ctx, time.Hour)
		close(stopped)
	}()

	require.Eventually(t, func() bool { return src.callCount() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("RunSync did not return after cancel")
	}
}

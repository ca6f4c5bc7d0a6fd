package recovery

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/superyldr/relayer/pkg/logger"
	"github.com/superyldr/relayer/pkg/models"
)

const (
	user  = "0x00000000000000000000000000000000000000Ab"
	refA  = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	refB  = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	refC  = "0xcccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccc"
	other = "0x00000000000000000000000000000000000000cD"
)

// fakeServer answers from a map of views that tests move along
type fakeServer struct {
	mu      sync.Mutex
	pending []models.StatusView
	views   map[string]models.StatusView
	nudges  map[string]int
}

func newFakeServer(views ...models.StatusView) *fakeServer {
	s := &fakeServer{views: make(map[string]models.StatusView), nudges: make(map[string]int)}
	for _, v := range views {
		s.views[v.RefID] = v
		if !v.Status.IsTerminal() {
			s.pending = append(s.pending, v)
		}
	}
	return s
}

func (s *fakeServer) ListPending(_ context.Context, u string) ([]models.StatusView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.StatusView
	for _, v := range s.pending {
		if strings.EqualFold(v.User, u) {
			out = append(out, v)
		}
	}
	return out, nil
}

func (s *fakeServer) Status(_ context.Context, refID string) (*models.StatusView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.views[refID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &v, nil
}

func (s *fakeServer) Nudge(_ context.Context, refID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nudges[refID]++
	return nil
}

func (s *fakeServer) setStatus(refID string, status models.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.views[refID]
	v.Status = status
	s.views[refID] = v
}

func (s *fakeServer) nudgeCount(refID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nudges[refID]
}

func view(refID string, status models.Status) models.StatusView {
	return models.StatusView{RefID: refID, User: user, Flow: models.FlowDeposit, Status: status, UpdatedAt: time.Now()}
}

func fastConfig() Config {
	return Config{PollInterval: 5 * time.Millisecond, RenudgeEvery: 6, UnknownTicks: 4}
}

func TestReconcileUnionsServerAndCache(t *testing.T) {
	ctx := context.Background()
	server := newFakeServer(view(refA, models.StatusBridged), view(refB, models.StatusPending))
	cache := NewMemoryCache()
	require.NoError(t, cache.TrackActive(ctx, models.ActiveMeta{RefID: refC, User: user}))
	require.NoError(t, cache.TrackActive(ctx, models.ActiveMeta{RefID: "0xdd", User: other}))

	o := New(server, cache, fastConfig(), &logger.EmptyLogger{})
	set, err := o.Reconcile(ctx, user)
	require.NoError(t, err)

	sort.Strings(set)
	assert.Equal(t, []string{refA, refB, refC}, set)
	for _, refID := range set {
		assert.Equal(t, 1, server.nudgeCount(refID), refID)
	}
	assert.Equal(t, 0, server.nudgeCount("0xdd"))

	cached, err := cache.ReadAllActive(ctx)
	require.NoError(t, err)
	assert.Contains(t, cached, refA)
	assert.Contains(t, cached, refB)
	assert.Equal(t, models.StatusBridged, cached[refA].Status)
}

func TestRunFollowsIntentsUntilTerminal(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	server := newFakeServer(view(refA, models.StatusBridged), view(refB, models.StatusRedeeming))
	cache := NewMemoryCache()
	o := New(server, cache, fastConfig(), &logger.EmptyLogger{})

	go func() {
		time.Sleep(20 * time.Millisecond)
		server.setStatus(refA, models.StatusDepositing)
		time.Sleep(20 * time.Millisecond)
		server.setStatus(refA, models.StatusMinted)
		server.setStatus(refB, models.StatusFailed)
	}()

	last, err := o.Run(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, models.StatusMinted, last[refA])
	assert.Equal(t, models.StatusFailed, last[refB])

	cached, err := cache.ReadAllActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, cached)
}

func TestRunUpdatesCacheEachTick(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server := newFakeServer(view(refA, models.StatusBridged))
	cache := NewMemoryCache()
	o := New(server, cache, fastConfig(), &logger.EmptyLogger{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = o.Run(ctx, user)
	}()

	server.setStatus(refA, models.StatusDeposited)
	assert.Eventually(t, func() bool {
		cached, _ := cache.ReadAllActive(ctx)
		return cached[refA].Status == models.StatusDeposited
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestRunRenudgesStalledIntents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server := newFakeServer(view(refA, models.StatusBridgeInFlight))
	o := New(server, NewMemoryCache(), Config{PollInterval: 2 * time.Millisecond, RenudgeEvery: 3, UnknownTicks: 4}, &logger.EmptyLogger{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = o.Run(ctx, user)
	}()

	assert.Eventually(t, func() bool { return server.nudgeCount(refA) >= 3 }, time.Second, 2*time.Millisecond)
	cancel()
	<-done
}

func TestUnknownIntentKeepsCacheEntry(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	server := newFakeServer()
	cache := NewMemoryCache()
	require.NoError(t, cache.TrackActive(ctx, models.ActiveMeta{RefID: refC, User: user}))

	o := New(server, cache, fastConfig(), &logger.EmptyLogger{})
	last, err := o.Run(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, models.StatusUnknown, last[refC])

	cached, err := cache.ReadAllActive(ctx)
	require.NoError(t, err)
	assert.Contains(t, cached, refC)
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	server := newFakeServer(view(refA, models.StatusBridged))
	o := New(server, NewMemoryCache(), fastConfig(), &logger.EmptyLogger{})

	cancel()
	_, err := o.Run(ctx, user)
	assert.ErrorIs(t, err, context.Canceled)
}

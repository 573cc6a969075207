package usercache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/edumatch/messaging/internal/domain"
	"github.com/edumatch/messaging/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	calls   atomic.Int32
	delay   time.Duration
	users   map[string]domain.User
	mu      sync.Mutex
	active  int
	maxSeen int
}

func (f *fakeFetcher) Get(ctx context.Context, id string) (*domain.User, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.active++
	f.maxSeen = max(f.maxSeen, f.active)
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	u, ok := f.users[id]
	if !ok {
		return nil, errors.New("no such user")
	}
	return &u, nil
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func str(s string) *string { return &s }

func TestCacheTTL(t *testing.T) {
	f := &fakeFetcher{users: map[string]domain.User{"alice": {ID: "alice", Name: "Alice"}}}
	clk := &clock{t: time.Unix(1_700_000_000, 0)}
	c := New(f, logger.Nop(), WithClock(clk.now))
	ctx := context.Background()

	_, err := c.Get(ctx, "alice")
	require.NoError(t, err)
	clk.advance(4*time.Minute + 59*time.Second)
	_, err = c.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.calls.Load())

	clk.advance(2 * time.Second)
	_, err = c.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.calls.Load())
}

func TestCacheSingleFlight(t *testing.T) {
	f := &fakeFetcher{delay: 50 * time.Millisecond, users: map[string]domain.User{"alice": {ID: "alice", Name: "Alice"}}}
	c := New(f, logger.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			u, err := c.Get(context.Background(), "alice")
			assert.NoError(t, err)
			assert.Equal(t, "Alice", u.Name)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestCacheSharedFetchSurvivesLeaderCancel(t *testing.T) {
	f := &fakeFetcher{delay: 100 * time.Millisecond, users: map[string]domain.User{"alice": {ID: "alice", Name: "Alice"}}}
	c := New(f, logger.Nop())

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := c.Get(leaderCtx, "alice")
		leaderErr <- err
	}()
	require.Eventually(t, func() bool { return f.calls.Load() == 1 }, time.Second, time.Millisecond)

	type result struct {
		u   *domain.User
		err error
	}
	follower := make(chan result, 1)
	go func() {
		u, err := c.Get(context.Background(), "alice")
		follower <- result{u, err}
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	assert.ErrorIs(t, <-leaderErr, context.Canceled)
	r := <-follower
	require.NoError(t, r.err)
	assert.Equal(t, "Alice", r.u.Name)
	assert.Equal(t, int32(1), f.calls.Load())
	_, cached := c.Peek("alice")
	assert.True(t, cached)
}

func TestCacheInvalidate(t *testing.T) {
	f := &fakeFetcher{users: map[string]domain.User{"alice": {ID: "alice"}}}
	c := New(f, logger.Nop())
	ctx := context.Background()

	_, _ = c.Get(ctx, "alice")
	c.Invalidate("alice")
	_, _ = c.Get(ctx, "alice")
	assert.Equal(t, int32(2), f.calls.Load())

	c.InvalidateAll()
	assert.Equal(t, 0, c.Len())
}

func TestInstitutionImagePolicy(t *testing.T) {
	f := &fakeFetcher{users: map[string]domain.User{
		"uni":   {ID: "uni", Type: domain.UserInstitution, Image: str("https://lh3.googleusercontent.com/a/x")},
		"logo":  {ID: "logo", Type: domain.UserInstitution, Image: str("https://cdn.edumatch.io/logos/1.png")},
		"alice": {ID: "alice", Type: domain.UserApplicant, Image: str("https://lh3.googleusercontent.com/a/y")},
	}}
	c := New(f, logger.Nop())
	ctx := context.Background()

	u, err := c.Get(ctx, "uni")
	require.NoError(t, err)
	assert.Nil(t, u.Image)

	u, err = c.Get(ctx, "logo")
	require.NoError(t, err)
	require.NotNil(t, u.Image)

	u, err = c.Get(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, u.Image, "applicants keep their avatar")

	c.Set(domain.User{ID: "uni2", Type: domain.UserInstitution, Image: str("https://graph.facebook.com/1/picture")})
	u, ok := c.Peek("uni2")
	require.True(t, ok)
	assert.Nil(t, u.Image)
}

func TestPreloadBatches(t *testing.T) {
	users := map[string]domain.User{}
	var ids []string
	for i := 0; i < 25; i++ {
		id := fmt.Sprintf("u%02d", i)
		users[id] = domain.User{ID: id}
		ids = append(ids, id)
	}
	f := &fakeFetcher{delay: 10 * time.Millisecond, users: users}
	c := New(f, logger.Nop())
	c.Set(domain.User{ID: "u00"})

	// duplicates and an unknown id are tolerated
	n := c.Preload(context.Background(), append(ids, "u01", "ghost"))
	assert.Equal(t, 24, n)
	assert.Equal(t, int32(25), f.calls.Load())
	assert.LessOrEqual(t, f.maxSeen, PreloadBatchSize)
	assert.Equal(t, 25, c.Len())
}

func TestPreloadSkipsDirectoryUsers(t *testing.T) {
	f := &fakeFetcher{users: map[string]domain.User{"bob": {ID: "bob"}}}
	dir := NewDirectory(listerFunc(func(context.Context) ([]domain.User, error) {
		return []domain.User{{ID: "alice", Name: "Alice"}}, nil
	}), nil, logger.Nop())
	require.NoError(t, dir.Refresh(context.Background()))

	c := New(f, logger.Nop(), WithDirectory(dir))
	assert.Equal(t, []string{"bob"}, c.Unknown([]string{"alice", "bob"}))

	threads := []domain.Thread{{User1ID: "me", User2ID: "alice"}, {User1ID: "bob", User2ID: "me"}}
	assert.Equal(t, 1, c.PreloadThreads(context.Background(), "me", threads))

	u, err := c.Get(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", u.Name)
	assert.Equal(t, int32(1), f.calls.Load())
}

type listerFunc func(context.Context) ([]domain.User, error)

func (f listerFunc) All(ctx context.Context) ([]domain.User, error) { return f(ctx) }

func TestDirectoryRefreshPersists(t *testing.T) {
	store := NewMemorySnapshotStore()
	dir := NewDirectory(listerFunc(func(context.Context) ([]domain.User, error) {
		return []domain.User{{ID: "alice"}, {ID: "bob"}}, nil
	}), store, logger.Nop())

	require.NoError(t, dir.Refresh(context.Background()))
	assert.Len(t, dir.Users(), 2)

	snap, err := store.Load(context.Background())
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Len(t, snap.Users, 2)
}

func TestDirectoryFallsBackToStaleSnapshot(t *testing.T) {
	clk := &clock{t: time.Unix(1_700_000_000, 0)}
	store := NewMemorySnapshotStore()
	require.NoError(t, store.Save(context.Background(), Snapshot{
		Users:   []domain.User{{ID: "alice"}},
		SavedAt: clk.now().Add(-time.Hour),
	}))

	dir := NewDirectory(listerFunc(func(context.Context) ([]domain.User, error) {
		return nil, errors.New("user service down")
	}), store, logger.Nop(), WithDirectoryClock(clk.now))

	assert.False(t, dir.Restore(context.Background(), false), "hour-old snapshot is too old to start from")
	err := dir.Refresh(context.Background())
	require.Error(t, err)
	_, ok := dir.Lookup("alice")
	assert.True(t, ok, "stale snapshot used after failed fetch")
}

func TestDirectoryRunStartsFromFreshSnapshot(t *testing.T) {
	clk := &clock{t: time.Unix(1_700_000_000, 0)}
	store := NewMemorySnapshotStore()
	require.NoError(t, store.Save(context.Background(), Snapshot{
		Users:   []domain.User{{ID: "alice"}},
		SavedAt: clk.now().Add(-time.Minute),
	}))
	var fetches atomic.Int32
	dir := NewDirectory(listerFunc(func(context.Context) ([]domain.User, error) {
		fetches.Add(1)
		return []domain.User{{ID: "alice"}, {ID: "bob"}}, nil
	}), store, logger.Nop(), WithDirectoryClock(clk.now), WithRefresh(20*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = dir.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { _, ok := dir.Lookup("bob"); return ok }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
	assert.GreaterOrEqual(t, fetches.Load(), int32(1))
}

func TestDirectoryFetchTimeout(t *testing.T) {
	dir := NewDirectory(listerFunc(func(ctx context.Context) ([]domain.User, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}), nil, logger.Nop(), WithFetchTimeout(20*time.Millisecond))

	err := dir.Refresh(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

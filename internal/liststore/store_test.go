package liststore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/d60-Lab/duowatch/internal/apperr"
	"github.com/d60-Lab/duowatch/internal/auth"
	"github.com/d60-Lab/duowatch/internal/model"
	"github.com/d60-Lab/duowatch/internal/repository"
	"github.com/d60-Lab/duowatch/internal/testutil"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *fakeClock { return &fakeClock{t: time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// countingRepo 统计读库次数，gate 非空时读库前阻塞
type countingRepo struct {
	repository.ListRepository
	reads   atomic.Int32
	gate    chan struct{}
	entered chan struct{}
	failErr error
}

func (r *countingRepo) ListByType(ctx context.Context, uid string, mt model.MediaType) ([]*model.ListItem, error) {
	r.reads.Add(1)
	if r.gate != nil {
		select {
		case r.entered <- struct{}{}:
		default:
		}
		<-r.gate
	}
	if r.failErr != nil {
		return nil, r.failErr
	}
	return r.ListRepository.ListByType(ctx, uid, mt)
}

type fixture struct {
	store    *Store
	repo     *countingRepo
	accounts repository.AccountRepository
	cache    *MemoryCache
	clock    *fakeClock
	alice    auth.Identity
	bob      auth.Identity
}

func newFixture(t *testing.T, paired bool) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	accounts := repository.NewAccountRepository(db)
	ctx := context.Background()
	require.NoError(t, accounts.CreateWithCode(ctx, &model.Account{UID: "alice", PartnerCode: "AB12CD34"}))
	require.NoError(t, accounts.CreateWithCode(ctx, &model.Account{UID: "bob", PartnerCode: "BB12CD34"}))
	if paired {
		require.NoError(t, accounts.Pair(ctx, "bob", "alice"))
	}
	clock := newClock()
	repo := &countingRepo{ListRepository: repository.NewListRepository(db), entered: make(chan struct{}, 1)}
	cache := NewMemoryCache(10*time.Minute, clock.Now)
	return &fixture{
		store:    New(repo, accounts, cache, WithClock(clock.Now), WithFreshTTL(5*time.Minute)),
		repo:     repo,
		accounts: accounts,
		cache:    cache,
		clock:    clock,
		alice:    auth.Identity{UID: "alice", Token: "t-a"},
		bob:      auth.Identity{UID: "bob", Token: "t-b"},
	}
}

func movie(id int64, title string) model.MediaItem {
	return model.MediaItem{ID: id, MediaType: model.MediaTypeMovie, Title: title, Year: "1999"}
}

func ids(items []model.MediaItem) []int64 {
	out := make([]int64, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func TestFetchMine_ServesCacheWithinTTL(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	require.NoError(t, f.store.Add(ctx, f.alice, movie(550, "Fight Club")))
	require.NoError(t, f.store.Add(ctx, f.alice, model.MediaItem{ID: 1399, MediaType: model.MediaTypeTV, Title: "Game of Thrones"}))

	items, err := f.store.Fetch(ctx, f.alice, Mine)
	require.NoError(t, err)
	assert.Equal(t, []int64{550, 1399}, ids(items))
	for _, it := range items {
		assert.Equal(t, model.OwnershipSelf, it.Ownership)
	}
	assert.EqualValues(t, 2, f.repo.reads.Load(), "movies and tv read once each")

	f.clock.Advance(4 * time.Minute)
	_, err = f.store.Fetch(ctx, f.alice, Mine)
	require.NoError(t, err)
	assert.EqualValues(t, 2, f.repo.reads.Load())

	f.clock.Advance(time.Minute)
	_, err = f.store.Fetch(ctx, f.alice, Mine)
	require.NoError(t, err)
	assert.EqualValues(t, 4, f.repo.reads.Load(), "stale after ttl")
}

func TestFetch_ReturnsCopies(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	require.NoError(t, f.store.Add(ctx, f.alice, movie(550, "Fight Club")))

	items, err := f.store.Fetch(ctx, f.alice, Mine)
	require.NoError(t, err)
	items[0].Title = "mutated"

	again, err := f.store.Fetch(ctx, f.alice, Mine)
	require.NoError(t, err)
	assert.Equal(t, "Fight Club", again[0].Title)
}

func TestAdd_Conflict(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	require.NoError(t, f.store.Add(ctx, f.alice, movie(550, "Fight Club")))
	assert.ErrorIs(t, f.store.Add(ctx, f.alice, movie(550, "Fight Club")), apperr.ErrConflict)

	items, err := f.store.Fetch(ctx, f.alice, Mine)
	require.NoError(t, err)
	assert.Equal(t, []int64{550}, ids(items))
}

func TestAddRemove_Validation(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	assert.ErrorIs(t, f.store.Add(ctx, f.alice, model.MediaItem{ID: 1, MediaType: "person"}), apperr.ErrInvalidInput)
	assert.ErrorIs(t, f.store.Add(ctx, f.alice, model.MediaItem{ID: 0, MediaType: model.MediaTypeMovie}), apperr.ErrInvalidInput)
	assert.ErrorIs(t, f.store.Remove(ctx, f.alice, 1, "book"), apperr.ErrInvalidInput)
	assert.ErrorIs(t, f.store.Remove(ctx, f.alice, 1, model.MediaTypeTV), apperr.ErrNotFound)
}

func TestRemove_InvalidatesMine(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	require.NoError(t, f.store.Add(ctx, f.alice, movie(550, "Fight Club")))
	_, err := f.store.Fetch(ctx, f.alice, Mine)
	require.NoError(t, err)

	require.NoError(t, f.store.Remove(ctx, f.alice, 550, model.MediaTypeMovie))
	items, err := f.store.Fetch(ctx, f.alice, Mine)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestPartnerList_NoPartner(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	_, err := f.store.Fetch(ctx, f.alice, PartnerList)
	assert.ErrorIs(t, err, apperr.ErrNoPartner)
	_, err = f.store.Fetch(ctx, f.alice, Common)
	assert.ErrorIs(t, err, apperr.ErrNoPartner)
	assert.Equal(t, 0, f.cache.Len(), "errors are never cached")
}

// t=0 取 mine 与 partnerList；t=1 添加后 mine 立即反映，partnerList 在 TTL 内仍为旧数据
func TestStalenessScenario(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	require.NoError(t, f.store.Add(ctx, f.alice, movie(550, "Fight Club")))
	require.NoError(t, f.store.Add(ctx, f.bob, movie(13, "Forrest Gump")))

	mine, err := f.store.Fetch(ctx, f.alice, Mine)
	require.NoError(t, err)
	assert.Equal(t, []int64{550}, ids(mine))
	partner, err := f.store.Fetch(ctx, f.alice, PartnerList)
	require.NoError(t, err)
	assert.Equal(t, []int64{13}, ids(partner))
	assert.Equal(t, model.OwnershipPartner, partner[0].Ownership)

	f.clock.Advance(time.Minute)
	require.NoError(t, f.store.Add(ctx, f.alice, movie(680, "Pulp Fiction")))
	require.NoError(t, f.store.Add(ctx, f.bob, movie(550, "Fight Club")))

	mine, err = f.store.Fetch(ctx, f.alice, Mine)
	require.NoError(t, err)
	assert.Equal(t, []int64{550, 680}, ids(mine))

	partner, err = f.store.Fetch(ctx, f.alice, PartnerList)
	require.NoError(t, err)
	assert.Equal(t, []int64{13}, ids(partner), "partner change not visible within ttl")

	common, err := f.store.Fetch(ctx, f.alice, Common)
	require.NoError(t, err)
	assert.Empty(t, common)

	f.clock.Advance(5 * time.Minute)
	common, err = f.store.Fetch(ctx, f.alice, Common)
	require.NoError(t, err)
	assert.Equal(t, []int64{550}, ids(common))
	assert.Equal(t, model.OwnershipSelf, common[0].Ownership)
}

func TestInvalidateCommon_DropsBoth(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	_, err := f.store.Fetch(ctx, f.alice, Common)
	require.NoError(t, err)
	assert.Equal(t, 2, f.cache.Len())

	f.store.Invalidate(ctx, "alice", Common)
	assert.Equal(t, 0, f.cache.Len())
}

func TestLoadRacingInvalidate_NotCached(t *testing.T) {
	f := newFixture(t, false)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	ctx := context.Background()
	require.NoError(t, f.store.Add(ctx, f.alice, movie(550, "Fight Club")))

	f.repo.gate = make(chan struct{})
	done := make(chan []model.MediaItem)
	go func() {
		items, _ := f.store.Fetch(ctx, f.alice, Mine)
		done <- items
	}()
	<-f.repo.entered

	// 加载途中发生写入：旧结果不得回填缓存
	f.store.Invalidate(ctx, "alice", Mine)
	close(f.repo.gate)
	<-done

	assert.Equal(t, 0, f.cache.Len())
	f.repo.gate = nil
	before := f.repo.reads.Load()
	_, err := f.store.Fetch(ctx, f.alice, Mine)
	require.NoError(t, err)
	assert.Greater(t, f.repo.reads.Load(), before)
}

// slowSetCache 对指定 key 的 Set 阻塞到 release 关闭，模拟远端缓存延迟
type slowSetCache struct {
	*MemoryCache
	key     Key
	entered chan struct{}
	release chan struct{}
}

func (c *slowSetCache) Set(ctx context.Context, key Key, e *Entry) {
	if key == c.key {
		close(c.entered)
		<-c.release
	}
	c.MemoryCache.Set(ctx, key, e)
}

func newSlowSetStore(f *fixture, key Key) (*Store, *slowSetCache) {
	c := &slowSetCache{
		MemoryCache: f.cache,
		key:         key,
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	return New(f.repo, f.accounts, c, WithClock(f.clock.Now), WithFreshTTL(5*time.Minute)), c
}

func TestSlowCacheWrite_DoesNotBlockOtherKeys(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	store, c := newSlowSetStore(f, Key{UID: "alice", Kind: Mine})

	fetched := make(chan struct{})
	go func() {
		defer close(fetched)
		_, _ = store.Fetch(ctx, f.alice, Mine)
	}()
	<-c.entered

	other := make(chan struct{})
	go func() {
		defer close(other)
		store.Invalidate(ctx, "bob", Mine)
		_, _ = store.Fetch(ctx, f.bob, Mine)
	}()
	select {
	case <-other:
	case <-time.After(time.Second):
		t.Fatal("bob's invalidate and fetch waited on alice's cache write")
	}

	close(c.release)
	<-fetched
}

func TestInvalidateDuringCacheWrite_EndsWithoutEntry(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	require.NoError(t, f.store.Add(ctx, f.alice, movie(550, "Fight Club")))
	key := Key{UID: "alice", Kind: Mine}
	store, c := newSlowSetStore(f, key)

	fetched := make(chan struct{})
	go func() {
		defer close(fetched)
		_, _ = store.Fetch(ctx, f.alice, Mine)
	}()
	<-c.entered

	// 同一 key 的失效须等写入结束后再删除
	invalidated := make(chan struct{})
	go func() {
		defer close(invalidated)
		store.Invalidate(ctx, "alice", Mine)
	}()
	select {
	case <-invalidated:
		t.Fatal("invalidate returned while the cache write was in flight")
	case <-time.After(30 * time.Millisecond):
	}

	close(c.release)
	<-fetched
	<-invalidated
	_, ok := f.cache.Get(ctx, key)
	assert.False(t, ok)
}

func TestFetch_CallerCancels(t *testing.T) {
	f := newFixture(t, false)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	require.NoError(t, f.store.Add(context.Background(), f.alice, movie(550, "Fight Club")))

	f.repo.gate = make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error)
	go func() {
		_, err := f.store.Fetch(ctx, f.alice, Mine)
		errCh <- err
	}()
	<-f.repo.entered
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
	assert.Equal(t, 0, f.cache.Len(), "nothing cached while the load is in flight")

	close(f.repo.gate)
	// 共享加载完整结束后才写入完整结果
	require.Eventually(t, func() bool { return f.cache.Len() == 1 }, time.Second, 5*time.Millisecond)
	e, ok := f.cache.Get(context.Background(), Key{UID: "alice", Kind: Mine})
	require.True(t, ok)
	assert.Equal(t, []int64{550}, ids(e.Items))
}

func TestFetch_FailedLoadLeavesNoEntry(t *testing.T) {
	f := newFixture(t, false)
	f.repo.failErr = apperr.Network(errors.New("connection reset"))
	_, err := f.store.Fetch(context.Background(), f.alice, Mine)
	assert.ErrorIs(t, err, apperr.ErrNetwork)
	assert.Equal(t, 0, f.cache.Len())
}

func TestFetch_CoalescesConcurrentMisses(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	require.NoError(t, f.store.Add(ctx, f.alice, movie(550, "Fight Club")))

	f.repo.gate = make(chan struct{})
	const n = 5
	var wg sync.WaitGroup
	results := make([][]model.MediaItem, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = f.store.Fetch(ctx, f.alice, Mine)
		}(i)
	}
	<-f.repo.entered
	time.Sleep(20 * time.Millisecond)
	close(f.repo.gate)
	wg.Wait()

	assert.EqualValues(t, 2, f.repo.reads.Load())
	for _, r := range results {
		assert.Equal(t, []int64{550}, ids(r))
	}
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("partner")
	require.NoError(t, err)
	assert.Equal(t, PartnerList, k)
	_, err = ParseKind("ours")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

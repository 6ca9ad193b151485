package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/d60-Lab/duowatch/config"
	"github.com/d60-Lab/duowatch/internal/auth"
	"github.com/d60-Lab/duowatch/internal/codegen"
	"github.com/d60-Lab/duowatch/internal/liststore"
	"github.com/d60-Lab/duowatch/internal/model"
	"github.com/d60-Lab/duowatch/internal/repository"
	"github.com/d60-Lab/duowatch/pkg/database"
)

type request struct {
	user int
	kind liststore.Kind
	// mutate 为真时先向 mine 追加一条，触发失效
	mutate bool
}

type scenarioResult struct {
	durations   []time.Duration
	cacheKeys   int
	memoryBytes int64
}

func main() {
	ctx := context.Background()
	cfg := must(config.Load())
	db := must(database.InitDB(cfg))
	mustDo(database.Migrate(db))

	items := envInt("ITEMS", 2000)
	reqCount := envInt("REQS", 9000)

	fmt.Println("Setting up test data...")
	accounts := repository.NewAccountRepository(db)
	listRepo := repository.NewListRepository(db)
	users := seed(ctx, db, accounts, items)
	defer cleanup(db, users)
	fmt.Printf("Test data ready: %d titles, %s+%s paired, %s solo\n", items, users[0].UID, users[1].UID, users[2].UID)

	reqs := makeRequests(reqCount)

	noCache := runScenario(ctx, users, reqs, items, false, liststore.New(listRepo, accounts,
		liststore.NewMemoryCache(cfg.Cache.IdleTTL, time.Now), liststore.WithFreshTTL(time.Nanosecond)), nil)

	memory := runScenario(ctx, users, reqs, items+reqCount, true, liststore.New(listRepo, accounts,
		liststore.NewMemoryCache(cfg.Cache.IdleTTL, time.Now), liststore.WithFreshTTL(cfg.Cache.FreshTTL)), nil)

	var redisRes *scenarioResult
	client := database.InitRedis(cfg)
	defer client.Close()
	if err := client.Ping(ctx).Err(); err != nil {
		fmt.Printf("Redis at %s unavailable, skipping: %v\n", cfg.Redis.Addr, err)
	} else {
		r := runScenario(ctx, users, reqs, items+2*reqCount, true, liststore.New(listRepo, accounts,
			liststore.NewRedisCache(client, cfg.Cache.IdleTTL), liststore.WithFreshTTL(cfg.Cache.FreshTTL)), client)
		redisRes = &r
	}

	fmt.Printf("\nList fetch latency (%d req across 3 users, mine/partner/common, driver=%s)\n", len(reqs), cfg.Database.Driver)
	report("No cache", noCache)
	report("Memory cache", memory)
	if redisRes != nil {
		report("Redis cache", *redisRes)
	}
}

func seed(ctx context.Context, db *gorm.DB, accounts repository.AccountRepository, items int) []auth.Identity {
	gen := codegen.NewRandomGenerator()
	run := uuid.NewString()[:8]
	users := make([]auth.Identity, 3)
	for i := range users {
		users[i] = auth.Identity{UID: fmt.Sprintf("bench-%s-%d", run, i)}
		for {
			code := must(gen.Generate())
			err := accounts.CreateWithCode(ctx, &model.Account{UID: users[i].UID, DisplayName: users[i].UID, PartnerCode: code})
			if err == nil {
				break
			}
			if !errors.Is(err, codegen.ErrTaken) {
				panic(err)
			}
		}
	}
	mustDo(accounts.Pair(ctx, users[0].UID, users[1].UID))

	// 三份片单两两重叠一半，与共同片单的计算量相当
	now := time.Now()
	half := items / 2
	offsets := []int{0, items / 4, items * 3 / 8}
	for u, off := range offsets {
		rows := make([]*model.ListItem, 0, half)
		for i := 0; i < half; i++ {
			id := int64((i+off)%items) + 1
			mt := model.MediaTypeMovie
			if id%3 == 0 {
				mt = model.MediaTypeTV
			}
			rows = append(rows, model.NewListItem(users[u].UID, model.MediaItem{
				ID:        id,
				MediaType: mt,
				Title:     fmt.Sprintf("title %d", id),
				Year:      strconv.Itoa(1980 + int(id%40)),
			}, now.Add(-time.Duration(i)*time.Second)))
		}
		mustDo(db.CreateInBatches(rows, 500).Error)
	}
	return users
}

func cleanup(db *gorm.DB, users []auth.Identity) {
	uids := make([]string, len(users))
	for i, u := range users {
		uids[i] = u.UID
	}
	_ = db.Where("user_id IN ?", uids).Delete(&model.ListItem{}).Error
	_ = db.Where("uid IN ?", uids).Delete(&model.PartnerCodeIndex{}).Error
	_ = db.Where("uid IN ?", uids).Delete(&model.Account{}).Error
}

func runScenario(ctx context.Context, users []auth.Identity, reqs []request, nextID int, warm bool, store *liststore.Store, client *redis.Client) scenarioResult {
	if client != nil {
		clearListKeys(ctx, client)
	}
	call := func(r request) {
		id := users[r.user]
		if r.mutate {
			nextID++
			mustDo(store.Add(ctx, id, model.MediaItem{ID: int64(nextID), MediaType: model.MediaTypeMovie, Title: "bench"}))
		}
		if _, err := store.Fetch(ctx, id, r.kind); err != nil {
			panic(err)
		}
	}

	if warm {
		fmt.Print("  Warming cache...")
		for _, u := range users {
			for _, k := range []liststore.Kind{liststore.Mine, liststore.PartnerList} {
				if _, err := store.Fetch(ctx, u, k); err != nil && k == liststore.Mine {
					panic(err)
				}
			}
		}
		fmt.Println(" done")
	}

	fmt.Print("  Running benchmark...")
	out := make([]time.Duration, 0, len(reqs))
	for _, r := range reqs {
		start := time.Now()
		call(r)
		out = append(out, time.Since(start))
	}
	fmt.Println(" done")

	res := scenarioResult{durations: out}
	if client != nil {
		res.cacheKeys = len(listKeys(ctx, client))
		if info, err := client.Info(ctx, "memory").Result(); err == nil {
			res.memoryBytes = parseRedisMemory(info)
		}
	}
	return res
}

func listKeys(ctx context.Context, client *redis.Client) []string {
	var keys []string
	iter := client.Scan(ctx, 0, "duowatch:list:*", 500).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys
}

func clearListKeys(ctx context.Context, client *redis.Client) {
	if keys := listKeys(ctx, client); len(keys) > 0 {
		client.Del(ctx, keys...)
	}
}

// makeRequests: user 2 未配对，只读 mine；约 1% 的请求先写后读
func makeRequests(n int) []request {
	kinds := []liststore.Kind{liststore.Mine, liststore.PartnerList, liststore.Common}
	rnd := rand.New(rand.NewSource(42))
	out := make([]request, n)
	for i := range out {
		u := rnd.Intn(3)
		k := kinds[rnd.Intn(len(kinds))]
		if u == 2 {
			k = liststore.Mine
		}
		out[i] = request{user: u, kind: k, mutate: rnd.Float64() < 0.01}
	}
	return out
}

func report(name string, r scenarioResult) {
	fmt.Printf("%-14s avg=%v p50=%v p95=%v p99=%v cache_keys=%d mem=%s\n",
		name, avg(r.durations), pct(r.durations, 0.50), pct(r.durations, 0.95), pct(r.durations, 0.99),
		r.cacheKeys, formatBytes(r.memoryBytes))
}

// parseRedisMemory extracts used_memory from Redis INFO
func parseRedisMemory(info string) int64 {
	sc := bufio.NewScanner(strings.NewReader(info))
	for sc.Scan() {
		if v, ok := strings.CutPrefix(strings.TrimSpace(sc.Text()), "used_memory:"); ok {
			n, _ := strconv.ParseInt(v, 10, 64)
			return n
		}
	}
	return 0
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func avg(vs []time.Duration) time.Duration {
	if len(vs) == 0 {
		return 0
	}
	var sum time.Duration
	for _, v := range vs {
		sum += v
	}
	return sum / time.Duration(len(vs))
}

func pct(vs []time.Duration, p float64) time.Duration {
	if len(vs) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), vs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func envInt(name string, def int) int {
	if s := os.Getenv(name); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func mustDo(err error) {
	if err != nil {
		panic(err)
	}
}

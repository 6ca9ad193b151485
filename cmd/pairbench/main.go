package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/d60-Lab/duowatch/config"
	"github.com/d60-Lab/duowatch/internal/apperr"
	"github.com/d60-Lab/duowatch/internal/audit"
	"github.com/d60-Lab/duowatch/internal/auth"
	"github.com/d60-Lab/duowatch/internal/codegen"
	"github.com/d60-Lab/duowatch/internal/liststore"
	"github.com/d60-Lab/duowatch/internal/repository"
	"github.com/d60-Lab/duowatch/internal/service"
	"github.com/d60-Lab/duowatch/pkg/database"
)

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func envInt(name string, def int) int {
	if s := os.Getenv(name); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return def
}

// pairbench: 每轮 CONC 个账号同时向同一配对码发起 connect，
// 校验恰好一个成功，其余均为 AlreadyPaired
func main() {
	cfg := must(config.Load())
	db := must(database.InitDB(cfg))
	if err := database.Migrate(db); err != nil {
		panic(err)
	}

	repo := repository.NewAccountRepository(db)
	lists := liststore.New(repository.NewListRepository(db), repo, liststore.NewMemoryCache(cfg.Cache.IdleTTL, time.Now))
	accounts := service.NewAccountService(repo, codegen.NewAllocator(codegen.NewRandomGenerator(), cfg.Pairing.MaxCodeAttempts))
	pairing := service.NewPairingService(repo, lists)

	ctx := context.Background()
	ROUNDS := envInt("ROUNDS", 100)
	CONC := envInt("CONC", 8)

	// seed
	t0 := time.Now()
	signup := func() auth.Identity {
		id := auth.Identity{UID: uuid.New().String()}
		must(accounts.Ensure(ctx, id, nil))
		return id
	}
	targets := make([]auth.Identity, ROUNDS)
	racers := make([][]auth.Identity, ROUNDS)
	signupRecs := make([]time.Duration, 0, ROUNDS*(CONC+1))
	for r := 0; r < ROUNDS; r++ {
		st := time.Now()
		targets[r] = signup()
		signupRecs = append(signupRecs, time.Since(st))
		racers[r] = make([]auth.Identity, CONC)
		for i := range racers[r] {
			st := time.Now()
			racers[r][i] = signup()
			signupRecs = append(signupRecs, time.Since(st))
		}
	}
	seedDur := time.Since(t0)

	var (
		mu          sync.Mutex
		connectRecs = make([]time.Duration, 0, ROUNDS*CONC)
		violations  int
		otherErrs   int
	)
	t1 := time.Now()
	for r := 0; r < ROUNDS; r++ {
		target := must(repo.Get(ctx, targets[r].UID))
		var (
			wg    sync.WaitGroup
			start = make(chan struct{})
			wins  int
		)
		for _, id := range racers[r] {
			wg.Add(1)
			go func(id auth.Identity) {
				defer wg.Done()
				<-start
				st := time.Now()
				_, err := pairing.Connect(ctx, id, target.PartnerCode)
				d := time.Since(st)
				mu.Lock()
				defer mu.Unlock()
				connectRecs = append(connectRecs, d)
				switch {
				case err == nil:
					wins++
				case errors.Is(err, apperr.ErrAlreadyPaired):
				default:
					otherErrs++
				}
			}(id)
		}
		close(start)
		wg.Wait()
		if wins != 1 {
			violations++
		}
	}
	raceDur := time.Since(t1)

	// 解绑一半，验证解绑后依然对称
	t2 := time.Now()
	disconnects := 0
	for r := 0; r < ROUNDS; r += 2 {
		if err := pairing.Disconnect(ctx, targets[r]); err == nil {
			disconnects++
		}
	}
	disconnectDur := time.Since(t2)

	rep := must(audit.Run(ctx, repo, 500))

	pct := func(vs []time.Duration, p float64) time.Duration {
		if len(vs) == 0 {
			return 0
		}
		xs := append([]time.Duration(nil), vs...)
		sort.Slice(xs, func(i, j int) bool { return xs[i] < xs[j] })
		k := int(math.Ceil(p*float64(len(xs)))) - 1
		if k < 0 {
			k = 0
		}
		if k >= len(xs) {
			k = len(xs) - 1
		}
		return xs[k]
	}

	fmt.Printf("ROUNDS=%d, CONC=%d, driver=%s\n", ROUNDS, CONC, cfg.Database.Driver)
	fmt.Printf("Signup (code allocation) total: %v, p50: %v, p95: %v, p99: %v\n",
		seedDur, pct(signupRecs, 0.50), pct(signupRecs, 0.95), pct(signupRecs, 0.99))
	fmt.Printf("Connect race total: %v, p50: %v, p95: %v, p99: %v\n",
		raceDur, pct(connectRecs, 0.50), pct(connectRecs, 0.95), pct(connectRecs, 0.99))
	fmt.Printf("Disconnect: %d in %v\n", disconnects, disconnectDur)
	fmt.Printf("Rounds without exactly one winner: %d, unexpected errors: %d\n", violations, otherErrs)
	fmt.Printf("Audit: accounts=%d paired=%d violations=%d\n", rep.Accounts, rep.Paired, len(rep.Violations))
	if violations > 0 || !rep.OK() {
		os.Exit(1)
	}
}

package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/duowatch/internal/auth"
	"github.com/d60-Lab/duowatch/internal/codegen"
	"github.com/d60-Lab/duowatch/internal/liststore"
	"github.com/d60-Lab/duowatch/internal/model"
	"github.com/d60-Lab/duowatch/internal/repository"
	"github.com/d60-Lab/duowatch/internal/testutil"
)

// scriptGen 按脚本返回配对码，用尽后重复最后一个
type scriptGen struct {
	mu    sync.Mutex
	codes []string
	i     int
}

func (g *scriptGen) Generate() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c := g.codes[min(g.i, len(g.codes)-1)]
	g.i++
	return c, nil
}

type fixture struct {
	repo     repository.AccountRepository
	lists    *liststore.Store
	accounts AccountService
	pairing  PairingService
}

func newFixture(t *testing.T, gen codegen.Generator, maxAttempts int) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	repo := repository.NewAccountRepository(db)
	if gen == nil {
		gen = codegen.NewRandomGenerator()
	}
	lists := liststore.New(repository.NewListRepository(db), repo, liststore.NewMemoryCache(10*time.Minute, time.Now))
	return &fixture{
		repo:     repo,
		lists:    lists,
		accounts: NewAccountService(repo, codegen.NewAllocator(gen, maxAttempts)),
		pairing:  NewPairingService(repo, lists),
	}
}

func (f *fixture) signup(t *testing.T, uid string) (auth.Identity, *model.Account) {
	t.Helper()
	id := auth.Identity{UID: uid, Token: "t-" + uid}
	acct, err := f.accounts.Ensure(context.Background(), id, &auth.Claims{Name: uid})
	require.NoError(t, err)
	return id, acct
}

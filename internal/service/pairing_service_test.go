package service

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/duowatch/internal/apperr"
	"github.com/d60-Lab/duowatch/internal/auth"
	"github.com/d60-Lab/duowatch/internal/liststore"
)

func partnerOf(t *testing.T, f *fixture, uid string) string {
	t.Helper()
	a, err := f.repo.Get(context.Background(), uid)
	require.NoError(t, err)
	if a.PartnerUID == nil {
		return ""
	}
	return *a.PartnerUID
}

func TestConnect_PairsBothSides(t *testing.T) {
	f := newFixture(t, nil, 0)
	ctx := context.Background()
	_, alice := f.signup(t, "alice")
	bob, _ := f.signup(t, "bob")

	st, err := f.pairing.Connect(ctx, bob, " "+strings.ToLower(alice.PartnerCode)+" ")
	require.NoError(t, err)
	assert.True(t, st.Paired)
	assert.Equal(t, "alice", st.PartnerUID)
	assert.Equal(t, "alice", st.PartnerDisplayName)

	assert.Equal(t, "alice", partnerOf(t, f, "bob"))
	assert.Equal(t, "bob", partnerOf(t, f, "alice"))

	st, err = f.pairing.Status(ctx, auth.Identity{UID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, alice.PartnerCode, st.PartnerCode)
	assert.Equal(t, "bob", st.PartnerUID)
	assert.Equal(t, "bob", st.PartnerDisplayName)
}

func TestConnect_Preconditions(t *testing.T) {
	f := newFixture(t, nil, 0)
	ctx := context.Background()
	aliceID, alice := f.signup(t, "alice")
	bob, _ := f.signup(t, "bob")
	carol, _ := f.signup(t, "carol")

	_, err := f.pairing.Connect(ctx, bob, "ZZZZZZZZ")
	assert.ErrorIs(t, err, apperr.ErrCodeNotFound)

	_, err = f.pairing.Connect(ctx, bob, "short")
	assert.ErrorIs(t, err, apperr.ErrCodeNotFound)

	_, err = f.pairing.Connect(ctx, aliceID, alice.PartnerCode)
	assert.ErrorIs(t, err, apperr.ErrSelfPairing)

	_, err = f.pairing.Connect(ctx, bob, alice.PartnerCode)
	require.NoError(t, err)

	// 目标已配对
	_, err = f.pairing.Connect(ctx, carol, alice.PartnerCode)
	assert.ErrorIs(t, err, apperr.ErrAlreadyPaired)

	// 请求方已配对
	carolAcct, err := f.repo.Get(ctx, "carol")
	require.NoError(t, err)
	_, err = f.pairing.Connect(ctx, bob, carolAcct.PartnerCode)
	assert.ErrorIs(t, err, apperr.ErrAlreadyPaired)

	assert.Equal(t, "", partnerOf(t, f, "carol"))
	assert.Equal(t, "alice", partnerOf(t, f, "bob"))
}

func TestConnect_RaceOneWinner(t *testing.T) {
	f := newFixture(t, nil, 0)
	_, alice := f.signup(t, "alice")
	bob, _ := f.signup(t, "bob")
	carol, _ := f.signup(t, "carol")

	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errs  = make([]error, 2)
	)
	for i, id := range []auth.Identity{bob, carol} {
		wg.Add(1)
		go func(i int, id auth.Identity) {
			defer wg.Done()
			<-start
			_, errs[i] = f.pairing.Connect(context.Background(), id, alice.PartnerCode)
		}(i, id)
	}
	close(start)
	wg.Wait()

	var ok, lost int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case assert.ErrorIs(t, err, apperr.ErrAlreadyPaired):
			lost++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, lost)

	winner := partnerOf(t, f, "alice")
	require.Contains(t, []string{"bob", "carol"}, winner)
	assert.Equal(t, "alice", partnerOf(t, f, winner))
	loser := map[string]string{"bob": "carol", "carol": "bob"}[winner]
	assert.Equal(t, "", partnerOf(t, f, loser))
}

// concurrently 同时启动两个调用并收集错误
func concurrently(fns ...func() error) []error {
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errs  = make([]error, len(fns))
	)
	for i, fn := range fns {
		wg.Add(1)
		go func(i int, fn func() error) {
			defer wg.Done()
			<-start
			errs[i] = fn()
		}(i, fn)
	}
	close(start)
	wg.Wait()
	return errs
}

func TestConnect_MutualCodesOneWinner(t *testing.T) {
	f := newFixture(t, nil, 0)
	ctx := context.Background()
	aliceID, alice := f.signup(t, "alice")
	bobID, bob := f.signup(t, "bob")

	errs := concurrently(
		func() error { _, err := f.pairing.Connect(ctx, aliceID, bob.PartnerCode); return err },
		func() error { _, err := f.pairing.Connect(ctx, bobID, alice.PartnerCode); return err },
	)
	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, apperr.ErrAlreadyPaired)
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, "bob", partnerOf(t, f, "alice"))
	assert.Equal(t, "alice", partnerOf(t, f, "bob"))
}

func TestDisconnect_BothSidesAtOnce(t *testing.T) {
	f := newFixture(t, nil, 0)
	ctx := context.Background()
	aliceID, alice := f.signup(t, "alice")
	bobID, _ := f.signup(t, "bob")
	_, err := f.pairing.Connect(ctx, bobID, alice.PartnerCode)
	require.NoError(t, err)

	errs := concurrently(
		func() error { return f.pairing.Disconnect(ctx, aliceID) },
		func() error { return f.pairing.Disconnect(ctx, bobID) },
	)
	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		// 另一方已完成解绑，按幂等视为成功
		assert.ErrorIs(t, err, apperr.ErrNotPaired)
	}
	assert.GreaterOrEqual(t, ok, 1)
	assert.Equal(t, "", partnerOf(t, f, "alice"))
	assert.Equal(t, "", partnerOf(t, f, "bob"))
}

func TestDisconnect_ClearsBothAndIsRepeatable(t *testing.T) {
	f := newFixture(t, nil, 0)
	ctx := context.Background()
	aliceID, alice := f.signup(t, "alice")
	bob, _ := f.signup(t, "bob")
	_, err := f.pairing.Connect(ctx, bob, alice.PartnerCode)
	require.NoError(t, err)

	require.NoError(t, f.pairing.Disconnect(ctx, aliceID))
	assert.Equal(t, "", partnerOf(t, f, "alice"))
	assert.Equal(t, "", partnerOf(t, f, "bob"))

	assert.ErrorIs(t, f.pairing.Disconnect(ctx, aliceID), apperr.ErrNotPaired)
	assert.ErrorIs(t, f.pairing.Disconnect(ctx, bob), apperr.ErrNotPaired)

	// 解绑后可重新配对
	_, err = f.pairing.Connect(ctx, bob, alice.PartnerCode)
	require.NoError(t, err)
}

func TestPairingChanges_InvalidatePartnerLists(t *testing.T) {
	f := newFixture(t, nil, 0)
	ctx := context.Background()
	aliceID, alice := f.signup(t, "alice")
	bob, _ := f.signup(t, "bob")

	_, err := f.lists.Fetch(ctx, bob, liststore.PartnerList)
	assert.ErrorIs(t, err, apperr.ErrNoPartner)

	_, err = f.pairing.Connect(ctx, bob, alice.PartnerCode)
	require.NoError(t, err)
	items, err := f.lists.Fetch(ctx, bob, liststore.PartnerList)
	require.NoError(t, err)
	assert.Empty(t, items)
	_, err = f.lists.Fetch(ctx, aliceID, liststore.PartnerList)
	require.NoError(t, err)

	require.NoError(t, f.pairing.Disconnect(ctx, aliceID))
	_, err = f.lists.Fetch(ctx, bob, liststore.PartnerList)
	assert.ErrorIs(t, err, apperr.ErrNoPartner)
	_, err = f.lists.Fetch(ctx, aliceID, liststore.PartnerList)
	assert.ErrorIs(t, err, apperr.ErrNoPartner)
}

func TestStatus_Unpaired(t *testing.T) {
	f := newFixture(t, nil, 0)
	id, acct := f.signup(t, "alice")
	st, err := f.pairing.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, &PairingStatus{PartnerCode: acct.PartnerCode}, st)
}

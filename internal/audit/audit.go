// Package audit checks the pairing invariants over the whole account table:
// partner links are symmetric, nobody is paired with themselves and every
// partner code is well formed and unique.
package audit

import (
	"context"
	"fmt"

	"github.com/d60-Lab/duowatch/internal/codegen"
	"github.com/d60-Lab/duowatch/internal/model"
	"github.com/d60-Lab/duowatch/internal/repository"
)

type Kind string

const (
	SelfPaired    Kind = "self_paired"
	Asymmetric    Kind = "asymmetric"
	DanglingPeer  Kind = "dangling_partner"
	DuplicateCode Kind = "duplicate_code"
	MalformedCode Kind = "malformed_code"
)

type Violation struct {
	Kind   Kind
	UID    string
	Detail string
}

type Report struct {
	Accounts   int
	Paired     int
	Violations []Violation
}

func (r *Report) OK() bool { return len(r.Violations) == 0 }

type entry struct {
	partner string
	code    string
}

// Run scans every account in batches. The partner map is held in memory for
// the cross-check.
func Run(ctx context.Context, repo repository.AccountRepository, batch int) (*Report, error) {
	accounts := make(map[string]entry)
	order := make([]string, 0)
	err := repo.Scan(ctx, batch, func(rows []*model.Account) error {
		for _, a := range rows {
			e := entry{code: a.PartnerCode}
			if a.Paired() {
				e.partner = *a.PartnerUID
			}
			accounts[a.UID] = e
			order = append(order, a.UID)
		}
		return ctx.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("scan accounts: %w", err)
	}

	rep := &Report{Accounts: len(accounts)}
	codes := make(map[string]string, len(accounts))
	for _, uid := range order {
		e := accounts[uid]
		if owner, dup := codes[e.code]; dup {
			rep.add(DuplicateCode, uid, fmt.Sprintf("code %s also held by %s", e.code, owner))
		} else {
			codes[e.code] = uid
		}
		if !codegen.Valid(e.code) {
			rep.add(MalformedCode, uid, fmt.Sprintf("code %q", e.code))
		}

		if e.partner == "" {
			continue
		}
		rep.Paired++
		if e.partner == uid {
			rep.add(SelfPaired, uid, "")
			continue
		}
		peer, ok := accounts[e.partner]
		switch {
		case !ok:
			rep.add(DanglingPeer, uid, fmt.Sprintf("partner %s does not exist", e.partner))
		case peer.partner != uid:
			rep.add(Asymmetric, uid, fmt.Sprintf("partner %s points to %q", e.partner, peer.partner))
		}
	}
	return rep, nil
}

func (r *Report) add(k Kind, uid, detail string) {
	r.Violations = append(r.Violations, Violation{Kind: k, UID: uid, Detail: detail})
}

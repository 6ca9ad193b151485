package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/d60-Lab/duowatch/internal/apperr"
	"github.com/d60-Lab/duowatch/internal/auth"
	"github.com/d60-Lab/duowatch/internal/codegen"
	"github.com/d60-Lab/duowatch/internal/liststore"
	"github.com/d60-Lab/duowatch/internal/metrics"
	"github.com/d60-Lab/duowatch/internal/repository"
	"github.com/d60-Lab/duowatch/pkg/logger"
)

// Invalidator 列表缓存失效
type Invalidator interface {
	Invalidate(ctx context.Context, uid string, kind liststore.Kind)
}

// PairingStatus 配对状态
type PairingStatus struct {
	PartnerCode        string `json:"partnerCode"`
	Paired             bool   `json:"paired"`
	PartnerUID         string `json:"partnerUid,omitempty"`
	PartnerDisplayName string `json:"partnerDisplayName,omitempty"`
}

// PairingService 配对服务，双方 partner_uid 始终对称
type PairingService interface {
	Connect(ctx context.Context, id auth.Identity, code string) (*PairingStatus, error)
	// Disconnect 未配对时返回 apperr.ErrNotPaired，由调用方决定是否视为成功
	Disconnect(ctx context.Context, id auth.Identity) error
	Status(ctx context.Context, id auth.Identity) (*PairingStatus, error)
}

type pairingService struct {
	repo  repository.AccountRepository
	lists Invalidator
}

func NewPairingService(repo repository.AccountRepository, lists Invalidator) PairingService {
	return &pairingService{repo: repo, lists: lists}
}

func (s *pairingService) Connect(ctx context.Context, id auth.Identity, code string) (st *PairingStatus, err error) {
	defer func() {
		metrics.PairingOutcomes.WithLabelValues("connect", metrics.Outcome(err, outcome)).Inc()
		if err != nil {
			logFailure("connect failed", err, zap.String("uid", id.UID))
		}
	}()

	code = codegen.Normalize(code)
	if !codegen.Valid(code) {
		return nil, apperr.ErrCodeNotFound
	}
	target, err := s.repo.GetByPartnerCode(ctx, code)
	if errors.Is(err, repository.ErrAccountNotFound) {
		return nil, apperr.ErrCodeNotFound
	}
	if err != nil {
		return nil, err
	}
	if target.UID == id.UID {
		return nil, apperr.ErrSelfPairing
	}
	if target.Paired() {
		return nil, apperr.ErrAlreadyPaired
	}
	me, err := s.repo.Get(ctx, id.UID)
	if err != nil {
		return nil, err
	}
	if me.Paired() {
		return nil, apperr.ErrAlreadyPaired
	}

	// 预检之后仍可能被并发配对，由事务内条件更新兜底
	if err := s.repo.Pair(ctx, id.UID, target.UID); err != nil {
		return nil, err
	}
	s.invalidatePartnerLists(ctx, id.UID, target.UID)
	logger.Info("paired", zap.String("uid", id.UID), zap.String("partner", target.UID))

	return &PairingStatus{
		PartnerCode:        me.PartnerCode,
		Paired:             true,
		PartnerUID:         target.UID,
		PartnerDisplayName: target.DisplayName,
	}, nil
}

func (s *pairingService) Disconnect(ctx context.Context, id auth.Identity) (err error) {
	defer func() {
		metrics.PairingOutcomes.WithLabelValues("disconnect", metrics.Outcome(err, outcome)).Inc()
		if err != nil {
			logFailure("disconnect failed", err, zap.String("uid", id.UID))
		}
	}()

	me, err := s.repo.Get(ctx, id.UID)
	if err != nil {
		return err
	}
	if !me.Paired() {
		return apperr.ErrNotPaired
	}
	partner := *me.PartnerUID
	peerCleared, err := s.repo.Unpair(ctx, id.UID, partner)
	if err != nil {
		return err
	}
	if !peerCleared {
		logger.Warn("partner did not point back on disconnect", zap.String("uid", id.UID), zap.String("partner", partner))
	}
	s.invalidatePartnerLists(ctx, id.UID, partner)
	logger.Info("unpaired", zap.String("uid", id.UID), zap.String("partner", partner))
	return nil
}

func (s *pairingService) Status(ctx context.Context, id auth.Identity) (*PairingStatus, error) {
	me, err := s.repo.Get(ctx, id.UID)
	if err != nil {
		return nil, err
	}
	st := &PairingStatus{PartnerCode: me.PartnerCode, Paired: me.Paired()}
	if !st.Paired {
		return st, nil
	}
	st.PartnerUID = *me.PartnerUID
	partner, err := s.repo.Get(ctx, st.PartnerUID)
	switch {
	case err == nil:
		st.PartnerDisplayName = partner.DisplayName
	case errors.Is(err, repository.ErrAccountNotFound):
		logger.Warn("partner account missing", zap.String("uid", id.UID), zap.String("partner", st.PartnerUID))
	default:
		return nil, err
	}
	return st, nil
}

func (s *pairingService) invalidatePartnerLists(ctx context.Context, uids ...string) {
	if s.lists == nil {
		return
	}
	for _, uid := range uids {
		s.lists.Invalidate(ctx, uid, liststore.PartnerList)
	}
}


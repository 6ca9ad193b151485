package service

import (
	"context"
	"errors"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"

	"github.com/d60-Lab/duowatch/internal/apperr"
	"github.com/d60-Lab/duowatch/internal/auth"
	"github.com/d60-Lab/duowatch/internal/codegen"
	"github.com/d60-Lab/duowatch/internal/metrics"
	"github.com/d60-Lab/duowatch/internal/model"
	"github.com/d60-Lab/duowatch/internal/repository"
	"github.com/d60-Lab/duowatch/pkg/logger"
)

const (
	defaultDisplayName = "Anonymous"
	defaultEmail       = "No Email"
)

// AccountService 账号服务
type AccountService interface {
	// Ensure 返回调用者账号；首次认证时分配配对码并创建
	Ensure(ctx context.Context, id auth.Identity, claims *auth.Claims) (*model.Account, error)
	Get(ctx context.Context, uid string) (*model.Account, error)
}

type accountService struct {
	repo  repository.AccountRepository
	alloc *codegen.Allocator
}

func NewAccountService(repo repository.AccountRepository, alloc *codegen.Allocator) AccountService {
	return &accountService{repo: repo, alloc: alloc}
}

func (s *accountService) Get(ctx context.Context, uid string) (*model.Account, error) {
	return s.repo.Get(ctx, uid)
}

func (s *accountService) Ensure(ctx context.Context, id auth.Identity, claims *auth.Claims) (*model.Account, error) {
	acct, err := s.repo.Get(ctx, id.UID)
	if err == nil {
		return acct, nil
	}
	if !errors.Is(err, repository.ErrAccountNotFound) {
		return nil, err
	}

	acct = &model.Account{UID: id.UID, DisplayName: defaultDisplayName, Email: defaultEmail}
	if claims != nil {
		if claims.Name != "" {
			acct.DisplayName = claims.Name
		}
		if claims.Email != "" {
			acct.Email = claims.Email
		}
	}

	// 配对码与账号在同一事务中写入，code 主键冲突即重新生成
	_, attempts, err := s.alloc.Allocate(ctx, s.repo.CodeExists, func(ctx context.Context, code string) error {
		acct.PartnerCode = code
		return s.repo.CreateWithCode(ctx, acct)
	})
	switch {
	case err == nil:
		metrics.CodeAllocationAttempts.Observe(float64(attempts))
		logger.Info("account created", zap.String("uid", id.UID), zap.Int("code_attempts", attempts))
		return acct, nil
	case errors.Is(err, repository.ErrAccountExists):
		// 并发的首次请求已创建
		return s.repo.Get(ctx, id.UID)
	case errors.Is(err, apperr.ErrCodeAllocationExhausted):
		metrics.CodeAllocationExhausted.Inc()
		logger.Error("partner code allocation exhausted",
			zap.String("alert", "code_namespace_exhausted"),
			zap.String("uid", id.UID),
			zap.Int("attempts", attempts),
			zap.Error(err))
		sentry.CaptureException(err)
		return nil, err
	default:
		logFailure("create account failed", err, zap.String("uid", id.UID))
		return nil, err
	}
}

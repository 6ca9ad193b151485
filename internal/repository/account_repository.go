package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/duowatch/internal/apperr"
	"github.com/d60-Lab/duowatch/internal/codegen"
	"github.com/d60-Lab/duowatch/internal/model"
)

type AccountRepository interface {
	Get(ctx context.Context, uid string) (*model.Account, error)
	GetByPartnerCode(ctx context.Context, code string) (*model.Account, error)
	CodeExists(ctx context.Context, code string) (bool, error)
	// CreateWithCode 同事务写入 partner_codes 与 users
	CreateWithCode(ctx context.Context, acct *model.Account) error
	// Pair 同事务双向写入 partner_uid，任一方已配对则整体回滚
	Pair(ctx context.Context, requesterUID, targetUID string) error
	// Unpair 同事务双向清除，返回对方是否仍指向自己
	Unpair(ctx context.Context, requesterUID, partnerUID string) (peerCleared bool, err error)
	Scan(ctx context.Context, batch int, fn func([]*model.Account) error) error
}

type accountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) AccountRepository { return &accountRepository{db: db} }

func (r *accountRepository) Get(ctx context.Context, uid string) (*model.Account, error) {
	var a model.Account
	if err := r.db.WithContext(ctx).Where("uid = ?", uid).First(&a).Error; err != nil {
		return nil, wrapErr(err)
	}
	return &a, nil
}

func (r *accountRepository) GetByPartnerCode(ctx context.Context, code string) (*model.Account, error) {
	var a model.Account
	if err := r.db.WithContext(ctx).Where("partner_code = ?", code).First(&a).Error; err != nil {
		return nil, wrapErr(err)
	}
	return &a, nil
}

func (r *accountRepository) CodeExists(ctx context.Context, code string) (bool, error) {
	var cnt int64
	if err := r.db.WithContext(ctx).
		Model(&model.PartnerCodeIndex{}).
		Where("code = ?", code).
		Count(&cnt).Error; err != nil {
		return false, wrapErr(err)
	}
	return cnt > 0, nil
}

func (r *accountRepository) CreateWithCode(ctx context.Context, acct *model.Account) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 以 code 为主键抢占，冲突即被他人占用
		idx := &model.PartnerCodeIndex{Code: acct.PartnerCode, UID: acct.UID}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(idx)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return codegen.ErrTaken
		}
		res = tx.Clauses(clause.OnConflict{DoNothing: true}).Create(acct)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrAccountExists
		}
		return nil
	})
	if errors.Is(err, codegen.ErrTaken) {
		return err
	}
	return wrapErr(err)
}

// lockOrder 按 uid 升序返回两行，所有双行事务以同一顺序加锁
func lockOrder(x, y string) (string, string) {
	if y < x {
		return y, x
	}
	return x, y
}

func (r *accountRepository) Pair(ctx context.Context, requesterUID, targetUID string) error {
	first, second := lockOrder(requesterUID, targetUID)
	peer := map[string]string{requesterUID: targetUID, targetUID: requesterUID}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, uid := range []string{first, second} {
			res := tx.Model(&model.Account{}).
				Where("uid = ? AND partner_uid IS NULL", uid).
				Update("partner_uid", peer[uid])
			if res.Error != nil {
				return res.Error
			}
			// 条件不成立：提交前已被他人配对
			if res.RowsAffected != 1 {
				return apperr.ErrAlreadyPaired
			}
		}
		return nil
	})
	return wrapErr(err)
}

func (r *accountRepository) Unpair(ctx context.Context, requesterUID, partnerUID string) (bool, error) {
	first, second := lockOrder(requesterUID, partnerUID)
	peer := map[string]string{requesterUID: partnerUID, partnerUID: requesterUID}
	cleared := make(map[string]bool, 2)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, uid := range []string{first, second} {
			res := tx.Model(&model.Account{}).
				Where("uid = ? AND partner_uid = ?", uid, peer[uid]).
				Update("partner_uid", nil)
			if res.Error != nil {
				return res.Error
			}
			cleared[uid] = res.RowsAffected == 1
		}
		if !cleared[requesterUID] {
			return apperr.ErrNotPaired
		}
		return nil
	})
	if err != nil {
		return false, wrapErr(err)
	}
	return cleared[partnerUID], nil
}

func (r *accountRepository) Scan(ctx context.Context, batch int, fn func([]*model.Account) error) error {
	if batch <= 0 {
		batch = 500
	}
	var rows []*model.Account
	res := r.db.WithContext(ctx).FindInBatches(&rows, batch, func(_ *gorm.DB, _ int) error {
		return fn(rows)
	})
	return wrapErr(res.Error)
}

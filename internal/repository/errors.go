package repository

import (
	"errors"

	"gorm.io/gorm"

	"github.com/d60-Lab/duowatch/internal/apperr"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrAccountExists   = errors.New("account already exists")
)

// wrapErr 保留业务错误，其余存储错误统一标记为网络错误
func wrapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrAccountNotFound
	case errors.Is(err, ErrAccountNotFound), errors.Is(err, ErrAccountExists), apperr.IsPrecondition(err):
		return err
	default:
		return apperr.Network(err)
	}
}

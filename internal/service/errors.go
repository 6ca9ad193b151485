package service

import (
	"errors"

	"go.uber.org/zap"

	"github.com/d60-Lab/duowatch/internal/apperr"
	"github.com/d60-Lab/duowatch/pkg/logger"
)

// outcome 指标标签
func outcome(err error) string {
	switch {
	case errors.Is(err, apperr.ErrCodeNotFound):
		return "code_not_found"
	case errors.Is(err, apperr.ErrSelfPairing):
		return "self_pairing"
	case errors.Is(err, apperr.ErrAlreadyPaired):
		return "already_paired"
	case errors.Is(err, apperr.ErrNotPaired):
		return "not_paired"
	case errors.Is(err, apperr.ErrNetwork):
		return "network"
	}
	return ""
}

// logFailure 预期内的前置条件失败记 info，存储故障记 warn
func logFailure(msg string, err error, fields ...zap.Field) {
	fields = append(fields, zap.Error(err))
	if apperr.IsPrecondition(err) || errors.Is(err, apperr.ErrInvalidInput) {
		logger.Info(msg, fields...)
		return
	}
	logger.Warn(msg, fields...)
}

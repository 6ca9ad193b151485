package handler

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/d60-Lab/duowatch/internal/api/middleware"
	"github.com/d60-Lab/duowatch/internal/apperr"
	"github.com/d60-Lab/duowatch/internal/auth"
	"github.com/d60-Lab/duowatch/internal/liststore"
	"github.com/d60-Lab/duowatch/internal/model"
	"github.com/d60-Lab/duowatch/internal/service"
	"github.com/d60-Lab/duowatch/pkg/logger"
	"github.com/d60-Lab/duowatch/pkg/response"
)

// ListService 列表读写，由 liststore.Store 实现
type ListService interface {
	Fetch(ctx context.Context, id auth.Identity, kind liststore.Kind) ([]model.MediaItem, error)
	Add(ctx context.Context, id auth.Identity, item model.MediaItem) error
	Remove(ctx context.Context, id auth.Identity, mediaID int64, mediaType model.MediaType) error
	Invalidate(ctx context.Context, uid string, kind liststore.Kind)
}

type Handler struct {
	pairing service.PairingService
	lists   ListService
	search  service.SearchService
	ping    func(context.Context) error
}

func New(pairing service.PairingService, lists ListService, search service.SearchService, ping func(context.Context) error) *Handler {
	return &Handler{pairing: pairing, lists: lists, search: search, ping: ping}
}

func identity(c *gin.Context) (auth.Identity, bool) {
	id, ok := middleware.Identity(c)
	if !ok {
		response.Unauthorized(c, apperr.Message(apperr.ErrAuthRequired))
	}
	return id, ok
}

// fail 将业务错误映射为状态码与简短提示，原始错误只进日志
func fail(c *gin.Context, err error) {
	status := apperr.Status(err)
	if status >= 500 && !errors.Is(err, apperr.ErrCodeAllocationExhausted) {
		logger.Warn("request failed",
			zap.String("path", c.FullPath()),
			zap.String("request_id", c.GetString("request_id")),
			zap.Int("status", status),
			zap.Error(err))
	}
	_ = c.Error(err)
	response.Error(c, status, apperr.Message(err))
}

func badRequest(c *gin.Context, err error) {
	_ = c.Error(err)
	response.BadRequest(c, apperr.Message(apperr.Invalid(err)))
}

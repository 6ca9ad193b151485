package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/duowatch/internal/apperr"
	"github.com/d60-Lab/duowatch/pkg/response"
)

type connectRequest struct {
	Code string `json:"code" binding:"required"`
}

// Connect 通过对方配对码建立配对
// @Summary 建立配对
// @Tags 配对
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body connectRequest true "对方配对码"
// @Success 200 {object} response.Response{data=service.PairingStatus}
// @Failure 400 {object} response.Response
// @Failure 404 {object} response.Response
// @Failure 409 {object} response.Response
// @Router /pairing/connect [post]
func (h *Handler) Connect(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	var req connectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	st, err := h.pairing.Connect(c.Request.Context(), id, req.Code)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, st)
}

// Disconnect 解除配对，未配对时同样返回成功
// @Summary 解除配对
// @Tags 配对
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Response{data=service.PairingStatus}
// @Failure 502 {object} response.Response
// @Router /pairing/disconnect [post]
func (h *Handler) Disconnect(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if err := h.pairing.Disconnect(ctx, id); err != nil && !errors.Is(err, apperr.ErrNotPaired) {
		fail(c, err)
		return
	}
	st, err := h.pairing.Status(ctx, id)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, st)
}

// Status 查询配对状态与本人配对码
// @Summary 配对状态
// @Tags 配对
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Response{data=service.PairingStatus}
// @Router /pairing/status [get]
func (h *Handler) Status(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	st, err := h.pairing.Status(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, st)
}

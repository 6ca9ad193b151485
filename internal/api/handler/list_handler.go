package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/duowatch/internal/liststore"
	"github.com/d60-Lab/duowatch/internal/model"
	"github.com/d60-Lab/duowatch/pkg/response"
)

type addItemRequest struct {
	ID         int64    `json:"id" binding:"required,gt=0"`
	MediaType  string   `json:"mediaType" binding:"required,mediatype"`
	Title      string   `json:"title" binding:"required,max=512"`
	Year       string   `json:"year" binding:"max=16"`
	Rating     *float64 `json:"rating" binding:"omitempty,gte=0,lte=10"`
	PosterPath string   `json:"posterPath" binding:"max=512"`
}

type removeItemRequest struct {
	ID        int64  `json:"id" binding:"required,gt=0"`
	MediaType string `json:"mediaType" binding:"required,mediatype"`
}

type refreshRequest struct {
	Kind string `json:"kind" binding:"required,oneof=mine partner partnerList common"`
}

// MyList 我的片单
// @Summary 我的片单
// @Tags 片单
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Response{data=[]model.MediaItem}
// @Router /lists/mine [get]
func (h *Handler) MyList(c *gin.Context) { h.fetch(c, liststore.Mine) }

// PartnerList 对方片单（只读）
// @Summary 对方片单
// @Tags 片单
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Response{data=[]model.MediaItem}
// @Failure 409 {object} response.Response
// @Router /lists/partner [get]
func (h *Handler) PartnerList(c *gin.Context) { h.fetch(c, liststore.PartnerList) }

// CommonList 双方共同片单
// @Summary 共同片单
// @Tags 片单
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Response{data=[]model.MediaItem}
// @Failure 409 {object} response.Response
// @Router /lists/common [get]
func (h *Handler) CommonList(c *gin.Context) { h.fetch(c, liststore.Common) }

func (h *Handler) fetch(c *gin.Context, kind liststore.Kind) {
	id, ok := identity(c)
	if !ok {
		return
	}
	items, err := h.lists.Fetch(c.Request.Context(), id, kind)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, items)
}

// AddItem 加入我的片单
// @Summary 加入片单
// @Tags 片单
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body addItemRequest true "条目"
// @Success 201 {object} response.Response{data=model.MediaItem}
// @Failure 400 {object} response.Response
// @Failure 409 {object} response.Response
// @Router /lists/mine [post]
func (h *Handler) AddItem(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	var req addItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	item := model.MediaItem{
		ID:         req.ID,
		MediaType:  model.MediaType(req.MediaType),
		Title:      req.Title,
		Year:       req.Year,
		Rating:     req.Rating,
		PosterPath: req.PosterPath,
		Ownership:  model.OwnershipSelf,
	}
	if item.Year == "" {
		item.Year = model.UnknownYear
	}
	if err := h.lists.Add(c.Request.Context(), id, item); err != nil {
		fail(c, err)
		return
	}
	response.Created(c, item)
}

// RemoveItem 从我的片单移除
// @Summary 移除条目
// @Tags 片单
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body removeItemRequest true "条目键"
// @Success 200 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /lists/mine [delete]
func (h *Handler) RemoveItem(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	var req removeItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.lists.Remove(c.Request.Context(), id, req.ID, model.MediaType(req.MediaType)); err != nil {
		fail(c, err)
		return
	}
	response.Success(c, nil)
}

// Refresh 丢弃缓存，下次读取直接回源
// @Summary 刷新片单缓存
// @Tags 片单
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body refreshRequest true "视图"
// @Success 200 {object} response.Response
// @Router /lists/refresh [post]
func (h *Handler) Refresh(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	kind, err := liststore.ParseKind(req.Kind)
	if err != nil {
		badRequest(c, err)
		return
	}
	h.lists.Invalidate(c.Request.Context(), id.UID, kind)
	response.Success(c, gin.H{"kind": kind})
}

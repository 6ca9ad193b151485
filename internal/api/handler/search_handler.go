package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/duowatch/internal/service"
	"github.com/d60-Lab/duowatch/pkg/response"
)

// Search 检索影视，结果已分类，人物条目被剔除
// @Summary 检索
// @Tags 检索
// @Produce json
// @Security BearerAuth
// @Param query query string true "关键词"
// @Param searchType query string false "movie|tv|person|multi" default(multi)
// @Param page query int false "页码" default(1)
// @Param language query string false "语言"
// @Param includeAdult query bool false "包含成人内容"
// @Param excludeIncomplete query bool false "剔除缺少海报或评分的条目"
// @Param year query string false "年份"
// @Param primaryReleaseYear query string false "首映年份"
// @Param region query string false "地区"
// @Success 200 {object} response.Response{data=service.SearchResult}
// @Failure 400 {object} response.Response
// @Failure 502 {object} response.Response
// @Router /search [get]
func (h *Handler) Search(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	var opts service.SearchOptions
	if err := c.ShouldBindQuery(&opts); err != nil {
		badRequest(c, err)
		return
	}
	res, err := h.search.Search(c.Request.Context(), id, opts)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, res)
}

// Discover 热门 / 趋势
// @Summary 发现
// @Tags 检索
// @Produce json
// @Security BearerAuth
// @Param discoverType query string false "popular|trending" default(popular)
// @Param mediaType query string false "movie|tv" default(movie)
// @Param timeWindow query string false "day|week" default(week)
// @Param page query int false "页码" default(1)
// @Param language query string false "语言"
// @Param excludeIncomplete query bool false "剔除缺少海报或评分的条目"
// @Success 200 {object} response.Response{data=service.SearchResult}
// @Failure 400 {object} response.Response
// @Router /discover [get]
func (h *Handler) Discover(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	var opts service.DiscoverOptions
	if err := c.ShouldBindQuery(&opts); err != nil {
		badRequest(c, err)
		return
	}
	res, err := h.search.Discover(c.Request.Context(), id, opts)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, res)
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/d60-Lab/duowatch/internal/apperr"
	"github.com/d60-Lab/duowatch/internal/auth"
	"github.com/d60-Lab/duowatch/internal/classify"
	"github.com/d60-Lab/duowatch/internal/model"
	"github.com/d60-Lab/duowatch/internal/tmdb"
)

// Provider 外部影视检索服务
type Provider interface {
	Search(ctx context.Context, q tmdb.SearchQuery) (*tmdb.Page, error)
	Popular(ctx context.Context, mediaType string, page int, language string) (*tmdb.Page, error)
	Trending(ctx context.Context, mediaType, window string, page int, language string) (*tmdb.Page, error)
}

type SearchOptions struct {
	Query              string `form:"query"`
	SearchType         string `form:"searchType"`
	Page               int    `form:"page"`
	Language           string `form:"language"`
	IncludeAdult       bool   `form:"includeAdult"`
	ExcludeIncomplete  bool   `form:"excludeIncomplete"`
	Year               string `form:"year"`
	PrimaryReleaseYear string `form:"primaryReleaseYear"`
	Region             string `form:"region"`
}

type DiscoverOptions struct {
	DiscoverType      string `form:"discoverType"` // popular | trending
	MediaType         string `form:"mediaType"`
	TimeWindow        string `form:"timeWindow"` // day | week
	Page              int    `form:"page"`
	Language          string `form:"language"`
	ExcludeIncomplete bool   `form:"excludeIncomplete"`
}

// SearchResult 已分类的检索结果，人物与无法识别的条目已剔除
type SearchResult struct {
	Page         int               `json:"page"`
	TotalPages   int               `json:"totalPages"`
	TotalResults int               `json:"totalResults"`
	Results      []model.MediaItem `json:"results"`
}

type SearchService interface {
	Search(ctx context.Context, id auth.Identity, opts SearchOptions) (*SearchResult, error)
	Discover(ctx context.Context, id auth.Identity, opts DiscoverOptions) (*SearchResult, error)
}

type searchService struct {
	provider Provider
}

func NewSearchService(provider Provider) SearchService {
	return &searchService{provider: provider}
}

func (s *searchService) Search(ctx context.Context, id auth.Identity, opts SearchOptions) (*SearchResult, error) {
	query := strings.TrimSpace(opts.Query)
	if query == "" {
		return nil, apperr.Invalid(errors.New("query is required"))
	}
	typ := opts.SearchType
	switch typ {
	case "":
		typ = "multi"
	case "movie", "tv", "person", "multi":
	default:
		return nil, apperr.Invalid(fmt.Errorf("unknown search type %q", typ))
	}

	page, err := s.provider.Search(ctx, tmdb.SearchQuery{
		Query:              query,
		Type:               typ,
		Page:               opts.Page,
		Language:           opts.Language,
		IncludeAdult:       opts.IncludeAdult,
		Year:               opts.Year,
		PrimaryReleaseYear: opts.PrimaryReleaseYear,
		Region:             opts.Region,
	})
	if err != nil {
		logFailure("search failed", err, zap.String("uid", id.UID), zap.String("type", typ))
		return nil, err
	}
	return toResult(page, opts.ExcludeIncomplete), nil
}

func (s *searchService) Discover(ctx context.Context, id auth.Identity, opts DiscoverOptions) (*SearchResult, error) {
	mediaType := opts.MediaType
	if mediaType == "" {
		mediaType = string(model.MediaTypeMovie)
	}
	if !model.MediaType(mediaType).Valid() {
		return nil, apperr.Invalid(fmt.Errorf("unknown media type %q", mediaType))
	}

	var (
		page *tmdb.Page
		err  error
	)
	switch opts.DiscoverType {
	case "", "popular":
		page, err = s.provider.Popular(ctx, mediaType, opts.Page, opts.Language)
	case "trending":
		window := opts.TimeWindow
		switch window {
		case "":
			window = "week"
		case "day", "week":
		default:
			return nil, apperr.Invalid(fmt.Errorf("unknown time window %q", window))
		}
		page, err = s.provider.Trending(ctx, mediaType, window, opts.Page, opts.Language)
	default:
		return nil, apperr.Invalid(fmt.Errorf("unknown discover type %q", opts.DiscoverType))
	}
	if err != nil {
		logFailure("discover failed", err, zap.String("uid", id.UID), zap.String("type", opts.DiscoverType))
		return nil, err
	}
	return toResult(page, opts.ExcludeIncomplete), nil
}

func toResult(p *tmdb.Page, excludeIncomplete bool) *SearchResult {
	return &SearchResult{
		Page:         p.Page,
		TotalPages:   p.TotalPages,
		TotalResults: p.TotalResults,
		Results:      classify.Filter(p.Results, classify.Options{ExcludeIncomplete: excludeIncomplete}),
	}
}

package model

import (
	"fmt"
	"time"
)

type MediaType string

const (
	MediaTypeMovie MediaType = "movie"
	MediaTypeTV    MediaType = "tv"
)

// Valid 仅 movie / tv
func (t MediaType) Valid() bool { return t == MediaTypeMovie || t == MediaTypeTV }

// ParseMediaType 解析外部输入
func ParseMediaType(s string) (MediaType, error) {
	t := MediaType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unsupported media type %q", s)
	}
	return t, nil
}

// Ownership 列表视图的来源标记，不落库
type Ownership string

const (
	OwnershipSelf    Ownership = "self"
	OwnershipPartner Ownership = "partner"
	OwnershipSearch  Ownership = "search"
)

// UnknownYear 缺失日期时的年份
const UnknownYear = "Unknown"

// MediaItem 对外的条目视图
type MediaItem struct {
	ID         int64     `json:"id"`
	MediaType  MediaType `json:"mediaType"`
	Title      string    `json:"title"`
	Year       string    `json:"year"`
	Rating     *float64  `json:"rating,omitempty"`
	PosterPath string    `json:"posterPath,omitempty"`
	Ownership  Ownership `json:"ownership,omitempty"`
}

// ListItem 用户清单条目，(user_id, media_type, media_id) 唯一
type ListItem struct {
	UserID      string    `gorm:"primaryKey;type:varchar(128)"`
	MediaType   MediaType `gorm:"primaryKey;type:varchar(8)"`
	MediaID     int64     `gorm:"primaryKey;autoIncrement:false"`
	Title       string    `gorm:"type:varchar(512);not null"`
	Year        string    `gorm:"type:varchar(16);not null"`
	Rating      *float64
	PosterPath  string    `gorm:"type:varchar(255)"`
	UpdatedDate string    `gorm:"type:varchar(10)"` // YYYY-MM-DD
	CreatedAt   time.Time `gorm:"index"`
}

func (ListItem) TableName() string { return "list_items" }

// ToMediaItem 转换为视图并标记来源
func (l *ListItem) ToMediaItem(owner Ownership) MediaItem {
	return MediaItem{
		ID:         l.MediaID,
		MediaType:  l.MediaType,
		Title:      l.Title,
		Year:       l.Year,
		Rating:     l.Rating,
		PosterPath: l.PosterPath,
		Ownership:  owner,
	}
}

// NewListItem 由视图构造落库记录，空标题/年份归一为 Unknown
func NewListItem(userID string, m MediaItem, now time.Time) *ListItem {
	title := m.Title
	if title == "" {
		title = "Unknown"
	}
	year := m.Year
	if year == "" {
		year = UnknownYear
	}
	return &ListItem{
		UserID:      userID,
		MediaType:   m.MediaType,
		MediaID:     m.ID,
		Title:       title,
		Year:        year,
		Rating:      m.Rating,
		PosterPath:  m.PosterPath,
		UpdatedDate: now.UTC().Format("2006-01-02"),
		CreatedAt:   now,
	}
}

// YearOf 取日期前 4 位，否则 Unknown
func YearOf(date string) string {
	if len(date) < 4 {
		return UnknownYear
	}
	return date[:4]
}

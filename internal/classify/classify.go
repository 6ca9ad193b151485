// Package classify resolves loosely typed search-provider records to a
// concrete media kind. It is the only place that inspects which fields a
// provider record carries.
package classify

import (
	"github.com/d60-Lab/duowatch/internal/model"
)

// Kind is the resolved variant of a provider record.
type Kind int

const (
	Unknown Kind = iota
	Movie
	TV
	Person
)

func (k Kind) String() string {
	switch k {
	case Movie:
		return "movie"
	case TV:
		return "tv"
	case Person:
		return "person"
	default:
		return "unknown"
	}
}

// MediaType maps a renderable kind to its media type.
func (k Kind) MediaType() (model.MediaType, bool) {
	switch k {
	case Movie:
		return model.MediaTypeMovie, true
	case TV:
		return model.MediaTypeTV, true
	default:
		return "", false
	}
}

// Record is a provider result as decoded from JSON. Pointer fields keep the
// difference between an absent field and an empty one.
type Record struct {
	ID           int64    `json:"id"`
	MediaType    *string  `json:"media_type,omitempty"`
	Title        *string  `json:"title,omitempty"`
	Name         *string  `json:"name,omitempty"`
	ReleaseDate  *string  `json:"release_date,omitempty"`
	FirstAirDate *string  `json:"first_air_date,omitempty"`
	VoteAverage  *float64 `json:"vote_average,omitempty"`
	PosterPath   *string  `json:"poster_path,omitempty"`
	Adult        bool     `json:"adult,omitempty"`
}

// Classify resolves r in order: explicit discriminator, a title field (movie),
// name plus first air date (tv). Anything else is Unknown.
func Classify(r Record) Kind {
	if r.MediaType != nil {
		switch *r.MediaType {
		case "movie":
			return Movie
		case "tv":
			return TV
		case "person":
			return Person
		}
	}
	if r.Title != nil {
		return Movie
	}
	if r.Name != nil && r.FirstAirDate != nil {
		return TV
	}
	return Unknown
}

// ToMediaItem normalises r into a MediaItem. ok is false for kinds that are
// not rendered (person, unknown).
func ToMediaItem(r Record) (item model.MediaItem, ok bool) {
	kind := Classify(r)
	mt, ok := kind.MediaType()
	if !ok {
		return model.MediaItem{}, false
	}

	item = model.MediaItem{
		ID:        r.ID,
		MediaType: mt,
		Rating:    r.VoteAverage,
		Ownership: model.OwnershipSearch,
	}
	switch kind {
	case Movie:
		item.Title = deref(r.Title, r.Name)
		item.Year = model.YearOf(deref(r.ReleaseDate, nil))
	case TV:
		item.Title = deref(r.Name, r.Title)
		item.Year = model.YearOf(deref(r.FirstAirDate, nil))
	}
	if item.Title == "" {
		item.Title = "Unknown"
	}
	if r.PosterPath != nil {
		item.PosterPath = *r.PosterPath
	}
	return item, true
}

// Options controls Filter.
type Options struct {
	// ExcludeIncomplete drops items without a poster or with no positive rating.
	ExcludeIncomplete bool
}

// Filter classifies every record, drops the ones that cannot be rendered and,
// when asked, the incomplete ones. Order is preserved.
func Filter(records []Record, opts Options) []model.MediaItem {
	out := make([]model.MediaItem, 0, len(records))
	for _, r := range records {
		item, ok := ToMediaItem(r)
		if !ok {
			continue
		}
		if opts.ExcludeIncomplete && !Complete(item) {
			continue
		}
		out = append(out, item)
	}
	return out
}

// Complete reports whether item has a poster and a positive rating.
func Complete(item model.MediaItem) bool {
	return item.PosterPath != "" && item.Rating != nil && *item.Rating > 0
}

func deref(primary, fallback *string) string {
	if primary != nil && *primary != "" {
		return *primary
	}
	if fallback != nil {
		return *fallback
	}
	return ""
}

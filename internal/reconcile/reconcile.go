// Package reconcile derives the shared list of two paired accounts.
package reconcile

import "github.com/d60-Lab/duowatch/internal/model"

// Key identifies an item across lists.
type Key struct {
	ID        int64
	MediaType model.MediaType
}

func KeyOf(m model.MediaItem) Key { return Key{ID: m.ID, MediaType: m.MediaType} }

// Common returns the items of mine that partner also holds, matched on
// (id, mediaType) only. The order of mine is kept and mine's copy is returned.
func Common(mine, partner []model.MediaItem) []model.MediaItem {
	if len(mine) == 0 || len(partner) == 0 {
		return []model.MediaItem{}
	}
	theirs := make(map[Key]struct{}, len(partner))
	for _, p := range partner {
		theirs[KeyOf(p)] = struct{}{}
	}
	out := make([]model.MediaItem, 0, min(len(mine), len(partner)))
	for _, m := range mine {
		if _, ok := theirs[KeyOf(m)]; ok {
			out = append(out, m)
		}
	}
	return out
}

// Package analytics is the read side of the review pipeline. Every count,
// chart and export here decides inclusion through IsVisible and nothing else.
package analytics

import (
	"iter"

	"dhruv/internal/review/models"
)

// IsVisible reports whether item may be counted by analytics: it must be
// approved by a human and not excluded at approval time.
func IsVisible(item *models.ReviewItem) bool {
	return item != nil && item.IsApproved() && !item.ExcludedFromAnalytics
}

// Visible filters items down to the ones analytics may see.
func Visible(items iter.Seq[*models.ReviewItem]) iter.Seq[*models.ReviewItem] {
	return func(yield func(*models.ReviewItem) bool) {
		for item := range items {
			if !IsVisible(item) {
				continue
			}
			if !yield(item) {
				return
			}
		}
	}
}

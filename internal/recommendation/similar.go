package recommendation

import (
	"math"
	"sort"
	"strings"

	"github.com/wolfman30/restaurant-chatbot/internal/catalog"
)

const similarityThreshold = 0.3

// SimilarDishes returns up to limit available dishes most like reference.
func SimilarDishes(reference catalog.Dish, dishes []catalog.Dish, limit int) []catalog.Dish {
	if limit <= 0 {
		limit = DefaultLimit
	}
	type match struct {
		dish  catalog.Dish
		score float64
	}
	var matches []match
	for _, d := range dishes {
		if d.ID == reference.ID || !d.IsAvailable {
			continue
		}
		if s := similarity(reference, d); s >= similarityThreshold {
			matches = append(matches, match{dish: d, score: s})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].score > matches[j].score })
	if len(matches) > limit {
		matches = matches[:limit]
	}
	out := make([]catalog.Dish, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.dish)
	}
	return out
}

func similarity(a, b catalog.Dish) float64 {
	var score float64
	if a.Category != "" && strings.EqualFold(a.Category, b.Category) {
		score += 0.4
	}
	if a.Price > 0 {
		diff := math.Abs(a.Price-b.Price) / a.Price
		if diff <= 0.2 {
			score += 0.3 * (1 - diff/0.2)
		}
	}
	if a.IsVegetarian == b.IsVegetarian {
		score += 0.15
	}
	if a.IsSpicy == b.IsSpicy {
		score += 0.15
	}
	return score
}

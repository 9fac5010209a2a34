package recommendation

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/wolfman30/restaurant-chatbot/internal/catalog"
	"github.com/wolfman30/restaurant-chatbot/internal/weather"
)

const (
	maxReasonTags   = 3
	fallbackReason  = "Popular choice at this restaurant"
	reasonSeparator = " | "
)

func buildReason(d catalog.Dish, p prefs, w *weather.Conditions) string {
	var tags []string
	add := func(tag string) {
		if len(tags) < maxReasonTags {
			tags = append(tags, tag)
		}
	}

	if d.Rating >= 4.5 {
		add(fmt.Sprintf("Highly rated (%.1f★)", d.Rating))
	}
	if d.IsFeatured {
		add("Chef's featured dish")
	}
	if p.dietaryMatch && d.IsVegetarian {
		add("Vegetarian friendly")
	}
	switch {
	case p.spice == catalog.SpiceHigh && d.IsSpicy:
		add("Spicy, just how you like it")
	case p.spice == catalog.SpiceLow && !d.IsSpicy:
		add("Mild flavor")
	}
	if p.maxPrice != nil {
		add("Within your budget")
	} else if p.avgOrderValue > 0 {
		if ratio := d.Price / p.avgOrderValue; ratio >= 0.3 && ratio <= 0.5 {
			add("Great value")
		}
	}
	if w != nil {
		switch classifyWeather(w) {
		case weatherCold:
			if dishMentions(d, warmKeywords) {
				add("Warms you up on a cold day")
			}
		case weatherHot:
			if dishMentions(d, refreshingKeywords) {
				add("Refreshing on a hot day")
			}
		case weatherRain:
			if dishMentions(d, comfortKeywords) {
				add("Comfort food for rainy weather")
			}
		}
	}
	if p.mealType != "" && strings.Contains(strings.ToLower(d.Category), p.mealType) {
		add("Great for " + p.mealType)
	}

	if len(tags) == 0 {
		return fallbackReason
	}
	return strings.Join(tags, reasonSeparator)
}

// FormatPrice renders a VND amount like "80,000đ".
func FormatPrice(amount float64) string {
	n := int64(amount + 0.5)
	neg := n < 0
	if neg {
		n = -n
	}
	digits := strconv.FormatInt(n, 10)
	var sb strings.Builder
	if neg {
		sb.WriteByte('-')
	}
	for i, c := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			sb.WriteByte(',')
		}
		sb.WriteRune(c)
	}
	sb.WriteString("đ")
	return sb.String()
}

// Package recommendation ranks menu items against customer preferences,
// price constraints and the weather.
package recommendation

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/wolfman30/restaurant-chatbot/internal/catalog"
	"github.com/wolfman30/restaurant-chatbot/internal/weather"
)

// Factor weights. They sum to 10 so a perfect dish scores 10.
const (
	WeightPreference = 3.0
	WeightRating     = 2.5
	WeightPopularity = 2.0
	WeightPrice      = 1.5
	WeightWeather    = 1.0
)

// Algorithm identifies this scorer in analytics.
const Algorithm = "weighted_multi_factor"

// DefaultLimit is the number of dishes returned when Request.N is zero.
const DefaultLimit = 3

// Request carries everything the scorer needs for one recommendation.
type Request struct {
	Dishes   []catalog.Dish
	Customer *catalog.CustomerPreferences
	// Dietary are explicit requirements from the conversation; vegetarian
	// and vegan exclude meat dishes outright.
	Dietary []string
	// LearnedDietary and FavoriteCategory come from feedback learning.
	LearnedDietary   string
	FavoriteCategory string
	SpiceTolerance   string
	MaxPrice         *float64
	MealType         string
	Weather          *weather.Conditions
	N                int
}

// Result is a ranked recommendation. Dishes and Reasons are parallel.
type Result struct {
	Dishes     []catalog.Dish `json:"dishes"`
	Reasons    []string       `json:"reasons"`
	Scores     []float64      `json:"scores"`
	Confidence float64        `json:"confidence"`
	Algorithm  string         `json:"algorithm"`
	Message    string         `json:"message,omitempty"`
}

// Empty reports whether no dish survived filtering.
func (r *Result) Empty() bool { return r == nil || len(r.Dishes) == 0 }

type scored struct {
	dish   catalog.Dish
	score  float64
	reason string
}

// Engine is stateless; the zero value is ready to use.
type Engine struct{}

func NewEngine() *Engine { return &Engine{} }

// Generate scores every available dish and returns the top N.
func (e *Engine) Generate(req Request) Result {
	limit := req.N
	if limit <= 0 {
		limit = DefaultLimit
	}
	p := resolvePrefs(req)

	var candidates []scored
	for _, d := range req.Dishes {
		if !d.IsAvailable {
			continue
		}
		pref, ok := preferenceScore(d, p)
		if !ok {
			continue
		}
		price, ok := priceScore(d, p)
		if !ok {
			continue
		}
		total := pref*WeightPreference +
			ratingScore(d)*WeightRating +
			popularityScore(d)*WeightPopularity +
			price*WeightPrice
		if req.Weather != nil {
			total += weatherScore(d, req.Weather) * WeightWeather
		}
		candidates = append(candidates, scored{dish: d, score: total, reason: buildReason(d, p, req.Weather)})
	}

	if len(candidates) == 0 {
		return Result{
			Dishes:    []catalog.Dish{},
			Reasons:   []string{},
			Scores:    []float64{},
			Algorithm: Algorithm,
			Message:   emptyMessage(req, p),
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	out := Result{Algorithm: Algorithm}
	var sum float64
	for _, c := range candidates {
		out.Dishes = append(out.Dishes, c.dish)
		out.Reasons = append(out.Reasons, c.reason)
		out.Scores = append(out.Scores, round2(c.score))
		sum += c.score
	}
	out.Confidence = clamp01(sum / float64(len(candidates)) / 10)
	return out
}

// prefs is the resolved preference view of a Request.
type prefs struct {
	requireVegetarian bool
	dietaryMatch      bool // a vegetarian-leaning preference exists
	favorites         map[string]bool
	spice             string
	maxPrice          *float64
	avgOrderValue     float64
	mealType          string
}

func resolvePrefs(req Request) prefs {
	p := prefs{favorites: map[string]bool{}, maxPrice: req.MaxPrice, mealType: strings.ToLower(req.MealType)}
	for _, d := range req.Dietary {
		if isVegetarianLabel(d) {
			p.requireVegetarian = true
		}
	}
	if isVegetarianLabel(req.LearnedDietary) {
		p.dietaryMatch = true
	}
	if req.FavoriteCategory != "" {
		p.favorites[strings.ToLower(req.FavoriteCategory)] = true
	}
	p.spice = strings.ToLower(strings.TrimSpace(req.SpiceTolerance))
	if c := req.Customer; c != nil {
		for _, cat := range c.FavoriteCategories {
			p.favorites[strings.ToLower(cat)] = true
		}
		for _, r := range c.DietaryRestrictions {
			if isVegetarianLabel(r) {
				p.dietaryMatch = true
			}
		}
		if p.spice == "" {
			p.spice = strings.ToLower(c.SpiceTolerance)
		}
		p.avgOrderValue = c.AverageOrderValue
	}
	if p.requireVegetarian {
		p.dietaryMatch = true
	}
	return p
}

func isVegetarianLabel(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "vegetarian", "vegan", "chay":
		return true
	}
	return false
}

// preferenceScore returns false when the dish violates a hard dietary requirement.
func preferenceScore(d catalog.Dish, p prefs) (float64, bool) {
	if p.requireVegetarian && !d.IsVegetarian {
		return 0, false
	}
	score := 0.5
	if p.favorites[strings.ToLower(d.Category)] {
		score += 0.3
	}
	if p.dietaryMatch && d.IsVegetarian {
		score += 0.4
	}
	switch p.spice {
	case catalog.SpiceHigh:
		if d.IsSpicy {
			score += 0.3
		} else {
			score -= 0.3
		}
	case catalog.SpiceMedium:
		if d.IsSpicy {
			score += 0.2
		}
	case catalog.SpiceLow:
		if d.IsSpicy {
			score -= 0.5
		} else {
			score += 0.2
		}
	}
	return clamp01(score), true
}

func ratingScore(d catalog.Dish) float64 {
	return clamp01(d.Rating / 5)
}

func popularityScore(d catalog.Dish) float64 {
	var score float64
	if d.IsFeatured {
		score += 0.4
	}
	switch {
	case d.ReviewCount >= 50:
		score += 0.3
	case d.ReviewCount >= 20:
		score += 0.2
	case d.ReviewCount >= 10:
		score += 0.1
	}
	switch {
	case d.Rating >= 4.5:
		score += 0.3
	case d.Rating >= 4.0:
		score += 0.2
	}
	return clamp01(score)
}

// priceScore returns false when the dish is over the explicit budget.
func priceScore(d catalog.Dish, p prefs) (float64, bool) {
	if p.maxPrice != nil && d.Price > *p.maxPrice {
		return 0, false
	}
	score := 0.5
	if p.avgOrderValue > 0 {
		ratio := d.Price / p.avgOrderValue
		switch {
		case ratio < 0.3:
			score += 0.3
		case ratio <= 0.5:
			score += 0.5
		case ratio <= 0.7:
			score += 0.2
		}
	}
	return clamp01(score), true
}

var (
	warmKeywords       = []string{"warm", "soup", "pho", "phở", "hot pot", "hotpot", "lẩu", "stew", "broth", "curry", "noodle", "ramen", "bún", "cháo", "porridge"}
	refreshingKeywords = []string{"refreshing", "salad", "smoothie", "juice", "iced", "ice", "cold", "fresh", "fruit", "tea", "chè", "gỏi", "sinh tố"}
	comfortKeywords    = []string{"soup", "pho", "phở", "hot pot", "hotpot", "lẩu", "porridge", "congee", "cháo", "fried", "noodle", "stew"}
)

type weatherKind int

const (
	weatherMild weatherKind = iota
	weatherCold
	weatherHot
	weatherRain
)

func classifyWeather(w *weather.Conditions) weatherKind {
	switch {
	case w.IsRainy():
		return weatherRain
	case w.IsCold():
		return weatherCold
	case w.IsHot():
		return weatherHot
	default:
		return weatherMild
	}
}

func weatherScore(d catalog.Dish, w *weather.Conditions) float64 {
	var keywords []string
	switch classifyWeather(w) {
	case weatherCold:
		keywords = warmKeywords
	case weatherHot:
		keywords = refreshingKeywords
	case weatherRain:
		keywords = comfortKeywords
	default:
		return 0.5
	}
	if dishMentions(d, keywords) {
		return 1.0
	}
	return 0.2
}

// dishMentions matches keywords at word starts so "tea" does not hit "steak".
func dishMentions(d catalog.Dish, keywords []string) bool {
	text := " " + normalizeWords(d.Name+" "+d.Category+" "+d.Description) + " "
	for _, kw := range keywords {
		if strings.Contains(text, " "+kw) {
			return true
		}
	}
	return false
}

func normalizeWords(s string) string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(fields, " ")
}

func emptyMessage(req Request, p prefs) string {
	if len(req.Dishes) == 0 {
		return "No dishes are available on the menu right now"
	}
	var filters []string
	if p.requireVegetarian {
		filters = append(filters, "vegetarian")
	}
	if p.maxPrice != nil {
		filters = append(filters, "under "+FormatPrice(*p.maxPrice))
	}
	if len(filters) == 0 {
		return "No available dishes right now"
	}
	return fmt.Sprintf("No dishes match your preferences (%s)", strings.Join(filters, ", "))
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

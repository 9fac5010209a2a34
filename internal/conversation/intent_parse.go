package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/wolfman30/restaurant-chatbot/internal/catalog"
)

var (
	// ErrNoJSONObject indicates the model reply did not contain a balanced JSON object.
	ErrNoJSONObject = errors.New("conversation: no json object in model output")
	// ErrUnknownIntent indicates the model returned a label outside the closed set.
	ErrUnknownIntent = errors.New("conversation: unknown intent label")
)

type rawClassification struct {
	Intent     string                     `json:"intent"`
	Confidence *float64                   `json:"confidence"`
	Entities   map[string]json.RawMessage `json:"entities"`
}

// ParseClassification is the single boundary between model text and a typed
// IntentResult.
func ParseClassification(text string) (IntentResult, error) {
	obj, ok := firstJSONObject(text)
	if !ok {
		return IntentResult{}, ErrNoJSONObject
	}
	var raw rawClassification
	if err := json.Unmarshal([]byte(obj), &raw); err != nil {
		return IntentResult{}, fmt.Errorf("conversation: decode classification: %w", err)
	}
	intent, ok := ParseIntent(raw.Intent)
	if !ok {
		return IntentResult{}, fmt.Errorf("%w: %q", ErrUnknownIntent, raw.Intent)
	}

	confidence := 0.8
	if raw.Confidence != nil {
		confidence = clamp01(*raw.Confidence)
	}
	return IntentResult{
		Intent:      intent,
		Confidence:  confidence,
		Entities:    entitiesFromRaw(raw.Entities),
		RawResponse: text,
	}, nil
}

// firstJSONObject returns the first balanced {...} block, skipping braces
// inside string literals.
func firstJSONObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	for start >= 0 {
		depth := 0
		inString := false
		escaped := false
		for i := start; i < len(text); i++ {
			ch := text[i]
			if inString {
				switch {
				case escaped:
					escaped = false
				case ch == '\\':
					escaped = true
				case ch == '"':
					inString = false
				}
				continue
			}
			switch ch {
			case '"':
				inString = true
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					candidate := text[start : i+1]
					if json.Valid([]byte(candidate)) {
						return candidate, true
					}
					i = len(text)
				}
			}
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

func entitiesFromRaw(raw map[string]json.RawMessage) Entities {
	var e Entities
	for key, value := range raw {
		name := strings.ToLower(strings.TrimSuffix(strings.TrimSpace(key), "[]"))
		switch name {
		case "dish_name":
			e.DishName = rawString(value)
		case "price":
			e.Price = rawNumber(value)
		case "quantity":
			if n := rawNumber(value); n != nil && *n > 0 {
				e.Quantity = intPtr(int(*n))
			}
		case "dietary":
			e.Dietary = rawStrings(value)
		case "spice_tolerance":
			e.SpiceTolerance = normalizeSpice(rawString(value))
		case "meal_time":
			e.MealTime = strings.ToLower(rawString(value))
		case "order_id":
			e.OrderID = rawString(value)
		case "price_min":
			e.PriceMin = rawNumber(value)
		case "price_max":
			e.PriceMax = rawNumber(value)
		case "tags":
			e.Tags = rawStrings(value)
		default:
			if s := rawString(value); s != "" {
				if e.Extra == nil {
					e.Extra = map[string]string{}
				}
				e.Extra[name] = s
			}
		}
	}
	return e
}

func rawString(v json.RawMessage) string {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		s = strings.TrimSpace(s)
		if strings.EqualFold(s, "null") || strings.EqualFold(s, "none") {
			return ""
		}
		return s
	}
	var n json.Number
	if err := json.Unmarshal(v, &n); err == nil {
		return n.String()
	}
	return ""
}

func rawStrings(v json.RawMessage) []string {
	var list []string
	if err := json.Unmarshal(v, &list); err == nil {
		return unionStrings(nil, list)
	}
	if s := rawString(v); s != "" {
		return unionStrings(nil, strings.Split(s, ","))
	}
	return nil
}

func rawNumber(v json.RawMessage) *float64 {
	var f float64
	if err := json.Unmarshal(v, &f); err == nil {
		if f <= 0 {
			return nil
		}
		return floatPtr(f)
	}
	s := rawString(v)
	if s == "" {
		return nil
	}
	cleaned := strings.NewReplacer(",", "", ".", "", " ", "").Replace(strings.ToLower(s))
	mult := 1.0
	if strings.HasSuffix(cleaned, "k") {
		mult = 1000
		cleaned = strings.TrimSuffix(cleaned, "k")
	}
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || f <= 0 {
		return nil
	}
	return floatPtr(f * mult)
}

func normalizeSpice(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high", "hot", "very spicy", "spicy":
		return catalog.SpiceHigh
	case "medium", "moderate", "mild-medium":
		return catalog.SpiceMedium
	case "low", "mild", "none", "no spice":
		return catalog.SpiceLow
	default:
		return ""
	}
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

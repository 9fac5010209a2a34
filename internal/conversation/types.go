package conversation

import (
	"strings"
	"time"
)

// Intent is the classified purpose of a user message.
type Intent string

const (
	IntentFAQHours       Intent = "faq_hours"
	IntentFAQLocation    Intent = "faq_location"
	IntentFAQDelivery    Intent = "faq_delivery"
	IntentFAQContact     Intent = "faq_contact"
	IntentFAQMenu        Intent = "faq_menu"
	IntentRecommendation Intent = "recommendation"
	IntentOrderStatus    Intent = "order_status"
	IntentOrderHelp      Intent = "order_help"
	IntentGeneral        Intent = "general"
	IntentEscalation     Intent = "escalation"
)

// AllIntents is the closed set the classifier may return.
var AllIntents = []Intent{
	IntentFAQHours, IntentFAQLocation, IntentFAQDelivery, IntentFAQContact, IntentFAQMenu,
	IntentRecommendation, IntentOrderStatus, IntentOrderHelp, IntentGeneral, IntentEscalation,
}

// ParseIntent validates a raw label against the closed intent set.
func ParseIntent(raw string) (Intent, bool) {
	label := Intent(strings.ToLower(strings.TrimSpace(raw)))
	for _, in := range AllIntents {
		if in == label {
			return in, true
		}
	}
	return "", false
}

// IsFAQ reports the faq_* family.
func (i Intent) IsFAQ() bool { return strings.HasPrefix(string(i), "faq_") }

// IsOrder reports order_status and order_help.
func (i Intent) IsOrder() bool { return i == IntentOrderStatus || i == IntentOrderHelp }

// State is the coarse dialogue state of a conversation.
type State string

const (
	StateGreeting   State = "greeting"
	StateBrowsing   State = "browsing"
	StateOrdering   State = "ordering"
	StateEscalation State = "escalation"
)

// NextState is total over (state, intent). Ordering is sticky against
// recommendations and general intents never move state. Leaving escalation is
// only reached once staff have released the room, so any other intent resumes
// browsing or ordering.
func NextState(current State, intent Intent) State {
	if current == "" {
		current = StateGreeting
	}
	if intent == IntentEscalation {
		return StateEscalation
	}
	switch {
	case intent.IsOrder():
		return StateOrdering
	case current == StateEscalation:
		return StateBrowsing
	case intent == IntentRecommendation:
		if current == StateOrdering {
			return current
		}
		return StateBrowsing
	case intent.IsFAQ():
		if current == StateGreeting {
			return StateBrowsing
		}
		return current
	default:
		return current
	}
}

// Entities are facts extracted from user messages. They persist across turns.
type Entities struct {
	DishName       string            `json:"dish_name,omitempty"`
	Price          *float64          `json:"price,omitempty"`
	Quantity       *int              `json:"quantity,omitempty"`
	Dietary        []string          `json:"dietary,omitempty"`
	SpiceTolerance string            `json:"spice_tolerance,omitempty"`
	MealTime       string            `json:"meal_time,omitempty"`
	OrderID        string            `json:"order_id,omitempty"`
	PriceMin       *float64          `json:"price_min,omitempty"`
	PriceMax       *float64          `json:"price_max,omitempty"`
	Tags           []string          `json:"tags,omitempty"`
	Method         string            `json:"method,omitempty"`
	Extra          map[string]string `json:"extra,omitempty"`
}

// Merge returns e updated with newer. List fields are unioned in first-seen
// order; scalar fields take newer's value when it is set.
func (e Entities) Merge(newer Entities) Entities {
	out := e
	out.Dietary = unionStrings(e.Dietary, newer.Dietary)
	out.Tags = unionStrings(e.Tags, newer.Tags)
	if newer.DishName != "" {
		out.DishName = newer.DishName
	}
	if newer.Price != nil {
		out.Price = newer.Price
	}
	if newer.Quantity != nil {
		out.Quantity = newer.Quantity
	}
	if newer.SpiceTolerance != "" {
		out.SpiceTolerance = newer.SpiceTolerance
	}
	if newer.MealTime != "" {
		out.MealTime = newer.MealTime
	}
	if newer.OrderID != "" {
		out.OrderID = newer.OrderID
	}
	if newer.PriceMin != nil {
		out.PriceMin = newer.PriceMin
	}
	if newer.PriceMax != nil {
		out.PriceMax = newer.PriceMax
	}
	if newer.Method != "" {
		out.Method = newer.Method
	}
	if len(e.Extra) > 0 || len(newer.Extra) > 0 {
		out.Extra = make(map[string]string, len(e.Extra)+len(newer.Extra))
		for k, v := range e.Extra {
			out.Extra[k] = v
		}
		for k, v := range newer.Extra {
			if v != "" {
				out.Extra[k] = v
			}
		}
	}
	return out
}

// IsZero reports whether no entity was extracted.
func (e Entities) IsZero() bool {
	return e.DishName == "" && e.Price == nil && e.Quantity == nil && len(e.Dietary) == 0 &&
		e.SpiceTolerance == "" && e.MealTime == "" && e.OrderID == "" && e.PriceMin == nil &&
		e.PriceMax == nil && len(e.Tags) == 0 && e.Method == "" && len(e.Extra) == 0
}

func unionStrings(a, b []string) []string {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, v := range list {
			v = strings.TrimSpace(v)
			key := strings.ToLower(v)
			if v == "" {
				continue
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

// Learned preference keys written by feedback.
const (
	PrefSpiceTolerance    = "spice_tolerance"
	PrefDietaryPreference = "dietary_preference"
	PrefFavoriteCategory  = "favorite_category"
)

// HistoryEntry is one message in the sliding conversation window.
type HistoryEntry struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Intent    Intent    `json:"intent,omitempty"`
}

// MaxHistory bounds the sliding window; the oldest entries are evicted first.
const MaxHistory = 15

// ConversationContext is the per (room, user) memory.
type ConversationContext struct {
	RoomID       string            `json:"room_id"`
	UserID       string            `json:"user_id"`
	State        State             `json:"state"`
	LastIntent   Intent            `json:"last_intent,omitempty"`
	Entities     Entities          `json:"entities"`
	Preferences  map[string]string `json:"preferences"`
	History      []HistoryEntry    `json:"history"`
	MessageCount int               `json:"message_count"`
	Version      int64             `json:"version"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

func newConversationContext(roomID, userID string, now time.Time) *ConversationContext {
	return &ConversationContext{
		RoomID:      roomID,
		UserID:      userID,
		State:       StateGreeting,
		Preferences: map[string]string{},
		History:     []HistoryEntry{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// appendHistory adds an entry and evicts the oldest beyond MaxHistory.
func (c *ConversationContext) appendHistory(entry HistoryEntry) {
	c.History = append(c.History, entry)
	if over := len(c.History) - MaxHistory; over > 0 {
		c.History = append([]HistoryEntry(nil), c.History[over:]...)
	}
}

// RecentHistory returns up to n most recent entries, oldest first.
func (c *ConversationContext) RecentHistory(n int) []HistoryEntry {
	if c == nil || n <= 0 {
		return nil
	}
	if len(c.History) <= n {
		return c.History
	}
	return c.History[len(c.History)-n:]
}

// IntentResult is the classifier output for one message.
type IntentResult struct {
	Intent      Intent   `json:"intent"`
	Confidence  float64  `json:"confidence"`
	Entities    Entities `json:"entities"`
	RawResponse string   `json:"raw_response,omitempty"`
}

func floatPtr(v float64) *float64 { return &v }

func intPtr(v int) *int { return &v }

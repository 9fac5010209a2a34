package conversation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/restaurant-chatbot/internal/catalog"
	"github.com/wolfman30/restaurant-chatbot/pkg/logging"
)

// stubChatter records calls and returns a canned reply.
type stubChatter struct {
	reply    string
	err      error
	calls    int
	messages []ChatMessage
}

func (s *stubChatter) Chat(_ context.Context, messages []ChatMessage, _ ...ChatOption) (string, error) {
	s.calls++
	s.messages = messages
	return s.reply, s.err
}

func TestIntentClassifier_EscalationKeywordSkipsLLM(t *testing.T) {
	llm := &stubChatter{reply: `{"intent":"general","confidence":0.9}`}
	c := NewIntentClassifier(llm, logging.Discard())

	result := c.Classify(context.Background(), "I want a refund for this order", nil)

	assert.Equal(t, IntentEscalation, result.Intent)
	assert.Equal(t, 1.0, result.Confidence)
	assert.Equal(t, MethodKeyword, result.Entities.Method)
	assert.Zero(t, llm.calls)
}

func TestIntentClassifier_KeywordsMatchWholeWords(t *testing.T) {
	llm := &stubChatter{reply: `{"intent":"recommendation","confidence":0.8}`}
	c := NewIntentClassifier(llm, logging.Discard())

	result := c.Classify(context.Background(), "Is the pursuer sauce spicy?", nil)

	assert.Equal(t, IntentRecommendation, result.Intent)
	assert.Equal(t, 1, llm.calls)
}

func TestIntentClassifier_UsesLLMWithRecentHistory(t *testing.T) {
	llm := &stubChatter{reply: "Sure! " + `{"intent": "recommendation", "confidence": 0.92, "entities": {"dietary[]": ["vegetarian"], "spice_tolerance": "high"}}` + " hope that helps"}
	c := NewIntentClassifier(llm, logging.Discard())

	history := make([]HistoryEntry, 0, 8)
	for i := 0; i < 7; i++ {
		history = append(history, HistoryEntry{Role: ChatRoleUser, Content: "earlier"})
	}
	history = append(history, HistoryEntry{Role: ChatRoleSystem, Content: "ignored"})

	result := c.Classify(context.Background(), "something vegetarian and spicy under 100k", history)

	assert.Equal(t, IntentRecommendation, result.Intent)
	assert.InDelta(t, 0.92, result.Confidence, 1e-9)
	assert.Equal(t, []string{"vegetarian"}, result.Entities.Dietary)
	assert.Equal(t, catalog.SpiceHigh, result.Entities.SpiceTolerance)
	require.NotNil(t, result.Entities.PriceMax)
	assert.Equal(t, 100000.0, *result.Entities.PriceMax)
	assert.Equal(t, MethodLLM, result.Entities.Method)
	// Four user turns from the last five history entries plus the message.
	assert.Len(t, llm.messages, 5)
}

func TestIntentClassifier_FallsBackToRules(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		err   error
	}{
		{"client error", "", errors.New("llm down")},
		{"no json", "I think they want hours", nil},
		{"unknown intent", `{"intent":"book_table","confidence":0.9}`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewIntentClassifier(&stubChatter{reply: tt.reply, err: tt.err}, logging.Discard())
			result := c.Classify(context.Background(), "What time do you open tomorrow?", nil)
			assert.Equal(t, IntentFAQHours, result.Intent)
			assert.Equal(t, MethodRuleBasedFallback, result.Entities.Method)
			assert.GreaterOrEqual(t, result.Confidence, 0.5)
			assert.LessOrEqual(t, result.Confidence, 0.7)
		})
	}
}

func TestClassifyByRules(t *testing.T) {
	tests := []struct {
		message string
		intent  Intent
	}{
		{"where is my order 12345?", IntentOrderStatus},
		{"can you recommend something?", IntentRecommendation},
		{"what are your opening hours", IntentFAQHours},
		{"what's your address", IntentFAQLocation},
		{"do you deliver to district 3", IntentFAQDelivery},
		{"what's your phone number", IntentFAQContact},
		{"show me the menu", IntentFAQMenu},
		{"I want something spicy under 100k", IntentRecommendation},
		{"hello there", IntentGeneral},
		{"", IntentGeneral},
	}
	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			result := ClassifyByRules(tt.message)
			assert.Equal(t, tt.intent, result.Intent)
			assert.GreaterOrEqual(t, result.Confidence, 0.5)
			assert.LessOrEqual(t, result.Confidence, 0.7)
			assert.Equal(t, MethodRuleBasedFallback, result.Entities.Method)
		})
	}
}

func TestClassifyByRules_Entities(t *testing.T) {
	result := ClassifyByRules("vegan lunch, not spicy please")
	assert.Equal(t, "lunch", result.Entities.MealTime)
	assert.Equal(t, []string{"vegan"}, result.Entities.Dietary)
	assert.Equal(t, catalog.SpiceLow, result.Entities.SpiceTolerance)

	result = ClassifyByRules("where is my order #A1234")
	assert.Equal(t, "A1234", result.Entities.OrderID)

	result = ClassifyByRules("I love spicy food")
	assert.Equal(t, catalog.SpiceHigh, result.Entities.SpiceTolerance)
}

func TestShouldEscalate(t *testing.T) {
	assert.True(t, ShouldEscalate(IntentResult{Intent: IntentEscalation}, "anything"))
	assert.True(t, ShouldEscalate(IntentResult{Intent: IntentGeneral, Confidence: 0.9}, "this is ridiculous"))
	assert.False(t, ShouldEscalate(IntentResult{Intent: IntentGeneral, Confidence: 0.1}, "hmm"))
}

func TestExtractPriceRange(t *testing.T) {
	tests := []struct {
		message  string
		min, max *float64
	}{
		{"under 100k", nil, floatPtr(100000)},
		{"something over 50k", floatPtr(50000), nil},
		{"between 50k and 150k", floatPtr(50000), floatPtr(150000)},
		{"50k-100k please", floatPtr(50000), floatPtr(100000)},
		{"between 50 and 150k", floatPtr(50000), floatPtr(150000)},
		{"around 80k", floatPtr(64000), floatPtr(96000)},
		{"less than 120,000đ", nil, floatPtr(120000)},
		{"table for 2", nil, nil},
		{"recommend 2 kebabs", nil, nil},
		{"3 kinds of noodles", nil, nil},
		{"4 kids and 2 adults", nil, nil},
		{"2 đĩa cơm", nil, nil},
		{"under 2 kids meals", nil, nil},
		{"120 nghìn", floatPtr(96000), floatPtr(144000)},
		{"2000 vnd", floatPtr(1600), floatPtr(2400)},
		{"no budget", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			got := ExtractPriceRange(tt.message)
			assert.Equal(t, tt.min, got.Min)
			assert.Equal(t, tt.max, got.Max)
		})
	}
}

func TestParseClassification(t *testing.T) {
	result, err := ParseClassification(`Here you go: {"intent":"order_status","confidence":1.7,"entities":{"order_id":"A77","dish_name":"noodles {large}","quantity":"2","tags[]":["late","Late"],"party":"4"}} done`)
	require.NoError(t, err)
	assert.Equal(t, IntentOrderStatus, result.Intent)
	assert.Equal(t, 1.0, result.Confidence)
	assert.Equal(t, "A77", result.Entities.OrderID)
	assert.Equal(t, "noodles {large}", result.Entities.DishName)
	require.NotNil(t, result.Entities.Quantity)
	assert.Equal(t, 2, *result.Entities.Quantity)
	assert.Equal(t, []string{"late"}, result.Entities.Tags)
	assert.Equal(t, "4", result.Entities.Extra["party"])

	_, err = ParseClassification("no json here")
	assert.ErrorIs(t, err, ErrNoJSONObject)

	_, err = ParseClassification(`{"intent":"dance"}`)
	assert.ErrorIs(t, err, ErrUnknownIntent)

	_, err = ParseClassification(`{"note": "a } brace", "x": 1}`)
	assert.ErrorIs(t, err, ErrUnknownIntent)
}

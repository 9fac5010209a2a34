package conversation

import (
	"context"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/wolfman30/restaurant-chatbot/internal/support"
	"github.com/wolfman30/restaurant-chatbot/pkg/logging"
)

// Reasons that count toward the two-trigger rule.
const (
	ReasonLowConfidence    = "Low confidence"
	ReasonRepeatedQuestion = "Repeated question"
	ReasonLongConversation = "Long conversation"
	ReasonNegativeFeedback = "Negative feedback"
	ReasonUnclearRequest   = "Unclear request"
)

const (
	lowConfidenceThreshold     = 0.4
	unclearConfidenceThreshold = 0.6
	longConversationMessages   = 15
	repeatWindow               = 6
	repeatThreshold            = 3
	nearDuplicateJaccard       = 0.8
	negativeFeedbackWindow     = time.Hour
	negativeFeedbackThreshold  = 2
	requiredTriggers           = 2
)

var (
	frustrationRe  = regexp.MustCompile(`(?i)\b(hate|terrible|awful|worst|horrible|disgusting|ridiculous|unacceptable|useless|pathetic|angry|furious|fed up|waste of (my )?time|stupid|this is a joke)\b`)
	humanRequestRe = regexp.MustCompile(`(?i)(` +
		`\b(talk|speak|chat)\s+(to|with)\s+(a|an|the|your|some)?\s*(real|live|actual)?\s*(human|person|manager|staff|agent|representative|someone|somebody)\b` +
		`|\b(connect|transfer|put)\s+me\s+(through\s+)?(to|with)\s+(a|an|the|your)?\s*(human|person|manager|staff|agent|representative|someone)\b` +
		`|\bget\s+me\s+(a|an|the|your)?\s*(real\s+)?(human|person|manager|agent|representative)\b` +
		`|\b(real person|live agent|human agent|actual human|customer service)\b)`)
)

// ContainsFrustration reports whether the message carries a frustration keyword.
func ContainsFrustration(message string) bool { return frustrationRe.MatchString(message) }

// RequestsHuman reports explicit requests to talk to staff.
func RequestsHuman(message string) bool { return humanRequestRe.MatchString(message) }

// NegativeFeedbackCounter counts low ratings for a room in a trailing window.
type NegativeFeedbackCounter interface {
	CountNegativeRatings(ctx context.Context, roomID string, window time.Duration) (int, error)
}

// Turn is the input to one escalation decision.
type Turn struct {
	RoomID  string
	Message string
	Result  IntentResult
	// Context is the conversation as loaded before this turn is recorded.
	Context *ConversationContext
}

// EscalationDecision is consumed once per turn and never persisted.
type EscalationDecision struct {
	ShouldEscalate bool
	Reason         string
	Reasons        []string
	Context        map[string]any
}

// EscalationDetector applies the hand-off policy: two independent triggers,
// or one of the override triggers.
type EscalationDetector struct {
	feedback NegativeFeedbackCounter
	logger   *logging.Logger
}

// NewEscalationDetector returns a detector. feedback may be nil, in which case
// the negative feedback trigger never fires.
func NewEscalationDetector(feedback NegativeFeedbackCounter, logger *logging.Logger) *EscalationDetector {
	if logger == nil {
		logger = logging.Default()
	}
	return &EscalationDetector{feedback: feedback, logger: logger}
}

func (d *EscalationDetector) Evaluate(ctx context.Context, t Turn) EscalationDecision {
	messageCount := 0
	if t.Context != nil {
		messageCount = t.Context.MessageCount
	}
	decisionCtx := map[string]any{
		"confidence":    t.Result.Confidence,
		"message_count": messageCount,
	}

	switch {
	case RequestsHuman(t.Message):
		return override(support.ReasonHumanRequested, decisionCtx)
	case ContainsFrustration(t.Message):
		return override(support.ReasonFrustrated, decisionCtx)
	case t.Result.Intent == IntentEscalation:
		return override(support.ReasonKeyword, decisionCtx)
	}

	var reasons []string
	if t.Result.Confidence < lowConfidenceThreshold {
		reasons = append(reasons, ReasonLowConfidence)
	}
	if t.Context != nil && countNearDuplicates(t.Message, t.Context.RecentHistory(repeatWindow)) >= repeatThreshold {
		reasons = append(reasons, ReasonRepeatedQuestion)
	}
	if messageCount >= longConversationMessages {
		reasons = append(reasons, ReasonLongConversation)
	}
	if d.feedback != nil && t.RoomID != "" {
		n, err := d.feedback.CountNegativeRatings(ctx, t.RoomID, negativeFeedbackWindow)
		if err != nil {
			d.logger.Warn("negative feedback lookup failed", "room_id", t.RoomID, "error", err)
		} else if n >= negativeFeedbackThreshold {
			reasons = append(reasons, ReasonNegativeFeedback)
		}
	}
	if t.Result.Intent == IntentGeneral && t.Result.Confidence < unclearConfidenceThreshold {
		reasons = append(reasons, ReasonUnclearRequest)
	}

	decisionCtx["triggers"] = reasons
	if len(reasons) < requiredTriggers {
		return EscalationDecision{Reasons: reasons, Context: decisionCtx}
	}
	return EscalationDecision{
		ShouldEscalate: true,
		Reason:         strings.Join(reasons, "; "),
		Reasons:        reasons,
		Context:        decisionCtx,
	}
}

func override(reason string, decisionCtx map[string]any) EscalationDecision {
	decisionCtx["triggers"] = []string{reason}
	return EscalationDecision{
		ShouldEscalate: true,
		Reason:         reason,
		Reasons:        []string{reason},
		Context:        decisionCtx,
	}
}

// countNearDuplicates counts the current message plus the user messages in
// history that match it after normalization or by token overlap.
func countNearDuplicates(message string, history []HistoryEntry) int {
	current := tokenize(message)
	if len(current) == 0 {
		return 0
	}
	count := 1
	for _, h := range history {
		if h.Role != ChatRoleUser {
			continue
		}
		if nearDuplicate(current, tokenize(h.Content)) {
			count++
		}
	}
	return count
}

func nearDuplicate(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	if strings.Join(a, " ") == strings.Join(b, " ") {
		return true
	}
	setA := make(map[string]struct{}, len(a))
	for _, w := range a {
		setA[w] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	inter := 0
	for _, w := range b {
		if _, dup := setB[w]; dup {
			continue
		}
		setB[w] = struct{}{}
		if _, ok := setA[w]; ok {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	return union > 0 && float64(inter)/float64(union) >= nearDuplicateJaccard
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

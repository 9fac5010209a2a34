package conversation

import (
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/wolfman30/restaurant-chatbot/internal/catalog"
	"github.com/wolfman30/restaurant-chatbot/internal/recommendation"
)

// HandoffMessage is returned whenever a conversation is handed to staff.
const HandoffMessage = "I'm connecting you with a member of our staff who can help with this right away. Please stay in this chat, someone will reply shortly."

// WaitingForStaffMessage is returned while a room is already waiting for staff.
const WaitingForStaffMessage = "A member of our staff has already been notified and will join this chat shortly. Thanks for your patience!"

var fallbackGreetings = []string{
	"Hi there! I can help you explore the menu, find a dish you'll love, or answer questions about the restaurant. What would you like?",
	"Hello! Looking for something tasty? Ask me for a recommendation, our opening hours, or delivery details.",
	"Welcome! I'm here to help with menu questions, recommendations and your orders. How can I help today?",
}

// fallbackGreeting picks a stable greeting for the message.
func fallbackGreeting(message string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(message))
	return fallbackGreetings[h.Sum32()%uint32(len(fallbackGreetings))]
}

func restaurantName(r *catalog.RestaurantContext) string {
	if r == nil || strings.TrimSpace(r.Name) == "" {
		return "our restaurant"
	}
	return r.Name
}

func contactHint(r *catalog.RestaurantContext) string {
	if r != nil && r.Phone != "" {
		return fmt.Sprintf(" You can also call us at %s.", r.Phone)
	}
	return ""
}

// FAQResponse answers the faq_* intents from restaurant and menu data.
func FAQResponse(intent Intent, r *catalog.RestaurantContext, menu *catalog.MenuSummary) string {
	name := restaurantName(r)
	switch intent {
	case IntentFAQHours:
		if r == nil || r.Hours == "" {
			return "I don't have our opening hours on hand right now." + contactHint(r)
		}
		return fmt.Sprintf("%s is open %s.", name, r.Hours)

	case IntentFAQLocation:
		if r == nil || r.Address == "" {
			return "I don't have the address details available right now." + contactHint(r)
		}
		return fmt.Sprintf("You can find %s at %s.", name, r.Address)

	case IntentFAQDelivery:
		if !r.OffersDelivery() {
			return fmt.Sprintf("Sorry, %s doesn't offer delivery at the moment, but you're welcome to order for pickup.", name)
		}
		fee := "Delivery is free."
		if r.DeliveryFee > 0 {
			fee = "The delivery fee is " + recommendation.FormatPrice(r.DeliveryFee) + "."
		}
		return fmt.Sprintf("Yes, %s delivers within %.0f km. %s", name, r.DeliveryRadiusKm, fee)

	case IntentFAQContact:
		if r == nil || (r.Phone == "" && r.Email == "") {
			return "I don't have contact details on hand, but I'm happy to help right here."
		}
		var parts []string
		if r.Phone != "" {
			parts = append(parts, "by phone at "+r.Phone)
		}
		if r.Email != "" {
			parts = append(parts, "by email at "+r.Email)
		}
		return fmt.Sprintf("You can reach %s %s.", name, strings.Join(parts, " or "))

	case IntentFAQMenu:
		if menu == nil || menu.TotalItems == 0 {
			return "I can't load the menu right now, but tell me what you're in the mood for and I'll do my best to help."
		}
		var sb strings.Builder
		fmt.Fprintf(&sb, "Our menu has %d dishes", menu.TotalItems)
		if len(menu.Categories) > 0 {
			fmt.Fprintf(&sb, " across %s", strings.Join(menu.Categories, ", "))
		}
		sb.WriteString(".")
		if len(menu.FeaturedItems) > 0 {
			fmt.Fprintf(&sb, " Featured right now: %s.", strings.Join(menu.FeaturedItems, ", "))
		}
		if menu.MaxPrice > 0 {
			fmt.Fprintf(&sb, " Prices range from %s to %s.", recommendation.FormatPrice(menu.MinPrice), recommendation.FormatPrice(menu.MaxPrice))
		}
		return sb.String()
	}
	return fallbackGreeting(string(intent))
}

// OrderResponse answers order_status and order_help.
func OrderResponse(intent Intent, e Entities) string {
	if intent == IntentOrderStatus {
		if e.OrderID == "" {
			return "I can check on that. Could you share your order number? You'll find it in your order confirmation."
		}
		return fmt.Sprintf("Thanks! I've noted order #%s. You can follow its progress on the order page, and if it's running late just tell me and I'll get our staff involved.", e.OrderID)
	}
	if e.OrderID != "" {
		return fmt.Sprintf("Happy to help with order #%s. Do you want to change items, update the delivery details, or cancel it?", e.OrderID)
	}
	return "Happy to help with your order! You can add dishes from the menu, and I can suggest something if you're not sure. Do you need help placing a new order or changing an existing one?"
}

// EmptyRecommendationResponse offers to relax the filters.
func EmptyRecommendationResponse(diagnostic string) string {
	msg := "I couldn't find a dish that matches everything you asked for."
	if diagnostic != "" {
		msg = diagnostic + "."
	}
	return msg + " Would you like me to relax some filters, for example raise the budget or drop a dietary filter?"
}

// RenderRecommendations renders numbered dish cards under intro.
func RenderRecommendations(intro string, result recommendation.Result) string {
	var sb strings.Builder
	sb.WriteString(intro)
	sb.WriteString("\n")
	for i, d := range result.Dishes {
		fmt.Fprintf(&sb, "\n%d. %s - %s", i+1, d.Name, recommendation.FormatPrice(d.Price))
		if i < len(result.Reasons) && result.Reasons[i] != "" {
			fmt.Fprintf(&sb, "\n   %s", result.Reasons[i])
		}
	}
	sb.WriteString("\n\nWould you like more details on any of these?")
	return sb.String()
}

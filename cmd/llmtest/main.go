// Command llmtest sends one short restaurant conversation through every
// configured provider and the retrying language model.
package main

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/wolfman30/restaurant-chatbot/internal/app/bootstrap"
	"github.com/wolfman30/restaurant-chatbot/internal/catalog"
	appconfig "github.com/wolfman30/restaurant-chatbot/internal/config"
	"github.com/wolfman30/restaurant-chatbot/internal/conversation"
	"github.com/wolfman30/restaurant-chatbot/pkg/logging"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	messages := []conversation.ChatMessage{
		{Role: conversation.ChatRoleUser, Content: "Hi! What's good here for lunch?"},
		{Role: conversation.ChatRoleAssistant, Content: "Our Bún Chả is a lunchtime favourite. Do you like grilled pork?"},
		{Role: conversation.ChatRoleUser, Content: "I don't eat pork. Anything vegetarian and not too spicy?"},
	}
	req := conversation.LLMRequest{
		System:      []string{conversation.BuildSystemPrompt(conversation.PromptContext{Restaurant: demoRestaurant(ctx), Now: time.Now()})},
		Messages:    messages,
		MaxTokens:   200,
		Temperature: 0.7,
	}

	rule := strings.Repeat("=", 60)
	fmt.Println(rule)
	fmt.Println("LLM Provider Test")
	fmt.Println(rule)

	for i, provider := range []string{"openai", "bedrock", "gemini"} {
		fmt.Printf("\n[%d] %s\n", i+1, provider)
		client, err := bootstrap.BuildLLMClient(ctx, provider, cfg)
		if err != nil {
			fmt.Printf("    skipped: %v\n", err)
			continue
		}
		start := time.Now()
		resp, err := client.Complete(ctx, req)
		if err != nil {
			fmt.Printf("    error (%s): %v\n", conversation.ClassifyError(err), err)
			continue
		}
		fmt.Printf("    response (%v): %s\n", time.Since(start).Round(time.Millisecond), resp.Text)
		fmt.Printf("    tokens: in=%d, out=%d\n", resp.Usage.InputTokens, resp.Usage.OutputTokens)
	}

	fmt.Println("\n" + rule)
	fmt.Printf("Retrying model (primary=%s, fallback=%q)\n", cfg.LLMProvider, cfg.FallbackLLMProvider)
	fmt.Println(rule)
	model := bootstrap.BuildLanguageModel(ctx, cfg, logger, nil)
	if model == nil {
		fmt.Println("no language model configured")
		return
	}
	text, err := model.Chat(ctx, messages, conversation.WithSystemPrompt(req.System[0]))
	if err != nil {
		fmt.Printf("chat failed: %v\n", err)
		return
	}
	fmt.Println(text)

	classifier := conversation.NewIntentClassifier(model, logger)
	result := classifier.Classify(ctx, messages[2].Content, nil)
	fmt.Printf("\nintent=%s confidence=%.2f method=%s\n", result.Intent, result.Confidence, result.Entities.Method)
}

func demoRestaurant(ctx context.Context) *catalog.RestaurantContext {
	r, err := bootstrap.DemoCatalog().RestaurantContext(ctx, bootstrap.DemoRestaurantID)
	if err != nil {
		return nil
	}
	return r
}

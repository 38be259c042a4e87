package dialogue

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/openai/openai-go"

	"github.com/propfin/loanagent/internal/genai"
	"github.com/propfin/loanagent/internal/models"
	"github.com/propfin/loanagent/internal/prompts"
)

// History bounds: how much prior conversation the generator sees.
const (
	maxHistoryMessages = 30
	maxHistoryChars    = 6000
)

// Generator produces the agent's replies from the state prompt, the profile
// summary, and a bounded slice of conversation history.
type Generator struct {
	client  genai.ClientInterface
	catalog *prompts.Catalog
}

// NewGenerator returns a Generator backed by the shared generation client.
func NewGenerator(client genai.ClientInterface, catalog *prompts.Catalog) *Generator {
	return &Generator{client: client, catalog: catalog}
}

// Reply generates the response for one turn. When the backend fails after
// its retries, the state-appropriate canned fallback is returned with
// fellBack=true; the caller keeps the state unchanged. Reply never returns
// an empty string.
func (g *Generator) Reply(ctx context.Context, state models.StateType, langCode string, p *models.CustomerProfile, history []models.Utterance, message string) (reply string, fellBack bool) {
	system := prompts.Render(g.catalog.StatePrompt(state, langCode), map[string]string{
		"history": FormatHistory(history),
		"profile": p.Summary(),
		"message": message,
	})
	out, err := g.client.GenerateReply(ctx, system, historyMessages(history), message)
	if err != nil {
		slog.Error("Generator.Reply: generation failed, using fallback", "phone", p.Phone, "state", state, "error", err)
		return g.catalog.Fallback(state, langCode), true
	}
	out = postProcess(out)
	if out == "" {
		slog.Warn("Generator.Reply: empty generation, using fallback", "phone", p.Phone, "state", state)
		return g.catalog.Fallback(state, langCode), true
	}
	return out, false
}

// FollowUpMessage generates a re-engagement message for a due follow-up.
func (g *Generator) FollowUpMessage(ctx context.Context, langCode string, p *models.CustomerProfile) (string, bool) {
	system := prompts.Render(g.catalog.FollowUpPrompt(langCode), map[string]string{
		"state":   string(p.State),
		"profile": p.Summary(),
	})
	out, err := g.client.GenerateReply(ctx, system, nil, "Write the follow-up message now.")
	if err != nil {
		slog.Error("Generator.FollowUpMessage: generation failed, using fallback", "phone", p.Phone, "error", err)
		return g.catalog.Fallback(models.StateFollowUpScheduling, langCode), true
	}
	out = postProcess(out)
	if out == "" {
		return g.catalog.Fallback(models.StateFollowUpScheduling, langCode), true
	}
	return out, false
}

// historyMessages converts recent utterances into chat messages, most recent
// maxHistoryMessages, capped at maxHistoryChars total.
func historyMessages(history []models.Utterance) []openai.ChatCompletionMessageParamUnion {
	if len(history) > maxHistoryMessages {
		history = history[len(history)-maxHistoryMessages:]
	}
	// Trim from the oldest side until the char budget fits.
	total := 0
	for _, u := range history {
		total += len(u.Body)
	}
	for len(history) > 0 && total > maxHistoryChars {
		total -= len(history[0].Body)
		history = history[1:]
	}
	var messages []openai.ChatCompletionMessageParamUnion
	for _, u := range history {
		if u.Type == models.MessageTypeSystem {
			continue
		}
		if u.Direction == models.DirectionInbound {
			messages = append(messages, openai.UserMessage(u.Body))
		} else {
			messages = append(messages, openai.AssistantMessage(u.Body))
		}
	}
	return messages
}

// FormatHistory renders utterances as plain text for prompt templates.
func FormatHistory(history []models.Utterance) string {
	if len(history) == 0 {
		return "No previous conversation."
	}
	if len(history) > maxHistoryMessages {
		history = history[len(history)-maxHistoryMessages:]
	}
	var b strings.Builder
	for _, u := range history {
		role := "Customer"
		if u.Direction == models.DirectionOutbound {
			role = "Agent"
		}
		fmt.Fprintf(&b, "%s: %s\n", role, u.Body)
	}
	return strings.TrimRight(b.String(), "\n")
}

// postProcess trims whitespace, strips leftover markdown emphasis, and caps
// the reply at MaxReplyLength runes on a sentence boundary where possible.
func postProcess(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "**", "")
	s = strings.ReplaceAll(s, "__", "")
	if utf8.RuneCountInString(s) <= models.MaxReplyLength {
		return s
	}
	runes := []rune(s)
	cut := string(runes[:models.MaxReplyLength])
	if idx := strings.LastIndexAny(cut, ".!?"); idx > models.MaxReplyLength/2 {
		return strings.TrimSpace(cut[:idx+1])
	}
	return strings.TrimSpace(cut)
}

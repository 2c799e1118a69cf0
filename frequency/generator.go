package frequency

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/RcityLucas/Prizm-Agent-sub001/ai/llm"
	"github.com/RcityLucas/Prizm-Agent-sub001/store"
)

// maxExpressionRunes caps the rendered output; overflow gets an ellipsis.
const maxExpressionRunes = 200

// styleTable maps (type, stage) to a style guide handed to the LLM. The
// defaultStyles row covers stages without a specific entry.
var styleTable = map[store.ExpressionType]map[store.RelationshipStage]string{
	store.ExpressionGreeting: {
		store.StageStranger:    "polite, brief, low-pressure",
		store.StageFamiliar:    "warm, relaxed",
		store.StageCloseFriend: "playful, familiar, informal",
	},
	store.ExpressionQuestion: {
		store.StageStranger:    "respectful, open-ended",
		store.StageFriend:      "curious, direct",
		store.StageCloseFriend: "teasing, direct",
	},
	store.ExpressionSuggestion: {
		store.StageStranger: "tentative, deferential",
		store.StageFriend:   "encouraging, concrete",
	},
	store.ExpressionReminder: {
		store.StageStranger: "courteous, factual",
		store.StageFriend:   "friendly, urgent when needed",
	},
	store.ExpressionObservation: {
		store.StageStranger: "neutral, observational",
		store.StageFriend:   "light, conversational",
	},
}

var defaultStyles = map[store.ExpressionType]string{
	store.ExpressionGreeting:    "friendly, concise",
	store.ExpressionQuestion:    "curious, considerate",
	store.ExpressionSuggestion:  "helpful, unpushy",
	store.ExpressionReminder:    "clear, considerate",
	store.ExpressionObservation: "calm, reflective",
}

// generatorFallbacks back the final render when the LLM is unavailable.
// Formal variants serve the early stages, casual the later ones.
var generatorFallbacks = map[store.ExpressionType]map[string]string{
	store.ExpressionGreeting: {
		"formal": "Hello, I hope your day is going well.",
		"casual": "Hey! Just checking in on you.",
	},
	store.ExpressionQuestion: {
		"formal": "May I ask how things have been progressing lately?",
		"casual": "So, how did it go?",
	},
	store.ExpressionSuggestion: {
		"formal": "Perhaps we could revisit our earlier topic when convenient.",
		"casual": "Want to pick up where we left off?",
	},
	store.ExpressionReminder: {
		"formal": "A gentle reminder: there is an item awaiting your attention.",
		"casual": "Heads up, you've got something pending!",
	},
	store.ExpressionObservation: {
		"formal": "I noticed our conversation has been quiet recently.",
		"casual": "It's been quiet around here lately.",
	},
}

// Generator renders the planner's draft into the final proactive text.
type Generator struct {
	llm llm.Service
}

// NewGenerator creates a generator. svc may be nil; rendering then always
// uses the fallback table.
func NewGenerator(svc llm.Service) *Generator {
	return &Generator{llm: svc}
}

// Render fills expr.Content and expr.Style. LLM failure is absorbed into
// the fallback table with IsFallback set; Render itself only fails on
// context cancellation.
func (g *Generator) Render(ctx context.Context, expr *Expression) error {
	style := styleFor(expr.Type, expr.Stage)
	expr.Style = style

	if g.llm == nil {
		g.fallback(expr)
		return ctx.Err()
	}

	reply, _, err := g.llm.Chat(ctx, []llm.Message{
		llm.SystemPrompt(g.prompt(expr, style)),
		llm.UserMessage("Write the final message now."),
	})
	if err != nil || strings.TrimSpace(reply) == "" {
		if err != nil {
			slog.Warn("expression render failed, using fallback",
				"expression_type", expr.Type, "stage", expr.Stage, "error", err)
		}
		g.fallback(expr)
		return ctx.Err()
	}

	expr.Content = postProcess(reply)
	return nil
}

func (g *Generator) prompt(expr *Expression, style string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are an AI companion sending a proactive %s message.\n", expr.Type)
	fmt.Fprintf(&b, "Style guide: %s.\n", style)
	if expr.User != nil {
		fmt.Fprintf(&b, "You are addressing %s (relationship: %s).\n", expr.User.Name, expr.Stage)
		if len(expr.User.Topics) > 0 {
			fmt.Fprintf(&b, "Their topics of interest: %s.\n", strings.Join(expr.User.Topics, ", "))
		}
	}
	if expr.ContextReference != "" {
		fmt.Fprintf(&b, "Recent conversation context: %s.\n", expr.ContextReference)
	}
	fmt.Fprintf(&b, "Draft to refine: %q.\n", expr.Content)
	b.WriteString("Reply with the message text only, at most two sentences.")
	return b.String()
}

func (g *Generator) fallback(expr *Expression) {
	register := "casual"
	if formality := stageFormality(expr.Stage); formality == "formal" {
		register = "formal"
	}
	if content, ok := generatorFallbacks[expr.Type][register]; ok {
		expr.Content = content
	}
	expr.Content = postProcess(expr.Content)
	expr.IsFallback = true
}

func styleFor(exprType store.ExpressionType, stage store.RelationshipStage) string {
	if style, ok := styleTable[exprType][stage]; ok {
		return style
	}
	return defaultStyles[exprType]
}

// postProcess normalizes rendered output: strip surrounding quotes,
// collapse blank lines, cap the length and ensure terminal punctuation.
func postProcess(content string) string {
	content = strings.TrimSpace(content)
	content = trimSurroundingQuotes(content)
	for strings.Contains(content, "\n\n") {
		content = strings.ReplaceAll(content, "\n\n", "\n")
	}

	runes := []rune(content)
	if len(runes) > maxExpressionRunes {
		content = string(runes[:maxExpressionRunes-1]) + "…"
		runes = []rune(content)
	}
	if len(runes) == 0 {
		return content
	}
	if !strings.ContainsRune(".!?。！？…~", runes[len(runes)-1]) {
		content += "."
	}
	return content
}

func trimSurroundingQuotes(content string) string {
	pairs := [][2]string{{`"`, `"`}, {"'", "'"}, {"“", "”"}, {"‘", "’"}, {"「", "」"}}
	for _, pair := range pairs {
		if strings.HasPrefix(content, pair[0]) && strings.HasSuffix(content, pair[1]) && len(content) > len(pair[0])+len(pair[1]) {
			return strings.TrimSpace(content[len(pair[0]) : len(content)-len(pair[1])])
		}
	}
	return content
}

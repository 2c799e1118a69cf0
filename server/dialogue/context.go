package dialogue

import (
	"fmt"
	"strings"

	"github.com/RcityLucas/Prizm-Agent-sub001/ai/llm"
	"github.com/RcityLucas/Prizm-Agent-sub001/store"
)

const privatePreamble = "You are a thoughtful personal assistant. Answer " +
	"concisely, stay on topic and use the provided memories about the user " +
	"when they are relevant."

const reflectionPreamble = "You are an AI reviewing your own side of the " +
	"conversation below. Critique your past replies honestly: point out " +
	"mistakes, gaps and better alternatives, then state what you would do " +
	"differently."

const reflectionPrompt = "Reflect on the dialogue above and respond to the " +
	"request that follows."

// buildPrivateContext assembles the human_ai_private prompt: preamble,
// retrieved memories, bounded history, current input.
func buildPrivateContext(memories []*store.Memory, history []*store.Turn, input string) []llm.Message {
	var system strings.Builder
	system.WriteString(privatePreamble)
	if len(memories) > 0 {
		system.WriteString("\n\nWhat you remember about this user:")
		for _, memory := range memories {
			text := memory.Summary
			if text == "" {
				text = memory.Content
			}
			fmt.Fprintf(&system, "\n- %s", text)
		}
	}

	messages := []llm.Message{llm.SystemPrompt(system.String())}
	messages = append(messages, historyAsMessages(history)...)
	return append(messages, llm.UserMessage(input))
}

// buildReflectionContext casts the full prior dialogue as user/assistant
// pairs under the self-critique preamble.
func buildReflectionContext(history []*store.Turn, input string) []llm.Message {
	messages := []llm.Message{llm.SystemPrompt(reflectionPreamble)}
	messages = append(messages, historyAsMessages(history)...)
	return append(messages,
		llm.UserMessage(reflectionPrompt+"\n\n"+input))
}

// buildGroupContext enumerates the participants and prefixes every human
// utterance with its sender so the model can track who said what.
func buildGroupContext(participants []string, history []*store.Turn, userID, input string) []llm.Message {
	system := fmt.Sprintf(
		"You are the AI member of a group conversation. Participants: %s. "+
			"Human messages are prefixed with the sender's id in brackets. "+
			"Address people by id when it helps; never prefix your own reply.",
		strings.Join(participants, ", "))

	messages := []llm.Message{llm.SystemPrompt(system)}
	for _, turn := range history {
		switch turn.Role {
		case store.RoleAI:
			messages = append(messages, llm.AssistantMessage(turn.Content))
		case store.RoleHuman:
			messages = append(messages, llm.UserMessage(
				fmt.Sprintf("[%s]: %s", turn.Metadata.SenderID, turn.Content)))
		}
	}
	return append(messages, llm.UserMessage(fmt.Sprintf("[%s]: %s", userID, input)))
}

// buildAIDialogueContext alternates two AI roles. The role that did not
// produce the latest AI turn speaks next; from its point of view the other
// role's turns are the "user" side.
func buildAIDialogueContext(history []*store.Turn, input string) ([]llm.Message, string) {
	const roleA, roleB = "ai_a", "ai_b"

	next := roleA
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == store.RoleAI && history[i].Metadata.AIRole != "" {
			if history[i].Metadata.AIRole == roleA {
				next = roleB
			}
			break
		}
	}

	system := fmt.Sprintf(
		"You are %s in a dialogue between two AI participants, %s and %s. "+
			"Continue the conversation naturally from your own perspective. "+
			"Reply with your message only, without naming yourself.",
		next, roleA, roleB)

	messages := []llm.Message{llm.SystemPrompt(system)}
	for _, turn := range history {
		if turn.Role == store.RoleAI && turn.Metadata.AIRole == next {
			messages = append(messages, llm.AssistantMessage(turn.Content))
		} else {
			messages = append(messages, llm.UserMessage(turn.Content))
		}
	}
	return append(messages, llm.UserMessage(input)), next
}

// historyAsMessages maps stored turns onto user/assistant messages.
func historyAsMessages(history []*store.Turn) []llm.Message {
	out := make([]llm.Message, 0, len(history))
	for _, turn := range history {
		switch turn.Role {
		case store.RoleAI:
			out = append(out, llm.AssistantMessage(turn.Content))
		case store.RoleHuman:
			out = append(out, llm.UserMessage(turn.Content))
		}
	}
	return out
}

// stripSelfPrefix removes a leading "role:" the model sometimes emits in
// AI-to-AI dialogues despite the instruction not to.
func stripSelfPrefix(reply, role string) string {
	trimmed := strings.TrimSpace(reply)
	for _, prefix := range []string{role + ":", "[" + role + "]:", "[" + role + "]"} {
		if strings.HasPrefix(trimmed, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(trimmed, prefix))
		}
	}
	return trimmed
}

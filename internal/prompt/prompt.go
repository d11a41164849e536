// Package prompt assembles the role-tagged message list sent upstream.
package prompt

import (
	"strings"

	"github.com/streamrelay/chat-relay/internal/llm"
	"github.com/streamrelay/chat-relay/internal/model"
)

// Build produces the final message list for one request: optional
// system instructions, the conversation history in order, then the
// latest question as a user turn. Pure and synchronous; turns with
// blank content are dropped.
func Build(question string, history []model.ChatMessage, instructions string) []llm.ChatMessage {
	out := make([]llm.ChatMessage, 0, len(history)+2)

	if strings.TrimSpace(instructions) != "" {
		out = append(out, llm.ChatMessage{
			Role:    string(model.RoleSystem),
			Content: instructions,
		})
	}

	for _, msg := range history {
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		out = append(out, llm.ChatMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}

	out = append(out, llm.ChatMessage{
		Role:    string(model.RoleUser),
		Content: question,
	})

	return out
}

package middleware

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/streamrelay/chat-relay/internal/model"
)

const maxContentBytes = 100000 // ~100KB per turn

// ValidateChatRequest validates the inbound conversation before any
// upstream work: it must be non-empty and its final turn must carry
// non-blank content.
func ValidateChatRequest(req *model.ChatRequest) error {
	if len(req.Messages) == 0 {
		return errors.New("messages cannot be empty")
	}

	last := req.Messages[len(req.Messages)-1]
	if strings.TrimSpace(last.Content) == "" {
		return errors.New("final message content cannot be empty")
	}

	for i, msg := range req.Messages {
		if err := validateTurn(msg); err != nil {
			return fmt.Errorf("message %d: %w", i, err)
		}
	}
	return nil
}

func validateTurn(msg model.ChatMessage) error {
	switch msg.Role {
	case model.RoleUser, model.RoleAssistant, model.RoleSystem:
	default:
		return errors.New("invalid role")
	}
	if len(msg.Content) > maxContentBytes {
		return errors.New("content exceeds maximum length")
	}
	if !utf8.ValidString(msg.Content) {
		return errors.New("content must be valid UTF-8")
	}
	return nil
}

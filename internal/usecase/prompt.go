package usecase

import "support-agent/internal/domain"

// buildChatMessages assembles the ordered input for the generation backend:
// the system preamble, the windowed history oldest-first, then the new user
// message. Stored turns with an unknown role are skipped; the store should
// never contain them.
func buildChatMessages(preamble string, history []domain.Turn, newText string) []domain.ChatMessage {
	messages := make([]domain.ChatMessage, 0, len(history)+2)
	messages = append(messages, domain.ChatMessage{
		Role:    domain.RoleSystem,
		Content: preamble,
	})

	for _, turn := range history {
		if turn.Role != domain.RoleUser && turn.Role != domain.RoleAssistant {
			continue
		}
		messages = append(messages, domain.ChatMessage{
			Role:    turn.Role,
			Content: turn.Content,
		})
	}

	messages = append(messages, domain.ChatMessage{
		Role:    domain.RoleUser,
		Content: newText,
	})
	return messages
}

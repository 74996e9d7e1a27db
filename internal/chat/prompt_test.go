package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/joss/lumina/internal/domain"
)

func TestHasDocument(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"", false},
		{"0123456789", false},
		{"0123456789a", true},
		{"ééééééééééé", true},
		{"éééééééééé", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HasDocument(tt.text), tt.text)
	}
}

func TestSystemPrompt(t *testing.T) {
	assert.Equal(t, noDocumentPrompt, SystemPrompt(""))
	assert.Contains(t, SystemPrompt("tiny"), "No document is currently uploaded")

	doc := "The contract runs for five years."
	p := SystemPrompt(doc)
	assert.Contains(t, p, "You are Lumina, an intelligent AI assistant.")
	assert.Contains(t, p, "[DOCUMENT CONTEXT]:\n"+doc+"\n\nINSTRUCTIONS:")
	assert.Contains(t, p, "answer based on your general knowledge")
}

func TestBuildMessages(t *testing.T) {
	history := []domain.Turn{
		{Role: domain.RoleHuman, Text: "one"},
		{Role: domain.RoleAssistant, Text: "two"},
	}
	msgs := BuildMessages(history, "three")
	assert.Equal(t, []domain.Message{
		{Role: domain.ChatRoleUser, Content: "one"},
		{Role: domain.ChatRoleAssistant, Content: "two"},
		{Role: domain.ChatRoleUser, Content: "three"},
	}, msgs)
}

func TestSources(t *testing.T) {
	assert.Empty(t, Sources(nil))
	assert.Equal(t, []domain.Source{{Page: 3, Snippet: "abc"}}, Sources([]domain.ContextEntry{{Page: 2, Content: "abc"}}))
}

package chat

import (
	"unicode/utf8"

	"github.com/joss/lumina/internal/domain"
	"github.com/joss/lumina/pkg/llm"
)

// minDocumentRunes is the length a document must exceed before it is put
// into the system prompt.
const minDocumentRunes = 10

const documentPromptHead = `You are Lumina, an intelligent AI assistant.
You have been provided with a document's full text below.
Use this document context to answer questions accurately.

[DOCUMENT CONTEXT]:
`

const documentPromptTail = `

INSTRUCTIONS:
- If the answer is in the document, provide it clearly.
- If the info is missing, say so but answer based on your general knowledge if relevant.
- Keep the tone helpful and professional.`

const noDocumentPrompt = `You are Lumina, an intelligent AI assistant.
No document is currently uploaded. Answer questions to the best of your general knowledge.`

// HasDocument reports whether text is long enough to count as a document.
func HasDocument(text string) bool {
	return utf8.RuneCountInString(text) > minDocumentRunes
}

// SystemPrompt returns the instruction for a conversation. The document is
// embedded verbatim.
func SystemPrompt(documentText string) string {
	if !HasDocument(documentText) {
		return noDocumentPrompt
	}
	return documentPromptHead + documentText + documentPromptTail
}

// BuildMessages maps stored history onto completion messages and appends
// the new query.
func BuildMessages(history []domain.Turn, query string) []domain.Message {
	msgs := make([]domain.Message, 0, len(history)+1)
	for _, t := range history {
		msgs = append(msgs, domain.Message{Role: domain.ChatRoleFor(t.Role), Content: t.Text})
	}
	return append(msgs, domain.Message{Role: domain.ChatRoleUser, Content: query})
}

// BuildRequest assembles the single completion request for one turn.
func BuildRequest(history []domain.Turn, query, documentText, model string, temperature float64) *llm.ChatRequest {
	return &llm.ChatRequest{
		Model:        model,
		SystemPrompt: SystemPrompt(documentText),
		Messages:     BuildMessages(history, query),
		Temperature:  temperature,
	}
}

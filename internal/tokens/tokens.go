// Package tokens estimates prompt sizes using tiktoken-go.
package tokens

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"github.com/joss/lumina/internal/domain"
)

// Encoding is the BPE used for estimates. Groq, Gemini and Anthropic each
// tokenize differently; cl100k_base is a close enough proxy for logging.
const Encoding = "cl100k_base"

// perMessage is the framing overhead charged for each chat message.
const perMessage = 4

// Counter counts tokens, loading the encoding on first use. When the
// encoding cannot be loaded it falls back to four runes per token.
type Counter struct {
	load func() (*tiktoken.Tiktoken, error)
	enc  *tiktoken.Tiktoken
	once sync.Once
	err  error
}

// NewCounter returns a counter backed by the cl100k_base encoding.
func NewCounter() *Counter {
	return &Counter{load: func() (*tiktoken.Tiktoken, error) {
		return tiktoken.GetEncoding(Encoding)
	}}
}

// Count returns the number of tokens in text.
func (c *Counter) Count(text string) int {
	c.init()
	if c.enc == nil {
		return (utf8.RuneCountInString(text) + 3) / 4
	}
	return len(c.enc.Encode(text, nil, nil))
}

// CountMessages returns the estimated prompt size of a completion request.
func (c *Counter) CountMessages(msgs []domain.Message) int {
	total := 0
	for _, m := range msgs {
		total += perMessage + c.Count(string(m.Role)) + c.Count(m.Content)
	}
	return total
}

// Exact reports whether counts come from the real encoding.
func (c *Counter) Exact() bool {
	c.init()
	return c.enc != nil
}

func (c *Counter) init() {
	c.once.Do(func() {
		if c.load == nil {
			return
		}
		c.enc, c.err = c.load()
	})
}

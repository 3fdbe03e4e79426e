package chat

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/fyrsmithlabs/ragd/internal/conversation"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

// SystemInstruction is sent with every grounded turn.
const SystemInstruction = `You are a knowledgeable assistant that answers questions using the tenant's knowledge base.
Rules:
1. Answer only from the provided context.
2. If the context does not contain the answer, say so plainly.
3. Be clear, accurate and concise.
4. Cite the context you use with markers of the form [Source N].`

// ExcerptLength is the rune length of Citation.TextExcerpt.
const ExcerptLength = 200

const contextHeader = "The following knowledge base excerpts are relevant. Base your answer on them:"

// BuildPrompt assembles the user-side prompt: a numbered context block,
// the recent history and the question. history must not include the
// current user message.
func BuildPrompt(question string, hits []vectorstore.Hit, history []conversation.Message) string {
	var b strings.Builder
	if len(hits) > 0 {
		b.WriteString(contextHeader)
		b.WriteString("\n\n")
		for i, h := range hits {
			fmt.Fprintf(&b, "[Source %d]\n%s\n\n", i+1, h.Text)
		}
	} else {
		b.WriteString("No knowledge base excerpts matched this question.\n\n")
	}

	if len(history) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, m := range history {
			fmt.Fprintf(&b, "%s: %s\n", roleLabel(m.Role), m.Content)
		}
		b.WriteString("\n")
	}

	b.WriteString("Question: ")
	b.WriteString(question)
	return b.String()
}

func roleLabel(r conversation.Role) string {
	switch r {
	case conversation.RoleAssistant:
		return "Assistant"
	case conversation.RoleSystem:
		return "System"
	default:
		return "User"
	}
}

// Citations maps hits to citations in retrieval order.
func Citations(hits []vectorstore.Hit) []conversation.Citation {
	if len(hits) == 0 {
		return nil
	}
	out := make([]conversation.Citation, len(hits))
	for i, h := range hits {
		source := h.Metadata[sourceKey]
		if source == "" {
			source = h.DocumentID
		}
		out[i] = conversation.Citation{
			Index:       i + 1,
			TextExcerpt: truncate(h.Text, ExcerptLength),
			Source:      source,
			DocumentID:  h.DocumentID,
			ChunkID:     h.ChunkID,
			Score:       h.Score,
		}
	}
	return out
}

const sourceKey = "source"

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// degradedAnswer is returned when no generator is configured.
func degradedAnswer(question string) string {
	return fmt.Sprintf("This is a placeholder answer because no language model is configured. "+
		"Your question was: %q. Configure a generation provider to get real answers.", question)
}

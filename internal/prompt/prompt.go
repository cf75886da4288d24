// Package prompt builds the outgoing chat request from conversation history,
// optional page context and the active system instructions.
package prompt

import (
	"strings"

	"pagechat/internal/llm"
)

// Delimiter separates the blocks of a context-enriched user message.
const Delimiter = "---"

// truncationMarker is appended to page text cut at MaxPageChars.
const truncationMarker = "\n[...truncated]"

// PageContext is the page state attached to one user message. At most one of
// Selection and FullPage is used; Selection wins when both are set.
type PageContext struct {
	URL       string    `json:"url,omitempty"`
	Title     string    `json:"title,omitempty"`
	Selection string    `json:"selection,omitempty"`
	FullPage  string    `json:"fullPage,omitempty"`
	Metadata  *Metadata `json:"metadata,omitempty"`
}

// Metadata holds the page's description and keywords meta tags.
type Metadata struct {
	Description string `json:"description,omitempty"`
	Keywords    string `json:"keywords,omitempty"`
}

// Input is everything Assemble needs for one request.
type Input struct {
	History          []llm.Message
	Prompt           string
	Context          *PageContext
	PersonaPrompt    string
	UserSystemPrompt string

	// MaxPageChars caps full-page text, 0 = unlimited.
	MaxPageChars int
	// HistoryBudget caps the estimated tokens of history, 0 = unlimited.
	HistoryBudget int
}

// Assembled is the result of Assemble.
type Assembled struct {
	Messages     []llm.Message
	SystemPrompt string // empty means omit
}

// Assemble returns history followed by the new user message, and the combined
// system prompt.
func Assemble(in Input) Assembled {
	history := cleanHistory(in.History)
	history = trimHistory(history, in.HistoryBudget)

	msgs := make([]llm.Message, 0, len(history)+1)
	msgs = append(msgs, history...)
	msgs = append(msgs, llm.Message{
		Role:    llm.RoleUser,
		Content: UserContent(in.Prompt, in.Context, in.MaxPageChars),
	})

	return Assembled{
		Messages:     msgs,
		SystemPrompt: SystemPrompt(in.PersonaPrompt, in.UserSystemPrompt),
	}
}

// UserContent prepends page context blocks to prompt. With no usable context
// the prompt is returned unchanged.
func UserContent(prompt string, pc *PageContext, maxPageChars int) string {
	if pc == nil {
		return prompt
	}

	var blocks []string
	switch {
	case strings.TrimSpace(pc.Selection) != "":
		blocks = append(blocks, "Selected Text:\n"+pc.Selection)
	case strings.TrimSpace(pc.FullPage) != "":
		blocks = append(blocks, "Page Content:\n"+truncatePage(pc.FullPage, maxPageChars))
	}

	if pc.URL != "" || pc.Title != "" {
		var info strings.Builder
		info.WriteString("Page Info:")
		if pc.URL != "" {
			info.WriteString("\nURL: " + pc.URL)
		}
		if pc.Title != "" {
			info.WriteString("\nTitle: " + pc.Title)
		}
		if pc.Metadata != nil {
			if pc.Metadata.Description != "" {
				info.WriteString("\nDescription: " + pc.Metadata.Description)
			}
			if pc.Metadata.Keywords != "" {
				info.WriteString("\nKeywords: " + pc.Metadata.Keywords)
			}
		}
		blocks = append(blocks, info.String())
	}

	if len(blocks) == 0 {
		return prompt
	}
	blocks = append(blocks, "User Query:\n"+prompt)
	return strings.Join(blocks, "\n\n"+Delimiter+"\n\n")
}

// SystemPrompt joins the persona and user instructions with a blank line.
func SystemPrompt(persona, user string) string {
	persona = strings.TrimSpace(persona)
	user = strings.TrimSpace(user)
	switch {
	case persona != "" && user != "":
		return persona + "\n\n" + user
	case persona != "":
		return persona
	default:
		return user
	}
}

func cleanHistory(msgs []llm.Message) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		content := strings.TrimSpace(m.Content)
		if content == "" {
			continue
		}
		if m.Role != llm.RoleUser && m.Role != llm.RoleAssistant {
			continue
		}
		out = append(out, llm.Message{Role: m.Role, Content: content})
	}
	return out
}

// EstimateTokens provides a rough token estimate (4 chars ≈ 1 token).
func EstimateTokens(messages []llm.Message) int {
	total := 0
	for _, m := range messages {
		total += len(m.Content) / 4
	}
	return total
}

// trimHistory drops the oldest messages until the estimate fits budget,
// then any assistant turns left at the front.
func trimHistory(msgs []llm.Message, budget int) []llm.Message {
	if budget <= 0 {
		return msgs
	}
	trimmed := false
	for len(msgs) > 0 && EstimateTokens(msgs) > budget {
		msgs = msgs[1:]
		trimmed = true
	}
	// The kept window must open with a user turn.
	for trimmed && len(msgs) > 0 && msgs[0].Role == llm.RoleAssistant {
		msgs = msgs[1:]
	}
	return msgs
}

func truncatePage(text string, maxChars int) string {
	if maxChars <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text
	}
	return string(runes[:maxChars]) + truncationMarker
}

package llm

import (
	"encoding/json"
	"strings"
)

// Parsed is the outcome of leniently decoding a model reply. Malformed is
// set when Raw could not be decoded into T; Value is then the zero value.
type Parsed[T any] struct {
	Value     T
	Raw       string
	Malformed bool
}

// ParseJSON decodes a model reply into T after stripping markdown code fences.
func ParseJSON[T any](raw string) Parsed[T] {
	result := Parsed[T]{Raw: raw}
	if err := json.Unmarshal([]byte(StripCodeFence(raw)), &result.Value); err != nil {
		var zero T
		result.Value = zero
		result.Malformed = true
	}
	return result
}

// StripCodeFence removes a leading ```json or ``` marker and a trailing ```.
func StripCodeFence(text string) string {
	cleaned := strings.TrimSpace(text)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	return strings.TrimSpace(cleaned)
}

// Reply is a chat answer: either one text or several fragments meant to be
// shown as separate messages.
type Reply struct {
	Text      string
	Fragments []string
}

// Split reports whether the model asked for several messages.
func (r Reply) Split() bool {
	return len(r.Fragments) > 0
}

// Messages returns the fragments, or the text as a single message.
func (r Reply) Messages() []string {
	if r.Split() {
		return r.Fragments
	}
	return []string{r.Text}
}

// ParseSplitReply recognizes {"messages": [...]} replies. Anything else,
// including an empty list or non-string entries, is plain text.
func ParseSplitReply(text string) Reply {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal([]byte(StripCodeFence(text)), &envelope); err != nil {
		return Reply{Text: text}
	}
	rawMessages, ok := envelope["messages"]
	if !ok {
		return Reply{Text: text}
	}

	var fragments []string
	if err := json.Unmarshal(rawMessages, &fragments); err != nil || len(fragments) == 0 {
		return Reply{Text: text}
	}
	// null entries decode to "" without error
	var probe []any
	if err := json.Unmarshal(rawMessages, &probe); err != nil {
		return Reply{Text: text}
	}
	for _, item := range probe {
		if _, isString := item.(string); !isString {
			return Reply{Text: text}
		}
	}

	return Reply{Text: fragments[0], Fragments: fragments}
}

package types

import (
	"encoding/json"
	"strings"
)

// Content part types recognised inside a multi-part message.
const (
	PartText           = "text"
	PartImage          = "image"
	PartToolCallOutput = "tool_call_output"
)

// ContentPart is one element of a multi-part message body.
type ContentPart struct {
	// Type is "text", "image", or "tool_call_output".
	Type string `json:"type"`

	// Text carries the payload for "text" and "tool_call_output" parts.
	Text string `json:"text,omitempty"`

	// ImageURL carries the image location (or data URI) for "image" parts.
	ImageURL string `json:"image_url,omitempty"`

	// ToolCallID links a "tool_call_output" part to the originating call.
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// MessageContent is the sum type for message bodies. Exactly one shape is
// populated:
//
//   - Text: a plain string body.
//   - Parts: a list of typed parts.
//   - Raw: an unrecognised vendor shape, preserved verbatim so that nothing
//     is silently dropped.
//
// The three-level fallback (string → parts → raw reflection) mirrors the
// shapes vendors actually return; AsText is the total extraction function
// over all of them.
type MessageContent struct {
	Text  string
	Parts []ContentPart
	Raw   json.RawMessage
}

// TextContent wraps a plain string into a MessageContent.
func TextContent(s string) MessageContent {
	return MessageContent{Text: s}
}

// PartsContent wraps a part list into a MessageContent.
func PartsContent(parts ...ContentPart) MessageContent {
	return MessageContent{Parts: parts}
}

// IsZero reports whether the content is entirely empty.
func (c MessageContent) IsZero() bool {
	return c.Text == "" && len(c.Parts) == 0 && len(c.Raw) == 0
}

// AsText flattens the content to a plain string. Text parts and tool-call
// outputs are concatenated with newlines; image parts contribute nothing.
// For Raw content it attempts the same string/parts decoding one level down
// and reports ok=false only when no text can be recovered at all.
func (c MessageContent) AsText() (string, bool) {
	if c.Text != "" {
		return c.Text, true
	}
	if len(c.Parts) > 0 {
		var sb strings.Builder
		for _, p := range c.Parts {
			if p.Type == PartImage || p.Text == "" {
				continue
			}
			if sb.Len() > 0 {
				sb.WriteByte('\n')
			}
			sb.WriteString(p.Text)
		}
		return sb.String(), sb.Len() > 0
	}
	if len(c.Raw) > 0 {
		var nested MessageContent
		if err := json.Unmarshal(c.Raw, &nested); err == nil && len(nested.Raw) == 0 {
			return nested.AsText()
		}
	}
	return "", false
}

// UnmarshalJSON accepts a string, a part list, or any other JSON value (kept
// in Raw). A JSON null yields the zero value.
func (c *MessageContent) UnmarshalJSON(data []byte) error {
	*c = MessageContent{}

	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.Text = s
		return nil
	}

	var parts []ContentPart
	if err := json.Unmarshal(data, &parts); err == nil {
		c.Parts = parts
		return nil
	}

	c.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON emits the populated shape: string, part list, raw bytes, or
// JSON null when empty.
func (c MessageContent) MarshalJSON() ([]byte, error) {
	switch {
	case len(c.Parts) > 0:
		return json.Marshal(c.Parts)
	case len(c.Raw) > 0:
		return append(json.RawMessage(nil), c.Raw...), nil
	case c.Text != "":
		return json.Marshal(c.Text)
	default:
		return []byte(`""`), nil
	}
}

package domain

import (
	"encoding/json"
	"errors"
)

type ContentPartType string

const (
	PartText     ContentPartType = "text"
	PartImageURL ContentPartType = "image_url"
)

type ImageURL struct {
	URL string `json:"url"`
}

// ContentPart is one element of a multimodal message.
type ContentPart struct {
	Type     ContentPartType `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *ImageURL       `json:"image_url,omitempty"`
}

// MessageContent is either plain text or an ordered list of parts. A nil
// Parts slice means plain text and marshals as a JSON string.
type MessageContent struct {
	Text  string
	Parts []ContentPart
}

func TextContent(s string) MessageContent { return MessageContent{Text: s} }

func (c MessageContent) IsMultimodal() bool { return c.Parts != nil }

// PlainText flattens the content, dropping image parts.
func (c MessageContent) PlainText() string {
	if c.Parts == nil {
		return c.Text
	}
	var out string
	for _, p := range c.Parts {
		if p.Type != PartText {
			continue
		}
		if out != "" {
			out += "\n\n"
		}
		out += p.Text
	}
	return out
}

func (c MessageContent) MarshalJSON() ([]byte, error) {
	if c.Parts == nil {
		return json.Marshal(c.Text)
	}
	return json.Marshal(c.Parts)
}

func (c *MessageContent) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*c = MessageContent{Text: s}
		return nil
	}
	var parts []ContentPart
	if err := json.Unmarshal(data, &parts); err != nil {
		return errors.New("message content must be a string or an array of parts")
	}
	if parts == nil {
		parts = []ContentPart{}
	}
	*c = MessageContent{Parts: parts}
	return nil
}

// ChatMessage is one entry of an upstream chat-completion request.
type ChatMessage struct {
	Role    Role           `json:"role"`
	Content MessageContent `json:"content"`
}

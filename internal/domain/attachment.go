package domain

type AttachmentType string

const (
	AttachmentImage    AttachmentType = "image"
	AttachmentDocument AttachmentType = "document"
	AttachmentCode     AttachmentType = "code"
)

// ProcessedAttachment is an attachment ready to travel to the upstream model.
// Images carry Base64 (a data URI); documents and code carry TextContent.
type ProcessedAttachment struct {
	Type        AttachmentType `json:"type"`
	Filename    string         `json:"filename"`
	MimeType    string         `json:"mimeType"`
	SizeBytes   int64          `json:"size"`
	Base64      string         `json:"base64,omitempty"`
	TextContent string         `json:"textContent,omitempty"`
}

// Meta strips the payload.
func (a ProcessedAttachment) Meta() AttachmentMeta {
	return AttachmentMeta{
		Filename:  a.Filename,
		Type:      a.Type,
		SizeBytes: a.SizeBytes,
	}
}

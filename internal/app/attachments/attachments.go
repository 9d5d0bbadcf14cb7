// Package attachments classifies, validates and encodes user files, and
// folds them into a multimodal upstream message.
package attachments

import (
	"encoding/base64"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/PabloGalante/katana-portal/internal/domain"
)

const (
	MaxImageBytes    int64 = 10 << 20
	MaxDocumentBytes int64 = 5 << 20
	MaxCodeBytes     int64 = 2 << 20

	// MaxPerMessage caps how many attachments one chat turn may carry.
	MaxPerMessage = 5

	// MaxBase64Bytes is the ceiling for an encoded payload: a 10 MiB image
	// inflates to ~13.4 MiB of base64.
	MaxBase64Bytes = 15 << 20
)

var imageExt = map[string]string{
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"gif":  "image/gif",
	"webp": "image/webp",
}

var documentExt = map[string]string{
	"pdf":      "application/pdf",
	"txt":      "text/plain",
	"md":       "text/markdown",
	"markdown": "text/markdown",
	"csv":      "text/csv",
	"log":      "text/plain",
	"rtf":      "text/rtf",
}

var codeExt = map[string]string{
	"go":   "text/x-go",
	"py":   "text/x-python",
	"js":   "text/javascript",
	"jsx":  "text/javascript",
	"ts":   "text/x-typescript",
	"tsx":  "text/x-typescript",
	"rs":   "text/x-rust",
	"java": "text/x-java",
	"c":    "text/x-c",
	"h":    "text/x-c",
	"cpp":  "text/x-c++",
	"rb":   "text/x-ruby",
	"php":  "text/x-php",
	"sh":   "text/x-shellscript",
	"sql":  "text/x-sql",
	"html": "text/html",
	"css":  "text/css",
	"xml":  "text/xml",
	"yaml": "text/yaml",
	"yml":  "text/yaml",
	"toml": "text/x-toml",
	"json": "application/json",
}

var allowedMimePrefixes = []string{"image/", "text/", "application/pdf", "application/json"}

// Extension returns the lower-cased extension of filename without the dot.
func Extension(filename string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
}

// Classify maps a filename to its attachment type by extension.
func Classify(filename string) (domain.AttachmentType, bool) {
	ext := Extension(filename)
	if _, ok := imageExt[ext]; ok {
		return domain.AttachmentImage, true
	}
	if _, ok := documentExt[ext]; ok {
		return domain.AttachmentDocument, true
	}
	if _, ok := codeExt[ext]; ok {
		return domain.AttachmentCode, true
	}
	return "", false
}

// MimeType returns the MIME type the pipeline assigns to filename.
func MimeType(filename string) string {
	ext := Extension(filename)
	for _, table := range []map[string]string{imageExt, documentExt, codeExt} {
		if m, ok := table[ext]; ok {
			return m
		}
	}
	return "application/octet-stream"
}

// MaxSize returns the size limit for a type.
func MaxSize(t domain.AttachmentType) int64 {
	switch t {
	case domain.AttachmentImage:
		return MaxImageBytes
	case domain.AttachmentDocument:
		return MaxDocumentBytes
	default:
		return MaxCodeBytes
	}
}

// File is a raw user-supplied file.
type File struct {
	Name string
	Size int64
	Data []byte
}

var ErrUnsupportedType = errors.New("unsupported file type")

// Validate checks the file classifies and fits its type's size limit.
func Validate(f File) error {
	t, ok := Classify(f.Name)
	if !ok {
		return fmt.Errorf("%s: %w", f.Name, ErrUnsupportedType)
	}
	if limit := MaxSize(t); f.Size > limit {
		return fmt.Errorf("%s is %s, the limit for %s files is %s", f.Name, humanSize(f.Size), t, humanSize(limit))
	}
	return nil
}

// Process validates f and encodes it: images as a base64 data URI,
// documents and code as UTF-8 text.
func Process(f File) (domain.ProcessedAttachment, error) {
	if err := Validate(f); err != nil {
		return domain.ProcessedAttachment{}, err
	}
	t, _ := Classify(f.Name)

	out := domain.ProcessedAttachment{
		Type:      t,
		Filename:  f.Name,
		MimeType:  MimeType(f.Name),
		SizeBytes: f.Size,
	}

	if t == domain.AttachmentImage {
		out.Base64 = "data:" + out.MimeType + ";base64," + base64.StdEncoding.EncodeToString(f.Data)
		return out, nil
	}

	text := string(f.Data)
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "�")
	}
	out.TextContent = text
	return out, nil
}

// ValidateBatch checks a whole batch; any violation rejects all of it.
func ValidateBatch(batch []domain.ProcessedAttachment) error {
	if len(batch) > MaxPerMessage {
		return fmt.Errorf("too many attachments: %d (max %d)", len(batch), MaxPerMessage)
	}
	for i, a := range batch {
		if a.Type == "" || a.Filename == "" || a.MimeType == "" {
			return fmt.Errorf("attachment %d: type, filename and mimeType are required", i)
		}
		switch a.Type {
		case domain.AttachmentImage, domain.AttachmentDocument, domain.AttachmentCode:
		default:
			return fmt.Errorf("attachment %s: unknown type %q", a.Filename, a.Type)
		}
		if len(a.Base64) > MaxBase64Bytes {
			return fmt.Errorf("attachment %s: encoded payload exceeds %s", a.Filename, humanSize(MaxBase64Bytes))
		}
		if !allowedMime(a.MimeType) {
			return fmt.Errorf("attachment %s: unsupported mime type %q", a.Filename, a.MimeType)
		}
		if err := checkPayload(a); err != nil {
			return err
		}
	}
	return nil
}

// checkPayload enforces exactly one payload: a data URI for images, text
// for everything else.
func checkPayload(a domain.ProcessedAttachment) error {
	if a.Base64 != "" && a.TextContent != "" {
		return fmt.Errorf("attachment %s: base64 and textContent are mutually exclusive", a.Filename)
	}
	if a.Type != domain.AttachmentImage {
		if a.TextContent == "" {
			return fmt.Errorf("attachment %s: %s requires textContent", a.Filename, a.Type)
		}
		return nil
	}
	if a.Base64 == "" {
		return fmt.Errorf("attachment %s: image requires base64", a.Filename)
	}
	if !strings.HasPrefix(a.Base64, "data:") {
		return fmt.Errorf("attachment %s: base64 must be a data URI", a.Filename)
	}
	return nil
}

func allowedMime(m string) bool {
	for _, p := range allowedMimePrefixes {
		if strings.HasPrefix(m, p) {
			return true
		}
	}
	return false
}

// BuildMultimodalMessage returns text unchanged when there are no
// attachments. Otherwise it returns parts in reading order: the text (if
// any), then one part per attachment.
func BuildMultimodalMessage(text string, batch []domain.ProcessedAttachment) domain.MessageContent {
	if len(batch) == 0 {
		return domain.TextContent(text)
	}

	parts := make([]domain.ContentPart, 0, len(batch)+1)
	if text != "" {
		parts = append(parts, domain.ContentPart{Type: domain.PartText, Text: text})
	}

	for _, a := range batch {
		switch a.Type {
		case domain.AttachmentImage:
			parts = append(parts, domain.ContentPart{
				Type:     domain.PartImageURL,
				ImageURL: &domain.ImageURL{URL: a.Base64},
			})
		case domain.AttachmentCode:
			parts = append(parts, domain.ContentPart{
				Type: domain.PartText,
				Text: fmt.Sprintf("File: %s\n```%s\n%s\n```", a.Filename, Extension(a.Filename), a.TextContent),
			})
		default:
			parts = append(parts, domain.ContentPart{
				Type: domain.PartText,
				Text: fmt.Sprintf("--- Document: %s ---\n%s\n--- End of %s ---", a.Filename, a.TextContent, a.Filename),
			})
		}
	}
	return domain.MessageContent{Parts: parts}
}

// Summary is a one-line description for log events.
func Summary(a domain.ProcessedAttachment) string {
	return fmt.Sprintf("%s (%s, %s)", a.Filename, a.Type, humanSize(a.SizeBytes))
}

// Metas strips payloads for persistence.
func Metas(batch []domain.ProcessedAttachment) []domain.AttachmentMeta {
	if len(batch) == 0 {
		return nil
	}
	out := make([]domain.AttachmentMeta, 0, len(batch))
	for _, a := range batch {
		out = append(out, a.Meta())
	}
	return out
}

func humanSize(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/float64(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/float64(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}

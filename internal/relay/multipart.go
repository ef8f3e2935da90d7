package relay

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/textproto"

	"github.com/google/uuid"
)

const boundaryPrefix = "----RewardsFormBoundary"

// Validate checks every attachment against the payload bounds.
func (p *MultipartPayload) Validate() error {
	if p == nil {
		return fmt.Errorf("%w: empty multipart payload", ErrInvalidRequest)
	}

	files := 0
	for i, part := range p.Parts {
		if part.Name == "" {
			return fmt.Errorf("%w: part %d has no name", ErrInvalidRequest, i)
		}
		if part.File == nil {
			continue
		}

		files++
		if files > p.maxAttachments() {
			return fmt.Errorf("%w: more than %d attachments", ErrInvalidAttachment, p.maxAttachments())
		}
		if part.File.Filename == "" {
			return fmt.Errorf("%w: part %q has no filename", ErrInvalidAttachment, part.Name)
		}
		if len(part.File.Data) == 0 {
			return fmt.Errorf("%w: %q is empty", ErrInvalidAttachment, part.File.Filename)
		}
		if len(part.File.Data) > p.maxAttachmentBytes() {
			return fmt.Errorf("%w: %q exceeds %d bytes", ErrInvalidAttachment, part.File.Filename, p.maxAttachmentBytes())
		}
	}

	return nil
}

func newBoundary() string {
	id := uuid.New()
	return fmt.Sprintf("%s%x", boundaryPrefix, id[:])
}

// encodeMultipart serializes all field parts, then all file parts, under the
// given boundary. Names are inserted into Content-Disposition verbatim.
func encodeMultipart(p *MultipartPayload, boundary string) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.SetBoundary(boundary); err != nil {
		return nil, "", fmt.Errorf("failed to set boundary: %w", err)
	}

	for _, part := range p.Parts {
		if part.File != nil {
			continue
		}
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"`, part.Name))
		pw, err := w.CreatePart(h)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create field part: %w", err)
		}
		if _, err := pw.Write([]byte(part.Value)); err != nil {
			return nil, "", fmt.Errorf("failed to write field part: %w", err)
		}
	}

	for _, part := range p.Parts {
		if part.File == nil {
			continue
		}
		contentType := part.File.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, part.Name, part.File.Filename))
		h.Set("Content-Type", contentType)
		pw, err := w.CreatePart(h)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create file part: %w", err)
		}
		if _, err := pw.Write(part.File.Data); err != nil {
			return nil, "", fmt.Errorf("failed to write file part: %w", err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart body: %w", err)
	}

	return buf.Bytes(), w.FormDataContentType(), nil
}

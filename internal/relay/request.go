package relay

import "net/http"

// AuthMode selects which Authorization header a request carries.
type AuthMode int

const (
	AuthBearer AuthMode = iota
	AuthBasic
	AuthNone
)

func (m AuthMode) String() string {
	switch m {
	case AuthBearer:
		return "bearer"
	case AuthBasic:
		return "basic"
	default:
		return "none"
	}
}

const (
	DefaultMaxAttachments     = 3
	DefaultMaxAttachmentBytes = 2 << 20
)

// Request is one logical call against the upstream origin.
// At most one of JSON and Multipart is set; neither means no body.
type Request struct {
	Endpoint  string
	Method    string
	Auth      AuthMode
	JSON      interface{}
	Multipart *MultipartPayload
}

func (r Request) method() string {
	if r.Method == "" {
		if r.JSON != nil || r.Multipart != nil {
			return http.MethodPost
		}
		return http.MethodGet
	}
	return r.Method
}

// Attachment is the binary content of a file part.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Part is a named multipart part: a UTF-8 field when File is nil, a file otherwise.
type Part struct {
	Name  string
	Value string
	File  *Attachment
}

// MultipartPayload is an ordered list of parts plus the caller-supplied bounds
// its attachments are validated against. Zero bounds mean the defaults.
type MultipartPayload struct {
	Parts              []Part
	MaxAttachments     int
	MaxAttachmentBytes int
}

func (p *MultipartPayload) AddField(name, value string) *MultipartPayload {
	p.Parts = append(p.Parts, Part{Name: name, Value: value})
	return p
}

func (p *MultipartPayload) AddFile(name string, file Attachment) *MultipartPayload {
	p.Parts = append(p.Parts, Part{Name: name, File: &file})
	return p
}

func (p *MultipartPayload) maxAttachments() int {
	if p.MaxAttachments <= 0 {
		return DefaultMaxAttachments
	}
	return p.MaxAttachments
}

func (p *MultipartPayload) maxAttachmentBytes() int {
	if p.MaxAttachmentBytes <= 0 {
		return DefaultMaxAttachmentBytes
	}
	return p.MaxAttachmentBytes
}

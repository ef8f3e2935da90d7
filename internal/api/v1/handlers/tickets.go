package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/rewards/gateway/internal/relay"
	"github.com/rewards/gateway/pkg/httpext"
	"github.com/rs/zerolog/log"
)

const (
	TicketsEndpoint       = "/tickets"
	maxTicketFieldBytes   = 64 << 10
	maxTicketRequestBytes = (relay.DefaultMaxAttachments+1)*relay.DefaultMaxAttachmentBytes + 64<<10
)

var errInvalidPartName = errors.New("form names and filenames must not contain quotes or control characters")

// HandleCreateTicket relays a browser multipart form to the upstream ticket
// endpoint with the signed-in user's credential. Fields keep the order they
// were submitted in and are followed by the attached files, also in order.
func HandleCreateTicket(creds Credentials, relayer Relayer, w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxTicketRequestBytes)
	reader, err := r.MultipartReader()
	if err != nil {
		log.Debug().Err(err).Msg("Failed to open ticket form")
		httpext.JsonError(w, "Invalid multipart form", http.StatusBadRequest)
		return
	}

	payload, err := ticketPayload(reader)
	if err != nil {
		log.Debug().Err(err).Msg("Failed to read ticket form")
		if errors.Is(err, errInvalidPartName) {
			httpext.JsonError(w, errInvalidPartName.Error(), http.StatusBadRequest)
			return
		}
		httpext.JsonError(w, "Invalid multipart form", http.StatusBadRequest)
		return
	}

	cred, err := creds.AcquireUser(r.Context())
	if err != nil {
		writeCredentialError(w, err)
		return
	}

	res := relayer.Call(r.Context(), relay.Request{
		Endpoint:  TicketsEndpoint,
		Method:    http.MethodPost,
		Auth:      relay.AuthBearer,
		Multipart: payload,
	}, cred.Token)
	writeResult(w, res)
}

func ticketPayload(reader *multipart.Reader) (*relay.MultipartPayload, error) {
	payload := &relay.MultipartPayload{
		MaxAttachments:     relay.DefaultMaxAttachments,
		MaxAttachmentBytes: relay.DefaultMaxAttachmentBytes,
	}

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			return payload, nil
		}
		if err != nil {
			return nil, err
		}

		name := part.FormName()
		if name == "" {
			part.Close()
			continue
		}
		filename := part.FileName()
		contentType := part.Header.Get("Content-Type")
		if !validPartName(name) || !validPartName(filename) || !validPartName(contentType) {
			part.Close()
			return nil, errInvalidPartName
		}

		if filename == "" {
			value, err := readPart(part, maxTicketFieldBytes)
			part.Close()
			if err != nil {
				return nil, err
			}
			if len(value) > maxTicketFieldBytes {
				return nil, fmt.Errorf("field %q exceeds %d bytes", name, maxTicketFieldBytes)
			}
			payload.AddField(name, string(value))
			continue
		}

		data, err := readPart(part, payload.MaxAttachmentBytes)
		part.Close()
		if err != nil {
			return nil, err
		}
		payload.AddFile(name, relay.Attachment{
			Filename:    filename,
			ContentType: contentType,
			Data:        data,
		})
	}
}

// readPart reads at most one byte past limit so oversized parts are
// rejected instead of being silently truncated.
func readPart(part io.Reader, limit int) ([]byte, error) {
	return io.ReadAll(io.LimitReader(part, int64(limit)+1))
}

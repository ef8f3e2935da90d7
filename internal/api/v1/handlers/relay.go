package handlers

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/rewards/gateway/internal/relay"
	"github.com/rewards/gateway/pkg/httpext"
	"github.com/rs/zerolog/log"
)

const maxRelayBodyBytes = 12 << 20

const (
	ScopeUser  = "user"
	ScopeGuest = "guest"
	ScopeNone  = "none"
)

type relayField struct {
	Name  string `json:"name" validate:"required,partname"`
	Value string `json:"value"`
}

type relayFile struct {
	Name        string `json:"name" validate:"required,partname"`
	Filename    string `json:"filename" validate:"omitempty,partname"`
	ContentType string `json:"content_type" validate:"omitempty,partname"`
	Data        string `json:"data"`
}

// relayRequest is a logical upstream call. Fields or files select a
// multipart body; otherwise Body is sent as JSON.
type relayRequest struct {
	Endpoint string          `json:"endpoint" validate:"required,startswith=/"`
	Method   string          `json:"method" validate:"omitempty,oneof=GET POST PUT PATCH DELETE get post put patch delete"`
	Scope    string          `json:"scope" validate:"omitempty,oneof=user guest none"`
	Body     json.RawMessage `json:"body,omitempty"`
	Fields   []relayField    `json:"fields,omitempty" validate:"dive"`
	Files    []relayFile     `json:"files,omitempty" validate:"dive"`
}

func (rr relayRequest) build() (relay.Request, error) {
	req := relay.Request{
		Endpoint: rr.Endpoint,
		Method:   strings.ToUpper(rr.Method),
		Auth:     relay.AuthBearer,
	}
	if rr.Scope == ScopeNone {
		req.Auth = relay.AuthNone
	}

	if len(rr.Fields) > 0 || len(rr.Files) > 0 {
		payload := &relay.MultipartPayload{}
		for _, f := range rr.Fields {
			payload.AddField(f.Name, f.Value)
		}
		for i, f := range rr.Files {
			data, err := base64.StdEncoding.DecodeString(f.Data)
			if err != nil {
				return relay.Request{}, fmt.Errorf("file %d is not valid base64: %w", i, err)
			}
			payload.AddFile(f.Name, relay.Attachment{Filename: f.Filename, ContentType: f.ContentType, Data: data})
		}
		req.Multipart = payload
		return req, nil
	}

	if len(rr.Body) > 0 && string(rr.Body) != "null" {
		req.JSON = rr.Body
	}
	return req, nil
}

// HandleRelay forwards an opaque upstream call with the credential its scope
// names and answers with the normalized envelope.
func HandleRelay(creds Credentials, relayer Relayer, w http.ResponseWriter, r *http.Request) {
	var rr relayRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRelayBodyBytes)).Decode(&rr); err != nil {
		log.Debug().Err(err).Msg("Failed to decode relay request")
		httpext.JsonError(w, "Invalid request format", http.StatusBadRequest)
		return
	}
	if err := validate.Struct(rr); err != nil {
		httpext.JsonError(w, validationMessage(err), http.StatusBadRequest)
		return
	}
	if rr.Scope == "" {
		rr.Scope = ScopeUser
	}

	req, err := rr.build()
	if err != nil {
		httpext.JsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var token string
	switch rr.Scope {
	case ScopeUser:
		cred, err := creds.AcquireUser(r.Context())
		if err != nil {
			writeCredentialError(w, err)
			return
		}
		token = cred.Token
	case ScopeGuest:
		cred, err := creds.AcquireGuest(r.Context())
		if err != nil {
			writeCredentialError(w, err)
			return
		}
		token = cred.Token
	}

	writeResult(w, relayer.Call(r.Context(), req, token))
}

// writeResult sends the envelope with a status that reflects its outcome.
func writeResult(w http.ResponseWriter, res relay.Result) {
	httpext.WriteJSON(w, resultStatus(res), res)
}

func resultStatus(res relay.Result) int {
	if res.OK {
		return http.StatusOK
	}
	switch res.Kind {
	case relay.KindInvalidAttachment, relay.KindInvalidRequest:
		return http.StatusBadRequest
	case relay.KindTransientEdgeBlock:
		return http.StatusServiceUnavailable
	case relay.KindTransportFailure:
		return http.StatusBadGateway
	}
	if res.Status >= 400 && res.Status < 600 {
		return res.Status
	}
	return http.StatusBadGateway
}

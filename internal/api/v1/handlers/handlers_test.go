package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rewards/gateway/internal/connections"
	"github.com/rewards/gateway/internal/credentials"
	"github.com/rewards/gateway/internal/relay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var expiresAt = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

type fakeCredentials struct {
	guestErr error
	userErr  error
	loginErr error
	outcome  credentials.OTPOutcome

	mu      sync.Mutex
	view    credentials.SessionView
	proofs  []credentials.IdentityProof
	logouts int
}

func (f *fakeCredentials) AcquireGuest(ctx context.Context) (credentials.Credential, error) {
	if f.guestErr != nil {
		return credentials.Credential{}, f.guestErr
	}
	return credentials.Credential{Kind: credentials.KindGuest, Token: "guest-token", ExpiresAt: expiresAt}, nil
}

func (f *fakeCredentials) AcquireUser(ctx context.Context) (credentials.Credential, error) {
	if f.userErr != nil {
		return credentials.Credential{}, f.userErr
	}
	return credentials.Credential{Kind: credentials.KindUser, Token: "user-token", ExpiresAt: expiresAt}, nil
}

func (f *fakeCredentials) RequestOTP(ctx context.Context, phone string) credentials.OTPOutcome {
	return f.outcome
}

func (f *fakeCredentials) Login(ctx context.Context, proof credentials.IdentityProof) (credentials.SessionView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.proofs = append(f.proofs, proof)
	if f.loginErr != nil {
		return credentials.SessionView{}, f.loginErr
	}
	return credentials.SessionView{State: credentials.StateActive, Authenticated: true}, nil
}

func (f *fakeCredentials) Logout(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logouts++
}

func (f *fakeCredentials) Session() credentials.SessionView {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.view
}

func (f *fakeCredentials) Subscribe() (<-chan credentials.SessionView, func()) {
	ch := make(chan credentials.SessionView, 1)
	ch <- f.Session()
	return ch, func() {}
}

type fakeRelayer struct {
	mu     sync.Mutex
	calls  []relay.Request
	tokens []string
	result relay.Result
}

func (f *fakeRelayer) Call(ctx context.Context, req relay.Request, token string) relay.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	f.tokens = append(f.tokens, token)
	return f.result
}

func newRouter(creds *fakeCredentials, relayer *fakeRelayer) *mux.Router {
	router := mux.NewRouter()
	RegisterV1Routes(router, creds, relayer, connections.NewManager(connections.DefaultTimeouts))
	return router
}

func serve(router http.Handler, method, path string, body []byte, contentType string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		r.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	return w
}

func TestTokenHandlers(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		creds      *fakeCredentials
		wantStatus int
		wantToken  string
		wantError  string
	}{
		{name: "guest", path: "/v1/token/guest", creds: &fakeCredentials{}, wantStatus: http.StatusOK, wantToken: "guest-token"},
		{name: "guest unavailable", path: "/v1/token/guest", creds: &fakeCredentials{guestErr: credentials.ErrCredentialUnavailable}, wantStatus: http.StatusServiceUnavailable, wantError: "credential_unavailable"},
		{name: "user", path: "/v1/token/user", creds: &fakeCredentials{}, wantStatus: http.StatusOK, wantToken: "user-token"},
		{name: "user not signed in", path: "/v1/token/user", creds: &fakeCredentials{userErr: credentials.ErrNotAuthenticated}, wantStatus: http.StatusUnauthorized, wantError: "not_authenticated"},
		{name: "user session expired", path: "/v1/token/user", creds: &fakeCredentials{userErr: credentials.ErrSessionExpired}, wantStatus: http.StatusUnauthorized, wantError: "session_expired"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(newRouter(tt.creds, &fakeRelayer{}), http.MethodGet, tt.path, nil, "")
			assert.Equal(t, tt.wantStatus, w.Code)

			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			if tt.wantToken != "" {
				assert.Equal(t, tt.wantToken, body["access_token"])
				assert.Equal(t, "Bearer", body["token_type"])
				assert.Equal(t, expiresAt.Format(time.RFC3339), body["expires_at"])
			}
			if tt.wantError != "" {
				assert.Equal(t, tt.wantError, body["error"])
			}
		})
	}
}

func TestRequestOTPHandler(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		outcome    credentials.OTPOutcome
		wantStatus int
	}{
		{"existing user", `{"phone":"9876543210"}`, credentials.OTPOutcome{Kind: credentials.OTPExistingUser, OTPGuid: "g1"}, http.StatusOK},
		{"new user", `{"phone":"9876543210"}`, credentials.OTPOutcome{Kind: credentials.OTPNewUser, OTPGuid: "g2"}, http.StatusOK},
		{"failed", `{"phone":"9876543210"}`, credentials.OTPOutcome{Kind: credentials.OTPFailed, Reason: "Invalid phone"}, http.StatusUnprocessableEntity},
		{"malformed body", `{"phone":`, credentials.OTPOutcome{}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			creds := &fakeCredentials{outcome: tt.outcome}
			w := serve(newRouter(creds, &fakeRelayer{}), http.MethodPost, "/v1/auth/otp", []byte(tt.body), "application/json")
			assert.Equal(t, tt.wantStatus, w.Code)

			if tt.wantStatus != http.StatusBadRequest {
				var got credentials.OTPOutcome
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
				assert.Equal(t, tt.outcome.Kind, got.Kind)
				assert.Equal(t, tt.outcome.OTPGuid, got.OTPGuid)
				assert.Equal(t, tt.outcome.Reason, got.Reason)
			}
		})
	}
}

func TestVerifyOTPHandler(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		loginErr   error
		wantStatus int
	}{
		{"success", `{"phone":"1","otp_guid":"g","otp":"1234"}`, nil, http.StatusOK},
		{"missing fields", `{"phone":"1"}`, nil, http.StatusBadRequest},
		{"profile required", `{"phone":"1","otp_guid":"g","otp":"1234"}`, credentials.ErrProfileRequired, http.StatusBadRequest},
		{"no pending otp", `{"phone":"1","otp_guid":"g","otp":"1234"}`, credentials.ErrOTPNotRequested, http.StatusConflict},
		{"wrong code", `{"phone":"1","otp_guid":"g","otp":"0000"}`, credentials.ErrInvalidOTP, http.StatusUnauthorized},
		{"upstream down", `{"phone":"1","otp_guid":"g","otp":"1234"}`, credentials.ErrCredentialUnavailable, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			creds := &fakeCredentials{loginErr: tt.loginErr}
			w := serve(newRouter(creds, &fakeRelayer{}), http.MethodPost, "/v1/auth/verify", []byte(tt.body), "application/json")
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestLogoutHandler(t *testing.T) {
	creds := &fakeCredentials{}
	w := serve(newRouter(creds, &fakeRelayer{}), http.MethodPost, "/v1/auth/logout", nil, "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 1, creds.logouts)
}

func TestSessionHandler(t *testing.T) {
	creds := &fakeCredentials{view: credentials.SessionView{
		State:         credentials.StateActive,
		Authenticated: true,
		Profile:       &credentials.Profile{FirstName: "Asha"},
	}}
	w := serve(newRouter(creds, &fakeRelayer{}), http.MethodGet, "/v1/session", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"state":"active","authenticated":true,"profile":{"id":"","phone":"","email":"","firstName":"Asha"}}`, w.Body.String())
}

func TestRelayHandler(t *testing.T) {
	okResult := relay.Result{OK: true, Status: 200, Data: json.RawMessage(`{"balance":120}`)}

	t.Run("json body with user scope", func(t *testing.T) {
		relayer := &fakeRelayer{result: okResult}
		w := serve(newRouter(&fakeCredentials{}, relayer), http.MethodPost, "/v1/relay",
			[]byte(`{"endpoint":"/claims","method":"post","body":{"order_id":"A1"}}`), "application/json")

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"ok":true,"status":200,"data":{"balance":120}}`, w.Body.String())
		require.Len(t, relayer.calls, 1)
		assert.Equal(t, "/claims", relayer.calls[0].Endpoint)
		assert.Equal(t, http.MethodPost, relayer.calls[0].Method)
		assert.Equal(t, relay.AuthBearer, relayer.calls[0].Auth)
		assert.JSONEq(t, `{"order_id":"A1"}`, string(relayer.calls[0].JSON.(json.RawMessage)))
		assert.Equal(t, "user-token", relayer.tokens[0])
	})

	t.Run("guest scope", func(t *testing.T) {
		relayer := &fakeRelayer{result: okResult}
		w := serve(newRouter(&fakeCredentials{}, relayer), http.MethodPost, "/v1/relay",
			[]byte(`{"endpoint":"/offers","method":"GET","scope":"guest"}`), "application/json")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "guest-token", relayer.tokens[0])
		assert.Nil(t, relayer.calls[0].JSON)
	})

	t.Run("multipart fields and files", func(t *testing.T) {
		relayer := &fakeRelayer{result: okResult}
		body := `{"endpoint":"/claims","fields":[{"name":"order_id","value":"A1"}],` +
			`"files":[{"name":"proof","filename":"p.png","content_type":"image/png","data":"` +
			base64.StdEncoding.EncodeToString([]byte("png")) + `"}]}`
		w := serve(newRouter(&fakeCredentials{}, relayer), http.MethodPost, "/v1/relay", []byte(body), "application/json")

		assert.Equal(t, http.StatusOK, w.Code)
		payload := relayer.calls[0].Multipart
		require.NotNil(t, payload)
		require.Len(t, payload.Parts, 2)
		assert.Equal(t, "order_id", payload.Parts[0].Name)
		assert.Equal(t, []byte("png"), payload.Parts[1].File.Data)
	})

	t.Run("invalid base64", func(t *testing.T) {
		relayer := &fakeRelayer{}
		w := serve(newRouter(&fakeCredentials{}, relayer), http.MethodPost, "/v1/relay",
			[]byte(`{"endpoint":"/claims","files":[{"name":"f","data":"%%%"}]}`), "application/json")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Empty(t, relayer.calls)
	})

	t.Run("session expired never reaches upstream", func(t *testing.T) {
		relayer := &fakeRelayer{}
		w := serve(newRouter(&fakeCredentials{userErr: credentials.ErrSessionExpired}, relayer), http.MethodPost, "/v1/relay",
			[]byte(`{"endpoint":"/profile"}`), "application/json")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Empty(t, relayer.calls)
	})
}

func TestResultStatus(t *testing.T) {
	tests := []struct {
		name string
		res  relay.Result
		want int
	}{
		{"ok", relay.Result{OK: true, Status: 201}, http.StatusOK},
		{"invalid attachment", relay.Result{Kind: relay.KindInvalidAttachment}, http.StatusBadRequest},
		{"edge block", relay.Result{Kind: relay.KindTransientEdgeBlock, Status: 403}, http.StatusServiceUnavailable},
		{"transport", relay.Result{Kind: relay.KindTransportFailure}, http.StatusBadGateway},
		{"upstream 422", relay.Result{Kind: relay.KindUpstreamRejected, Status: 422}, http.StatusUnprocessableEntity},
		{"upstream odd status", relay.Result{Kind: relay.KindUpstreamRejected, Status: 302}, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resultStatus(tt.res))
		})
	}
}

func ticketForm(t *testing.T, files map[string][]byte) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("subject", "Missing cashback"))
	require.NoError(t, mw.WriteField("category", "claims"))
	for name, data := range files {
		fw, err := mw.CreateFormFile("attachments", name)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return buf.Bytes(), mw.FormDataContentType()
}

func TestCreateTicketHandler(t *testing.T) {
	signedIn := credentials.SessionView{State: credentials.StateActive, Authenticated: true}

	t.Run("relays fields then files in submitted order", func(t *testing.T) {
		relayer := &fakeRelayer{result: relay.Result{OK: true, Status: 201, Data: json.RawMessage(`{"id":"T-1"}`)}}
		body, contentType := ticketForm(t, map[string][]byte{"receipt.jpg": []byte("jpeg")})

		w := serve(newRouter(&fakeCredentials{view: signedIn}, relayer), http.MethodPost, "/v1/tickets", body, contentType)
		assert.Equal(t, http.StatusOK, w.Code)

		require.Len(t, relayer.calls, 1)
		req := relayer.calls[0]
		assert.Equal(t, TicketsEndpoint, req.Endpoint)
		assert.Equal(t, "user-token", relayer.tokens[0])
		require.Len(t, req.Multipart.Parts, 3)
		assert.Equal(t, "subject", req.Multipart.Parts[0].Name)
		assert.Equal(t, "category", req.Multipart.Parts[1].Name)
		assert.Equal(t, "receipt.jpg", req.Multipart.Parts[2].File.Filename)
		assert.Equal(t, relay.DefaultMaxAttachments, req.Multipart.MaxAttachments)
	})

	t.Run("requires a session", func(t *testing.T) {
		relayer := &fakeRelayer{}
		body, contentType := ticketForm(t, nil)
		w := serve(newRouter(&fakeCredentials{}, relayer), http.MethodPost, "/v1/tickets", body, contentType)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Empty(t, relayer.calls)
	})

	t.Run("not a multipart form", func(t *testing.T) {
		w := serve(newRouter(&fakeCredentials{view: signedIn}, &fakeRelayer{}), http.MethodPost, "/v1/tickets", []byte(`{}`), "application/json")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestSessionStreamHandler(t *testing.T) {
	creds := &fakeCredentials{view: credentials.SessionView{State: credentials.StateAnonymous}}
	server := httptest.NewServer(newRouter(creds, &fakeRelayer{}))
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+"/v1/session/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	var view credentials.SessionView
	require.NoError(t, conn.ReadJSON(&view))
	assert.Equal(t, credentials.StateAnonymous, view.State)
}

func TestUpgraderOrigins(t *testing.T) {
	upgrader := NewUpgrader([]string{"https://rewards.example.com"})

	r := httptest.NewRequest(http.MethodGet, "/v1/session/ws", nil)
	r.Header.Set("Origin", "https://rewards.example.com/")
	assert.True(t, upgrader.CheckOrigin(r))

	r.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, upgrader.CheckOrigin(r))
	assert.False(t, NewUpgrader(nil).CheckOrigin(r), "empty allow-list admits same origin only")

	r.Header.Set("Origin", "http://example.com")
	assert.True(t, NewUpgrader(nil).CheckOrigin(r))

	r.Header.Del("Origin")
	assert.True(t, NewUpgrader(nil).CheckOrigin(r))
}

func TestMultipartNamesAreChecked(t *testing.T) {
	injected := "evil.png\"\r\nX-Injected: yes\r\nContent-Type: text/html"
	data := base64.StdEncoding.EncodeToString([]byte("png"))

	relayBody := func(field, fileName, filename string) []byte {
		body, err := json.Marshal(map[string]interface{}{
			"endpoint": "/claims",
			"fields":   []map[string]string{{"name": field, "value": "A1"}},
			"files":    []map[string]string{{"name": fileName, "filename": filename, "data": data}},
		})
		require.NoError(t, err)
		return body
	}

	tests := []struct {
		name string
		body []byte
	}{
		{"filename with quote and CRLF", relayBody("order_id", "proof", injected)},
		{"filename with quote", relayBody("order_id", "proof", `a"b.png`)},
		{"file name with CRLF", relayBody("order_id", "proof\r\nX-Injected: yes", "p.png")},
		{"field name with quote", relayBody(`order"id`, "proof", "p.png")},
		{"field name with control character", relayBody("order\x00id", "proof", "p.png")},
	}

	for _, tt := range tests {
		t.Run("relay "+tt.name, func(t *testing.T) {
			relayer := &fakeRelayer{}
			w := serve(newRouter(&fakeCredentials{}, relayer), http.MethodPost, "/v1/relay", tt.body, "application/json")
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), "must not contain quotes or control characters")
			assert.Empty(t, relayer.calls)
		})
	}

	signedIn := credentials.SessionView{State: credentials.StateActive, Authenticated: true}
	ticketTests := []struct {
		name  string
		build func(mw *multipart.Writer) error
	}{
		{"ticket filename with quote", func(mw *multipart.Writer) error {
			_, err := mw.CreateFormFile("attachments", `a"b.png`)
			return err
		}},
		{"ticket field name with quote", func(mw *multipart.Writer) error {
			return mw.WriteField(`sub"ject`, "Missing cashback")
		}},
	}

	for _, tt := range ticketTests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			mw := multipart.NewWriter(&buf)
			require.NoError(t, tt.build(mw))
			require.NoError(t, mw.Close())

			relayer := &fakeRelayer{}
			w := serve(newRouter(&fakeCredentials{view: signedIn}, relayer), http.MethodPost, "/v1/tickets", buf.Bytes(), mw.FormDataContentType())
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Empty(t, relayer.calls)
		})
	}
}

func TestRouteGuards(t *testing.T) {
	relayBody := []byte(`{"endpoint":"/profile"}`)

	tests := []struct {
		name        string
		path        string
		body        []byte
		contentType string
		headers     map[string]string
		wantStatus  int
	}{
		{"relay as text/plain form", "/v1/relay", relayBody, "text/plain", nil, http.StatusUnsupportedMediaType},
		{"relay without content type", "/v1/relay", relayBody, "", nil, http.StatusUnsupportedMediaType},
		{"otp as urlencoded form", "/v1/auth/otp", []byte(`phone=9876543210`), "application/x-www-form-urlencoded", nil, http.StatusUnsupportedMediaType},
		{"verify as text/plain form", "/v1/auth/verify", []byte(`{}`), "text/plain", nil, http.StatusUnsupportedMediaType},
		{"relay from foreign origin", "/v1/relay", relayBody, "application/json", map[string]string{"Origin": "https://evil.example.com"}, http.StatusForbidden},
		{"relay marked cross-site", "/v1/relay", relayBody, "application/json", map[string]string{"Sec-Fetch-Site": "cross-site"}, http.StatusForbidden},
		{"logout from foreign origin", "/v1/auth/logout", nil, "", map[string]string{"Origin": "https://evil.example.com"}, http.StatusForbidden},
		{"tickets from foreign origin", "/v1/tickets", nil, "multipart/form-data; boundary=x", map[string]string{"Origin": "https://evil.example.com"}, http.StatusForbidden},
		{"relay from same origin", "/v1/relay", relayBody, "application/json; charset=utf-8", map[string]string{"Origin": "http://example.com"}, http.StatusOK},
		{"logout without origin", "/v1/auth/logout", nil, "", nil, http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			creds := &fakeCredentials{view: credentials.SessionView{State: credentials.StateActive, Authenticated: true}}
			relayer := &fakeRelayer{result: relay.Result{OK: true, Status: 200}}

			r := httptest.NewRequest(http.MethodPost, tt.path, bytes.NewReader(tt.body))
			if tt.contentType != "" {
				r.Header.Set("Content-Type", tt.contentType)
			}
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			w := httptest.NewRecorder()
			newRouter(creds, relayer).ServeHTTP(w, r)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus >= 400 {
				assert.Empty(t, relayer.calls)
				assert.Zero(t, creds.logouts)
			}
		})
	}
}

func TestRequestValidation(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		body    string
		wantMsg string
	}{
		{"short phone", "/v1/auth/otp", `{"phone":"12"}`, "phone is invalid"},
		{"missing phone", "/v1/auth/otp", `{}`, "phone is required"},
		{"non numeric otp", "/v1/auth/verify", `{"phone":"1","otp_guid":"g","otp":"12ab"}`, "otp is invalid"},
		{"bad email", "/v1/auth/verify", `{"phone":"1","otp_guid":"g","otp":"1234","email":"nope"}`, "email is invalid"},
		{"relative endpoint", "/v1/relay", `{"endpoint":"profile"}`, "endpoint is invalid"},
		{"unknown scope", "/v1/relay", `{"endpoint":"/profile","scope":"admin"}`, "scope must be one of user guest none"},
		{"unnamed field", "/v1/relay", `{"endpoint":"/claims","fields":[{"value":"x"}]}`, "name is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			relayer := &fakeRelayer{}
			w := serve(newRouter(&fakeCredentials{}, relayer), http.MethodPost, tt.path, []byte(tt.body), "application/json")
			assert.Equal(t, http.StatusBadRequest, w.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.wantMsg, body["error"])
			assert.Empty(t, relayer.calls)
		})
	}
}

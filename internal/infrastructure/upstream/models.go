package upstream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// UserProfile is the account summary returned alongside user tokens.
type UserProfile struct {
	ID        string `json:"id"`
	Phone     string `json:"phone"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
}

// TokenGrant is a token issuance resolved from any accepted response shape.
// ExpiresIn is zero when the server did not state a lifetime.
type TokenGrant struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
	User         *UserProfile
}

// OTPTicket identifies an issued one-time password.
type OTPTicket struct {
	GUID string
}

// tokenFields accepts both snake_case and camelCase spellings.
type tokenFields struct {
	AccessToken       string          `json:"access_token"`
	AccessTokenCamel  string          `json:"accessToken"`
	Token             string          `json:"token"`
	RefreshToken      string          `json:"refresh_token"`
	RefreshTokenCamel string          `json:"refreshToken"`
	ExpiresIn         json.Number     `json:"expires_in"`
	ExpiresInCamel    json.Number     `json:"expiresIn"`
	User              json.RawMessage `json:"user"`
}

func (f tokenFields) accessToken() string {
	for _, v := range []string{f.AccessToken, f.AccessTokenCamel, f.Token} {
		if v != "" {
			return v
		}
	}
	return ""
}

func (f tokenFields) grant() (TokenGrant, error) {
	g := TokenGrant{AccessToken: f.accessToken(), RefreshToken: f.RefreshToken}
	if g.RefreshToken == "" {
		g.RefreshToken = f.RefreshTokenCamel
	}

	expires := f.ExpiresIn
	if expires == "" {
		expires = f.ExpiresInCamel
	}
	if expires != "" {
		secs, err := expires.Int64()
		if err != nil {
			return TokenGrant{}, fmt.Errorf("%w: expires_in %q", ErrMalformed, expires)
		}
		if secs > 0 {
			g.ExpiresIn = time.Duration(secs) * time.Second
		}
	}

	if len(f.User) > 0 && !bytes.Equal(f.User, []byte("null")) {
		user, err := decodeUser(f.User)
		if err != nil {
			return TokenGrant{}, err
		}
		g.User = user
	}

	return g, nil
}

// tokenEnvelope lists the accepted token response variants:
// flat fields, JSON-API data.attributes, and a plain data object.
type tokenEnvelope struct {
	tokenFields
	Data *struct {
		tokenFields
		Attributes *tokenFields `json:"attributes"`
	} `json:"data"`
}

func decodeTokenGrant(data json.RawMessage) (TokenGrant, error) {
	var env tokenEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return TokenGrant{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	candidates := []tokenFields{env.tokenFields}
	if env.Data != nil {
		if env.Data.Attributes != nil {
			candidates = append(candidates, *env.Data.Attributes)
		}
		candidates = append(candidates, env.Data.tokenFields)
	}

	for _, c := range candidates {
		if c.accessToken() == "" {
			continue
		}
		return c.grant()
	}

	return TokenGrant{}, fmt.Errorf("%w: no access token in response", ErrMalformed)
}

type userFields struct {
	ID           json.RawMessage `json:"id"`
	Phone        string          `json:"phone"`
	Mobile       string          `json:"mobile"`
	Email        string          `json:"email"`
	FirstName    string          `json:"first_name"`
	FirstNameAlt string          `json:"firstName"`
	Name         string          `json:"name"`
	Attributes   *userFields     `json:"attributes"`
}

func decodeUser(data json.RawMessage) (*UserProfile, error) {
	var u userFields
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("%w: user: %v", ErrMalformed, err)
	}

	profile := &UserProfile{ID: rawID(u.ID)}
	fields := u
	if u.Attributes != nil {
		fields = *u.Attributes
		if profile.ID == "" {
			profile.ID = rawID(fields.ID)
		}
	}

	profile.Phone = firstNonEmpty(fields.Phone, fields.Mobile)
	profile.Email = fields.Email
	profile.FirstName = firstNonEmpty(fields.FirstName, fields.FirstNameAlt, firstWord(fields.Name))
	return profile, nil
}

// otpEnvelope lists the accepted OTP issuance variants.
type otpEnvelope struct {
	OTPGuid string `json:"otp_guid"`
	GUID    string `json:"guid"`
	Data    *struct {
		OTPGuid    string `json:"otp_guid"`
		GUID       string `json:"guid"`
		Attributes *struct {
			OTPGuid string `json:"otp_guid"`
			GUID    string `json:"guid"`
		} `json:"attributes"`
	} `json:"data"`
}

func decodeOTPTicket(data json.RawMessage) (OTPTicket, error) {
	var env otpEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return OTPTicket{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	candidates := []string{env.OTPGuid, env.GUID}
	if env.Data != nil {
		if env.Data.Attributes != nil {
			candidates = append(candidates, env.Data.Attributes.OTPGuid, env.Data.Attributes.GUID)
		}
		candidates = append(candidates, env.Data.OTPGuid, env.Data.GUID)
	}

	if guid := firstNonEmpty(candidates...); guid != "" {
		return OTPTicket{GUID: guid}, nil
	}
	return OTPTicket{}, fmt.Errorf("%w: no otp guid in response", ErrMalformed)
}

func rawID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var n json.Number
	if json.Unmarshal(raw, &n) == nil {
		return n.String()
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

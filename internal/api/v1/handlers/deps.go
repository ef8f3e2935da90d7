package handlers

import (
	"context"

	"github.com/rewards/gateway/internal/credentials"
	"github.com/rewards/gateway/internal/relay"
)

// Credentials is the credential manager surface the handlers use.
type Credentials interface {
	AcquireGuest(ctx context.Context) (credentials.Credential, error)
	AcquireUser(ctx context.Context) (credentials.Credential, error)
	RequestOTP(ctx context.Context, phone string) credentials.OTPOutcome
	Login(ctx context.Context, proof credentials.IdentityProof) (credentials.SessionView, error)
	Logout(ctx context.Context)
	Session() credentials.SessionView
	Subscribe() (<-chan credentials.SessionView, func())
}

type Relayer interface {
	Call(ctx context.Context, req relay.Request, token string) relay.Result
}

package interfaces

import (
	"context"

	"mentorsync/pkg/types"
)

// ParticipantDirectory resolves who a caller is and whether they belong to a session.
type ParticipantDirectory interface {
	// VerifyCredential returns an AuthError when the token is missing, malformed,
	// expired or rejected by the identity service.
	VerifyCredential(ctx context.Context, token string) (*types.Identity, error)

	// IsAuthorizedParticipant is checked on join and again on every chat or code event.
	IsAuthorizedParticipant(ctx context.Context, userID, sessionID string) (bool, error)

	// ResolveRole reads the role from token metadata first and falls back to the
	// profile directory. An unknown role resolves to "".
	ResolveRole(ctx context.Context, claims *types.Claims) types.Role
}

// TokenVerifier turns a bearer token into claims. The directory owns role and
// display-name resolution on top of it.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*types.Claims, error)
}

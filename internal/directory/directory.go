// Package directory answers who a caller is and which sessions they belong to.
// It sits between the realtime gateway and the identity service plus the
// participant tables.
package directory

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"mentorsync/pkg/interfaces"
	"mentorsync/pkg/types"
)

type Directory struct {
	verifier interfaces.TokenVerifier
	store    interfaces.ParticipantStore
	log      *zap.Logger
}

func New(verifier interfaces.TokenVerifier, store interfaces.ParticipantStore, log *zap.Logger) *Directory {
	return &Directory{verifier: verifier, store: store, log: log}
}

// VerifyCredential resolves token into an Identity. Context cancellation and
// deadlines are returned unwrapped so callers can tell a slow identity service
// from a rejected token.
func (d *Directory) VerifyCredential(ctx context.Context, token string) (*types.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, types.NewAuthError(types.MsgMissingToken, nil)
	}

	claims, err := d.verifier.Verify(ctx, token)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, types.NewAuthError(types.MsgInvalidToken, err)
	}
	if claims == nil || claims.UserID == "" {
		return nil, types.NewAuthError(types.MsgInvalidToken, nil)
	}

	identity := &types.Identity{
		UserID: claims.UserID,
		Email:  claims.Email,
		Name:   displayName(claims),
		Role:   d.ResolveRole(ctx, claims),
	}
	return identity, nil
}

func (d *Directory) IsAuthorizedParticipant(ctx context.Context, userID, sessionID string) (bool, error) {
	if userID == "" || sessionID == "" {
		return false, nil
	}
	return d.store.IsParticipant(ctx, sessionID, userID)
}

// ResolveRole checks user_metadata.role, app_metadata.role and finally the
// profile row. Lookup failures are logged and resolve to "".
func (d *Directory) ResolveRole(ctx context.Context, claims *types.Claims) types.Role {
	if claims == nil {
		return ""
	}
	if role := metadataRole(claims.UserMetadata); role != "" {
		return role
	}
	if role := metadataRole(claims.AppMetadata); role != "" {
		return role
	}

	profile, err := d.store.GetProfile(ctx, claims.UserID)
	if err != nil {
		if !errors.Is(err, interfaces.ErrProfileNotFound) {
			d.log.Warn("profile lookup failed",
				zap.String("user_id", claims.UserID),
				zap.Error(err))
		}
		return ""
	}
	return profile.Role
}

func metadataRole(meta map[string]interface{}) types.Role {
	s, _ := meta["role"].(string)
	return types.ParseRole(s)
}

func displayName(claims *types.Claims) string {
	if name, ok := claims.UserMetadata["name"].(string); ok && strings.TrimSpace(name) != "" {
		return strings.TrimSpace(name)
	}
	return claims.Email
}

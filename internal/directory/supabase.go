package directory

import (
	"context"
	"strings"

	"github.com/supabase-community/auth-go"

	"mentorsync/pkg/types"
)

// SupabaseVerifier asks the Supabase auth service who owns a token.
type SupabaseVerifier struct {
	client auth.Client
}

// NewSupabaseVerifier targets <baseURL>/auth/v1 with the service role key as the
// API key.
func NewSupabaseVerifier(baseURL, serviceRoleKey string) *SupabaseVerifier {
	client := auth.New("", serviceRoleKey).
		WithCustomAuthURL(strings.TrimRight(baseURL, "/") + "/auth/v1")
	return &SupabaseVerifier{client: client}
}

// Verify calls GetUser on a separate goroutine so ctx can abandon a slow
// identity service. The abandoned call finishes on its own.
func (v *SupabaseVerifier) Verify(ctx context.Context, token string) (*types.Claims, error) {
	type result struct {
		claims *types.Claims
		err    error
	}
	done := make(chan result, 1)

	go func() {
		resp, err := v.client.WithToken(token).GetUser()
		if err != nil {
			done <- result{err: err}
			return
		}
		done <- result{claims: &types.Claims{
			UserID:       resp.ID.String(),
			Email:        resp.Email,
			UserMetadata: resp.UserMetadata,
			AppMetadata:  resp.AppMetadata,
		}}
	}()

	select {
	case r := <-done:
		return r.claims, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

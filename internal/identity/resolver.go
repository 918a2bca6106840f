// Package identity maps inbound sender addresses to known users.
package identity

import (
	"context"
	"fmt"

	"github.com/nhle/email-gateway/internal/store"
)

// ResolvedIdentity is the outcome of sender resolution. Resolution is
// binary: either a directory user matched exactly, or nothing did.
type ResolvedIdentity struct {
	// Resolved reports whether the sender matched a directory user.
	Resolved bool

	// UserID is the matched user's id; empty when unresolved.
	UserID string

	// Email is the matched user's stored address; empty when
	// unresolved.
	Email string
}

// Resolver resolves sender addresses against the user directory.
// Matching is a case-insensitive exact comparison against the stored
// email column. There is deliberately no fuzzy or domain-based
// matching: a near-miss must resolve to nothing, never to someone
// else's identity.
type Resolver struct {
	store store.Store
}

// NewResolver creates a resolver backed by the given store.
func NewResolver(s store.Store) *Resolver {
	return &Resolver{store: s}
}

// Resolve looks up the sender address in the user directory. An
// address with no exact match yields an unresolved identity; callers
// must treat that as a hard stop.
func (r *Resolver) Resolve(
	ctx context.Context, fromAddress string,
) (ResolvedIdentity, error) {
	user, err := r.store.GetUserByEmail(ctx, fromAddress)
	if err != nil {
		return ResolvedIdentity{}, fmt.Errorf("resolving %s: %w", fromAddress, err)
	}
	if user == nil {
		return ResolvedIdentity{}, nil
	}

	return ResolvedIdentity{
		Resolved: true,
		UserID:   user.ID,
		Email:    user.Email,
	}, nil
}

package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/warp/rent-engine/generic"
)

// EnsurePolicy returns the user's policy, creating DefaultPolicy on first
// access.
func EnsurePolicy(ctx context.Context, store PolicyStore, user generic.UserID, now time.Time) (Policy, error) {
	if user == "" {
		return Policy{}, generic.NewInvalidInput("user_id", "required")
	}
	pol, err := store.GetPolicy(ctx, user)
	if err == nil {
		return pol, nil
	}
	if !errors.Is(err, generic.ErrNotFound) {
		return Policy{}, fmt.Errorf("load policy for %s: %w", user, err)
	}

	pol = DefaultPolicy(user)
	pol.UpdatedAt = now.UTC()
	if err := store.UpsertPolicy(ctx, pol); err != nil {
		return Policy{}, fmt.Errorf("create default policy for %s: %w", user, err)
	}
	return pol, nil
}

// SavePolicy validates and stores a user's policy.
func SavePolicy(ctx context.Context, store PolicyStore, pol Policy, now time.Time) (Policy, error) {
	if err := pol.Validate(); err != nil {
		return Policy{}, err
	}
	pol.UpdatedAt = now.UTC()
	if err := store.UpsertPolicy(ctx, pol); err != nil {
		return Policy{}, fmt.Errorf("store policy for %s: %w", pol.UserID, err)
	}
	return pol, nil
}

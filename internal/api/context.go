package api

import (
	"context"

	"github.com/watchsync/roomhub/internal/types"
)

type contextKey string

const identityKey contextKey = "identity"

func withIdentity(ctx context.Context, id types.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

func identityFromContext(ctx context.Context) (types.Identity, bool) {
	id, ok := ctx.Value(identityKey).(types.Identity)
	return id, ok
}

package tool

import "context"

// AuthContext is the credential information the serving layer attaches to a
// call after performing its own handshake.
type AuthContext struct {
	Kind      AuthKind
	Principal string
	Scopes    []string
}

type authContextKey struct{}
type metadataContextKey struct{}

// WithAuth attaches an auth context to ctx.
func WithAuth(ctx context.Context, auth AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, auth)
}

// AuthFromContext returns the auth context attached with WithAuth.
func AuthFromContext(ctx context.Context) (AuthContext, bool) {
	auth, ok := ctx.Value(authContextKey{}).(AuthContext)
	return auth, ok
}

// WithMetadata attaches caller (agent) metadata that is copied into call events.
func WithMetadata(ctx context.Context, metadata map[string]any) context.Context {
	return context.WithValue(ctx, metadataContextKey{}, metadata)
}

// MetadataFromContext returns metadata attached with WithMetadata.
func MetadataFromContext(ctx context.Context) map[string]any {
	md, _ := ctx.Value(metadataContextKey{}).(map[string]any)
	return md
}

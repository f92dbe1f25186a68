package shared

import "context"

type sessionKey struct{}

// ContextWithSession attaches the authenticated session to the request
// context.
func ContextWithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, sess)
}

// SessionFromContext returns the session attached by the session middleware,
// or nil for an anonymous request.
func SessionFromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(sessionKey{}).(*Session)
	return sess
}

package httpapi

import "context"

type authContextKey string

const authUserKey authContextKey = "authUser"

// AuthUser represents the authenticated principal in context.
type AuthUser struct {
	UserID string
	Name   string
}

func withAuthUser(ctx context.Context, u *AuthUser) context.Context {
	if u == nil {
		return ctx
	}
	return context.WithValue(ctx, authUserKey, u)
}

func authUserFromContext(ctx context.Context) *AuthUser {
	if v, ok := ctx.Value(authUserKey).(*AuthUser); ok {
		return v
	}
	return nil
}

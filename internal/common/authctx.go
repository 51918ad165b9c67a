package common

import "context"

type ctxKey string

const registerIDKey ctxKey = "auth/register-id"

// WithRegisterID stores the authenticated register (device) identifier on the context.
func WithRegisterID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, registerIDKey, id)
}

// RegisterID extracts the authenticated register identifier from the context if present.
func RegisterID(ctx context.Context) (string, bool) {
	v := ctx.Value(registerIDKey)
	if v == nil {
		return "", false
	}
	id, ok := v.(string)
	return id, ok && id != ""
}

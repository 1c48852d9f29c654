package auth

import "context"

type accountContextKey struct{}
type tokenContextKey struct{}

// ContextWithAccount attaches the resolved account to the context.
func ContextWithAccount(ctx context.Context, account *Account) context.Context {
	if account == nil {
		return ctx
	}
	return context.WithValue(ctx, accountContextKey{}, account)
}

// AccountFromContext extracts the resolved account, or nil when the request
// carried no valid credential.
func AccountFromContext(ctx context.Context) *Account {
	if ctx == nil {
		return nil
	}
	v, _ := ctx.Value(accountContextKey{}).(*Account)
	return v
}

// ContextWithToken stores the raw bearer token inside the context.
func ContextWithToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenContextKey{}, token)
}

// TokenFromContext returns the bearer token if it was previously attached.
func TokenFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(tokenContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

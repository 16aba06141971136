package authctx

import (
	"context"
)

// SystemUser используется, когда действие не привязано к пользователю (фоновые задачи, тесты)
const SystemUser = "system"

type ctxKeyUserID struct{}

var userIDKey = ctxKeyUserID{}

// WithUserID сохраняет id действующего пользователя в контексте (используется HTTP middleware)
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFromContext возвращает id пользователя из контекста, если он был установлен
func UserIDFromContext(ctx context.Context) (string, bool) {
	uid, ok := ctx.Value(userIDKey).(string)
	return uid, ok && uid != ""
}

// ActorFromContext возвращает id пользователя или SystemUser
func ActorFromContext(ctx context.Context) string {
	if uid, ok := UserIDFromContext(ctx); ok {
		return uid
	}
	return SystemUser
}

package middleware

import (
	"net/http"
	"strings"

	"github.com/shestoi/backoffice/internal/authctx"
)

// WithUserID — HTTP middleware: читает заголовок x-user-id, при отсутствии возвращает 401, иначе кладёт id в context
func WithUserID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid := strings.TrimSpace(r.Header.Get("x-user-id"))
		if uid == "" {
			http.Error(w, "user_id is required", http.StatusUnauthorized)
			return
		}
		ctx := authctx.WithUserID(r.Context(), uid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

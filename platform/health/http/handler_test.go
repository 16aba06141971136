package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHandler(t *testing.T) {
	tests := []struct {
		name       string
		readiness  func() bool
		wantStatus int
		wantBody   string
	}{
		{name: "no readiness", wantStatus: http.StatusOK, wantBody: `{"status":"ok"}`},
		{name: "ready", readiness: func() bool { return true }, wantStatus: http.StatusOK, wantBody: `{"status":"ok"}`},
		{name: "not ready", readiness: func() bool { return false }, wantStatus: http.StatusServiceUnavailable, wantBody: `{"status":"not ready"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			Handler(tt.readiness)(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.JSONEq(t, tt.wantBody, rec.Body.String())
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		})
	}
}

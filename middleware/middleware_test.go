package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-kit/log"
	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/require"
)

func TestIsAuthorized(t *testing.T) {
	var called bool
	next := func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		called = true
		w.WriteHeader(http.StatusOK)
	}
	handler := IsAuthorized("IAmAuthorized", next)

	tests := []struct {
		name           string
		authHeader     string
		expectedStatus int
		expectCalled   bool
	}{
		{"no header", "", http.StatusUnauthorized, false},
		{"wrong token", "Bearer gibberish", http.StatusUnauthorized, false},
		{"valid token", "Bearer IAmAuthorized", http.StatusOK, true},
		{"valid token without scheme", "IAmAuthorized", http.StatusOK, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called = false
			req := httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rec := httptest.NewRecorder()
			handler(rec, req, nil)
			require.Equal(t, tt.expectedStatus, rec.Code)
			require.Equal(t, tt.expectCalled, called)
		})
	}
}

func TestLogRequestRecoversFromPanic(t *testing.T) {
	handler := LogRequest(log.NewNopLogger())(func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		panic("handler blew up")
	})

	req := httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
	rec := httptest.NewRecorder()
	require.NotPanics(t, func() { handler(rec, req, nil) })
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

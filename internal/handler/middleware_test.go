package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func apiKeyRouter(key string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/guarded", APIKeyAuth(key), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return r
}

func TestAPIKeyAuth(t *testing.T) {
	cases := []struct {
		name     string
		key      string
		header   string
		wantCode int
	}{
		{"disabled when no key configured", "", "", http.StatusOK},
		{"missing header", "secret", "", http.StatusUnauthorized},
		{"wrong key", "secret", "nope", http.StatusForbidden},
		{"correct key", "secret", "secret", http.StatusOK},
		{"correct key with whitespace", "secret", "  secret  ", http.StatusOK},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := apiKeyRouter(tc.key)

			w := httptest.NewRecorder()
			req, _ := http.NewRequest(http.MethodPost, "/guarded", nil)
			if tc.header != "" {
				req.Header.Set(apiKeyHeader, tc.header)
			}
			r.ServeHTTP(w, req)

			if w.Code != tc.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tc.wantCode)
			}
		})
	}
}

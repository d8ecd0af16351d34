package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/snapmatch/pkg/dto"
)

func serve(key, header string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequireKey(key))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set(Header, header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequireKey(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		header   string
		want     int
		wantCode string
	}{
		{"disabled", "", "", http.StatusOK, ""},
		{"missing", "k3y", "", http.StatusUnauthorized, "unauthorized"},
		{"wrong", "k3y", "nope", http.StatusForbidden, "forbidden"},
		{"valid", "k3y", "k3y", http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(tt.key, tt.header)
			assert.Equal(t, tt.want, w.Code)
			if tt.wantCode == "" {
				return
			}
			var resp dto.ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantCode, resp.Code)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

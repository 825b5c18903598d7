package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestCodedErrors(t *testing.T) {
	tests := []struct {
		name   string
		write  func(w http.ResponseWriter)
		status int
		code   string
	}{
		{"not found", func(w http.ResponseWriter) { NotFound(w, "GROUP_NOT_FOUND", "group not found") }, http.StatusNotFound, "GROUP_NOT_FOUND"},
		{"conflict", func(w http.ResponseWriter) { Conflict(w, "ALREADY_FRIENDS", "already friends") }, http.StatusConflict, "ALREADY_FRIENDS"},
		{"rate limited", func(w http.ResponseWriter) { TooManyRequests(w, "slow down") }, http.StatusTooManyRequests, "RATE_LIMITED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.write(rec)

			assert.Equal(t, tt.status, rec.Code)
			body := decode(t, rec)
			assert.Equal(t, false, body["success"])
			errInfo := body["error"].(map[string]interface{})
			assert.Equal(t, tt.code, errInfo["code"])
			assert.NotContains(t, errInfo, "fields")
		})
	}
}

func TestInvalid(t *testing.T) {
	rec := httptest.NewRecorder()
	Invalid(rec, "name: is required", []map[string]string{{"field": "name", "message": "is required"}})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	errInfo := decode(t, rec)["error"].(map[string]interface{})
	assert.Equal(t, "VALIDATION_ERROR", errInfo["code"])
	assert.Equal(t, []interface{}{map[string]interface{}{"field": "name", "message": "is required"}}, errInfo["fields"])
}

func TestOK(t *testing.T) {
	rec := httptest.NewRecorder()
	OK(rec, map[string]int{"closed": 2})

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, map[string]interface{}{"closed": float64(2)}, body["data"])
	assert.NotContains(t, body, "error")
}

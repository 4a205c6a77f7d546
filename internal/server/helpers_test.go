package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSON(rec, http.StatusCreated, map[string]string{"id": "abc"})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "abc", body["id"])
}

func TestWriteJSON_NilBody(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSON(rec, http.StatusNoContent, nil)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.Bytes())
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, http.StatusBadRequest, "bad input")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "bad input", body["error"])
}

func TestDecodeJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"AAPL"}`))
	var v struct {
		Name string `json:"name"`
	}
	require.NoError(t, decodeJSON(req, &v))
	assert.Equal(t, "AAPL", v.Name)
}

func TestDecodeJSON_RejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"AAPL","bogus":1}`))
	var v struct {
		Name string `json:"name"`
	}
	err := decodeJSON(req, &v)
	require.Error(t, err)
}

func TestWriteSSE(t *testing.T) {
	var buf bytes.Buffer
	rec := httptest.NewRecorder()
	rec.Body = &buf
	writeSSE(rec, "bar", map[string]string{"symbol": "AAPL"})

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "event: bar\ndata: "))
	assert.True(t, strings.HasSuffix(out, "\n\n"))
	assert.Contains(t, out, `"symbol":"AAPL"`)
}

package ari

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendCommandPostsJSONBodyAndQueryParams(t *testing.T) {
	var gotMethod, gotPath, gotQuery string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotQuery = r.URL.Query().Get("mohClass")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"chan-42"}`))
	}))
	defer server.Close()

	c := NewRESTClient(Config{BaseURL: server.URL, Username: "u", Password: "p"}, nil)
	result, err := c.SendCommand(context.Background(), "POST", "channels/chan-1/moh", map[string]string{"mohClass": "default"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "POST", gotMethod)
	assert.Equal(t, "/channels/chan-1/moh", gotPath)
	assert.Equal(t, "default", gotQuery)
	assert.Equal(t, "chan-42", result["id"])
}

func TestSendCommandReturnsErrorOnNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"boom"}`))
	}))
	defer server.Close()

	c := NewRESTClient(Config{BaseURL: server.URL}, nil)
	_, err := c.SendCommand(context.Background(), "GET", "channels/chan-1", nil, nil)
	assert.Error(t, err)
}

func TestSendCommandEncodesJSONBody(t *testing.T) {
	var receivedName string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		receivedName, _ = body["endpoint"].(string)
		w.Write([]byte(`{"id":"agent-1"}`))
	}))
	defer server.Close()

	c := NewRESTClient(Config{BaseURL: server.URL}, nil)
	_, err := c.SendCommand(context.Background(), "POST", "channels", nil, map[string]any{"endpoint": "PJSIP/6001"})
	require.NoError(t, err)
	assert.Equal(t, "PJSIP/6001", receivedName)
}

package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/botstudio/internal/auth"
	"github.com/aristath/botstudio/internal/domain"
)

type echoPayload struct {
	Value string `json:"value"`
}

func TestDo_SendsJSONWithCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/echo", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		var in echoPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		json.NewEncoder(w).Encode(echoPayload{Value: in.Value + "!"})
	}))
	defer server.Close()

	c := New(server.URL+"/", Options{Gate: auth.NewTokenGate("tok", zerolog.Nop())}, zerolog.Nop())

	var out echoPayload
	err := c.Do(context.Background(), "echo", http.MethodPost, "/api/echo", echoPayload{Value: "hi"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "hi!", out.Value)
}

func TestDo_StatusMapping(t *testing.T) {
	testCases := []struct {
		name     string
		status   int
		body     string
		sentinel error
		detail   string
	}{
		{"unauthorized", http.StatusUnauthorized, "", domain.ErrAuthExpired, ""},
		{"forbidden", http.StatusForbidden, "", domain.ErrAuthExpired, ""},
		{"not found", http.StatusNotFound, "", domain.ErrNotFound, ""},
		{"server error with detail", http.StatusInternalServerError, `{"detail":"pipeline crashed"}`, domain.ErrRemoteFailure, "pipeline crashed"},
		{"bad request with error field", http.StatusBadRequest, `{"error":"bad mode"}`, domain.ErrRemoteFailure, "bad mode"},
		{"plain text body", http.StatusBadGateway, "upstream down\n", domain.ErrRemoteFailure, "upstream down"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer server.Close()

			c := New(server.URL, Options{}, zerolog.Nop())
			err := c.Do(context.Background(), "op", http.MethodGet, "/x", nil, nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.sentinel)
			if tc.detail != "" {
				assert.Equal(t, tc.detail, domain.UserMessage(err, ""))
			}
		})
	}
}

func TestDo_TransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	c := New(url, Options{Timeout: time.Second}, zerolog.Nop())
	err := c.Do(context.Background(), "op", http.MethodGet, "/x", nil, nil)
	assert.ErrorIs(t, err, domain.ErrTransport)
}

func TestDo_EmptyBodyIsNotAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	c := New(server.URL, Options{}, zerolog.Nop())
	var out echoPayload
	assert.NoError(t, c.Do(context.Background(), "op", http.MethodPost, "/x", nil, &out))
}

func TestDo_CancelledContextWhileRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	c := New(server.URL, Options{RateLimit: 0.001}, zerolog.Nop())
	require.NoError(t, c.Do(context.Background(), "op", http.MethodGet, "/x", nil, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := c.Do(ctx, "op", http.MethodGet, "/x", nil, nil)
	assert.ErrorIs(t, err, domain.ErrTransport)
}

func TestExtractDetail(t *testing.T) {
	assert.Equal(t, "a", ExtractDetail([]byte(`{"detail":"a","error":"b"}`)))
	assert.Equal(t, "c", ExtractDetail([]byte(`{"message":"c"}`)))
	assert.Equal(t, "", ExtractDetail([]byte(`{"detail":[{"loc":"x"}]}`)))
	assert.Equal(t, "oops", ExtractDetail([]byte(" oops ")))
}

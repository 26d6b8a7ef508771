package channel_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whatsapplogin/wal/internal/channel"
)

func TestCloudAPISendSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v18.0/10987654321/messages", r.URL.Path)
		assert.Equal(t, "Bearer EAAG-token", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "whatsapp", body["messaging_product"])
		assert.Equal(t, "individual", body["recipient_type"])
		assert.Equal(t, "15550001", body["to"])
		assert.Equal(t, "text", body["type"])
		text := body["text"].(map[string]any)
		assert.Equal(t, false, text["preview_url"])
		assert.Equal(t, "Code: 4821", text["body"])

		w.Write([]byte(`{"messaging_product":"whatsapp","messages":[{"id":"wamid.HBg"}]}`))
	}))
	defer srv.Close()

	s := channel.NewCloudAPISender("10987654321", "EAAG-token", srv.URL, "", nil)
	r, err := s.SendText(t.Context(), "15550001", "Code: 4821")
	require.NoError(t, err)
	assert.Equal(t, "wamid.HBg", r.MessageID)
	assert.Equal(t, "accepted", r.Status)
}

func TestCloudAPICustomVersion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v21.0/42/messages", r.URL.Path)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	s := channel.NewCloudAPISender("42", "tok", srv.URL, "v21.0", nil)
	_, err := s.SendText(t.Context(), "15550001", "x")
	require.NoError(t, err)
}

func TestCloudAPISendGraphError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"Invalid OAuth access token.","type":"OAuthException","code":190}}`))
	}))
	defer srv.Close()

	s := channel.NewCloudAPISender("42", "bad", srv.URL, "", nil)
	_, err := s.SendText(t.Context(), "15550001", "x")

	var sendErr *channel.SendError
	require.ErrorAs(t, err, &sendErr)
	assert.Equal(t, http.StatusUnauthorized, sendErr.Status)
	assert.Equal(t, "Invalid OAuth access token.", sendErr.Reason)
}

func TestCloudAPISendStringError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"recipient not allowed"}`))
	}))
	defer srv.Close()

	s := channel.NewCloudAPISender("42", "tok", srv.URL, "", nil)
	_, err := s.SendText(t.Context(), "15550001", "x")

	var sendErr *channel.SendError
	require.ErrorAs(t, err, &sendErr)
	assert.Equal(t, "recipient not allowed", sendErr.Reason)
}

func TestCloudAPISendUndecodableError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`oops`))
	}))
	defer srv.Close()

	s := channel.NewCloudAPISender("42", "tok", srv.URL, "", nil)
	_, err := s.SendText(t.Context(), "15550001", "x")

	var sendErr *channel.SendError
	require.ErrorAs(t, err, &sendErr)
	assert.Empty(t, sendErr.Reason)
	assert.Equal(t, http.StatusInternalServerError, sendErr.Status)
}

func TestCloudAPIImplementsSender(t *testing.T) {
	var _ channel.Sender = (*channel.CloudAPISender)(nil)
}

// Package channel delivers plain text messages to phone numbers over the
// messaging backends wal supports. Channels know nothing about verification
// codes; providers and the gateway format the text before handing it over.
package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultTimeout bounds every outbound channel request when the caller does
// not supply its own *http.Client.
const DefaultTimeout = 15 * time.Second

// Receipt holds the outcome of a SendText call.
type Receipt struct {
	MessageID string
	Status    string
}

// Sender delivers a text message to a phone number.
type Sender interface {
	SendText(ctx context.Context, to, text string) (*Receipt, error)
}

// SendError is returned when a channel could not deliver a message, either
// because the upstream rejected it or because it could not be reached.
type SendError struct {
	Channel string
	Status  int    // HTTP status; 0 when no response was received
	Reason  string // upstream reason when the error body could be decoded
	Err     error
}

func (e *SendError) Error() string {
	switch {
	case e.Reason != "":
		return fmt.Sprintf("%s: error %d: %s", e.Channel, e.Status, e.Reason)
	case e.Status != 0:
		return fmt.Sprintf("%s: error %d", e.Channel, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Channel, e.Err)
	default:
		return e.Channel + ": send failed"
	}
}

func (e *SendError) Unwrap() error { return e.Err }

func clientOrDefault(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return &http.Client{Timeout: DefaultTimeout}
}

// postJSON sends payload as a JSON POST and returns the status code and the
// raw response body. Transport failures come back as *SendError.
func postJSON(ctx context.Context, client *http.Client, name, endpoint string, header http.Header, payload any) (int, []byte, error) {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, &SendError{Channel: name, Err: fmt.Errorf("marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return 0, nil, &SendError{Channel: name, Err: fmt.Errorf("build request: %w", err)}
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, &SendError{Channel: name, Err: fmt.Errorf("send request: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, &SendError{Channel: name, Status: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}
	return resp.StatusCode, respBody, nil
}

// jsonString returns raw as a Go string when it holds a non-empty JSON string.
func jsonString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return s
}

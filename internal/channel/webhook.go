package channel

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"
)

const webhookName = "webhook"

// WebhookSender hands messages to a custom HTTP endpoint. Each request body
// is signed with HMAC-SHA256 in the X-Webhook-Signature header.
type WebhookSender struct {
	url    string
	secret string
	client *http.Client
}

// NewWebhookSender creates a WebhookSender.
func NewWebhookSender(url, secret string, client *http.Client) *WebhookSender {
	return &WebhookSender{
		url:    url,
		secret: secret,
		client: clientOrDefault(client),
	}
}

// signedBody marshals the payload once so the signature covers the exact
// bytes that go on the wire.
type signedBody []byte

func (b signedBody) MarshalJSON() ([]byte, error) { return b, nil }

func (s *WebhookSender) SendText(ctx context.Context, to, text string) (*Receipt, error) {
	reqBody, err := json.Marshal(map[string]string{
		"to":        to,
		"text":      text,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, &SendError{Channel: webhookName, Err: err}
	}

	mac := hmac.New(sha256.New, []byte(s.secret))
	mac.Write(reqBody)

	header := http.Header{}
	header.Set("X-Webhook-Signature", hex.EncodeToString(mac.Sum(nil)))

	status, body, err := postJSON(ctx, s.client, webhookName, s.url, header, signedBody(reqBody))
	if err != nil {
		return nil, err
	}

	if status >= 300 {
		var errResp struct {
			Error json.RawMessage `json:"error"`
		}
		reason := ""
		if json.Unmarshal(body, &errResp) == nil {
			reason = jsonString(errResp.Error)
		}
		return nil, &SendError{Channel: webhookName, Status: status, Reason: reason}
	}

	var parsed struct {
		MessageID string `json:"message_id"`
	}
	_ = json.Unmarshal(body, &parsed)

	return &Receipt{
		MessageID: parsed.MessageID,
		Status:    "sent",
	}, nil
}

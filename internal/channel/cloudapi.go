package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

const (
	cloudAPIName           = "cloudapi"
	CloudAPIDefaultBaseURL = "https://graph.facebook.com"
	CloudAPIDefaultVersion = "v18.0"
)

// CloudAPISender sends text messages through the official WhatsApp Cloud API.
type CloudAPISender struct {
	phoneNumberID string
	accessToken   string
	baseURL       string
	version       string
	client        *http.Client
}

// NewCloudAPISender creates a CloudAPISender. Empty baseURL and version fall
// back to the Graph API production host and CloudAPIDefaultVersion, which lets
// tests point the sender at an httptest server.
func NewCloudAPISender(phoneNumberID, accessToken, baseURL, version string, client *http.Client) *CloudAPISender {
	if baseURL == "" {
		baseURL = CloudAPIDefaultBaseURL
	}
	if version == "" {
		version = CloudAPIDefaultVersion
	}
	return &CloudAPISender{
		phoneNumberID: phoneNumberID,
		accessToken:   accessToken,
		baseURL:       strings.TrimRight(baseURL, "/"),
		version:       version,
		client:        clientOrDefault(client),
	}
}

type cloudTextBody struct {
	PreviewURL bool   `json:"preview_url"`
	Body       string `json:"body"`
}

type cloudMessage struct {
	MessagingProduct string        `json:"messaging_product"`
	RecipientType    string        `json:"recipient_type"`
	To               string        `json:"to"`
	Type             string        `json:"type"`
	Text             cloudTextBody `json:"text"`
}

func (s *CloudAPISender) SendText(ctx context.Context, to, text string) (*Receipt, error) {
	endpoint := fmt.Sprintf("%s/%s/%s/messages", s.baseURL, s.version, url.PathEscape(s.phoneNumberID))

	header := http.Header{}
	header.Set("Authorization", "Bearer "+s.accessToken)

	status, body, err := postJSON(ctx, s.client, cloudAPIName, endpoint, header, cloudMessage{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "text",
		Text:             cloudTextBody{Body: text},
	})
	if err != nil {
		return nil, err
	}

	if status >= 300 {
		return nil, &SendError{Channel: cloudAPIName, Status: status, Reason: cloudErrorReason(body)}
	}

	var parsed struct {
		Messages []struct {
			ID            string `json:"id"`
			MessageStatus string `json:"message_status"`
		} `json:"messages"`
	}
	_ = json.Unmarshal(body, &parsed)

	r := &Receipt{Status: "accepted"}
	if len(parsed.Messages) > 0 {
		r.MessageID = parsed.Messages[0].ID
		if parsed.Messages[0].MessageStatus != "" {
			r.Status = parsed.Messages[0].MessageStatus
		}
	}
	return r, nil
}

// cloudErrorReason reads error.message from a Graph API error body, falling
// back to a bare string error field.
func cloudErrorReason(body []byte) string {
	var errResp struct {
		Error json.RawMessage `json:"error"`
	}
	if json.Unmarshal(body, &errResp) != nil || len(errResp.Error) == 0 {
		return ""
	}
	var graphErr struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(errResp.Error, &graphErr) == nil && graphErr.Message != "" {
		return graphErr.Message
	}
	return jsonString(errResp.Error)
}

package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
)

const evolutionName = "evolution"

// EvolutionSender sends text messages through an Evolution API instance.
type EvolutionSender struct {
	apiURL       string
	instanceName string
	apiKey       string
	client       *http.Client
}

// NewEvolutionSender creates an EvolutionSender for the given instance. A nil
// client gets a default one with DefaultTimeout.
func NewEvolutionSender(apiURL, instanceName, apiKey string, client *http.Client) *EvolutionSender {
	return &EvolutionSender{
		apiURL:       strings.TrimRight(apiURL, "/"),
		instanceName: instanceName,
		apiKey:       apiKey,
		client:       clientOrDefault(client),
	}
}

func (s *EvolutionSender) SendText(ctx context.Context, to, text string) (*Receipt, error) {
	endpoint := s.apiURL + "/message/sendText/" + url.PathEscape(s.instanceName)

	header := http.Header{}
	header.Set("apikey", s.apiKey)

	status, body, err := postJSON(ctx, s.client, evolutionName, endpoint, header, map[string]string{
		"number": to,
		"text":   text,
	})
	if err != nil {
		return nil, err
	}

	if status >= 300 {
		var errResp struct {
			Message json.RawMessage `json:"message"`
			Error   json.RawMessage `json:"error"`
		}
		reason := ""
		if json.Unmarshal(body, &errResp) == nil {
			reason = jsonString(errResp.Message)
			if reason == "" {
				reason = jsonString(errResp.Error)
			}
		}
		return nil, &SendError{Channel: evolutionName, Status: status, Reason: reason}
	}

	// Receipt fields are best effort; Evolution versions differ in shape.
	var parsed struct {
		Key struct {
			ID string `json:"id"`
		} `json:"key"`
		Status string `json:"status"`
	}
	_ = json.Unmarshal(body, &parsed)

	return &Receipt{
		MessageID: parsed.Key.ID,
		Status:    parsed.Status,
	}, nil
}

// Package whatsapp sends template messages through the WhatsApp Cloud API and
// answers its webhook.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/yescateam/camp-desk-api/internal/config"
	"github.com/yescateam/camp-desk-api/internal/phone"
)

var ErrNotConfigured = errors.New("whatsapp API credentials not configured")

type Client struct {
	httpClient      *http.Client
	baseURL         string
	apiVersion      string
	phoneNumberID   string
	accessToken     string
	successTemplate string
	otpTemplate     string
}

func NewClient(cfg *config.Config) *Client {
	return &Client{
		httpClient:      &http.Client{Timeout: 10 * time.Second},
		baseURL:         strings.TrimRight(cfg.WhatsAppBaseURL, "/"),
		apiVersion:      cfg.WhatsAppAPIVersion,
		phoneNumberID:   cfg.WhatsAppPhoneNumberID,
		accessToken:     cfg.WhatsAppAccessToken,
		successTemplate: cfg.WhatsAppSuccessTemplate,
		otpTemplate:     cfg.WhatsAppOTPTemplate,
	}
}

// WithHTTPClient swaps the transport, mostly for tests.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

func (c *Client) Enabled() bool {
	return c.accessToken != "" && c.phoneNumberID != ""
}

type Parameter struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type Component struct {
	Type       string      `json:"type"`
	SubType    string      `json:"sub_type,omitempty"`
	Index      string      `json:"index,omitempty"`
	Parameters []Parameter `json:"parameters"`
}

type templateMessage struct {
	MessagingProduct string   `json:"messaging_product"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Template         template `json:"template"`
}

type template struct {
	Name       string      `json:"name"`
	Language   language    `json:"language"`
	Components []Component `json:"components,omitempty"`
}

type language struct {
	Code string `json:"code"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// SendTemplate sends an approved template to an E.164 number and returns the
// provider's message id.
func (c *Client) SendTemplate(ctx context.Context, to, name, lang string, components []Component) (string, error) {
	if !c.Enabled() {
		return "", ErrNotConfigured
	}
	if name == "" {
		return "", fmt.Errorf("whatsapp template name is empty")
	}

	body, err := json.Marshal(templateMessage{
		MessagingProduct: "whatsapp",
		To:               phone.WithoutPlus(to),
		Type:             "template",
		Template: template{
			Name:       name,
			Language:   language{Code: lang},
			Components: components,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}

	url := fmt.Sprintf("%s/%s/%s/messages", c.baseURL, c.apiVersion, c.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whatsapp request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr apiError
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error.Message != "" {
			return "", fmt.Errorf("whatsapp API error (status %d): %s", resp.StatusCode, apiErr.Error.Message)
		}
		return "", fmt.Errorf("whatsapp API error: status %d", resp.StatusCode)
	}

	var out sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode whatsapp response: %w", err)
	}
	if len(out.Messages) == 0 {
		return "", nil
	}
	return out.Messages[0].ID, nil
}

// SendRegistrationConfirmation fills the success template body with
// {{1}} name, {{2}} member id and {{3}} login URL.
func (c *Client) SendRegistrationConfirmation(ctx context.Context, to, name, memberID, loginURL string) (string, error) {
	return c.SendTemplate(ctx, to, c.successTemplate, "en", []Component{{
		Type: "body",
		Parameters: []Parameter{
			{Type: "text", Text: name},
			{Type: "text", Text: memberID},
			{Type: "text", Text: loginURL},
		},
	}})
}

// SendOTP uses an authentication template: the code goes in the body and in
// the copy-code URL button.
func (c *Client) SendOTP(ctx context.Context, to, code string) (string, error) {
	return c.SendTemplate(ctx, to, c.otpTemplate, "en", []Component{
		{Type: "body", Parameters: []Parameter{{Type: "text", Text: code}}},
		{Type: "button", SubType: "url", Index: "0", Parameters: []Parameter{{Type: "text", Text: code}}},
	})
}

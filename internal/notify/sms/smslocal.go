// Package sms delivers confirmation codes by SMS.
package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nyaruka/phonenumbers"
)

const (
	defaultTimeout = 15 * time.Second
	defaultBaseURL = "https://www.smslocal.com/dev/bulkV2"
	// DefaultRegion is assumed for numbers written without a country code.
	DefaultRegion = "IN"
)

// ErrInvalidPhone is returned for numbers that do not parse to a valid E.164 number.
var ErrInvalidPhone = errors.New("sms: invalid phone number")

// SMSLocalClient sends OTP SMS through the SMS Local bulk API (route=otp).
type SMSLocalClient struct {
	APIKey     string
	BaseURL    string
	Sender     string
	HTTPClient *http.Client
}

// NewSMSLocalClient returns a client for apiKey. baseURL and sender are optional.
func NewSMSLocalClient(apiKey, baseURL, sender string) *SMSLocalClient {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &SMSLocalClient{
		APIKey:     apiKey,
		BaseURL:    baseURL,
		Sender:     sender,
		HTTPClient: &http.Client{Timeout: defaultTimeout},
	}
}

type sendRequest struct {
	Route     string `json:"route"`
	Numbers   string `json:"numbers"`
	Variables string `json:"variables"`
	Sender    string `json:"sender_id,omitempty"`
}

// SendOTP sends code to phone. phone is E.164 digits without the leading '+'. The code is never logged.
func (c *SMSLocalClient) SendOTP(ctx context.Context, phone, code string) error {
	if c.APIKey == "" {
		return fmt.Errorf("sms: API key not configured")
	}
	raw, err := json.Marshal(sendRequest{Route: "otp", Numbers: phone, Variables: code, Sender: c.Sender})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.APIKey)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("sms: request failed status=%d body=%s", resp.StatusCode, string(b))
	}
	return nil
}

// NormalizePhone parses raw (with or without '+', spaces or dashes) and returns E.164 digits without
// the '+'. Numbers without a country code are read in region.
func NormalizePhone(raw, region string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrInvalidPhone
	}
	if region == "" {
		region = DefaultRegion
	}
	num, err := phonenumbers.Parse(raw, region)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPhone, err)
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", ErrInvalidPhone
	}
	return strings.TrimPrefix(phonenumbers.Format(num, phonenumbers.E164), "+"), nil
}

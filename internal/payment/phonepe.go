package payment

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/yescateam/camp-desk-api/internal/config"
)

const (
	payPath    = "/pg/v1/pay"
	statusPath = "/pg/v1/status"

	CodeSuccess = "PAYMENT_SUCCESS"
	CodePending = "PAYMENT_PENDING"

	StateCompleted = "COMPLETED"
	StatePending   = "PENDING"
	StateFailed    = "FAILED"
)

var ErrChecksum = errors.New("phonepe checksum mismatch")

// PhonePe talks to the PhonePe standard checkout (pg/v1) API.
type PhonePe struct {
	httpClient *http.Client
	baseURL    string
	merchantID string
	saltKey    string
	saltIndex  string
}

func NewPhonePe(cfg *config.Config) *PhonePe {
	return &PhonePe{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    strings.TrimRight(cfg.PhonePeBaseURL, "/"),
		merchantID: cfg.PhonePeMerchantID,
		saltKey:    cfg.PhonePeSaltKey,
		saltIndex:  cfg.PhonePeSaltIndex,
	}
}

func (p *PhonePe) WithHTTPClient(hc *http.Client) *PhonePe {
	p.httpClient = hc
	return p
}

// checksum is the X-VERIFY value: sha256(payload + path + salt key) in hex,
// then "###" and the salt index.
func (p *PhonePe) checksum(payload, path string) string {
	sum := sha256.Sum256([]byte(payload + path + p.saltKey))
	return hex.EncodeToString(sum[:]) + "###" + p.saltIndex
}

type Order struct {
	MerchantTransactionID string
	AmountPaise           int64
	MobileNumber          string
	RedirectURL           string
	CallbackURL           string
}

type OrderResult struct {
	Code        string
	Message     string
	RedirectURL string
}

type payRequest struct {
	MerchantID            string `json:"merchantId"`
	MerchantTransactionID string `json:"merchantTransactionId"`
	MerchantUserID        string `json:"merchantUserId"`
	Amount                int64  `json:"amount"`
	RedirectURL           string `json:"redirectUrl"`
	RedirectMode          string `json:"redirectMode"`
	CallbackURL           string `json:"callbackUrl"`
	MobileNumber          string `json:"mobileNumber,omitempty"`
	PaymentInstrument     struct {
		Type string `json:"type"`
	} `json:"paymentInstrument"`
}

type payResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    struct {
		InstrumentResponse struct {
			RedirectInfo struct {
				URL string `json:"url"`
			} `json:"redirectInfo"`
		} `json:"instrumentResponse"`
	} `json:"data"`
}

// CreateOrder registers a pay-page order and returns the hosted checkout URL.
func (p *PhonePe) CreateOrder(ctx context.Context, o Order) (*OrderResult, error) {
	req := payRequest{
		MerchantID:            p.merchantID,
		MerchantTransactionID: o.MerchantTransactionID,
		MerchantUserID:        fmt.Sprintf("MUID%d", time.Now().UnixMilli()),
		Amount:                o.AmountPaise,
		RedirectURL:           o.RedirectURL,
		RedirectMode:          "POST",
		CallbackURL:           o.CallbackURL,
		MobileNumber:          localNumber(o.MobileNumber),
	}
	req.PaymentInstrument.Type = "PAY_PAGE"

	raw, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal order: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(raw)
	body, _ := json.Marshal(map[string]string{"request": encoded})

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+payPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-VERIFY", p.checksum(encoded, payPath))

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("phonepe request failed: %w", err)
	}
	defer resp.Body.Close()

	var out payResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode phonepe response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode >= 300 || !out.Success {
		return nil, fmt.Errorf("phonepe order rejected: %s %s", out.Code, out.Message)
	}

	return &OrderResult{
		Code:        out.Code,
		Message:     out.Message,
		RedirectURL: out.Data.InstrumentResponse.RedirectInfo.URL,
	}, nil
}

// Status is a transaction status as reported by a status check or a callback.
type Status struct {
	Success               bool
	Code                  string
	Message               string
	MerchantTransactionID string
	TransactionID         string
	State                 string
	AmountPaise           int64
	Raw                   json.RawMessage
}

func (s *Status) Paid() bool {
	return s.Code == CodeSuccess && (s.State == "" || s.State == StateCompleted)
}

func (s *Status) Pending() bool {
	return s.Code == CodePending || s.State == StatePending
}

type statusEnvelope struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    struct {
		MerchantID            string `json:"merchantId"`
		MerchantTransactionID string `json:"merchantTransactionId"`
		TransactionID         string `json:"transactionId"`
		Amount                int64  `json:"amount"`
		State                 string `json:"state"`
	} `json:"data"`
}

func parseStatus(raw []byte) (*Status, error) {
	var env statusEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("failed to decode phonepe status: %w", err)
	}
	return &Status{
		Success:               env.Success,
		Code:                  env.Code,
		Message:               env.Message,
		MerchantTransactionID: env.Data.MerchantTransactionID,
		TransactionID:         env.Data.TransactionID,
		State:                 env.Data.State,
		AmountPaise:           env.Data.Amount,
		Raw:                   json.RawMessage(raw),
	}, nil
}

// CheckStatus asks the gateway for the current state of a transaction.
func (p *PhonePe) CheckStatus(ctx context.Context, merchantTransactionID string) (*Status, error) {
	path := fmt.Sprintf("%s/%s/%s", statusPath, p.merchantID, merchantTransactionID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-VERIFY", p.checksum("", path))
	req.Header.Set("X-MERCHANT-ID", p.merchantID)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("phonepe status request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("phonepe status check failed: status %d", resp.StatusCode)
	}
	return parseStatus(raw)
}

// DecodeCallback decodes the base64 "response" form field the gateway posts
// back. When xVerify is present it must match sha256(response + salt key).
func (p *PhonePe) DecodeCallback(response, xVerify string) (*Status, error) {
	if response == "" {
		return nil, fmt.Errorf("empty callback response")
	}
	if xVerify != "" {
		want := p.checksum(response, "")
		if subtle.ConstantTimeCompare([]byte(want), []byte(xVerify)) != 1 {
			return nil, ErrChecksum
		}
	}

	raw, err := base64.StdEncoding.DecodeString(response)
	if err != nil {
		return nil, fmt.Errorf("invalid callback encoding: %w", err)
	}
	return parseStatus(raw)
}

// localNumber strips the +91 prefix the gateway does not accept.
func localNumber(p string) string {
	p = strings.TrimPrefix(p, "+")
	if len(p) == 12 && strings.HasPrefix(p, "91") {
		return p[2:]
	}
	return p
}

// Package balance is the client side of the external Balance Reservation
// Service. The engine only ever reserves, releases, or debits funds through
// it; actual money movement lives on the other side of this API.
package balance

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"

	"bidhouse/internal/domain"
	"bidhouse/pkg/errcodes"
	"bidhouse/pkg/httpx"
	"bidhouse/pkg/logx"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary //nolint:gochecknoglobals // skip

type Client struct {
	baseURL    string
	httpClient *http.Client
}

type staticToken string

func (t staticToken) Authenticate(context.Context) error { return nil }
func (t staticToken) BearerToken() string                { return string(t) }

func NewClient(baseURL, token string, timeout time.Duration, logFieldMaxLen int) *Client {
	transport := http.RoundTripper(httpx.NewLoggingRoundTripper(
		http.DefaultTransport,
		httpx.WithSensitiveDataMasker(logx.NewSensitiveDataMasker()),
		httpx.WithLogFieldMaxLen(logFieldMaxLen),
	))

	if token != "" {
		transport = httpx.NewAuthBearerRoundTripper(transport, staticToken(token))
	}

	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
	}
}

type availableResponse struct {
	Available decimal.Decimal `json:"available"`
}

type holdRequest struct {
	UserID string          `json:"userId"`
	Amount decimal.Decimal `json:"amount"`
}

type holdResponse struct {
	HoldID string `json:"holdId"`
}

func (c *Client) Available(ctx context.Context, userID string) (decimal.Decimal, error) {
	var resp availableResponse
	if err := c.call(ctx, http.MethodGet, "/v1/balances/"+userID, nil, &resp); err != nil {
		return decimal.Zero, err
	}

	return resp.Available, nil
}

func (c *Client) Hold(ctx context.Context, userID string, amount decimal.Decimal) (string, error) {
	var resp holdResponse

	err := c.call(ctx, http.MethodPost, "/v1/holds", holdRequest{UserID: userID, Amount: amount}, &resp)
	if err != nil {
		return "", err
	}

	return resp.HoldID, nil
}

func (c *Client) Release(ctx context.Context, holdID string) error {
	return c.call(ctx, http.MethodDelete, "/v1/holds/"+holdID, nil, nil)
}

func (c *Client) Debit(ctx context.Context, holdID string) error {
	return c.call(ctx, http.MethodPost, "/v1/holds/"+holdID+"/debit", nil, nil)
}

func (c *Client) call(ctx context.Context, method, endpoint string, request, dest any) error {
	var body *bytes.Reader = bytes.NewReader(nil)

	if request != nil {
		b, err := json.Marshal(request)
		if err != nil {
			return fmt.Errorf("json.Marshal: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return fmt.Errorf("http.NewRequest: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("httpClient.Do: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
	case resp.StatusCode == http.StatusNotFound:
		return domain.NewError(errcodes.NotFound, "hold not found")
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return domain.NewError(errcodes.InsufficientBalance, "balance service refused the hold")
	default:
		return domain.NewError(
			errcodes.BalanceServiceUnavailable,
			fmt.Sprintf("balance service returned %d", resp.StatusCode),
		)
	}

	if dest == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("json.Decode: %w", err)
	}

	return nil
}

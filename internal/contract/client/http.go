package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/smallbiznis/billableusage/internal/config"
	contractdomain "github.com/smallbiznis/billableusage/internal/contract/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

const contractsPath = "/api/v1/contracts"

// StatusError is a non-2xx reply from the contracts service.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("contracts service returned %d: %s", e.Code, e.Body)
}

// Retryable reports whether the failure may clear on its own.
func (e *StatusError) Retryable() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests || e.Code == http.StatusRequestTimeout
}

type HTTPClient struct {
	baseURL string
	http    *http.Client
}

func NewHTTPClient(cfg config.Config) contractdomain.Client {
	return New(cfg.Contracts.URL, &http.Client{Timeout: cfg.Contracts.Timeout})
}

func New(baseURL string, httpClient *http.Client) *HTTPClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPClient{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

func (c *HTTPClient) GetContracts(ctx context.Context, q contractdomain.Query) ([]contractdomain.Contract, error) {
	params := url.Values{}
	params.Set("org_id", q.OrgID)
	params.Set("product_tag", q.ProductID)
	if q.VendorProductCode != "" {
		params.Set("vendor_product_code", q.VendorProductCode)
	}
	params.Set("billing_provider", string(q.BillingProvider))
	params.Set("billing_account_id", q.BillingAccountID)
	params.Set("timestamp", q.AsOf.UTC().Format(time.RFC3339))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+contractsPath+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var contracts []contractdomain.Contract
	if err := json.NewDecoder(resp.Body).Decode(&contracts); err != nil {
		return nil, fmt.Errorf("decode contracts: %w", err)
	}
	return contracts, nil
}

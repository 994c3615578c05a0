package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/utafrali/storefront/internal/domain"
	apperrors "github.com/utafrali/storefront/pkg/errors"
	"github.com/utafrali/storefront/pkg/httpclient"
	"github.com/utafrali/storefront/pkg/validator"
)

const (
	productsPath  = "/products"
	purchasesPath = "/purchases"

	// maxResponseBody caps the catalog payload.
	maxResponseBody = 10 << 20
)

// Operation names used in errors and logs.
const (
	OpFetchProducts  = "fetch products"
	OpSubmitPurchase = "submit purchase"
)

type productsEnvelope struct {
	Products []domain.Product `json:"products" validate:"required,unique=ID,dive"`
}

type purchaseEnvelope struct {
	Products []domain.Product `json:"products"`
}

// Client talks to the remote product API. Every failure it returns is a
// *apperrors.NetworkError.
type Client struct {
	http    httpclient.Doer
	baseURL string
	logger  *slog.Logger
}

// New creates a client for the API rooted at baseURL.
func New(doer httpclient.Doer, baseURL string, logger *slog.Logger) *Client {
	return &Client{
		http:    doer,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

// FetchProducts retrieves the product catalog.
func (c *Client) FetchProducts(ctx context.Context) ([]domain.Product, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+productsPath, nil)
	if err != nil {
		return nil, apperrors.Network(OpFetchProducts, 0, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return nil, httpclient.AsNetworkError(OpFetchProducts, err)
	}
	if err := httpclient.CheckResponse(resp, OpFetchProducts); err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var envelope productsEnvelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody)).Decode(&envelope); err != nil {
		return nil, apperrors.Network(OpFetchProducts, resp.StatusCode, fmt.Errorf("decode response: %w", err))
	}
	if err := validator.Validate(envelope); err != nil {
		return nil, apperrors.Network(OpFetchProducts, resp.StatusCode, fmt.Errorf("invalid response: %w", err))
	}

	c.logger.DebugContext(ctx, "products fetched", slog.Int("count", len(envelope.Products)))

	return envelope.Products, nil
}

// SubmitPurchase sends the cart lines to the purchases endpoint.
func (c *Client) SubmitPurchase(ctx context.Context, items []domain.Product) error {
	if items == nil {
		items = []domain.Product{}
	}

	body, err := json.Marshal(purchaseEnvelope{Products: items})
	if err != nil {
		return apperrors.Network(OpSubmitPurchase, 0, fmt.Errorf("marshal purchase: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+purchasesPath, bytes.NewReader(body))
	if err != nil {
		return apperrors.Network(OpSubmitPurchase, 0, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return httpclient.AsNetworkError(OpSubmitPurchase, err)
	}
	if err := httpclient.CheckResponse(resp, OpSubmitPurchase); err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody))
	_ = resp.Body.Close()

	c.logger.InfoContext(ctx, "purchase submitted", slog.Int("lines", len(items)))

	return nil
}

// Ping checks that the product API is reachable.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.baseURL+productsPath, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("product api unreachable: %w", err)
	}
	_ = resp.Body.Close()
	return nil
}

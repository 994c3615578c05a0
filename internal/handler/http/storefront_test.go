package http

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/storefront/internal/client"
	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/service"
	"github.com/utafrali/storefront/internal/store"
	apperrors "github.com/utafrali/storefront/pkg/errors"
	"github.com/utafrali/storefront/pkg/health"
	"github.com/utafrali/storefront/pkg/httpclient"
	"github.com/utafrali/storefront/pkg/httputil"
)

// ---------------------------------------------------------------------------
// Test doubles
// ---------------------------------------------------------------------------

type stubAPI struct {
	mu        sync.Mutex
	products  []domain.Product
	fetchErr  error
	submitErr error
	submitted [][]domain.Product
	gate      chan struct{}
}

func (s *stubAPI) FetchProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	return domain.Products(s.products).Clone(), nil
}

func (s *stubAPI) SubmitPurchase(_ context.Context, items []domain.Product) error {
	s.mu.Lock()
	gate := s.gate
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitted = append(s.submitted, items)
	return s.submitErr
}

func (s *stubAPI) set(fn func(s *stubAPI)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

type nopReporter struct{}

func (nopReporter) Report(context.Context, string, error) {}

type envelope struct {
	Data  json.RawMessage         `json:"data"`
	Error *httputil.ErrorResponse `json:"error"`
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupRouter(t *testing.T) (*stubAPI, *service.Orchestrator, http.Handler) {
	t.Helper()
	api := &stubAPI{products: []domain.Product{
		{ID: "1", Name: "Lamp", Price: 10},
		{ID: "2", Name: "Chair", Price: 25.5},
		{ID: "3", Name: "Desk", Price: 120},
	}}
	svc := service.NewOrchestrator(api, store.New(), nil, nopReporter{}, testLogger(), "handler-test")
	svc.LoadCatalog(context.Background())

	router := NewRouter(svc, health.NewHandler(), testLogger(), RouterOptions{PprofCIDRs: []string{"127.0.0.1/32"}})
	return api, svc, router
}

func doRequest(t *testing.T, router http.Handler, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func decodeData[T any](t *testing.T, env envelope) T {
	t.Helper()
	var out T
	require.NotNil(t, env.Data)
	require.NoError(t, json.Unmarshal(env.Data, &out))
	return out
}

// ---------------------------------------------------------------------------
// Read endpoints
// ---------------------------------------------------------------------------

func TestGetState(t *testing.T) {
	_, _, router := setupRouter(t)

	rec, env := doRequest(t, router, http.MethodGet, "/api/v1/state", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	st := decodeData[store.State](t, env)
	assert.Equal(t, []domain.ProductID{"1", "2", "3"}, st.Catalog.IDs())
	assert.Empty(t, st.Cart)
	assert.False(t, st.CatalogLoading)
}

func TestGetCatalog_Paginated(t *testing.T) {
	_, _, router := setupRouter(t)

	rec, env := doRequest(t, router, http.MethodGet, "/api/v1/catalog?page=2&per_page=2", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeData[CatalogResponse](t, env)
	require.Len(t, resp.Products.Data, 1)
	assert.Equal(t, domain.ProductID("3"), resp.Products.Data[0].ID)
	assert.Equal(t, 3, resp.Products.TotalCount)
	assert.Equal(t, 2, resp.Products.TotalPages)
	assert.False(t, resp.Products.HasNext)
	assert.True(t, resp.Products.HasPrev)
	assert.False(t, resp.Loading)
}

func TestReloadCatalog(t *testing.T) {
	api, _, router := setupRouter(t)
	api.set(func(s *stubAPI) { s.products = s.products[:1] })

	rec, env := doRequest(t, router, http.MethodPost, "/api/v1/catalog/reload", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	st := decodeData[store.State](t, env)
	assert.Equal(t, []domain.ProductID{"1"}, st.Catalog.IDs())
}

func TestReloadCatalog_NetworkFailure(t *testing.T) {
	api, svc, router := setupRouter(t)
	api.set(func(s *stubAPI) { s.fetchErr = apperrors.Network("fetch products", 500, nil) })

	rec, env := doRequest(t, router, http.MethodPost, "/api/v1/catalog/reload", "")

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "NETWORK_ERROR", env.Error.Code)
	assert.Equal(t, "network response was not ok", env.Error.Message)
	assert.NotEmpty(t, env.Error.RequestID)
	assert.Len(t, svc.Snapshot().Catalog, 3, "catalog kept")
}

// ---------------------------------------------------------------------------
// Cart intents
// ---------------------------------------------------------------------------

func TestAddItem(t *testing.T) {
	_, _, router := setupRouter(t)

	rec, env := doRequest(t, router, http.MethodPost, "/api/v1/cart/items", `{"product_id":"2"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	cart := decodeData[CartResponse](t, env)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, domain.ProductID("2"), cart.Items[0].ID)
	assert.Equal(t, 1, cart.Items[0].Units)
	assert.Equal(t, 1, cart.ItemCount)
	assert.InDelta(t, 25.5, cart.TotalAmount, 0.0001)

	rec, env = doRequest(t, router, http.MethodGet, "/api/v1/cart", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeData[CartResponse](t, env).Items, 1)
}

func TestAddItem_Twice(t *testing.T) {
	_, _, router := setupRouter(t)

	doRequest(t, router, http.MethodPost, "/api/v1/cart/items", `{"product_id":"2"}`)
	rec, env := doRequest(t, router, http.MethodPost, "/api/v1/cart/items", `{"product_id":"2"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	cart := decodeData[CartResponse](t, env)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 1, cart.Items[0].Units)
}

func TestAddItem_Errors(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		contentType string
		status      int
		code        string
	}{
		{"unknown product", `{"product_id":"99"}`, "application/json", http.StatusNotFound, "NOT_FOUND"},
		{"missing id", `{}`, "application/json", http.StatusBadRequest, "VALIDATION_ERROR"},
		{"malformed body", `{"product_id":`, "application/json", http.StatusBadRequest, "INVALID_INPUT"},
		{"wrong content type", `product_id=1`, "application/x-www-form-urlencoded", http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA_TYPE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, router := setupRouter(t)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.contentType)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			var env envelope
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.code, env.Error.Code)
		})
	}
}

func TestAdjustQuantity(t *testing.T) {
	_, svc, router := setupRouter(t)
	doRequest(t, router, http.MethodPost, "/api/v1/cart/items", `{"product_id":"1"}`)

	rec, env := doRequest(t, router, http.MethodPatch, "/api/v1/cart/items/1", `{"delta":2}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	cart := decodeData[CartResponse](t, env)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 3, cart.Items[0].Units)
	assert.InDelta(t, 30.0, cart.TotalAmount, 0.0001)

	rec, env = doRequest(t, router, http.MethodPatch, "/api/v1/cart/items/1", `{"delta":-3}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeData[CartResponse](t, env).Items)
	assert.False(t, svc.Snapshot().Cart.Contains("1"))
}

func TestAdjustQuantity_Errors(t *testing.T) {
	_, _, router := setupRouter(t)
	doRequest(t, router, http.MethodPost, "/api/v1/cart/items", `{"product_id":"1"}`)

	rec, env := doRequest(t, router, http.MethodPatch, "/api/v1/cart/items/1", `{"delta":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
	assert.Contains(t, env.Error.Fields, "Delta")

	rec, env = doRequest(t, router, http.MethodPatch, "/api/v1/cart/items/2", `{"delta":1}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)
}

// ---------------------------------------------------------------------------
// Checkout
// ---------------------------------------------------------------------------

func TestCheckout(t *testing.T) {
	api, _, router := setupRouter(t)
	doRequest(t, router, http.MethodPost, "/api/v1/cart/items", `{"product_id":"1"}`)
	doRequest(t, router, http.MethodPost, "/api/v1/cart/items", `{"product_id":"3"}`)

	rec, env := doRequest(t, router, http.MethodPost, "/api/v1/cart/checkout", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	st := decodeData[store.State](t, env)
	assert.Empty(t, st.Cart)
	assert.False(t, st.CartLoading)
	assert.Equal(t, []domain.ProductID{"1", "2", "3"}, st.Catalog.IDs())

	api.mu.Lock()
	defer api.mu.Unlock()
	require.Len(t, api.submitted, 1)
	assert.Equal(t, []domain.ProductID{"1", "3"}, domain.Products(api.submitted[0]).IDs())
}

func TestCheckout_EmptyCart(t *testing.T) {
	api, _, router := setupRouter(t)

	rec, env := doRequest(t, router, http.MethodPost, "/api/v1/cart/checkout", "")

	assert.Equal(t, http.StatusConflict, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "cart is empty", env.Error.Message)
	assert.Empty(t, api.submitted)
}

func TestCheckout_NetworkFailureKeepsCart(t *testing.T) {
	api, svc, router := setupRouter(t)
	doRequest(t, router, http.MethodPost, "/api/v1/cart/items", `{"product_id":"2"}`)
	api.set(func(s *stubAPI) { s.submitErr = apperrors.Network("submit purchase", 409, nil) })

	rec, env := doRequest(t, router, http.MethodPost, "/api/v1/cart/checkout", "")

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "NETWORK_ERROR", env.Error.Code)
	assert.Equal(t, []domain.ProductID{"2"}, svc.Snapshot().Cart.IDs())
}

func TestCheckout_InProgress(t *testing.T) {
	api, svc, router := setupRouter(t)
	doRequest(t, router, http.MethodPost, "/api/v1/cart/items", `{"product_id":"2"}`)

	gate := make(chan struct{})
	api.set(func(s *stubAPI) { s.gate = gate })

	first := make(chan int, 1)
	go func() {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/checkout", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		first <- rec.Code
	}()

	require.Eventually(t, func() bool { return svc.Snapshot().CartLoading }, time.Second, 5*time.Millisecond)

	rec, env := doRequest(t, router, http.MethodPost, "/api/v1/cart/checkout", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "checkout already in progress", env.Error.Message)

	close(gate)
	assert.Equal(t, http.StatusOK, <-first)
	assert.False(t, svc.Snapshot().CartLoading)
}

func TestCheckout_CompletesAfterCallerCancels(t *testing.T) {
	received := make(chan struct{})
	release := make(chan struct{})
	var releaseOnce sync.Once
	var purchases atomic.Int32

	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/products":
			_, _ = io.WriteString(w, `{"products":[{"id":1,"name":"Lamp","price":10}]}`)
		case "/purchases":
			if purchases.Add(1) == 1 {
				close(received)
			}
			<-release
			w.WriteHeader(http.StatusCreated)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(remote.Close)
	t.Cleanup(func() { releaseOnce.Do(func() { close(release) }) })

	api := client.New(httpclient.New(httpclient.DefaultConfig()), remote.URL, testLogger())
	svc := service.NewOrchestrator(api, store.New(), nil, nopReporter{}, testLogger(), "handler-test")
	svc.LoadCatalog(context.Background())
	router := NewRouter(svc, health.NewHandler(), testLogger(), RouterOptions{})

	rec, _ := doRequest(t, router, http.MethodPost, "/api/v1/cart/items", `{"product_id":"1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/checkout", nil).WithContext(ctx)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		done <- rec
	}()

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("purchase never reached the product API")
	}
	cancel()
	releaseOnce.Do(func() { close(release) })

	var out *httptest.ResponseRecorder
	select {
	case out = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("checkout did not finish")
	}

	assert.Equal(t, http.StatusOK, out.Code)
	st := svc.Snapshot()
	assert.Empty(t, st.Cart)
	assert.False(t, st.CartLoading)
	assert.Equal(t, int32(1), purchases.Load())
}

// ---------------------------------------------------------------------------
// Event stream
// ---------------------------------------------------------------------------

func readEvent(t *testing.T, r *bufio.Reader) store.State {
	t.Helper()
	var data string
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if data != "" {
				break
			}
			continue
		}
		if strings.HasPrefix(line, "data: ") {
			data = strings.TrimPrefix(line, "data: ")
		}
	}

	var st store.State
	require.NoError(t, json.Unmarshal([]byte(data), &st))
	return st
}

func TestEvents_StreamsSnapshots(t *testing.T) {
	_, svc, router := setupRouter(t)
	srv := httptest.NewServer(router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/events", nil)
	require.NoError(t, err)
	req.Header.Set("Accept-Encoding", "identity")

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	initial := readEvent(t, reader)
	assert.Len(t, initial.Catalog, 3)
	assert.Empty(t, initial.Cart)

	_, err = svc.AddToCart(context.Background(), "3")
	require.NoError(t, err)

	next := readEvent(t, reader)
	assert.Equal(t, []domain.ProductID{"3"}, next.Cart.IDs())
	assert.Greater(t, next.Version, initial.Version)
}

// ---------------------------------------------------------------------------
// Router plumbing
// ---------------------------------------------------------------------------

func TestRouter_Health(t *testing.T) {
	_, _, router := setupRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_Metrics(t *testing.T) {
	_, _, router := setupRouter(t)
	doRequest(t, router, http.MethodGet, "/api/v1/state", "")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "storefront_catalog_products")
	assert.Contains(t, rec.Body.String(), `path="/api/v1/state"`)
}

func TestRouter_CORSPreflight(t *testing.T) {
	_, _, router := setupRouter(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/cart/items", nil)
	req.Header.Set("Origin", "https://shop.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPatch)
}

func TestRouter_CorrelationIDEchoed(t *testing.T) {
	_, _, router := setupRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	req.Header.Set("X-Correlation-ID", "corr-123")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "corr-123", rec.Header().Get("X-Correlation-ID"))
}

func TestRouter_PprofForbiddenOutsideAllowlist(t *testing.T) {
	_, _, router := setupRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil)
	req.RemoteAddr = "203.0.113.7:5555"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/store"
	apperrors "github.com/utafrali/storefront/pkg/errors"
	"github.com/utafrali/storefront/pkg/logger"
	"github.com/utafrali/storefront/pkg/tracing"
)

// Operation names used in logs, metrics and events.
const (
	OpLoadCatalog    = "load_catalog"
	OpAddToCart      = "add_to_cart"
	OpAdjustQuantity = "adjust_quantity"
	OpCheckout       = "checkout"
)

// ProductAPI is the remote product API. *client.Client satisfies it.
type ProductAPI interface {
	FetchProducts(ctx context.Context) ([]domain.Product, error)
	SubmitPurchase(ctx context.Context, items []domain.Product) error
}

// PurchasePublisher emits purchase events. *event.Producer satisfies it.
type PurchasePublisher interface {
	PublishPurchaseSubmitted(ctx context.Context, lines domain.Products) error
}

// AddItemInput is the body of an add-to-cart intent.
type AddItemInput struct {
	ProductID string `json:"product_id" validate:"required"`
}

// AdjustQuantityInput is the body of a quantity change intent.
type AdjustQuantityInput struct {
	Delta int `json:"delta" validate:"ne=0"`
}

type loadingFlag int

const (
	catalogFlag loadingFlag = iota
	cartFlag
)

// Orchestrator turns user intents into store transitions and product API
// calls. Network failures are handed to the Reporter and never returned.
type Orchestrator struct {
	api       ProductAPI
	store     *store.Store
	purchases PurchasePublisher
	reporter  Reporter
	logger    *slog.Logger
	tracer    trace.Tracer
	sessionID string

	flagMu   sync.Mutex
	inFlight [2]int
}

// NewOrchestrator creates an orchestrator. purchases may be nil.
func NewOrchestrator(
	api ProductAPI,
	st *store.Store,
	purchases PurchasePublisher,
	reporter Reporter,
	logger *slog.Logger,
	sessionID string,
) *Orchestrator {
	return &Orchestrator{
		api:       api,
		store:     st,
		purchases: purchases,
		reporter:  reporter,
		logger:    logger,
		tracer:    tracing.Tracer("github.com/utafrali/storefront/internal/service"),
		sessionID: sessionID,
	}
}

// Start performs the catalog load that opens a session.
func (o *Orchestrator) Start(ctx context.Context) store.State {
	o.logger.InfoContext(ctx, "storefront session starting", slog.String("session_id", o.sessionID))
	return o.LoadCatalog(ctx)
}

// Snapshot returns the current state.
func (o *Orchestrator) Snapshot() store.State {
	return o.store.Snapshot()
}

// Subscribe forwards to the store.
func (o *Orchestrator) Subscribe() (<-chan store.State, func()) {
	return o.store.Subscribe()
}

// LoadCatalog fetches the catalog and replaces the stored one. On failure
// the state is left as it was and the failure is reported.
func (o *Orchestrator) LoadCatalog(ctx context.Context) store.State {
	st, _ := o.Reload(ctx)
	return st
}

// Reload is LoadCatalog for callers that need to know whether it succeeded.
// The failure itself goes to the Reporter.
func (o *Orchestrator) Reload(ctx context.Context) (store.State, bool) {
	ctx = o.operationContext(ctx)
	ctx, span := o.tracer.Start(ctx, "Orchestrator.LoadCatalog")
	defer span.End()

	start := time.Now()
	err := o.loadCatalog(ctx)
	o.finish(ctx, span, OpLoadCatalog, start, err)

	st := o.store.Snapshot()
	recordState(st)
	return st, err == nil
}

func (o *Orchestrator) loadCatalog(ctx context.Context) error {
	release := o.hold(catalogFlag)
	defer release()

	products, err := o.api.FetchProducts(ctx)
	if err != nil {
		return err
	}

	st := o.store.SetCatalog(products)
	logger.WithContext(ctx, o.logger).InfoContext(ctx, "catalog loaded",
		slog.Int("products", len(st.Catalog)),
		slog.Uint64("version", st.Version),
	)
	return nil
}

// AddToCart moves a catalog product into the cart. Adding a product that is
// already in the cart changes nothing.
func (o *Orchestrator) AddToCart(ctx context.Context, id domain.ProductID) (store.State, error) {
	if id == "" {
		return o.store.Snapshot(), apperrors.InvalidInput("product id is required")
	}

	st, changed := o.store.AddToCart(domain.Product{ID: id})
	switch {
	case changed:
		operationsTotal.WithLabelValues(OpAddToCart, outcomeSuccess).Inc()
		logger.WithContext(ctx, o.logger).InfoContext(ctx, "product added to cart",
			slog.String("product_id", id.String()),
			slog.Int("cart_lines", len(st.Cart)),
		)
	case st.Cart.Contains(id):
		operationsTotal.WithLabelValues(OpAddToCart, outcomeNoop).Inc()
	default:
		operationsTotal.WithLabelValues(OpAddToCart, outcomeFailure).Inc()
		return st, apperrors.NotFound("product", id.String())
	}

	recordState(st)
	return st, nil
}

// AdjustQuantity adds delta to a cart product's units. The product leaves
// the cart when its units drop below one.
func (o *Orchestrator) AdjustQuantity(ctx context.Context, id domain.ProductID, delta int) (store.State, error) {
	if id == "" {
		return o.store.Snapshot(), apperrors.InvalidInput("product id is required")
	}
	if delta == 0 {
		return o.store.Snapshot(), apperrors.InvalidInput("delta must not be zero")
	}

	st, changed := o.store.AdjustQuantity(domain.Product{ID: id}, delta)
	if !changed {
		operationsTotal.WithLabelValues(OpAdjustQuantity, outcomeFailure).Inc()
		return st, apperrors.NotFound("cart item", id.String())
	}

	operationsTotal.WithLabelValues(OpAdjustQuantity, outcomeSuccess).Inc()
	logger.WithContext(ctx, o.logger).InfoContext(ctx, "cart quantity adjusted",
		slog.String("product_id", id.String()),
		slog.Int("delta", delta),
		slog.Bool("removed", !st.Cart.Contains(id)),
	)

	recordState(st)
	return st, nil
}

// Checkout submits the cart. On success the cart is cleared, the cart flag
// is released and the catalog is reloaded. On failure the cart is kept and
// the failure is reported.
func (o *Orchestrator) Checkout(ctx context.Context) store.State {
	st, _ := o.Purchase(ctx)
	return st
}

// Purchase is Checkout for callers that need to know whether the submit
// succeeded. A failed reload after a successful submit still counts as ok.
func (o *Orchestrator) Purchase(ctx context.Context) (store.State, bool) {
	ctx = o.operationContext(ctx)
	ctx, span := o.tracer.Start(ctx, "Orchestrator.Checkout")
	defer span.End()

	start := time.Now()
	submitted, err := o.submitCart(ctx)
	o.finish(ctx, span, OpCheckout, start, err)

	if !submitted {
		st := o.store.Snapshot()
		recordState(st)
		return st, false
	}
	return o.LoadCatalog(ctx), true
}

func (o *Orchestrator) submitCart(ctx context.Context) (bool, error) {
	release := o.hold(cartFlag)
	defer release()

	lines := o.store.Snapshot().Cart
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.Int("cart.lines", len(lines)),
		attribute.Int("cart.units", lines.ItemCount()),
	)

	if err := o.api.SubmitPurchase(ctx, lines); err != nil {
		return false, err
	}

	o.store.ClearCart()
	logger.WithContext(ctx, o.logger).InfoContext(ctx, "purchase submitted",
		slog.Int("lines", len(lines)),
		slog.Int("units", lines.ItemCount()),
	)

	if o.purchases != nil {
		if err := o.purchases.PublishPurchaseSubmitted(ctx, lines); err != nil {
			o.logger.WarnContext(ctx, "failed to publish purchase.submitted event",
				slog.String("error", err.Error()),
			)
		}
	}
	return true, nil
}

// hold raises the loading flag for one in-flight call and returns the
// function that lowers it. The flag stays up until every holder released.
func (o *Orchestrator) hold(flag loadingFlag) func() {
	o.flagMu.Lock()
	o.inFlight[flag]++
	if o.inFlight[flag] == 1 {
		o.setFlag(flag, true)
	}
	o.flagMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			o.flagMu.Lock()
			defer o.flagMu.Unlock()
			o.inFlight[flag]--
			if o.inFlight[flag] == 0 {
				o.setFlag(flag, false)
			}
		})
	}
}

func (o *Orchestrator) setFlag(flag loadingFlag, loading bool) {
	switch flag {
	case catalogFlag:
		o.store.SetCatalogLoading(loading)
	case cartFlag:
		o.store.SetCartLoading(loading)
	}
}

func (o *Orchestrator) finish(ctx context.Context, span trace.Span, op string, start time.Time, err error) {
	operationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err == nil {
		operationsTotal.WithLabelValues(op, outcomeSuccess).Inc()
		return
	}

	operationsTotal.WithLabelValues(op, outcomeFailure).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	o.reporter.Report(ctx, op, err)
}

// operationContext detaches ctx from the caller's cancellation and tags it
// with the session ID and a correlation ID unless the caller already set
// them. A network call, once issued, runs to completion or failure.
func (o *Orchestrator) operationContext(ctx context.Context) context.Context {
	ctx = context.WithoutCancel(ctx)
	if logger.SessionIDFromContext(ctx) == "" && o.sessionID != "" {
		ctx = logger.WithSessionID(ctx, o.sessionID)
	}
	if logger.CorrelationIDFromContext(ctx) == "" {
		ctx = logger.WithCorrelationID(ctx, uuid.New().String())
	}
	return ctx
}

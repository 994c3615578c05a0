package event

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/utafrali/storefront/internal/domain"
	apperrors "github.com/utafrali/storefront/pkg/errors"
	pkgkafka "github.com/utafrali/storefront/pkg/kafka"
	"github.com/utafrali/storefront/pkg/logger"
)

// Kafka topics for storefront events.
const (
	TopicPurchaseSubmitted = "storefront.purchase.submitted"
	TopicOperationFailed   = "storefront.operation.failed"
)

// AggregateTypeSession is the aggregate every storefront event belongs to.
const AggregateTypeSession = "storefront_session"

// SourceStorefront identifies events emitted by this process.
const SourceStorefront = "storefront"

// PurchaseSubmittedData is the payload for a purchase.submitted event.
type PurchaseSubmittedData struct {
	Lines       []PurchaseLineData `json:"lines"`
	ItemCount   int                `json:"item_count"`
	TotalAmount float64            `json:"total_amount"`
}

// PurchaseLineData is one cart line within a purchase event.
type PurchaseLineData struct {
	ProductID string  `json:"product_id"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Units     int     `json:"units"`
}

// OperationFailedData is the payload for an operation.failed event.
type OperationFailedData struct {
	Operation string `json:"operation"`
	Error     string `json:"error"`
	Network   bool   `json:"network"`
	Status    int    `json:"status,omitempty"`
}

// Producer publishes storefront events. The session ID is the aggregate ID
// unless the context carries one.
type Producer struct {
	kafka     pkgkafka.Publisher
	sessionID string
	logger    *slog.Logger
}

// NewProducer creates an event producer.
func NewProducer(kafka pkgkafka.Publisher, sessionID string, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:     kafka,
		sessionID: sessionID,
		logger:    logger,
	}
}

// PublishPurchaseSubmitted publishes a purchase.submitted event for the
// given cart lines.
func (p *Producer) PublishPurchaseSubmitted(ctx context.Context, lines domain.Products) error {
	data := PurchaseSubmittedData{
		Lines:       make([]PurchaseLineData, len(lines)),
		ItemCount:   lines.ItemCount(),
		TotalAmount: lines.TotalAmount(),
	}
	for i, line := range lines {
		data.Lines[i] = PurchaseLineData{
			ProductID: line.ID.String(),
			Name:      line.Name,
			Price:     line.Price,
			Units:     line.Units,
		}
	}

	if err := p.publish(ctx, TopicPurchaseSubmitted, data, ""); err != nil {
		return err
	}

	p.logger.DebugContext(ctx, "published purchase.submitted event",
		slog.Int("lines", len(lines)),
		slog.Int("item_count", data.ItemCount),
	)
	return nil
}

// PublishOperationFailed publishes an operation.failed event.
func (p *Producer) PublishOperationFailed(ctx context.Context, operation string, cause error) error {
	data := OperationFailedData{
		Operation: operation,
		Error:     cause.Error(),
		Network:   apperrors.IsNetwork(cause),
	}
	var netErr *apperrors.NetworkError
	if errors.As(cause, &netErr) {
		data.Status = netErr.Status
	}

	if err := p.publish(ctx, TopicOperationFailed, data, operation); err != nil {
		return err
	}

	p.logger.DebugContext(ctx, "published operation.failed event",
		slog.String("operation", operation),
	)
	return nil
}

func (p *Producer) publish(ctx context.Context, topic string, data any, operation string) error {
	aggregateID := logger.SessionIDFromContext(ctx)
	if aggregateID == "" {
		aggregateID = p.sessionID
	}

	event, err := pkgkafka.NewEvent(topic, aggregateID, AggregateTypeSession, SourceStorefront, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		event.WithCorrelationID(id)
	}
	if operation != "" {
		event.WithMetadata("operation", operation)
	}

	if err := p.kafka.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}
	return nil
}

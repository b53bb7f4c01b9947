package event

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	pkgkafka "github.com/lunebijoux/storefront/pkg/kafka"
	"github.com/lunebijoux/storefront/pkg/money"
	"github.com/lunebijoux/storefront/services/storefront/internal/availability"
	"github.com/lunebijoux/storefront/services/storefront/internal/cart"
	"github.com/lunebijoux/storefront/services/storefront/internal/order"
)

// Kafka topic constants for storefront domain events.
var (
	TopicCartUpdated    = pkgkafka.Topic("cart", "updated")
	TopicCartCleared    = pkgkafka.Topic("cart", "cleared")
	TopicStockLow       = pkgkafka.Topic("stock", "low")
	TopicOrderCommitted = pkgkafka.Topic("order", "committed")
)

// Aggregate type constants.
const (
	AggregateTypeCart      = "cart"
	AggregateTypeStock     = "stock"
	AggregateTypeOrder     = "order"
	SourceStorefront       = "storefront-service"
	metadataCartVersion    = "cart_version"
	metadataOrderStatus    = "order_status"
	metadataStockStatus    = "stock_status"
	metadataPreviousStatus = "previous_status"
)

// CartUpdatedData is the payload for a cart.updated event.
type CartUpdatedData struct {
	SessionID     string         `json:"session_id"`
	Items         []CartItemData `json:"items"`
	ItemCount     int            `json:"item_count"`
	SubtotalCents money.Cents    `json:"subtotal_cents"`
	DiscountCents money.Cents    `json:"discount_cents"`
	TotalCents    money.Cents    `json:"total_cents"`
	PromoCode     string         `json:"promo_code,omitempty"`
}

// CartItemData is the item payload within cart events.
type CartItemData struct {
	ProductID string      `json:"product_id"`
	VariantID string      `json:"variant_id,omitempty"`
	Name      string      `json:"name"`
	UnitCents money.Cents `json:"unit_cents"`
	Quantity  int         `json:"quantity"`
	Options   []string    `json:"options,omitempty"`
}

// CartClearedData is the payload for a cart.cleared event.
type CartClearedData struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"`
}

// StockLowData is the payload for a stock.low event.
type StockLowData struct {
	ProductID string              `json:"product_id"`
	VariantID string              `json:"variant_id,omitempty"`
	Remaining int                 `json:"remaining"`
	Threshold int                 `json:"threshold"`
	Status    availability.Status `json:"status"`
}

// Publisher is the part of pkg/kafka.Producer the storefront uses.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes storefront domain events to Kafka.
type Producer struct {
	kafka  Publisher
	logger *slog.Logger
}

// NewProducer creates a new event producer for the storefront service.
func NewProducer(kafka Publisher, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

func (p *Producer) publish(ctx context.Context, topic string, event *pkgkafka.Event) error {
	if err := p.kafka.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}
	p.logger.DebugContext(ctx, "published event",
		slog.String("topic", topic),
		slog.String("aggregate_id", event.AggregateID),
	)
	return nil
}

// PublishCartUpdated publishes a cart.updated event.
func (p *Producer) PublishCartUpdated(ctx context.Context, c *cart.Cart) error {
	items := make([]CartItemData, len(c.Items))
	for i, item := range c.Items {
		items[i] = CartItemData{
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			Name:      item.Name,
			UnitCents: item.UnitTotal(),
			Quantity:  item.Quantity,
			Options:   item.Options.Labels(),
		}
	}

	q := c.Quote(nil)
	data := CartUpdatedData{
		SessionID:     c.SessionID,
		Items:         items,
		ItemCount:     q.ItemCount,
		SubtotalCents: q.SubtotalCents,
		DiscountCents: q.DiscountCents,
		TotalCents:    q.TotalCents,
		PromoCode:     q.PromoCode,
	}

	event, err := pkgkafka.NewEvent(TopicCartUpdated, c.SessionID, AggregateTypeCart, SourceStorefront, data)
	if err != nil {
		return fmt.Errorf("create cart.updated event: %w", err)
	}
	event.WithMetadata(metadataCartVersion, strconv.Itoa(c.Version))

	return p.publish(ctx, TopicCartUpdated, event)
}

// PublishCartCleared publishes a cart.cleared event.
func (p *Producer) PublishCartCleared(ctx context.Context, sessionID, reason string) error {
	data := CartClearedData{SessionID: sessionID, Reason: reason}

	event, err := pkgkafka.NewEvent(TopicCartCleared, sessionID, AggregateTypeCart, SourceStorefront, data)
	if err != nil {
		return fmt.Errorf("create cart.cleared event: %w", err)
	}

	return p.publish(ctx, TopicCartCleared, event)
}

// PublishStockLow publishes a stock.low event for a counter that crossed
// into low_stock or out_of_stock.
func (p *Producer) PublishStockLow(ctx context.Context, productID, variantID string, level availability.Level) error {
	data := StockLowData{
		ProductID: productID,
		VariantID: variantID,
		Remaining: level.Remaining,
		Threshold: level.Threshold,
		Status:    level.Status,
	}

	event, err := pkgkafka.NewEvent(TopicStockLow, level.ID, AggregateTypeStock, SourceStorefront, data)
	if err != nil {
		return fmt.Errorf("create stock.low event: %w", err)
	}
	event.WithMetadata(metadataStockStatus, string(level.Status)).
		WithMetadata(metadataPreviousStatus, string(level.Previous))

	return p.publish(ctx, TopicStockLow, event)
}

// PublishOrderCommitted publishes an order.committed event.
func (p *Producer) PublishOrderCommitted(ctx context.Context, o *order.Order) error {
	event, err := pkgkafka.NewEvent(TopicOrderCommitted, o.ID.String(), AggregateTypeOrder, SourceStorefront, o)
	if err != nil {
		return fmt.Errorf("create order.committed event: %w", err)
	}
	event.WithMetadata(metadataOrderStatus, string(o.Status))

	return p.publish(ctx, TopicOrderCommitted, event)
}

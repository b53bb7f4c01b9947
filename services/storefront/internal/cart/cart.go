// Package cart holds the shopping cart aggregate. Derived amounts are
// recomputed from the line items on every read.
package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lunebijoux/storefront/pkg/money"
	"github.com/lunebijoux/storefront/services/storefront/internal/charm"
	"github.com/lunebijoux/storefront/services/storefront/internal/promo"
	"github.com/lunebijoux/storefront/services/storefront/internal/shipping"
)

var (
	// ErrUnknownItem is returned when an operation names a line that is not
	// in the cart. It signals a caller bug.
	ErrUnknownItem = errors.New("unknown cart item")
	// ErrInvalidItem is returned for an ItemSpec without a product.
	ErrInvalidItem = errors.New("invalid cart item")
)

// PromoValidator checks a code against the current subtotal.
type PromoValidator interface {
	Validate(ctx context.Context, code string, subtotal money.Cents, now time.Time) (promo.Descriptor, error)
}

// Cart is a per-session cart. It is owned by one session and is not safe for
// concurrent use.
type Cart struct {
	SessionID        string            `json:"session_id"`
	Items            []LineItem        `json:"items"`
	Promo            *promo.Descriptor `json:"promo,omitempty"`
	PromoNotice      *promo.Rejection  `json:"promo_notice,omitempty"`
	ShippingMethodID string            `json:"shipping_method_id,omitempty"`
	Version          int               `json:"version"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`

	// Now overrides the clock used for promo expiry checks.
	Now func() time.Time `json:"-"`
}

// New returns an empty cart for a session.
func New(sessionID string, now time.Time) *Cart {
	return &Cart{
		SessionID: sessionID,
		Items:     []LineItem{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (c *Cart) clock() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now().UTC()
}

// touch records a mutation and drops a promo code the new subtotal no
// longer qualifies for.
func (c *Cart) touch() {
	c.Version++
	c.UpdatedAt = c.clock()
	c.recheckPromo()
}

func (c *Cart) recheckPromo() {
	if c.Promo == nil {
		return
	}
	if rej := c.Promo.StillEligible(c.Subtotal(), c.clock()); rej != nil {
		c.Promo = nil
		c.PromoNotice = rej
	}
}

func (c *Cart) indexOf(id uuid.UUID) int {
	for i := range c.Items {
		if c.Items[i].ID == id {
			return i
		}
	}
	return -1
}

func (c *Cart) indexOfKey(key string) int {
	for i := range c.Items {
		if c.Items[i].MergeKey() == key {
			return i
		}
	}
	return -1
}

// Item returns the line with the given id.
func (c *Cart) Item(id uuid.UUID) (LineItem, bool) {
	if i := c.indexOf(id); i >= 0 {
		return c.Items[i], true
	}
	return LineItem{}, false
}

// AddItem adds one unit of spec, merging into an identical line when one
// exists.
func (c *Cart) AddItem(spec ItemSpec) (LineItem, error) {
	return c.AddItemQuantity(spec, 1)
}

// AddItemQuantity adds qty units of spec. A non-positive qty is a no-op.
func (c *Cart) AddItemQuantity(spec ItemSpec, qty int) (LineItem, error) {
	if spec.ProductID == "" {
		return LineItem{}, fmt.Errorf("%w: product id is required", ErrInvalidItem)
	}
	if err := spec.Options.Validate(); err != nil {
		return LineItem{}, err
	}
	key := mergeKey(spec.ProductID, spec.VariantID, spec.Options)
	if qty <= 0 {
		if i := c.indexOfKey(key); i >= 0 {
			return c.Items[i], nil
		}
		return LineItem{}, nil
	}

	if i := c.indexOfKey(key); i >= 0 {
		c.Items[i].Quantity += qty
		c.Items[i].Flag = nil
		c.touch()
		return c.Items[i], nil
	}

	line := spec.newLine(qty)
	c.Items = append(c.Items, line)
	c.touch()
	return line, nil
}

// UpdateQuantity sets the quantity of a line. A quantity of zero or less
// removes the line.
func (c *Cart) UpdateQuantity(id uuid.UUID, qty int) error {
	i := c.indexOf(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownItem, id)
	}
	if qty <= 0 {
		c.removeAt(i)
	} else {
		c.Items[i].Quantity = qty
		c.Items[i].Flag = nil
	}
	c.touch()
	return nil
}

// RemoveItem removes a line. It reports whether a line was removed.
func (c *Cart) RemoveItem(id uuid.UUID) bool {
	i := c.indexOf(id)
	if i < 0 {
		return false
	}
	c.removeAt(i)
	c.touch()
	return true
}

func (c *Cart) removeAt(i int) {
	c.Items = append(c.Items[:i], c.Items[i+1:]...)
}

// Clear empties the cart and detaches any promo code.
func (c *Cart) Clear() {
	c.Items = []LineItem{}
	c.Promo = nil
	c.PromoNotice = nil
	c.touch()
}

// ToggleOption selects or deselects an option on a line. When the new
// selection matches another line, the two lines are merged.
func (c *Cart) ToggleOption(id uuid.UUID, opt charm.Option) (LineItem, error) {
	i := c.indexOf(id)
	if i < 0 {
		return LineItem{}, fmt.Errorf("%w: %s", ErrUnknownItem, id)
	}
	next, err := charm.Toggle(c.Items[i].Options, opt)
	if err != nil {
		return c.Items[i], err
	}
	c.Items[i].Options = next

	key := c.Items[i].MergeKey()
	for j := range c.Items {
		if j != i && c.Items[j].MergeKey() == key {
			c.Items[j].Quantity += c.Items[i].Quantity
			merged := c.Items[j]
			c.removeAt(i)
			c.touch()
			return merged, nil
		}
	}
	c.touch()
	return c.Items[i], nil
}

// ApplyPromoCode validates code against the current subtotal and attaches
// it. On failure the cart is left unchanged and the error is returned.
func (c *Cart) ApplyPromoCode(ctx context.Context, v PromoValidator, code string, now time.Time) error {
	desc, err := v.Validate(ctx, code, c.Subtotal(), now)
	if err != nil {
		return err
	}
	c.Promo = &desc
	c.PromoNotice = nil
	c.touch()
	return nil
}

// RemovePromoCode detaches the promo code.
func (c *Cart) RemovePromoCode() {
	c.Promo = nil
	c.PromoNotice = nil
	c.touch()
}

// DropPromo detaches the promo code and records why.
func (c *Cart) DropPromo(rej *promo.Rejection) {
	c.Promo = nil
	c.PromoNotice = rej
	c.touch()
}

// SelectShipping records the chosen shipping method.
func (c *Cart) SelectShipping(methodID string) {
	c.ShippingMethodID = methodID
	c.touch()
}

// FlagItem marks a line that failed to commit.
func (c *Cart) FlagItem(id uuid.UUID, flag LineFlag) {
	if i := c.indexOf(id); i >= 0 {
		c.Items[i].Flag = &flag
	}
}

// RemoveItems drops the given lines in one mutation.
func (c *Cart) RemoveItems(ids []uuid.UUID) {
	if len(ids) == 0 {
		return
	}
	drop := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	kept := c.Items[:0]
	for _, item := range c.Items {
		if _, ok := drop[item.ID]; !ok {
			kept = append(kept, item)
		}
	}
	c.Items = kept
	c.touch()
}

// IsEmpty reports whether the cart has no lines.
func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// Subtotal is the sum of line totals.
func (c *Cart) Subtotal() money.Cents {
	var total money.Cents
	for _, item := range c.Items {
		total += item.LineTotal()
	}
	return total
}

// lapsedPromo reports why the attached promo no longer applies at the
// cart's clock, or nil when it still does. An untouched cart keeps its
// promo attached past expiry until the next mutation detaches it.
func (c *Cart) lapsedPromo(subtotal money.Cents) *promo.Rejection {
	if c.Promo == nil {
		return nil
	}
	return c.Promo.StillEligible(subtotal, c.clock())
}

// Discount is the attached promo's discount on the current subtotal, zero
// once the promo has lapsed.
func (c *Cart) Discount() money.Cents {
	if c.Promo == nil {
		return 0
	}
	subtotal := c.Subtotal()
	if c.lapsedPromo(subtotal) != nil {
		return 0
	}
	return c.Promo.Discount(subtotal)
}

// WeightGrams is the shippable weight of every line.
func (c *Cart) WeightGrams() float64 {
	var w float64
	for _, item := range c.Items {
		w += item.LineWeight()
	}
	return w
}

// ItemCount is the number of units in the cart.
func (c *Cart) ItemCount() int {
	var n int
	for _, item := range c.Items {
		n += item.Quantity
	}
	return n
}

// Quote is a full price breakdown of the cart.
type Quote struct {
	SubtotalCents  money.Cents      `json:"subtotal_cents"`
	DiscountCents  money.Cents      `json:"discount_cents"`
	ShippingCents  money.Cents      `json:"shipping_cents"`
	TotalCents     money.Cents      `json:"total_cents"`
	WeightGrams    float64          `json:"weight_grams"`
	ItemCount      int              `json:"item_count"`
	ShippingMethod string           `json:"shipping_method_id,omitempty"`
	ShippingQuoted bool             `json:"shipping_quoted"`
	FreeShipping   bool             `json:"free_shipping"`
	PromoCode      string           `json:"promo_code,omitempty"`
	PromoNotice    *promo.Rejection `json:"promo_notice,omitempty"`
	Formatted      FormattedQuote   `json:"formatted"`
}

// FormattedQuote carries display strings for the amounts.
type FormattedQuote struct {
	Subtotal string `json:"subtotal"`
	Discount string `json:"discount"`
	Shipping string `json:"shipping"`
	Total    string `json:"total"`
}

// Quote computes the breakdown. Shipping is only quoted once a method known
// to cat is selected and the cart is not empty.
func (c *Cart) Quote(cat *shipping.Catalog) Quote {
	subtotal := c.Subtotal()
	discount := money.Min(c.Discount(), subtotal)
	q := Quote{
		SubtotalCents:  subtotal,
		DiscountCents:  discount,
		WeightGrams:    c.WeightGrams(),
		ItemCount:      c.ItemCount(),
		ShippingMethod: c.ShippingMethodID,
		PromoNotice:    c.PromoNotice,
	}
	if rej := c.lapsedPromo(subtotal); rej != nil {
		q.PromoNotice = rej
	} else if c.Promo != nil {
		q.PromoCode = c.Promo.Code
	}
	if cat != nil && c.ShippingMethodID != "" && !c.IsEmpty() {
		if sq, err := cat.Quote(c.ShippingMethodID, subtotal, q.WeightGrams); err == nil {
			q.ShippingCents = sq.CostCents
			q.ShippingQuoted = true
			q.FreeShipping = sq.Free
		}
	}
	q.TotalCents = subtotal.Sub(discount).Add(q.ShippingCents)
	q.Formatted = FormattedQuote{
		Subtotal: q.SubtotalCents.Format(),
		Discount: q.DiscountCents.Format(),
		Shipping: q.ShippingCents.Format(),
		Total:    q.TotalCents.Format(),
	}
	return q
}

// Snapshot serializes the cart for the snapshot store.
func (c *Cart) Snapshot() ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal cart: %w", err)
	}
	return data, nil
}

// Restore rebuilds a cart from a snapshot.
func Restore(data []byte) (*Cart, error) {
	var c Cart
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("unmarshal cart: %w", err)
	}
	if c.Items == nil {
		c.Items = []LineItem{}
	}
	return &c, nil
}

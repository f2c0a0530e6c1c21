// Package stock answers whether a requested quantity of a product can be
// fulfilled now, according to live catalog data.
package stock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/utafrali/cartengine/internal/catalog"
	"github.com/utafrali/cartengine/internal/domain"
	"github.com/utafrali/cartengine/pkg/tracing"
)

// Reasons reported to shoppers.
const (
	ReasonOutOfStock  = "out of stock"
	ReasonUnverified  = "stock could not be verified"
	ReasonCancelled   = "stock check cancelled"
	reasonOnlyNFormat = "only %d available"
)

var stockChecksTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "cart_stock_checks_total",
		Help: "Stock checks performed before cart quantity changes, by outcome",
	},
	[]string{"outcome"},
)

// Availability is the answer to one stock check.
type Availability struct {
	Available bool
	Reason    string
	// AvailableQuantity is the live stock level. It is meaningless when
	// Unbounded is set.
	AvailableQuantity int
	// Unbounded means no ceiling applies: stock tracking is off, the product
	// is on backorder, or the catalog could not be reached under FailOpen.
	Unbounded bool
}

// Ceiling returns the largest quantity, up to requested, that may be committed.
func (a Availability) Ceiling(requested int) int {
	if a.Unbounded || a.AvailableQuantity >= requested {
		return requested
	}
	if a.AvailableQuantity < 0 {
		return 0
	}
	return a.AvailableQuantity
}

// Result carries the availability and, when the catalog answered, the
// product so the caller can re-price without a second round trip.
type Result struct {
	Availability
	Product *domain.Product
}

// ProductFetcher is the catalog dependency of the validator.
type ProductFetcher interface {
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
}

// Validator checks requested quantities against catalog stock.
type Validator struct {
	catalog ProductFetcher
	policy  Policy
	logger  *slog.Logger
}

// NewValidator creates a stock validator.
func NewValidator(catalog ProductFetcher, policy Policy, logger *slog.Logger) *Validator {
	return &Validator{catalog: catalog, policy: policy, logger: logger}
}

// Policy returns the configured failure policy.
func (v *Validator) Policy() Policy {
	return v.policy
}

// CheckAvailability reports whether requested units of productID can be
// fulfilled. It never returns an error: catalog failures resolve through
// the configured Policy, and cancellation of ctx yields a rejection.
func (v *Validator) CheckAvailability(ctx context.Context, productID string, requested int) Result {
	ctx, span := tracing.Tracer("internal/stock").Start(ctx, "stock.CheckAvailability")
	defer span.End()
	span.SetAttributes(
		attribute.String("product.id", productID),
		attribute.Int("stock.requested", requested),
	)

	res, outcome := v.check(ctx, productID, requested)

	span.SetAttributes(
		attribute.Bool("stock.available", res.Available),
		attribute.String("stock.outcome", outcome),
	)
	if outcome == "cancelled" {
		span.SetStatus(codes.Error, ReasonCancelled)
	}
	stockChecksTotal.WithLabelValues(outcome).Inc()
	return res
}

func (v *Validator) check(ctx context.Context, productID string, requested int) (Result, string) {
	product, err := v.catalog.GetProduct(ctx, productID)
	if err != nil {
		if ctx.Err() != nil {
			return Result{Availability: Availability{Reason: ReasonCancelled}}, "cancelled"
		}
		return v.onFailure(ctx, productID, err)
	}

	avail := Evaluate(product, requested)
	outcome := "available"
	switch {
	case !avail.Available:
		outcome = "unavailable"
	case avail.Unbounded:
		outcome = "unbounded"
	}
	return Result{Availability: avail, Product: product}, outcome
}

func (v *Validator) onFailure(ctx context.Context, productID string, err error) (Result, string) {
	attrs := []any{
		slog.String("product_id", productID),
		slog.String("policy", v.policy.String()),
		slog.String("error", err.Error()),
	}
	if errors.Is(err, catalog.ErrProductNotFound) {
		attrs = append(attrs, slog.Bool("not_found", true))
	}
	v.logger.WarnContext(ctx, "stock check could not reach catalog", attrs...)

	if v.policy == FailClosed {
		return Result{Availability: Availability{Reason: ReasonUnverified}}, "fail_closed"
	}
	return Result{Availability: Availability{Available: true, Unbounded: true}}, "fail_open"
}

// Evaluate applies the stock rules to live product data.
func Evaluate(p *domain.Product, requested int) Availability {
	if !p.StockEnabled {
		return Availability{Available: true, Unbounded: true}
	}

	onHand := p.StockQuantity
	if onHand < 0 {
		onHand = 0
	}

	switch {
	case onHand >= requested:
		return Availability{Available: true, AvailableQuantity: onHand}
	case onHand == 0 && p.AllowBackorders:
		return Availability{Available: true, AvailableQuantity: 0, Unbounded: true}
	case onHand == 0:
		return Availability{Reason: ReasonOutOfStock}
	default:
		return Availability{Reason: fmt.Sprintf(reasonOnlyNFormat, onHand), AvailableQuantity: onHand}
	}
}

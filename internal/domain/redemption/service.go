package redemption

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/promo-engine/internal/domain/catalog"
	"github.com/xenking/promo-engine/internal/domain/code"
	"github.com/xenking/promo-engine/internal/domain/coupon"
)

// CouponSource resolves a code string to its code record and owning
// definition. Implemented by the snapshot cache in front of the repositories.
type CouponSource interface {
	Lookup(ctx context.Context, codeStr string) (*coupon.Definition, *code.Code, error)
}

// CodeInvalidator drops a cached code snapshot after its usage state changed.
type CodeInvalidator interface {
	InvalidateCode(codeStr string)
}

// ValidateRequest is the input to Validate and, with an order id, to Apply.
type ValidateRequest struct {
	Code          string
	CustomerID    string
	StoreID       string
	Channel       string
	PaymentMethod string
	IP            string
	Device        string
	Cart          coupon.Cart
}

// ValidateResult reports a validation outcome as structured data. An invalid
// result is not an error: it carries exactly one reason from the closed set.
type ValidateResult struct {
	Valid    bool
	Reason   coupon.Reason
	Message  string
	Discount decimal.Decimal
	Items    []coupon.AffectedItem
	Warnings []string
	Stacking coupon.Stacking
}

// ApplyResult reports a successful apply.
type ApplyResult struct {
	RedemptionID string
	Discount     decimal.Decimal
	Items        []coupon.AffectedItem
	Warnings     []string
	Stacking     coupon.Stacking
}

// DeclinedError is returned by Apply when validation failed or the atomic
// usage increment lost a race. It carries the specific reason so callers can
// report it like any validation failure.
type DeclinedError struct {
	Reason  coupon.Reason
	Message string
}

func (e *DeclinedError) Error() string {
	return "coupon declined: " + string(e.Reason)
}

// Service orchestrates the coupon engine's exposed operations: validate,
// apply, cancel, refund, and analytics.
type Service struct {
	source  CouponSource
	ledger  Ledger
	usage   UsageCounter
	history CustomerHistory
	catalog catalog.Catalog
	inval   CodeInvalidator
	now     func() time.Time
}

// NewService creates a Service. inval may be nil when no cache is wired.
func NewService(
	source CouponSource,
	ledger Ledger,
	usage UsageCounter,
	history CustomerHistory,
	cat catalog.Catalog,
	inval CodeInvalidator,
) *Service {
	return &Service{
		source:  source,
		ledger:  ledger,
		usage:   usage,
		history: history,
		catalog: cat,
		inval:   inval,
		now:     time.Now,
	}
}

// Validate runs the eligibility pipeline and, when it passes, computes the
// discount. It is read-only: nothing is reserved or consumed, so concurrent
// validations may run without bound.
func (s *Service) Validate(ctx context.Context, req ValidateRequest) (*ValidateResult, error) {
	res, _, _, err := s.validate(ctx, req)
	return res, err
}

// Apply re-validates the code and, while still valid, records the redemption:
// one atomic conditional usage increment plus one ledger insert. A lost race
// or failed validation returns a *DeclinedError; a collaborator outage
// returns a plain error. In both cases nothing is written.
func (s *Service) Apply(ctx context.Context, req ValidateRequest, orderID string) (*ApplyResult, error) {
	if orderID == "" {
		return nil, errors.New("order id required")
	}

	res, def, cd, err := s.validate(ctx, req)
	if err != nil {
		return nil, err
	}
	if !res.Valid {
		return nil, &DeclinedError{Reason: res.Reason, Message: res.Message}
	}

	now := s.now()
	r := &Redemption{
		ID:            uuid.New().String(),
		CouponID:      def.ID,
		Code:          cd.Code,
		CustomerID:    req.CustomerID,
		StoreID:       req.StoreID,
		Channel:       req.Channel,
		OrderID:       orderID,
		PreDiscount:   req.Cart.PreDiscountTotal().Round(2),
		Discount:      res.Discount,
		Items:         res.Items,
		Status:        StatusActive,
		IP:            req.IP,
		Device:        req.Device,
		PaymentMethod: req.PaymentMethod,
		RedeemedAt:    now,
		UpdatedAt:     now,
	}

	limits := Limits{
		PerCustomerTotal: def.PerCustomerLimit,
		PerCustomerDaily: def.PerCustomerDailyLimit,
	}
	if err := s.ledger.Record(ctx, r, limits); err != nil {
		var conflict *ConflictError
		if errors.As(err, &conflict) {
			return nil, &DeclinedError{Reason: conflict.Reason, Message: conflict.Reason.Message()}
		}
		return nil, errors.Wrap(err, "record redemption")
	}
	s.invalidate(cd.Code)

	return &ApplyResult{
		RedemptionID: r.ID,
		Discount:     r.Discount,
		Items:        r.Items,
		Warnings:     res.Warnings,
		Stacking:     res.Stacking,
	}, nil
}

// Cancel transitions the order's redemption to CANCELLED and releases one use
// of the code. Cancelling an already terminal redemption returns its stored
// state unchanged.
func (s *Service) Cancel(ctx context.Context, orderID, reason string) (*Redemption, error) {
	r, err := s.ledger.Transition(ctx, orderID, StatusCancelled, Patch{Reason: reason})
	if err != nil {
		return nil, err
	}
	s.invalidate(r.Code)
	return r, nil
}

// Refund transitions the order's redemption to REFUNDED and releases one use
// of the code. Refunding an already terminal redemption returns its stored
// state unchanged.
func (s *Service) Refund(ctx context.Context, orderID, refundID string, amount decimal.Decimal, reason string) (*Redemption, error) {
	if amount.IsNegative() {
		return nil, errors.New("refund amount must not be negative")
	}
	r, err := s.ledger.Transition(ctx, orderID, StatusRefunded, Patch{
		Reason:       reason,
		RefundID:     refundID,
		RefundAmount: amount.Round(2),
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(r.Code)
	return r, nil
}

// Analytics rolls up redemption counts and discount totals for the coupon
// over the date range.
func (s *Service) Analytics(ctx context.Context, couponID string, from, to time.Time) (*Analytics, error) {
	return s.ledger.Aggregate(ctx, couponID, from, to)
}

// validate assembles the pipeline input, runs it, and on success computes the
// discount. The definition and code are returned for Apply's use.
func (s *Service) validate(ctx context.Context, req ValidateRequest) (*ValidateResult, *coupon.Definition, *code.Code, error) {
	def, cd, err := s.lookup(ctx, req.Code)
	if err != nil {
		return nil, nil, nil, err
	}

	now := s.now().UTC()
	in := coupon.ValidationInput{
		Code:       cd,
		Definition: def,
		Cart:       req.Cart,
		Ctx: coupon.RequestContext{
			Now:           now,
			CustomerID:    req.CustomerID,
			StoreID:       req.StoreID,
			Channel:       req.Channel,
			PaymentMethod: req.PaymentMethod,
			IP:            req.IP,
			Device:        req.Device,
		},
	}

	if def != nil {
		in.Customer, err = s.customerUsage(ctx, def, req.CustomerID, now)
		if err != nil {
			return nil, nil, nil, err
		}
	}

	if res := coupon.Validate(in); !res.Valid {
		return &ValidateResult{Reason: res.Reason, Message: res.Message}, nil, nil, nil
	}

	comp, err := coupon.Calculate(ctx, def, req.Cart, s.catalog)
	if err != nil {
		return nil, nil, nil, err
	}

	return &ValidateResult{
		Valid:    true,
		Discount: comp.Discount,
		Items:    comp.Items,
		Warnings: comp.Warnings,
		Stacking: def.Stacking,
	}, def, cd, nil
}

// lookup resolves the code. An unknown code is a validation outcome, not an
// error, so it maps to a nil code record.
func (s *Service) lookup(ctx context.Context, codeStr string) (*coupon.Definition, *code.Code, error) {
	def, cd, err := s.source.Lookup(ctx, codeStr)
	if err != nil {
		if errors.Is(err, code.ErrCodeNotFound) {
			return nil, nil, nil
		}
		return nil, nil, errors.Wrap(err, "lookup code")
	}
	return def, cd, nil
}

// customerUsage gathers only the history the definition actually needs, so
// the hot path makes no collaborator calls for coupons without customer
// constraints. Daily limits use the UTC calendar day.
func (s *Service) customerUsage(ctx context.Context, def *coupon.Definition, customerID string, now time.Time) (coupon.CustomerUsage, error) {
	var usage coupon.CustomerUsage

	if def.Target.FirstOrderOnly {
		n, err := s.history.OrderCount(ctx, customerID)
		if err != nil {
			return usage, errors.Wrap(err, "customer order count")
		}
		usage.OrderCount = n
	}

	if def.PerCustomerLimit > 0 || def.PerCustomerDailyLimit > 0 {
		dayStart := now.Truncate(24 * time.Hour)
		total, daily, err := s.usage.CustomerRedemptions(ctx, def.ID, customerID, dayStart)
		if err != nil {
			return usage, errors.Wrap(err, "customer redemption counts")
		}
		usage.Redemptions = total
		usage.DailyRedemptions = daily
	}
	return usage, nil
}

func (s *Service) invalidate(codeStr string) {
	if s.inval != nil {
		s.inval.InvalidateCode(codeStr)
	}
}

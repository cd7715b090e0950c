package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/kiwari-pos/order-core/internal/cart"
	"github.com/kiwari-pos/order-core/internal/database"
	"github.com/kiwari-pos/order-core/internal/enum"
	"github.com/kiwari-pos/order-core/internal/pricing"
	"github.com/shopspring/decimal"
)

const (
	maxOrderNumberRetries = 3
	defaultOrderPrefix    = "KWR"
)

// Validation errors returned by the order service. The cart is untouched
// when any of these is returned.
var (
	ErrEmptyItems            = errors.New("items are required")
	ErrInvalidOrderType      = errors.New("invalid order_type")
	ErrInvalidQuantity       = errors.New("quantity must be > 0")
	ErrMissingMenuItem       = errors.New("menu_item_id is required")
	ErrCustomerNameRequired  = errors.New("customer_name is required for this order type")
	ErrCustomerMobileMissing = errors.New("customer_mobile is required for DELIVERY orders")
	ErrPaymentMethodRequired = errors.New("payment_method is required when paid at submission")
	ErrInvalidPaymentMethod  = errors.New("invalid payment_method")
)

// Submission stages reported by SubmissionError.
const (
	StageBegin       = "begin"
	StageOrderNumber = "order_number"
	StageHeader      = "header"
	StageItems       = "items"
	StageCommit      = "commit"
)

// SubmissionError is the single error surfaced when the durable write fails.
// Fatal is set when the header may have persisted without its items, which
// happens only if the rollback itself fails after the header insert.
type SubmissionError struct {
	Stage       string
	OrderID     uuid.UUID
	OrderNumber string
	Fatal       bool
	Err         error
}

func (e *SubmissionError) Error() string {
	var b strings.Builder
	if e.Fatal {
		b.WriteString("fatal: ")
	}
	fmt.Fprintf(&b, "submit order: %s", e.Stage)
	if e.OrderNumber != "" {
		fmt.Fprintf(&b, " (order %s)", e.OrderNumber)
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	return b.String()
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// TxBeginner starts a new database transaction.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// OrderStore defines the DB methods needed to create orders.
// Satisfied by *database.Queries (and its WithTx variant).
type OrderStore interface {
	GetNextOrderSeq(ctx context.Context, outletID uuid.UUID) (int32, error)
	CreateOrder(ctx context.Context, arg database.CreateOrderParams) (database.Order, error)
	CreateOrderItem(ctx context.Context, arg database.CreateOrderItemParams) (database.OrderItem, error)
}

// NewOrderStore creates an OrderStore from a DBTX (pool or tx).
// This allows the service to create store instances from transactions.
type NewOrderStore func(db database.DBTX) OrderStore

// Checkout is the metadata collected on the checkout view.
type Checkout struct {
	OrderType      string
	CustomerName   string
	CustomerMobile string
	PaidNow        bool
	PaymentMethod  string
	Notes          string
}

// SubmitOrderRequest is a committed cart plus checkout metadata.
type SubmitOrderRequest struct {
	OutletID uuid.UUID
	TakenBy  uuid.UUID
	Cart     cart.State
	Checkout Checkout
}

// SubmitOrderResult is the persisted header and its item snapshot.
type SubmitOrderResult struct {
	Order database.Order
	Items []database.OrderItem
}

// OrderService turns carts into durable orders.
type OrderService struct {
	pool     TxBeginner
	newStore NewOrderStore
	prefix   string
	logger   *slog.Logger
}

// OrderOption configures an OrderService.
type OrderOption func(*OrderService)

// WithOrderNumberPrefix sets the prefix of generated order numbers.
func WithOrderNumberPrefix(prefix string) OrderOption {
	return func(s *OrderService) { s.prefix = prefix }
}

// WithLogger sets the logger used for fatal submission reports.
func WithLogger(l *slog.Logger) OrderOption {
	return func(s *OrderService) { s.logger = l }
}

// NewOrderService creates a new OrderService.
func NewOrderService(pool TxBeginner, newStore NewOrderStore, opts ...OrderOption) *OrderService {
	s := &OrderService{
		pool:     pool,
		newStore: newStore,
		prefix:   defaultOrderPrefix,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// preparedItem is one cart line converted to insert params.
type preparedItem struct {
	params database.CreateOrderItemParams
}

// SubmitOrder validates the checkout and writes the header and all item rows
// in one transaction. Only an order number collision is retried; every other
// failure is returned as a *SubmissionError without retry.
func (s *OrderService) SubmitOrder(ctx context.Context, req SubmitOrderRequest) (*SubmitOrderResult, error) {
	if err := validateCheckout(req.Checkout); err != nil {
		return nil, err
	}
	if len(req.Cart.Items) == 0 {
		return nil, ErrEmptyItems
	}

	items, lineTotals, err := prepareItems(req.Cart.Items)
	if err != nil {
		return nil, err
	}
	totals := pricing.CartTotals(lineTotals, req.Cart.VATRate)

	var lastErr error
	for attempt := 0; attempt < maxOrderNumberRetries; attempt++ {
		result, err := s.submitTx(ctx, req, items, totals)
		if err == nil {
			return result, nil
		}
		if isOrderNumberConflict(err) {
			lastErr = err
			continue
		}
		return nil, err
	}
	return nil, lastErr
}

// isOrderNumberConflict reports a unique violation on the per-outlet sequence.
func isOrderNumberConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" && pgErr.ConstraintName == "orders_outlet_id_order_seq_key"
	}
	return false
}

func (s *OrderService) submitTx(ctx context.Context, req SubmitOrderRequest, items []preparedItem, totals pricing.Totals) (*SubmitOrderResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, &SubmissionError{Stage: StageBegin, Err: err}
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	seq, err := store.GetNextOrderSeq(ctx, req.OutletID)
	if err != nil {
		return nil, &SubmissionError{Stage: StageOrderNumber, Err: err}
	}
	orderNumber := fmt.Sprintf("%s-%03d", s.prefix, seq)

	status := enum.PaymentStatusPending
	method := ""
	if req.Checkout.PaidNow {
		status = enum.PaymentStatusPaid
		method = req.Checkout.PaymentMethod
	}

	order, err := store.CreateOrder(ctx, database.CreateOrderParams{
		OutletID:       req.OutletID,
		OrderSeq:       seq,
		OrderNumber:    orderNumber,
		OrderType:      req.Checkout.OrderType,
		CustomerName:   textOrNull(strings.TrimSpace(req.Checkout.CustomerName)),
		CustomerMobile: textOrNull(strings.TrimSpace(req.Checkout.CustomerMobile)),
		Subtotal:       DecimalToNumeric(totals.Subtotal),
		VatRate:        DecimalToNumeric(totals.VATRate),
		VatAmount:      DecimalToNumeric(totals.VATAmount),
		Total:          DecimalToNumeric(totals.Total),
		PaymentStatus:  status,
		PaymentMethod:  textOrNull(method),
		TakenBy:        req.TakenBy,
		Notes:          textOrNull(req.Checkout.Notes),
	})
	if err != nil {
		return nil, &SubmissionError{Stage: StageHeader, OrderNumber: orderNumber, Err: err}
	}

	created := make([]database.OrderItem, 0, len(items))
	for i, pi := range items {
		pi.params.OrderID = order.ID
		item, err := store.CreateOrderItem(ctx, pi.params)
		if err != nil {
			return nil, s.abortAfterHeader(ctx, tx, order, fmt.Errorf("item[%d]: %w", i, err))
		}
		created = append(created, item)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, &SubmissionError{Stage: StageCommit, OrderID: order.ID, OrderNumber: order.OrderNumber, Err: err}
	}

	return &SubmitOrderResult{Order: order, Items: created}, nil
}

// abortAfterHeader rolls back a transaction whose header row exists but whose
// items failed. A failed rollback leaves a possible phantom order, which is
// logged and reported as fatal.
func (s *OrderService) abortAfterHeader(ctx context.Context, tx pgx.Tx, order database.Order, cause error) error {
	subErr := &SubmissionError{
		Stage:       StageItems,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Err:         cause,
	}
	if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
		subErr.Fatal = true
		subErr.Err = errors.Join(cause, fmt.Errorf("rollback: %w", rbErr))
		s.logger.ErrorContext(ctx, "order header persisted without items",
			"fatal", true,
			"order_id", order.ID,
			"order_number", order.OrderNumber,
			"outlet_id", order.OutletID,
			"error", subErr.Err,
		)
		return subErr
	}
	s.logger.ErrorContext(ctx, "order items write failed, submission rolled back",
		"order_number", order.OrderNumber,
		"error", cause,
	)
	return subErr
}

// --- Helpers ---

func validateCheckout(c Checkout) error {
	switch c.OrderType {
	case enum.OrderTypeDineIn, enum.OrderTypeTakeaway:
	case enum.OrderTypeSelfPickup:
		if strings.TrimSpace(c.CustomerName) == "" {
			return ErrCustomerNameRequired
		}
	case enum.OrderTypeDelivery:
		if strings.TrimSpace(c.CustomerName) == "" {
			return ErrCustomerNameRequired
		}
		if strings.TrimSpace(c.CustomerMobile) == "" {
			return ErrCustomerMobileMissing
		}
	default:
		return ErrInvalidOrderType
	}

	if c.PaidNow {
		if c.PaymentMethod == "" {
			return ErrPaymentMethodRequired
		}
		if !IsValidPaymentMethod(c.PaymentMethod) {
			return ErrInvalidPaymentMethod
		}
	}
	return nil
}

// IsValidPaymentMethod reports whether m is a known payment method.
func IsValidPaymentMethod(m string) bool {
	switch m {
	case enum.PaymentMethodCash, enum.PaymentMethodCard,
		enum.PaymentMethodQRIS, enum.PaymentMethodTransfer:
		return true
	}
	return false
}

func prepareItems(lines []cart.Line) ([]preparedItem, []decimal.Decimal, error) {
	items := make([]preparedItem, 0, len(lines))
	lineTotals := make([]decimal.Decimal, 0, len(lines))
	for i, l := range lines {
		if l.Quantity <= 0 {
			return nil, nil, fmt.Errorf("item[%d]: %w", i, ErrInvalidQuantity)
		}
		if l.MenuItemID == "" {
			return nil, nil, fmt.Errorf("item[%d]: %w", i, ErrMissingMenuItem)
		}
		payload, err := l.Customization.Marshal()
		if err != nil {
			return nil, nil, fmt.Errorf("item[%d]: %w", i, err)
		}
		unit := l.UnitPrice()
		lineTotal := l.LineTotal()
		lineTotals = append(lineTotals, lineTotal)
		items = append(items, preparedItem{params: database.CreateOrderItemParams{
			MenuItemID:        l.MenuItemID,
			Name:              l.Name,
			Quantity:          int32(l.Quantity),
			UnitPrice:         DecimalToNumeric(unit),
			Customization:     payload,
			CustomizationHash: l.Customization.Hash(),
			LineTotal:         DecimalToNumeric(lineTotal),
		}})
	}
	return items, lineTotals, nil
}

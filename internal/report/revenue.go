// Package report computes period-over-period revenue comparisons.
package report

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kiwari-pos/order-core/internal/database"
	"github.com/kiwari-pos/order-core/internal/service"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// ZeroBasePolicy decides the change percentage when the previous period
// had no revenue.
type ZeroBasePolicy string

const (
	// PolicyHundred reports +100% when current revenue is positive and 0%
	// when both periods are zero.
	PolicyHundred ZeroBasePolicy = "hundred"
	// PolicyUndefined reports no percentage at all.
	PolicyUndefined ZeroBasePolicy = "undefined"
)

var (
	ErrUnknownPolicy = errors.New("unknown zero-base policy")
	ErrInvalidPeriod = errors.New("period start must be before end")
)

var hundred = decimal.NewFromInt(100)

// ParsePolicy parses a configured policy name.
func ParsePolicy(s string) (ZeroBasePolicy, error) {
	switch p := ZeroBasePolicy(s); p {
	case PolicyHundred, PolicyUndefined:
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
}

// ChangePercent returns (current-previous)/previous*100 rounded to two
// places. A nil result means the change is undefined.
func ChangePercent(current, previous decimal.Decimal, policy ZeroBasePolicy) *decimal.Decimal {
	if previous.IsZero() {
		if policy == PolicyUndefined {
			return nil
		}
		pct := decimal.Zero
		if current.IsPositive() {
			pct = hundred
		} else if current.IsNegative() {
			pct = hundred.Neg()
		}
		return &pct
	}
	pct := current.Sub(previous).Div(previous.Abs()).Mul(hundred).Round(2)
	return &pct
}

// Period is a half-open time range [Start, End).
type Period struct {
	Start time.Time
	End   time.Time
}

func (p Period) validate() error {
	if !p.Start.Before(p.End) {
		return ErrInvalidPeriod
	}
	return nil
}

// PeriodRevenue is the paid revenue of one period.
type PeriodRevenue struct {
	Period     Period
	Revenue    decimal.Decimal
	OrderCount int32
}

// Comparison is the result of comparing two periods.
type Comparison struct {
	Current       PeriodRevenue
	Previous      PeriodRevenue
	ChangePercent *decimal.Decimal
}

// RevenueStore defines the DB methods needed by the revenue report.
// Satisfied by *database.Queries.
type RevenueStore interface {
	SumRevenue(ctx context.Context, arg database.SumRevenueParams) (database.SumRevenueRow, error)
}

// RevenueService compares paid revenue across periods.
type RevenueService struct {
	store  RevenueStore
	policy ZeroBasePolicy
}

// NewRevenueService creates a RevenueService.
func NewRevenueService(store RevenueStore, policy ZeroBasePolicy) *RevenueService {
	return &RevenueService{store: store, policy: policy}
}

// Compare sums both periods concurrently and computes the change.
func (s *RevenueService) Compare(ctx context.Context, outletID uuid.UUID, current, previous Period) (*Comparison, error) {
	if err := current.validate(); err != nil {
		return nil, fmt.Errorf("current: %w", err)
	}
	if err := previous.validate(); err != nil {
		return nil, fmt.Errorf("previous: %w", err)
	}

	var cur, prev PeriodRevenue
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		cur, err = s.sum(gctx, outletID, current)
		return err
	})
	g.Go(func() (err error) {
		prev, err = s.sum(gctx, outletID, previous)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &Comparison{
		Current:       cur,
		Previous:      prev,
		ChangePercent: ChangePercent(cur.Revenue, prev.Revenue, s.policy),
	}, nil
}

func (s *RevenueService) sum(ctx context.Context, outletID uuid.UUID, p Period) (PeriodRevenue, error) {
	row, err := s.store.SumRevenue(ctx, database.SumRevenueParams{
		OutletID: outletID,
		Start:    p.Start,
		End:      p.End,
	})
	if err != nil {
		return PeriodRevenue{}, fmt.Errorf("sum revenue: %w", err)
	}
	return PeriodRevenue{
		Period:     p,
		Revenue:    service.NumericToDecimal(row.Revenue),
		OrderCount: row.OrderCount,
	}, nil
}

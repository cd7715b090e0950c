package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiwari-pos/order-core/internal/report"
)

// defaultReportDays is the length of the current period when no dates are given.
const defaultReportDays = 30

// RevenueComparer compares revenue of two periods.
// Satisfied by *report.RevenueService.
type RevenueComparer interface {
	Compare(ctx context.Context, outletID uuid.UUID, current, previous report.Period) (*report.Comparison, error)
}

// ReportsHandler handles report endpoints.
type ReportsHandler struct {
	svc    RevenueComparer
	policy report.ZeroBasePolicy
	now    func() time.Time
}

// NewReportsHandler creates a new ReportsHandler. policy is echoed in
// responses so clients can tell why change_percent is null.
func NewReportsHandler(svc RevenueComparer, policy report.ZeroBasePolicy) *ReportsHandler {
	return &ReportsHandler{svc: svc, policy: policy, now: time.Now}
}

// RegisterRoutes registers outlet-scoped report endpoints.
// Expected to be mounted inside an outlet-scoped subrouter: /outlets/{oid}/reports
func (h *ReportsHandler) RegisterRoutes(r chi.Router) {
	r.Get("/revenue", h.Revenue)
}

// --- Response types ---

type periodRevenueResponse struct {
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"` // exclusive
	Revenue    string    `json:"revenue"`
	OrderCount int32     `json:"order_count"`
}

type revenueComparisonResponse struct {
	Current        periodRevenueResponse `json:"current"`
	Previous       periodRevenueResponse `json:"previous"`
	ChangePercent  *string               `json:"change_percent"`
	ZeroBasePolicy string                `json:"zero_base_policy"`
}

// Revenue handles GET /outlets/{oid}/reports/revenue.
// Dates are inclusive YYYY-MM-DD in outlet time. Without dates the current
// period is the last 30 days including today and the previous period is the
// same length immediately before it.
func (h *ReportsHandler) Revenue(w http.ResponseWriter, r *http.Request) {
	outletID, err := uuid.Parse(chi.URLParam(r, "oid"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid outlet ID"})
		return
	}

	current, previous, err := h.parsePeriods(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	cmp, err := h.svc.Compare(r.Context(), outletID, current, previous)
	if err != nil {
		if errors.Is(err, report.ErrInvalidPeriod) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		slog.ErrorContext(r.Context(), "revenue comparison", "outlet_id", outletID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	resp := revenueComparisonResponse{
		Current:        toPeriodRevenueResponse(cmp.Current),
		Previous:       toPeriodRevenueResponse(cmp.Previous),
		ZeroBasePolicy: string(h.policy),
	}
	if cmp.ChangePercent != nil {
		s := cmp.ChangePercent.StringFixed(2)
		resp.ChangePercent = &s
	}
	writeJSON(w, http.StatusOK, resp)
}

// parsePeriods reads the four date params. Missing bounds fall back to the
// default window; end dates are made exclusive.
func (h *ReportsHandler) parsePeriods(r *http.Request) (report.Period, report.Period, error) {
	loc := outletLocation()
	now := h.now().In(loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)

	current := report.Period{
		Start: today.AddDate(0, 0, -(defaultReportDays - 1)),
		End:   today.AddDate(0, 0, 1),
	}
	if err := overrideDay(r, "current_start", &current.Start, 0); err != nil {
		return report.Period{}, report.Period{}, err
	}
	if err := overrideDay(r, "current_end", &current.End, 1); err != nil {
		return report.Period{}, report.Period{}, err
	}

	// The previous period defaults to the same number of days ending where
	// the current one starts.
	days := int(current.End.Sub(current.Start).Hours()/24 + 0.5)
	previous := report.Period{
		Start: current.Start.AddDate(0, 0, -days),
		End:   current.Start,
	}
	if err := overrideDay(r, "previous_start", &previous.Start, 0); err != nil {
		return report.Period{}, report.Period{}, err
	}
	if err := overrideDay(r, "previous_end", &previous.End, 1); err != nil {
		return report.Period{}, report.Period{}, err
	}
	return current, previous, nil
}

func overrideDay(r *http.Request, name string, dst *time.Time, addDays int) error {
	s := r.URL.Query().Get(name)
	if s == "" {
		return nil
	}
	t, err := parseDay(name, s)
	if err != nil {
		return err
	}
	*dst = t.AddDate(0, 0, addDays)
	return nil
}

func toPeriodRevenueResponse(p report.PeriodRevenue) periodRevenueResponse {
	return periodRevenueResponse{
		Start:      p.Period.Start,
		End:        p.Period.End,
		Revenue:    p.Revenue.StringFixed(2),
		OrderCount: p.OrderCount,
	}
}

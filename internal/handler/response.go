package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/kiwari-pos/order-core/internal/service"
)

const dateLayout = "2006-01-02"

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func numericToString(n pgtype.Numeric) string {
	return service.NumericToDecimal(n).StringFixed(2)
}

func textPtr(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	return &t.String
}

// outletLocation is the business timezone used for date-only query params.
func outletLocation() *time.Location {
	loc, err := time.LoadLocation("Asia/Jakarta")
	if err != nil {
		loc = time.FixedZone("WIB", 7*3600)
	}
	return loc
}

// parseDay parses a YYYY-MM-DD query value as local midnight.
func parseDay(name, s string) (time.Time, error) {
	t, err := time.ParseInLocation(dateLayout, s, outletLocation())
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s format, use YYYY-MM-DD", name)
	}
	return t, nil
}

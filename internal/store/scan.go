package store

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/cdv/internal/model"
)

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func formatDecimal(d decimal.Decimal) string {
	return d.String()
}

func parseDecimal(field, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse %s %q: %w", field, s, err)
	}
	return d, nil
}

func parseQuantities(prefix string, kg, minutes, units string) (model.Quantities, error) {
	var q model.Quantities
	var err error
	if q.Kg, err = parseDecimal(prefix+"_kg", kg); err != nil {
		return q, err
	}
	if q.Minutes, err = parseDecimal(prefix+"_minutes", minutes); err != nil {
		return q, err
	}
	if q.Units, err = parseDecimal(prefix+"_units", units); err != nil {
		return q, err
	}
	return q, nil
}

func formatTime(t time.Time) string {
	return model.FormatTime(t)
}

func parseTime(field, s string) (time.Time, error) {
	t, err := model.ParseTime(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %s %q: %w", field, s, err)
	}
	return t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

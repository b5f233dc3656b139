package shared

import (
	"fmt"
	"time"
)

// FiscalYear scopes document numbering. It is always derived from the
// transaction date of the operation at hand and passed down explicitly;
// nothing in the engine keeps a "current year" as mutable state.
type FiscalYear int

// FiscalYearOf returns the fiscal year a transaction date falls in.
// Fiscal years follow the calendar year.
func FiscalYearOf(t time.Time) FiscalYear {
	return FiscalYear(t.Year())
}

// Reference formats a document number such as ISS-2026-000042 from a
// prefix and a per-prefix sequence value.
func (fy FiscalYear) Reference(prefix string, seq int64) string {
	return fmt.Sprintf("%s-%d-%06d", prefix, int(fy), seq)
}

package flows

import (
	"fmt"
	"time"
)

// fiscalStartYear returns the calendar year in which t's financial year
// began. Indian financial years run April 1 to March 31.
func fiscalStartYear(t time.Time) int {
	if t.Month() >= time.April {
		return t.Year()
	}
	return t.Year() - 1
}

// FinancialYear names the financial year containing t, e.g. "FY 2025-26".
func FinancialYear(t time.Time) string {
	y := fiscalStartYear(t)
	return fmt.Sprintf("FY %d-%02d", y, (y+1)%100)
}

// FiscalQuarter names the financial quarter containing t, e.g.
// "Q1 FY2025-26" for April to June.
func FiscalQuarter(t time.Time) string {
	y := fiscalStartYear(t)
	q := (int(t.Month())+8)%12/3 + 1
	return fmt.Sprintf("Q%d FY%d-%02d", q, y, (y+1)%100)
}

// MonthName renders t as "September 2025".
func MonthName(t time.Time) string {
	return t.Format("January 2006")
}

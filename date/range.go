package date

import "fmt"

// Range represents a range of dates.
type Range struct{ From, To Date }

// TaxYear returns the range from January 1st to December 31st of year.
func TaxYear(year int) Range {
	return Range{From: New(year, 1, 1), To: EndOfYear(year)}
}

// Contains return true date is included in the range (boundaries included)
func (r Range) Contains(date Date) bool { return (!date.Before(r.From) && !date.After(r.To)) }

func (r Range) String() string { return fmt.Sprintf("%s..%s", r.From, r.To) }

package extract

import (
	"regexp"
	"strconv"
)

// yearPattern matches a standalone run of exactly four digits.
//
//nolint:gochecknoglobals // Intentional: compiled once.
var yearPattern = regexp.MustCompile(`(?:^|\D)(\d{4})(?:\D|$)`)

// Year returns the first four-digit year found in a date-like string.
func Year(date string) (int, bool) {
	m := yearPattern.FindStringSubmatch(date)
	if m == nil {
		return 0, false
	}
	y, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return y, true
}

// Decade labels the decade containing year, e.g. "1960s".
func Decade(year int) string {
	return strconv.Itoa(year/10*10) + "s" //nolint:mnd // decade width
}

// HalfDecade labels the five-year span containing year, e.g. "1965-1969".
func HalfDecade(year int) string {
	start := year / 5 * 5 //nolint:mnd // half-decade width
	return strconv.Itoa(start) + "-" + strconv.Itoa(start+4)
}

// YearOf derives a year column from the named date column.
func YearOf(dateColumn string) DeriveFunc {
	return func(row *Row) string {
		if y, ok := Year(row.Get(dateColumn)); ok {
			return strconv.Itoa(y)
		}
		return ""
	}
}

// DecadeOf derives a decade column from the named year column.
func DecadeOf(yearColumn string) DeriveFunc {
	return bucketOf(yearColumn, Decade)
}

// HalfDecadeOf derives a half-decade column from the named year column.
func HalfDecadeOf(yearColumn string) DeriveFunc {
	return bucketOf(yearColumn, HalfDecade)
}

func bucketOf(yearColumn string, bucket func(int) string) DeriveFunc {
	return func(row *Row) string {
		y, err := strconv.Atoi(row.Get(yearColumn))
		if err != nil {
			return ""
		}
		return bucket(y)
	}
}

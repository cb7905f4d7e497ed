package datastore

import "fmt"

// Key is the closed set of storage keys.
type Key int

const (
	CurrencyCount Key = iota
	CurrentSessionValidUntil
	BlackList
	MinutesPerCurrency
	CurrencyPerReview
	DuolingoUsername
	DuolingoLastCheckPoints
)

// Keys lists every Key in declaration order.
var Keys = []Key{
	CurrencyCount,
	CurrentSessionValidUntil,
	BlackList,
	MinutesPerCurrency,
	CurrencyPerReview,
	DuolingoUsername,
	DuolingoLastCheckPoints,
}

// String returns the storage name of the key.
func (k Key) String() string {
	switch k {
	case CurrencyCount:
		return "CURRENCY_COUNT"
	case CurrentSessionValidUntil:
		return "CURRENT_SESSION_VALID_UNTIL"
	case BlackList:
		return "BLACKLIST"
	case MinutesPerCurrency:
		return "MINUTES_PER_CURRENCY"
	case CurrencyPerReview:
		return "CURRENCY_PER_REVIEW"
	case DuolingoUsername:
		return "DUOLINGO_USERNAME"
	case DuolingoLastCheckPoints:
		return "DUOLINGO_LAST_CHECK_POINTS"
	default:
		return fmt.Sprintf("Key(%d)", int(k))
	}
}

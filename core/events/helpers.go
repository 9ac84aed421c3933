package events

import (
	"math/big"
	"strconv"
	"strings"
)

// NormalizeAsset renders the canonical upper-case form of an asset symbol.
func NormalizeAsset(asset string) string {
	trimmed := strings.TrimSpace(asset)
	if trimmed == "" {
		return ""
	}
	return strings.ToUpper(trimmed)
}

// FormatAmount renders a big integer amount, treating nil as zero.
func FormatAmount(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}

// FormatUint renders an unsigned integer attribute value.
func FormatUint(v uint64) string {
	return strconv.FormatUint(v, 10)
}

package brokers

import "strings"

var symbolSeparators = strings.NewReplacer("/", "", ".", "", "-", "", "_", "", " ", "")

// NormalizeSymbol upper-cases a ticker and drops separators, so "brk/b"
// and "BRK.B" both become "BRKB".
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(symbolSeparators.Replace(strings.TrimSpace(symbol)))
}

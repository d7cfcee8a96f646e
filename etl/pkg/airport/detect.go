package airport

import (
	"strings"

	"github.com/verdantlabs/carbonetl/etl/pkg/table"
)

var (
	originPatterns      = []string{"origin", "departure", "from", "start", "source", "depart"}
	destinationPatterns = []string{"destination", "arrival", "to", "end", "dest", "arrive", "target"}
)

// DetectColumns scans source column names for an origin column and a
// distinct destination column. Matching is case-insensitive substring,
// first-match-wins, with no validation that the matched columns actually
// hold airport codes. Either result may be empty.
func DetectColumns(columns []string) (origin, destination string) {
	for _, col := range columns {
		lower := strings.ToLower(col)
		if origin == "" && matchesAny(lower, originPatterns) {
			origin = col
			continue
		}
		if destination == "" && col != origin && matchesAny(lower, destinationPatterns) {
			destination = col
		}
	}
	return origin, destination
}

func matchesAny(name string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(name, p) {
			return true
		}
	}
	return false
}

// ScanRowForCodes is the fallback when no origin/destination columns were
// detected: walk the row's cells in column order and collect 3-character
// strings that exist in the coordinate table. The first two hits are taken
// as origin and destination.
func ScanRowForCodes(columns []string, row table.Row) (origin, destination string, ok bool) {
	var found []string
	for _, col := range columns {
		v, exists := row[col]
		if !exists || v == nil {
			continue
		}
		s := strings.TrimSpace(table.Stringify(v))
		if len(s) != 3 || !KnownCode(s) {
			continue
		}
		found = append(found, s)
		if len(found) == 2 {
			return found[0], found[1], true
		}
	}
	return "", "", false
}

package view

import (
	"strings"

	"github.com/agnivade/levenshtein"
)

// SuggestModel returns the known model name closest to the query by edit
// distance, for "did you mean" hints when a model filter matches nothing.
// The empty string is returned when no candidate is within maxDistance.
func SuggestModel(query string, known []string, maxDistance int) string {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" || maxDistance <= 0 {
		return ""
	}
	best := ""
	bestDist := maxDistance + 1
	for _, candidate := range known {
		dist := levenshtein.ComputeDistance(query, strings.ToLower(candidate))
		if dist < bestDist {
			best = candidate
			bestDist = dist
		}
	}
	if bestDist > maxDistance {
		return ""
	}
	return best
}

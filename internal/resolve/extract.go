// Package resolve settles open whale trades once their markets resolve.
package resolve

import (
	"strings"

	"github.com/polyinsider/whaleledger/internal/polymarket"
)

// PriceThreshold is the outcome price at which a closed market is treated as
// resolved to that outcome.
const PriceThreshold = 0.99

// ExtractResolution returns the winning outcome of a closed market. The
// sources are tried in order: the explicit outcome field, the outcome priced
// at or above PriceThreshold, then the resolvedOutcome field. ok is false
// while the market is open or no source names a winner.
func ExtractResolution(m *polymarket.Market) (outcome string, ok bool) {
	if m == nil || !(m.Closed || m.Resolved) {
		return "", false
	}

	if o := strings.TrimSpace(m.Outcome); o != "" {
		return o, true
	}

	if len(m.Outcomes) > 0 {
		prices, valid := m.Prices()
		for i, p := range prices {
			if !valid[i] || p < PriceThreshold || i >= len(m.Outcomes) {
				continue
			}
			if o := strings.TrimSpace(m.Outcomes[i]); o != "" {
				return o, true
			}
		}
	}

	if o := strings.TrimSpace(m.ResolvedOutcome); o != "" {
		return o, true
	}
	return "", false
}

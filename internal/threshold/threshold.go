// Package threshold recomputes aggregate stock levels after ledger
// mutations. It is pure: the coordinator decides what to do with the
// resulting alerts.
package threshold

import (
	"time"

	"carepool/internal/domain"
)

type Config struct {
	// ExpiringSoonWindow is how far ahead of expiry perishable stock
	// starts alerting.
	ExpiringSoonWindow time.Duration
	// DefaultReorderLevel applies to units registered without one.
	DefaultReorderLevel int
}

// Evaluate derives the alert levels for a unit. Countable kinds always
// yield exactly one quantity level (normal included, so callers can re-arm
// dedup when a boundary is re-crossed), plus expiring_soon when perishable
// stock is inside the expiry window. Single-occupancy kinds yield nothing.
func Evaluate(u domain.ResourceUnit, now time.Time, cfg Config) []domain.ThresholdAlert {
	if !domain.Countable(u.Kind) {
		return nil
	}
	quantity := u.Remaining()
	reorder := cfg.DefaultReorderLevel
	if u.ReorderLevel != nil {
		reorder = *u.ReorderLevel
	}
	raisedAt := now.UTC().Format(time.RFC3339)
	alert := func(level string, limit int) domain.ThresholdAlert {
		return domain.ThresholdAlert{
			UnitID:           u.ID,
			UnitName:         u.Name,
			Kind:             u.Kind,
			Level:            level,
			ObservedQuantity: quantity,
			Limit:            limit,
			RaisedAt:         raisedAt,
		}
	}

	var res []domain.ThresholdAlert
	switch {
	case quantity == 0:
		res = append(res, alert(domain.AlertOut, 0))
	case quantity <= reorder:
		res = append(res, alert(domain.AlertLow, reorder))
	default:
		res = append(res, alert(domain.AlertNormal, reorder))
	}

	// A unit can be low and expiring at the same time; both are emitted.
	if u.Expiry != nil && quantity > 0 {
		if expiry, err := time.Parse(time.RFC3339, *u.Expiry); err == nil {
			if expiry.Sub(now) <= cfg.ExpiringSoonWindow {
				days := int(cfg.ExpiringSoonWindow / (24 * time.Hour))
				res = append(res, alert(domain.AlertExpiringSoon, days))
			}
		}
	}
	return res
}

// Actionable filters out normal levels; only these go to the sink.
func Actionable(alerts []domain.ThresholdAlert) []domain.ThresholdAlert {
	var res []domain.ThresholdAlert
	for _, a := range alerts {
		if a.Level != domain.AlertNormal {
			res = append(res, a)
		}
	}
	return res
}

// Package notify is the notification-sink boundary. The engine publishes
// threshold alerts through it and never blocks on, or retries, delivery.
package notify

import (
	"context"
	"log"
	"sync"

	"carepool/internal/domain"
)

// Publisher delivers one alert to an external sink.
type Publisher interface {
	Publish(ctx context.Context, alert domain.ThresholdAlert) error
}

// LogPublisher writes alerts to the process log. It is the default sink
// when no webhooks are configured.
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, alert domain.ThresholdAlert) error {
	log.Printf("alert: unit=%s level=%s quantity=%d limit=%d", alert.UnitID, alert.Level, alert.ObservedQuantity, alert.Limit)
	return nil
}

// Dispatcher fans alerts out to sinks, deduplicating on (unitID, level):
// a level already raised for a unit is not re-published until an evaluation
// without it re-arms the pair. Publish failures are logged and dropped; the
// next evaluation re-raises if the condition persists.
type Dispatcher struct {
	mu     sync.Mutex
	raised map[string]map[string]bool
	sinks  []Publisher
}

func NewDispatcher(sinks ...Publisher) *Dispatcher {
	return &Dispatcher{
		raised: make(map[string]map[string]bool),
		sinks:  sinks,
	}
}

// Dispatch takes the full evaluation for one unit, including the normal
// level, so cleared conditions re-arm. Only newly raised levels reach the
// sinks.
func (d *Dispatcher) Dispatch(ctx context.Context, alerts []domain.ThresholdAlert) {
	if len(alerts) == 0 {
		return
	}
	unitID := alerts[0].UnitID
	current := make(map[string]bool, len(alerts))
	var fresh []domain.ThresholdAlert

	d.mu.Lock()
	prev := d.raised[unitID]
	for _, a := range alerts {
		if a.Level == domain.AlertNormal {
			continue
		}
		current[a.Level] = true
		if !prev[a.Level] {
			fresh = append(fresh, a)
		}
	}
	if len(current) == 0 {
		delete(d.raised, unitID)
	} else {
		d.raised[unitID] = current
	}
	d.mu.Unlock()

	for _, a := range fresh {
		for _, sink := range d.sinks {
			if err := sink.Publish(ctx, a); err != nil {
				log.Printf("notify: publish %s/%s failed: %v", a.UnitID, a.Level, err)
			}
		}
	}
}

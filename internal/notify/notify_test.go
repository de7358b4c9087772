package notify

import (
	"context"
	"testing"

	"carepool/internal/domain"
)

type capture struct {
	published []domain.ThresholdAlert
}

func (c *capture) Publish(_ context.Context, alert domain.ThresholdAlert) error {
	c.published = append(c.published, alert)
	return nil
}

func evaluation(unitID string, levels ...string) []domain.ThresholdAlert {
	var res []domain.ThresholdAlert
	for _, lvl := range levels {
		res = append(res, domain.ThresholdAlert{UnitID: unitID, Level: lvl})
	}
	return res
}

func TestDispatchDeduplicatesPerUnitLevel(t *testing.T) {
	sink := &capture{}
	d := NewDispatcher(sink)
	ctx := context.Background()

	d.Dispatch(ctx, evaluation("sku-1", domain.AlertLow))
	d.Dispatch(ctx, evaluation("sku-1", domain.AlertLow))
	if len(sink.published) != 1 {
		t.Fatalf("published %d, want 1 after repeated low", len(sink.published))
	}

	// Dropping to out is a new level and fires alongside the held low.
	d.Dispatch(ctx, evaluation("sku-1", domain.AlertOut))
	if len(sink.published) != 2 || sink.published[1].Level != domain.AlertOut {
		t.Fatalf("published %v, want low then out", sink.published)
	}
}

func TestDispatchReArmsAfterNormal(t *testing.T) {
	sink := &capture{}
	d := NewDispatcher(sink)
	ctx := context.Background()

	d.Dispatch(ctx, evaluation("sku-1", domain.AlertLow))
	d.Dispatch(ctx, evaluation("sku-1", domain.AlertNormal))
	d.Dispatch(ctx, evaluation("sku-1", domain.AlertLow))
	if len(sink.published) != 2 {
		t.Fatalf("published %d, want 2: re-crossing fires again", len(sink.published))
	}
}

func TestDispatchTracksUnitsIndependently(t *testing.T) {
	sink := &capture{}
	d := NewDispatcher(sink)
	ctx := context.Background()

	d.Dispatch(ctx, evaluation("sku-1", domain.AlertLow))
	d.Dispatch(ctx, evaluation("sku-2", domain.AlertLow))
	if len(sink.published) != 2 {
		t.Fatalf("published %d, want one per unit", len(sink.published))
	}
}

func TestDispatchCoexistingLevels(t *testing.T) {
	sink := &capture{}
	d := NewDispatcher(sink)
	ctx := context.Background()

	d.Dispatch(ctx, evaluation("blood-1", domain.AlertLow, domain.AlertExpiringSoon))
	if len(sink.published) != 2 {
		t.Fatalf("published %d, want both coexisting levels", len(sink.published))
	}
	d.Dispatch(ctx, evaluation("blood-1", domain.AlertLow, domain.AlertExpiringSoon))
	if len(sink.published) != 2 {
		t.Fatalf("published %d, repeats must be held", len(sink.published))
	}
}

package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// FilterMemoryHitsByVisibility drops memory hits above the campaign's
// visibility watermark. A campaign that has never been rewound has no
// watermark and passes every hit through; hits whose turn id cannot be
// parsed are dropped defensively.
func (e *Engine) FilterMemoryHitsByVisibility(ctx context.Context, campaignID string, hits []MemoryHit) ([]MemoryHit, error) {
	campaignRecord, err := e.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("load campaign: %w", err)
	}
	watermark := campaignRecord.MemoryVisibleMaxTurnID
	if watermark <= 0 {
		return hits, nil
	}

	visible := make([]MemoryHit, 0, len(hits))
	for _, hit := range hits {
		turnID, err := strconv.ParseInt(strings.TrimSpace(hit.TurnID), 10, 64)
		if err != nil {
			continue
		}
		if turnID <= watermark {
			visible = append(visible, hit)
		}
	}
	return visible, nil
}

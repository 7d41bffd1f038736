package model

import (
	"testing"
	"time"
)

func TestRateLimitRecordState(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(10 * time.Minute)
	past := now.Add(-10 * time.Minute)

	tests := []struct {
		name      string
		rec       RateLimitRecord
		wantKind  BlockKind
		wantUntil time.Time
	}{
		{
			name:     "fresh row is open",
			rec:      RateLimitRecord{},
			wantKind: BlockNone,
		},
		{
			name:      "active temporary block",
			rec:       RateLimitRecord{BlockedUntil: &future, BlockCount: 1},
			wantKind:  BlockTemporary,
			wantUntil: future,
		},
		{
			name:     "elapsed temporary block reads as open",
			rec:      RateLimitRecord{BlockedUntil: &past, BlockCount: 2},
			wantKind: BlockNone,
		},
		{
			name:     "ladder exhausted is permanent",
			rec:      RateLimitRecord{BlockedUntil: nil, BlockCount: PermanentBlockCount},
			wantKind: BlockPermanent,
		},
		{
			name:     "block count above threshold stays permanent",
			rec:      RateLimitRecord{BlockedUntil: nil, BlockCount: PermanentBlockCount + 3},
			wantKind: BlockPermanent,
		},
		{
			name:      "high count with a deadline is still temporary",
			rec:       RateLimitRecord{BlockedUntil: &future, BlockCount: PermanentBlockCount},
			wantKind:  BlockTemporary,
			wantUntil: future,
		},
		{
			name:     "below threshold without deadline is open",
			rec:      RateLimitRecord{BlockedUntil: nil, BlockCount: PermanentBlockCount - 1},
			wantKind: BlockNone,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			st := tc.rec.State(now)
			if st.Kind != tc.wantKind {
				t.Fatalf("Kind = %v, want %v", st.Kind, tc.wantKind)
			}
			if tc.wantKind == BlockTemporary && !st.Until.Equal(tc.wantUntil) {
				t.Errorf("Until = %v, want %v", st.Until, tc.wantUntil)
			}
		})
	}
}

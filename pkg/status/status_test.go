package status

import (
	"testing"

	"github.com/harrisonrobin/tasklink/pkg/model"
)

func TestFromReaction(t *testing.T) {
	tests := []struct {
		symbol string
		want   model.Status
		ok     bool
	}{
		{"👍", model.StatusInProgress, true},
		{"❤️", model.StatusDone, true},
		{"❤", model.StatusDone, true},
		{"🙏", model.StatusArchived, true},
		{"", model.StatusNotStarted, true},
		{"😂", "", false},
		{"👍🏽", "", false},
		{"done", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.symbol, func(t *testing.T) {
			got, ok := FromReaction(tt.symbol)
			if ok != tt.ok {
				t.Fatalf("FromReaction(%q) ok = %v, want %v", tt.symbol, ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Errorf("FromReaction(%q) = %q, want %q", tt.symbol, got, tt.want)
			}
			if ok && !got.Valid() {
				t.Errorf("FromReaction(%q) returned invalid status %q", tt.symbol, got)
			}
		})
	}
}

// Package status maps chat reactions onto task statuses.
package status

import (
	"strings"

	"github.com/harrisonrobin/tasklink/pkg/model"
)

// variationSelector16 is appended by some clients to emoji such as ❤️.
const variationSelector16 = "\ufe0f"

var reactions = map[string]model.Status{
	"👍": model.StatusInProgress,
	"❤":  model.StatusDone,
	"🙏": model.StatusArchived,
	// A removed reaction arrives with an empty body.
	"": model.StatusNotStarted,
}

// FromReaction returns the status a reaction stands for. The second result is
// false for symbols that must not touch the task.
func FromReaction(symbol string) (model.Status, bool) {
	s, ok := reactions[strings.TrimSuffix(symbol, variationSelector16)]
	return s, ok
}

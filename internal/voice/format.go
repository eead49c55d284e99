package voice

import (
	"fmt"
	"time"
)

// durationSuffix renders a clip length hint for replies, e.g. " (42s)" or
// " (1:05)". Zero durations produce nothing.
func durationSuffix(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	seconds := d.Seconds()
	if seconds < 60 {
		return fmt.Sprintf(" (%.0fs)", seconds)
	}
	minutes := int(seconds) / 60
	return fmt.Sprintf(" (%d:%02d)", minutes, int(seconds)%60)
}

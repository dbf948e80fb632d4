package capture

import (
	"github.com/kimhsiao/fieldcount/backend/internal/logging"
)

// NopFeedback does nothing.
type NopFeedback struct{}

func (NopFeedback) Beep()    {}
func (NopFeedback) Vibrate() {}

// LogFeedback records feedback requests in the log, for headless devices.
type LogFeedback struct{}

func (LogFeedback) Beep() {
	logging.Debug("Scan feedback", map[string]interface{}{"signal": "beep"})
}

func (LogFeedback) Vibrate() {
	logging.Debug("Scan feedback", map[string]interface{}{"signal": "vibrate"})
}

// signal plays both feedback devices. A panic in one is logged and does not stop the other.
func signal(fb Feedback) {
	play("beep", fb.Beep)
	play("vibrate", fb.Vibrate)
}

func play(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logging.Warn("Scan feedback failed", map[string]interface{}{"signal": name, "panic": r})
		}
	}()
	fn()
}

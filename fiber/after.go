package fiber

import (
	"time"

	"github.com/dermesser/eio/cancel"
)

// After installs a timer that cancels cc with cause once d elapses,
// unless the returned stop function is called first. Timeouts are
// explicitly not part of the core (spec.md §5); this is the
// recommended helper, grounded in context/group.go's
// NewTimeoutGroup, which cancels a derived context the same way via
// time.AfterFunc once every watched context either finishes or an
// expiry fires first.
func After(cc *cancel.Ctx, d time.Duration, cause error) (stop func()) {
	timer := time.AfterFunc(d, func() {
		cc.Cancel(cause)
	})
	return func() { timer.Stop() }
}

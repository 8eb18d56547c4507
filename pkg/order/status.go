package order

import (
	"strings"
	"time"
)

// Status is a stage of the delivery lifecycle.
type Status string

const (
	StatusReceived       Status = "received"
	StatusConfirmed      Status = "confirmed"
	StatusBeingPrepared  Status = "being_prepared"
	StatusOutForDelivery Status = "out_for_delivery"
	StatusDelivered      Status = "delivered"
)

// DefaultInterval is the time an order spends in each status.
const DefaultInterval = 2 * time.Minute

// Progression lists every status in lifecycle order.
var Progression = []Status{
	StatusReceived,
	StatusConfirmed,
	StatusBeingPrepared,
	StatusOutForDelivery,
	StatusDelivered,
}

// Index returns the position of s in Progression, or -1.
func (s Status) Index() int {
	for i, p := range Progression {
		if p == s {
			return i
		}
	}
	return -1
}

func (s Status) Valid() bool { return s.Index() >= 0 }

func (s Status) Final() bool { return s == StatusDelivered }

// Label renders the status for speech, e.g. "Out For Delivery".
func (s Status) Label() string {
	words := strings.Split(string(s), "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// Note is the sentence spoken after a status report. Empty for stages that
// need no extra explanation.
func (s Status) Note() string {
	switch s {
	case StatusReceived:
		return "Your order has been received and will be prepared shortly."
	case StatusConfirmed:
		return "Your order is confirmed."
	case StatusBeingPrepared:
		return "Your order is being prepared. It should be ready soon!"
	case StatusOutForDelivery:
		return "Your order is on the way! Expected delivery in 15-30 minutes."
	case StatusDelivered:
		return "Your order has been delivered! Enjoy your food!"
	default:
		return ""
	}
}

// TargetIndex is the Progression index an order created at created should
// have reached at now: min(floor(elapsed/interval), last). A non-positive
// interval falls back to DefaultInterval and a clock that reads earlier
// than created counts as zero elapsed time.
func TargetIndex(created, now time.Time, interval time.Duration) int {
	if interval <= 0 {
		interval = DefaultInterval
	}
	elapsed := now.Sub(created)
	if elapsed < 0 {
		elapsed = 0
	}
	last := len(Progression) - 1
	steps := elapsed / interval
	if steps > time.Duration(last) {
		return last
	}
	return int(steps)
}

// Advance moves o forward to the status implied by now and returns the
// updated copy. One history entry is appended for every newly crossed
// status, stamped with the moment that status was reached. The status never
// regresses and repeated calls with the same now are no-ops; changed
// reports whether anything was appended.
func Advance(o Order, now time.Time, interval time.Duration) (next Order, changed bool) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	current := o.Status.Index()
	if current < 0 {
		return o, false
	}
	target := TargetIndex(o.CreatedAt, now, interval)
	if target <= current {
		return o, false
	}

	next = o.Clone()
	for i := current + 1; i <= target; i++ {
		next.History = append(next.History, StatusEntry{
			Status: Progression[i],
			At:     o.CreatedAt.Add(time.Duration(i) * interval),
		})
	}
	next.Status = Progression[target]
	return next, true
}

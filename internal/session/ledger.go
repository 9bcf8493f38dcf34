// Package session holds the per-session state of the reconciliation engine:
// the registration ledger, the tracker, and the single-consumer frame queue
// that serialises access to both.
package session

import (
	"fmt"
	"time"

	"github.com/banshee-data/cartvision/internal/config"
	"github.com/banshee-data/cartvision/internal/monitoring"
)

// Policy selects how repeat detections of a product are treated.
type Policy string

const (
	// PolicyPermanent counts a product at most once per session. A product
	// that leaves the frame and comes back is still the same cart item.
	PolicyPermanent Policy = config.PolicyPermanent
	// PolicyCooldown counts a product again once the cooldown has passed
	// since its previous registration.
	PolicyCooldown Policy = config.PolicyCooldown
)

// ParsePolicy converts a configuration value into a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyPermanent, PolicyCooldown:
		return Policy(s), nil
	case "":
		return PolicyPermanent, nil
	}
	return "", fmt.Errorf("unknown dedup policy %q", s)
}

// Decision is the ledger's verdict on one resolved detection.
type Decision string

const (
	Accepted           Decision = "accepted"
	RejectedRegistered Decision = "already_registered"
	RejectedCooldown   Decision = "cooldown"
)

// ProductCount is an observed quantity for one product.
type ProductCount struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// FrameStats is the per-session frame bookkeeping.
type FrameStats struct {
	Received  int                           `json:"received"`
	Processed int                           `json:"processed"`
	Dropped   map[monitoring.DropReason]int `json:"dropped,omitempty"`
}

// TotalDropped sums drops over all reasons.
func (f FrameStats) TotalDropped() int {
	n := 0
	for _, v := range f.Dropped {
		n += v
	}
	return n
}

// Ledger records which products a session has accepted. It is owned by one
// session loop and is not safe for concurrent use.
type Ledger struct {
	SessionID string

	policy   Policy
	cooldown time.Duration

	// lastRegistered only grows while the session is open.
	lastRegistered map[string]time.Time
	counts         map[string]int
	order          []string

	frames FrameStats
}

// NewLedger creates an empty ledger.
func NewLedger(sessionID string, policy Policy, cooldown time.Duration) *Ledger {
	if policy == "" {
		policy = PolicyPermanent
	}
	return &Ledger{
		SessionID:      sessionID,
		policy:         policy,
		cooldown:       cooldown,
		lastRegistered: make(map[string]time.Time),
		counts:         make(map[string]int),
		frames:         FrameStats{Dropped: make(map[monitoring.DropReason]int)},
	}
}

// Policy returns the ledger's dedup policy.
func (l *Ledger) Policy() Policy {
	return l.policy
}

// Register decides whether a detection of productID at now becomes an
// accepted event, and records it if so.
func (l *Ledger) Register(productID string, now time.Time) Decision {
	last, seen := l.lastRegistered[productID]
	if seen {
		switch l.policy {
		case PolicyCooldown:
			if now.Sub(last) < l.cooldown {
				return RejectedCooldown
			}
		default:
			return RejectedRegistered
		}
	}

	if !seen {
		l.order = append(l.order, productID)
	}
	l.lastRegistered[productID] = now
	l.counts[productID]++
	return Accepted
}

// IsRegistered reports whether productID has been accepted at least once.
func (l *Ledger) IsRegistered(productID string) bool {
	_, ok := l.lastRegistered[productID]
	return ok
}

// Count returns the accepted quantity for productID.
func (l *Ledger) Count(productID string) int {
	return l.counts[productID]
}

// Counts returns accepted quantities in first-registration order.
func (l *Ledger) Counts() []ProductCount {
	out := make([]ProductCount, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, ProductCount{ProductID: id, Quantity: l.counts[id]})
	}
	return out
}

// TotalAccepted returns the number of accepted events.
func (l *Ledger) TotalAccepted() int {
	n := 0
	for _, c := range l.counts {
		n += c
	}
	return n
}

// FrameReceived counts an incoming frame.
func (l *Ledger) FrameReceived() {
	l.frames.Received++
}

// FrameProcessed counts a frame that made it through the pipeline.
func (l *Ledger) FrameProcessed() {
	l.frames.Processed++
}

// FrameDropped counts a frame abandoned for reason.
func (l *Ledger) FrameDropped(reason monitoring.DropReason) {
	l.frames.Dropped[reason]++
}

// Frames returns a copy of the frame counters.
func (l *Ledger) Frames() FrameStats {
	out := FrameStats{
		Received:  l.frames.Received,
		Processed: l.frames.Processed,
		Dropped:   make(map[monitoring.DropReason]int, len(l.frames.Dropped)),
	}
	for k, v := range l.frames.Dropped {
		out.Dropped[k] = v
	}
	return out
}

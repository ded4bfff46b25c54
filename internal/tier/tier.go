// Package tier defines the ordered output quality levels and the token
// economy attached to them. Negotiation is a pure function so the downgrade
// policy can be tested without any storage behind it.
package tier

import (
	"fmt"
	"strings"
)

// Tier is an output quality level. Tiers are totally ordered by resolution
// and token cost; the zero value is not a valid tier.
type Tier int

const (
	FullHD Tier = iota + 1 // 1920x1080, 25 tokens
	QHD                    // 2560x1440, 50 tokens
	UHD                    // 3840x2160, 100 tokens
)

var costs = map[Tier]int{
	FullHD: 25,
	QHD:    50,
	UHD:    100,
}

// descending is the step-down ladder: highest tier first.
var descending = []Tier{UHD, QHD, FullHD}

func (t Tier) Valid() bool {
	_, ok := costs[t]
	return ok
}

// Cost returns the token cost of one conversion at this tier.
func (t Tier) Cost() int {
	return costs[t]
}

func (t Tier) String() string {
	switch t {
	case FullHD:
		return "1080p"
	case QHD:
		return "2k"
	case UHD:
		return "4k"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// Dimensions returns the target output size for the tier. Portrait outputs
// swap width and height.
func (t Tier) Dimensions(portrait bool) (width, height int) {
	switch t {
	case UHD:
		width, height = 3840, 2160
	case QHD:
		width, height = 2560, 1440
	default:
		width, height = 1920, 1080
	}
	if portrait {
		width, height = height, width
	}
	return width, height
}

// Parse converts a user-supplied quality name into a Tier. Accepted spellings
// follow the original quality menu: "1080", "1080p", "2k", "4k".
func Parse(value string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1080", "1080p", "fullhd", "fhd":
		return FullHD, nil
	case "2k", "1440", "1440p", "qhd":
		return QHD, nil
	case "4k", "2160", "2160p", "uhd":
		return UHD, nil
	default:
		return 0, fmt.Errorf("unknown quality %q (expected 1080p, 2k or 4k)", value)
	}
}

// All returns the tiers in ascending order.
func All() []Tier {
	return []Tier{FullHD, QHD, UHD}
}

// Decision is the outcome of negotiating a requested tier against a user's
// balance state.
type Decision struct {
	Allowed  bool
	Tier     Tier
	FreePath bool
	Reason   string
}

// Negotiate selects the tier actually attempted for a request. Admins and
// users with free conversions left get the requested tier as-is. Otherwise
// the ladder steps down from the requested tier, never up and never past an
// affordable rung, to the highest tier whose cost the balance covers.
func Negotiate(requested Tier, freeRemaining, tokenBalance int, admin bool) Decision {
	if !requested.Valid() {
		return Decision{Reason: "unknown tier"}
	}
	if admin {
		return Decision{Allowed: true, Tier: requested}
	}
	if freeRemaining > 0 {
		return Decision{Allowed: true, Tier: requested, FreePath: true}
	}
	for _, t := range descending {
		if t > requested {
			continue
		}
		if tokenBalance >= t.Cost() {
			return Decision{Allowed: true, Tier: t}
		}
	}
	return Decision{Reason: "insufficient tokens"}
}

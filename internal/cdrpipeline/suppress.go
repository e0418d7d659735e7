package cdrpipeline

import "github.com/shai-nadav/cdr-observatory/internal/cdrleg"

// DetectCmsThrough auto-detects as routing any number that appears as both
// a destination and a calling number within the same call (spec.md §4.9,
// the "CMS-through" pattern), registering it with state.
func DetectCmsThrough(legs []*cdrleg.Leg, state *State) {
	dests := make(map[string]bool)
	callers := make(map[string]bool)
	for _, l := range legs {
		if l.DestinationExt != "" {
			dests[l.DestinationExt] = true
		}
		if l.CallingNumber != "" {
			callers[l.CallingNumber] = true
		}
	}
	for n := range dests {
		if callers[n] {
			state.RegisterRoutingNumber(n)
		}
	}
}

// isRoutingOnly reports whether leg is a pure pass-through leg per
// spec.md §4.9.
func isRoutingOnly(leg *cdrleg.Leg, state *State) bool {
	if leg.Duration != 0 {
		return false
	}
	if leg.DestinationExt != "" && state.IsRoutingNumber(leg.DestinationExt) {
		return true
	}
	if leg.CallingNumber != "" && state.IsRoutingNumber(leg.CallingNumber) &&
		!leg.IsAnswered && leg.ForwardingParty == "" &&
		(leg.DestinationExt == "" || state.IsRoutingNumber(leg.DestinationExt)) {
		return true
	}
	return false
}

// SuppressRoutingLegs removes routing-only legs from the group, bridging
// their transfer/dialed/hunt-group information into adjacent legs, per
// spec.md §4.9. Returns the remaining legs with contiguous LegIndex values.
func SuppressRoutingLegs(legs []*cdrleg.Leg, state *State) []*cdrleg.Leg {
	DetectCmsThrough(legs, state)

	suppressed := make([]bool, len(legs))
	var mostExternal cdrleg.Direction = cdrleg.DirUnknown
	hadSuppression := false

	for i, leg := range legs {
		if !isRoutingOnly(leg, state) {
			continue
		}
		suppressed[i] = true
		hadSuppression = true
		mostExternal = cdrleg.MoreExternal(mostExternal, leg.CallDirection)

		cmsNumber := leg.DestinationExt
		if cmsNumber == "" {
			cmsNumber = leg.CallingNumber
		}
		cmsTarget := ""
		if leg.CalledParty != "" && !state.IsRoutingNumber(leg.CalledParty) {
			cmsTarget = leg.CalledParty
		} else {
			cmsTarget = leg.DestinationExt
		}

		if prev := prevNonSuppressed(legs, suppressed, i); prev != nil && cmsTarget != "" {
			prev.TransferTo = cmsTarget
		}
		if next := nextNonSuppressed(legs, suppressed, i); next != nil {
			if next.TransferFrom == "" {
				next.TransferFrom = cmsNumber
			}
			if next.DialedNumber == "" {
				next.DialedNumber = cmsTarget
			}
			if next.CallDirection == cdrleg.DirInternal && cmsTarget != "" &&
				state.ExtClassifier.IsExtension(cmsTarget) {
				if next.CalledExtension == "" {
					next.CalledExtension = cmsTarget
				}
			}
		}
	}

	out := make([]*cdrleg.Leg, 0, len(legs))
	for i, leg := range legs {
		if !suppressed[i] {
			out = append(out, leg)
		}
	}

	if hadSuppression {
		for _, leg := range out {
			if cdrleg.Priority(mostExternal) > cdrleg.Priority(leg.CallDirection) {
				leg.CallDirection = mostExternal
			}
		}

		firstNonRoutingCaller := ""
		for _, leg := range out {
			candidate := leg.CallerExtension
			if candidate == "" {
				candidate = leg.CallingNumber
			}
			if candidate != "" && !state.IsRoutingNumber(candidate) {
				firstNonRoutingCaller = candidate
				break
			}
		}
		if firstNonRoutingCaller == "" && len(out) > 0 && !state.IsRoutingNumber(out[0].CallerExtension) {
			firstNonRoutingCaller = out[0].CallerExtension
		}

		for _, leg := range out {
			if leg.CallingNumber != "" && state.IsRoutingNumber(leg.CallingNumber) {
				leg.CallingNumber = firstNonRoutingCaller
			}
			if leg.CallerExtension != "" && state.IsRoutingNumber(leg.CallerExtension) {
				leg.CallerExtension = firstNonRoutingCaller
			}
		}
	}

	reindex(out)
	return out
}

func prevNonSuppressed(legs []*cdrleg.Leg, suppressed []bool, i int) *cdrleg.Leg {
	for j := i - 1; j >= 0; j-- {
		if !suppressed[j] {
			return legs[j]
		}
	}
	return nil
}

func nextNonSuppressed(legs []*cdrleg.Leg, suppressed []bool, i int) *cdrleg.Leg {
	for j := i + 1; j < len(legs); j++ {
		if !suppressed[j] {
			return legs[j]
		}
	}
	return nil
}

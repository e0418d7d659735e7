package cdrpipeline

import "github.com/shai-nadav/cdr-observatory/internal/cdrleg"

// MergeAttempts collapses attempt(0s)+answer(dur>0) leg pairs per
// spec.md §4.7. legs must already be ordered within the group. Returns a
// new, contiguous-index slice.
func MergeAttempts(legs []*cdrleg.Leg, state *State) []*cdrleg.Leg {
	out := make([]*cdrleg.Leg, 0, len(legs))
	i := 0
	for i < len(legs) {
		cur := legs[i]
		if i+1 < len(legs) && shouldMerge(cur, legs[i+1], state) {
			merged := mergeTwo(cur, legs[i+1])
			out = append(out, merged)
			i += 2
			continue
		}
		out = append(out, cur)
		i++
	}
	reindex(out)
	return out
}

func shouldMerge(cur, next *cdrleg.Leg, state *State) bool {
	if cur.Duration != 0 || cur.IsAnswered {
		return false
	}
	if !(next.IsAnswered && next.Duration > 0) {
		return false
	}
	if destinationOf(cur) != destinationOf(next) {
		return false
	}
	if next.IsVoicemail {
		return false
	}
	if next.ForwardingParty != "" && !state.IsRoutingNumber(next.ForwardingParty) {
		return false
	}
	return true
}

func destinationOf(l *cdrleg.Leg) string {
	if l.DestinationExt != "" {
		return l.DestinationExt
	}
	return l.CalledExtension
}

func mergeTwo(cur, next *cdrleg.Leg) *cdrleg.Leg {
	merged := *cur
	merged.Duration = next.Duration
	merged.IsAnswered = next.IsAnswered
	merged.CauseCode = next.CauseCode
	merged.CauseCodeText = next.CauseCodeText
	merged.CallAnswerTime = next.CallAnswerTime
	merged.CallReleaseTime = next.CallReleaseTime
	merged.OutLegConnectTime = next.OutLegConnectTime
	merged.OutLegReleaseTime = next.OutLegReleaseTime
	merged.RingTime = next.RingTime

	if next.IsForwarded {
		merged.IsForwarded = true
		merged.ForwardingParty = next.ForwardingParty
	}
	if next.IsPickup {
		merged.IsPickup = true
	}

	merged.CallDirection = cdrleg.MoreExternal(cur.CallDirection, next.CallDirection)

	if cur.SourceFile != next.SourceFile && next.SourceFile != "" {
		merged.SourceFile = cur.SourceFile + "+" + next.SourceFile
	}

	return &merged
}

// reindex assigns contiguous 1-based LegIndex values in slice order.
func reindex(legs []*cdrleg.Leg) {
	for i, l := range legs {
		l.LegIndex = i + 1
	}
}

package cdrpipeline

import "github.com/shai-nadav/cdr-observatory/internal/cdrleg"

// ResolveTransferChain computes TransferFrom/TransferTo for every leg in an
// ordered group, per spec.md §4.8. It mutates legs in place.
func ResolveTransferChain(legs []*cdrleg.Leg) {
	if len(legs) == 0 {
		return
	}
	originalCaller := legs[0].CallingNumber

	for i, leg := range legs {
		var prevTransferFrom string
		if i > 0 {
			prevTransferFrom = legs[i-1].TransferFrom
		}
		leg.TransferFrom = computeTransferFrom(leg, originalCaller, prevTransferFrom)
	}

	for i, leg := range legs {
		var next *cdrleg.Leg
		if i+1 < len(legs) {
			next = legs[i+1]
		}
		leg.TransferTo = computeTransferTo(leg, next)
	}
}

func computeTransferFrom(leg *cdrleg.Leg, originalCaller, prevTransferFrom string) string {
	switch {
	case leg.CalledParty != "" &&
		leg.CalledParty != leg.CallingNumber &&
		leg.CalledParty != leg.DestinationExt &&
		leg.DestinationExt != "" &&
		!leg.IsVoicemail:
		return leg.CalledParty

	case leg.ForwardingParty != "" && !(leg.IsVoicemail && !leg.IsAnswered && leg.Duration == 0):
		return leg.ForwardingParty

	case leg.CallingNumber != originalCaller:
		return leg.CallingNumber

	case leg.CalledParty != "" && leg.CalledParty != leg.DestinationExt && !leg.IsVoicemail:
		return leg.CalledParty

	default:
		return prevTransferFrom
	}
}

func computeTransferTo(leg, next *cdrleg.Leg) string {
	if leg.IsVoicemail && leg.IsAnswered {
		return ""
	}
	if leg.IsVoicemail && !leg.IsAnswered && leg.Duration == 0 && next != nil && next.IsVoicemail {
		return next.CalledParty
	}
	if next != nil && next.IsVoicemail {
		return next.CalledParty
	}
	if next == nil {
		return ""
	}

	result := next.TransferFrom
	if result == "" {
		result = next.DestinationExt
	}
	if result == "" {
		result = next.CalledParty
	}

	if result == leg.TransferFrom || result == leg.DestinationExt {
		result = next.DestinationExt
		if result == leg.TransferFrom || result == leg.DestinationExt {
			result = next.CalledParty
		}
	}

	return result
}

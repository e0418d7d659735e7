package cdrpipeline

import "github.com/shai-nadav/cdr-observatory/internal/cdrleg"

// splitTrunkToTrunk implements the Trunk-to-Trunk split described in
// spec.md §4.10. It returns (inCall, outCall, true) when an internal
// extension is involved; otherwise (nil, nil, false) and the caller should
// keep the single call as-is. It does not check call.CallDirection itself;
// Finalize only calls it for TrunkToTrunk calls.
func splitTrunkToTrunk(call *cdrleg.Call, state *State) (*cdrleg.Call, *cdrleg.Call, bool) {
	internalExt := findInternalExtension(call.Legs, state)
	if internalExt == "" {
		return nil, nil, false
	}

	externalCaller := firstNonEmpty(call.Legs, func(l *cdrleg.Leg) string { return l.CallerExternal })
	externalDest := firstNonEmpty(call.Legs, func(l *cdrleg.Leg) string { return l.CalledExternal })

	source := call.Legs[0]

	inLeg := cloneForSplit(source)
	inLeg.CallDirection = cdrleg.DirT2TIn
	inLeg.Extension = internalExt
	inLeg.DialedNumber = internalExt
	inLeg.DialedAni = externalCaller
	inLeg.TransferFrom = ""
	inLeg.CallerExternal = externalCaller

	outLeg := cloneForSplit(source)
	outLeg.CallDirection = cdrleg.DirT2TOut
	outLeg.TransferFrom = internalExt
	outLeg.DialedNumber = externalDest
	outLeg.DialedAni = externalDest
	outLeg.CalledExternal = externalDest
	outLeg.GlobalCallID = call.GlobalCallID + "_out"

	inCall := &cdrleg.Call{
		GlobalCallID:         call.GlobalCallID,
		ThreadID:             call.ThreadID,
		CallDirection:        cdrleg.DirT2TIn,
		TotalLegs:            1,
		IsAnswered:           call.IsAnswered,
		TotalDuration:        call.TotalDuration,
		CallerExternal:       externalCaller,
		DialedNumber:         internalExt,
		OriginalDialedDigits: call.OriginalDialedDigits,
		HuntGroupNumber:      call.HuntGroupNumber,
		Extension:            internalExt,
		Legs:                 []*cdrleg.Leg{inLeg},
	}

	outCall := &cdrleg.Call{
		GlobalCallID:         call.GlobalCallID + "_out",
		ThreadID:             call.ThreadID,
		CallDirection:        cdrleg.DirT2TOut,
		TotalLegs:            1,
		IsAnswered:           call.IsAnswered,
		TotalDuration:        call.TotalDuration,
		CallerExtension:      internalExt,
		DialedNumber:         externalDest,
		OriginalDialedDigits: call.OriginalDialedDigits,
		HuntGroupNumber:      call.HuntGroupNumber,
		Extension:            internalExt,
		Legs:                 []*cdrleg.Leg{outLeg},
	}

	return inCall, outCall, true
}

// findInternalExtension locates "that internal extension" bridged between
// the two external halves: a forwarding_party that is internal, or — when
// extension ranges are empty — any party-id 900/902-sourced extension.
func findInternalExtension(legs []*cdrleg.Leg, state *State) string {
	for _, l := range legs {
		if l.ForwardingParty != "" && state.ExtClassifier.IsExtension(l.ForwardingParty) {
			return l.ForwardingParty
		}
	}
	if state.ExtClassifier.IsEmpty() {
		for _, l := range legs {
			if l.OrigPartyID == 900 && l.CallerExtension != "" {
				return l.CallerExtension
			}
			if l.TermPartyID == 902 && l.CalledExtension != "" {
				return l.CalledExtension
			}
		}
	}
	return ""
}

func cloneForSplit(l *cdrleg.Leg) *cdrleg.Leg {
	clone := *l
	clone.LegIndex = 1
	return &clone
}

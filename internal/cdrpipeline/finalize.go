package cdrpipeline

import (
	"github.com/shai-nadav/cdr-observatory/internal/cdrleg"
	"github.com/shai-nadav/cdr-observatory/internal/cdrrecord"
)

// Finalize runs the call finalizer (spec.md §4.10) over an already
// suppressed, merged, transfer-resolved leg group and returns the
// finalized Call(s) — one, or two if a Trunk-to-Trunk split occurs.
func Finalize(legs []*cdrleg.Leg, threadID string, state *State) []*cdrleg.Call {
	if len(legs) == 0 {
		return nil
	}

	callDirection := legs[0].CallDirection
	for _, l := range legs {
		if cdrleg.Priority(l.CallDirection) > cdrleg.Priority(callDirection) {
			callDirection = l.CallDirection
		}
	}

	// Call-level TrunkToTrunk detection.
	firstExternalCaller, firstExternalCallerExt := externalCaller(legs)
	if firstExternalCaller != "" && firstExternalCallerExt == "" && !anyInternalDest(legs) {
		callDirection = cdrleg.DirTrunkToTrunk
	}

	preSuppressionDialed := firstNonEmpty(legs, func(l *cdrleg.Leg) string { return l.DialedNumber })

	voicemailAdjustment(legs, state)
	internalCallRule(legs)
	propagateHuntGroup(legs)

	totalDuration := 0
	isAnswered := false
	for _, l := range legs {
		if l.IsAnswered {
			isAnswered = true
			if l.Duration > totalDuration {
				totalDuration = l.Duration
			}
		}
	}

	dialedNumber := firstNonEmpty(legs, func(l *cdrleg.Leg) string { return l.DialedNumber })
	originalDialed := preSuppressionDialed
	if originalDialed == "" {
		originalDialed = dialedNumber
	}

	extension := callExtension(callDirection, legs, preSuppressionDialed)
	huntGroup := firstNonEmpty(legs, func(l *cdrleg.Leg) string { return l.HuntGroupNumber })

	assignDialedAni(legs, state)
	swapExtensionDestExt(legs, callDirection, extension)
	pickupCleanup(legs)

	for _, l := range legs {
		l.OriginalDialedDigits = originalDialed
	}

	call := &cdrleg.Call{
		GlobalCallID:         legs[0].GlobalCallID,
		ThreadID:             threadID,
		CallDirection:        callDirection,
		TotalLegs:            len(legs),
		IsAnswered:           isAnswered,
		TotalDuration:        totalDuration,
		CallerExtension:      firstNonEmpty(legs, func(l *cdrleg.Leg) string { return l.CallerExtension }),
		CallerExternal:       firstNonEmpty(legs, func(l *cdrleg.Leg) string { return l.CallerExternal }),
		DialedNumber:         dialedNumber,
		OriginalDialedDigits: originalDialed,
		HuntGroupNumber:      huntGroup,
		Extension:            extension,
		Legs:                 legs,
	}

	if callDirection == cdrleg.DirTrunkToTrunk {
		if in, out, ok := splitTrunkToTrunk(call, state); ok {
			return []*cdrleg.Call{in, out}
		}
	}

	return []*cdrleg.Call{call}
}

func firstNonEmpty(legs []*cdrleg.Leg, f func(*cdrleg.Leg) string) string {
	for _, l := range legs {
		if v := f(l); v != "" {
			return v
		}
	}
	return ""
}

func externalCaller(legs []*cdrleg.Leg) (external, extensionIfAny string) {
	for _, l := range legs {
		if l.CallerExternal != "" {
			return l.CallerExternal, l.CallerExtension
		}
	}
	return "", ""
}

func anyInternalDest(legs []*cdrleg.Leg) bool {
	for _, l := range legs {
		if l.CalledExtension != "" {
			return true
		}
	}
	return false
}

// voicemailAdjustment implements finalizer step 3.
func voicemailAdjustment(legs []*cdrleg.Leg, state *State) {
	effectiveVM := state.EffectiveVoicemailNumber()
	for _, l := range legs {
		if !l.IsVoicemail {
			continue
		}
		if !l.IsAnswered && l.Duration == 0 && l.ForwardingParty != "" {
			l.DestinationExt = l.ForwardingParty
			l.CalledExtension = l.ForwardingParty
		} else {
			l.DestinationExt = effectiveVM
			l.CalledExtension = effectiveVM
		}
	}
}

// internalCallRule implements finalizer step 4.
func internalCallRule(legs []*cdrleg.Leg) {
	for _, l := range legs {
		if l.CallDirection == cdrleg.DirInternal {
			l.DialedNumber = l.DestinationExt
		}
	}
}

// propagateHuntGroup implements finalizer step 5.
func propagateHuntGroup(legs []*cdrleg.Leg) {
	carried := ""
	propagated := false
	for _, l := range legs {
		if l.IsVoicemail {
			continue
		}
		if l.HuntGroupNumber != "" && carried == "" {
			carried = l.HuntGroupNumber
		}
		if carried != "" && l.HuntGroupNumber == "" {
			l.HuntGroupNumber = carried
			propagated = true
		}
	}
	if propagated {
		return
	}
	var mlhgNumber string
	for _, l := range legs {
		if cdrrecord.BitSet(l.CallEventIndicator, 1024) && l.CalledParty != "" {
			mlhgNumber = l.CalledParty
			break
		}
	}
	if mlhgNumber == "" {
		return
	}
	for _, l := range legs {
		if l.HuntGroupNumber == "" {
			l.HuntGroupNumber = mlhgNumber
		}
	}
}

// callExtension implements finalizer step 7.
func callExtension(dir cdrleg.Direction, legs []*cdrleg.Leg, preSuppressionFirstDestExt string) string {
	switch dir {
	case cdrleg.DirIncoming:
		if legs[0].DestinationExt != "" {
			return legs[0].DestinationExt
		}
		for i := len(legs) - 1; i >= 0; i-- {
			if legs[i].IsAnswered && legs[i].DestinationExt != "" {
				return legs[i].DestinationExt
			}
		}
		return legs[len(legs)-1].DestinationExt
	case cdrleg.DirOutgoing, cdrleg.DirInternal:
		return firstNonEmpty(legs, func(l *cdrleg.Leg) string { return l.CallerExtension })
	case cdrleg.DirTrunkToTrunk:
		if v := firstNonEmpty(legs, func(l *cdrleg.Leg) string { return l.ForwardingParty }); v != "" {
			return v
		}
		return firstNonEmpty(legs, func(l *cdrleg.Leg) string { return l.CallerExtension })
	default:
		return ""
	}
}

// assignDialedAni implements finalizer step 8.
func assignDialedAni(legs []*cdrleg.Leg, state *State) {
	var externalCallerVal, externalDestVal string
	for _, l := range legs {
		if externalCallerVal == "" && l.OrigPartyID == 901 && l.CallerExternal != "" && !state.IsRoutingNumber(l.CallerExternal) {
			externalCallerVal = l.CallerExternal
		}
		if externalDestVal == "" && l.CalledExternal != "" {
			externalDestVal = l.CalledExternal
		}
	}

	for _, l := range legs {
		switch l.CallDirection {
		case cdrleg.DirIncoming:
			l.DialedAni = externalCallerVal
		case cdrleg.DirOutgoing, cdrleg.DirTrunkToTrunk:
			if externalDestVal != "" {
				l.DialedAni = externalDestVal
			} else {
				l.DialedAni = l.DialedNumber
			}
		default:
			l.DialedAni = l.DialedNumber
		}
	}
}

// swapExtensionDestExt implements finalizer step 9.
func swapExtensionDestExt(legs []*cdrleg.Leg, callDir cdrleg.Direction, callExtension string) {
	for _, l := range legs {
		switch l.CallDirection {
		case cdrleg.DirInternal:
			l.Extension = callExtension
			if l.DestinationExt == "" {
				l.DestinationExt = l.CalledParty
			}
		case cdrleg.DirOutgoing:
			l.Extension = l.CallerExtension
			l.DestinationExt = ""
		default:
			if l.DestinationExt != "" {
				l.Extension = l.DestinationExt
			} else {
				l.Extension = l.CalledParty
			}
			l.DestinationExt = ""
		}
	}
}

// pickupCleanup implements finalizer step 10.
func pickupCleanup(legs []*cdrleg.Leg) {
	for _, l := range legs {
		if l.IsPickup && l.TransferFrom != "" {
			l.TransferFrom = ""
		}
	}
}

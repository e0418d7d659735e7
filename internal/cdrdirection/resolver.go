// Package cdrdirection classifies each leg's call direction from SIP
// endpoints, party identifiers, and prior-leg thread context.
package cdrdirection

import (
	"github.com/shai-nadav/cdr-observatory/internal/cdrclassify"
	"github.com/shai-nadav/cdr-observatory/internal/cdrleg"
)

// Input bundles everything the resolver needs about one leg and its group
// context; the builder assembles this from a parsed FullCdr plus cache
// lookups.
type Input struct {
	CallingNumber   string
	DestinationExt  string
	DialedNumber    string
	CalledParty     string
	ForwardingParty string

	IngressEndpoint string
	EgressEndpoint  string

	OrigPartyID int
	TermPartyID int

	PerCallFeatureExt int
	InLegConnectTime  string

	IsVoicemailDest bool // called_party/destination_ext equals effective voicemail number

	// PriorDirection is the direction of an earlier leg in this group, used
	// for the "both endpoints unknown" polarity-adoption fallback. DirUnknown
	// if there is no prior leg.
	PriorDirection cdrleg.Direction
}

// Result is what the resolver decides plus the caller/called field values
// to assign onto the leg.
type Result struct {
	Direction cdrleg.Direction

	CallerExtension string
	CallerExternal  string
	CalledExtension string
	CalledExternal  string
}

// Resolver implements the direction-resolution strategy selected once at
// construction time per spec.md §4.6.
type Resolver struct {
	ext      *cdrclassify.ExtensionClassifier
	endpoint *cdrclassify.EndpointClassifier
	useRange bool
}

// New selects ExtensionRange strategy if ext has any configured ranges,
// else SipEndpoint strategy.
func New(ext *cdrclassify.ExtensionClassifier, endpoint *cdrclassify.EndpointClassifier) *Resolver {
	return &Resolver{
		ext:      ext,
		endpoint: endpoint,
		useRange: ext != nil && !ext.IsEmpty(),
	}
}

// Resolve classifies one leg's direction and caller/called fields.
func (r *Resolver) Resolve(in Input) Result {
	callerInternal, destInternal := r.classifySides(in)

	// Common overrides (both strategies).
	if in.IsVoicemailDest {
		destInternal = true
	}
	if callerInternal && in.DestinationExt == "" &&
		cdrrecordBitSet(in.PerCallFeatureExt, 16384) && in.InLegConnectTime != "" {
		return r.assign(cdrleg.DirIncoming, callerInternal, destInternal, in)
	}

	dir := directionFromTable(callerInternal, destInternal)
	dir = r.partySalvage(dir, in)

	return r.assign(dir, callerInternal, destInternal, in)
}

func cdrrecordBitSet(mask, bit int) bool { return mask&bit != 0 }

func directionFromTable(callerInternal, destInternal bool) cdrleg.Direction {
	switch {
	case callerInternal && destInternal:
		return cdrleg.DirInternal
	case callerInternal && !destInternal:
		return cdrleg.DirOutgoing
	case !callerInternal && destInternal:
		return cdrleg.DirIncoming
	default:
		return cdrleg.DirTrunkToTrunk
	}
}

func (r *Resolver) classifySides(in Input) (callerInternal, destInternal bool) {
	if r.useRange {
		callerInternal = r.ext.IsExtension(in.CallingNumber)
		destInternal = r.ext.IsExtension(in.DestinationExt) ||
			r.ext.IsExtension(in.DialedNumber) ||
			r.ext.IsExtension(in.CalledParty)
		return
	}
	return r.sipEndpointSides(in)
}

func (r *Resolver) sipEndpointSides(in Input) (callerInternal, destInternal bool) {
	callerInternal, callerKnown := r.sideFromEndpoint(in.IngressEndpoint)
	if !callerKnown {
		switch {
		case in.OrigPartyID == 900:
			callerInternal = true
		case in.OrigPartyID == 901:
			callerInternal = false
		default:
			callerInternal = true // conservative default
		}
	}

	destInternal, destKnown := r.sideFromEndpoint(in.EgressEndpoint)
	if !destKnown {
		switch {
		case in.TermPartyID == 902:
			destInternal = true
		case in.TermPartyID == 901:
			destInternal = false
		default:
			destInternal = true // conservative default
		}
	}

	if !callerKnown && !destKnown {
		switch in.PriorDirection {
		case cdrleg.DirIncoming:
			callerInternal, destInternal = false, true
		case cdrleg.DirOutgoing:
			callerInternal, destInternal = true, false
		case cdrleg.DirInternal:
			callerInternal, destInternal = true, true
		case cdrleg.DirTrunkToTrunk:
			callerInternal, destInternal = false, false
		}
	}

	return callerInternal, destInternal
}

// sideFromEndpoint reports (internal, known) for a single endpoint string.
// Classify is called exactly once so an endpoint that turns out unknown is
// recorded in the classifier's per-run unknown-endpoint set (spec.md §4.2).
func (r *Resolver) sideFromEndpoint(endpoint string) (internal bool, known bool) {
	if r.endpoint == nil {
		return false, false
	}
	switch r.endpoint.Classify(endpoint) {
	case cdrclassify.EndpointPSTN:
		return false, true
	case cdrclassify.EndpointInternal:
		return true, true
	default:
		return false, false
	}
}

// partySalvage applies the post-table party-id salvage rules.
func (r *Resolver) partySalvage(dir cdrleg.Direction, in Input) cdrleg.Direction {
	switch {
	case dir == cdrleg.DirTrunkToTrunk && in.OrigPartyID == 901 &&
		in.ForwardingParty != "" && r.isInternalExtension(in.ForwardingParty):
		return cdrleg.DirIncoming
	case dir == cdrleg.DirUnknown && in.OrigPartyID == 901:
		return cdrleg.DirIncoming
	case dir == cdrleg.DirUnknown && in.OrigPartyID == 900:
		return cdrleg.DirInternal
	default:
		return dir
	}
}

func (r *Resolver) isInternalExtension(n string) bool {
	if r.useRange {
		return r.ext.IsExtension(n)
	}
	// In SipEndpoint-strategy mode there's no extension table to consult,
	// so every number is treated as internal.
	return true
}

func (r *Resolver) assign(dir cdrleg.Direction, callerInternal, destInternal bool, in Input) Result {
	res := Result{Direction: dir}

	if callerInternal {
		res.CallerExtension = in.CallingNumber
	} else {
		res.CallerExternal = in.CallingNumber
		if dir == cdrleg.DirTrunkToTrunk && in.ForwardingParty != "" && r.isInternalExtension(in.ForwardingParty) {
			res.CallerExtension = in.ForwardingParty
		}
	}

	if destInternal {
		res.CalledExtension = in.DestinationExt
	} else {
		res.CalledExternal = in.DestinationExt
		if res.CalledExternal == "" {
			res.CalledExternal = in.CalledParty
		}
	}

	return res
}

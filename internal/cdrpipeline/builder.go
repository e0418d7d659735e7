package cdrpipeline

import (
	"strings"

	"github.com/shai-nadav/cdr-observatory/internal/cdrdirection"
	"github.com/shai-nadav/cdr-observatory/internal/cdrleg"
	"github.com/shai-nadav/cdr-observatory/internal/cdrrecord"
)

// Builder turns parsed records into Legs and inserts them into a State's
// cache (spec.md §4.5).
type Builder struct {
	state *State
}

// NewBuilder constructs a Builder over the given shared state.
func NewBuilder(state *State) *Builder {
	return &Builder{state: state}
}

// Handle dispatches a parsed record to the matching per-type handler. rec
// must be *cdrrecord.FullCdr, *cdrrecord.HuntGroup, or *cdrrecord.CallForward.
func (b *Builder) Handle(rec any) {
	switch r := rec.(type) {
	case *cdrrecord.FullCdr:
		b.handleFullCdr(r)
	case *cdrrecord.HuntGroup:
		b.handleHuntGroup(r)
	case *cdrrecord.CallForward:
		b.handleCallForward(r)
	}
}

// GroupKeyFor returns the leg-cache group key Handle would use for rec,
// without mutating any state. The streaming driver uses this to know which
// group to re-check for completion-detection early emission right after
// handling a record (spec.md §4.11).
func GroupKeyFor(rec any) string {
	switch r := rec.(type) {
	case *cdrrecord.FullCdr:
		return fullCdrGroupKey(r)
	case *cdrrecord.HuntGroup:
		return r.GlobalCallID
	case *cdrrecord.CallForward:
		return r.GlobalCallID
	default:
		return ""
	}
}

// groupKey computes the FullCdr group key: thread_id_sequence ?? thread_id_node
// ?? global_call_id.
func fullCdrGroupKey(r *cdrrecord.FullCdr) string {
	if r.ThreadIDSequence != "" {
		return r.ThreadIDSequence
	}
	if r.ThreadIDNode != "" {
		return r.ThreadIDNode
	}
	return r.GlobalCallID
}

func (b *Builder) handleFullCdr(r *cdrrecord.FullCdr) {
	// Early feature-code filter: drop before the Leg is built.
	if strings.Contains(r.DialedNumber, "*44") || strings.Contains(r.DialedNumber, "#44") {
		b.state.log.Info().
			Str("dialed_number", r.DialedNumber).
			Str("global_call_id", r.GlobalCallID).
			Msg("suppressed: dialed number contains *44/#44 feature code")
		return
	}

	leg := &cdrleg.Leg{
		GlobalCallID:       r.GlobalCallID,
		ThreadID:           fullCdrGroupKey(r),
		GidSequence:        r.GidSequence,
		CallingNumber:      r.CallingNumber,
		CalledParty:        r.CalledParty,
		DestinationExt:     r.DestinationExt,
		DialedNumber:       r.DialedNumber,
		ForwardingParty:    r.ForwardingParty,
		IngressEndpoint:    r.IngressEndpoint,
		EgressEndpoint:     r.EgressEndpoint,
		Duration:           r.Duration,
		CallAnswerTime:     r.CallAnswerTime,
		InLegConnectTime:   r.InLegConnectTime,
		OutLegConnectTime:  r.OutLegConnectTime,
		OutLegReleaseTime:  r.OutLegReleaseTime,
		CallReleaseTime:    r.CallReleaseTime,
		CauseCode:          r.CauseCode,
		CauseCodeText:      cdrrecord.CauseCodeText(r.CauseCode),
		AttemptIndicator:   r.AttemptIndicator,
		PerCallFeature:     r.PerCallFeature,
		PerCallFeatureText: cdrrecord.PerCallFeatureText(r.PerCallFeature),
		PerCallFeatureExt:      r.PerCallFeatureExt,
		PerCallFeatureExtText:  cdrrecord.PerCallFeatureExtText(r.PerCallFeatureExt),
		CallEventIndicator:     r.CallEventIndicator,
		CallEventIndicatorText: cdrrecord.CallEventIndicatorText(r.CallEventIndicator),
		OrigPartyID:            r.OrigPartyID,
		OrigPartyIDText:        cdrrecord.PartyIDText(r.OrigPartyID),
		TermPartyID:            r.TermPartyID,
		TermPartyIDText:        cdrrecord.PartyIDText(r.TermPartyID),
		SourceFile:             r.SourceFile,
		SourceLine:             r.SourceLine,
	}

	leg.IsAnswered = (r.Duration > 0 && r.CauseCode == 16) ||
		r.PerCallFeature == 8 ||
		(r.MediaType == 1 && r.CauseCode == 16)
	leg.RingTime = parseRingTime(r.CallAnswerTime, r.InLegConnectTime)
	leg.IsForwarded = r.ForwardingParty != ""
	leg.IsPickup = cdrrecord.BitSet(r.CallEventIndicator, 8192)

	effectiveVM := b.state.EffectiveVoicemailNumber()
	bit64 := cdrrecord.BitSet(r.PerCallFeatureExt, 64)
	leg.IsVoicemail = bit64 || (r.CalledParty != "" && r.CalledParty == effectiveVM)
	if bit64 {
		b.state.NoteVoicemailCandidate(r.CalledParty)
	}

	dirResult := b.state.Resolver.Resolve(cdrdirection.Input{
		CallingNumber:     r.CallingNumber,
		DestinationExt:    r.DestinationExt,
		DialedNumber:      r.DialedNumber,
		CalledParty:       r.CalledParty,
		ForwardingParty:   r.ForwardingParty,
		IngressEndpoint:   r.IngressEndpoint,
		EgressEndpoint:    r.EgressEndpoint,
		OrigPartyID:       r.OrigPartyID,
		TermPartyID:       r.TermPartyID,
		PerCallFeatureExt: r.PerCallFeatureExt,
		InLegConnectTime:  r.InLegConnectTime,
		IsVoicemailDest:   bit64 || (effectiveVM != "" && (r.CalledParty == effectiveVM || r.DestinationExt == effectiveVM)),
		PriorDirection:    b.priorDirection(fullCdrGroupKey(r)),
	})
	leg.CallDirection = dirResult.Direction
	leg.CallerExtension = dirResult.CallerExtension
	leg.CallerExternal = dirResult.CallerExternal
	leg.CalledExtension = dirResult.CalledExtension
	leg.CalledExternal = dirResult.CalledExternal

	if b.state.ExtClassifier.IsEmpty() {
		if r.OrigPartyID == 900 {
			b.state.NoteCandidateExtension(r.CallingNumber, "caller-900")
		}
		if r.TermPartyID == 902 {
			b.state.NoteCandidateExtension(r.DestinationExt, "dest-902")
		}
	}

	groupKey := fullCdrGroupKey(r)
	b.consumeHgPlaceholders(leg, groupKey, r.GlobalCallID)
	b.state.Cache.RegisterGidHexThreadID(cdrleg.GidHex(r.GlobalCallID), groupKey)
	b.state.Cache.Store(groupKey, leg)
}

// consumeHgPlaceholders looks for HG-only placeholders under the group key,
// the record's GID, and the GID-hex→thread-id index, copies a missing
// hunt_group_number onto leg, and deletes consumed placeholders.
func (b *Builder) consumeHgPlaceholders(leg *cdrleg.Leg, groupKey, gid string) {
	candidates := []string{groupKey, gid}
	if tid, ok := b.state.Cache.LookupGidHexThreadID(cdrleg.GidHex(gid)); ok {
		candidates = append(candidates, tid)
	}

	seen := make(map[string]bool)
	for _, key := range candidates {
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		for _, placeholder := range b.state.Cache.Get(key) {
			if !placeholder.IsHgOnly {
				continue
			}
			if leg.HuntGroupNumber == "" {
				leg.HuntGroupNumber = placeholder.HuntGroupNumber
			}
			b.state.Cache.RemoveOne(key, placeholder.InLegConnectTime)
		}
	}
}

// priorDirection returns the direction of the first leg already stored
// under groupKey, or DirUnknown if none exists yet.
func (b *Builder) priorDirection(groupKey string) cdrleg.Direction {
	legs := b.state.Cache.Get(groupKey)
	for _, l := range legs {
		if !l.IsHgOnly {
			return l.CallDirection
		}
	}
	return cdrleg.DirUnknown
}

func (b *Builder) handleHuntGroup(r *cdrrecord.HuntGroup) {
	b.state.RegisterRoutingNumber(r.HuntGroupNumber)

	gidHex := cdrleg.GidHex(r.GlobalCallID)
	candidates := []string{r.GlobalCallID}
	if tid, ok := b.state.Cache.LookupGidHexThreadID(gidHex); ok {
		candidates = append(candidates, tid)
	}

	found := false
	seen := make(map[string]bool)
	for _, key := range candidates {
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		legs := b.state.Cache.Get(key)
		for _, l := range legs {
			if l.IsHgOnly {
				continue
			}
			found = true
			if l.HuntGroupNumber == "" {
				l.HuntGroupNumber = r.HuntGroupNumber
			}
		}
	}

	if found {
		return
	}

	if r.GlobalCallID == "" {
		return
	}

	placeholder := &cdrleg.Leg{
		GlobalCallID:    r.GlobalCallID,
		HuntGroupNumber: r.HuntGroupNumber,
		IsHgOnly:        true,
		SourceFile:      r.SourceFile,
		SourceLine:      r.SourceLine,
	}
	b.state.Cache.RegisterGidHexFullGid(gidHex, r.GlobalCallID)
	b.state.Cache.Store(r.GlobalCallID, placeholder)
}

func (b *Builder) handleCallForward(r *cdrrecord.CallForward) {
	if r.GlobalCallID == "" {
		return
	}

	internal := b.state.ExtClassifier.IsExtension(r.ForwardDestination)
	dir := cdrleg.DirTrunkToTrunk
	if internal {
		dir = cdrleg.DirInternal
	}

	leg := &cdrleg.Leg{
		GlobalCallID:    r.GlobalCallID,
		CallingNumber:   r.OriginatingExtension,
		CallerExtension: r.OriginatingExtension,
		ForwardingParty: r.OriginatingExtension,
		ForwardFromExt:  r.OriginatingExtension,
		ForwardToExt:    r.ForwardDestination,
		IsForwarded:     true,
		CallDirection:   dir,
		SourceFile:      r.SourceFile,
		SourceLine:      r.SourceLine,
	}
	b.state.Cache.Store(r.GlobalCallID, leg)
}

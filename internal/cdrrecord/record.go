// Package cdrrecord decodes raw OpenScape Voice CDR lines into typed
// record variants.
package cdrrecord

import "strconv"

// RecordType identifies which of the three CDR record variants a line
// decodes to.
type RecordType int

const (
	// RecordUnknown is never returned from Parse; it exists so the zero
	// value of RecordType is distinguishable from a real type.
	RecordUnknown RecordType = iota
	RecordFullCdr
	RecordHuntGroup
	RecordCallForward
)

// Type tokens as they appear in column 0 (plain variant) or column 1
// (sequence-prefixed variant).
const (
	TokenFullCdr       = "00000000"
	TokenSupplementary = "00000005"
	TokenHuntGroup     = "00000004"
	TokenCallForward   = "10000100"
)

// recognizedTypeTokens lists every record-type token the parser recognizes
// in the sequence-prefixed variant's second column, used to distinguish it
// from a plain-variant line whose first column happens to parse as an int.
var recognizedTypeTokens = map[string]bool{
	TokenFullCdr:       true,
	TokenHuntGroup:     true,
	TokenCallForward:   true,
	TokenSupplementary: true,
}

// plainLeadTokens lists the first-column tokens that identify a plain
// (non sequence-prefixed) variant line.
var plainLeadTokens = map[string]bool{
	"00000000": true,
	"00000004": true,
	"00000005": true,
	"10000100": true,
}

// Raw is the common envelope every record variant carries.
type Raw struct {
	SourceFile    string
	SourceLine    int
	Timestamp     string
	GlobalCallID  string
}

// FullCdr is the superset record type carrying one call leg's telemetry.
type FullCdr struct {
	Raw

	Duration          int
	CalledParty       string
	CallingNumber     string
	AttemptIndicator  int
	CauseCode         int
	OrigPartyID       int
	TermPartyID       int
	CallAnswerTime    string
	CallReleaseTime   string
	InLegConnectTime  string
	OutLegConnectTime string
	OutLegReleaseTime string
	PerCallFeature    int
	ForwardingParty   string
	DialedNumber      string
	MediaType         int
	PerCallFeatureExt int
	CallEventIndicator int
	GidSequence       string
	ThreadIDNode      string
	ThreadIDSequence  string
	IngressEndpoint   string
	EgressEndpoint    string
	DestinationExt    string
}

// HuntGroup is a hunt-group supplement record.
type HuntGroup struct {
	Raw

	HuntGroupNumber   string
	HGStartTime       string
	HGEndTime         string
	HGStatus1         string
	HGStatus2         string
	RoutedToExtension string
}

// CallForward is a call-forward activation record.
type CallForward struct {
	Raw

	ForwardType           string
	OriginatingExtension  string
	ForwardDestination    string
}

// ParseError reports a malformed line; it never aborts the batch.
type ParseError struct {
	SourceFile string
	SourceLine int
	Reason     string
	Line       string
}

func (e *ParseError) Error() string {
	return e.SourceFile + ":" + strconv.Itoa(e.SourceLine) + ": " + e.Reason
}

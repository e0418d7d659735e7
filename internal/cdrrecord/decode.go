package cdrrecord

import "strings"

// PerCallFeature bit values (field 64).
const (
	PCFBusy               = 2
	PCFNoAnswer           = 4
	PCFUnconditional      = 8
	PCFCLIR               = 16
	PCFCLIP               = 128
	PCFMaliciousCallTrace = 1048576
)

var perCallFeatureText = []struct {
	bit  int
	text string
}{
	{PCFBusy, "CF-Busy"},
	{PCFNoAnswer, "CF-NoAnswer"},
	{PCFUnconditional, "CF-Unconditional"},
	{PCFCLIR, "CLIR"},
	{PCFCLIP, "CLIP"},
	{PCFMaliciousCallTrace, "MaliciousCallTrace"},
}

// PerCallFeatureExt bit values (field 106).
const (
	PCFEToVoicemail    = 64
	PCFECallToMLHG     = 1024
	PCFECallPickup     = 2048
	PCFEDirectedPickup = 4096
	PCFEE911           = 8192
	PCFESilentMonitor  = 16384
	PCFEPrivateCall    = 1048576
	PCFEBusinessCall   = 2097152
)

var perCallFeatureExtText = []struct {
	bit  int
	text string
}{
	{PCFEToVoicemail, "CF-to-Voicemail"},
	{PCFECallToMLHG, "Call-to-MLHG"},
	{PCFECallPickup, "CallPickup"},
	{PCFEDirectedPickup, "DirectedCallPickup"},
	{PCFEE911, "E911"},
	{PCFESilentMonitor, "SilentMonitor"},
	{PCFEPrivateCall, "PrivateCall"},
	{PCFEBusinessCall, "BusinessCall"},
}

// CallEventIndicator bit values (field 107).
const (
	CEIMLHGAdvanceNoAnswer = 128
	CEIMLHGOverflow        = 256
	CEIMLHGNightService    = 512
	CEIForwardedFromMLHG   = 1024
	CEIHeldPartyHungUp     = 2048
	CEIHoldingPartyHungUp  = 4096
	CEICallPickedUp        = 8192
	CEICSTADeflect         = 65536
	CEIFeatureActivation   = 1048576
)

var callEventIndicatorText = []struct {
	bit  int
	text string
}{
	{CEIMLHGAdvanceNoAnswer, "MLHG-AdvanceNoAnswer"},
	{CEIMLHGOverflow, "MLHG-Overflow"},
	{CEIMLHGNightService, "MLHG-NightService"},
	{CEIForwardedFromMLHG, "ForwardedFromMLHG"},
	{CEIHeldPartyHungUp, "HeldPartyHungUp"},
	{CEIHoldingPartyHungUp, "HoldingPartyHungUp"},
	{CEICallPickedUp, "CallPickedUp"},
	{CEICSTADeflect, "CSTA-Deflect"},
	{CEIFeatureActivation, "FeatureActivation"},
}

// PartyID values (fields 40/41).
const (
	PartyIDOnOpenScapeOrig = 900
	PartyIDNotOnOpenScape  = 901
	PartyIDOnOpenScapeTerm = 902
	PartyIDOutboundOSV     = 903
	PartyIDUnknown         = 999
)

var partyIDText = map[int]string{
	PartyIDOnOpenScapeOrig: "On OpenScape",
	PartyIDNotOnOpenScape:  "Not on OpenScape",
	PartyIDOnOpenScapeTerm: "On OpenScape",
	PartyIDOutboundOSV:     "Outbound on OpenScape",
	PartyIDUnknown:         "Unknown",
}

// Release cause codes (field 19).
var causeCodeText = map[int]string{
	0:   "NotSet",
	1:   "UnassignedNumber",
	16:  "NormalClearing",
	17:  "UserBusy",
	18:  "NoUserResponding",
	19:  "NoAnswer",
	20:  "SubscriberAbsent",
	21:  "CallRejected",
	23:  "Redirect",
	25:  "RoutingError",
	27:  "DestinationOutOfOrder",
	28:  "InvalidFormat",
	31:  "NormalUnspecified",
	34:  "NoCircuit",
	41:  "TemporaryFailure",
	79:  "NotImplemented",
	86:  "CallCleared",
	102: "TimerExpiry",
	128: "SessionTimerExpired",
}

// BitSet reports whether bit is set in mask.
func BitSet(mask, bit int) bool {
	return mask&bit != 0
}

// PerCallFeatureText decodes a PerCallFeature bitmask into a "+"-joined
// human-readable string, preserving table order. Empty if no known bit set.
func PerCallFeatureText(mask int) string {
	return joinSetBits(mask, perCallFeatureTextSlice())
}

func perCallFeatureTextSlice() []struct {
	bit  int
	text string
} {
	return perCallFeatureText
}

// PerCallFeatureExtText decodes a PerCallFeatureExt bitmask.
func PerCallFeatureExtText(mask int) string {
	return joinSetBits(mask, perCallFeatureExtText)
}

// CallEventIndicatorText decodes a CallEventIndicator bitmask.
func CallEventIndicatorText(mask int) string {
	return joinSetBits(mask, callEventIndicatorText)
}

func joinSetBits(mask int, table []struct {
	bit  int
	text string
}) string {
	var parts []string
	for _, e := range table {
		if BitSet(mask, e.bit) {
			parts = append(parts, e.text)
		}
	}
	return strings.Join(parts, "+")
}

// PartyIDText decodes a PartyID numeric code; empty string if unrecognized.
func PartyIDText(id int) string {
	return partyIDText[id]
}

// CauseCodeText decodes a release cause code; empty string if unrecognized.
func CauseCodeText(code int) string {
	return causeCodeText[code]
}

package cdrrecord

import (
	"strconv"
	"strings"
)

// headerPrefixes are the case-insensitive line prefixes skipped before a
// file's CDR body begins or after it ends.
var headerPrefixes = []string{
	"FILENAME:", "DEVICE:", "HOSTNAME:", "FILETYPE:",
	"VERSION:", "CREATE:", "CLOSE:",
}

// Parse decodes one CDR line. It returns (nil, nil, nil) for header/footer
// lines and lines that don't belong to a recognized variant (not an error —
// per spec these are silently skipped). Every line of a recognized variant
// decodes: a malformed numeric field reads as 0 and a missing column as
// empty, so the *ParseError result is always nil and no line is reported
// as a parse failure.
//
// sourceFile/sourceLine are attached to the returned record for provenance.
func Parse(line, sourceFile string, sourceLine int) (any, *ParseError, error) {
	if isHeaderLine(line) {
		return nil, nil, nil
	}

	fields := strings.Split(line, ",")
	if len(fields) == 0 {
		return nil, nil, nil
	}

	offset, recordType, ok := classifyVariant(fields)
	if !ok {
		// Not a recognized line shape; silently skip per spec.
		return nil, nil, nil
	}

	o := offset - 1
	col := func(n int) string {
		idx := o + n
		if idx < 0 || idx >= len(fields) {
			return ""
		}
		return cleanField(fields[idx])
	}
	intCol := func(n int) int {
		v, _ := strconv.Atoi(col(n))
		return v
	}

	raw := Raw{
		SourceFile:   sourceFile,
		SourceLine:   sourceLine,
		Timestamp:    col(2),
		GlobalCallID: col(5),
	}

	// A missing global_call_id is not a parse failure here: HuntGroup and
	// CallForward records are legitimately stored only when a GID is
	// present (spec.md §4.5), a decision the builder makes, not the parser.
	switch recordType {
	case TokenFullCdr:
		rec := &FullCdr{
			Raw:                raw,
			Duration:           intCol(3),
			CalledParty:        col(11),
			CallingNumber:      col(12),
			AttemptIndicator:   intCol(18),
			CauseCode:          intCol(19),
			OrigPartyID:        intCol(40),
			TermPartyID:        intCol(41),
			CallAnswerTime:     col(48),
			CallReleaseTime:    col(49),
			InLegConnectTime:   col(50),
			OutLegConnectTime:  col(52),
			OutLegReleaseTime:  col(53),
			PerCallFeature:     intCol(64),
			ForwardingParty:    col(65),
			DialedNumber:       col(101),
			MediaType:          intCol(104),
			PerCallFeatureExt:  intCol(106),
			CallEventIndicator: intCol(107),
			GidSequence:        col(122),
			ThreadIDNode:       col(124),
			ThreadIDSequence:   col(125),
			IngressEndpoint:    col(126),
			EgressEndpoint:     col(127),
			DestinationExt:     col(128),
		}
		return rec, nil, nil

	case TokenHuntGroup:
		rec := &HuntGroup{
			Raw:               raw,
			HuntGroupNumber:   col(6),
			HGStartTime:       col(7),
			HGEndTime:         col(8),
			HGStatus1:         col(9),
			HGStatus2:         col(10),
			RoutedToExtension: col(11),
		}
		return rec, nil, nil

	case TokenCallForward:
		rec := &CallForward{
			Raw:                  raw,
			ForwardType:          col(4),
			OriginatingExtension: col(5),
			ForwardDestination:   col(6),
		}
		return rec, nil, nil

	case TokenSupplementary:
		// Recognized and silently skipped.
		return nil, nil, nil

	default:
		return nil, nil, nil
	}
}

func isHeaderLine(line string) bool {
	upper := strings.ToUpper(strings.TrimSpace(line))
	for _, p := range headerPrefixes {
		if strings.HasPrefix(upper, p) {
			return true
		}
	}
	return false
}

// classifyVariant determines the field offset (0 for plain, 1 for
// sequence-prefixed) and the record-type token, per spec.md §4.1.
func classifyVariant(fields []string) (offset int, recordType string, ok bool) {
	first := cleanField(fields[0])

	if plainLeadTokens[first] {
		return 0, first, true
	}

	if _, err := strconv.Atoi(first); err == nil && len(fields) > 1 {
		second := cleanField(fields[1])
		if recognizedTypeTokens[second] {
			return 1, second, true
		}
	}

	return 0, "", false
}

// cleanField strips surrounding whitespace and double-quote characters.
// Numeric fields that fail to parse as integers become 0 by the caller
// (strconv.Atoi on an empty/garbage string returns 0, nil-ignored error);
// string fields that are empty after stripping are treated as null (the
// empty string serves as null throughout this package).
func cleanField(f string) string {
	f = strings.TrimSpace(f)
	f = strings.Trim(f, `"`)
	return strings.TrimSpace(f)
}

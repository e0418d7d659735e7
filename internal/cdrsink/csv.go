package cdrsink

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/shai-nadav/cdr-observatory/internal/cdrleg"
)

// csvColumns is the stable, bit-exact column layout from spec.md §6.
var csvColumns = []string{
	"StartDate", "StartTime", "RingTime", "Duration", "CallDirection",
	"Extension", "TransferFrom", "DestinationExt", "TransferTo",
	"HuntGroupNumber", "IsAnswered", "IsPickup", "IsForwarded", "IsVoicemail",
	"IngressEndpoint", "EgressEndpoint", "GlobalCallId", "ThreadId",
	"OrigPartyId", "OrigPartyIdText", "TermPartyId", "TermPartyIdText",
	"CauseCode", "CauseCodeText", "PerCallFeature", "PerCallFeatureText",
	"AttemptIndicator", "AttemptIndicatorText", "PerCallFeatureExt",
	"PerCallFeatureExtText", "CallEventIndicator", "CallEventIndicatorText",
	"CallerExtension", "CallerExternal", "CalledExtension", "CalledExternal",
	"DialedAni", "OriginalDialedDigits", "CalledParty", "CallingNumber",
	"ForwardingParty", "ForwardFromExt", "ForwardToExt", "LegIndex",
	"CallAnswerTime", "InLegConnectTime", "OutLegReleaseTime",
	"OutLegConnectTime", "CallReleaseTime", "IsHgOnly", "SourceFile",
	"SourceLine", "GidSequence",
}

// CSVSink writes finalized calls as one row per leg, UTF-8 with a leading
// BOM, RFC 4180 escaping, matching the layout above exactly.
type CSVSink struct {
	mu           sync.Mutex
	w            *bufio.Writer
	closer       io.Closer
	headerWritten bool
}

// NewCSVSink opens path for writing (truncating any existing file) and
// writes the BOM + header row immediately.
func NewCSVSink(path string) (*CSVSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	sink := &CSVSink{w: bufio.NewWriter(f), closer: f}
	if err := sink.writeHeader(); err != nil {
		f.Close()
		return nil, err
	}
	return sink, nil
}

// NewCSVSinkWriter wraps an already-open io.Writer (e.g. for tests).
func NewCSVSinkWriter(w io.Writer) (*CSVSink, error) {
	sink := &CSVSink{w: bufio.NewWriter(w), closer: noopCloser{}}
	if err := sink.writeHeader(); err != nil {
		return nil, err
	}
	return sink, nil
}

type noopCloser struct{}

func (noopCloser) Close() error { return nil }

func (s *CSVSink) writeHeader() error {
	if _, err := s.w.WriteString("﻿"); err != nil {
		return err
	}
	if err := s.writeRow(csvColumns); err != nil {
		return err
	}
	s.headerWritten = true
	return nil
}

// WriteCall writes one row per leg of call.
func (s *CSVSink) WriteCall(_ context.Context, call *cdrleg.Call) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, leg := range call.Legs {
		if leg.IsHgOnly {
			continue // never emitted, per spec.md invariant
		}
		if err := s.writeRow(legRow(leg)); err != nil {
			return err
		}
	}
	return s.w.Flush()
}

// Close flushes and closes the underlying writer.
func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.Flush(); err != nil {
		return err
	}
	return s.closer.Close()
}

func (s *CSVSink) writeRow(fields []string) error {
	for i, f := range fields {
		if i > 0 {
			if err := s.w.WriteByte(','); err != nil {
				return err
			}
		}
		if _, err := s.w.WriteString(EscapeRFC4180(f)); err != nil {
			return err
		}
	}
	return s.w.WriteByte('\n')
}

// EscapeRFC4180 double-quotes a field if it contains a comma, double-quote,
// CR, or LF, doubling any embedded double-quotes.
func EscapeRFC4180(field string) string {
	if !strings.ContainsAny(field, ",\"\r\n") {
		return field
	}
	escaped := strings.ReplaceAll(field, `"`, `""`)
	return `"` + escaped + `"`
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func intStr(n int) string {
	return strconv.Itoa(n)
}

func ringTimeStr(r *int) string {
	if r == nil {
		return ""
	}
	return strconv.Itoa(*r)
}

func splitDateTime(iso string) (date, t string) {
	idx := strings.IndexByte(iso, 'T')
	if idx < 0 {
		return iso, ""
	}
	return iso[:idx], iso[idx+1:]
}

// legIndexStr zero-pads LegIndex to 8 digits, per spec.md §6.
func legIndexStr(n int) string {
	return fmt.Sprintf("%08d", n)
}

func legRow(l *cdrleg.Leg) []string {
	date, tm := splitDateTime(l.InLegConnectTime)
	return []string{
		date, tm,
		ringTimeStr(l.RingTime),
		intStr(l.Duration),
		l.CallDirection.String(),
		l.Extension,
		l.TransferFrom,
		l.DestinationExt,
		l.TransferTo,
		l.HuntGroupNumber,
		boolStr(l.IsAnswered),
		boolStr(l.IsPickup),
		boolStr(l.IsForwarded),
		boolStr(l.IsVoicemail),
		l.IngressEndpoint,
		l.EgressEndpoint,
		l.GlobalCallID,
		l.ThreadID,
		intStr(l.OrigPartyID),
		l.OrigPartyIDText,
		intStr(l.TermPartyID),
		l.TermPartyIDText,
		intStr(l.CauseCode),
		l.CauseCodeText,
		intStr(l.PerCallFeature),
		l.PerCallFeatureText,
		intStr(l.AttemptIndicator),
		l.AttemptIndicatorText,
		intStr(l.PerCallFeatureExt),
		l.PerCallFeatureExtText,
		intStr(l.CallEventIndicator),
		l.CallEventIndicatorText,
		l.CallerExtension,
		l.CallerExternal,
		l.CalledExtension,
		l.CalledExternal,
		l.DialedAni,
		l.OriginalDialedDigits,
		l.CalledParty,
		l.CallingNumber,
		l.ForwardingParty,
		l.ForwardFromExt,
		l.ForwardToExt,
		legIndexStr(l.LegIndex),
		l.CallAnswerTime,
		l.InLegConnectTime,
		l.OutLegReleaseTime,
		l.OutLegConnectTime,
		l.CallReleaseTime,
		boolStr(l.IsHgOnly),
		l.SourceFile,
		intStr(l.SourceLine),
		l.GidSequence,
	}
}

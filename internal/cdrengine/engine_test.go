package cdrengine

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/shai-nadav/cdr-observatory/internal/cdrclassify"
	"github.com/shai-nadav/cdr-observatory/internal/cdrleg"
	"github.com/shai-nadav/cdr-observatory/internal/cdrpipeline"
	"github.com/shai-nadav/cdr-observatory/internal/cdrsink"
	"github.com/shai-nadav/cdr-observatory/internal/cdrsource"
)

// fileLines is one source file's worth of raw text lines for sliceSource.
type fileLines struct {
	file  string
	lines []string
}

// sliceSource is a plain in-memory Source fake, used instead of touching
// the filesystem for these pipeline-level tests.
type sliceSource struct {
	files []fileLines
	fi    int
	li    int
}

func (s *sliceSource) Next(ctx context.Context) (cdrsource.Line, bool, error) {
	for s.fi < len(s.files) {
		f := s.files[s.fi]
		if s.li >= len(f.lines) {
			s.fi++
			s.li = 0
			continue
		}
		line := cdrsource.Line{File: f.file, Num: s.li + 1, Text: f.lines[s.li]}
		s.li++
		return line, true, nil
	}
	return cdrsource.Line{}, false, nil
}

func (s *sliceSource) Close() error { return nil }

// buildLine assembles a plain-variant CDR line (field offset 0, per
// spec.md §4.1). cols keys are the literal 1-based spec column numbers
// from §6's field table (e.g. 5=GlobalCallId); since o = offset-1 = -1,
// cdrrecord.Parse's col(n) reads fields[n-1], so buildLine writes each
// value to fields[n-1] to match.
func buildLine(cols map[int]string) string {
	maxCol := 128
	fields := make([]string, maxCol)
	for n, v := range cols {
		fields[n-1] = v
	}
	return strings.Join(fields, ",")
}

// runScenario drives one or more source files through a fresh Engine and
// returns every call emitted at end-of-run drain.
func runScenario(t *testing.T, ranges []string, files ...fileLines) []*cdrleg.Call {
	t.Helper()

	state := cdrpipeline.NewState(
		cdrleg.NewCache(),
		cdrclassify.NewExtensionClassifier(ranges),
		cdrclassify.NewEndpointClassifier(),
		"",
		zerolog.Nop(),
	)

	var calls []*cdrleg.Call
	sink := cdrsink.SinkFunc(func(_ context.Context, call *cdrleg.Call) error {
		calls = append(calls, call)
		return nil
	})

	engine := New(Options{
		Source: &sliceSource{files: files},
		State:  state,
		Sinks:  []cdrsink.Sink{sink},
		Log:    zerolog.Nop(),
	})

	result, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if result.Aborted {
		t.Fatal("run unexpectedly aborted")
	}
	return calls
}

func callByDirection(t *testing.T, calls []*cdrleg.Call, dir cdrleg.Direction) *cdrleg.Call {
	t.Helper()
	for _, c := range calls {
		if c.CallDirection == dir {
			return c
		}
	}
	t.Fatalf("no call with direction %v among %d calls", dir, len(calls))
	return nil
}

// Scenario 1: pure internal call (spec.md §8 scenario 1).
func TestScenarioPureInternal(t *testing.T) {
	line := buildLine(map[int]string{
		1:   "00000000",
		2:   "2026-07-31T10:00:00Z",
		3:   "42",
		5:   "gid-1",
		11:  "",
		12:  "5001",
		19:  "16",
		50:  "2026-07-31T10:00:00Z",
		106: "0",
		128: "5002",
	})

	calls := runScenario(t, []string{"5000-5099"}, fileLines{file: "a.csv", lines: []string{line}})
	if len(calls) != 1 {
		t.Fatalf("got %d calls, want 1", len(calls))
	}
	call := calls[0]
	if call.CallDirection != cdrleg.DirInternal {
		t.Errorf("CallDirection = %v, want Internal", call.CallDirection)
	}
	if call.Extension != "5001" {
		t.Errorf("Extension = %q, want 5001", call.Extension)
	}
	if call.DialedNumber != "5002" {
		t.Errorf("DialedNumber = %q, want 5002", call.DialedNumber)
	}
	if !call.IsAnswered {
		t.Error("IsAnswered = false, want true")
	}
	if call.TotalDuration != 42 {
		t.Errorf("TotalDuration = %d, want 42", call.TotalDuration)
	}
}

// Scenario 2: outgoing to PSTN (spec.md §8 scenario 2).
func TestScenarioOutgoingToPSTN(t *testing.T) {
	line := buildLine(map[int]string{
		1:   "00000000",
		2:   "2026-07-31T10:00:00Z",
		3:   "60",
		5:   "gid-2",
		12:  "5001",
		19:  "16",
		40:  "900",
		41:  "901",
		50:  "2026-07-31T10:00:00Z",
		128: "13055551234",
	})

	calls := runScenario(t, []string{"5000-5099"}, fileLines{file: "a.csv", lines: []string{line}})
	if len(calls) != 1 {
		t.Fatalf("got %d calls, want 1", len(calls))
	}
	call := calls[0]
	if call.CallDirection != cdrleg.DirOutgoing {
		t.Errorf("CallDirection = %v, want Outgoing", call.CallDirection)
	}
	if call.CallerExtension != "5001" {
		t.Errorf("CallerExtension = %q, want 5001", call.CallerExtension)
	}
	if call.CallerExternal != "" {
		t.Errorf("CallerExternal = %q, want empty", call.CallerExternal)
	}
	leg := call.Legs[0]
	if leg.CalledExternal != "13055551234" {
		t.Errorf("CalledExternal = %q, want 13055551234", leg.CalledExternal)
	}
	if leg.DialedAni != "13055551234" {
		t.Errorf("DialedAni = %q, want 13055551234", leg.DialedAni)
	}
}

// Scenario 3: incoming with hunt-group fan-out, HG record arrives first
// (spec.md §8 scenario 3).
func TestScenarioIncomingHuntGroupFanOut(t *testing.T) {
	hg := buildLine(map[int]string{
		1:  "00000004",
		5:  "gid-3",
		6:  "HG1",
		11: "5010",
	})
	full := buildLine(map[int]string{
		1:   "00000000",
		2:   "2026-07-31T10:00:00Z",
		3:   "30",
		5:   "gid-3",
		12:  "13055551234",
		19:  "16",
		50:  "2026-07-31T10:00:00Z",
		128: "5010",
	})

	calls := runScenario(t, []string{"5000-5099"}, fileLines{file: "a.csv", lines: []string{hg, full}})
	if len(calls) != 1 {
		t.Fatalf("got %d calls, want 1", len(calls))
	}
	call := calls[0]
	if call.CallDirection != cdrleg.DirIncoming {
		t.Errorf("CallDirection = %v, want Incoming", call.CallDirection)
	}
	if call.HuntGroupNumber != "HG1" {
		t.Errorf("HuntGroupNumber = %q, want HG1", call.HuntGroupNumber)
	}
	if call.Extension != "5010" {
		t.Errorf("Extension = %q, want 5010", call.Extension)
	}
	if call.CallerExternal != "13055551234" {
		t.Errorf("CallerExternal = %q, want 13055551234", call.CallerExternal)
	}
	for _, l := range call.Legs {
		if l.IsHgOnly {
			t.Error("emitted leg must never be IsHgOnly")
		}
	}
}

// Scenario 4: attempt(0s)+answer(dur>0) merge (spec.md §8 scenario 4).
func TestScenarioAttemptAnswerMerge(t *testing.T) {
	attempt := buildLine(map[int]string{
		1:   "00000000",
		2:   "2026-07-31T10:00:00Z",
		3:   "0",
		5:   "gid-4",
		12:  "5001",
		19:  "23",
		50:  "2026-07-31T10:00:00Z",
		125: "thread-4",
		128: "5002",
	})
	answer := buildLine(map[int]string{
		1:   "00000000",
		2:   "2026-07-31T10:00:05Z",
		3:   "25",
		5:   "gid-4",
		12:  "5001",
		19:  "16",
		50:  "2026-07-31T10:00:05Z",
		125: "thread-4",
		128: "5002",
	})

	calls := runScenario(t, []string{"5000-5099"},
		fileLines{file: "attempt.csv", lines: []string{attempt}},
		fileLines{file: "answer.csv", lines: []string{answer}},
	)
	if len(calls) != 1 {
		t.Fatalf("got %d calls, want 1", len(calls))
	}
	call := calls[0]
	if call.TotalLegs != 1 {
		t.Fatalf("TotalLegs = %d, want 1 (attempt+answer should merge)", call.TotalLegs)
	}
	leg := call.Legs[0]
	if leg.Duration != 25 || !leg.IsAnswered {
		t.Errorf("leg Duration/IsAnswered = %d/%v, want 25/true", leg.Duration, leg.IsAnswered)
	}
	if leg.SourceFile != "attempt.csv+answer.csv" {
		t.Errorf("SourceFile = %q, want joined with '+'", leg.SourceFile)
	}
}

// Scenario 5: CMS pass-through suppression (spec.md §8 scenario 5).
func TestScenarioCmsPassThroughSuppression(t *testing.T) {
	legA := buildLine(map[int]string{
		1:   "00000000",
		2:   "2026-07-31T10:00:00Z",
		3:   "0",
		5:   "gid-5",
		12:  "5001",
		19:  "23",
		50:  "2026-07-31T10:00:00Z",
		125: "thread-5",
		128: "CMS1",
	})
	legCMS := buildLine(map[int]string{
		1:   "00000000",
		2:   "2026-07-31T10:00:01Z",
		3:   "0",
		5:   "gid-5",
		12:  "CMS1",
		19:  "23",
		50:  "2026-07-31T10:00:01Z",
		101: "5999",
		125: "thread-5",
		128: "5003",
	})
	legB := buildLine(map[int]string{
		1:   "00000000",
		2:   "2026-07-31T10:00:02Z",
		3:   "15",
		5:   "gid-5",
		12:  "CMS1",
		19:  "16",
		50:  "2026-07-31T10:00:02Z",
		101: "5999",
		125: "thread-5",
		128: "5003",
	})

	calls := runScenario(t, []string{"5000-5099"},
		fileLines{file: "a.csv", lines: []string{legA, legCMS, legB}})
	if len(calls) != 1 {
		t.Fatalf("got %d calls, want 1", len(calls))
	}
	call := calls[0]
	if call.TotalLegs != 1 {
		t.Fatalf("TotalLegs = %d, want 1 (CMS pass-through legs suppressed)", call.TotalLegs)
	}
	leg := call.Legs[0]
	if leg.TransferFrom != "CMS1" {
		t.Errorf("TransferFrom = %q, want CMS1", leg.TransferFrom)
	}
	if call.DialedNumber != "5999" {
		t.Errorf("DialedNumber = %q, want 5999 (preserved from B leg)", call.DialedNumber)
	}
}

// Scenario 6: trunk-to-trunk split (spec.md §8 scenario 6).
func TestScenarioTrunkToTrunkSplit(t *testing.T) {
	line := buildLine(map[int]string{
		1:   "00000000",
		2:   "2026-07-31T10:00:00Z",
		3:   "20",
		5:   "gid-6",
		12:  "18005550001",
		19:  "16",
		50:  "2026-07-31T10:00:00Z",
		65:  "5001",
		128: "18005550002",
	})

	calls := runScenario(t, []string{"5000-5099"}, fileLines{file: "a.csv", lines: []string{line}})
	if len(calls) != 2 {
		t.Fatalf("got %d calls, want 2 (T2TIn + T2TOut)", len(calls))
	}

	in := callByDirection(t, calls, cdrleg.DirT2TIn)
	if in.CallerExternal != "18005550001" {
		t.Errorf("T2TIn CallerExternal = %q, want 18005550001", in.CallerExternal)
	}
	if in.Extension != "5001" {
		t.Errorf("T2TIn Extension = %q, want 5001", in.Extension)
	}
	if in.DialedNumber != "5001" {
		t.Errorf("T2TIn DialedNumber = %q, want 5001", in.DialedNumber)
	}

	out := callByDirection(t, calls, cdrleg.DirT2TOut)
	if out.CallerExtension != "5001" {
		t.Errorf("T2TOut CallerExtension = %q, want 5001", out.CallerExtension)
	}
	if out.DialedNumber != "18005550002" {
		t.Errorf("T2TOut DialedNumber = %q, want 18005550002", out.DialedNumber)
	}
	if !strings.HasSuffix(out.GlobalCallID, "_out") {
		t.Errorf("T2TOut GlobalCallID = %q, want _out suffix", out.GlobalCallID)
	}
}

// End-of-run drain must order independent groups by (earliest-leg
// in_leg_connect_time, global_call_id), not by the opaque cache key
// (spec.md §5).
func TestDrainOrdersByConnectTimeNotKey(t *testing.T) {
	later := buildLine(map[int]string{
		1:   "00000000",
		2:   "2026-07-31T10:05:00Z",
		3:   "10",
		5:   "gid-aaa-later",
		11:  "",
		12:  "5001",
		19:  "16",
		50:  "2026-07-31T10:05:00Z",
		106: "0",
		128: "5002",
	})
	earlier := buildLine(map[int]string{
		1:   "00000000",
		2:   "2026-07-31T10:00:00Z",
		3:   "10",
		5:   "gid-zzz-earlier",
		11:  "",
		12:  "5003",
		19:  "16",
		50:  "2026-07-31T10:00:00Z",
		106: "0",
		128: "5004",
	})

	// "later" is both written first and sorts before "earlier" lexically by
	// its group key, so a key-string sort and a connect-time sort disagree.
	calls := runScenario(t, []string{"5000-5099"},
		fileLines{file: "a.csv", lines: []string{later, earlier}})
	if len(calls) != 2 {
		t.Fatalf("got %d calls, want 2", len(calls))
	}
	if calls[0].Extension != "5003" {
		t.Errorf("calls[0].Extension = %q, want 5003 (earlier InLegConnectTime first)", calls[0].Extension)
	}
	if calls[1].Extension != "5001" {
		t.Errorf("calls[1].Extension = %q, want 5001 (later InLegConnectTime second)", calls[1].Extension)
	}
}

// With EarlyEmit on, an unambiguous Incoming group (internal destination,
// no forwarding) is finalized the moment it is seen, not held for
// end-of-run drain (spec.md §4.11).
func TestScenarioEarlyEmitFinalizesUnambiguousIncoming(t *testing.T) {
	line := buildLine(map[int]string{
		1:   "00000000",
		2:   "2026-07-31T10:00:00Z",
		3:   "20",
		5:   "gid-early",
		12:  "13055551234",
		19:  "16",
		50:  "2026-07-31T10:00:00Z",
		128: "5002",
	})

	state := cdrpipeline.NewState(
		cdrleg.NewCache(),
		cdrclassify.NewExtensionClassifier([]string{"5000-5099"}),
		cdrclassify.NewEndpointClassifier(),
		"",
		zerolog.Nop(),
	)
	var calls []*cdrleg.Call
	sink := cdrsink.SinkFunc(func(_ context.Context, call *cdrleg.Call) error {
		calls = append(calls, call)
		return nil
	})
	engine := New(Options{
		Source:    &sliceSource{files: []fileLines{{file: "a.csv", lines: []string{line}}}},
		State:     state,
		Sinks:     []cdrsink.Sink{sink},
		EarlyEmit: true,
		Log:       zerolog.Nop(),
	})

	result, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if result.GroupsEarlyEmits != 1 {
		t.Errorf("GroupsEarlyEmits = %d, want 1", result.GroupsEarlyEmits)
	}
	if len(calls) != 1 {
		t.Fatalf("got %d calls, want 1", len(calls))
	}
	if calls[0].CallDirection != cdrleg.DirIncoming {
		t.Errorf("CallDirection = %v, want Incoming", calls[0].CallDirection)
	}
	if state.Cache.Count() != 0 {
		t.Errorf("Cache.Count() = %d, want 0 (group removed on early emit)", state.Cache.Count())
	}
}

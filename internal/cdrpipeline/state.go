// Package cdrpipeline turns parsed CDR records into in-progress legs,
// merges attempt/answer pairs, resolves transfer chains, suppresses
// routing-only legs, and finalizes a group of legs into a Call.
package cdrpipeline

import (
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/shai-nadav/cdr-observatory/internal/cdrclassify"
	"github.com/shai-nadav/cdr-observatory/internal/cdrdirection"
	"github.com/shai-nadav/cdr-observatory/internal/cdrleg"
)

// CandidateExtension tracks one number observed as a plausible extension
// during discovery mode (spec.md §4.5).
type CandidateExtension struct {
	Number string
	Count  int
	Reason string // "caller-900" or "dest-902"
}

// State is the shared, single-writer mutable state one Engine instance
// owns for the life of a run: the leg cache, auto-detected voicemail and
// routing numbers, and discovery-mode candidate extensions. Per spec.md
// §4.5/§9, voicemail auto-detection is first-candidate-wins and never
// unset except via ResetVoicemailDetection (for hosts that reuse one
// long-lived State across independent runs).
type State struct {
	Cache *cdrleg.Cache

	ExtClassifier      *cdrclassify.ExtensionClassifier
	EndpointClassifier *cdrclassify.EndpointClassifier
	Resolver           *cdrdirection.Resolver

	ConfiguredVoicemail string // operator-configured pilot, if any

	log zerolog.Logger

	mu               sync.Mutex
	autoVoicemail    string
	routingNumbers   map[string]bool
	candidates       map[string]*CandidateExtension
}

// NewState constructs pipeline state around a fresh or shared leg cache.
func NewState(cache *cdrleg.Cache, ext *cdrclassify.ExtensionClassifier, endpoint *cdrclassify.EndpointClassifier, configuredVoicemail string, log zerolog.Logger) *State {
	return &State{
		Cache:               cache,
		ExtClassifier:       ext,
		EndpointClassifier:  endpoint,
		Resolver:            cdrdirection.New(ext, endpoint),
		ConfiguredVoicemail: configuredVoicemail,
		log:                 log,
		routingNumbers:      make(map[string]bool),
		candidates:          make(map[string]*CandidateExtension),
	}
}

// EffectiveVoicemailNumber returns the configured pilot if set, else the
// first auto-detected voicemail pilot of this run (empty if neither).
func (s *State) EffectiveVoicemailNumber() string {
	if s.ConfiguredVoicemail != "" {
		return s.ConfiguredVoicemail
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.autoVoicemail
}

// NoteVoicemailCandidate remembers called_party as the voicemail pilot if
// no candidate has been remembered yet (first detection wins).
func (s *State) NoteVoicemailCandidate(calledParty string) {
	if calledParty == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.autoVoicemail == "" {
		s.autoVoicemail = calledParty
		s.log.Info().Str("number", calledParty).Msg("auto-detected voicemail pilot")
	}
}

// ResetVoicemailDetection clears the auto-detected voicemail pilot. Exposed
// for multi-tenant hosts that want to reuse one long-lived State across
// independent runs; never called automatically.
func (s *State) ResetVoicemailDetection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoVoicemail = ""
}

// RegisterRoutingNumber adds n to the auto-detected routing-number set
// (union with any configured set per spec.md invariant 7).
func (s *State) RegisterRoutingNumber(n string) {
	if n == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routingNumbers[n] = true
}

// IsRoutingNumber reports whether n is a known (configured or
// auto-detected) routing number.
func (s *State) IsRoutingNumber(n string) bool {
	if n == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.routingNumbers[n]
}

// NoteCandidateExtension records a discovery-mode candidate (spec.md §4.5).
// Only meaningful while ExtClassifier.IsEmpty().
func (s *State) NoteCandidateExtension(number, reason string) {
	if number == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.candidates[number]
	if !ok {
		c = &CandidateExtension{Number: number, Reason: reason}
		s.candidates[number] = c
	}
	c.Count++
}

// CandidateExtensions returns a snapshot of discovery-mode candidates.
func (s *State) CandidateExtensions() []CandidateExtension {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CandidateExtension, 0, len(s.candidates))
	for _, c := range s.candidates {
		out = append(out, *c)
	}
	return out
}

// parseRingTime computes CallAnswerTime − InLegConnectTime in whole
// seconds if both parse (as RFC3339, or as "2006-01-02T15:04:05" with no
// offset) and the difference is non-negative; else nil. Non-ISO-8601 fixtures (e.g. the non-standard
// YYYY-DD-MM ordering some CDR exports use) are treated as unparseable
// per spec.md §9's open-question decision, yielding a null ring time
// rather than a guessed value.
func parseRingTime(answer, connect string) *int {
	if answer == "" || connect == "" {
		return nil
	}
	a, err := parseCdrTimestamp(answer)
	if err != nil {
		return nil
	}
	c, err := parseCdrTimestamp(connect)
	if err != nil {
		return nil
	}
	diff := a.Sub(c)
	if diff < 0 {
		return nil
	}
	secs := int(diff.Seconds())
	return &secs
}

func parseCdrTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02T15:04:05", s)
}

func atoiOr0(s string) int {
	if s == "" {
		return 0
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return v
}

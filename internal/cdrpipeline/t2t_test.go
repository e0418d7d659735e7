package cdrpipeline

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/shai-nadav/cdr-observatory/internal/cdrclassify"
	"github.com/shai-nadav/cdr-observatory/internal/cdrleg"
)

func TestSplitTrunkToTrunkNoInternalExtensionDeclines(t *testing.T) {
	state := newTestState()
	call := &cdrleg.Call{
		GlobalCallID: "gid-1",
		Legs:         []*cdrleg.Leg{{CallerExternal: "18005550001", CalledExternal: "18005550002"}},
	}
	_, _, ok := splitTrunkToTrunk(call, state)
	if ok {
		t.Error("splitTrunkToTrunk should decline when no internal extension bridges the two halves")
	}
}

func TestSplitTrunkToTrunkViaForwardingParty(t *testing.T) {
	// findInternalExtension's forwarding-party branch needs an extension
	// classifier that actually recognizes "5001".
	state := NewState(
		cdrleg.NewCache(),
		cdrclassify.NewExtensionClassifier([]string{"5000-5099"}),
		cdrclassify.NewEndpointClassifier(),
		"",
		zerolog.Nop(),
	)

	leg := &cdrleg.Leg{
		CallerExternal:  "18005550001",
		CalledExternal:  "18005550002",
		ForwardingParty: "5001",
	}
	call := &cdrleg.Call{
		GlobalCallID: "gid-1",
		Legs:         []*cdrleg.Leg{leg},
	}

	inCall, outCall, ok := splitTrunkToTrunk(call, state)
	if !ok {
		t.Fatal("splitTrunkToTrunk should succeed: forwarding_party 5001 is a recognized extension")
	}

	if inCall.CallDirection != cdrleg.DirT2TIn {
		t.Errorf("inCall.CallDirection = %v, want T2TIn", inCall.CallDirection)
	}
	if inCall.Extension != "5001" {
		t.Errorf("inCall.Extension = %q, want 5001", inCall.Extension)
	}
	if inCall.CallerExternal != "18005550001" {
		t.Errorf("inCall.CallerExternal = %q, want 18005550001", inCall.CallerExternal)
	}
	if inCall.Legs[0].TransferFrom != "" {
		t.Errorf("inCall leg TransferFrom = %q, want empty", inCall.Legs[0].TransferFrom)
	}

	if outCall.CallDirection != cdrleg.DirT2TOut {
		t.Errorf("outCall.CallDirection = %v, want T2TOut", outCall.CallDirection)
	}
	if outCall.GlobalCallID != "gid-1_out" {
		t.Errorf("outCall.GlobalCallID = %q, want gid-1_out", outCall.GlobalCallID)
	}
	if outCall.DialedNumber != "18005550002" {
		t.Errorf("outCall.DialedNumber = %q, want 18005550002", outCall.DialedNumber)
	}
	if outCall.Legs[0].TransferFrom != "5001" {
		t.Errorf("outCall leg TransferFrom = %q, want 5001", outCall.Legs[0].TransferFrom)
	}
}

package cdrclassify

import "testing"

func TestExtensionClassifierIsEmpty(t *testing.T) {
	if !NewExtensionClassifier(nil).IsEmpty() {
		t.Error("nil entries should be empty")
	}
	if !NewExtensionClassifier([]string{"  ", ""}).IsEmpty() {
		t.Error("blank entries should be empty")
	}
	if NewExtensionClassifier([]string{"1000"}).IsEmpty() {
		t.Error("one exact entry should not be empty")
	}
}

func TestExtensionClassifierExact(t *testing.T) {
	c := NewExtensionClassifier([]string{"1001", "1002"})
	if !c.IsExtension("1001") {
		t.Error("1001 should be an extension")
	}
	if c.IsExtension("1003") {
		t.Error("1003 should not be an extension")
	}
}

func TestExtensionClassifierRange(t *testing.T) {
	c := NewExtensionClassifier([]string{"1000-1999", "2000-2099"})
	tests := []struct {
		n    string
		want bool
	}{
		{"1000", true},
		{"1999", true},
		{"1500", true},
		{"2050", true},
		{"2100", false},
		{"999", false},
	}
	for _, tt := range tests {
		if got := c.IsExtension(tt.n); got != tt.want {
			t.Errorf("IsExtension(%q) = %v, want %v", tt.n, got, tt.want)
		}
	}
}

func TestExtensionClassifierEmptyNumber(t *testing.T) {
	c := NewExtensionClassifier([]string{"1000-1999"})
	if c.IsExtension("") {
		t.Error("empty number should never be an extension")
	}
}

func TestExtensionClassifierLeadingOneRetry(t *testing.T) {
	c := NewExtensionClassifier([]string{"5551234567"})
	if !c.IsExtension("15551234567") {
		t.Error("11-digit number with leading 1 should match after stripping")
	}

	c2 := NewExtensionClassifier([]string{"15551234567"})
	if !c2.IsExtension("5551234567") {
		t.Error("10-digit number should match after prefixing 1")
	}
}

func TestExtensionClassifierMixed(t *testing.T) {
	c := NewExtensionClassifier([]string{"1000-1999", "5000"})
	if !c.IsExtension("5000") {
		t.Error("exact entry alongside ranges should still match")
	}
	if !c.IsExtension("1500") {
		t.Error("range entry alongside exact should still match")
	}
}

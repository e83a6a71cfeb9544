package config

import "testing"

func TestDefaultOptions_Validates(t *testing.T) {
	if err := DefaultOptions().Validate(); err != nil {
		t.Fatalf("default options should validate: %v", err)
	}
}

func TestValidate_RejectsBadPort(t *testing.T) {
	o := DefaultOptions()
	o.ListenPort = 70000
	if err := o.Validate(); err == nil {
		t.Fatalf("expected error for out-of-range port")
	}
}

func TestValidate_RejectsNonPositiveTimeouts(t *testing.T) {
	o := DefaultOptions()
	o.HandshakeTimeout = 0
	if err := o.Validate(); err == nil {
		t.Fatalf("expected error for zero handshake timeout")
	}
}

func TestValidate_RejectsOversizedFrame(t *testing.T) {
	o := DefaultOptions()
	o.MaxFrameBytes = 11 * mebibyte
	if err := o.Validate(); err == nil {
		t.Fatalf("expected error for frame cap above 10 MiB")
	}
}

func TestValidate_RejectsZeroReplayWindow(t *testing.T) {
	o := DefaultOptions()
	o.ReplayWindow = 0
	if err := o.Validate(); err == nil {
		t.Fatalf("expected error for zero replay window")
	}
}

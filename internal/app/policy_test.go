package app

import "testing"

func TestThresholdPolicyKicksAfterStrikes(t *testing.T) {
	p := NewThresholdPolicy(3)
	for i := 0; i < 2; i++ {
		if got := p.OnBackPressure("c1"); got != DropFrame {
			t.Fatalf("strike %d = %v, want DropFrame", i, got)
		}
	}
	if got := p.OnBackPressure("c1"); got != KickConn {
		t.Fatalf("final strike = %v, want KickConn", got)
	}
	// counter resets after a kick decision
	if got := p.OnBackPressure("c1"); got != DropFrame {
		t.Fatalf("post-kick strike = %v", got)
	}
}

func TestThresholdPolicyResetsOnDelivery(t *testing.T) {
	p := NewThresholdPolicy(2)
	_ = p.OnBackPressure("c1")
	p.OnDelivered("c1")
	if got := p.OnBackPressure("c1"); got != DropFrame {
		t.Fatalf("after reset = %v, want DropFrame", got)
	}
}

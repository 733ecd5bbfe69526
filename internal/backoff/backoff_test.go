package backoff

import "testing"

func TestDeliveryGrowsAndCaps(t *testing.T) {
	prevUpper := DeliveryBase
	for attempt := 0; attempt < 8; attempt++ {
		d := Delivery(attempt)
		if d < 0 {
			t.Fatalf("attempt %d: negative delay %v", attempt, d)
		}
		upper := DeliveryBase << uint(attempt)
		if upper > DeliveryCap {
			upper = DeliveryCap
		}
		// allow the +-10% jitter band on either side of the computed base.
		if d > upper+upper/10 {
			t.Errorf("attempt %d: delay %v exceeds jittered upper bound %v", attempt, d, upper)
		}
		prevUpper = upper
	}
	if prevUpper != DeliveryCap {
		t.Fatalf("expected the loop to reach DeliveryCap, got %v", prevUpper)
	}
}

func TestDeliveryCapsAtOneHour(t *testing.T) {
	d := Delivery(20)
	if d > DeliveryCap+DeliveryCap/10 {
		t.Errorf("Delivery(20) = %v, expected it capped near %v", d, DeliveryCap)
	}
}

func TestReconnectZeroForNonPositiveRetryCount(t *testing.T) {
	if d := Reconnect(0); d != 0 {
		t.Errorf("Reconnect(0) = %v, want 0", d)
	}
	if d := Reconnect(-1); d != 0 {
		t.Errorf("Reconnect(-1) = %v, want 0", d)
	}
}

func TestReconnectCapsAtThirtySeconds(t *testing.T) {
	for _, retry := range []int{1, 2, 5, 10, 20} {
		d := Reconnect(retry)
		if d <= 0 {
			t.Errorf("Reconnect(%d) = %v, want > 0", retry, d)
		}
		if d > 30_000_000_000 { // 30s cap; the jittered result is clamped to it
			t.Errorf("Reconnect(%d) = %v, exceeds the 30s cap", retry, d)
		}
	}
}

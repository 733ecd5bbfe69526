package state

import "testing"

func TestBlockCacheAndBust(t *testing.T) {
	s := New(false, "relay.test")
	if s.IsBlocked("evil.example") {
		t.Fatal("expected a fresh State to have no blocks")
	}
	s.CacheBlock("evil.example")
	if !s.IsBlocked("evil.example") {
		t.Error("expected evil.example to be blocked after CacheBlock")
	}
	s.BustBlock("evil.example")
	if s.IsBlocked("evil.example") {
		t.Error("expected evil.example to be unblocked after BustBlock")
	}
}

func TestWhitelistCacheAndBust(t *testing.T) {
	s := New(true, "relay.test")
	if !s.IsWhitelisted("good.example") {
		t.Fatal("expected a fresh State's empty whitelist to admit every host")
	}
	s.CacheWhitelist("good.example")
	if !s.IsWhitelisted("good.example") {
		t.Error("expected good.example to be whitelisted after CacheWhitelist")
	}
	s.CacheWhitelist("other.example")
	s.BustWhitelist("good.example")
	if s.IsWhitelisted("good.example") {
		t.Error("expected good.example to be removed after BustWhitelist")
	}
}

func TestListenersSnapshotIsIndependentOfInternalState(t *testing.T) {
	s := New(false, "relay.test")
	s.CacheListener("https://a.example/actor", "https://a.example/inbox")

	snap := s.Listeners()
	if len(snap) != 1 || snap["https://a.example/actor"] != "https://a.example/inbox" {
		t.Fatalf("Listeners() = %v", snap)
	}

	snap["https://b.example/actor"] = "https://b.example/inbox"
	if s.IsListener("https://b.example/actor") {
		t.Error("mutating the returned snapshot must not affect State")
	}

	s.BustListener("https://a.example/actor")
	if s.IsListener("https://a.example/actor") {
		t.Error("expected the listener to be removed after BustListener")
	}
}

func TestRestrictedAndDomainAreFixedAtConstruction(t *testing.T) {
	s := New(true, "relay.example")
	if !s.Restricted() {
		t.Error("expected Restricted() to be true")
	}
	if s.Domain() != "relay.example" {
		t.Errorf("Domain() = %q", s.Domain())
	}
}

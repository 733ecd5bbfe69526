package main

import "testing"

func TestDomainListAccumulates(t *testing.T) {
	var d domainList
	if err := d.Set("evil.example"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := d.Set("spam.example"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if len(d) != 2 || d[0] != "evil.example" || d[1] != "spam.example" {
		t.Errorf("domainList = %v", d)
	}
	if got, want := d.String(), "evil.example,spam.example"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

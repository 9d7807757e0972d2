package main

import "testing"

func TestParamFlagCombinations(t *testing.T) {
	var p paramFlag
	for _, s := range []string{"fast=5,10", "slow = 30, 50 ,80"} {
		if err := p.Set(s); err != nil {
			t.Fatalf("Set(%q): %v", s, err)
		}
	}
	combos := p.combinations()
	if len(combos) != 6 {
		t.Fatalf("got %d combinations, want 6", len(combos))
	}
	if combos[0]["fast"] != 5.0 || combos[0]["slow"] != 30.0 || combos[5]["fast"] != 10.0 || combos[5]["slow"] != 80.0 {
		t.Errorf("combinations = %v", combos)
	}
	if got := label(combos[4]); got != "fast=10 slow=50" {
		t.Errorf("label = %q", got)
	}
}

func TestParamFlagErrors(t *testing.T) {
	for _, s := range []string{"fast", "=1,2", "fast=", "fast=a,b"} {
		var p paramFlag
		if err := p.Set(s); err == nil {
			t.Errorf("Set(%q) accepted", s)
		}
	}
}

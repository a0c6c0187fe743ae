package chat

import "testing"

// === SelectEndpoint ===

func TestSelectEndpoint_Empty(t *testing.T) {
	if _, ok := SelectEndpoint(nil); ok {
		t.Error("empty list should return false")
	}
}

func TestSelectEndpoint_Single(t *testing.T) {
	eps := []Endpoint{{URL: "http://a", Weight: 1}}
	got, ok := SelectEndpoint(eps)
	if !ok || got.URL != "http://a" {
		t.Errorf("got %v/%v, want http://a/true", got.URL, ok)
	}
}

func TestSelectEndpoint_ZeroWeightExcluded(t *testing.T) {
	eps := []Endpoint{
		{URL: "http://a", Weight: 0},
		{URL: "http://b", Weight: 1},
	}
	for i := 0; i < 100; i++ {
		got, ok := SelectEndpoint(eps)
		if !ok || got.URL != "http://b" {
			t.Fatalf("zero-weight endpoint selected: %v", got.URL)
		}
	}
}

func TestSelectEndpoint_AllZeroWeightsFallsBackToFirst(t *testing.T) {
	eps := []Endpoint{
		{URL: "http://a", Weight: 0},
		{URL: "http://b", Weight: 0},
	}
	got, ok := SelectEndpoint(eps)
	if !ok || got.URL != "http://a" {
		t.Errorf("got %v/%v, want first endpoint", got.URL, ok)
	}
}

func TestSelectEndpoint_WeightedDistribution(t *testing.T) {
	eps := []Endpoint{
		{URL: "http://a", Weight: 3},
		{URL: "http://b", Weight: 1},
	}

	const draws = 10000
	countA := 0
	for i := 0; i < draws; i++ {
		got, _ := SelectEndpoint(eps)
		if got.URL == "http://a" {
			countA++
		}
	}

	p := float64(countA) / draws
	if p < 0.70 || p > 0.80 {
		t.Errorf("weight-3 endpoint selected with p=%.3f, want 0.70..0.80", p)
	}
}

package billing

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNormalizeEpochUnits(t *testing.T) {
	// 2024-06-01 12:00:00 UTC in seconds and milliseconds.
	const seconds = int64(1717243200)
	const millis = seconds * 1000
	want := time.Unix(seconds, 0)

	tests := []struct {
		name string
		in   interface{}
		want time.Time
	}{
		{"int64 seconds", seconds, want},
		{"int64 milliseconds", millis, want},
		{"int seconds", int(seconds), want},
		{"float64 seconds", float64(seconds), want},
		{"float64 milliseconds", float64(millis), want},
		{"json.Number seconds", json.Number("1717243200"), want},
		{"string seconds", "1717243200", want},
		{"string milliseconds", " 1717243200000 ", want},
		{"just below threshold is seconds", int64(9_999_999_999), time.Unix(9_999_999_999, 0)},
		{"threshold is milliseconds", int64(10_000_000_000), time.UnixMilli(10_000_000_000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeEpoch(tt.in)
			if !got.Equal(tt.want) {
				t.Errorf("NormalizeEpoch(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeEpochRoundTrip(t *testing.T) {
	// A timestamp written as seconds and re-read as seconds survives a
	// store-and-load cycle unchanged.
	orig := time.Date(2025, 3, 15, 8, 30, 0, 0, time.UTC)
	got := NormalizeEpoch(orig.Unix())
	if !got.Equal(orig) {
		t.Errorf("seconds round trip: got %v, want %v", got, orig)
	}

	got = NormalizeEpoch(orig.UnixMilli())
	if !got.Equal(orig) {
		t.Errorf("milliseconds round trip: got %v, want %v", got, orig)
	}
}

func TestNormalizeEpochIsTotal(t *testing.T) {
	// Garbage never errors or panics; it falls back to the current time.
	inputs := []interface{}{
		nil,
		int64(0),
		int64(-5),
		float64(-1),
		"",
		"abc",
		"12x4",
		json.Number("not-a-number"),
		true,
		struct{}{},
		[]int{1, 2},
	}

	for _, in := range inputs {
		before := time.Now().Add(-time.Second)
		got := NormalizeEpoch(in)
		after := time.Now().Add(time.Second)
		if got.Before(before) || got.After(after) {
			t.Errorf("NormalizeEpoch(%#v) = %v, want roughly now", in, got)
		}
	}
}

func TestNormalizeEpochPtr(t *testing.T) {
	if got := NormalizeEpochPtr(0); got != nil {
		t.Errorf("NormalizeEpochPtr(0) = %v, want nil", got)
	}
	if got := NormalizeEpochPtr(-10); got != nil {
		t.Errorf("NormalizeEpochPtr(-10) = %v, want nil", got)
	}

	const seconds = int64(1717243200)
	got := NormalizeEpochPtr(seconds)
	if got == nil || !got.Equal(time.Unix(seconds, 0)) {
		t.Errorf("NormalizeEpochPtr(%d) = %v, want %v", seconds, got, time.Unix(seconds, 0))
	}
}

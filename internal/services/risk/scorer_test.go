package risk

import (
	"errors"
	"testing"

	"github.com/LeonardoBeccarini/crowdsense/internal/model/messages"
)

func TestScoreStaysInRange(t *testing.T) {
	s := NewScorer(DefaultConfig())
	cases := []Input{
		{Current: 0, Capacity: 100, Hour: 3},
		{Current: 10000, Capacity: 100, Predicted: 10000, Growth: 50, Hour: 13},
		{Current: 50, Capacity: 0, Hour: 9},
		{Current: 20, Capacity: 100, Growth: -5, Hour: 11},
	}
	for _, in := range cases {
		if cri := s.Score(in); cri < 0 || cri > 100 {
			t.Fatalf("Score(%+v)=%d out of range", in, cri)
		}
	}
}

func TestScoreFormula(t *testing.T) {
	s := NewScorer(DefaultConfig())
	cases := []struct {
		name string
		in   Input
		want int
	}{
		{"quiet", Input{Current: 50, Capacity: 200, Predicted: 50, Hour: 11}, 20},
		{"peak hour adds bonus", Input{Current: 50, Capacity: 200, Predicted: 50, Hour: 13}, 30},
		{"growth counts", Input{Current: 50, Capacity: 200, Predicted: 50, Growth: 1.2, Hour: 11}, 32},
		{"negative growth ignored", Input{Current: 50, Capacity: 200, Predicted: 50, Growth: -0.8, Hour: 11}, 20},
		{"capacity floor", Input{Current: 200, Capacity: 200, Predicted: 0, Hour: 11}, 85},
		{"clamped at 100", Input{Current: 400, Capacity: 200, Predicted: 400, Growth: 3, Hour: 9}, 100},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := s.Score(tc.in); got != tc.want {
				t.Fatalf("got %d want %d", got, tc.want)
			}
		})
	}
}

func TestLevelThresholds(t *testing.T) {
	s := NewScorer(DefaultConfig())
	cases := map[int]messages.RiskLevel{
		0: messages.RiskLow, 49: messages.RiskLow,
		50: messages.RiskModerate, 69: messages.RiskModerate,
		70: messages.RiskHigh, 84: messages.RiskHigh,
		85: messages.RiskCritical, 100: messages.RiskCritical,
	}
	for cri, want := range cases {
		if got := s.Level(cri); got != want {
			t.Fatalf("Level(%d)=%s want %s", cri, got, want)
		}
	}
}

// Density ramps from 100 to 250 in a 200-seat zone outside peak hours.
func TestScoreCrossesCriticalAtCapacity(t *testing.T) {
	s := NewScorer(DefaultConfig())
	for cur := 100; cur <= 250; cur += 5 {
		cri, level := s.Assess(Input{Current: float64(cur), Capacity: 200, Predicted: float64(cur), Hour: 11})
		if cur < 200 && level == messages.RiskCritical {
			t.Fatalf("critical too early at %d (cri %d)", cur, cri)
		}
		if cur >= 200 && (cri < 85 || level != messages.RiskCritical) {
			t.Fatalf("at %d expected critical, got %d %s", cur, cri, level)
		}
	}
	if cri := s.Score(Input{Current: 199, Capacity: 200, Predicted: 199, Hour: 11}); cri >= 85 {
		t.Fatalf("199/200 scored %d", cri)
	}
}

func TestCustomFloor(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CapacityFloor = 95
	s := NewScorer(cfg)
	if got := s.Score(Input{Current: 100, Capacity: 100, Hour: 11}); got != 95 {
		t.Fatalf("got %d want 95", got)
	}
}

func TestParseBands(t *testing.T) {
	got, err := ParseBands(" 9-10, 12-14 ,17")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []Band{{9, 10}, {12, 14}, {17, 17}}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("band %d: got %v want %v", i, got[i], want[i])
		}
	}

	for _, bad := range []string{"a-b", "14-12", "9-24", "-1"} {
		if _, err := ParseBands(bad); !errors.Is(err, ErrInvalidBand) {
			t.Fatalf("ParseBands(%q) err=%v", bad, err)
		}
	}
	if bands, err := ParseBands(""); err != nil || len(bands) != 0 {
		t.Fatalf("empty input: %v %v", bands, err)
	}
}

func TestStatusLabel(t *testing.T) {
	cases := []struct {
		cur  float64
		cap  int
		want string
	}{
		{95, 100, "High Congestion"},
		{60, 100, "Moderate"},
		{10, 100, "Low Activity"},
	}
	for _, tc := range cases {
		if got := StatusLabel(tc.cur, tc.cap); got != tc.want {
			t.Fatalf("StatusLabel(%v,%d)=%q want %q", tc.cur, tc.cap, got, tc.want)
		}
	}
}

func TestTrend(t *testing.T) {
	cases := []struct {
		cur, pred float64
		want      string
	}{
		{100, 120, "Increasing"},
		{100, 103, "Stable"},
		{100, 80, "Decreasing"},
		{0, 0, "Stable"},
		{0, 3, "Increasing"},
	}
	for _, tc := range cases {
		if got := Trend(tc.cur, tc.pred); got != tc.want {
			t.Fatalf("Trend(%v,%v)=%q want %q", tc.cur, tc.pred, got, tc.want)
		}
	}
}

package policy

import "testing"

func TestCheck(t *testing.T) {
	l := Limits{Objects: 10, ObjectsWarning: 8}
	cases := []struct {
		current, net int
		want         Verdict
	}{
		{0, 1, Allow},
		{7, 1, Allow},
		{8, 1, Warn},
		{9, 1, Warn},
		{10, 1, Refuse},
		{12, -1, Refuse},
		{12, -3, Warn},
		{10, 0, Warn},
	}
	for _, tc := range cases {
		if got := l.Check(tc.current, tc.net); got != tc.want {
			t.Fatalf("Check(%d, %d) = %v, want %v", tc.current, tc.net, got, tc.want)
		}
	}
}

func TestForFallsBackToStandard(t *testing.T) {
	p := Default()
	p.Levels[Gold] = Limits{Objects: 20000, ObjectsWarning: 18000}
	if got := p.For("platinum"); got != p.Levels[Standard] {
		t.Fatalf("unknown level: got %+v", got)
	}
	if got := p.For(Gold); got.Objects != 20000 {
		t.Fatalf("gold: got %+v", got)
	}
}

func TestValidate(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default policy invalid: %v", err)
	}
	bad := Policy{Levels: map[Level]Limits{Standard: {Objects: 10, ObjectsWarning: 11}}}
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected warning above cap to fail")
	}
	if err := (Policy{Levels: map[Level]Limits{Gold: {Objects: 1, ObjectsWarning: 1}}}).Validate(); err == nil {
		t.Fatalf("expected missing standard level to fail")
	}
}

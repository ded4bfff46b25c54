package tier

import "testing"

func TestNegotiate_StepDown(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		requested Tier
		free      int
		balance   int
		admin     bool
		allowed   bool
		effective Tier
		freePath  bool
	}{
		{name: "admin no tokens", requested: UHD, admin: true, allowed: true, effective: UHD},
		{name: "free path keeps requested", requested: UHD, free: 3, allowed: true, effective: UHD, freePath: true},
		{name: "exact balance", requested: QHD, balance: 50, allowed: true, effective: QHD},
		{name: "4k downgraded to 2k not 1080p", requested: UHD, balance: 60, allowed: true, effective: QHD},
		{name: "4k downgraded to 1080p", requested: UHD, balance: 30, allowed: true, effective: FullHD},
		{name: "2k downgraded to 1080p", requested: QHD, balance: 25, allowed: true, effective: FullHD},
		{name: "nothing affordable", requested: FullHD, balance: 10},
		{name: "zero balance", requested: UHD, balance: 0},
		{name: "never upgrades", requested: FullHD, balance: 1000, allowed: true, effective: FullHD},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			d := Negotiate(tc.requested, tc.free, tc.balance, tc.admin)
			if d.Allowed != tc.allowed {
				t.Fatalf("allowed = %v, want %v", d.Allowed, tc.allowed)
			}
			if !tc.allowed {
				if d.Reason == "" {
					t.Fatalf("expected denial reason")
				}
				return
			}
			if d.Tier != tc.effective {
				t.Fatalf("effective tier = %s, want %s", d.Tier, tc.effective)
			}
			if d.FreePath != tc.freePath {
				t.Fatalf("freePath = %v, want %v", d.FreePath, tc.freePath)
			}
			if d.Tier > tc.requested {
				t.Fatalf("negotiated tier %s exceeds requested %s", d.Tier, tc.requested)
			}
		})
	}
}

func TestParse_RoundTrip(t *testing.T) {
	for _, tr := range All() {
		got, err := Parse(tr.String())
		if err != nil {
			t.Fatalf("parse %s: %v", tr, err)
		}
		if got != tr {
			t.Fatalf("Parse(%s.String()) = %s", tr, got)
		}
	}
	if _, err := Parse("8k"); err == nil {
		t.Fatal("expected error for unsupported quality")
	}
}

func TestDimensions_PortraitSwaps(t *testing.T) {
	w, h := UHD.Dimensions(false)
	if w != 3840 || h != 2160 {
		t.Fatalf("landscape 4k = %dx%d", w, h)
	}
	w, h = UHD.Dimensions(true)
	if w != 2160 || h != 3840 {
		t.Fatalf("portrait 4k = %dx%d", w, h)
	}
}

func TestCosts_Ordered(t *testing.T) {
	prev := 0
	for _, tr := range All() {
		if tr.Cost() <= prev {
			t.Fatalf("tier costs not strictly increasing at %s", tr)
		}
		prev = tr.Cost()
	}
}

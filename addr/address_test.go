package addr

import "testing"

func TestParseRoundTrip(t *testing.T) {
	cases := []string{"1:2/3", "2:5000/100.7", "1:2/3@fidonet", "21:4/100.5@othernet"}
	for _, s := range cases {
		a, err := Parse(s)
		if err != nil {
			t.Fatalf("Parse(%q): %v", s, err)
		}
		if got := a.String(); got != s {
			t.Errorf("Parse(%q).String() = %q, want %q", s, got, s)
		}
	}
}

func TestParseErrors(t *testing.T) {
	bad := []string{"", "1/2", "1:2", "1:2/x", "x:2/3", "1:2/3.x", "1:2/3@"}
	for _, s := range bad {
		if _, err := Parse(s); err == nil {
			t.Errorf("Parse(%q): expected error, got nil", s)
		}
	}
}

func TestValid(t *testing.T) {
	if New(0, 1, 2, 0).Valid() {
		t.Error("zero zone should be invalid")
	}
	if New(1, 0, 2, 0).Valid() {
		t.Error("zero net should be invalid")
	}
	if !New(1, 2, 3, 0).Valid() {
		t.Error("expected valid address")
	}
}

func TestEqualIgnoresDomainUnlessBothSet(t *testing.T) {
	a := New(1, 2, 3, 0)
	b := a
	b.Domain = "fidonet"
	if !a.Equal(b) {
		t.Error("expected equal when only one side has a domain")
	}
	c := b
	c.Domain = "other"
	if b.Equal(c) {
		t.Error("expected unequal when domains differ and both set")
	}
}

package types

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestHashJSONRoundTrip(t *testing.T) {
	h := Hash{0xde, 0xad, 0xbe, 0xef}
	data, err := json.Marshal(h)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), `"deadbeef`) {
		t.Errorf("encoding = %s, want hex", data)
	}
	var back Hash
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if back != h {
		t.Error("hash changed across round trip")
	}
}

func TestZeroHashEncodesEmpty(t *testing.T) {
	data, err := json.Marshal(Hash{})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `""` {
		t.Errorf("zero hash = %s, want \"\"", data)
	}
	var back Hash
	if err := json.Unmarshal([]byte(`""`), &back); err != nil {
		t.Fatal(err)
	}
	if !back.IsZero() {
		t.Error("empty string did not decode to zero hash")
	}
}

func TestHashMatches(t *testing.T) {
	h := Hash{0xab, 0xcd, 0xef}
	tests := []struct {
		fragment string
		want     bool
	}{
		{"abcdef", true},
		{"ABCDEF", true}, // case-insensitive
		{"cdef00", true},
		{"", false},
		{"1234", false},
	}
	for _, tt := range tests {
		if got := h.Matches(tt.fragment); got != tt.want {
			t.Errorf("Matches(%q) = %v, want %v", tt.fragment, got, tt.want)
		}
	}
}

func TestAddressTextRoundTrip(t *testing.T) {
	a := Address{0x0a, 0x1b}
	s := a.String()
	if !strings.HasPrefix(s, "0x") || s != strings.ToLower(s) {
		t.Errorf("address form = %s, want lowercase 0x hex", s)
	}

	back, err := HexToAddress(s)
	if err != nil {
		t.Fatal(err)
	}
	if back != a {
		t.Error("address changed across round trip")
	}

	// Bare hex and uppercase also parse.
	bare, err := HexToAddress(strings.ToUpper(strings.TrimPrefix(s, "0x")))
	if err != nil || bare != a {
		t.Errorf("bare/upper parse = %v (%v)", bare, err)
	}
}

func TestAddressAsMapKey(t *testing.T) {
	m := map[Address]uint64{
		{1}: 100,
		{2}: 200,
	}
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	var back map[Address]uint64
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if back[Address{1}] != 100 || back[Address{2}] != 200 {
		t.Errorf("map round trip = %v", back)
	}
}

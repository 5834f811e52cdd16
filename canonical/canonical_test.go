package canonical

import (
	"encoding/hex"
	"testing"
)

func TestMarshal_SortsKeysAndOmitsWhitespace(t *testing.T) {
	tests := []struct {
		name string
		in   map[string]any
		want string
	}{
		{
			name: "keys sorted ascending",
			in:   map[string]any{"b": "2", "a": "1", "c": "3"},
			want: `{"a":"1","b":"2","c":"3"}`,
		},
		{
			name: "nested objects sorted",
			in:   map[string]any{"outer": map[string]any{"z": uint64(1), "a": uint64(2)}},
			want: `{"outer":{"a":2,"z":1}}`,
		},
		{
			name: "mixed leaves",
			in: map[string]any{
				"amount":   "100",
				"sequence": uint64(7),
				"from":     "0x00112233445566778899aabbccddeeff00112233",
			},
			want: `{"amount":"100","from":"0x00112233445566778899aabbccddeeff00112233","sequence":7}`,
		},
		{
			name: "array of pairs preserved in order",
			in:   map[string]any{"balances": [][2]string{{"0xaa", "5"}, {"0xbb", "6"}}},
			want: `{"balances":[["0xaa","5"],["0xbb","6"]]}`,
		},
		{
			name: "no html escaping",
			in:   map[string]any{"s": "a<b>&c"},
			want: `{"s":"a<b>&c"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Marshal(tt.in)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("Marshal = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestSum256_FixedVector(t *testing.T) {
	// SHA-256 of `{"a":"1"}`, independently computed.
	sum, err := Sum256(map[string]any{"a": "1"})
	if err != nil {
		t.Fatalf("Sum256: %v", err)
	}
	const want = "9afeb0f2b203f254312ec8ded441d0318b7c34c57f8695ede42d2215a30c0960"
	if got := hex.EncodeToString(sum[:]); got != want {
		t.Errorf("Sum256 = %s, want %s", got, want)
	}
}

func TestMarshal_Deterministic(t *testing.T) {
	in := map[string]any{
		"sequences": map[string]uint64{"0xaa": 1, "0xbb": 2, "0x01": 9},
		"balances":  [][2]string{{"0x01", "10"}},
	}
	first, err := Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for i := 0; i < 32; i++ {
		again, err := Marshal(in)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if string(again) != string(first) {
			t.Fatalf("non-deterministic encoding: %s vs %s", again, first)
		}
	}
}

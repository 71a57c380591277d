package util

import "testing"

func TestHideAPIKey(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{in: "sk-abcdefgh1234", want: "sk-a...1234"},
		{in: "abcdef", want: "ab...ef"},
		{in: "abc", want: "a...c"},
		{in: "ab", want: "ab"},
		{in: "", want: ""},
	}
	for _, tc := range cases {
		if got := HideAPIKey(tc.in); got != tc.want {
			t.Fatalf("HideAPIKey(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestMaskSensitiveQuery(t *testing.T) {
	in := "api_key=sk-abcdefgh1234&limit=5"
	got := MaskSensitiveQuery(in)
	if got == in {
		t.Fatalf("api_key not masked: %q", got)
	}
	if got != "api_key=sk-a...1234&limit=5" {
		t.Fatalf("unexpected mask: %q", got)
	}

	plain := "limit=5&per=2"
	if got := MaskSensitiveQuery(plain); got != plain {
		t.Fatalf("non-sensitive query altered: %q", got)
	}
}

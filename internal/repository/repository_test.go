package repository

import "testing"

func TestNormalizeSymbol(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"btc":    "BTC",
		" Eth ":  "ETH",
		"SOL":    "SOL",
		"  ":     "",
		"doge\n": "DOGE",
	}
	for in, want := range cases {
		if got := normalizeSymbol(in); got != want {
			t.Fatalf("normalizeSymbol(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestEnsureJSON(t *testing.T) {
	t.Parallel()

	if got := ensureJSON(""); got != "{}" {
		t.Fatalf("empty input should default, got %q", got)
	}
	if got := ensureJSON(`{"a":1}`); got != `{"a":1}` {
		t.Fatalf("valid JSON should pass through, got %q", got)
	}
	got := ensureJSON("not json")
	if got != `{"raw":"not json"}` {
		t.Fatalf("invalid JSON should be wrapped, got %q", got)
	}
}

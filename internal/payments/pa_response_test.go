package payments

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestEncodePAResponse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		query string
		want  string
	}{
		{name: "reference example", query: "PaRes=abc&MD=123", want: "00005PaRes00003abc00002MD00003123"},
		{name: "leading question mark", query: "?MD=1", want: "00002MD000011"},
		{name: "percent decoded value", query: "PaRes=a%2Fb%3D", want: "00005PaRes00004a/b="},
		{name: "plus kept literally", query: "x=a+b", want: "00001x00003a+b"},
		{name: "missing value", query: "flag&MD=", want: "00004flag0000000002MD00000"},
		{name: "empty segments skipped", query: "a=1&&b=2&", want: "00001a000011" + "00001b000012"},
		{name: "empty", query: "", want: ""},
		{name: "non-ascii counts utf-16 units", query: "MD=%C3%A9", want: "00002MD00001\u00e9"},
		{name: "astral rune counts two units", query: "k=%F0%9F%8E%AB", want: "00001k00002\U0001F3AB"},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := EncodePAResponse(tc.query)
			if err != nil {
				t.Fatalf("EncodePAResponse(%q) returned error: %v", tc.query, err)
			}
			if got != tc.want {
				t.Fatalf("EncodePAResponse(%q) = %q, want %q", tc.query, got, tc.want)
			}
		})
	}
}

func TestPAResponseRoundTrip(t *testing.T) {
	t.Parallel()

	queries := []struct {
		query string
		want  []Pair
	}{
		{query: "PaRes=abc&MD=123", want: []Pair{{"PaRes", "abc"}, {"MD", "123"}}},
		{query: "redirectResult=X1Y2Z3" + longValue(120), want: []Pair{{"redirectResult", "X1Y2Z3" + longValue(120)}}},
		{query: "k=", want: []Pair{{"k", ""}}},
		{query: "MD=%C3%A9t%C3%A9&PaRes=%F0%9F%8E%ABx", want: []Pair{{"MD", "\u00e9t\u00e9"}, {"PaRes", "\U0001F3ABx"}}},
	}

	for _, tc := range queries {
		encoded, err := EncodePAResponse(tc.query)
		if err != nil {
			t.Fatalf("EncodePAResponse(%q) returned error: %v", tc.query, err)
		}
		decoded, err := DecodePAResponse(encoded)
		if err != nil {
			t.Fatalf("DecodePAResponse(%q) returned error: %v", encoded, err)
		}
		if !reflect.DeepEqual(decoded, tc.want) {
			t.Fatalf("round trip of %q = %#v, want %#v", tc.query, decoded, tc.want)
		}
	}
}

func TestDecodePAResponseRejectsMalformedInput(t *testing.T) {
	t.Parallel()

	// "00001" followed by an astral rune declares half of a surrogate pair.
	for _, input := range []string{"0000", "00005Pa", "abcde", "00002MD", "-0001x", "00001\U0001F3AB00000"} {
		if _, err := DecodePAResponse(input); !errors.Is(err, ErrMalformedPAResponse) {
			t.Fatalf("expected malformed error for %q, got %v", input, err)
		}
	}
}

func TestEncodePairsSegmentLengthLimit(t *testing.T) {
	t.Parallel()

	atLimit := strings.Repeat("a", 99999)
	encoded, err := EncodePairs([]Pair{{Key: "PaRes", Value: atLimit}})
	if err != nil {
		t.Fatalf("value of 99999 units should encode: %v", err)
	}
	if !strings.HasPrefix(encoded, "00005PaRes99999") {
		t.Fatalf("unexpected prefix %q", encoded[:15])
	}
	decoded, err := DecodePAResponse(encoded)
	if err != nil || len(decoded) != 1 || decoded[0].Value != atLimit {
		t.Fatalf("round trip at the limit failed: %v", err)
	}

	if _, err := EncodePairs([]Pair{{Key: "PaRes", Value: atLimit + "a"}}); !errors.Is(err, ErrMalformedPAResponse) {
		t.Fatalf("expected ErrMalformedPAResponse for 100000 units, got %v", err)
	}
	if _, err := EncodePAResponse(strings.Repeat("k", 100000) + "=v"); !errors.Is(err, ErrMalformedPAResponse) {
		t.Fatalf("expected ErrMalformedPAResponse for an oversized key, got %v", err)
	}
}

func longValue(n int) string {
	out := make([]byte, n)
	for i := range out {
		out[i] = 'a' + byte(i%26)
	}
	return string(out)
}

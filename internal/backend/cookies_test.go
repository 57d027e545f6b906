package backend

import (
	"net/http"
	"reflect"
	"strings"
	"testing"
)

func TestParseSetCookie(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		header string
		want   []string
	}{
		{name: "empty", header: "", want: []string{}},
		{name: "blank", header: "   ", want: []string{}},
		{name: "single", header: "JSESSIONID=abc; Path=/; HttpOnly", want: []string{"JSESSIONID=abc"}},
		{
			name:   "expires date keeps its comma",
			header: "a=1; Expires=Wed, 21 Oct 2015 07:28:00 GMT; Path=/, b=2; Secure",
			want:   []string{"a=1", "b=2"},
		},
		{
			name:   "joined header lines",
			header: "__cf_bm=xyz; expires=Thu, 01 Jan 2026 00:00:00 GMT; path=/, av_session=s1; HttpOnly, lb=node-3",
			want:   []string{"__cf_bm=xyz", "av_session=s1", "lb=node-3"},
		},
		{name: "value with equals", header: "token=a=b==; Path=/", want: []string{"token=a=b=="}},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := ParseSetCookie(tc.header)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("ParseSetCookie(%q) = %#v, want %#v", tc.header, got, tc.want)
			}
		})
	}
}

func TestMergeCookiePairsOverridesAndPreservesOrder(t *testing.T) {
	t.Parallel()

	jar := "a=1; b=2; c=3"
	got := MergeCookiePairs(jar, []string{"b=20", "d=4"})
	if got != "a=1; b=20; c=3; d=4" {
		t.Fatalf("unexpected merged jar %q", got)
	}

	values := jarValues(got)
	if values["b"] != "20" {
		t.Fatalf("expected new pair to win, got %q", values["b"])
	}
	for _, name := range []string{"a", "c"} {
		if values[name] == "" {
			t.Fatalf("expected %s preserved in %q", name, got)
		}
	}
}

func TestMergeCookiePairsIsIdempotent(t *testing.T) {
	t.Parallel()

	header := "av_session=s1; Path=/; HttpOnly, __cf_bm=xyz; Expires=Wed, 21 Oct 2015 07:28:00 GMT"
	jars := []string{"", "a=1", "av_session=old; a=1", "a=1; b=2; __cf_bm=stale"}

	for _, jar := range jars {
		pairs := ParseSetCookie(header)
		once := MergeCookiePairs(jar, pairs)
		twice := MergeCookiePairs(once, ParseSetCookie(header))
		if once != twice {
			t.Fatalf("merge not idempotent for jar %q: %q != %q", jar, once, twice)
		}
	}
}

func TestMergeCookiePairsEmptyInputs(t *testing.T) {
	t.Parallel()

	if got := MergeCookiePairs("", nil); got != "" {
		t.Fatalf("expected empty jar, got %q", got)
	}
	if got := MergeCookiePairs("a=1", nil); got != "a=1" {
		t.Fatalf("expected jar unchanged, got %q", got)
	}
	if got := MergeCookiePairs("", []string{"flag"}); got != "flag=" {
		t.Fatalf("expected bare name to serialise with empty value, got %q", got)
	}
}

func TestFilterCookieHeader(t *testing.T) {
	t.Parallel()

	got := FilterCookieHeader("a=1; Path=/, b=2; HttpOnly")
	if got != "a=1; b=2" {
		t.Fatalf("unexpected filtered header %q", got)
	}
	if FilterCookieHeader("") != "" {
		t.Fatalf("expected empty output for empty input")
	}
}

func TestCookieHeaderKeepsEveryJarEntry(t *testing.T) {
	t.Parallel()

	if got := CookieHeader("a=1; b=2;; c=3 "); got != "a=1; b=2; c=3" {
		t.Fatalf("unexpected cookie header %q", got)
	}
}

func TestSetCookieHeaderJoinsLines(t *testing.T) {
	t.Parallel()

	header := http.Header{}
	header.Add("Set-Cookie", "a=1; Path=/")
	header.Add("Set-Cookie", "b=2; Expires=Wed, 21 Oct 2015 07:28:00 GMT")

	got := ParseSetCookie(SetCookieHeader(header))
	if !reflect.DeepEqual(got, []string{"a=1", "b=2"}) {
		t.Fatalf("unexpected pairs %#v", got)
	}
	if SetCookieHeader(nil) != "" {
		t.Fatalf("expected empty header for nil map")
	}
}

func jarValues(jar string) map[string]string {
	out := map[string]string{}
	for _, entry := range strings.Split(jar, "; ") {
		name, value, _ := strings.Cut(entry, "=")
		out[name] = value
	}
	return out
}

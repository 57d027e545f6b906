package payments

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

const (
	paLengthWidth = 5
	// maxPASegmentUnits is the largest length a 5 digit prefix can declare.
	maxPASegmentUnits = 99999
)

// ErrMalformedPAResponse is returned when an encoded PA response does not follow the
// length-prefixed layout.
var ErrMalformedPAResponse = errors.New("payments: malformed pa response")

// Pair is a single key/value of a 3-D Secure return query.
type Pair struct {
	Key   string
	Value string
}

// ParseQuery splits a query string on '&' and each segment on its first '='. Values are URL
// decoded; keys are kept verbatim. A leading '?' and empty segments are ignored.
func ParseQuery(query string) []Pair {
	query = strings.TrimPrefix(strings.TrimSpace(query), "?")
	if query == "" {
		return nil
	}
	pairs := make([]Pair, 0, 4)
	for _, segment := range strings.Split(query, "&") {
		if segment == "" {
			continue
		}
		key, value, _ := strings.Cut(segment, "=")
		if decoded, err := url.PathUnescape(value); err == nil {
			value = decoded
		}
		pairs = append(pairs, Pair{Key: key, Value: value})
	}
	return pairs
}

// EncodePAResponse renders the pairs of a 3-D Secure return query in the backend's legacy
// length-prefixed layout: for every pair, a 5 digit zero padded key length, the key, a 5 digit
// zero padded value length and the value, with no separators.
func EncodePAResponse(query string) (string, error) {
	return EncodePairs(ParseQuery(query))
}

// EncodePairs encodes already split pairs. Lengths count UTF-16 code units, matching the
// browser-side encoder the backend was built against. A key or value longer than
// maxPASegmentUnits cannot be expressed and fails with ErrMalformedPAResponse.
func EncodePairs(pairs []Pair) (string, error) {
	var b strings.Builder
	for _, pair := range pairs {
		if err := writeSegment(&b, pair.Key); err != nil {
			return "", err
		}
		if err := writeSegment(&b, pair.Value); err != nil {
			return "", err
		}
	}
	return b.String(), nil
}

// DecodePAResponse reverses EncodePairs.
func DecodePAResponse(encoded string) ([]Pair, error) {
	pairs := make([]Pair, 0, 4)
	rest := encoded
	for rest != "" {
		key, tail, err := readSegment(rest)
		if err != nil {
			return nil, err
		}
		value, tail, err := readSegment(tail)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, Pair{Key: key, Value: value})
		rest = tail
	}
	return pairs, nil
}

// utf16Len counts the UTF-16 code units of s.
func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}

func writeSegment(b *strings.Builder, s string) error {
	n := utf16Len(s)
	if n > maxPASegmentUnits {
		return fmt.Errorf("%w: segment of %d units exceeds %d", ErrMalformedPAResponse, n, maxPASegmentUnits)
	}
	fmt.Fprintf(b, "%0*d", paLengthWidth, n)
	b.WriteString(s)
	return nil
}

func readSegment(s string) (string, string, error) {
	if len(s) < paLengthWidth {
		return "", "", fmt.Errorf("%w: truncated length prefix", ErrMalformedPAResponse)
	}
	prefix := s[:paLengthWidth]
	n, err := strconv.Atoi(prefix)
	if err != nil || n < 0 || strings.ContainsAny(prefix, "+-") {
		return "", "", fmt.Errorf("%w: invalid length prefix %q", ErrMalformedPAResponse, prefix)
	}
	s = s[paLengthWidth:]

	units, end := 0, 0
	for end < len(s) && units < n {
		r, size := utf8.DecodeRuneInString(s[end:])
		units += utf16.RuneLen(r)
		end += size
	}
	if units != n {
		if units > n {
			return "", "", fmt.Errorf("%w: declared length %d splits a character", ErrMalformedPAResponse, n)
		}
		return "", "", fmt.Errorf("%w: segment shorter than declared length %d", ErrMalformedPAResponse, n)
	}
	return s[:end], s[end:], nil
}

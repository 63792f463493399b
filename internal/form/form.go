// Package form decodes and encodes URL-encoded form bodies.
//
// Decoding is strict: one malformed pair rejects the whole body, so a
// submission is never stored partially.
package form

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Submission is a decoded form: field name to field value.
type Submission map[string]string

var (
	// ErrMalformed is returned when the body is not a sequence of key=value pairs.
	ErrMalformed = errors.New("malformed form body")
	// ErrEscape is returned for an invalid percent escape.
	ErrEscape = errors.New("invalid percent escape")
)

// Decode parses an application/x-www-form-urlencoded body.
//
// Every '&'-separated segment must contain exactly one '='. Keys and values
// are unescaped individually ('+' becomes a space). A repeated key keeps the
// last value.
func Decode(body []byte) (Submission, error) {
	segments := strings.Split(string(body), "&")
	sub := make(Submission, len(segments))

	for i, segment := range segments {
		key, value, ok := strings.Cut(segment, "=")
		if !ok {
			return nil, fmt.Errorf("%w: segment %d %q has no '='", ErrMalformed, i, segment)
		}
		if strings.Contains(value, "=") {
			return nil, fmt.Errorf("%w: segment %d %q has more than one '='", ErrMalformed, i, segment)
		}

		k, err := url.QueryUnescape(key)
		if err != nil {
			return nil, fmt.Errorf("%w: key in segment %d: %v", ErrEscape, i, err)
		}
		v, err := url.QueryUnescape(value)
		if err != nil {
			return nil, fmt.Errorf("%w: value in segment %d: %v", ErrEscape, i, err)
		}
		sub[k] = v
	}

	return sub, nil
}

// Encode renders a submission as a URL-encoded body with keys in sorted order.
func Encode(sub Submission) []byte {
	keys := make([]string, 0, len(sub))
	for k := range sub {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(sub[k]))
	}
	return []byte(b.String())
}

// Clone returns a copy of the submission.
func (s Submission) Clone() Submission {
	out := make(Submission, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Copyright The samply Authors
// SPDX-License-Identifier: Apache-2.0

// Package stringutil provides allocation-free string splitting, used on the
// /proc parse paths where strings.Fields would churn the heap.
package stringutil // import "github.com/chhetripradeep/samply/stringutil"

var asciiSpace = [256]uint8{'\t': 1, '\n': 1, '\v': 1, '\f': 1, '\r': 1, ' ': 1}

// FieldsN splits s around runs of white space, filling f with the
// substrings. If s has more fields than fit, the last element of f receives
// the unparsed remainder starting at its first non-space character. The
// number of filled elements is returned.
func FieldsN(s string, f []string) int {
	n := len(f)
	si := 0
	for i := 0; i < n-1; i++ {
		for si < len(s) && asciiSpace[s[si]] != 0 {
			si++
		}
		start := si
		for si < len(s) && asciiSpace[s[si]] == 0 {
			si++
		}
		if start >= si {
			return i
		}
		f[i] = s[start:si]
	}

	for si < len(s) && asciiSpace[s[si]] != 0 {
		si++
	}
	if si < len(s) {
		f[n-1] = s[si:]
		return n
	}
	return n - 1
}

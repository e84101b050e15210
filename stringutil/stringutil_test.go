// Copyright The samply Authors
// SPDX-License-Identifier: Apache-2.0

package stringutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFieldsN(t *testing.T) {
	tests := map[string]struct {
		input    string
		n        int
		expected []string
	}{
		"empty":      {input: "", n: 2, expected: []string{}},
		"spaces":     {input: "  \t ", n: 2, expected: []string{}},
		"exact":      {input: "a bb ccc", n: 3, expected: []string{"a", "bb", "ccc"}},
		"fewer":      {input: "a bb", n: 4, expected: []string{"a", "bb"}},
		"remainder":  {input: "a bb ccc dddd", n: 2, expected: []string{"a", "bb ccc dddd"}},
		"leading ws": {input: "   a b", n: 2, expected: []string{"a", "b"}},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			fields := make([]string, tc.n)
			n := FieldsN(tc.input, fields)
			assert.Equal(t, len(tc.expected), n)
			assert.Equal(t, tc.expected, fields[:n])
		})
	}
}

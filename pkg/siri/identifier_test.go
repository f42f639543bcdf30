package siri

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOriginalID(t *testing.T) {
	tests := []struct {
		name     string
		id       string
		original string
		mapped   string
	}{
		{name: "combined", id: "1234$ATB:Line:1234", original: "1234", mapped: "ATB:Line:1234"},
		{name: "plain", id: "NSR:Quay:1", original: "NSR:Quay:1", mapped: "NSR:Quay:1"},
		{name: "leading separator", id: "$NSR:Quay:1", original: "$NSR:Quay:1", mapped: "$NSR:Quay:1"},
		{name: "empty", id: "", original: "", mapped: ""},
		{name: "only first separator splits", id: "a$b$c", original: "a", mapped: "b$c"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.original, OriginalID(tt.id))
			assert.Equal(t, tt.mapped, MappedID(tt.id))
		})
	}
}

func TestMatchesLine(t *testing.T) {
	tests := []struct {
		name      string
		stored    string
		requested string
		expected  bool
	}{
		{name: "exact", stored: "NSB:Line:L1", requested: "NSB:Line:L1", expected: true},
		{name: "case insensitive", stored: "nsb:line:l1", requested: "NSB:Line:L1", expected: true},
		{name: "original half", stored: "L1$NSB:Line:L1", requested: "l1", expected: true},
		{name: "mapped half", stored: "L1$NSB:Line:L1", requested: "NSB:Line:L1", expected: true},
		{name: "partial text is not a match", stored: "L10$NSB:Line:L10", requested: "L1", expected: false},
		{name: "empty stored", stored: "", requested: "L1", expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, MatchesLine(tt.stored, tt.requested))
		})
	}
}

package parse

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBoards(t *testing.T) {
	testCases := []struct {
		name string
		raw  string
		want []string
	}{
		{name: "empty", raw: "", want: nil},
		{name: "whitespace only", raw: "   ", want: nil},
		{name: "single board", raw: "QBoard I", want: []string{"QBoard I"}},
		{name: "two boards", raw: "QBoard I or QBoard II", want: []string{"QBoard I", "QBoard II"}},
		{name: "mixed case separator", raw: "Montana OR Attocube", want: []string{"Montana", "Attocube"}},
		{name: "extra spaces", raw: "  A  or   B  ", want: []string{"A", "B"}},
		{name: "or inside a word is not a separator", raw: "Corbino", want: []string{"Corbino"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Boards(tc.raw))
		})
	}
}

func TestBoardMatches(t *testing.T) {
	testCases := []struct {
		name      string
		field     string
		requested string
		want      bool
	}{
		{name: "nothing requested", field: "", requested: "", want: true},
		{name: "exact match", field: "QBoard II", requested: "QBoard II", want: true},
		{name: "case insensitive", field: "QBoard II", requested: "qboard ii", want: true},
		{name: "second alternative", field: "QBoard I or QBoard II", requested: "QBoard II", want: true},
		{name: "substring matches longer name", field: "QBoard II", requested: "QBoard I", want: true},
		{name: "no board on machine", field: "", requested: "QBoard I", want: false},
		{name: "different board", field: "Attocube", requested: "QBoard", want: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, BoardMatches(tc.field, tc.requested))
		})
	}
}

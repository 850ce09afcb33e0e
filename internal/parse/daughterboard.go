package parse

import (
	"regexp"
	"strings"
)

var orRe = regexp.MustCompile(`(?i)\s+or\s+`)

// Boards splits a composite daughterboard field such as
// "QBoard I or QBoard II" into its individual board names.
// Empty segments are dropped; an empty field yields no boards.
func Boards(raw string) []string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}

	var boards []string
	for _, part := range orRe.Split(s, -1) {
		if p := strings.TrimSpace(part); p != "" {
			boards = append(boards, p)
		}
	}
	return boards
}

// BoardMatches reports whether any board listed in the machine's composite
// field contains the requested board name, ignoring case.
func BoardMatches(machineField, requested string) bool {
	want := strings.ToLower(strings.TrimSpace(requested))
	if want == "" {
		return true
	}
	for _, b := range Boards(machineField) {
		if strings.Contains(strings.ToLower(b), want) {
			return true
		}
	}
	return false
}

// Package sheet turns a tutor reply of the form "problem |||SPLIT||| answer" into printable practice sheets.
package sheet

import (
	"errors"
	"strings"
)

// Marker separates the problem from the answer in a practice-sheet reply
const Marker = "|||SPLIT|||"

// Section titles used by every format
const (
	ProblemTitle = "問題"
	AnswerTitle  = "解答・解説"
)

var (
	ErrNoMarker       = errors.New("reply does not contain the split marker")
	ErrTooManyMarkers = errors.New("reply contains the split marker more than once")
	ErrEmptySection   = errors.New("reply has an empty problem or answer")
)

// Sheet is a practice problem and its answer
type Sheet struct {
	Problem string
	Answer  string
}

// Parse splits text into exactly two non-empty sections. Any error means no sheet should be offered.
func Parse(text string) (Sheet, error) {
	parts := strings.Split(text, Marker)
	switch {
	case len(parts) < 2:
		return Sheet{}, ErrNoMarker
	case len(parts) > 2:
		return Sheet{}, ErrTooManyMarkers
	}

	s := Sheet{
		Problem: strings.TrimSpace(parts[0]),
		Answer:  strings.TrimSpace(parts[1]),
	}
	if s.Problem == "" || s.Answer == "" {
		return Sheet{}, ErrEmptySection
	}
	return s, nil
}

type section struct {
	Title string
	Body  string
}

func (s Sheet) sections() []section {
	return []section{
		{Title: ProblemTitle, Body: s.Problem},
		{Title: AnswerTitle, Body: s.Answer},
	}
}

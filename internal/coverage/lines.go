package coverage

import (
	"strconv"
	"strings"
	"unicode"
)

// Category is the JaCoCo marker of a source line
type Category string

const (
	FullyCovered     Category = "fc"
	PartiallyCovered Category = "pc"
	NotCovered       Category = "nc"
)

// Valid reports whether c is one of the three JaCoCo line markers
func (c Category) Valid() bool {
	return c == FullyCovered || c == PartiallyCovered || c == NotCovered
}

// Line is one marked line of a JaCoCo source report
type Line struct {
	Number   int      `json:"number"`
	Text     string   `json:"text"`
	Category Category `json:"category"`

	// Title holds the branch summary, e.g. "1 of 2 branches missed."
	Title string `json:"title,omitempty"`
}

// Branches returns the covered and total branch counts of the line.
// Lines without branch information count as a single branch.
func (l Line) Branches() (covered, total int) {
	fields := strings.Fields(l.Title)
	switch {
	case len(fields) >= 3 && fields[1] == "of":
		// "<missed> of <total> branches missed."
		missed, err1 := strconv.Atoi(fields[0])
		all, err2 := strconv.Atoi(fields[2])
		if err1 != nil || err2 != nil {
			break
		}
		return all - missed, all
	case len(fields) >= 4 && fields[0] == "All":
		// "All <total> branches missed." / "All <total> branches covered."
		all, err := strconv.Atoi(fields[1])
		if err != nil {
			break
		}
		if strings.HasPrefix(fields[3], "covered") {
			return all, all
		}
		return 0, all
	}

	if l.Category == FullyCovered {
		return 1, 1
	}
	return 0, 1
}

var structuralKeywords = map[string]bool{
	"public": true, "private": true, "protected": true, "internal": true,
	"static": true, "final": true, "abstract": true, "open": true, "override": true,
	"void": true, "else": true, "try": true, "finally": true, "do": true, "default": true,
}

var typeKeywords = map[string]bool{
	"class": true, "interface": true, "enum": true, "object": true,
}

// IsStructuralLine reports whether text consists solely of braces, parentheses,
// semicolons and modifier keywords, or is a type declaration header.
// Such lines are never challenge targets.
func IsStructuralLine(text string) bool {
	tokens := strings.FieldsFunc(text, func(r rune) bool {
		return unicode.IsSpace(r) || strings.ContainsRune("{}();", r)
	})
	for _, tok := range tokens {
		if typeKeywords[tok] {
			return true
		}
	}
	for _, tok := range tokens {
		if !structuralKeywords[tok] {
			return false
		}
	}
	return true
}

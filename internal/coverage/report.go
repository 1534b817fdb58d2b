package coverage

import (
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// SourceReport is the parsed line-level report of one class
type SourceReport struct {
	Lines []Line
}

// Count returns the number of lines marked with category
func (r *SourceReport) Count(category Category) int {
	if r == nil {
		return 0
	}
	n := 0
	for _, l := range r.Lines {
		if l.Category == category {
			n++
		}
	}
	return n
}

// Uncovered returns partially and not covered lines that are not structural,
// in document order
func (r *SourceReport) Uncovered() []Line {
	if r == nil {
		return nil
	}
	var out []Line
	for _, l := range r.Lines {
		if l.Category == FullyCovered || IsStructuralLine(l.Text) {
			continue
		}
		out = append(out, l)
	}
	return out
}

// HasUncovered reports whether any line is partially or not covered
func (r *SourceReport) HasUncovered() bool {
	return r.Count(PartiallyCovered)+r.Count(NotCovered) > 0
}

// WithText returns all marked lines whose text equals text
func (r *SourceReport) WithText(text string) []Line {
	if r == nil {
		return nil
	}
	var out []Line
	for _, l := range r.Lines {
		if l.Text == text {
			out = append(out, l)
		}
	}
	return out
}

// Method is one row of a JaCoCo class report
type Method struct {
	Name        string `json:"name"`
	Lines       int    `json:"lines"`
	MissedLines int    `json:"missed_lines"`
}

// CoveredRatio returns the fraction of covered lines
func (m Method) CoveredRatio() float64 {
	if m.Lines == 0 {
		return 0
	}
	return float64(m.Lines-m.MissedLines) / float64(m.Lines)
}

var (
	nameCell   = regexp.MustCompile(`^a\d+$`)
	missedCell = regexp.MustCompile(`^h\d+$`)
	linesCell  = regexp.MustCompile(`^i\d+$`)
)

// ParseSourceReport reads a JaCoCo "Class.ext.html" report
func ParseSourceReport(r io.Reader) (*SourceReport, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse source report: %w", err)
	}

	source := doc.Find("pre.source")
	if source.Length() == 0 {
		return nil, fmt.Errorf("%w: no source listing", ErrMalformedReport)
	}

	report := &SourceReport{}
	source.Find("span.fc, span.pc, span.nc").Each(func(_ int, s *goquery.Selection) {
		id, _ := s.Attr("id")
		number, err := strconv.Atoi(strings.TrimPrefix(id, "L"))
		if err != nil {
			return
		}

		var category Category
		switch {
		case s.HasClass("fc"):
			category = FullyCovered
		case s.HasClass("pc"):
			category = PartiallyCovered
		default:
			category = NotCovered
		}

		title, _ := s.Attr("title")
		report.Lines = append(report.Lines, Line{
			Number:   number,
			Text:     s.Text(),
			Category: category,
			Title:    title,
		})
	})

	return report, nil
}

// ParseMethodReport reads a JaCoCo "Class.html" report, one Method per table row
func ParseMethodReport(r io.Reader) ([]Method, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse method report: %w", err)
	}

	table := doc.Find("table.coverage")
	if table.Length() == 0 {
		return nil, fmt.Errorf("%w: no coverage table", ErrMalformedReport)
	}

	var methods []Method
	table.Find("tr").Each(func(_ int, row *goquery.Selection) {
		var m Method
		found := false
		row.Find("td[id]").Each(func(_ int, cell *goquery.Selection) {
			id, _ := cell.Attr("id")
			switch {
			case nameCell.MatchString(id):
				m.Name = strings.TrimSpace(cell.Text())
				found = true
			case missedCell.MatchString(id):
				m.MissedLines = parseCount(cell.Text())
			case linesCell.MatchString(id):
				m.Lines = parseCount(cell.Text())
			}
		})
		if found {
			methods = append(methods, m)
		}
	})

	return methods, nil
}

// parseCount reads a JaCoCo table number, which may carry grouping separators
func parseCount(s string) int {
	s = strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

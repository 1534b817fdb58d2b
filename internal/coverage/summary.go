package coverage

import (
	"fmt"
	"strings"

	"github.com/gocarina/gocsv"
)

// SummaryRow is one class row of jacoco.csv
type SummaryRow struct {
	Group              string `csv:"GROUP"`
	Package            string `csv:"PACKAGE"`
	Class              string `csv:"CLASS"`
	InstructionMissed  int    `csv:"INSTRUCTION_MISSED"`
	InstructionCovered int    `csv:"INSTRUCTION_COVERED"`
	BranchMissed       int    `csv:"BRANCH_MISSED"`
	BranchCovered      int    `csv:"BRANCH_COVERED"`
	LineMissed         int    `csv:"LINE_MISSED"`
	LineCovered        int    `csv:"LINE_COVERED"`
}

// Ratio returns covered instructions over all instructions
func (r SummaryRow) Ratio() float64 {
	total := r.InstructionMissed + r.InstructionCovered
	if total == 0 {
		return 0
	}
	return float64(r.InstructionCovered) / float64(total)
}

// ParseSummary decodes the content of a jacoco.csv file
func ParseSummary(data []byte) ([]SummaryRow, error) {
	var rows []SummaryRow
	if err := gocsv.UnmarshalBytes(data, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse coverage summary: %w", err)
	}
	return rows, nil
}

// MatchRow returns the first row whose class name is contained in identity.
// Classes whose simple names are suffixes of one another are not told apart.
func MatchRow(rows []SummaryRow, identity string) (SummaryRow, bool) {
	for _, row := range rows {
		if row.Class != "" && strings.Contains(identity, row.Class) {
			return row, true
		}
	}
	return SummaryRow{}, false
}

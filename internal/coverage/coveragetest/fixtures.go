// Package coveragetest writes JaCoCo-shaped report fixtures for tests.
package coveragetest

import (
	"fmt"
	"html"
	"os"
	"path"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/terra-clan/challenge-engine/internal/coverage"
)

// Default report locations, matching the engine configuration defaults
var Paths = coverage.ReportPaths{
	ResultsPath: "**/target/site/jacoco/",
	CSVPath:     "**/target/site/jacoco/jacoco.csv",
}

// Class describes the reports of one class
type Class struct {
	Module  string
	Package string
	Name    string
	Ext     string

	Lines   []coverage.Line
	Methods []coverage.Method

	// instruction counters for jacoco.csv
	Missed  int
	Covered int
}

// SourcePath returns the repository path of the class source file
func (c Class) SourcePath() string {
	ext := c.ext()
	lang := "java"
	if ext == "kt" {
		lang = "kotlin"
	}
	return path.Join(c.Module, "src", "main", lang, strings.ReplaceAll(c.Package, ".", "/"), c.Name+"."+ext)
}

func (c Class) ext() string {
	if c.Ext == "" {
		return "java"
	}
	return c.Ext
}

// Write renders the source report, method report and csv summary of every
// class into workspace. Classes of the same module share one csv.
func Write(t testing.TB, workspace string, classes ...Class) {
	t.Helper()

	csvs := map[string][]Class{}
	for _, c := range classes {
		dir := filepath.Join(workspace, c.Module, "target", "site", "jacoco", c.Package)
		require.NoError(t, os.MkdirAll(dir, 0o755))

		source := filepath.Join(dir, c.Name+"."+c.ext()+".html")
		require.NoError(t, os.WriteFile(source, []byte(SourceHTML(c.Lines)), 0o644))

		methods := filepath.Join(dir, c.Name+".html")
		require.NoError(t, os.WriteFile(methods, []byte(MethodHTML(c.Methods)), 0o644))

		csvs[c.Module] = append(csvs[c.Module], c)
	}

	for module, list := range csvs {
		file := filepath.Join(workspace, module, "target", "site", "jacoco", "jacoco.csv")
		require.NoError(t, os.WriteFile(file, []byte(SummaryCSV(list)), 0o644))
	}
}

// SourceHTML renders a JaCoCo line report
func SourceHTML(lines []coverage.Line) string {
	var b strings.Builder
	b.WriteString(`<!DOCTYPE html><html><head><title>source</title></head><body><pre class="source lang-java linenums">`)
	for _, l := range lines {
		class := string(l.Category)
		if l.Title != "" {
			class += " b" + string(l.Category)
		}
		fmt.Fprintf(&b, `<span class="%s" id="L%d"`, class, l.Number)
		if l.Title != "" {
			fmt.Fprintf(&b, ` title="%s"`, html.EscapeString(l.Title))
		}
		fmt.Fprintf(&b, ">%s</span>\n", html.EscapeString(l.Text))
	}
	b.WriteString("</pre></body></html>")
	return b.String()
}

// MethodHTML renders a JaCoCo class table
func MethodHTML(methods []coverage.Method) string {
	var b strings.Builder
	b.WriteString(`<!DOCTYPE html><html><body><table class="coverage"><thead><tr><td>Element</td><td>Missed Lines</td><td>Lines</td></tr></thead>`)
	b.WriteString(`<tfoot><tr><td>Total</td><td>0</td><td>0</td></tr></tfoot><tbody>`)
	for i, m := range methods {
		fmt.Fprintf(&b, `<tr><td id="a%d"><a href="#" class="el_method">%s</a></td><td class="ctr1" id="h%d">%d</td><td class="ctr2" id="i%d">%d</td></tr>`,
			i, html.EscapeString(m.Name), i, m.MissedLines, i, m.Lines)
	}
	b.WriteString("</tbody></table></body></html>")
	return b.String()
}

// SummaryCSV renders jacoco.csv for classes
func SummaryCSV(classes []Class) string {
	var b strings.Builder
	b.WriteString("GROUP,PACKAGE,CLASS,INSTRUCTION_MISSED,INSTRUCTION_COVERED,BRANCH_MISSED,BRANCH_COVERED,LINE_MISSED,LINE_COVERED,COMPLEXITY_MISSED,COMPLEXITY_COVERED,METHOD_MISSED,METHOD_COVERED\n")
	for _, c := range classes {
		fmt.Fprintf(&b, "app,%s,%s,%d,%d,0,0,0,0,0,0,0,0\n", c.Package, c.Name, c.Missed, c.Covered)
	}
	return b.String()
}

// WriteJUnit writes a surefire report with the given number of tests
func WriteJUnit(t testing.TB, workspace, suite string, tests int) {
	t.Helper()

	dir := filepath.Join(workspace, "target", "surefire-reports")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	content := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<testsuite name="%s" tests="%d" failures="0" errors="0" skipped="0"></testsuite>
`, suite, tests)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "TEST-"+suite+".xml"), []byte(content), 0o644))
}

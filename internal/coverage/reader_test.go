package coverage_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/terra-clan/challenge-engine/internal/coverage"
	"github.com/terra-clan/challenge-engine/internal/coverage/coveragetest"
)

func fooClass() coveragetest.Class {
	return coveragetest.Class{
		Package: "com.example",
		Name:    "Foo",
		Lines: []coverage.Line{
			{Number: 3, Text: "public class Foo {", Category: coverage.FullyCovered},
			{Number: 5, Text: "int x = compute();", Category: coverage.FullyCovered},
			{Number: 6, Text: "if (x > 2) {", Category: coverage.PartiallyCovered, Title: "1 of 2 branches missed."},
			{Number: 7, Text: "return helper(x);", Category: coverage.NotCovered},
			{Number: 8, Text: "}", Category: coverage.NotCovered},
		},
		Methods: []coverage.Method{
			{Name: "compute()", Lines: 4, MissedLines: 0},
			{Name: "helper(int)", Lines: 5, MissedLines: 3},
		},
		Missed:  60,
		Covered: 40,
	}
}

func newReader(t *testing.T) *coverage.Reader {
	r, err := coverage.NewReader(16, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	return r
}

func TestReader_SourceReport(t *testing.T) {
	ws := t.TempDir()
	coveragetest.Write(t, ws, fooClass())
	r := newReader(t)

	d := coverage.NewClassDetails(ws, fooClass().SourcePath(), coveragetest.Paths, r)
	report, err := r.SourceReport(coverage.Resolve(ws, d.SourceReport))
	require.NoError(t, err)

	assert.Equal(t, 2, report.Count(coverage.FullyCovered))
	assert.Equal(t, 1, report.Count(coverage.PartiallyCovered))
	assert.Equal(t, 2, report.Count(coverage.NotCovered))
	assert.True(t, report.HasUncovered())

	uncovered := report.Uncovered()
	require.Len(t, uncovered, 2, "structural lines are excluded")
	assert.Equal(t, 6, uncovered[0].Number)
	assert.Equal(t, 7, uncovered[1].Number)

	pc := report.WithText("if (x > 2) {")
	require.Len(t, pc, 1)
	covered, total := pc[0].Branches()
	assert.Equal(t, 1, covered)
	assert.Equal(t, 2, total)
}

func TestReader_Methods(t *testing.T) {
	ws := t.TempDir()
	coveragetest.Write(t, ws, fooClass())
	r := newReader(t)

	d := coverage.NewClassDetails(ws, fooClass().SourcePath(), coveragetest.Paths, r)
	methods, err := r.Methods(coverage.Resolve(ws, d.MethodReport))
	require.NoError(t, err)
	require.Len(t, methods, 2)
	assert.Equal(t, coverage.Method{Name: "helper(int)", Lines: 5, MissedLines: 3}, methods[1])
	assert.InDelta(t, 0.4, methods[1].CoveredRatio(), 1e-9)
}

func TestReader_MissingArtifact(t *testing.T) {
	r := newReader(t)

	_, err := r.SourceReport(filepath.Join(t.TempDir(), "nope.html"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, coverage.ErrArtifactMissing))

	assert.Zero(t, r.CoverageRatio("com.example.Foo", filepath.Join(t.TempDir(), "jacoco.csv")))
}

func TestReader_MalformedReports(t *testing.T) {
	file := filepath.Join(t.TempDir(), "Foo.html")
	require.NoError(t, os.WriteFile(file, []byte("<html><body>report generation interrupted"), 0o644))
	r := newReader(t)

	_, err := r.SourceReport(file)
	assert.ErrorIs(t, err, coverage.ErrMalformedReport)
	assert.False(t, errors.Is(err, coverage.ErrArtifactMissing))

	_, err = r.Methods(file)
	assert.ErrorIs(t, err, coverage.ErrMalformedReport)
}

func TestReader_MalformedSummaryIsZero(t *testing.T) {
	file := filepath.Join(t.TempDir(), "jacoco.csv")
	require.NoError(t, os.WriteFile(file, []byte("GROUP,PACKAGE,CLASS,INSTRUCTION_MISSED\napp,x,Foo,notanumber\n"), 0o644))

	assert.Zero(t, newReader(t).CoverageRatio("x.Foo", file))
}

func TestReader_CacheRevalidates(t *testing.T) {
	ws := t.TempDir()
	class := fooClass()
	coveragetest.Write(t, ws, class)
	r := newReader(t)

	d := coverage.NewClassDetails(ws, class.SourcePath(), coveragetest.Paths, r)
	path := coverage.Resolve(ws, d.SourceReport)

	n, err := r.CountLines(path, coverage.FullyCovered)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// cover line 7; the rewritten report differs in size so the cached copy is dropped
	class.Lines[3].Category = coverage.FullyCovered
	class.Lines = append(class.Lines, coverage.Line{Number: 9, Text: "done();", Category: coverage.FullyCovered})
	coveragetest.Write(t, ws, class)

	n, err = r.CountLines(path, coverage.FullyCovered)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestReader_SameSizeRewriteIsReparsed(t *testing.T) {
	ws := t.TempDir()
	class := fooClass()
	coveragetest.Write(t, ws, class)
	r := newReader(t)

	d := coverage.NewClassDetails(ws, class.SourcePath(), coveragetest.Paths, r)
	path := coverage.Resolve(ws, d.SourceReport)

	before, err := os.Stat(path)
	require.NoError(t, err)
	n, err := r.CountLines(path, coverage.FullyCovered)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// nc -> fc keeps the byte length; restore the old mtime as an artifact copy would
	class.Lines[3].Category = coverage.FullyCovered
	coveragetest.Write(t, ws, class)
	require.NoError(t, os.Chtimes(path, time.Now(), before.ModTime()))

	after, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, before.Size(), after.Size())

	n, err = r.CountLines(path, coverage.FullyCovered)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestNewClassDetails(t *testing.T) {
	ws := t.TempDir()
	class := fooClass()
	class.Module = "core"
	coveragetest.Write(t, ws, class)

	d := coverage.NewClassDetails(ws, class.SourcePath(), coveragetest.Paths, newReader(t))

	assert.Equal(t, "Foo", d.ClassName)
	assert.Equal(t, "java", d.Extension)
	assert.Equal(t, "com.example", d.PackageName)
	assert.Equal(t, "core/target/site/jacoco/com.example/Foo.java.html", d.SourceReport)
	assert.Equal(t, "core/target/site/jacoco/com.example/Foo.html", d.MethodReport)
	assert.Equal(t, "core/target/site/jacoco/jacoco.csv", d.SummaryCSV)
	assert.InDelta(t, 0.4, d.Coverage, 1e-9)
	assert.True(t, d.ReportsExist(ws))

	assert.Equal(t, d.ID(), coverage.NewClassDetails(ws, class.SourcePath(), coveragetest.Paths, nil).ID())
}

func TestClassDetails_Users(t *testing.T) {
	d := coverage.NewClassDetails("", "src/main/java/a/B.java", coveragetest.Paths, nil)
	d.AddUser("u1")
	d.AddUser("u2")
	d.AddUser("u1")

	assert.Equal(t, []string{"u1", "u2"}, d.Users())
	assert.True(t, d.ChangedBy("u2"))
	assert.False(t, d.ChangedBy("u3"))
}

func TestPackageName(t *testing.T) {
	cases := map[string]string{
		"src/main/java/com/example/Foo.java":       "com.example",
		"mod/src/main/kotlin/org/x/Bar.kt":         "org.x",
		"src/main/java/Root.java":                  "",
		"src/com/example/Plain.java":               "com.example",
		"service/src/test/java/com/x/FooTest.java": "com.x",
	}
	for in, want := range cases {
		assert.Equal(t, want, coverage.PackageName(in), in)
	}
}

func TestMatchRow_SuffixAmbiguity(t *testing.T) {
	rows, err := coverage.ParseSummary([]byte(coveragetest.SummaryCSV([]coveragetest.Class{
		{Package: "a", Name: "Service", Missed: 1, Covered: 1},
		{Package: "b", Name: "UserService", Missed: 0, Covered: 4},
	})))
	require.NoError(t, err)

	// the first row contained in the identity wins, even though it belongs to another class
	row, ok := coverage.MatchRow(rows, "b.UserService")
	require.True(t, ok)
	assert.Equal(t, "Service", row.Class)
}

func TestReader_ProjectCoverageAndTestCount(t *testing.T) {
	ws := t.TempDir()
	foo := fooClass()
	bar := coveragetest.Class{Module: "lib", Package: "x", Name: "Bar", Missed: 0, Covered: 100}
	coveragetest.Write(t, ws, foo, bar)
	coveragetest.WriteJUnit(t, ws, "FooTest", 7)
	coveragetest.WriteJUnit(t, ws, "BarTest", 3)

	r := newReader(t)
	assert.InDelta(t, 0.7, r.ProjectCoverage(ws, "jacoco.csv"), 1e-9)
	assert.Equal(t, 10, r.TestCount(ws))
}

func TestIsStructuralLine(t *testing.T) {
	structural := []string{"}", "{", "} else {", "public class Foo {", "(", ")", "", "private static final"}
	for _, s := range structural {
		assert.True(t, coverage.IsStructuralLine(s), s)
	}
	code := []string{"return x;", "if (a) {", "foo();", "classify(x);"}
	for _, s := range code {
		assert.False(t, coverage.IsStructuralLine(s), s)
	}
}

func TestLine_Branches(t *testing.T) {
	cases := []struct {
		line    coverage.Line
		covered int
		total   int
	}{
		{coverage.Line{Category: coverage.PartiallyCovered, Title: "1 of 4 branches missed."}, 3, 4},
		{coverage.Line{Category: coverage.NotCovered, Title: "All 2 branches missed."}, 0, 2},
		{coverage.Line{Category: coverage.FullyCovered, Title: "All 2 branches covered."}, 2, 2},
		{coverage.Line{Category: coverage.NotCovered}, 0, 1},
		{coverage.Line{Category: coverage.FullyCovered}, 1, 1},
	}
	for _, c := range cases {
		covered, total := c.line.Branches()
		assert.Equal(t, c.covered, covered, c.line.Title)
		assert.Equal(t, c.total, total, c.line.Title)
	}
}

func TestParseMethodReport_SkipsRowsWithoutName(t *testing.T) {
	methods, err := coverage.ParseMethodReport(strings.NewReader(coveragetest.MethodHTML(nil)))
	require.NoError(t, err)
	assert.Empty(t, methods)
}

package coverage

import (
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var classNamespace = uuid.MustParse("9d4c6b52-17f0-4f0e-8d8e-2b1c3f6a7e90")

var (
	sourceSets    = map[string]bool{"main": true, "test": true}
	languageRoots = map[string]bool{"java": true, "kotlin": true}
)

// ClassDetails identifies a changed source class together with its report
// locations and coverage at scan time. Report paths are workspace relative.
type ClassDetails struct {
	ClassName   string `json:"class_name"`
	Extension   string `json:"extension"`
	PackageName string `json:"package_name"`
	Path        string `json:"path"`

	SourceReport string `json:"source_report"`
	MethodReport string `json:"method_report"`
	SummaryCSV   string `json:"summary_csv"`

	Coverage float64 `json:"coverage"`

	changedBy []string
}

// ReportPaths describes where JaCoCo writes its output inside a module
type ReportPaths struct {
	// ResultsPath is the HTML report directory, e.g. "**/target/site/jacoco/"
	ResultsPath string
	// CSVPath is the summary file, e.g. "**/target/site/jacoco/jacoco.csv"
	CSVPath string
}

// NewClassDetails derives the class identity of the repository path
// sourcePath and reads its current coverage from the workspace.
func NewClassDetails(workspace, sourcePath string, paths ReportPaths, reader *Reader) *ClassDetails {
	sourcePath = filepath.ToSlash(sourcePath)
	segments := strings.Split(sourcePath, "/")
	file := segments[len(segments)-1]

	className, ext := file, ""
	if i := strings.Index(file, "."); i >= 0 {
		className, ext = file[:i], file[i+1:]
	}

	module := modulePrefix(segments)
	pkg := PackageName(sourcePath)
	reportDir := path.Join(module, trimGlob(paths.ResultsPath), pkg)

	d := &ClassDetails{
		ClassName:    className,
		Extension:    ext,
		PackageName:  pkg,
		Path:         sourcePath,
		SourceReport: path.Join(reportDir, className+"."+ext+".html"),
		MethodReport: path.Join(reportDir, className+".html"),
		SummaryCSV:   path.Join(module, trimGlob(paths.CSVPath)),
	}
	if reader != nil {
		d.Coverage = reader.CoverageRatio(d.QualifiedName(), Resolve(workspace, d.SummaryCSV))
	}
	return d
}

// PackageName computes the dotted package of a source path from the
// directories below src/<set>/<language>
func PackageName(sourcePath string) string {
	segments := strings.Split(filepath.ToSlash(sourcePath), "/")
	dirs := segments[:len(segments)-1]

	start := 0
	for i, s := range dirs {
		if s == "src" {
			start = i + 1
		}
	}
	if start > 0 && start < len(dirs) && sourceSets[dirs[start]] {
		start++
	}
	if start < len(dirs) && languageRoots[dirs[start]] {
		start++
	}

	var parts []string
	for _, s := range dirs[start:] {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ".")
}

func modulePrefix(segments []string) string {
	for i, s := range segments {
		if s == "src" {
			return path.Join(segments[:i]...)
		}
	}
	return ""
}

func trimGlob(p string) string {
	p = strings.TrimPrefix(p, "**/")
	p = strings.TrimPrefix(p, "**")
	return strings.Trim(p, "/")
}

// Resolve joins a workspace-relative artifact path onto workspace
func Resolve(workspace, rel string) string {
	return filepath.Join(workspace, filepath.FromSlash(rel))
}

// QualifiedName returns package.Class
func (d *ClassDetails) QualifiedName() string {
	if d.PackageName == "" {
		return d.ClassName
	}
	return d.PackageName + "." + d.ClassName
}

// ID returns an identifier derived from the qualified class name
func (d *ClassDetails) ID() string {
	return uuid.NewSHA1(classNamespace, []byte(d.QualifiedName())).String()
}

// AddUser records that userID changed the class
func (d *ClassDetails) AddUser(userID string) {
	for _, id := range d.changedBy {
		if id == userID {
			return
		}
	}
	d.changedBy = append(d.changedBy, userID)
}

// ChangedBy reports whether userID changed the class
func (d *ClassDetails) ChangedBy(userID string) bool {
	for _, id := range d.changedBy {
		if id == userID {
			return true
		}
	}
	return false
}

// Users returns the ids of the users that changed the class
func (d *ClassDetails) Users() []string {
	return append([]string(nil), d.changedBy...)
}

// ReportsExist reports whether all three JaCoCo artifacts are present
func (d *ClassDetails) ReportsExist(workspace string) bool {
	for _, rel := range []string{d.SourceReport, d.MethodReport, d.SummaryCSV} {
		if _, err := os.Stat(Resolve(workspace, rel)); err != nil {
			return false
		}
	}
	return true
}

// Package coverage reads JaCoCo reports: line-level source reports, method
// tables and the CSV class summary.
package coverage

import (
	"bytes"
	"crypto/sha256"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// ErrArtifactMissing is returned when a report file does not exist
var ErrArtifactMissing = errors.New("coverage artifact missing")

// ErrMalformedReport is returned when a report lacks the JaCoCo structure
var ErrMalformedReport = errors.New("malformed coverage report")

// DefaultCacheSize is used when NewReader is given a non-positive size
const DefaultCacheSize = 512

var junitReport = regexp.MustCompile(`^TEST-.+\.xml$`)

type entry[T any] struct {
	digest [sha256.Size]byte
	value  T
}

// Reader parses JaCoCo artifacts. Every call reads the file again; only the
// parse is skipped when the bytes hash to the cached digest.
type Reader struct {
	logger  *zap.SugaredLogger
	sources *lru.Cache[string, entry[*SourceReport]]
	methods *lru.Cache[string, entry[[]Method]]
	rows    *lru.Cache[string, entry[[]SummaryRow]]
}

// NewReader creates a reader with an LRU of cacheSize entries per artifact type
func NewReader(cacheSize int, logger *zap.SugaredLogger) (*Reader, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	sources, err := lru.New[string, entry[*SourceReport]](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create source cache: %w", err)
	}
	methods, err := lru.New[string, entry[[]Method]](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create method cache: %w", err)
	}
	rows, err := lru.New[string, entry[[]SummaryRow]](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create summary cache: %w", err)
	}

	return &Reader{
		logger:  logger,
		sources: sources,
		methods: methods,
		rows:    rows,
	}, nil
}

// SourceReport returns the parsed line report at path
func (r *Reader) SourceReport(path string) (*SourceReport, error) {
	return load(r.sources, path, func(data []byte) (*SourceReport, error) {
		return ParseSourceReport(bytes.NewReader(data))
	})
}

// Methods returns the method rows of the class report at path
func (r *Reader) Methods(path string) ([]Method, error) {
	return load(r.methods, path, func(data []byte) ([]Method, error) {
		return ParseMethodReport(bytes.NewReader(data))
	})
}

// Summary returns the rows of the jacoco.csv at path
func (r *Reader) Summary(path string) ([]SummaryRow, error) {
	return load(r.rows, path, ParseSummary)
}

// CoverageRatio returns the instruction coverage of identity from the CSV at
// csvPath. Missing or malformed files and unmatched classes yield zero.
func (r *Reader) CoverageRatio(identity, csvPath string) float64 {
	rows, err := r.Summary(csvPath)
	if err != nil {
		r.logger.Debugw("coverage summary unavailable", "path", csvPath, "error", err)
		return 0
	}
	row, ok := MatchRow(rows, identity)
	if !ok {
		return 0
	}
	return row.Ratio()
}

// CountLines returns the number of lines of category in the source report at path
func (r *Reader) CountLines(path string, category Category) (int, error) {
	report, err := r.SourceReport(path)
	if err != nil {
		return 0, err
	}
	return report.Count(category), nil
}

// ProjectCoverage aggregates instruction coverage over every file named
// csvName below workspace
func (r *Reader) ProjectCoverage(workspace, csvName string) float64 {
	var missed, covered int
	err := walkFiles(workspace, func(path string, d fs.DirEntry) {
		if d.Name() != csvName {
			return
		}
		rows, err := r.Summary(path)
		if err != nil {
			r.logger.Warnw("skipping coverage summary", "path", path, "error", err)
			return
		}
		for _, row := range rows {
			missed += row.InstructionMissed
			covered += row.InstructionCovered
		}
	})
	if err != nil {
		r.logger.Warnw("failed to scan workspace for coverage", "workspace", workspace, "error", err)
	}
	if missed+covered == 0 {
		return 0
	}
	return float64(covered) / float64(missed+covered)
}

// TestCount sums the tests attribute of every JUnit TEST-*.xml report below workspace
func (r *Reader) TestCount(workspace string) int {
	total := 0
	err := walkFiles(workspace, func(path string, d fs.DirEntry) {
		if !junitReport.MatchString(d.Name()) {
			return
		}
		n, err := suiteTests(path)
		if err != nil {
			r.logger.Warnw("skipping junit report", "path", path, "error", err)
			return
		}
		total += n
	})
	if err != nil {
		r.logger.Warnw("failed to scan workspace for tests", "workspace", workspace, "error", err)
	}
	return total
}

func load[T any](cache *lru.Cache[string, entry[T]], path string, parse func([]byte) (T, error)) (T, error) {
	var zero T

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return zero, fmt.Errorf("%w: %s", ErrArtifactMissing, path)
		}
		return zero, fmt.Errorf("failed to read %s: %w", path, err)
	}
	digest := sha256.Sum256(data)

	if cached, ok := cache.Get(path); ok && cached.digest == digest {
		return cached.value, nil
	}

	value, err := parse(data)
	if err != nil {
		return zero, err
	}
	cache.Add(path, entry[T]{digest: digest, value: value})
	return value, nil
}

func walkFiles(root string, visit func(path string, d fs.DirEntry)) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		visit(path, d)
		return nil
	})
}

// suiteTests returns the tests attribute of the first testsuite element
func suiteTests(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	dec := xml.NewDecoder(f)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return 0, nil
		}
		if err != nil {
			return 0, fmt.Errorf("failed to parse junit report: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "testsuite" {
			continue
		}
		for _, attr := range start.Attr {
			if attr.Name.Local == "tests" {
				return strconv.Atoi(attr.Value)
			}
		}
		return 0, nil
	}
}

package scorer

import (
	_ "embed"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Benchmark is one reference entry of historical accuracy for an
// industry+function pair, with keywords that commonly trip up requirements
// in that domain.
type Benchmark struct {
	Industry        string   `yaml:"industry" json:"industry"`
	Function        string   `yaml:"function" json:"function"`
	AverageAccuracy float64  `yaml:"average_accuracy" json:"average_accuracy"`
	CautionKeywords []string `yaml:"caution_keywords" json:"caution_keywords"`
}

// BenchmarkTable indexes benchmarks by industry/function.
type BenchmarkTable struct {
	entries map[string]*Benchmark
}

//go:embed benchmarks.yaml
var defaultBenchmarks []byte

// DefaultTable loads the embedded benchmark table.
func DefaultTable() (*BenchmarkTable, error) {
	return parseTable(defaultBenchmarks)
}

// LoadTable reads a benchmark table from a YAML file, falling back to the
// embedded defaults when path is empty.
func LoadTable(path string) (*BenchmarkTable, error) {
	if path == "" {
		return DefaultTable()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "scorer: read benchmarks %s", path)
	}
	return parseTable(raw)
}

func parseTable(raw []byte) (*BenchmarkTable, error) {
	var doc struct {
		Benchmarks []Benchmark `yaml:"benchmarks"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, eris.Wrap(err, "scorer: parse benchmarks")
	}

	t := &BenchmarkTable{entries: make(map[string]*Benchmark, len(doc.Benchmarks))}
	for i := range doc.Benchmarks {
		b := &doc.Benchmarks[i]
		t.entries[tableKey(b.Industry, b.Function)] = b
	}
	return t, nil
}

// Lookup returns the benchmark for an industry+function pair, or nil when no
// entry matches.
func (t *BenchmarkTable) Lookup(industry, function string) *Benchmark {
	if t == nil {
		return nil
	}
	return t.entries[tableKey(industry, function)]
}

// Len reports the number of entries loaded.
func (t *BenchmarkTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}

func tableKey(industry, function string) string {
	return strings.ToLower(strings.TrimSpace(industry)) + "/" + strings.ToLower(strings.TrimSpace(function))
}

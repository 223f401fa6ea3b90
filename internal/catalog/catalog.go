// Package catalog loads the read-only quiz bank and course catalogue.
//
// Content is authored as YAML, checked against a JSON Schema, and then
// decoded into domain types. The default content is embedded in the binary;
// a directory with the same two files can replace it.
package catalog

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"math/rand/v2"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ashureev/fincoach/internal/domain"
)

const (
	quizzesFile = "quizzes.yaml"
	coursesFile = "courses.yaml"
)

//go:embed content/*.yaml
var embedded embed.FS

// Catalog bundles the quiz bank and course catalogue.
type Catalog struct {
	Quizzes *QuizBank
	Courses *Courses
}

type loadOptions struct {
	diagnosticThreshold int
	courseThreshold     int
	rand                rand.Source
}

// Option configures Load.
type Option func(*loadOptions)

// WithDefaultThresholds sets the pass thresholds used when the content does
// not declare its own.
func WithDefaultThresholds(diagnostic, course int) Option {
	return func(o *loadOptions) {
		o.diagnosticThreshold = diagnostic
		o.courseThreshold = course
	}
}

// WithRand sets the random source of the quiz bank.
func WithRand(src rand.Source) Option {
	return func(o *loadOptions) { o.rand = src }
}

type quizzesDocument struct {
	Diagnostic struct {
		ID                    string                `json:"id"`
		PassingScoreThreshold *int                  `json:"passingScoreThreshold"`
		Questions             []domain.QuizQuestion `json:"questions"`
	} `json:"diagnostic"`
	Micro []domain.QuizQuestion `json:"micro"`
}

type coursesDocument struct {
	Courses []domain.Course `json:"courses"`
}

// LoadEmbedded loads the catalogue compiled into the binary.
func LoadEmbedded(opts ...Option) (*Catalog, error) {
	sub, err := fs.Sub(embedded, "content")
	if err != nil {
		return nil, err
	}
	return Load(sub, opts...)
}

// LoadDir loads quizzes.yaml and courses.yaml from dir.
func LoadDir(dir string, opts ...Option) (*Catalog, error) {
	return Load(os.DirFS(dir), opts...)
}

// Load reads and validates the catalogue from fsys.
func Load(fsys fs.FS, opts ...Option) (*Catalog, error) {
	o := loadOptions{
		diagnosticThreshold: DefaultDiagnosticPassThreshold,
		courseThreshold:     domain.DefaultCoursePassThreshold,
	}
	for _, opt := range opts {
		opt(&o)
	}

	var quizzes quizzesDocument
	if err := decodeFile(fsys, quizzesFile, &quizzes); err != nil {
		return nil, err
	}
	var courses coursesDocument
	if err := decodeFile(fsys, coursesFile, &courses); err != nil {
		return nil, err
	}

	test := domain.DiagnosticTest{
		ID:                    quizzes.Diagnostic.ID,
		Questions:             quizzes.Diagnostic.Questions,
		PassingScoreThreshold: o.diagnosticThreshold,
	}
	if quizzes.Diagnostic.PassingScoreThreshold != nil {
		test.PassingScoreThreshold = *quizzes.Diagnostic.PassingScoreThreshold
	}

	var bankOpts []BankOption
	if o.rand != nil {
		bankOpts = append(bankOpts, WithRandSource(o.rand))
	}
	bank, err := NewQuizBank(test, quizzes.Micro, bankOpts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", quizzesFile, err)
	}
	catalogue, err := NewCourses(courses.Courses, o.courseThreshold)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", coursesFile, err)
	}
	return &Catalog{Quizzes: bank, Courses: catalogue}, nil
}

// decodeFile parses a YAML file, validates it against the schema for name
// and decodes it into out.
func decodeFile(fsys fs.FS, name string, out any) error {
	raw, err := fs.ReadFile(fsys, name)
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}

	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}

	// Round-trip through JSON so the schema validator and the typed decoder
	// both see plain JSON values.
	js, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("convert %s: %w", name, err)
	}
	var parsed any
	if err := json.Unmarshal(js, &parsed); err != nil {
		return fmt.Errorf("convert %s: %w", name, err)
	}
	if err := validateDocument(name, parsed); err != nil {
		return err
	}
	if err := json.Unmarshal(js, out); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

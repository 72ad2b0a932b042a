package tool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	contractx "github.com/tanpawarit/chative-tutor/agent/contract"
	"gopkg.in/yaml.v3"
)

const ToolLookupGrade = "lookup_grade"

var ErrStudentNotFound = errors.New("student not found")

type Grade struct {
	StudentID string    `json:"student_id" yaml:"student_id"`
	Course    string    `json:"course" yaml:"course"`
	Score     float64   `json:"score" yaml:"score"`
	Letter    string    `json:"letter" yaml:"letter,omitempty"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at,omitempty"`
}

// GradeBook is the read side of a student's grade records.
type GradeBook interface {
	Grades(ctx context.Context, studentID string, course string) ([]Grade, error)
}

type LookupGradeOutput struct {
	StudentID string  `json:"student_id"`
	Grades    []Grade `json:"grades"`
	Average   float64 `json:"average"`
}

func LookupGradeDefinition(book GradeBook) Definition {
	return Definition{
		Name:        ToolLookupGrade,
		Description: "Look up a student's recorded grades, optionally filtered by course.",
		Params: map[string]contractx.ParamSpec{
			"student_id": {Type: contractx.ParamString, Description: "Student identifier", Required: true},
			"course":     {Type: contractx.ParamString, Description: "Course code or name"},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			studentID, _ := args["student_id"].(string)
			course, _ := args["course"].(string)
			studentID = strings.TrimSpace(studentID)
			if studentID == "" {
				return nil, fmt.Errorf("%w: student_id is empty", contractx.ErrArgumentValidation)
			}

			grades, err := book.Grades(ctx, studentID, strings.TrimSpace(course))
			if err != nil {
				return nil, err
			}
			out := LookupGradeOutput{StudentID: studentID, Grades: grades}
			if len(grades) > 0 {
				var sum float64
				for _, g := range grades {
					sum += g.Score
				}
				out.Average = sum / float64(len(grades))
			}
			return out, nil
		},
	}
}

// MemoryGradeBook is an in-process GradeBook for local runs and tests.
type MemoryGradeBook struct {
	mu     sync.RWMutex
	grades map[string][]Grade
}

var _ GradeBook = (*MemoryGradeBook)(nil)

func NewMemoryGradeBook(grades ...Grade) *MemoryGradeBook {
	b := &MemoryGradeBook{grades: make(map[string][]Grade)}
	for _, g := range grades {
		b.Put(g)
	}
	return b
}

// Put stores g, replacing an earlier grade for the same student and course.
func (b *MemoryGradeBook) Put(g Grade) {
	if g.Letter == "" {
		g.Letter = LetterFor(g.Score)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, existing := range b.grades[g.StudentID] {
		if strings.EqualFold(existing.Course, g.Course) {
			b.grades[g.StudentID][i] = g
			return
		}
	}
	b.grades[g.StudentID] = append(b.grades[g.StudentID], g)
}

func (b *MemoryGradeBook) Grades(_ context.Context, studentID string, course string) ([]Grade, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	all, ok := b.grades[studentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStudentNotFound, studentID)
	}
	out := make([]Grade, 0, len(all))
	for _, g := range all {
		if course != "" && !strings.EqualFold(g.Course, course) {
			continue
		}
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Course < out[j].Course })
	return out, nil
}

// LetterFor maps a 0-100 score to a letter grade.
func LetterFor(score float64) string {
	switch {
	case score >= 90:
		return "A"
	case score >= 80:
		return "B"
	case score >= 70:
		return "C"
	case score >= 60:
		return "D"
	default:
		return "F"
	}
}

type gradeFile struct {
	Grades []Grade `yaml:"grades"`
}

// DecodeGrades reads a YAML document of the form
//
//	grades:
//	  - student_id: "42"
//	    course: algebra
//	    score: 91
func DecodeGrades(r io.Reader) ([]Grade, error) {
	var f gradeFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("decode grades: %w", err)
	}
	for i, g := range f.Grades {
		if strings.TrimSpace(g.StudentID) == "" || strings.TrimSpace(g.Course) == "" {
			return nil, fmt.Errorf("%w: grade %d needs student_id and course", contractx.ErrValidation, i)
		}
		if g.Score < 0 || g.Score > 100 {
			return nil, fmt.Errorf("%w: grade %d score %v outside 0-100", contractx.ErrValidation, i, g.Score)
		}
	}
	return f.Grades, nil
}

// LoadGradeBook builds a MemoryGradeBook from a YAML grade file.
func LoadGradeBook(path string) (*MemoryGradeBook, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	grades, err := DecodeGrades(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return NewMemoryGradeBook(grades...), nil
}

package tool

import (
	"context"
	"errors"
	"strings"
	"testing"

	contractx "github.com/tanpawarit/chative-tutor/agent/contract"
)

func TestLookupGradeTool(t *testing.T) {
	t.Parallel()

	book := NewMemoryGradeBook(
		Grade{StudentID: "42", Course: "algebra", Score: 91},
		Grade{StudentID: "42", Course: "biology", Score: 79},
	)
	ex := newTestExecutor(t, LookupGradeDefinition(book))

	res := ex.Execute(context.Background(), contractx.ToolCallIntent{
		Tool: ToolLookupGrade,
		Args: map[string]any{"student_id": "42"},
	})
	if !res.Success {
		t.Fatalf("expected success, got %s", res.Error)
	}
	out := res.Output.(LookupGradeOutput)
	if len(out.Grades) != 2 || out.Average != 85 {
		t.Fatalf("unexpected output: %#v", out)
	}
	if out.Grades[0].Letter != "A" || out.Grades[1].Letter != "C" {
		t.Fatalf("unexpected letters: %#v", out.Grades)
	}

	res = ex.Execute(context.Background(), contractx.ToolCallIntent{
		Tool: ToolLookupGrade,
		Args: map[string]any{"student_id": "42", "course": "ALGEBRA"},
	})
	if got := res.Output.(LookupGradeOutput); len(got.Grades) != 1 {
		t.Fatalf("expected course filter to apply, got %#v", got)
	}
}

func TestLookupGradeUnknownStudent(t *testing.T) {
	t.Parallel()

	_, err := NewMemoryGradeBook().Grades(context.Background(), "7", "")
	if !errors.Is(err, ErrStudentNotFound) {
		t.Fatalf("expected ErrStudentNotFound, got %v", err)
	}
}

func TestDecodeGrades(t *testing.T) {
	t.Parallel()

	grades, err := DecodeGrades(strings.NewReader(`
grades:
  - student_id: "42"
    course: algebra
    score: 91
  - student_id: "42"
    course: biology
    score: 64.5
`))
	if err != nil {
		t.Fatalf("DecodeGrades() error = %v", err)
	}
	if len(grades) != 2 || grades[1].Score != 64.5 {
		t.Fatalf("unexpected grades: %#v", grades)
	}

	book := NewMemoryGradeBook(grades...)
	got, err := book.Grades(context.Background(), "42", "Biology")
	if err != nil {
		t.Fatalf("Grades() error = %v", err)
	}
	if len(got) != 1 || got[0].Letter != "D" {
		t.Fatalf("unexpected biology grade: %#v", got)
	}

	if _, err := DecodeGrades(strings.NewReader("grades:\n  - course: x\n    score: 1\n")); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if _, err := DecodeGrades(strings.NewReader("grades:\n  - student_id: a\n    course: x\n    grade: 1\n")); err == nil {
		t.Fatal("expected unknown field error")
	}
}

func TestMemoryGradeBookReplacesSameCourse(t *testing.T) {
	t.Parallel()

	book := NewMemoryGradeBook(
		Grade{StudentID: "42", Course: "algebra", Score: 50},
		Grade{StudentID: "42", Course: "biology", Score: 80},
		Grade{StudentID: "42", Course: "Algebra", Score: 90},
	)
	ex := newTestExecutor(t, LookupGradeDefinition(book))

	res := ex.Execute(context.Background(), contractx.ToolCallIntent{
		Tool: ToolLookupGrade,
		Args: map[string]any{"student_id": "42"},
	})
	out := res.Output.(LookupGradeOutput)
	if len(out.Grades) != 2 || out.Average != 85 {
		t.Fatalf("expected replaced algebra grade, got %#v", out)
	}
	if out.Grades[0].Score != 90 || out.Grades[0].Letter != "A" {
		t.Fatalf("unexpected algebra grade: %#v", out.Grades[0])
	}
}

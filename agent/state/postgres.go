package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/chative-tutor/agent/contract"
	toolx "github.com/tanpawarit/chative-tutor/agent/tool"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

type PostgresConfig struct {
	DSN     string        `envconfig:"DSN" split_words:"true"`
	Timeout time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"5s"`
}

func (c PostgresConfig) Enabled() bool {
	return strings.TrimSpace(c.DSN) != ""
}

// OpenPostgres returns a bun handle. No connection is made until first use.
func OpenPostgres(cfg PostgresConfig) (*bun.DB, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	opts := []pgdriver.Option{pgdriver.WithDSN(dsn)}
	if cfg.Timeout > 0 {
		opts = append(opts, pgdriver.WithTimeout(cfg.Timeout))
	}
	sqldb := sql.OpenDB(pgdriver.NewConnector(opts...))
	return bun.NewDB(sqldb, pgdialect.New()), nil
}

// InitSchema creates the turn log and grade tables when missing.
func InitSchema(ctx context.Context, db *bun.DB) error {
	for _, model := range []any{(*turnRow)(nil), (*gradeRow)(nil)} {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	return nil
}

/* ------------------------------- turn log ------------------------------- */

type turnRow struct {
	bun.BaseModel `bun:"table:tutor_turns,alias:tt"`

	ID        int64                      `bun:"id,pk,autoincrement"`
	SessionID string                     `bun:"session_id,notnull,unique:session_turn"`
	TurnID    int64                      `bun:"turn_id,notnull,unique:session_turn"`
	Content   string                     `bun:"content,notnull"`
	Answer    string                     `bun:"answer"`
	Calls     []contractx.ToolCallIntent `bun:"calls,type:jsonb"`
	Results   []contractx.ToolResult     `bun:"results,type:jsonb"`
	CreatedAt time.Time                  `bun:"created_at,notnull"`
}

// PgTurnLog is a durable, append-only record of completed turns.
type PgTurnLog struct {
	db *bun.DB
}

var _ contractx.TurnSink = (*PgTurnLog)(nil)

func NewPgTurnLog(db *bun.DB) *PgTurnLog {
	return &PgTurnLog{db: db}
}

func (l *PgTurnLog) TurnCompleted(ctx context.Context, sessionID string, turn contractx.Turn) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrInvalidSession
	}
	row := newTurnRow(sessionID, turn)
	if _, err := l.insertQuery(row).Exec(ctx); err != nil {
		return fmt.Errorf("insert turn %d: %w", turn.ID, err)
	}
	return nil
}

// Turns returns up to limit logged turns of a session, oldest first.
func (l *PgTurnLog) Turns(ctx context.Context, sessionID string, limit int) ([]contractx.Turn, error) {
	var rows []turnRow
	if err := l.selectQuery(&rows, sessionID, limit).Scan(ctx); err != nil {
		return nil, fmt.Errorf("select turns: %w", err)
	}
	out := make([]contractx.Turn, len(rows))
	for i, r := range rows {
		out[i] = contractx.Turn{
			ID:        uint64(r.TurnID),
			Role:      contractx.RoleUser,
			Content:   r.Content,
			Answer:    r.Answer,
			Calls:     r.Calls,
			Results:   r.Results,
			Timestamp: r.CreatedAt,
		}
	}
	return out, nil
}

func (l *PgTurnLog) insertQuery(row *turnRow) *bun.InsertQuery {
	return l.db.NewInsert().
		Model(row).
		On("CONFLICT (session_id, turn_id) DO NOTHING")
}

func (l *PgTurnLog) selectQuery(rows *[]turnRow, sessionID string, limit int) *bun.SelectQuery {
	q := l.db.NewSelect().
		Model(rows).
		Where("session_id = ?", sessionID).
		Order("turn_id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	return q
}

func newTurnRow(sessionID string, turn contractx.Turn) *turnRow {
	ts := turn.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return &turnRow{
		SessionID: sessionID,
		TurnID:    int64(turn.ID),
		Content:   turn.Content,
		Answer:    turn.Answer,
		Calls:     turn.Calls,
		Results:   turn.Results,
		CreatedAt: ts.UTC(),
	}
}

/* ------------------------------ grade book ------------------------------ */

type gradeRow struct {
	bun.BaseModel `bun:"table:tutor_grades,alias:tg"`

	StudentID string    `bun:"student_id,pk"`
	Course    string    `bun:"course,pk"`
	Score     float64   `bun:"score,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

// PgGradeBook reads and records grades in Postgres.
type PgGradeBook struct {
	db *bun.DB
}

var _ toolx.GradeBook = (*PgGradeBook)(nil)

func NewPgGradeBook(db *bun.DB) *PgGradeBook {
	return &PgGradeBook{db: db}
}

func (b *PgGradeBook) Grades(ctx context.Context, studentID string, course string) ([]toolx.Grade, error) {
	var rows []gradeRow
	if err := b.selectQuery(&rows, studentID, course).Scan(ctx); err != nil {
		return nil, fmt.Errorf("select grades: %w", err)
	}
	if len(rows) == 0 {
		exists, err := b.db.NewSelect().Model((*gradeRow)(nil)).Where("student_id = ?", studentID).Exists(ctx)
		if err != nil {
			return nil, fmt.Errorf("check student: %w", err)
		}
		if !exists {
			return nil, fmt.Errorf("%w: %s", toolx.ErrStudentNotFound, studentID)
		}
	}
	out := make([]toolx.Grade, len(rows))
	for i, r := range rows {
		out[i] = toolx.Grade{
			StudentID: r.StudentID,
			Course:    r.Course,
			Score:     r.Score,
			Letter:    toolx.LetterFor(r.Score),
			UpdatedAt: r.UpdatedAt,
		}
	}
	return out, nil
}

// Put inserts or replaces one grade.
func (b *PgGradeBook) Put(ctx context.Context, g toolx.Grade) error {
	if strings.TrimSpace(g.StudentID) == "" || strings.TrimSpace(g.Course) == "" {
		return fmt.Errorf("%w: grade needs student_id and course", contractx.ErrValidation)
	}
	if _, err := b.upsertQuery(g).Exec(ctx); err != nil {
		return fmt.Errorf("upsert grade: %w", err)
	}
	return nil
}

func (b *PgGradeBook) selectQuery(rows *[]gradeRow, studentID, course string) *bun.SelectQuery {
	q := b.db.NewSelect().
		Model(rows).
		Where("student_id = ?", studentID)
	if course != "" {
		q = q.Where("lower(course) = lower(?)", course)
	}
	return q.Order("course ASC")
}

func (b *PgGradeBook) upsertQuery(g toolx.Grade) *bun.InsertQuery {
	ts := g.UpdatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	row := &gradeRow{StudentID: g.StudentID, Course: g.Course, Score: g.Score, UpdatedAt: ts.UTC()}
	return b.db.NewInsert().
		Model(row).
		On("CONFLICT (student_id, course) DO UPDATE").
		Set("score = EXCLUDED.score").
		Set("updated_at = EXCLUDED.updated_at")
}

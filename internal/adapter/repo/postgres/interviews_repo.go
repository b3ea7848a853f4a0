package postgres

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/ai-interviewer/internal/domain"
)

// InterviewRepo persists recruiter interviews.
type InterviewRepo struct{ Pool PgxPool }

// NewInterviewRepo constructs an InterviewRepo with the given pool.
func NewInterviewRepo(p PgxPool) *InterviewRepo { return &InterviewRepo{Pool: p} }

const interviewColumns = `interview_id, owner_email, job_position, job_description, job_duration, job_types, question_list, created_at`

// Create inserts an interview and returns its id, generating a UUID when unset.
func (r *InterviewRepo) Create(ctx domain.Context, s domain.InterviewSpec) (string, error) {
	ctx, span := otel.Tracer("repo.interviews").Start(ctx, "interviews.Create")
	defer span.End()
	id := s.ID
	if id == "" {
		id = uuid.New().String()
	}
	questions, err := json.Marshal(s.Questions)
	if err != nil {
		return "", fmt.Errorf("op=interview.create: %w", err)
	}
	created := s.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	jobTypes := s.JobTypes
	if jobTypes == nil {
		jobTypes = []string{}
	}
	q := `INSERT INTO interviews (` + interviewColumns + `) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	if _, err := r.Pool.Exec(ctx, q, id, strings.ToLower(s.OwnerEmail), s.JobPosition, s.JobDescription, s.Duration, jobTypes, questions, created); err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("op=interview.create: %w", err)
	}
	return id, nil
}

// Get loads an interview by id. Ids that are not UUIDs are reported as not found.
func (r *InterviewRepo) Get(ctx domain.Context, id string) (domain.InterviewSpec, error) {
	ctx, span := otel.Tracer("repo.interviews").Start(ctx, "interviews.Get")
	defer span.End()
	if _, err := uuid.Parse(id); err != nil {
		return domain.InterviewSpec{}, fmt.Errorf("op=interview.get: %w", domain.ErrNotFound)
	}
	row := r.Pool.QueryRow(ctx, `SELECT `+interviewColumns+` FROM interviews WHERE interview_id=$1`, id)
	s, err := scanInterview(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.InterviewSpec{}, fmt.Errorf("op=interview.get: %w", domain.ErrNotFound)
		}
		span.RecordError(err)
		return domain.InterviewSpec{}, fmt.Errorf("op=interview.get: %w", err)
	}
	return s, nil
}

// ListByOwner returns up to limit interviews of the owner, newest first.
func (r *InterviewRepo) ListByOwner(ctx domain.Context, ownerEmail string, limit int) ([]domain.InterviewSpec, error) {
	ctx, span := otel.Tracer("repo.interviews").Start(ctx, "interviews.ListByOwner")
	defer span.End()
	rows, err := r.Pool.Query(ctx, `SELECT `+interviewColumns+` FROM interviews WHERE owner_email=$1 ORDER BY created_at DESC LIMIT $2`,
		strings.ToLower(ownerEmail), limit)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("op=interview.list: %w", err)
	}
	defer rows.Close()
	out := []domain.InterviewSpec{}
	for rows.Next() {
		s, err := scanInterview(rows)
		if err != nil {
			return nil, fmt.Errorf("op=interview.list: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=interview.list: %w", err)
	}
	return out, nil
}

func scanInterview(row pgx.Row) (domain.InterviewSpec, error) {
	var s domain.InterviewSpec
	var questions []byte
	if err := row.Scan(&s.ID, &s.OwnerEmail, &s.JobPosition, &s.JobDescription, &s.Duration, &s.JobTypes, &questions, &s.CreatedAt); err != nil {
		return domain.InterviewSpec{}, err
	}
	if len(questions) > 0 {
		if err := json.Unmarshal(questions, &s.Questions); err != nil {
			return domain.InterviewSpec{}, fmt.Errorf("decode question_list: %w", err)
		}
	}
	return s, nil
}

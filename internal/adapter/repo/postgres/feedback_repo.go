package postgres

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/ai-interviewer/internal/domain"
)

// FeedbackRepo persists one record per (interview, candidate email).
type FeedbackRepo struct{ Pool PgxPool }

// NewFeedbackRepo constructs a FeedbackRepo with the given pool.
func NewFeedbackRepo(p PgxPool) *FeedbackRepo { return &FeedbackRepo{Pool: p} }

// knownInterview rejects ids that cannot name a row of the UUID-keyed
// interviews table before they reach Postgres.
func knownInterview(op, interviewID string) error {
	if _, err := uuid.Parse(interviewID); err != nil {
		return fmt.Errorf("%s: %w: interview %q", op, domain.ErrNotFound, interviewID)
	}
	return nil
}

const feedbackColumns = `id, interview_id, user_name, user_email, conversation, ai_feedback, feedback_source, recommended, created_at, updated_at`

// UpsertTranscript writes the transcript. Stored feedback survives only when
// the transcript is unchanged, so feedback never describes another conversation.
func (r *FeedbackRepo) UpsertTranscript(ctx domain.Context, interviewID string, c domain.Candidate, t domain.Transcript) error {
	ctx, span := otel.Tracer("repo.feedback").Start(ctx, "feedback.UpsertTranscript")
	defer span.End()
	span.SetAttributes(attribute.String("interview_id", interviewID), attribute.Int("turns", len(t)))
	if err := knownInterview("op=feedback.upsert_transcript", interviewID); err != nil {
		return err
	}
	if t == nil {
		t = domain.Transcript{}
	}
	conv, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("op=feedback.upsert_transcript: %w", err)
	}
	q := `INSERT INTO interview_feedback (interview_id, user_name, user_email, conversation, created_at, updated_at)
	VALUES ($1,$2,$3,$4,$5,$5)
	ON CONFLICT (interview_id, user_email)
	DO UPDATE SET user_name=EXCLUDED.user_name, conversation=EXCLUDED.conversation, updated_at=EXCLUDED.updated_at,
		ai_feedback=CASE WHEN interview_feedback.conversation = EXCLUDED.conversation THEN interview_feedback.ai_feedback END,
		feedback_source=CASE WHEN interview_feedback.conversation = EXCLUDED.conversation THEN interview_feedback.feedback_source END,
		recommended=CASE WHEN interview_feedback.conversation = EXCLUDED.conversation THEN interview_feedback.recommended END`
	if _, err := r.Pool.Exec(ctx, q, interviewID, c.Name, normalizeEmail(c.Email), conv, time.Now().UTC()); err != nil {
		span.RecordError(err)
		return fmt.Errorf("op=feedback.upsert_transcript: %w", err)
	}
	return nil
}

// UpsertFeedback stores the normalized document and its diagnostics.
func (r *FeedbackRepo) UpsertFeedback(ctx domain.Context, interviewID string, c domain.Candidate, doc map[string]any, source domain.FeedbackSource, recommended bool) error {
	ctx, span := otel.Tracer("repo.feedback").Start(ctx, "feedback.UpsertFeedback")
	defer span.End()
	span.SetAttributes(attribute.String("interview_id", interviewID), attribute.String("source", string(source)))
	if err := knownInterview("op=feedback.upsert_feedback", interviewID); err != nil {
		return err
	}
	if doc == nil {
		return fmt.Errorf("op=feedback.upsert_feedback: %w: document is required", domain.ErrInvalidArgument)
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("op=feedback.upsert_feedback: %w", err)
	}
	q := `INSERT INTO interview_feedback (interview_id, user_name, user_email, ai_feedback, feedback_source, recommended, created_at, updated_at)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$7)
	ON CONFLICT (interview_id, user_email)
	DO UPDATE SET ai_feedback=EXCLUDED.ai_feedback, feedback_source=EXCLUDED.feedback_source, recommended=EXCLUDED.recommended, updated_at=EXCLUDED.updated_at`
	if _, err := r.Pool.Exec(ctx, q, interviewID, c.Name, normalizeEmail(c.Email), body, string(source), recommended, time.Now().UTC()); err != nil {
		span.RecordError(err)
		return fmt.Errorf("op=feedback.upsert_feedback: %w", err)
	}
	return nil
}

// Get loads the record of one candidate.
func (r *FeedbackRepo) Get(ctx domain.Context, interviewID, email string) (domain.FeedbackRecord, error) {
	ctx, span := otel.Tracer("repo.feedback").Start(ctx, "feedback.Get")
	defer span.End()
	if err := knownInterview("op=feedback.get", interviewID); err != nil {
		return domain.FeedbackRecord{}, err
	}
	row := r.Pool.QueryRow(ctx, `SELECT `+feedbackColumns+` FROM interview_feedback WHERE interview_id=$1 AND user_email=$2`,
		interviewID, normalizeEmail(email))
	return scanOne(row, "op=feedback.get")
}

// GetLatest loads the most recently updated record of an interview.
func (r *FeedbackRepo) GetLatest(ctx domain.Context, interviewID string) (domain.FeedbackRecord, error) {
	ctx, span := otel.Tracer("repo.feedback").Start(ctx, "feedback.GetLatest")
	defer span.End()
	if err := knownInterview("op=feedback.get_latest", interviewID); err != nil {
		return domain.FeedbackRecord{}, err
	}
	row := r.Pool.QueryRow(ctx, `SELECT `+feedbackColumns+` FROM interview_feedback WHERE interview_id=$1 ORDER BY updated_at DESC LIMIT 1`, interviewID)
	return scanOne(row, "op=feedback.get_latest")
}

// ListByInterview returns every candidate record of an interview, newest first.
func (r *FeedbackRepo) ListByInterview(ctx domain.Context, interviewID string) ([]domain.FeedbackRecord, error) {
	ctx, span := otel.Tracer("repo.feedback").Start(ctx, "feedback.ListByInterview")
	defer span.End()
	if err := knownInterview("op=feedback.list", interviewID); err != nil {
		return nil, err
	}
	rows, err := r.Pool.Query(ctx, `SELECT `+feedbackColumns+` FROM interview_feedback WHERE interview_id=$1 ORDER BY created_at DESC`, interviewID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("op=feedback.list: %w", err)
	}
	defer rows.Close()
	out := []domain.FeedbackRecord{}
	for rows.Next() {
		rec, err := scanFeedback(rows)
		if err != nil {
			return nil, fmt.Errorf("op=feedback.list: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=feedback.list: %w", err)
	}
	return out, nil
}

func scanOne(row pgx.Row, op string) (domain.FeedbackRecord, error) {
	rec, err := scanFeedback(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.FeedbackRecord{}, fmt.Errorf("%s: %w", op, domain.ErrNotFound)
		}
		return domain.FeedbackRecord{}, fmt.Errorf("%s: %w", op, err)
	}
	return rec, nil
}

func scanFeedback(row pgx.Row) (domain.FeedbackRecord, error) {
	var rec domain.FeedbackRecord
	var conv, fb []byte
	var source *string
	if err := row.Scan(&rec.ID, &rec.InterviewID, &rec.Candidate.Name, &rec.Candidate.Email, &conv, &fb, &source, &rec.Recommended, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return domain.FeedbackRecord{}, err
	}
	if len(conv) > 0 {
		if err := json.Unmarshal(conv, &rec.Transcript); err != nil {
			return domain.FeedbackRecord{}, fmt.Errorf("decode conversation: %w", err)
		}
	}
	if len(fb) > 0 {
		dec := json.NewDecoder(bytes.NewReader(fb))
		dec.UseNumber()
		if err := dec.Decode(&rec.AIFeedback); err != nil {
			return domain.FeedbackRecord{}, fmt.Errorf("decode ai_feedback: %w", err)
		}
	}
	if source != nil {
		rec.Source = domain.FeedbackSource(*source)
	}
	return rec, nil
}

func normalizeEmail(e string) string { return strings.ToLower(strings.TrimSpace(e)) }

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/repo"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/transcript"
	apperrors "github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/errors"
)

type SegmentStore struct {
	db *sql.DB
}

const segmentColumns = `transcript_id, segment_id, user_id, created_at, stream_url, start_offset, end_offset, text, embedding`

func scanSegment(row interface{ Scan(...any) error }) (transcript.Segment, error) {
	var s transcript.Segment
	err := row.Scan(&s.TranscriptID, &s.SegmentID, &s.User, &s.CreatedAt, &s.StreamURL,
		&s.Start, &s.End, &s.Text, &s.Embedding)
	s.CreatedAt = s.CreatedAt.UTC()
	return s, err
}

func (s *SegmentStore) query(ctx context.Context, query string, args ...any) ([]transcript.Segment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	segs := []transcript.Segment{}
	for rows.Next() {
		seg, err := scanSegment(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning segment: %w", err)
		}
		segs = append(segs, seg)
	}
	return segs, rows.Err()
}

func (s *SegmentStore) GetByTranscript(ctx context.Context, transcriptID string) ([]transcript.Segment, error) {
	segs, err := s.query(ctx,
		`SELECT `+segmentColumns+` FROM segments WHERE transcript_id = $1 ORDER BY segment_id`, transcriptID)
	if err != nil {
		return nil, fmt.Errorf("querying transcript %s: %w", transcriptID, err)
	}
	return segs, nil
}

func (s *SegmentStore) GetByUser(ctx context.Context, user string, r repo.TimeRange) ([]transcript.Segment, error) {
	clause, args := rangeClause(r, []any{user})
	segs, err := s.query(ctx,
		`SELECT `+segmentColumns+` FROM segments WHERE user_id = $1`+clause+
			` ORDER BY created_at, segment_id, transcript_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying segments for %s: %w", user, err)
	}
	return segs, nil
}

func (s *SegmentStore) Upsert(ctx context.Context, seg *transcript.Segment, failIfExists bool) (*transcript.Segment, error) {
	out := *seg
	repo.PrepareSegment(&out)
	query := `INSERT INTO segments (` + segmentColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	if failIfExists {
		query += ` ON CONFLICT (transcript_id, segment_id) DO NOTHING RETURNING segment_id`
	} else {
		query += ` ON CONFLICT (transcript_id, segment_id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			created_at = EXCLUDED.created_at,
			stream_url = EXCLUDED.stream_url,
			start_offset = EXCLUDED.start_offset,
			end_offset = EXCLUDED.end_offset,
			text = EXCLUDED.text,
			embedding = EXCLUDED.embedding
		RETURNING segment_id`
	}
	var id int
	err := s.db.QueryRowContext(ctx, query,
		out.TranscriptID, out.SegmentID, out.User, out.CreatedAt, out.StreamURL,
		out.Start, out.End, out.Text, out.Embedding,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("segment %s/%d: %w", out.TranscriptID, out.SegmentID, apperrors.ErrConflict)
	}
	if err != nil {
		return nil, fmt.Errorf("upserting segment %s/%d: %w", out.TranscriptID, out.SegmentID, err)
	}
	return &out, nil
}

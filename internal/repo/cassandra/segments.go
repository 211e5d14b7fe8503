package cassandra

import (
	"context"
	"errors"
	"fmt"

	"github.com/gocql/gocql"
	"github.com/shopspring/decimal"

	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/repo"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/transcript"
	apperrors "github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/errors"
)

type SegmentStore struct {
	session *gocql.Session
}

const segmentColumns = `transcript_id, segment_id, user_id, created_at, stream_url, start_offset, end_offset, text, embedding`

func (s *SegmentStore) scanAll(iter *gocql.Iter) ([]transcript.Segment, error) {
	segs := []transcript.Segment{}
	var (
		seg        transcript.Segment
		created    int64
		start, end string
	)
	for iter.Scan(&seg.TranscriptID, &seg.SegmentID, &seg.User, &created, &seg.StreamURL,
		&start, &end, &seg.Text, &seg.Embedding) {
		seg.CreatedAt = fromMicros(created)
		var err error
		if seg.Start, err = decimal.NewFromString(start); err != nil {
			iter.Close()
			return nil, fmt.Errorf("segment %s/%d start: %w", seg.TranscriptID, seg.SegmentID, err)
		}
		if seg.End, err = decimal.NewFromString(end); err != nil {
			iter.Close()
			return nil, fmt.Errorf("segment %s/%d end: %w", seg.TranscriptID, seg.SegmentID, err)
		}
		segs = append(segs, seg)
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	return segs, nil
}

func (s *SegmentStore) GetByTranscript(ctx context.Context, transcriptID string) ([]transcript.Segment, error) {
	iter := s.session.Query(`SELECT `+segmentColumns+` FROM segments WHERE transcript_id = ?`, transcriptID).
		WithContext(ctx).Iter()
	segs, err := s.scanAll(iter)
	if err != nil {
		return nil, fmt.Errorf("querying transcript %s: %w", transcriptID, err)
	}
	return segs, nil
}

func (s *SegmentStore) GetByUser(ctx context.Context, user string, r repo.TimeRange) ([]transcript.Segment, error) {
	stmt, args := rangeQuery(`SELECT `+segmentColumns+` FROM segments_by_user`, user, r)
	segs, err := s.scanAll(s.session.Query(stmt, args...).WithContext(ctx).Iter())
	if err != nil {
		return nil, fmt.Errorf("querying segments for %s: %w", user, err)
	}
	return segs, nil
}

const insertSegmentByUser = `INSERT INTO segments_by_user (` + segmentColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (s *SegmentStore) Upsert(ctx context.Context, seg *transcript.Segment, failIfExists bool) (*transcript.Segment, error) {
	out := *seg
	repo.PrepareSegment(&out)
	created := micros(out.CreatedAt)
	rowArgs := []any{
		out.TranscriptID, out.SegmentID, out.User, created, out.StreamURL,
		out.Start.String(), out.End.String(), out.Text, out.Embedding,
	}

	if failIfExists {
		applied, err := s.session.Query(
			`INSERT INTO segments (`+segmentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) IF NOT EXISTS`, rowArgs...,
		).WithContext(ctx).MapScanCAS(map[string]any{})
		if err != nil {
			return nil, fmt.Errorf("inserting segment %s/%d: %w", out.TranscriptID, out.SegmentID, err)
		}
		if !applied {
			return nil, fmt.Errorf("segment %s/%d: %w", out.TranscriptID, out.SegmentID, apperrors.ErrConflict)
		}
		if err := s.session.Query(insertSegmentByUser, rowArgs...).WithContext(ctx).Exec(); err != nil {
			return nil, fmt.Errorf("indexing segment %s/%d: %w", out.TranscriptID, out.SegmentID, err)
		}
		return &out, nil
	}

	var (
		prevUser    string
		prevCreated int64
	)
	err := s.session.Query(`SELECT user_id, created_at FROM segments WHERE transcript_id = ? AND segment_id = ?`,
		out.TranscriptID, out.SegmentID).WithContext(ctx).Scan(&prevUser, &prevCreated)
	exists := err == nil
	if err != nil && !errors.Is(err, gocql.ErrNotFound) {
		return nil, fmt.Errorf("reading segment %s/%d: %w", out.TranscriptID, out.SegmentID, err)
	}

	stmts := []string{
		`UPDATE segments SET user_id = ?, created_at = ?, stream_url = ?, start_offset = ?, end_offset = ?, text = ?, embedding = ?
		WHERE transcript_id = ? AND segment_id = ?`,
		insertSegmentByUser,
	}
	args := [][]any{
		{out.User, created, out.StreamURL, out.Start.String(), out.End.String(), out.Text, out.Embedding,
			out.TranscriptID, out.SegmentID},
		rowArgs,
	}
	if exists && (prevUser != out.User || prevCreated != created) {
		stmts = append(stmts, `DELETE FROM segments_by_user WHERE user_id = ? AND created_at = ? AND segment_id = ? AND transcript_id = ?`)
		args = append(args, []any{prevUser, prevCreated, out.SegmentID, out.TranscriptID})
	}
	if err := execBatch(ctx, s.session, stmts, args); err != nil {
		return nil, fmt.Errorf("upserting segment %s/%d: %w", out.TranscriptID, out.SegmentID, err)
	}
	return &out, nil
}

package bolt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/repo"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/transcript"
	apperrors "github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/errors"
)

// SegmentStore keys segments by transcript_id|segment_id and indexes them by
// user|created_at|segment_id|transcript_id, which is also the by-user
// result order.
type SegmentStore struct {
	db *bbolt.DB
}

func segmentKey(s *transcript.Segment) []byte {
	return appendInt(appendString(nil, s.TranscriptID), int64(s.SegmentID))
}

func segmentUserKey(s *transcript.Segment) []byte {
	k := appendTime(appendString(nil, s.User), s.CreatedAt)
	k = appendInt(k, int64(s.SegmentID))
	return append(k, s.TranscriptID...)
}

func (s *SegmentStore) GetByTranscript(ctx context.Context, transcriptID string) ([]transcript.Segment, error) {
	segs := []transcript.Segment{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		prefix := appendString(nil, transcriptID)
		c := tx.Bucket(bucketSegments).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var seg transcript.Segment
			if err := json.Unmarshal(v, &seg); err != nil {
				return fmt.Errorf("decoding segment: %w", err)
			}
			segs = append(segs, seg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return segs, nil
}

func (s *SegmentStore) GetByUser(ctx context.Context, user string, r repo.TimeRange) ([]transcript.Segment, error) {
	segs := []transcript.Segment{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		primary := tx.Bucket(bucketSegments)
		return scanRange(tx.Bucket(bucketSegmentsByUser), user, r, func(key []byte) error {
			v := primary.Get(key)
			if v == nil {
				return nil
			}
			var seg transcript.Segment
			if err := json.Unmarshal(v, &seg); err != nil {
				return fmt.Errorf("decoding segment: %w", err)
			}
			segs = append(segs, seg)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return segs, nil
}

func (s *SegmentStore) Upsert(ctx context.Context, seg *transcript.Segment, failIfExists bool) (*transcript.Segment, error) {
	out := *seg
	repo.PrepareSegment(&out)
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encoding segment: %w", err)
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		primary := tx.Bucket(bucketSegments)
		byUser := tx.Bucket(bucketSegmentsByUser)
		key := segmentKey(&out)
		if existing := primary.Get(key); existing != nil {
			if failIfExists {
				return fmt.Errorf("segment %s/%d: %w", out.TranscriptID, out.SegmentID, apperrors.ErrConflict)
			}
			var prev transcript.Segment
			if err := json.Unmarshal(existing, &prev); err != nil {
				return fmt.Errorf("decoding segment: %w", err)
			}
			if err := byUser.Delete(segmentUserKey(&prev)); err != nil {
				return err
			}
		}
		if err := primary.Put(key, data); err != nil {
			return err
		}
		return byUser.Put(segmentUserKey(&out), key)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

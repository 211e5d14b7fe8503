// Package bolt implements the job and segment stores on an embedded bbolt
// file. It serves single-node deployments, the operator CLI and tests.
package bolt

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/repo"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/config"
)

var (
	bucketJobs           = []byte("jobs")
	bucketJobsByUser     = []byte("jobs_by_user")
	bucketSegments       = []byte("segments")
	bucketSegmentsByUser = []byte("segments_by_user")
)


// Store is a bbolt-backed repo.Store.
type Store struct {
	db       *bbolt.DB
	jobs     *JobStore
	segments *SegmentStore
}

var _ repo.Store = (*Store)(nil)

// Open opens (creating if needed) the database file and its buckets.
func Open(cfg config.BoltConfig) (*Store, error) {
	db, err := bbolt.Open(cfg.Path, 0o600, &bbolt.Options{Timeout: cfg.Timeout})
	if err != nil {
		return nil, fmt.Errorf("opening bolt db %s: %w", cfg.Path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketJobs, bucketJobsByUser, bucketSegments, bucketSegmentsByUser} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("creating bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{
		db:       db,
		jobs:     &JobStore{db: db},
		segments: &SegmentStore{db: db},
	}, nil
}

func (s *Store) Jobs() repo.JobStore         { return s.jobs }
func (s *Store) Segments() repo.SegmentStore { return s.segments }

// Ping reports an error once the database has been closed.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.View(func(tx *bbolt.Tx) error { return nil })
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Key encoding. Integers are stored big-endian with the sign bit flipped so
// that byte order equals numeric order, including negative values.
//
// Strings escape 0x00 as 0x00 0xff and end with 0x00 0x01. The encoding keeps
// byte order and is prefix-free: no encoded string starts with the encoding
// of another, so a user's keys never fall inside a longer user's range.

func appendString(dst []byte, s string) []byte {
	for i := 0; i < len(s); i++ {
		if s[i] == 0x00 {
			dst = append(dst, 0x00, 0xff)
			continue
		}
		dst = append(dst, s[i])
	}
	return append(dst, 0x00, 0x01)
}

func appendInt(dst []byte, v int64) []byte {
	return binary.BigEndian.AppendUint64(dst, uint64(v)^(1<<63))
}

func appendTime(dst []byte, t time.Time) []byte {
	return appendInt(dst, t.UnixMicro())
}

func readTime(b []byte) time.Time {
	return time.UnixMicro(int64(binary.BigEndian.Uint64(b) ^ (1 << 63))).UTC()
}

// scanRange walks the by-user index bucket b from the lower bound of r,
// calling fn with the primary key stored as each entry's value.
func scanRange(b *bbolt.Bucket, user string, r repo.TimeRange, fn func(primary []byte) error) error {
	prefix := appendString(nil, user)
	lower, upper, hasUpper := r.Bounds()
	c := b.Cursor()
	for k, v := c.Seek(appendTime(bytes.Clone(prefix), lower)); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		if hasUpper && readTime(k[len(prefix):]).After(upper) {
			break
		}
		if err := fn(v); err != nil {
			return err
		}
	}
	return nil
}

// Package repotest is a conformance suite run against every repo.Store
// backend. Each backend's tests call Run with a constructor for a fresh or
// shared store; ids and users are randomised so a shared database is fine.
package repotest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/repo"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/transcript"
	apperrors "github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/errors"
)

// Run executes the suite. newStore is called once per subtest.
func Run(t *testing.T, newStore func(t *testing.T) repo.Store) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s repo.Store)
	}{
		{"JobUpsertGeneratesID", testJobUpsertGeneratesID},
		{"JobNotFound", testJobNotFound},
		{"JobConflictLeavesItemUnchanged", testJobConflict},
		{"JobOverwriteIsIdempotent", testJobOverwrite},
		{"JobAmbiguousID", testJobAmbiguous},
		{"JobsByUserRange", testJobsByUserRange},
		{"SegmentConflictLeavesItemUnchanged", testSegmentConflict},
		{"SegmentOverwriteIsIdempotent", testSegmentOverwrite},
		{"SegmentsByTranscript", testSegmentsByTranscript},
		{"SegmentsByUserSorted", testSegmentsByUserSorted},
		{"SegmentsByUserRange", testSegmentsByUserRange},
		{"SegmentUserChangeMovesIndex", testSegmentUserChange},
		{"UsersSharingPrefixStayApart", testUsersSharingPrefix},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

func at(sec int) time.Time {
	return time.Date(2024, 6, 1, 10, 0, sec, 0, time.UTC)
}

func uniqueUser() string {
	return "user-" + uuid.NewString()
}

func testJobUpsertGeneratesID(t *testing.T, s repo.Store) {
	ctx := context.Background()
	job, err := s.Jobs().Upsert(ctx, &transcript.Job{User: uniqueUser(), StreamURL: "https://example/video"}, true)
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if job.JobID == "" {
		t.Fatal("job id was not generated")
	}
	if job.Status != transcript.StatusProcessing {
		t.Errorf("status = %q, want processing", job.Status)
	}
	got, err := s.Jobs().GetByID(ctx, job.JobID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.StreamURL != job.StreamURL || !got.CreatedAt.Equal(job.CreatedAt) {
		t.Errorf("GetByID = %+v, want %+v", got, job)
	}
}

func testJobNotFound(t *testing.T, s repo.Store) {
	_, err := s.Jobs().GetByID(context.Background(), uuid.NewString())
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func testJobConflict(t *testing.T, s repo.Store) {
	ctx := context.Background()
	orig := &transcript.Job{JobID: uuid.NewString(), User: uniqueUser(), CreatedAt: at(1), StreamURL: "https://a"}
	if _, err := s.Jobs().Upsert(ctx, orig, true); err != nil {
		t.Fatalf("first Upsert: %v", err)
	}
	clash := *orig
	clash.StreamURL = "https://b"
	clash.Status = transcript.StatusDone
	if _, err := s.Jobs().Upsert(ctx, &clash, true); !errors.Is(err, apperrors.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
	got, err := s.Jobs().GetByID(ctx, orig.JobID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.StreamURL != "https://a" || got.Status != transcript.StatusProcessing {
		t.Errorf("conflicting write modified the item: %+v", got)
	}
}

func testJobOverwrite(t *testing.T, s repo.Store) {
	ctx := context.Background()
	user := uniqueUser()
	job := &transcript.Job{JobID: uuid.NewString(), User: user, CreatedAt: at(2), StreamURL: "https://a"}
	if _, err := s.Jobs().Upsert(ctx, job, true); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	done := *job
	done.Status = transcript.StatusDone
	for i := 0; i < 2; i++ {
		if _, err := s.Jobs().Upsert(ctx, &done, false); err != nil {
			t.Fatalf("overwrite %d: %v", i, err)
		}
	}
	jobs, err := s.Jobs().GetByUser(ctx, user, repo.TimeRange{})
	if err != nil {
		t.Fatalf("GetByUser: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("got %d jobs, want 1", len(jobs))
	}
	if jobs[0].Status != transcript.StatusDone {
		t.Errorf("status = %q, want done", jobs[0].Status)
	}
}

func testJobAmbiguous(t *testing.T, s repo.Store) {
	ctx := context.Background()
	id := uuid.NewString()
	user := uniqueUser()
	for _, ts := range []time.Time{at(3), at(4)} {
		if _, err := s.Jobs().Upsert(ctx, &transcript.Job{JobID: id, User: user, CreatedAt: ts}, true); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}
	if _, err := s.Jobs().GetByID(ctx, id); !errors.Is(err, apperrors.ErrAmbiguous) {
		t.Fatalf("err = %v, want ErrAmbiguous", err)
	}
}

func testJobsByUserRange(t *testing.T, s repo.Store) {
	ctx := context.Background()
	user := uniqueUser()
	other := uniqueUser()
	for i, sec := range []int{30, 10, 20} {
		job := &transcript.Job{User: user, CreatedAt: at(sec), StreamURL: "https://x"}
		if _, err := s.Jobs().Upsert(ctx, job, true); err != nil {
			t.Fatalf("Upsert %d: %v", i, err)
		}
	}
	if _, err := s.Jobs().Upsert(ctx, &transcript.Job{User: other, CreatedAt: at(15)}, true); err != nil {
		t.Fatalf("Upsert other: %v", err)
	}

	all, err := s.Jobs().GetByUser(ctx, user, repo.TimeRange{})
	if err != nil {
		t.Fatalf("GetByUser: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d jobs, want 3", len(all))
	}
	for i, want := range []int{10, 20, 30} {
		if !all[i].CreatedAt.Equal(at(want)) {
			t.Errorf("jobs[%d].CreatedAt = %v, want %v", i, all[i].CreatedAt, at(want))
		}
	}

	lo, hi := at(10), at(20)
	inRange, err := s.Jobs().GetByUser(ctx, user, repo.TimeRange{CreatedAfter: &lo, CreatedBefore: &hi})
	if err != nil {
		t.Fatalf("GetByUser range: %v", err)
	}
	if len(inRange) != 2 {
		t.Fatalf("inclusive range returned %d jobs, want 2", len(inRange))
	}

	from := at(20)
	open, err := s.Jobs().GetByUser(ctx, user, repo.TimeRange{CreatedAfter: &from})
	if err != nil {
		t.Fatalf("GetByUser open: %v", err)
	}
	if len(open) != 2 {
		t.Fatalf("open range returned %d jobs, want 2", len(open))
	}
}

func segment(tid string, id int, user string, created time.Time, text string) *transcript.Segment {
	return &transcript.Segment{
		TranscriptID: tid,
		SegmentID:    id,
		User:         user,
		CreatedAt:    created,
		StreamURL:    "https://example/video",
		Start:        decimal.New(int64(id)*15, -1),
		End:          decimal.New(int64(id+1)*15, -1),
		Text:         text,
		Embedding:    "[1,0,0]",
	}
}

func testSegmentConflict(t *testing.T, s repo.Store) {
	ctx := context.Background()
	tid := uuid.NewString()
	orig := segment(tid, 0, uniqueUser(), at(1), "hello")
	if _, err := s.Segments().Upsert(ctx, orig, true); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	clash := *orig
	clash.Text = "changed"
	if _, err := s.Segments().Upsert(ctx, &clash, true); !errors.Is(err, apperrors.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
	segs, err := s.Segments().GetByTranscript(ctx, tid)
	if err != nil {
		t.Fatalf("GetByTranscript: %v", err)
	}
	if len(segs) != 1 || segs[0].Text != "hello" {
		t.Fatalf("stored segments = %+v", segs)
	}
}

func testSegmentOverwrite(t *testing.T, s repo.Store) {
	ctx := context.Background()
	tid := uuid.NewString()
	seg := segment(tid, 0, uniqueUser(), at(1), "hello")
	seg.Start = decimal.RequireFromString("0.1")
	seg.End = decimal.RequireFromString("12.345678")
	for i := 0; i < 2; i++ {
		if _, err := s.Segments().Upsert(ctx, seg, false); err != nil {
			t.Fatalf("Upsert %d: %v", i, err)
		}
	}
	seg.Text = "hello again"
	if _, err := s.Segments().Upsert(ctx, seg, false); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	segs, err := s.Segments().GetByTranscript(ctx, tid)
	if err != nil {
		t.Fatalf("GetByTranscript: %v", err)
	}
	if len(segs) != 1 {
		t.Fatalf("got %d segments, want 1", len(segs))
	}
	got := segs[0]
	if got.Text != "hello again" {
		t.Errorf("text = %q", got.Text)
	}
	if !got.Start.Equal(decimal.RequireFromString("0.1")) || !got.End.Equal(decimal.RequireFromString("12.345678")) {
		t.Errorf("offsets drifted: start=%s end=%s", got.Start, got.End)
	}
	if got.Embedding != "[1,0,0]" {
		t.Errorf("embedding = %q", got.Embedding)
	}
}

func testSegmentsByTranscript(t *testing.T, s repo.Store) {
	ctx := context.Background()
	tid := uuid.NewString()
	user := uniqueUser()
	for _, id := range []int{2, 0, 1} {
		if _, err := s.Segments().Upsert(ctx, segment(tid, id, user, at(1), "t"), false); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}
	if _, err := s.Segments().Upsert(ctx, segment(uuid.NewString(), 0, user, at(1), "other"), false); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	segs, err := s.Segments().GetByTranscript(ctx, tid)
	if err != nil {
		t.Fatalf("GetByTranscript: %v", err)
	}
	if len(segs) != 3 {
		t.Fatalf("got %d segments, want 3", len(segs))
	}
	for i, seg := range segs {
		if seg.SegmentID != i || seg.TranscriptID != tid {
			t.Errorf("segs[%d] = %s/%d", i, seg.TranscriptID, seg.SegmentID)
		}
	}
}

func testSegmentsByUserSorted(t *testing.T, s repo.Store) {
	ctx := context.Background()
	user := uniqueUser()
	t1, t2 := uuid.NewString(), uuid.NewString()
	writes := []*transcript.Segment{
		segment(t2, 1, user, at(20), "d"),
		segment(t1, 1, user, at(10), "b"),
		segment(t2, 0, user, at(20), "c"),
		segment(t1, 0, user, at(10), "a"),
	}
	for _, seg := range writes {
		if _, err := s.Segments().Upsert(ctx, seg, false); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}
	segs, err := s.Segments().GetByUser(ctx, user, repo.TimeRange{})
	if err != nil {
		t.Fatalf("GetByUser: %v", err)
	}
	var texts string
	for _, seg := range segs {
		texts += seg.Text
	}
	if texts != "abcd" {
		t.Errorf("order = %q, want abcd", texts)
	}
}

func testSegmentsByUserRange(t *testing.T, s repo.Store) {
	ctx := context.Background()
	user := uniqueUser()
	for i, sec := range []int{5, 10, 15, 20} {
		if _, err := s.Segments().Upsert(ctx, segment(uuid.NewString(), i, user, at(sec), "x"), false); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}
	lo, hi := at(10), at(15)
	segs, err := s.Segments().GetByUser(ctx, user, repo.TimeRange{CreatedAfter: &lo, CreatedBefore: &hi})
	if err != nil {
		t.Fatalf("GetByUser: %v", err)
	}
	if len(segs) != 2 || !segs[0].CreatedAt.Equal(lo) || !segs[1].CreatedAt.Equal(hi) {
		t.Fatalf("range result = %+v", segs)
	}
	before := at(5)
	segs, err = s.Segments().GetByUser(ctx, user, repo.TimeRange{CreatedBefore: &before})
	if err != nil {
		t.Fatalf("GetByUser: %v", err)
	}
	if len(segs) != 1 {
		t.Fatalf("upper-only range returned %d, want 1", len(segs))
	}
}

func testSegmentUserChange(t *testing.T, s repo.Store) {
	ctx := context.Background()
	from, to := uniqueUser(), uniqueUser()
	seg := segment(uuid.NewString(), 0, from, at(1), "moved")
	if _, err := s.Segments().Upsert(ctx, seg, false); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	seg.User = to
	if _, err := s.Segments().Upsert(ctx, seg, false); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	old, err := s.Segments().GetByUser(ctx, from, repo.TimeRange{})
	if err != nil {
		t.Fatalf("GetByUser: %v", err)
	}
	if len(old) != 0 {
		t.Errorf("previous owner still sees %d segments", len(old))
	}
	moved, err := s.Segments().GetByUser(ctx, to, repo.TimeRange{})
	if err != nil {
		t.Fatalf("GetByUser: %v", err)
	}
	if len(moved) != 1 {
		t.Errorf("new owner sees %d segments, want 1", len(moved))
	}
}

func testUsersSharingPrefix(t *testing.T, s repo.Store) {
	ctx := context.Background()
	short := uniqueUser()
	long := short + "ÿ-other"
	if _, err := s.Segments().Upsert(ctx, segment(uuid.NewString(), 0, short, at(1), "mine"), false); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if _, err := s.Segments().Upsert(ctx, segment(uuid.NewString(), 0, long, at(1), "theirs"), false); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if _, err := s.Jobs().Upsert(ctx, &transcript.Job{User: long, StreamURL: "https://example/video"}, true); err != nil {
		t.Fatalf("Upsert job: %v", err)
	}

	segs, err := s.Segments().GetByUser(ctx, short, repo.TimeRange{})
	if err != nil {
		t.Fatalf("GetByUser: %v", err)
	}
	if len(segs) != 1 || segs[0].Text != "mine" {
		t.Errorf("segments of %q = %+v, want only its own", short, segs)
	}
	jobs, err := s.Jobs().GetByUser(ctx, short, repo.TimeRange{})
	if err != nil {
		t.Fatalf("GetByUser jobs: %v", err)
	}
	if len(jobs) != 0 {
		t.Errorf("jobs of %q = %+v, want none", short, jobs)
	}
}

package bolt

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/repo"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/repo/repotest"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/transcript"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/config"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(config.BoltConfig{Path: filepath.Join(t.TempDir(), "test.db"), Timeout: time.Second})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreConformance(t *testing.T) {
	repotest.Run(t, func(t *testing.T) repo.Store { return openStore(t) })
}

func TestStringKeysArePrefixFree(t *testing.T) {
	names := []string{"", "bob", "bob\x00", "bob\x00\x00", "bob\x00\xffmallory", "bob\x01", "boba"}
	for i, a := range names {
		ka := appendString(nil, a)
		for j, b := range names {
			if i == j {
				continue
			}
			kb := appendString(nil, b)
			if bytes.HasPrefix(kb, ka) {
				t.Errorf("key of %q is a prefix of key of %q", a, b)
			}
			if (a < b) != (bytes.Compare(ka, kb) < 0) {
				t.Errorf("order of %q and %q not kept", a, b)
			}
		}
	}
}

func TestUserWithEmbeddedNULStaysSeparate(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	created := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	for _, user := range []string{"bob", "bob\x00\xffmallory"} {
		seg := &transcript.Segment{
			TranscriptID: "t-" + user,
			User:         user,
			CreatedAt:    created,
			Start:        decimal.Zero,
			End:          decimal.NewFromInt(1),
			Text:         "by " + user,
			Embedding:    "[1]",
		}
		if _, err := s.Segments().Upsert(ctx, seg, false); err != nil {
			t.Fatalf("Upsert(%q): %v", user, err)
		}
	}
	segs, err := s.Segments().GetByUser(ctx, "bob", repo.TimeRange{})
	if err != nil {
		t.Fatalf("GetByUser: %v", err)
	}
	if len(segs) != 1 || segs[0].User != "bob" {
		t.Fatalf("GetByUser(bob) = %+v, want only bob's segment", segs)
	}
}

func TestTimeKeyOrdering(t *testing.T) {
	times := []time.Time{
		time.Unix(-100, 0),
		time.Unix(0, 0),
		time.Unix(0, 1000),
		time.Unix(1700000000, 0),
	}
	for i := 1; i < len(times); i++ {
		a := appendTime(nil, times[i-1])
		b := appendTime(nil, times[i])
		if string(a) >= string(b) {
			t.Errorf("key(%v) >= key(%v)", times[i-1], times[i])
		}
		if got := readTime(b); !got.Equal(times[i]) {
			t.Errorf("readTime = %v, want %v", got, times[i])
		}
	}
}

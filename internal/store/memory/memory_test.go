package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alfredjeanlab/sdata/internal/codec"
	"github.com/alfredjeanlab/sdata/internal/model"
	"github.com/alfredjeanlab/sdata/internal/store"
)

func newRecord(t *testing.T, b byte, expiry time.Time) *model.Record {
	t.Helper()
	var id model.Name
	id[0] = b
	ident, err := model.NewIdentity(1, id, 3, 1, nil)
	if err != nil {
		t.Fatalf("NewIdentity: %v", err)
	}
	pol, err := model.NewPolicy([]model.OwnerKey{{Key: model.PublicKey("k"), Weight: 1}}, 1, expiry, nil)
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}
	rec, err := model.NewRecord(ident, pol, []model.Version{{Index: 0}})
	if err != nil {
		t.Fatalf("NewRecord: %v", err)
	}
	return rec
}

func TestStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()
	rec := newRecord(t, 1, time.Time{})

	if _, err := s.GetRecord(ctx, rec.Key()); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("get before create err = %v", err)
	}
	if err := s.CreateRecord(ctx, rec); err != nil {
		t.Fatalf("CreateRecord: %v", err)
	}
	if err := s.CreateRecord(ctx, rec); !errors.Is(err, store.ErrExists) {
		t.Fatalf("second create err = %v, want ErrExists", err)
	}
	got, err := s.GetRecord(ctx, rec.Key())
	if err != nil || !got.Equal(rec) {
		t.Fatalf("GetRecord = %v, %v", got, err)
	}

	next, err := rec.WithVersions([]model.Version{{Index: 0}, {Index: 1}})
	if err != nil {
		t.Fatalf("WithVersions: %v", err)
	}
	if err := s.ReplaceRecord(ctx, next, codec.Digest{}); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("stale replace err = %v, want ErrConflict", err)
	}
	if err := s.ReplaceRecord(ctx, next, codec.RecordDigest(rec)); err != nil {
		t.Fatalf("ReplaceRecord: %v", err)
	}
	if got, _ := s.GetRecord(ctx, rec.Key()); got.Latest().Index != 1 {
		t.Fatalf("latest = %d, want 1", got.Latest().Index)
	}

	if err := s.DeleteRecord(ctx, rec.Key()); err != nil {
		t.Fatalf("DeleteRecord: %v", err)
	}
	if err := s.DeleteRecord(ctx, rec.Key()); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("second delete err = %v", err)
	}
	if err := s.ReplaceRecord(ctx, next, codec.RecordDigest(next)); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("replace after delete err = %v", err)
	}
}

func TestStore_ListExpired(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, exp := range []time.Time{now.Add(-time.Hour), {}, now, now.Add(-2 * time.Hour), now.Add(time.Hour)} {
		if err := s.CreateRecord(ctx, newRecord(t, byte(i+1), exp)); err != nil {
			t.Fatalf("CreateRecord: %v", err)
		}
	}

	keys, err := s.ListExpired(ctx, now, 0)
	if err != nil {
		t.Fatalf("ListExpired: %v", err)
	}
	var got []byte
	for _, k := range keys {
		got = append(got, k.ID[0])
	}
	if string(got) != string([]byte{4, 1, 3}) {
		t.Fatalf("expired ids = %v, want [4 1 3]", got)
	}

	keys, _ = s.ListExpired(ctx, now, 1)
	if len(keys) != 1 || keys[0].ID[0] != 4 {
		t.Fatalf("limited = %v", keys)
	}
}

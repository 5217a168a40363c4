package scanlite

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestRecordStore(t *testing.T) (*RecordStore, string) {
	t.Helper()
	base := t.TempDir()
	return NewRecordStore(newTestDB(t), NewArtifactStore(base), testLogger()), base
}

func writeImage(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestRecordStore_AddAssignsIDAndOrdersNewestFirst(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestRecordStore(t)
	ns := Namespace("u1")

	t0 := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	first, _, err := s.Add(ctx, ns, ScanRecord{Grade: "A", CreatedAt: t0})
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)

	second, _, err := s.Add(ctx, ns, ScanRecord{Grade: "B", CreatedAt: t0.Add(time.Minute)})
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	recs, err := s.List(ctx, ns)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, second.ID, recs[0].ID)
	require.Equal(t, first.ID, recs[1].ID)
	require.True(t, recs[1].CreatedAt.Equal(t0))
}

func TestRecordStore_AddReportsReplacement(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestRecordStore(t)

	_, replaced, err := s.Add(ctx, "u1", ScanRecord{ID: "r1", Grade: "A"})
	require.NoError(t, err)
	require.False(t, replaced)

	_, replaced, err = s.Add(ctx, "u1", ScanRecord{ID: "r1", Grade: "B"})
	require.NoError(t, err)
	require.True(t, replaced)

	_, replaced, err = s.Add(ctx, "u2", ScanRecord{ID: "r1", Grade: "B"})
	require.NoError(t, err)
	require.False(t, replaced)
}

func TestRecordStore_AddCopiesArtifactIntoNamespace(t *testing.T) {
	ctx := context.Background()
	s, base := newTestRecordStore(t)
	src := writeImage(t, "capture.PNG", "png-bytes")

	rec, _, err := s.Add(ctx, "u1", ScanRecord{ID: "r1", Grade: "A", ArtifactPath: src,
		Analysis: json.RawMessage(`{"confidence":0.93}`)})
	require.NoError(t, err)
	require.Equal(t, filepath.Join(base, "scans", "u1", "scan_r1.png"), rec.ArtifactPath)

	data, err := os.ReadFile(rec.ArtifactPath)
	require.NoError(t, err)
	require.Equal(t, "png-bytes", string(data))

	_, err = os.Stat(src)
	require.NoError(t, err, "source file is left in place")

	got, err := s.Get(ctx, "u1", "r1")
	require.NoError(t, err)
	require.JSONEq(t, `{"confidence":0.93}`, string(got.Analysis))
}

func TestRecordStore_AddKeepsRecordWhenCopyFails(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestRecordStore(t)

	rec, _, err := s.Add(ctx, "u1", ScanRecord{ID: "r1", Grade: "C", ArtifactPath: "/does/not/exist.jpg"})
	require.NoError(t, err)
	require.Empty(t, rec.ArtifactPath)

	recs, err := s.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Empty(t, recs[0].ArtifactPath)
}

func TestRecordStore_RemoveDeletesArtifactAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestRecordStore(t)
	rec, _, err := s.Add(ctx, "u1", ScanRecord{ID: "r1", Grade: "A", ArtifactPath: writeImage(t, "a.jpg", "x")})
	require.NoError(t, err)

	removed, err := s.Remove(ctx, "u1", "r1")
	require.NoError(t, err)
	require.True(t, removed)
	_, err = os.Stat(rec.ArtifactPath)
	require.True(t, os.IsNotExist(err))

	removed, err = s.Remove(ctx, "u1", "r1")
	require.NoError(t, err)
	require.False(t, removed)

	_, err = s.Get(ctx, "u1", "r1")
	require.ErrorIs(t, err, ErrRecordNotFound)
}

func TestRecordStore_NamespaceIsolation(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestRecordStore(t)

	_, _, err := s.Add(ctx, "alice", ScanRecord{ID: "same", Grade: "A"})
	require.NoError(t, err)
	_, _, err = s.Add(ctx, "bob", ScanRecord{ID: "same", Grade: "F"})
	require.NoError(t, err)

	removed, err := s.Remove(ctx, "bob", "same")
	require.NoError(t, err)
	require.True(t, removed)

	alice, err := s.List(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, alice, 1)
	require.Equal(t, "A", alice[0].Grade)

	bob, err := s.List(ctx, "bob")
	require.NoError(t, err)
	require.Empty(t, bob)
}

func TestRecordStore_ClearOnlyTouchesNamespace(t *testing.T) {
	ctx := context.Background()
	s, base := newTestRecordStore(t)

	_, _, err := s.Add(ctx, "alice", ScanRecord{ID: "a1", ArtifactPath: writeImage(t, "a.jpg", "a")})
	require.NoError(t, err)
	bobRec, _, err := s.Add(ctx, "bob", ScanRecord{ID: "b1", ArtifactPath: writeImage(t, "b.jpg", "b")})
	require.NoError(t, err)

	require.NoError(t, s.Clear(ctx, "alice", true))

	alice, _ := s.List(ctx, "alice")
	require.Empty(t, alice)
	_, err = os.Stat(filepath.Join(base, "scans", "alice"))
	require.True(t, os.IsNotExist(err))

	bob, _ := s.List(ctx, "bob")
	require.Len(t, bob, 1)
	_, err = os.Stat(bobRec.ArtifactPath)
	require.NoError(t, err)
}

func TestRecordStore_Stats(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestRecordStore(t)

	st, err := s.Stats(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, LocalStats{Total: 0, Best: "-"}, st)

	for i, g := range []string{"B", "a", "F", "UNKNOWN"} {
		_, _, err := s.Add(ctx, "u1", ScanRecord{ID: string(rune('p' + i)), Grade: g})
		require.NoError(t, err)
	}
	st, err = s.Stats(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 4, st.Total)
	require.Equal(t, "A", st.Best)
	require.Equal(t, 44, st.AvgPercent) // (3+4+0+0)/16
}

func TestComputeLocalStats_BestIgnoresFailingGrades(t *testing.T) {
	st := computeLocalStats([]ScanRecord{{Grade: "D"}, {Grade: "F"}})
	require.Equal(t, LocalStats{Total: 2, Best: "-", AvgPercent: 13}, st)

	st = computeLocalStats([]ScanRecord{{Grade: "D"}, {Grade: "c"}})
	require.Equal(t, "C", st.Best)
}

func TestArtifactStore_RemoveIgnoresForeignPaths(t *testing.T) {
	a := NewArtifactStore(t.TempDir())
	outside := writeImage(t, "keep.jpg", "x")

	require.False(t, a.Owns(outside))
	require.NoError(t, a.Remove(outside))
	_, err := os.Stat(outside)
	require.NoError(t, err)
}

func TestArtifactStore_DirStaysUnderRoot(t *testing.T) {
	base := t.TempDir()
	a := NewArtifactStore(base)

	dir, err := a.Dir("alice")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(base, "scans", "alice"), dir)

	for _, ns := range []Namespace{"", ".", "..", "a/b", "../x"} {
		_, err := a.Dir(ns)
		require.ErrorIs(t, err, errUnsafeNamespace, string(ns))
	}

	_, err = a.Import("u1", "../escape", writeImage(t, "a.jpg", "x"))
	require.Error(t, err)
}

func TestRecordStore_ClearOfDotUserKeepsOtherArtifacts(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestRecordStore(t)

	aliceRec, _, err := s.Add(ctx, "alice", ScanRecord{ID: "x", ArtifactPath: writeImage(t, "a.jpg", "a")})
	require.NoError(t, err)
	require.NotEmpty(t, aliceRec.ArtifactPath)

	for _, raw := range []string{"..", "."} {
		ns := ResolveNamespace(&Principal{Username: raw})
		_, _, err := s.Add(ctx, ns, ScanRecord{ID: "y", ArtifactPath: writeImage(t, "b.jpg", "b")})
		require.NoError(t, err)
		require.NoError(t, s.Clear(ctx, ns, true))
	}

	_, err = os.Stat(aliceRec.ArtifactPath)
	require.NoError(t, err)
	recs, err := s.List(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, recs, 1)
}

package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/talespin/pkg/store"
	"github.com/MrWong99/talespin/pkg/story"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "talespin.db")
	st, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st, path
}

func TestOpen_RequiresPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Error("expected error for blank path")
	}
}

func TestStore_SaveLoadDelete(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	if _, err := st.Load(ctx, "s1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Load missing = %v, want ErrNotFound", err)
	}

	snap := store.Snapshot{
		SessionID:  "s1",
		Turns:      []story.Turn{{ID: "n1", Role: story.RoleNarrator, Content: "Fog.", Illustration: "https://img/1.png", Episode: 1}},
		Characters: []story.Character{{Name: "Mira"}},
		UpdatedAt:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	if err := st.Save(ctx, snap); err != nil {
		t.Fatalf("Save: %v", err)
	}
	snap.Turns = append(snap.Turns, story.Turn{ID: "u2", Role: story.RoleUser, Content: "go", Episode: 1})
	if err := st.Save(ctx, snap); err != nil {
		t.Fatalf("second Save: %v", err)
	}

	got, err := st.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got.Turns) != 2 || got.Turns[0].Illustration != "https://img/1.png" {
		t.Errorf("loaded turns = %+v", got.Turns)
	}
	if !got.UpdatedAt.Equal(snap.UpdatedAt) {
		t.Errorf("UpdatedAt = %v", got.UpdatedAt)
	}

	if err := st.Delete(ctx, "s1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := st.Load(ctx, "s1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Load after delete = %v", err)
	}
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	st, path := openTestStore(t)
	ctx := context.Background()

	if err := st.Save(ctx, store.Snapshot{SessionID: "s1", Turns: []story.Turn{{ID: "a"}}}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	got, err := reopened.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got.Turns) != 1 {
		t.Errorf("got %d turns after reopen, want 1", len(got.Turns))
	}
}

func TestStore_ConcurrentSaves(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := string(rune('a' + i))
			if err := st.Save(ctx, store.Snapshot{SessionID: id}); err != nil {
				t.Errorf("Save %s: %v", id, err)
			}
		}()
	}
	wg.Wait()

	for i := range 8 {
		if _, err := st.Load(ctx, string(rune('a'+i))); err != nil {
			t.Errorf("Load: %v", err)
		}
	}
	if err := st.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

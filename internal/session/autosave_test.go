package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"testing/synctest"
	"time"

	"github.com/MrWong99/talespin/pkg/store"
	storemock "github.com/MrWong99/talespin/pkg/store/mock"
	"github.com/MrWong99/talespin/pkg/story"
)

func snapWithTurns(n int) store.Snapshot {
	snap := store.Snapshot{SessionID: "s1"}
	for i := range n {
		snap.Turns = append(snap.Turns, story.Turn{ID: fmt.Sprintf("t%d", i), Role: story.RoleUser, Episode: 1})
	}
	return snap
}

func TestAutosaver_Debounce(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		st := &storemock.SessionStore{}
		a := NewAutosaver(AutosaverConfig{Store: st, SessionID: "s1", Delay: 2 * time.Second})
		defer a.Stop()

		start := time.Now()
		for i := 1; i <= 3; i++ {
			a.Schedule(snapWithTurns(i))
			if i < 3 {
				time.Sleep(500 * time.Millisecond)
			}
		}
		last := time.Now()

		time.Sleep(1999 * time.Millisecond)
		synctest.Wait()
		if n := st.CallCount("Save"); n != 0 {
			t.Fatalf("Save called %d times before the debounce window elapsed", n)
		}

		time.Sleep(time.Millisecond)
		synctest.Wait()

		saved := st.Saved()
		if len(saved) != 1 {
			t.Fatalf("Save called %d times, want 1", len(saved))
		}
		if len(saved[0].Turns) != 3 {
			t.Errorf("saved snapshot has %d turns, want the latest (3)", len(saved[0].Turns))
		}
		if at := st.Calls()[0].At; at.Sub(last) != 2*time.Second {
			t.Errorf("write happened %v after the last schedule, want 2s", at.Sub(last))
		}
		if last.Sub(start) != time.Second {
			t.Errorf("schedules spanned %v, want 1s", last.Sub(start))
		}
		if a.Pending() {
			t.Error("Pending() = true after write")
		}
	})
}

func TestAutosaver_FailureMarksDegraded(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		st := &storemock.SessionStore{SaveErr: errors.New("disk full")}
		var failures atomic.Int32
		a := NewAutosaver(AutosaverConfig{
			Store:     st,
			SessionID: "s1",
			Delay:     time.Second,
			OnFailure: func(error) { failures.Add(1) },
		})
		defer a.Stop()

		a.Schedule(snapWithTurns(1))
		time.Sleep(time.Second)
		synctest.Wait()

		if !a.IsDegraded() {
			t.Error("IsDegraded() = false after failed write")
		}
		if failures.Load() != 1 {
			t.Errorf("OnFailure called %d times, want 1", failures.Load())
		}

		// The next mutation retries and recovers.
		st.SetSaveErr(nil)
		a.Schedule(snapWithTurns(2))
		time.Sleep(time.Second)
		synctest.Wait()

		if a.IsDegraded() {
			t.Error("IsDegraded() = true after successful write")
		}
		if n := st.CallCount("Save"); n != 2 {
			t.Errorf("Save called %d times, want 2", n)
		}
	})
}

func TestAutosaver_Flush(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		st := &storemock.SessionStore{}
		a := NewAutosaver(AutosaverConfig{Store: st, Delay: time.Minute})
		defer a.Stop()

		a.Schedule(snapWithTurns(2))
		if err := a.Flush(context.Background()); err != nil {
			t.Fatalf("Flush: %v", err)
		}
		if n := st.CallCount("Save"); n != 1 {
			t.Fatalf("Save called %d times, want 1", n)
		}

		// The stopped timer must not write the same snapshot again.
		time.Sleep(2 * time.Minute)
		synctest.Wait()
		if n := st.CallCount("Save"); n != 1 {
			t.Errorf("Save called %d times after flush, want 1", n)
		}

		if err := a.Flush(context.Background()); err != nil {
			t.Errorf("empty Flush: %v", err)
		}
	})
}

func TestAutosaver_FlushReturnsError(t *testing.T) {
	st := &storemock.SessionStore{SaveErr: errors.New("db down")}
	a := NewAutosaver(AutosaverConfig{Store: st, Delay: time.Minute})
	defer a.Stop()

	a.Schedule(snapWithTurns(1))
	if err := a.Flush(context.Background()); err == nil {
		t.Error("expected flush error")
	}
}

func TestAutosaver_StopDropsPending(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		st := &storemock.SessionStore{}
		a := NewAutosaver(AutosaverConfig{Store: st, Delay: time.Second})

		a.Schedule(snapWithTurns(1))
		a.Stop()
		a.Schedule(snapWithTurns(2))

		time.Sleep(5 * time.Second)
		synctest.Wait()
		if n := st.CallCount("Save"); n != 0 {
			t.Errorf("Save called %d times after Stop, want 0", n)
		}
	})
}

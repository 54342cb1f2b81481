package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/MrWong99/talespin/pkg/provider/image"
	imagemock "github.com/MrWong99/talespin/pkg/provider/image/mock"
)

func TestIllustrationPrompt(t *testing.T) {
	t.Parallel()

	got := IllustrationPrompt(" a port town ", "Rain falls.")
	want := "a port town, Rain falls., " + illustrationStyle
	if got != want {
		t.Errorf("IllustrationPrompt = %q, want %q", got, want)
	}

	long := strings.Repeat("ü", 800)
	got = IllustrationPrompt("", long)
	if want := strings.Repeat("ü", illustrationExcerpt) + ", " + illustrationStyle; got != want {
		t.Errorf("long passage not cut to %d runes", illustrationExcerpt)
	}
}

func TestIllustrator_Delivers(t *testing.T) {
	t.Parallel()

	p := &imagemock.Provider{Result: &image.Result{URL: "https://img/1.png"}}
	il := NewIllustrator(p, 2, time.Minute, nil)

	var (
		mu  sync.Mutex
		got = map[string]string{}
	)
	deliver := func(turnID, url string) {
		mu.Lock()
		defer mu.Unlock()
		got[turnID] = url
	}
	il.Dispatch("s1", "n1", "a castle", deliver)
	il.Dispatch("s1", "n2", "a bridge", deliver)
	if err := il.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	if len(got) != 2 || got["n1"] != "https://img/1.png" {
		t.Errorf("delivered = %v", got)
	}
}

func TestIllustrator_FailuresAreNotDelivered(t *testing.T) {
	t.Parallel()

	for name, p := range map[string]*imagemock.Provider{
		"error":     {Err: errors.New("boom")},
		"empty url": {Result: &image.Result{}},
	} {
		t.Run(name, func(t *testing.T) {
			il := NewIllustrator(p, 1, time.Minute, nil)
			delivered := false
			il.Dispatch("s1", "n1", "x", func(string, string) { delivered = true })
			if err := il.Wait(context.Background()); err != nil {
				t.Fatalf("Wait: %v", err)
			}
			if delivered {
				t.Error("failed illustration was delivered")
			}
		})
	}
}

func TestIllustrator_TimeoutIncludesSlotWait(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		p := &imagemock.Provider{Block: true}
		il := NewIllustrator(p, 1, 10*time.Second, nil)

		start := time.Now()
		for _, id := range []string{"n1", "n2", "n3"} {
			il.Dispatch("s1", id, "x", func(string, string) { t.Error("blocked illustration delivered") })
		}
		if err := il.Wait(context.Background()); err != nil {
			t.Fatalf("Wait: %v", err)
		}
		if elapsed := time.Since(start); elapsed != 10*time.Second {
			t.Errorf("illustrations settled after %v, want 10s", elapsed)
		}
		if n := p.CallCount(); n != 1 {
			t.Errorf("provider called %d times, want 1 (others timed out waiting for a slot)", n)
		}
	})
}

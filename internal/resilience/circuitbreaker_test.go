package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"testing/synctest"
	"time"
)

var errTest = errors.New("test error")

func fail() error    { return errTest }
func succeed() error { return nil }

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "narrator"})
	if cb.cfg.MaxFailures != 5 {
		t.Errorf("MaxFailures = %d, want 5", cb.cfg.MaxFailures)
	}
	if cb.cfg.ResetTimeout != 30*time.Second {
		t.Errorf("ResetTimeout = %v, want 30s", cb.cfg.ResetTimeout)
	}
	if cb.cfg.HalfOpenMax != 3 {
		t.Errorf("HalfOpenMax = %d, want 3", cb.cfg.HalfOpenMax)
	}
	if cb.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", cb.State())
	}
	if cb.Name() != "narrator" {
		t.Errorf("Name() = %q", cb.Name())
	}
}

func TestCircuitBreaker_ClosedToOpen(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "test", MaxFailures: 3, ResetTimeout: time.Hour})

	for range 3 {
		if err := cb.Execute(fail); !errors.Is(err, errTest) {
			t.Fatalf("err = %v, want errTest passed through", err)
		}
	}
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open after 3 failures", cb.State())
	}

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Fatal("fn must not run while open")
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "test", MaxFailures: 3})

	_ = cb.Execute(fail)
	_ = cb.Execute(fail)
	_ = cb.Execute(succeed)
	_ = cb.Execute(fail)
	_ = cb.Execute(fail)

	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed (success should reset the counter)", cb.State())
	}
}

func TestCircuitBreaker_CallerCancellationIsNotAFailure(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "test", MaxFailures: 1})

	err := cb.Execute(func() error { return fmt.Errorf("narrate: %w", context.Canceled) })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed", cb.State())
	}

	// Deadline expiry is a slow backend and does count.
	_ = cb.Execute(func() error { return context.DeadlineExceeded })
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open after deadline expiry", cb.State())
	}
}

func TestCircuitBreaker_CustomClassifier(t *testing.T) {
	errBadRequest := errors.New("400 bad request")
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:        "test",
		MaxFailures: 1,
		IsFailure:   func(err error) bool { return !errors.Is(err, errBadRequest) },
	})

	_ = cb.Execute(func() error { return errBadRequest })
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed for a client error", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		var (
			mu          sync.Mutex
			transitions []string
		)
		cb := NewCircuitBreaker(CircuitBreakerConfig{
			Name:         "image",
			MaxFailures:  2,
			ResetTimeout: 10 * time.Second,
			HalfOpenMax:  2,
			OnStateChange: func(name string, from, to State) {
				mu.Lock()
				defer mu.Unlock()
				transitions = append(transitions, from.String()+">"+to.String())
			},
		})

		_ = cb.Execute(fail)
		_ = cb.Execute(fail)
		if cb.State() != StateOpen {
			t.Fatal("expected open")
		}

		time.Sleep(10 * time.Second)
		if cb.State() != StateHalfOpen {
			t.Fatalf("state = %v, want half-open after reset timeout", cb.State())
		}

		for i := range 2 {
			if err := cb.Execute(succeed); err != nil {
				t.Fatalf("probe %d: %v", i, err)
			}
		}
		if cb.State() != StateClosed {
			t.Fatalf("state = %v, want closed after successful probes", cb.State())
		}

		mu.Lock()
		defer mu.Unlock()
		want := []string{"closed>open", "open>half-open", "half-open>closed"}
		if fmt.Sprint(transitions) != fmt.Sprint(want) {
			t.Errorf("transitions = %v, want %v", transitions, want)
		}
	})
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		cb := NewCircuitBreaker(CircuitBreakerConfig{
			Name:         "test",
			MaxFailures:  2,
			ResetTimeout: 10 * time.Second,
			HalfOpenMax:  3,
		})
		_ = cb.Execute(fail)
		_ = cb.Execute(fail)

		time.Sleep(10 * time.Second)
		if err := cb.Execute(fail); !errors.Is(err, errTest) {
			t.Fatalf("err = %v, want errTest from the probe", err)
		}
		if cb.State() != StateOpen {
			t.Fatalf("state = %v, want open after failed probe", cb.State())
		}

		// The reset timeout restarts from the failed probe.
		time.Sleep(5 * time.Second)
		if err := cb.Execute(succeed); !errors.Is(err, ErrCircuitOpen) {
			t.Fatalf("err = %v, want ErrCircuitOpen", err)
		}
	})
}

func TestCircuitBreaker_HalfOpenLimitsProbes(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		cb := NewCircuitBreaker(CircuitBreakerConfig{
			Name:         "test",
			MaxFailures:  1,
			ResetTimeout: time.Second,
			HalfOpenMax:  1,
		})
		_ = cb.Execute(fail)
		time.Sleep(time.Second)

		release := make(chan struct{})
		done := make(chan error, 1)
		go func() {
			done <- cb.Execute(func() error { <-release; return nil })
		}()
		synctest.Wait()

		if err := cb.Execute(succeed); !errors.Is(err, ErrCircuitOpen) {
			t.Fatalf("second probe err = %v, want ErrCircuitOpen", err)
		}
		close(release)
		if err := <-done; err != nil {
			t.Fatalf("first probe: %v", err)
		}
		if cb.State() != StateClosed {
			t.Fatalf("state = %v, want closed", cb.State())
		}
	})
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "test", MaxFailures: 2, ResetTimeout: time.Hour})
	_ = cb.Execute(fail)
	_ = cb.Execute(fail)
	if cb.State() != StateOpen {
		t.Fatal("expected open")
	}

	cb.Reset()
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed after reset", cb.State())
	}
	if err := cb.Execute(succeed); err != nil {
		t.Fatalf("unexpected error after reset: %v", err)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

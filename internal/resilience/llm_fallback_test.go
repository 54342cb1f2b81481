package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/talespin/pkg/provider/llm"
	llmmock "github.com/MrWong99/talespin/pkg/provider/llm/mock"
)

func TestLLMFallback_Complete(t *testing.T) {
	tests := []struct {
		name        string
		primaryErr  error
		fallbackErr error
		wantContent string
		wantErr     error
	}{
		{name: "primary success", wantContent: "from primary"},
		{name: "failover", primaryErr: errors.New("primary down"), wantContent: "from secondary"},
		{
			name:        "all fail",
			primaryErr:  errors.New("primary down"),
			fallbackErr: errors.New("secondary down"),
			wantErr:     ErrAllFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			primary := &llmmock.Provider{
				CompleteResponse: &llm.CompletionResponse{Content: "from primary"},
				CompleteErr:      tt.primaryErr,
			}
			secondary := &llmmock.Provider{
				CompleteResponse: &llm.CompletionResponse{Content: "from secondary"},
				CompleteErr:      tt.fallbackErr,
			}
			fb := NewLLMFallback(primary, "primary", FallbackConfig{
				CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
			})
			fb.AddFallback("secondary", secondary)

			resp, err := fb.Complete(context.Background(), llm.CompletionRequest{})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if resp.Content != tt.wantContent {
				t.Fatalf("content = %q, want %q", resp.Content, tt.wantContent)
			}
			if tt.primaryErr == nil && secondary.CallCount() != 0 {
				t.Fatalf("secondary called %d times, want 0", secondary.CallCount())
			}
		})
	}
}

func TestLLMFallback_States(t *testing.T) {
	fb := NewLLMFallback(&llmmock.Provider{}, "openai", FallbackConfig{})
	fb.AddFallback("ollama", &llmmock.Provider{})
	states := fb.States()
	if len(states) != 2 || states["openai"] != StateClosed || states["ollama"] != StateClosed {
		t.Fatalf("States() = %v", states)
	}
}

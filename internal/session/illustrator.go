package session

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/talespin/internal/observe"
	"github.com/MrWong99/talespin/pkg/provider/image"
)

const (
	// illustrationExcerpt is the number of narrator runes used in a prompt.
	illustrationExcerpt = 500

	illustrationStyle = "cinematic scene, detailed illustration, high quality art"
)

// IllustrationPrompt builds the image prompt for a narrator passage.
func IllustrationPrompt(setting, text string) string {
	excerpt := []rune(strings.TrimSpace(text))
	if len(excerpt) > illustrationExcerpt {
		excerpt = excerpt[:illustrationExcerpt]
	}
	parts := make([]string, 0, 3)
	if s := strings.TrimSpace(setting); s != "" {
		parts = append(parts, s)
	}
	if len(excerpt) > 0 {
		parts = append(parts, string(excerpt))
	}
	parts = append(parts, illustrationStyle)
	return strings.Join(parts, ", ")
}

// Illustrator runs illustration requests in the background. A weighted
// semaphore bounds the number of concurrent calls; every call, including the
// wait for a slot, is bounded by the illustration timeout. Requests are not
// tied to the caller's context: once dispatched they complete, fail or time
// out on their own.
type Illustrator struct {
	provider image.Provider
	sem      *semaphore.Weighted
	timeout  time.Duration
	metrics  *observe.Metrics
	wg       sync.WaitGroup
}

// NewIllustrator creates an [Illustrator] for provider.
func NewIllustrator(provider image.Provider, maxConcurrent int, timeout time.Duration, m *observe.Metrics) *Illustrator {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentIllustrations
	}
	if timeout <= 0 {
		timeout = DefaultIllustrationTimeout
	}
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Illustrator{
		provider: provider,
		sem:      semaphore.NewWeighted(int64(maxConcurrent)),
		timeout:  timeout,
		metrics:  m,
	}
}

// Dispatch requests an illustration for turnID and returns immediately.
// deliver is called with the image URL on success only; failures are logged
// and counted.
func (il *Illustrator) Dispatch(sessionID, turnID, prompt string, deliver func(turnID, url string)) {
	il.wg.Add(1)
	go func() {
		defer il.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), il.timeout)
		defer cancel()
		ctx, span := observe.StartSessionSpan(ctx, "session.illustrate", sessionID, attribute.String("turn_id", turnID))
		defer span.End()

		url, err := il.generate(ctx, prompt)
		if err != nil {
			span.RecordError(err)
			il.metrics.RecordIllustration(ctx, "failed")
			slog.Warn("illustration failed",
				"session_id", sessionID,
				"turn_id", turnID,
				"error", err,
			)
			return
		}
		il.metrics.RecordIllustration(ctx, "delivered")
		deliver(turnID, url)
	}()
}

func (il *Illustrator) generate(ctx context.Context, prompt string) (string, error) {
	if err := il.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer il.sem.Release(1)
	// A slot granted at the deadline must not start a provider call.
	if dl, ok := ctx.Deadline(); ok && !time.Now().Before(dl) {
		return "", context.DeadlineExceeded
	}

	start := time.Now()
	res, err := il.provider.Generate(ctx, image.Request{Prompt: prompt})
	status := "ok"
	if err != nil {
		status = "error"
	}
	il.metrics.IllustrationDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("status", status)))
	if err != nil {
		return "", err
	}
	if res == nil || res.URL == "" {
		return "", errNoImage
	}
	return res.URL, nil
}

// Wait blocks until every dispatched request has finished or ctx is done.
func (il *Illustrator) Wait(ctx context.Context) error {
	return waitGroupContext(ctx, &il.wg)
}

// waitGroupContext waits for wg or until ctx is done.
func waitGroupContext(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package users

import (
	"context"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/filebrowser/internal/logging"
)

// Backoff controls how Connect waits between attempts.
type Backoff struct {
	Attempts int           // 0 = retry until ctx is done
	Initial  time.Duration // wait after the first failure
	Max      time.Duration // cap on any single wait
	Jitter   float64       // fraction of each wait randomized, 0-1
}

// DefaultBackoff waits roughly a minute in total for the database.
var DefaultBackoff = Backoff{
	Attempts: 10,
	Initial:  500 * time.Millisecond,
	Max:      10 * time.Second,
	Jitter:   0.1,
}

// Connect opens a PostgresStore, retrying with exponential backoff while the
// database is unreachable (e.g. the server starting alongside its database).
func Connect(ctx context.Context, databaseURL string, b Backoff) (*PostgresStore, error) {
	var lastErr error
	for attempt := 1; b.Attempts == 0 || attempt <= b.Attempts; attempt++ {
		store, err := NewPostgresStore(databaseURL)
		if err == nil {
			return store, nil
		}
		lastErr = err

		wait := b.delay(attempt)
		logging.Info("waiting for PostgreSQL",
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", wait),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil, lastErr
}

func (b Backoff) delay(attempt int) time.Duration {
	wait := b.Max
	if attempt <= 32 {
		wait = b.Initial << (attempt - 1)
	}
	if wait <= 0 || (b.Max > 0 && wait > b.Max) {
		wait = b.Max
	}
	if b.Jitter > 0 {
		wait += time.Duration(float64(wait) * b.Jitter * (rand.Float64()*2 - 1))
	}
	return wait
}

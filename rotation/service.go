// Package rotation rewraps key envelopes when the master key changes.
// Rotation is O(1) per document: only the wrapped document key is
// re-encrypted, container payloads are never touched.
package rotation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/docsafe/docsafe/envelope"
	"github.com/docsafe/docsafe/interfaces"
	"github.com/google/uuid"
	"go.uber.org/atomic"
)

// ItemFailure records one envelope that could not be rewrapped.
type ItemFailure struct {
	KeyID  uuid.UUID `json:"key_id"`
	Reason string    `json:"reason"`
}

// Result summarizes a rotation batch. Envelopes holds the rewrapped
// records for the succeeded key ids; failed envelopes keep their old
// wrapped value untouched.
type Result struct {
	Succeeded []uuid.UUID   `json:"succeeded"`
	Failed    []ItemFailure `json:"failed"`
	Skipped   []uuid.UUID   `json:"skipped"`
	Duration  time.Duration `json:"duration"`

	Envelopes []*interfaces.KeyEnvelope `json:"-"`
}

// Service rewraps envelopes across master-key changes. Work is spread
// over a bounded worker pool; a per-key-id advisory lock serializes
// concurrent rotations touching the same envelope.
type Service struct {
	workers int
	log     *slog.Logger

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

// NewService creates a rotation service running at most workers
// rewraps in parallel. Zero or negative workers means a sensible default.
func NewService(workers int, log *slog.Logger) *Service {
	if workers <= 0 {
		workers = 4
	}
	return &Service{
		workers: workers,
		log:     log,
		locks:   make(map[uuid.UUID]*sync.Mutex),
	}
}

func (s *Service) lockFor(keyID uuid.UUID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[keyID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[keyID] = l
	}
	return l
}

// RotateMasterKey rewraps every envelope in the batch that is currently
// active under a master-key reference. Envelopes wrapped under share or
// escrow keys, and envelopes already rotated or revoked, are skipped
// untouched: those wrapping keys did not change.
//
// Partial failure never aborts the batch. Each item is atomic: on
// failure the input envelope keeps its old wrapped value, on success a
// rewrapped copy appears in Result.Envelopes and the input is replaced.
func (s *Service) RotateMasterKey(ctx context.Context, oldKey, newKey []byte, newRef interfaces.WrappingKeyRef, envelopes []*interfaces.KeyEnvelope) *Result {
	start := time.Now()
	result := &Result{}

	var resultMu sync.Mutex
	processed := atomic.NewInt64(0)

	sem := make(chan struct{}, s.workers)
	var wg sync.WaitGroup

	for _, env := range envelopes {
		env := env

		if env.WrappingKeyRef.Kind != interfaces.WrappingKeyMaster ||
			env.Status != interfaces.EnvelopeActive {
			resultMu.Lock()
			result.Skipped = append(result.Skipped, env.KeyID)
			resultMu.Unlock()
			continue
		}

		if ctx.Err() != nil {
			resultMu.Lock()
			result.Failed = append(result.Failed, ItemFailure{
				KeyID:  env.KeyID,
				Reason: ctx.Err().Error(),
			})
			resultMu.Unlock()
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			lock := s.lockFor(env.KeyID)
			lock.Lock()
			defer lock.Unlock()

			rewrapped, err := envelope.Rewrap(env, oldKey, newKey, newRef)
			processed.Inc()

			resultMu.Lock()
			defer resultMu.Unlock()
			if err != nil {
				result.Failed = append(result.Failed, ItemFailure{
					KeyID:  env.KeyID,
					Reason: err.Error(),
				})
				return
			}
			*env = *rewrapped
			result.Succeeded = append(result.Succeeded, env.KeyID)
			result.Envelopes = append(result.Envelopes, env)
		}()
	}

	wg.Wait()
	result.Duration = time.Since(start)

	s.log.Info("Master key rotation batch finished",
		slog.Int("succeeded", len(result.Succeeded)),
		slog.Int("failed", len(result.Failed)),
		slog.Int("skipped", len(result.Skipped)),
		slog.Int64("processed", processed.Load()),
		slog.Duration("duration", result.Duration))
	return result
}

// RotateAndPersist runs RotateMasterKey over every active envelope
// wrapped under oldRef in the store and persists the rewrapped records.
// Persistence failures after a successful rewrap are reported per item;
// the stored record keeps its old value in that case.
func (s *Service) RotateAndPersist(ctx context.Context, store interfaces.EscrowStore, oldKey, newKey []byte, oldRef, newRef interfaces.WrappingKeyRef) (*Result, error) {
	envelopes, err := store.EnvelopesByRef(ctx, oldRef)
	if err != nil {
		return nil, err
	}

	result := s.RotateMasterKey(ctx, oldKey, newKey, newRef, envelopes)

	persisted := result.Envelopes[:0]
	var succeeded []uuid.UUID
	for _, env := range result.Envelopes {
		if err := store.PutEnvelope(ctx, env); err != nil {
			result.Failed = append(result.Failed, ItemFailure{
				KeyID:  env.KeyID,
				Reason: err.Error(),
			})
			continue
		}
		persisted = append(persisted, env)
		succeeded = append(succeeded, env.KeyID)
	}
	result.Envelopes = persisted
	result.Succeeded = succeeded
	return result, nil
}

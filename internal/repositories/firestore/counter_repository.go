package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/boutique-fleurs/api/internal/platform/firestore"
	"github.com/boutique-fleurs/api/internal/repositories"
)

const countersCollection = "counters"

type counterDocument struct {
	CurrentValue int64     `firestore:"currentValue"`
	Step         int64     `firestore:"step"`
	MaxValue     *int64    `firestore:"maxValue,omitempty"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

// CounterRepository implements repositories.CounterRepository backed by Firestore transactions.
type CounterRepository struct {
	provider *pfirestore.Provider
	counters *pfirestore.BaseRepository[counterDocument]
	now      func() time.Time
}

// NewCounterRepository constructs a Firestore-backed counter repository.
func NewCounterRepository(provider *pfirestore.Provider) (*CounterRepository, error) {
	if provider == nil {
		return nil, errors.New("counter repository requires firestore provider")
	}
	return &CounterRepository{
		provider: provider,
		counters: pfirestore.NewBaseRepository[counterDocument](provider, countersCollection, nil, nil),
		now:      time.Now,
	}, nil
}

// Next increments counterID inside a transaction and returns the new value. The first call for
// an id creates the document; cfg.MaxValue is enforced on every increment.
func (r *CounterRepository) Next(ctx context.Context, counterID string, cfg repositories.CounterConfig) (int64, error) {
	if r == nil || r.provider == nil {
		return 0, errors.New("counter repository not initialised")
	}
	id := strings.TrimSpace(counterID)
	if id == "" {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, "counter id is required", nil)
	}
	if cfg.Step < 0 {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, fmt.Sprintf("step must be positive, got %d", cfg.Step), nil)
	}
	step := cfg.Step
	if step == 0 {
		step = 1
	}

	var nextValue int64
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.counters.DocumentRef(ctx, id)
		if err != nil {
			return err
		}

		var (
			doc    counterDocument
			exists bool
		)
		snapshot, err := tx.Get(ref)
		switch status.Code(err) {
		case codes.NotFound:
		case codes.OK:
			exists = true
			if err := snapshot.DataTo(&doc); err != nil {
				return fmt.Errorf("firestore counters decode %s: %w", id, err)
			}
		default:
			return err
		}

		maxValue := doc.MaxValue
		if cfg.MaxValue != nil {
			maxValue = cfg.MaxValue
		}
		newValue := doc.CurrentValue + step
		if maxValue != nil && newValue > *maxValue {
			return repositories.NewCounterError(repositories.CounterErrorExhausted,
				fmt.Sprintf("counter %s exceeded max value %d", id, *maxValue), nil)
		}

		doc.CurrentValue = newValue
		doc.Step = step
		doc.MaxValue = maxValue
		doc.UpdatedAt = r.now().UTC()
		nextValue = newValue

		if !exists {
			return tx.Create(ref, doc)
		}
		return tx.Set(ref, doc)
	})
	if err != nil {
		var counterErr *repositories.CounterError
		if errors.As(err, &counterErr) {
			return 0, counterErr
		}
		return 0, pfirestore.WrapError("counters.next", err)
	}
	return nextValue, nil
}

var _ repositories.CounterRepository = (*CounterRepository)(nil)

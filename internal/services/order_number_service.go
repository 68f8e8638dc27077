package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/boutique-fleurs/api/internal/repositories"
)

const (
	defaultOrderNumberPrefix = "BF"
	defaultMaxDailyOrders    = 9999
	orderCounterScope        = "orders"
)

// OrderNumberServiceDeps bundles collaborators for the order number generator.
type OrderNumberServiceDeps struct {
	Counters       repositories.CounterRepository
	Location       *time.Location
	Prefix         string
	MaxDailyOrders int64
	Clock          func() time.Time
}

type orderNumberService struct {
	counters repositories.CounterRepository
	location *time.Location
	prefix   string
	maxDaily int64
	clock    func() time.Time
}

// NewOrderNumberService builds a generator producing PREFIX-YYYYMMDD-NNNN numbers. The sequence
// is a transactional counter per local calendar day.
func NewOrderNumberService(deps OrderNumberServiceDeps) (OrderNumberGenerator, error) {
	if deps.Counters == nil {
		return nil, errors.New("order number service: counter repository is required")
	}

	location := deps.Location
	if location == nil {
		location = time.UTC
	}

	prefix := strings.ToUpper(strings.TrimSpace(deps.Prefix))
	if prefix == "" {
		prefix = defaultOrderNumberPrefix
	}

	maxDaily := deps.MaxDailyOrders
	if maxDaily <= 0 || maxDaily > defaultMaxDailyOrders {
		maxDaily = defaultMaxDailyOrders
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	return &orderNumberService{
		counters: deps.Counters,
		location: location,
		prefix:   prefix,
		maxDaily: maxDaily,
		clock:    clock,
	}, nil
}

func (s *orderNumberService) Next(ctx context.Context) (string, error) {
	day := s.clock().In(s.location).Format("20060102")
	limit := s.maxDaily

	seq, err := s.counters.Next(ctx, orderCounterScope+":"+day, repositories.CounterConfig{
		Step:     1,
		MaxValue: &limit,
	})
	if err != nil {
		var counterErr *repositories.CounterError
		if errors.As(err, &counterErr) && counterErr.Code == repositories.CounterErrorExhausted {
			return "", fmt.Errorf("%w: %s reached %d orders", ErrOrderNumberExhausted, day, limit)
		}
		return "", fmt.Errorf("order number: %w", err)
	}
	return fmt.Sprintf("%s-%s-%04d", s.prefix, day, seq), nil
}

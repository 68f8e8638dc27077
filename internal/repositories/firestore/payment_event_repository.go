package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/oklog/ulid/v2"

	domain "github.com/boutique-fleurs/api/internal/domain"
	pfirestore "github.com/boutique-fleurs/api/internal/platform/firestore"
	"github.com/boutique-fleurs/api/internal/repositories"
)

const paymentEventsCollection = "payment_events"

type paymentEventDocument struct {
	EventID         string    `firestore:"eventId"`
	Provider        string    `firestore:"provider"`
	Type            string    `firestore:"type"`
	PaymentIntentID string    `firestore:"paymentIntentId,omitempty"`
	Status          string    `firestore:"status,omitempty"`
	OrderID         string    `firestore:"orderId,omitempty"`
	Outcome         string    `firestore:"outcome"`
	Detail          string    `firestore:"detail,omitempty"`
	ReceivedAt      time.Time `firestore:"receivedAt"`
}

// PaymentEventRepository appends webhook outcomes to an audit collection. Every delivery gets
// its own document so replays stay visible.
type PaymentEventRepository struct {
	events *pfirestore.BaseRepository[paymentEventDocument]
}

// NewPaymentEventRepository constructs the Firestore ledger.
func NewPaymentEventRepository(provider *pfirestore.Provider) (*PaymentEventRepository, error) {
	if provider == nil {
		return nil, errors.New("payment event repository requires firestore provider")
	}
	return &PaymentEventRepository{
		events: pfirestore.NewBaseRepository[paymentEventDocument](provider, paymentEventsCollection, nil, nil),
	}, nil
}

func (r *PaymentEventRepository) Record(ctx context.Context, record domain.PaymentEventRecord) error {
	id := "pev_" + ulid.Make().String()
	_, err := r.events.Create(ctx, id, paymentEventDocument{
		EventID:         record.EventID,
		Provider:        record.Provider,
		Type:            record.Type,
		PaymentIntentID: record.PaymentIntentID,
		Status:          string(record.Status),
		OrderID:         record.OrderID,
		Outcome:         string(record.Outcome),
		Detail:          record.Detail,
		ReceivedAt:      record.ReceivedAt.UTC(),
	})
	return err
}

func (r *PaymentEventRepository) ListByPaymentIntent(ctx context.Context, paymentIntentID string) ([]domain.PaymentEventRecord, error) {
	paymentIntentID = strings.TrimSpace(paymentIntentID)
	docs, err := r.events.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("paymentIntentId", "==", paymentIntentID).OrderBy("receivedAt", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	records := make([]domain.PaymentEventRecord, 0, len(docs))
	for _, doc := range docs {
		records = append(records, domain.PaymentEventRecord{
			EventID:         doc.Data.EventID,
			Provider:        doc.Data.Provider,
			Type:            doc.Data.Type,
			PaymentIntentID: doc.Data.PaymentIntentID,
			Status:          domain.PaymentStatus(doc.Data.Status),
			OrderID:         doc.Data.OrderID,
			Outcome:         domain.PaymentEventOutcome(doc.Data.Outcome),
			Detail:          doc.Data.Detail,
			ReceivedAt:      doc.Data.ReceivedAt,
		})
	}
	return records, nil
}

var _ repositories.PaymentEventRepository = (*PaymentEventRepository)(nil)

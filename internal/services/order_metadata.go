package services

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Provider metadata is a flat string map with bounded value length, so the order snapshot is
// stored as JSON split across numbered keys.
const (
	metadataChunkCountKey  = "order_chunks"
	metadataChunkKeyPrefix = "order_"
	metadataUserKey        = "user_id"
	metadataChunkSize      = 500
	metadataMaxChunks      = 40
	orderSnapshotVersion   = 1
)

type orderSnapshot struct {
	Version  int             `json:"v"`
	Items    []OrderItem     `json:"items"`
	Total    decimal.Decimal `json:"total"`
	Currency string          `json:"currency"`
	Customer CustomerInfo    `json:"customer"`
	Delivery DeliveryInfo    `json:"delivery"`
	IsGift   bool            `json:"isGift,omitempty"`
	Gift     *GiftInfo       `json:"gift,omitempty"`
}

func encodeOrderMetadata(draft OrderDraft, userID string) (map[string]string, error) {
	payload, err := json.Marshal(orderSnapshot{
		Version:  orderSnapshotVersion,
		Items:    draft.Items,
		Total:    draft.TotalAmount,
		Currency: draft.Currency,
		Customer: draft.CustomerInfo,
		Delivery: draft.DeliveryInfo,
		IsGift:   draft.IsGift,
		Gift:     draft.GiftInfo,
	})
	if err != nil {
		return nil, fmt.Errorf("encode order metadata: %w", err)
	}

	// Split on rune boundaries so every chunk stays valid UTF-8.
	var chunks []string
	runes := []rune(string(payload))
	for len(runes) > 0 {
		n := 0
		size := 0
		for n < len(runes) {
			w := len(string(runes[n]))
			if size+w > metadataChunkSize {
				break
			}
			size += w
			n++
		}
		chunks = append(chunks, string(runes[:n]))
		runes = runes[n:]
	}
	if len(chunks) > metadataMaxChunks {
		return nil, fmt.Errorf("%w: order description too large for payment metadata", ErrValidation)
	}

	md := make(map[string]string, len(chunks)+2)
	md[metadataChunkCountKey] = strconv.Itoa(len(chunks))
	for i, chunk := range chunks {
		md[metadataChunkKeyPrefix+strconv.Itoa(i)] = chunk
	}
	if userID = strings.TrimSpace(userID); userID != "" {
		md[metadataUserKey] = userID
	}
	return md, nil
}

// decodeOrderMetadata rebuilds the snapshot. ok is false when md carries no order description.
func decodeOrderMetadata(md map[string]string) (snapshot orderSnapshot, userID string, ok bool, err error) {
	rawCount, present := md[metadataChunkCountKey]
	if !present {
		return orderSnapshot{}, "", false, nil
	}
	count, err := strconv.Atoi(rawCount)
	if err != nil || count <= 0 || count > metadataMaxChunks {
		return orderSnapshot{}, "", false, fmt.Errorf("order metadata: invalid chunk count %q", rawCount)
	}

	var b strings.Builder
	for i := 0; i < count; i++ {
		chunk, found := md[metadataChunkKeyPrefix+strconv.Itoa(i)]
		if !found {
			return orderSnapshot{}, "", false, fmt.Errorf("order metadata: chunk %d missing", i)
		}
		b.WriteString(chunk)
	}
	if err := json.Unmarshal([]byte(b.String()), &snapshot); err != nil {
		return orderSnapshot{}, "", false, fmt.Errorf("order metadata: %w", err)
	}
	if snapshot.Version != orderSnapshotVersion || len(snapshot.Items) == 0 {
		return orderSnapshot{}, "", false, fmt.Errorf("order metadata: unsupported snapshot")
	}
	return snapshot, md[metadataUserKey], true, nil
}

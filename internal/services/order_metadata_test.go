package services

import (
	"strconv"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	domain "github.com/boutique-fleurs/api/internal/domain"
)

func sampleDraft() OrderDraft {
	return OrderDraft{
		Items: []OrderItem{
			{ProductID: "prod_1", Name: "Bouquet « Été » fleuri", UnitPrice: decimal.RequireFromString("19.99"), Quantity: 2},
			{ProductID: "prod_2", Name: "Roses", VariantName: "Petit", UnitPrice: decimal.RequireFromString("25"), Quantity: 1},
		},
		TotalAmount:  decimal.RequireFromString("64.98"),
		Currency:     "EUR",
		CustomerInfo: CustomerInfo{Name: "Camille", Email: "camille@example.com", Phone: "0600000000"},
		DeliveryInfo: DeliveryInfo{Type: domain.DeliveryTypePickup, Date: "2024-05-03", TimeSlot: "9h-12h", Notes: strings.Repeat("é", 400)},
		IsGift:       true,
		GiftInfo:     &GiftInfo{RecipientName: "Lou", Message: "Bises"},
	}
}

func TestOrderMetadataRoundTripAcrossChunks(t *testing.T) {
	md, err := encodeOrderMetadata(sampleDraft(), "uid_1")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	count, _ := strconv.Atoi(md[metadataChunkCountKey])
	if count < 2 {
		t.Fatalf("expected several chunks, got %d", count)
	}
	for i := 0; i < count; i++ {
		chunk := md[metadataChunkKeyPrefix+strconv.Itoa(i)]
		if len(chunk) > metadataChunkSize || !utf8.ValidString(chunk) {
			t.Fatalf("chunk %d invalid (len %d)", i, len(chunk))
		}
	}

	snapshot, userID, ok, err := decodeOrderMetadata(md)
	if err != nil || !ok {
		t.Fatalf("decode: ok=%v err=%v", ok, err)
	}
	if userID != "uid_1" {
		t.Fatalf("expected user id, got %q", userID)
	}
	if !snapshot.Total.Equal(decimal.RequireFromString("64.98")) || len(snapshot.Items) != 2 {
		t.Fatalf("unexpected snapshot %+v", snapshot)
	}
	if snapshot.Items[0].Name != "Bouquet « Été » fleuri" || snapshot.Gift == nil || snapshot.Gift.RecipientName != "Lou" {
		t.Fatalf("snapshot lost fields: %+v", snapshot)
	}
}

func TestOrderMetadataDecodeAbsentAndCorrupt(t *testing.T) {
	if _, _, ok, err := decodeOrderMetadata(map[string]string{"other": "x"}); ok || err != nil {
		t.Fatalf("expected absent metadata, got ok=%v err=%v", ok, err)
	}
	if _, _, _, err := decodeOrderMetadata(map[string]string{metadataChunkCountKey: "2", "order_0": "{"}); err == nil {
		t.Fatalf("expected missing chunk error")
	}
	if _, _, _, err := decodeOrderMetadata(map[string]string{metadataChunkCountKey: "1", "order_0": "{"}); err == nil {
		t.Fatalf("expected json error")
	}
}

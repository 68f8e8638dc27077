package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/boutique-fleurs/api/internal/domain"
)

var builderNow = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func newTestCatalog(t *testing.T) (*stubProductRepo, CatalogService) {
	t.Helper()
	repo := newStubProductRepo(
		Product{ID: "prod_fixed", Name: "Bouquet du jour", ImageURL: "https://img/1.jpg", Pricing: mustFixed(t, "19.99"), IsActive: true},
		Product{ID: "prod_var", Name: "Roses", Pricing: mustVariants(t,
			domain.ProductVariant{ID: "var_s", Name: "Petit", Price: decimal.RequireFromString("25"), IsActive: true},
			domain.ProductVariant{ID: "var_l", Name: "Grand", Price: decimal.RequireFromString("45"), IsActive: false},
		), IsActive: true},
		Product{ID: "prod_custom", Name: "Composition libre", Pricing: mustRange(t, "30", "150"), IsActive: true},
		Product{ID: "prod_off", Name: "Archive", Pricing: mustFixed(t, "10"), IsActive: false},
	)
	catalog, err := NewCatalogService(CatalogServiceDeps{Products: repo})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	return repo, catalog
}

func newTestOrderBuilder(t *testing.T) (*stubProductRepo, OrderBuilder) {
	t.Helper()
	repo, catalog := newTestCatalog(t)
	builder, err := NewOrderBuilder(OrderBuilderDeps{
		Catalog:  catalog,
		Location: parisLocation(t),
		Clock:    fixedClock(builderNow),
	})
	if err != nil {
		t.Fatalf("new order builder: %v", err)
	}
	return repo, builder
}

func validBuildCommand() BuildOrderCommand {
	return BuildOrderCommand{
		Lines: []CartLine{
			{ProductID: "prod_fixed", Quantity: 2},
			{ProductID: "prod_var", Quantity: 1, VariantID: "var_s"},
		},
		DeclaredTotal: decimal.RequireFromString("64.98"),
		CustomerInfo:  CustomerInfo{Name: "Camille Martin", Email: "Camille@Example.com ", Phone: "0600000000"},
		DeliveryInfo: DeliveryInfo{
			Type:     domain.DeliveryTypeDelivery,
			Address:  &Address{Street: "1 rue des Lilas", City: "Lyon", PostalCode: "69001"},
			Date:     "2024-05-03",
			TimeSlot: "9h-12h",
			Notes:    "Sonner <script>alert(1)</script>deux fois",
		},
	}
}

func TestOrderBuilderBuildsSnapshots(t *testing.T) {
	repo, builder := newTestOrderBuilder(t)

	draft, err := builder.Build(context.Background(), validBuildCommand())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !draft.TotalAmount.Equal(decimal.RequireFromString("64.98")) {
		t.Fatalf("expected total 64.98, got %s", draft.TotalAmount)
	}
	if draft.Currency != "EUR" {
		t.Fatalf("expected EUR, got %s", draft.Currency)
	}
	if len(draft.Items) != 2 || draft.Items[1].VariantName != "Petit" || draft.Items[0].ImageURL != "https://img/1.jpg" {
		t.Fatalf("unexpected items %+v", draft.Items)
	}
	if draft.CustomerInfo.Email != "camille@example.com" {
		t.Fatalf("expected normalised email, got %q", draft.CustomerInfo.Email)
	}
	if strings.Contains(draft.DeliveryInfo.Notes, "<script>") {
		t.Fatalf("expected sanitised notes, got %q", draft.DeliveryInfo.Notes)
	}

	// Catalogue edits after the snapshot never reach the draft.
	repo.products["prod_fixed"] = Product{ID: "prod_fixed", Name: "Renamed", Pricing: mustFixed(t, "99"), IsActive: true}
	if draft.Items[0].Name != "Bouquet du jour" || !draft.Items[0].UnitPrice.Equal(decimal.RequireFromString("19.99")) {
		t.Fatalf("snapshot changed: %+v", draft.Items[0])
	}
}

func TestOrderBuilderPricingTolerance(t *testing.T) {
	_, builder := newTestOrderBuilder(t)

	cmd := validBuildCommand()
	cmd.DeclaredTotal = decimal.RequireFromString("64.985")
	if _, err := builder.Build(context.Background(), cmd); err != nil {
		t.Fatalf("expected gap under a cent accepted, got %v", err)
	}

	cmd.DeclaredTotal = decimal.RequireFromString("64.97")
	if _, err := builder.Build(context.Background(), cmd); !errors.Is(err, ErrPricingMismatch) {
		t.Fatalf("expected ErrPricingMismatch for a one cent gap, got %v", err)
	}

	cmd.DeclaredTotal = decimal.RequireFromString("1")
	if _, err := builder.Build(context.Background(), cmd); !errors.Is(err, ErrPricingMismatch) {
		t.Fatalf("expected ErrPricingMismatch, got %v", err)
	}
}

func TestOrderBuilderQuantityBounds(t *testing.T) {
	_, builder := newTestOrderBuilder(t)

	for _, qty := range []int{0, 51, -1} {
		cmd := validBuildCommand()
		cmd.Lines = []CartLine{{ProductID: "prod_fixed", Quantity: qty}}
		if _, err := builder.Build(context.Background(), cmd); !errors.Is(err, ErrValidation) {
			t.Fatalf("qty %d: expected ErrValidation, got %v", qty, err)
		}
	}

	cmd := validBuildCommand()
	cmd.Lines = []CartLine{{ProductID: "prod_fixed", Quantity: 50}}
	cmd.DeclaredTotal = decimal.RequireFromString("999.50")
	if _, err := builder.Build(context.Background(), cmd); err != nil {
		t.Fatalf("qty 50: %v", err)
	}
}

func TestOrderBuilderLineErrors(t *testing.T) {
	_, builder := newTestOrderBuilder(t)

	cases := []struct {
		name string
		line CartLine
		want error
	}{
		{name: "inactive product", line: CartLine{ProductID: "prod_off", Quantity: 1}, want: ErrProductNotFound},
		{name: "unknown product", line: CartLine{ProductID: "nope", Quantity: 1}, want: ErrProductNotFound},
		{name: "inactive variant", line: CartLine{ProductID: "prod_var", Quantity: 1, VariantID: "Grand"}, want: ErrVariantInactive},
		{name: "unknown variant", line: CartLine{ProductID: "prod_var", Quantity: 1, VariantID: "Moyen"}, want: ErrVariantNotFound},
		{name: "custom out of range", line: CartLine{ProductID: "prod_custom", Quantity: 1, CustomPrice: decPtr("10")}, want: ErrPriceOutOfRange},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cmd := validBuildCommand()
			cmd.Lines = []CartLine{tc.line}
			if _, err := builder.Build(context.Background(), cmd); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestOrderBuilderDeliveryAndGiftRules(t *testing.T) {
	_, builder := newTestOrderBuilder(t)

	cases := []struct {
		name   string
		mutate func(*BuildOrderCommand)
	}{
		{name: "delivery without address", mutate: func(c *BuildOrderCommand) { c.DeliveryInfo.Address = nil }},
		{name: "pickup with address", mutate: func(c *BuildOrderCommand) { c.DeliveryInfo.Type = domain.DeliveryTypePickup }},
		{name: "unknown delivery type", mutate: func(c *BuildOrderCommand) { c.DeliveryInfo.Type = "drone" }},
		{name: "gift without info", mutate: func(c *BuildOrderCommand) { c.IsGift = true }},
		{name: "gift info without flag", mutate: func(c *BuildOrderCommand) { c.GiftInfo = &GiftInfo{RecipientName: "Lou"} }},
		{name: "gift without recipient", mutate: func(c *BuildOrderCommand) {
			c.IsGift = true
			c.GiftInfo = &GiftInfo{Message: "Bon anniversaire"}
		}},
		{name: "bad email", mutate: func(c *BuildOrderCommand) { c.CustomerInfo.Email = "camille" }},
		{name: "missing phone", mutate: func(c *BuildOrderCommand) { c.CustomerInfo.Phone = "" }},
		{name: "past date", mutate: func(c *BuildOrderCommand) { c.DeliveryInfo.Date = "2024-04-30" }},
		{name: "bad date", mutate: func(c *BuildOrderCommand) { c.DeliveryInfo.Date = "03/05/2024" }},
		{name: "missing slot", mutate: func(c *BuildOrderCommand) { c.DeliveryInfo.TimeSlot = " " }},
		{name: "empty cart", mutate: func(c *BuildOrderCommand) { c.Lines = nil }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cmd := validBuildCommand()
			tc.mutate(&cmd)
			if _, err := builder.Build(context.Background(), cmd); !errors.Is(err, ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestOrderBuilderPickupGift(t *testing.T) {
	_, builder := newTestOrderBuilder(t)

	cmd := validBuildCommand()
	cmd.DeliveryInfo.Type = domain.DeliveryTypePickup
	cmd.DeliveryInfo.Address = nil
	cmd.DeliveryInfo.Date = "2024-05-01"
	cmd.IsGift = true
	cmd.GiftInfo = &GiftInfo{RecipientName: "Lou", Message: "Joyeux <b>anniversaire</b>\nBises"}

	draft, err := builder.Build(context.Background(), cmd)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if draft.GiftInfo == nil || draft.GiftInfo.Message != "Joyeux anniversaire\nBises" {
		t.Fatalf("unexpected gift info %+v", draft.GiftInfo)
	}
}

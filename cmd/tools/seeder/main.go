// Command seeder loads a demo catalog and customer list. Items are only
// seeded into an empty catalog; customers whose phone exists are skipped.
package main

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-kasir/internal/catalog"
	"github.com/noah-isme/backend-kasir/internal/customer"
	"github.com/noah-isme/backend-kasir/internal/db"
	"github.com/noah-isme/backend-kasir/internal/obs"
)

func main() {
	_ = godotenv.Load()
	logger := obs.NewLogger("console", "info").With().Str("component", "seeder").Logger()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		logger.Fatal().Msg("DATABASE_URL is not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := db.Connect(ctx, dsn, "kasir-seeder")
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	items, err := catalog.NewService(catalog.ServiceConfig{Repo: catalog.NewPG(pool), Logger: zerolog.Nop()})
	if err != nil {
		logger.Fatal().Err(err).Msg("catalog service")
	}
	customers, err := customer.NewService(customer.ServiceConfig{Repo: customer.NewPG(pool), Logger: zerolog.Nop()})
	if err != nil {
		logger.Fatal().Err(err).Msg("customer service")
	}

	seedItems(ctx, logger, items)
	seedCustomers(ctx, logger, customers)
	logger.Info().Msg("seeding completed")
}

func stock(n int) *int { return &n }

func seedItems(ctx context.Context, logger zerolog.Logger, svc *catalog.Service) {
	_, total, err := svc.List(ctx, catalog.Filter{Limit: 1})
	if err != nil {
		logger.Error().Err(err).Msg("count items")
		return
	}
	if total > 0 {
		logger.Info().Int("existing", total).Msg("catalog not empty, skipping items")
		return
	}
	inputs := []catalog.Input{
		{Name: "Masala Chai", Price: 20, Category: "Beverages", Unit: "cup", SKU: "BEV-001"},
		{Name: "Filter Coffee", Price: 30, Category: "Beverages", Unit: "cup", SKU: "BEV-002"},
		{Name: "Mineral Water 1L", Price: 20, Category: "Beverages", Unit: "bottle", SKU: "BEV-003", Stock: stock(48)},
		{Name: "Samosa", Price: 15, Category: "Snacks", Unit: "pc", SKU: "SNK-001"},
		{Name: "Vada Pav", Price: 25, Category: "Snacks", Unit: "pc", SKU: "SNK-002"},
		{Name: "Potato Chips 50g", Price: 20, Category: "Snacks", Unit: "pack", SKU: "SNK-003", Stock: stock(60)},
		{Name: "Basmati Rice 5kg", Price: 650, Category: "Grocery", Unit: "bag", SKU: "GRC-001", Stock: stock(12)},
		{Name: "Toor Dal 1kg", Price: 160, Category: "Grocery", Unit: "pack", SKU: "GRC-002", Stock: stock(25)},
		{Name: "Sunflower Oil 1L", Price: 145, Category: "Grocery", Unit: "bottle", SKU: "GRC-003", Stock: stock(30)},
		{Name: "Notebook A5", Price: 45, Category: "Stationery", Unit: "pc", SKU: "STN-001", Stock: stock(100)},
		{Name: "Ball Pen Blue", Price: 10, Category: "Stationery", Unit: "pc", SKU: "STN-002", Stock: stock(200)},
	}
	created := 0
	for _, in := range inputs {
		if _, err := svc.Create(ctx, in); err != nil {
			logger.Error().Err(err).Str("item", in.Name).Msg("seed item")
			continue
		}
		created++
	}
	logger.Info().Int("created", created).Msg("items seeded")
}

func seedCustomers(ctx context.Context, logger zerolog.Logger, svc *customer.Service) {
	inputs := []customer.Input{
		{Name: "Aarav Sharma", Phone: "9876543210", Email: "aarav@example.com", Tags: []string{"regular"}},
		{Name: "Priya Patel", Phone: "9812345678", Address: "12 MG Road, Pune"},
		{Name: "Rohan Mehta", Phone: "9898989898", Tags: []string{"wholesale"}},
		{Name: "Sneha Iyer", Phone: "9123456780", Email: "sneha@example.com"},
		{Name: "Vikram Singh", Phone: "8899001122", Notes: "Prefers UPI"},
	}
	created := 0
	for _, in := range inputs {
		_, err := svc.Create(ctx, in)
		switch {
		case errors.Is(err, customer.ErrDuplicatePhone):
			continue
		case err != nil:
			logger.Error().Err(err).Str("phone", in.Phone).Msg("seed customer")
			continue
		}
		created++
	}
	logger.Info().Int("created", created).Msg("customers seeded")
}

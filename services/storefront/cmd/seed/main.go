// Command seed applies the schema and loads the demo collection, promo
// codes and the default shipping grid into PostgreSQL. Rows that already
// exist are kept.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/lunebijoux/storefront/pkg/database"
	"github.com/lunebijoux/storefront/pkg/logger"
	"github.com/lunebijoux/storefront/pkg/money"
	"github.com/lunebijoux/storefront/services/storefront/internal/config"
	"github.com/lunebijoux/storefront/services/storefront/internal/demo"
	"github.com/lunebijoux/storefront/services/storefront/internal/repository/postgres"
	"github.com/lunebijoux/storefront/services/storefront/internal/shipping"
	"github.com/lunebijoux/storefront/services/storefront/migrations"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	log := logger.New("storefront-seed", cfg.LogLevel)

	if err := run(cfg, log); err != nil {
		log.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	log.Info("seed complete")
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pgCfg := database.DefaultPostgresConfig()
	pgCfg.Host = cfg.PostgresHost
	pgCfg.Port = cfg.PostgresPort
	pgCfg.User = cfg.PostgresUser
	pgCfg.Password = cfg.PostgresPass
	pgCfg.DBName = cfg.PostgresDB
	pgCfg.SSLMode = cfg.PostgresSSL
	pgCfg.MaxConns = 2
	pgCfg.MinConns = 1

	pool, err := database.NewPostgresPool(ctx, &pgCfg, log)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := database.RunMigrations(ctx, pool, migrations.FS, log); err != nil {
		return err
	}

	seeder := postgres.NewSeeder(pool)
	for _, p := range demo.Products() {
		if err := seeder.Product(ctx, p.Product, p.Variants, p.Options); err != nil {
			return err
		}
		log.Info("product seeded", slog.String("product_id", p.ID), slog.Int("variants", len(p.Variants)))
	}
	for _, c := range demo.Promos() {
		if err := seeder.Promo(ctx, c); err != nil {
			return err
		}
	}
	for i, m := range shipping.DefaultMethods(money.Cents(cfg.FreeShippingDefaultCents)) {
		if err := seeder.ShippingMethod(ctx, m, i); err != nil {
			return err
		}
	}
	return nil
}

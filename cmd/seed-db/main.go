// Command seed-db creates a set of demo coupons with issued codes so a fresh
// environment has something to validate against.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/promo-engine/internal/domain/code"
	"github.com/xenking/promo-engine/internal/domain/coupon"
	"github.com/xenking/promo-engine/internal/storage/postgres"
)

// seedCoupon pairs a demo definition with the number of codes to issue.
type seedCoupon struct {
	def   coupon.Definition
	codes int
}

func demoCoupons(now time.Time) []seedCoupon {
	return []seedCoupon{
		{
			def: coupon.Definition{
				Name:   "Welcome 10% off",
				Type:   coupon.TypePercent,
				Params: coupon.PercentParams{PercentOff: decimal.NewFromInt(10)},
				Target: coupon.Target{FirstOrderOnly: true},
			},
			codes: 100,
		},
		{
			def: coupon.Definition{
				Name:        "Summer $15 off orders over $75",
				Type:        coupon.TypeAmount,
				Params:      coupon.AmountParams{AmountOff: decimal.NewFromInt(15)},
				Target:      coupon.Target{MinCartValue: decimal.NewFromInt(75)},
				ValidFrom:   now,
				ValidUntil:  now.AddDate(0, 3, 0),
				MaxDiscount: decimal.NewFromInt(15),
			},
			codes: 250,
		},
		{
			def: coupon.Definition{
				Name:             "Buy 2 get 1 free",
				Type:             coupon.TypeBogo,
				Params:           coupon.BogoParams{BuyQty: 2, GetQty: 1, Reward: coupon.RewardFree},
				PerCustomerLimit: 1,
			},
			codes: 50,
		},
	}
}

func main() {
	var databaseURL string

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL string) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	couponRepo := postgres.NewCouponRepository(pool)
	codeRepo := postgres.NewCodeRepository(pool)
	store := coupon.NewStore(couponRepo, codeRepo, nil)
	issuer := code.NewIssuer(codeRepo, store, nil)

	for _, seed := range demoCoupons(time.Now().UTC()) {
		def := seed.def
		if err := store.Create(ctx, &def); err != nil {
			return errors.Wrapf(err, "create coupon %q", def.Name)
		}

		codes, err := issuer.GenerateBulk(ctx, def.ID, code.GenerateSpec{Count: seed.codes})
		if err != nil {
			return errors.Wrapf(err, "issue codes for %q", def.Name)
		}

		if _, err := store.Activate(ctx, def.ID); err != nil {
			return errors.Wrapf(err, "activate %q", def.Name)
		}

		slog.Info("coupon seeded",
			slog.String("id", def.ID),
			slog.String("name", def.Name),
			slog.Int("codes", len(codes)),
			slog.String("sample_code", codes[0].Code),
		)
	}

	return nil
}

// Command code-batch bulk-generates codes for a coupon and exports them as a
// gzip-compressed list, one code per line, for handoff to print shops or
// email vendors.
package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"

	"github.com/xenking/promo-engine/internal/domain/code"
	"github.com/xenking/promo-engine/internal/domain/coupon"
	"github.com/xenking/promo-engine/internal/storage/postgres"
)

func main() {
	var (
		databaseURL string
		couponID    string
		count       int
		prefix      string
		length      int
		shards      int
		batchID     string
		maxUses     int
		out         string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&couponID, "coupon-id", "", "coupon to generate codes for")
	flag.IntVar(&count, "count", 0, "number of codes to generate")
	flag.StringVar(&prefix, "prefix", "", "optional human-readable code prefix")
	flag.IntVar(&length, "length", 0, "code length excluding prefix (default 8)")
	flag.IntVar(&shards, "shards", 0, "generation worker count (default 4)")
	flag.StringVar(&batchID, "batch-id", "", "batch label, generated when empty")
	flag.IntVar(&maxUses, "max-uses", 1, "per-code usage limit, 0 for unlimited")
	flag.StringVar(&out, "out", "", "write codes to this .gz file instead of stdout")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if couponID == "" || count <= 0 {
		slog.Error("--coupon-id and a positive --count are required")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, couponID, out, code.GenerateSpec{
		Count:   count,
		Prefix:  prefix,
		Length:  length,
		Shards:  shards,
		BatchID: batchID,
		MaxUses: maxUses,
	}); err != nil {
		slog.Error("code batch failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("code batch completed", slog.Int("count", count))
}

func run(ctx context.Context, databaseURL, couponID, out string, spec code.GenerateSpec) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	couponRepo := postgres.NewCouponRepository(pool)
	codeRepo := postgres.NewCodeRepository(pool)
	store := coupon.NewStore(couponRepo, codeRepo, nil)
	issuer := code.NewIssuer(codeRepo, store, nil)

	slog.Info("warming bloom filter")
	if err := issuer.Warm(ctx); err != nil {
		return errors.Wrap(err, "warm bloom filter")
	}

	slog.Info("generating codes",
		slog.String("coupon_id", couponID),
		slog.Int("count", spec.Count),
	)
	codes, err := issuer.GenerateBulk(ctx, couponID, spec)
	if err != nil {
		return errors.Wrap(err, "generate codes")
	}

	if out == "" {
		w := bufio.NewWriter(os.Stdout)
		for _, c := range codes {
			if _, err := w.WriteString(c.Code + "\n"); err != nil {
				return errors.Wrap(err, "write code")
			}
		}
		return errors.Wrap(w.Flush(), "flush output")
	}
	return exportGz(out, codes)
}

// exportGz writes one code per line to a gzip-compressed file.
func exportGz(path string, codes []code.Code) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	defer func() { _ = f.Close() }()

	gz := pgzip.NewWriter(f)
	w := bufio.NewWriter(gz)
	for _, c := range codes {
		if _, err := w.WriteString(c.Code + "\n"); err != nil {
			return errors.Wrap(err, "write code")
		}
	}
	if err := w.Flush(); err != nil {
		return errors.Wrap(err, "flush output")
	}
	if err := gz.Close(); err != nil {
		return errors.Wrapf(err, "close gzip writer for %s", path)
	}

	slog.Info("codes exported", slog.String("path", path), slog.Int("count", len(codes)))
	return f.Close()
}

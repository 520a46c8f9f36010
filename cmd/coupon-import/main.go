// Command coupon-import loads coupon definitions from CSV files, optionally
// gzip-compressed, into PostgreSQL.
package main

import (
	"context"
	"flag"
	"hash/fnv"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront-checkout/internal/domain/coupon"
	"github.com/xenking/storefront-checkout/internal/storage/postgres"
)

const (
	bloomCapacity = 1_000_000
	bloomFPR      = 0.001
	progressEvery = 10_000
)

// store is the subset of the coupon repository the importer writes to.
type store interface {
	Exists(ctx context.Context, code string) (bool, error)
	Upsert(ctx context.Context, c *coupon.Coupon) error
}

type options struct {
	Files        []string
	SkipExisting bool
	Workers      int
	DryRun       bool
}

type stats struct {
	Rows       int64
	Written    int64
	Skipped    int64
	Superseded int64
}

func main() {
	var (
		opts        options
		databaseURL string
	)
	flag.Func("file", "CSV file to import, .gz files are decompressed (repeatable)", func(s string) error {
		opts.Files = append(opts.Files, s)
		return nil
	})
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.BoolVar(&opts.SkipExisting, "skip-existing", false, "keep coupons that are already stored")
	flag.IntVar(&opts.Workers, "workers", 4, "concurrent database writers")
	flag.BoolVar(&opts.DryRun, "dry-run", false, "validate the files without writing")
	flag.Parse()

	if len(opts.Files) == 0 {
		slog.Error("at least one --file is required")
		os.Exit(2)
	}
	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" && !opts.DryRun {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, opts); err != nil {
		slog.Error("coupon import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, databaseURL string, opts options) error {
	// Pass 1: validate every file before anything is written.
	slog.Info("pass 1: validating files", slog.Int("files", len(opts.Files)))
	filters, err := validateFiles(ctx, opts.Files)
	if err != nil {
		return errors.Wrap(err, "validate")
	}
	if opts.DryRun {
		slog.Info("dry run: files are valid")
		return nil
	}

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	// Pass 2: stream the rows again and upsert them.
	slog.Info("pass 2: writing coupons")
	st, err := importFiles(ctx, postgres.New(pool).Coupons(), opts, filters)
	if err != nil {
		return errors.Wrap(err, "import")
	}
	slog.Info("coupon import completed",
		slog.Int64("rows", st.Rows),
		slog.Int64("written", st.Written),
		slog.Int64("skipped", st.Skipped),
		slog.Int64("superseded", st.Superseded),
	)
	return nil
}

// validateFiles parses all files concurrently and returns one bloom filter
// of codes per file.
func validateFiles(ctx context.Context, files []string) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
			var rows int
			err := streamFile(ctx, path, func(c *coupon.Coupon) error {
				filter.AddString(c.Code)
				rows++
				return nil
			})
			if err != nil {
				return errors.Wrapf(err, "%s", path)
			}
			slog.Info("pass 1 complete", slog.String("file", path), slog.Int("rows", rows))
			filters[i] = filter
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

// importFiles upserts every row. Rows are sharded by code so that a code
// listed more than once is written in file order and the last row wins.
func importFiles(ctx context.Context, s store, opts options, filters []*bloom.BloomFilter) (*stats, error) {
	workers := max(opts.Workers, 1)
	var st stats

	g, ctx := errgroup.WithContext(ctx)
	shards := make([]chan *coupon.Coupon, workers)
	for i := range shards {
		ch := make(chan *coupon.Coupon, 64)
		shards[i] = ch
		g.Go(func() error {
			for c := range ch {
				if err := write(ctx, s, c, opts.SkipExisting, &st); err != nil {
					return err
				}
			}
			return nil
		})
	}

	g.Go(func() error {
		defer func() {
			for _, ch := range shards {
				close(ch)
			}
		}()
		for i, path := range opts.Files {
			err := streamFile(ctx, path, func(c *coupon.Coupon) error {
				if n := atomic.AddInt64(&st.Rows, 1); n%progressEvery == 0 {
					slog.Info("pass 2 progress", slog.Int64("rows", n))
				}
				if supersededLater(filters, i, c.Code) {
					atomic.AddInt64(&st.Superseded, 1)
				}
				select {
				case shards[shard(c.Code, workers)] <- c:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			})
			if err != nil {
				return errors.Wrapf(err, "%s", path)
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &st, nil
}

func write(ctx context.Context, s store, c *coupon.Coupon, skipExisting bool, st *stats) error {
	if skipExisting {
		ok, err := s.Exists(ctx, c.Code)
		if err != nil {
			return err
		}
		if ok {
			atomic.AddInt64(&st.Skipped, 1)
			return nil
		}
	}
	if err := s.Upsert(ctx, c); err != nil {
		return err
	}
	atomic.AddInt64(&st.Written, 1)
	return nil
}

// supersededLater reports whether a later file probably lists code too.
func supersededLater(filters []*bloom.BloomFilter, idx int, code string) bool {
	for j := idx + 1; j < len(filters); j++ {
		if filters[j] != nil && filters[j].TestString(code) {
			return true
		}
	}
	return false
}

func shard(code string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(code))
	return int(h.Sum32() % uint32(n))
}

// streamFile calls fn for each coupon in a CSV file. Files ending in .gz
// are decompressed.
func streamFile(ctx context.Context, path string, fn func(c *coupon.Coupon) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open")
	}
	defer func() { _ = f.Close() }()

	var src io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return errors.Wrap(err, "create gzip reader")
		}
		defer func() { _ = gz.Close() }()
		src = gz
	}

	r, err := newReader(src)
	if err != nil {
		return err
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		c, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(c); err != nil {
			return err
		}
	}
}

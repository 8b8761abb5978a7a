// Package codeimport bulk-loads discount codes from line-oriented dumps.
//
// Each line holds CODE or CODE,TYPE,AMOUNT[,MAX_REDEMPTIONS]. Blank lines and
// lines starting with '#' are skipped. Codes are normalized, de-duplicated
// across all sources with a bloom filter and written in batches; the store
// skips codes that already exist.
package codeimport

import (
	"bufio"
	"context"
	"io"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/sos-pricing/internal/domain/discount"
)

const progressEvery = 1_000_000

// Store persists imported codes, skipping those already present.
type Store interface {
	ImportCodes(ctx context.Context, codes []discount.Code) (int64, error)
}

// Defaults apply to lines that carry only a code.
type Defaults struct {
	Type           discount.Type
	Amount         decimal.Decimal
	Active         bool
	ExpiresAt      *time.Time
	MaxRedemptions *int
}

// Config tunes an Importer.
type Config struct {
	Defaults  Defaults
	BatchSize int
	// ExpectedCodes and FalsePositiveRate size the bloom filter. A false
	// positive drops a unique code, so keep the rate low.
	ExpectedCodes     uint
	FalsePositiveRate float64
}

// Stats summarizes an import run.
type Stats struct {
	Read       int64
	Invalid    int64
	Duplicates int64
	Inserted   int64
}

// Source is one named input.
type Source struct {
	Name string
	Open func() (io.ReadCloser, error)
}

type gzipFile struct {
	*pgzip.Reader
	f *os.File
}

func (g gzipFile) Close() error {
	gzErr := g.Reader.Close()
	if err := g.f.Close(); err != nil {
		return err
	}
	return gzErr
}

// FileSource reads path, decompressing it when it ends in .gz.
func FileSource(path string) Source {
	return Source{
		Name: path,
		Open: func() (io.ReadCloser, error) {
			f, err := os.Open(path)
			if err != nil {
				return nil, errors.Wrap(err, "open")
			}
			if !strings.HasSuffix(path, ".gz") {
				return f, nil
			}
			gz, err := pgzip.NewReader(f)
			if err != nil {
				_ = f.Close()
				return nil, errors.Wrap(err, "gzip reader")
			}
			return gzipFile{Reader: gz, f: f}, nil
		},
	}
}

// ParseLine turns a line into a code. ok is false for lines without a code.
func ParseLine(line string, def Defaults) (c discount.Code, ok bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return discount.Code{}, false, nil
	}

	fields := strings.Split(line, ",")
	c = discount.Code{
		Code:           discount.Normalize(fields[0]),
		Type:           def.Type,
		Amount:         def.Amount,
		Active:         def.Active,
		ExpiresAt:      def.ExpiresAt,
		MaxRedemptions: def.MaxRedemptions,
	}
	switch len(fields) {
	case 1:
	case 3, 4:
		c.Type = discount.Type(strings.ToUpper(strings.TrimSpace(fields[1])))
		if c.Amount, err = decimal.NewFromString(strings.TrimSpace(fields[2])); err != nil {
			return discount.Code{}, false, errors.Wrap(err, "amount")
		}
		if len(fields) == 4 {
			limit, err := strconv.Atoi(strings.TrimSpace(fields[3]))
			if err != nil {
				return discount.Code{}, false, errors.Wrap(err, "max redemptions")
			}
			c.MaxRedemptions = &limit
		}
	default:
		return discount.Code{}, false, errors.Errorf("want 1, 3 or 4 fields, got %d", len(fields))
	}

	if err := discount.Validate(&c); err != nil {
		return discount.Code{}, false, err
	}
	return c, true, nil
}

// Importer streams sources into a Store.
type Importer struct {
	store Store
	cfg   Config
	now   func() time.Time
}

// New creates an Importer. Zero config values get defaults.
func New(store Store, cfg Config) *Importer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	if cfg.ExpectedCodes == 0 {
		cfg.ExpectedCodes = 1_000_000
	}
	if cfg.FalsePositiveRate <= 0 {
		cfg.FalsePositiveRate = 1e-7
	}
	return &Importer{store: store, cfg: cfg, now: time.Now}
}

type counters struct {
	read, invalid, duplicates, inserted atomic.Int64
}

// Run reads all sources concurrently and writes unique codes in batches.
// The returned Stats are valid even when err is not nil.
func (im *Importer) Run(ctx context.Context, sources ...Source) (Stats, error) {
	var c counters
	codes := make(chan discount.Code, im.cfg.BatchSize)

	g, gctx := errgroup.WithContext(ctx)
	readers, rctx := errgroup.WithContext(gctx)
	for _, src := range sources {
		readers.Go(func() error {
			return im.read(rctx, src, codes, &c)
		})
	}
	g.Go(func() error {
		defer close(codes)
		return readers.Wait()
	})
	g.Go(func() error {
		return im.write(gctx, codes, &c)
	})

	err := g.Wait()
	return Stats{
		Read:       c.read.Load(),
		Invalid:    c.invalid.Load(),
		Duplicates: c.duplicates.Load(),
		Inserted:   c.inserted.Load(),
	}, err
}

func (im *Importer) read(ctx context.Context, src Source, out chan<- discount.Code, c *counters) error {
	lg := zctx.From(ctx).With(zap.String("source", src.Name))

	r, err := src.Open()
	if err != nil {
		return errors.Wrapf(err, "source %s", src.Name)
	}
	defer func() { _ = r.Close() }()

	scanner := bufio.NewScanner(r)
	var line int
	for scanner.Scan() {
		line++
		code, ok, err := ParseLine(scanner.Text(), im.cfg.Defaults)
		if err != nil {
			c.invalid.Add(1)
			lg.Warn("Skipping invalid line", zap.Int("line", line), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		if n := c.read.Add(1); n%progressEvery == 0 {
			lg.Info("Import progress", zap.Int64("read", n))
		}
		select {
		case out <- code:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", src.Name)
	}
	lg.Info("Source complete", zap.Int("lines", line))
	return nil
}

func (im *Importer) write(ctx context.Context, in <-chan discount.Code, c *counters) error {
	seen := bloom.NewWithEstimates(im.cfg.ExpectedCodes, im.cfg.FalsePositiveRate)
	batch := make([]discount.Code, 0, im.cfg.BatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := im.store.ImportCodes(ctx, batch)
		c.inserted.Add(n)
		if err != nil {
			return errors.Wrap(err, "import batch")
		}
		// Codes that already existed in the store count as duplicates.
		c.duplicates.Add(int64(len(batch)) - n)
		batch = batch[:0]
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case code, ok := <-in:
			if !ok {
				return flush()
			}
			if seen.TestAndAddString(code.Code) {
				c.duplicates.Add(1)
				continue
			}
			code.ID = uuid.NewString()
			code.CreatedAt = im.now()
			batch = append(batch, code)
			if len(batch) == im.cfg.BatchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}
	}
}

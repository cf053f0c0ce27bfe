// Package exporter assembles a ticker's complete option chain, one entry per
// expiration date, and renders it as a single JSON document.
package exporter

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/seenimoa/optchain/internal/datasource"
	"github.com/seenimoa/optchain/pkg/models"
)

// Exporter fetches and renders option chains from an OptionSource.
type Exporter struct {
	src         datasource.OptionSource
	log         logrus.FieldLogger
	concurrency int
	enc         models.Encoder
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithLogger sets the logger. The default discards output.
func WithLogger(log logrus.FieldLogger) Option {
	return func(e *Exporter) {
		if log != nil {
			e.log = log
		}
	}
}

// WithConcurrency bounds how many expirations are fetched at once.
// 1 (the default) fetches strictly one after another.
func WithConcurrency(n int) Option {
	return func(e *Exporter) {
		if n < 1 {
			n = 1
		}
		e.concurrency = n
	}
}

// WithNonFinite sets how NaN and ±Inf values are encoded.
func WithNonFinite(p models.NonFinitePolicy) Option {
	return func(e *Exporter) { e.enc.NonFinite = p }
}

// New creates an Exporter reading from src.
func New(src datasource.OptionSource, opts ...Option) *Exporter {
	quiet := logrus.New()
	quiet.SetOutput(io.Discard)

	e := &Exporter{
		src:         src,
		log:         quiet,
		concurrency: 1,
		enc:         models.Encoder{NonFinite: models.NonFiniteNull},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Collect fetches every expiration's calls and puts for ticker. Dates keep
// the provider's order. Any failure discards everything fetched so far.
func (e *Exporter) Collect(ctx context.Context, ticker string) (*models.OptionsData, error) {
	log := e.log.WithField("ticker", ticker)
	h := e.src.Ticker(ticker)

	dates, err := h.Expirations(ctx)
	if err != nil {
		return nil, dataSourceError("expirations", err)
	}
	log.WithField("expirations", len(dates)).Debug("expirations fetched")

	chains := make([]models.OptionsChain, len(dates))
	if e.concurrency <= 1 || len(dates) <= 1 {
		for i, date := range dates {
			chain, err := e.fetchChain(ctx, h, date)
			if err != nil {
				return nil, err
			}
			chains[i] = chain
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.concurrency)
		for i, date := range dates {
			g.Go(func() error {
				chain, err := e.fetchChain(gctx, h, date)
				if err != nil {
					return err
				}
				chains[i] = chain
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	data := models.NewOptionsData()
	var calls, puts int
	for i, date := range dates {
		data.Set(date, chains[i])
		calls += chains[i].Calls.Len()
		puts += chains[i].Puts.Len()
	}
	log.WithFields(logrus.Fields{"calls": calls, "puts": puts}).Debug("option chain collected")
	return data, nil
}

func (e *Exporter) fetchChain(ctx context.Context, h datasource.OptionTicker, date string) (models.OptionsChain, error) {
	calls, err := h.Calls(ctx, date)
	if err != nil {
		return models.OptionsChain{}, dataSourceError("calls "+date, err)
	}
	puts, err := h.Puts(ctx, date)
	if err != nil {
		return models.OptionsChain{}, dataSourceError("puts "+date, err)
	}
	if calls == nil {
		calls = &models.ContractTable{}
	}
	if puts == nil {
		puts = &models.ContractTable{}
	}
	return models.OptionsChain{Calls: calls, Puts: puts}, nil
}

// Encode renders data as compact JSON.
func (e *Exporter) Encode(data *models.OptionsData) ([]byte, error) {
	out, err := e.enc.Marshal(data)
	if err != nil {
		return nil, serializationError(err)
	}
	return out, nil
}

// Export collects ticker's option chain and writes it to w as one JSON line.
// Nothing is written unless the whole document was fetched and encoded.
func (e *Exporter) Export(ctx context.Context, ticker string, w io.Writer) error {
	data, err := e.Collect(ctx, ticker)
	if err != nil {
		return err
	}
	out, err := e.Encode(data)
	if err != nil {
		return err
	}
	if _, err := w.Write(append(out, '\n')); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

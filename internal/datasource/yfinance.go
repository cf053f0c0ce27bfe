package datasource

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/seenimoa/optchain/internal/config"
	"github.com/seenimoa/optchain/pkg/models"
	"github.com/seenimoa/optchain/pkg/utils"
)

// YFinance implements OptionSource using the Yahoo Finance v7 options API.
type YFinance struct {
	sess *session
	log  logrus.FieldLogger
}

// NewYFinance creates a new Yahoo Finance data source. A nil logger discards
// all output.
func NewYFinance(cfg config.YahooConfig, log logrus.FieldLogger) (*YFinance, error) {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	log = log.WithField("source", "yfinance")

	sess, err := newSession(cfg, log)
	if err != nil {
		return nil, err
	}
	return &YFinance{sess: sess, log: log}, nil
}

// Name returns the data source name.
func (y *YFinance) Name() string { return "Yahoo Finance" }

// Ticker returns a handle for symbol. The symbol is passed to Yahoo as-is.
func (y *YFinance) Ticker(symbol string) OptionTicker {
	return &yfTicker{src: y, symbol: symbol}
}

// fetchOptions fetches optionChain.result[0] for symbol. epoch 0 asks for the
// nearest expiry together with the list of all expirations. The returned
// result does not exist when Yahoo sent an empty result list.
func (y *YFinance) fetchOptions(ctx context.Context, symbol string, epoch int64) (gjson.Result, error) {
	query := url.Values{}
	if epoch > 0 {
		query.Set("date", strconv.FormatInt(epoch, 10))
	}

	body, err := y.sess.getJSON(ctx, "/v7/finance/options/"+url.PathEscape(symbol), query)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("yfinance options %s: %w", symbol, err)
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, fmt.Errorf("yfinance options %s: %w: invalid JSON", symbol, ErrMalformed)
	}

	chain := gjson.GetBytes(body, "optionChain")
	if !chain.IsObject() {
		return gjson.Result{}, fmt.Errorf("yfinance options %s: %w: missing optionChain", symbol, ErrMalformed)
	}
	if e := chain.Get("error"); e.IsObject() {
		return gjson.Result{}, fmt.Errorf("yfinance options %s: %w: %s: %s",
			symbol, ErrProvider, e.Get("code").String(), e.Get("description").String())
	}
	return chain.Get("result.0"), nil
}

// yfTicker is a Yahoo handle scoped to one symbol. It remembers the
// date-to-timestamp mapping from discovery so per-date queries can address
// Yahoo by epoch.
type yfTicker struct {
	src    *YFinance
	symbol string

	mu         sync.Mutex
	discovered bool
	dates      []string
	epochs     map[string]int64
}

func (t *yfTicker) Symbol() string { return t.symbol }

// Expirations returns the listed expiration dates in Yahoo's order. An
// unknown ticker (HTTP 404 or an empty result) has no expirations.
func (t *yfTicker) Expirations(ctx context.Context) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.discover(ctx); err != nil {
		return nil, err
	}
	out := make([]string, len(t.dates))
	copy(out, t.dates)
	return out, nil
}

// discover loads the expiration list once. Must be called with mu held.
func (t *yfTicker) discover(ctx context.Context) error {
	if t.discovered {
		return nil
	}

	result, err := t.src.fetchOptions(ctx, t.symbol, 0)
	if err != nil && !IsNotFound(err) {
		return err
	}

	t.epochs = make(map[string]int64)
	t.dates = nil
	if err == nil && result.Exists() {
		stamps := result.Get("expirationDates")
		if stamps.Exists() && !stamps.IsArray() {
			return fmt.Errorf("yfinance options %s: %w: expirationDates is not an array", t.symbol, ErrMalformed)
		}
		for _, ts := range stamps.Array() {
			if ts.Type != gjson.Number {
				return fmt.Errorf("yfinance options %s: %w: expiration %s is not a timestamp", t.symbol, ErrMalformed, ts.Raw)
			}
			date := utils.FormatExpiry(ts.Int())
			if _, dup := t.epochs[date]; !dup {
				t.dates = append(t.dates, date)
			}
			t.epochs[date] = ts.Int()
		}
	}

	t.discovered = true
	t.src.log.WithFields(logrus.Fields{"ticker": t.symbol, "expirations": len(t.dates)}).Debug("expirations discovered")
	return nil
}

func (t *yfTicker) epoch(ctx context.Context, expiry string) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.discover(ctx); err != nil {
		return 0, err
	}
	e, ok := t.epochs[expiry]
	if !ok {
		return 0, fmt.Errorf("%w: %s has no expiry %q (available: %s)",
			ErrExpirationNotFound, t.symbol, expiry, strings.Join(t.dates, ", "))
	}
	return e, nil
}

// Calls returns the call-side contracts for expiry.
func (t *yfTicker) Calls(ctx context.Context, expiry string) (*models.ContractTable, error) {
	return t.side(ctx, expiry, "calls")
}

// Puts returns the put-side contracts for expiry.
func (t *yfTicker) Puts(ctx context.Context, expiry string) (*models.ContractTable, error) {
	return t.side(ctx, expiry, "puts")
}

func (t *yfTicker) side(ctx context.Context, expiry, side string) (*models.ContractTable, error) {
	epoch, err := t.epoch(ctx, expiry)
	if err != nil {
		return nil, err
	}

	result, err := t.src.fetchOptions(ctx, t.symbol, epoch)
	if err != nil {
		return nil, err
	}
	if !result.Get("options.0").Exists() {
		t.src.log.WithFields(logrus.Fields{"ticker": t.symbol, "expiry": expiry}).Debug("no chain returned for expiry")
		return &models.ContractTable{}, nil
	}

	table, err := ParseContractTable(result.Get("options.0." + side))
	if err != nil {
		return nil, fmt.Errorf("yfinance options %s %s %s: %w", t.symbol, expiry, side, err)
	}
	return table, nil
}

var _ OptionSource = (*YFinance)(nil)

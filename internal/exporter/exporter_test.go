package exporter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seenimoa/optchain/internal/datasource"
	"github.com/seenimoa/optchain/pkg/models"
)

// ════════════════════════════════════════════════════════════════════
// Fake source
// ════════════════════════════════════════════════════════════════════

type fakeSource struct {
	mu      sync.Mutex
	dates   []string
	calls   map[string]*models.ContractTable
	puts    map[string]*models.ContractTable
	failOn  string // "expirations", "calls <date>", "puts <date>"
	delay   time.Duration
	queries []string
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) Ticker(symbol string) datasource.OptionTicker {
	return &fakeTicker{src: f, symbol: symbol}
}

func (f *fakeSource) record(q string) error {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.mu.Unlock()
	if f.failOn == q {
		return errors.New("network timeout")
	}
	return nil
}

func (f *fakeSource) queryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

type fakeTicker struct {
	src    *fakeSource
	symbol string
}

func (t *fakeTicker) Symbol() string { return t.symbol }

func (t *fakeTicker) Expirations(ctx context.Context) ([]string, error) {
	if err := t.src.record("expirations"); err != nil {
		return nil, err
	}
	return append([]string(nil), t.src.dates...), nil
}

func (t *fakeTicker) Calls(ctx context.Context, expiry string) (*models.ContractTable, error) {
	return t.side(ctx, "calls "+expiry, t.src.calls[expiry])
}

func (t *fakeTicker) Puts(ctx context.Context, expiry string) (*models.ContractTable, error) {
	return t.side(ctx, "puts "+expiry, t.src.puts[expiry])
}

func (t *fakeTicker) side(ctx context.Context, q string, table *models.ContractTable) (*models.ContractTable, error) {
	if t.src.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(t.src.delay):
		}
	}
	if err := t.src.record(q); err != nil {
		return nil, err
	}
	return table, nil
}

func callRow(strike string) models.Record {
	return models.Record{
		{Name: "strike", Value: json.Number(strike)},
		{Name: "bid", Value: json.Number("5.0")},
		{Name: "ask", Value: json.Number("5.2")},
	}
}

func aaplSource() *fakeSource {
	row := &models.ContractTable{Columns: []string{"strike", "bid", "ask"}, Records: []models.Record{callRow("150")}}
	return &fakeSource{
		dates: []string{"2024-01-19", "2024-02-16"},
		calls: map[string]*models.ContractTable{"2024-01-19": row, "2024-02-16": row},
		puts:  map[string]*models.ContractTable{"2024-01-19": {}, "2024-02-16": {}},
	}
}

// ════════════════════════════════════════════════════════════════════
// Export
// ════════════════════════════════════════════════════════════════════

func TestExportScenarioAAPL(t *testing.T) {
	src := aaplSource()
	var out bytes.Buffer

	err := New(src).Export(context.Background(), "AAPL", &out)
	require.NoError(t, err)

	want := `{"2024-01-19":{"calls":[{"strike":150,"bid":5.0,"ask":5.2}],"puts":[]},` +
		`"2024-02-16":{"calls":[{"strike":150,"bid":5.0,"ask":5.2}],"puts":[]}}` + "\n"
	assert.Equal(t, want, out.String())

	// 1 discovery + 2 sides per date, in order.
	assert.Equal(t, []string{
		"expirations",
		"calls 2024-01-19", "puts 2024-01-19",
		"calls 2024-02-16", "puts 2024-02-16",
	}, src.queries)
}

func TestExportNoExpirations(t *testing.T) {
	var out bytes.Buffer
	err := New(&fakeSource{}).Export(context.Background(), "NOOPT", &out)
	require.NoError(t, err)
	assert.Equal(t, "{}\n", out.String())
}

func TestExportStructure(t *testing.T) {
	src := aaplSource()
	src.dates = append(src.dates, "2024-03-15") // no tables registered: nil tables
	var out bytes.Buffer
	require.NoError(t, New(src).Export(context.Background(), "AAPL", &out))

	var doc map[string]map[string][]map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &doc))
	assert.Len(t, doc, 3)

	var calls, puts int
	for date, chain := range doc {
		assert.Len(t, chain, 2, date)
		assert.Contains(t, chain, "calls")
		assert.Contains(t, chain, "puts")
		assert.NotNil(t, chain["calls"], date)
		assert.NotNil(t, chain["puts"], date)
		calls += len(chain["calls"])
		puts += len(chain["puts"])
	}
	assert.Equal(t, 2, calls)
	assert.Equal(t, 0, puts)
}

func TestExportIsDeterministic(t *testing.T) {
	var a, b bytes.Buffer
	require.NoError(t, New(aaplSource()).Export(context.Background(), "AAPL", &a))
	require.NoError(t, New(aaplSource()).Export(context.Background(), "AAPL", &b))
	assert.Equal(t, a.Bytes(), b.Bytes())
}

func TestExportFailuresWriteNothing(t *testing.T) {
	tests := []struct {
		failOn  string
		wantOps string
	}{
		{"expirations", "expirations"},
		{"calls 2024-01-19", "calls 2024-01-19"},
		{"puts 2024-02-16", "puts 2024-02-16"},
	}
	for _, tt := range tests {
		t.Run(tt.failOn, func(t *testing.T) {
			src := aaplSource()
			src.failOn = tt.failOn
			var out bytes.Buffer

			err := New(src).Export(context.Background(), "AAPL", &out)
			require.Error(t, err)
			assert.Equal(t, KindDataSource, KindOf(err))
			assert.Equal(t, ExitDataSource, ExitCode(err))
			assert.Contains(t, err.Error(), tt.wantOps)
			assert.Contains(t, err.Error(), "network timeout")
			assert.Empty(t, out.String())
		})
	}
}

func TestExportStopsAtFirstFailure(t *testing.T) {
	src := aaplSource()
	src.failOn = "calls 2024-01-19"
	_ = New(src).Export(context.Background(), "AAPL", &bytes.Buffer{})
	assert.Equal(t, []string{"expirations", "calls 2024-01-19"}, src.queries)
}

func TestExportNonFinitePolicy(t *testing.T) {
	build := func() *fakeSource {
		src := aaplSource()
		src.puts["2024-01-19"] = &models.ContractTable{Records: []models.Record{{{Name: "impliedVolatility", Value: math.NaN()}}}}
		return src
	}

	var out bytes.Buffer
	require.NoError(t, New(build()).Export(context.Background(), "AAPL", &out))
	assert.Contains(t, out.String(), `"puts":[{"impliedVolatility":null}]`)

	out.Reset()
	err := New(build(), WithNonFinite(models.NonFiniteError)).Export(context.Background(), "AAPL", &out)
	require.Error(t, err)
	assert.Equal(t, KindSerialization, KindOf(err))
	assert.Equal(t, ExitSerialization, ExitCode(err))
	assert.True(t, errors.Is(err, models.ErrNonFinite))
	assert.Empty(t, out.String())
}

// ════════════════════════════════════════════════════════════════════
// Concurrency
// ════════════════════════════════════════════════════════════════════

func manyDates(n int) *fakeSource {
	src := &fakeSource{
		calls: map[string]*models.ContractTable{},
		puts:  map[string]*models.ContractTable{},
		delay: time.Millisecond,
	}
	start := time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		d := start.AddDate(0, 0, 7*i).Format("2006-01-02")
		src.dates = append(src.dates, d)
		src.calls[d] = &models.ContractTable{Records: []models.Record{callRow(d[8:])}}
		src.puts[d] = &models.ContractTable{}
	}
	return src
}

func TestConcurrentMatchesSequential(t *testing.T) {
	var seq, par bytes.Buffer
	require.NoError(t, New(manyDates(12)).Export(context.Background(), "SPY", &seq))
	require.NoError(t, New(manyDates(12), WithConcurrency(4)).Export(context.Background(), "SPY", &par))
	assert.Equal(t, seq.String(), par.String())
}

func TestConcurrentFailureWritesNothing(t *testing.T) {
	src := manyDates(8)
	src.failOn = "puts " + src.dates[3]
	var out bytes.Buffer

	err := New(src, WithConcurrency(3)).Export(context.Background(), "SPY", &out)
	require.Error(t, err)
	assert.Equal(t, KindDataSource, KindOf(err))
	assert.Empty(t, out.String())
	assert.LessOrEqual(t, src.queryCount(), 1+2*len(src.dates))
}

func TestWithConcurrencyClampsToOne(t *testing.T) {
	e := New(&fakeSource{}, WithConcurrency(0))
	assert.Equal(t, 1, e.concurrency)
}

func TestContextCancelled(t *testing.T) {
	src := manyDates(3)
	src.delay = time.Second
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := New(src).Export(ctx, "SPY", &bytes.Buffer{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// ════════════════════════════════════════════════════════════════════
// Errors
// ════════════════════════════════════════════════════════════════════

func TestErrorKinds(t *testing.T) {
	arg := ArgumentError("requires exactly 1 ticker argument, received %d", 0)
	assert.Equal(t, KindArgument, KindOf(arg))
	assert.Equal(t, ExitArgument, ExitCode(arg))
	assert.Equal(t, "argument error: requires exactly 1 ticker argument, received 0", arg.Error())

	assert.Equal(t, ExitOK, ExitCode(nil))
	assert.Equal(t, ExitFailure, ExitCode(errors.New("other")))
	assert.Equal(t, KindUnknown, KindOf(errors.New("other")))

	ds := dataSourceError("calls 2024-01-19", errors.New("timeout"))
	assert.Equal(t, "data-source error: calls 2024-01-19: timeout", ds.Error())
}

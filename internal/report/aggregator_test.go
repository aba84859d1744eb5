package report

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/zgpcy/azure-cost-report/internal/clock"
	"github.com/zgpcy/azure-cost-report/internal/logger"
	"github.com/zgpcy/azure-cost-report/internal/provider"
)

var testNow = time.Date(2026, time.July, 10, 8, 30, 0, 0, time.UTC)

type mockLister struct {
	subs []provider.Subscription
	err  error
}

func (m *mockLister) ListSubscriptions(ctx context.Context) ([]provider.Subscription, error) {
	return m.subs, m.err
}

// mockCredentials fails or panics for chosen subscription IDs
type mockCredentials struct {
	mu     sync.Mutex
	errs   map[string]error
	panics map[string]bool
	calls  []string
}

func (m *mockCredentials) GetToken(ctx context.Context, sub provider.Subscription) (provider.AccessToken, error) {
	m.mu.Lock()
	m.calls = append(m.calls, sub.ID)
	m.mu.Unlock()

	if m.panics[sub.ID] {
		panic("credential store corrupted")
	}
	if err := m.errs[sub.ID]; err != nil {
		return provider.AccessToken{}, err
	}
	return provider.AccessToken{Token: "token-" + sub.ID}, nil
}

type mockCosts struct {
	mu      sync.Mutex
	results map[string]provider.CostResult
	errs    map[string]error
	panics  map[string]bool
	queries []provider.CostQuery
	tokens  []string
}

func (m *mockCosts) QueryCost(ctx context.Context, token provider.AccessToken, subscriptionID string, q provider.CostQuery) (provider.CostResult, error) {
	m.mu.Lock()
	m.queries = append(m.queries, q)
	m.tokens = append(m.tokens, token.Token)
	m.mu.Unlock()

	if m.panics[subscriptionID] {
		panic("nil map in response decoder")
	}
	if err := m.errs[subscriptionID]; err != nil {
		return provider.CostResult{}, err
	}
	if r, ok := m.results[subscriptionID]; ok {
		return r, nil
	}
	return provider.NoCostData(), nil
}

func subs(ids ...string) []provider.Subscription {
	out := make([]provider.Subscription, 0, len(ids))
	for _, id := range ids {
		out = append(out, provider.Subscription{ID: id, TenantID: "tenant", Name: "Sub " + id})
	}
	return out
}

func newTestAggregator(l provider.SubscriptionLister, c provider.CredentialProvider, q provider.CostQuerier, throughMonth int) *Aggregator {
	return NewAggregator(l, c, q, throughMonth, logger.Discard()).WithClock(clock.FixedClock{T: testNow})
}

func amount(s string) provider.CostResult {
	return provider.CostAmount(decimal.RequireFromString(s))
}

func TestRun_Success(t *testing.T) {
	costs := &mockCosts{results: map[string]provider.CostResult{
		"a": amount("600"),
		"b": amount("123.45"),
	}}
	creds := &mockCredentials{}

	rep := newTestAggregator(&mockLister{subs: subs("a", "b")}, creds, costs, 0).Run(context.Background())

	if rep.Period.ThroughMonth != time.June || rep.Period.Year != 2026 {
		t.Fatalf("Period = %+v, want June 2026", rep.Period)
	}
	if !rep.GeneratedAt.Equal(testNow) {
		t.Errorf("GeneratedAt = %v", rep.GeneratedAt)
	}
	if len(rep.Rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rep.Rows))
	}

	first := rep.Rows[0]
	if first.SubscriptionID != "a" || first.SubscriptionName != "Sub a" {
		t.Errorf("row 0 = %+v", first)
	}
	if !first.YTD.IsAmount() || !first.YTD.Amount.Equal(decimal.NewFromInt(600)) {
		t.Errorf("YTD = %v, want 600", first.YTD)
	}
	if !first.Forecast.IsAmount() || !first.Forecast.Amount.Equal(decimal.NewFromInt(1200)) {
		t.Errorf("Forecast = %v, want 1200", first.Forecast)
	}
	if first.Err != nil {
		t.Errorf("Err = %v, want nil", first.Err)
	}

	wantQuery := provider.CostQuery{
		From: time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2026, time.June, 30, 23, 59, 59, 0, time.UTC),
	}
	for i, q := range costs.queries {
		if !q.From.Equal(wantQuery.From) || !q.To.Equal(wantQuery.To) {
			t.Errorf("query %d = %+v, want %+v", i, q, wantQuery)
		}
	}
	if costs.tokens[0] != "token-a" || costs.tokens[1] != "token-b" {
		t.Errorf("tokens = %v, each query must use its own subscription's token", costs.tokens)
	}
}

func TestRun_FailureIsolation(t *testing.T) {
	creds := &mockCredentials{errs: map[string]error{
		"a": provider.NewError(provider.KindTokenFetch, provider.StageAuth, "a", errors.New("expired")),
	}}
	costs := &mockCosts{results: map[string]provider.CostResult{
		"a": amount("1"),
		"b": amount("300"),
	}}

	rep := newTestAggregator(&mockLister{subs: subs("a", "b")}, creds, costs, 3).Run(context.Background())

	if len(rep.Rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rep.Rows))
	}
	a, b := rep.Rows[0], rep.Rows[1]
	if a.YTD.Marker != "Auth Error" || a.Forecast.Marker != "Auth Error" {
		t.Errorf("row a = %+v, want Auth Error markers", a)
	}
	if a.Err == nil || a.Err.Kind != provider.KindTokenFetch {
		t.Errorf("row a Err = %v", a.Err)
	}
	if !b.YTD.IsAmount() || !b.Forecast.Amount.Equal(decimal.NewFromInt(1200)) {
		t.Errorf("row b = %+v, want 300 / 1200", b)
	}
	if len(costs.queries) != 1 {
		t.Errorf("cost queries = %d, the failed subscription must not be queried", len(costs.queries))
	}
}

func TestRun_MarkersForEveryFailure(t *testing.T) {
	cause := errors.New("cause")
	creds := &mockCredentials{
		errs: map[string]error{
			"ctx":   provider.NewError(provider.KindAuthContext, provider.StageAuth, "ctx", cause),
			"parse": provider.NewError(provider.KindTokenParse, provider.StageAuth, "parse", cause),
			"plain": errors.New("untagged credential failure"),
		},
		panics: map[string]bool{"cpanic": true},
	}
	costs := &mockCosts{
		errs: map[string]error{
			"h403":   provider.StatusError("h403", 403, "denied"),
			"r429":   provider.StatusError("r429", 429, ""),
			"net":    provider.NewError(provider.KindNetwork, provider.StageQuery, "net", cause),
			"json":   provider.NewError(provider.KindResponseParse, provider.StageQuery, "json", cause),
			"plainq": errors.New("untagged query failure"),
			"cancel": context.Canceled,
		},
		results: map[string]provider.CostResult{
			"text": {Raw: "n/a from billing"},
		},
		panics: map[string]bool{"qpanic": true},
	}

	ids := []string{"ctx", "parse", "plain", "cpanic", "h403", "r429", "net", "json", "plainq", "cancel", "qpanic", "empty", "text"}
	rep := newTestAggregator(&mockLister{subs: subs(ids...)}, creds, costs, 6).Run(context.Background())

	want := map[string][2]string{
		"ctx":    {"Auth Context Error", "Auth Context Error"},
		"parse":  {"Token Parse Error", "Token Parse Error"},
		"plain":  {"Unexpected Auth Error", "Unexpected Auth Error"},
		"cpanic": {"Unexpected Auth Error", "Unexpected Auth Error"},
		"h403":   {"HTTP Error 403", "HTTP Error 403"},
		"r429":   {"N/A", "N/A"},
		"net":    {"API Error", "API Error"},
		"json":   {"Parse Error", "Parse Error"},
		"plainq": {"Unexpected Error", "Unexpected Error"},
		"cancel": {"N/A", "N/A"},
		"qpanic": {"Unexpected Error", "Unexpected Error"},
		"empty":  {"No Data", "No Data"},
		"text":   {"n/a from billing", "Insufficient Data"},
	}

	if len(rep.Rows) != len(ids) {
		t.Fatalf("got %d rows, want %d", len(rep.Rows), len(ids))
	}
	for i, row := range rep.Rows {
		if row.SubscriptionID != ids[i] {
			t.Errorf("row %d is %q, want %q (order must follow the listing)", i, row.SubscriptionID, ids[i])
		}
		w := want[row.SubscriptionID]
		if row.YTD.Marker != w[0] || row.Forecast.Marker != w[1] {
			t.Errorf("%s: got (%q, %q), want (%q, %q)", row.SubscriptionID, row.YTD.Marker, row.Forecast.Marker, w[0], w[1])
		}
	}

	if err := rep.Rows[9].Err; err == nil || err.Kind != provider.KindCanceled || err.Stage != provider.StageQuery {
		t.Errorf("cancelled query Err = %+v, want canceled at query stage", err)
	}
}

func TestRun_PanicIsTaggedWithSubscription(t *testing.T) {
	costs := &mockCosts{panics: map[string]bool{"a": true}}
	rep := newTestAggregator(&mockLister{subs: subs("a")}, &mockCredentials{}, costs, 1).Run(context.Background())

	err := rep.Rows[0].Err
	if err == nil {
		t.Fatal("Err = nil, want unexpected error")
	}
	if err.Kind != provider.KindUnexpected || err.Stage != provider.StageQuery || err.SubscriptionID != "a" {
		t.Errorf("Err = %+v", err)
	}
}

func TestRun_ListingFailure(t *testing.T) {
	listErr := provider.NewError(provider.KindListing, provider.StageListing, "", errors.New("not logged in"))
	creds := &mockCredentials{}

	rep := newTestAggregator(&mockLister{err: listErr}, creds, &mockCosts{}, 0).Run(context.Background())

	if len(rep.Rows) != 0 {
		t.Errorf("got %d rows, want 0", len(rep.Rows))
	}
	if !errors.Is(rep.ListingErr, listErr) {
		t.Errorf("ListingErr = %v, want %v", rep.ListingErr, listErr)
	}
	if len(creds.calls) != 0 {
		t.Errorf("credential calls = %d, want 0", len(creds.calls))
	}
}

func TestRun_EmptyList(t *testing.T) {
	rep := newTestAggregator(&mockLister{}, &mockCredentials{}, &mockCosts{}, 0).Run(context.Background())

	if len(rep.Rows) != 0 || rep.ListingErr != nil {
		t.Errorf("report = %+v, want zero rows and no error", rep)
	}
}

func TestRun_CancelledContextStillYieldsRows(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	creds := &mockCredentials{}
	rep := newTestAggregator(&mockLister{subs: subs("a", "b", "c")}, creds, &mockCosts{}, 0).Run(ctx)

	if len(rep.Rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(rep.Rows))
	}
	for _, row := range rep.Rows {
		if row.YTD.Marker != MarkerUnresolved {
			t.Errorf("%s YTD = %q, want N/A", row.SubscriptionID, row.YTD.Marker)
		}
	}
	if len(creds.calls) != 0 {
		t.Errorf("credential calls = %d, want 0 after cancellation", len(creds.calls))
	}
}

func TestRun_NegativeTotalIsNotClamped(t *testing.T) {
	costs := &mockCosts{results: map[string]provider.CostResult{"a": amount("-40")}}
	rep := newTestAggregator(&mockLister{subs: subs("a")}, &mockCredentials{}, costs, 4).Run(context.Background())

	if got := rep.Rows[0].Forecast.Amount; !got.Equal(decimal.NewFromInt(-120)) {
		t.Errorf("Forecast = %v, want -120", got)
	}
}

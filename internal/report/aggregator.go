package report

import (
	"context"
	"fmt"
	"time"

	"github.com/zgpcy/azure-cost-report/internal/clock"
	"github.com/zgpcy/azure-cost-report/internal/forecast"
	"github.com/zgpcy/azure-cost-report/internal/logger"
	"github.com/zgpcy/azure-cost-report/internal/provider"
)

// Aggregator builds a Report by running every subscription through
// token fetch, cost query and forecast
type Aggregator struct {
	lister       provider.SubscriptionLister
	credentials  provider.CredentialProvider
	costs        provider.CostQuerier
	clock        clock.Clock
	throughMonth int
	logger       *logger.Logger
}

// NewAggregator creates an Aggregator. throughMonth follows NewPeriod.
func NewAggregator(
	lister provider.SubscriptionLister,
	credentials provider.CredentialProvider,
	costs provider.CostQuerier,
	throughMonth int,
	log *logger.Logger,
) *Aggregator {
	return &Aggregator{
		lister:       lister,
		credentials:  credentials,
		costs:        costs,
		clock:        clock.RealClock{},
		throughMonth: throughMonth,
		logger:       log,
	}
}

// WithClock replaces the time source, used by tests
func (a *Aggregator) WithClock(c clock.Clock) *Aggregator {
	a.clock = c
	return a
}

// Run produces a report with one row per listed subscription, in listing
// order. Per-subscription failures become marker rows and never abort the run.
func (a *Aggregator) Run(ctx context.Context) *Report {
	start := a.clock.Now()
	period := NewPeriod(start, a.throughMonth)
	rep := &Report{
		Period:      period,
		GeneratedAt: start,
	}

	a.logger.Info("Starting cost report",
		"from", period.From.Format(time.DateOnly),
		"to", period.To.Format(time.DateOnly),
		"months_elapsed", period.MonthsElapsed())

	subs, err := a.lister.ListSubscriptions(ctx)
	if err != nil {
		rep.ListingErr = err
		a.logger.Error("Failed to list subscriptions", "error", err)
		return rep
	}
	if len(subs) == 0 {
		a.logger.Warn("No subscriptions found")
		return rep
	}

	rep.Rows = make([]Row, 0, len(subs))
	for i, sub := range subs {
		a.logger.Info("Processing subscription",
			"subscription_name", sub.Name,
			"subscription_id", sub.ID,
			"position", i+1,
			"total", len(subs))
		rep.Rows = append(rep.Rows, a.processSubscription(ctx, sub, period))
	}

	summary := rep.Summarize()
	a.logger.Info("Cost report complete",
		"subscriptions", summary.Total,
		"costed", summary.Costed,
		"no_data", summary.NoData,
		"failed", summary.Failed,
		"duration_seconds", a.clock.Now().Sub(start).Seconds())
	return rep
}

// processSubscription never panics and always returns a row for sub
func (a *Aggregator) processSubscription(ctx context.Context, sub provider.Subscription, period Period) (row Row) {
	stage := provider.StageAuth
	log := a.logger.WithFields("subscription_name", sub.Name, "subscription_id", sub.ID)

	defer func() {
		if r := recover(); r != nil {
			err := provider.NewError(provider.KindUnexpected, stage, sub.ID, fmt.Errorf("panic: %v", r))
			row = a.failedRow(log, sub, err)
		}
	}()

	if ctx.Err() != nil {
		log.Warn("Run cancelled, subscription not processed", "error", ctx.Err())
		return markerRow(sub, MarkerUnresolved, nil)
	}

	token, err := a.credentials.GetToken(ctx, sub)
	if err != nil {
		return a.failedRow(log, sub, tagged(err, provider.StageAuth, sub.ID))
	}

	stage = provider.StageQuery
	result, err := a.costs.QueryCost(ctx, token, sub.ID, provider.CostQuery{From: period.From, To: period.To})
	if err != nil {
		return a.failedRow(log, sub, tagged(err, provider.StageQuery, sub.ID))
	}

	if result.NoData {
		log.Warn("No cost data returned")
		return markerRow(sub, MarkerNoData, nil)
	}

	row = Row{
		SubscriptionName: sub.Name,
		SubscriptionID:   sub.ID,
	}
	if result.Total.Valid {
		row.YTD = AmountValue(result.Total.Decimal)
	} else {
		log.Warn("Cost value is not numeric", "raw", result.Raw)
		row.YTD = MarkerValue(fmt.Sprint(result.Raw))
	}

	projection := forecast.Project(result.Total, period.MonthsElapsed())
	if projection.OK {
		row.Forecast = AmountValue(projection.Value)
	} else {
		row.Forecast = MarkerValue(MarkerInsufficient)
	}

	log.Info("Subscription costed",
		"ytd", row.YTD.String(),
		"forecast", row.Forecast.String())
	return row
}

func (a *Aggregator) failedRow(log *logger.Logger, sub provider.Subscription, err *provider.Error) Row {
	marker := MarkerFor(err)
	if err.Kind == provider.KindUnexpected {
		log.Error("Unexpected failure", "stage", err.Stage, "severity", "critical", "error", err)
	} else {
		log.Error("Subscription failed", "stage", err.Stage, "kind", err.Kind.String(), "marker", marker, "error", err)
	}
	return markerRow(sub, marker, err)
}

// tagged classifies err and attributes it to the subscription
func tagged(err error, stage provider.Stage, subscriptionID string) *provider.Error {
	pe := provider.AsError(err, stage)
	if pe.SubscriptionID == "" {
		pe.SubscriptionID = subscriptionID
	}
	return pe
}

func markerRow(sub provider.Subscription, marker string, err *provider.Error) Row {
	return Row{
		SubscriptionName: sub.Name,
		SubscriptionID:   sub.ID,
		YTD:              MarkerValue(marker),
		Forecast:         MarkerValue(marker),
		Err:              err,
	}
}

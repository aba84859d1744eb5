package azure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/cloud"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/costmanagement/armcostmanagement"
	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"github.com/zgpcy/azure-cost-report/internal/config"
	"github.com/zgpcy/azure-cost-report/internal/logger"
	"github.com/zgpcy/azure-cost-report/internal/provider"
)

const (
	// aggregationName is the key of the summed column in the query dataset
	aggregationName = "totalCost"

	// costColumn is the pre-tax cost column summed by the query
	costColumn = "PreTaxCost"

	// maxErrorBodyBytes caps how much of an error response is kept in messages
	maxErrorBodyBytes = 512
)

// CostClient queries the Cost Management API for one aggregated total per call
type CostClient struct {
	options     arm.ClientOptions
	apiTimeout  time.Duration
	maxAttempts int
	retryDelay  time.Duration
	logger      *logger.Logger
	timer       backoff.Timer // nil uses real time; tests inject a fake
}

// Verify that CostClient implements provider.CostQuerier
var _ provider.CostQuerier = (*CostClient)(nil)

// NewCostClient creates a cost client from the API and retry settings
func NewCostClient(cfg *config.Config, log *logger.Logger) *CostClient {
	return &CostClient{
		options:     newClientOptions(cfg, &http.Client{}),
		apiTimeout:  time.Duration(cfg.APITimeout) * time.Second,
		maxAttempts: max(cfg.Retry.MaxRetries, 1),
		retryDelay:  time.Duration(cfg.Retry.DelaySeconds) * time.Second,
		logger:      log,
	}
}

// newClientOptions points the SDK pipeline at the configured endpoint. The
// pipeline's own retry policy is disabled: QueryCost owns the retry loop.
func newClientOptions(cfg *config.Config, transport policy.Transporter) arm.ClientOptions {
	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	audience := strings.TrimRight(cfg.Auth.Resource, "/")
	if audience == "" {
		audience = endpoint
	}

	return arm.ClientOptions{
		ClientOptions: policy.ClientOptions{
			APIVersion: cfg.APIVersion,
			Cloud: cloud.Configuration{
				Services: map[cloud.ServiceName]cloud.ServiceConfiguration{
					cloud.ResourceManager: {Endpoint: endpoint, Audience: audience},
				},
			},
			Retry:                           policy.RetryOptions{MaxRetries: -1},
			Transport:                       transport,
			InsecureAllowCredentialWithHTTP: strings.HasPrefix(endpoint, "http://"),
		},
		DisableRPRegistration: true,
	}
}

// subscriptionToken hands a subscription's already fetched token to the SDK
// pipeline, so each query authenticates with its own subscription's credential.
type subscriptionToken struct {
	token provider.AccessToken
}

var _ azcore.TokenCredential = subscriptionToken{}

// GetToken returns the stored token. An unparsed expiry is treated as one hour
// out so the bearer policy does not refresh it on every request.
func (s subscriptionToken) GetToken(_ context.Context, _ policy.TokenRequestOptions) (azcore.AccessToken, error) {
	expiresOn := s.token.ExpiresOn
	if expiresOn.IsZero() {
		expiresOn = time.Now().Add(time.Hour)
	}
	return azcore.AccessToken{Token: s.token.Token, ExpiresOn: expiresOn}, nil
}

// QueryCost returns the pre-tax cost sum for the window. Rate limiting and
// transport failures are retried with a linear delay; every other failure ends
// the loop immediately.
//
// Every rate-limited attempt is followed by its delay, the final one included.
// A transport failure on the final attempt is returned without waiting. When
// the attempts end on a rate limit, the most recent transport failure (if any)
// is reported instead of the rate limit.
func (c *CostClient) QueryCost(ctx context.Context, token provider.AccessToken, subscriptionID string, query provider.CostQuery) (provider.CostResult, error) {
	opts := c.options
	client, err := armcostmanagement.NewQueryClient(subscriptionToken{token: token}, &opts)
	if err != nil {
		return provider.CostResult{}, provider.NewError(provider.KindUnexpected, provider.StageQuery, subscriptionID,
			fmt.Errorf("failed to create cost query client: %w", err))
	}

	var (
		result    provider.CostResult
		attempt   int
		lastOther *provider.Error // most recent retryable failure that was not a rate limit
		exhausted *provider.Error // set when the final attempt was rate limited
	)

	log := c.logger.WithFields("subscription_id", subscriptionID)

	operation := func() error {
		if exhausted != nil {
			// the delay after the final rate-limited attempt has elapsed
			return backoff.Permanent(exhausted)
		}

		attempt++
		log.Info("Querying year-to-date cost",
			"from", query.From.Format("2006-01-02"),
			"to", query.To.Format("2006-01-02"),
			"attempt", attempt,
			"max_attempts", c.maxAttempts)

		res, err := c.queryOnce(ctx, client, subscriptionID, query)
		if err == nil {
			result = res
			return nil
		}

		pe := provider.AsError(err, provider.StageQuery)
		if pe.SubscriptionID == "" {
			pe.SubscriptionID = subscriptionID
		}

		switch {
		case !pe.Retryable():
			return backoff.Permanent(pe)
		case pe.Kind == provider.KindRateLimited:
			if attempt >= c.maxAttempts {
				exhausted = pe
				if lastOther != nil {
					exhausted = lastOther
				}
			}
			return pe
		default:
			lastOther = pe
			if attempt >= c.maxAttempts {
				return backoff.Permanent(pe)
			}
			return pe
		}
	}

	notify := func(err error, delay time.Duration) {
		if exhausted != nil {
			log.Warn("Cost query rate limited on final attempt, waiting before giving up",
				"attempt", attempt,
				"delay_seconds", delay.Seconds(),
				"error", err)
			return
		}
		log.Warn("Cost query failed, retrying",
			"attempt", attempt,
			"delay_seconds", delay.Seconds(),
			"error", err)
	}

	bo := backoff.WithContext(newRetryPolicy(c.retryDelay, c.maxAttempts), ctx)
	if err := backoff.RetryNotifyWithTimer(operation, bo, notify, c.timer); err != nil {
		pe := provider.AsError(err, provider.StageQuery)
		if pe.SubscriptionID == "" {
			pe.SubscriptionID = subscriptionID
		}
		return provider.CostResult{}, pe
	}

	return result, nil
}

// queryOnce performs a single API call without retry logic
func (c *CostClient) queryOnce(ctx context.Context, client *armcostmanagement.QueryClient, subscriptionID string, query provider.CostQuery) (provider.CostResult, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.apiTimeout)
	defer cancel()

	var raw *http.Response
	resp, err := client.Usage(policy.WithCaptureResponse(reqCtx, &raw), subscriptionScope(subscriptionID), buildQueryDefinition(query), nil)
	if err != nil {
		return provider.CostResult{}, classifyQueryError(ctx, subscriptionID, raw, err)
	}

	result, err := resultFromQuery(resp.QueryResult)
	if err != nil {
		return provider.CostResult{}, provider.NewError(provider.KindResponseParse, provider.StageQuery, subscriptionID, err)
	}
	return result, nil
}

// classifyQueryError tags a failed Usage call. ctx is the run context, not the
// per-attempt one: an expired attempt is a transport failure and is retried.
func classifyQueryError(ctx context.Context, subscriptionID string, raw *http.Response, err error) *provider.Error {
	var respErr *azcore.ResponseError
	switch {
	case ctx.Err() != nil:
		return provider.NewError(provider.KindCanceled, provider.StageQuery, subscriptionID,
			fmt.Errorf("cost query cancelled: %w", ctx.Err()))
	case errors.As(err, &respErr):
		return provider.StatusError(subscriptionID, respErr.StatusCode, errorDetail(respErr))
	case raw != nil && raw.StatusCode < http.StatusMultipleChoices && !isTransportError(err):
		return provider.NewError(provider.KindResponseParse, provider.StageQuery, subscriptionID,
			fmt.Errorf("failed to decode cost response: %w", err))
	default:
		return provider.NewError(provider.KindNetwork, provider.StageQuery, subscriptionID,
			fmt.Errorf("cost query request failed: %w", err))
	}
}

func isTransportError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) || errors.Is(err, io.ErrUnexpectedEOF)
}

// errorDetail prefers the response body, falling back to the service error code
func errorDetail(respErr *azcore.ResponseError) string {
	if respErr.RawResponse != nil {
		if body, err := runtime.Payload(respErr.RawResponse); err == nil && len(body) > 0 {
			return truncate(body, maxErrorBodyBytes)
		}
	}
	return respErr.ErrorCode
}

func subscriptionScope(subscriptionID string) string {
	return "subscriptions/" + url.PathEscape(subscriptionID)
}

// buildQueryDefinition builds the ActualCost query summing PreTaxCost over the window
func buildQueryDefinition(query provider.CostQuery) armcostmanagement.QueryDefinition {
	queryType := armcostmanagement.ExportTypeActualCost
	timeframe := armcostmanagement.TimeframeTypeCustom
	granularity := armcostmanagement.GranularityType("None")
	from, to := query.From, query.To

	return armcostmanagement.QueryDefinition{
		Type:      &queryType,
		Timeframe: &timeframe,
		TimePeriod: &armcostmanagement.QueryTimePeriod{
			From: &from,
			To:   &to,
		},
		Dataset: &armcostmanagement.QueryDataset{
			Granularity: &granularity,
			Aggregation: map[string]*armcostmanagement.QueryAggregation{
				aggregationName: {
					Name:     stringPtr(costColumn),
					Function: functionPtr(armcostmanagement.FunctionTypeSum),
				},
			},
		},
	}
}

// resultFromQuery takes the first cell of the first row as the total.
// A response without rows means there is no cost data for the window.
func resultFromQuery(result armcostmanagement.QueryResult) (provider.CostResult, error) {
	if result.Properties == nil || len(result.Properties.Rows) == 0 {
		return provider.NoCostData(), nil
	}

	first := result.Properties.Rows[0]
	if len(first) == 0 {
		return provider.CostResult{}, errors.New("cost response first row has no cells")
	}

	return costFromCell(first[0]), nil
}

// costFromCell converts the aggregated cell. Values that are not numbers are
// kept raw so the report can show them, but they cannot drive a forecast.
func costFromCell(value any) provider.CostResult {
	switch v := value.(type) {
	case float64:
		return provider.CostAmount(decimal.NewFromFloat(v))
	case int:
		return provider.CostAmount(decimal.NewFromInt(int64(v)))
	case int64:
		return provider.CostAmount(decimal.NewFromInt(v))
	default:
		return provider.CostResult{Raw: value}
	}
}

func truncate(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}

// Helper functions
func stringPtr(s string) *string {
	return &s
}

func functionPtr(f armcostmanagement.FunctionType) *armcostmanagement.FunctionType {
	return &f
}

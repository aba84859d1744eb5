package provider

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ProviderType represents a cloud provider
type ProviderType string

// ProviderAzure is the only provider the report supports
const ProviderAzure ProviderType = "azure"

// Subscription is one billing scope enumerated at the start of a run
type Subscription struct {
	ID       string
	TenantID string
	Name     string
}

// AccessToken is a bearer credential scoped to one subscription/tenant pair.
// ExpiresOn is informational; it is never enforced against request timing.
type AccessToken struct {
	Token        string
	ExpiresOn    time.Time // zero when ExpiresOnRaw could not be parsed
	ExpiresOnRaw string
}

// Expiry renders the expiration for logs, falling back to the raw value
func (t AccessToken) Expiry() string {
	if !t.ExpiresOn.IsZero() {
		return t.ExpiresOn.Format(time.RFC3339)
	}
	return t.ExpiresOnRaw
}

// CostQuery is the time window of a pre-tax cost sum with no granularity bucketing
type CostQuery struct {
	From time.Time
	To   time.Time
}

// CostResult is the outcome of a successful cost query
type CostResult struct {
	// Total holds the pre-tax cost sum; Valid is false when the API returned
	// a value that is not a number.
	Total decimal.NullDecimal
	// Raw is the first cell of the first row exactly as returned
	Raw any
	// NoData is set when the response carried no aggregated rows
	NoData bool
}

// NoCostData returns the explicit "no data" result
func NoCostData() CostResult {
	return CostResult{NoData: true}
}

// CostAmount returns a numeric result
func CostAmount(total decimal.Decimal) CostResult {
	return CostResult{
		Total: decimal.NullDecimal{Decimal: total, Valid: true},
		Raw:   total,
	}
}

// SubscriptionLister enumerates the subscriptions a run reports on
type SubscriptionLister interface {
	ListSubscriptions(ctx context.Context) ([]Subscription, error)
}

// CredentialProvider issues a fresh token for one subscription. Implementations
// take the subscription explicitly and hold no "active subscription" state.
type CredentialProvider interface {
	GetToken(ctx context.Context, sub Subscription) (AccessToken, error)
}

// CostQuerier fetches the aggregated cost for a subscription and time window
type CostQuerier interface {
	QueryCost(ctx context.Context, token AccessToken, subscriptionID string, query CostQuery) (CostResult, error)
}

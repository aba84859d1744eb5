// Package provider defines the contracts shared by the report pipeline.
//
// The pipeline is made of three collaborators, each taking everything it needs
// as explicit parameters so that no process-wide "active subscription" exists:
//
//	type SubscriptionLister interface {
//		ListSubscriptions(ctx context.Context) ([]Subscription, error)
//	}
//
//	type CredentialProvider interface {
//		GetToken(ctx context.Context, sub Subscription) (AccessToken, error)
//	}
//
//	type CostQuerier interface {
//		QueryCost(ctx context.Context, token AccessToken, subscriptionID string, query CostQuery) (CostResult, error)
//	}
//
// Failures are returned as *Error, tagged with an ErrorKind and the Stage that
// produced them. The report aggregator matches on the kind to choose the marker
// written in place of an amount:
//
//	var pe *provider.Error
//	if errors.As(err, &pe) && pe.Kind == provider.KindHTTPStatus {
//		fmt.Println("HTTP", pe.StatusCode)
//	}
package provider

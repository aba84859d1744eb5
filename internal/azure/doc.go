// Package azure implements the Azure side of the cost report.
//
// It provides:
//   - CLICredentialProvider and IdentityCredentialProvider: per-subscription
//     management tokens from an `az login` session or the azidentity chain
//   - CLISubscriptionLister and StaticSubscriptionLister: the subscriptions to report on
//   - CostClient: the Cost Management query call with a linear-backoff retry
//     on HTTP 429 and transport failures
//
// Every failure is returned as a *provider.Error so the caller can tell an
// authentication problem from a rate limit, a bad status or a malformed body.
//
// Example usage:
//
//	cfg := config.Default()
//	log := logger.New("info")
//
//	creds := azure.NewCredentialProvider(cfg, azure.ExecRunner{}, log)
//	costs := azure.NewCostClient(cfg, log)
//
//	sub := provider.Subscription{ID: "sub-123", TenantID: "tenant-abc", Name: "Production"}
//	token, err := creds.GetToken(ctx, sub)
//	if err != nil {
//		log.Error("auth failed", "error", err)
//		return
//	}
//
//	result, err := costs.QueryCost(ctx, token, sub.ID, provider.CostQuery{From: from, To: to})
package azure

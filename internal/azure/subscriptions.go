package azure

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/samber/lo"
	"github.com/zgpcy/azure-cost-report/internal/config"
	"github.com/zgpcy/azure-cost-report/internal/provider"
)

// listQuery projects az account list output onto the fields the report needs
const listQuery = "[].{name:name, id:id, tenantId:tenantId}"

var (
	_ provider.SubscriptionLister = (*CLISubscriptionLister)(nil)
	_ provider.SubscriptionLister = StaticSubscriptionLister(nil)
)

// NewSubscriptionLister returns the static list from the config when it has
// entries, otherwise discovers subscriptions with the Azure CLI
func NewSubscriptionLister(cfg *config.Config, runner CommandRunner) provider.SubscriptionLister {
	if len(cfg.Subscriptions) > 0 {
		return NewStaticSubscriptionLister(cfg.Subscriptions)
	}
	return NewCLISubscriptionLister(runner)
}

// CLISubscriptionLister enumerates every subscription visible to the az login
type CLISubscriptionLister struct {
	runner CommandRunner
}

// NewCLISubscriptionLister creates a lister backed by `az account list`
func NewCLISubscriptionLister(runner CommandRunner) *CLISubscriptionLister {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &CLISubscriptionLister{runner: runner}
}

type cliSubscription struct {
	Name     string `json:"name"`
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`
}

// ListSubscriptions runs az account list. Failures are tagged KindListing.
func (l *CLISubscriptionLister) ListSubscriptions(ctx context.Context) ([]provider.Subscription, error) {
	out, err := l.runner.Run(ctx, azBinary, "account", "list", "--query", listQuery, "-o", "json")
	if err != nil {
		return nil, provider.NewError(provider.KindListing, provider.StageListing, "",
			fmt.Errorf("failed to list subscriptions (is the Azure CLI logged in?): %w", err))
	}

	var raw []cliSubscription
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, provider.NewError(provider.KindListing, provider.StageListing, "",
			fmt.Errorf("failed to parse subscription list: %w", err))
	}

	return lo.Map(raw, func(s cliSubscription, _ int) provider.Subscription {
		return provider.Subscription{ID: s.ID, TenantID: s.TenantID, Name: s.Name}
	}), nil
}

// StaticSubscriptionLister serves subscriptions configured in the YAML file
type StaticSubscriptionLister []provider.Subscription

// NewStaticSubscriptionLister converts configured subscriptions
func NewStaticSubscriptionLister(subs []config.Subscription) StaticSubscriptionLister {
	return lo.Map(subs, func(s config.Subscription, _ int) provider.Subscription {
		return provider.Subscription{ID: s.ID, TenantID: s.TenantID, Name: s.Name}
	})
}

// ListSubscriptions returns a copy of the configured list
func (l StaticSubscriptionLister) ListSubscriptions(context.Context) ([]provider.Subscription, error) {
	out := make([]provider.Subscription, len(l))
	copy(out, l)
	return out, nil
}

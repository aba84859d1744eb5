package azure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/zgpcy/azure-cost-report/internal/config"
	"github.com/zgpcy/azure-cost-report/internal/logger"
	"github.com/zgpcy/azure-cost-report/internal/provider"
)

// expiresOnLayouts are the formats the Azure CLI uses for expiresOn, tried in order
var expiresOnLayouts = []string{
	"2006-01-02 15:04:05.000000",
	"2006-01-02 15:04:05",
}

var (
	_ provider.CredentialProvider = (*CLICredentialProvider)(nil)
	_ provider.CredentialProvider = (*IdentityCredentialProvider)(nil)
)

// NewCredentialProvider builds the provider selected by auth.method
func NewCredentialProvider(cfg *config.Config, runner CommandRunner, log *logger.Logger) provider.CredentialProvider {
	if cfg.Auth.Method == config.AuthMethodIdentity {
		return NewIdentityCredentialProvider(cfg, log)
	}
	return NewCLICredentialProvider(cfg, runner, log)
}

// CLICredentialProvider obtains tokens from an Azure CLI login session.
// The subscription is passed to every az invocation, the session's default
// subscription is never changed.
type CLICredentialProvider struct {
	runner   CommandRunner
	resource string
	timeout  time.Duration
	logger   *logger.Logger
}

// NewCLICredentialProvider creates a provider backed by the az binary
func NewCLICredentialProvider(cfg *config.Config, runner CommandRunner, log *logger.Logger) *CLICredentialProvider {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &CLICredentialProvider{
		runner:   runner,
		resource: cfg.Auth.Resource,
		timeout:  time.Duration(cfg.Auth.Timeout) * time.Second,
		logger:   log,
	}
}

type cliAccount struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`
	State    string `json:"state"`
}

type cliToken struct {
	AccessToken string `json:"accessToken"`
	ExpiresOn   string `json:"expiresOn"`
}

// GetToken checks that the session can see the subscription, then requests a
// management token for the subscription's tenant
func (p *CLICredentialProvider) GetToken(ctx context.Context, sub provider.Subscription) (provider.AccessToken, error) {
	if err := p.checkContext(ctx, sub); err != nil {
		return provider.AccessToken{}, err
	}

	tctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	out, err := p.runner.Run(tctx, azBinary, "account", "get-access-token",
		"--resource", p.resource,
		"--tenant", sub.TenantID,
		"-o", "json")
	if err != nil {
		return provider.AccessToken{}, provider.NewError(provider.KindTokenFetch, provider.StageAuth, sub.ID,
			fmt.Errorf("failed to get access token: %w", err))
	}

	token, err := p.parseToken(out, sub)
	if err != nil {
		return provider.AccessToken{}, provider.NewError(provider.KindTokenParse, provider.StageAuth, sub.ID, err)
	}

	p.logger.Info("Access token acquired",
		"subscription_name", sub.Name,
		"subscription_id", sub.ID,
		"expires_on", token.Expiry())
	return token, nil
}

// checkContext replaces the global `az account set`: it resolves the
// subscription explicitly and verifies it belongs to the expected tenant
func (p *CLICredentialProvider) checkContext(ctx context.Context, sub provider.Subscription) error {
	tctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	out, err := p.runner.Run(tctx, azBinary, "account", "show", "--subscription", sub.ID, "-o", "json")
	if err != nil {
		return provider.NewError(provider.KindAuthContext, provider.StageAuth, sub.ID,
			fmt.Errorf("failed to resolve subscription context: %w", err))
	}

	var account cliAccount
	if err := json.Unmarshal(out, &account); err != nil {
		return provider.NewError(provider.KindAuthContext, provider.StageAuth, sub.ID,
			fmt.Errorf("failed to parse account details: %w", err))
	}

	if sub.TenantID != "" && account.TenantID != "" && !strings.EqualFold(account.TenantID, sub.TenantID) {
		return provider.NewError(provider.KindAuthContext, provider.StageAuth, sub.ID,
			fmt.Errorf("subscription belongs to tenant %s, expected %s", account.TenantID, sub.TenantID))
	}

	p.logger.Debug("Subscription context resolved",
		"subscription_id", sub.ID,
		"tenant_id", account.TenantID,
		"state", account.State)
	return nil
}

func (p *CLICredentialProvider) parseToken(out []byte, sub provider.Subscription) (provider.AccessToken, error) {
	var raw cliToken
	if err := json.Unmarshal(out, &raw); err != nil {
		return provider.AccessToken{}, fmt.Errorf("failed to parse token response: %w", err)
	}
	if raw.AccessToken == "" {
		return provider.AccessToken{}, errors.New("token response has no accessToken")
	}

	token := provider.AccessToken{
		Token:        raw.AccessToken,
		ExpiresOnRaw: raw.ExpiresOn,
	}
	if expires, ok := parseExpiresOn(raw.ExpiresOn); ok {
		token.ExpiresOn = expires
	} else {
		p.logger.Warn("Could not parse token expiration, keeping raw value",
			"subscription_name", sub.Name,
			"subscription_id", sub.ID,
			"expires_on", raw.ExpiresOn)
	}
	return token, nil
}

// parseExpiresOn accepts the CLI's local timestamps with and without fractional seconds
func parseExpiresOn(raw string) (time.Time, bool) {
	for _, layout := range expiresOnLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// credentialFactory builds a credential bound to one tenant
type credentialFactory func(tenantID string) (azcore.TokenCredential, error)

// IdentityCredentialProvider obtains tokens through the azidentity default
// credential chain (environment, workload identity, managed identity, CLI)
type IdentityCredentialProvider struct {
	newCredential credentialFactory
	scope         string
	timeout       time.Duration
	logger        *logger.Logger
}

// NewIdentityCredentialProvider creates a provider that builds a fresh
// DefaultAzureCredential for every subscription's tenant
func NewIdentityCredentialProvider(cfg *config.Config, log *logger.Logger) *IdentityCredentialProvider {
	return &IdentityCredentialProvider{
		newCredential: func(tenantID string) (azcore.TokenCredential, error) {
			return azidentity.NewDefaultAzureCredential(&azidentity.DefaultAzureCredentialOptions{
				TenantID: tenantID,
			})
		},
		scope:   strings.TrimSuffix(cfg.Auth.Resource, "/") + "/.default",
		timeout: time.Duration(cfg.Auth.Timeout) * time.Second,
		logger:  log,
	}
}

// GetToken requests a management token for the subscription's tenant
func (p *IdentityCredentialProvider) GetToken(ctx context.Context, sub provider.Subscription) (provider.AccessToken, error) {
	cred, err := p.newCredential(sub.TenantID)
	if err != nil {
		return provider.AccessToken{}, provider.NewError(provider.KindAuthContext, provider.StageAuth, sub.ID,
			fmt.Errorf("failed to create Azure credential: %w", err))
	}

	tctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	tok, err := cred.GetToken(tctx, policy.TokenRequestOptions{
		Scopes:   []string{p.scope},
		TenantID: sub.TenantID,
	})
	if err != nil {
		return provider.AccessToken{}, provider.NewError(provider.KindTokenFetch, provider.StageAuth, sub.ID,
			fmt.Errorf("failed to get access token: %w", err))
	}
	if tok.Token == "" {
		return provider.AccessToken{}, provider.NewError(provider.KindTokenParse, provider.StageAuth, sub.ID,
			errors.New("credential returned an empty token"))
	}

	token := provider.AccessToken{
		Token:        tok.Token,
		ExpiresOn:    tok.ExpiresOn,
		ExpiresOnRaw: tok.ExpiresOn.Format(time.RFC3339),
	}
	p.logger.Info("Access token acquired",
		"subscription_name", sub.Name,
		"subscription_id", sub.ID,
		"expires_on", token.Expiry())
	return token, nil
}

// Package config provides configuration management for the Azure cost report.
//
// This package handles loading configuration from an optional YAML file, a .env
// file, environment variable overrides, setting defaults, and validating the
// configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (highest priority, .env values fill unset ones)
//  2. YAML configuration file
//  3. Default values (lowest priority)
//
// Supported environment variables:
//   - AZURE_COST_CURRENCY: Currency symbol used in the workbook number format
//   - AZURE_COST_LOG_LEVEL / AZURE_COST_LOG_FORMAT: Logging verbosity and format
//   - AZURE_COST_AUTH_METHOD: cli or identity
//   - AZURE_COST_THROUGH_MONTH: Last month of the YTD window (0 = last completed month)
//   - AZURE_COST_MAX_RETRIES / AZURE_COST_RETRY_DELAY: Rate limit retry policy
//   - AZURE_COST_API_TIMEOUT: Cost query timeout in seconds
//   - AZURE_COST_OUTPUT_DIR: Directory for generated workbooks
//   - AZURE_COST_HTTP_PORT / AZURE_COST_REFRESH_INTERVAL: serve mode settings
//   - AZURE_COST_SUBSCRIPTIONS: Comma-separated id:name:tenant triples
//
// Example configuration file (config.yaml):
//
//	subscriptions:           # omit to discover with `az account list`
//	  - id: "sub-123"
//	    name: "Production"
//	    tenant_id: "tenant-abc"
//
//	auth:
//	  method: cli            # or identity (azidentity default credential chain)
//
//	period:
//	  through_month: 6       # January to June
//
//	retry:
//	  max_retries: 3
//	  delay_seconds: 5
//
//	currency: "R$"
//	api_timeout: 60
//	output:
//	  directory: "./reports"
package config

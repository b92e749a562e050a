// Package config loads and merges diffreview configuration from multiple sources.
//
// Precedence (highest to lowest):
//  1. CLI flags bound with [Loader.BindFlag]
//  2. Environment variables (DIFFREVIEW_DISPATCH_LIMIT, DIFFREVIEW_PROVIDER, etc.,
//     plus OPEN_AI_AZURE_ENDPOINT and OPEN_AI_AZURE_DEPLOYMENT_ID)
//  3. Config file ($XDG_CONFIG_HOME/diffreview/config.yaml, or --config)
//  4. Built-in defaults
//
// Use [Loader.Load] to obtain a validated [Config], [Init] to write a default
// config file, and [Set] to update a single key in the config file.
package config

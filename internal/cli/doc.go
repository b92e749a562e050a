// Package cli wires together the Cobra command tree for the diffreview binary.
//
// It defines the root command and all subcommands (review, config, providers,
// ledger, version), binds flags into the configuration loader, invokes the
// review engine, posts the aggregate comment and returns deterministic exit
// codes for CI gating.
package cli

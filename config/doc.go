// Package config loads the timeout, reset-budget and transfer-size knobs the
// transport and block packages use their defaults for, from environment
// variables, with
// programmatic overrides for tests and the CLI.
//
// This is the one ambient concern in this module built on the standard
// library rather than a third-party package; see the design ledger for why.
package config

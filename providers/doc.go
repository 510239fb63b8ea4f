// Package providers contains the OAuth2 authorization code client used by
// OAuth brokers and the Alpaca and Schwab presets built on it.
package providers

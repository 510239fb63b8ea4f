// Package brokers holds the pieces shared by broker adapters: symbol
// normalization, the authenticated JSON client, session state and the
// preview-then-place order flow.
package brokers

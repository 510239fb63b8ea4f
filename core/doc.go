// Package core contains the broker credential lifecycle: authorization flow
// state, token refresh, order status normalization and the broker adapter
// contracts. Broker, provider and storage implementations depend on this
// package; core must not depend on broker-specific or transport-specific code.
package core

package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ CredentialService       = (*Service)(nil)
	_ AuthorizationStateStore = (*MemoryAuthorizationStateStore)(nil)
	_ ConnectionLocker        = (*MemoryConnectionLocker)(nil)
	_ AuditSink               = LoggerAuditSink{}
	_ AuditSink               = MultiAuditSink(nil)
	_ error                   = (*TokenEndpointError)(nil)

	_ Logger         = glog.Nop()
	_ LoggerProvider = glog.ProviderFromLogger(glog.Nop())
)

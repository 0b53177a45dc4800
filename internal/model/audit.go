package model

// Audit event type constants
const (
	AuditEventBreakerOpened     = "BREAKER_OPENED"
	AuditEventBreakerRecovered  = "BREAKER_RECOVERED"
	AuditEventBreakerReset      = "BREAKER_RESET"
	AuditEventTenantSuspended   = "TENANT_SUSPENDED"
	AuditEventTenantResumed     = "TENANT_RESUMED"
	AuditEventSessionForceFreed = "SESSION_FORCE_RELEASED"
	AuditEventTenantCreated     = "TENANT_CREATED"
	AuditEventTenantUpdated     = "TENANT_UPDATED"
	AuditEventTenantDeleted     = "TENANT_DELETED"
)

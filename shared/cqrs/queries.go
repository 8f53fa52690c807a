package cqrs

// ---------- User queries ----------

// ListUsersQuery fetches the public listing of live users.
type ListUsersQuery struct{}

// ---------- Reconciliation queries ----------

// ListFailedTasksQuery fetches reconciliation tasks that need an operator.
type ListFailedTasksQuery struct {
	Limit int
}

// AuditTrailQuery fetches the audit records of one identity.
type AuditTrailQuery struct {
	Identity string
}

// ---------- Credential queries ----------

type GetCredentialQuery struct {
	UserID string
}

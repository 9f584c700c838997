// Package policy implements the layered policy stack executed before every
// handler: scope authorization, URL and launch-argument guards, path and
// selector validation, and credential redaction. Every denial is audited.
package policy

import (
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"
)

// Audit event names emitted on the audit log.
const (
	AuditAuthSuccess           = "AUTH_SUCCESS"
	AuditAuthFailed            = "AUTH_FAILED"
	AuditOriginRejected        = "ORIGIN_REJECTED"
	AuditConnectionLimit       = "CONNECTION_LIMIT"
	AuditTLSRequired           = "TLS_REQUIRED"
	AuditAuthorizationDenied   = "AUTHORIZATION_DENIED"
	AuditURLBlocked            = "URL_BLOCKED"
	AuditPathTraversalAttempt  = "PATH_TRAVERSAL_ATTEMPT"
	AuditPathNotAllowed        = "PATH_NOT_ALLOWED"
	AuditPathBlocked           = "PATH_BLOCKED"
	AuditSelectorInjection     = "SELECTOR_INJECTION"
	AuditSelectorTooLong       = "SELECTOR_TOO_LONG"
	AuditValueRedacted         = "VALUE_REDACTED"
	AuditStorageStateExtracted = "STORAGE_STATE_EXTRACTED"
	AuditStorageStateBlocked   = "STORAGE_STATE_BLOCKED"
	AuditSessionExpired        = "SESSION_EXPIRED"
	AuditLaunchArgBlocked      = "LAUNCH_ARG_BLOCKED"
	AuditApprovalDecision      = "APPROVAL_DECISION"
)

// AuditLog writes one JSON object per line, timestamped, to stderr by
// default. It is safe for concurrent use.
type AuditLog struct {
	mu  sync.Mutex
	out io.Writer
	now func() time.Time
}

// NewAuditLog creates an audit log writing to stderr.
func NewAuditLog() *AuditLog {
	return &AuditLog{out: os.Stderr, now: time.Now}
}

// NewAuditLogTo creates an audit log writing to w, for tests.
func NewAuditLogTo(w io.Writer) *AuditLog {
	return &AuditLog{out: w, now: time.Now}
}

// Record emits one audit line. Details keys are merged next to the standard
// timestamp and event fields.
func (a *AuditLog) Record(event string, details map[string]any) {
	if a == nil {
		return
	}
	entry := make(map[string]any, len(details)+2)
	for k, v := range details {
		entry[k] = v
	}
	entry["timestamp"] = a.now().UTC().Format(time.RFC3339Nano)
	entry["event"] = event

	line, err := json.Marshal(entry)
	if err != nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	_, _ = a.out.Write(append(line, '\n'))
}

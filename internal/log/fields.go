// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldCorrelationID   = "correlation_id"
	FieldRequestID       = "request_id"
	FieldClientRequestID = "client_request_id"
	FieldJobID           = "job_id"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldHandle    = "handle"

	// Admission decision fields
	FieldDecision  = "decision"
	FieldReason    = "reason"
	FieldQueueSize = "queue_size"
	FieldPermits   = "permits_in_use"
	FieldWaitMS    = "wait_ms"
	FieldCPUPct    = "cpu_percent"
	FieldMemPct    = "memory_percent"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Path / URL fields
	FieldPath = "path"
)

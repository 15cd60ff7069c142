package models

// These structs define the JSON payloads for the HTTP functions and the
// Cloud Workflow that drives the processor.

// CreateSessionRequest is the input for the session-api function.
type CreateSessionRequest struct {
	SessionID  string `json:"sessionId,omitempty"`
	OwnerID    string `json:"ownerId"`
	BucketRef  string `json:"bucketRef"`
	TotalPages int    `json:"totalPages"`
}

// CreateSessionResponse echoes the session metadata back to the client
// so it can derive upload object names.
type CreateSessionResponse struct {
	SessionID     string `json:"sessionId"`
	Status        string `json:"status"`
	StoragePrefix string `json:"storagePrefix"`
	TotalPages    int    `json:"totalPages"`
	UploadedPages []int  `json:"uploadedPages"`
}

// ProcessSessionRequest is the input for the invoice-processor function,
// delivered by the processing workflow.
type ProcessSessionRequest struct {
	SessionID   string `json:"sessionId"`
	ExecutionID string `json:"executionId,omitempty"`
}

// ProcessSessionResponse reports the terminal outcome of one processing
// invocation. The function answers 200 even for pipeline failures; the
// durable outcome lives in the session record.
type ProcessSessionResponse struct {
	Status      string `json:"status"`
	InvoicePath string `json:"invoicePath,omitempty"`
	Error       string `json:"error,omitempty"`
}

// ApplyPaymentRequest is the input for the payment-api function.
type ApplyPaymentRequest struct {
	IssuerID    string  `json:"issuerId"`
	DocumentKey string  `json:"documentKey"`
	ActorID     string  `json:"actorId"`
	Kind        string  `json:"kind"` // "full" or "partial"
	Amount      float64 `json:"amount,omitempty"`
	Method      string  `json:"method,omitempty"`
	Date        string  `json:"date,omitempty"`
	Notes       string  `json:"notes,omitempty"`
}

// ApplyPaymentResponse reports the payment state after a successful
// ledger transaction.
type ApplyPaymentResponse struct {
	PaymentStatus string  `json:"paymentStatus"`
	PaidAmount    float64 `json:"paidAmount"`
	UnpaidAmount  float64 `json:"unpaidAmount"`
}

// UpdateFieldsRequest patches extracted fields on a finalized record.
type UpdateFieldsRequest struct {
	IssuerID    string         `json:"issuerId"`
	DocumentKey string         `json:"documentKey"`
	ActorID     string         `json:"actorId"`
	Fields      map[string]any `json:"fields"`
}

// ResetSessionRequest is the input for the session-reset admin function.
type ResetSessionRequest struct {
	SessionID string `json:"sessionId"`
}

// ResetSessionResponse reports the status after the reset.
type ResetSessionResponse struct {
	SessionID string `json:"sessionId"`
	Status    string `json:"status"`
}

package models

import "time"

// Payment statuses for a finalized invoice record.
const (
	PaymentUnpaid        = "unpaid"
	PaymentPartiallyPaid = "partiallyPaid"
	PaymentPaid          = "paid"
)

// Invoice is the finalized record created once a session has been
// processed. Keyed by (issuerId, documentKey); mutated afterwards only
// by the payment ledger.
type Invoice struct {
	IssuerID      string `firestore:"issuerId" json:"issuerId"`
	IssuerName    string `firestore:"issuerName" json:"issuerName"`
	IssuerTaxID   string `firestore:"issuerTaxId" json:"issuerTaxId"`
	DocumentNumber string `firestore:"documentNumber" json:"documentNumber"`

	IssueDate   *time.Time `firestore:"issueDate" json:"issueDate"`
	DueDate     *time.Time `firestore:"dueDate" json:"dueDate"`
	NetAmount   *float64   `firestore:"netAmount" json:"netAmount"`
	VATAmount   *float64   `firestore:"vatAmount" json:"vatAmount"`
	TotalAmount float64    `firestore:"totalAmount" json:"totalAmount"`
	Currency    string     `firestore:"currency" json:"currency"`
	Confidence  float64    `firestore:"confidence" json:"confidence"`

	SourceObjectRefs     []string `firestore:"sourceObjectRefs" json:"sourceObjectRefs"`
	AssembledArtifactRef string   `firestore:"assembledArtifactRef" json:"assembledArtifactRef"`
	ProcessingStatus     string   `firestore:"processingStatus" json:"processingStatus"`
	SessionID            string   `firestore:"sessionId" json:"sessionId"`
	OwnerID              string   `firestore:"ownerId" json:"ownerId"`
	CreatedAt            time.Time `firestore:"createdAt" json:"createdAt"`

	PaymentStatus  string         `firestore:"paymentStatus" json:"paymentStatus"`
	PaidAmount     float64        `firestore:"paidAmount" json:"paidAmount"`
	UnpaidAmount   float64        `firestore:"unpaidAmount" json:"unpaidAmount"`
	PaymentHistory []PaymentEntry `firestore:"paymentHistory" json:"paymentHistory"`
}

// PaymentEntry is one immutable line of the payment audit log.
type PaymentEntry struct {
	Amount     float64   `firestore:"amount" json:"amount"`
	Method     string    `firestore:"method" json:"method"`
	Date       string    `firestore:"date" json:"date"`
	Notes      string    `firestore:"notes" json:"notes"`
	RecordedAt time.Time `firestore:"recordedAt" json:"recordedAt"`
	RecordedBy string    `firestore:"recordedBy" json:"recordedBy"`
}

// Issuer is the deduplicated profile of an invoice's originating party.
// Existing non-empty fields are never overwritten.
type Issuer struct {
	IssuerID  string    `firestore:"issuerId" json:"issuerId"`
	Name      string    `firestore:"name" json:"name"`
	TaxID     string    `firestore:"taxId" json:"taxId"`
	Category  string    `firestore:"category" json:"category"`
	CreatedAt time.Time `firestore:"createdAt" json:"createdAt"`
}

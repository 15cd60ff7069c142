package models

import "time"

// Session statuses. Transitions only ever move forward:
// pending -> ready -> processing -> done | error.
const (
	SessionPending    = "pending"
	SessionReady      = "ready"
	SessionProcessing = "processing"
	SessionDone       = "done"
	SessionError      = "error"
)

// Session is the Firestore record tracking the upload lifecycle of one
// logical multi-page invoice.
type Session struct {
	SessionID           string       `firestore:"sessionId" json:"sessionId"`
	OwnerID             string       `firestore:"ownerId" json:"ownerId"`
	BucketRef           string       `firestore:"bucketRef" json:"bucketRef"`
	StoragePrefix       string       `firestore:"storagePrefix" json:"storagePrefix"`
	Status              string       `firestore:"status" json:"status"`
	TotalPages          int          `firestore:"totalPages" json:"totalPages"`
	UploadedPageNumbers []int        `firestore:"uploadedPageNumbers" json:"uploadedPageNumbers"`
	Pages               []PageRecord `firestore:"pages" json:"pages"`
	CreatedAt           time.Time    `firestore:"createdAt" json:"createdAt"`
	UpdatedAt           time.Time    `firestore:"updatedAt" json:"updatedAt"`
	ReadyAt             time.Time    `firestore:"readyAt" json:"readyAt"`
	ProcessingStartedAt time.Time    `firestore:"processingStartedAt" json:"processingStartedAt"`
	ErrorMessage        string       `firestore:"errorMessage" json:"errorMessage"`
	// InvoicePath points at the finalized record once the session is done.
	InvoicePath string `firestore:"invoicePath" json:"invoicePath"`
}

// PageRecord describes one uploaded page blob. Owned exclusively by its
// session; re-registering the same page number replaces it.
type PageRecord struct {
	PageNumber  int       `firestore:"pageNumber" json:"pageNumber"`
	ObjectRef   string    `firestore:"objectRef" json:"objectRef"`
	ContentType string    `firestore:"contentType" json:"contentType"`
	RecordedAt  time.Time `firestore:"recordedAt" json:"recordedAt"`
}

// PageFor returns the page record for the given page number, if present.
func (s *Session) PageFor(n int) (PageRecord, bool) {
	for _, p := range s.Pages {
		if p.PageNumber == n {
			return p, true
		}
	}
	return PageRecord{}, false
}

// HasPage reports whether the page number is already in the uploaded set.
func (s *Session) HasPage(n int) bool {
	for _, u := range s.UploadedPageNumbers {
		if u == n {
			return true
		}
	}
	return false
}

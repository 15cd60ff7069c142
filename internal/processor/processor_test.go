package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkoutas/invoiceflow/internal/apperr"
	"github.com/dkoutas/invoiceflow/internal/assembler"
	"github.com/dkoutas/invoiceflow/internal/blob"
	"github.com/dkoutas/invoiceflow/internal/extract"
	"github.com/dkoutas/invoiceflow/internal/models"
	"github.com/dkoutas/invoiceflow/internal/notify"
	"github.com/dkoutas/invoiceflow/internal/session"
	"github.com/dkoutas/invoiceflow/internal/store"
)

type fakeAssembler struct {
	err error
}

func (f *fakeAssembler) Assemble(_ context.Context, pages []models.PageRecord) ([]byte, []assembler.DecodedPage, error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	decoded := make([]assembler.DecodedPage, 0, len(pages))
	for _, page := range pages {
		decoded = append(decoded, assembler.DecodedPage{
			PageNumber:  page.PageNumber,
			Data:        []byte(fmt.Sprintf("page-%d", page.PageNumber)),
			ContentType: page.ContentType,
		})
	}
	return []byte("%PDF-combined"), decoded, nil
}

type fakeExtractor struct {
	mu       sync.Mutex
	fields   extract.StructuredFields
	err      error
	received [][]assembler.DecodedPage
}

func (f *fakeExtractor) Extract(_ context.Context, pages []assembler.DecodedPage) (extract.StructuredFields, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, pages)
	if f.err != nil {
		return extract.StructuredFields{}, f.err
	}
	return f.fields, nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	payloads []notify.Payload
}

func (f *fakeNotifier) Notify(_ context.Context, _ string, payload notify.Payload) (notify.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, payload)
	return notify.Result{Sent: 1}, nil
}

func floatPtr(v float64) *float64 { return &v }

func extractedFields() extract.StructuredFields {
	return extract.StructuredFields{
		IssuerName:     "ACME Corp",
		IssuerTaxID:    "EL123456789",
		DocumentNumber: "INV-42",
		TotalAmount:    floatPtr(1530.85),
		NetAmount:      floatPtr(1234.56),
		Currency:       "EUR",
		Confidence:     0.92,
	}
}

func readySession(t *testing.T, st store.Store, sessionID string, pageCount int) *models.Session {
	t.Helper()
	now := time.Now().UTC()
	s := &models.Session{
		SessionID:     sessionID,
		OwnerID:       "owner-1",
		BucketRef:     "test-bucket",
		StoragePrefix: "uploads/" + sessionID,
		Status:        models.SessionReady,
		TotalPages:    pageCount,
		CreatedAt:     now,
		UpdatedAt:     now,
		ReadyAt:       now,
	}
	for i := 1; i <= pageCount; i++ {
		s.Pages = append(s.Pages, models.PageRecord{
			PageNumber:  i,
			ObjectRef:   fmt.Sprintf("uploads/%s/%d.jpg", sessionID, i),
			ContentType: assembler.ContentTypeJPEG,
			RecordedAt:  now,
		})
		s.UploadedPageNumbers = append(s.UploadedPageNumbers, i)
	}
	require.NoError(t, st.Set(context.Background(), session.Path(sessionID), s))
	return s
}

type testRig struct {
	store     *store.Memory
	blobs     *blob.Memory
	extractor *fakeExtractor
	notifier  *fakeNotifier
	processor *Processor
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	rig := &testRig{
		store:     store.NewMemory(),
		blobs:     blob.NewMemory(),
		extractor: &fakeExtractor{fields: extractedFields()},
		notifier:  &fakeNotifier{},
	}
	rig.processor = New(rig.store, rig.blobs, &fakeAssembler{}, rig.extractor, rig.notifier)
	return rig
}

func TestProcessHappyPath(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t)
	readySession(t, rig.store, "sess-1", 2)

	outcome, err := rig.processor.Process(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, models.SessionDone, outcome.Status)
	assert.Equal(t, "issuers/EL123456789/invoices/inv_42", outcome.InvoicePath)

	var s models.Session
	exists, err := rig.store.Get(ctx, session.Path("sess-1"), &s)
	require.NoError(t, err)
	require.True(t, exists)
	assert.Equal(t, models.SessionDone, s.Status)
	assert.Equal(t, outcome.InvoicePath, s.InvoicePath)

	var inv models.Invoice
	exists, err = rig.store.Get(ctx, outcome.InvoicePath, &inv)
	require.NoError(t, err)
	require.True(t, exists)
	assert.Equal(t, "EL123456789", inv.IssuerID)
	assert.Equal(t, "sess-1", inv.SessionID)
	assert.Equal(t, "owner-1", inv.OwnerID)
	assert.InDelta(t, 1530.85, inv.TotalAmount, 1e-9)
	assert.Equal(t, models.PaymentUnpaid, inv.PaymentStatus)
	assert.InDelta(t, 1530.85, inv.UnpaidAmount, 1e-9)
	assert.Len(t, inv.SourceObjectRefs, 2)
	assert.Equal(t, "invoices/EL123456789/sess-1.pdf", inv.AssembledArtifactRef)

	var issuer models.Issuer
	exists, err = rig.store.Get(ctx, IssuerPath("EL123456789"), &issuer)
	require.NoError(t, err)
	require.True(t, exists)
	assert.Equal(t, "ACME Corp", issuer.Name)

	stored, contentType, err := rig.blobs.Get(ctx, inv.AssembledArtifactRef)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-combined"), stored)
	assert.Equal(t, assembler.ContentTypePDF, contentType)

	require.Len(t, rig.notifier.payloads, 1)
	assert.Equal(t, "Invoice processed", rig.notifier.payloads[0].Title)
}

func TestProcessSelectsFirstAndLastPage(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t)
	readySession(t, rig.store, "sess-1", 4)

	_, err := rig.processor.Process(ctx, "sess-1")
	require.NoError(t, err)

	require.Len(t, rig.extractor.received, 1)
	pages := rig.extractor.received[0]
	require.Len(t, pages, 2)
	assert.Equal(t, 1, pages[0].PageNumber)
	assert.Equal(t, 4, pages[1].PageNumber)
}

func TestProcessConcurrentTriggersClaimOnce(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t)
	readySession(t, rig.store, "sess-1", 2)

	outcomes := make([]*Outcome, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes[i], errs[i] = rig.processor.Process(ctx, "sess-1")
		}()
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	statuses := []string{outcomes[0].Status, outcomes[1].Status}
	assert.ElementsMatch(t, []string{models.SessionDone, "skipped"}, statuses)
	// Exactly one invocation did work.
	require.Len(t, rig.extractor.received, 1)
	require.Len(t, rig.notifier.payloads, 1)
}

func TestProcessDuplicateDocument(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t)
	readySession(t, rig.store, "sess-1", 2)

	_, err := rig.processor.Process(ctx, "sess-1")
	require.NoError(t, err)

	// A second session produces the same issuer and document number.
	readySession(t, rig.store, "sess-2", 2)
	outcome, err := rig.processor.Process(ctx, "sess-2")
	require.NoError(t, err)
	assert.Equal(t, models.SessionError, outcome.Status)
	assert.Contains(t, outcome.ErrorMessage, "already recorded")

	var s models.Session
	_, err = rig.store.Get(ctx, session.Path("sess-2"), &s)
	require.NoError(t, err)
	assert.Equal(t, models.SessionError, s.Status)
	assert.Contains(t, s.ErrorMessage, "already recorded")

	// The first session's record and artifact are untouched.
	var inv models.Invoice
	exists, err := rig.store.Get(ctx, InvoicePath("EL123456789", "inv_42"), &inv)
	require.NoError(t, err)
	require.True(t, exists)
	assert.Equal(t, "sess-1", inv.SessionID)
	dupArtifact, err := rig.blobs.Exists(ctx, "invoices/EL123456789/sess-2.pdf")
	require.NoError(t, err)
	assert.False(t, dupArtifact)
}

func TestProcessSameSessionReRunPreservesPayments(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t)
	readySession(t, rig.store, "sess-1", 2)

	outcome, err := rig.processor.Process(ctx, "sess-1")
	require.NoError(t, err)

	// Record a payment, then flip the session back to ready as a reset
	// would and process again.
	var inv models.Invoice
	_, err = rig.store.Get(ctx, outcome.InvoicePath, &inv)
	require.NoError(t, err)
	inv.PaymentStatus = models.PaymentPartiallyPaid
	inv.PaidAmount = 500
	inv.UnpaidAmount = 1030.85
	inv.PaymentHistory = []models.PaymentEntry{{Amount: 500, RecordedBy: "owner-1", RecordedAt: time.Now().UTC()}}
	require.NoError(t, rig.store.Set(ctx, outcome.InvoicePath, &inv))
	require.NoError(t, rig.store.SetMerge(ctx, session.Path("sess-1"), map[string]any{"status": models.SessionReady}))

	outcome, err = rig.processor.Process(ctx, "sess-1")
	require.NoError(t, err)
	require.Equal(t, models.SessionDone, outcome.Status)

	_, err = rig.store.Get(ctx, outcome.InvoicePath, &inv)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPartiallyPaid, inv.PaymentStatus)
	assert.InDelta(t, 500, inv.PaidAmount, 1e-9)
	require.Len(t, inv.PaymentHistory, 1)
}

func TestProcessExtractionFailure(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t)
	rig.extractor.err = apperr.Extraction("extraction exhausted all attempts", errors.New("model unavailable"))
	readySession(t, rig.store, "sess-1", 2)

	outcome, err := rig.processor.Process(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, models.SessionError, outcome.Status)
	assert.Contains(t, outcome.ErrorMessage, "exhausted")

	var s models.Session
	_, err = rig.store.Get(ctx, session.Path("sess-1"), &s)
	require.NoError(t, err)
	assert.Equal(t, models.SessionError, s.Status)

	require.Len(t, rig.notifier.payloads, 1)
	assert.Equal(t, "Invoice processing failed", rig.notifier.payloads[0].Title)
}

func TestProcessPageCountMismatch(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t)
	s := readySession(t, rig.store, "sess-1", 2)
	s.Pages = s.Pages[:1]
	require.NoError(t, rig.store.Set(ctx, session.Path("sess-1"), s))

	outcome, err := rig.processor.Process(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, models.SessionError, outcome.Status)
	assert.Contains(t, outcome.ErrorMessage, "totalPages")
}

func TestProcessMissingDocumentNumberFallsBackToSessionKey(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t)
	fields := extractedFields()
	fields.DocumentNumber = ""
	rig.extractor.fields = fields
	readySession(t, rig.store, "sess-1", 1)

	outcome, err := rig.processor.Process(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, models.SessionDone, outcome.Status)
	assert.Equal(t, InvoicePath("EL123456789", "session_sess-1"), outcome.InvoicePath)
}

func TestProcessUnknownSession(t *testing.T) {
	rig := newTestRig(t)
	_, err := rig.processor.Process(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

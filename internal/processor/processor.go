// Package processor owns the ready -> processing -> done|error half of
// the session state machine. Invocations are at-least-once; the claim
// transaction guarantees at most one of them does any work per session.
package processor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dkoutas/invoiceflow/internal/apperr"
	"github.com/dkoutas/invoiceflow/internal/assembler"
	"github.com/dkoutas/invoiceflow/internal/blob"
	"github.com/dkoutas/invoiceflow/internal/extract"
	"github.com/dkoutas/invoiceflow/internal/models"
	"github.com/dkoutas/invoiceflow/internal/normalize"
	"github.com/dkoutas/invoiceflow/internal/notify"
	"github.com/dkoutas/invoiceflow/internal/session"
	"github.com/dkoutas/invoiceflow/internal/store"
)

// Assembler produces the combined artifact and the decoded page buffers.
type Assembler interface {
	Assemble(ctx context.Context, pages []models.PageRecord) ([]byte, []assembler.DecodedPage, error)
}

// Extractor turns decoded pages into structured invoice fields.
type Extractor interface {
	Extract(ctx context.Context, pages []assembler.DecodedPage) (extract.StructuredFields, error)
}

// IssuerPath returns the record path for an issuer profile.
func IssuerPath(issuerID string) string { return "issuers/" + issuerID }

// InvoicePath returns the record path for a finalized invoice.
func InvoicePath(issuerID, documentKey string) string {
	return "issuers/" + issuerID + "/invoices/" + documentKey
}

// Outcome is the terminal result of one processing invocation.
type Outcome struct {
	Status       string // done, error, or skipped when another worker holds the claim
	InvoicePath  string
	ErrorMessage string
}

type Processor struct {
	store     store.Store
	blobs     blob.Store
	assembler Assembler
	extractor Extractor
	notifier  notify.Notifier
}

func New(st store.Store, blobs blob.Store, asm Assembler, ext Extractor, notifier notify.Notifier) *Processor {
	return &Processor{store: st, blobs: blobs, assembler: asm, extractor: ext, notifier: notifier}
}

// Process claims the session and drives it to a terminal status.
// Pipeline failures are written into the session record and reported in
// the outcome instead of being raised, so the trigger infrastructure
// never re-delivers on its own.
func (p *Processor) Process(ctx context.Context, sessionID string) (*Outcome, error) {
	logCtx := slog.With("sessionId", sessionID)

	s, claimed, err := p.claim(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !claimed {
		logCtx.Info("Session already claimed by another invocation. Exiting.", "status", s.Status)
		return &Outcome{Status: "skipped"}, nil
	}
	logCtx.Info("Claimed session for processing.", "totalPages", s.TotalPages)

	invoicePath, err := p.runPipeline(ctx, logCtx, s)
	if err != nil {
		p.failSession(ctx, logCtx, s, err)
		return &Outcome{Status: models.SessionError, ErrorMessage: err.Error()}, nil
	}

	if err := p.store.SetMerge(ctx, session.Path(sessionID), map[string]any{
		"status":      models.SessionDone,
		"invoicePath": invoicePath,
		"updatedAt":   time.Now().UTC(),
	}); err != nil {
		// The invoice record exists; only the session pointer is stale.
		// A re-run after reset will land on the merge path and repair it.
		p.failSession(ctx, logCtx, s, fmt.Errorf("failed to mark session done: %w", err))
		return &Outcome{Status: models.SessionError, ErrorMessage: err.Error()}, nil
	}

	logCtx.Info("Processing complete.", "invoicePath", invoicePath)
	p.notifyOwner(ctx, logCtx, s.OwnerID, notify.Payload{
		Title: "Invoice processed",
		Body:  "Your invoice was processed successfully.",
		Data:  map[string]string{"sessionId": sessionID, "invoicePath": invoicePath},
	})
	return &Outcome{Status: models.SessionDone, InvoicePath: invoicePath}, nil
}

// claim atomically re-reads the session and flips ready -> processing.
// This is the sole mechanism preventing duplicate processing when the
// trigger fires more than once or two workers race.
func (p *Processor) claim(ctx context.Context, sessionID string) (*models.Session, bool, error) {
	var s models.Session
	var claimed bool
	err := p.store.RunTransaction(ctx, func(tx store.Tx) error {
		claimed = false
		exists, err := tx.Get(session.Path(sessionID), &s)
		if err != nil {
			return err
		}
		if !exists {
			return apperr.NotFound("session %s does not exist", sessionID)
		}
		if s.Status != models.SessionReady {
			return nil
		}
		s.Status = models.SessionProcessing
		s.ProcessingStartedAt = time.Now().UTC()
		s.UpdatedAt = s.ProcessingStartedAt
		claimed = true
		return tx.Set(session.Path(sessionID), &s)
	})
	if err != nil {
		return nil, false, err
	}
	return &s, claimed, nil
}

func (p *Processor) runPipeline(ctx context.Context, logCtx *slog.Logger, s *models.Session) (string, error) {
	if len(s.Pages) != s.TotalPages {
		return "", apperr.Validation("session has %d pages but totalPages=%d", len(s.Pages), s.TotalPages)
	}

	artifact, decoded, err := p.assembler.Assemble(ctx, s.Pages)
	if err != nil {
		return "", err
	}
	logCtx.Info("Assembled combined artifact.", "bytes", len(artifact))

	fields, err := p.extractor.Extract(ctx, selectPages(decoded))
	if err != nil {
		return "", err
	}

	issuerID := normalize.IssuerID(fields.IssuerTaxID, fields.IssuerName)
	if issuerID == "" {
		return "", apperr.Extraction("extraction produced neither a tax id nor an issuer name", nil)
	}
	documentKey := normalize.Slug(fields.DocumentNumber)
	if documentKey == "" {
		documentKey = "session_" + s.SessionID
	}
	logCtx = logCtx.With("issuerId", issuerID, "documentKey", documentKey)

	if err := p.upsertIssuerAndCheckDuplicate(ctx, s, fields, issuerID, documentKey); err != nil {
		return "", err
	}

	artifactRef := fmt.Sprintf("invoices/%s/%s.pdf", issuerID, s.SessionID)
	if err := p.blobs.PutIfAbsent(ctx, artifactRef, artifact, assembler.ContentTypePDF); err != nil {
		return "", fmt.Errorf("failed to persist combined artifact: %w", err)
	}
	logCtx.Info("Persisted combined artifact.", "artifactRef", artifactRef)

	invoicePath := InvoicePath(issuerID, documentKey)
	if err := p.finalizeInvoice(ctx, s, fields, issuerID, documentKey, artifactRef); err != nil {
		return "", err
	}
	logCtx.Info("Finalized invoice record.", "invoicePath", invoicePath)
	return invoicePath, nil
}

// selectPages picks the extraction subset: everything for one or two
// pages, otherwise only the first and last page. The issuer block sits
// on page 1 and the financial totals on the last page.
func selectPages(decoded []assembler.DecodedPage) []assembler.DecodedPage {
	if len(decoded) <= 2 {
		return decoded
	}
	return []assembler.DecodedPage{decoded[0], decoded[len(decoded)-1]}
}

// upsertIssuerAndCheckDuplicate creates or completes the issuer profile
// (first-write-wins per field) and aborts with a duplicate error when a
// different session already finalized the same issuer + document number.
func (p *Processor) upsertIssuerAndCheckDuplicate(ctx context.Context, s *models.Session, fields extract.StructuredFields, issuerID, documentKey string) error {
	return p.store.RunTransaction(ctx, func(tx store.Tx) error {
		var issuer models.Issuer
		issuerExists, err := tx.Get(IssuerPath(issuerID), &issuer)
		if err != nil {
			return err
		}

		var existing models.Invoice
		invoiceExists, err := tx.Get(InvoicePath(issuerID, documentKey), &existing)
		if err != nil {
			return err
		}
		if invoiceExists && existing.SessionID != s.SessionID {
			return apperr.Duplicate("invoice %s already recorded for issuer %s by session %s", documentKey, issuerID, existing.SessionID)
		}

		if !issuerExists {
			return tx.Set(IssuerPath(issuerID), &models.Issuer{
				IssuerID:  issuerID,
				Name:      fields.IssuerName,
				TaxID:     fields.IssuerTaxID,
				CreatedAt: time.Now().UTC(),
			})
		}
		patch := map[string]any{}
		if issuer.Name == "" && fields.IssuerName != "" {
			patch["name"] = fields.IssuerName
		}
		if issuer.TaxID == "" && fields.IssuerTaxID != "" {
			patch["taxId"] = fields.IssuerTaxID
		}
		if len(patch) == 0 {
			return nil
		}
		return tx.SetMerge(IssuerPath(issuerID), patch)
	})
}

// finalizeInvoice writes the finalized record with merge semantics so a
// re-run after a partial failure repairs the record without resetting
// any payment state a previous run already produced.
func (p *Processor) finalizeInvoice(ctx context.Context, s *models.Session, fields extract.StructuredFields, issuerID, documentKey, artifactRef string) error {
	return p.store.RunTransaction(ctx, func(tx store.Tx) error {
		var existing models.Invoice
		exists, err := tx.Get(InvoicePath(issuerID, documentKey), &existing)
		if err != nil {
			return err
		}

		total := 0.0
		if fields.TotalAmount != nil {
			total = *fields.TotalAmount
		}
		sourceRefs := make([]string, 0, len(s.Pages))
		for _, page := range s.Pages {
			sourceRefs = append(sourceRefs, page.ObjectRef)
		}

		invoice := models.Invoice{
			IssuerID:             issuerID,
			IssuerName:           fields.IssuerName,
			IssuerTaxID:          fields.IssuerTaxID,
			DocumentNumber:       fields.DocumentNumber,
			IssueDate:            fields.IssueDate,
			DueDate:              fields.DueDate,
			NetAmount:            fields.NetAmount,
			VATAmount:            fields.VATAmount,
			TotalAmount:          total,
			Currency:             fields.Currency,
			Confidence:           fields.Confidence,
			SourceObjectRefs:     sourceRefs,
			AssembledArtifactRef: artifactRef,
			ProcessingStatus:     models.SessionDone,
			SessionID:            s.SessionID,
			OwnerID:              s.OwnerID,
			CreatedAt:            time.Now().UTC(),
			PaymentStatus:        models.PaymentUnpaid,
			PaidAmount:           0,
			UnpaidAmount:         total,
			PaymentHistory:       []models.PaymentEntry{},
		}
		if exists {
			invoice.CreatedAt = existing.CreatedAt
			invoice.PaymentStatus = existing.PaymentStatus
			invoice.PaidAmount = existing.PaidAmount
			invoice.UnpaidAmount = existing.UnpaidAmount
			invoice.PaymentHistory = existing.PaymentHistory
		}
		return tx.Set(InvoicePath(issuerID, documentKey), &invoice)
	})
}

// failSession records the terminal error on the session and tells the
// owner. Never raises: a swallowed status write is the only thing worse
// than a failed pipeline, so that case is logged as critical.
func (p *Processor) failSession(ctx context.Context, logCtx *slog.Logger, s *models.Session, cause error) {
	logCtx.Error("Processing failed.", "error", cause)
	if err := p.store.SetMerge(ctx, session.Path(s.SessionID), map[string]any{
		"status":       models.SessionError,
		"errorMessage": cause.Error(),
		"updatedAt":    time.Now().UTC(),
	}); err != nil {
		logCtx.Error("CRITICAL: Failed to write error status after a processing failure.", "updateError", err)
	}
	p.notifyOwner(ctx, logCtx, s.OwnerID, notify.Payload{
		Title: "Invoice processing failed",
		Body:  cause.Error(),
		Data:  map[string]string{"sessionId": s.SessionID},
	})
}

func (p *Processor) notifyOwner(ctx context.Context, logCtx *slog.Logger, ownerID string, payload notify.Payload) {
	if p.notifier == nil {
		return
	}
	if _, err := p.notifier.Notify(ctx, ownerID, payload); err != nil {
		logCtx.Warn("Notification delivery failed.", "ownerId", ownerID, "error", err)
	}
}

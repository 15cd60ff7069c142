// Package session owns the page-upload lifecycle of an invoice session
// and its pending -> ready transition. Every operation runs inside a
// single store transaction so concurrent page uploads can never lose
// updates or double-trigger readiness.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/dkoutas/invoiceflow/internal/apperr"
	"github.com/dkoutas/invoiceflow/internal/models"
	"github.com/dkoutas/invoiceflow/internal/store"
)

// Path returns the record path for a session id.
func Path(sessionID string) string { return "sessions/" + sessionID }

// ProcessTrigger delivers the hand-off to the processing orchestrator
// once a session becomes ready. Delivery is at-least-once and may also
// be invoked manually; the processor's claim transaction deduplicates.
type ProcessTrigger interface {
	TriggerProcessing(ctx context.Context, sessionID string) error
}

// CreateParams are the inputs to CreateOrGetSession.
type CreateParams struct {
	SessionID  string // generated when empty
	OwnerID    string
	BucketRef  string
	TotalPages int // required when the session does not exist yet
}

type Manager struct {
	store   store.Store
	trigger ProcessTrigger // nil disables delivery (tests, local runs)
}

func NewManager(st store.Store, trigger ProcessTrigger) *Manager {
	return &Manager{store: st, trigger: trigger}
}

// CreateOrGetSession creates the session in pending status or returns
// the existing one. totalPages is set exactly once; a contradicting
// value on an existing session fails with a conflict.
func (m *Manager) CreateOrGetSession(ctx context.Context, p CreateParams) (*models.Session, error) {
	if p.OwnerID == "" {
		return nil, apperr.Validation("ownerId is required")
	}
	sessionID := p.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	var result models.Session
	err := m.store.RunTransaction(ctx, func(tx store.Tx) error {
		var s models.Session
		exists, err := tx.Get(Path(sessionID), &s)
		if err != nil {
			return err
		}
		if !exists {
			if p.TotalPages <= 0 {
				return apperr.Validation("totalPages is required to create session %s", sessionID)
			}
			now := time.Now().UTC()
			s = models.Session{
				SessionID:     sessionID,
				OwnerID:       p.OwnerID,
				BucketRef:     p.BucketRef,
				StoragePrefix: "uploads/" + sessionID,
				Status:        models.SessionPending,
				TotalPages:    p.TotalPages,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			if err := tx.Set(Path(sessionID), &s); err != nil {
				return err
			}
			result = s
			return nil
		}

		if s.OwnerID != p.OwnerID {
			return apperr.Authorization("session %s belongs to another owner", sessionID)
		}
		if p.TotalPages > 0 && p.TotalPages != s.TotalPages {
			return apperr.Conflict("session %s already recorded totalPages=%d, got %d", sessionID, s.TotalPages, p.TotalPages)
		}
		result = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// RegisterPage records one uploaded page blob. Re-registering a page
// number replaces its prior record. The session flips to ready exactly
// when the uploaded set reaches totalPages while status is still
// pending; the whole check-and-transition is one transaction.
func (m *Manager) RegisterPage(ctx context.Context, sessionID string, pageNumber int, objectRef, contentType, ownerID string) (*models.Session, error) {
	var result models.Session
	var becameReady bool

	err := m.store.RunTransaction(ctx, func(tx store.Tx) error {
		becameReady = false

		var s models.Session
		exists, err := tx.Get(Path(sessionID), &s)
		if err != nil {
			return err
		}
		if !exists {
			return apperr.NotFound("session %s does not exist", sessionID)
		}
		if ownerID != "" && s.OwnerID != ownerID {
			return apperr.Authorization("session %s belongs to another owner", sessionID)
		}
		if s.TotalPages <= 0 {
			return apperr.Validation("session %s has no totalPages recorded yet", sessionID)
		}
		if pageNumber < 1 || pageNumber > s.TotalPages {
			return apperr.Validation("page number %d is out of range 1..%d", pageNumber, s.TotalPages)
		}

		record := models.PageRecord{
			PageNumber:  pageNumber,
			ObjectRef:   objectRef,
			ContentType: contentType,
			RecordedAt:  time.Now().UTC(),
		}
		replaced := false
		for i, p := range s.Pages {
			if p.PageNumber == pageNumber {
				s.Pages[i] = record
				replaced = true
				break
			}
		}
		if !replaced {
			s.Pages = append(s.Pages, record)
			s.UploadedPageNumbers = append(s.UploadedPageNumbers, pageNumber)
			sort.Ints(s.UploadedPageNumbers)
			sort.Slice(s.Pages, func(i, j int) bool { return s.Pages[i].PageNumber < s.Pages[j].PageNumber })
		}

		s.UpdatedAt = time.Now().UTC()
		if len(s.UploadedPageNumbers) == s.TotalPages && s.Status == models.SessionPending {
			s.Status = models.SessionReady
			s.ReadyAt = s.UpdatedAt
			becameReady = true
		}

		if err := tx.Set(Path(sessionID), &s); err != nil {
			return err
		}
		result = s
		return nil
	})
	if err != nil {
		return nil, err
	}

	if becameReady {
		m.deliverTrigger(ctx, sessionID)
	}
	return &result, nil
}

// Reset moves a session in error (or stuck in ready/processing) back to
// ready with its pages intact and re-delivers the processing trigger.
// This is the system's only recovery path for a failed pipeline.
func (m *Manager) Reset(ctx context.Context, sessionID string) (*models.Session, error) {
	var result models.Session
	err := m.store.RunTransaction(ctx, func(tx store.Tx) error {
		var s models.Session
		exists, err := tx.Get(Path(sessionID), &s)
		if err != nil {
			return err
		}
		if !exists {
			return apperr.NotFound("session %s does not exist", sessionID)
		}
		switch s.Status {
		case models.SessionError, models.SessionProcessing, models.SessionReady:
		default:
			return apperr.InvalidState("session %s is %s and cannot be reset", sessionID, s.Status)
		}
		if len(s.UploadedPageNumbers) != s.TotalPages {
			return apperr.Validation("session %s has %d of %d pages and cannot be reprocessed", sessionID, len(s.UploadedPageNumbers), s.TotalPages)
		}

		s.Status = models.SessionReady
		s.ErrorMessage = ""
		s.UpdatedAt = time.Now().UTC()
		s.ReadyAt = s.UpdatedAt
		if err := tx.Set(Path(sessionID), &s); err != nil {
			return err
		}
		result = s
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.deliverTrigger(ctx, sessionID)
	return &result, nil
}

// deliverTrigger hands the session to the processor. A failed delivery
// leaves the session in ready, recoverable through Reset, so it is
// logged rather than failing the registration that caused it.
func (m *Manager) deliverTrigger(ctx context.Context, sessionID string) {
	if m.trigger == nil {
		return
	}
	if err := m.trigger.TriggerProcessing(ctx, sessionID); err != nil {
		slog.Error("Failed to deliver processing trigger; session stays ready.", "sessionId", sessionID, "error", err)
	}
}

// ObjectName returns the expected upload object name for a page.
func ObjectName(storagePrefix string, pageNumber int, ext string) string {
	return fmt.Sprintf("%s/%d%s", storagePrefix, pageNumber, ext)
}

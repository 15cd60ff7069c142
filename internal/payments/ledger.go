// Package payments applies monetary adjustments to finalized invoice
// records. Every operation is one store transaction: a rejected payment
// leaves no partial writes, and concurrent payments serialize on the
// record.
package payments

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dkoutas/invoiceflow/internal/apperr"
	"github.com/dkoutas/invoiceflow/internal/models"
	"github.com/dkoutas/invoiceflow/internal/normalize"
	"github.com/dkoutas/invoiceflow/internal/processor"
	"github.com/dkoutas/invoiceflow/internal/store"
)

// Epsilon is the floating tolerance applied to overpayment checks and
// the paid threshold. One cent.
const Epsilon = 0.01

// Payment kinds.
const (
	KindFull    = "full"
	KindPartial = "partial"
)

// DeriveStatus computes the payment status from the paid and total
// amounts. An unknown total (<= 0) can never reach paid; any payment
// against it reads as partiallyPaid.
func DeriveStatus(paid, total float64) string {
	if total > 0 && paid >= total-Epsilon {
		return models.PaymentPaid
	}
	if paid > 0 {
		return models.PaymentPartiallyPaid
	}
	return models.PaymentUnpaid
}

// PaymentParams are the caller-supplied inputs to ApplyPayment.
type PaymentParams struct {
	ActorID string
	Kind    string // full or partial
	Amount  float64
	Method  string
	Date    string
	Notes   string
}

// Result is the payment state after a successful ledger operation.
type Result struct {
	PaymentStatus string
	PaidAmount    float64
	UnpaidAmount  float64
}

type Ledger struct {
	store store.Store
}

func NewLedger(st store.Store) *Ledger {
	return &Ledger{store: st}
}

// ApplyPayment appends one payment entry and recomputes the record's
// payment state, all inside a single transaction.
func (l *Ledger) ApplyPayment(ctx context.Context, issuerID, documentKey string, p PaymentParams) (*Result, error) {
	path := processor.InvoicePath(issuerID, documentKey)
	var result Result

	err := l.store.RunTransaction(ctx, func(tx store.Tx) error {
		var inv models.Invoice
		exists, err := tx.Get(path, &inv)
		if err != nil {
			return err
		}
		if !exists {
			return apperr.NotFound("invoice %s does not exist", path)
		}
		if inv.OwnerID != "" && inv.OwnerID != p.ActorID {
			return apperr.Authorization("invoice %s belongs to another owner", path)
		}
		if inv.PaymentStatus == models.PaymentPaid {
			return apperr.InvalidState("invoice %s is already paid", path)
		}

		amount, err := resolveAmount(p, inv)
		if err != nil {
			return err
		}
		if inv.TotalAmount > 0 && inv.PaidAmount+amount > inv.TotalAmount+Epsilon {
			return apperr.Validation("payment of %.2f exceeds outstanding balance %.2f", amount, inv.TotalAmount-inv.PaidAmount)
		}

		date := p.Date
		if date == "" {
			date = time.Now().UTC().Format("2006-01-02")
		}
		inv.PaymentHistory = append(inv.PaymentHistory, models.PaymentEntry{
			Amount:     amount,
			Method:     p.Method,
			Date:       date,
			Notes:      p.Notes,
			RecordedAt: time.Now().UTC(),
			RecordedBy: p.ActorID,
		})
		inv.PaidAmount += amount
		inv.UnpaidAmount = outstanding(inv.TotalAmount, inv.PaidAmount)
		inv.PaymentStatus = DeriveStatus(inv.PaidAmount, inv.TotalAmount)

		if err := tx.Set(path, &inv); err != nil {
			return err
		}
		result = Result{PaymentStatus: inv.PaymentStatus, PaidAmount: inv.PaidAmount, UnpaidAmount: inv.UnpaidAmount}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Payment applied.", "invoicePath", path, "status", result.PaymentStatus, "paidAmount", result.PaidAmount)
	return &result, nil
}

// resolveAmount applies the kind semantics: full defaults to the entire
// outstanding balance; partial always requires an explicit amount.
func resolveAmount(p PaymentParams, inv models.Invoice) (float64, error) {
	switch p.Kind {
	case KindFull:
		if p.Amount > 0 {
			return p.Amount, nil
		}
		bal := outstanding(inv.TotalAmount, inv.PaidAmount)
		if bal <= 0 {
			return 0, apperr.Validation("cannot infer full payment amount: outstanding balance is unknown")
		}
		return bal, nil
	case KindPartial:
		if p.Amount <= 0 {
			return 0, apperr.Validation("partial payment requires a positive amount")
		}
		return p.Amount, nil
	default:
		return 0, apperr.Validation("unknown payment kind %q", p.Kind)
	}
}

func outstanding(total, paid float64) float64 {
	if rest := total - paid; rest > 0 {
		return rest
	}
	return 0
}

// patchable lists the extracted fields UpdateFields may correct, with
// the coercion each one needs from the decoded JSON patch.
var patchable = map[string]string{
	"issuerName":     "string",
	"issuerTaxId":    "string",
	"documentNumber": "string",
	"issueDate":      "date",
	"dueDate":        "date",
	"netAmount":      "number",
	"vatAmount":      "number",
	"totalAmount":    "number",
	"currency":       "string",
	"paidAmount":     "number",
}

// UpdateFields corrects extracted fields on a finalized record. When
// the patch touches totalAmount or paidAmount, the overpayment check
// and status derivation are reapplied under the same transaction.
func (l *Ledger) UpdateFields(ctx context.Context, issuerID, documentKey, actorID string, patch map[string]any) (*Result, error) {
	if len(patch) == 0 {
		return nil, apperr.Validation("field patch is empty")
	}
	path := processor.InvoicePath(issuerID, documentKey)
	var result Result

	err := l.store.RunTransaction(ctx, func(tx store.Tx) error {
		var inv models.Invoice
		exists, err := tx.Get(path, &inv)
		if err != nil {
			return err
		}
		if !exists {
			return apperr.NotFound("invoice %s does not exist", path)
		}
		if inv.OwnerID != "" && inv.OwnerID != actorID {
			return apperr.Authorization("invoice %s belongs to another owner", path)
		}

		if err := applyPatch(&inv, patch); err != nil {
			return err
		}
		if inv.TotalAmount > 0 && inv.PaidAmount > inv.TotalAmount+Epsilon {
			return apperr.Validation("paidAmount %.2f exceeds totalAmount %.2f", inv.PaidAmount, inv.TotalAmount)
		}
		inv.UnpaidAmount = outstanding(inv.TotalAmount, inv.PaidAmount)
		inv.PaymentStatus = DeriveStatus(inv.PaidAmount, inv.TotalAmount)

		if err := tx.Set(path, &inv); err != nil {
			return err
		}
		result = Result{PaymentStatus: inv.PaymentStatus, PaidAmount: inv.PaidAmount, UnpaidAmount: inv.UnpaidAmount}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func applyPatch(inv *models.Invoice, patch map[string]any) error {
	for key, raw := range patch {
		kind, ok := patchable[key]
		if !ok {
			return apperr.Validation("field %q is not patchable", key)
		}
		switch kind {
		case "string":
			v, ok := raw.(string)
			if !ok {
				return apperr.Validation("field %q requires a string value", key)
			}
			switch key {
			case "issuerName":
				inv.IssuerName = v
			case "issuerTaxId":
				inv.IssuerTaxID = normalize.TaxID(v)
			case "documentNumber":
				inv.DocumentNumber = v
			case "currency":
				inv.Currency = v
			}
		case "date":
			v, ok := raw.(string)
			if !ok && raw != nil {
				return apperr.Validation("field %q requires a date string", key)
			}
			var t *time.Time
			if ok {
				if t = normalize.Date(v); t == nil {
					return apperr.Validation("field %q has unparseable date %q", key, v)
				}
			}
			if key == "issueDate" {
				inv.IssueDate = t
			} else {
				inv.DueDate = t
			}
		case "number":
			v, ok := toFloat(raw)
			if !ok {
				return apperr.Validation("field %q requires a numeric value", key)
			}
			switch key {
			case "netAmount":
				inv.NetAmount = &v
			case "vatAmount":
				inv.VATAmount = &v
			case "totalAmount":
				inv.TotalAmount = v
			case "paidAmount":
				if v < 0 {
					return apperr.Validation("paidAmount cannot be negative")
				}
				inv.PaidAmount = v
			}
		default:
			return fmt.Errorf("unhandled patch kind %q", kind)
		}
	}
	return nil
}

func toFloat(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

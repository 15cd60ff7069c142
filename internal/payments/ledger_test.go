package payments

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkoutas/invoiceflow/internal/apperr"
	"github.com/dkoutas/invoiceflow/internal/models"
	"github.com/dkoutas/invoiceflow/internal/processor"
	"github.com/dkoutas/invoiceflow/internal/store"
)

func TestDeriveStatus(t *testing.T) {
	tests := []struct {
		name        string
		paid, total float64
		want        string
	}{
		{"nothing paid", 0, 100, models.PaymentUnpaid},
		{"partially paid", 50, 100, models.PaymentPartiallyPaid},
		{"fully paid", 100, 100, models.PaymentPaid},
		{"paid within tolerance", 99.995, 100, models.PaymentPaid},
		{"unknown total unpaid", 0, 0, models.PaymentUnpaid},
		{"unknown total with payment", 10, 0, models.PaymentPartiallyPaid},
		{"overpaid", 120, 100, models.PaymentPaid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveStatus(tt.paid, tt.total))
		})
	}
}

func newTestLedger(t *testing.T, total, paid float64) (*Ledger, *store.Memory) {
	t.Helper()
	st := store.NewMemory()
	inv := models.Invoice{
		IssuerID:       "123456789",
		DocumentNumber: "INV-1",
		TotalAmount:    total,
		OwnerID:        "owner-1",
		PaymentStatus:  DeriveStatus(paid, total),
		PaidAmount:     paid,
		UnpaidAmount:   outstanding(total, paid),
	}
	require.NoError(t, st.Set(context.Background(), processor.InvoicePath("123456789", "inv_1"), &inv))
	return NewLedger(st), st
}

func getInvoice(t *testing.T, st *store.Memory) models.Invoice {
	t.Helper()
	var inv models.Invoice
	exists, err := st.Get(context.Background(), processor.InvoicePath("123456789", "inv_1"), &inv)
	require.NoError(t, err)
	require.True(t, exists)
	return inv
}

func TestApplyPaymentFullDefaultsToOutstandingBalance(t *testing.T) {
	ctx := context.Background()
	l, st := newTestLedger(t, 100, 40)

	result, err := l.ApplyPayment(ctx, "123456789", "inv_1", PaymentParams{
		ActorID: "owner-1", Kind: KindFull, Method: "bank_transfer",
	})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPaid, result.PaymentStatus)
	assert.InDelta(t, 100, result.PaidAmount, 1e-9)
	assert.InDelta(t, 0, result.UnpaidAmount, 1e-9)

	inv := getInvoice(t, st)
	require.Len(t, inv.PaymentHistory, 1)
	assert.InDelta(t, 60, inv.PaymentHistory[0].Amount, 1e-9)
	assert.Equal(t, "owner-1", inv.PaymentHistory[0].RecordedBy)
	assert.Equal(t, "bank_transfer", inv.PaymentHistory[0].Method)
	assert.NotEmpty(t, inv.PaymentHistory[0].Date)
}

func TestApplyPaymentPartial(t *testing.T) {
	ctx := context.Background()
	l, st := newTestLedger(t, 100, 0)

	result, err := l.ApplyPayment(ctx, "123456789", "inv_1", PaymentParams{
		ActorID: "owner-1", Kind: KindPartial, Amount: 30, Date: "2026-01-15",
	})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPartiallyPaid, result.PaymentStatus)
	assert.InDelta(t, 30, result.PaidAmount, 1e-9)
	assert.InDelta(t, 70, result.UnpaidAmount, 1e-9)

	inv := getInvoice(t, st)
	require.Len(t, inv.PaymentHistory, 1)
	assert.Equal(t, "2026-01-15", inv.PaymentHistory[0].Date)

	// Partial payments always need an explicit positive amount.
	_, err = l.ApplyPayment(ctx, "123456789", "inv_1", PaymentParams{ActorID: "owner-1", Kind: KindPartial})
	assert.True(t, apperr.Is(err, apperr.KindValidation), "got %v", err)
}

func TestApplyPaymentRejectsOverpayment(t *testing.T) {
	ctx := context.Background()
	l, st := newTestLedger(t, 100, 0)

	_, err := l.ApplyPayment(ctx, "123456789", "inv_1", PaymentParams{ActorID: "owner-1", Kind: KindPartial, Amount: 60})
	require.NoError(t, err)

	_, err = l.ApplyPayment(ctx, "123456789", "inv_1", PaymentParams{ActorID: "owner-1", Kind: KindPartial, Amount: 50})
	assert.True(t, apperr.Is(err, apperr.KindValidation), "got %v", err)

	// The rejected payment left no partial writes.
	inv := getInvoice(t, st)
	assert.InDelta(t, 60, inv.PaidAmount, 1e-9)
	assert.Len(t, inv.PaymentHistory, 1)
	assert.Equal(t, models.PaymentPartiallyPaid, inv.PaymentStatus)
}

func TestApplyPaymentErrors(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t, 100, 100)

	_, err := l.ApplyPayment(ctx, "123456789", "inv_1", PaymentParams{ActorID: "owner-1", Kind: KindFull})
	assert.True(t, apperr.Is(err, apperr.KindInvalidState), "paying a paid invoice: %v", err)

	_, err = l.ApplyPayment(ctx, "123456789", "missing", PaymentParams{ActorID: "owner-1", Kind: KindFull})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	l2, _ := newTestLedger(t, 100, 0)
	_, err = l2.ApplyPayment(ctx, "123456789", "inv_1", PaymentParams{ActorID: "intruder", Kind: KindFull})
	assert.True(t, apperr.Is(err, apperr.KindAuthorization))

	_, err = l2.ApplyPayment(ctx, "123456789", "inv_1", PaymentParams{ActorID: "owner-1", Kind: "refund"})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestApplyPaymentUnknownTotalRequiresExplicitAmount(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t, 0, 0)

	_, err := l.ApplyPayment(ctx, "123456789", "inv_1", PaymentParams{ActorID: "owner-1", Kind: KindFull})
	assert.True(t, apperr.Is(err, apperr.KindValidation), "got %v", err)

	result, err := l.ApplyPayment(ctx, "123456789", "inv_1", PaymentParams{ActorID: "owner-1", Kind: KindFull, Amount: 25})
	require.NoError(t, err)
	// An unknown total can never reach paid.
	assert.Equal(t, models.PaymentPartiallyPaid, result.PaymentStatus)
}

func TestUpdateFieldsRecomputesPaymentState(t *testing.T) {
	ctx := context.Background()
	l, st := newTestLedger(t, 100, 100)

	// Correcting the total re-opens the invoice.
	result, err := l.UpdateFields(ctx, "123456789", "inv_1", "owner-1", map[string]any{"totalAmount": float64(200)})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPartiallyPaid, result.PaymentStatus)
	assert.InDelta(t, 100, result.UnpaidAmount, 1e-9)

	inv := getInvoice(t, st)
	assert.InDelta(t, 200, inv.TotalAmount, 1e-9)
}

func TestUpdateFieldsValidation(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t, 100, 0)

	_, err := l.UpdateFields(ctx, "123456789", "inv_1", "owner-1", map[string]any{"paymentHistory": []any{}})
	assert.True(t, apperr.Is(err, apperr.KindValidation), "audit log is immutable: %v", err)

	_, err = l.UpdateFields(ctx, "123456789", "inv_1", "owner-1", map[string]any{"paidAmount": float64(150)})
	assert.True(t, apperr.Is(err, apperr.KindValidation), "patched paid beyond total: %v", err)

	_, err = l.UpdateFields(ctx, "123456789", "inv_1", "owner-1", map[string]any{"issueDate": "not a date"})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = l.UpdateFields(ctx, "123456789", "inv_1", "owner-1", nil)
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = l.UpdateFields(ctx, "123456789", "inv_1", "intruder", map[string]any{"currency": "EUR"})
	assert.True(t, apperr.Is(err, apperr.KindAuthorization))
}

func TestUpdateFieldsPatchesExtractedFields(t *testing.T) {
	ctx := context.Background()
	l, st := newTestLedger(t, 100, 0)

	_, err := l.UpdateFields(ctx, "123456789", "inv_1", "owner-1", map[string]any{
		"issuerName":  "ACME Corp",
		"issueDate":   "15/03/2026",
		"netAmount":   float64(80.65),
		"vatAmount":   float64(19.35),
		"currency":    "EUR",
		"issuerTaxId": "el 123456789",
	})
	require.NoError(t, err)

	inv := getInvoice(t, st)
	assert.Equal(t, "ACME Corp", inv.IssuerName)
	assert.Equal(t, "EL123456789", inv.IssuerTaxID)
	assert.Equal(t, "EUR", inv.Currency)
	require.NotNil(t, inv.IssueDate)
	assert.Equal(t, 2026, inv.IssueDate.Year())
	require.NotNil(t, inv.NetAmount)
	assert.InDelta(t, 80.65, *inv.NetAmount, 1e-9)
}

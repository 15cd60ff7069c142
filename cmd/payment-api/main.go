package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"

	"github.com/dkoutas/invoiceflow/internal/apperr"
	"github.com/dkoutas/invoiceflow/internal/gcp"
	"github.com/dkoutas/invoiceflow/internal/models"
	"github.com/dkoutas/invoiceflow/internal/payments"
)

var (
	ledgerInstance *payments.Ledger
	once           sync.Once
	initErr        error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("ApplyPayment", handleApplyPayment)
	functions.HTTP("UpdateInvoiceFields", handleUpdateFields)
}

// main is required by the Go Functions Framework.
func main() {}

func initLedger(ctx context.Context) (*payments.Ledger, error) {
	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return nil, apperr.Internal("PROJECT_ID environment variable must be set", nil)
	}
	fsClient, err := gcp.NewFirestoreClient(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return payments.NewLedger(gcp.NewFirestoreStore(fsClient)), nil
}

func ledger(w http.ResponseWriter) *payments.Ledger {
	once.Do(func() {
		ledgerInstance, initErr = initLedger(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return nil
	}
	return ledgerInstance
}

func handleApplyPayment(w http.ResponseWriter, r *http.Request) {
	l := ledger(w)
	if l == nil {
		return
	}

	var req models.ApplyPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Bad Request: could not parse JSON", http.StatusBadRequest)
		return
	}

	result, err := l.ApplyPayment(r.Context(), req.IssuerID, req.DocumentKey, payments.PaymentParams{
		ActorID: req.ActorID,
		Kind:    req.Kind,
		Amount:  req.Amount,
		Method:  req.Method,
		Date:    req.Date,
		Notes:   req.Notes,
	})
	if err != nil {
		slog.Error("ApplyPayment failed", "issuerId", req.IssuerID, "documentKey", req.DocumentKey, "error", err)
		http.Error(w, err.Error(), apperr.HTTPStatus(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(models.ApplyPaymentResponse{
		PaymentStatus: result.PaymentStatus,
		PaidAmount:    result.PaidAmount,
		UnpaidAmount:  result.UnpaidAmount,
	})
}

func handleUpdateFields(w http.ResponseWriter, r *http.Request) {
	l := ledger(w)
	if l == nil {
		return
	}

	var req models.UpdateFieldsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Bad Request: could not parse JSON", http.StatusBadRequest)
		return
	}

	result, err := l.UpdateFields(r.Context(), req.IssuerID, req.DocumentKey, req.ActorID, req.Fields)
	if err != nil {
		slog.Error("UpdateFields failed", "issuerId", req.IssuerID, "documentKey", req.DocumentKey, "error", err)
		http.Error(w, err.Error(), apperr.HTTPStatus(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(models.ApplyPaymentResponse{
		PaymentStatus: result.PaymentStatus,
		PaidAmount:    result.PaidAmount,
		UnpaidAmount:  result.UnpaidAmount,
	})
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"cloud.google.com/go/storage"
	"github.com/GoogleCloudPlatform/functions-framework-go/functions"

	"github.com/dkoutas/invoiceflow/internal/apperr"
	"github.com/dkoutas/invoiceflow/internal/assembler"
	"github.com/dkoutas/invoiceflow/internal/extract"
	"github.com/dkoutas/invoiceflow/internal/gcp"
	"github.com/dkoutas/invoiceflow/internal/models"
	"github.com/dkoutas/invoiceflow/internal/notify"
	"github.com/dkoutas/invoiceflow/internal/processor"
)

var (
	processorInstance *processor.Processor
	once              sync.Once
	initErr           error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("ProcessSession", handleProcessSession)
}

// main is required by the Go Functions Framework.
func main() {}

func initProcessor(ctx context.Context) (*processor.Processor, error) {
	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return nil, fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	bucket := gcp.GetEnv("INVOICE_BUCKET", "")
	if bucket == "" {
		return nil, fmt.Errorf("INVOICE_BUCKET environment variable must be set")
	}

	fsClient, err := gcp.NewFirestoreClient(ctx, projectID)
	if err != nil {
		return nil, err
	}
	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Storage client: %w", err)
	}
	vertexClient, err := gcp.NewVertexClient(ctx, projectID, gcp.GetEnv("VERTEX_AI_REGION", "europe-west1"))
	if err != nil {
		return nil, err
	}
	adapter, err := extract.NewAdapter(vertexClient)
	if err != nil {
		return nil, err
	}

	blobs := gcp.NewGCSStore(storageClient, bucket)
	return processor.New(
		gcp.NewFirestoreStore(fsClient),
		blobs,
		assembler.New(blobs),
		adapter,
		notify.LogNotifier{},
	), nil
}

// handleProcessSession is invoked by the processing workflow. Pipeline
// failures are answered with 200 and an error payload: the durable
// outcome is the session's status write, and a non-2xx answer would
// only make the workflow re-deliver a trigger the claim transaction
// rejects anyway.
func handleProcessSession(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		processorInstance, initErr = initProcessor(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	var req models.ProcessSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Bad Request: could not parse JSON", http.StatusBadRequest)
		return
	}
	if req.SessionID == "" {
		http.Error(w, "Bad Request: sessionId is required", http.StatusBadRequest)
		return
	}

	outcome, err := processorInstance.Process(r.Context(), req.SessionID)
	if err != nil {
		http.Error(w, err.Error(), apperr.HTTPStatus(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(models.ProcessSessionResponse{
		Status:      outcome.Status,
		InvoicePath: outcome.InvoicePath,
		Error:       outcome.ErrorMessage,
	})
}

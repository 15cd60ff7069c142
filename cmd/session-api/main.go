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
	"github.com/dkoutas/invoiceflow/internal/session"
)

var (
	managerInstance *session.Manager
	once            sync.Once
	initErr         error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("CreateSession", handleCreateSession)
}

// main is required by the Go Functions Framework.
func main() {}

func initManager(ctx context.Context) (*session.Manager, error) {
	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return nil, apperr.Internal("PROJECT_ID environment variable must be set", nil)
	}

	fsClient, err := gcp.NewFirestoreClient(ctx, projectID)
	if err != nil {
		return nil, err
	}
	trigger, err := gcp.NewWorkflowTrigger(ctx, projectID,
		gcp.GetEnv("WORKFLOW_LOCATION", "europe-west1"),
		gcp.GetEnv("WORKFLOW_ID", "invoice-processing"),
	)
	if err != nil {
		return nil, err
	}
	return session.NewManager(gcp.NewFirestoreStore(fsClient), trigger), nil
}

func handleCreateSession(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		managerInstance, initErr = initManager(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	var req models.CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Bad Request: could not parse JSON", http.StatusBadRequest)
		return
	}

	s, err := managerInstance.CreateOrGetSession(r.Context(), session.CreateParams{
		SessionID:  req.SessionID,
		OwnerID:    req.OwnerID,
		BucketRef:  req.BucketRef,
		TotalPages: req.TotalPages,
	})
	if err != nil {
		slog.Error("CreateOrGetSession failed", "error", err)
		http.Error(w, err.Error(), apperr.HTTPStatus(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(models.CreateSessionResponse{
		SessionID:     s.SessionID,
		Status:        s.Status,
		StoragePrefix: s.StoragePrefix,
		TotalPages:    s.TotalPages,
		UploadedPages: s.UploadedPageNumbers,
	})
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
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

	functions.HTTP("ResetSession", handleResetSession)
}

// main is required by the Go Functions Framework.
func main() {}

func initManager(ctx context.Context) (*session.Manager, error) {
	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return nil, fmt.Errorf("PROJECT_ID environment variable must be set")
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

// handleResetSession is the operator-facing recovery path: it moves a
// failed or stuck session back to ready and re-delivers the processing
// trigger. There is no automatic pipeline retry beyond this.
func handleResetSession(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		managerInstance, initErr = initManager(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	var req models.ResetSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Bad Request: could not parse JSON", http.StatusBadRequest)
		return
	}
	if req.SessionID == "" {
		http.Error(w, "Bad Request: sessionId is required", http.StatusBadRequest)
		return
	}

	s, err := managerInstance.Reset(r.Context(), req.SessionID)
	if err != nil {
		slog.Error("Reset failed", "sessionId", req.SessionID, "error", err)
		http.Error(w, err.Error(), apperr.HTTPStatus(err))
		return
	}

	slog.Info("Session reset.", "sessionId", s.SessionID, "status", s.Status)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(models.ResetSessionResponse{
		SessionID: s.SessionID,
		Status:    s.Status,
	})
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/dkoutas/invoiceflow/internal/apperr"
	"github.com/dkoutas/invoiceflow/internal/gcp"
	"github.com/dkoutas/invoiceflow/internal/session"
)

var (
	managerInstance *session.Manager
	once            sync.Once
	initErr         error
)

// GCSEvent is the payload of a GCS object finalize event.
type GCSEvent struct {
	Bucket      string `json:"bucket"`
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
}

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.CloudEvent("RegisterUploadedPage", registerUploadedPage)
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

// registerUploadedPage records a finalized page blob against its
// session. Delivery is at-least-once; RegisterPage is idempotent on
// page identity, so redelivered events are harmless.
func registerUploadedPage(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		managerInstance, initErr = initManager(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	var gcsEvent GCSEvent
	if err := json.Unmarshal(e.Data(), &gcsEvent); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}

	sessionID, pageNumber, ok := parseObjectName(gcsEvent.Name)
	if !ok {
		// Objects outside the upload prefix are not page blobs.
		slog.Info("Ignoring non-page object.", "gcsObject", gcsEvent.Name)
		return nil
	}
	logCtx := slog.With("sessionId", sessionID, "pageNumber", pageNumber, "gcsObject", gcsEvent.Name)

	s, err := managerInstance.RegisterPage(ctx, sessionID, pageNumber, gcsEvent.Name, gcsEvent.ContentType, "")
	if err != nil {
		// Bad page numbers or unknown sessions will not improve on
		// redelivery; only transient store failures are worth retrying.
		switch apperr.KindOf(err) {
		case apperr.KindNotFound, apperr.KindValidation, apperr.KindAuthorization:
			logCtx.Error("Rejected page registration.", "error", err)
			return nil
		}
		logCtx.Error("Failed to register page.", "error", err)
		return err
	}

	logCtx.Info("Registered page.", "status", s.Status, "uploadedPages", len(s.UploadedPageNumbers), "totalPages", s.TotalPages)
	return nil
}

// parseObjectName extracts session id and page number from an upload
// object name of the form "uploads/{sessionId}/{pageNumber}.{ext}".
func parseObjectName(name string) (string, int, bool) {
	parts := strings.Split(name, "/")
	if len(parts) != 3 || parts[0] != "uploads" {
		return "", 0, false
	}
	base := parts[2]
	if i := strings.LastIndexByte(base, '.'); i > 0 {
		base = base[:i]
	}
	pageNumber, err := strconv.Atoi(base)
	if err != nil || pageNumber < 1 {
		return "", 0, false
	}
	return parts[1], pageNumber, true
}

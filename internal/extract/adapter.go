// Package extract wraps the external recognition capability: a
// text-recognition pass per raster page followed by one structured
// field-extraction call over the concatenated, page-tagged text.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/dkoutas/invoiceflow/internal/apperr"
	"github.com/dkoutas/invoiceflow/internal/assembler"
	"github.com/dkoutas/invoiceflow/internal/normalize"
)

// RecognitionClient is the contract for the external recognition
// service. The Vertex client implements it in production.
type RecognitionClient interface {
	RecognizeText(ctx context.Context, image []byte, mimeType string) (string, error)
	ExtractFields(ctx context.Context, promptContext string) ([]byte, error)
}

// StructuredFields is the normalized extraction result.
type StructuredFields struct {
	IssuerName     string
	IssuerTaxID    string
	DocumentNumber string
	IssueDate      *time.Time
	DueDate        *time.Time
	NetAmount      *float64
	VATAmount      *float64
	TotalAmount    *float64
	Currency       string
	Confidence     float64
}

// Empty reports whether extraction produced nothing usable.
func (f StructuredFields) Empty() bool {
	return f.IssuerName == "" && f.IssuerTaxID == "" && f.DocumentNumber == "" &&
		f.TotalAmount == nil && f.NetAmount == nil && f.VATAmount == nil
}

const maxAttempts = 3

type Adapter struct {
	client RecognitionClient
	schema *jsonschema.Schema
}

// NewAdapter compiles the extraction schema and verifies the field
// mapping against it before any extraction can run.
func NewAdapter(client RecognitionClient) (*Adapter, error) {
	if err := validateFieldMapping(); err != nil {
		return nil, err
	}
	schema, err := compileExtractionSchema()
	if err != nil {
		return nil, err
	}
	return &Adapter{client: client, schema: schema}, nil
}

// Extract runs up to three independent attempts, each a full
// re-recognition and re-extraction, and returns the first non-empty
// structured result. All intermediate failures are logged; the last
// error is surfaced when every attempt is exhausted.
func (a *Adapter) Extract(ctx context.Context, pages []assembler.DecodedPage) (StructuredFields, error) {
	if len(pages) == 0 {
		return StructuredFields{}, apperr.Extraction("no pages selected for extraction", nil)
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		fields, err := a.attempt(ctx, pages)
		if err == nil {
			return fields, nil
		}
		lastErr = err
		slog.Warn("Extraction attempt failed.", "attempt", attempt, "maxAttempts", maxAttempts, "error", err)
	}
	return StructuredFields{}, apperr.Extraction("extraction exhausted all attempts", lastErr)
}

func (a *Adapter) attempt(ctx context.Context, pages []assembler.DecodedPage) (StructuredFields, error) {
	var prompt strings.Builder
	for _, page := range pages {
		if page.ContentType == assembler.ContentTypePDF {
			// Text-native pages carry no raster content to recognize.
			slog.Warn("Skipping text recognition for non-raster page.", "pageNumber", page.PageNumber, "contentType", page.ContentType)
			continue
		}
		text, err := a.client.RecognizeText(ctx, page.Data, page.ContentType)
		if err != nil {
			// Recognition failure on a required page fails the whole
			// attempt; it must not silently degrade the extraction.
			return StructuredFields{}, fmt.Errorf("text recognition failed for page %d: %w", page.PageNumber, err)
		}
		fmt.Fprintf(&prompt, "--- page %d ---\n%s\n\n", page.PageNumber, text)
	}

	raw, err := a.client.ExtractFields(ctx, prompt.String())
	if err != nil {
		return StructuredFields{}, fmt.Errorf("field extraction call failed: %w", err)
	}

	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return StructuredFields{}, fmt.Errorf("extraction result is not valid JSON: %w", err)
	}
	if err := a.schema.Validate(value); err != nil {
		return StructuredFields{}, fmt.Errorf("extraction result violates the declared schema: %w", err)
	}

	var rf rawFields
	if err := json.Unmarshal(raw, &rf); err != nil {
		return StructuredFields{}, fmt.Errorf("failed to decode extraction result: %w", err)
	}

	fields := rf.normalize()
	if fields.Empty() {
		return StructuredFields{}, fmt.Errorf("extraction produced an empty result")
	}
	return fields, nil
}

// rawFields mirrors the extraction schema; every value arrives as the
// text printed on the invoice, or null.
type rawFields struct {
	IssuerName     *string  `json:"issuer_name"`
	IssuerTaxID    *string  `json:"issuer_tax_id"`
	DocumentNumber *string  `json:"document_number"`
	IssueDate      *string  `json:"issue_date"`
	DueDate        *string  `json:"due_date"`
	NetAmount      *string  `json:"net_amount"`
	VATAmount      *string  `json:"vat_amount"`
	TotalAmount    *string  `json:"total_amount"`
	Currency       *string  `json:"currency"`
	Confidence     *float64 `json:"confidence"`
}

func (rf rawFields) normalize() StructuredFields {
	fields := StructuredFields{
		IssuerName:     deref(rf.IssuerName),
		IssuerTaxID:    normalize.TaxID(deref(rf.IssuerTaxID)),
		DocumentNumber: deref(rf.DocumentNumber),
		Currency:       strings.ToUpper(strings.TrimSpace(deref(rf.Currency))),
	}
	if rf.IssueDate != nil {
		fields.IssueDate = normalize.Date(*rf.IssueDate)
	}
	if rf.DueDate != nil {
		fields.DueDate = normalize.Date(*rf.DueDate)
	}
	if rf.NetAmount != nil {
		fields.NetAmount = normalize.Amount(*rf.NetAmount)
	}
	if rf.VATAmount != nil {
		fields.VATAmount = normalize.Amount(*rf.VATAmount)
	}
	if rf.TotalAmount != nil {
		fields.TotalAmount = normalize.Amount(*rf.TotalAmount)
	}
	if rf.Confidence != nil {
		fields.Confidence = *rf.Confidence
	}
	return fields
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

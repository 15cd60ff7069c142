package gcp

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
)

// --- OCR Model Prompts ---
const OCRSystemPrompt = "You are an OCR engine for scanned invoices. Your task is to transcribe every piece of visible text exactly as printed. Accuracy and completeness are of utmost importance."
const OCRUserPrompt = `Transcribe all text visible in this scanned invoice page.

Follow these instructions:

Text: Transcribe every printed and handwritten character exactly as it appears, preserving line breaks.
Numbers: Pay special attention to amounts, tax identification numbers, dates and invoice numbers. Transcribe digits, separators and currency symbols exactly.
Tables: Transcribe table rows line by line, left to right.
Stamps and logos: Transcribe any text inside stamps or logos; ignore purely graphical elements.

Return ONLY the transcribed text. Do not describe the page, do not summarize, and do not add any commentary.`

// --- Field Extractor Model Prompts ---
const ExtractorSystemPrompt = "You are a specialist invoice analysis tool. Your task is to extract structured financial fields from the OCR text of an invoice. You must output your response as a single valid JSON object and nothing else."
const ExtractorUserPrompt = `Analyze the provided invoice text. The text is tagged with page markers like "--- page 1 ---"; the issuer block is normally on the first page and the financial totals on the last page.

Extract exactly these fields into a JSON object. Every value must be a string with the text as printed on the invoice, or null if the field is not present. Do not compute, convert or reformat values.

{
  "issuer_name": "the legal name of the party that issued the invoice",
  "issuer_tax_id": "the issuer's tax identification number; when several tax ids appear, the first one on page 1 belongs to the issuer",
  "document_number": "the invoice or document number",
  "issue_date": "the issue date as printed",
  "due_date": "the payment due date as printed, or null",
  "net_amount": "the net (pre-tax) amount as printed, or null",
  "vat_amount": "the VAT/tax amount as printed, or null",
  "total_amount": "the payable total amount as printed",
  "currency": "the ISO 4217 currency code, or null if not determinable",
  "confidence": <a number between 0.0 and 1.0 reflecting your confidence in the extraction>
}

The final output MUST be that single JSON object. Do not include any text before or after it, and do not return free-form prose.`

// VertexClient holds the pre-configured generative models for the
// recognition service: one for per-page OCR, one for structured field
// extraction.
type VertexClient struct {
	OCRModel       *genai.GenerativeModel
	ExtractorModel *genai.GenerativeModel
	baseClient     *genai.Client
}

// NewVertexClient creates a new client holding both models.
func NewVertexClient(ctx context.Context, projectID, region string) (*VertexClient, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexClient: projectID and region cannot be empty")
	}

	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	ocrModel := baseClient.GenerativeModel("gemini-1.5-flash")
	ocrModel.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(OCRSystemPrompt)},
	}
	ocrModel.GenerationConfig = genai.GenerationConfig{
		Temperature: genai.Ptr[float32](0.0),
	}

	extractorModel := baseClient.GenerativeModel("gemini-1.5-pro")
	extractorModel.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(ExtractorSystemPrompt)},
	}
	extractorModel.GenerationConfig = genai.GenerationConfig{
		// Force JSON output. This is a critical setting for this model.
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.0),
	}
	extractorModel.SafetySettings = []*genai.SafetySetting{
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockNone},
	}

	return &VertexClient{
		OCRModel:       ocrModel,
		ExtractorModel: extractorModel,
		baseClient:     baseClient,
	}, nil
}

// RecognizeText runs the OCR model over one raster page image.
func (c *VertexClient) RecognizeText(ctx context.Context, image []byte, mimeType string) (string, error) {
	resp, err := c.OCRModel.GenerateContent(ctx,
		genai.Blob{MIMEType: mimeType, Data: image},
		genai.Text(OCRUserPrompt),
	)
	if err != nil {
		return "", fmt.Errorf("failed to generate OCR text from gemini: %w", err)
	}
	return extractText(resp), nil
}

// ExtractFields runs the extraction model over the page-tagged OCR text
// and returns the raw JSON object it produced.
func (c *VertexClient) ExtractFields(ctx context.Context, promptContext string) ([]byte, error) {
	resp, err := c.ExtractorModel.GenerateContent(ctx,
		genai.Text(ExtractorUserPrompt),
		genai.Text(promptContext),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to generate extraction from gemini: %w", err)
	}
	jsonString := extractText(resp)
	if jsonString == "" {
		return nil, fmt.Errorf("gemini returned an empty response instead of JSON")
	}
	return []byte(jsonString), nil
}

// extractText robustly gets the raw text content from a model response,
// stripping any markdown fences the model wrapped it in.
func extractText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return ""
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}

	content := strings.TrimSpace(b.String())
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}

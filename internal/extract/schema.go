package extract

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// extractionSchemaJSON is the contract the extraction model must obey:
// a fixed key set, each value a string or null, plus a numeric
// confidence. Free-form prose fails validation and with it the attempt.
const extractionSchemaJSON = `{
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "issuer_name":     {"type": ["string", "null"]},
    "issuer_tax_id":   {"type": ["string", "null"]},
    "document_number": {"type": ["string", "null"]},
    "issue_date":      {"type": ["string", "null"]},
    "due_date":        {"type": ["string", "null"]},
    "net_amount":      {"type": ["string", "null"]},
    "vat_amount":      {"type": ["string", "null"]},
    "total_amount":    {"type": ["string", "null"]},
    "currency":        {"type": ["string", "null"]},
    "confidence":      {"type": ["number", "null"], "minimum": 0.0, "maximum": 1.0}
  },
  "required": [
    "issuer_name", "issuer_tax_id", "document_number", "issue_date",
    "due_date", "net_amount", "vat_amount", "total_amount", "currency",
    "confidence"
  ]
}`

// fieldMapping ties every schema key to the canonical record field it
// feeds. Both directions are checked at adapter construction so the
// schema and the mapping cannot drift apart.
var fieldMapping = map[string]string{
	"issuer_name":     "issuerName",
	"issuer_tax_id":   "issuerTaxId",
	"document_number": "documentNumber",
	"issue_date":      "issueDate",
	"due_date":        "dueDate",
	"net_amount":      "netAmount",
	"vat_amount":      "vatAmount",
	"total_amount":    "totalAmount",
	"currency":        "currency",
	"confidence":      "confidence",
}

func compileExtractionSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("extraction.json", strings.NewReader(extractionSchemaJSON)); err != nil {
		return nil, fmt.Errorf("failed to add extraction schema resource: %w", err)
	}
	schema, err := compiler.Compile("extraction.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile extraction schema: %w", err)
	}
	return schema, nil
}

// validateFieldMapping checks that the mapping table and the declared
// schema agree on the exact key set.
func validateFieldMapping() error {
	var declared struct {
		Properties map[string]json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal([]byte(extractionSchemaJSON), &declared); err != nil {
		return fmt.Errorf("failed to parse extraction schema: %w", err)
	}
	for key := range declared.Properties {
		if _, ok := fieldMapping[key]; !ok {
			return fmt.Errorf("schema key %q has no field mapping", key)
		}
	}
	for key := range fieldMapping {
		if _, ok := declared.Properties[key]; !ok {
			return fmt.Errorf("field mapping key %q is not in the extraction schema", key)
		}
	}
	return nil
}

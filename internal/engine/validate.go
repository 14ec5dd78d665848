package engine

import (
	"encoding/json"
	"strings"

	"filingctl/internal/model"
)

// Validator checks the structure of submitted payloads. It never looks at
// what the portal would accept; that is the workflow's business.
type Validator struct {
	// Required lists payload keys that must be present and non-empty.
	Required []string
}

func (v Validator) Validate(caseID string, p model.Payload) error {
	if strings.TrimSpace(caseID) == "" {
		return &model.ValidationError{Field: "case_id", Reason: "required"}
	}
	if len(p) == 0 {
		return &model.ValidationError{Reason: "payload is empty"}
	}
	if _, err := json.Marshal(p); err != nil {
		return &model.ValidationError{Reason: "payload is not JSON encodable"}
	}
	for _, key := range v.Required {
		if blank(p[key]) {
			return &model.ValidationError{Field: key, Reason: "required"}
		}
	}
	return nil
}

// ValidateInput checks human input supplied on resume. Empty input is allowed:
// the challenge may have been solved in the live session.
func (v Validator) ValidateInput(in model.Payload) error {
	if _, err := json.Marshal(in); err != nil {
		return &model.ValidationError{Field: "input", Reason: "not JSON encodable"}
	}
	return nil
}

func blank(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}

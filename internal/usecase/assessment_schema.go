package usecase

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/fairyhunter13/neurowell-ai-gateway/internal/domain"
)

const assessmentSchemaURL = "https://neurowell.local/schemas/assessment.json"

const assessmentSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["questions"],
  "properties": {
    "assessment": {
      "type": "object",
      "properties": {"title": {"type": "string"}}
    },
    "questions": {
      "type": "array",
      "minItems": 1,
      "maxItems": 20,
      "items": {
        "type": "object",
        "required": ["title", "options", "correctAnswer"],
        "properties": {
          "title": {"type": "string", "minLength": 1},
          "options": {
            "type": "array",
            "minItems": 2,
            "items": {"type": "string", "minLength": 1}
          },
          "correctAnswer": {"type": "string", "minLength": 1}
        }
      }
    }
  }
}`

// AssessmentValidator checks generated assessment documents.
type AssessmentValidator struct {
	schema *jsonschema.Schema
}

// NewAssessmentValidator compiles the embedded schema.
func NewAssessmentValidator() (*AssessmentValidator, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(assessmentSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal assessment schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(assessmentSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add assessment schema resource: %w", err)
	}
	sch, err := c.Compile(assessmentSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile assessment schema: %w", err)
	}
	return &AssessmentValidator{schema: sch}, nil
}

// Validate checks raw against the schema and that every correct answer is one
// of its options.
func (v *AssessmentValidator) Validate(raw []byte) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSchemaInvalid, err)
	}
	if err := v.schema.Validate(inst); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSchemaInvalid, err)
	}
	return nil
}

// checkAnswers rejects questions whose correct answer is not an option.
func checkAnswers(qs []domain.Question) error {
	for i, q := range qs {
		found := false
		for _, o := range q.Options {
			if strings.TrimSpace(o) == strings.TrimSpace(q.CorrectAnswer) {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: question %d correct answer is not an option", domain.ErrSchemaInvalid, i+1)
		}
	}
	return nil
}

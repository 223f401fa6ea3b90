package catalog

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const questionDef = `{
	"type": "object",
	"required": ["prompt", "options", "correctOptionIndex", "explanation", "topicTag", "difficulty"],
	"properties": {
		"id": {"type": "string", "minLength": 1},
		"prompt": {"type": "string", "minLength": 1},
		"options": {"type": "array", "items": {"type": "string", "minLength": 1}, "minItems": 4, "maxItems": 4},
		"correctOptionIndex": {"type": "integer", "minimum": 0, "maximum": 3},
		"explanation": {"type": "string"},
		"topicTag": {"enum": ["budgeting", "savings", "investing", "debt", "emergency-fund", "credit", "retirement", "insurance", "taxes"]},
		"difficulty": {"enum": ["easy", "medium", "hard"]}
	},
	"additionalProperties": false
}`

var quizzesSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["diagnostic", "micro"],
	"$defs": {
		"question": ` + questionDef + `,
		"identifiedQuestion": {"allOf": [{"$ref": "#/$defs/question"}, {"required": ["id"]}]}
	},
	"properties": {
		"diagnostic": {
			"type": "object",
			"required": ["id", "questions"],
			"properties": {
				"id": {"type": "string", "minLength": 1},
				"passingScoreThreshold": {"type": "integer", "minimum": 0, "maximum": 100},
				"questions": {"type": "array", "minItems": 1, "items": {"$ref": "#/$defs/identifiedQuestion"}}
			},
			"additionalProperties": false
		},
		"micro": {"type": "array", "items": {"$ref": "#/$defs/identifiedQuestion"}}
	},
	"additionalProperties": false
}`

var coursesSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["courses"],
	"$defs": {
		"question": ` + questionDef + `,
		"page": {
			"type": "object",
			"required": ["title", "content"],
			"properties": {
				"id": {"type": "string", "minLength": 1},
				"title": {"type": "string", "minLength": 1},
				"content": {"type": "string", "minLength": 1},
				"quiz": {"$ref": "#/$defs/question"}
			},
			"additionalProperties": false
		},
		"course": {
			"type": "object",
			"required": ["id", "title", "difficulty", "topicTag", "pages"],
			"properties": {
				"id": {"type": "string", "pattern": "^[a-z0-9][a-z0-9-]*$"},
				"title": {"type": "string", "minLength": 1},
				"description": {"type": "string"},
				"difficulty": {"enum": ["beginner", "intermediate", "advanced"]},
				"topicTag": {"enum": ["budgeting", "savings", "investing", "debt", "emergency-fund", "credit", "retirement", "insurance", "taxes"]},
				"pages": {"type": "array", "minItems": 1, "items": {"$ref": "#/$defs/page"}},
				"quizQuestions": {"type": "array", "items": {"$ref": "#/$defs/question"}},
				"prerequisites": {"type": "array", "items": {"type": "string"}},
				"passingThreshold": {"type": "integer", "minimum": 0, "maximum": 100}
			},
			"additionalProperties": false
		}
	},
	"properties": {
		"courses": {"type": "array", "items": {"$ref": "#/$defs/course"}}
	},
	"additionalProperties": false
}`

var (
	compileOnce sync.Once
	compiled    map[string]*jsonschema.Schema
	compileErr  error
)

// schemaFor returns the compiled schema for a content file name.
func schemaFor(name string) (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiled = make(map[string]*jsonschema.Schema, 2)
		for file, def := range map[string]string{
			quizzesFile: quizzesSchema,
			coursesFile: coursesSchema,
		} {
			var parsed any
			if err := json.Unmarshal([]byte(def), &parsed); err != nil {
				compileErr = fmt.Errorf("parse schema %s: %w", file, err)
				return
			}
			c := jsonschema.NewCompiler()
			url := fmt.Sprintf("schema://%s.json", file)
			if err := c.AddResource(url, parsed); err != nil {
				compileErr = fmt.Errorf("add resource %s: %w", file, err)
				return
			}
			sch, err := c.Compile(url)
			if err != nil {
				compileErr = fmt.Errorf("compile %s: %w", file, err)
				return
			}
			compiled[file] = sch
		}
	})
	if compileErr != nil {
		return nil, compileErr
	}
	sch, ok := compiled[name]
	if !ok {
		return nil, fmt.Errorf("no schema for %s", name)
	}
	return sch, nil
}

// validateDocument checks a decoded content document against its schema.
// doc must be JSON-shaped (maps with string keys, float64 numbers).
func validateDocument(name string, doc any) error {
	sch, err := schemaFor(name)
	if err != nil {
		return err
	}
	if err := sch.Validate(doc); err != nil {
		return fmt.Errorf("%s: schema validation failed: %w", name, err)
	}
	return nil
}

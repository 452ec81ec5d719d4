package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/alexsaulik/promptfolio/internal/validation"
	"github.com/alexsaulik/promptfolio/pkg/schema"
)

// readDefinitionDocument reads a YAML or JSON definition file and returns
// it as JSON. The format is picked by extension; anything but .yaml/.yml is
// treated as JSON.
func readDefinitionDocument(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yamlToJSON(data)
	default:
		return data, nil
	}
}

func yamlToJSON(data []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid YAML: %v", err)
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "YAML is not representable as JSON: %v", err)
	}
	return out, nil
}

// loadDefinition reads, decodes and validates a definition file. The
// validation result is returned alongside so callers can show warnings.
func loadDefinition(path string, v *validation.DefinitionValidator) (*schema.WorkflowDefinition, *schema.ValidationResult, error) {
	raw, err := readDefinitionDocument(path)
	if err != nil {
		return nil, nil, err
	}
	if err := v.ValidateDocument(raw); err != nil {
		return nil, nil, err
	}

	var def schema.WorkflowDefinition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, nil, schema.NewErrorf(schema.ErrCodeValidation, "decode %s: %v", path, err)
	}

	result := v.Validate(&def)
	if !result.Valid() {
		return nil, result, result.ToError()
	}
	return &def, result, nil
}

func printIssues(w io.Writer, label string, issues []schema.ValidationIssue) {
	for _, issue := range issues {
		fmt.Fprintf(w, "%s: %s [%s]\n", label, issue.String(), issue.Code)
	}
}

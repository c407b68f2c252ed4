package delegation

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/go-playground/validator/v10"

	"github.com/kingrea/lattice-waves/internal/workflow"
)

const workOrderTemplate = `## Task: {{ .Task.Subject }} ({{ .Task.ID }})

### Description
{{ .Task.Description }}
{{- if .Task.EstimatedEffort }}

### Estimated effort
{{ .Task.EstimatedEffort }}
{{- end }}
{{- if .Metadata }}

### Metadata
{{- range .Metadata }}
- {{ .Key }}: {{ .Value }}
{{- end }}
{{- end }}
{{- if .Context }}

### Context
{{ .Context }}
{{- end }}

### Dependencies
{{ if .Task.BlockedBy -}}
Blocked by: {{ join ", " .Task.BlockedBy }}. Ensure these complete first.
{{- else -}}
No blocking dependencies. Start immediately.
{{- end }}
{{- if .Task.Blocks }}
This task blocks: {{ join ", " .Task.Blocks }}.
{{- end }}
`

var workOrder = template.Must(
	template.New("work-order").
		Option("missingkey=error").
		Funcs(sprig.TxtFuncMap()).
		Parse(workOrderTemplate),
)

type metadataLine struct {
	Key   string
	Value string
}

type workOrderData struct {
	Task     workflow.Task
	Metadata []metadataLine
	Context  string
}

// RenderWorkOrder produces the self-contained brief for task. Metadata keys
// are emitted in sorted order so the output is stable.
func RenderWorkOrder(task workflow.Task, context string) (string, error) {
	data := workOrderData{
		Task:    task,
		Context: strings.TrimSpace(context),
	}
	keys := make([]string, 0, len(task.Metadata))
	for key := range task.Metadata {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		data.Metadata = append(data.Metadata, metadataLine{Key: key, Value: fmt.Sprint(task.Metadata[key])})
	}
	var buf bytes.Buffer
	if err := workOrder.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("delegation: render work order for %s: %w", task.ID, err)
	}
	return buf.String(), nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateForDelegation checks the required fields and, when a category is
// set, that it is one of the known categories. It never repairs the task.
func ValidateForDelegation(task workflow.Task) (bool, []string) {
	label := task.ID
	if strings.TrimSpace(label) == "" {
		label = "<unnamed>"
	}
	var problems []string
	if err := validate.Struct(task); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			problems = append(problems, fmt.Sprintf("task %s: %v", label, err))
		}
		for _, fe := range fieldErrs {
			problems = append(problems, fmt.Sprintf("task %s: %s is required", label, jsonName(fe.Field())))
		}
	}
	for _, field := range []struct{ name, value string }{
		{"id", task.ID}, {"subject", task.Subject}, {"description", task.Description},
	} {
		if field.value != "" && strings.TrimSpace(field.value) == "" {
			problems = append(problems, fmt.Sprintf("task %s: %s is required", label, field.name))
		}
	}
	if _, defaulted := workflow.ParseCategory(string(task.Category)); defaulted && strings.TrimSpace(string(task.Category)) != "" {
		problems = append(problems, fmt.Sprintf("task %s: unknown category %q", label, task.Category))
	}
	return len(problems) == 0, problems
}

func jsonName(field string) string {
	switch field {
	case "ID":
		return "id"
	default:
		return strings.ToLower(field)
	}
}

package ai

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/david/grant-importer/internal/models"
)

//go:embed prompts.yaml
var defaultPromptsYAML []byte

// Prompts maps a task name to its template.
type Prompts map[Task]string

type promptsFile struct {
	Prompts map[string]string `yaml:"prompts"`
}

// LoadPrompts returns the embedded templates, overlaid with the entries of
// path when it is set. Environment variables in the file are expanded.
func LoadPrompts(path string) (Prompts, error) {
	prompts, err := parsePrompts(defaultPromptsYAML)
	if err != nil {
		return nil, fmt.Errorf("embedded prompts: %w", err)
	}
	if path == "" {
		return prompts, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompts file: %w", err)
	}
	overrides, err := parsePrompts([]byte(os.ExpandEnv(string(data))))
	if err != nil {
		return nil, fmt.Errorf("prompts file %s: %w", path, err)
	}
	for task, tmpl := range overrides {
		prompts[task] = tmpl
	}
	return prompts, nil
}

func parsePrompts(data []byte) (Prompts, error) {
	var f promptsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}

	out := make(Prompts, len(f.Prompts))
	for name, tmpl := range f.Prompts {
		task := Task(strings.TrimSpace(name))
		if !task.Valid() {
			return nil, fmt.Errorf("unknown task %q", name)
		}
		out[task] = tmpl
	}
	return out, nil
}

// Render substitutes the placeholders of tmpl with fields of g. Each field
// has an English and a Japanese placeholder.
func Render(tmpl string, g models.Grant) string {
	fields := []struct {
		en, ja, value string
	}{
		{"[title]", "[補助金名]", g.Title},
		{"[overview]", "[概要]", g.Overview},
		{"[max_amount]", "[補助額上限]", g.MaxAmountDisplay},
		{"[deadline_text]", "[募集終了日]", g.DeadlineText},
		{"[organization]", "[実施組織]", g.Organization},
		{"[official_url]", "[公式URL]", g.OfficialURL},
		{"[subsidy_rate]", "[補助率]", g.SubsidyRate},
		{"[use_purpose]", "[利用目的]", g.UsePurpose},
		{"[target_area]", "[対象地域]", g.TargetArea},
	}

	pairs := make([]string, 0, len(fields)*4)
	for _, f := range fields {
		pairs = append(pairs, f.en, f.value, f.ja, f.value)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

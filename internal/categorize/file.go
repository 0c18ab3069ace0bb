package categorize

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// rulesFile is the on-disk layout. A section left out of the file keeps the
// built-in table; an explicit empty list clears it.
type rulesFile struct {
	Subcontractors []Rule `yaml:"subcontractors"`
	Vendors        []Rule `yaml:"vendors"`
	PaymentMethods []Rule `yaml:"payment_methods"`
	Projects       []Rule `yaml:"projects"`
	Fallback       struct {
		Category string `yaml:"category"`
		Project  string `yaml:"project"`
	} `yaml:"fallback"`
}

// LoadRules reads rule tables from a YAML file on top of the defaults.
func LoadRules(path string) (*Engine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("LoadRules: reading %s: %w", path, err)
	}
	return ParseRules(data)
}

// ParseRules is LoadRules for in-memory content.
func ParseRules(data []byte) (*Engine, error) {
	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("ParseRules: parsing yaml: %w", err)
	}

	e := DefaultRules()
	sections := []struct {
		rules []Rule
		table *Table
	}{
		{f.Subcontractors, &e.Subcontractors},
		{f.Vendors, &e.Vendors},
		{f.PaymentMethods, &e.PaymentMethods},
		{f.Projects, &e.Projects},
	}
	for _, s := range sections {
		if s.rules == nil {
			continue
		}
		rules, err := normalize(s.table.Name, s.rules)
		if err != nil {
			return nil, fmt.Errorf("ParseRules: %w", err)
		}
		s.table.Rules = rules
	}

	if f.Fallback.Category != "" {
		e.FallbackCategory = f.Fallback.Category
	}
	if f.Fallback.Project != "" {
		e.FallbackProject = f.Fallback.Project
	}
	return e, nil
}

func normalize(table string, rules []Rule) ([]Rule, error) {
	out := make([]Rule, 0, len(rules))
	for i, r := range rules {
		pattern := strings.ToLower(strings.TrimSpace(r.Pattern))
		if pattern == "" {
			return nil, fmt.Errorf("%s rule %d: empty pattern", table, i+1)
		}
		if strings.TrimSpace(r.Value) == "" {
			return nil, fmt.Errorf("%s rule %d (%q): empty value", table, i+1, r.Pattern)
		}
		switch r.Kind {
		case "":
			r.Kind = MatchContains
		case MatchContains, MatchWord:
		default:
			return nil, fmt.Errorf("%s rule %d (%q): unknown match kind %q", table, i+1, r.Pattern, r.Kind)
		}
		r.Pattern = pattern
		out = append(out, r)
	}
	return out, nil
}

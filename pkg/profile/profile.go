// Package profile collects per-field type statistics over a set of documents.
// Profiles decide the column kinds of fields the schema does not declare.
package profile

import (
	"fmt"
	"io"
	"sort"

	"github.com/willbeason/insurance-eligibility/pkg/tables"
)

type Profile struct {
	Fields    map[string]Field
	Documents int

	nullTokens map[string]bool
}

// New creates an empty Profile. String values equal to one of nullTokens are
// counted as nulls.
func New(nullTokens ...string) *Profile {
	tokens := make(map[string]bool, len(nullTokens))
	for _, token := range nullTokens {
		tokens[token] = true
	}
	return &Profile{
		Fields:     make(map[string]Field),
		nullTokens: tokens,
	}
}

// Add records every field of doc. Nested objects are recorded under dotted
// paths and array elements under "path[]".
func (p *Profile) Add(doc map[string]any) error {
	p.Documents++
	for k, v := range doc {
		err := p.add(k, v)
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *Profile) add(path string, obj any) error {
	switch o := obj.(type) {
	case []any:
		for _, v := range o {
			err := p.add(path+"[]", v)
			if err != nil {
				return err
			}
		}
	case map[string]any:
		for k, v := range o {
			err := p.add(path+"."+k, v)
			if err != nil {
				return err
			}
		}
	default:
		if s, ok := o.(string); ok && p.nullTokens[s] {
			obj = nil
		}

		field := p.Fields[path]
		if field == nil {
			field = &EmptyField{}
		}

		field, err := field.Add(obj)
		if err != nil {
			return fmt.Errorf("field %q: %w", path, err)
		}
		p.Fields[path] = field
	}

	return nil
}

// Names returns the recorded field paths in sorted order.
func (p *Profile) Names() []string {
	names := make([]string, 0, len(p.Fields))
	for name := range p.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Kinds returns the column kind of each recorded field.
func (p *Profile) Kinds() map[string]tables.Kind {
	kinds := make(map[string]tables.Kind, len(p.Fields))
	for name, field := range p.Fields {
		kinds[name] = field.Kind()
	}
	return kinds
}

// Write writes one "path;statistics" line per field, sorted by path.
func (p *Profile) Write(w io.Writer) error {
	for _, name := range p.Names() {
		_, err := fmt.Fprintf(w, "%s;%s\n", name, p.Fields[name])
		if err != nil {
			return err
		}
	}
	return nil
}

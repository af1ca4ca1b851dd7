package config

import (
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report YAML field names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// ValidationError describes one invalid field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// ValidationErrors collects every problem found in a Config.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, ve := range e {
		msgs[i] = ve.Error()
	}
	return "invalid config: " + strings.Join(msgs, "; ")
}

// Validate checks struct constraints and cross references: node agents and
// nested workflows must be declared, edges must connect declared nodes,
// filters and conditions must parse, and workflows must not nest each other
// in a cycle.
func (c *Config) Validate() error {
	var errs ValidationErrors

	if err := validate.Struct(c); err != nil {
		if fieldErrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range fieldErrs {
				errs = append(errs, ValidationError{Field: trimNamespace(fe.Namespace()), Message: fieldMessage(fe)})
			}
		} else {
			return err
		}
	}

	if len(c.Workflows) == 0 {
		errs = append(errs, ValidationError{Field: "workflows", Message: "at least one workflow is required"})
	}

	for _, wfName := range sortedKeys(c.Workflows) {
		errs = append(errs, c.validateWorkflow(wfName, c.Workflows[wfName])...)
	}
	if cycle := c.nestingCycle(); cycle != nil {
		errs = append(errs, ValidationError{
			Field:   "workflows",
			Message: "nested workflow cycle: " + strings.Join(cycle, " -> "),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func (c *Config) validateWorkflow(name string, wf WorkflowConfig) ValidationErrors {
	var errs ValidationErrors
	prefix := "workflows." + name

	nodes := make(map[string]bool, len(wf.Nodes))
	for i, n := range wf.Nodes {
		field := fmt.Sprintf("%s.nodes[%d]", prefix, i)
		if nodes[n.Name] {
			errs = append(errs, ValidationError{Field: field + ".name", Message: fmt.Sprintf("duplicate node %q", n.Name)})
		}
		nodes[n.Name] = true

		if n.Agent != "" {
			if _, ok := c.Agents[n.Agent]; !ok {
				errs = append(errs, ValidationError{Field: field + ".agent", Message: fmt.Sprintf("unknown agent %q", n.Agent)})
			}
		}
		if n.Workflow != "" {
			if _, ok := c.Workflows[n.Workflow]; !ok {
				errs = append(errs, ValidationError{Field: field + ".workflow", Message: fmt.Sprintf("unknown workflow %q", n.Workflow)})
			}
		}
		if n.Filter != nil {
			if _, err := n.Filter.Filter(); err != nil {
				errs = append(errs, ValidationError{Field: field + ".filter", Message: err.Error()})
			}
		}
	}

	for i, e := range wf.Edges {
		field := fmt.Sprintf("%s.edges[%d]", prefix, i)
		if e.From != "" && !nodes[e.From] {
			errs = append(errs, ValidationError{Field: field + ".from", Message: fmt.Sprintf("unknown node %q", e.From)})
		}
		if e.To != "" && !nodes[e.To] {
			errs = append(errs, ValidationError{Field: field + ".to", Message: fmt.Sprintf("unknown node %q", e.To)})
		}
		if e.Filter != nil {
			if _, err := e.Filter.Filter(); err != nil {
				errs = append(errs, ValidationError{Field: field + ".filter", Message: err.Error()})
			}
		}
		if e.When != nil && e.When.Matches != "" {
			if _, err := regexp.Compile(e.When.Matches); err != nil {
				errs = append(errs, ValidationError{Field: field + ".when.matches", Message: err.Error()})
			}
		}
	}
	return errs
}

// nestingCycle returns a chain of workflow names that nest each other, or
// nil when workflow nesting is acyclic.
func (c *Config) nestingCycle() []string {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(c.Workflows))
	var path []string

	var visit func(name string) []string
	visit = func(name string) []string {
		switch state[name] {
		case visiting:
			for i, p := range path {
				if p == name {
					return append(append([]string(nil), path[i:]...), name)
				}
			}
		case done:
			return nil
		}
		state[name] = visiting
		path = append(path, name)
		for _, n := range c.Workflows[name].Nodes {
			if _, ok := c.Workflows[n.Workflow]; n.Workflow != "" && ok {
				if cycle := visit(n.Workflow); cycle != nil {
					return cycle
				}
			}
		}
		path = path[:len(path)-1]
		state[name] = done
		return nil
	}

	for _, name := range sortedKeys(c.Workflows) {
		if cycle := visit(name); cycle != nil {
			return cycle
		}
	}
	return nil
}

func trimNamespace(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "field is required"
	case "required_without":
		return "either agent or workflow is required"
	case "excluded_with":
		return "agent and workflow are mutually exclusive"
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "min":
		return fmt.Sprintf("minimum value/length is %s", fe.Param())
	case "max":
		return fmt.Sprintf("maximum value/length is %s", fe.Param())
	case "url":
		return "must be a valid URL"
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

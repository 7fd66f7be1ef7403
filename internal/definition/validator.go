package definition

import (
	"fmt"

	"github.com/pitabwire/vigil/internal/openapi"
	"github.com/pitabwire/vigil/model"
)

// VError describes a single validation error in a definition.
type VError struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e VError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// maxPageSize bounds page_size in definitions.
const maxPageSize = 200

// Validator validates definitions structurally, across files, and against
// the command catalog.
type Validator struct{}

// NewValidator creates a new Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks all definitions. The catalog may be nil to skip the
// check that every page command is known.
func (v *Validator) Validate(defs []model.DomainDefinition, catalog *openapi.Catalog) []VError {
	var errs []VError

	pageOwners := make(map[string]string)
	commandOwners := make(map[string]string)
	declared := make(map[string]bool)
	for _, def := range defs {
		for _, c := range def.Commands {
			declared[c.Name] = true
		}
	}

	for i, def := range defs {
		prefix := fmt.Sprintf("definitions[%d]", i)
		errs = append(errs, v.validateDomain(prefix, def)...)

		for j, p := range def.Pages {
			pp := fmt.Sprintf("%s.pages[%d]", prefix, j)
			if p.ID != "" {
				if owner, dup := pageOwners[p.ID]; dup {
					errs = append(errs, VError{Path: pp + ".id", Code: "DUPLICATE", Message: fmt.Sprintf("page %q already defined in %s", p.ID, owner)})
				}
				pageOwners[p.ID] = sourceOf(def, prefix)
			}
			errs = append(errs, v.validatePage(pp, p)...)

			cmd := p.DataSource.Command
			if catalog != nil && cmd != "" && !declared[cmd] {
				if _, ok := catalog.Get(cmd); !ok {
					errs = append(errs, VError{
						Path:    pp + ".data_source.command",
						Code:    "COMMAND_NOT_FOUND",
						Message: fmt.Sprintf("command %q is neither declared nor catalogued", cmd),
					})
				}
			}
		}

		for j, c := range def.Commands {
			cp := fmt.Sprintf("%s.commands[%d]", prefix, j)
			if c.Name != "" {
				if owner, dup := commandOwners[c.Name]; dup {
					errs = append(errs, VError{Path: cp + ".name", Code: "DUPLICATE", Message: fmt.Sprintf("command %q already declared in %s", c.Name, owner)})
				}
				commandOwners[c.Name] = sourceOf(def, prefix)
			}
			errs = append(errs, v.validateCommand(cp, c)...)
		}
	}
	return errs
}

func sourceOf(def model.DomainDefinition, prefix string) string {
	if def.SourceFile != "" {
		return def.SourceFile
	}
	return prefix
}

func (v *Validator) validateDomain(prefix string, def model.DomainDefinition) []VError {
	var errs []VError

	if def.Domain == "" {
		errs = append(errs, VError{Path: prefix + ".domain", Code: "REQUIRED", Message: "domain is required"})
	}
	if def.Version == "" {
		errs = append(errs, VError{Path: prefix + ".version", Code: "REQUIRED", Message: "version is required"})
	}
	if len(def.Pages) == 0 && len(def.Commands) == 0 {
		errs = append(errs, VError{Path: prefix, Code: "EMPTY", Message: "a definition must declare pages or commands"})
	}
	return errs
}

var validFilterTypes = map[string]bool{
	model.FilterSelect: true, model.FilterNumber: true, model.FilterText: true,
}

func (v *Validator) validatePage(prefix string, p model.PageDefinition) []VError {
	var errs []VError

	if p.ID == "" {
		errs = append(errs, VError{Path: prefix + ".id", Code: "REQUIRED", Message: "id is required"})
	}
	if p.Title == "" {
		errs = append(errs, VError{Path: prefix + ".title", Code: "REQUIRED", Message: "title is required"})
	}
	if p.DataSource.Command == "" {
		errs = append(errs, VError{Path: prefix + ".data_source.command", Code: "REQUIRED", Message: "data_source.command is required"})
	}
	if p.IDField == "" {
		errs = append(errs, VError{Path: prefix + ".id_field", Code: "REQUIRED", Message: "id_field is required"})
	}
	if p.PageSize < 0 || p.PageSize > maxPageSize {
		errs = append(errs, VError{Path: prefix + ".page_size", Code: "RANGE", Message: fmt.Sprintf("page_size must be 1-%d", maxPageSize)})
	}
	switch p.SortDir {
	case "", "asc", "desc":
	default:
		errs = append(errs, VError{Path: prefix + ".sort_dir", Code: "INVALID_ENUM", Message: fmt.Sprintf("invalid sort_dir %q", p.SortDir)})
	}

	seen := make(map[string]bool)
	for i, f := range p.Filters {
		fp := fmt.Sprintf("%s.filters[%d]", prefix, i)
		if f.Field == "" {
			errs = append(errs, VError{Path: fp + ".field", Code: "REQUIRED", Message: "field is required"})
		} else if seen[f.Field] {
			errs = append(errs, VError{Path: fp + ".field", Code: "DUPLICATE", Message: fmt.Sprintf("filter on %q declared twice", f.Field)})
		}
		seen[f.Field] = true
		if !validFilterTypes[f.Type] {
			errs = append(errs, VError{Path: fp + ".type", Code: "INVALID_ENUM", Message: fmt.Sprintf("invalid filter type %q", f.Type)})
		}
		if f.Type == model.FilterSelect && len(f.Options) == 0 {
			errs = append(errs, VError{Path: fp + ".options", Code: "REQUIRED", Message: "select filters need options"})
		}
	}

	for i, ev := range p.RefreshOn {
		if ev == "" {
			errs = append(errs, VError{Path: fmt.Sprintf("%s.refresh_on[%d]", prefix, i), Code: "REQUIRED", Message: "event name is required"})
		}
	}
	return errs
}

func (v *Validator) validateCommand(prefix string, c model.CommandDefinition) []VError {
	var errs []VError

	if c.Name == "" {
		errs = append(errs, VError{Path: prefix + ".name", Code: "REQUIRED", Message: "name is required"})
	}
	if !c.Response.Valid() {
		errs = append(errs, VError{Path: prefix + ".response", Code: "INVALID_ENUM", Message: fmt.Sprintf("invalid response shape %q", c.Response)})
	}

	switch c.Operation.Type {
	case "", model.BindingHTTP:
	case model.BindingLocal:
		if c.Operation.Handler == "" {
			errs = append(errs, VError{Path: prefix + ".operation.handler", Code: "REQUIRED", Message: "handler required for local commands"})
		}
	default:
		errs = append(errs, VError{Path: prefix + ".operation.type", Code: "INVALID_ENUM", Message: fmt.Sprintf("invalid operation type %q", c.Operation.Type)})
	}
	return errs
}

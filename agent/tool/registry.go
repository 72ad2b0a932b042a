package tool

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/chative-tutor/agent/contract"
	"github.com/xeipuuv/gojsonschema"
)

// Handler is the external tool contract: arguments in, result or error out.
type Handler func(ctx context.Context, args map[string]any) (any, error)

type Definition struct {
	Name        string
	Description string
	Params      map[string]contractx.ParamSpec
	Handler     Handler
	// Timeout overrides the executor default when > 0.
	Timeout time.Duration
}

type entry struct {
	def    Definition
	schema *gojsonschema.Schema
}

// Registry holds tool definitions. Definitions are immutable once registered.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*entry
}

var _ contractx.ToolCatalog = (*Registry)(nil)

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*entry)}
}

func (r *Registry) Register(def Definition) error {
	def.Name = strings.TrimSpace(def.Name)
	if err := validateDefinition(def); err != nil {
		return err
	}
	def.Params = maps.Clone(def.Params)

	compiled, err := compileSchema(def)
	if err != nil {
		return fmt.Errorf("%w: compile schema for tool=%s: %v", contractx.ErrValidation, def.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("%w: %s", contractx.ErrDuplicateTool, def.Name)
	}
	r.tools[def.Name] = &entry{def: def, schema: compiled}

	log.Debug().Str("tool", def.Name).Int("params", len(def.Params)).Msg("tool registered")
	return nil
}

func (r *Registry) Lookup(name string) (Definition, error) {
	e, err := r.lookup(name)
	if err != nil {
		return Definition{}, err
	}
	def := e.def
	def.Params = maps.Clone(e.def.Params)
	return def, nil
}

// List returns every definition sorted by name.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(r.tools))
	for _, e := range r.tools {
		def := e.def
		def.Params = maps.Clone(e.def.Params)
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

func (r *Registry) Names() []string {
	defs := r.List()
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Name
	}
	return names
}

func (r *Registry) Specs() []contractx.ToolSpec {
	defs := r.List()
	specs := make([]contractx.ToolSpec, len(defs))
	for i, d := range defs {
		specs[i] = contractx.ToolSpec{
			Name:        d.Name,
			Description: d.Description,
			Params:      d.Params,
		}
	}
	return specs
}

// Infos converts the registry into eino tool infos for native tool calling.
func (r *Registry) Infos() []*schema.ToolInfo {
	return ToolInfos(r.Specs())
}

func ToolInfos(specs []contractx.ToolSpec) []*schema.ToolInfo {
	infos := make([]*schema.ToolInfo, 0, len(specs))
	for _, s := range specs {
		params := make(map[string]*schema.ParameterInfo, len(s.Params))
		for name, p := range s.Params {
			params[name] = &schema.ParameterInfo{
				Type:     dataType(p.Type),
				Desc:     p.Description,
				Required: p.Required,
			}
		}
		infos = append(infos, &schema.ToolInfo{
			Name:        s.Name,
			Desc:        s.Description,
			ParamsOneOf: schema.NewParamsOneOfByParams(params),
		})
	}
	return infos
}

func (r *Registry) lookup(name string) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[strings.TrimSpace(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", contractx.ErrUnknownTool, name)
	}
	return e, nil
}

func validateDefinition(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("%w: tool name is empty", contractx.ErrValidation)
	}
	if def.Handler == nil {
		return fmt.Errorf("%w: tool=%s handler is nil", contractx.ErrValidation, def.Name)
	}
	for name, p := range def.Params {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("%w: tool=%s has an empty parameter name", contractx.ErrValidation, def.Name)
		}
		if !validParamType(p.Type) {
			return fmt.Errorf("%w: tool=%s param=%s has invalid type %q", contractx.ErrValidation, def.Name, name, p.Type)
		}
	}
	return nil
}

func validParamType(t contractx.ParamType) bool {
	switch t {
	case contractx.ParamString, contractx.ParamNumber, contractx.ParamInteger,
		contractx.ParamBoolean, contractx.ParamObject, contractx.ParamArray:
		return true
	}
	return false
}

func dataType(t contractx.ParamType) schema.DataType {
	switch t {
	case contractx.ParamNumber:
		return schema.Number
	case contractx.ParamInteger:
		return schema.Integer
	case contractx.ParamBoolean:
		return schema.Boolean
	case contractx.ParamObject:
		return schema.Object
	case contractx.ParamArray:
		return schema.Array
	default:
		return schema.String
	}
}

func compileSchema(def Definition) (*gojsonschema.Schema, error) {
	properties := make(map[string]any, len(def.Params))
	required := make([]string, 0, len(def.Params))
	for name, p := range def.Params {
		prop := map[string]any{"type": string(p.Type)}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		properties[name] = prop
		if p.Required {
			required = append(required, name)
		}
	}
	sort.Strings(required)

	schemaMap := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           properties,
	}
	if len(required) > 0 {
		schemaMap["required"] = required
	}
	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaMap))
}

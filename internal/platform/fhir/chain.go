package fhir

import (
	"strings"
)

// MaxChainDepth is the default maximum number of reference hops in a
// chained parameter such as "subject:Patient.organization.name".
const MaxChainDepth = 3

// ChainResolver resolves dotted chained-parameter names into linked
// QueryParameter chains against a registry snapshot.
type ChainResolver struct {
	registry *Registry
	model    ResourceModel
	parser   *ValueParser
	maxDepth int
}

// NewChainResolver creates a ChainResolver. A maxDepth below 1 uses
// MaxChainDepth.
func NewChainResolver(registry *Registry, model ResourceModel, parser *ValueParser, maxDepth int) *ChainResolver {
	if maxDepth < 1 {
		maxDepth = MaxChainDepth
	}
	if parser == nil {
		parser = defaultValueParser
	}
	return &ChainResolver{registry: registry, model: model, parser: parser, maxDepth: maxDepth}
}

// Resolve resolves name, e.g. "subject:Patient.name:exact", starting from
// startTypes, and attaches the values parsed from rawValue to the terminal
// segment.
func (cr *ChainResolver) Resolve(tenant string, startTypes []string, name, rawValue string) (*QueryParameter, error) {
	return cr.resolve(cr.registry.Snapshot(tenant), startTypes, name, rawValue)
}

func (cr *ChainResolver) resolve(snap *Snapshot, startTypes []string, name, rawValue string) (*QueryParameter, error) {
	segments := strings.Split(name, ".")
	if len(segments)-1 > cr.maxDepth {
		return nil, newSearchError(ErrInvalidChainSegment, name, "", "chain has %d reference hops, maximum is %d", len(segments)-1, cr.maxDepth)
	}

	types := startTypes
	nodes := make([]QueryParameter, 0, len(segments))
	last := len(segments) - 1

	for i, seg := range segments {
		pn := ParseParamModifier(seg)
		if pn.Code == "" {
			return nil, newSearchError(ErrInvalidChainSegment, name, "", "empty segment at position %d", i+1)
		}
		defs, err := lookupAll(snap, types, pn.Code, name)
		if err != nil {
			return nil, err
		}
		def := defs[0]
		for _, d := range defs[1:] {
			if d.Type != def.Type {
				return nil, newSearchError(ErrInvalidChainSegment, name, "", "parameter '%s' has different types across %v", pn.Code, types)
			}
		}

		if i == last {
			node, err := resolveTerminal(cr.model, cr.parser, def, pn, rawValue)
			if err != nil {
				return nil, withCode(err, name)
			}
			nodes = append(nodes, node)
			break
		}

		next, err := cr.nextType(defs, types, pn, name)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, QueryParameter{
			Type:                 def.Type,
			Code:                 pn.Code,
			Modifier:             ModifierType,
			ModifierResourceType: next,
		})
		types = []string{next}
	}
	return linkChain(nodes), nil
}

// nextType validates a non-terminal segment and returns the resource type
// the following segment is looked up on.
func (cr *ChainResolver) nextType(defs []*SearchParameterDef, types []string, pn ParamName, name string) (string, error) {
	if pn.Modifier != "" && !cr.model.IsResourceType(pn.Modifier) {
		return "", newSearchError(ErrInvalidChainSegment, name, "", "modifier '%s' is not allowed on chained segment '%s'", pn.Modifier, pn.Code)
	}

	resolved := ""
	for i, def := range defs {
		if def.Type != SearchParamReference {
			return "", newSearchError(ErrInvalidChainSegment, name, "", "'%s' is of type %s; only reference parameters can be chained", pn.Code, def.Type)
		}
		var target string
		switch {
		case pn.Modifier != "":
			if !def.HasTarget(pn.Modifier) {
				return "", newSearchError(ErrInvalidChainSegment, name, "", "'%s' is not a target of '%s' on %s", pn.Modifier, pn.Code, types[i])
			}
			target = pn.Modifier
		case len(def.Target) == 1:
			target = def.Target[0]
		case len(def.Target) == 0:
			return "", newSearchError(ErrInvalidChainSegment, name, "", "'%s' on %s declares no target types", pn.Code, types[i])
		default:
			return "", newSearchError(ErrInvalidChainSegment, name, "", "'%s' has %d target types; add a resource type modifier such as '%s:%s'",
				pn.Code, len(def.Target), pn.Code, def.Target[0])
		}
		if resolved != "" && target != resolved {
			return "", newSearchError(ErrInvalidChainSegment, name, "", "'%s' resolves to %s and %s across searched types", pn.Code, resolved, target)
		}
		resolved = target
	}
	return resolved, nil
}

// lookupAll finds code on every resource type in types.
func lookupAll(snap *Snapshot, types []string, code, name string) ([]*SearchParameterDef, error) {
	defs := make([]*SearchParameterDef, 0, len(types))
	for _, t := range types {
		def, ok := snap.Lookup(t, code)
		if !ok {
			return nil, newSearchError(ErrUnknownParameter, name, "", "search parameter '%s' is not defined for resource type %s", code, t)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// resolveTerminal builds the value-carrying node for a parameter: it
// checks the modifier against def and parses rawValue.
func resolveTerminal(model ResourceModel, parser *ValueParser, def *SearchParameterDef, pn ParamName, rawValue string) (QueryParameter, error) {
	mod, modType, err := resolveModifier(model, def, pn.Modifier)
	if err != nil {
		return QueryParameter{}, err
	}
	valueDef := def
	if mod == ModifierMissing {
		valueDef = &SearchParameterDef{Code: def.Code, Type: SearchParamToken}
	}
	var values []QueryParameterValue
	if mod == ModifierOfType {
		values, err = parser.ParseOfTypeValues(def, rawValue)
	} else {
		values, err = parser.ParseValues(valueDef, rawValue)
	}
	if err != nil {
		return QueryParameter{}, err
	}
	if mod == ModifierMissing {
		for _, v := range values {
			if v.System != nil || (v.Code != "true" && v.Code != "false") {
				return QueryParameter{}, newSearchError(ErrMalformedValue, def.Code, rawValue, ":missing takes true or false")
			}
		}
	}
	return QueryParameter{
		Type:                 def.Type,
		Code:                 pn.Code,
		Modifier:             mod,
		ModifierResourceType: modType,
		Values:               values,
	}, nil
}

// resolveModifier maps modifier text onto a SearchModifier and checks it
// against the compatibility matrix. A resource type name becomes
// ModifierType and must be one of def's targets.
func resolveModifier(model ResourceModel, def *SearchParameterDef, text string) (SearchModifier, string, error) {
	if text == "" {
		return "", "", nil
	}
	if model.IsResourceType(text) {
		if def.Type != SearchParamReference {
			return "", "", newSearchError(ErrUnsupportedModifier, def.Code, "", "resource type modifier '%s' on %s parameter", text, def.Type)
		}
		if !def.HasTarget(text) {
			return "", "", newSearchError(ErrUnsupportedModifier, def.Code, "", "'%s' is not a target of '%s'", text, def.Code)
		}
		return ModifierType, text, nil
	}
	mod, ok := ParseSearchModifier(text)
	if !ok {
		return "", "", newSearchError(ErrUnsupportedModifier, def.Code, "", "undefined modifier '%s'", text)
	}
	if !IsModifierAllowed(def.Type, mod) {
		return "", "", newSearchError(ErrUnsupportedModifier, def.Code, "", "modifier '%s' is not supported for %s parameters", mod, def.Type)
	}
	return mod, "", nil
}

// Package fieldmap translates records between the internal field space and a
// connection's external CRM field space using stored field mappings.
package fieldmap

import (
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/prospect-sync/internal/model"
)

// Transform rewrites a field value while it crosses the mapping boundary.
type Transform func(any) any

var titleCaser = cases.Title(language.English)

// transforms are the named transforms a field mapping may reference. Unknown
// names fall back to identity so a typo in mapping config degrades to a
// pass-through rather than an error.
var transforms = map[string]Transform{
	"lowercase":  stringTransform(strings.ToLower),
	"uppercase":  stringTransform(strings.ToUpper),
	"trim":       stringTransform(strings.TrimSpace),
	"title_case": stringTransform(titleCaser.String),
	"digits_only": stringTransform(func(s string) string {
		var b strings.Builder
		for _, r := range s {
			if r >= '0' && r <= '9' {
				b.WriteRune(r)
			}
		}
		return b.String()
	}),
}

func stringTransform(f func(string) string) Transform {
	return func(v any) any {
		if s, ok := v.(string); ok {
			return f(s)
		}
		return v
	}
}

// Lookup resolves a named transform, identity when empty or unknown.
func Lookup(name string) Transform {
	if t, ok := transforms[name]; ok {
		return t
	}
	return func(v any) any { return v }
}

// Names returns the registered transform names, sorted.
func Names() []string {
	names := make([]string, 0, len(transforms))
	for n := range transforms {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Mapper translates fields for one connection, indexed per entity type.
type Mapper struct {
	byEntity map[model.EntityType][]model.FieldMapping
}

// NewMapper indexes the given mappings. Mappings are applied in Position
// order; later duplicates of the same internal field win.
func NewMapper(mappings []model.FieldMapping) *Mapper {
	m := &Mapper{byEntity: make(map[model.EntityType][]model.FieldMapping)}
	for _, fm := range mappings {
		m.byEntity[fm.EntityType] = append(m.byEntity[fm.EntityType], fm)
	}
	for et := range m.byEntity {
		list := m.byEntity[et]
		sort.SliceStable(list, func(i, j int) bool { return list[i].Position < list[j].Position })
	}
	return m
}

// Mappings returns the mappings for an entity type in position order.
func (m *Mapper) Mappings(et model.EntityType) []model.FieldMapping {
	return m.byEntity[et]
}

// ExternalFields lists the external field names mapped for an entity type.
func (m *Mapper) ExternalFields(et model.EntityType) []string {
	list := m.byEntity[et]
	out := make([]string, 0, len(list))
	for _, fm := range list {
		out = append(out, fm.ExternalField)
	}
	return out
}

// MapToInternal converts external CRM fields into internal fields, applying
// each mapping's transform. External fields without a mapping are ignored.
func (m *Mapper) MapToInternal(et model.EntityType, external model.RawFields) model.RawFields {
	internal := model.RawFields{}
	for _, fm := range m.byEntity[et] {
		v, ok := external[fm.ExternalField]
		if !ok || v == nil {
			continue
		}
		internal[fm.InternalField] = Lookup(fm.Transform)(v)
	}
	return internal
}

// MapToExternal converts internal fields into external CRM fields. Transforms
// are not applied on the way out: they normalize inbound provider data, and
// pushing re-transformed values would drift from what the internal record
// actually holds.
func (m *Mapper) MapToExternal(et model.EntityType, internal model.RawFields) model.RawFields {
	external := model.RawFields{}
	for _, fm := range m.byEntity[et] {
		v, ok := internal[fm.InternalField]
		if !ok || v == nil {
			continue
		}
		external[fm.ExternalField] = v
	}
	return external
}

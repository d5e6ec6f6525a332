// Package registry loads field-mapping definitions from the shared Notion
// mapping database or from a local JSON fixture. The result seeds a
// connection's field mappings in the store.
package registry

import (
	"context"
	"sort"
	"time"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-sync/internal/model"
	"github.com/sells-group/prospect-sync/pkg/notion"
)

// LoadFieldMappings queries the Notion mapping database for all active rows
// and returns them as field mappings ordered by position. Malformed pages are
// skipped with a warning so one bad row does not block an import.
func LoadFieldMappings(ctx context.Context, client notion.Client, dbID string) ([]model.FieldMapping, error) {
	filter := &notionapi.DatabaseQueryRequest{
		Filter: notionapi.PropertyFilter{
			Property: "Status",
			Status: &notionapi.StatusFilterCondition{
				Equals: "Active",
			},
		},
	}

	pages, err := notion.QueryAll(ctx, client, dbID, filter)
	if err != nil {
		return nil, eris.Wrap(err, "registry: load field mappings")
	}

	var mappings []model.FieldMapping
	for _, p := range pages {
		m, err := parseMappingPage(p)
		if err != nil {
			zap.L().Warn("registry: skipping malformed mapping page",
				zap.String("page_id", string(p.ID)),
				zap.Error(err),
			)
			continue
		}
		mappings = append(mappings, m)
	}

	sort.SliceStable(mappings, func(i, j int) bool {
		return mappings[i].Position < mappings[j].Position
	})
	return mappings, nil
}

func parseMappingPage(p notionapi.Page) (model.FieldMapping, error) {
	m := model.FieldMapping{
		ID: string(p.ID),
	}

	// InternalField (title)
	if prop, ok := p.Properties["InternalField"]; ok {
		if tp, ok := prop.(*notionapi.TitleProperty); ok {
			m.InternalField = plainText(tp.Title)
		}
	}

	// ExternalField (rich_text)
	if prop, ok := p.Properties["ExternalField"]; ok {
		if rtp, ok := prop.(*notionapi.RichTextProperty); ok {
			m.ExternalField = plainText(rtp.RichText)
		}
	}

	// EntityType (select)
	if prop, ok := p.Properties["EntityType"]; ok {
		if sp, ok := prop.(*notionapi.SelectProperty); ok {
			m.EntityType = model.EntityType(sp.Select.Name)
		}
	}

	// Transform (select)
	if prop, ok := p.Properties["Transform"]; ok {
		if sp, ok := prop.(*notionapi.SelectProperty); ok {
			m.Transform = sp.Select.Name
		}
	}

	// Position (number)
	if prop, ok := p.Properties["Position"]; ok {
		if np, ok := prop.(*notionapi.NumberProperty); ok {
			m.Position = int(np.Number)
		}
	}

	if m.InternalField == "" {
		return m, eris.New("missing InternalField property")
	}
	if m.ExternalField == "" {
		return m, eris.New("missing ExternalField property")
	}

	return m, nil
}

// StampImported writes the import timestamp back to a mapping page so the
// Notion side shows when each row was last pulled into a deployment.
func StampImported(ctx context.Context, client notion.Client, pageID string, at time.Time) error {
	date := notionapi.Date(at)
	_, err := client.UpdatePage(ctx, pageID, &notionapi.PageUpdateRequest{
		Properties: notionapi.Properties{
			"LastImported": notionapi.DateProperty{
				Type: notionapi.PropertyTypeDate,
				Date: &notionapi.DateObject{Start: &date},
			},
		},
	})
	return eris.Wrapf(err, "registry: stamp mapping page %s", pageID)
}

func plainText(rich []notionapi.RichText) string {
	var out string
	for _, rt := range rich {
		out += rt.PlainText
	}
	return out
}

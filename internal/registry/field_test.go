package registry

import (
	"context"
	"testing"
	"time"

	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/sells-group/prospect-sync/internal/model"
)

func TestLoadFieldMappings_Success(t *testing.T) {
	mc := new(mockNotionClient)
	ctx := context.Background()

	mc.On("QueryDatabase", ctx, "map-db", mock.AnythingOfType("*notionapi.DatabaseQueryRequest")).
		Return(&notionapi.DatabaseQueryResponse{
			Results: []notionapi.Page{
				makeMappingPage("m2", "first_name", "FirstName", "contact", "trim", 2),
				makeMappingPage("m1", "email", "Email", "contact", "lowercase", 1),
			},
			HasMore: false,
		}, nil).Once()

	mappings, err := LoadFieldMappings(ctx, mc, "map-db")
	assert.NoError(t, err)
	assert.Len(t, mappings, 2)

	// Position order, not page order.
	assert.Equal(t, "email", mappings[0].InternalField)
	assert.Equal(t, "Email", mappings[0].ExternalField)
	assert.Equal(t, model.EntityContact, mappings[0].EntityType)
	assert.Equal(t, "lowercase", mappings[0].Transform)
	assert.Equal(t, 1, mappings[0].Position)

	assert.Equal(t, "first_name", mappings[1].InternalField)
	assert.Equal(t, "trim", mappings[1].Transform)
	mc.AssertExpectations(t)
}

func TestLoadFieldMappings_Pagination(t *testing.T) {
	mc := new(mockNotionClient)
	ctx := context.Background()

	mc.On("QueryDatabase", ctx, "map-db", mock.MatchedBy(func(req *notionapi.DatabaseQueryRequest) bool {
		return req.StartCursor == ""
	})).Return(&notionapi.DatabaseQueryResponse{
		Results:    []notionapi.Page{makeMappingPage("m1", "email", "Email", "contact", "", 1)},
		HasMore:    true,
		NextCursor: "cursor-next",
	}, nil).Once()

	mc.On("QueryDatabase", ctx, "map-db", mock.MatchedBy(func(req *notionapi.DatabaseQueryRequest) bool {
		return req.StartCursor == "cursor-next"
	})).Return(&notionapi.DatabaseQueryResponse{
		Results: []notionapi.Page{makeMappingPage("m2", "company", "Company", "contact", "", 2)},
		HasMore: false,
	}, nil).Once()

	mappings, err := LoadFieldMappings(ctx, mc, "map-db")
	assert.NoError(t, err)
	assert.Len(t, mappings, 2)
	mc.AssertExpectations(t)
}

func TestLoadFieldMappings_MalformedPageSkipped(t *testing.T) {
	mc := new(mockNotionClient)
	ctx := context.Background()

	mc.On("QueryDatabase", ctx, "map-db", mock.AnythingOfType("*notionapi.DatabaseQueryRequest")).
		Return(&notionapi.DatabaseQueryResponse{
			Results: []notionapi.Page{
				makeMappingPage("m1", "email", "Email", "contact", "", 1),
				makeMappingPage("m2", "", "Orphan", "contact", "", 2), // no internal field
				makeMappingPage("m3", "orphan", "", "contact", "", 3), // no external field
			},
			HasMore: false,
		}, nil).Once()

	mappings, err := LoadFieldMappings(ctx, mc, "map-db")
	assert.NoError(t, err)
	assert.Len(t, mappings, 1)
	assert.Equal(t, "email", mappings[0].InternalField)
	mc.AssertExpectations(t)
}

func TestLoadFieldMappings_Empty(t *testing.T) {
	mc := new(mockNotionClient)
	ctx := context.Background()

	mc.On("QueryDatabase", ctx, "map-db", mock.AnythingOfType("*notionapi.DatabaseQueryRequest")).
		Return(&notionapi.DatabaseQueryResponse{HasMore: false}, nil).Once()

	mappings, err := LoadFieldMappings(ctx, mc, "map-db")
	assert.NoError(t, err)
	assert.Empty(t, mappings)
	mc.AssertExpectations(t)
}

func TestLoadFieldMappings_QueryError(t *testing.T) {
	mc := new(mockNotionClient)
	ctx := context.Background()

	mc.On("QueryDatabase", ctx, "map-db", mock.AnythingOfType("*notionapi.DatabaseQueryRequest")).
		Return(nil, assert.AnError).Once()

	mappings, err := LoadFieldMappings(ctx, mc, "map-db")
	assert.Error(t, err)
	assert.Nil(t, mappings)
	mc.AssertExpectations(t)
}

func TestStampImported(t *testing.T) {
	mc := new(mockNotionClient)
	ctx := context.Background()

	mc.On("UpdatePage", ctx, "page-1", mock.MatchedBy(func(req *notionapi.PageUpdateRequest) bool {
		_, ok := req.Properties["LastImported"]
		return ok
	})).Return(&notionapi.Page{ID: "page-1"}, nil).Once()

	err := StampImported(ctx, mc, "page-1", time.Now().UTC())
	assert.NoError(t, err)
	mc.AssertExpectations(t)
}

// makeMappingPage builds a fake notionapi.Page with mapping database properties.
func makeMappingPage(id, internal, external, entityType, transform string, position int) notionapi.Page {
	props := make(notionapi.Properties)

	props["InternalField"] = &notionapi.TitleProperty{
		Type: notionapi.PropertyTypeTitle,
		Title: []notionapi.RichText{
			{PlainText: internal},
		},
	}

	props["ExternalField"] = &notionapi.RichTextProperty{
		Type: notionapi.PropertyTypeRichText,
		RichText: []notionapi.RichText{
			{PlainText: external},
		},
	}

	props["EntityType"] = &notionapi.SelectProperty{
		Type:   notionapi.PropertyTypeSelect,
		Select: notionapi.Option{Name: entityType},
	}

	props["Transform"] = &notionapi.SelectProperty{
		Type:   notionapi.PropertyTypeSelect,
		Select: notionapi.Option{Name: transform},
	}

	props["Position"] = &notionapi.NumberProperty{
		Type:   notionapi.PropertyTypeNumber,
		Number: float64(position),
	}

	props["Status"] = &notionapi.StatusProperty{
		Type:   notionapi.PropertyTypeStatus,
		Status: notionapi.Status{Name: "Active"},
	}

	return notionapi.Page{
		ID:         notionapi.ObjectID(id),
		Properties: props,
	}
}

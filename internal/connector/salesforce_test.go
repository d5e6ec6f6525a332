package connector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospect-sync/internal/model"
	sfpkg "github.com/sells-group/prospect-sync/pkg/salesforce"
)

// fakeSFClient records calls and replays canned query results.
type fakeSFClient struct {
	lastSoql      string
	queryRecords  []map[string]any
	queryErr      error
	insertedObj   string
	insertedRec   map[string]any
	insertID      string
	updatedObj    string
	updatedID     string
	updatedFields map[string]any
	deletedID     string
	bulkResults   []sfpkg.CollectionResult
}

func (f *fakeSFClient) Query(_ context.Context, soql string, out any) error {
	f.lastSoql = soql
	if f.queryErr != nil {
		return f.queryErr
	}
	if dst, ok := out.(*[]map[string]any); ok {
		*dst = f.queryRecords
	}
	return nil
}

func (f *fakeSFClient) InsertOne(_ context.Context, sObjectName string, record map[string]any) (string, error) {
	f.insertedObj = sObjectName
	f.insertedRec = record
	if f.insertID == "" {
		return "001NEW", nil
	}
	return f.insertID, nil
}

func (f *fakeSFClient) InsertCollection(_ context.Context, sObjectName string, records []map[string]any) ([]sfpkg.CollectionResult, error) {
	f.insertedObj = sObjectName
	return f.bulkResults, nil
}

func (f *fakeSFClient) UpdateOne(_ context.Context, sObjectName string, id string, fields map[string]any) error {
	f.updatedObj = sObjectName
	f.updatedID = id
	f.updatedFields = fields
	return nil
}

func (f *fakeSFClient) UpdateCollection(_ context.Context, sObjectName string, records []sfpkg.CollectionRecord) ([]sfpkg.CollectionResult, error) {
	f.updatedObj = sObjectName
	return f.bulkResults, nil
}

func (f *fakeSFClient) DeleteOne(_ context.Context, sObjectName string, id string) error {
	f.deletedID = id
	return nil
}

func TestSalesforceGetEntity(t *testing.T) {
	fake := &fakeSFClient{queryRecords: []map[string]any{{
		"attributes":       map[string]any{"type": "Contact"},
		"Id":               "003ABC",
		"Email":            "jane@acme.com",
		"Title":            "VP Engineering",
		"Phone":            "",
		"LastModifiedDate": "2026-08-01T10:30:00.000+0000",
	}}}
	c := NewSalesforceWithClient(fake)

	entity, err := c.GetEntity(context.Background(), model.EntityContact, "003ABC")
	require.NoError(t, err)
	assert.Equal(t, "003ABC", entity.ID)
	assert.Equal(t, "jane@acme.com", entity.Fields["Email"])
	assert.Equal(t, "VP Engineering", entity.Fields["Title"])
	assert.NotContains(t, entity.Fields, "Phone")
	assert.NotContains(t, entity.Fields, "attributes")
	assert.Equal(t, time.Date(2026, 8, 1, 10, 30, 0, 0, time.UTC), entity.ModifiedAt)
	assert.Contains(t, fake.lastSoql, "FROM Contact")
	assert.Contains(t, fake.lastSoql, "Id = '003ABC'")
}

func TestSalesforceGetEntityNotFound(t *testing.T) {
	c := NewSalesforceWithClient(&fakeSFClient{})

	_, err := c.GetEntity(context.Background(), model.EntityContact, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSalesforceGetEntityUnsupportedType(t *testing.T) {
	c := NewSalesforceWithClient(&fakeSFClient{})

	_, err := c.GetEntity(context.Background(), model.EntityType("opportunity"), "x")
	assert.Error(t, err)
}

func TestSalesforceQueryEntitiesFilter(t *testing.T) {
	fake := &fakeSFClient{}
	c := NewSalesforceWithClient(fake)

	_, err := c.QueryEntities(context.Background(), model.EntityCompany, Query{
		Filter: map[string]any{"Industry": "Software"},
		Limit:  10,
	})
	require.NoError(t, err)
	assert.Contains(t, fake.lastSoql, "FROM Account")
	assert.Contains(t, fake.lastSoql, "Industry = 'Software'")
	assert.Contains(t, fake.lastSoql, "LIMIT 10")
}

func TestSalesforceGetRecentlyModified(t *testing.T) {
	since := time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC)
	fake := &fakeSFClient{}
	c := NewSalesforceWithClient(fake)

	_, err := c.GetRecentlyModified(context.Background(), model.EntityLead, since, 50)
	require.NoError(t, err)
	assert.Contains(t, fake.lastSoql, "FROM Lead")
	assert.Contains(t, fake.lastSoql, "LastModifiedDate > 2026-08-15T00:00:00Z")
	assert.Contains(t, fake.lastSoql, "ORDER BY LastModifiedDate ASC")
	assert.Contains(t, fake.lastSoql, "LIMIT 50")
}

func TestSalesforceCreateEntity(t *testing.T) {
	fake := &fakeSFClient{insertID: "001XYZ"}
	c := NewSalesforceWithClient(fake)

	entity, err := c.CreateEntity(context.Background(), model.EntityCompany, model.RawFields{"Name": "Acme"})
	require.NoError(t, err)
	assert.Equal(t, "001XYZ", entity.ID)
	assert.Equal(t, "Account", fake.insertedObj)
	assert.Equal(t, "Acme", fake.insertedRec["Name"])
}

func TestSalesforceUpdateEntity(t *testing.T) {
	fake := &fakeSFClient{}
	c := NewSalesforceWithClient(fake)

	_, err := c.UpdateEntity(context.Background(), model.EntityContact, "003ABC", model.RawFields{"Title": "CTO"})
	require.NoError(t, err)
	assert.Equal(t, "Contact", fake.updatedObj)
	assert.Equal(t, "003ABC", fake.updatedID)
	assert.Equal(t, "CTO", fake.updatedFields["Title"])
}

func TestSalesforceLogActivityRouting(t *testing.T) {
	fake := &fakeSFClient{}
	c := NewSalesforceWithClient(fake)

	_, err := c.LogActivity(context.Background(), "enrichment_complete", "003ABC", model.RawFields{"body": "scores updated"})
	require.NoError(t, err)
	assert.Equal(t, "Task", fake.insertedObj)
	assert.Equal(t, "003ABC", fake.insertedRec["WhoId"])
	assert.Equal(t, "scores updated", fake.insertedRec["Description"])

	_, err = c.LogActivity(context.Background(), "enrichment_complete", "001ACCT", nil)
	require.NoError(t, err)
	assert.Equal(t, "001ACCT", fake.insertedRec["WhatId"])
}

func TestSalesforceBulkUpdate(t *testing.T) {
	fake := &fakeSFClient{bulkResults: []sfpkg.CollectionResult{
		{ID: "003A", Success: true},
		{ID: "003B", Success: false, Errors: []string{"FIELD_INTEGRITY_EXCEPTION", "bad email"}},
	}}
	c := NewSalesforceWithClient(fake)

	results, err := c.BulkUpdate(context.Background(), model.EntityContact, []BulkRecord{
		{ExternalID: "003A", Fields: model.RawFields{"Title": "CTO"}},
		{ExternalID: "003B", Fields: model.RawFields{"Email": "bad"}},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.Equal(t, "FIELD_INTEGRITY_EXCEPTION; bad email", results[1].Error)
}

func TestSalesforceEnrichByEmail(t *testing.T) {
	fake := &fakeSFClient{queryRecords: []map[string]any{{
		"Id":    "003ABC",
		"Email": "jane@acme.com",
		"Phone": "555-0100",
		"Title": "VP Engineering",
	}}}
	c := NewSalesforceWithClient(fake)

	fields, err := c.Enrich(context.Background(), model.Target{Email: "jane@acme.com"})
	require.NoError(t, err)
	assert.Equal(t, "jane@acme.com", fields["email"])
	assert.Equal(t, "555-0100", fields["phone"])
	assert.Equal(t, "VP Engineering", fields["title"])
	assert.Contains(t, fake.lastSoql, "Email = 'jane@acme.com'")
}

func TestSalesforceEnrichNoEmail(t *testing.T) {
	c := NewSalesforceWithClient(&fakeSFClient{})

	fields, err := c.Enrich(context.Background(), model.Target{FirstName: "Jane"})
	require.NoError(t, err)
	assert.Empty(t, fields)
}

func TestParseSFTime(t *testing.T) {
	assert.Equal(t,
		time.Date(2026, 8, 1, 10, 30, 0, 0, time.UTC),
		parseSFTime("2026-08-01T10:30:00.000+0000"))
	assert.Equal(t,
		time.Date(2026, 8, 1, 10, 30, 0, 0, time.UTC),
		parseSFTime("2026-08-01T10:30:00Z"))
	assert.True(t, parseSFTime("garbage").IsZero())
}

package connector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospect-sync/internal/model"
)

func newTestHubSpot(t *testing.T, handler http.HandlerFunc) CRMConnector {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewHubSpot(model.Connection{Provider: "hubspot", BaseURL: srv.URL, AccessToken: "tok"})
	require.NoError(t, err)
	crm, ok := c.(CRMConnector)
	require.True(t, ok)
	return crm
}

func TestHubSpotBulkCreatePartialFailurePairsByIndex(t *testing.T) {
	// HubSpot returns the created subset ordered by object id plus a separate
	// errors list; the rejected input must not inherit a later record's id.
	crm := newTestHubSpot(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/crm/v3/objects/contacts/batch/create", r.URL.Path)
		w.WriteHeader(http.StatusMultiStatus)
		w.Write([]byte(`{
			"results": [
				{"id": "901", "properties": {"email": "carol@acmeco.com", "createdate": "2026-08-29T00:00:00Z"}},
				{"id": "900", "properties": {"email": "alice@acmeco.com"}}
			],
			"errors": [{"message": "INVALID_EMAIL: not-an-email"}]
		}`)) //nolint:errcheck
	})

	results, err := crm.BulkCreate(context.Background(), model.EntityContact, []model.RawFields{
		{"email": "alice@acmeco.com"},
		{"email": "not-an-email"},
		{"email": "carol@acmeco.com"},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.True(t, results[0].Success)
	assert.Equal(t, "900", results[0].ExternalID)

	assert.False(t, results[1].Success)
	assert.Empty(t, results[1].ExternalID)
	assert.Contains(t, results[1].Error, "INVALID_EMAIL")

	assert.True(t, results[2].Success)
	assert.Equal(t, "901", results[2].ExternalID)
}

func TestHubSpotBulkCreateReorderedResults(t *testing.T) {
	crm := newTestHubSpot(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{
			"results": [
				{"id": "2", "properties": {"email": "b@acmeco.com"}},
				{"id": "1", "properties": {"email": "a@acmeco.com"}}
			]
		}`)) //nolint:errcheck
	})

	results, err := crm.BulkCreate(context.Background(), model.EntityContact, []model.RawFields{
		{"email": "a@acmeco.com"},
		{"email": "b@acmeco.com"},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "1", results[0].ExternalID)
	assert.Equal(t, "2", results[1].ExternalID)
}

func TestHubSpotBulkUpdatePartialFailurePairsByIndex(t *testing.T) {
	crm := newTestHubSpot(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/crm/v3/objects/contacts/batch/update", r.URL.Path)
		w.WriteHeader(http.StatusMultiStatus)
		w.Write([]byte(`{
			"results": [
				{"id": "902", "properties": {"email": "c@acmeco.com"}},
				{"id": "900", "properties": {"email": "a@acmeco.com"}}
			],
			"errors": [{"message": "OBJECT_NOT_FOUND: 901"}]
		}`)) //nolint:errcheck
	})

	results, err := crm.BulkUpdate(context.Background(), model.EntityContact, []BulkRecord{
		{ExternalID: "900", Fields: model.RawFields{"email": "a@acmeco.com"}},
		{ExternalID: "901", Fields: model.RawFields{"email": "b@acmeco.com"}},
		{ExternalID: "902", Fields: model.RawFields{"email": "c@acmeco.com"}},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.True(t, results[0].Success)
	assert.Equal(t, "900", results[0].ExternalID)

	assert.False(t, results[1].Success)
	assert.Equal(t, "901", results[1].ExternalID)
	assert.Contains(t, results[1].Error, "OBJECT_NOT_FOUND")

	assert.True(t, results[2].Success)
	assert.Equal(t, "902", results[2].ExternalID)
}

package connector

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-sync/internal/model"
)

// hubspotObjects maps internal entity types onto HubSpot CRM object names.
var hubspotObjects = map[model.EntityType]string{
	model.EntityContact:  "contacts",
	model.EntityCompany:  "companies",
	model.EntityLead:     "contacts",
	model.EntityActivity: "notes",
}

// HubSpotConnector is the CRM connector for HubSpot's v3 objects API.
type HubSpotConnector struct {
	conn model.Connection
	rest *restClient
}

// NewHubSpot builds the HubSpot connector from a stored connection.
func NewHubSpot(conn model.Connection) (Connector, error) {
	base := conn.BaseURL
	if base == "" {
		base = "https://api.hubapi.com"
	}
	return &HubSpotConnector{
		conn: conn,
		rest: newRESTClient("hubspot", base, conn.AccessToken, 8),
	}, nil
}

func (c *HubSpotConnector) Name() string { return "hubspot" }

func (c *HubSpotConnector) Scope() Scope { return ScopeBoth }

func (c *HubSpotConnector) TestConnection(ctx context.Context) error {
	q := url.Values{}
	q.Set("limit", "1")
	return c.rest.getJSON(ctx, "/crm/v3/objects/contacts", q, nil)
}

// RefreshToken exchanges the stored refresh token for a new access token and
// returns the updated connection for persistence.
func (c *HubSpotConnector) RefreshToken(ctx context.Context) (*model.Connection, error) {
	if c.conn.RefreshToken == "" {
		return nil, eris.New("hubspot: no refresh token stored")
	}

	var resp struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	body := map[string]any{
		"grant_type":    "refresh_token",
		"refresh_token": c.conn.RefreshToken,
	}
	if err := c.rest.doJSON(ctx, "POST", "/oauth/v1/token", nil, body, &resp); err != nil {
		return nil, eris.Wrap(err, "hubspot: refresh token")
	}
	if resp.AccessToken == "" {
		return nil, eris.New("hubspot: refresh returned empty access token")
	}

	c.conn.AccessToken = resp.AccessToken
	if resp.RefreshToken != "" {
		c.conn.RefreshToken = resp.RefreshToken
	}
	c.conn.UpdatedAt = time.Now().UTC()
	c.rest = newRESTClient("hubspot", c.rest.baseURL, c.conn.AccessToken, 8)

	updated := c.conn
	return &updated, nil
}

type hubspotObject struct {
	ID         string         `json:"id"`
	Properties map[string]any `json:"properties"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

type hubspotList struct {
	Results []hubspotObject `json:"results"`
}

func (c *HubSpotConnector) objectPath(et model.EntityType) (string, error) {
	obj, ok := hubspotObjects[et]
	if !ok {
		return "", eris.Errorf("hubspot: unsupported entity type %s", et)
	}
	return "/crm/v3/objects/" + obj, nil
}

func (o hubspotObject) toEntity(et model.EntityType) model.CRMEntity {
	fields := make(model.RawFields, len(o.Properties))
	for k, v := range o.Properties {
		if v == nil || v == "" {
			continue
		}
		fields[k] = v
	}
	return model.CRMEntity{ID: o.ID, Type: et, Fields: fields, ModifiedAt: o.UpdatedAt}
}

func (c *HubSpotConnector) GetEntity(ctx context.Context, et model.EntityType, externalID string) (*model.CRMEntity, error) {
	path, err := c.objectPath(et)
	if err != nil {
		return nil, err
	}
	var obj hubspotObject
	if err := c.rest.getJSON(ctx, path+"/"+externalID, nil, &obj); err != nil {
		if eris.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, NewSyncError(c.Name(), et, externalID, err)
	}
	entity := obj.toEntity(et)
	return &entity, nil
}

func (c *HubSpotConnector) QueryEntities(ctx context.Context, et model.EntityType, q Query) ([]model.CRMEntity, error) {
	path, err := c.objectPath(et)
	if err != nil {
		return nil, err
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	var list hubspotList
	if len(q.Filter) > 0 {
		// Filtered listings go through the search endpoint.
		var filters []map[string]any
		for prop, value := range q.Filter {
			filters = append(filters, map[string]any{
				"propertyName": prop,
				"operator":     "EQ",
				"value":        value,
			})
		}
		body := map[string]any{
			"filterGroups": []map[string]any{{"filters": filters}},
			"limit":        limit,
		}
		if err := c.rest.doJSON(ctx, "POST", path+"/search", nil, body, &list); err != nil {
			return nil, NewSyncError(c.Name(), et, "", err)
		}
	} else {
		query := url.Values{}
		query.Set("limit", strconv.Itoa(limit))
		if q.Offset > 0 {
			query.Set("after", strconv.Itoa(q.Offset))
		}
		if err := c.rest.getJSON(ctx, path, query, &list); err != nil {
			return nil, NewSyncError(c.Name(), et, "", err)
		}
	}

	entities := make([]model.CRMEntity, 0, len(list.Results))
	for _, obj := range list.Results {
		entities = append(entities, obj.toEntity(et))
	}
	return entities, nil
}

func (c *HubSpotConnector) CreateEntity(ctx context.Context, et model.EntityType, fields model.RawFields) (*model.CRMEntity, error) {
	path, err := c.objectPath(et)
	if err != nil {
		return nil, err
	}
	var obj hubspotObject
	if err := c.rest.doJSON(ctx, "POST", path, nil, map[string]any{"properties": fields}, &obj); err != nil {
		return nil, NewSyncError(c.Name(), et, "", err)
	}
	entity := obj.toEntity(et)
	return &entity, nil
}

func (c *HubSpotConnector) UpdateEntity(ctx context.Context, et model.EntityType, externalID string, fields model.RawFields) (*model.CRMEntity, error) {
	path, err := c.objectPath(et)
	if err != nil {
		return nil, err
	}
	var obj hubspotObject
	if err := c.rest.doJSON(ctx, "PATCH", path+"/"+externalID, nil, map[string]any{"properties": fields}, &obj); err != nil {
		return nil, NewSyncError(c.Name(), et, externalID, err)
	}
	entity := obj.toEntity(et)
	return &entity, nil
}

func (c *HubSpotConnector) DeleteEntity(ctx context.Context, et model.EntityType, externalID string) error {
	path, err := c.objectPath(et)
	if err != nil {
		return err
	}
	if err := c.rest.doJSON(ctx, "DELETE", path+"/"+externalID, nil, nil, nil); err != nil {
		return NewSyncError(c.Name(), et, externalID, err)
	}
	return nil
}

func (c *HubSpotConnector) GetRecentlyModified(ctx context.Context, et model.EntityType, since time.Time, limit int) ([]model.CRMEntity, error) {
	path, err := c.objectPath(et)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	body := map[string]any{
		"filterGroups": []map[string]any{{
			// Inclusive so records sharing the cursor timestamp are never
			// skipped; the sync engine dedupes re-fetched boundary records.
			"filters": []map[string]any{{
				"propertyName": "hs_lastmodifieddate",
				"operator":     "GTE",
				"value":        strconv.FormatInt(since.UTC().UnixMilli(), 10),
			}},
		}},
		"sorts": []map[string]any{{
			"propertyName": "hs_lastmodifieddate",
			"direction":    "ASCENDING",
		}},
		"limit": limit,
	}

	var list hubspotList
	if err := c.rest.doJSON(ctx, "POST", path+"/search", nil, body, &list); err != nil {
		return nil, NewSyncError(c.Name(), et, "", err)
	}

	entities := make([]model.CRMEntity, 0, len(list.Results))
	for _, obj := range list.Results {
		entities = append(entities, obj.toEntity(et))
	}
	return entities, nil
}

func (c *HubSpotConnector) LogActivity(ctx context.Context, activityType string, relatedExternalID string, fields model.RawFields) (*model.CRMEntity, error) {
	props := fields.Clone()
	props["hs_note_body"] = activityType + ": " + asString(fields["body"])
	delete(props, "body")

	body := map[string]any{
		"properties": props,
		"associations": []map[string]any{{
			"to": map[string]any{"id": relatedExternalID},
			"types": []map[string]any{{
				"associationCategory": "HUBSPOT_DEFINED",
				"associationTypeId":   202, // note-to-contact
			}},
		}},
	}

	var obj hubspotObject
	if err := c.rest.doJSON(ctx, "POST", "/crm/v3/objects/notes", nil, body, &obj); err != nil {
		return nil, NewSyncError(c.Name(), model.EntityActivity, relatedExternalID, err)
	}
	entity := obj.toEntity(model.EntityActivity)
	return &entity, nil
}

type hubspotBatchResult struct {
	Results []hubspotObject `json:"results"`
	Errors  []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func (c *HubSpotConnector) BulkCreate(ctx context.Context, et model.EntityType, records []model.RawFields) ([]BulkResult, error) {
	path, err := c.objectPath(et)
	if err != nil {
		return nil, err
	}

	inputs := make([]map[string]any, len(records))
	for i, r := range records {
		inputs[i] = map[string]any{"properties": r}
	}

	var resp hubspotBatchResult
	if err := c.rest.doJSON(ctx, "POST", path+"/batch/create", nil, map[string]any{"inputs": inputs}, &resp); err != nil {
		return nil, NewSyncError(c.Name(), et, "", err)
	}

	// HubSpot orders batch results by object id, not input position, and on
	// partial failure only the created subset comes back. Each created object
	// is matched to the input whose submitted properties it echoes, so the
	// returned slice pairs with the input by index.
	results := make([]BulkResult, len(records))
	claimed := make([]bool, len(records))
	for _, obj := range resp.Results {
		idx := matchBatchInput(records, claimed, obj)
		if idx < 0 {
			continue
		}
		claimed[idx] = true
		results[idx] = BulkResult{ExternalID: obj.ID, Success: true}
	}

	errIdx := 0
	for i := range records {
		if claimed[i] {
			continue
		}
		msg := "hubspot: record rejected in batch"
		if errIdx < len(resp.Errors) {
			msg = resp.Errors[errIdx].Message
			errIdx++
		}
		results[i] = BulkResult{Success: false, Error: msg}
	}
	return results, nil
}

// matchBatchInput finds the unclaimed input whose submitted properties the
// created object echoes back.
func matchBatchInput(records []model.RawFields, claimed []bool, obj hubspotObject) int {
	for i, rec := range records {
		if claimed[i] || !propsEcho(rec, obj.Properties) {
			continue
		}
		return i
	}
	return -1
}

// propsEcho reports whether every submitted property comes back with the same
// value. HubSpot returns property values as strings regardless of input type.
func propsEcho(sent model.RawFields, got map[string]any) bool {
	for k, v := range sent {
		if fmt.Sprint(v) != fmt.Sprint(got[k]) {
			return false
		}
	}
	return true
}

func (c *HubSpotConnector) BulkUpdate(ctx context.Context, et model.EntityType, records []BulkRecord) ([]BulkResult, error) {
	path, err := c.objectPath(et)
	if err != nil {
		return nil, err
	}

	inputs := make([]map[string]any, len(records))
	for i, r := range records {
		inputs[i] = map[string]any{"id": r.ExternalID, "properties": r.Fields}
	}

	var resp hubspotBatchResult
	if err := c.rest.doJSON(ctx, "POST", path+"/batch/update", nil, map[string]any{"inputs": inputs}, &resp); err != nil {
		return nil, NewSyncError(c.Name(), et, "", err)
	}

	// Updated objects carry the external id they were addressed by, so the
	// response correlates back to inputs exactly even when reordered or
	// partially failed.
	byID := make(map[string]int, len(records))
	for i, r := range records {
		byID[r.ExternalID] = i
	}
	results := make([]BulkResult, len(records))
	for _, obj := range resp.Results {
		if i, ok := byID[obj.ID]; ok {
			results[i] = BulkResult{ExternalID: obj.ID, Success: true}
		}
	}

	errIdx := 0
	for i, r := range records {
		if results[i].Success {
			continue
		}
		msg := "hubspot: record rejected in batch"
		if errIdx < len(resp.Errors) {
			msg = resp.Errors[errIdx].Message
			errIdx++
		}
		results[i] = BulkResult{ExternalID: r.ExternalID, Success: false, Error: msg}
	}
	return results, nil
}

// Enrich treats HubSpot as an enrichment source: relationship history for a
// contact matched by email.
func (c *HubSpotConnector) Enrich(ctx context.Context, target model.Target) (model.RawFields, error) {
	if target.Email == "" {
		return model.RawFields{}, nil
	}

	body := map[string]any{
		"filterGroups": []map[string]any{{
			"filters": []map[string]any{{
				"propertyName": "email",
				"operator":     "EQ",
				"value":        target.Email,
			}},
		}},
		"limit": 1,
	}

	var list hubspotList
	if err := c.rest.doJSON(ctx, "POST", "/crm/v3/objects/contacts/search", nil, body, &list); err != nil {
		return nil, err
	}
	if len(list.Results) == 0 {
		return model.RawFields{}, nil
	}

	props := list.Results[0].Properties
	fields := model.RawFields{}
	putString(fields, "email", asString(props["email"]))
	putString(fields, "phone", asString(props["phone"]))
	putString(fields, "title", asString(props["jobtitle"]))
	if n, err := strconv.Atoi(asString(props["num_contacted_notes"])); err == nil && n > 0 {
		fields["interaction_count"] = n
	}
	if ts := asString(props["notes_last_contacted"]); ts != "" {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			fields["last_contacted_at"] = t
		}
	}
	return fields, nil
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

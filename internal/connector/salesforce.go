package connector

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	gosf "github.com/k-capehart/go-salesforce/v3"
	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-sync/internal/model"
	sfpkg "github.com/sells-group/prospect-sync/pkg/salesforce"
)

// salesforceObjects maps internal entity types onto Salesforce SObjects.
var salesforceObjects = map[model.EntityType]string{
	model.EntityContact:  "Contact",
	model.EntityCompany:  "Account",
	model.EntityLead:     "Lead",
	model.EntityActivity: "Task",
}

// salesforceFields are the SOQL fields selected per SObject. Custom fields
// flow through field mappings before reaching this connector, so only the
// standard set is queried here.
var salesforceFields = map[string][]string{
	"Contact": {
		"Id", "FirstName", "LastName", "Email", "Phone", "MobilePhone",
		"Title", "Department", "AccountId", "LastModifiedDate",
	},
	"Account": {
		"Id", "Name", "Website", "Industry", "Phone", "NumberOfEmployees",
		"AnnualRevenue", "BillingCity", "BillingState", "BillingCountry",
		"LastModifiedDate",
	},
	"Lead": {
		"Id", "FirstName", "LastName", "Email", "Phone", "Title",
		"Company", "Status", "LeadSource", "LastModifiedDate",
	},
	"Task": {
		"Id", "Subject", "Description", "Status", "ActivityDate",
		"WhoId", "WhatId", "LastModifiedDate",
	},
}

// SalesforceConnector is the CRM connector for the Salesforce REST API.
type SalesforceConnector struct {
	client sfpkg.Client
}

// NewSalesforce builds the Salesforce connector from a stored connection.
// Access-token connections talk to the instance directly; otherwise a JWT
// bearer flow is assumed to have populated the token out of band.
func NewSalesforce(conn model.Connection) (Connector, error) {
	if conn.BaseURL == "" || conn.AccessToken == "" {
		return nil, eris.New("salesforce: instance URL and access token are required")
	}
	sf, err := gosf.Init(gosf.Creds{
		Domain:      conn.BaseURL,
		AccessToken: conn.AccessToken,
	})
	if err != nil {
		return nil, eris.Wrap(err, "salesforce: init")
	}
	return &SalesforceConnector{client: sfpkg.NewClient(sf, sfpkg.WithRateLimit(5))}, nil
}

// NewSalesforceWithClient wires an existing client; used by tests.
func NewSalesforceWithClient(client sfpkg.Client) *SalesforceConnector {
	return &SalesforceConnector{client: client}
}

func (c *SalesforceConnector) Name() string { return "salesforce" }

func (c *SalesforceConnector) Scope() Scope { return ScopeBoth }

func (c *SalesforceConnector) TestConnection(ctx context.Context) error {
	var out []map[string]any
	return c.client.Query(ctx, "SELECT Id FROM Organization LIMIT 1", &out)
}

func (c *SalesforceConnector) object(et model.EntityType) (string, []string, error) {
	obj, ok := salesforceObjects[et]
	if !ok {
		return "", nil, eris.Errorf("salesforce: unsupported entity type %s", et)
	}
	return obj, salesforceFields[obj], nil
}

// sfTimeLayouts covers the timestamp formats Salesforce returns.
var sfTimeLayouts = []string{
	"2006-01-02T15:04:05.000-0700",
	time.RFC3339,
}

func parseSFTime(s string) time.Time {
	for _, layout := range sfTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// recordToEntity converts a raw SOQL record into a CRMEntity, dropping the
// attributes envelope and empty values.
func recordToEntity(et model.EntityType, rec map[string]any) model.CRMEntity {
	entity := model.CRMEntity{Type: et, Fields: model.RawFields{}}
	for k, v := range rec {
		if k == "attributes" || v == nil || v == "" {
			continue
		}
		switch k {
		case "Id":
			if s, ok := v.(string); ok {
				entity.ID = s
			}
		case "LastModifiedDate":
			if s, ok := v.(string); ok {
				entity.ModifiedAt = parseSFTime(s)
			}
		default:
			entity.Fields[k] = v
		}
	}
	return entity
}

func (c *SalesforceConnector) GetEntity(ctx context.Context, et model.EntityType, externalID string) (*model.CRMEntity, error) {
	obj, fields, err := c.object(et)
	if err != nil {
		return nil, err
	}

	soql := sfpkg.NewSoql(obj, fields...).WhereEq("Id", externalID).Limit(1).String()
	var records []map[string]any
	if err := c.client.Query(ctx, soql, &records); err != nil {
		return nil, NewSyncError(c.Name(), et, externalID, err)
	}
	if len(records) == 0 {
		return nil, ErrNotFound
	}
	entity := recordToEntity(et, records[0])
	return &entity, nil
}

func (c *SalesforceConnector) QueryEntities(ctx context.Context, et model.EntityType, q Query) ([]model.CRMEntity, error) {
	obj, fields, err := c.object(et)
	if err != nil {
		return nil, err
	}

	b := sfpkg.NewSoql(obj, fields...)
	for _, field := range sortedFilterKeys(q.Filter) {
		switch v := q.Filter[field].(type) {
		case string:
			b.WhereEq(field, v)
		default:
			b.Where(fmt.Sprintf("%s = %v", field, v))
		}
	}
	if q.OrderBy != "" {
		b.OrderBy(q.OrderBy)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 200
	}
	b.Limit(limit).Offset(q.Offset)

	var records []map[string]any
	if err := c.client.Query(ctx, b.String(), &records); err != nil {
		return nil, NewSyncError(c.Name(), et, "", err)
	}

	entities := make([]model.CRMEntity, 0, len(records))
	for _, rec := range records {
		entities = append(entities, recordToEntity(et, rec))
	}
	return entities, nil
}

func (c *SalesforceConnector) CreateEntity(ctx context.Context, et model.EntityType, fields model.RawFields) (*model.CRMEntity, error) {
	obj, _, err := c.object(et)
	if err != nil {
		return nil, err
	}
	id, err := c.client.InsertOne(ctx, obj, fields)
	if err != nil {
		return nil, NewSyncError(c.Name(), et, "", err)
	}
	entity := model.CRMEntity{ID: id, Type: et, Fields: fields.Clone(), ModifiedAt: time.Now().UTC()}
	return &entity, nil
}

func (c *SalesforceConnector) UpdateEntity(ctx context.Context, et model.EntityType, externalID string, fields model.RawFields) (*model.CRMEntity, error) {
	obj, _, err := c.object(et)
	if err != nil {
		return nil, err
	}
	if err := c.client.UpdateOne(ctx, obj, externalID, fields.Clone()); err != nil {
		return nil, NewSyncError(c.Name(), et, externalID, err)
	}
	entity := model.CRMEntity{ID: externalID, Type: et, Fields: fields.Clone(), ModifiedAt: time.Now().UTC()}
	return &entity, nil
}

func (c *SalesforceConnector) DeleteEntity(ctx context.Context, et model.EntityType, externalID string) error {
	obj, _, err := c.object(et)
	if err != nil {
		return err
	}
	if err := c.client.DeleteOne(ctx, obj, externalID); err != nil {
		return NewSyncError(c.Name(), et, externalID, err)
	}
	return nil
}

func (c *SalesforceConnector) GetRecentlyModified(ctx context.Context, et model.EntityType, since time.Time, limit int) ([]model.CRMEntity, error) {
	obj, fields, err := c.object(et)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 200
	}

	// SOQL datetime literals are unquoted. Inclusive so records sharing the
	// cursor timestamp are never skipped; the sync engine dedupes re-fetched
	// boundary records.
	soql := sfpkg.NewSoql(obj, fields...).
		Where("LastModifiedDate >= " + since.UTC().Format("2006-01-02T15:04:05Z")).
		OrderBy("LastModifiedDate ASC").
		Limit(limit).
		String()

	var records []map[string]any
	if err := c.client.Query(ctx, soql, &records); err != nil {
		return nil, NewSyncError(c.Name(), et, "", err)
	}

	entities := make([]model.CRMEntity, 0, len(records))
	for _, rec := range records {
		entities = append(entities, recordToEntity(et, rec))
	}
	return entities, nil
}

// sortedFilterKeys keeps generated SOQL deterministic across runs.
func sortedFilterKeys(filter map[string]any) []string {
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (c *SalesforceConnector) LogActivity(ctx context.Context, activityType string, relatedExternalID string, fields model.RawFields) (*model.CRMEntity, error) {
	task := model.RawFields{
		"Subject": activityType,
		"Status":  "Completed",
	}
	if body := asString(fields["body"]); body != "" {
		task["Description"] = body
	}
	// Contact and Lead IDs key on WhoId; everything else on WhatId.
	if strings.HasPrefix(relatedExternalID, "003") || strings.HasPrefix(relatedExternalID, "00Q") {
		task["WhoId"] = relatedExternalID
	} else {
		task["WhatId"] = relatedExternalID
	}

	id, err := c.client.InsertOne(ctx, "Task", task)
	if err != nil {
		return nil, NewSyncError(c.Name(), model.EntityActivity, relatedExternalID, err)
	}
	return &model.CRMEntity{ID: id, Type: model.EntityActivity, Fields: task, ModifiedAt: time.Now().UTC()}, nil
}

func (c *SalesforceConnector) BulkCreate(ctx context.Context, et model.EntityType, records []model.RawFields) ([]BulkResult, error) {
	obj, _, err := c.object(et)
	if err != nil {
		return nil, err
	}

	batch := make([]map[string]any, len(records))
	for i, r := range records {
		batch[i] = r
	}
	collResults, err := c.client.InsertCollection(ctx, obj, batch)
	if err != nil {
		return nil, NewSyncError(c.Name(), et, "", err)
	}
	return convertCollectionResults(collResults), nil
}

func (c *SalesforceConnector) BulkUpdate(ctx context.Context, et model.EntityType, records []BulkRecord) ([]BulkResult, error) {
	obj, _, err := c.object(et)
	if err != nil {
		return nil, err
	}

	batch := make([]sfpkg.CollectionRecord, len(records))
	for i, r := range records {
		batch[i] = sfpkg.CollectionRecord{ID: r.ExternalID, Fields: r.Fields}
	}
	collResults, err := c.client.UpdateCollection(ctx, obj, batch)
	if err != nil {
		return nil, NewSyncError(c.Name(), et, "", err)
	}
	return convertCollectionResults(collResults), nil
}

func convertCollectionResults(results []sfpkg.CollectionResult) []BulkResult {
	out := make([]BulkResult, len(results))
	for i, r := range results {
		out[i] = BulkResult{ExternalID: r.ID, Success: r.Success}
		if len(r.Errors) > 0 {
			out[i].Error = strings.Join(r.Errors, "; ")
		}
	}
	return out
}

// Enrich treats the CRM itself as an enrichment source: existing contact
// details for a prospect matched by email.
func (c *SalesforceConnector) Enrich(ctx context.Context, target model.Target) (model.RawFields, error) {
	if target.Email == "" {
		return model.RawFields{}, nil
	}

	soql := sfpkg.NewSoql("Contact", salesforceFields["Contact"]...).
		WhereEq("Email", target.Email).
		Limit(1).
		String()

	var records []map[string]any
	if err := c.client.Query(ctx, soql, &records); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return model.RawFields{}, nil
	}

	rec := records[0]
	fields := model.RawFields{}
	putString(fields, "email", asString(rec["Email"]))
	putString(fields, "phone", asString(rec["Phone"]))
	putString(fields, "mobile_phone", asString(rec["MobilePhone"]))
	putString(fields, "title", asString(rec["Title"]))
	putString(fields, "department", asString(rec["Department"]))
	return fields, nil
}

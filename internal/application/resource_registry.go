package application

import (
	"context"
	"strconv"
	"strings"
	"time"

	"bitrix24-mcp-server/internal/domain"
)

// Resource URIs.
const (
	ResourceDeals          = "crm/deals"
	ResourceLeads          = "crm/leads"
	ResourceContacts       = "crm/contacts"
	ResourceCompanies      = "crm/companies"
	ResourceUsers          = "crm/users"
	ResourceTasks          = "crm/tasks"
	ResourceLeadStatuses   = "crm/lead_statuses"
	ResourceLeadSources    = "crm/lead_sources"
	ResourceCurrencies     = "crm/currencies"
	ResourceDealCategories = "crm/deal_categories"
	ResourceDealStages     = "crm/deal_stages"
	ResourceTaskStatuses   = "tasks/statuses"
	ResourceTaskPriorities = "tasks/priorities"
	ResourceLeadsGuide     = "bitrix24_leads_guide"
	ResourceReleases       = "versions/releases"
)

// resourceDefaults lists every resource in descriptor order with its
// built-in name and description.
var resourceDefaults = []domain.ResourceDescriptor{
	{URI: ResourceDeals, Name: "CRM Deals", Description: "Deal list with filters (crm.deal.list)."},
	{URI: ResourceLeadStatuses, Name: "CRM Lead Stages", Description: "Lead status dictionary (crm.status.list with ENTITY_ID=STATUS)."},
	{URI: ResourceLeads, Name: "CRM Leads", Description: "Lead list with filters (crm.lead.list)."},
	{URI: ResourceCurrencies, Name: "CRM Currencies", Description: "Currency dictionary (crm.currency.list)."},
	{URI: ResourceDealCategories, Name: "CRM Deal Categories", Description: "Deal pipeline dictionary (crm.dealcategory.list)."},
	{URI: ResourceDealStages, Name: "CRM Deal Stages", Description: "Deal stage dictionary per pipeline (crm.dealcategory.stage.list)."},
	{URI: ResourceLeadSources, Name: "CRM Lead Sources", Description: "Lead source dictionary (crm.status.list with ENTITY_ID=SOURCE)."},
	{URI: ResourceContacts, Name: "CRM Contacts", Description: "Contact list (crm.contact.list)."},
	{URI: ResourceCompanies, Name: "CRM Companies", Description: "Company list (crm.company.list)."},
	{URI: ResourceUsers, Name: "Portal Users", Description: "Portal user list (user.get)."},
	{URI: ResourceTasks, Name: "Tasks", Description: "Task list (tasks.task.list)."},
	{URI: ResourceTaskStatuses, Name: "Task Statuses", Description: "Task status dictionary (tasks.task.getFields -> STATUS)."},
	{URI: ResourceTaskPriorities, Name: "Task Priorities", Description: "Task priority dictionary (tasks.task.getFields -> PRIORITY)."},
	{URI: ResourceLeadsGuide, Name: "Leads playbook", Description: "Ready-made crm.lead.list payloads."},
	{URI: ResourceReleases, Name: "Release history", Description: "Server release notes, newest first."},
}

// ResourceDeps are the collaborators of a ResourceRegistry.
type ResourceDeps struct {
	Gateway      domain.Gateway
	Cache        *QueryCache
	Users        *UserDirectory
	Docs         *domain.DocsBundle
	Dates        *domain.DateRangeBuilder
	Releases     domain.ReleaseSource
	InstanceName string
	Logger       *StructuredLogger
}

// ResourceRegistry resolves resource URIs to queries against Bitrix24.
// It implements domain.ResourceHandler and is immutable after construction.
type ResourceRegistry struct {
	gateway      domain.Gateway
	cache        *QueryCache
	users        *UserDirectory
	docs         *domain.DocsBundle
	dates        *domain.DateRangeBuilder
	releases     domain.ReleaseSource
	instanceName string
	logger       *StructuredLogger
	descriptors  []domain.ResourceDescriptor
}

// NewResourceRegistry creates a registry. Descriptor names and descriptions
// come from the docs bundle when it overrides them.
func NewResourceRegistry(deps ResourceDeps) *ResourceRegistry {
	logger := deps.Logger
	if logger == nil {
		logger = NewStructuredLogger(nil)
	}
	dates := deps.Dates
	if dates == nil {
		dates = domain.NewDateRangeBuilder(nil)
	}
	releases := deps.Releases
	if releases == nil {
		releases = NewStaticReleaseSource()
	}
	cache := deps.Cache
	if cache == nil {
		// lru.New only fails for a non-positive size
		cache, _ = NewQueryCache(domain.DefaultCacheTTLSeconds*time.Second, domain.DefaultCacheMaxEntries, logger)
	}

	descriptors := make([]domain.ResourceDescriptor, 0, len(resourceDefaults))
	for _, def := range resourceDefaults {
		descriptor := def
		if doc, ok := deps.Docs.ResourceDocFor(def.URI); ok {
			source := doc.DescriptorSource()
			if source.Name != "" {
				descriptor.Name = source.Name
			}
			if source.Description != "" {
				descriptor.Description = source.Description
			}
		}
		descriptors = append(descriptors, descriptor)
	}

	return &ResourceRegistry{
		gateway:      deps.Gateway,
		cache:        cache,
		users:        deps.Users,
		docs:         deps.Docs,
		dates:        dates,
		releases:     releases,
		instanceName: deps.InstanceName,
		logger:       logger,
		descriptors:  descriptors,
	}
}

// ListResources implements domain.ResourceHandler.
func (r *ResourceRegistry) ListResources() []domain.ResourceDescriptor {
	out := make([]domain.ResourceDescriptor, len(r.descriptors))
	copy(out, r.descriptors)
	return out
}

// Query implements domain.ResourceHandler.
func (r *ResourceRegistry) Query(ctx context.Context, req *domain.QueryRequest) (*domain.QueryResponse, error) {
	params := req.Params
	if params == nil {
		params = map[string]interface{}{}
	}

	switch req.Resource {
	case ResourceDeals:
		return r.enrichedList(ctx, req.Resource, "crm.deal.list", params, req.Cursor, r.enrichDeals)
	case ResourceLeads:
		return r.enrichedList(ctx, req.Resource, "crm.lead.list", params, req.Cursor, r.enrichLeads)
	case ResourceTasks:
		return r.enrichedList(ctx, req.Resource, "tasks.task.list", params, req.Cursor, r.enrichTasks)
	case ResourceContacts:
		return r.listEntities(ctx, req.Resource, "crm.contact.list", params, req.Cursor)
	case ResourceCompanies:
		return r.listEntities(ctx, req.Resource, "crm.company.list", params, req.Cursor)
	case ResourceUsers:
		return r.listEntities(ctx, req.Resource, "user.get", params, req.Cursor)
	case ResourceLeadStatuses:
		return r.statusDictionary(ctx, req.Resource, "STATUS", params, req.Cursor)
	case ResourceLeadSources:
		return r.statusDictionary(ctx, req.Resource, "SOURCE", params, req.Cursor)
	case ResourceCurrencies:
		return r.cachedList(ctx, req.Resource, "crm.currency.list", params, req.Cursor, false)
	case ResourceDealCategories:
		return r.cachedList(ctx, req.Resource, "crm.dealcategory.list", params, req.Cursor, false)
	case ResourceDealStages:
		return r.dealStages(ctx, params, req.Cursor)
	case ResourceTaskStatuses:
		return r.taskField(ctx, req.Resource, "STATUS", params, req.Cursor)
	case ResourceTaskPriorities:
		return r.taskField(ctx, req.Resource, "PRIORITY", params, req.Cursor)
	case ResourceLeadsGuide:
		return r.leadsGuide(params), nil
	case ResourceReleases:
		return r.releaseHistory(ctx)
	default:
		return nil, &domain.NotFoundError{Kind: domain.KindResource, Name: req.Resource}
	}
}

func (r *ResourceRegistry) metadata(resource string) domain.Metadata {
	return domain.Metadata{
		Provider:     domain.ProviderBitrix24,
		Resource:     resource,
		InstanceName: r.instanceName,
	}
}

// enricher decorates fetched records with _meta.
type enricher func(ctx context.Context, records []map[string]interface{}) ([]map[string]interface{}, error)

func (r *ResourceRegistry) enrichedList(
	ctx context.Context,
	resource, method string,
	params map[string]interface{},
	cursor *string,
	enrich enricher,
) (*domain.QueryResponse, error) {
	response, err := r.listEntities(ctx, resource, method, params, cursor)
	if err != nil {
		return nil, err
	}
	response.Data, err = enrich(ctx, response.Data)
	if err != nil {
		return nil, err
	}
	return response, nil
}

// listEntities calls a list method and normalises the answer: records from
// result, next as the cursor, total as an integer when parseable.
func (r *ResourceRegistry) listEntities(
	ctx context.Context,
	resource, method string,
	params map[string]interface{},
	cursor *string,
) (*domain.QueryResponse, error) {
	payload, err := preparePayload(params, cursor)
	if err != nil {
		return nil, err
	}

	response, err := r.gateway.Call(ctx, method, payload)
	if err != nil {
		return nil, err
	}

	return &domain.QueryResponse{
		Metadata:   r.metadata(resource),
		Data:       recordsFromResult(response["result"]),
		NextCursor: nextCursor(response["next"]),
		Total:      normalizeTotal(response["total"]),
	}, nil
}

// preparePayload copies params and turns the cursor into a numeric start.
func preparePayload(params map[string]interface{}, cursor *string) (map[string]interface{}, error) {
	payload := make(map[string]interface{}, len(params)+1)
	for k, v := range params {
		payload[k] = v
	}
	if cursor != nil {
		start, err := strconv.Atoi(strings.TrimSpace(*cursor))
		if err != nil {
			return nil, domain.NewValidationError("cursor must be an integer offset, got %q", *cursor)
		}
		payload["start"] = start
	}
	return payload, nil
}

// recordsFromResult extracts the record list of a list response.
// tasks.task.list nests its records under result.tasks.
func recordsFromResult(result interface{}) []map[string]interface{} {
	switch v := result.(type) {
	case []interface{}:
		return recordsOf(v)
	case map[string]interface{}:
		if tasks, ok := v["tasks"].([]interface{}); ok {
			return recordsOf(tasks)
		}
	}
	return []map[string]interface{}{}
}

func nextCursor(next interface{}) *string {
	if next == nil {
		return nil
	}
	s := stringValue(next)
	return &s
}

// normalizeTotal accepts integer or numeric-string totals.
func normalizeTotal(total interface{}) *int {
	var n int
	switch v := total.(type) {
	case float64:
		n = int(v)
	case int:
		n = v
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return nil
		}
		n = parsed
	default:
		return nil
	}
	return &n
}

// cachedList serves a dictionary list through the query cache.
func (r *ResourceRegistry) cachedList(
	ctx context.Context,
	resource, method string,
	params map[string]interface{},
	cursor *string,
	semanticGroups bool,
) (*domain.QueryResponse, error) {
	payload := deepCopyMap(params)
	if payload == nil {
		payload = map[string]interface{}{}
	}

	return r.cache.GetOrFetch(ctx, resource, payload, cursor, r.metadata(resource), func(ctx context.Context) (*domain.QueryResponse, error) {
		response, err := r.listEntities(ctx, resource, method, payload, cursor)
		if err != nil {
			return nil, err
		}
		if semanticGroups {
			applySemanticGroups(response.Data)
		}
		return response, nil
	})
}

// statusDictionary lists crm.status.list rows of one entity type.
// A caller-supplied ENTITY_ID filter wins over the default.
func (r *ResourceRegistry) statusDictionary(
	ctx context.Context,
	resource, entityID string,
	params map[string]interface{},
	cursor *string,
) (*domain.QueryResponse, error) {
	payload := deepCopyMap(params)
	if payload == nil {
		payload = map[string]interface{}{}
	}
	filter, ok := payload["filter"].(map[string]interface{})
	if !ok {
		filter = map[string]interface{}{}
	}
	if _, ok := filter["ENTITY_ID"]; !ok {
		filter["ENTITY_ID"] = entityID
	}
	payload["filter"] = filter

	return r.cachedList(ctx, resource, "crm.status.list", payload, cursor, true)
}

// dealStages lists the stages of one deal pipeline. categoryId is accepted
// as an alias of id; the default pipeline is 0.
func (r *ResourceRegistry) dealStages(ctx context.Context, params map[string]interface{}, cursor *string) (*domain.QueryResponse, error) {
	payload := deepCopyMap(params)
	if payload == nil {
		payload = map[string]interface{}{}
	}
	if _, ok := payload["id"]; !ok {
		if categoryID, ok := payload["categoryId"]; ok {
			payload["id"] = categoryID
			delete(payload, "categoryId")
		}
	}
	if _, ok := payload["id"]; !ok {
		payload["id"] = 0
	}

	return r.cachedList(ctx, ResourceDealStages, "crm.dealcategory.stage.list", payload, cursor, true)
}

// taskField lists the enumeration of one task field from tasks.task.getFields.
func (r *ResourceRegistry) taskField(
	ctx context.Context,
	resource, fieldKey string,
	params map[string]interface{},
	cursor *string,
) (*domain.QueryResponse, error) {
	payload := deepCopyMap(params)
	if payload == nil {
		payload = map[string]interface{}{}
	}

	metadata := r.metadata(resource)
	return r.cache.GetOrFetch(ctx, resource, payload, cursor, metadata, func(ctx context.Context) (*domain.QueryResponse, error) {
		response, err := r.gateway.Call(ctx, "tasks.task.getFields", payload)
		if err != nil {
			return nil, err
		}

		fields, _ := response["result"].(map[string]interface{})
		if nested, ok := fields["fields"].(map[string]interface{}); ok {
			fields = nested
		}

		definition := fields[fieldKey]
		if isEmpty(definition) {
			definition = fields[strings.ToLower(fieldKey)]
		}

		return &domain.QueryResponse{
			Metadata: metadata,
			Data:     normalizeEnumItems(definition),
		}, nil
	})
}

// leadsGuide returns the playbook scenarios from the docs bundle, optionally
// filtered by a case-insensitive title substring, followed by the rules.
// Date placeholders inside scenario payloads are filled in.
func (r *ResourceRegistry) leadsGuide(params map[string]interface{}) *domain.QueryResponse {
	doc, _ := r.docs.ResourceDocFor(ResourceLeadsGuide)

	var titleFilter string
	for _, key := range []string{"title", "scenario"} {
		if s, ok := params[key].(string); ok && s != "" {
			titleFilter = strings.ToLower(s)
			break
		}
	}

	placeholders := r.guidePlaceholders()
	data := make([]map[string]interface{}, 0, len(doc.Scenarios)+1)
	for _, scenario := range doc.Scenarios {
		title := stringValue(scenario["title"])
		if titleFilter != "" && !strings.Contains(strings.ToLower(title), titleFilter) {
			continue
		}
		data = append(data, map[string]interface{}{
			"type":        "scenario",
			"title":       title,
			"description": scenario["description"],
			"payload":     substituteValue(deepCopy(scenario["payload"]), placeholders),
		})
	}

	if len(doc.Rules) > 0 {
		data = append(data, map[string]interface{}{
			"type":  "rules",
			"rules": deepCopy(doc.Rules),
		})
	}

	return &domain.QueryResponse{
		Metadata: r.metadata(ResourceLeadsGuide),
		Data:     data,
	}
}

func (r *ResourceRegistry) guidePlaceholders() map[string]string {
	values, err := r.dates.Placeholders(domain.RangeToday, "")
	if err != nil {
		values = map[string]string{}
	}
	for k, v := range r.dates.WeekPlaceholders() {
		values[k] = v
	}
	return values
}

// releaseHistory lists releases, newest first.
func (r *ResourceRegistry) releaseHistory(ctx context.Context) (*domain.QueryResponse, error) {
	releases, err := r.releases.ListReleases(ctx)
	if err != nil {
		return nil, err
	}

	data := make([]map[string]interface{}, 0, len(releases))
	for _, release := range releases {
		notes := make([]interface{}, len(release.Notes))
		for i, note := range release.Notes {
			notes[i] = note
		}
		entry := map[string]interface{}{
			"version": release.Version,
			"status":  release.Status,
			"title":   release.Title,
			"notes":   notes,
		}
		if release.URL != "" {
			entry["url"] = release.URL
		}
		if release.PublishedAt != "" {
			entry["published_at"] = release.PublishedAt
		}
		data = append(data, entry)
	}

	total := len(data)
	return &domain.QueryResponse{
		Metadata: r.metadata(ResourceReleases),
		Data:     data,
		Total:    &total,
	}, nil
}

// isEmpty reports whether a decoded JSON value is absent or empty.
func isEmpty(value interface{}) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case map[string]interface{}:
		return len(v) == 0
	case []interface{}:
		return len(v) == 0
	}
	return false
}

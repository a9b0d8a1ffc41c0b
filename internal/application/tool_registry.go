package application

import (
	"context"
	"fmt"
	"strings"

	"bitrix24-mcp-server/internal/domain"
)

// Tool names.
const (
	ToolGetDeals         = "getDeals"
	ToolGetLeads         = "getLeads"
	ToolGetContacts      = "getContacts"
	ToolGetCompanies     = "getCompanies"
	ToolGetUsers         = "getUsers"
	ToolGetTasks         = "getTasks"
	ToolGetCompany       = "getCompany"
	ToolGetLeadCalls     = "getLeadCalls"
	ToolCallBitrixMethod = "callBitrixMethod"
)

// leadLimitCap is the largest page getLeads asks Bitrix24 for.
const leadLimitCap = 500

// callActivityType is the crm.activity TYPE_ID of phone calls.
const callActivityType = 2

// listTool binds a list tool to its upstream method and resource.
type listTool struct {
	name     string
	entity   string
	method   string
	resource string
}

var listTools = []listTool{
	{name: ToolGetDeals, entity: "deals", method: "crm.deal.list", resource: ResourceDeals},
	{name: ToolGetLeads, entity: "leads", method: "crm.lead.list", resource: ResourceLeads},
	{name: ToolGetContacts, entity: "contacts", method: "crm.contact.list", resource: ResourceContacts},
	{name: ToolGetCompanies, entity: "companies", method: "crm.company.list", resource: ResourceCompanies},
	{name: ToolGetUsers, entity: "users", method: "user.get", resource: ResourceUsers},
	{name: ToolGetTasks, entity: "tasks", method: "tasks.task.list", resource: ResourceTasks},
}

var otherToolDescriptions = []struct {
	name        string
	description string
}{
	{ToolGetCompany, "Fetches one company through Bitrix24 `crm.company.get`. Requires `id`; `select` keeps only the listed fields."},
	{ToolGetLeadCalls, "Lists the phone calls of a lead: timeline activities (`crm.activity.list`), their details (`crm.activity.get`) and telephony statistics with recording links (`voximplant.statistic.get`)."},
	{ToolCallBitrixMethod, "Calls any Bitrix24 REST method with the given `params` object. Use it for capabilities no other tool covers."},
}

func listToolDescription(entity, method string) string {
	return fmt.Sprintf("Fetches %s through Bitrix24 `%s`. Supports `select` (fields), "+
		"`filter` (operators `=`, `>=`, `<=`, `@` and so on), `order` (`ASC`/`DESC` map), "+
		"`start` (offset) and `limit` (maximum records, within Bitrix24 limits).", entity, method)
}

// ToolDeps are the collaborators of a ToolRegistry.
type ToolDeps struct {
	Gateway      domain.Gateway
	Resources    *ResourceRegistry
	Warnings     *WarningEvaluator
	Dates        *domain.DateRangeBuilder
	Docs         *domain.DocsBundle
	InstanceName string
	Logger       *StructuredLogger
}

// ToolRegistry implements domain.ToolHandler for the Bitrix24 tools.
// Arguments are checked against each tool's input schema before any
// upstream call.
type ToolRegistry struct {
	gateway      domain.Gateway
	resources    *ResourceRegistry
	warnings     *WarningEvaluator
	dates        *domain.DateRangeBuilder
	instanceName string
	logger       *StructuredLogger
	descriptors  []domain.ToolDescriptor
	validators   map[string]*argumentValidator
}

// NewToolRegistry builds the descriptors and compiles the input schemas.
// Descriptions and schemas from the docs bundle replace the built-in ones.
func NewToolRegistry(deps ToolDeps) (*ToolRegistry, error) {
	logger := deps.Logger
	if logger == nil {
		logger = NewStructuredLogger(nil)
	}
	dates := deps.Dates
	if dates == nil {
		dates = domain.NewDateRangeBuilder(nil)
	}
	warnings := deps.Warnings
	if warnings == nil {
		warnings = NewWarningEvaluator(deps.Docs, dates, logger)
	}

	defaults := defaultSchemas()
	descriptions := make(map[string]string, len(defaults))
	var names []string
	for _, tool := range listTools {
		names = append(names, tool.name)
		descriptions[tool.name] = listToolDescription(tool.entity, tool.method)
	}
	for _, tool := range otherToolDescriptions {
		names = append(names, tool.name)
		descriptions[tool.name] = tool.description
	}

	registry := &ToolRegistry{
		gateway:      deps.Gateway,
		resources:    deps.Resources,
		warnings:     warnings,
		dates:        dates,
		instanceName: deps.InstanceName,
		logger:       logger,
		validators:   make(map[string]*argumentValidator, len(names)),
	}

	for _, name := range names {
		descriptor := domain.ToolDescriptor{
			Name:        name,
			Description: descriptions[name],
			InputSchema: defaults[name],
		}
		if doc, ok := deps.Docs.ToolDocFor(name); ok {
			if doc.Description != "" {
				descriptor.Description = doc.Description
			}
			if doc.InputSchema != nil {
				descriptor.InputSchema = deepCopyMap(doc.InputSchema)
			}
		}

		validator, err := compileSchema(name, descriptor.InputSchema)
		if err != nil {
			return nil, err
		}
		registry.validators[name] = validator
		registry.descriptors = append(registry.descriptors, descriptor)
	}

	return registry, nil
}

// ListTools implements domain.ToolHandler.
func (r *ToolRegistry) ListTools() []domain.ToolDescriptor {
	out := make([]domain.ToolDescriptor, len(r.descriptors))
	copy(out, r.descriptors)
	return out
}

// Handle implements domain.ToolHandler.
func (r *ToolRegistry) Handle(ctx context.Context, req *domain.ToolRequest) (*domain.ToolResponse, error) {
	validator, ok := r.validators[req.Name]
	if !ok {
		return nil, &domain.NotFoundError{Kind: domain.KindTool, Name: req.Name}
	}

	args := req.Arguments
	if args == nil {
		args = make(map[string]interface{})
	}
	if err := validator.Validate(req.Name, args); err != nil {
		return nil, err
	}

	switch req.Name {
	case ToolGetDeals:
		return r.handleDeals(ctx, args)
	case ToolGetLeads:
		return r.handleLeads(ctx, args)
	case ToolGetContacts, ToolGetCompanies, ToolGetUsers, ToolGetTasks:
		return r.handleList(ctx, listToolByName(req.Name), copyArgs(args), nil)
	case ToolGetCompany:
		return r.handleCompany(ctx, args)
	case ToolGetLeadCalls:
		return r.handleLeadCalls(ctx, args)
	case ToolCallBitrixMethod:
		return r.handleRawCall(ctx, args)
	default:
		return nil, &domain.NotFoundError{Kind: domain.KindTool, Name: req.Name}
	}
}

func (r *ToolRegistry) metadata(tool, resource string) domain.Metadata {
	return domain.Metadata{
		Provider:     domain.ProviderBitrix24,
		Tool:         tool,
		Resource:     resource,
		InstanceName: r.instanceName,
	}
}

func listToolByName(name string) listTool {
	for _, tool := range listTools {
		if tool.name == name {
			return tool
		}
	}
	return listTool{name: name}
}

// handleList evaluates warnings on the caller's filter, calls the list
// method with payload and shapes the envelope.
func (r *ToolRegistry) handleList(ctx context.Context, tool listTool, payload map[string]interface{}, callerFilter map[string]interface{}) (*domain.ToolResponse, error) {
	if callerFilter == nil {
		callerFilter = filterOf(payload)
	}
	advisories, err := r.evaluateWarnings(tool.name, callerFilter)
	if err != nil {
		return nil, err
	}

	response, err := r.gateway.Call(ctx, tool.method, payload)
	if err != nil {
		return nil, err
	}

	return BuildEnvelope(Envelope{
		Metadata:   r.metadata(tool.name, tool.resource),
		Request:    payload,
		Response:   response,
		Advisories: advisories,
	}), nil
}

func (r *ToolRegistry) evaluateWarnings(tool string, filter map[string]interface{}) ([]domain.Advisory, error) {
	advisories, err := r.warnings.Evaluate(tool, filter)
	if err != nil {
		return nil, err
	}
	if len(advisories) > 0 {
		r.logger.LogInfo("advisory warnings issued", map[string]interface{}{
			"tool":  tool,
			"count": len(advisories),
		})
	}
	return advisories, nil
}

// handleDeals maps stageSemantics to an =STAGE_SEMANTIC_ID filter.
func (r *ToolRegistry) handleDeals(ctx context.Context, args map[string]interface{}) (*domain.ToolResponse, error) {
	payload := copyArgs(args)
	callerFilter := filterOf(args)
	if err := injectSemantics(payload, "STAGE_SEMANTIC_ID", "stageSemantics"); err != nil {
		return nil, err
	}
	return r.handleList(ctx, listToolByName(ToolGetDeals), payload, callerFilter)
}

// handleLeads caps the page size, orders by last modification by default,
// trims over-long answers and adds _meta, aggregates and hints.
func (r *ToolRegistry) handleLeads(ctx context.Context, args map[string]interface{}) (*domain.ToolResponse, error) {
	tool := listToolByName(ToolGetLeads)
	payload := copyArgs(args)
	callerFilter := filterOf(args)
	if err := injectSemantics(payload, "STATUS_SEMANTIC_ID", "statusSemantics", "groupSemantics"); err != nil {
		return nil, err
	}

	requested := r.requestedLeadLimit(payload)
	if requested != nil {
		limit := *requested
		if limit > leadLimitCap {
			limit = leadLimitCap
		}
		payload["limit"] = limit
		r.logger.LogInfo("getLeads limit applied", map[string]interface{}{"requested": *requested, "limit": limit})
	}

	if isEmpty(payload["order"]) {
		payload["order"] = map[string]interface{}{"DATE_MODIFY": "DESC"}
		r.logger.LogDebug("getLeads default order applied", nil)
	}

	advisories, err := r.evaluateWarnings(tool.name, callerFilter)
	if err != nil {
		return nil, err
	}

	response, err := r.gateway.Call(ctx, tool.method, payload)
	if err != nil {
		return nil, err
	}
	response = truncateLeads(response, requested, r.logger)

	var aggregates map[string]interface{}
	if items, ok := response["result"].([]interface{}); ok && r.resources != nil {
		enriched, err := r.resources.enrichLeads(ctx, recordsOf(items))
		if err != nil {
			return nil, err
		}
		result := make([]interface{}, len(enriched))
		for i, lead := range enriched {
			result[i] = lead
		}
		response["result"] = result
		aggregates = leadAggregates(enriched)
	}

	return BuildEnvelope(Envelope{
		Metadata:   r.metadata(tool.name, tool.resource),
		Request:    payload,
		Response:   response,
		Advisories: advisories,
		Aggregates: aggregates,
		Hints:      leadHints(r.dates),
	}), nil
}

// requestedLeadLimit reads limit from payload. A null or unparseable limit
// is logged and removed so nothing is forwarded upstream.
func (r *ToolRegistry) requestedLeadLimit(payload map[string]interface{}) *int {
	raw, ok := payload["limit"]
	if !ok {
		return nil
	}
	if raw == nil {
		r.logger.LogInfo("getLeads limit is null, ignoring", nil)
		delete(payload, "limit")
		return nil
	}
	n, ok := toInt(raw)
	if f, isFloat := raw.(float64); isFloat && !ok {
		// Fractional limits truncate toward zero
		n, ok = int(f), true
		r.logger.LogInfo("getLeads limit truncated", map[string]interface{}{"limit": raw, "truncated": n})
	}
	if !ok {
		r.logger.LogWarn("getLeads limit is not a number, ignoring", map[string]interface{}{"limit": raw})
		delete(payload, "limit")
		return nil
	}
	return &n
}

// truncateLeads trims the result to the requested size when Bitrix24
// returned more, lowering total to match.
func truncateLeads(response map[string]interface{}, requested *int, logger *StructuredLogger) map[string]interface{} {
	items, ok := response["result"].([]interface{})
	if !ok || requested == nil || *requested <= 0 || len(items) <= *requested {
		return response
	}

	logger.LogWarn("getLeads result truncated", map[string]interface{}{
		"returned":  len(items),
		"requested": *requested,
	})

	truncated := make(map[string]interface{}, len(response))
	for k, v := range response {
		truncated[k] = v
	}
	truncated["result"] = items[:*requested]

	total := len(items)
	if t := normalizeTotal(response["total"]); t != nil {
		total = *t
	}
	if total > *requested {
		total = *requested
	}
	truncated["total"] = total
	return truncated
}

// handleCompany fetches one company and optionally projects its fields.
func (r *ToolRegistry) handleCompany(ctx context.Context, args map[string]interface{}) (*domain.ToolResponse, error) {
	id, ok := args["id"]
	if !ok || id == nil || id == "" {
		return nil, domain.NewValidationError("missing required parameter: id")
	}
	selected, err := getStringListParam(args, "select")
	if err != nil {
		return nil, err
	}
	if len(selected) == 0 {
		if selected, err = getStringListParam(args, "fields"); err != nil {
			return nil, err
		}
	}

	payload := map[string]interface{}{"id": idValue(id)}
	response, err := r.gateway.Call(ctx, "crm.company.get", payload)
	if err != nil {
		return nil, err
	}

	if company, ok := response["result"].(map[string]interface{}); ok && len(selected) > 0 {
		projected := make(map[string]interface{}, len(selected))
		for _, field := range selected {
			if value, ok := company[field]; ok {
				projected[field] = value
			}
		}
		response["result"] = projected
		payload["select"] = selected
	}

	return BuildEnvelope(Envelope{
		Metadata: r.metadata(ToolGetCompany, ResourceCompanies),
		Request:  payload,
		Response: response,
	}), nil
}

// handleLeadCalls lists the call activities of an owner, then fetches each
// activity and its telephony record. Any failed call fails the tool.
func (r *ToolRegistry) handleLeadCalls(ctx context.Context, args map[string]interface{}) (*domain.ToolResponse, error) {
	ownerRaw, ok := args["ownerId"]
	if !ok || ownerRaw == nil || ownerRaw == "" {
		return nil, domain.NewValidationError("missing required parameter: ownerId")
	}
	ownerTypeID, found, err := getIntParam(args, "ownerTypeId", false)
	if err != nil {
		return nil, err
	}
	if !found {
		ownerTypeID = 1
	}
	limit, hasLimit, err := getIntParam(args, "limit", false)
	if err != nil {
		return nil, err
	}

	request := map[string]interface{}{
		"filter": map[string]interface{}{
			"OWNER_ID":      idValue(ownerRaw),
			"OWNER_TYPE_ID": ownerTypeID,
			"TYPE_ID":       callActivityType,
		},
		"order": map[string]interface{}{"ID": "DESC"},
	}
	listing, err := r.gateway.Call(ctx, "crm.activity.list", request)
	if err != nil {
		return nil, err
	}

	activities := recordsFromResult(listing["result"])
	if hasLimit && limit > 0 && len(activities) > limit {
		activities = activities[:limit]
	}

	calls := make([]interface{}, 0, len(activities))
	for _, activity := range activities {
		record, err := r.expandCall(ctx, activity)
		if err != nil {
			return nil, err
		}
		calls = append(calls, record)
	}

	if hasLimit {
		request["limit"] = limit
	}
	response := map[string]interface{}{
		"result": calls,
		"total":  len(calls),
	}
	return BuildEnvelope(Envelope{
		Metadata: r.metadata(ToolGetLeadCalls, ""),
		Request:  request,
		Response: response,
	}), nil
}

func (r *ToolRegistry) expandCall(ctx context.Context, activity map[string]interface{}) (map[string]interface{}, error) {
	record := map[string]interface{}{"activity": activity}

	detailResponse, err := r.gateway.Call(ctx, "crm.activity.get", map[string]interface{}{"id": idValue(activity["ID"])})
	if err != nil {
		return nil, err
	}
	detail, _ := detailResponse["result"].(map[string]interface{})
	record["detail"] = detail

	callID := callIDOf(detail)
	if callID == "" {
		record["call"] = nil
		return record, nil
	}

	statistic, err := r.gateway.Call(ctx, "voximplant.statistic.get", map[string]interface{}{
		"FILTER": map[string]interface{}{"CALL_ID": callID},
	})
	if err != nil {
		return nil, err
	}
	var call map[string]interface{}
	if rows := recordsFromResult(statistic["result"]); len(rows) > 0 {
		call = rows[0]
	}
	record["call"] = call
	if url := stringValue(call["CALL_RECORD_URL"]); url != "" {
		record["recordUrl"] = url
	}
	return record, nil
}

// callIDOf finds the telephony call id of an activity: ORIGIN_ID without
// its VI_ prefix, else SETTINGS.CALL_ID, else PROVIDER_PARAMS.CALL_ID.
func callIDOf(detail map[string]interface{}) string {
	if detail == nil {
		return ""
	}
	if origin := stringValue(detail["ORIGIN_ID"]); origin != "" {
		return strings.TrimPrefix(origin, "VI_")
	}
	for _, key := range []string{"SETTINGS", "PROVIDER_PARAMS"} {
		if nested, ok := detail[key].(map[string]interface{}); ok {
			if id := stringValue(nested["CALL_ID"]); id != "" {
				return id
			}
		}
	}
	return ""
}

// handleRawCall forwards any method to Bitrix24.
func (r *ToolRegistry) handleRawCall(ctx context.Context, args map[string]interface{}) (*domain.ToolResponse, error) {
	method, err := getStringParam(args, "method", true)
	if err != nil {
		return nil, err
	}
	params, err := getMapParam(args, "params")
	if err != nil {
		return nil, err
	}
	payload := copyArgs(params)

	response, err := r.gateway.Call(ctx, method, payload)
	if err != nil {
		return nil, err
	}

	return BuildEnvelope(Envelope{
		Metadata: r.metadata(ToolCallBitrixMethod, method),
		Request:  payload,
		Response: response,
	}), nil
}

// injectSemantics moves the first present semantics argument into
// filter["="+field]. The argument may be a string or a list whose first
// element is used; values are upper-cased.
func injectSemantics(payload map[string]interface{}, field string, keys ...string) error {
	var value string
	for _, key := range keys {
		raw, ok := payload[key]
		if !ok {
			continue
		}
		delete(payload, key)
		if value != "" {
			continue
		}
		values, err := getStringListParam(map[string]interface{}{key: raw}, key)
		if err != nil {
			return err
		}
		if len(values) > 0 {
			value = normalizeSemantics(values[0])
		}
	}
	if value == "" {
		return nil
	}

	filter := map[string]interface{}{}
	for k, v := range filterOf(payload) {
		filter[k] = v
	}
	filter["="+field] = value
	payload["filter"] = filter
	return nil
}

// normalizeSemantics upper-cases a semantics code and accepts the group
// names as aliases of their one-letter codes.
func normalizeSemantics(value string) string {
	code := strings.ToUpper(strings.TrimSpace(value))
	switch code {
	case "PROCESS":
		return "P"
	case "SUCCESS":
		return "S"
	case "FAILURE", "FAIL":
		return "F"
	}
	return code
}

func filterOf(args map[string]interface{}) map[string]interface{} {
	filter, _ := args["filter"].(map[string]interface{})
	return filter
}

func copyArgs(args map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(args))
	for k, v := range args {
		out[k] = v
	}
	return out
}

package application

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"bitrix24-mcp-server/internal/domain"
)

// metaKey is the reserved record key holding resolved related entities.
const metaKey = "_meta"

// userRef names a record field that references a user and the _meta slot
// its summary goes to.
type userRef struct {
	field string
	slot  string
}

var leadUserRefs = []userRef{
	{field: "ASSIGNED_BY_ID", slot: "responsible"},
	{field: "CREATED_BY_ID", slot: "creator"},
	{field: "MODIFY_BY_ID", slot: "modifier"},
}

// enrichLeads attaches responsible, creator, modifier, status, source and
// currency summaries to each lead.
func (r *ResourceRegistry) enrichLeads(ctx context.Context, leads []map[string]interface{}) ([]map[string]interface{}, error) {
	items := deepCopyRecords(leads)
	if len(items) == 0 {
		return items, nil
	}

	users, err := r.loadUsers(ctx, items, fieldsOf(leadUserRefs)...)
	if err != nil {
		return nil, err
	}
	statuses, err := r.dictionaryIndex(ctx, ResourceLeadStatuses, "STATUS_ID", "ID")
	if err != nil {
		return nil, err
	}
	sources, err := r.dictionaryIndex(ctx, ResourceLeadSources, "STATUS_ID", "SOURCE_ID", "ID")
	if err != nil {
		return nil, err
	}
	currencies, err := r.dictionaryIndex(ctx, ResourceCurrencies, "CURRENCY", "ID", "CODE")
	if err != nil {
		return nil, err
	}

	for _, item := range items {
		meta := ensureMeta(item)
		for _, ref := range leadUserRefs {
			attachUser(meta, ref.slot, stringValue(item[ref.field]), users)
		}
		attachEnum(meta, "status", stringValue(item["STATUS_ID"]), statuses)
		attachEnum(meta, "source", stringValue(item["SOURCE_ID"]), sources)
		attachEnum(meta, "currency", firstString(item, "CURRENCY_ID", "CURRENCY"), currencies)
	}
	return items, nil
}

// enrichDeals attaches responsible, category and stage summaries to each
// deal. Stages are looked up in the dictionary of the deal's pipeline.
func (r *ResourceRegistry) enrichDeals(ctx context.Context, deals []map[string]interface{}) ([]map[string]interface{}, error) {
	items := deepCopyRecords(deals)
	if len(items) == 0 {
		return items, nil
	}

	users, err := r.loadUsers(ctx, items, "ASSIGNED_BY_ID")
	if err != nil {
		return nil, err
	}
	categories, err := r.dictionaryIndex(ctx, ResourceDealCategories, "ID")
	if err != nil {
		return nil, err
	}

	categoryIDs := make(map[string]struct{})
	for _, item := range items {
		categoryIDs[dealCategoryID(item)] = struct{}{}
	}
	stagesByCategory := make(map[string]map[string]map[string]interface{}, len(categoryIDs))
	for _, categoryID := range sortedSet(categoryIDs) {
		var id interface{} = categoryID
		if n, err := strconv.Atoi(categoryID); err == nil {
			id = n
		}
		response, err := r.dealStages(ctx, map[string]interface{}{"id": id}, nil)
		if err != nil {
			return nil, err
		}
		stagesByCategory[categoryID] = indexByKeys(response.Data, "STATUS_ID", "ID")
	}

	for _, item := range items {
		meta := ensureMeta(item)
		attachUser(meta, "responsible", stringValue(item["ASSIGNED_BY_ID"]), users)

		categoryID := dealCategoryID(item)
		attachEnum(meta, "category", categoryID, categories)

		stageID := stringValue(item["STAGE_ID"])
		if stage, ok := lookupStage(stagesByCategory[categoryID], stageID); ok {
			meta["stage"] = EnumSummary(stageID, stage)
		}
	}
	return items, nil
}

// Task records come back in camelCase from tasks.task.list and in
// UPPER_CASE from older methods.
var (
	taskResponsibleKeys = []string{"responsibleId", "RESPONSIBLE_ID"}
	taskCreatorKeys     = []string{"createdBy", "CREATED_BY", "CREATED_BY_ID"}
	taskStatusKeys      = []string{"status", "STATUS"}
	taskPriorityKeys    = []string{"priority", "PRIORITY"}
)

// enrichTasks attaches responsible, creator, status and priority summaries
// to each task.
func (r *ResourceRegistry) enrichTasks(ctx context.Context, tasks []map[string]interface{}) ([]map[string]interface{}, error) {
	items := deepCopyRecords(tasks)
	if len(items) == 0 {
		return items, nil
	}

	userFields := append(append([]string{}, taskResponsibleKeys...), taskCreatorKeys...)
	users, err := r.loadUsers(ctx, items, userFields...)
	if err != nil {
		return nil, err
	}
	statuses, err := r.dictionaryIndex(ctx, ResourceTaskStatuses, "ID", "VALUE")
	if err != nil {
		return nil, err
	}
	priorities, err := r.dictionaryIndex(ctx, ResourceTaskPriorities, "ID", "VALUE")
	if err != nil {
		return nil, err
	}

	for _, item := range items {
		meta := ensureMeta(item)
		attachUser(meta, "responsible", firstString(item, taskResponsibleKeys...), users)
		attachUser(meta, "creator", firstString(item, taskCreatorKeys...), users)
		attachEnum(meta, "status", firstString(item, taskStatusKeys...), statuses)
		attachEnum(meta, "priority", firstString(item, taskPriorityKeys...), priorities)
	}
	return items, nil
}

// loadUsers resolves every user referenced by fields across records.
func (r *ResourceRegistry) loadUsers(ctx context.Context, records []map[string]interface{}, fields ...string) (map[string]map[string]interface{}, error) {
	var ids []string
	for _, record := range records {
		for _, field := range fields {
			if id := stringValue(record[field]); id != "" {
				ids = append(ids, id)
			}
		}
	}
	if len(ids) == 0 || r.users == nil {
		return map[string]map[string]interface{}{}, nil
	}
	return r.users.Load(ctx, ids)
}

// dictionaryIndex queries a dictionary resource with default parameters and
// indexes its rows by keys.
func (r *ResourceRegistry) dictionaryIndex(ctx context.Context, resource string, keys ...string) (map[string]map[string]interface{}, error) {
	var (
		rows []map[string]interface{}
		err  error
	)
	empty := map[string]interface{}{}
	switch resource {
	case ResourceLeadStatuses:
		rows, err = r.dictionaryRows(r.statusDictionary(ctx, resource, "STATUS", empty, nil))
	case ResourceLeadSources:
		rows, err = r.dictionaryRows(r.statusDictionary(ctx, resource, "SOURCE", empty, nil))
	case ResourceCurrencies:
		rows, err = r.dictionaryRows(r.cachedList(ctx, resource, "crm.currency.list", empty, nil, false))
	case ResourceDealCategories:
		rows, err = r.dictionaryRows(r.cachedList(ctx, resource, "crm.dealcategory.list", empty, nil, false))
	case ResourceTaskStatuses:
		rows, err = r.dictionaryRows(r.taskField(ctx, resource, "STATUS", empty, nil))
	case ResourceTaskPriorities:
		rows, err = r.dictionaryRows(r.taskField(ctx, resource, "PRIORITY", empty, nil))
	}
	if err != nil {
		return nil, err
	}
	return indexByKeys(rows, keys...), nil
}

func (r *ResourceRegistry) dictionaryRows(response *domain.QueryResponse, err error) ([]map[string]interface{}, error) {
	if err != nil {
		return nil, err
	}
	return response.Data, nil
}

func ensureMeta(item map[string]interface{}) map[string]interface{} {
	if meta, ok := item[metaKey].(map[string]interface{}); ok {
		return meta
	}
	meta := map[string]interface{}{}
	item[metaKey] = meta
	return meta
}

func attachUser(meta map[string]interface{}, slot, id string, users map[string]map[string]interface{}) {
	if id == "" {
		return
	}
	if user, ok := users[id]; ok {
		meta[slot] = UserSummary(id, user)
	}
}

func attachEnum(meta map[string]interface{}, slot, id string, index map[string]map[string]interface{}) {
	if id == "" {
		return
	}
	if entry, ok := index[id]; ok {
		meta[slot] = EnumSummary(id, entry)
	}
}

// dealCategoryID is the pipeline of a deal; deals without one belong to
// the default pipeline "0".
func dealCategoryID(deal map[string]interface{}) string {
	if id := stringValue(deal["CATEGORY_ID"]); id != "" {
		return id
	}
	return "0"
}

// lookupStage finds a stage by its identifier. Composite identifiers such
// as "C3:WON" fall back to the code after the first colon.
func lookupStage(stages map[string]map[string]interface{}, stageID string) (map[string]interface{}, bool) {
	if stageID == "" {
		return nil, false
	}
	if stage, ok := stages[stageID]; ok {
		return stage, true
	}
	if _, code, found := strings.Cut(stageID, ":"); found {
		stage, ok := stages[code]
		return stage, ok
	}
	return nil, false
}

func fieldsOf(refs []userRef) []string {
	fields := make([]string, len(refs))
	for i, ref := range refs {
		fields[i] = ref.field
	}
	return fields
}

func sortedSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/Paradize0404/bot-work/internal/cache"
	"github.com/Paradize0404/bot-work/internal/db"
)

// StoreType classifies which store a role writes off from.
const (
	StoreBar     = "bar"
	StoreKitchen = "kitchen"
	StoreUnknown = "unknown"
)

var barRoleKeywords = []string{
	"бармен", "старший бармен", "кассир", "кассир-бариста",
	"кассир-администратор", "ранер",
}

var kitchenRoleKeywords = []string{
	"повар", "шеф-повар", "кондитер", "старший кондитер",
	"пекарь", "заготовщик", "посудомойка",
}

// ClassifyRole maps a position name to a store type. Anything not clearly
// bar or kitchen (accountants, owners, technicians) picks manually.
func ClassifyRole(roleName string) string {
	low := strings.ToLower(strings.TrimSpace(roleName))
	if low == "" {
		return StoreUnknown
	}
	for _, kw := range barRoleKeywords {
		if strings.Contains(low, kw) {
			return StoreBar
		}
	}
	for _, kw := range kitchenRoleKeywords {
		if strings.Contains(low, kw) {
			return StoreKitchen
		}
	}
	return StoreUnknown
}

// storeKeyword is the substring that picks the auto store for a role type.
func storeKeyword(roleType string) string {
	switch roleType {
	case StoreBar:
		return "бар"
	case StoreKitchen:
		return "кухня"
	default:
		return ""
	}
}

// DetectStoreType classifies a store by its name.
func DetectStoreType(storeName string) string {
	low := strings.ToLower(storeName)
	if strings.Contains(low, "бар") {
		return StoreBar
	}
	if strings.Contains(low, "кухн") {
		return StoreKitchen
	}
	return StoreUnknown
}

// Ref is a referenced entity: id plus display name.
type Ref struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// CatalogProduct is one searchable item with its resolved unit.
type CatalogProduct struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ProductType string `json:"product_type"`
	MainUnit    string `json:"main_unit"`
	UnitName    string `json:"unit_name"`
}

// Catalog reads reference data for the workflows through the shared cache.
type Catalog struct {
	q     db.Querier
	cache *cache.Cache
}

func NewCatalog(q db.Querier, c *cache.Cache) *Catalog {
	return &Catalog{q: q, cache: c}
}

// StoresForDepartment lists the department's bar and kitchen stores.
func (c *Catalog) StoresForDepartment(ctx context.Context, departmentID string) ([]Ref, error) {
	key := "wf:stores:" + departmentID
	return cache.GetOrFill(ctx, c.cache, key, cache.ListTTL, func(ctx context.Context) ([]Ref, error) {
		return c.queryRefs(ctx, `
			SELECT id::text, COALESCE(name, '')
			FROM pos_store
			WHERE parent_id = $1 AND deleted = FALSE
			  AND (lower(name) LIKE '%бар%' OR lower(name) LIKE '%кухня%')
			ORDER BY name`, departmentID)
	})
}

// WriteoffAccounts filters the account references by the write-off substring
// and, when the store name names a segment, by that segment too.
func (c *Catalog) WriteoffAccounts(ctx context.Context, storeName string) ([]Ref, error) {
	segment := ""
	switch DetectStoreType(storeName) {
	case StoreBar:
		segment = "бар"
	case StoreKitchen:
		segment = "кухня"
	}
	key := "wf:accounts:" + segment
	return cache.GetOrFill(ctx, c.cache, key, cache.ListTTL, func(ctx context.Context) ([]Ref, error) {
		sql := `
			SELECT id::text, COALESCE(name, '')
			FROM pos_entity
			WHERE root_type = 'Account' AND deleted = FALSE
			  AND lower(name) LIKE '%списание%'`
		args := []any{}
		if segment != "" {
			sql += ` AND lower(name) LIKE '%' || $1 || '%'`
			args = append(args, segment)
		}
		sql += ` ORDER BY name`
		return c.queryRefs(ctx, sql, args...)
	})
}

// WarmWriteoffRefs fills the store and account caches ahead of the
// authoring flow, so the pickers answer without waiting on the mirror.
// Failures are ignored; the flow reloads on demand.
func (c *Catalog) WarmWriteoffRefs(ctx context.Context, departmentID string) {
	stores, err := c.StoresForDepartment(ctx, departmentID)
	if err != nil {
		return
	}
	for _, s := range stores {
		if _, err := c.WriteoffAccounts(ctx, s.Name); err != nil {
			return
		}
	}
}

// AutoStore applies the store selection policy: admins and unrecognised
// roles pick manually (nil), bar and kitchen roles get their store when the
// department has one.
func (c *Catalog) AutoStore(ctx context.Context, departmentID, roleName string, isAdmin bool) (*Ref, string, error) {
	stores, err := c.StoresForDepartment(ctx, departmentID)
	if err != nil {
		return nil, "", err
	}
	if isAdmin {
		return nil, "admin", nil
	}
	roleType := ClassifyRole(roleName)
	kw := storeKeyword(roleType)
	if kw == "" {
		return nil, roleType, nil
	}
	for _, s := range stores {
		if strings.Contains(strings.ToLower(s.Name), kw) {
			matched := s
			return &matched, roleType, nil
		}
	}
	return nil, roleType, nil
}

// Group scopes for product search.
const (
	ScopeExport  = "sheet_export_group"
	ScopeRequest = "request_store_group"
)

// SearchProducts finds GOODS, DISH and PREPARED items by name substring.
// GOODS and DISH are tree-scoped to the configured group roots of the given
// scope; PREPARED always matches. An empty configuration shows everything.
func (c *Catalog) SearchProducts(ctx context.Context, query, scope string, limit int) ([]CatalogProduct, error) {
	pattern := strings.ToLower(strings.TrimSpace(query))
	if pattern == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 15
	}
	all, err := c.loadProducts(ctx, scope)
	if err != nil {
		return nil, err
	}
	var out []CatalogProduct
	for _, p := range all {
		if strings.Contains(strings.ToLower(p.Name), pattern) {
			out = append(out, p)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// loadProducts warms the per-scope catalogue: one products query, one group
// BFS, one batched unit resolve.
func (c *Catalog) loadProducts(ctx context.Context, scope string) ([]CatalogProduct, error) {
	key := "wf:products:" + scope
	if scope == "" {
		key = "wf:products:all"
	}
	return cache.GetOrFill(ctx, c.cache, key, cache.ListTTL, func(ctx context.Context) ([]CatalogProduct, error) {
		allowed, err := c.allowedGroups(ctx, scope)
		if err != nil {
			return nil, err
		}

		rows, err := c.q.Query(ctx, `
			SELECT id::text, COALESCE(name, ''), COALESCE(parent_id::text, ''),
			       COALESCE(main_unit::text, ''), COALESCE(product_type, '')
			FROM pos_product
			WHERE product_type IN ('GOODS', 'DISH', 'PREPARED') AND deleted = FALSE
			ORDER BY name`)
		if err != nil {
			return nil, fmt.Errorf("load products: %w", err)
		}
		defer rows.Close()

		var items []CatalogProduct
		unitIDs := make(map[string]bool)
		for rows.Next() {
			var p CatalogProduct
			var parentID string
			if err := rows.Scan(&p.ID, &p.Name, &parentID, &p.MainUnit, &p.ProductType); err != nil {
				return nil, err
			}
			if allowed != nil && p.ProductType != "PREPARED" && !allowed[parentID] {
				continue
			}
			if p.MainUnit != "" {
				unitIDs[p.MainUnit] = true
			}
			items = append(items, p)
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}

		units, err := c.unitNames(ctx, unitIDs)
		if err != nil {
			return nil, err
		}
		for i := range items {
			if n, ok := units[items[i].MainUnit]; ok {
				items[i].UnitName = n
			} else {
				items[i].UnitName = "шт"
			}
		}
		log.Debug().Str("scope", scope).Int("products", len(items)).
			Msg("product catalogue warmed")
		return items, nil
	})
}

// allowedGroups walks the product-group tree down from the configured roots
// of the scope table. nil means no scoping is configured: show everything.
func (c *Catalog) allowedGroups(ctx context.Context, scope string) (map[string]bool, error) {
	if scope != ScopeExport && scope != ScopeRequest {
		return nil, nil
	}

	rootRows, err := c.q.Query(ctx, `SELECT group_id::text FROM `+scope)
	if err != nil {
		return nil, fmt.Errorf("load group roots: %w", err)
	}
	var roots []string
	for rootRows.Next() {
		var id string
		if err := rootRows.Scan(&id); err != nil {
			rootRows.Close()
			return nil, err
		}
		roots = append(roots, id)
	}
	rootRows.Close()
	if len(roots) == 0 {
		return nil, nil
	}

	rows, err := c.q.Query(ctx, `
		SELECT id::text, COALESCE(parent_id::text, '')
		FROM pos_product_group WHERE deleted = FALSE`)
	if err != nil {
		return nil, fmt.Errorf("load product groups: %w", err)
	}
	children := make(map[string][]string)
	for rows.Next() {
		var id, parent string
		if err := rows.Scan(&id, &parent); err != nil {
			rows.Close()
			return nil, err
		}
		if parent != "" {
			children[parent] = append(children[parent], id)
		}
	}
	rows.Close()

	allowed := make(map[string]bool)
	queue := append([]string(nil), roots...)
	for len(queue) > 0 {
		gid := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		if allowed[gid] {
			continue
		}
		allowed[gid] = true
		queue = append(queue, children[gid]...)
	}
	return allowed, nil
}

// UnitName resolves one measure unit, "шт" when unknown.
func (c *Catalog) UnitName(ctx context.Context, unitID string) string {
	if unitID == "" {
		return "шт"
	}
	name, err := cache.GetOrFill(ctx, c.cache, "wf:unit:"+unitID, cache.UnitTTL, func(ctx context.Context) (string, error) {
		var n *string
		err := c.q.QueryRow(ctx, `
			SELECT name FROM pos_entity
			WHERE id = $1 AND root_type = 'MeasureUnit'`, unitID).Scan(&n)
		if err != nil || n == nil {
			return "шт", nil
		}
		return *n, nil
	})
	if err != nil || name == "" {
		return "шт"
	}
	return name
}

func (c *Catalog) unitNames(ctx context.Context, ids map[string]bool) (map[string]string, error) {
	if len(ids) == 0 {
		return map[string]string{}, nil
	}
	list := make([]string, 0, len(ids))
	for id := range ids {
		list = append(list, id)
	}
	rows, err := c.q.Query(ctx, `
		SELECT id::text, COALESCE(name, 'шт')
		FROM pos_entity
		WHERE root_type = 'MeasureUnit' AND id = ANY($1::uuid[])`, list)
	if err != nil {
		return nil, fmt.Errorf("resolve units: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string, len(ids))
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		out[id] = name
	}
	return out, rows.Err()
}

// SearchSuppliers matches supplier names by substring.
func (c *Catalog) SearchSuppliers(ctx context.Context, query string, limit int) ([]Ref, error) {
	if limit <= 0 {
		limit = 15
	}
	all, err := cache.GetOrFill(ctx, c.cache, "wf:suppliers", cache.ListTTL, func(ctx context.Context) ([]Ref, error) {
		return c.queryRefs(ctx, `
			SELECT id::text, COALESCE(name, '')
			FROM pos_supplier
			WHERE deleted = FALSE AND name IS NOT NULL
			ORDER BY name`)
	})
	if err != nil {
		return nil, err
	}
	pattern := strings.ToLower(strings.TrimSpace(query))
	if pattern == "" {
		return all, nil
	}
	var out []Ref
	for _, s := range all {
		if strings.Contains(strings.ToLower(s.Name), pattern) {
			out = append(out, s)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// RevenueAccount finds the revenue account used by outgoing invoices.
func (c *Catalog) RevenueAccount(ctx context.Context) (*Ref, error) {
	refs, err := cache.GetOrFill(ctx, c.cache, "wf:revenue_account", cache.ListTTL, func(ctx context.Context) ([]Ref, error) {
		return c.queryRefs(ctx, `
			SELECT id::text, COALESCE(name, '')
			FROM pos_entity
			WHERE root_type = 'Account' AND deleted = FALSE
			  AND lower(name) LIKE '%выручка%'
			ORDER BY name
			LIMIT 1`)
	})
	if err != nil || len(refs) == 0 {
		return nil, err
	}
	return &refs[0], nil
}

// InvalidateCaches drops the workflow caches after a sync or a sent
// document so the next read sees fresh reference data.
func (c *Catalog) InvalidateCaches(ctx context.Context, departmentID string) {
	keys := []string{
		"wf:stores:" + departmentID,
		"wf:accounts:", "wf:accounts:бар", "wf:accounts:кухня",
		"wf:products:all", "wf:products:" + ScopeExport, "wf:products:" + ScopeRequest,
		"wf:suppliers",
	}
	c.cache.Invalidate(ctx, keys...)
}

func (c *Catalog) queryRefs(ctx context.Context, sql string, args ...any) ([]Ref, error) {
	rows, err := c.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("reference query: %w", err)
	}
	defer rows.Close()
	var out []Ref
	for rows.Next() {
		var r Ref
		if err := rows.Scan(&r.ID, &r.Name); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

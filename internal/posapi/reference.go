package posapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/rs/zerolog/log"
)

// Record is one raw upstream row. JSON endpoints produce the decoded object
// as-is; XML endpoints produce string-valued fields. Mapping to typed mirror
// rows happens in the sync layer.
type Record = map[string]any

// RootTypes enumerates the generic reference kinds mirrored into the shared
// entity table.
var RootTypes = []string{
	"Account",
	"AccountingCategory",
	"AlcoholClass",
	"AllergenGroup",
	"AttendanceType",
	"Conception",
	"DiscountType",
	"MeasureUnit",
	"OrderType",
	"PaymentType",
	"ProductCategory",
	"ProductScale",
	"ProductSize",
	"ScheduleType",
	"TaxCategory",
	"WriteoffReason",
}

// FetchEntities returns the raw rows for one rootType slice of the generic
// entity list (JSON).
func (c *Client) FetchEntities(ctx context.Context, rootType string) ([]Record, error) {
	q := url.Values{
		"rootType":       {rootType},
		"includeDeleted": {"true"},
	}
	body, err := c.get(ctx, "/resto/api/v2/entities/list", q)
	if err != nil {
		return nil, err
	}
	return decodeJSONList(body, "entities rootType="+rootType)
}

// FetchProducts returns the product catalogue (JSON).
func (c *Client) FetchProducts(ctx context.Context) ([]Record, error) {
	q := url.Values{"includeDeleted": {"false"}}
	body, err := c.get(ctx, "/resto/api/v2/entities/products/list", q)
	if err != nil {
		return nil, err
	}
	return decodeJSONList(body, "products")
}

// FetchProductGroups returns the product group hierarchy (JSON).
func (c *Client) FetchProductGroups(ctx context.Context) ([]Record, error) {
	q := url.Values{"includeDeleted": {"false"}}
	body, err := c.get(ctx, "/resto/api/v2/entities/products/group/list", q)
	if err != nil {
		return nil, err
	}
	return decodeJSONList(body, "product groups")
}

// FetchSuppliers returns suppliers. The endpoint answers XML where each
// supplier is an employee DTO whose nested <employee>/<supplier>/<client>
// elements are boolean flags, hence the direct-child parse.
func (c *Client) FetchSuppliers(ctx context.Context) ([]Record, error) {
	body, err := c.get(ctx, "/resto/api/suppliers", nil)
	if err != nil {
		return nil, err
	}
	return xmlEmployeeRecords(body, "suppliers")
}

// FetchEmployees returns the staff list (XML, same DTO shape as suppliers).
func (c *Client) FetchEmployees(ctx context.Context) ([]Record, error) {
	q := url.Values{"includeDeleted": {"true"}}
	body, err := c.get(ctx, "/resto/api/employees", q)
	if err != nil {
		return nil, err
	}
	return xmlEmployeeRecords(body, "employees")
}

// FetchEmployeeRoles returns staff roles (XML <role> elements).
func (c *Client) FetchEmployeeRoles(ctx context.Context) ([]Record, error) {
	body, err := c.get(ctx, "/resto/api/employees/roles", nil)
	if err != nil {
		return nil, err
	}
	root, err := parseXMLTree(body)
	if err != nil {
		return nil, fmt.Errorf("roles: %w", err)
	}
	var out []Record
	for _, el := range root.descendants("role") {
		out = append(out, stringFields(el.leafFields()))
	}
	log.Debug().Int("count", len(out)).Msg("pos roles parsed")
	return out, nil
}

// FetchDepartments returns corporation departments (XML corporate items).
func (c *Client) FetchDepartments(ctx context.Context) ([]Record, error) {
	return c.fetchCorporateItems(ctx, "/resto/api/corporation/departments", "departments")
}

// FetchStores returns corporation stores (XML corporate items).
func (c *Client) FetchStores(ctx context.Context) ([]Record, error) {
	return c.fetchCorporateItems(ctx, "/resto/api/corporation/stores", "stores")
}

// FetchGroups returns corporation section groups (XML corporate items).
func (c *Client) FetchGroups(ctx context.Context) ([]Record, error) {
	return c.fetchCorporateItems(ctx, "/resto/api/corporation/groups", "groups")
}

// fetchCorporateItems handles the corporation endpoints, which nest
// corporateItemDto and groupDto elements at varying depths.
func (c *Client) fetchCorporateItems(ctx context.Context, path, label string) ([]Record, error) {
	body, err := c.get(ctx, path, nil)
	if err != nil {
		return nil, err
	}
	root, err := parseXMLTree(body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", label, err)
	}
	var out []Record
	for _, el := range root.descendants("corporateItemDto") {
		out = append(out, stringFields(el.leafFields()))
	}
	for _, el := range root.descendants("groupDto") {
		out = append(out, stringFields(el.leafFields()))
	}
	log.Debug().Int("count", len(out)).Str("kind", label).Msg("pos corporate items parsed")
	return out, nil
}

func xmlEmployeeRecords(body []byte, label string) ([]Record, error) {
	recs, err := parseXMLRecords(body, "employee")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", label, err)
	}
	out := make([]Record, 0, len(recs))
	for _, r := range recs {
		out = append(out, stringFields(r))
	}
	log.Debug().Int("count", len(out)).Str("kind", label).Msg("pos xml records parsed")
	return out, nil
}

func stringFields(m map[string]string) Record {
	out := make(Record, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func decodeJSONList(body []byte, label string) ([]Record, error) {
	var out []Record
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%s: decode: %w", label, err)
	}
	log.Debug().Int("count", len(out)).Str("kind", label).Msg("pos json records decoded")
	return out, nil
}

package stoplist

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"

	"github.com/Paradize0404/bot-work/internal/cache"
	"github.com/Paradize0404/bot-work/internal/db"
)

const bindingsKey = "stoplist:org_bindings"

// Binding maps one cloud organization to a POS department.
type Binding struct {
	OrganizationID   string `json:"organization_id"`
	OrganizationName string `json:"organization_name"`
	DepartmentID     string `json:"department_id"`
}

// Bindings resolves which cloud organization serves which department, so
// every user sees the stop list of their own restaurant.
type Bindings struct {
	q     db.Querier
	cache *cache.Cache
}

func NewBindings(q db.Querier, c *cache.Cache) *Bindings {
	return &Bindings{q: q, cache: c}
}

func (b *Bindings) load(ctx context.Context) ([]Binding, error) {
	return cache.GetOrFill(ctx, b.cache, bindingsKey, cache.ListTTL,
		func(ctx context.Context) ([]Binding, error) {
			rows, err := b.q.Query(ctx, `
				SELECT organization_id, COALESCE(organization_name, ''),
				       COALESCE(department_id::text, '')
				FROM cloud_org_binding`)
			if err != nil {
				return nil, fmt.Errorf("load org bindings: %w", err)
			}
			defer rows.Close()
			var out []Binding
			for rows.Next() {
				var bd Binding
				if err := rows.Scan(&bd.OrganizationID, &bd.OrganizationName, &bd.DepartmentID); err != nil {
					return nil, err
				}
				out = append(out, bd)
			}
			return out, rows.Err()
		})
}

// OrgForDepartment returns the bound organization id, "" when unbound.
func (b *Bindings) OrgForDepartment(ctx context.Context, departmentID string) (string, error) {
	if departmentID == "" {
		return "", nil
	}
	all, err := b.load(ctx)
	if err != nil {
		return "", err
	}
	for _, bd := range all {
		if bd.DepartmentID == departmentID {
			return bd.OrganizationID, nil
		}
	}
	return "", nil
}

// AllOrgs lists every bound organization id, sorted for stable fan-out.
func (b *Bindings) AllOrgs(ctx context.Context) ([]string, error) {
	all, err := b.load(ctx)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var out []string
	for _, bd := range all {
		if !seen[bd.OrganizationID] {
			seen[bd.OrganizationID] = true
			out = append(out, bd.OrganizationID)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Bind upserts one organization binding and drops the cache.
func (b *Bindings) Bind(ctx context.Context, orgID, orgName, departmentID string) error {
	_, err := b.q.Exec(ctx, `
		INSERT INTO cloud_org_binding (organization_id, organization_name, department_id, bound_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (organization_id) DO UPDATE
		SET organization_name = EXCLUDED.organization_name,
		    department_id = EXCLUDED.department_id,
		    bound_at = EXCLUDED.bound_at`,
		orgID, orgName, nullableUUID(departmentID))
	if err != nil {
		return fmt.Errorf("bind organization: %w", err)
	}
	b.cache.Invalidate(ctx, bindingsKey)
	return nil
}

// Unbind removes a binding; returns false when it did not exist.
func (b *Bindings) Unbind(ctx context.Context, orgID string) (bool, error) {
	tag, err := b.q.Exec(ctx,
		`DELETE FROM cloud_org_binding WHERE organization_id = $1`, orgID)
	if err != nil {
		return false, fmt.Errorf("unbind organization: %w", err)
	}
	b.cache.Invalidate(ctx, bindingsKey)
	return tag.RowsAffected() > 0, nil
}

// DepartmentName resolves a department's display name for the binding list.
func (b *Bindings) DepartmentName(ctx context.Context, departmentID string) (string, error) {
	var name string
	err := b.q.QueryRow(ctx,
		`SELECT COALESCE(name, '') FROM pos_department WHERE id = $1`, departmentID).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return name, err
}

func nullableUUID(s string) any {
	if s == "" {
		return nil
	}
	return s
}

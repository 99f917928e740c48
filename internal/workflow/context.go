// Package workflow holds the operational use-cases behind the chat surface:
// authorisation, write-off authoring and approval, invoices and templates,
// product requests and the OCR staging pipeline. Handlers stay thin; the
// business rules live here against the mirror tables.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/Paradize0404/bot-work/internal/cache"
	"github.com/Paradize0404/bot-work/internal/db"
)

// UserContext is the resolved identity of an authorised chat user.
type UserContext struct {
	EmployeeID     string
	EmployeeName   string
	FirstName      string
	DepartmentID   string
	DepartmentName string
	RoleName       string
}

// Users caches user contexts on the shared backend, so a rebind or
// restaurant change on one replica is visible on all of them. Entries live
// until explicitly invalidated; nothing here is authoritative, the employee
// mirror is.
type Users struct {
	q db.Querier
	b cache.Backend
}

func NewUsers(q db.Querier, b cache.Backend) *Users {
	return &Users{q: q, b: b}
}

func userKey(userID int64) string {
	return "user_ctx:" + strconv.FormatInt(userID, 10)
}

// Context resolves a user, hitting the database only on a cache miss.
// Returns nil when the chat id is not bound to an employee.
func (u *Users) Context(ctx context.Context, userID int64) (*UserContext, error) {
	key := userKey(userID)
	raw, ok, err := u.b.Get(ctx, key)
	if err != nil {
		log.Warn().Err(err).Int64("user", userID).Msg("user context read failed, loading direct")
	} else if ok {
		var c UserContext
		if uerr := json.Unmarshal(raw, &c); uerr == nil {
			return &c, nil
		}
		// Stored shape changed (deploy); drop and reload.
		_ = u.b.Del(ctx, key)
	}

	// One joined query pulls employee, department and role together.
	var (
		c        UserContext
		deptID   *string
		deptName *string
		roleName *string
		first    *string
		name     *string
	)
	err = u.q.QueryRow(ctx, `
		SELECT e.id::text, COALESCE(e.name, ''), e.first_name,
		       e.department_id::text, d.name, r.name
		FROM pos_employee e
		LEFT JOIN pos_department d ON d.id = e.department_id
		LEFT JOIN pos_employee_role r ON r.id = e.role_id
		WHERE e.telegram_id = $1`,
		userID).Scan(&c.EmployeeID, &name, &first, &deptID, &deptName, &roleName)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if name != nil {
		c.EmployeeName = *name
	}
	if first != nil && *first != "" {
		c.FirstName = *first
	} else if c.EmployeeName != "" {
		c.FirstName = c.EmployeeName
	} else {
		c.FirstName = "сотрудник"
	}
	if deptID != nil {
		c.DepartmentID = *deptID
	}
	if deptName != nil {
		c.DepartmentName = *deptName
	}
	if roleName != nil {
		c.RoleName = *roleName
	}

	u.Put(ctx, userID, c)
	log.Debug().Int64("user", userID).Str("employee", c.EmployeeName).
		Str("department", c.DepartmentName).Msg("user context loaded")
	return &c, nil
}

// Put replaces the cached context after binding or restaurant change.
func (u *Users) Put(ctx context.Context, userID int64, c UserContext) {
	raw, err := json.Marshal(c)
	if err != nil {
		return
	}
	if err := u.b.Set(ctx, userKey(userID), raw, 0); err != nil {
		log.Warn().Err(err).Int64("user", userID).Msg("user context write failed")
	}
}

// SetDepartment updates only the restaurant fields of a cached context. A
// missing entry is left alone; the next Context call reloads the persisted
// choice from the mirror.
func (u *Users) SetDepartment(ctx context.Context, userID int64, id, name string) {
	raw, ok, err := u.b.Get(ctx, userKey(userID))
	if err != nil || !ok {
		return
	}
	var c UserContext
	if json.Unmarshal(raw, &c) != nil {
		return
	}
	c.DepartmentID, c.DepartmentName = id, name
	u.Put(ctx, userID, c)
}

// Invalidate drops a user, e.g. when their chat id is rebound elsewhere.
func (u *Users) Invalidate(ctx context.Context, userID int64) {
	if err := u.b.Del(ctx, userKey(userID)); err != nil {
		log.Warn().Err(err).Int64("user", userID).Msg("user context invalidate failed")
	}
}

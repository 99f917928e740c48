package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/Paradize0404/bot-work/internal/db"
)

// AuthStatus is where a user stands in the authorisation flow.
type AuthStatus int

const (
	NotAuthorized AuthStatus = iota
	NeedsDepartment
	Authorized
)

// EmployeeMatch is one last-name search hit.
type EmployeeMatch struct {
	ID        string
	Name      string
	FirstName string
	LastName  string
}

// Restaurant is a selectable department.
type Restaurant struct {
	ID   string
	Name string
}

// Auth binds chat users to mirrored employees and records their restaurant.
type Auth struct {
	q     db.Querier
	users *Users
}

func NewAuth(q db.Querier, users *Users) *Auth {
	return &Auth{q: q, users: users}
}

// Status checks the user at /start.
func (a *Auth) Status(ctx context.Context, userID int64) (AuthStatus, *UserContext, error) {
	c, err := a.users.Context(ctx, userID)
	if err != nil {
		return NotAuthorized, nil, err
	}
	switch {
	case c == nil:
		return NotAuthorized, nil, nil
	case c.DepartmentID == "":
		return NeedsDepartment, c, nil
	default:
		return Authorized, c, nil
	}
}

// FindByLastName matches employees case-insensitively and exactly on last
// name, excluding soft-deleted rows.
func (a *Auth) FindByLastName(ctx context.Context, lastName string) ([]EmployeeMatch, error) {
	rows, err := a.q.Query(ctx, `
		SELECT id::text, COALESCE(name, ''), COALESCE(first_name, ''), COALESCE(last_name, '')
		FROM pos_employee
		WHERE lower(last_name) = lower($1) AND deleted = FALSE
		ORDER BY name`,
		strings.TrimSpace(lastName))
	if err != nil {
		return nil, fmt.Errorf("find employees: %w", err)
	}
	defer rows.Close()
	var out []EmployeeMatch
	for rows.Next() {
		var m EmployeeMatch
		if err := rows.Scan(&m.ID, &m.Name, &m.FirstName, &m.LastName); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Bind writes the chat id onto the employee row. A previous binding of the
// same chat id is released first so one person is never two employees.
func (a *Auth) Bind(ctx context.Context, userID int64, employeeID string) (string, error) {
	if _, err := a.q.Exec(ctx,
		`UPDATE pos_employee SET telegram_id = NULL WHERE telegram_id = $1`, userID); err != nil {
		return "", fmt.Errorf("unbind previous employee: %w", err)
	}
	a.users.Invalidate(ctx, userID)

	tag, err := a.q.Exec(ctx,
		`UPDATE pos_employee SET telegram_id = $1 WHERE id = $2`, userID, employeeID)
	if err != nil {
		return "", fmt.Errorf("bind employee: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return "", fmt.Errorf("employee %s not found", employeeID)
	}

	c, err := a.users.Context(ctx, userID)
	if err != nil || c == nil {
		return "сотрудник", err
	}
	log.Info().Int64("user", userID).Str("employee", c.EmployeeName).Msg("chat user bound")
	return c.FirstName, nil
}

// Restaurants lists departments of type DEPARTMENT for the selection step.
func (a *Auth) Restaurants(ctx context.Context) ([]Restaurant, error) {
	rows, err := a.q.Query(ctx, `
		SELECT id::text, COALESCE(name, '')
		FROM pos_department
		WHERE upper(department_type) = 'DEPARTMENT' AND deleted = FALSE
		ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list restaurants: %w", err)
	}
	defer rows.Close()
	var out []Restaurant
	for rows.Next() {
		var r Restaurant
		if err := rows.Scan(&r.ID, &r.Name); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SaveDepartment records the chosen restaurant and refreshes the context
// cache. Returns the restaurant name.
func (a *Auth) SaveDepartment(ctx context.Context, userID int64, departmentID string) (string, error) {
	tag, err := a.q.Exec(ctx,
		`UPDATE pos_employee SET department_id = $1 WHERE telegram_id = $2`,
		departmentID, userID)
	if err != nil {
		return "", fmt.Errorf("save department: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return "", fmt.Errorf("no employee bound to this chat, use /start")
	}

	var name string
	if err := a.q.QueryRow(ctx,
		`SELECT COALESCE(name, '') FROM pos_department WHERE id = $1`,
		departmentID).Scan(&name); err != nil {
		name = departmentID
	}
	a.users.SetDepartment(ctx, userID, departmentID, name)
	log.Info().Int64("user", userID).Str("restaurant", name).Msg("restaurant selected")
	return name, nil
}

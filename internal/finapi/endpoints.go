package finapi

import "context"

// One exported fetcher per list endpoint, mirroring the upstream API surface.

// FetchCategories returns cash-flow categories.
func (c *Client) FetchCategories(ctx context.Context) ([]Record, error) {
	return c.fetchList(ctx, "category")
}

// FetchMoneybags returns accounts.
func (c *Client) FetchMoneybags(ctx context.Context) ([]Record, error) {
	return c.fetchList(ctx, "moneybag")
}

// FetchMoneybagGroups returns account groups.
func (c *Client) FetchMoneybagGroups(ctx context.Context) ([]Record, error) {
	return c.fetchList(ctx, "moneybag-group")
}

// FetchPartners returns counterparties.
func (c *Client) FetchPartners(ctx context.Context) ([]Record, error) {
	return c.fetchList(ctx, "partner")
}

// FetchDirections returns business directions.
func (c *Client) FetchDirections(ctx context.Context) ([]Record, error) {
	return c.fetchList(ctx, "direction")
}

// FetchGoods returns goods.
func (c *Client) FetchGoods(ctx context.Context) ([]Record, error) {
	return c.fetchList(ctx, "goods")
}

// FetchDeals returns deals.
func (c *Client) FetchDeals(ctx context.Context) ([]Record, error) {
	return c.fetchList(ctx, "deal")
}

// FetchObligations returns obligations.
func (c *Client) FetchObligations(ctx context.Context) ([]Record, error) {
	return c.fetchList(ctx, "obligation")
}

// FetchObligationStatuses returns obligation statuses.
func (c *Client) FetchObligationStatuses(ctx context.Context) ([]Record, error) {
	return c.fetchList(ctx, "obligation-status")
}

// FetchJobs returns services.
func (c *Client) FetchJobs(ctx context.Context) ([]Record, error) {
	return c.fetchList(ctx, "job")
}

// FetchObtainings returns purchases.
func (c *Client) FetchObtainings(ctx context.Context) ([]Record, error) {
	return c.fetchList(ctx, "obtaining")
}

// FetchPnlCategories returns P&L categories.
func (c *Client) FetchPnlCategories(ctx context.Context) ([]Record, error) {
	return c.fetchList(ctx, "pnl-category")
}

// FetchEmployees returns employees.
func (c *Client) FetchEmployees(ctx context.Context) ([]Record, error) {
	return c.fetchList(ctx, "employees")
}

package posapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Paradize0404/bot-work/internal/timeutil"
)

// olapV1Dimensions and olapV1Metrics define the TRANSACTIONS report shape
// used for balance-with-hierarchy queries (the v2 balance endpoint has no
// product group dimension).
var (
	olapV1Dimensions = []string{
		"Account.Name",
		"Product.TopParent",
		"Product.Name",
		"Product.MeasureUnit",
	}
	olapV1Metrics = []string{
		"FinalBalance.Amount",
		"FinalBalance.Money",
	}
)

// FetchStockBalances returns store balances at the given accounting moment.
// A zero ts means "now" in project time. The timestamp must carry a time
// component: a bare date is read upstream as midnight, i.e. end of the
// previous day, silently dropping today's postings.
func (c *Client) FetchStockBalances(ctx context.Context, ts time.Time) ([]Record, error) {
	if ts.IsZero() {
		ts = timeutil.Now()
	}
	q := url.Values{"timestamp": {timeutil.Stamp(ts)}}
	body, err := c.get(ctx, "/resto/api/v2/reports/balance/stores", q)
	if err != nil {
		return nil, err
	}
	return decodeJSONList(body, "stock balances")
}

// FetchOlapTransactions runs the v1 TRANSACTIONS OLAP report for the given
// date range. Dates use the v1 wire format DD.MM.YYYY. Rows come back as
// XML <r> elements; numeric cells are cast, absent cells stay nil.
func (c *Client) FetchOlapTransactions(ctx context.Context, from, to time.Time) ([]Record, error) {
	q := url.Values{
		"report": {"TRANSACTIONS"},
		"from":   {timeutil.DateDMY(from)},
		"to":     {timeutil.DateDMY(to)},
	}
	for _, d := range olapV1Dimensions {
		q.Add("groupRow", d)
	}
	for _, m := range olapV1Metrics {
		q.Add("agr", m)
	}
	body, err := c.get(ctx, "/resto/api/reports/olap", q)
	if err != nil {
		return nil, err
	}
	rows, err := parseOlapRows(body)
	if err != nil {
		return nil, fmt.Errorf("olap v1: %w", err)
	}
	log.Debug().Int("rows", len(rows)).Msg("pos olap v1 fetched")
	return rows, nil
}

// FetchOlapByPreset runs a server-saved OLAP preset (v2 JSON API). Dates use
// ISO format; departmentIDs narrows the report when non-empty.
func (c *Client) FetchOlapByPreset(ctx context.Context, presetID string, from, to time.Time, departmentIDs []string) ([]Record, error) {
	q := url.Values{
		"dateFrom": {timeutil.Stamp(from)},
		"dateTo":   {timeutil.Stamp(to)},
		"summary":  {"true"},
	}
	if len(departmentIDs) > 0 {
		q.Set("departmentIds", strings.Join(departmentIDs, ","))
	}
	body, err := c.get(ctx, "/resto/api/v2/reports/olap/byPresetId/"+presetID, q)
	if err != nil {
		return nil, err
	}
	var payload struct {
		Data []Record `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("olap preset %s: decode: %w", presetID, err)
	}
	log.Debug().Int("rows", len(payload.Data)).Str("preset", presetID).
		Msg("pos olap preset fetched")
	return payload.Data, nil
}

// parseOlapRows parses a v1 OLAP XML body (<rows><r>...</r></rows>).
func parseOlapRows(body []byte) ([]Record, error) {
	root, err := parseXMLTree(body)
	if err != nil {
		return nil, err
	}
	items := root.descendants("r")
	out := make([]Record, 0, len(items))
	for _, el := range items {
		row := make(Record, len(el.children))
		for k, v := range el.leafFields() {
			row[k] = castOlapValue(v)
		}
		out = append(out, row)
	}
	return out, nil
}

// castOlapValue converts an OLAP cell to float64 when numeric; empty cells
// become nil so callers can tell "no amount" apart from zero.
func castOlapValue(s string) any {
	if s == "" {
		return nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

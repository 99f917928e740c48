// Package ocrmap keeps the correspondence between names recognised on paper
// invoices and catalogue entries. Two spreadsheet tabs are involved: the base
// tab is the permanent store of known pairs, the transfer tab is where new
// unmapped names land so an accountant can fill them in through dropdowns and
// finalize them from the bot.
package ocrmap

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/Paradize0404/bot-work/internal/db"
	"github.com/Paradize0404/bot-work/internal/sheets"
	"github.com/Paradize0404/bot-work/internal/workflow"
)

const (
	BaseTab     = "Маппинг"
	TransferTab = "Маппинг Импорт"
	GroupsTab   = "Группы выгрузки"

	TypeSupplier = "поставщик"
	TypeProduct  = "товар"
)

var header = []string{"type", "ocr_name", "iiko_name", "iiko_id"}

// iikoNameCol is the only column the accountant edits; iiko_id is resolved
// at finalize time and hidden on the sheet.
const iikoNameCol = 2

// Entry is one known OCR-name correspondence.
type Entry struct {
	Type     string
	OCRName  string
	IikoName string
	IikoID   string
}

type Service struct {
	store sheets.Store
	q     db.Querier
}

func NewService(store sheets.Store, q db.Querier) *Service {
	return &Service{store: store, q: q}
}

// BaseMapping reads the base tab keyed by lower-cased OCR name. A read
// failure degrades to an empty map: staging still works, everything just
// lands in the transfer tab.
func (s *Service) BaseMapping(ctx context.Context) map[string]Entry {
	recs, err := s.store.ReadTab(ctx, BaseTab)
	if err != nil {
		log.Error().Err(err).Msg("ocr mapping: base tab read failed")
		return map[string]Entry{}
	}
	out := make(map[string]Entry, len(recs))
	for _, r := range recs {
		name := strings.TrimSpace(r["ocr_name"])
		if name == "" {
			continue
		}
		out[strings.ToLower(name)] = Entry{
			Type:     r["type"],
			OCRName:  name,
			IikoName: r["iiko_name"],
			IikoID:   r["iiko_id"],
		}
	}
	return out
}

// Match holds the IDs the base mapping resolved for one staged document.
type Match struct {
	SupplierID string
	// ItemProducts maps the staged item PK to a catalogue product id.
	ItemProducts map[int64]string
}

// Apply resolves a staged document against the base mapping. Names with no
// correspondence come back in the unmapped slices (deduplicated, sorted).
func Apply(doc *workflow.StagedDocument, base map[string]Entry) (Match, []string, []string) {
	m := Match{ItemProducts: map[int64]string{}}
	supSet := map[string]bool{}
	prdSet := map[string]bool{}

	if name := strings.TrimSpace(doc.SupplierName); name != "" && doc.SupplierID == "" {
		if e, ok := base[strings.ToLower(name)]; ok && e.IikoID != "" {
			m.SupplierID = e.IikoID
		} else {
			supSet[name] = true
		}
	}
	for _, it := range doc.Items {
		name := strings.TrimSpace(it.RawName)
		if name == "" || it.ProductID != "" {
			continue
		}
		if e, ok := base[strings.ToLower(name)]; ok && e.IikoID != "" {
			m.ItemProducts[it.PK] = e.IikoID
		} else {
			prdSet[name] = true
		}
	}
	return m, sortedKeys(supSet), sortedKeys(prdSet)
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// WriteTransfer appends unmapped names to the transfer tab and refreshes the
// dropdown of catalogue names. Rows already present are kept as-is so a
// half-filled sheet survives repeated uploads.
func (s *Service) WriteTransfer(ctx context.Context, suppliers, products []string) error {
	existing, err := s.store.ReadTab(ctx, TransferTab)
	if err != nil {
		return fmt.Errorf("transfer tab: %w", err)
	}
	present := map[string]bool{}
	rows := make([][]string, 0, len(existing)+len(suppliers)+len(products))
	for _, r := range existing {
		name := strings.TrimSpace(r["ocr_name"])
		if name == "" {
			continue
		}
		present[r["type"]+"|"+strings.ToLower(name)] = true
		rows = append(rows, []string{r["type"], name, r["iiko_name"], r["iiko_id"]})
	}
	added := 0
	for _, name := range suppliers {
		if !present[TypeSupplier+"|"+strings.ToLower(name)] {
			rows = append(rows, []string{TypeSupplier, name, "", ""})
			added++
		}
	}
	for _, name := range products {
		if !present[TypeProduct+"|"+strings.ToLower(name)] {
			rows = append(rows, []string{TypeProduct, name, "", ""})
			added++
		}
	}
	if err := s.store.WriteTab(ctx, TransferTab, header, rows); err != nil {
		return fmt.Errorf("transfer tab: %w", err)
	}
	if err := s.RefreshDropdowns(ctx); err != nil {
		return err
	}
	log.Info().Int("added", added).Int("total", len(rows)).
		Msg("ocr mapping: transfer tab updated")
	return nil
}

// RefreshDropdowns rewrites the catalogue-name validation list of the
// transfer tab and hides the id column. Part of the daily export chain: a
// product added upstream shows up in the dropdown next morning.
func (s *Service) RefreshDropdowns(ctx context.Context) error {
	suppliers, err := s.supplierNames(ctx)
	if err != nil {
		return err
	}
	products, err := s.exportedProductNames(ctx)
	if err != nil {
		return err
	}
	options := append(suppliers, products...)
	sort.Strings(options)
	if err := s.store.SetDropdown(ctx, TransferTab, iikoNameCol, options); err != nil {
		return fmt.Errorf("transfer dropdown: %w", err)
	}
	if err := s.store.HideColumns(ctx, TransferTab, iikoNameCol+1, iikoNameCol+2); err != nil {
		return fmt.Errorf("hide id column: %w", err)
	}
	return nil
}

// TransferStatus reports whether every transfer row has its catalogue name
// filled in. missing lists the OCR names still blank.
func (s *Service) TransferStatus(ctx context.Context) (ready bool, total int, missing []string, err error) {
	recs, err := s.store.ReadTab(ctx, TransferTab)
	if err != nil {
		return false, 0, nil, fmt.Errorf("transfer tab: %w", err)
	}
	for _, r := range recs {
		if strings.TrimSpace(r["ocr_name"]) == "" {
			continue
		}
		total++
		if strings.TrimSpace(r["iiko_name"]) == "" {
			missing = append(missing, r["ocr_name"])
		}
	}
	return len(missing) == 0, total, missing, nil
}

// Finalize moves filled transfer rows into the base tab and clears the
// transfer. Catalogue ids are resolved by name; products are looked up
// without the export-group filter so dishes and preparations resolve too.
func (s *Service) Finalize(ctx context.Context) (int, []string, error) {
	recs, err := s.store.ReadTab(ctx, TransferTab)
	if err != nil {
		return 0, nil, fmt.Errorf("transfer tab: %w", err)
	}
	if len(recs) == 0 {
		return 0, nil, nil
	}

	supIDs, err := s.idsByName(ctx, `SELECT id::text, COALESCE(name, '') FROM pos_supplier WHERE deleted = FALSE`)
	if err != nil {
		return 0, nil, err
	}
	prdIDs, err := s.idsByName(ctx, `SELECT id::text, COALESCE(name, '') FROM pos_product WHERE deleted = FALSE`)
	if err != nil {
		return 0, nil, err
	}

	base := s.BaseMapping(ctx)
	var errs []string
	saved := 0
	for _, r := range recs {
		ocrName := strings.TrimSpace(r["ocr_name"])
		iikoName := strings.TrimSpace(r["iiko_name"])
		if ocrName == "" {
			continue
		}
		if iikoName == "" {
			errs = append(errs, fmt.Sprintf("Не заполнено: «%s»", ocrName))
			continue
		}
		var id string
		switch r["type"] {
		case TypeSupplier:
			id = supIDs[strings.ToLower(iikoName)]
		case TypeProduct:
			id = prdIDs[strings.ToLower(iikoName)]
		}
		base[strings.ToLower(ocrName)] = Entry{
			Type: r["type"], OCRName: ocrName, IikoName: iikoName, IikoID: id,
		}
		saved++
	}
	if saved == 0 {
		return 0, errs, nil
	}

	rows := make([][]string, 0, len(base))
	for _, e := range base {
		rows = append(rows, []string{e.Type, e.OCRName, e.IikoName, e.IikoID})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i][0] != rows[j][0] {
			return rows[i][0] < rows[j][0]
		}
		return rows[i][1] < rows[j][1]
	})
	if err := s.store.WriteTab(ctx, BaseTab, header, rows); err != nil {
		return 0, errs, fmt.Errorf("base tab: %w", err)
	}
	if err := s.store.WriteTab(ctx, TransferTab, header, nil); err != nil {
		return 0, errs, fmt.Errorf("clear transfer: %w", err)
	}
	log.Info().Int("saved", saved).Msg("ocr mapping finalized")
	return saved, errs, nil
}

func (s *Service) idsByName(ctx context.Context, sql string) (map[string]string, error) {
	rows, err := s.q.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]string{}
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		if name = strings.TrimSpace(name); name != "" {
			out[strings.ToLower(name)] = id
		}
	}
	return out, rows.Err()
}

func (s *Service) supplierNames(ctx context.Context) ([]string, error) {
	names, err := s.queryNames(ctx,
		`SELECT COALESCE(name, '') FROM pos_supplier WHERE deleted = FALSE`)
	if err != nil {
		return nil, fmt.Errorf("suppliers: %w", err)
	}
	return names, nil
}

// exportedProductNames lists goods for the dropdown, narrowed by the group
// names configured on the groups tab. An empty or unreadable groups tab
// means no filter.
func (s *Service) exportedProductNames(ctx context.Context) ([]string, error) {
	groups := s.exportGroups(ctx)

	var (
		names []string
		err   error
	)
	if len(groups) > 0 {
		names, err = s.queryNames(ctx, `
			SELECT COALESCE(p.name, '')
			FROM pos_product p
			WHERE p.deleted = FALSE AND p.product_type = 'GOODS'
			  AND p.parent_id IN (SELECT id FROM pos_product_group WHERE name = ANY($1))`,
			groups)
	} else {
		names, err = s.queryNames(ctx, `
			SELECT COALESCE(name, '')
			FROM pos_product
			WHERE deleted = FALSE AND product_type = 'GOODS'`)
	}
	if err != nil {
		return nil, fmt.Errorf("products: %w", err)
	}
	return names, nil
}

func (s *Service) queryNames(ctx context.Context, sql string, args ...any) ([]string, error) {
	rows, err := s.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		if name = strings.TrimSpace(name); name != "" {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, rows.Err()
}

// exportGroups reads the group-name column of the configuration tab.
func (s *Service) exportGroups(ctx context.Context) []string {
	recs, err := s.store.ReadTab(ctx, GroupsTab)
	if err != nil {
		log.Debug().Err(err).Msg("ocr mapping: groups tab unavailable, exporting all goods")
		return nil
	}
	var out []string
	for _, r := range recs {
		if g := strings.TrimSpace(r["group"]); g != "" {
			out = append(out, g)
		}
	}
	return out
}

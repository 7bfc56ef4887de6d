// Package store provides an in-memory engine.Store.
package store

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/stock-engine/engine"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps every table in maps. WithTx holds the write lock for the
// whole unit of work, so units of work are serialized; a failed unit of work
// is undone by restoring a snapshot taken when it started.
type Memory struct {
	mu sync.Mutex
	st state
}

type state struct {
	items        map[engine.ItemID]engine.Item
	suppliers    map[engine.SupplierID]engine.Supplier
	links        map[engine.ItemID][]engine.SupplierID
	sales        map[engine.SaleID]engine.Sale
	lines        map[int64]engine.SaleLine
	warehouse    map[engine.LayerID]engine.StockLayer
	shelf        map[engine.LayerID]engine.StockLayer
	shortages    map[engine.ShortageID]engine.Shortage
	procurements map[engine.ProcurementID]engine.Procurement
	procLines    map[int64]engine.ProcurementLine
	costs        map[engine.CostRecordID]engine.CostRecord
	entries      map[int64]engine.ShelfEntry
	next         map[engine.Sequence]int64
}

func newState() state {
	st := state{
		items:        make(map[engine.ItemID]engine.Item),
		suppliers:    make(map[engine.SupplierID]engine.Supplier),
		links:        make(map[engine.ItemID][]engine.SupplierID),
		sales:        make(map[engine.SaleID]engine.Sale),
		lines:        make(map[int64]engine.SaleLine),
		warehouse:    make(map[engine.LayerID]engine.StockLayer),
		shelf:        make(map[engine.LayerID]engine.StockLayer),
		shortages:    make(map[engine.ShortageID]engine.Shortage),
		procurements: make(map[engine.ProcurementID]engine.Procurement),
		procLines:    make(map[int64]engine.ProcurementLine),
		costs:        make(map[engine.CostRecordID]engine.CostRecord),
		entries:      make(map[int64]engine.ShelfEntry),
		next:         make(map[engine.Sequence]int64),
	}
	for _, seq := range engine.AllSequences {
		st.next[seq] = 1
	}
	return st
}

// clone copies every map. Values are replaced, never mutated in place, so a
// shallow copy per map is a full snapshot.
func (s state) clone() state {
	c := state{
		items:        maps.Clone(s.items),
		suppliers:    maps.Clone(s.suppliers),
		links:        make(map[engine.ItemID][]engine.SupplierID, len(s.links)),
		sales:        maps.Clone(s.sales),
		lines:        maps.Clone(s.lines),
		warehouse:    maps.Clone(s.warehouse),
		shelf:        maps.Clone(s.shelf),
		shortages:    maps.Clone(s.shortages),
		procurements: maps.Clone(s.procurements),
		procLines:    maps.Clone(s.procLines),
		costs:        maps.Clone(s.costs),
		entries:      maps.Clone(s.entries),
		next:         maps.Clone(s.next),
	}
	for k, v := range s.links {
		c.links[k] = append([]engine.SupplierID(nil), v...)
	}
	return c
}

func NewMemory() *Memory {
	return &Memory{st: newState()}
}

var (
	_ engine.Store          = (*Memory)(nil)
	_ engine.Seeder         = (*Memory)(nil)
	_ engine.SequenceSetter = (*Memory)(nil)
)

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(engine.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.st.clone()
	if err := fn(&memTx{st: &m.st}); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

// SyncSequence sets the next value of seq to max(id)+1.
func (m *Memory) SyncSequence(_ context.Context, seq engine.Sequence) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids, err := m.st.ids(seq)
	if err != nil {
		return 0, err
	}
	var top int64
	for _, id := range ids {
		top = max(top, id)
	}
	m.st.next[seq] = top + 1
	return top + 1, nil
}

// SetSequence forces the next value of seq.
func (m *Memory) SetSequence(_ context.Context, seq engine.Sequence, next int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.st.ids(seq); err != nil {
		return err
	}
	m.st.next[seq] = next
	return nil
}

func (s *state) ids(seq engine.Sequence) ([]int64, error) {
	var out []int64
	switch seq {
	case engine.SeqSales:
		for id := range s.sales {
			out = append(out, int64(id))
		}
	case engine.SeqSaleLines:
		for id := range s.lines {
			out = append(out, id)
		}
	case engine.SeqShortages:
		for id := range s.shortages {
			out = append(out, int64(id))
		}
	case engine.SeqWarehouseLayers:
		for id := range s.warehouse {
			out = append(out, int64(id))
		}
	case engine.SeqShelfLayers:
		for id := range s.shelf {
			out = append(out, int64(id))
		}
	case engine.SeqProcurements:
		for id := range s.procurements {
			out = append(out, int64(id))
		}
	case engine.SeqProcurementLines:
		for id := range s.procLines {
			out = append(out, id)
		}
	case engine.SeqCostRecords:
		for id := range s.costs {
			out = append(out, int64(id))
		}
	case engine.SeqShelfEntries:
		for id := range s.entries {
			out = append(out, id)
		}
	default:
		return nil, fmt.Errorf("unknown sequence %q", seq)
	}
	return out, nil
}

// allocate draws the next id of seq and reports a conflict when a row
// already holds it.
func (s *state) allocate(seq engine.Sequence, taken func(int64) bool) (int64, error) {
	id := s.next[seq]
	s.next[seq] = id + 1
	if taken(id) {
		return 0, &engine.ConflictError{
			Sequence: seq,
			Err:      fmt.Errorf("duplicate key %s.id = %d", seq, id),
		}
	}
	return id, nil
}

// =============================================================================
// SEEDER
// =============================================================================

func (m *Memory) UpsertItem(_ context.Context, it engine.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.items[it.ID] = it
	return nil
}

func (m *Memory) UpsertSupplier(_ context.Context, s engine.Supplier) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.suppliers[s.ID] = s
	return nil
}

func (m *Memory) LinkSupplier(_ context.Context, item engine.ItemID, supplier engine.SupplierID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.st.suppliers[supplier]; !ok {
		return fmt.Errorf("supplier %d: %w", supplier, engine.ErrNotFound)
	}
	for _, s := range m.st.links[item] {
		if s == supplier {
			return nil
		}
	}
	m.st.links[item] = append(m.st.links[item], supplier)
	return nil
}

func (m *Memory) Items(_ context.Context) ([]engine.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]engine.Item, 0, len(m.st.items))
	for _, it := range m.st.items {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// =============================================================================
// TRANSACTIONAL VIEW
// =============================================================================

type memTx struct {
	st *state
}

func (t *memTx) layers(tier engine.Tier) (map[engine.LayerID]engine.StockLayer, engine.Sequence, error) {
	switch tier {
	case engine.TierWarehouse:
		return t.st.warehouse, engine.SeqWarehouseLayers, nil
	case engine.TierShelf:
		return t.st.shelf, engine.SeqShelfLayers, nil
	}
	return nil, "", fmt.Errorf("%w: %q", engine.ErrUnknownTier, tier)
}

// --- Sales ---

func (t *memTx) InsertSale(_ context.Context, s *engine.Sale) error {
	id, err := t.st.allocate(engine.SeqSales, func(id int64) bool {
		_, ok := t.st.sales[engine.SaleID(id)]
		return ok
	})
	if err != nil {
		return err
	}
	s.ID = engine.SaleID(id)
	t.st.sales[s.ID] = *s
	return nil
}

func (t *memTx) UpdateSaleTotals(_ context.Context, id engine.SaleID, tot engine.Totals) error {
	s, ok := t.st.sales[id]
	if !ok {
		return fmt.Errorf("sale %d: %w", id, engine.ErrNotFound)
	}
	s.Gross = tot.Gross
	s.DiscountRate = tot.Rate
	s.DiscountAmount = tot.Discount
	s.FinalAmount = tot.Final
	t.st.sales[id] = s
	return nil
}

func (t *memTx) InsertSaleLines(_ context.Context, lines []engine.SaleLine) error {
	for i := range lines {
		id, err := t.st.allocate(engine.SeqSaleLines, func(id int64) bool {
			_, ok := t.st.lines[id]
			return ok
		})
		if err != nil {
			return err
		}
		lines[i].ID = id
		t.st.lines[id] = lines[i]
	}
	return nil
}

func (t *memTx) GetSale(_ context.Context, id engine.SaleID) (*engine.Sale, error) {
	s, ok := t.st.sales[id]
	if !ok {
		return nil, fmt.Errorf("sale %d: %w", id, engine.ErrNotFound)
	}
	return &s, nil
}

func (t *memTx) SaleLines(_ context.Context, id engine.SaleID) ([]engine.SaleLine, error) {
	var out []engine.SaleLine
	for _, l := range t.st.lines {
		if l.SaleID == id {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- Layers ---

func (t *memTx) Layers(_ context.Context, item engine.ItemID, tier engine.Tier) ([]engine.StockLayer, error) {
	table, _, err := t.layers(tier)
	if err != nil {
		return nil, err
	}
	var out []engine.StockLayer
	for _, l := range table {
		if l.ItemID == item && l.Quantity > 0 {
			out = append(out, l)
		}
	}
	engine.SortLayers(out)
	return out, nil
}

func (t *memTx) DeleteLayer(_ context.Context, tier engine.Tier, id engine.LayerID) error {
	table, _, err := t.layers(tier)
	if err != nil {
		return err
	}
	if _, ok := table[id]; !ok {
		return fmt.Errorf("%s layer %d: %w", tier, id, engine.ErrNotFound)
	}
	delete(table, id)
	return nil
}

func (t *memTx) SetLayerQuantity(_ context.Context, tier engine.Tier, id engine.LayerID, qty int, at time.Time) error {
	table, _, err := t.layers(tier)
	if err != nil {
		return err
	}
	l, ok := table[id]
	if !ok {
		return fmt.Errorf("%s layer %d: %w", tier, id, engine.ErrNotFound)
	}
	l.Quantity = qty
	if tier == engine.TierShelf {
		stamp := at
		l.LastUpdated = &stamp
	}
	table[id] = l
	return nil
}

func (t *memTx) InsertLayer(_ context.Context, l *engine.StockLayer) error {
	table, seq, err := t.layers(l.Tier)
	if err != nil {
		return err
	}
	l.ExpirationDate = engine.Date(l.ExpirationDate)

	if l.Tier == engine.TierShelf {
		for id, cur := range table {
			if cur.ItemID == l.ItemID && cur.ExpirationDate.Equal(l.ExpirationDate) &&
				cur.CostPerUnit.Equal(l.CostPerUnit) && cur.SlotID == l.SlotID {
				cur.Quantity += l.Quantity
				cur.LastUpdated = l.LastUpdated
				table[id] = cur
				l.ID = id
				return nil
			}
		}
	}

	id, err := t.st.allocate(seq, func(id int64) bool {
		_, ok := table[engine.LayerID(id)]
		return ok
	})
	if err != nil {
		return err
	}
	l.ID = engine.LayerID(id)
	table[l.ID] = *l
	return nil
}

func (t *memTx) PruneShelf(_ context.Context) (int, error) {
	n := 0
	for id, l := range t.st.shelf {
		if l.Quantity <= 0 {
			delete(t.st.shelf, id)
			n++
		}
	}
	return n, nil
}

func (t *memTx) InsertShelfEntry(_ context.Context, e *engine.ShelfEntry) error {
	id, err := t.st.allocate(engine.SeqShelfEntries, func(id int64) bool {
		_, ok := t.st.entries[id]
		return ok
	})
	if err != nil {
		return err
	}
	e.ID = id
	t.st.entries[id] = *e
	return nil
}

// --- Snapshots ---

func (t *memTx) StockLevels(_ context.Context, tier engine.Tier) ([]engine.ItemStock, error) {
	table, _, err := t.layers(tier)
	if err != nil {
		return nil, err
	}
	totals := make(map[engine.ItemID]int)
	for _, l := range table {
		totals[l.ItemID] += l.Quantity
	}

	rows := make(map[engine.ItemID]engine.ItemStock, len(t.st.items))
	for id, it := range t.st.items {
		row := engine.ItemStock{ItemID: id, Name: it.Name, ReferencePrice: it.ReferencePrice}
		if tier == engine.TierWarehouse {
			row.Threshold, row.Average = it.WarehouseThreshold, it.WarehouseAverage
		} else {
			row.Threshold, row.Average = it.ShelfThreshold, it.ShelfAverage
		}
		rows[id] = row
	}
	for id, qty := range totals {
		row := rows[id]
		row.ItemID = id
		row.Current = qty
		rows[id] = row
	}

	out := make([]engine.ItemStock, 0, len(rows))
	for _, r := range rows {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out, nil
}

func (t *memTx) SupplierFor(_ context.Context, item engine.ItemID) (engine.SupplierID, bool, error) {
	links := t.st.links[item]
	if len(links) == 0 {
		return 0, false, nil
	}
	first := links[0]
	for _, s := range links[1:] {
		if s < first {
			first = s
		}
	}
	return first, true, nil
}

// --- Shortages ---

func (t *memTx) OpenShortages(_ context.Context, item engine.ItemID) ([]engine.Shortage, error) {
	var out []engine.Shortage
	for _, s := range t.st.shortages {
		if s.ItemID == item && s.Outstanding > 0 {
			out = append(out, s)
		}
	}
	sortShortages(out)
	return out, nil
}

func (t *memTx) AllShortages(_ context.Context) ([]engine.Shortage, error) {
	var out []engine.Shortage
	for _, s := range t.st.shortages {
		if s.Outstanding > 0 {
			out = append(out, s)
		}
	}
	sortShortages(out)
	return out, nil
}

func sortShortages(s []engine.Shortage) {
	sort.Slice(s, func(i, j int) bool {
		if !s[i].LoggedAt.Equal(s[j].LoggedAt) {
			return s[i].LoggedAt.Before(s[j].LoggedAt)
		}
		return s[i].ID < s[j].ID
	})
}

func (t *memTx) InsertShortage(_ context.Context, s *engine.Shortage) error {
	id, err := t.st.allocate(engine.SeqShortages, func(id int64) bool {
		_, ok := t.st.shortages[engine.ShortageID(id)]
		return ok
	})
	if err != nil {
		return err
	}
	s.ID = engine.ShortageID(id)
	t.st.shortages[s.ID] = *s
	return nil
}

func (t *memTx) DeleteShortage(_ context.Context, id engine.ShortageID) error {
	if _, ok := t.st.shortages[id]; !ok {
		return fmt.Errorf("shortage %d: %w", id, engine.ErrNotFound)
	}
	delete(t.st.shortages, id)
	return nil
}

func (t *memTx) ReduceShortage(_ context.Context, id engine.ShortageID, qty int, resolver string, at time.Time) error {
	s, ok := t.st.shortages[id]
	if !ok {
		return fmt.Errorf("shortage %d: %w", id, engine.ErrNotFound)
	}
	stamp := at
	s.Outstanding -= qty
	s.Resolved += qty
	s.ResolvedBy = resolver
	s.ResolvedAt = &stamp
	t.st.shortages[id] = s
	return nil
}

// --- Procurement ---

func (t *memTx) InsertProcurement(_ context.Context, p *engine.Procurement) error {
	id, err := t.st.allocate(engine.SeqProcurements, func(id int64) bool {
		_, ok := t.st.procurements[engine.ProcurementID(id)]
		return ok
	})
	if err != nil {
		return err
	}
	p.ID = engine.ProcurementID(id)
	t.st.procurements[p.ID] = *p
	return nil
}

func (t *memTx) InsertProcurementLine(_ context.Context, l *engine.ProcurementLine) error {
	id, err := t.st.allocate(engine.SeqProcurementLines, func(id int64) bool {
		_, ok := t.st.procLines[id]
		return ok
	})
	if err != nil {
		return err
	}
	l.ID = id
	t.st.procLines[id] = *l
	return nil
}

func (t *memTx) InsertCostRecord(_ context.Context, c *engine.CostRecord) error {
	id, err := t.st.allocate(engine.SeqCostRecords, func(id int64) bool {
		_, ok := t.st.costs[engine.CostRecordID(id)]
		return ok
	})
	if err != nil {
		return err
	}
	c.ID = engine.CostRecordID(id)
	t.st.costs[c.ID] = *c
	return nil
}

func (t *memTx) RefreshProcurementTotal(_ context.Context, id engine.ProcurementID) (decimal.Decimal, error) {
	p, ok := t.st.procurements[id]
	if !ok {
		return decimal.Zero, fmt.Errorf("procurement %d: %w", id, engine.ErrNotFound)
	}
	total := decimal.Zero
	for _, c := range t.st.costs {
		if c.ProcurementID == id {
			total = total.Add(c.CostPerUnit.Mul(decimal.NewFromInt(int64(c.Quantity))))
		}
	}
	p.TotalCost = total
	t.st.procurements[id] = p
	return total, nil
}

// Procurements returns every procurement ordered by id. Used by tests and
// the CLI summary.
func (m *Memory) Procurements(_ context.Context) ([]engine.Procurement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]engine.Procurement, 0, len(m.st.procurements))
	for _, p := range m.st.procurements {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ShelfEntries returns the shelf movement log ordered by id.
func (m *Memory) ShelfEntries(_ context.Context) ([]engine.ShelfEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]engine.ShelfEntry, 0, len(m.st.entries))
	for _, e := range m.st.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// AllLayers returns every layer at tier, including zero rows.
func (m *Memory) AllLayers(_ context.Context, tier engine.Tier) ([]engine.StockLayer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &memTx{st: &m.st}
	table, _, err := t.layers(tier)
	if err != nil {
		return nil, err
	}
	out := make([]engine.StockLayer, 0, len(table))
	for _, l := range table {
		out = append(out, l)
	}
	engine.SortLayers(out)
	return out, nil
}

package database

import (
	"fmt"
	"regexp"
	"sort"

	"raptordb/pkg/catalog"
	"raptordb/pkg/entry"
	"raptordb/pkg/record"
	"raptordb/pkg/sql"
)

// compareValue types a literal for comparison against a column, without the
// storage-side NOT NULL check.
func compareValue(value sql.Value, colType record.ColumnType) (record.Value, error) {
	switch value.Kind {
	case sql.LitNull:
		return record.NullValue(), nil
	case sql.LitInt:
		switch colType.Kind {
		case record.TypeInt:
			if value.Int > 0x7FFFFFFF || value.Int < -0x80000000 {
				return record.Value{}, fmt.Errorf("%w: %d does not fit INT", record.ErrIntOutOfRange, value.Int)
			}
			return record.IntValue(int32(value.Int)), nil
		case record.TypeFloat:
			return record.FloatValue(float64(value.Int)), nil
		}
	case sql.LitFloat:
		if colType.Kind == record.TypeFloat {
			return record.FloatValue(value.Float), nil
		}
	case sql.LitString:
		if colType.Kind == record.TypeVarchar {
			return record.StringValue(value.Str), nil
		}
	}
	return record.Value{}, fmt.Errorf("%w: literal does not match column type %v", record.ErrTypeMismatch, colType)
}

// opHolds reports whether `cmp OP 0` holds for a comparison result.
func opHolds(op sql.CompareOp, cmp int) bool {
	switch op {
	case sql.OpEq:
		return cmp == 0
	case sql.OpNe:
		return cmp != 0
	case sql.OpLt:
		return cmp < 0
	case sql.OpLe:
		return cmp <= 0
	case sql.OpGt:
		return cmp > 0
	case sql.OpGe:
		return cmp >= 0
	}
	return false
}

// filter is a compiled single-table condition.
type filter struct {
	kind     sql.CondKind
	colIdx   int
	op       sql.CompareOp
	value    record.Value
	rightIdx int
	re       *regexp.Regexp
}

// compileFilters resolves conditions against one table's schema.
func (db *Database) compileFilters(meta *catalog.TableMeta, schema *record.Schema,
	conds []sql.Condition) ([]filter, error) {

	resolve := func(ref sql.ColumnRef) (int, error) {
		if ref.Table != "" && ref.Table != meta.Name {
			return 0, fmt.Errorf("%w: %s", catalog.ErrColumnNotFound, ref)
		}
		idx, ok := schema.FindColumn(ref.Column)
		if !ok {
			return 0, fmt.Errorf("%w: %s", catalog.ErrColumnNotFound, ref)
		}
		return idx, nil
	}

	filters := make([]filter, 0, len(conds))
	for _, c := range conds {
		colIdx, err := resolve(c.Left)
		if err != nil {
			return nil, err
		}
		f := filter{kind: c.Kind, colIdx: colIdx, op: c.Op}
		switch c.Kind {
		case sql.CondCompareValue:
			if f.value, err = compareValue(c.Value, schema.Column(colIdx).Type); err != nil {
				return nil, err
			}
		case sql.CondCompareCol:
			if f.rightIdx, err = resolve(c.RightCol); err != nil {
				return nil, err
			}
		case sql.CondLike:
			if f.re, err = db.likes.Compile(c.Pattern); err != nil {
				return nil, err
			}
		}
		filters = append(filters, f)
	}
	return filters, nil
}

// matches evaluates the conjunction of filters on a record. NULL
// comparisons are false.
func matches(rec record.Record, filters []filter) bool {
	for _, f := range filters {
		left := rec.Values[f.colIdx]
		switch f.kind {
		case sql.CondIsNull:
			if !left.IsNull() {
				return false
			}
		case sql.CondIsNotNull:
			if left.IsNull() {
				return false
			}
		case sql.CondLike:
			if left.IsNull() || left.Kind() != record.TypeVarchar || !f.re.MatchString(left.Str()) {
				return false
			}
		case sql.CondCompareValue:
			cmp, ok := left.Compare(f.value)
			if !ok || !opHolds(f.op, cmp) {
				return false
			}
		case sql.CondCompareCol:
			cmp, ok := left.Compare(rec.Values[f.rightIdx])
			if !ok || !opHolds(f.op, cmp) {
				return false
			}
		}
	}
	return true
}

// target is one row selected for reading or mutation.
type target struct {
	rid entry.RID
	rec record.Record
}

// accessPath describes how a table scan is driven: a point lookup, an
// inclusive key range, or (nil) a full scan.
type accessPath struct {
	column string
	point  bool
	key    int64
	lo, hi int64
}

// chooseAccessPath inspects the filters for an indexed-column access: an
// equality on an indexed INT column becomes a point lookup; a pair of
// range predicates bracketing the same indexed column becomes a range scan.
func (db *Database) chooseAccessPath(meta *catalog.TableMeta, schema *record.Schema,
	filters []filter) *accessPath {

	if !db.useIndexes {
		return nil
	}
	indexed := func(f filter) (string, bool) {
		col := schema.Column(f.colIdx)
		if f.kind != sql.CondCompareValue || col.Type.Kind != record.TypeInt || f.value.IsNull() {
			return "", false
		}
		if _, ok := meta.FindIndex(col.Name); !ok {
			return "", false
		}
		return col.Name, true
	}

	for _, f := range filters {
		if name, ok := indexed(f); ok && f.op == sql.OpEq {
			return &accessPath{column: name, point: true, key: int64(f.value.Int())}
		}
	}
	// Pair of range predicates over one indexed column.
	los := make(map[string]int64)
	his := make(map[string]int64)
	for _, f := range filters {
		name, ok := indexed(f)
		if !ok {
			continue
		}
		v := int64(f.value.Int())
		switch f.op {
		case sql.OpGt:
			if cur, ok := los[name]; !ok || v+1 > cur {
				los[name] = v + 1
			}
		case sql.OpGe:
			if cur, ok := los[name]; !ok || v > cur {
				los[name] = v
			}
		case sql.OpLt:
			if cur, ok := his[name]; !ok || v-1 < cur {
				his[name] = v - 1
			}
		case sql.OpLe:
			if cur, ok := his[name]; !ok || v < cur {
				his[name] = v
			}
		}
	}
	for name, lo := range los {
		if hi, ok := his[name]; ok {
			return &accessPath{column: name, lo: lo, hi: hi}
		}
	}
	return nil
}

// scanTargets materializes the rows matching the filters, via an index when
// one applies, in (page, slot) order otherwise.
func (db *Database) scanTargets(meta *catalog.TableMeta, table *record.Table,
	filters []filter) ([]target, error) {

	path := db.chooseAccessPath(meta, table.Schema(), filters)
	if path == nil {
		var targets []target
		cursor := table.Scan()
		for cursor.Next() {
			rec, err := cursor.Record()
			if err != nil {
				return nil, err
			}
			if matches(rec, filters) {
				targets = append(targets, target{rid: cursor.RID(), rec: rec})
			}
		}
		return targets, cursor.Err()
	}

	index, err := db.openIndex(meta, path.column)
	if err != nil {
		return nil, err
	}
	var entries []entry.Entry
	if path.point {
		rids, err := index.Search(path.key)
		if err != nil {
			return nil, err
		}
		for _, rid := range rids {
			entries = append(entries, entry.New(path.key, rid))
		}
	} else {
		if entries, err = index.SelectRange(path.lo, path.hi); err != nil {
			return nil, err
		}
	}
	var targets []target
	for _, e := range entries {
		rec, err := table.Get(e.RID)
		if err != nil {
			return nil, err
		}
		if matches(rec, filters) {
			targets = append(targets, target{rid: e.RID, rec: rec})
		}
	}
	return targets, nil
}

// tableInfo is one FROM-list table with its flat column offset.
type tableInfo struct {
	name   string
	meta   *catalog.TableMeta
	schema *record.Schema
	table  *record.Table
	offset int
}

// joinCond is a compiled condition over the flattened join row.
type joinCond struct {
	kind      sql.CondKind
	op        sql.CompareOp
	leftFlat  int
	value     record.Value
	rightFlat int
	re        *regexp.Regexp
	level     int // deepest table the condition references
}

// flatRef locates a column reference in the FROM-list tables, returning the
// table index and flat column index.
func flatRef(tables []tableInfo, ref sql.ColumnRef) (int, int, error) {
	if ref.Table != "" {
		for ti, info := range tables {
			if info.name == ref.Table {
				ci, ok := info.schema.FindColumn(ref.Column)
				if !ok {
					return 0, 0, fmt.Errorf("%w: %s", catalog.ErrColumnNotFound, ref)
				}
				return ti, info.offset + ci, nil
			}
		}
		return 0, 0, fmt.Errorf("%w: %s", catalog.ErrTableNotFound, ref.Table)
	}
	foundTable, foundFlat, count := 0, 0, 0
	for ti, info := range tables {
		if ci, ok := info.schema.FindColumn(ref.Column); ok {
			foundTable, foundFlat = ti, info.offset+ci
			count++
		}
	}
	if count == 0 {
		return 0, 0, fmt.Errorf("%w: %s", catalog.ErrColumnNotFound, ref)
	}
	if count > 1 {
		return 0, 0, fmt.Errorf("ambiguous column %s", ref)
	}
	return foundTable, foundFlat, nil
}

// flatColumn returns the column definition behind a flat index.
func flatColumn(tables []tableInfo, flat int) record.Column {
	for i := len(tables) - 1; i >= 0; i-- {
		if flat >= tables[i].offset {
			return tables[i].schema.Column(flat - tables[i].offset)
		}
	}
	return record.Column{}
}

// compileJoinConds resolves conditions over the flattened join row.
func (db *Database) compileJoinConds(tables []tableInfo, conds []sql.Condition) ([]joinCond, error) {
	compiled := make([]joinCond, 0, len(conds))
	for _, c := range conds {
		ti, flat, err := flatRef(tables, c.Left)
		if err != nil {
			return nil, err
		}
		jc := joinCond{kind: c.Kind, op: c.Op, leftFlat: flat, level: ti}
		switch c.Kind {
		case sql.CondCompareValue:
			if jc.value, err = compareValue(c.Value, flatColumn(tables, flat).Type); err != nil {
				return nil, err
			}
		case sql.CondCompareCol:
			rti, rflat, err := flatRef(tables, c.RightCol)
			if err != nil {
				return nil, err
			}
			jc.rightFlat = rflat
			if rti > jc.level {
				jc.level = rti
			}
		case sql.CondLike:
			if jc.re, err = db.likes.Compile(c.Pattern); err != nil {
				return nil, err
			}
		}
		compiled = append(compiled, jc)
	}
	return compiled, nil
}

// holdsOn evaluates the condition on a (possibly partial) flat row.
func (jc joinCond) holdsOn(row []record.Value) bool {
	left := row[jc.leftFlat]
	switch jc.kind {
	case sql.CondIsNull:
		return left.IsNull()
	case sql.CondIsNotNull:
		return !left.IsNull()
	case sql.CondLike:
		return !left.IsNull() && left.Kind() == record.TypeVarchar && jc.re.MatchString(left.Str())
	case sql.CondCompareCol:
		cmp, ok := left.Compare(row[jc.rightFlat])
		return ok && opHolds(jc.op, cmp)
	default:
		cmp, ok := left.Compare(jc.value)
		return ok && opHolds(jc.op, cmp)
	}
}

// levelPath finds an index-driven access for the given nest level: an
// equality between the level's indexed INT column and either a literal or
// a column bound at an earlier level.
func (db *Database) levelPath(tables []tableInfo, conds []joinCond, level int,
	prefix []record.Value) (*accessPath, error) {

	if !db.useIndexes {
		return nil, nil
	}
	info := tables[level]
	inLevel := func(flat int) (int, bool) {
		ci := flat - info.offset
		if ci < 0 || ci >= info.schema.NumColumns() {
			return 0, false
		}
		return ci, true
	}
	indexedInt := func(ci int) bool {
		col := info.schema.Column(ci)
		if col.Type.Kind != record.TypeInt {
			return false
		}
		_, ok := info.meta.FindIndex(col.Name)
		return ok
	}
	for _, jc := range conds {
		if jc.op != sql.OpEq {
			continue
		}
		switch jc.kind {
		case sql.CondCompareValue:
			if ci, ok := inLevel(jc.leftFlat); ok && indexedInt(ci) && !jc.value.IsNull() {
				return &accessPath{column: info.schema.Column(ci).Name, point: true,
					key: int64(jc.value.Int())}, nil
			}
		case sql.CondCompareCol:
			// Either side may be the level's column; the other must already
			// be bound.
			pairs := [][2]int{{jc.leftFlat, jc.rightFlat}, {jc.rightFlat, jc.leftFlat}}
			for _, pair := range pairs {
				ci, ok := inLevel(pair[0])
				if !ok || !indexedInt(ci) || pair[1] >= len(prefix) {
					continue
				}
				bound := prefix[pair[1]]
				if bound.IsNull() || bound.Kind() != record.TypeInt {
					continue
				}
				return &accessPath{column: info.schema.Column(ci).Name, point: true,
					key: int64(bound.Int())}, nil
			}
		}
	}
	return nil, nil
}

// levelRecords produces the candidate records for one nest level.
func (db *Database) levelRecords(tables []tableInfo, conds []joinCond, level int,
	prefix []record.Value) ([]record.Record, error) {

	info := tables[level]
	path, err := db.levelPath(tables, conds, level, prefix)
	if err != nil {
		return nil, err
	}
	if path != nil {
		index, err := db.openIndex(info.meta, path.column)
		if err != nil {
			return nil, err
		}
		rids, err := index.Search(path.key)
		if err != nil {
			return nil, err
		}
		records := make([]record.Record, 0, len(rids))
		for _, rid := range rids {
			rec, err := info.table.Get(rid)
			if err != nil {
				return nil, err
			}
			records = append(records, rec)
		}
		return records, nil
	}
	var records []record.Record
	cursor := info.table.Scan()
	for cursor.Next() {
		rec, err := cursor.Record()
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, cursor.Err()
}

// joinScan runs the nested-loop join over the FROM-list tables, applying
// each condition at the deepest level it references.
func (db *Database) joinScan(tables []tableInfo, conds []joinCond) ([][]record.Value, error) {
	var out [][]record.Value
	prefix := make([]record.Value, 0)

	var descend func(level int) error
	descend = func(level int) error {
		if level == len(tables) {
			row := make([]record.Value, len(prefix))
			copy(row, prefix)
			out = append(out, row)
			return nil
		}
		records, err := db.levelRecords(tables, conds, level, prefix)
		if err != nil {
			return err
		}
		base := len(prefix)
		for _, rec := range records {
			prefix = append(prefix, rec.Values...)
			pass := true
			for _, jc := range conds {
				if jc.level == level && !jc.holdsOn(prefix) {
					pass = false
					break
				}
			}
			if pass {
				if err := descend(level + 1); err != nil {
					return err
				}
			}
			prefix = prefix[:base]
		}
		return nil
	}
	if err := descend(0); err != nil {
		return nil, err
	}
	return out, nil
}

// query executes a SELECT: scan and join, then aggregate or project, order,
// and bound the result.
func (db *Database) query(stmt sql.Select) (*Result, error) {
	cat, err := db.current()
	if err != nil {
		return nil, err
	}
	tables := make([]tableInfo, len(stmt.Tables))
	offset := 0
	for i, name := range stmt.Tables {
		for j := 0; j < i; j++ {
			if stmt.Tables[j] == name {
				return nil, fmt.Errorf("%w: self joins", ErrUnsupported)
			}
		}
		meta, err := cat.GetTable(name)
		if err != nil {
			return nil, err
		}
		schema, err := meta.Schema()
		if err != nil {
			return nil, err
		}
		table, err := db.openTable(name)
		if err != nil {
			return nil, err
		}
		tables[i] = tableInfo{name: name, meta: meta, schema: schema, table: table, offset: offset}
		offset += schema.NumColumns()
	}

	conds, err := db.compileJoinConds(tables, stmt.Where)
	if err != nil {
		return nil, err
	}
	rows, err := db.joinScan(tables, conds)
	if err != nil {
		return nil, err
	}

	if hasAggregate(stmt.Selectors) {
		return db.aggregate(tables, stmt.Selectors, rows)
	}

	// Resolve the projection.
	var header []string
	var proj []int
	if stmt.All {
		for _, info := range tables {
			for ci, col := range info.schema.Columns() {
				if len(tables) > 1 {
					header = append(header, info.name+"."+col.Name)
				} else {
					header = append(header, col.Name)
				}
				proj = append(proj, info.offset+ci)
			}
		}
	} else {
		for _, sel := range stmt.Selectors {
			_, flat, err := flatRef(tables, sel.Col)
			if err != nil {
				return nil, err
			}
			header = append(header, sel.Col.String())
			proj = append(proj, flat)
		}
	}

	// Stable order: nulls sort last ascending, first descending.
	if len(stmt.OrderBy) > 0 {
		keys := make([]int, len(stmt.OrderBy))
		for i, key := range stmt.OrderBy {
			if _, keys[i], err = flatRef(tables, key.Col); err != nil {
				return nil, err
			}
		}
		sort.SliceStable(rows, func(a, b int) bool {
			for i, key := range stmt.OrderBy {
				cmp := orderCompare(rows[a][keys[i]], rows[b][keys[i]])
				if key.Desc {
					cmp = -cmp
				}
				if cmp != 0 {
					return cmp < 0
				}
			}
			return false
		})
	}

	rows = applyBounds(rows, stmt.Limit, stmt.Offset)

	formatted := make([][]string, len(rows))
	for i, row := range rows {
		cells := make([]string, len(proj))
		for j, flat := range proj {
			cells[j] = row[flat].Format()
		}
		formatted[i] = cells
	}
	return rowsResult(header, formatted), nil
}

// orderCompare orders two values treating null as larger than everything,
// so ascending sorts place nulls last and descending sorts place them first.
func orderCompare(a, b record.Value) int {
	switch {
	case a.IsNull() && b.IsNull():
		return 0
	case a.IsNull():
		return 1
	case b.IsNull():
		return -1
	}
	cmp, ok := a.Compare(b)
	if !ok {
		return 0
	}
	return cmp
}

// applyBounds applies LIMIT and OFFSET to the ordered rows.
func applyBounds(rows [][]record.Value, limit, offset *int) [][]record.Value {
	if offset != nil {
		if *offset >= len(rows) {
			return nil
		}
		rows = rows[*offset:]
	}
	if limit != nil && *limit < len(rows) {
		rows = rows[:*limit]
	}
	return rows
}

// hasAggregate reports whether any selector is an aggregate.
func hasAggregate(selectors []sql.Selector) bool {
	for _, sel := range selectors {
		if sel.Agg != sql.AggNone {
			return true
		}
	}
	return false
}

// aggregate reduces the input rows to one summary row.
func (db *Database) aggregate(tables []tableInfo, selectors []sql.Selector,
	rows [][]record.Value) (*Result, error) {

	header := make([]string, len(selectors))
	cells := make([]string, len(selectors))
	for i, sel := range selectors {
		if sel.Agg == sql.AggNone {
			return nil, fmt.Errorf("%w: mixing aggregates and plain columns", ErrUnsupported)
		}
		if sel.Agg == sql.AggCountAll {
			header[i] = "COUNT(*)"
			cells[i] = fmt.Sprintf("%d", len(rows))
			continue
		}
		_, flat, err := flatRef(tables, sel.Col)
		if err != nil {
			return nil, err
		}
		col := flatColumn(tables, flat)
		name := map[sql.AggKind]string{
			sql.AggCount: "COUNT", sql.AggSum: "SUM", sql.AggAvg: "AVG",
			sql.AggMin: "MIN", sql.AggMax: "MAX",
		}[sel.Agg]
		header[i] = fmt.Sprintf("%s(%s)", name, sel.Col)

		cell, err := computeAggregate(sel.Agg, col, rows, flat)
		if err != nil {
			return nil, err
		}
		cells[i] = cell
	}
	return rowsResult(header, [][]string{cells}), nil
}

// computeAggregate folds one aggregate over the rows, skipping nulls.
// SUM and AVG require a numeric column; MIN and MAX work on any type.
func computeAggregate(agg sql.AggKind, col record.Column, rows [][]record.Value, flat int) (string, error) {
	numeric := col.Type.Kind == record.TypeInt || col.Type.Kind == record.TypeFloat
	if (agg == sql.AggSum || agg == sql.AggAvg) && !numeric {
		return "", fmt.Errorf("%w: %s is not numeric", record.ErrTypeMismatch, col.Name)
	}

	count := 0
	var sumInt int64
	var sumFloat float64
	var best record.Value
	for _, row := range rows {
		v := row[flat]
		if v.IsNull() {
			continue
		}
		count++
		switch {
		case agg == sql.AggSum || agg == sql.AggAvg:
			if v.Kind() == record.TypeInt {
				sumInt += int64(v.Int())
				sumFloat += float64(v.Int())
			} else {
				sumFloat += v.Float()
			}
		case agg == sql.AggMin || agg == sql.AggMax:
			if count == 1 {
				best = v
				continue
			}
			cmp, ok := v.Compare(best)
			if ok && ((agg == sql.AggMin && cmp < 0) || (agg == sql.AggMax && cmp > 0)) {
				best = v
			}
		}
	}

	switch agg {
	case sql.AggCount:
		return fmt.Sprintf("%d", count), nil
	case sql.AggSum:
		if count == 0 {
			return "NULL", nil
		}
		if col.Type.Kind == record.TypeInt {
			return fmt.Sprintf("%d", sumInt), nil
		}
		return fmt.Sprintf("%.2f", sumFloat), nil
	case sql.AggAvg:
		if count == 0 {
			return "NULL", nil
		}
		return fmt.Sprintf("%.2f", sumFloat/float64(count)), nil
	default: // MIN, MAX
		if count == 0 {
			return "NULL", nil
		}
		return best.Format(), nil
	}
}

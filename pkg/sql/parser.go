package sql

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrUnsupported marks grammar the engine deliberately rejects.
var ErrUnsupported = errors.New("unsupported")

// Parse scans and parses one semicolon-terminated statement.
func Parse(text string) (Statement, error) {
	tokens, err := NewScanner(text).ScanTokens()
	if err != nil {
		return nil, fmt.Errorf("syntax error: %w", err)
	}
	parser := &Parser{tokens: tokens}
	stmt, err := parser.parseStatement()
	if err != nil {
		return nil, err
	}
	parser.accept(TokenSemi)
	if !parser.check(TokenEOF) {
		return nil, parser.fail("trailing input after statement")
	}
	return stmt, nil
}

// Parser is a recursive-descent parser over a token stream.
type Parser struct {
	tokens []Token
	idx    int
}

func (p *Parser) peek() Token {
	return p.tokens[p.idx]
}

func (p *Parser) next() Token {
	token := p.tokens[p.idx]
	if token.Type != TokenEOF {
		p.idx++
	}
	return token
}

func (p *Parser) check(typ TokenType) bool {
	return p.peek().Type == typ
}

func (p *Parser) accept(typ TokenType) bool {
	if p.check(typ) {
		p.idx++
		return true
	}
	return false
}

func (p *Parser) expect(typ TokenType) (Token, error) {
	if !p.check(typ) {
		return Token{}, p.fail(fmt.Sprintf("expected %s", typ))
	}
	return p.next(), nil
}

func (p *Parser) fail(msg string) error {
	got := p.peek()
	if got.Type == TokenEOF {
		return fmt.Errorf("syntax error: %s, got end of statement", msg)
	}
	return fmt.Errorf("syntax error: %s, got %q", msg, got.Value)
}

func (p *Parser) identifier() (string, error) {
	token, err := p.expect(TokenID)
	if err != nil {
		return "", err
	}
	return token.Value, nil
}

func (p *Parser) parseStatement() (Statement, error) {
	switch p.peek().Type {
	case "CREATE":
		return p.parseCreate()
	case "DROP":
		return p.parseDrop()
	case "SHOW":
		return p.parseShow()
	case "USE":
		p.next()
		name, err := p.identifier()
		if err != nil {
			return nil, err
		}
		return UseDatabase{Name: name}, nil
	case "DESC":
		p.next()
		name, err := p.identifier()
		if err != nil {
			return nil, err
		}
		return Describe{Table: name}, nil
	case "ALTER":
		return p.parseAlter()
	case "INSERT":
		return p.parseInsert()
	case "DELETE":
		return p.parseDelete()
	case "UPDATE":
		return p.parseUpdate()
	case "SELECT":
		return p.parseSelect()
	case "LOAD":
		return p.parseLoadData()
	}
	return nil, p.fail("expected a statement")
}

func (p *Parser) parseCreate() (Statement, error) {
	p.next()
	switch {
	case p.accept("DATABASE"):
		name, err := p.identifier()
		if err != nil {
			return nil, err
		}
		return CreateDatabase{Name: name}, nil
	case p.accept("TABLE"):
		return p.parseCreateTable()
	}
	return nil, p.fail("expected DATABASE or TABLE after CREATE")
}

func (p *Parser) parseDrop() (Statement, error) {
	p.next()
	switch {
	case p.accept("DATABASE"):
		name, err := p.identifier()
		if err != nil {
			return nil, err
		}
		return DropDatabase{Name: name}, nil
	case p.accept("TABLE"):
		name, err := p.identifier()
		if err != nil {
			return nil, err
		}
		return DropTable{Name: name}, nil
	}
	return nil, p.fail("expected DATABASE or TABLE after DROP")
}

func (p *Parser) parseShow() (Statement, error) {
	p.next()
	switch {
	case p.accept("DATABASES"):
		return ShowDatabases{}, nil
	case p.accept("TABLES"):
		return ShowTables{}, nil
	case p.accept("INDEXES"):
		return ShowIndexes{}, nil
	}
	return nil, p.fail("expected DATABASES, TABLES or INDEXES after SHOW")
}

func (p *Parser) parseCreateTable() (Statement, error) {
	name, err := p.identifier()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenLParen); err != nil {
		return nil, err
	}
	stmt := CreateTable{Name: name}
	for {
		switch p.peek().Type {
		case "PRIMARY":
			p.next()
			if _, err := p.expect("KEY"); err != nil {
				return nil, err
			}
			columns, err := p.parseColumnNameList()
			if err != nil {
				return nil, err
			}
			if stmt.PrimaryKey != nil {
				return nil, p.fail("duplicate PRIMARY KEY clause")
			}
			stmt.PrimaryKey = columns
		case "FOREIGN":
			fk, err := p.parseForeignKeyClause()
			if err != nil {
				return nil, err
			}
			stmt.ForeignKeys = append(stmt.ForeignKeys, fk)
		case "UNIQUE":
			return nil, fmt.Errorf("%w: UNIQUE constraints", ErrUnsupported)
		default:
			col, err := p.parseColumnDef()
			if err != nil {
				return nil, err
			}
			if col.InlinePK {
				if stmt.PrimaryKey != nil {
					return nil, p.fail("duplicate PRIMARY KEY clause")
				}
				stmt.PrimaryKey = []string{col.Name}
			}
			stmt.Columns = append(stmt.Columns, col)
		}
		if !p.accept(TokenComma) {
			break
		}
	}
	if _, err := p.expect(TokenRParen); err != nil {
		return nil, err
	}
	return stmt, nil
}

func (p *Parser) parseColumnDef() (ColumnDef, error) {
	name, err := p.identifier()
	if err != nil {
		return ColumnDef{}, err
	}
	typeName, err := p.parseTypeName()
	if err != nil {
		return ColumnDef{}, err
	}
	col := ColumnDef{Name: name, Type: typeName}
	for {
		switch {
		case p.accept("NOT"):
			if _, err := p.expect("NULL"); err != nil {
				return ColumnDef{}, err
			}
			col.NotNull = true
		case p.accept("DEFAULT"):
			value, err := p.parseValue()
			if err != nil {
				return ColumnDef{}, err
			}
			col.HasDefault = true
			col.Default = value
		case p.check("PRIMARY"):
			// col INT PRIMARY KEY shorthand.
			p.next()
			if _, err := p.expect("KEY"); err != nil {
				return ColumnDef{}, err
			}
			col.NotNull = true
			col.InlinePK = true
		default:
			return col, nil
		}
	}
}

func (p *Parser) parseTypeName() (TypeName, error) {
	switch {
	case p.accept("INT"):
		return TypeName{Name: "INT"}, nil
	case p.accept("FLOAT"):
		return TypeName{Name: "FLOAT"}, nil
	case p.accept("DATE"):
		return TypeName{}, fmt.Errorf("%w: DATE columns", ErrUnsupported)
	case p.accept("VARCHAR"):
		if _, err := p.expect(TokenLParen); err != nil {
			return TypeName{}, err
		}
		token, err := p.expect(TokenInt)
		if err != nil {
			return TypeName{}, err
		}
		length, err := strconv.Atoi(token.Value)
		if err != nil || length <= 0 {
			return TypeName{}, p.fail("VARCHAR length must be a positive integer")
		}
		if _, err := p.expect(TokenRParen); err != nil {
			return TypeName{}, err
		}
		return TypeName{Name: "VARCHAR", Length: length}, nil
	}
	return TypeName{}, p.fail("expected a column type")
}

func (p *Parser) parseForeignKeyClause() (ForeignKeyDef, error) {
	p.next() // FOREIGN
	if _, err := p.expect("KEY"); err != nil {
		return ForeignKeyDef{}, err
	}
	fk := ForeignKeyDef{}
	if p.check(TokenID) {
		fk.Name = p.next().Value
	}
	columns, err := p.parseColumnNameList()
	if err != nil {
		return ForeignKeyDef{}, err
	}
	fk.Columns = columns
	if _, err := p.expect("REFERENCES"); err != nil {
		return ForeignKeyDef{}, err
	}
	if fk.RefTable, err = p.identifier(); err != nil {
		return ForeignKeyDef{}, err
	}
	if fk.RefColumns, err = p.parseColumnNameList(); err != nil {
		return ForeignKeyDef{}, err
	}
	return fk, nil
}

func (p *Parser) parseColumnNameList() ([]string, error) {
	if _, err := p.expect(TokenLParen); err != nil {
		return nil, err
	}
	var columns []string
	for {
		name, err := p.identifier()
		if err != nil {
			return nil, err
		}
		columns = append(columns, name)
		if !p.accept(TokenComma) {
			break
		}
	}
	if _, err := p.expect(TokenRParen); err != nil {
		return nil, err
	}
	return columns, nil
}

func (p *Parser) parseAlter() (Statement, error) {
	p.next()
	if _, err := p.expect("TABLE"); err != nil {
		return nil, err
	}
	table, err := p.identifier()
	if err != nil {
		return nil, err
	}
	switch {
	case p.accept("ADD"):
		switch {
		case p.accept("INDEX"):
			columns, err := p.parseColumnNameList()
			if err != nil {
				return nil, err
			}
			return AddIndex{Table: table, Columns: columns}, nil
		case p.check("PRIMARY"):
			p.next()
			if _, err := p.expect("KEY"); err != nil {
				return nil, err
			}
			columns, err := p.parseColumnNameList()
			if err != nil {
				return nil, err
			}
			return AddPrimaryKey{Table: table, Columns: columns}, nil
		case p.check("FOREIGN"):
			fk, err := p.parseForeignKeyClause()
			if err != nil {
				return nil, err
			}
			return AddForeignKey{
				Table:      table,
				Name:       fk.Name,
				Columns:    fk.Columns,
				RefTable:   fk.RefTable,
				RefColumns: fk.RefColumns,
			}, nil
		}
		return nil, p.fail("expected INDEX, PRIMARY KEY or FOREIGN KEY after ADD")
	case p.accept("DROP"):
		switch {
		case p.accept("INDEX"):
			// Accept both DROP INDEX col and DROP INDEX (col).
			if p.check(TokenLParen) {
				columns, err := p.parseColumnNameList()
				if err != nil {
					return nil, err
				}
				if len(columns) != 1 {
					return nil, fmt.Errorf("%w: multi-column indexes", ErrUnsupported)
				}
				return DropIndex{Table: table, Column: columns[0]}, nil
			}
			column, err := p.identifier()
			if err != nil {
				return nil, err
			}
			return DropIndex{Table: table, Column: column}, nil
		case p.check("PRIMARY"):
			p.next()
			if _, err := p.expect("KEY"); err != nil {
				return nil, err
			}
			return DropPrimaryKey{Table: table}, nil
		case p.check("FOREIGN"):
			p.next()
			if _, err := p.expect("KEY"); err != nil {
				return nil, err
			}
			name, err := p.identifier()
			if err != nil {
				return nil, err
			}
			return DropForeignKey{Table: table, Name: name}, nil
		}
		return nil, p.fail("expected INDEX, PRIMARY KEY or FOREIGN KEY after DROP")
	}
	return nil, p.fail("expected ADD or DROP after ALTER TABLE")
}

func (p *Parser) parseInsert() (Statement, error) {
	p.next()
	if _, err := p.expect("INTO"); err != nil {
		return nil, err
	}
	table, err := p.identifier()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect("VALUES"); err != nil {
		return nil, err
	}
	stmt := Insert{Table: table}
	for {
		if _, err := p.expect(TokenLParen); err != nil {
			return nil, err
		}
		var row []Value
		for {
			value, err := p.parseValue()
			if err != nil {
				return nil, err
			}
			row = append(row, value)
			if !p.accept(TokenComma) {
				break
			}
		}
		if _, err := p.expect(TokenRParen); err != nil {
			return nil, err
		}
		stmt.Rows = append(stmt.Rows, row)
		if !p.accept(TokenComma) {
			break
		}
	}
	return stmt, nil
}

func (p *Parser) parseValue() (Value, error) {
	token := p.next()
	switch token.Type {
	case "NULL":
		return Value{Kind: LitNull}, nil
	case TokenInt:
		v, err := strconv.ParseInt(token.Value, 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("integer literal %q out of range", token.Value)
		}
		return Value{Kind: LitInt, Int: v}, nil
	case TokenFloat:
		v, err := strconv.ParseFloat(token.Value, 64)
		if err != nil {
			return Value{}, fmt.Errorf("bad float literal %q", token.Value)
		}
		return Value{Kind: LitFloat, Float: v}, nil
	case TokenStr:
		return Value{Kind: LitString, Str: token.Value}, nil
	}
	if token.Type != TokenEOF {
		p.idx--
	}
	return Value{}, p.fail("expected a literal")
}

func (p *Parser) parseDelete() (Statement, error) {
	p.next()
	if _, err := p.expect("FROM"); err != nil {
		return nil, err
	}
	table, err := p.identifier()
	if err != nil {
		return nil, err
	}
	where, err := p.parseOptionalWhere()
	if err != nil {
		return nil, err
	}
	return Delete{Table: table, Where: where}, nil
}

func (p *Parser) parseUpdate() (Statement, error) {
	p.next()
	table, err := p.identifier()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect("SET"); err != nil {
		return nil, err
	}
	stmt := Update{Table: table}
	for {
		column, err := p.identifier()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenEq); err != nil {
			return nil, err
		}
		value, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		stmt.Sets = append(stmt.Sets, SetClause{Column: column, Value: value})
		if !p.accept(TokenComma) {
			break
		}
	}
	where, err := p.parseOptionalWhere()
	if err != nil {
		return nil, err
	}
	stmt.Where = where
	return stmt, nil
}

func (p *Parser) parseLoadData() (Statement, error) {
	p.next()
	if _, err := p.expect("DATA"); err != nil {
		return nil, err
	}
	if _, err := p.expect("INFILE"); err != nil {
		return nil, err
	}
	path, err := p.expect(TokenStr)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect("INTO"); err != nil {
		return nil, err
	}
	if _, err := p.expect("TABLE"); err != nil {
		return nil, err
	}
	table, err := p.identifier()
	if err != nil {
		return nil, err
	}
	// Optional FIELDS TERMINATED BY clause; only ',' is supported.
	if p.accept("FIELDS") {
		if _, err := p.expect("TERMINATED"); err != nil {
			return nil, err
		}
		if _, err := p.expect("BY"); err != nil {
			return nil, err
		}
		sep, err := p.expect(TokenStr)
		if err != nil {
			return nil, err
		}
		if sep.Value != "," {
			return nil, fmt.Errorf("%w: field terminator %q", ErrUnsupported, sep.Value)
		}
	}
	return LoadData{Path: path.Value, Table: table}, nil
}

func (p *Parser) parseSelect() (Statement, error) {
	p.next()
	stmt := Select{}
	if p.accept(TokenStar) {
		stmt.All = true
	} else {
		for {
			selector, err := p.parseSelector()
			if err != nil {
				return nil, err
			}
			stmt.Selectors = append(stmt.Selectors, selector)
			if !p.accept(TokenComma) {
				break
			}
		}
	}
	if _, err := p.expect("FROM"); err != nil {
		return nil, err
	}
	for {
		table, err := p.identifier()
		if err != nil {
			return nil, err
		}
		stmt.Tables = append(stmt.Tables, table)
		if !p.accept(TokenComma) {
			break
		}
	}
	where, err := p.parseOptionalWhere()
	if err != nil {
		return nil, err
	}
	stmt.Where = where
	if p.accept("GROUP") {
		return nil, fmt.Errorf("%w: GROUP BY", ErrUnsupported)
	}
	if p.accept("ORDER") {
		if _, err := p.expect("BY"); err != nil {
			return nil, err
		}
		for {
			col, err := p.parseColumnRef()
			if err != nil {
				return nil, err
			}
			key := OrderKey{Col: col}
			if p.accept("DESC") {
				key.Desc = true
			} else {
				p.accept("ASC")
			}
			stmt.OrderBy = append(stmt.OrderBy, key)
			if !p.accept(TokenComma) {
				break
			}
		}
	}
	if p.accept("LIMIT") {
		limit, err := p.parseBound()
		if err != nil {
			return nil, err
		}
		stmt.Limit = &limit
		if p.accept("OFFSET") {
			offset, err := p.parseBound()
			if err != nil {
				return nil, err
			}
			stmt.Offset = &offset
		}
	}
	return stmt, nil
}

func (p *Parser) parseBound() (int, error) {
	token, err := p.expect(TokenInt)
	if err != nil {
		return 0, err
	}
	bound, err := strconv.Atoi(token.Value)
	if err != nil || bound < 0 {
		return 0, p.fail("expected a non-negative integer")
	}
	return bound, nil
}

func (p *Parser) parseSelector() (Selector, error) {
	aggs := map[TokenType]AggKind{
		"COUNT": AggCount, "SUM": AggSum, "AVG": AggAvg, "MIN": AggMin, "MAX": AggMax,
	}
	if agg, ok := aggs[p.peek().Type]; ok {
		p.next()
		if _, err := p.expect(TokenLParen); err != nil {
			return Selector{}, err
		}
		if agg == AggCount && p.accept(TokenStar) {
			if _, err := p.expect(TokenRParen); err != nil {
				return Selector{}, err
			}
			return Selector{Agg: AggCountAll}, nil
		}
		col, err := p.parseColumnRef()
		if err != nil {
			return Selector{}, err
		}
		if _, err := p.expect(TokenRParen); err != nil {
			return Selector{}, err
		}
		return Selector{Agg: agg, Col: col}, nil
	}
	col, err := p.parseColumnRef()
	if err != nil {
		return Selector{}, err
	}
	return Selector{Col: col}, nil
}

func (p *Parser) parseColumnRef() (ColumnRef, error) {
	first, err := p.identifier()
	if err != nil {
		return ColumnRef{}, err
	}
	if p.accept(TokenDot) {
		column, err := p.identifier()
		if err != nil {
			return ColumnRef{}, err
		}
		return ColumnRef{Table: first, Column: column}, nil
	}
	return ColumnRef{Column: first}, nil
}

func (p *Parser) parseOptionalWhere() ([]Condition, error) {
	if !p.accept("WHERE") {
		return nil, nil
	}
	var conditions []Condition
	for {
		cond, err := p.parseCondition()
		if err != nil {
			return nil, err
		}
		conditions = append(conditions, cond)
		if p.accept("OR") {
			return nil, fmt.Errorf("%w: OR in WHERE", ErrUnsupported)
		}
		if !p.accept("AND") {
			break
		}
	}
	return conditions, nil
}

func (p *Parser) parseCondition() (Condition, error) {
	left, err := p.parseColumnRef()
	if err != nil {
		return Condition{}, err
	}
	switch p.peek().Type {
	case "IS":
		p.next()
		if p.accept("NOT") {
			if _, err := p.expect("NULL"); err != nil {
				return Condition{}, err
			}
			return Condition{Kind: CondIsNotNull, Left: left}, nil
		}
		if _, err := p.expect("NULL"); err != nil {
			return Condition{}, err
		}
		return Condition{Kind: CondIsNull, Left: left}, nil
	case "LIKE":
		p.next()
		pattern, err := p.expect(TokenStr)
		if err != nil {
			return Condition{}, err
		}
		return Condition{Kind: CondLike, Left: left, Pattern: pattern.Value}, nil
	case "IN":
		return Condition{}, fmt.Errorf("%w: IN predicates", ErrUnsupported)
	}
	op, err := p.parseCompareOp()
	if err != nil {
		return Condition{}, err
	}
	if p.check("SELECT") {
		return Condition{}, fmt.Errorf("%w: subqueries", ErrUnsupported)
	}
	if p.check(TokenLParen) {
		p.next()
		if p.check("SELECT") {
			return Condition{}, fmt.Errorf("%w: subqueries", ErrUnsupported)
		}
		p.idx--
	}
	if p.check(TokenID) {
		right, err := p.parseColumnRef()
		if err != nil {
			return Condition{}, err
		}
		return Condition{Kind: CondCompareCol, Left: left, Op: op, RightCol: right}, nil
	}
	value, err := p.parseValue()
	if err != nil {
		return Condition{}, err
	}
	return Condition{Kind: CondCompareValue, Left: left, Op: op, Value: value}, nil
}

func (p *Parser) parseCompareOp() (CompareOp, error) {
	token := p.next()
	switch token.Type {
	case TokenEq:
		return OpEq, nil
	case TokenNe:
		return OpNe, nil
	case TokenLt:
		return OpLt, nil
	case TokenLe:
		return OpLe, nil
	case TokenGt:
		return OpGt, nil
	case TokenGe:
		return OpGe, nil
	}
	if token.Type != TokenEOF {
		p.idx--
	}
	return 0, p.fail("expected a comparison operator")
}

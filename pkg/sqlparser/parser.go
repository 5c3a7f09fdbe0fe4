package sqlparser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/maxBogovick/relmem/pkg/errors"
)

// Parser is a recursive-descent parser over a two-token lookahead
// window, the same shape as tinySQL's Parser{lx, cur, peek}.
type Parser struct {
	lx   *Lexer
	cur  Token
	peek Token
}

// Parse lexes and parses a single SQL statement.
func Parse(sql string) (Statement, error) {
	p := &Parser{lx: NewLexer(sql)}
	p.advance()
	p.advance()
	stmt, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	p.skipSemicolon()
	if p.cur.Kind != TokEOF {
		return nil, p.errf("unexpected trailing input %s", p.cur)
	}
	return stmt, nil
}

func (p *Parser) advance() {
	p.cur = p.peek
	p.peek = p.lx.Next()
}

func (p *Parser) skipSemicolon() {
	if p.cur.Kind == TokSymbol && p.cur.Val == ";" {
		p.advance()
	}
}

func (p *Parser) errf(format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	return errors.NewParseError("%s (at position %d)", msg, p.cur.Pos)
}

func (p *Parser) isKeyword(kw string) bool {
	return p.cur.Kind == TokKeyword && p.cur.Val == kw
}

func (p *Parser) peekIsKeyword(kw string) bool {
	return p.peek.Kind == TokKeyword && p.peek.Val == kw
}

func (p *Parser) isSymbol(s string) bool {
	return p.cur.Kind == TokSymbol && p.cur.Val == s
}

func (p *Parser) expectKeyword(kw string) error {
	if !p.isKeyword(kw) {
		return p.errf("expected keyword %s, got %s", kw, p.cur)
	}
	p.advance()
	return nil
}

func (p *Parser) expectSymbol(s string) error {
	if !p.isSymbol(s) {
		return p.errf("expected %q, got %s", s, p.cur)
	}
	p.advance()
	return nil
}

func (p *Parser) expectIdent() (string, error) {
	if p.cur.Kind != TokIdent {
		return "", p.errf("expected identifier, got %s", p.cur)
	}
	name := p.cur.Val
	p.advance()
	return name, nil
}

// parseStatement dispatches on the leading keyword, mirroring tinySQL's
// top-level statement switch.
func (p *Parser) parseStatement() (Statement, error) {
	switch {
	case p.isKeyword("SELECT"), p.isKeyword("WITH"):
		return p.parseSelect()
	case p.isKeyword("INSERT"):
		return p.parseInsert()
	case p.isKeyword("UPDATE"):
		return p.parseUpdate()
	case p.isKeyword("DELETE"):
		return p.parseDelete()
	case p.isKeyword("CREATE"):
		return p.parseCreate()
	case p.isKeyword("DROP"):
		return p.parseDrop()
	case p.isKeyword("ALTER"):
		return p.parseAlter()
	case p.isKeyword("EXPLAIN"):
		p.advance()
		target, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		return &ExplainStatement{Target: target}, nil
	case p.isKeyword("BEGIN"):
		p.advance()
		return &TxnControlStatement{Kind: TxnBegin}, nil
	case p.isKeyword("COMMIT"):
		p.advance()
		return &TxnControlStatement{Kind: TxnCommit}, nil
	case p.isKeyword("ROLLBACK"):
		p.advance()
		return &TxnControlStatement{Kind: TxnRollback}, nil
	default:
		return nil, p.errf("unexpected token %s at start of statement", p.cur)
	}
}

// --- SELECT ---

func (p *Parser) parseSelect() (*SelectStatement, error) {
	stmt := &SelectStatement{}

	if p.isKeyword("WITH") {
		p.advance()
		for {
			cte, err := p.parseCTE()
			if err != nil {
				return nil, err
			}
			stmt.CTEs = append(stmt.CTEs, cte)
			if p.isSymbol(",") {
				p.advance()
				continue
			}
			break
		}
	}

	if err := p.expectKeyword("SELECT"); err != nil {
		return nil, err
	}
	if p.isKeyword("DISTINCT") {
		stmt.Distinct = true
		p.advance()
	}

	cols, err := p.parseSelectList()
	if err != nil {
		return nil, err
	}
	stmt.Columns = cols

	if p.isKeyword("FROM") {
		p.advance()
		if p.isSymbol("(") {
			p.advance()
			sub, err := p.parseSelect()
			if err != nil {
				return nil, err
			}
			if err := p.expectSymbol(")"); err != nil {
				return nil, err
			}
			alias, err := p.parseOptionalAlias()
			if err != nil {
				return nil, err
			}
			stmt.FromSub = &SubqueryRef{Subquery: sub, Alias: alias}
		} else {
			ref, err := p.parseTableRef()
			if err != nil {
				return nil, err
			}
			stmt.From = &ref
		}

		for p.isKeyword("JOIN") || p.isKeyword("INNER") || p.isKeyword("LEFT") || p.isKeyword("RIGHT") {
			join, err := p.parseJoin()
			if err != nil {
				return nil, err
			}
			stmt.Joins = append(stmt.Joins, join)
		}
	}

	if p.isKeyword("WHERE") {
		p.advance()
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Where = expr
	}

	if p.isKeyword("GROUP") {
		p.advance()
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		exprs, err := p.parseExprList()
		if err != nil {
			return nil, err
		}
		stmt.GroupBy = exprs
	}

	if p.isKeyword("HAVING") {
		p.advance()
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Having = expr
	}

	if p.isKeyword("ORDER") {
		p.advance()
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		items, err := p.parseOrderByList()
		if err != nil {
			return nil, err
		}
		stmt.OrderBy = items
	}

	if p.isKeyword("LIMIT") {
		p.advance()
		n, err := p.parseIntLiteral()
		if err != nil {
			return nil, err
		}
		stmt.Limit = &n
	}

	if p.isKeyword("OFFSET") {
		p.advance()
		n, err := p.parseIntLiteral()
		if err != nil {
			return nil, err
		}
		stmt.Offset = &n
	}

	return stmt, nil
}

func (p *Parser) parseCTE() (CTE, error) {
	recursive := false
	if p.isKeyword("RECURSIVE") {
		recursive = true
		p.advance()
	}
	name, err := p.expectIdent()
	if err != nil {
		return CTE{}, err
	}
	if err := p.expectKeyword("AS"); err != nil {
		return CTE{}, err
	}
	if err := p.expectSymbol("("); err != nil {
		return CTE{}, err
	}
	query, err := p.parseSelect()
	if err != nil {
		return CTE{}, err
	}
	if err := p.expectSymbol(")"); err != nil {
		return CTE{}, err
	}
	return CTE{Name: name, Recursive: recursive, Query: query}, nil
}

func (p *Parser) parseSelectList() ([]SelectItem, error) {
	var items []SelectItem
	for {
		item, err := p.parseSelectItem()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
		if p.isSymbol(",") {
			p.advance()
			continue
		}
		break
	}
	return items, nil
}

func (p *Parser) parseSelectItem() (SelectItem, error) {
	if p.isSymbol("*") {
		p.advance()
		return SelectItem{Expr: &Star{}}, nil
	}
	expr, err := p.parseExpr()
	if err != nil {
		return SelectItem{}, err
	}
	alias, err := p.parseOptionalAlias()
	if err != nil {
		return SelectItem{}, err
	}
	return SelectItem{Expr: expr, Alias: alias}, nil
}

func (p *Parser) parseOptionalAlias() (string, error) {
	if p.isKeyword("AS") {
		p.advance()
		return p.expectIdent()
	}
	if p.cur.Kind == TokIdent {
		name := p.cur.Val
		p.advance()
		return name, nil
	}
	return "", nil
}

func (p *Parser) parseTableRef() (TableRef, error) {
	name, err := p.expectIdent()
	if err != nil {
		return TableRef{}, err
	}
	alias, err := p.parseOptionalAlias()
	if err != nil {
		return TableRef{}, err
	}
	return TableRef{Name: name, Alias: alias}, nil
}

func (p *Parser) parseJoin() (Join, error) {
	kind := JoinInner
	switch {
	case p.isKeyword("INNER"):
		p.advance()
	case p.isKeyword("LEFT"):
		kind = JoinLeft
		p.advance()
	case p.isKeyword("RIGHT"):
		kind = JoinRight
		p.advance()
	}
	if err := p.expectKeyword("JOIN"); err != nil {
		return Join{}, err
	}
	ref, err := p.parseTableRef()
	if err != nil {
		return Join{}, err
	}
	if err := p.expectKeyword("ON"); err != nil {
		return Join{}, err
	}
	on, err := p.parseExpr()
	if err != nil {
		return Join{}, err
	}
	return Join{Kind: kind, Table: ref, On: on}, nil
}

func (p *Parser) parseOrderByList() ([]OrderByItem, error) {
	var items []OrderByItem
	for {
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		desc := false
		if p.isKeyword("ASC") {
			p.advance()
		} else if p.isKeyword("DESC") {
			desc = true
			p.advance()
		}
		items = append(items, OrderByItem{Expr: expr, Desc: desc})
		if p.isSymbol(",") {
			p.advance()
			continue
		}
		break
	}
	return items, nil
}

func (p *Parser) parseIntLiteral() (int64, error) {
	if p.cur.Kind != TokNumber {
		return 0, p.errf("expected number, got %s", p.cur)
	}
	n, err := strconv.ParseInt(p.cur.Val, 10, 64)
	if err != nil {
		return 0, p.errf("invalid integer literal %q", p.cur.Val)
	}
	p.advance()
	return n, nil
}

// --- INSERT / UPDATE / DELETE ---

func (p *Parser) parseInsert() (*InsertStatement, error) {
	if err := p.expectKeyword("INSERT"); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("INTO"); err != nil {
		return nil, err
	}
	table, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	stmt := &InsertStatement{Table: table}

	if p.isSymbol("(") {
		p.advance()
		for {
			col, err := p.expectIdent()
			if err != nil {
				return nil, err
			}
			stmt.Columns = append(stmt.Columns, col)
			if p.isSymbol(",") {
				p.advance()
				continue
			}
			break
		}
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
	}

	if p.isKeyword("SELECT") || p.isKeyword("WITH") {
		sel, err := p.parseSelect()
		if err != nil {
			return nil, err
		}
		stmt.Select = sel
		return stmt, nil
	}

	if err := p.expectKeyword("VALUES"); err != nil {
		return nil, err
	}
	for {
		if err := p.expectSymbol("("); err != nil {
			return nil, err
		}
		row, err := p.parseExprList()
		if err != nil {
			return nil, err
		}
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
		stmt.Values = append(stmt.Values, row)
		if p.isSymbol(",") {
			p.advance()
			continue
		}
		break
	}
	return stmt, nil
}

func (p *Parser) parseUpdate() (*UpdateStatement, error) {
	if err := p.expectKeyword("UPDATE"); err != nil {
		return nil, err
	}
	table, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("SET"); err != nil {
		return nil, err
	}
	stmt := &UpdateStatement{Table: table}
	for {
		col, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		if err := p.expectSymbol("="); err != nil {
			return nil, err
		}
		val, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Set = append(stmt.Set, Assignment{Column: col, Value: val})
		if p.isSymbol(",") {
			p.advance()
			continue
		}
		break
	}
	if p.isKeyword("WHERE") {
		p.advance()
		where, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Where = where
	}
	return stmt, nil
}

func (p *Parser) parseDelete() (*DeleteStatement, error) {
	if err := p.expectKeyword("DELETE"); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	table, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	stmt := &DeleteStatement{Table: table}
	if p.isKeyword("WHERE") {
		p.advance()
		where, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Where = where
	}
	return stmt, nil
}

// --- DDL ---

func (p *Parser) parseCreate() (Statement, error) {
	if err := p.expectKeyword("CREATE"); err != nil {
		return nil, err
	}
	unique := false
	if p.isKeyword("UNIQUE") {
		unique = true
		p.advance()
	}
	switch {
	case p.isKeyword("TABLE"):
		return p.parseCreateTable()
	case p.isKeyword("INDEX"):
		return p.parseCreateIndex(unique)
	case p.isKeyword("VIEW"):
		return p.parseCreateView()
	default:
		return nil, p.errf("expected TABLE, INDEX, or VIEW after CREATE, got %s", p.cur)
	}
}

func (p *Parser) parseCreateTable() (*CreateTableStatement, error) {
	if err := p.expectKeyword("TABLE"); err != nil {
		return nil, err
	}
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if err := p.expectSymbol("("); err != nil {
		return nil, err
	}
	stmt := &CreateTableStatement{Name: name}
	for {
		col, err := p.parseColumnDef()
		if err != nil {
			return nil, err
		}
		stmt.Columns = append(stmt.Columns, col)
		if p.isSymbol(",") {
			p.advance()
			continue
		}
		break
	}
	if err := p.expectSymbol(")"); err != nil {
		return nil, err
	}
	return stmt, nil
}

func (p *Parser) parseColumnDef() (ColumnDef, error) {
	name, err := p.expectIdent()
	if err != nil {
		return ColumnDef{}, err
	}
	typeName, err := p.parseTypeName()
	if err != nil {
		return ColumnDef{}, err
	}
	col := ColumnDef{Name: name, Type: typeName, Nullable: true}
	for {
		switch {
		case p.isKeyword("PRIMARY"):
			p.advance()
			if err := p.expectKeyword("KEY"); err != nil {
				return ColumnDef{}, err
			}
			col.Primary = true
			col.Nullable = false
		case p.isKeyword("NOT"):
			p.advance()
			if err := p.expectKeyword("NULL"); err != nil {
				return ColumnDef{}, err
			}
			col.Nullable = false
		case p.isKeyword("NULL"):
			p.advance()
			col.Nullable = true
		case p.isKeyword("DEFAULT"):
			p.advance()
			def, err := p.parsePrimary()
			if err != nil {
				return ColumnDef{}, err
			}
			col.Default = def
		default:
			return col, nil
		}
	}
}

func (p *Parser) parseTypeName() (string, error) {
	if p.cur.Kind != TokKeyword && p.cur.Kind != TokIdent {
		return "", p.errf("expected a type name, got %s", p.cur)
	}
	name := strings.ToUpper(p.cur.Val)
	p.advance()
	return name, nil
}

func (p *Parser) parseCreateIndex(unique bool) (*CreateIndexStatement, error) {
	if err := p.expectKeyword("INDEX"); err != nil {
		return nil, err
	}
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("ON"); err != nil {
		return nil, err
	}
	table, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if err := p.expectSymbol("("); err != nil {
		return nil, err
	}
	var cols []string
	for {
		col, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		cols = append(cols, col)
		if p.isSymbol(",") {
			p.advance()
			continue
		}
		break
	}
	if err := p.expectSymbol(")"); err != nil {
		return nil, err
	}
	return &CreateIndexStatement{Name: name, Table: table, Columns: cols, Unique: unique}, nil
}

func (p *Parser) parseCreateView() (*CreateViewStatement, error) {
	if err := p.expectKeyword("VIEW"); err != nil {
		return nil, err
	}
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("AS"); err != nil {
		return nil, err
	}
	query, err := p.parseSelect()
	if err != nil {
		return nil, err
	}
	return &CreateViewStatement{Name: name, Query: query}, nil
}

func (p *Parser) parseDrop() (Statement, error) {
	if err := p.expectKeyword("DROP"); err != nil {
		return nil, err
	}
	switch {
	case p.isKeyword("TABLE"):
		p.advance()
		name, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		return &DropTableStatement{Name: name}, nil
	case p.isKeyword("INDEX"):
		p.advance()
		name, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		return &DropIndexStatement{Name: name}, nil
	case p.isKeyword("VIEW"):
		p.advance()
		name, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		return &DropViewStatement{Name: name}, nil
	default:
		return nil, p.errf("expected TABLE, INDEX, or VIEW after DROP, got %s", p.cur)
	}
}

func (p *Parser) parseAlter() (Statement, error) {
	if err := p.expectKeyword("ALTER"); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("TABLE"); err != nil {
		return nil, err
	}
	table, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	switch {
	case p.isKeyword("RENAME"):
		p.advance()
		if p.isKeyword("TO") {
			p.advance()
			newName, err := p.expectIdent()
			if err != nil {
				return nil, err
			}
			return &RenameTableStatement{Table: table, NewName: newName}, nil
		}
		if err := p.expectKeyword("COLUMN"); err != nil {
			return nil, err
		}
		oldName, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		if err := p.expectKeyword("TO"); err != nil {
			return nil, err
		}
		newName, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		return &AlterTableStatement{Table: table, Kind: AlterRenameColumn, ColumnName: oldName, NewName: newName}, nil
	case p.isKeyword("ADD"):
		p.advance()
		if p.isKeyword("COLUMN") {
			p.advance()
		}
		col, err := p.parseColumnDef()
		if err != nil {
			return nil, err
		}
		return &AlterTableStatement{Table: table, Kind: AlterAddColumn, Column: col}, nil
	case p.isKeyword("DROP"):
		p.advance()
		if p.isKeyword("COLUMN") {
			p.advance()
		}
		name, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		return &AlterTableStatement{Table: table, Kind: AlterDropColumn, ColumnName: name}, nil
	default:
		return nil, p.errf("unsupported ALTER TABLE clause %s", p.cur)
	}
}

// --- expressions ---
//
// Precedence climbs OR -> AND -> NOT -> comparison/IS/LIKE/BETWEEN/IN ->
// additive -> multiplicative -> JSON arrow -> unary -> primary, the same
// layering tinySQL's parseExpr/parseTerm/parseFactor chain uses,
// extended with the predicate forms spec §4.F adds.

func (p *Parser) parseExprList() ([]Expr, error) {
	var exprs []Expr
	for {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, e)
		if p.isSymbol(",") {
			p.advance()
			continue
		}
		break
	}
	return exprs, nil
}

func (p *Parser) parseExpr() (Expr, error) {
	return p.parseOr()
}

func (p *Parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("OR") {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: "OR", Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseAnd() (Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("AND") {
		p.advance()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: "AND", Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseNot() (Expr, error) {
	if p.isKeyword("NOT") {
		p.advance()
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &Unary{Op: "NOT", Expr: operand}, nil
	}
	return p.parsePredicate()
}

// parsePredicate handles comparisons and the postfix predicate forms
// (IS NULL, LIKE, BETWEEN, IN, plus their NOT variants) that all bind
// at the same level, directly on the left-hand comparison operand.
func (p *Parser) parsePredicate() (Expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}

	for {
		switch {
		case p.isSymbol("="), p.isSymbol("<>"), p.isSymbol("!="),
			p.isSymbol("<"), p.isSymbol("<="), p.isSymbol(">"), p.isSymbol(">="):
			op := p.cur.Val
			p.advance()
			right, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			left = &Binary{Op: op, Left: left, Right: right}

		case p.isKeyword("IS"):
			p.advance()
			negate := false
			if p.isKeyword("NOT") {
				negate = true
				p.advance()
			}
			if err := p.expectKeyword("NULL"); err != nil {
				return nil, err
			}
			left = &IsNull{Expr: left, Negate: negate}

		case p.isKeyword("LIKE"):
			p.advance()
			pattern, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			left = &Like{Expr: left, Pattern: pattern}

		case p.isKeyword("BETWEEN"):
			p.advance()
			lo, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			if err := p.expectKeyword("AND"); err != nil {
				return nil, err
			}
			hi, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			left = &Between{Expr: left, Low: lo, High: hi}

		case p.isKeyword("IN"):
			p.advance()
			in, err := p.parseInList(left, false)
			if err != nil {
				return nil, err
			}
			left = in

		case p.isKeyword("NOT") && (p.peekIsKeyword("LIKE") || p.peekIsKeyword("BETWEEN") || p.peekIsKeyword("IN")):
			p.advance()
			switch {
			case p.isKeyword("LIKE"):
				p.advance()
				pattern, err := p.parseAdditive()
				if err != nil {
					return nil, err
				}
				left = &Like{Expr: left, Pattern: pattern, Negate: true}
			case p.isKeyword("BETWEEN"):
				p.advance()
				lo, err := p.parseAdditive()
				if err != nil {
					return nil, err
				}
				if err := p.expectKeyword("AND"); err != nil {
					return nil, err
				}
				hi, err := p.parseAdditive()
				if err != nil {
					return nil, err
				}
				left = &Between{Expr: left, Low: lo, High: hi, Negate: true}
			case p.isKeyword("IN"):
				p.advance()
				in, err := p.parseInList(left, true)
				if err != nil {
					return nil, err
				}
				left = in
			}

		default:
			return left, nil
		}
	}
}

func (p *Parser) parseInList(left Expr, negate bool) (Expr, error) {
	if err := p.expectSymbol("("); err != nil {
		return nil, err
	}
	if p.isKeyword("SELECT") || p.isKeyword("WITH") {
		sub, err := p.parseSelect()
		if err != nil {
			return nil, err
		}
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
		return &In{Expr: left, Subquery: sub, Negate: negate}, nil
	}
	list, err := p.parseExprList()
	if err != nil {
		return nil, err
	}
	if err := p.expectSymbol(")"); err != nil {
		return nil, err
	}
	return &In{Expr: left, List: list, Negate: negate}, nil
}

func (p *Parser) parseAdditive() (Expr, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.isSymbol("+") || p.isSymbol("-") {
		op := p.cur.Val
		p.advance()
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseMultiplicative() (Expr, error) {
	left, err := p.parseJSONAccess()
	if err != nil {
		return nil, err
	}
	for p.isSymbol("*") || p.isSymbol("/") || p.isSymbol("%") {
		op := p.cur.Val
		p.advance()
		right, err := p.parseJSONAccess()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseJSONAccess() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.isSymbol("->") || p.isSymbol("->>") {
		op := p.cur.Val
		p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseUnary() (Expr, error) {
	if p.isSymbol("-") {
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &Unary{Op: "-", Expr: operand}, nil
	}
	return p.parsePrimary()
}

func (p *Parser) parsePrimary() (Expr, error) {
	switch {
	case p.cur.Kind == TokNumber:
		return p.parseNumberLiteral()
	case p.cur.Kind == TokString:
		val := p.cur.Val
		p.advance()
		return &Literal{Val: val}, nil
	case p.isKeyword("TRUE"):
		p.advance()
		return &Literal{Val: true}, nil
	case p.isKeyword("FALSE"):
		p.advance()
		return &Literal{Val: false}, nil
	case p.isKeyword("NULL"):
		p.advance()
		return &Literal{Val: nil}, nil
	case p.isKeyword("CASE"):
		return p.parseCase()
	case p.isKeyword("EXISTS"):
		p.advance()
		if err := p.expectSymbol("("); err != nil {
			return nil, err
		}
		sub, err := p.parseSelect()
		if err != nil {
			return nil, err
		}
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
		return &Exists{Subquery: sub}, nil
	case p.isKeyword("NOT") && p.peekIsKeyword("EXISTS"):
		p.advance()
		p.advance()
		if err := p.expectSymbol("("); err != nil {
			return nil, err
		}
		sub, err := p.parseSelect()
		if err != nil {
			return nil, err
		}
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
		return &Exists{Subquery: sub, Negate: true}, nil
	case p.isSymbol("("):
		p.advance()
		if p.isKeyword("SELECT") || p.isKeyword("WITH") {
			sub, err := p.parseSelect()
			if err != nil {
				return nil, err
			}
			if err := p.expectSymbol(")"); err != nil {
				return nil, err
			}
			return &ScalarSubquery{Subquery: sub}, nil
		}
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
		return expr, nil
	case p.isSymbol("*"):
		p.advance()
		return &Star{}, nil
	case p.cur.Kind == TokIdent || p.isAggregateOrFuncKeyword():
		return p.parseIdentOrFuncCall()
	default:
		return nil, p.errf("unexpected token %s in expression", p.cur)
	}
}

func (p *Parser) isAggregateOrFuncKeyword() bool {
	if p.cur.Kind != TokKeyword {
		return false
	}
	switch p.cur.Val {
	case "COUNT", "SUM", "AVG", "MIN", "MAX", "ROW_NUMBER", "RANK",
		"UPPER", "LOWER", "LENGTH", "COALESCE", "NOW":
		return true
	default:
		return false
	}
}

func (p *Parser) parseNumberLiteral() (Expr, error) {
	text := p.cur.Val
	p.advance()
	if strings.Contains(text, ".") {
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, p.errf("invalid float literal %q", text)
		}
		return &Literal{Val: f}, nil
	}
	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return nil, p.errf("invalid integer literal %q", text)
	}
	return &Literal{Val: n}, nil
}

func (p *Parser) parseCase() (Expr, error) {
	p.advance() // CASE

	var subject Expr
	if !p.isKeyword("WHEN") {
		s, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		subject = s
	}

	expr := &CaseExpr{}
	for p.isKeyword("WHEN") {
		p.advance()
		cond, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if subject != nil {
			cond = &Binary{Op: "=", Left: subject, Right: cond}
		}
		if err := p.expectKeyword("THEN"); err != nil {
			return nil, err
		}
		then, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		expr.Whens = append(expr.Whens, WhenClause{Cond: cond, Then: then})
	}
	if p.isKeyword("ELSE") {
		p.advance()
		elseExpr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		expr.Else = elseExpr
	}
	if err := p.expectKeyword("END"); err != nil {
		return nil, err
	}
	return expr, nil
}

// parseIdentOrFuncCall handles bare column references, qualified
// "t.col" references, and function calls (scalar, aggregate, window).
func (p *Parser) parseIdentOrFuncCall() (Expr, error) {
	name := p.cur.Val
	p.advance()

	if p.isSymbol(".") {
		p.advance()
		field, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		return &Ident{Name: name + "." + field}, nil
	}

	if !p.isSymbol("(") {
		return &Ident{Name: name}, nil
	}

	p.advance() // (
	call := &FuncCall{Name: strings.ToUpper(name)}
	if p.isKeyword("DISTINCT") {
		call.Distinct = true
		p.advance()
	}
	if p.isSymbol("*") {
		p.advance()
		call.Args = append(call.Args, &Star{})
	} else if !p.isSymbol(")") {
		args, err := p.parseExprList()
		if err != nil {
			return nil, err
		}
		call.Args = args
	}
	if err := p.expectSymbol(")"); err != nil {
		return nil, err
	}

	if p.isKeyword("OVER") {
		p.advance()
		spec, err := p.parseWindowSpec()
		if err != nil {
			return nil, err
		}
		call.Over = spec
	}
	return call, nil
}

func (p *Parser) parseWindowSpec() (*WindowSpec, error) {
	if err := p.expectSymbol("("); err != nil {
		return nil, err
	}
	spec := &WindowSpec{}
	if p.isKeyword("PARTITION") {
		p.advance()
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		exprs, err := p.parseExprList()
		if err != nil {
			return nil, err
		}
		spec.PartitionBy = exprs
	}
	if p.isKeyword("ORDER") {
		p.advance()
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		items, err := p.parseOrderByList()
		if err != nil {
			return nil, err
		}
		spec.OrderBy = items
	}
	if err := p.expectSymbol(")"); err != nil {
		return nil, err
	}
	return spec, nil
}

package expr

import (
	"strconv"

	"github.com/seenimoa/backtrail/pkg/models"
)

// ════════════════════════════════════════════════════════════════════
// Parser — Recursive Descent
// ════════════════════════════════════════════════════════════════════

// Parser transforms a token stream into an AST.
type Parser struct {
	tokens []Token
	pos    int
}

// NewParser creates a parser from a token slice.
func NewParser(tokens []Token) *Parser {
	return &Parser{tokens: tokens}
}

// Parse parses a complete formula string.
func Parse(input string) (Node, error) {
	tokens, err := NewLexer(input).Tokenize()
	if err != nil {
		return nil, err
	}
	p := NewParser(tokens)
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if !p.atEnd() {
		tok := p.peek()
		return nil, p.errorf(tok, "unexpected token %q after expression", tok.Value)
	}
	return node, nil
}

// ────────────────────────────────────────────────────────────────────
// Token helpers
// ────────────────────────────────────────────────────────────────────

func (p *Parser) peek() Token {
	if p.pos >= len(p.tokens) {
		return Token{Type: TokenEOF}
	}
	return p.tokens[p.pos]
}

func (p *Parser) advance() Token {
	tok := p.peek()
	if tok.Type != TokenEOF {
		p.pos++
	}
	return tok
}

func (p *Parser) atEnd() bool {
	return p.pos >= len(p.tokens) || p.tokens[p.pos].Type == TokenEOF
}

func (p *Parser) expect(typ TokenType) (Token, error) {
	tok := p.peek()
	if tok.Type != typ {
		return tok, p.errorf(tok, "expected %s, got %s (%q)", typ, tok.Type, tok.Value)
	}
	return p.advance(), nil
}

func (p *Parser) errorf(tok Token, format string, args ...any) error {
	line, col := tok.Line, tok.Column
	if line == 0 {
		line, col = 1, 1
	}
	return models.NewExpressionError(line, col, format, args...)
}

// ────────────────────────────────────────────────────────────────────
// Grammar (precedence from lowest to highest):
//   Or         → And ( 'or' And )*
//   And        → Not ( 'and' Not )*
//   Not        → 'not' Not | Comparison
//   Comparison → Addition ( ('>'|'<'|'>='|'<='|'=='|'!=') Addition )?
//   Addition   → Multiplication ( ('+'|'-') Multiplication )*
//   Multiplication → Unary ( ('*'|'/') Unary )*
//   Unary      → '-' Unary | Postfix
//   Postfix    → Primary ( '[' '-'? INT ']' | '.' IDENT )*
//   Primary    → Number | '(' Or ')' | Call | Identifier
// ────────────────────────────────────────────────────────────────────

func (p *Parser) parseOr() (Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().Type == TokenOR {
		opTok := p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Position: opTok.pos(), Op: "or", Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseAnd() (Node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.peek().Type == TokenAND {
		opTok := p.advance()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Position: opTok.pos(), Op: "and", Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseNot() (Node, error) {
	if p.peek().Type == TokenNOT {
		opTok := p.advance()
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Position: opTok.pos(), Op: "not", Operand: operand}, nil
	}
	return p.parseComparison()
}

func (p *Parser) parseComparison() (Node, error) {
	left, err := p.parseAddition()
	if err != nil {
		return nil, err
	}
	tok := p.peek()
	switch tok.Type {
	case TokenGT, TokenLT, TokenGTE, TokenLTE, TokenEQ, TokenNEQ:
		opTok := p.advance()
		right, err := p.parseAddition()
		if err != nil {
			return nil, err
		}
		return &BinaryExpr{Position: opTok.pos(), Op: opTok.Value, Left: left, Right: right}, nil
	}
	return left, nil
}

func (p *Parser) parseAddition() (Node, error) {
	left, err := p.parseMultiplication()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		if tok.Type != TokenPlus && tok.Type != TokenMinus {
			break
		}
		opTok := p.advance()
		right, err := p.parseMultiplication()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Position: opTok.pos(), Op: opTok.Value, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseMultiplication() (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		if tok.Type != TokenStar && tok.Type != TokenSlash {
			break
		}
		opTok := p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Position: opTok.pos(), Op: opTok.Value, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseUnary() (Node, error) {
	if p.peek().Type == TokenMinus {
		opTok := p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Position: opTok.pos(), Op: "-", Operand: operand}, nil
	}
	return p.parsePostfix()
}

func (p *Parser) parsePostfix() (Node, error) {
	node, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}

	for {
		switch p.peek().Type {
		case TokenLBracket:
			open := p.advance()
			neg := false
			if p.peek().Type == TokenMinus {
				p.advance()
				neg = true
			}
			numTok, err := p.expect(TokenNumber)
			if err != nil {
				return nil, err
			}
			k, convErr := strconv.Atoi(numTok.Value)
			if convErr != nil {
				return nil, p.errorf(numTok, "offset must be an integer, got %q", numTok.Value)
			}
			if !neg && k != 0 {
				return nil, p.errorf(numTok, "offsets look back in time: use [-%d]", k)
			}
			if _, err := p.expect(TokenRBracket); err != nil {
				return nil, err
			}
			node = &OffsetExpr{Position: open.pos(), Expr: node, Bars: k}

		case TokenDot:
			p.advance()
			nameTok, err := p.expect(TokenIdentifier)
			if err != nil {
				return nil, err
			}
			call, ok := node.(*Call)
			if !ok {
				return nil, p.errorf(nameTok, "component access %q requires an indicator call", nameTok.Value)
			}
			if call.Component != "" {
				return nil, p.errorf(nameTok, "indicator already selects component %q", call.Component)
			}
			call.Component = nameTok.Value

		default:
			return node, nil
		}
	}
}

func (p *Parser) parsePrimary() (Node, error) {
	tok := p.peek()

	switch tok.Type {
	case TokenNumber:
		p.advance()
		val, err := strconv.ParseFloat(tok.Value, 64)
		if err != nil {
			return nil, p.errorf(tok, "invalid number %q", tok.Value)
		}
		return &NumberLiteral{Position: tok.pos(), Value: val, Raw: tok.Value}, nil

	case TokenLParen:
		p.advance()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenRParen); err != nil {
			return nil, err
		}
		return inner, nil

	case TokenIdentifier:
		p.advance()
		if p.peek().Type == TokenLParen {
			return p.parseCall(tok)
		}
		return &Identifier{Position: tok.pos(), Name: tok.Value}, nil

	default:
		return nil, p.errorf(tok, "unexpected token %s (%q)", tok.Type, tok.Value)
	}
}

func (p *Parser) parseCall(nameTok Token) (Node, error) {
	p.advance() // consume (

	var args []Node
	if p.peek().Type != TokenRParen {
		for {
			arg, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.peek().Type != TokenComma {
				break
			}
			p.advance()
		}
	}
	if _, err := p.expect(TokenRParen); err != nil {
		return nil, err
	}
	return &Call{Position: nameTok.pos(), Name: nameTok.Value, Args: args}, nil
}

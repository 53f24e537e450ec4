package expr

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/seenimoa/backtrail/pkg/models"
)

// ════════════════════════════════════════════════════════════════════
// Token Types
// ════════════════════════════════════════════════════════════════════

// TokenType enumerates all token kinds produced by the lexer.
type TokenType int

const (
	TokenEOF TokenType = iota

	TokenNumber     // 42, 3.14
	TokenIdentifier // close, rsi, threshold

	TokenPlus  // +
	TokenMinus // -
	TokenStar  // *
	TokenSlash // /
	TokenGT    // >
	TokenLT    // <
	TokenGTE   // >=
	TokenLTE   // <=
	TokenEQ    // ==
	TokenNEQ   // !=

	TokenLParen   // (
	TokenRParen   // )
	TokenLBracket // [
	TokenRBracket // ]
	TokenComma    // ,
	TokenDot      // .

	TokenAND // and
	TokenOR  // or
	TokenNOT // not
)

var tokenTypeNames = map[TokenType]string{
	TokenEOF:        "EOF",
	TokenNumber:     "NUMBER",
	TokenIdentifier: "IDENT",
	TokenPlus:       "+",
	TokenMinus:      "-",
	TokenStar:       "*",
	TokenSlash:      "/",
	TokenGT:         ">",
	TokenLT:         "<",
	TokenGTE:        ">=",
	TokenLTE:        "<=",
	TokenEQ:         "==",
	TokenNEQ:        "!=",
	TokenLParen:     "(",
	TokenRParen:     ")",
	TokenLBracket:   "[",
	TokenRBracket:   "]",
	TokenComma:      ",",
	TokenDot:        ".",
	TokenAND:        "and",
	TokenOR:         "or",
	TokenNOT:        "not",
}

func (t TokenType) String() string {
	if name, ok := tokenTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Token(%d)", int(t))
}

// Token is a single lexical token.
type Token struct {
	Type     TokenType
	Value    string
	Position int // byte offset
	Line     int // 1-based
	Column   int // 1-based
}

func (t Token) String() string {
	return fmt.Sprintf("%s(%q)@%d:%d", t.Type, t.Value, t.Line, t.Column)
}

func (t Token) pos() Pos {
	return Pos{Offset: t.Position, Line: t.Line, Column: t.Column}
}

// ════════════════════════════════════════════════════════════════════
// Lexer
// ════════════════════════════════════════════════════════════════════

// Lexer tokenizes a formula string.
type Lexer struct {
	input []rune
	pos   int
	line  int
	col   int
}

// NewLexer creates a Lexer for the given input.
func NewLexer(input string) *Lexer {
	return &Lexer{input: []rune(input), line: 1, col: 1}
}

// Tokenize scans the whole input and returns the token stream,
// terminated by an EOF token.
func (l *Lexer) Tokenize() ([]Token, error) {
	var tokens []Token
	for {
		tok, err := l.nextToken()
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF {
			break
		}
	}
	return tokens, nil
}

func (l *Lexer) peek() rune {
	if l.pos >= len(l.input) {
		return 0
	}
	return l.input[l.pos]
}

func (l *Lexer) advance() rune {
	if l.pos >= len(l.input) {
		return 0
	}
	ch := l.input[l.pos]
	l.pos++
	if ch == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	return ch
}

func (l *Lexer) skipWhitespace() {
	for l.pos < len(l.input) && unicode.IsSpace(l.input[l.pos]) {
		l.advance()
	}
}

func (l *Lexer) makeToken(typ TokenType, value string, pos, line, col int) Token {
	return Token{Type: typ, Value: value, Position: pos, Line: line, Column: col}
}

func (l *Lexer) nextToken() (Token, error) {
	l.skipWhitespace()

	if l.pos >= len(l.input) {
		return l.makeToken(TokenEOF, "", l.pos, l.line, l.col), nil
	}

	startPos, startLine, startCol := l.pos, l.line, l.col
	ch := l.peek()

	switch ch {
	case '(':
		l.advance()
		return l.makeToken(TokenLParen, "(", startPos, startLine, startCol), nil
	case ')':
		l.advance()
		return l.makeToken(TokenRParen, ")", startPos, startLine, startCol), nil
	case '[':
		l.advance()
		return l.makeToken(TokenLBracket, "[", startPos, startLine, startCol), nil
	case ']':
		l.advance()
		return l.makeToken(TokenRBracket, "]", startPos, startLine, startCol), nil
	case ',':
		l.advance()
		return l.makeToken(TokenComma, ",", startPos, startLine, startCol), nil
	case '+':
		l.advance()
		return l.makeToken(TokenPlus, "+", startPos, startLine, startCol), nil
	case '-':
		l.advance()
		return l.makeToken(TokenMinus, "-", startPos, startLine, startCol), nil
	case '*':
		l.advance()
		return l.makeToken(TokenStar, "*", startPos, startLine, startCol), nil
	case '/':
		l.advance()
		return l.makeToken(TokenSlash, "/", startPos, startLine, startCol), nil
	}

	if ch == '>' {
		l.advance()
		if l.peek() == '=' {
			l.advance()
			return l.makeToken(TokenGTE, ">=", startPos, startLine, startCol), nil
		}
		return l.makeToken(TokenGT, ">", startPos, startLine, startCol), nil
	}
	if ch == '<' {
		l.advance()
		if l.peek() == '=' {
			l.advance()
			return l.makeToken(TokenLTE, "<=", startPos, startLine, startCol), nil
		}
		return l.makeToken(TokenLT, "<", startPos, startLine, startCol), nil
	}
	if ch == '=' {
		l.advance()
		if l.peek() == '=' {
			l.advance()
		}
		// A single '=' is accepted as equality.
		return l.makeToken(TokenEQ, "==", startPos, startLine, startCol), nil
	}
	if ch == '!' {
		l.advance()
		if l.peek() == '=' {
			l.advance()
			return l.makeToken(TokenNEQ, "!=", startPos, startLine, startCol), nil
		}
		return Token{}, models.NewExpressionError(startLine, startCol, "unexpected '!', did you mean '!='?")
	}

	// '.' is either a number prefix (.5) or component access.
	if ch == '.' {
		if l.pos+1 < len(l.input) && unicode.IsDigit(l.input[l.pos+1]) {
			return l.readNumber(startPos, startLine, startCol)
		}
		l.advance()
		return l.makeToken(TokenDot, ".", startPos, startLine, startCol), nil
	}

	if unicode.IsDigit(ch) {
		return l.readNumber(startPos, startLine, startCol)
	}

	if unicode.IsLetter(ch) || ch == '_' {
		return l.readIdentifier(startPos, startLine, startCol)
	}

	l.advance()
	return Token{}, models.NewExpressionError(startLine, startCol, "unexpected character %q", ch)
}

func (l *Lexer) readNumber(startPos, startLine, startCol int) (Token, error) {
	var sb strings.Builder
	hasDot := false
	for l.pos < len(l.input) {
		ch := l.peek()
		if unicode.IsDigit(ch) {
			sb.WriteRune(l.advance())
		} else if ch == '.' && !hasDot {
			// Component access on a number makes no sense, so a dot
			// after digits always belongs to the number.
			hasDot = true
			sb.WriteRune(l.advance())
		} else {
			break
		}
	}
	return l.makeToken(TokenNumber, sb.String(), startPos, startLine, startCol), nil
}

func (l *Lexer) readIdentifier(startPos, startLine, startCol int) (Token, error) {
	var sb strings.Builder
	for l.pos < len(l.input) {
		ch := l.peek()
		if unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_' {
			sb.WriteRune(l.advance())
		} else {
			break
		}
	}

	word := sb.String()
	switch strings.ToLower(word) {
	case "and":
		return l.makeToken(TokenAND, "and", startPos, startLine, startCol), nil
	case "or":
		return l.makeToken(TokenOR, "or", startPos, startLine, startCol), nil
	case "not":
		return l.makeToken(TokenNOT, "not", startPos, startLine, startCol), nil
	}
	return l.makeToken(TokenIdentifier, word, startPos, startLine, startCol), nil
}

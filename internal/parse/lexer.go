// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package parse

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/canonical/sqlaccess/internal/failure"
)

// Kind identifies the lexical class of a Token.
type Kind int

const (
	// Block is a literal SQL fragment: a run of ordinary characters or a
	// complete quoted string literal.
	Block Kind = iota
	// Blank stands for one or more whitespace characters or line comments.
	Blank
	Comma
	OpenParen
	CloseParen
	// Comment is a /* ... */ comment. Its text is the trimmed content.
	Comment
)

func (k Kind) String() string {
	switch k {
	case Block:
		return "Block"
	case Blank:
		return "Blank"
	case Comma:
		return "Comma"
	case OpenParen:
		return "OpenParen"
	case CloseParen:
		return "CloseParen"
	case Comment:
		return "Comment"
	}
	return "Unknown"
}

// Token is a single lexical element of a template.
type Token struct {
	Kind Kind
	Text string
}

func (t Token) String() string {
	return t.Kind.String() + "[" + t.Text + "]"
}

// lexer turns template text into tokens.
type lexer struct {
	input string
	pos   int
	// nextPos is start of the next char.
	nextPos int
	// char is the rune starting at pos. char is set to 0 when pos reaches the
	// end of input.
	char rune
	// lineNum is the number of the current line of the input.
	lineNum int
	// lineStart is the position of the first char of the current line in the
	// input.
	lineStart int
	// pendingBlank records whitespace seen since the last emitted token.
	pendingBlank bool
	tokens       []Token
}

// Tokenize lexes a template into a flat token list. Whitespace is coalesced
// into single Blank tokens which are only emitted between two other tokens.
func Tokenize(input string) ([]Token, error) {
	l := &lexer{}
	l.init(input)
	for l.pos < len(l.input) {
		switch {
		case unicode.IsSpace(l.char):
			l.pendingBlank = true
			l.advanceChar()
		case l.peekString("--"):
			l.skipLineComment()
			l.pendingBlank = true
		case l.peekString("/*"):
			text, err := l.scanComment()
			if err != nil {
				return nil, err
			}
			l.emit(Comment, text)
		case l.char == '\'':
			text, err := l.scanQuoted()
			if err != nil {
				return nil, err
			}
			l.emit(Block, text)
		case l.char == ',':
			l.advanceChar()
			l.emit(Comma, ",")
		case l.char == '(':
			l.advanceChar()
			l.emit(OpenParen, "(")
		case l.char == ')':
			l.advanceChar()
			l.emit(CloseParen, ")")
		default:
			l.emit(Block, l.scanRun())
		}
	}
	return l.tokens, nil
}

// init resets the state of the lexer and sets the input string.
func (l *lexer) init(input string) {
	l.input = input
	l.pos = 0
	l.nextPos = 0
	l.char = 0
	l.lineNum = 1
	l.lineStart = 0
	l.pendingBlank = false
	l.tokens = nil
	l.advanceChar()
}

// advanceChar moves the lexer to the next character in the input, keeping
// track of line breaks.
func (l *lexer) advanceChar() {
	if l.nextPos >= len(l.input) {
		l.char = 0
		l.pos = l.nextPos
		return
	}
	if l.char == '\n' {
		l.lineStart = l.nextPos
		l.lineNum++
	}
	var size int
	l.char, size = utf8.DecodeRuneInString(l.input[l.nextPos:])
	l.pos = l.nextPos
	l.nextPos += size
}

// emit appends a token, preceded by a Blank if whitespace was seen since the
// previous token. A Blank is never the first token.
func (l *lexer) emit(kind Kind, text string) {
	if l.pendingBlank && len(l.tokens) > 0 {
		l.tokens = append(l.tokens, Token{Kind: Blank, Text: " "})
	}
	l.pendingBlank = false
	l.tokens = append(l.tokens, Token{Kind: kind, Text: text})
}

func (l *lexer) peekString(s string) bool {
	return strings.HasPrefix(l.input[l.pos:], s)
}

// skipLineComment jumps to the end of the current line. The line break
// itself is left for the main loop.
func (l *lexer) skipLineComment() {
	for l.pos < len(l.input) && l.char != '\n' && l.char != '\r' {
		l.advanceChar()
	}
}

// scanComment consumes a /* ... */ comment and returns its trimmed content.
func (l *lexer) scanComment() (string, error) {
	start, line, col := l.pos, l.lineNum, l.colNum()
	end := strings.Index(l.input[start+2:], "*/")
	if end < 0 {
		return "", errorAt("comment not closed", start, line, col)
	}
	end += start + 2
	for l.pos < end+2 {
		l.advanceChar()
	}
	return strings.TrimSpace(l.input[start+2 : end]), nil
}

// scanQuoted consumes a single quoted string literal where a doubled quote
// is an escaped quote. The returned text includes the quotes.
func (l *lexer) scanQuoted() (string, error) {
	start, line, col := l.pos, l.lineNum, l.colNum()
	l.advanceChar()
	for l.pos < len(l.input) {
		if l.char == '\'' {
			l.advanceChar()
			if l.pos < len(l.input) && l.char == '\'' {
				l.advanceChar()
				continue
			}
			return l.input[start:l.pos], nil
		}
		l.advanceChar()
	}
	return "", errorAt("missing closing quote in string literal", start, line, col)
}

// scanRun consumes a run of ordinary characters.
func (l *lexer) scanRun() string {
	start := l.pos
	for l.pos < len(l.input) {
		if unicode.IsSpace(l.char) || l.peekString("/*") || l.peekString("--") {
			break
		}
		if l.char == '\'' || l.char == ',' || l.char == '(' || l.char == ')' {
			break
		}
		l.advanceChar()
	}
	return l.input[start:l.pos]
}

// colNum calculates the current column number taking into account line breaks.
func (l *lexer) colNum() int {
	return l.pos - l.lineStart + 1
}

func errorAt(msg string, offset, line, column int) error {
	return &failure.TokenizeError{Offset: offset, Line: line, Column: column, Msg: msg}
}

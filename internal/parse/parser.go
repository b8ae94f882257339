// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package parse

import (
	"fmt"
	"strings"
)

// Parse tokenizes a template and builds its node list.
func Parse(input string) (nodes []Node, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("cannot parse template: %w", err)
		}
	}()
	tokens, err := Tokenize(input)
	if err != nil {
		return nil, err
	}
	return Build(tokens), nil
}

// builder accumulates literal SQL and sorts directive nodes into pragmas and
// body.
type builder struct {
	tokens  []Token
	pos     int
	buf     strings.Builder
	pragmas []Node
	body    []Node
}

// Build turns a token stream into a node list. Pragma nodes are returned
// first, followed by the body nodes, each in encounter order.
func Build(tokens []Token) []Node {
	b := &builder{tokens: tokens}
	for b.pos < len(b.tokens) {
		tok := b.tokens[b.pos]
		b.pos++
		if tok.Kind != Comment {
			b.appendText(tok)
			continue
		}
		b.dispatch(tok.Text)
	}
	b.flush()
	return append(b.pragmas, b.body...)
}

// appendText adds literal text to the buffer. Blanks never double up.
func (b *builder) appendText(tok Token) {
	if tok.Kind == Blank {
		s := b.buf.String()
		if len(s) > 0 && !strings.HasSuffix(s, " ") {
			b.buf.WriteByte(' ')
		}
		return
	}
	b.buf.WriteString(strings.TrimSpace(tok.Text))
}

// flush moves the buffered SQL into a body node.
func (b *builder) flush() {
	text := strings.TrimSpace(b.buf.String())
	b.buf.Reset()
	if text != "" {
		b.body = append(b.body, &SQLNode{Text: text})
	}
}

// dispatch handles a comment according to its leading sigil. Comments
// without a sigil are inert and do not break up the surrounding SQL.
func (b *builder) dispatch(text string) {
	if text == "" {
		return
	}
	switch text[0] {
	case '!':
		fields := strings.Fields(text[1:])
		if len(fields) != 2 || (fields[0] != "helper" && fields[0] != "using") {
			return
		}
		b.flush()
		b.pragmas = append(b.pragmas, &UsingNode{Static: fields[0] == "helper", Name: fields[1]})
	case '%':
		b.flush()
		b.body = append(b.body, &CodeNode{Code: strings.TrimSpace(text[1:])})
	case '#':
		b.flush()
		b.body = append(b.body, &RawSQLNode{Name: strings.TrimSpace(text[1:])})
		b.skipPlaceholder()
	case '@':
		b.flush()
		name := strings.TrimSpace(text[1:])
		multiple := b.skipPlaceholder()
		b.body = append(b.body, &ParameterNode{Name: name, Label: bindLabel(name), Multiple: multiple})
	}
}

// skipPlaceholder skips the example literal that follows a bind or raw
// directive. It reports whether the literal was a parenthesised group.
func (b *builder) skipPlaceholder() bool {
	for b.pos < len(b.tokens) && b.tokens[b.pos].Kind == Blank {
		b.pos++
	}
	if b.pos >= len(b.tokens) {
		return false
	}
	switch b.tokens[b.pos].Kind {
	case OpenParen:
		depth := 0
		for b.pos < len(b.tokens) {
			switch b.tokens[b.pos].Kind {
			case OpenParen:
				depth++
			case CloseParen:
				depth--
			}
			b.pos++
			if depth == 0 {
				break
			}
		}
		return true
	case Block:
		b.pos++
	}
	return false
}

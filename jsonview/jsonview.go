// Package jsonview finds JSON embedded in arbitrary text (log lines, command
// output, escaped payloads), pretty-prints it and searches it by key or value.
package jsonview

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/jsonc"
)

var ErrNoJSON = errors.New("no JSON object or array found")

type Kind int

const (
	Object Kind = iota
	Array
	String
	Number
	Bool
	Null
)

// Node is one value of a parsed document. Object members keep their source
// order.
type Node struct {
	Key      string
	Path     string
	Kind     Kind
	Value    string // primitives only; strings unquoted
	Children []*Node
}

// Display is the one line rendering used in trees and search results.
func (n *Node) Display() string {
	switch n.Kind {
	case Object:
		return "{…}"
	case Array:
		return "[ … ]"
	}
	return n.Value
}

// Document is the first JSON block found in some text.
type Document struct {
	// Source is the cleaned JSON text that parsed.
	Source string
	Root   *Node
}

// Extract locates the first balanced object or array in text and parses it,
// trying a few unescaping variants and finally JSONC (comments, trailing
// commas) before giving up.
func Extract(text string) (*Document, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrNoJSON
	}

	var lastErr error
	found := false
	for _, t := range textVariants(text) {
		block, ok := extractBlock(t)
		if !ok {
			continue
		}
		found = true
		for _, cand := range candidates(block) {
			root, err := parse(cand)
			if err == nil {
				return &Document{Source: cand, Root: root}, nil
			}
			lastErr = err
		}
	}
	if !found {
		return nil, ErrNoJSON
	}
	return nil, fmt.Errorf("invalid JSON: %w", lastErr)
}

// Pretty re-indents the document, keeping member order.
func (d *Document) Pretty(indent int) (string, error) {
	if indent < 0 {
		indent = 0
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(d.Source), "", strings.Repeat(" ", indent)); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Find returns every node whose key or primitive value contains query,
// ignoring case, in document order.
func (d *Document) Find(query string) []*Node {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" || d.Root == nil {
		return nil
	}
	var out []*Node
	var visit func(n *Node)
	visit = func(n *Node) {
		keyHit := n != d.Root && strings.Contains(strings.ToLower(n.Key), query)
		valueHit := n.Kind != Object && n.Kind != Array && strings.Contains(strings.ToLower(n.Value), query)
		if keyHit || valueHit {
			out = append(out, n)
		}
		for _, c := range n.Children {
			visit(c)
		}
	}
	visit(d.Root)
	return out
}

// Walk calls fn for every node in document order with its depth.
func (d *Document) Walk(fn func(n *Node, depth int)) {
	var visit func(n *Node, depth int)
	visit = func(n *Node, depth int) {
		fn(n, depth)
		for _, c := range n.Children {
			visit(c, depth+1)
		}
	}
	if d.Root != nil {
		visit(d.Root, 0)
	}
}

func textVariants(text string) []string {
	out := []string{text}
	if len(text) >= 2 && text[0] == '"' && text[len(text)-1] == '"' {
		var inner string
		if err := json.Unmarshal([]byte(text), &inner); err == nil {
			out = append(out, inner)
		}
	}
	if strings.Contains(text, `\"`) {
		out = append(out, strings.ReplaceAll(text, `\"`, `"`))
	}
	return out
}

func candidates(block string) []string {
	seen := map[string]bool{}
	var out []string
	add := func(s string) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	add(block)
	add(strings.ReplaceAll(block, `\\`, `\`))
	add(string(jsonc.ToJSON([]byte(block))))
	return out
}

// extractBlock returns the balanced object or array that starts earliest.
func extractBlock(text string) (string, bool) {
	obj, oi := scanBalanced(text, '{', '}')
	arr, ai := scanBalanced(text, '[', ']')
	switch {
	case oi < 0 && ai < 0:
		return "", false
	case oi < 0:
		return arr, true
	case ai < 0:
		return obj, true
	case oi < ai:
		return obj, true
	default:
		return arr, true
	}
}

func scanBalanced(text string, openCh, closeCh byte) (string, int) {
	for i := 0; i < len(text); i++ {
		if text[i] != openCh {
			continue
		}
		if end, ok := matching(text, i, openCh, closeCh); ok {
			return text[i : end+1], i
		}
	}
	return "", -1
}

// matching finds the index closing the bracket at start, skipping string
// literals and their escapes.
func matching(s string, start int, openCh, closeCh byte) (int, bool) {
	depth := 0
	inStr, esc := false, false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inStr {
			switch {
			case esc:
				esc = false
			case ch == '\\':
				esc = true
			case ch == '"':
				inStr = false
			}
			continue
		}
		switch ch {
		case '"':
			inStr = true
		case openCh:
			depth++
		case closeCh:
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

func parse(src string) (*Node, error) {
	var check any
	if err := json.Unmarshal([]byte(src), &check); err != nil {
		return nil, err
	}
	dec := json.NewDecoder(strings.NewReader(src))
	dec.UseNumber()
	root, err := parseValue(dec, "root", "$")
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("trailing data after JSON value")
	}
	return root, nil
}

func parseValue(dec *json.Decoder, key, p string) (*Node, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	n := &Node{Key: key, Path: p}
	switch v := tok.(type) {
	case json.Delim:
		switch v {
		case '{':
			n.Kind = Object
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return nil, err
				}
				k, _ := kt.(string)
				child, err := parseValue(dec, k, memberPath(p, k))
				if err != nil {
					return nil, err
				}
				n.Children = append(n.Children, child)
			}
		case '[':
			n.Kind = Array
			for i := 0; dec.More(); i++ {
				idx := "[" + strconv.Itoa(i) + "]"
				child, err := parseValue(dec, idx, p+idx)
				if err != nil {
					return nil, err
				}
				n.Children = append(n.Children, child)
			}
		default:
			return nil, fmt.Errorf("unexpected %q", v)
		}
		// closing delimiter
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
	case string:
		n.Kind, n.Value = String, v
	case json.Number:
		n.Kind, n.Value = Number, v.String()
	case bool:
		n.Kind, n.Value = Bool, strconv.FormatBool(v)
	case nil:
		n.Kind, n.Value = Null, "null"
	}
	return n, nil
}

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func memberPath(parent, key string) string {
	if identifier.MatchString(key) {
		return parent + "." + key
	}
	return parent + "[" + strconv.Quote(key) + "]"
}

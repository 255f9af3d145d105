package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

type nodeKind int

const (
	scalarNode nodeKind = iota
	objectNode
	arrayNode
)

// node keeps object keys in document order, which map[string]any would lose.
type node struct {
	kind     nodeKind
	keys     []string
	children []*node
	text     string
	literal  string
}

// Bullets renders an arbitrary JSON document as a nested markdown list.
// Containers nested deeper than maxDepth are shown as compact JSON; maxDepth <= 0 means no limit.
// Input that is not JSON is returned unchanged.
func Bullets(raw []byte, maxDepth int) string {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	root, err := decodeNode(dec)
	if err != nil {
		return string(raw)
	}
	if _, err := dec.Token(); err != io.EOF {
		return string(raw)
	}

	if root.kind == scalarNode {
		return root.text
	}
	var b strings.Builder
	writeChildren(&b, root, 0, maxDepth)
	return strings.TrimRight(b.String(), "\n")
}

func decodeNode(dec *json.Decoder) (*node, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			n := &node{kind: objectNode}
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := kt.(string)
				if !ok {
					return nil, fmt.Errorf("unexpected object key %v", kt)
				}
				child, err := decodeNode(dec)
				if err != nil {
					return nil, err
				}
				n.keys = append(n.keys, key)
				n.children = append(n.children, child)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return n, nil
		case '[':
			n := &node{kind: arrayNode}
			for dec.More() {
				child, err := decodeNode(dec)
				if err != nil {
					return nil, err
				}
				n.children = append(n.children, child)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return n, nil
		}
		return nil, fmt.Errorf("unexpected delimiter %v", t)
	case string:
		lit, _ := json.Marshal(t)
		return &node{kind: scalarNode, text: t, literal: string(lit)}, nil
	case json.Number:
		return &node{kind: scalarNode, text: t.String(), literal: t.String()}, nil
	case bool:
		s := fmt.Sprint(t)
		return &node{kind: scalarNode, text: s, literal: s}, nil
	case nil:
		return &node{kind: scalarNode, text: "null", literal: "null"}, nil
	}
	return nil, fmt.Errorf("unexpected token %v", tok)
}

func writeChildren(b *strings.Builder, n *node, depth, maxDepth int) {
	indent := strings.Repeat("  ", depth)
	for i, child := range n.children {
		label := ""
		if n.kind == objectNode {
			label = "**" + n.keys[i] + "**"
		} else if child.kind != scalarNode {
			label = fmt.Sprintf("**#%d**", i+1)
		}

		b.WriteString(indent)
		b.WriteString("- ")
		switch {
		case child.kind == scalarNode:
			if label != "" {
				b.WriteString(label)
				b.WriteString(": ")
			}
			b.WriteString(child.text)
			b.WriteString("\n")
		case len(child.children) == 0 || (maxDepth > 0 && depth+1 >= maxDepth):
			b.WriteString(label)
			b.WriteString(": `")
			b.WriteString(compact(child))
			b.WriteString("`\n")
		default:
			b.WriteString(label)
			b.WriteString("\n")
			writeChildren(b, child, depth+1, maxDepth)
		}
	}
}

func compact(n *node) string {
	var b strings.Builder
	writeCompact(&b, n)
	return b.String()
}

func writeCompact(b *strings.Builder, n *node) {
	switch n.kind {
	case scalarNode:
		b.WriteString(n.literal)
	case objectNode:
		b.WriteString("{")
		for i, child := range n.children {
			if i > 0 {
				b.WriteString(",")
			}
			k, _ := json.Marshal(n.keys[i])
			b.Write(k)
			b.WriteString(":")
			writeCompact(b, child)
		}
		b.WriteString("}")
	case arrayNode:
		b.WriteString("[")
		for i, child := range n.children {
			if i > 0 {
				b.WriteString(",")
			}
			writeCompact(b, child)
		}
		b.WriteString("]")
	}
}

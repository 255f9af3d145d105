package config

import (
	"strings"

	"gopkg.in/yaml.v3"
)

// LookupFunc resolves an environment variable.
type LookupFunc func(key string) (string, bool)

// Expand replaces ${VAR} and ${VAR:-default} references in s.
// Unset variables without a default expand to the empty string. A lone '$' is kept.
func Expand(s string, lookup LookupFunc) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '$' || i+1 >= len(s) || s[i+1] != '{' {
			b.WriteByte(s[i])
			continue
		}
		end := strings.IndexByte(s[i+2:], '}')
		if end < 0 {
			b.WriteString(s[i:])
			break
		}
		ref := s[i+2 : i+2+end]
		name, def, hasDef := strings.Cut(ref, ":-")
		v, ok := lookup(name)
		switch {
		case ok && v != "":
			b.WriteString(v)
		case hasDef:
			b.WriteString(def)
		}
		i += end + 2
	}
	return b.String()
}

// expandNode expands references inside every scalar of the decoded document,
// so substituted values are taken verbatim and never parsed as YAML.
// A plain scalar that changed is re-resolved, letting ${PORT:-8080} still decode into an int.
func expandNode(n *yaml.Node, lookup LookupFunc) {
	if n == nil {
		return
	}
	if n.Kind == yaml.ScalarNode && strings.Contains(n.Value, "${") {
		v := Expand(n.Value, lookup)
		if v != n.Value && n.Style == 0 {
			switch v {
			case "~", "null", "Null", "NULL":
				n.Tag = "!!str"
			default:
				n.Tag = ""
			}
		}
		n.Value = v
		return
	}
	for _, c := range n.Content {
		expandNode(c, lookup)
	}
}

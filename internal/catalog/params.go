package catalog

import (
	"fmt"
	"net/url"
	"strings"
)

// Param is one key/value pair forwarded to the catalog.
type Param struct {
	Key   string
	Value string
}

// Params is an ordered mapping of string keys to string values. Order is
// preserved on the wire, both in query strings and in form bodies.
type Params []Param

// Add appends a pair and returns the extended Params.
func (p Params) Add(key, value string) Params {
	return append(p, Param{Key: key, Value: value})
}

// Encode renders the pairs as an application/x-www-form-urlencoded string in
// insertion order.
func (p Params) Encode() string {
	var b strings.Builder

	for i, kv := range p {
		if i > 0 {
			b.WriteByte('&')
		}

		b.WriteString(url.QueryEscape(kv.Key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(kv.Value))
	}

	return b.String()
}

// ParsePairs converts "key=value" arguments into Params. The value is
// everything after the first '=', so values may themselves contain '='.
func ParsePairs(args []string) (Params, error) {
	params := make(Params, 0, len(args))

	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("catalog: invalid key=value pair %q", arg)
		}

		params = params.Add(key, value)
	}

	return params, nil
}

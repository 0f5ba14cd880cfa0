package extract

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindObject
	KindArray
)

// Value is a node of an untyped payload tree. Objects keep their keys in
// document order so that traversal order is stable between runs.
type Value struct {
	Kind   Kind
	Str    string // text of strings and numbers
	Bool   bool
	Fields []Field
	Items  []*Value
}

type Field struct {
	Key   string
	Value *Value
}

var ErrEmptyPayload = errors.New("empty payload")

func String(s string) *Value { return &Value{Kind: KindString, Str: s} }

// Object builds an object node from alternating key, value arguments.
func Object(kv ...any) *Value {
	v := &Value{Kind: KindObject}
	for i := 0; i+1 < len(kv); i += 2 {
		key, _ := kv[i].(string)
		child, ok := kv[i+1].(*Value)
		if !ok {
			child = FromAny(kv[i+1])
		}
		v.Fields = append(v.Fields, Field{Key: key, Value: child})
	}
	return v
}

func Array(items ...*Value) *Value { return &Value{Kind: KindArray, Items: items} }

// Get returns the first field whose compacted key equals the compacted name,
// so "buyer_info", "buyerInfo" and "BuyerInfo" are the same key.
func (v *Value) Get(name string) *Value {
	if v == nil || v.Kind != KindObject {
		return nil
	}
	want := compactKey(name)
	for _, f := range v.Fields {
		if compactKey(f.Key) == want {
			return f.Value
		}
	}
	return nil
}

// Lookup follows a dotted path of keys. An empty path returns v.
func (v *Value) Lookup(path string) *Value {
	if path == "" {
		return v
	}
	cur := v
	for _, part := range strings.Split(path, ".") {
		cur = cur.Get(part)
		if cur == nil {
			return nil
		}
	}
	return cur
}

// Text returns the string form of string and number nodes.
func (v *Value) Text() (string, bool) {
	if v == nil {
		return "", false
	}
	switch v.Kind {
	case KindString, KindNumber:
		return v.Str, true
	}
	return "", false
}

// Parse decodes JSON into a Value tree with an explicit stack instead of
// recursion, so nesting depth does not grow the goroutine stack.
func Parse(data []byte) (*Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	type frame struct {
		node   *Value
		key    string
		hasKey bool
	}
	var (
		stack []*frame
		root  *Value
	)
	attach := func(child *Value) {
		if len(stack) == 0 {
			root = child
			return
		}
		top := stack[len(stack)-1]
		if top.node.Kind == KindArray {
			top.node.Items = append(top.node.Items, child)
			return
		}
		top.node.Fields = append(top.node.Fields, Field{Key: top.key, Value: child})
		top.hasKey = false
	}

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse payload: %w", err)
		}

		switch t := tok.(type) {
		case json.Delim:
			switch t {
			case '{', '[':
				node := &Value{Kind: KindObject}
				if t == '[' {
					node.Kind = KindArray
				}
				attach(node)
				stack = append(stack, &frame{node: node})
			case '}', ']':
				stack = stack[:len(stack)-1]
			}
		case string:
			if n := len(stack); n > 0 && stack[n-1].node.Kind == KindObject && !stack[n-1].hasKey {
				stack[n-1].key = t
				stack[n-1].hasKey = true
				continue
			}
			attach(String(t))
		case json.Number:
			attach(&Value{Kind: KindNumber, Str: t.String()})
		case bool:
			attach(&Value{Kind: KindBool, Bool: t})
		case nil:
			attach(&Value{Kind: KindNull})
		}

		if len(stack) == 0 && root != nil {
			break
		}
	}

	if len(stack) > 0 {
		return nil, fmt.Errorf("parse payload: %w", io.ErrUnexpectedEOF)
	}
	if root == nil {
		return nil, ErrEmptyPayload
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("parse payload: trailing data after top-level value")
	}
	return root, nil
}

// FromAny converts decoded Go values (maps, slices, scalars) into a Value
// tree. Map keys are sorted. A map or slice reachable more than once becomes
// a shared node, so self-referencing containers produce a cyclic tree.
func FromAny(in any) *Value {
	seen := make(map[containerRef]*Value)
	return fromAny(in, seen)
}

// containerRef identifies a map (n == -1) or a slice by its backing pointer
// and length.
type containerRef struct {
	ptr uintptr
	n   int
}

func fromAny(in any, seen map[containerRef]*Value) *Value {
	switch t := in.(type) {
	case nil:
		return &Value{Kind: KindNull}
	case *Value:
		return t
	case string:
		return String(t)
	case bool:
		return &Value{Kind: KindBool, Bool: t}
	case json.Number:
		return &Value{Kind: KindNumber, Str: t.String()}
	case float64:
		return &Value{Kind: KindNumber, Str: strconv.FormatFloat(t, 'f', -1, 64)}
	case int:
		return &Value{Kind: KindNumber, Str: strconv.Itoa(t)}
	case int64:
		return &Value{Kind: KindNumber, Str: strconv.FormatInt(t, 10)}
	case map[string]any:
		ref := containerRef{ptr: reflect.ValueOf(t).Pointer(), n: -1}
		if node, ok := seen[ref]; ok {
			return node
		}
		node := &Value{Kind: KindObject}
		seen[ref] = node
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			node.Fields = append(node.Fields, Field{Key: k, Value: fromAny(t[k], seen)})
		}
		return node
	case []any:
		ref := containerRef{ptr: reflect.ValueOf(t).Pointer(), n: len(t)}
		if node, ok := seen[ref]; ok && ref.n > 0 {
			return node
		}
		node := &Value{Kind: KindArray}
		seen[ref] = node
		for _, item := range t {
			node.Items = append(node.Items, fromAny(item, seen))
		}
		return node
	default:
		return String(fmt.Sprint(t))
	}
}

// Visit describes one node reached by Walk.
type Visit struct {
	Value *Value
	// Key is the nearest object key above the node. Array items inherit the
	// key of the array that holds them.
	Key    string
	Path   string
	Parent *Value
	Order  int
}

// Walk visits every node reachable from root once, depth-first in document
// order. Nodes already visited (shared or cyclic references) are skipped.
// Returning false from fn stops the walk.
func Walk(root *Value, fn func(Visit) bool) {
	if root == nil {
		return
	}
	type entry struct {
		value  *Value
		key    string
		path   string
		parent *Value
	}
	visited := make(map[*Value]struct{})
	stack := []entry{{value: root}}
	order := 0

	for len(stack) > 0 {
		e := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if e.value == nil {
			continue
		}
		if _, ok := visited[e.value]; ok {
			continue
		}
		visited[e.value] = struct{}{}

		if !fn(Visit{Value: e.value, Key: e.key, Path: e.path, Parent: e.parent, Order: order}) {
			return
		}
		order++

		switch e.value.Kind {
		case KindObject:
			for i := len(e.value.Fields) - 1; i >= 0; i-- {
				f := e.value.Fields[i]
				stack = append(stack, entry{value: f.Value, key: f.Key, path: joinPath(e.path, f.Key), parent: e.value})
			}
		case KindArray:
			for i := len(e.value.Items) - 1; i >= 0; i-- {
				stack = append(stack, entry{
					value:  e.value.Items[i],
					key:    e.key,
					path:   e.path + "[" + strconv.Itoa(i) + "]",
					parent: e.value,
				})
			}
		}
	}
}

func joinPath(base, key string) string {
	if base == "" {
		return key
	}
	return base + "." + key
}

// compactKey lowercases and keeps letters and digits only.
func compactKey(key string) string {
	var b strings.Builder
	b.Grow(len(key))
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			b.WriteByte(c)
		case c >= 'A' && c <= 'Z':
			b.WriteByte(c + 'a' - 'A')
		}
	}
	return b.String()
}

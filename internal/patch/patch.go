// ABOUTME: Immutable JSON-patch application over nested state documents.
// ABOUTME: Ops are applied in order, all-or-nothing, with copy-on-write spines.

package patch

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Operation codes, matching RFC 6902.
const (
	OpAdd     = "add"
	OpRemove  = "remove"
	OpReplace = "replace"
	OpMove    = "move"
	OpCopy    = "copy"
	OpTest    = "test"
)

// ErrPathNotFound indicates a pointer that does not resolve in the document.
var ErrPathNotFound = errors.New("path not found")

// ErrTestFailed indicates a test op whose expected value did not match.
var ErrTestFailed = errors.New("test failed")

// ErrInvalidPointer indicates a malformed JSON pointer.
var ErrInvalidPointer = errors.New("invalid pointer")

// ErrInvalidOperation indicates an unknown or malformed operation.
var ErrInvalidOperation = errors.New("invalid operation")

// ErrOverlappingPaths indicates a move/copy whose from and path overlap.
var ErrOverlappingPaths = errors.New("overlapping from and path")

// Operation is a single patch operation. Value is the JSON-decoded form
// (map[string]any, []any, string, float64, bool, nil).
type Operation struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value,omitempty"`
	From  string `json:"from,omitempty"`
}

// ApplyError describes the first failing operation in a batch.
type ApplyError struct {
	Index int
	Op    string
	Path  string
	Err   error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("patch op %d (%s %s): %v", e.Index, e.Op, e.Path, e.Err)
}

func (e *ApplyError) Unwrap() error { return e.Err }

// Apply applies ops to doc strictly in order, each op consuming the document
// produced by the previous one. On the first failure it returns an
// *ApplyError and the input document is left observably unchanged. On
// success the returned document is a new value; branches untouched by any
// op may be shared by reference with the input.
func Apply(doc map[string]any, ops []Operation) (map[string]any, error) {
	cur := any(doc)

	for i, op := range ops {
		next, err := applyOne(cur, op)
		if err != nil {
			return nil, &ApplyError{Index: i, Op: op.Op, Path: op.Path, Err: err}
		}
		cur = next
	}

	out, ok := cur.(map[string]any)
	if !ok {
		return nil, &ApplyError{
			Index: len(ops) - 1,
			Op:    ops[len(ops)-1].Op,
			Path:  ops[len(ops)-1].Path,
			Err:   fmt.Errorf("%w: document root replaced with non-object", ErrInvalidOperation),
		}
	}
	return out, nil
}

func applyOne(doc any, op Operation) (any, error) {
	path, err := parsePointer(op.Path)
	if err != nil {
		return nil, err
	}

	switch op.Op {
	case OpAdd:
		return addAt(doc, path, op.Value)

	case OpRemove:
		next, _, err := removeAt(doc, path)
		return next, err

	case OpReplace:
		return replaceAt(doc, path, op.Value)

	case OpMove:
		from, err := parsePointer(op.From)
		if err != nil {
			return nil, err
		}
		if pointersOverlap(from, path) {
			return nil, ErrOverlappingPaths
		}
		next, moved, err := removeAt(doc, from)
		if err != nil {
			return nil, err
		}
		return addAt(next, path, moved)

	case OpCopy:
		from, err := parsePointer(op.From)
		if err != nil {
			return nil, err
		}
		if pointersOverlap(from, path) {
			return nil, ErrOverlappingPaths
		}
		val, ok := getAt(doc, from)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrPathNotFound, op.From)
		}
		return addAt(doc, path, val)

	case OpTest:
		val, ok := getAt(doc, path)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrPathNotFound, op.Path)
		}
		if !reflect.DeepEqual(val, op.Value) {
			return nil, fmt.Errorf("%w at %s", ErrTestFailed, op.Path)
		}
		return doc, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidOperation, op.Op)
	}
}

// parsePointer splits a JSON pointer into unescaped tokens. The empty
// pointer refers to the document root and yields no tokens.
func parsePointer(p string) ([]string, error) {
	if p == "" {
		return nil, nil
	}
	if !strings.HasPrefix(p, "/") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPointer, p)
	}
	raw := strings.Split(p[1:], "/")
	tokens := make([]string, len(raw))
	for i, t := range raw {
		t = strings.ReplaceAll(t, "~1", "/")
		t = strings.ReplaceAll(t, "~0", "~")
		tokens[i] = t
	}
	return tokens, nil
}

// pointersOverlap reports whether one pointer is equal to, or an ancestor
// of, the other at a token boundary. Overlapping move/copy is rejected
// rather than given surprising semantics.
func pointersOverlap(a, b []string) bool {
	n := min(len(a), len(b))
	for i := range n {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// getAt resolves a pointer without modifying anything.
func getAt(node any, tokens []string) (any, bool) {
	for _, tok := range tokens {
		switch n := node.(type) {
		case map[string]any:
			child, ok := n[tok]
			if !ok {
				return nil, false
			}
			node = child
		case []any:
			idx, err := sliceIndex(tok, len(n), false)
			if err != nil {
				return nil, false
			}
			node = n[idx]
		default:
			return nil, false
		}
	}
	return node, true
}

// addAt inserts value at the pointer, rebuilding the spine of containers
// along the way. The parent of the final token must already exist and be a
// container; a map key may be new, a slice index inserts and shifts.
func addAt(node any, tokens []string, value any) (any, error) {
	if len(tokens) == 0 {
		return value, nil
	}
	tok, rest := tokens[0], tokens[1:]

	switch n := node.(type) {
	case map[string]any:
		if len(rest) == 0 {
			out := cloneMap(n)
			out[tok] = value
			return out, nil
		}
		child, ok := n[tok]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrPathNotFound, tok)
		}
		newChild, err := addAt(child, rest, value)
		if err != nil {
			return nil, err
		}
		out := cloneMap(n)
		out[tok] = newChild
		return out, nil

	case []any:
		if len(rest) == 0 {
			idx, err := sliceIndex(tok, len(n), true)
			if err != nil {
				return nil, err
			}
			out := make([]any, 0, len(n)+1)
			out = append(out, n[:idx]...)
			out = append(out, value)
			out = append(out, n[idx:]...)
			return out, nil
		}
		idx, err := sliceIndex(tok, len(n), false)
		if err != nil {
			return nil, err
		}
		newChild, err := addAt(n[idx], rest, value)
		if err != nil {
			return nil, err
		}
		out := cloneSlice(n)
		out[idx] = newChild
		return out, nil

	default:
		return nil, fmt.Errorf("%w: segment %q is not a container", ErrPathNotFound, tok)
	}
}

// replaceAt overwrites the value at the pointer, which must already exist.
func replaceAt(node any, tokens []string, value any) (any, error) {
	if len(tokens) == 0 {
		return value, nil
	}
	tok, rest := tokens[0], tokens[1:]

	switch n := node.(type) {
	case map[string]any:
		child, ok := n[tok]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrPathNotFound, tok)
		}
		newChild := value
		if len(rest) > 0 {
			var err error
			newChild, err = replaceAt(child, rest, value)
			if err != nil {
				return nil, err
			}
		}
		out := cloneMap(n)
		out[tok] = newChild
		return out, nil

	case []any:
		idx, err := sliceIndex(tok, len(n), false)
		if err != nil {
			return nil, err
		}
		newChild := value
		if len(rest) > 0 {
			newChild, err = replaceAt(n[idx], rest, value)
			if err != nil {
				return nil, err
			}
		}
		out := cloneSlice(n)
		out[idx] = newChild
		return out, nil

	default:
		return nil, fmt.Errorf("%w: segment %q is not a container", ErrPathNotFound, tok)
	}
}

// removeAt deletes the value at the pointer and returns the new document
// along with the removed value (used by move).
func removeAt(node any, tokens []string) (any, any, error) {
	if len(tokens) == 0 {
		return nil, nil, fmt.Errorf("%w: cannot remove document root", ErrInvalidOperation)
	}
	tok, rest := tokens[0], tokens[1:]

	switch n := node.(type) {
	case map[string]any:
		child, ok := n[tok]
		if !ok {
			return nil, nil, fmt.Errorf("%w: %q", ErrPathNotFound, tok)
		}
		if len(rest) == 0 {
			out := cloneMap(n)
			delete(out, tok)
			return out, child, nil
		}
		newChild, removed, err := removeAt(child, rest)
		if err != nil {
			return nil, nil, err
		}
		out := cloneMap(n)
		out[tok] = newChild
		return out, removed, nil

	case []any:
		idx, err := sliceIndex(tok, len(n), false)
		if err != nil {
			return nil, nil, err
		}
		if len(rest) == 0 {
			out := make([]any, 0, len(n)-1)
			out = append(out, n[:idx]...)
			out = append(out, n[idx+1:]...)
			return out, n[idx], nil
		}
		newChild, removed, err := removeAt(n[idx], rest)
		if err != nil {
			return nil, nil, err
		}
		out := cloneSlice(n)
		out[idx] = newChild
		return out, removed, nil

	default:
		return nil, nil, fmt.Errorf("%w: segment %q is not a container", ErrPathNotFound, tok)
	}
}

// sliceIndex parses an array index token. When appending is true the token
// "-" and the index one past the end are valid (add semantics).
func sliceIndex(tok string, length int, appending bool) (int, error) {
	if tok == "-" {
		if !appending {
			return 0, fmt.Errorf("%w: %q", ErrPathNotFound, tok)
		}
		return length, nil
	}
	idx, err := strconv.Atoi(tok)
	if err != nil || idx < 0 {
		return 0, fmt.Errorf("%w: array index %q", ErrInvalidPointer, tok)
	}
	limit := length
	if appending {
		limit = length + 1
	}
	if idx >= limit {
		return 0, fmt.Errorf("%w: array index %d out of range", ErrPathNotFound, idx)
	}
	return idx, nil
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneSlice(s []any) []any {
	out := make([]any, len(s))
	copy(out, s)
	return out
}

// Package jsonwalk provides the single recursive walker over a decoded JSON
// tree that the PII and content-size guardrails share, per the "body
// traversal" design note: one walker emitting string leaves (and array
// leaves, for row-count checks), with an in-place rewrite variant used for
// redaction.
package jsonwalk

// StringVisitor is called for every string leaf found during a walk. path
// is a dotted/bracketed best-effort locator, useful only for diagnostics.
type StringVisitor func(path string, value string) (replacement string, changed bool)

// ArrayVisitor is called for every array/slice leaf found during a walk.
type ArrayVisitor func(path string, value []interface{})

// Walk traverses a decoded JSON value (the result of json.Unmarshal into
// interface{}), invoking onString for every string leaf and onArray for
// every array leaf. When onString returns changed=true, the tree is mutated
// in place with the replacement value.
func Walk(node interface{}, onString StringVisitor, onArray ArrayVisitor) interface{} {
	return walk(node, "$", onString, onArray)
}

func walk(node interface{}, path string, onString StringVisitor, onArray ArrayVisitor) interface{} {
	switch v := node.(type) {
	case string:
		if onString == nil {
			return v
		}
		if repl, changed := onString(path, v); changed {
			return repl
		}
		return v
	case []interface{}:
		if onArray != nil {
			onArray(path, v)
		}
		for i := range v {
			v[i] = walk(v[i], path+"["+itoa(i)+"]", onString, onArray)
		}
		return v
	case map[string]interface{}:
		for k, val := range v {
			v[k] = walk(val, path+"."+k, onString, onArray)
		}
		return v
	default:
		return v
	}
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

// MaxStringLength returns the length in characters of the longest string
// leaf in the tree. The content-size guardrails use the early-exit
// AnyStringOver below instead.
func MaxStringLength(node interface{}) int {
	max := 0
	Walk(node, func(path, value string) (string, bool) {
		if n := len([]rune(value)); n > max {
			max = n
		}
		return "", false
	}, nil)
	return max
}

// MaxArrayLength returns the length of the longest array leaf in the tree.
// content_structured_data uses the early-exit AnyArrayOver below instead.
func MaxArrayLength(node interface{}) int {
	max := 0
	Walk(node, nil, func(path string, value []interface{}) {
		if len(value) > max {
			max = len(value)
		}
	})
	return max
}

// stopWalk is a sentinel panic value used by the early-exit helpers below
// to stop traversal as soon as a violation is found, per §4.6's "oversize
// detection runs in a single pass and stops at the first violation".
type stopWalk struct{}

// AnyStringOver reports whether any string leaf exceeds maxChars runes,
// stopping at the first one found.
func AnyStringOver(node interface{}, maxChars int) (found bool) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(stopWalk); ok {
				found = true
				return
			}
			panic(r)
		}
	}()
	Walk(node, func(path, value string) (string, bool) {
		if len([]rune(value)) > maxChars {
			panic(stopWalk{})
		}
		return "", false
	}, nil)
	return false
}

// AnyArrayOver reports whether any array/slice leaf has more than maxRows
// elements, stopping at the first one found.
func AnyArrayOver(node interface{}, maxRows int) (found bool) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(stopWalk); ok {
				found = true
				return
			}
			panic(r)
		}
	}()
	Walk(node, nil, func(path string, value []interface{}) {
		if len(value) > maxRows {
			panic(stopWalk{})
		}
	})
	return false
}

package filter

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.starlark.net/starlark"
)

// builtins are the helper functions available to filter expressions.
var builtins = starlark.StringDict{
	"contains":   starlark.NewBuiltin("contains", stringPredicate(strings.Contains)),
	"startswith": starlark.NewBuiltin("startswith", stringPredicate(strings.HasPrefix)),
	"endswith":   starlark.NewBuiltin("endswith", stringPredicate(strings.HasSuffix)),
	"icontains": starlark.NewBuiltin("icontains", stringPredicate(func(s, sub string) bool {
		return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
	})),
	"matches": starlark.NewBuiltin("matches", matches),
}

func init() {
	builtins.Freeze()
}

// stringPredicate adapts a func(s, arg string) bool into a Starlark builtin.
func stringPredicate(pred func(s, arg string) bool) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var s, arg string
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &s, &arg); err != nil {
			return nil, err
		}
		return starlark.Bool(pred(s, arg)), nil
	}
}

// regexCache holds compiled patterns; filters are evaluated from several workers.
var regexCache sync.Map // pattern -> *regexp.Regexp

func matches(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var s, pattern string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &s, &pattern); err != nil {
		return nil, err
	}

	var re *regexp.Regexp
	if cached, ok := regexCache.Load(pattern); ok {
		re = cached.(*regexp.Regexp)
	} else {
		compiled, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
		regexCache.Store(pattern, compiled)
		re = compiled
	}
	return starlark.Bool(re.MatchString(s)), nil
}

// toStarlark converts record metadata into Starlark values. Types without a
// Starlark counterpart are rendered as strings; database drivers hand back a
// wide variety of them.
func toStarlark(v any) (starlark.Value, error) {
	switch val := v.(type) {
	case nil:
		return starlark.None, nil
	case starlark.Value:
		return val, nil
	case string:
		return starlark.String(val), nil
	case []byte:
		return starlark.String(val), nil
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int32:
		return starlark.MakeInt64(int64(val)), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case uint64:
		return starlark.MakeUint64(val), nil
	case float32:
		return starlark.Float(val), nil
	case float64:
		return starlark.Float(val), nil
	case time.Time:
		return starlark.MakeInt64(val.Unix()), nil
	case []any:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			sv, err := toStarlark(item)
			if err != nil {
				return nil, fmt.Errorf("list index %d: %w", i, err)
			}
			list[i] = sv
		}
		return starlark.NewList(list), nil
	case map[string]any:
		dict := starlark.NewDict(len(val))
		for k, item := range val {
			sv, err := toStarlark(item)
			if err != nil {
				return nil, fmt.Errorf("dict key %q: %w", k, err)
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, fmt.Errorf("dict setkey %q: %w", k, err)
			}
		}
		return dict, nil
	}
	return starlark.String(fmt.Sprint(v)), nil
}

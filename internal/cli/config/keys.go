package config

import (
	"reflect"
	"slices"
	"strings"
)

// keyValue is one leaf of the configuration tree.
type keyValue struct {
	key   string
	value any
}

func leaves(v reflect.Value, prefix string) []keyValue {
	var out []keyValue
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("koanf")
		if tag == "" || tag == "-" {
			continue
		}
		if t.Field(i).Type.Kind() == reflect.Struct {
			out = append(out, leaves(v.Field(i), prefix+tag+".")...)
			continue
		}
		out = append(out, keyValue{key: prefix + tag, value: v.Field(i).Interface()})
	}
	return out
}

// Keys returns every configuration key in dotted form, in declaration order.
func Keys() []string {
	var keys []string
	for _, kv := range leaves(reflect.ValueOf(*Default()), "") {
		keys = append(keys, kv.key)
	}
	return keys
}

// Defaults returns the default value of every configuration key.
func Defaults() map[string]any {
	out := make(map[string]any)
	for _, kv := range leaves(reflect.ValueOf(*Default()), "") {
		out[kv.key] = kv.value
	}
	return out
}

// FlagKey returns the configuration key a command-line flag is loaded into.
// ok is false for flags that only steer a single command.
func FlagKey(flag string) (key string, ok bool) {
	key, mapped := flagKeys[flag]
	if !mapped {
		key = strings.ReplaceAll(flag, "-", "_")
	}
	return key, slices.Contains(Keys(), key)
}

// EnvVar returns the environment variable that sets key.
func EnvVar(key string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(key, ".", "__"))
}

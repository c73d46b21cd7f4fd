package dialect

import (
	"strings"

	"github.com/leapstack-labs/querylineage/pkg/core"
)

// Normalize strips identifier decoration from a possibly qualified table or
// column name: delimiters are removed from every part, empty parts (db..t) are
// dropped, and the default-schema sentinel is removed from qualifier positions
// when the policy is SentinelStrip. The second result is false when no usable
// name remains; callers must drop such references.
//
// Normalize is idempotent. Dots inside a quoted part are not preserved as
// part of that part: "Weird.Name"."T" becomes Weird.Name.T and compares equal
// to the three-part name Weird.Name.T.
func (d *Dialect) Normalize(raw string) (string, bool) {
	// Runs to a fixed point. A pass that changes its input also shortens it,
	// so the loop ends.
	out := d.normalizeOnce(raw)
	for {
		next := d.normalizeOnce(out)
		if next == out {
			break
		}
		out = next
	}
	return out, out != ""
}

// Reference normalizes raw and wraps it in a TableReference.
func (d *Dialect) Reference(raw string) (core.TableReference, bool) {
	name, ok := d.Normalize(raw)
	if !ok {
		return core.TableReference{}, false
	}
	return core.NewTableReference(name), true
}

// ReferenceFromParts normalizes already-split name parts.
func (d *Dialect) ReferenceFromParts(parts []string) (core.TableReference, bool) {
	return d.Reference(strings.Join(parts, "."))
}

func (d *Dialect) normalizeOnce(raw string) string {
	parts := d.SplitParts(raw)
	if len(parts) == 0 {
		return ""
	}

	if d.SentinelPolicy == SentinelStrip && d.SchemaSentinel != "" {
		sentinel := core.FoldKey(d.SchemaSentinel)
		kept := parts[:0]
		for i, p := range parts {
			// Only qualifiers can be the sentinel; a table named like it is kept.
			if i < len(parts)-1 && core.FoldKey(p) == sentinel {
				continue
			}
			kept = append(kept, p)
		}
		parts = kept
	}

	return strings.Join(parts, ".")
}

// SplitParts splits a qualified identifier on dots that are outside delimiters
// and strips each part. Empty parts are dropped.
func (d *Dialect) SplitParts(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	var parts []string
	var cur strings.Builder
	flush := func() {
		if p := d.unquotePart(cur.String()); p != "" {
			parts = append(parts, p)
		}
		cur.Reset()
	}

	for i := 0; i < len(raw); i++ {
		ch := raw[i]
		if ch == '.' {
			flush()
			continue
		}
		// A delimiter only opens quoting at the start of a part.
		if closeCh, ok := d.Identifiers.CloseFor(ch); ok && strings.TrimSpace(cur.String()) == "" {
			cur.Reset()
			cur.WriteByte(ch)
			i++
			for ; i < len(raw); i++ {
				if raw[i] == closeCh {
					if i+1 < len(raw) && raw[i+1] == closeCh {
						cur.WriteByte(closeCh)
						i++
						continue
					}
					break
				}
				cur.WriteByte(raw[i])
			}
			cur.WriteByte(closeCh)
			continue
		}
		cur.WriteByte(ch)
	}
	flush()

	return parts
}

// unquotePart removes surrounding delimiters (repeatedly, for doubly wrapped
// names such as ["x"]) and surrounding whitespace.
func (d *Dialect) unquotePart(p string) string {
	p = strings.TrimSpace(p)
	for len(p) >= 2 {
		closeCh, ok := d.Identifiers.CloseFor(p[0])
		if !ok || p[len(p)-1] != closeCh {
			break
		}
		p = strings.TrimSpace(p[1 : len(p)-1])
	}
	// A lone delimiter is decoration, not a name.
	if len(p) == 1 {
		if _, ok := d.Identifiers.CloseFor(p[0]); ok {
			return ""
		}
	}
	return p
}

// Key returns the case-folded comparison key of a normalized name.
func Key(name string) string {
	return core.FoldKey(name)
}

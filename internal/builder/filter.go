package builder

import "strings"

// allowed reports whether a qualified operation name may be expanded
// into its own sub-operation. Exclude wins over Include; an empty
// Include list admits everything.
func (b *Builder) allowed(qual string) bool {
	for _, pat := range b.opts.Exclude {
		if matchQual(pat, qual) {
			return false
		}
	}
	if len(b.opts.Include) == 0 {
		return true
	}
	for _, pat := range b.opts.Include {
		if matchQual(pat, qual) {
			return true
		}
	}
	return false
}

// matchQual matches a qualified name against a pattern: either an
// exact name ("main.f") or a prefix wildcard ("builtin.*").
func matchQual(pat, qual string) bool {
	if prefix, ok := strings.CutSuffix(pat, ".*"); ok {
		return qual == prefix || strings.HasPrefix(qual, prefix+".")
	}
	return pat == qual
}

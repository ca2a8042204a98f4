package recorder

import (
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Configure parses a configuration string of the form
// "pattern1[=value1],pattern2[=value2],..." (spec.md §4.3/§6) and applies
// each clause atomically. A clause whose left-hand side matches an
// existing tweakable's name exactly sets that tweakable; otherwise the
// clause is a trace pattern, and every channel whose name matches has its
// traced bit set (value != 0) or cleared (value == 0).
//
// A clause that fails to parse is an InvalidConfiguration (spec.md §7):
// it is dropped, a diagnostic is logged, and the remaining clauses are
// still processed. Configure itself never returns an error for this
// reason — the return value counts how many clauses applied successfully.
func (r *Registry) Configure(spec string) (applied int) {
	for _, raw := range strings.Split(spec, ",") {
		clause := strings.TrimSpace(raw)
		if clause == "" {
			continue
		}

		name, value, err := parseClause(clause)
		if err != nil {
			r.warn("dropping invalid configuration clause", clause, err)
			continue
		}

		if t, ok := r.Tweakable(name); ok {
			t.Set(value)
			r.recordClause(name, value)
			applied++
			continue
		}

		matched, err := r.applyTracePattern(name, value != 0)
		if err != nil {
			r.warn("dropping invalid configuration clause", clause, err)
			continue
		}
		if matched == 0 && r.log != nil {
			r.log.Debugw("configuration clause matched no channel", zap.String("pattern", name))
		}
		r.recordClause(name, value)
		applied++
	}
	return applied
}

// parseClause splits "name" or "name=value" and defaults value to 1, per
// spec.md §4.3's grammar: clause := name ('=' integer)?
func parseClause(clause string) (name string, value int64, err error) {
	if lhs, rhs, ok := strings.Cut(clause, "="); ok {
		v, perr := strconv.ParseInt(strings.TrimSpace(rhs), 10, 64)
		if perr != nil {
			return "", 0, perr
		}
		return strings.TrimSpace(lhs), v, nil
	}
	return clause, 1, nil
}

// applyTracePattern sets or clears the traced bit on every channel whose
// name matches pattern.
func (r *Registry) applyTracePattern(pattern string, enable bool) (matched int, err error) {
	m, err := compilePattern(pattern)
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.channels {
		if m.Match(c.name) {
			c.setTraced(enable)
			matched++
		}
	}
	return matched, nil
}

func (r *Registry) recordClause(name string, value int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appliedClauses = append(r.appliedClauses, name+"="+strconv.FormatInt(value, 10))
}

func (r *Registry) warn(msg, clause string, err error) {
	if r.log != nil {
		r.log.Warnw(msg, zap.String("clause", clause), zap.Error(err))
	}
}

// EmitConfig reconstructs a configuration string equivalent to every
// clause successfully applied so far, in application order. Per the
// round-trip property in spec.md §8, parsing this string with Configure
// on a Registry in the same starting state reproduces the same
// tweakable values and traced bits.
func (r *Registry) EmitConfig() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.Join(r.appliedClauses, ",")
}

package devicetype

// RuleSet is the admission policy an administrator attaches to the
// local node's pair registry: allow everything, deny everything, or
// admit a fixed set of device types. The numeric {NONE}/{NO_RULES,
// END} sentinels survive only in the serialized wire form.
type RuleSet struct {
	kind    ruleKind
	allowed map[Type]struct{}
}

type ruleKind uint8

const (
	ruleDenyAll ruleKind = iota
	ruleAllowAll
	ruleOnly
)

// DenyAll returns the rule set that rejects every peer type. On the
// wire this is the bounded list {NONE}.
func DenyAll() RuleSet {
	return RuleSet{kind: ruleDenyAll}
}

// AllowAll returns the rule set that admits every peer type. On the
// wire this is the sentinel pair {NO_RULES, END}.
func AllowAll() RuleSet {
	return RuleSet{kind: ruleAllowAll}
}

// Only returns the rule set that admits exactly the given types.
func Only(types ...Type) RuleSet {
	set := make(map[Type]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return RuleSet{kind: ruleOnly, allowed: set}
}

// Allowed reports whether t may be admitted under this rule set.
func (r RuleSet) Allowed(t Type) bool {
	switch r.kind {
	case ruleAllowAll:
		return true
	case ruleOnly:
		_, ok := r.allowed[t]
		return ok
	case ruleDenyAll:
		return false
	default:
		return false
	}
}

// maxRuleEntries bounds the serialized rule list.
const maxRuleEntries = 10

// EncodeRuleSet serializes r into the closed END-terminated wire form
// described above, for administrators who configure policy
// as a flat byte list (e.g. from a settings-store record).
func EncodeRuleSet(r RuleSet) []Type {
	switch r.kind {
	case ruleDenyAll:
		return []Type{None}
	case ruleAllowAll:
		return []Type{End + 1, End}
	case ruleOnly:
		out := make([]Type, 0, len(r.allowed)+1)
		for t := range r.allowed {
			if len(out) >= maxRuleEntries-1 {
				break
			}
			out = append(out, t)
		}
		out = append(out, End)
		return out
	default:
		return []Type{None}
	}
}

// DecodeRuleSet parses the closed END-terminated wire form back into a
// RuleSet, applying the sentinel interpretation:
// an empty/blocked list rejects all, {NO_RULES,...} accepts all,
// otherwise membership in the list is required.
func DecodeRuleSet(raw []Type) RuleSet {
	if len(raw) == 0 || raw[0] == None {
		return DenyAll()
	}

	members := make([]Type, 0, len(raw))
	for _, t := range raw {
		if t == End {
			break
		}
		if t == End+1 { // NO_RULES sentinel
			return AllowAll()
		}
		members = append(members, t)
	}
	if len(members) == 0 {
		return DenyAll()
	}
	return Only(members...)
}

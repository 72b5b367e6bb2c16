package crawler

import "strings"

// DomainBlocklist rejects hosts by exact name or by "*.suffix" / ".suffix"
// patterns. A nil DomainBlocklist blocks nothing.
type DomainBlocklist struct {
	exact    map[string]struct{}
	suffixes []string
}

// NewDomainBlocklist compiles patterns. It returns nil when no usable pattern
// remains.
func NewDomainBlocklist(patterns []string) *DomainBlocklist {
	b := &DomainBlocklist{exact: make(map[string]struct{})}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		switch {
		case value == "":
		case strings.HasPrefix(value, "*."):
			b.addSuffix(strings.TrimPrefix(value, "*."))
		case strings.HasPrefix(value, "."):
			b.addSuffix(strings.TrimPrefix(value, "."))
		default:
			b.exact[value] = struct{}{}
		}
	}
	if len(b.exact) == 0 && len(b.suffixes) == 0 {
		return nil
	}
	return b
}

func (b *DomainBlocklist) addSuffix(suffix string) {
	if suffix == "" {
		return
	}
	for _, existing := range b.suffixes {
		if existing == suffix {
			return
		}
	}
	b.suffixes = append(b.suffixes, suffix)
}

// Blocks reports whether host matches a pattern.
func (b *DomainBlocklist) Blocks(host string) bool {
	if b == nil {
		return false
	}
	host = strings.TrimSuffix(strings.TrimSpace(strings.ToLower(host)), ".")
	if host == "" {
		return false
	}
	if _, ok := b.exact[host]; ok {
		return true
	}
	for _, suffix := range b.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}

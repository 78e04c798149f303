package policy

// Store is the ordered rule set. At most one rule exists per vendor/product
// pair. Implementations are not required to be safe for concurrent use; the
// Engine serializes access.
type Store interface {
	// Match returns the first rule for the pair in insertion order.
	Match(vendor, product uint16) (Rule, bool)
	// Upsert removes any rule for the same pair and appends r.
	Upsert(r Rule)
	// Remove drops the rule for the pair and reports whether one existed.
	Remove(vendor, product uint16) bool
	// List returns the rules in order.
	List() []Rule
	// Replace swaps the whole rule set.
	Replace(rules []Rule)
}

package policy

import (
	"slices"

	"github.com/kvthweatt/USB-Monitor/internal/device"
)

type memoryStore struct {
	rules []Rule
}

func NewMemoryStore() Store {
	return &memoryStore{}
}

func cloneRule(r Rule) Rule {
	r.AllowedInterfaces = slices.Clone(r.AllowedInterfaces)
	return r
}

func (s *memoryStore) Match(vendor, product uint16) (Rule, bool) {
	id := device.Identity{VendorID: vendor, ProductID: product}
	for _, r := range s.rules {
		if r.Matches(id) {
			return cloneRule(r), true
		}
	}
	return Rule{}, false
}

func (s *memoryStore) Upsert(r Rule) {
	s.remove(r.VendorID, r.ProductID)
	s.rules = append(s.rules, cloneRule(r))
}

func (s *memoryStore) Remove(vendor, product uint16) bool {
	return s.remove(vendor, product)
}

func (s *memoryStore) remove(vendor, product uint16) bool {
	before := len(s.rules)
	s.rules = slices.DeleteFunc(s.rules, func(r Rule) bool {
		return r.VendorID == vendor && r.ProductID == product
	})
	return len(s.rules) != before
}

func (s *memoryStore) List() []Rule {
	out := make([]Rule, len(s.rules))
	for i, r := range s.rules {
		out[i] = cloneRule(r)
	}
	return out
}

func (s *memoryStore) Replace(rules []Rule) {
	s.rules = s.rules[:0:0]
	for _, r := range rules {
		s.Upsert(r)
	}
}

package instrument

import (
	"fmt"
	"strings"
)

// MethodFilter selects the methods an attachment hooks
type MethodFilter interface {
	Accept(m Method) bool
}

// MethodFilterFunc is a function adapter for MethodFilter
type MethodFilterFunc func(m Method) bool

// Accept implements MethodFilter
func (f MethodFilterFunc) Accept(m Method) bool {
	return f(m)
}

// Validator is implemented by filters that can be malformed
type Validator interface {
	Validate() error
}

// NameFilter accepts methods by exact name
type NameFilter struct {
	names map[string]bool
}

// Names creates a filter accepting the listed method names
func Names(names ...string) *NameFilter {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return &NameFilter{names: set}
}

// Accept implements MethodFilter
func (f *NameFilter) Accept(m Method) bool {
	return f.names[m.Name]
}

// Validate implements Validator
func (f *NameFilter) Validate() error {
	if len(f.names) == 0 {
		return fmt.Errorf("name filter lists no methods")
	}
	return nil
}

// Prefix accepts methods whose name starts with one of the prefixes
func Prefix(prefixes ...string) MethodFilter {
	return MethodFilterFunc(func(m Method) bool {
		for _, p := range prefixes {
			if strings.HasPrefix(m.Name, p) {
				return true
			}
		}
		return false
	})
}

// FamilyFilter selects members of a method family. An exclusion filter on a
// base type and an inclusion filter with the same names on its variant split
// the family between them without overlap.
type FamilyFilter struct {
	family  map[string]bool
	listed  map[string]bool
	include bool
}

// ExcludeMethods accepts every family member except the listed ones
func ExcludeMethods(family []string, excluded ...string) *FamilyFilter {
	return newFamilyFilter(family, excluded, false)
}

// IncludeMethods accepts only the listed family members
func IncludeMethods(family []string, included ...string) *FamilyFilter {
	return newFamilyFilter(family, included, true)
}

func newFamilyFilter(family, listed []string, include bool) *FamilyFilter {
	f := &FamilyFilter{
		family:  make(map[string]bool, len(family)),
		listed:  make(map[string]bool, len(listed)),
		include: include,
	}
	for _, n := range family {
		f.family[n] = true
	}
	for _, n := range listed {
		f.listed[n] = true
	}
	return f
}

// Accept implements MethodFilter
func (f *FamilyFilter) Accept(m Method) bool {
	if !f.family[m.Name] {
		return false
	}
	return f.listed[m.Name] == f.include
}

// Validate implements Validator
func (f *FamilyFilter) Validate() error {
	if len(f.family) == 0 {
		return fmt.Errorf("family filter has an empty family")
	}
	for n := range f.listed {
		if !f.family[n] {
			return fmt.Errorf("method %q is not a member of the family", n)
		}
	}
	return nil
}

// CompositeFilter combines filters with AND logic
type CompositeFilter struct {
	filters []MethodFilter
}

// All creates a filter accepting methods accepted by every filter
func All(filters ...MethodFilter) *CompositeFilter {
	return &CompositeFilter{filters: filters}
}

// Accept implements MethodFilter
func (f *CompositeFilter) Accept(m Method) bool {
	for _, filter := range f.filters {
		if !filter.Accept(m) {
			return false
		}
	}
	return true
}

// Validate implements Validator
func (f *CompositeFilter) Validate() error {
	return validateAll(f.filters)
}

// OrFilter combines filters with OR logic
type OrFilter struct {
	filters []MethodFilter
}

// AnyOf creates a filter accepting methods accepted by at least one filter
func AnyOf(filters ...MethodFilter) *OrFilter {
	return &OrFilter{filters: filters}
}

// Accept implements MethodFilter
func (f *OrFilter) Accept(m Method) bool {
	for _, filter := range f.filters {
		if filter.Accept(m) {
			return true
		}
	}
	return false
}

// Validate implements Validator
func (f *OrFilter) Validate() error {
	return validateAll(f.filters)
}

// Not inverts a filter
func Not(filter MethodFilter) MethodFilter {
	return MethodFilterFunc(func(m Method) bool {
		return !filter.Accept(m)
	})
}

func validateAll(filters []MethodFilter) error {
	if len(filters) == 0 {
		return fmt.Errorf("composite filter has no members")
	}
	for _, filter := range filters {
		if filter == nil {
			return fmt.Errorf("composite filter has a nil member")
		}
		if v, ok := filter.(Validator); ok {
			if err := v.Validate(); err != nil {
				return err
			}
		}
	}
	return nil
}

package instrument

import (
	"fmt"

	"github.com/glimte/hookmate/contracts"
	"github.com/glimte/hookmate/interceptors"
)

// Attachment binds an interceptor to the methods a filter selects
type Attachment struct {
	Filter      MethodFilter
	Interceptor interceptors.Descriptor
	Args        []any
	// Group is empty for ungrouped interceptors
	Group string
	// Policy applies within Group; PolicyDefault there means PolicyBoundary
	Policy interceptors.ExecutionPolicy
}

// Plan declares how one target type is augmented. Slots are installed first in
// declaration order, then attachments in declaration order; on every method
// the attachment order is the Before order.
type Plan struct {
	slots       []slotSpec
	attachments []Attachment
}

// NewPlan creates an empty plan
func NewPlan() *Plan {
	return &Plan{}
}

// AddSlot declares a slot; init supplies the value read before the first write
func (p *Plan) AddSlot(key SlotKey, init func() any) *Plan {
	p.slots = append(p.slots, slotSpec{name: key.SlotName(), init: init})
	return p
}

// Attach appends an attachment
func (p *Plan) Attach(a Attachment) *Plan {
	p.attachments = append(p.attachments, a)
	return p
}

// AttachIf appends an attachment when cond holds. Conditions are resolved once at setup.
func (p *Plan) AttachIf(cond bool, a Attachment) *Plan {
	if cond {
		p.Attach(a)
	}
	return p
}

// Slots returns the declared slot names in order
func (p *Plan) Slots() []string {
	names := make([]string, len(p.slots))
	for i, s := range p.slots {
		names[i] = s.name
	}
	return names
}

// Attachments returns a copy of the declared attachments
func (p *Plan) Attachments() []Attachment {
	out := make([]Attachment, len(p.attachments))
	copy(out, p.attachments)
	return out
}

// Validate reports setup errors in the plan
func (p *Plan) Validate() error {
	if len(p.slots) == 0 && len(p.attachments) == 0 {
		return contracts.ErrEmptyPlan
	}

	seen := make(map[string]bool, len(p.slots))
	for _, s := range p.slots {
		if s.name == "" {
			return fmt.Errorf("plan: slot without a name")
		}
		if seen[s.name] {
			return &contracts.SlotCollisionError{Slot: s.name}
		}
		seen[s.name] = true
	}

	for i, a := range p.attachments {
		if a.Filter == nil {
			return fmt.Errorf("attachment %d: %w", i, contracts.ErrMissingFilter)
		}
		if a.Interceptor.New == nil {
			return fmt.Errorf("attachment %d: %w", i, contracts.ErrMissingFactory)
		}
		if !a.Policy.Valid() {
			return fmt.Errorf("attachment %d: %w", i, contracts.ErrInvalidPolicy)
		}
		if v, ok := a.Filter.(Validator); ok {
			if err := v.Validate(); err != nil {
				return fmt.Errorf("attachment %d (%s): %w", i, a.Interceptor.Name, err)
			}
		}
	}

	return nil
}

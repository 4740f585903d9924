package instrument

import (
	"reflect"
	"strings"
)

// Method identifies a method by name and signature
type Method struct {
	Name      string
	Signature string
}

func (m Method) String() string {
	if m.Signature == "" {
		return m.Name
	}
	return m.Name + m.Signature
}

// TypeDescriptor is the candidate representation of a target type
type TypeDescriptor struct {
	// Name is the stable identity of the type, as printed by reflect
	Name string
	// Abstract marks contract types that never receive augmentation
	Abstract bool
	// Base names the type whose slots and call sites this type inherits
	Base string
	// Methods lists the methods the type declares itself
	Methods []Method
}

// Declares reports whether the type declares the named method
func (d *TypeDescriptor) Declares(name string) bool {
	for _, m := range d.Methods {
		if m.Name == name {
			return true
		}
	}
	return false
}

// TypeName returns the stable name of v's dynamic type
func TypeName(v any) string {
	if v == nil {
		return ""
	}
	return reflect.TypeOf(v).String()
}

// Describe builds a descriptor for v's dynamic type from its exported method set
func Describe(v any) *TypeDescriptor {
	if v == nil {
		return &TypeDescriptor{Abstract: true}
	}
	return DescribeType(reflect.TypeOf(v))
}

// DescribeType builds a descriptor from a reflect type. Interface types are abstract.
func DescribeType(t reflect.Type) *TypeDescriptor {
	d := &TypeDescriptor{
		Name:     t.String(),
		Abstract: t.Kind() == reflect.Interface,
		Methods:  make([]Method, 0, t.NumMethod()),
	}

	for i := 0; i < t.NumMethod(); i++ {
		m := t.Method(i)
		d.Methods = append(d.Methods, Method{Name: m.Name, Signature: signature(m.Type, t.Kind() != reflect.Interface)})
	}

	return d
}

// WithMethods returns a copy of d that declares methods in addition to its own
func (d *TypeDescriptor) WithMethods(methods ...Method) *TypeDescriptor {
	out := *d
	out.Methods = make([]Method, 0, len(d.Methods)+len(methods))
	out.Methods = append(out.Methods, d.Methods...)
	for _, m := range methods {
		if !out.Declares(m.Name) {
			out.Methods = append(out.Methods, m)
		}
	}
	return &out
}

// signature renders a func type as "(in...) (out...)", skipping the receiver of method values
func signature(ft reflect.Type, hasReceiver bool) string {
	var b strings.Builder
	b.WriteByte('(')
	start := 0
	if hasReceiver {
		start = 1
	}
	for i := start; i < ft.NumIn(); i++ {
		if i > start {
			b.WriteString(", ")
		}
		if ft.IsVariadic() && i == ft.NumIn()-1 {
			b.WriteString("..." + ft.In(i).Elem().String())
			continue
		}
		b.WriteString(ft.In(i).String())
	}
	b.WriteByte(')')

	switch ft.NumOut() {
	case 0:
	case 1:
		b.WriteString(" " + ft.Out(0).String())
	default:
		b.WriteString(" (")
		for i := 0; i < ft.NumOut(); i++ {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(ft.Out(i).String())
		}
		b.WriteByte(')')
	}
	return b.String()
}

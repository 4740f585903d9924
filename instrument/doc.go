// Package instrument augments target types with slots and hook call sites.
//
// A plugin describes each target type with a Plan: the slots every instance
// carries and the attachments that bind interceptors to methods. The
// Transformer applies a plan when a host surfaces the type, registers one
// interceptor per hooked method in the bound registry and keeps the ids at the
// call sites of the resulting Type. Decorators then route calls through
// Instance.Invoke:
//
//	typ, _ := transformer.Resolve(instrument.DefaultLoader, instrument.TypeName(conn), func() *instrument.TypeDescriptor {
//		return instrument.Describe(conn)
//	})
//	w := &connWrapper{conn: conn}
//	w.inst = typ.NewInstance(w)
//	res, err := w.inst.Invoke(ctx, "Close", nil, func(ctx context.Context) (any, error) {
//		return nil, conn.Close()
//	})
//
// Slots are reached only through their Accessor, so state shared between
// interceptors stays private to the code that owns the accessor.
package instrument

package session

import (
	"context"
	"fmt"
	"hash/fnv"
	"reflect"
	"runtime"

	"github.com/aretw0/limpopo/pkg/domain"
	"github.com/aretw0/limpopo/pkg/ports"
)

// CallKeyOf derives the idempotency key of fn invoked with args.
// The function is identified by its symbol name, which is stable across restarts of
// the same binary. Args are formatted with %#v, so they should be plain values.
func CallKeyOf(fn any, args ...any) domain.CallKey {
	name := fmt.Sprintf("%T", fn)
	if v := reflect.ValueOf(fn); v.Kind() == reflect.Func && !v.IsNil() {
		if f := runtime.FuncForPC(v.Pointer()); f != nil {
			name = f.Name()
		}
	}
	return callKey(name, args...)
}

func callKey(name string, args ...any) domain.CallKey {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	for _, arg := range args {
		_, _ = fmt.Fprintf(h, "\x00%#v", arg)
	}
	return domain.CallKey(h.Sum64())
}

// CallOnce runs fn at most once per dialog for the given arguments, across restores.
// The call is recorded before fn runs: a crash while fn executes means it is never
// retried. It reports whether fn was invoked; the error is fn's or the recording's.
func (d *Dialog) CallOnce(ctx context.Context, fn func(context.Context) error, args ...any) (bool, error) {
	return d.callOnce(ctx, CallKeyOf(fn, args...), fn)
}

// CallOnceKey is CallOnce with an explicit name instead of the function's symbol.
func (d *Dialog) CallOnceKey(ctx context.Context, name string, fn func(context.Context) error, args ...any) (bool, error) {
	return d.callOnce(ctx, callKey(name, args...), fn)
}

func (d *Dialog) callOnce(ctx context.Context, key domain.CallKey, fn func(context.Context) error) (bool, error) {
	d.mu.Lock()
	_, done := d.called[key]
	d.mu.Unlock()
	if done {
		d.svc.metrics.CallSkipped()
		return false, nil
	}

	err := d.persist(ctx, ports.OpSaveFunctionCall, func(ctx context.Context) error {
		return d.svc.storage.SaveFunctionCall(ctx, d.id, key)
	})
	if err != nil {
		return false, err
	}

	d.mu.Lock()
	d.called[key] = struct{}{}
	d.mu.Unlock()

	return true, fn(ctx)
}

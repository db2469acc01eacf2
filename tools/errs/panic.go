package errs

import (
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// ErrPanic turns a recovered value into an internal CodeError carrying the panic
// text as detail. A nil value yields nil so callers can pass recover() straight in.
func ErrPanic(r any) error {
	if r == nil {
		return nil
	}
	ce := ErrInternal.WithDetail("panic: " + fmt.Sprint(r))
	return pkgerrors.WithStack(&ce)
}

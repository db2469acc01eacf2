package security

import (
	"context"
	"strings"

	"ChatHub/tools/decode"
	"ChatHub/tools/errs"
)

// Validator decodes bearer tokens into numeric subject ids.
type Validator struct {
	opts Options
}

func NewValidator(opts Options) *Validator {
	return &Validator{opts: opts}
}

// Decode verifies token and returns its "sub" claim as a user id. The claim may be
// a JSON string or number; both normalise to the same int64.
func (v *Validator) Decode(_ context.Context, token string) (int64, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return 0, errs.ErrTokenMissing.Wrap()
	}
	sub, err := Verify(v.opts, token)
	if err != nil {
		return 0, errs.ErrTokenInvalid.WrapMsg(err.Error())
	}
	id, err := decode.Int64(sub)
	if err != nil {
		return 0, errs.ErrTokenInvalid.WrapMsg("sub claim", "err", err)
	}
	return id, nil
}

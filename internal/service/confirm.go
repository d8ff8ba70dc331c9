package service

import "context"

// Confirmer asks the user to agree to a destructive operation.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) bool
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, prompt string) bool

func (f ConfirmFunc) Confirm(ctx context.Context, prompt string) bool { return f(ctx, prompt) }

// Confirmed is used when the caller already obtained consent, such as a
// request carrying confirm=true.
var Confirmed Confirmer = ConfirmFunc(func(context.Context, string) bool { return true })

// Declined refuses every prompt.
var Declined Confirmer = ConfirmFunc(func(context.Context, string) bool { return false })

func confirm(ctx context.Context, c Confirmer, prompt string) error {
	if c == nil || !c.Confirm(ctx, prompt) {
		return ErrCancelled
	}
	return nil
}

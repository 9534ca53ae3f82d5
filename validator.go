package rawstack

import "errors"

// Validator accumulates errors found while inspecting a frame's fields
// against the bytes actually available, the way a hand-rolled parser would
// check each field in turn without allocating an error slice for the
// common all-valid case. Every protocol codec package's ValidateSize /
// ValidateExceptCRC methods take a *Validator.
type Validator struct {
	accum []error
}

// AddError records an error found during validation. Validation continues
// after the first error, and Err reports every error recorded, joined when
// there is more than one.
func (v *Validator) AddError(err error) {
	v.accum = append(v.accum, err)
}

// HasError reports whether any error has been recorded so far.
func (v *Validator) HasError() bool { return len(v.accum) != 0 }

// ResetErr clears previously accumulated errors, allowing a Validator to be
// reused across many frames without reallocating its backing slice.
func (v *Validator) ResetErr() { v.accum = v.accum[:0] }

// Err returns nil if no errors were recorded, the sole error if exactly one
// was recorded, or errors.Join of all recorded errors otherwise.
func (v *Validator) Err() error {
	switch len(v.accum) {
	case 0:
		return nil
	case 1:
		return v.accum[0]
	default:
		return errors.Join(v.accum...)
	}
}

// ErrPop returns Err and resets the validator in one call, the common
// pattern at the point a frame is accepted or dropped.
func (v *Validator) ErrPop() error {
	err := v.Err()
	v.ResetErr()
	return err
}

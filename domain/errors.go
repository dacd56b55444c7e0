package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrWIPLimit indicates that a move was refused because the target list
	// is already at its work-in-progress limit.
	ErrWIPLimit = errors.New("wip limit reached")
	// ErrCardNotFound indicates that the moved card is not in the source list.
	ErrCardNotFound = errors.New("card not found")
	// ErrUnknownList indicates a list name other than todo, doing or done.
	ErrUnknownList = errors.New("unknown list")
	// ErrMalformedCard indicates a broadcast card that is not an object with
	// a string id.
	ErrMalformedCard = errors.New("malformed card")
)

// WIPLimitError describes a rejected admission.
type WIPLimitError struct {
	List  ListName
	Count int
	Limit int
}

func (e *WIPLimitError) Error() string {
	return fmt.Sprintf("%s: list %q has %d of %d cards", ErrWIPLimit, e.List, e.Count, e.Limit)
}

func (e *WIPLimitError) Unwrap() error { return ErrWIPLimit }

package library

import "errors"

// Domain errors for the library package.
//
//	if errors.Is(err, library.ErrConstraintViolation) {
//	    // loan refused, not a store fault
//	}
var (
	// ErrBorrowerNotFound is returned when a borrower ID does not exist.
	ErrBorrowerNotFound = errors.New("library: borrower not found")

	// ErrBookNotFound is returned when no book carries the given code.
	ErrBookNotFound = errors.New("library: book not found")

	// ErrLoanNotFound is returned when no matching active loan exists.
	ErrLoanNotFound = errors.New("library: loan not found")

	// ErrConstraintViolation is returned when a write breaks a lending rule
	// or a referential constraint. ErrBookOnLoan and ErrLoanLimitReached are
	// always wrapped together with it.
	ErrConstraintViolation = errors.New("library: constraint violation")

	// ErrBookOnLoan is returned when the book already has an active loan.
	ErrBookOnLoan = errors.New("library: book already on loan")

	// ErrLoanLimitReached is returned when the borrower is at the active loan limit.
	ErrLoanLimitReached = errors.New("library: active loan limit reached")
)

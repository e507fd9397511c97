// Package library is the gateway's view of the lending store: borrowers,
// books, loans, closed-loan invoices and the kiosk request audit trail.
//
// # Loan invariants
//
// A book has at most one active loan (returned_at IS NULL) and a borrower has
// at most a configured number of active loans. CreateLoan enforces both in a
// single conditional INSERT backed by a partial unique index, so concurrent
// kiosks cannot overshoot either limit. Callers distinguish rejected loans
// from store faults with errors.Is(err, ErrConstraintViolation).
//
// # Usage
//
//	repo := library.NewSQLiteRepository(db.DB)
//	book, err := repo.FindBookByCode(ctx, "9780262033848")
//	if errors.Is(err, library.ErrBookNotFound) {
//	    // reject
//	}
package library

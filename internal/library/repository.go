package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
)

// timeLayout is the on-disk representation of every timestamp column.
const timeLayout = time.RFC3339

// SQLiteRepository implements the lending store on SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository over an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// FindBorrowerByID returns the borrower with the given primary key.
// Returns ErrBorrowerNotFound if it does not exist.
func (r *SQLiteRepository) FindBorrowerByID(ctx context.Context, id int64) (*Borrower, error) {
	var b Borrower
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name FROM borrowers WHERE id = ?`, id,
	).Scan(&b.ID, &b.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBorrowerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying borrower by id: %w", err)
	}
	return &b, nil
}

// CountActiveLoansByBorrower returns how many unreturned loans the borrower holds.
// An unknown borrower has zero.
func (r *SQLiteRepository) CountActiveLoansByBorrower(ctx context.Context, borrowerID int64) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM loans WHERE borrower_id = ? AND returned_at IS NULL`, borrowerID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting active loans: %w", err)
	}
	return n, nil
}

// FindBookByCode returns the book whose printed code matches exactly.
// Returns ErrBookNotFound if none does.
func (r *SQLiteRepository) FindBookByCode(ctx context.Context, code string) (*Book, error) {
	var b Book
	err := r.db.QueryRowContext(ctx,
		`SELECT id, code, title FROM books WHERE code = ?`, code,
	).Scan(&b.ID, &b.Code, &b.Title)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBookNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying book by code: %w", err)
	}
	return &b, nil
}

// FindActiveLoanByBook returns the book's outstanding loan.
// Returns ErrLoanNotFound if the book is on the shelf.
func (r *SQLiteRepository) FindActiveLoanByBook(ctx context.Context, bookID int64) (*Loan, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, borrower_id, book_id, retrieved_at, due_at, returned_at
		FROM loans
		WHERE book_id = ? AND returned_at IS NULL`, bookID)

	loan, err := scanLoan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLoanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying active loan by book: %w", err)
	}
	return loan, nil
}

// CreateLoan inserts an active loan if, at the moment of the write, the
// book has no active loan and the borrower holds fewer than nl.MaxActive.
//
// Both checks and the insert are one statement: the borrower limit is a
// guard on INSERT ... SELECT and the book rule is the partial unique index
// idx_loans_active_book.
//
// Returns:
//   - *Loan: The created loan
//   - error: ErrConstraintViolation wrapping ErrLoanLimitReached or
//     ErrBookOnLoan when a rule refuses the loan, plain ErrConstraintViolation
//     for unknown borrower or book references, any other error for store faults
func (r *SQLiteRepository) CreateLoan(ctx context.Context, nl NewLoan) (*Loan, error) {
	retrieved := nl.RetrievedAt.UTC().Truncate(time.Second)
	due := nl.DueAt.UTC().Truncate(time.Second)

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO loans (borrower_id, book_id, retrieved_at, due_at)
		SELECT ?, ?, ?, ?
		WHERE (SELECT COUNT(*) FROM loans WHERE borrower_id = ? AND returned_at IS NULL) < ?`,
		nl.BorrowerID, nl.BookID, retrieved.Format(timeLayout), due.Format(timeLayout),
		nl.BorrowerID, nl.MaxActive,
	)
	if err != nil {
		if code, ok := constraintCode(err); ok && code == sqlite3.ErrConstraintUnique {
			return nil, fmt.Errorf("%w: %w", ErrConstraintViolation, ErrBookOnLoan)
		}
		return nil, classifyWriteError("creating loan", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("creating loan: %w", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("%w: %w", ErrConstraintViolation, ErrLoanLimitReached)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("creating loan: %w", err)
	}

	return &Loan{
		ID:          id,
		BorrowerID:  nl.BorrowerID,
		BookID:      nl.BookID,
		RetrievedAt: retrieved,
		DueAt:       due,
	}, nil
}

// ReturnLoan closes an active loan and files its invoice in one transaction.
// Returns ErrLoanNotFound if the loan does not exist or is already returned.
func (r *SQLiteRepository) ReturnLoan(ctx context.Context, loanID int64, at time.Time) (*Invoice, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // No-op after commit

	row := tx.QueryRowContext(ctx, `
		SELECT id, borrower_id, book_id, retrieved_at, due_at, returned_at
		FROM loans
		WHERE id = ? AND returned_at IS NULL`, loanID)
	loan, err := scanLoan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLoanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying loan: %w", err)
	}

	returned := at.UTC().Truncate(time.Second)
	if _, err := tx.ExecContext(ctx,
		`UPDATE loans SET returned_at = ? WHERE id = ?`,
		returned.Format(timeLayout), loan.ID,
	); err != nil {
		return nil, fmt.Errorf("closing loan: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO invoices (loan_id, borrower_id, book_id, retrieved_at, due_at, returned_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		loan.ID, loan.BorrowerID, loan.BookID,
		loan.RetrievedAt.Format(timeLayout), loan.DueAt.Format(timeLayout), returned.Format(timeLayout),
	)
	if err != nil {
		return nil, classifyWriteError("filing invoice", err)
	}
	invoiceID, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("filing invoice: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing return: %w", err)
	}

	return &Invoice{
		ID:          invoiceID,
		LoanID:      loan.ID,
		BorrowerID:  loan.BorrowerID,
		BookID:      loan.BookID,
		RetrievedAt: loan.RetrievedAt,
		DueAt:       loan.DueAt,
		ReturnedAt:  returned,
	}, nil
}

// RecordRequest appends a kiosk loan request to the audit trail.
func (r *SQLiteRepository) RecordRequest(ctx context.Context, req Request) error {
	created := req.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	granted := 0
	if req.Granted {
		granted = 1
	}

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO requests (borrower_id, client_id, book_code, granted, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		req.BorrowerID, req.ClientID, req.BookCode, granted, created.UTC().Format(timeLayout),
	); err != nil {
		return classifyWriteError("recording request", err)
	}
	return nil
}

// CreateBorrower inserts a borrower and returns its ID. A zero ID lets
// SQLite assign one.
func (r *SQLiteRepository) CreateBorrower(ctx context.Context, b Borrower) (int64, error) {
	var id any
	if b.ID != 0 {
		id = b.ID
	}
	res, err := r.db.ExecContext(ctx, `INSERT INTO borrowers (id, name) VALUES (?, ?)`, id, b.Name)
	if err != nil {
		return 0, classifyWriteError("creating borrower", err)
	}
	return res.LastInsertId()
}

// CreateBook inserts a book and returns its ID. A zero ID lets SQLite
// assign one.
func (r *SQLiteRepository) CreateBook(ctx context.Context, b Book) (int64, error) {
	var id any
	if b.ID != 0 {
		id = b.ID
	}
	res, err := r.db.ExecContext(ctx, `INSERT INTO books (id, code, title) VALUES (?, ?, ?)`, id, b.Code, b.Title)
	if err != nil {
		return 0, classifyWriteError("creating book", err)
	}
	return res.LastInsertId()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLoan(row rowScanner) (*Loan, error) {
	var (
		l              Loan
		retrieved, due string
		returned       sql.NullString
	)
	if err := row.Scan(&l.ID, &l.BorrowerID, &l.BookID, &retrieved, &due, &returned); err != nil {
		return nil, err
	}

	var err error
	if l.RetrievedAt, err = time.Parse(timeLayout, retrieved); err != nil {
		return nil, fmt.Errorf("parsing retrieved_at: %w", err)
	}
	if l.DueAt, err = time.Parse(timeLayout, due); err != nil {
		return nil, fmt.Errorf("parsing due_at: %w", err)
	}
	if returned.Valid {
		t, err := time.Parse(timeLayout, returned.String)
		if err != nil {
			return nil, fmt.Errorf("parsing returned_at: %w", err)
		}
		l.ReturnedAt = &t
	}
	return &l, nil
}

// constraintCode reports whether err is a SQLite constraint failure and
// returns its extended code.
func constraintCode(err error) (sqlite3.ErrNoExtended, bool) {
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) && sqlErr.Code == sqlite3.ErrConstraint {
		return sqlErr.ExtendedCode, true
	}
	return 0, false
}

// classifyWriteError maps SQLite constraint failures onto
// ErrConstraintViolation. Everything else is treated as a store fault.
func classifyWriteError(op string, err error) error {
	if _, ok := constraintCode(err); ok {
		return fmt.Errorf("%w: %s: %v", ErrConstraintViolation, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

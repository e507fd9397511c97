package library

import "time"

// Borrower is a registered library member.
type Borrower struct {
	ID   int64
	Name string
}

// Book is a lendable copy identified by the code printed on it.
type Book struct {
	ID    int64
	Code  string
	Title string
}

// Loan is a book checked out to a borrower. ReturnedAt is nil while the loan is active.
type Loan struct {
	ID          int64
	BorrowerID  int64
	BookID      int64
	RetrievedAt time.Time
	DueAt       time.Time
	ReturnedAt  *time.Time
}

// Active reports whether the loan is still outstanding.
func (l Loan) Active() bool {
	return l.ReturnedAt == nil
}

// NewLoan describes a loan to create.
type NewLoan struct {
	BorrowerID  int64
	BookID      int64
	RetrievedAt time.Time
	DueAt       time.Time

	// MaxActive is the borrower's active loan limit checked atomically
	// with the insert.
	MaxActive int
}

// Invoice is the closed record of a returned loan.
type Invoice struct {
	ID          int64
	LoanID      int64
	BorrowerID  int64
	BookID      int64
	RetrievedAt time.Time
	DueAt       time.Time
	ReturnedAt  time.Time
}

// Overdue reports whether the book came back after its due date.
func (i Invoice) Overdue() bool {
	return i.ReturnedAt.After(i.DueAt)
}

// Request is one audited loan request made at a kiosk.
type Request struct {
	BorrowerID int64
	ClientID   string
	BookCode   string
	Granted    bool
	CreatedAt  time.Time
}

package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/kiosk-gateway/internal/library"
)

// Outcomes reported to Metrics.
const (
	OutcomeGranted    = "granted"
	OutcomeDenied     = "denied"
	OutcomeDecoded    = "decoded"
	OutcomeNoCode     = "no_code"
	OutcomeStoreFault = "store_fault"
)

// handleAuth replies auth:true iff the borrower exists.
func (g *Gateway) handleAuth(ctx context.Context, req UserRequest) {
	start := time.Now()

	_, err := g.store.FindBorrowerByID(ctx, int64(req.UserID))
	switch {
	case err == nil:
		g.reply(KindAuth, req.ClientID, UserReply{Auth: boolPtr(true)})
		g.record(KindAuth, OutcomeGranted, start)
	case errors.Is(err, library.ErrBorrowerNotFound):
		g.reply(KindAuth, req.ClientID, UserReply{Auth: boolPtr(false)})
		g.record(KindAuth, OutcomeDenied, start)
	default:
		g.storeFault(KindAuth, req.ClientID, err, start)
	}
}

// handleStatus replies status:true iff the borrower is below the active loan limit.
func (g *Gateway) handleStatus(ctx context.Context, req UserRequest) {
	start := time.Now()

	n, err := g.store.CountActiveLoansByBorrower(ctx, int64(req.UserID))
	if err != nil {
		g.storeFault(KindStatus, req.ClientID, err, start)
		return
	}

	eligible := n < g.maxActive
	g.reply(KindStatus, req.ClientID, UserReply{Status: boolPtr(eligible)})
	if eligible {
		g.record(KindStatus, OutcomeGranted, start)
	} else {
		g.record(KindStatus, OutcomeDenied, start)
	}
}

// handleLoan checks the book and creates the loan. The active-loan lookup is
// only a fast path; CreateLoan enforces both lending rules atomically.
func (g *Gateway) handleLoan(ctx context.Context, req LoanRequest) {
	start := time.Now()

	granted, err := g.tryLoan(ctx, req)
	if err != nil {
		g.storeFault(KindLoan, req.ClientID, err, start)
		return
	}

	g.reply(KindLoan, req.ClientID, LoanReply{Loan: granted})
	if granted {
		g.record(KindLoan, OutcomeGranted, start)
	} else {
		g.record(KindLoan, OutcomeDenied, start)
	}

	if err := g.store.RecordRequest(ctx, library.Request{
		BorrowerID: int64(req.UserID),
		ClientID:   req.ClientID,
		BookCode:   req.BookCode,
		Granted:    granted,
		CreatedAt:  g.now(),
	}); err != nil {
		g.getLogger().Warn("failed to record loan request",
			"client_id", req.ClientID,
			"user_id", int64(req.UserID),
			"error", err,
		)
	}
}

// tryLoan returns whether the loan was granted. A non-nil error is a store
// fault and means no reply should be sent.
func (g *Gateway) tryLoan(ctx context.Context, req LoanRequest) (bool, error) {
	book, err := g.store.FindBookByCode(ctx, req.BookCode)
	if errors.Is(err, library.ErrBookNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	_, err = g.store.FindActiveLoanByBook(ctx, book.ID)
	switch {
	case err == nil:
		return false, nil
	case !errors.Is(err, library.ErrLoanNotFound):
		return false, err
	}

	now := g.now()
	loan, err := g.store.CreateLoan(ctx, library.NewLoan{
		BorrowerID:  int64(req.UserID),
		BookID:      book.ID,
		RetrievedAt: now,
		DueAt:       now.Add(g.loanPeriod),
		MaxActive:   g.maxActive,
	})
	if errors.Is(err, library.ErrConstraintViolation) {
		g.getLogger().Debug("loan refused", "client_id", req.ClientID, "book_id", book.ID, "reason", err)
		return false, nil
	}
	if err != nil {
		return false, err
	}

	g.getLogger().Info("loan created",
		"loan_id", loan.ID,
		"borrower_id", loan.BorrowerID,
		"book_id", loan.BookID,
		"due_at", loan.DueAt,
	)
	return true, nil
}

// ingestImagePart stores one chunk synchronously so chunks from one client
// apply in arrival order. A completed transfer is decoded on a goroutine.
func (g *Gateway) ingestImagePart(topic string, part ImagePart) error {
	payload, complete, err := g.transfers.Add(part.ClientID, part.Part, part.TotalParts, []byte(part.ImageChunk))
	if err != nil {
		g.transfers.Discard(part.ClientID)
		return g.drop(topic, err)
	}
	if !complete {
		return nil
	}

	g.getLogger().Debug("image transfer complete",
		"client_id", part.ClientID,
		"parts", part.TotalParts,
		"bytes", len(payload),
	)
	return g.spawn(topic, func(ctx context.Context) { g.handleImage(ctx, part.ClientID, payload) })
}

// handleImage decodes a reassembled base64 photo and replies with the code
// found, if any. Every decode failure is "no code".
func (g *Gateway) handleImage(ctx context.Context, clientID string, encoded []byte) {
	start := time.Now()

	code, err := g.decodeImage(ctx, encoded)
	if err != nil {
		g.getLogger().Debug("no code recognized", "client_id", clientID, "error", err)
		g.reply(KindImage, clientID, ImageReply{Image: false})
		g.record(KindImage, OutcomeNoCode, start)
		return
	}

	g.reply(KindImage, clientID, ImageReply{Image: true, Code: &code})
	g.record(KindImage, OutcomeDecoded, start)
}

func (g *Gateway) decodeImage(ctx context.Context, encoded []byte) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(encoded)))
	if err != nil {
		return "", fmt.Errorf("decoding base64 image: %w", err)
	}
	return g.decoder.Decode(ctx, raw)
}

// reply publishes body on the client's response topic. Failures are logged
// and not retried.
func (g *Gateway) reply(kind, clientID string, body any) {
	payload, err := json.Marshal(body)
	if err != nil {
		g.getLogger().Error("failed to marshal reply", "kind", kind, "error", err)
		return
	}

	topic := g.topics.Response(kind, clientID)
	if err := g.pub.Publish(topic, payload); err != nil {
		g.publishFailures.Add(1)
		g.getLogger().Error("failed to publish reply", "topic", topic, "error", err)
		return
	}
	g.replies.Add(1)
	g.getLogger().Debug("reply published", "topic", topic, "payload", string(payload))
}

// storeFault logs a store error. The device gets no reply and must retry.
func (g *Gateway) storeFault(kind, clientID string, err error, start time.Time) {
	g.storeFaults.Add(1)
	g.getLogger().Error("store fault, request not answered",
		"kind", kind,
		"client_id", clientID,
		"error", err,
	)
	g.record(kind, OutcomeStoreFault, start)
}

func (g *Gateway) record(kind, outcome string, start time.Time) {
	if g.metrics != nil {
		g.metrics.RecordRequest(kind, outcome, time.Since(start))
	}
}

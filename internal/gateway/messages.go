package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// UserID is a borrower primary key as sent by a kiosk. Firmware builds send
// it either as a JSON number or as a numeric string.
type UserID int64

// UnmarshalJSON accepts 42, "42" and null (zero).
func (u *UserID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*u = 0
		return nil
	}

	s := string(data)
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidUserID, err)
		}
		s = strings.TrimSpace(s)
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidUserID, s)
	}
	*u = UserID(n)
	return nil
}

// UserRequest is the payload of auth and status requests.
//
// Topic: esp32/auth/request[/...], esp32/status/request[/...]
type UserRequest struct {
	ClientID string `json:"client_id"`
	UserID   UserID `json:"user_id"`
}

// LoanRequest is the payload of a loan request.
//
// Topic: esp32/loan/request[/...] or esp32/loan/make[/...]
type LoanRequest struct {
	ClientID string `json:"client_id"`
	UserID   UserID `json:"user_id"`
	BookCode string `json:"book_code"`
}

// ImagePart is one chunk of a base64-encoded photo.
//
// Topic: esp32/image/request/.../part
type ImagePart struct {
	ClientID   string `json:"client_id"`
	Part       int    `json:"part"`
	TotalParts int    `json:"total_parts"`
	ImageChunk string `json:"image_chunk"`
}

// ImageFinal marks the end of a transfer. Currently ignored.
//
// Topic: esp32/image/request/.../final
type ImageFinal struct {
	ClientID string `json:"client_id"`
}

// UserReply answers auth and status requests. Exactly one field is set; the
// other is serialized as null.
type UserReply struct {
	Auth   *bool `json:"auth"`
	Status *bool `json:"status"`
}

// LoanReply answers a loan request.
type LoanReply struct {
	Auth   *bool `json:"auth"`
	Status *bool `json:"status"`
	Loan   bool  `json:"loan"`
}

// ImageReply answers a completed image transfer. Code is null when Image is false.
type ImageReply struct {
	Image bool    `json:"image"`
	Code  *string `json:"code"`
}

// validateClientID checks that id can be embedded in a reply topic.
func validateClientID(id string) error {
	if id == "" {
		return ErrMissingClientID
	}
	if strings.ContainsAny(id, "/+#") {
		return fmt.Errorf("%w: %q", ErrInvalidClientID, id)
	}
	return nil
}

func boolPtr(b bool) *bool {
	return &b
}

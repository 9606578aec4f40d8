// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*Package pagination bounds page sizes and encodes pagination cursors.

Page sizes above the configured ceiling are rejected, never clamped: the
caller has to retry with a smaller limit.
*/
package pagination

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// DefaultMaxLimit is the default page size ceiling
const DefaultMaxLimit = 100

// ErrInvalidPageSize is returned for page sizes below 1
var ErrInvalidPageSize = errors.New("page size must be positive")

// ErrInvalidCursor is returned for cursors that cannot be decoded
var ErrInvalidCursor = errors.New("invalid cursor")

// LimitExceededError is returned for page sizes above the ceiling
type LimitExceededError struct {
	Requested int
	Ceiling   int
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("maximum allowed limit is %d, got %d", e.Ceiling, e.Requested)
}

// CheckPageSize validates a requested page size against ceiling. A size
// above ceiling fails with *LimitExceededError and is never clamped. Sizes
// below one are rejected as well, with ErrInvalidPageSize, so callers
// substitute their default page size for a missing size before checking.
func CheckPageSize(requested, ceiling int) error {
	if requested < 1 {
		return ErrInvalidPageSize
	}
	if requested > ceiling {
		return &LimitExceededError{Requested: requested, Ceiling: ceiling}
	}
	return nil
}

// Request is a pagination request. A zero Limit selects the default page size.
type Request struct {
	Limit  int
	Cursor string
}

// Cursor represents the position after the last returned document
type Cursor struct {
	Offset int       `json:"offset"`
	ID     uuid.UUID `json:"id"`
}

// Encode encodes the cursor to a base64 string format
func (c Cursor) Encode() string {
	encoded := fmt.Sprintf("%d.%s", c.Offset, c.ID.String())
	return base64.URLEncoding.EncodeToString([]byte(encoded))
}

// DecodeCursor decodes a base64 cursor string back to a Cursor. An empty
// string decodes to the zero cursor.
func DecodeCursor(encoded string) (Cursor, error) {
	if encoded == "" {
		return Cursor{}, nil
	}
	decoded, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}

	parts := strings.SplitN(string(decoded), ".", 2)
	if len(parts) != 2 {
		return Cursor{}, fmt.Errorf("%w: %s", ErrInvalidCursor, encoded)
	}

	offset, err := strconv.Atoi(parts[0])
	if err != nil || offset < 0 {
		return Cursor{}, fmt.Errorf("%w: invalid offset '%s'", ErrInvalidCursor, parts[0])
	}

	id, err := uuid.Parse(parts[1])
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: invalid ID: %v", ErrInvalidCursor, err)
	}

	return Cursor{Offset: offset, ID: id}, nil
}

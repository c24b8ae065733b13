// Package command defines the envelope delivered by the edge for one user
// action and helpers for reading its opaque payload.
package command

import (
	"math"
	"strconv"
	"strings"

	apperrors "github.com/louisbranch/parlor/internal/errors"
)

// Command carries one requested action for one room. The payload is an
// opaque object decoded upstream; games read typed fields from it.
type Command struct {
	UserID  string
	Action  string
	Payload map[string]any
}

// IntField extracts an integer payload field. JSON decoding produces
// float64 numbers, so whole floats are accepted; fractional values, missing
// fields, and non-numeric types are invalid arguments.
func (c Command) IntField(key string) (int, error) {
	v, ok := c.Payload[key]
	if !ok {
		return 0, apperrors.WithMetadata(apperrors.CodeInvalidArgument, "missing payload field", map[string]string{
			"field": key,
		})
	}

	switch n := v.(type) {
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case uint8:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, apperrors.WithMetadata(apperrors.CodeInvalidArgument, "payload field is not an integer", map[string]string{
				"field": key,
			})
		}

		return int(n), nil
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, apperrors.WrapWithMetadata(apperrors.CodeInvalidArgument, "payload field is not an integer", map[string]string{
				"field": key,
			}, err)
		}

		return parsed, nil
	default:
		return 0, apperrors.WithMetadata(apperrors.CodeInvalidArgument, "payload field is not an integer", map[string]string{
			"field": key,
		})
	}
}

package middleware

import (
	"crypto/subtle"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/amoylab/oauthd/internal/common/errorx"
)

// ValidStateFormat reports whether s is a canonical version 4 UUID
func ValidStateFormat(s string) bool {
	if len(s) != 36 {
		return false
	}
	id, err := uuid.Parse(s)
	return err == nil && id.Version() == 4 && id.Variant() == uuid.RFC4122
}

// SecureValidateState compares two state values in constant time. Missing
// or empty values never match.
func SecureValidateState(expected, actual *string) bool {
	if expected == nil || actual == nil || *expected == "" || *actual == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(*expected), []byte(*actual)) == 1
}

// StateValidation rejects a malformed state parameter before any redirect
// decision is made
type StateValidation struct {
	responder *Responder
}

func NewStateValidation(responder *Responder) *StateValidation {
	return &StateValidation{responder: responder}
}

func (StateValidation) Name() string { return "state_validation" }

func (s *StateValidation) Intercept(c *gin.Context) {
	if state := Param(c, "state"); state != "" && !ValidStateFormat(state) {
		s.responder.Abort(c, errorx.ErrInvalidState)
		return
	}
	c.Next()
}

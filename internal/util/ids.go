package util

import "github.com/google/uuid"

// NewReqID genera un identificador para correlacionar conexiones en logs
// y respuestas (X-Request-Id).
func NewReqID() string {
	return uuid.NewString()
}

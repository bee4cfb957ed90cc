package tools

import "github.com/google/uuid"

func newClarificationID() string {
	return uuid.NewString()
}

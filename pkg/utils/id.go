package utils

import "github.com/google/uuid"

// GenerateID returns a new UUID v4 string for use as a record ID
func GenerateID() string {
	return uuid.NewString()
}

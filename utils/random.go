package utils

import (
	"crypto/rand"
)

// GenerateReference returns prefix followed by 12 random digits, used as the
// client reference on cashout requests.
func GenerateReference(prefix string) (string, error) {
	const charset = "0123456789"

	code := make([]byte, 12)
	if _, err := rand.Read(code); err != nil {
		return "", err
	}

	for i := range code {
		code[i] = charset[int(code[i])%len(charset)]
	}

	return prefix + string(code), nil
}

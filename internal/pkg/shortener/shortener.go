package shortener

import (
	"crypto/rand"
	"fmt"
	"strings"
)

// Referral codes are read aloud and typed by hand: upper case only, no 0/O/1/I.
const codeAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

// GenerateReferralCode creates a random code from the referral alphabet.
func GenerateReferralCode(length int) (string, error) {
	return generate(codeAlphabet, length)
}

// NormalizeCode canonicalizes user input for code lookups.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func generate(chars string, length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("invalid slug length: %d", length)
	}

	// Rejection sampling to avoid modulo bias.
	maxRandomByte := 256 - 256%len(chars)

	slug := make([]byte, length)
	buf := make([]byte, length*2)
	written := 0

	for written < length {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to read secure random bytes: %w", err)
		}

		for _, b := range buf {
			if int(b) >= maxRandomByte {
				continue
			}
			slug[written] = chars[int(b)%len(chars)]
			written++
			if written == length {
				break
			}
		}
	}

	return string(slug), nil
}

package service

import (
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	anonPrefix   = "Anon"
	anonAlphabet = "0123456789"
	anonSize     = 5

	streamKeyAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	streamKeySize     = 16
)

// NewDisplayName returns an anonymous display name such as "Anon04217".
func NewDisplayName() (string, error) {
	id, err := gonanoid.Generate(anonAlphabet, anonSize)
	if err != nil {
		return "", fmt.Errorf("failed to generate display name: %w", err)
	}
	return anonPrefix + id, nil
}

// NewStreamKey returns a random video id, which is also the ingest stream key.
func NewStreamKey() (string, error) {
	id, err := gonanoid.Generate(streamKeyAlphabet, streamKeySize)
	if err != nil {
		return "", fmt.Errorf("failed to generate stream key: %w", err)
	}
	return id, nil
}

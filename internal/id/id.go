// Package id generates random identifiers, used for order id suffixes,
// user ids and HTTP request ids.
package id

import (
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Generate returns a 21-character nanoid using an alphanumeric alphabet.
// 21 characters keeps order filenames short while staying collision-safe
// for the gateway's throughput.
func Generate() string {
	v, err := gonanoid.Generate(alphabet, 21)
	if err != nil {
		panic(fmt.Sprintf("generate nanoid: %v", err))
	}
	return v
}

// QuarantineSuffix returns an 8-character random alphanumeric suffix.
// The order store's corrupted-order quarantine does not call it; it takes
// its suffix from github.com/google/uuid instead.
func QuarantineSuffix() string {
	v, err := gonanoid.Generate(alphabet, 8)
	if err != nil {
		panic(fmt.Sprintf("generate nanoid: %v", err))
	}
	return v
}

// Package storage holds the errors shared by every store implementation.
package storage

import "errors"

var (
	ErrDuplicateID       = errors.New("id already exists")
	ErrAccountNotFound   = errors.New("account not found")
	ErrUserNotFound      = errors.New("user not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

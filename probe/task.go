/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package probe

import (
	"time"

	"github.com/rs/xid"
)

// Credential is a single API key submitted for validation.
type Credential struct {
	Secret   string `json:"secret" yaml:"secret"`
	Provider string `json:"provider" yaml:"provider"`
	Model    string `json:"model,omitempty" yaml:"model,omitempty"`
}

// Masked returns the credential secret in a form safe for logs and results.
func (c Credential) Masked() string {
	return MaskSecret(c.Secret)
}

// Task is a credential under test. It is owned by a single pipeline until it reaches a terminal status.
type Task struct {
	ID         string
	Credential Credential
	Attempts   int
	CreatedAt  time.Time
}

// NewTask creates a Task with a fresh unique id.
func NewTask(cred Credential, now time.Time) *Task {
	return &Task{ID: xid.New().String(), Credential: cred, CreatedAt: now}
}

// MaskSecret keeps the first and last 4 characters of long secrets and hides the rest.
func MaskSecret(secret string) string {
	const visible = 4
	runes := []rune(secret)
	if len(runes) <= visible*3 {
		return "***"
	}
	return string(runes[:visible]) + "..." + string(runes[len(runes)-visible:])
}

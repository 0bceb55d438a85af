// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"errors"

	"github.com/awnumar/memguard"
)

// ErrNoCredential is returned when a provider call needs an API key but
// none was configured.
var ErrNoCredential = errors.New("no api credential configured")

// Credential holds an API key in a memguard enclave so the plaintext
// only exists in locked memory while a request is being signed.
//
// Thread Safety: Safe for concurrent use; Open returns an independent
// locked buffer per call.
type Credential struct {
	enclave *memguard.Enclave
}

// NewCredential seals key into an enclave. An empty key returns nil,
// which Use treats as ErrNoCredential.
func NewCredential(key string) *Credential {
	if key == "" {
		return nil
	}
	return &Credential{enclave: memguard.NewEnclave([]byte(key))}
}

// Use opens the enclave, hands the plaintext key to fn, and destroys
// the locked buffer when fn returns. The key must not escape fn.
func (c *Credential) Use(fn func(key string) error) error {
	if c == nil || c.enclave == nil {
		return ErrNoCredential
	}
	buf, err := c.enclave.Open()
	if err != nil {
		return err
	}
	defer buf.Destroy()
	return fn(buf.String())
}

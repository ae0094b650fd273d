// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-keybox.
//
// go-keybox is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package encoding

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"testing"
)

func TestPKCS8_RoundTrip(t *testing.T) {
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("Failed to generate RSA key: %v", err)
	}
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate ECDSA key: %v", err)
	}

	tests := []struct {
		name     string
		key      interface{ Equal(x any) bool }
		password []byte
	}{
		{"RSA plain", rsaKey, nil},
		{"RSA encrypted", rsaKey, []byte("keybox")},
		{"ECDSA plain", ecKey, nil},
		{"ECDSA encrypted", ecKey, []byte("keybox")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			der, err := EncodePKCS8(tt.key, tt.password)
			if err != nil {
				t.Fatalf("EncodePKCS8() error = %v", err)
			}

			decoded, err := DecodePKCS8(der, tt.password)
			if err != nil {
				t.Fatalf("DecodePKCS8() error = %v", err)
			}
			if !tt.key.Equal(decoded) {
				t.Error("decoded key does not match original")
			}
		})
	}
}

func TestDecodePKCS8_WrongPassword(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	der, err := EncodePKCS8(key, []byte("right"))
	if err != nil {
		t.Fatalf("EncodePKCS8() error = %v", err)
	}

	if _, err := DecodePKCS8(der, []byte("wrong")); err == nil {
		t.Error("DecodePKCS8() with wrong password should fail")
	}
}

func TestPKCS8_Errors(t *testing.T) {
	if _, err := EncodePKCS8(nil, nil); !errors.Is(err, ErrInvalidPrivateKey) {
		t.Errorf("EncodePKCS8(nil) error = %v, want ErrInvalidPrivateKey", err)
	}
	if _, err := DecodePKCS8(nil, nil); !errors.Is(err, ErrInvalidData) {
		t.Errorf("DecodePKCS8(nil) error = %v, want ErrInvalidData", err)
	}
	if _, err := DecodePKCS8([]byte{0x30, 0x00}, nil); err == nil {
		t.Error("DecodePKCS8(garbage) should fail")
	}
}

func TestIsPasswordError(t *testing.T) {
	if isPasswordError(nil) {
		t.Error("nil is not a password error")
	}
	if !isPasswordError(errors.New("pkcs8: incorrect password")) {
		t.Error("incorrect password should be detected")
	}
	if isPasswordError(errors.New("asn1: syntax error")) {
		t.Error("syntax error is not a password error")
	}
}

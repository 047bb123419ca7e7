// Package cryptoutils provides the cryptographic primitives for docsafe:
// authenticated encryption, password-based key derivation, escrow key
// wrapping, and secure memory handling.
//
// # Authenticated encryption
//
// Seal and Open implement AEAD under the closed algorithm set defined in
// the interfaces package (AES-256-GCM and ChaCha20-Poly1305). Unknown
// algorithm variants are rejected before any key material is used. Every
// Seal generates a fresh random nonce; sealing identical input twice
// yields different ciphertext.
//
// # Key derivation
//
// DeriveKey runs Argon2id with persisted KeyDerivationParams. The KDF is
// intentionally slow, so DeriveKey accepts a context and runs the
// derivation in a separate goroutine: cancellation returns promptly and
// the abandoned key is zeroed as soon as the derivation finishes. A
// cancelled derivation never yields a partial key.
//
// NewVerifier and VerifyKey implement the stored master-key verifier: an
// HKDF-derived check tag that distinguishes "wrong password" from
// "corrupted envelope" before any envelope unwrap is attempted.
//
// # Escrow wrapping
//
// WrapForEscrow encrypts a document key under the administrative escrow
// public key using ECIES (ephemeral P-256 ECDH, SHA-256 key agreement,
// AES-GCM). The core only ever encrypts toward the escrow key; decryption
// happens server-side during recovery and is out of scope here.
package cryptoutils

// Copyright 2026 The Netplay Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides netplay's standard CBOR encoding
// configuration.
//
// Netplay uses two serialization formats with a clear boundary:
//
//   - JSON for the relay wire: announce frames, offers, and answers
//     cross tracker relays exactly as the deployed relay ecosystem
//     expects them.
//   - CBOR for application messages on established data channels:
//     once two peers are connected, their traffic is theirs alone and
//     uses the compact, deterministic encoding configured here.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2):
// sorted map keys, smallest integer encoding, no indefinite-length
// items. Same logical data always produces identical bytes, which
// keeps message deduplication and testing simple.
//
// For buffer-oriented operations (one data channel message):
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations:
//
//	encoder := codec.NewEncoder(w)
//	decoder := codec.NewDecoder(r)
//
// Types that also appear in JSON (CLI output, config) carry `json`
// tags only; fxamacker/cbor reads them as fallback, so one tag
// controls field naming for both formats. Types that are only ever
// CBOR carry `cbor` tags. Never both on the same field.
package codec

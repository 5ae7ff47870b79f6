// Package serializer converts the remoting protocol messages to and from their binary
// wire payload.
//
// The package focuses on:
//   - A single, compact little-endian format shared by every message family
//   - Deterministic output: header entries are written in ascending key order
//   - Strict decoding: truncated or inconsistent payloads are rejected with an error
//
// Key Components:
//
//   - IRemotingSerializer: Encode and decode Request, Response and ServerMessage.
//
//   - binarySerializerImpl: The wire format. Strings are prefixed with a 32-bit length,
//     a header is a 32-bit block length followed by a 32-bit entry count and the
//     length-prefixed key/value pairs, timestamps are 64-bit 100ns ticks since
//     0001-01-01 UTC, and the body takes the remaining bytes of the payload:
//
//     Request:       id | sequence | code | type | createdTime | header | body
//     Response:      requestSequence | requestCode | requestType | requestTime | requestHeader |
//     responseCode | responseTime | responseHeader | responseBody
//     ServerMessage: id | type | code | createdTime | header | body
//
// Thread Safety:
//
//	The serializer is stateless and safe for concurrent use across multiple
//	goroutines without additional synchronization.
package serializer

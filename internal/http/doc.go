// Package http provides the HTTP handlers and middleware for the
// consultation messaging API.
//
// The router exposes the following endpoints:
//   - POST /consultations: books a consultation between a user and an
//     astrologer. Key material is generated server side; responses never
//     include the shared secret.
//   - GET /consultations: lists the calling participant's consultations.
//   - GET /consultations/{id}: fetches one consultation; participants only.
//   - POST /consultations/{id}/start, /end, /cancel: lifecycle actions.
//     Illegal transitions return 409 with error_code INVALID_TRANSITION.
//   - POST /consultations/{id}/messages: sends a chat message while the
//     consultation is live. The response is the stored ciphertext record
//     plus any delivery warnings from the realtime fan-out.
//   - GET /consultations/{id}/messages: returns the decrypted transcript;
//     undecryptable records are marked corrupted rather than omitted.
//   - GET /consultations/{id}/ws: upgrades to a websocket streaming the
//     consultation's room events as JSON.
//
// The caller's identity arrives in the X-Participant-ID and
// X-Participant-Role headers, set by the upstream gateway after
// authentication. Request/response DTOs live alongside their handlers.
package http

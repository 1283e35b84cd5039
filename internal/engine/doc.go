// Package engine ties the pipelines together: it dispatches one command per
// invocation through transform, validation, authorization and persistence,
// and decides the terminal view plus any notification.
//
// The engine holds no cross-invocation state. Everything external - record
// store, schema registry, token service, upload store, CAPTCHA verifier,
// cache clearer, mail collaborators - is injected, so every branch of the
// state machine is testable with fakes.
package engine

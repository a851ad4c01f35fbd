// Package webhooks defines the signed delivery contract between the relay and
// bot endpoints.
//
// Every delivery carries X-Bot-Event-ID, X-Bot-Event-Type, X-Bot-Timestamp
// and, when the bot has a secret, X-Bot-Signature = sha256=<hex hmac>. The
// HMAC input is the X-Bot-Timestamp value, a literal ".", then the raw body,
// so a captured delivery cannot be replayed under a fresh timestamp.
// Deliveries are at-least-once; receivers dedupe on X-Bot-Event-ID.
package webhooks

// Package ratelimit is per-IP token bucket middleware for the public asset
// listener.
//
// State is in-memory and local to one process. It bounds how much of the
// read pool a single client can occupy; it does not stop distributed floods
// or bandwidth abuse, which belong upstream at the CDN or WAF.
//
// Denials are reported through hooks: OnFirstDenied once per visitor for a
// single log line, OnDenied on every rejection for counters, and OnCapacity
// when the visitor table is full.
package ratelimit

// Package security centralizes input validation and limits: brand and
// source identity checks, chunk/retry/concurrency clamps, and error
// message sanitization applied before anything is persisted.
package security

// Package core holds the shared domain model of the bulk pipeline:
// jobs and their status machine, row outcomes, field-ownership records,
// progress events, sentinel errors, and the store interfaces the rest of
// the module is built against.
//
// Nothing in this package performs I/O. Implementations live in
// pkg/storage; orchestration lives in pkg/run.
package core

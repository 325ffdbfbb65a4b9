// Package core provides the business logic for synthetic member generation.
//
// This package holds the domain types and use cases, independent of any
// transport or storage layer. Storage, the language model and the address
// lookup are reached through small interfaces so handlers, CLI tools and
// tests can supply their own implementations.
//
// # Generation
//
// [Service.Generate] validates a [GenerateRequest], asks the [AddressSource]
// once for the whole batch, then asks the [Fabricator] for one member at a
// time. Each fabricated member gets a fresh identifier and address i of the
// batch, and is written through the [MemberRepository] immediately:
//
//	members, err := svc.Generate(ctx, core.GenerateRequest{
//	    City: "Copenhagen", Country: "Denmark", Count: 5,
//	})
//
// There is no batch transaction. If member 3 of 5 fails, members 1 and 2
// stay stored and are returned together with the error.
//
// # Custom Fields
//
// A [CustomFieldDefinition] extends every member with a named string value.
// Creating a field backfills an empty value for all existing members; reads
// project only non-empty values, so a member without custom data reports
// CustomFields as nil.
//
// # Error Handling
//
// Failures are classified with sentinel errors ([ErrNotFound],
// [ErrValidation], [ErrEmptyPatch], [ErrUnsupportedFormat], [ErrUpstream],
// [ErrConstraint], [ErrConflict], [ErrTooManyGenerations]). [StatusCode]
// maps them to HTTP statuses and [MapError] to user messages with support
// codes.
package core

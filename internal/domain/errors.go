// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a concurrent modification conflict (state CAS lost).
var ErrConflict = errors.New("conflict: resource was modified by another request")

// ErrDuplicatePending indicates the conversation already has a non-terminal query.
var ErrDuplicatePending = errors.New("duplicate pending: conversation already has an open query")

// ErrStaleReviewAction indicates an expert decision or scheduler timeout
// arrived after the query had already left pending review. The action is
// discarded, never retried.
var ErrStaleReviewAction = errors.New("stale review action: query is no longer pending review")

// ErrRetrievalUnavailable indicates the knowledge retriever could not serve the query.
var ErrRetrievalUnavailable = errors.New("retrieval unavailable")

// ErrRetrievalTimeout indicates retrieval exceeded its operation-level timeout.
var ErrRetrievalTimeout = errors.New("retrieval timed out")

// ErrNoTemplateAvailable indicates no pre-approved template matches the
// content category; callers fall back to the generic template.
var ErrNoTemplateAvailable = errors.New("no template available for content category")

// ErrDeliveryFailed indicates the channel adapter exhausted its send attempts.
var ErrDeliveryFailed = errors.New("delivery failed")

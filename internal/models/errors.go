package models

import "errors"

var (
	// ErrMalformedOwnerMetadata means a role-required owner field is missing.
	// Read paths treat the role as having no attachment.
	ErrMalformedOwnerMetadata = errors.New("malformed attachment owner metadata")

	// ErrUninsertedOwner means a reference was requested for a row without a row id.
	ErrUninsertedOwner = errors.New("attachment owner has no row id")

	// ErrContentNotFound means a content row id does not resolve.
	ErrContentNotFound = errors.New("attachment content not found")
)

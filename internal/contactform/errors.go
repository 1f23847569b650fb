package contactform

import (
	"errors"
	"fmt"

	"easyform/internal/shopify"
)

// ErrSchemaVerification means the definition was created but a re-query did not return it.
var ErrSchemaVerification = errors.New("failed to create metaobject definition")

// ErrNoRecord means a metaobject write reported neither user errors nor a record.
var ErrNoRecord = errors.New("no metaobject returned")

// SchemaCreationError carries the user errors of the last definition create attempt.
type SchemaCreationError struct {
	UserErrors []shopify.UserError
}

func (e *SchemaCreationError) Error() string {
	return "metaobject definition create failed: " + shopify.JoinUserErrors(e.UserErrors)
}

// RecordWriteError carries the user errors of a metaobjectCreate or metaobjectUpdate.
type RecordWriteError struct {
	Op         string
	UserErrors []shopify.UserError
}

func (e *RecordWriteError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Op, shopify.JoinUserErrors(e.UserErrors))
}

// TransportError wraps anything the Admin API client returned that is not a user error:
// network failures, non-2xx statuses, top-level GraphQL errors.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func transport(op string, err error) error {
	return &TransportError{Op: op, Err: err}
}

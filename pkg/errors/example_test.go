// Package errors provides examples of structured error handling in rsloader.
package errors_test

import (
	"fmt"
	"io"

	"github.com/ajitpratap0/rsloader/pkg/errors"
)

// Example demonstrates basic error creation with load context.
func Example() {
	err := errors.New(errors.ErrorTypeLoad, "failed to merge staged rows").
		WithTable("public.orders").
		WithRows(2)

	fmt.Println(err.Error())

	// Output:
	// load: failed to merge staged rows [table=public.orders rows=2]
}

// ExampleWrap shows how wrapping keeps the stream and table scope of the cause.
func ExampleWrap() {
	cause := errors.New(errors.ErrorTypeUpload, "put object").
		WithStream("public-orders")

	err := errors.Wrap(cause, errors.ErrorTypeLoad, "flush aborted")

	fmt.Println(err.Stream)
	fmt.Println(errors.IsType(err, errors.ErrorTypeLoad))

	// Output:
	// public-orders
	// true
}

// ExampleIsRetryable shows which failures may be retried by the caller.
func ExampleIsRetryable() {
	uploadErr := errors.Wrap(io.ErrUnexpectedEOF, errors.ErrorTypeUpload, "upload stage part")
	validationErr := errors.New(errors.ErrorTypeValidation, "missing primary key")

	fmt.Println(errors.IsRetryable(uploadErr))
	fmt.Println(errors.IsRetryable(validationErr))

	// Output:
	// true
	// false
}

//go:build property

package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

var constructors = []func(code string) *Error{
	func(code string) *Error { return NewRenderError(code, "render", nil) },
	func(code string) *Error { return NewTemplateError(code, "template", nil) },
	func(code string) *Error { return NewWatchError(code, "watch", nil) },
	func(code string) *Error { return NewIOError(code, "io", nil) },
	func(code string) *Error { return NewConfigError(code, "config") },
	func(code string) *Error { return NewInternalError(code, "internal", nil) },
}

func TestErrorProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(2468)
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("classification survives wrapping", prop.ForAll(
		func(kind int, code string, depth int) bool {
			original := constructors[kind](code)
			var err error = original
			for i := 0; i < depth; i++ {
				err = fmt.Errorf("layer %d: %w", i, err)
			}
			return TypeOf(err) == original.Type &&
				IsRecoverable(err) == original.Recoverable &&
				errors.Is(err, constructors[kind](code))
		},
		gen.IntRange(0, len(constructors)-1),
		gen.Identifier(),
		gen.IntRange(0, 5),
	))

	properties.Property("only per-event failures are recoverable", prop.ForAll(
		func(kind int, code string) bool {
			e := constructors[kind](code)
			want := e.Type == ErrorTypeRender || e.Type == ErrorTypeTemplate
			return e.Recoverable == want
		},
		gen.IntRange(0, len(constructors)-1),
		gen.Identifier(),
	))

	properties.Property("different codes never match", prop.ForAll(
		func(kind int, a, b string) bool {
			if a == b {
				return true
			}
			return !errors.Is(constructors[kind](a), constructors[kind](b))
		},
		gen.IntRange(0, len(constructors)-1),
		gen.Identifier(),
		gen.Identifier(),
	))

	properties.TestingRun(t)
}

package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
)

// enumValue is a string flag restricted to a fixed set of choices, so a typo
// fails at parse time instead of deep inside a command.
type enumValue struct {
	value   *string
	choices []string
}

var _ pflag.Value = (*enumValue)(nil)

func newEnumValue(value *string, def string, choices ...string) *enumValue {
	*value = def
	return &enumValue{value: value, choices: choices}
}

func (e *enumValue) String() string {
	if e.value == nil {
		return ""
	}
	return *e.value
}

func (e *enumValue) Set(s string) error {
	for _, c := range e.choices {
		if strings.EqualFold(s, c) {
			*e.value = c
			return nil
		}
	}
	return fmt.Errorf("must be one of %s", strings.Join(e.choices, ", "))
}

func (e *enumValue) Type() string {
	return "string"
}

// enumFlag registers a restricted string flag on fs.
func enumFlag(fs *pflag.FlagSet, value *string, name, shorthand, def, usage string, choices ...string) {
	fs.VarP(newEnumValue(value, def, choices...), name, shorthand,
		fmt.Sprintf("%s (%s)", usage, strings.Join(choices, ", ")))
}

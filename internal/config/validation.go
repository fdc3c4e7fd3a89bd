package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/conneroisu/gstdots/internal/errors"
	"github.com/conneroisu/gstdots/internal/validation"
)

// ValidationError represents a configuration validation error with suggestions
type ValidationError struct {
	Field       string
	Value       interface{}
	Message     string
	Suggestions []string
}

func (ve *ValidationError) Error() string {
	return fmt.Sprintf("validation error in %s: %s", ve.Field, ve.Message)
}

// ValidationResult holds the result of configuration validation
type ValidationResult struct {
	Errors []ValidationError
}

// HasErrors returns true if there are any validation errors
func (vr *ValidationResult) HasErrors() bool {
	return len(vr.Errors) > 0
}

// String returns a formatted string of all validation issues
func (vr *ValidationResult) String() string {
	var builder strings.Builder
	for _, err := range vr.Errors {
		builder.WriteString(fmt.Sprintf("  • %s: %s\n", err.Field, err.Message))
		for _, suggestion := range err.Suggestions {
			builder.WriteString(fmt.Sprintf("    hint: %s\n", suggestion))
		}
	}
	return builder.String()
}

func (vr *ValidationResult) add(field string, value interface{}, msg string, suggestions ...string) {
	vr.Errors = append(vr.Errors, ValidationError{
		Field:       field,
		Value:       value,
		Message:     msg,
		Suggestions: suggestions,
	})
}

// ValidateWithDetails checks every field and collects all problems.
func (c *Config) ValidateWithDetails() *ValidationResult {
	result := &ValidationResult{}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		result.add("server.port", c.Server.Port, "port must be between 0 and 65535")
	}

	if err := validation.OriginPatterns(c.Server.AllowedOrigins); err != nil {
		result.add("server.allowed_origins", c.Server.AllowedOrigins, err.Error(),
			"use host patterns such as example.com or *.example.com")
	}

	if !isExtension(c.Source.Extension) {
		result.add("source.extension", c.Source.Extension, "must look like .ext", "use .dot")
	}
	if c.Source.SettleDelay < 0 {
		result.add("source.settle_delay", c.Source.SettleDelay, "must not be negative")
	}

	if c.Output.Dir == "" {
		result.add("output.dir", c.Output.Dir, "output directory is required")
	} else if c.Source.Dir != "" && overlaps(c.Output.Dir, c.Source.Dir) {
		result.add("output.dir", c.Output.Dir,
			"output directory is wiped at startup and must not contain or equal the source directory",
			"use a dedicated directory such as .generated")
	}
	if !isExtension(c.Output.ImageExt) {
		result.add("output.image_ext", c.Output.ImageExt, "must look like .ext", "use .svg")
	}
	if !isExtension(c.Output.PageExt) {
		result.add("output.page_ext", c.Output.PageExt, "must look like .ext", "use .html")
	}
	if c.Output.ImageExt == c.Output.PageExt {
		result.add("output.page_ext", c.Output.PageExt, "image and page extensions must differ")
	}

	if c.Render.Command == "" {
		result.add("render.command", c.Render.Command, "renderer command is required", "install graphviz and use dot")
	}
	if c.Render.Placeholder == "" {
		result.add("render.placeholder", c.Render.Placeholder, "placeholder token is required")
	}
	if c.Render.Workers < 0 {
		result.add("render.workers", c.Render.Workers, "must not be negative", "use 0 for no limit")
	}

	if c.Fanout.SendBuffer < 1 {
		result.add("fanout.send_buffer", c.Fanout.SendBuffer, "send buffer must be positive")
	}
	if c.Fanout.ConnectRate <= 0 || c.Fanout.ConnectBurst < 1 {
		result.add("fanout.connect_rate", c.Fanout.ConnectRate, "connect rate and burst must be positive")
	}

	return result
}

// Validate returns a config error describing the first problem, if any.
func (c *Config) Validate() error {
	result := c.ValidateWithDetails()
	if !result.HasErrors() {
		return nil
	}
	first := result.Errors[0]
	return errors.NewConfigError("ERR_INVALID_CONFIG", first.Error())
}

func isExtension(ext string) bool {
	return len(ext) > 1 && strings.HasPrefix(ext, ".") && !strings.ContainsAny(ext[1:], `./\`)
}

// overlaps reports whether out equals src or is one of its ancestors.
func overlaps(out, src string) bool {
	outAbs, err := filepath.Abs(out)
	if err != nil {
		return false
	}
	srcAbs, err := filepath.Abs(src)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(outAbs, srcAbs)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

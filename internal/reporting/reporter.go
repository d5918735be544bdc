// internal/reporting/reporter.go
package reporting

import (
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/xkilldash9x/signupguard/internal/scenario"
)

// Redacted replaces secret field values in reports.
const Redacted = "[REDACTED]"

// Reporter writes scenario results to an output.
type Reporter interface {
	// Write processes a single run result.
	Write(result *scenario.Result) error
	// Close finalizes the report and closes any underlying resources (e.g., file handles).
	Close() error
}

// Options selects the report format and destination.
type Options struct {
	// Format is one of "json", "sarif" or "text".
	Format string
	// Output is a file path. Empty or "stdout" writes to standard output.
	Output      string
	Pretty      bool
	ToolVersion string
}

// nopWriteCloser wraps an io.Writer and provides a no-op Close method.
type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error {
	return nil
}

// New creates a reporter for the requested format and output.
func New(opts Options) (Reporter, error) {
	switch opts.Format {
	case "json", "sarif", "text":
	default:
		return nil, fmt.Errorf("unsupported output format: %s", opts.Format)
	}

	var writer io.WriteCloser
	if opts.Output == "" || opts.Output == "stdout" {
		// Wrap Stdout so Close() is a no-op.
		writer = &nopWriteCloser{os.Stdout}
	} else {
		f, err := os.Create(opts.Output)
		if err != nil {
			return nil, fmt.Errorf("failed to create output file %s: %w", opts.Output, err)
		}
		writer = f
	}
	return NewWithWriter(opts, writer)
}

// NewWithWriter creates a reporter that takes ownership of writer.
func NewWithWriter(opts Options, writer io.WriteCloser) (Reporter, error) {
	switch opts.Format {
	case "json":
		return NewJSONReporter(writer, opts.Pretty), nil
	case "sarif":
		return NewSARIFReporter(writer, opts.ToolVersion), nil
	case "text":
		return NewTextReporter(writer), nil
	}
	writer.Close()
	return nil, fmt.Errorf("unsupported output format: %s", opts.Format)
}

// Redact returns a copy of result with every secret field value replaced. The
// input is not modified.
func Redact(result *scenario.Result) *scenario.Result {
	if result == nil {
		return nil
	}
	out := *result
	out.Fields = slices.Clone(result.Fields)
	for i := range out.Fields {
		if out.Fields[i].Secret {
			out.Fields[i].Value = Redacted
		}
	}
	return &out
}

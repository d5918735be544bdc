// internal/reporting/json_reporter.go
package reporting

import (
	"fmt"
	"io"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/signupguard/internal/observability"
	"github.com/xkilldash9x/signupguard/internal/scenario"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// JSONReporter writes one JSON document per result as soon as it is written.
type JSONReporter struct {
	writer io.WriteCloser
	logger *zap.Logger
	pretty bool
	mu     sync.Mutex
}

func NewJSONReporter(writer io.WriteCloser, pretty bool) *JSONReporter {
	return &JSONReporter{
		writer: writer,
		logger: observability.GetLogger().Named("json_reporter"),
		pretty: pretty,
	}
}

func (r *JSONReporter) Write(result *scenario.Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	encoder := json.NewEncoder(r.writer)
	if r.pretty {
		encoder.SetIndent("", "  ")
	}
	if err := encoder.Encode(Redact(result)); err != nil {
		return fmt.Errorf("failed to encode run report: %w", err)
	}
	r.logger.Debug("Wrote run report", zap.String("run_id", result.RunID))
	return nil
}

func (r *JSONReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.writer.Close(); err != nil {
		return fmt.Errorf("failed to close output writer: %w", err)
	}
	return nil
}

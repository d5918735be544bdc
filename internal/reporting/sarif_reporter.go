// internal/reporting/sarif_reporter.go
package reporting

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/signupguard/internal/observability"
	"github.com/xkilldash9x/signupguard/internal/reporting/sarif"
	"github.com/xkilldash9x/signupguard/internal/scenario"
)

// Constants for tool identification in the SARIF report.
const (
	ToolName     = "signupguard"
	ToolInfoURI  = "https://github.com/xkilldash9x/signupguard"
	SARIFVersion = "2.1.0"
	SARIFSchema  = "https://schemastore.azurewebsites.net/schemas/json/sarif-2.1.0-rtm.5.json"
)

// ruleIDSanitizer replaces characters not typically safe or allowed in SARIF Rule IDs.
// Alphanumerics, underscore and dot are kept; every other run collapses into one hyphen.
var ruleIDSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_.]+`)

// RuleFingerprint identifies a rule definition by its content.
type RuleFingerprint string

// calculateFingerprint hashes what defines a check: the scenario, the route it
// submits on and the expected outcome.
func calculateFingerprint(result *scenario.Result) RuleFingerprint {
	data := struct {
		Scenario string
		Route    string
		Expect   scenario.Expectation
	}{result.Scenario, result.Route, result.Expect}

	h := sha1.New()
	// Encoding errors are highly unlikely for this simple struct.
	_ = json.NewEncoder(h).Encode(data)
	return RuleFingerprint(hex.EncodeToString(h.Sum(nil)))
}

// SARIFReporter implements the Reporter interface for the SARIF 2.1.0 format.
// Every run becomes one pass or fail result. It is thread safe.
type SARIFReporter struct {
	writer io.WriteCloser
	logger *zap.Logger
	log    *sarif.Log
	// mu protects the log structure and the maps.
	mu                 sync.Mutex
	rulesByFingerprint map[RuleFingerprint]string
	// ruleIDUsage counts uses of a base Rule ID so colliding definitions get a suffix.
	ruleIDUsage map[string]int
}

// NewSARIFReporter creates a new reporter that writes SARIF output.
func NewSARIFReporter(writer io.WriteCloser, toolVersion string) *SARIFReporter {
	logger := observability.GetLogger().Named("sarif_reporter")
	log := &sarif.Log{
		Version: SARIFVersion,
		Schema:  SARIFSchema,
		Runs: []*sarif.Run{
			{
				Tool: &sarif.Tool{
					Driver: &sarif.ToolComponent{
						Name:           ToolName,
						Version:        pString(toolVersion),
						InformationURI: pString(ToolInfoURI),
						// Initialize empty slices (not nil) for proper JSON marshalling
						Rules: []*sarif.ReportingDescriptor{},
					},
				},
				Results: []*sarif.Result{},
			},
		},
	}

	return &SARIFReporter{
		writer:             writer,
		logger:             logger,
		log:                log,
		rulesByFingerprint: make(map[RuleFingerprint]string),
		ruleIDUsage:        make(map[string]int),
	}
}

// Write converts a run result into a SARIF result and an invocation record.
func (r *SARIFReporter) Write(result *scenario.Result) error {
	result = Redact(result)

	r.mu.Lock()
	defer r.mu.Unlock()

	run := r.log.Runs[0]
	ruleID := r.ensureRule(result)

	passed := result.State == scenario.StateCompleted
	sarifResult := &sarif.Result{
		RuleID:    ruleID,
		Kind:      sarif.KindPass,
		Level:     sarif.LevelNone,
		Message:   &sarif.Message{Text: pString(resultMessage(result))},
		Locations: createLocations(result),
		Properties: &sarif.PropertyBag{
			"runId":  result.RunID,
			"driver": result.Driver,
			"state":  string(result.State),
		},
	}
	if !passed {
		sarifResult.Kind = sarif.KindFail
		sarifResult.Level = sarif.LevelError
	}
	if result.Eval != nil {
		(*sarifResult.Properties)["diagnostics"] = result.Eval.Diagnostics
		(*sarifResult.Properties)["authenticated"] = result.Eval.Authenticated
	}
	run.Results = append(run.Results, sarifResult)

	run.Invocations = append(run.Invocations, &sarif.Invocation{
		ExecutionSuccessful: passed,
		StartTimeUTC:        pString(result.StartedAt.UTC().Format(time.RFC3339Nano)),
		EndTimeUTC:          pString(result.StartedAt.Add(result.Duration).UTC().Format(time.RFC3339Nano)),
		Properties:          &sarif.PropertyBag{"runId": result.RunID, "releaseClean": result.Release.OK()},
	})

	r.logger.Debug("Wrote run to SARIF buffer", zap.String("run_id", result.RunID), zap.String("rule_id", ruleID))
	return nil
}

// Close finalizes the SARIF log and writes it to the output writer.
func (r *SARIFReporter) Close() error {
	startTime := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.logger.Debug("Finalizing SARIF report",
		zap.Int("total_results", len(r.log.Runs[0].Results)),
		zap.Int("total_rules", len(r.log.Runs[0].Tool.Driver.Rules)),
	)

	encoder := json.NewEncoder(r.writer)
	encoder.SetIndent("", "  ")

	encodeErr := encoder.Encode(r.log)
	// Always attempt to close the writer, regardless of encoding success.
	closeErr := r.writer.Close()

	if encodeErr != nil {
		r.logger.Error("Failed to encode SARIF log to JSON", zap.Error(encodeErr))
		// Prioritize the encoding error as it indicates corrupted/incomplete output.
		return fmt.Errorf("failed to encode SARIF output: %w", encodeErr)
	}
	if closeErr != nil {
		r.logger.Error("Failed to close output writer", zap.Error(closeErr))
		return fmt.Errorf("failed to close output writer: %w", closeErr)
	}

	r.logger.Debug("Successfully wrote SARIF report", zap.Duration("duration_ms", time.Since(startTime)))
	return nil
}

// sanitizeRuleName creates a standardized base name for the rule ID.
func sanitizeRuleName(name string) string {
	sanitizedName := strings.ToUpper(name)
	sanitizedName = ruleIDSanitizer.ReplaceAllString(sanitizedName, "-")
	sanitizedName = strings.Trim(sanitizedName, "-")
	if sanitizedName == "" {
		return "UNNAMED-SCENARIO"
	}
	return sanitizedName
}

// ensureRule ensures a unique rule definition exists for the run's check and
// returns its ID. Must be called while holding the mutex.
func (r *SARIFReporter) ensureRule(result *scenario.Result) string {
	fingerprint := calculateFingerprint(result)
	if ruleID, exists := r.rulesByFingerprint[fingerprint]; exists {
		return ruleID
	}

	baseRuleID := "SIGNUPGUARD-" + sanitizeRuleName(result.Scenario+"-"+string(result.Expect))
	usageCount := r.ruleIDUsage[baseRuleID]
	r.ruleIDUsage[baseRuleID] = usageCount + 1

	finalRuleID := baseRuleID
	if usageCount > 0 {
		finalRuleID = fmt.Sprintf("%s-%d", baseRuleID, usageCount)
		r.logger.Debug("Rule ID collision detected, generated new ID with suffix",
			zap.String("base_id", baseRuleID),
			zap.String("final_id", finalRuleID),
		)
	}

	name := fmt.Sprintf("%s submission on %s is %s", result.Scenario, result.Route, result.Expect)
	criteria := result.Expect.Criteria()
	markdownHelp := fmt.Sprintf("**Check:** %s\n\n**Criteria:**\n- %s", name, strings.Join(criteria, "\n- "))

	driver := r.log.Runs[0].Tool.Driver
	driver.Rules = append(driver.Rules, &sarif.ReportingDescriptor{
		ID:               finalRuleID,
		Name:             pString(name),
		ShortDescription: &sarif.MultiformatMessageString{Text: pString(name)},
		FullDescription:  &sarif.MultiformatMessageString{Text: pString(strings.Join(criteria, "; "))},
		Help: &sarif.MultiformatMessageString{
			Text:     pString(strings.Join(criteria, "; ")),
			Markdown: pString(markdownHelp),
		},
		Properties: &sarif.PropertyBag{
			"tags": []string{"acceptance", "signup", string(result.Expect)},
		},
	})
	r.rulesByFingerprint[fingerprint] = finalRuleID
	return finalRuleID
}

func resultMessage(result *scenario.Result) string {
	if result.State == scenario.StateCompleted {
		msg := fmt.Sprintf("Submission was %s as expected.", result.Expect)
		if result.Eval != nil && len(result.Eval.Diagnostics) > 0 {
			msg += " Diagnostics: " + strings.Join(result.Eval.Diagnostics, " | ")
		}
		return msg
	}
	if result.Error != "" {
		return result.Error
	}
	return fmt.Sprintf("Run ended in state %s.", result.State)
}

// createLocations points at the route the form was submitted on.
func createLocations(result *scenario.Result) []*sarif.Location {
	uri := strings.TrimSuffix(result.BaseURL, "/") + result.Route
	return []*sarif.Location{{
		PhysicalLocation: &sarif.PhysicalLocation{
			ArtifactLocation: &sarif.ArtifactLocation{URI: pString(uri)},
		},
		Message: &sarif.Message{Text: pString(fmt.Sprintf("Signup form at %s", uri))},
	}}
}

// pString returns a pointer to the given string value. Helper for optional SARIF fields.
func pString(s string) *string {
	return &s
}

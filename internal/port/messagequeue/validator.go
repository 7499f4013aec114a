package messagequeue

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Strob0t/LaunchLoop/internal/domain/event"
)

// Validate checks whether data is valid JSON conforming to the schema
// associated with the given subject. Unknown subjects pass validation.
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}

	switch {
	case subject == SubjectProposalCreated:
		var p event.ProposalCreated
		if err := json.Unmarshal(data, &p); err != nil {
			return schemaErr(subject, err)
		}
		if p.ProposalID == "" || p.Kind == "" {
			return fmt.Errorf("schema validation failed for %s: proposal_id and kind are required", subject)
		}
	case subject == SubjectProposalResolved:
		var p event.ProposalResolved
		if err := json.Unmarshal(data, &p); err != nil {
			return schemaErr(subject, err)
		}
		if p.ProposalID == "" || p.Status == "" {
			return fmt.Errorf("schema validation failed for %s: proposal_id and status are required", subject)
		}
	case subject == SubjectGraphCommitted:
		var p event.GraphCommitted
		if err := json.Unmarshal(data, &p); err != nil {
			return schemaErr(subject, err)
		}
		if p.Version < 1 {
			return fmt.Errorf("schema validation failed for %s: version must be positive", subject)
		}
	case subject == SubjectReevaluate:
		var p event.Reevaluate
		if err := json.Unmarshal(data, &p); err != nil {
			return schemaErr(subject, err)
		}
	case strings.HasPrefix(subject, SubjectMetricsIngest+"."):
		var p IngestPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return schemaErr(subject, err)
		}
		if len(p.Readings) == 0 {
			return fmt.Errorf("schema validation failed for %s: readings are required", subject)
		}
	}
	return nil
}

func schemaErr(subject string, err error) error {
	return fmt.Errorf("schema validation failed for %s: %w", subject, err)
}

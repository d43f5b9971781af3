package history

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/fyrsmithlabs/inquire/internal/belief"
	"github.com/fyrsmithlabs/inquire/internal/llm"
	"github.com/fyrsmithlabs/inquire/internal/search"
)

// SessionRecord is the token usage of one model session.
type SessionRecord struct {
	Model             string `json:"model_key"`
	TotalInputTokens  int64  `json:"total_input_tokens"`
	TotalOutputTokens int64  `json:"total_output_tokens"`
}

// NewSessionRecord captures the current totals of s.
func NewSessionRecord(s *llm.Session) SessionRecord {
	if s == nil {
		return SessionRecord{}
	}
	return SessionRecord{
		Model:             s.Model,
		TotalInputTokens:  s.InputTokens(),
		TotalOutputTokens: s.OutputTokens(),
	}
}

// RunRecord is the on-disk form of one run.
type RunRecord struct {
	ID                string          `json:"id"`
	TaskInfo          string          `json:"task_info"`
	ExpectedAnswer    string          `json:"expected_answer"`
	QuestionerSession SessionRecord   `json:"questioner_session"`
	AnswererSession   SessionRecord   `json:"answerer_session"`
	StartTime         time.Time       `json:"start_time"`
	EndTime           time.Time       `json:"end_time"`
	FinalPath         []string        `json:"final_path"`
	FinalBeliefState  belief.State    `json:"final_belief_state"`
	SerialisedTree    *EvidenceRecord `json:"serialised_tree"`

	// Error is set when the run was aborted; the rest is a partial result.
	Error string `json:"error,omitempty"`
}

// NewRunRecord converts an engine record.
func NewRunRecord(rec *search.Record, questioner, answerer *llm.Session, expected string) RunRecord {
	out := RunRecord{
		ID:                rec.ID,
		TaskInfo:          rec.Task,
		ExpectedAnswer:    expected,
		QuestionerSession: NewSessionRecord(questioner),
		AnswererSession:   NewSessionRecord(answerer),
		StartTime:         rec.StartedAt,
		EndTime:           rec.FinishedAt,
		FinalPath:         rec.Path,
		FinalBeliefState:  rec.FinalBeliefState,
	}
	if rec.Root != nil {
		t := EncodeTree(rec.Root)
		out.SerialisedTree = &t
	}
	if rec.Err != nil {
		out.Error = rec.Err.Error()
	}
	return out
}

// Failed reports whether the run was aborted.
func (r RunRecord) Failed() bool { return r.Error != "" }

// WriteRunRecord writes r to path atomically.
func WriteRunRecord(path string, r RunRecord) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal run record: %w", err)
	}
	return writeAtomic(path, data)
}

// ReadRunRecord loads a run record. The tree is dropped unless includeTree
// is set, since it dominates the file size.
func ReadRunRecord(path string, includeTree bool) (RunRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RunRecord{}, fmt.Errorf("failed to read run record: %w", err)
	}
	var r RunRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return RunRecord{}, fmt.Errorf("failed to parse run record %s: %w", path, err)
	}
	if !includeTree {
		r.SerialisedTree = nil
	}
	return r, nil
}

func writeAtomic(path string, data []byte) error {
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename %s: %w", path, err)
	}
	return nil
}

package inference

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/clinicore/clinicore/internal/platform/apperr"
	"github.com/clinicore/clinicore/internal/platform/artifacts"
)

// CallbackFile is one result file in a completion callback.
type CallbackFile struct {
	Content     json.RawMessage `json:"content"`
	Type        string          `json:"type"`
	ContentType string          `json:"contentType,omitempty"`
}

// CallbackInput is the body the compute service posts back.
type CallbackInput struct {
	JobID         string                  `json:"jobId"`
	Status        string                  `json:"status"`
	ResultPayload json.RawMessage         `json:"resultPayload,omitempty"`
	ErrorMessage  string                  `json:"errorMessage,omitempty"`
	Files         map[string]CallbackFile `json:"files,omitempty"`
}

// HandleCallback finalizes a job from a compute-service callback. A
// callback for an already-terminal job is an idempotent no-op. Result
// files are persisted per job; a file that fails to persist is skipped
// without aborting the rest or the status transition.
func (s *Service) HandleCallback(ctx context.Context, in CallbackInput) (*Job, error) {
	if in.Status != StatusCompleted && in.Status != StatusFailed {
		return nil, apperr.Validation("invalid callback status %q", in.Status)
	}

	job, err := s.repo.GetByDisplayID(ctx, in.JobID)
	if err != nil {
		return nil, err
	}
	if IsTerminalStatus(job.Status) {
		return job, nil
	}

	result := in.ResultPayload
	if in.Status == StatusCompleted && len(in.Files) > 0 {
		saved, err := s.store.SaveAll(job.DisplayID, toIncoming(in.Files))
		if err != nil {
			s.logger.Error().Err(err).Str("job_id", job.DisplayID).Msg("inference: artifact persistence failed")
		}
		result = mergeFileNames(result, saved)
	}

	noop := false
	job, err = s.repo.Mutate(ctx, job.ID, func(j *Job) error {
		if IsTerminalStatus(j.Status) {
			noop = true
			return nil
		}
		now := time.Now().UTC()
		switch in.Status {
		case StatusCompleted:
			j.Status = StatusCompleted
			j.ResultPayload = result
			j.CompletedAt = &now
		case StatusFailed:
			j.Status = StatusFailed
			if in.ErrorMessage != "" {
				msg := in.ErrorMessage
				j.ErrorMessage = &msg
			}
			j.CompletedAt = &now
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !noop && job.Mode == ModeManual {
		s.emit(ctx, "job."+job.Status, job)
	}
	return job, nil
}

func toIncoming(files map[string]CallbackFile) []artifacts.Incoming {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	incoming := make([]artifacts.Incoming, 0, len(files))
	for _, name := range names {
		f := files[name]
		incoming = append(incoming, artifacts.Incoming{
			Name:        name,
			Type:        f.Type,
			ContentType: f.ContentType,
			Content:     f.Content,
		})
	}
	return incoming
}

// mergeFileNames records the persisted artifact names in the result
// payload under the "files" key so consumers can enumerate them without a
// separate listing call.
func mergeFileNames(result json.RawMessage, saved []artifacts.File) json.RawMessage {
	payload := map[string]interface{}{}
	if len(result) > 0 {
		if err := json.Unmarshal(result, &payload); err != nil {
			payload = map[string]interface{}{"result": json.RawMessage(result)}
		}
	}
	names := make([]string, 0, len(saved))
	for _, f := range saved {
		names = append(names, f.Name)
	}
	payload["files"] = names

	merged, err := json.Marshal(payload)
	if err != nil {
		return result
	}
	return merged
}

package inference

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicore/clinicore/internal/domain/order"
	"github.com/clinicore/clinicore/internal/platform/apperr"
	"github.com/clinicore/clinicore/internal/platform/artifacts"
	"github.com/clinicore/clinicore/internal/platform/auth"
	"github.com/clinicore/clinicore/internal/platform/notify"
)

// Actor is the authenticated identity attempting an action.
type Actor struct {
	ID    string
	Roles []string
}

// IsAdmin reports whether the actor holds the administrative role.
func (a Actor) IsAdmin() bool {
	return auth.HasRole(a.Roles, auth.RoleAdmin)
}

// OrderSource resolves the orders a job references.
type OrderSource interface {
	Get(ctx context.Context, id uuid.UUID) (*order.Order, error)
}

// ArtifactStore persists result files per job.
type ArtifactStore interface {
	SaveAll(jobID string, files []artifacts.Incoming) ([]artifacts.File, error)
	List(jobID string) ([]artifacts.File, error)
	Open(jobID, name string) (io.ReadCloser, string, error)
	DeleteJob(jobID string) error
}

// Notifier publishes state-change events best-effort.
type Notifier interface {
	Emit(ctx context.Context, eventType, entity, entityID string, topics []string, payload any)
}

// Service owns the inference job lifecycle: dedup, dispatch, callback
// finalization, cancellation, and artifact access.
type Service struct {
	repo        Repository
	orders      OrderSource
	dispatcher  Dispatcher
	store       ArtifactStore
	notifier    Notifier
	callbackURL string
	readFile    func(string) ([]byte, error)
	logger      zerolog.Logger
}

func NewService(repo Repository, orders OrderSource, dispatcher Dispatcher,
	store ArtifactStore, notifier Notifier, callbackURL string, logger zerolog.Logger) *Service {
	return &Service{
		repo:        repo,
		orders:      orders,
		dispatcher:  dispatcher,
		store:       store,
		notifier:    notifier,
		callbackURL: callbackURL,
		readFile:    os.ReadFile,
		logger:      logger,
	}
}

// RequestInput carries an inference job request.
type RequestInput struct {
	ModelType string     `json:"model_type"`
	Sources   SourceRefs `json:"sources"`
	Mode      string     `json:"mode"`
}

// RequestJob is the dedup-aware entry point. When a completed job with
// the same fingerprint exists it is returned as a cache hit and no new
// row is created. Otherwise a pending job is created, dispatched, and
// its outcome recorded: processing on acknowledgment, failed on a
// classified dispatch error. Failed rows are retained. The returned bool
// reports a cache hit.
func (s *Service) RequestJob(ctx context.Context, actor Actor, in RequestInput) (*Job, bool, error) {
	if !ValidModelType(in.ModelType) {
		return nil, false, apperr.Validation("unknown model type %q", in.ModelType)
	}
	if in.Mode == "" {
		in.Mode = ModeManual
	}
	if in.Mode != ModeManual && in.Mode != ModeAuto {
		return nil, false, apperr.Validation("invalid mode %q", in.Mode)
	}

	refs := in.Sources.Fingerprint(in.ModelType)
	if refs.Empty() {
		return nil, false, apperr.Validation("model %s requires at least one source order reference", in.ModelType)
	}

	sourceOrders, err := s.loadSources(ctx, refs)
	if err != nil {
		return nil, false, err
	}

	if hit, err := s.repo.FindCompletedBySource(ctx, in.ModelType, refs); err != nil {
		return nil, false, err
	} else if hit != nil {
		return hit, true, nil
	}

	job := &Job{
		ModelType:      in.ModelType,
		ImagingOrderID: refs.Imaging,
		LabOrderID:     refs.Lab,
		GenomicOrderID: refs.Genomic,
		Status:         StatusPending,
		Mode:           in.Mode,
		RequestedBy:    actor.ID,
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, false, err
	}

	// The dispatch call runs without holding any row lock; the outcome is
	// recorded afterwards in its own transaction.
	dispatchErr := s.dispatcher.Dispatch(ctx, s.buildDispatch(job, sourceOrders))

	job, err = s.repo.Mutate(ctx, job.ID, func(j *Job) error {
		// A cancel or a fast callback may have finished the job while the
		// dispatch call was in flight. Terminal statuses are write-once.
		if IsTerminalStatus(j.Status) {
			return nil
		}
		if dispatchErr != nil {
			msg := dispatchErr.Error()
			j.Status = StatusFailed
			j.ErrorMessage = &msg
			return nil
		}
		j.Status = StatusProcessing
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if dispatchErr != nil {
		return job, false, dispatchErr
	}
	return job, false, nil
}

func (s *Service) loadSources(ctx context.Context, refs SourceRefs) (map[string]*order.Order, error) {
	out := map[string]*order.Order{}
	for slot, id := range map[string]*uuid.UUID{
		"imaging": refs.Imaging,
		"lab":     refs.Lab,
		"genomic": refs.Genomic,
	} {
		if id == nil {
			continue
		}
		o, err := s.orders.Get(ctx, *id)
		if err != nil {
			return nil, err
		}
		out[slot] = o
	}
	return out, nil
}

func (s *Service) buildDispatch(job *Job, sources map[string]*order.Order) DispatchRequest {
	req := DispatchRequest{
		JobID:       job.DisplayID,
		ModelType:   job.ModelType,
		Sources:     map[string]string{},
		CallbackURL: s.callbackURL,
		Mode:        job.Mode,
		Payload:     map[string]interface{}{},
	}

	for slot, o := range sources {
		req.Sources[slot] = o.DisplayID
		if len(o.ResultPayload) > 0 {
			req.Payload[slot+"_result"] = json.RawMessage(o.ResultPayload)
		}
	}

	// The compute service has no shared filesystem, so genomic model types
	// carry the referenced data file inline.
	if modelSpecs[job.ModelType].inlineGenomicFile {
		if o, ok := sources["genomic"]; ok {
			if path := dataFilePath(o); path != "" {
				data, err := s.readFile(path)
				if err != nil {
					s.logger.Warn().Err(err).
						Str("job_id", job.DisplayID).
						Str("path", path).
						Msg("inference: could not inline genomic data file")
				} else {
					req.Payload["genomic_data"] = map[string]string{
						"file":    filepath.Base(path),
						"content": base64.StdEncoding.EncodeToString(data),
					}
				}
			}
		}
	}
	return req
}

// dataFilePath extracts the data file reference from a genomic order's
// request payload.
func dataFilePath(o *order.Order) string {
	if len(o.RequestPayload) == 0 {
		return ""
	}
	var payload struct {
		DataFile string `json:"data_file"`
	}
	if err := json.Unmarshal(o.RequestPayload, &payload); err != nil {
		return ""
	}
	return payload.DataFile
}

// Cancel moves a pending or processing job to cancelled. Only the
// requester or an admin may cancel. Cancellation is the only recovery
// path for a job stuck in processing; nothing auto-expires.
func (s *Service) Cancel(ctx context.Context, actor Actor, id uuid.UUID) (*Job, error) {
	job, err := s.repo.Mutate(ctx, id, func(j *Job) error {
		if j.RequestedBy != actor.ID && !actor.IsAdmin() {
			return apperr.Forbidden("actor %s may not cancel job %s", actor.ID, j.DisplayID)
		}
		if IsTerminalStatus(j.Status) {
			return apperr.InvalidState("job %s is already %s", j.DisplayID, j.Status)
		}
		j.Status = StatusCancelled
		return nil
	})
	if err != nil {
		return nil, err
	}
	if job.Mode == ModeManual {
		s.emit(ctx, "job.cancelled", job)
	}
	return job, nil
}

// Delete removes a job row and its artifacts. Administrative only.
func (s *Service) Delete(ctx context.Context, actor Actor, id uuid.UUID) error {
	if !actor.IsAdmin() {
		return apperr.Forbidden("actor %s may not delete inference jobs", actor.ID)
	}
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	if err := s.store.DeleteJob(job.DisplayID); err != nil {
		s.logger.Error().Err(err).Str("job_id", job.DisplayID).Msg("inference: failed to remove artifacts")
	}
	return nil
}

// Get returns one job.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Job, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns jobs matching the filter.
func (s *Service) List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Job, int, error) {
	return s.repo.List(ctx, filter, limit, offset)
}

// ListFiles enumerates a job's persisted artifacts.
func (s *Service) ListFiles(ctx context.Context, id uuid.UUID) ([]artifacts.File, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.store.List(job.DisplayID)
}

// OpenFile opens one artifact for download.
func (s *Service) OpenFile(ctx context.Context, id uuid.UUID, name string) (io.ReadCloser, string, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, "", err
	}
	return s.store.Open(job.DisplayID, name)
}

func (s *Service) emit(ctx context.Context, eventType string, j *Job) {
	if s.notifier == nil {
		return
	}
	s.notifier.Emit(ctx, eventType, "inference_job", j.DisplayID,
		notify.JobTopics(ReviewDepartment(j.ModelType), j.RequestedBy), j)
}

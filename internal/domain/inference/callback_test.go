package inference

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/clinicore/clinicore/internal/platform/apperr"
)

func startProcessingJob(t *testing.T, env *testEnv, mode string) *Job {
	t.Helper()
	src := env.orders.add("ocs_0001", "", "")
	job, _, err := env.svc.RequestJob(context.Background(), requester, RequestInput{
		ModelType: ModelLungNodule,
		Sources:   SourceRefs{Imaging: &src.ID},
		Mode:      mode,
	})
	if err != nil {
		t.Fatalf("RequestJob: %v", err)
	}
	return job
}

func TestCallbackCompletesJobAndPersistsFiles(t *testing.T) {
	env := newTestEnv(t)
	job := startProcessingJob(t, env, ModeManual)

	mask := base64.StdEncoding.EncodeToString([]byte{1, 2, 3})
	got, err := env.svc.HandleCallback(context.Background(), CallbackInput{
		JobID:         job.DisplayID,
		Status:        StatusCompleted,
		ResultPayload: json.RawMessage(`{"noduleCount": 2}`),
		Files: map[string]CallbackFile{
			"mask.bin":      {Type: "binary", Content: json.RawMessage(`"` + mask + `"`)},
			"findings.json": {Type: "json", Content: json.RawMessage(`{"nodules": []}`)},
		},
	})
	if err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	if got.Status != StatusCompleted || got.CompletedAt == nil {
		t.Fatalf("unexpected job state: %+v", got)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(got.ResultPayload, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result["noduleCount"] != float64(2) {
		t.Errorf("result payload lost: %v", result)
	}
	names, ok := result["files"].([]interface{})
	if !ok || len(names) != 2 {
		t.Fatalf("expected 2 file names merged into result, got %v", result["files"])
	}

	files, err := env.svc.ListFiles(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(files) != 2 {
		t.Errorf("expected 2 persisted files, got %d", len(files))
	}

	// Manual completion notifies the reviewing department and requester.
	if len(env.notifier.events) != 1 || env.notifier.events[0] != "job.completed" {
		t.Fatalf("expected job.completed event, got %v", env.notifier.events)
	}
	topics := env.notifier.topics[0]
	if len(topics) != 2 || topics[0] != "dept:imaging" || topics[1] != "user:phys-1" {
		t.Errorf("unexpected topics %v", topics)
	}
}

func TestCallbackUndecodableFileDoesNotAbort(t *testing.T) {
	env := newTestEnv(t)
	job := startProcessingJob(t, env, ModeAuto)

	got, err := env.svc.HandleCallback(context.Background(), CallbackInput{
		JobID:  job.DisplayID,
		Status: StatusCompleted,
		Files: map[string]CallbackFile{
			"bad.bin":    {Type: "binary", Content: json.RawMessage(`"not!!base64"`)},
			"good.json":  {Type: "json", Content: json.RawMessage(`{"ok": true}`)},
			"report.txt": {Type: "json", Content: json.RawMessage(`"all clear"`)},
		},
	})
	if err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	if got.Status != StatusCompleted {
		t.Fatalf("expected completed despite bad file, got %s", got.Status)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(got.ResultPayload, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	names, _ := result["files"].([]interface{})
	if len(names) != 2 {
		t.Fatalf("expected 2 decodable files recorded, got %v", names)
	}
	for _, n := range names {
		if n == "bad.bin" {
			t.Error("undecodable file must not be recorded")
		}
	}
}

func TestCallbackAutoModeIsSilent(t *testing.T) {
	env := newTestEnv(t)
	job := startProcessingJob(t, env, ModeAuto)

	if _, err := env.svc.HandleCallback(context.Background(), CallbackInput{
		JobID:  job.DisplayID,
		Status: StatusCompleted,
	}); err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	if len(env.notifier.events) != 0 {
		t.Errorf("auto-mode completion must not notify, got %v", env.notifier.events)
	}
}

func TestCallbackFailureSetsErrorMessage(t *testing.T) {
	env := newTestEnv(t)
	job := startProcessingJob(t, env, ModeManual)

	got, err := env.svc.HandleCallback(context.Background(), CallbackInput{
		JobID:        job.DisplayID,
		Status:       StatusFailed,
		ErrorMessage: "segmentation diverged",
	})
	if err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	if got.Status != StatusFailed || got.ErrorMessage == nil || *got.ErrorMessage != "segmentation diverged" {
		t.Fatalf("unexpected job state: %+v", got)
	}
	if len(env.notifier.events) != 1 || env.notifier.events[0] != "job.failed" {
		t.Errorf("expected job.failed event, got %v", env.notifier.events)
	}
}

func TestCallbackDuplicateIsNoop(t *testing.T) {
	env := newTestEnv(t)
	job := startProcessingJob(t, env, ModeManual)

	first, err := env.svc.HandleCallback(context.Background(), CallbackInput{
		JobID:         job.DisplayID,
		Status:        StatusCompleted,
		ResultPayload: json.RawMessage(`{"v": 1}`),
	})
	if err != nil {
		t.Fatalf("first callback: %v", err)
	}

	second, err := env.svc.HandleCallback(context.Background(), CallbackInput{
		JobID:         job.DisplayID,
		Status:        StatusFailed,
		ErrorMessage:  "late duplicate",
		ResultPayload: json.RawMessage(`{"v": 2}`),
	})
	if err != nil {
		t.Fatalf("duplicate callback: %v", err)
	}
	if second.Status != StatusCompleted {
		t.Errorf("duplicate callback must not re-finalize, got %s", second.Status)
	}
	if string(second.ResultPayload) != string(first.ResultPayload) {
		t.Error("duplicate callback must not overwrite the result")
	}
	if len(env.notifier.events) != 1 {
		t.Errorf("duplicate callback must not notify again, got %v", env.notifier.events)
	}
}

func TestCallbackUnknownJob(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.HandleCallback(context.Background(), CallbackInput{
		JobID:  "ai_req_9999",
		Status: StatusCompleted,
	})
	if !apperr.IsKind(err, apperr.KindNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestCallbackInvalidStatus(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.HandleCallback(context.Background(), CallbackInput{
		JobID:  "ai_req_0001",
		Status: "exploded",
	})
	if !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("expected Validation, got %v", err)
	}
}

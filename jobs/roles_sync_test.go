package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/odyssey-erp/roleterms/internal/jobs"
	"github.com/odyssey-erp/roleterms/internal/rolesync"
)

type stubRunner struct {
	calls []rolesync.Options
	res   rolesync.Result
	err   error
}

func (s *stubRunner) Run(_ context.Context, opts rolesync.Options, _ rolesync.Reporter, _ io.Writer) (rolesync.Result, error) {
	s.calls = append(s.calls, opts)
	if err := opts.Validate(); err != nil {
		return rolesync.Result{}, err
	}
	return s.res, s.err
}

func TestNewRolesSyncTaskEncodesPayload(t *testing.T) {
	task, err := NewRolesSyncTask(RolesSyncPayload{TenantID: 4, BatchSize: 500, Limit: 10, FastPopulate: true})
	require.NoError(t, err)
	require.Equal(t, TaskRolesSync, task.Type())

	var decoded RolesSyncPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &decoded))
	require.Equal(t, int64(4), decoded.TenantID)
	require.True(t, decoded.FastPopulate)
}

func TestRolesSyncJobRunsWithDefaults(t *testing.T) {
	runner := &stubRunner{res: rolesync.Result{Strategy: rolesync.StrategyIncremental, Synced: 12}}
	job := NewRolesSyncJob(runner, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	task, err := NewRolesSyncTask(RolesSyncPayload{TenantID: 2})
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	require.Len(t, runner.calls, 1)
	require.Equal(t, rolesync.DefaultBatchSize, runner.calls[0].BatchSize)
	require.Equal(t, int64(2), runner.calls[0].TenantID)
	require.False(t, runner.calls[0].FastPopulate)
}

func TestRolesSyncJobSkipsRetryOnBadInput(t *testing.T) {
	runner := &stubRunner{}
	job := NewRolesSyncJob(runner, nil, nil)

	err := job.Handle(context.Background(), asynq.NewTask(TaskRolesSync, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.Empty(t, runner.calls)

	task, err := NewRolesSyncTask(RolesSyncPayload{TenantID: 0, BatchSize: 10})
	require.NoError(t, err)
	err = job.Handle(context.Background(), task)
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.ErrorIs(t, err, rolesync.ErrInvalidOptions)
}

func TestRolesSyncJobPropagatesRunFailure(t *testing.T) {
	boom := fmt.Errorf("rolesync: %w", errors.New("connection reset"))
	runner := &stubRunner{err: boom}
	job := NewRolesSyncJob(runner, nil, nil)
	task, err := NewRolesSyncTask(RolesSyncPayload{TenantID: 1, BatchSize: 50})
	require.NoError(t, err)

	err = job.Handle(context.Background(), task)
	require.ErrorIs(t, err, boom)
	require.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestRolesSyncJobNotConfigured(t *testing.T) {
	var job *RolesSyncJob
	require.Error(t, job.Handle(context.Background(), asynq.NewTask(TaskRolesSync, nil)))
}

func TestHealthWithoutInspector(t *testing.T) {
	r := chi.NewRouter()
	r.Route("/jobs", NewHandler(nil, nil).MountRoutes)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"queue":"default","pending":0,"active":0}`, rec.Body.String())
}

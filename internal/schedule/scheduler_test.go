package schedule

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type namedJob struct {
	name string
	runs int
}

func (j *namedJob) Name() string { return j.name }

func (j *namedJob) Run(ctx context.Context) error {
	j.runs++
	return nil
}

func TestAddRejectsBadSpecAndDuplicates(t *testing.T) {
	s := New()
	job := &namedJob{name: "token_cleanup"}

	require.Error(t, s.Add(job, "not a spec"))
	require.NoError(t, s.Add(job, "*/10 * * * *"))
	require.Error(t, s.Add(job, "*/5 * * * *"))
}

func TestRunOnceUsesStartContext(t *testing.T) {
	s := New()
	job := &namedJob{name: "sweep"}
	s.Start(context.Background())
	defer s.Stop()

	s.runOnce(job)
	require.Equal(t, 1, job.runs)
}

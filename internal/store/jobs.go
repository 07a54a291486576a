package store

import (
	"context"
	"encoding/json"
	"slices"

	"github.com/rotisserie/eris"

	"github.com/sells-group/opportunity-planner/internal/model"
)

// JobPrefix is the key prefix under which jobs are stored.
const JobPrefix = "plans/"

// JobKey returns the store key for a job id.
func JobKey(id string) string {
	return JobPrefix + id
}

// GetJob loads a job. It returns ErrNotFound when the job does not exist.
func GetJob(ctx context.Context, s Store, id string) (*model.Job, error) {
	data, err := s.Get(ctx, JobKey(id))
	if err != nil {
		return nil, err
	}
	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, eris.Wrapf(err, "store: decode job %s", id)
	}
	return &job, nil
}

// PutJob writes a job under its key, replacing any previous version.
func PutJob(ctx context.Context, s Store, job *model.Job) error {
	if job == nil || job.ID == "" {
		return eris.New("store: job without id")
	}
	data, err := json.Marshal(job)
	if err != nil {
		return eris.Wrapf(err, "store: encode job %s", job.ID)
	}
	return s.Set(ctx, JobKey(job.ID), data)
}

// ListJobs returns all stored jobs, oldest first. Entries that fail to
// decode are skipped and reported in the returned count.
func ListJobs(ctx context.Context, s Store) ([]model.Job, int, error) {
	entries, err := s.List(ctx, JobPrefix)
	if err != nil {
		return nil, 0, err
	}
	jobs := make([]model.Job, 0, len(entries))
	skipped := 0
	for _, e := range entries {
		var job model.Job
		if err := json.Unmarshal(e.Value, &job); err != nil {
			skipped++
			continue
		}
		jobs = append(jobs, job)
	}
	slices.SortStableFunc(jobs, func(a, b model.Job) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return jobs, skipped, nil
}

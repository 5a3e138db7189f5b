package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// JobRunner executes one scheduled workflow run.
type JobRunner interface {
	RunJob(ctx context.Context, job Job) error
}

// Job runs a workflow file against a session on a cron schedule.
type Job struct {
	Name     string         `yaml:"name" json:"name"`
	Cron     string         `yaml:"cron" json:"cron"`
	Workflow string         `yaml:"workflow" json:"workflow"`
	Session  string         `yaml:"session,omitempty" json:"session,omitempty"`
	Input    map[string]any `yaml:"input,omitempty" json:"input,omitempty"`
	Paused   bool           `yaml:"paused,omitempty" json:"paused,omitempty"`
	Source   string         `yaml:"source,omitempty" json:"source,omitempty"` // "config" or "dynamic"
}

const (
	SourceConfig  = "config"
	SourceDynamic = "dynamic"
)

var (
	ErrConfigProtected = errors.New("config-defined jobs cannot be modified or removed")
	ErrJobNotFound     = errors.New("job not found")
	ErrJobExists       = errors.New("job already exists")
	ErrJobNotPaused    = errors.New("job is not paused")
	ErrInvalidJob      = errors.New("invalid job")
)

func (j *Job) validate() error {
	if j.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidJob)
	}
	if j.Workflow == "" {
		return fmt.Errorf("%w %q: workflow is required", ErrInvalidJob, j.Name)
	}
	if _, err := cron.ParseStandard(j.Cron); err != nil {
		return fmt.Errorf("%w %q: cron spec: %v", ErrInvalidJob, j.Name, err)
	}
	return nil
}

type scheduledJob struct {
	job     Job
	entryID cron.EntryID
	active  bool
}

// Scheduler triggers workflow runs from cron specs. Config jobs are fixed;
// dynamic jobs are persisted under dataDir and reloaded on Start.
type Scheduler struct {
	mu      sync.RWMutex
	jobs    map[string]*scheduledJob
	cron    *cron.Cron
	runner  JobRunner
	dataDir string
	log     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

func New(runner JobRunner, dataDir string, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		jobs:    make(map[string]*scheduledJob),
		cron:    cron.New(),
		runner:  runner,
		dataDir: dataDir,
		log:     logger.With("component", "scheduler"),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start registers static jobs and persisted dynamic jobs, then starts the
// cron loop. Invalid jobs are logged and skipped.
func (s *Scheduler) Start(staticJobs []Job) error {
	for i := range staticJobs {
		staticJobs[i].Source = SourceConfig
		if err := s.addJob(staticJobs[i]); err != nil {
			s.log.Warn("skipping static job", "job", staticJobs[i].Name, "error", err)
		}
	}

	dynamicJobs, err := s.loadDynamic()
	if err != nil {
		s.log.Warn("loading dynamic jobs", "error", err)
	}
	for _, j := range dynamicJobs {
		j.Source = SourceDynamic
		if err := s.addJob(j); err != nil {
			s.log.Warn("skipping dynamic job", "job", j.Name, "error", err)
		}
	}

	s.cron.Start()
	return nil
}

// Stop halts the cron loop and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	done := s.cron.Stop()
	s.cancel()
	<-done.Done()
}

// AddJob creates a dynamic job at runtime and persists it.
func (s *Scheduler) AddJob(job Job) error {
	job.Source = SourceDynamic
	if err := s.addJob(job); err != nil {
		return err
	}
	return s.persistDynamic()
}

// RemoveJob unschedules a dynamic job. Config-defined jobs cannot be removed.
func (s *Scheduler) RemoveJob(name string) error {
	s.mu.Lock()
	sj, ok := s.jobs[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrJobNotFound, name)
	}
	if sj.job.Source == SourceConfig {
		s.mu.Unlock()
		return ErrConfigProtected
	}
	if sj.active {
		s.cron.Remove(sj.entryID)
	}
	delete(s.jobs, name)
	s.mu.Unlock()

	return s.persistDynamic()
}

// PauseJob stops triggering a job until ResumeJob.
func (s *Scheduler) PauseJob(name string) error {
	s.mu.Lock()
	sj, ok := s.jobs[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrJobNotFound, name)
	}
	if sj.active {
		s.cron.Remove(sj.entryID)
		sj.active = false
	}
	sj.job.Paused = true
	s.mu.Unlock()

	return s.persistDynamic()
}

func (s *Scheduler) ResumeJob(name string) error {
	s.mu.Lock()
	sj, ok := s.jobs[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrJobNotFound, name)
	}
	if !sj.job.Paused {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrJobNotPaused, name)
	}
	sj.job.Paused = false
	err := s.scheduleLocked(sj)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.persistDynamic()
}

// RunNow triggers a job immediately, outside its schedule, and waits for it.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	job, ok := s.GetJob(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrJobNotFound, name)
	}
	return s.runner.RunJob(ctx, job)
}

// ListJobs returns all registered jobs sorted by name.
func (s *Scheduler) ListJobs() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Job, 0, len(s.jobs))
	for _, sj := range s.jobs {
		out = append(out, sj.job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Scheduler) GetJob(name string) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sj, ok := s.jobs[name]
	if !ok {
		return Job{}, false
	}
	return sj.job, true
}

func (s *Scheduler) addJob(job Job) error {
	if err := job.validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.Name]; exists {
		return fmt.Errorf("%w: %q", ErrJobExists, job.Name)
	}
	sj := &scheduledJob{job: job}
	if !job.Paused {
		if err := s.scheduleLocked(sj); err != nil {
			return err
		}
	}
	s.jobs[job.Name] = sj
	return nil
}

func (s *Scheduler) scheduleLocked(sj *scheduledJob) error {
	name := sj.job.Name
	id, err := s.cron.AddFunc(sj.job.Cron, func() { s.executeJob(name) })
	if err != nil {
		return fmt.Errorf("scheduling job %q: %w", name, err)
	}
	sj.entryID = id
	sj.active = true
	return nil
}

func (s *Scheduler) executeJob(name string) {
	job, ok := s.GetJob(name)
	if !ok || job.Paused {
		return
	}
	s.log.Info("job triggered", "job", job.Name, "workflow", job.Workflow)
	if err := s.runner.RunJob(s.ctx, job); err != nil {
		s.log.Error("job execution error", "job", job.Name, "error", err)
	}
}

func (s *Scheduler) persistPath() string {
	return filepath.Join(s.dataDir, "scheduler", "jobs.yaml")
}

func (s *Scheduler) persistDynamic() error {
	if s.dataDir == "" {
		return nil
	}

	dynamicJobs := make([]Job, 0)
	for _, j := range s.ListJobs() {
		if j.Source == SourceDynamic {
			dynamicJobs = append(dynamicJobs, j)
		}
	}

	dir := filepath.Dir(s.persistPath())
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating scheduler dir: %w", err)
	}

	data, err := yaml.Marshal(dynamicJobs)
	if err != nil {
		return fmt.Errorf("marshaling jobs: %w", err)
	}

	return os.WriteFile(s.persistPath(), data, 0600)
}

func (s *Scheduler) loadDynamic() ([]Job, error) {
	if s.dataDir == "" {
		return nil, nil
	}

	data, err := os.ReadFile(s.persistPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading jobs file: %w", err)
	}

	var jobs []Job
	if err := yaml.Unmarshal(data, &jobs); err != nil {
		return nil, fmt.Errorf("parsing jobs file: %w", err)
	}
	return jobs, nil
}

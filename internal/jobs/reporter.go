// ABOUTME: Progress-reporting sink handed to each job workload
// ABOUTME: Updates land on the job record; progress on a terminal job is dropped

package jobs

// Reporter is the progress sink passed to a workload. All methods are safe
// for concurrent use and become no-ops once the job reaches a terminal state.
type Reporter struct {
	service *Service
	jobID   string
}

// SetPercent records overall completion (clamped to 0..100).
func (r *Reporter) SetPercent(percent int) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	r.update(func(p *Progress) {
		p.PercentComplete = percent
	})
}

// StartStep marks the named step as the one currently executing.
func (r *Reporter) StartStep(name string) {
	r.update(func(p *Progress) {
		p.CurrentStep = name
	})
}

// CompleteStep records the named step as done and clears it if current.
func (r *Reporter) CompleteStep(name string) {
	r.update(func(p *Progress) {
		p.CompletedSteps = append(p.CompletedSteps, name)
		if p.CurrentStep == name {
			p.CurrentStep = ""
		}
	})
}

// FailStep records the named step as failed and clears it if current.
func (r *Reporter) FailStep(name string) {
	r.update(func(p *Progress) {
		p.FailedSteps = append(p.FailedSteps, name)
		if p.CurrentStep == name {
			p.CurrentStep = ""
		}
	})
}

// update applies fn to the job's progress under the service lock.
func (r *Reporter) update(fn func(*Progress)) {
	s := r.service
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[r.jobID]
	if !ok || job.Status.Terminal() {
		return
	}
	fn(&job.Progress)
}

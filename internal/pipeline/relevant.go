package pipeline

// MostRecentStage is the last stage, scanning from the end, that has started
// or finished.
func MostRecentStage(stages []StageInstance) (StageInstance, bool) {
	for i := len(stages) - 1; i >= 0; i-- {
		if stages[i].FinishTime != nil || stages[i].StartTime != nil {
			return stages[i], true
		}
	}
	return StageInstance{}, false
}

// RelevantState picks the single state shown for a group. Running and failing
// work always wins over the enqueued and active flags.
func (g ExecutionGroup) RelevantState(projectPaused bool) State {
	for _, wanted := range []State{StateRunning, StatePreparing, StateFailed} {
		for _, s := range g.Stages {
			if s.State == wanted {
				return wanted
			}
		}
	}

	if g.Enqueued {
		return StateEnqueued
	}
	recent, ok := MostRecentStage(g.Stages)
	if ok {
		return recent.State
	}
	if g.Active {
		if projectPaused {
			return StatePaused
		}
		return StatePreparing
	}
	return StateSkipped
}

// GroupSummary is what a list view shows for one execution group.
type GroupSummary struct {
	ID         string
	ProjectID  string
	Stage      string
	State      State
	Instances  int
	Started    int
	Finished   int
	Failed     int
	Running    int
	MostRecent string
	Active     bool
	Enqueued   bool
	HasComment bool
}

// Summarize derives a GroupSummary from g.
func Summarize(g ExecutionGroup, projectPaused bool) GroupSummary {
	sum := GroupSummary{
		ID:         g.ID,
		ProjectID:  g.ProjectID,
		Stage:      g.StageDefinition.Name,
		State:      g.RelevantState(projectPaused),
		Instances:  g.InstanceCount(),
		Started:    len(g.Stages),
		Active:     g.Active,
		Enqueued:   g.Enqueued,
		HasComment: g.Comment != "",
	}
	for _, s := range g.Stages {
		if s.Terminal() {
			sum.Finished++
		}
		switch s.State {
		case StateFailed:
			sum.Failed++
		case StateRunning:
			sum.Running++
		}
	}
	if recent, ok := MostRecentStage(g.Stages); ok {
		sum.MostRecent = recent.ID
	}
	return sum
}

// Progress is the share of instances that finished, in percent.
func (s GroupSummary) Progress() int {
	if s.Instances <= 0 {
		return 0
	}
	p := s.Finished * 100 / s.Instances
	return min(p, 100)
}

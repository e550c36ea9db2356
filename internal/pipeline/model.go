// Package pipeline models the entities of the execution platform and derives
// summary state from them. Nothing here mutates a cache.
package pipeline

import (
	"time"

	"pipesync/internal/ranged"
)

// Topic names used by the session.
const (
	TopicProjects      = "projects"
	TopicProjectStates = "projects/states"
	TopicGroups        = "groups"
	TopicNodes         = "nodes"
)

type Project struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Owner    string   `json:"owner,omitempty"`
	Pipeline string   `json:"pipeline,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

// ProjectState is the scheduler's view of a project, keyed by project ID.
type ProjectState struct {
	Paused         bool   `json:"paused"`
	State          *State `json:"state,omitempty"`
	PauseReason    string `json:"pauseReason,omitempty"`
	EnqueuedStages int    `json:"enqueuedStages"`
	Progress       int    `json:"progress"`
}

type StageDefinition struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Image string `json:"image,omitempty"`
}

// StageInstance is one concrete execution of a stage definition. It is
// terminal once FinishTime is set.
type StageInstance struct {
	ID          string            `json:"id"`
	StartTime   *time.Time        `json:"startTime,omitempty"`
	FinishTime  *time.Time        `json:"finishTime,omitempty"`
	State       State             `json:"state"`
	Workspace   string            `json:"workspace,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	EnvInternal map[string]string `json:"envInternal,omitempty"`
}

func (s StageInstance) Terminal() bool {
	return s.FinishTime != nil
}

// ExecutionGroup is the set of stage instances produced by expanding one
// stage definition over its ranged values.
type ExecutionGroup struct {
	ID              string          `json:"id"`
	ProjectID       string          `json:"projectId,omitempty"`
	StageDefinition StageDefinition `json:"stageDefinition"`
	RangedValues    ranged.Map      `json:"rangedValues,omitempty"`
	Stages          []StageInstance `json:"stages"`
	Active          bool            `json:"active"`
	Enqueued        bool            `json:"enqueued"`
	Comment         string          `json:"comment,omitempty"`
}

// InstanceCount is the number of stage instances the group expands to.
func (g ExecutionGroup) InstanceCount() int {
	return ranged.GroupCount(g.RangedValues)
}

type NodeState struct {
	Name           string    `json:"name"`
	Time           time.Time `json:"time"`
	CPUUtilization []float64 `json:"cpuUtilization,omitempty"`
	MemoryUsed     uint64    `json:"memoryUsed"`
	MemoryTotal    uint64    `json:"memoryTotal"`
	Online         bool      `json:"online"`
}

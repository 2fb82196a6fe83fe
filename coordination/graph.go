package coordination

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BaSui01/agentnet/registry"
	"github.com/BaSui01/agentnet/types"
)

// TaskGraph is the DAG of tasks for one session. Dependency edges point
// from a task to the tasks that depend on it (forward edges), which makes
// blocking propagation on failure a plain forward traversal. All graph
// mutation is serialized by one mutex; assignment is a compare-and-swap
// on task status under that mutex, so exactly one of N concurrent
// assigners wins.
type TaskGraph struct {
	mu sync.Mutex

	coordinationID string
	tasks          map[string]*Task

	// dependents maps a task to the tasks that list it as a dependency.
	dependents map[string][]string
}

// NewTaskGraph creates an empty graph owned by the given session.
func NewTaskGraph(coordinationID string) *TaskGraph {
	return &TaskGraph{
		coordinationID: coordinationID,
		tasks:          make(map[string]*Task),
		dependents:     make(map[string][]string),
	}
}

// TaskSpec is the caller-provided portion of a new task.
type TaskSpec struct {
	TaskType     string
	Description  string
	Dependencies []string
	RequiredCaps types.CapabilitySet
	Priority     int
}

// AddTask validates and inserts a new pending task. Every dependency must
// already exist in this graph (NOT_FOUND otherwise) and the insertion must
// keep the graph acyclic (CYCLE otherwise). On failure nothing is mutated.
func (g *TaskGraph) AddTask(spec TaskSpec) (*Task, error) {
	if spec.TaskType == "" {
		return nil, types.NewError(types.ErrValidation, "task_type is empty")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	seen := make(map[string]struct{}, len(spec.Dependencies))
	for _, dep := range spec.Dependencies {
		if _, ok := g.tasks[dep]; !ok {
			return nil, types.NewErrorf(types.ErrNotFound, "dependency %s not found in coordination %s", dep, g.coordinationID)
		}
		if _, dup := seen[dep]; dup {
			return nil, types.NewErrorf(types.ErrValidation, "duplicate dependency %s", dep)
		}
		seen[dep] = struct{}{}
	}

	task := &Task{
		TaskID:         uuid.NewString(),
		CoordinationID: g.coordinationID,
		TaskType:       spec.TaskType,
		Description:    spec.Description,
		Dependencies:   append([]string(nil), spec.Dependencies...),
		RequiredCaps:   spec.RequiredCaps.Clone(),
		Priority:       spec.Priority,
		Status:         TaskPending,
		CreatedAt:      time.Now(),
	}

	// A fresh node with only incoming edges cannot close a cycle, but the
	// check stays cheap and guards AddDependency below.
	if g.wouldCycle(task.TaskID, spec.Dependencies) {
		return nil, types.NewErrorf(types.ErrCycle, "task would create a dependency cycle")
	}

	g.tasks[task.TaskID] = task
	for _, dep := range spec.Dependencies {
		g.dependents[dep] = append(g.dependents[dep], task.TaskID)
	}
	return task.clone(), nil
}

// AddDependency adds an edge from dep to task after insertion. Rejected
// with CYCLE when the edge would make the graph cyclic; the graph is left
// untouched on any failure.
func (g *TaskGraph) AddDependency(taskID, depID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	task, ok := g.tasks[taskID]
	if !ok {
		return types.NewErrorf(types.ErrNotFound, "task %s not found", taskID)
	}
	if _, ok := g.tasks[depID]; !ok {
		return types.NewErrorf(types.ErrNotFound, "dependency %s not found", depID)
	}
	if taskID == depID {
		return types.NewError(types.ErrCycle, "task cannot depend on itself")
	}
	for _, existing := range task.Dependencies {
		if existing == depID {
			return nil
		}
	}
	if task.Status != TaskPending {
		return types.NewErrorf(types.ErrNotReady, "task %s is %s, dependencies are frozen", taskID, task.Status)
	}

	// The edge closes a cycle iff depID already depends on taskID, i.e.
	// depID is reachable from taskID along dependent edges.
	if g.reachable(taskID, depID) {
		return types.NewErrorf(types.ErrCycle, "dependency %s -> %s would create a cycle", depID, taskID)
	}

	task.Dependencies = append(task.Dependencies, depID)
	g.dependents[depID] = append(g.dependents[depID], taskID)
	return nil
}

// wouldCycle checks whether inserting newID with the given dependencies
// keeps the graph acyclic. Caller holds the lock.
func (g *TaskGraph) wouldCycle(newID string, deps []string) bool {
	for _, dep := range deps {
		if dep == newID {
			return true
		}
		if g.reachable(newID, dep) {
			return true
		}
	}
	return false
}

// reachable reports whether target is reachable from start following
// dependent edges. Caller holds the lock.
func (g *TaskGraph) reachable(start, target string) bool {
	stack := append([]string(nil), g.dependents[start]...)
	visited := make(map[string]struct{})
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == target {
			return true
		}
		if _, ok := visited[id]; ok {
			continue
		}
		visited[id] = struct{}{}
		stack = append(stack, g.dependents[id]...)
	}
	return false
}

// Get returns a copy of the task.
func (g *TaskGraph) Get(taskID string) (*Task, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	task, ok := g.tasks[taskID]
	if !ok {
		return nil, types.NewErrorf(types.ErrNotFound, "task %s not found", taskID)
	}
	return task.clone(), nil
}

// ReadyTasks returns copies of every pending task whose dependencies are
// all completed, ordered by priority descending then task ID ascending.
func (g *TaskGraph) ReadyTasks() []*Task {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.readyLocked()
}

func (g *TaskGraph) readyLocked() []*Task {
	var ready []*Task
	for _, task := range g.tasks {
		if task.Status != TaskPending {
			continue
		}
		if g.depsCompletedLocked(task) {
			ready = append(ready, task.clone())
		}
	}
	sort.Slice(ready, func(i, j int) bool {
		if ready[i].Priority != ready[j].Priority {
			return ready[i].Priority > ready[j].Priority
		}
		return ready[i].TaskID < ready[j].TaskID
	})
	return ready
}

func (g *TaskGraph) depsCompletedLocked(task *Task) bool {
	for _, dep := range task.Dependencies {
		if d, ok := g.tasks[dep]; !ok || d.Status != TaskCompleted {
			return false
		}
	}
	return true
}

// Assign transitions a task pending -> assigned for the given agent.
// Exactly one concurrent caller wins the compare-and-swap; the rest get
// NOT_READY. Capability and health preconditions are checked against the
// agent record before the swap.
func (g *TaskGraph) Assign(taskID string, agent *registry.AgentRecord, minHealth registry.HealthStatus) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	task, ok := g.tasks[taskID]
	if !ok {
		return types.NewErrorf(types.ErrNotFound, "task %s not found", taskID)
	}
	if task.Status != TaskPending {
		return types.NewErrorf(types.ErrNotReady, "task %s is %s, not pending", taskID, task.Status)
	}
	if !g.depsCompletedLocked(task) {
		return types.NewErrorf(types.ErrNotReady, "task %s has incomplete dependencies", taskID)
	}
	if err := checkAssignable(task, agent, minHealth); err != nil {
		return err
	}

	task.Status = TaskAssigned
	task.AssignedAgentID = agent.AgentID
	task.AssignedAgents = []string{agent.AgentID}
	task.AssignedAt = time.Now()
	return nil
}

// AssignShared adds an agent to a fan-out task (swarm, collaborative).
// The first assignee performs the pending -> assigned swap; later
// assignees join while the task is assigned or in progress.
func (g *TaskGraph) AssignShared(taskID string, agent *registry.AgentRecord, minHealth registry.HealthStatus) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	task, ok := g.tasks[taskID]
	if !ok {
		return types.NewErrorf(types.ErrNotFound, "task %s not found", taskID)
	}
	switch task.Status {
	case TaskPending:
		if !g.depsCompletedLocked(task) {
			return types.NewErrorf(types.ErrNotReady, "task %s has incomplete dependencies", taskID)
		}
	case TaskAssigned, TaskInProgress:
		// joining an already fanned-out task
	default:
		return types.NewErrorf(types.ErrNotReady, "task %s is %s", taskID, task.Status)
	}
	if err := checkAssignable(task, agent, minHealth); err != nil {
		return err
	}
	for _, id := range task.AssignedAgents {
		if id == agent.AgentID {
			return nil
		}
	}

	if task.Status == TaskPending {
		task.Status = TaskAssigned
		task.AssignedAgentID = agent.AgentID
		task.AssignedAt = time.Now()
	}
	task.AssignedAgents = append(task.AssignedAgents, agent.AgentID)
	return nil
}

func checkAssignable(task *Task, agent *registry.AgentRecord, minHealth registry.HealthStatus) error {
	if agent == nil {
		return types.NewError(types.ErrValidation, "agent record is nil")
	}
	if !agent.Capabilities.ContainsAll(task.RequiredCaps) {
		return types.NewErrorf(types.ErrCapabilityMismatch,
			"agent %s lacks required capabilities %v", agent.AgentID, task.RequiredCaps.List())
	}
	if minHealth == "" {
		minHealth = registry.HealthDegraded
	}
	if agent.HealthStatus == registry.HealthOffline || agent.HealthStatus.Rank() < minHealth.Rank() {
		return types.NewErrorf(types.ErrAgentUnavailable,
			"agent %s is %s, below the session floor %s", agent.AgentID, agent.HealthStatus, minHealth)
	}
	return nil
}

// Start transitions assigned -> in_progress.
func (g *TaskGraph) Start(taskID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	task, ok := g.tasks[taskID]
	if !ok {
		return types.NewErrorf(types.ErrNotFound, "task %s not found", taskID)
	}
	if task.Status != TaskAssigned {
		return types.NewErrorf(types.ErrNotReady, "task %s is %s, not assigned", taskID, task.Status)
	}
	task.Status = TaskInProgress
	return nil
}

// Complete records a completion report from an agent. Single-assignee
// tasks complete immediately; fan-out tasks complete when the session's
// completion rule is met (needAll, or needN distinct reports). Returns
// whether the task reached completed.
func (g *TaskGraph) Complete(taskID, agentID string, result []byte, needAll bool, needN int) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	task, ok := g.tasks[taskID]
	if !ok {
		return false, types.NewErrorf(types.ErrNotFound, "task %s not found", taskID)
	}
	switch task.Status {
	case TaskAssigned, TaskInProgress:
	case TaskCompleted:
		// Duplicate or late report; keep the first result.
		return true, nil
	default:
		return false, types.NewErrorf(types.ErrNotReady, "task %s is %s", taskID, task.Status)
	}

	if len(task.AssignedAgents) > 1 || needAll || needN > 1 {
		if task.completedBy == nil {
			task.completedBy = make(map[string]struct{})
		}
		task.completedBy[agentID] = struct{}{}

		done := false
		if needAll {
			done = len(task.completedBy) >= len(task.AssignedAgents)
		} else {
			done = len(task.completedBy) >= needN
		}
		if !done {
			if task.Result == nil {
				task.Result = append([]byte(nil), result...)
			}
			return false, nil
		}
	}

	task.Status = TaskCompleted
	if result != nil {
		task.Result = append([]byte(nil), result...)
	}
	task.CompletedAt = time.Now()
	return true, nil
}

// Fail records a failure report. With retries left the task is requeued
// to pending with its assignment cleared; otherwise it fails permanently
// and every direct and transitive dependent becomes blocked.
func (g *TaskGraph) Fail(taskID, reason string, maxRetries int) (requeued bool, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	task, ok := g.tasks[taskID]
	if !ok {
		return false, types.NewErrorf(types.ErrNotFound, "task %s not found", taskID)
	}
	switch task.Status {
	case TaskAssigned, TaskInProgress:
	default:
		return false, types.NewErrorf(types.ErrNotReady, "task %s is %s", taskID, task.Status)
	}

	if task.Retries < maxRetries {
		task.Retries++
		task.Status = TaskPending
		task.AssignedAgentID = ""
		task.AssignedAgents = nil
		task.completedBy = nil
		task.FailureReason = reason
		return true, nil
	}

	task.Status = TaskFailed
	task.FailureReason = reason
	g.blockDependentsLocked(taskID)
	return false, nil
}

// blockDependentsLocked marks all transitive dependents blocked, skipping
// tasks that already reached a terminal state.
func (g *TaskGraph) blockDependentsLocked(taskID string) {
	stack := append([]string(nil), g.dependents[taskID]...)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		dep, ok := g.tasks[id]
		if !ok {
			continue
		}
		switch dep.Status {
		case TaskCompleted, TaskFailed, TaskBlocked:
			continue
		}
		dep.Status = TaskBlocked
		stack = append(stack, g.dependents[id]...)
	}
}

// BlockNonTerminal marks every pending/assigned/in-progress task blocked.
// Used by cancellation; completed and failed results stay intact.
func (g *TaskGraph) BlockNonTerminal() {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, task := range g.tasks {
		switch task.Status {
		case TaskPending, TaskAssigned, TaskInProgress:
			task.Status = TaskBlocked
		}
	}
}

// MarkVotingOpened stamps a consensus proposal as open for votes.
func (g *TaskGraph) MarkVotingOpened(taskID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	task, ok := g.tasks[taskID]
	if !ok {
		return types.NewErrorf(types.ErrNotFound, "task %s not found", taskID)
	}
	if task.Status != TaskPending {
		return types.NewErrorf(types.ErrNotReady, "task %s is %s", taskID, task.Status)
	}
	task.Status = TaskInProgress
	task.VotingOpenedAt = time.Now()
	return nil
}

// MarkBiddingOpened stamps an auction task's bid window start. Re-opening
// restarts the window.
func (g *TaskGraph) MarkBiddingOpened(taskID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	task, ok := g.tasks[taskID]
	if !ok {
		return types.NewErrorf(types.ErrNotFound, "task %s not found", taskID)
	}
	if task.Status != TaskPending {
		return types.NewErrorf(types.ErrNotReady, "task %s is %s", taskID, task.Status)
	}
	task.BiddingOpenedAt = time.Now()
	return nil
}

// FailTerminal marks a task failed regardless of retries (deadline
// expiry) and blocks its dependents.
func (g *TaskGraph) FailTerminal(taskID, reason string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	task, ok := g.tasks[taskID]
	if !ok {
		return types.NewErrorf(types.ErrNotFound, "task %s not found", taskID)
	}
	switch task.Status {
	case TaskCompleted, TaskFailed, TaskBlocked:
		return nil
	}
	task.Status = TaskFailed
	task.FailureReason = reason
	g.blockDependentsLocked(taskID)
	return nil
}

// Tasks returns copies of every task.
func (g *TaskGraph) Tasks() []*Task {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]*Task, 0, len(g.tasks))
	for _, task := range g.tasks {
		out = append(out, task.clone())
	}
	return out
}

// Counts returns the number of tasks per status.
func (g *TaskGraph) Counts() map[TaskStatus]int {
	g.mu.Lock()
	defer g.mu.Unlock()

	counts := make(map[TaskStatus]int, 6)
	for _, task := range g.tasks {
		counts[task.Status]++
	}
	return counts
}

// InFlight reports whether any task is assigned or in progress, used by
// the pipeline executor to enforce one-at-a-time scheduling.
func (g *TaskGraph) InFlight() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, task := range g.tasks {
		if task.Status == TaskAssigned || task.Status == TaskInProgress {
			return true
		}
	}
	return false
}

// Len returns the number of tasks.
func (g *TaskGraph) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.tasks)
}

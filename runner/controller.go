package runner

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/Wshaoqing721/synmatai-test-platform/runner/agent"
	"github.com/Wshaoqing721/synmatai-test-platform/runner/emit"
	"github.com/Wshaoqing721/synmatai-test-platform/runner/policy"
	"github.com/Wshaoqing721/synmatai-test-platform/runner/store"
)

// RunOptions configures one run of a scenario.
type RunOptions struct {
	// RunID identifies the run. Generated when empty.
	RunID string

	// TotalUsers is the number of virtual users to fan out. Defaults to 1.
	TotalUsers int

	// Concurrency bounds how many users execute simultaneously.
	// Defaults to TotalUsers.
	Concurrency int

	// Timeout bounds the whole fan-out. Zero means no run-level timeout.
	// On timeout, outstanding users are counted as failed; their in-flight
	// HTTP calls are no longer awaited but not forcibly interrupted.
	Timeout time.Duration

	// Token is the auth token given to every virtual user.
	Token string
}

// RunResult is the aggregate outcome of one run.
type RunResult struct {
	RunID        string
	Status       string
	TotalUsers   int
	SuccessCount int
	FailedCount  int
	ProgressPct  int
	Error        string

	// Users holds the executions that finished before the run ended.
	Users []*UserExecution

	Duration time.Duration
}

// Controller owns run lifecycles: it fans a scenario out across virtual
// users with bounded concurrency, persists results, and aggregates the
// outcome.
//
// All collaborators are injected at construction; the controller keeps no
// ambient global state. Run is a blocking call returning the final result;
// callers wanting a background run start it in their own goroutine and use
// Status and Cancel for control.
type Controller struct {
	store    store.Store
	executor *UserExecutor
	emitter  emit.Emitter
	metrics  *Metrics

	mu   sync.Mutex
	runs map[string]*runHandle
	seq  int
}

type runHandle struct {
	state  *RunState
	cancel context.CancelFunc
}

// NewController wires a controller from its collaborators. A nil store
// falls back to an in-memory store; a nil emitter to NullEmitter; metrics
// may be nil.
func NewController(st store.Store, caller agent.Caller, evaluator *policy.Evaluator, emitter emit.Emitter, metrics *Metrics) *Controller {
	if st == nil {
		st = store.NewMemoryStore()
	}
	if emitter == nil {
		emitter = emit.NewNullEmitter()
	}
	return &Controller{
		store:    st,
		executor: NewUserExecutor(caller, evaluator, emitter, metrics),
		emitter:  emitter,
		metrics:  metrics,
		runs:     make(map[string]*runHandle),
	}
}

// Run executes the scenario across opts.TotalUsers virtual users and blocks
// until the run reaches a terminal status.
//
// A scenario that fails validation (including a cyclic graph) aborts before
// any node executes. Per-user failures never cancel sibling users; they are
// reported through the aggregate counts.
func (c *Controller) Run(ctx context.Context, scenario *Scenario, opts RunOptions) (*RunResult, error) {
	start := time.Now()

	totalUsers := opts.TotalUsers
	if totalUsers <= 0 {
		totalUsers = 1
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 || concurrency > totalUsers {
		concurrency = totalUsers
	}

	runID := opts.RunID
	if runID == "" {
		runID = c.nextRunID()
	}

	state := NewRunState()
	var runCtx context.Context
	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	c.mu.Lock()
	c.runs[runID] = &runHandle{state: state, cancel: cancel}
	c.mu.Unlock()

	// The handle only exists while the run is live; terminal runs are
	// queryable through the store and no longer cancellable.
	defer func() {
		c.mu.Lock()
		delete(c.runs, runID)
		c.mu.Unlock()
	}()

	if err := scenario.Validate(); err != nil {
		_ = state.To(RunFailed)
		result := &RunResult{
			RunID:      runID,
			Status:     RunFailed,
			TotalUsers: totalUsers,
			Error:      err.Error(),
			Duration:   time.Since(start),
		}
		c.persistRun(scenario, result, start)
		return result, err
	}

	_ = state.To(RunRunning)
	c.persistRun(scenario, &RunResult{
		RunID:      runID,
		Status:     RunRunning,
		TotalUsers: totalUsers,
	}, start)

	// Fan out. Each user gets a fresh context and its own goroutine; the
	// buffered channel is the counting semaphore bounding concurrent
	// executions.
	semaphore := make(chan struct{}, concurrency)
	results := make(chan *UserExecution, totalUsers)
	var wg sync.WaitGroup

	for i := 0; i < totalUsers; i++ {
		wg.Add(1)
		userID := fmt.Sprintf("user-%03d", i+1)
		go func() {
			defer wg.Done()
			results <- c.runUser(runCtx, runID, userID, scenario, opts, semaphore)
		}()
	}

	allDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(allDone)
	}()

	timedOut := false
	select {
	case <-allDone:
	case <-runCtx.Done():
		// Outstanding users are counted as failed and no longer
		// awaited. Their in-flight HTTP calls may still complete in
		// the background; this is accepted best-effort behavior.
		timedOut = true
	}

	result := c.aggregate(runID, totalUsers, results)
	result.Duration = time.Since(start)

	switch {
	case state.Current() == RunCancelled:
		result.Status = RunCancelled
		if result.Error == "" {
			result.Error = "run cancelled"
		}
	case timedOut && ctx.Err() == nil:
		_ = state.To(RunFailed)
		result.Status = RunFailed
		result.Error = fmt.Sprintf("%v after %s", ErrRunTimeout, opts.Timeout)
	case result.FailedCount == 0:
		_ = state.To(RunDone)
		result.Status = RunDone
	default:
		_ = state.To(RunFailed)
		result.Status = RunFailed
	}

	c.persistRun(scenario, result, start)
	return result, nil
}

// runUser executes one virtual user, guarded by the concurrency semaphore
// and a panic recovery so no user can crash the controller.
func (c *Controller) runUser(ctx context.Context, runID, userID string, scenario *Scenario, opts RunOptions, semaphore chan struct{}) (ex *UserExecution) {
	ex = &UserExecution{
		RunID:     runID,
		UserID:    userID,
		Status:    StatusPending,
		StartTime: time.Now(),
	}

	started := false
	defer func() {
		if r := recover(); r != nil {
			ex.Status = StatusFailed
			ex.Error = fmt.Sprintf("user execution panicked: %v", r)
			ex.EndTime = time.Now()
			if started {
				c.metrics.UserFinished(StatusFailed)
			}
		}
		c.persistUser(ex)
	}()

	select {
	case semaphore <- struct{}{}:
		defer func() { <-semaphore }()
	case <-ctx.Done():
		ex.Status = StatusFailed
		ex.Error = fmt.Sprintf("not started: %v", ctx.Err())
		ex.EndTime = time.Now()
		return ex
	}

	c.metrics.UserStarted()
	started = true

	uc := NewUserContext(opts.Token, fmt.Sprintf("%s-%s", runID, userID))
	executed, err := c.executor.Execute(ctx, runID, userID, scenario, uc)
	if err != nil {
		ex.Status = StatusFailed
		ex.Error = err.Error()
		ex.EndTime = time.Now()
		c.metrics.UserFinished(StatusFailed)
		return ex
	}

	ex = executed
	c.metrics.UserFinished(ex.Status)
	return ex
}

// aggregate drains whatever results are available. Users that never
// reported (still running at timeout or cancellation) count as failed.
func (c *Controller) aggregate(runID string, totalUsers int, results chan *UserExecution) *RunResult {
	result := &RunResult{RunID: runID, TotalUsers: totalUsers}

	for {
		select {
		case ex := <-results:
			result.Users = append(result.Users, ex)
			if ex.Failed() {
				result.FailedCount++
			} else {
				result.SuccessCount++
			}
			continue
		default:
		}
		break
	}

	outstanding := totalUsers - len(result.Users)
	result.FailedCount += outstanding
	resolved := result.SuccessCount + result.FailedCount
	result.ProgressPct = int(math.Round(100 * float64(resolved) / float64(totalUsers)))
	return result
}

// Status returns the persisted run record.
func (c *Controller) Status(ctx context.Context, runID string) (store.RunRecord, error) {
	return c.store.GetRun(ctx, runID)
}

// Cancel requests cancellation of a live run. The state moves to cancelled
// and the run context is cancelled; users blocked on admission stop
// immediately, while users inside an agent call finish that call first.
// Runs that already reached a terminal state are unknown to Cancel; their
// outcome lives in the store.
func (c *Controller) Cancel(runID string) error {
	c.mu.Lock()
	handle, ok := c.runs[runID]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown run %q", runID)
	}
	if err := handle.state.To(RunCancelled); err != nil {
		return err
	}
	handle.cancel()
	return nil
}

func (c *Controller) nextRunID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return fmt.Sprintf("run-%s-%03d", time.Now().UTC().Format("20060102T150405"), c.seq)
}

// persistRun writes the run aggregate. Persistence at the run boundary is
// best-effort: a storage outage must not turn a finished run into a crash.
func (c *Controller) persistRun(scenario *Scenario, result *RunResult, start time.Time) {
	record := store.RunRecord{
		ID:           result.RunID,
		ScenarioName: scenario.Name,
		Status:       result.Status,
		TotalUsers:   result.TotalUsers,
		SuccessCount: result.SuccessCount,
		FailedCount:  result.FailedCount,
		ProgressPct:  result.ProgressPct,
		ErrorMessage: result.Error,
		StartedAt:    start,
	}
	if result.Status != RunRunning {
		record.FinishedAt = time.Now()
	}

	ctx := context.Background()
	if err := c.store.UpdateRun(ctx, record); err != nil {
		_ = c.store.CreateRun(ctx, record)
	}
}

// persistUser writes one user's execution, node records, conversations and
// turns. Durable writes happen before the user's outcome is reported as
// final.
func (c *Controller) persistUser(ex *UserExecution) {
	ctx := context.Background()

	_ = c.store.SaveUser(ctx, store.UserRecord{
		RunID:           ex.RunID,
		UserID:          ex.UserID,
		Status:          ex.Status,
		ErrorMessage:    ex.Error,
		ExtractedFields: extractedFields(ex),
		StartedAt:       ex.StartTime,
		FinishedAt:      ex.EndTime,
	})

	for _, record := range ex.Records {
		_ = c.store.SaveNodeExecution(ctx, store.NodeExecutionRecord{
			RunID:      ex.RunID,
			UserID:     ex.UserID,
			NodeID:     record.NodeID,
			NodeName:   record.NodeName,
			NodeType:   record.NodeType,
			Status:     record.Status,
			Error:      record.Error,
			DurationMS: record.DurationMS,
			Request:    record.Request,
			Response:   record.Response,
			StartedAt:  record.StartTime,
			FinishedAt: record.EndTime,
		})
	}

	for _, conv := range ex.Conversations {
		_ = c.store.SaveConversation(ctx, store.ConversationRecord{
			ID:            conv.ID,
			RunID:         ex.RunID,
			UserID:        ex.UserID,
			NodeID:        conv.NodeID,
			Status:        conv.Status,
			TotalTurns:    conv.TotalTurns,
			TaskGenerated: conv.TaskGenerated,
			TaskID:        conv.TaskID,
			DurationMS:    conv.DurationMS,
			StartedAt:     conv.StartedAt,
			FinishedAt:    conv.FinishedAt,
		})
		for _, turn := range conv.Turns {
			_ = c.store.SaveTurn(ctx, store.TurnRecord{
				ConversationID: conv.ID,
				TurnNumber:     turn.TurnNumber,
				UserMessage:    turn.UserMessage,
				AgentResponse:  turn.AgentResponse,
				TaskDetected:   turn.TaskDetected,
				TaskID:         turn.TaskID,
				DurationMS:     turn.DurationMS,
				CreatedAt:      time.Now(),
			})
		}
	}
}

func extractedFields(ex *UserExecution) map[string]any {
	if ex.Context == nil {
		return nil
	}
	return ex.Context.ExtractedFields
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/runhawk/engine/internal/aiclient"
	"github.com/runhawk/engine/internal/bus"
	"github.com/runhawk/engine/internal/config"
	"github.com/runhawk/engine/internal/secrets"
	"github.com/runhawk/engine/internal/sqlclient"
	"github.com/runhawk/engine/internal/store"
	"github.com/runhawk/engine/internal/util"
	"github.com/runhawk/engine/pkg/api"
	"github.com/runhawk/engine/pkg/log"
)

type (
	// Engine is the core runbook execution engine
	Engine struct {
		store     store.Store
		bus       *bus.Bus
		secrets   secrets.Resolver
		http      Doer
		sql       sqlclient.Runner
		ai        aiclient.Client
		archiver  Archiver
		config    *config.Config
		executors map[api.StepKind]stepExecutor
		lua       *LuaEnv
		ctx       context.Context
		cancel    context.CancelFunc
		wg        sync.WaitGroup

		ownerMu sync.Mutex
		owners  util.Set[api.ExecutionID]
	}

	// Dependencies collects the collaborators injected into the engine.
	// SQL, AI, and Archiver are optional; steps that need a missing
	// client fail with a configuration error
	Dependencies struct {
		Store    store.Store
		Bus      *bus.Bus
		Secrets  secrets.Resolver
		HTTP     Doer
		SQL      sqlclient.Runner
		AI       aiclient.Client
		Archiver Archiver
	}

	// Doer performs outbound HTTP requests for http steps
	Doer interface {
		Do(*http.Request) (*http.Response, error)
	}

	// Archiver persists terminal executions to long-term storage
	Archiver interface {
		ArchiveExecution(
			context.Context, *api.Execution,
			[]*api.StepResult, []*api.LogEntry,
		) error
	}

	stepExecutor func(
		context.Context, *runContext, *api.Step,
	) (api.Args, error)
)

var (
	ErrShutdownTimeout      = errors.New("shutdown timeout exceeded")
	ErrUnknownStepKind      = errors.New("unknown step kind")
	ErrStepTimeout          = errors.New("step timed out")
	ErrStepFailed           = errors.New("step failed")
	ErrExecutionNotRunnable = errors.New("execution is not runnable")
	ErrExecutionOwned       = errors.New("execution already has a runner")
	ErrRunbookNotLatest     = errors.New("runbook version is not latest")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrNoSQLClient          = errors.New("no sql client configured")
	ErrNoAIClient           = errors.New("no ai client configured")
)

// errConfig marks failures that no amount of retrying can fix
var errConfig = errors.New("step configuration error")

// New creates an engine with the given configuration and collaborators
func New(cfg *config.Config, deps Dependencies) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		store:    deps.Store,
		bus:      deps.Bus,
		secrets:  deps.Secrets,
		http:     deps.HTTP,
		sql:      deps.SQL,
		ai:       deps.AI,
		archiver: deps.Archiver,
		config:   cfg,
		lua:      NewLuaEnv(),
		ctx:      ctx,
		cancel:   cancel,
		owners:   util.Set[api.ExecutionID]{},
	}
	e.executors = map[api.StepKind]stepExecutor{
		api.StepKindHTTP:        e.execHTTP,
		api.StepKindSQL:         e.execSQL,
		api.StepKindWait:        e.execWait,
		api.StepKindAI:          e.execAI,
		api.StepKindScript:      e.execScript,
		api.StepKindConditional: e.execConditional,
		api.StepKindParallel:    e.execParallel,
	}
	return e
}

// Start begins background work: the approval expiry sweep and resumption
// of executions left running by a previous process
func (e *Engine) Start() {
	slog.Info("Engine starting")

	ctx, cancel := context.WithTimeout(e.ctx, 30*time.Second)
	defer cancel()
	e.recoverExecutions(ctx)

	e.wg.Add(1)
	go e.sweepLoop()
}

// Stop gracefully shuts down the engine, waiting for active runners up
// to the configured shutdown timeout
func (e *Engine) Stop() error {
	e.cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Engine stopped")
		return nil
	case <-time.After(e.config.ShutdownTimeout):
		return ErrShutdownTimeout
	}
}

// StartExecution creates a QUEUED execution for the runbook and begins
// running it on a background goroutine. The caller gets the execution
// record back before the first step runs
func (e *Engine) StartExecution(
	ctx context.Context, runbookID api.RunbookID,
	req *api.StartExecutionRequest,
) (*api.Execution, error) {
	rb, err := e.store.GetRunbook(ctx, runbookID)
	if err != nil {
		return nil, err
	}

	params, err := rb.ResolveParams(req.Params)
	if err != nil {
		return nil, err
	}

	trigger := req.TriggerType
	if trigger == "" {
		trigger = api.TriggerManual
	}

	ex := &api.Execution{
		ID:          api.NewExecutionID(),
		RunbookID:   rb.ID,
		Status:      api.ExecutionQueued,
		TotalSteps:  rb.TotalSteps(),
		TriggeredBy: req.TriggeredBy,
		TriggerType: trigger,
		Params:      params,
		Environment: rb.Environment,
		CreatedAt:   time.Now(),
	}
	if err := e.store.CreateExecution(ctx, ex); err != nil {
		return nil, err
	}

	slog.Info("Execution queued",
		log.ExecutionID(ex.ID),
		log.RunbookID(rb.ID))

	e.spawnRunner(ex.ID)
	return ex, nil
}

// CancelExecution requests cooperative cancellation. A queued or
// running execution transitions to CANCELLED; the active runner honors
// the new status at its next step boundary
func (e *Engine) CancelExecution(
	ctx context.Context, id api.ExecutionID, cancelledBy string,
) (*api.Execution, error) {
	ex, err := e.store.UpdateExecution(ctx, id,
		func(ex *api.Execution) error {
			if !executionTransitions.CanTransition(
				ex.Status, api.ExecutionCancelled,
			) {
				return fmt.Errorf(
					"%w: %s -> %s",
					ErrInvalidTransition, ex.Status, api.ExecutionCancelled,
				)
			}
			ex.Status = api.ExecutionCancelled
			return nil
		},
	)
	if err != nil {
		return nil, err
	}

	slog.Info("Execution cancellation requested",
		log.ExecutionID(id))

	// no active runner means nobody will finalize the record
	if !e.isOwned(id) {
		e.finalizeCancelled(ctx, ex, cancelledBy)
	}
	return ex, nil
}

func (e *Engine) spawnRunner(id api.ExecutionID) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.runExecution(id)
	}()
}

func (e *Engine) recoverExecutions(ctx context.Context) {
	running, err := e.store.ListExecutions(ctx, "")
	if err != nil {
		slog.Error("Failed to list executions for recovery",
			log.Error(err))
		return
	}
	for _, ex := range running {
		if ex.Status != api.ExecutionRunning {
			continue
		}
		if e.hasOpenApproval(ctx, ex.ID) {
			continue
		}
		slog.Info("Resuming interrupted execution",
			log.ExecutionID(ex.ID))
		e.spawnRunner(ex.ID)
	}
}

func (e *Engine) hasOpenApproval(
	ctx context.Context, id api.ExecutionID,
) bool {
	approvals, err := e.store.ListApprovals(ctx, id)
	if err != nil {
		return false
	}
	for _, a := range approvals {
		if a.IsOpen() {
			return true
		}
	}
	return false
}

func (e *Engine) acquire(id api.ExecutionID) bool {
	e.ownerMu.Lock()
	defer e.ownerMu.Unlock()
	if e.owners.Contains(id) {
		return false
	}
	e.owners.Add(id)
	return true
}

func (e *Engine) release(id api.ExecutionID) {
	e.ownerMu.Lock()
	defer e.ownerMu.Unlock()
	e.owners.Remove(id)
}

func (e *Engine) isOwned(id api.ExecutionID) bool {
	e.ownerMu.Lock()
	defer e.ownerMu.Unlock()
	return e.owners.Contains(id)
}

package settlement

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agoralabs/agora/pkg/assets"
	"github.com/agoralabs/agora/pkg/models"
	"github.com/agoralabs/agora/pkg/persistence"
	"github.com/agoralabs/agora/pkg/persistence/memory"
	"github.com/agoralabs/agora/pkg/trust"
)

const (
	testCreator = "alice"
	testOwner   = "bob"
	testOracle  = "oracle"
	testEngine  = "settlement-engine"
)

type testEnv struct {
	engine    *Engine
	trust     *trust.Ledger
	assets    *assets.MemoryLedger
	workflows *failingWorkflowRepo
}

// failingWorkflowRepo simulates a backend whose Save starts failing
// mid-flight.
type failingWorkflowRepo struct {
	persistence.WorkflowRepository
	failSave bool
}

func (r *failingWorkflowRepo) Save(ctx context.Context, workflow *models.Workflow) error {
	if r.failSave {
		return errors.New("backend unavailable")
	}

	return r.WorkflowRepository.Save(ctx, workflow)
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	assetLedger := assets.NewMemoryLedger()
	store := memory.NewPersistence()
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	trustLedger, err := trust.NewLedger(trust.Config{
		MinimumStake: 100,
		Treasury:     "treasury",
		Governance:   "governance",
	}, assetLedger, store.AgentRepository(), nil, logger)
	require.NoError(t, err)

	require.NoError(t, trustLedger.AuthorizeCaller("governance", testEngine))

	workflows := &failingWorkflowRepo{WorkflowRepository: store.WorkflowRepository()}

	engine := NewEngine(Config{
		CallerID: testEngine,
		Oracles:  []string{testOracle},
	}, assetLedger, trustLedger, workflows, nil, nil, logger)

	require.NoError(t, assetLedger.Mint(testCreator, 100_000))
	require.NoError(t, assetLedger.Mint(testOwner, 10_000))

	return &testEnv{engine: engine, trust: trustLedger, assets: assetLedger, workflows: workflows}
}

func (env *testEnv) createWorkflow(t *testing.T, budget uint64) *models.Workflow {
	t.Helper()

	workflow, err := env.engine.CreateWorkflow(t.Context(), testCreator, "Test Workflow", "", budget, time.Now().Add(time.Hour))
	require.NoError(t, err)

	return workflow
}

func (env *testEnv) addStep(t *testing.T, workflowID string, reward uint64, deps ...string) *models.Step {
	t.Helper()

	step, err := env.engine.AddStep(t.Context(), testCreator, workflowID, "Test Step", "summarize", reward, "", deps, "")
	require.NoError(t, err)

	return step
}

func (env *testEnv) registerAgent(t *testing.T, owner string) *models.Agent {
	t.Helper()

	agent, err := env.trust.Register(t.Context(), owner, "Test Agent", []string{"summarize"}, 500)
	require.NoError(t, err)

	return agent
}

func TestEngine_CreateWorkflow(t *testing.T) {
	env := newTestEnv(t)

	workflow := env.createWorkflow(t, 1000)

	assert.NotEmpty(t, workflow.ID)
	assert.Equal(t, testCreator, workflow.Creator)
	assert.Equal(t, models.WorkflowStatusDraft, workflow.Status)
	assert.Equal(t, uint64(1000), workflow.TotalBudget)
	assert.Equal(t, uint64(0), workflow.Allocated)
	assert.Empty(t, workflow.Steps)

	// Budget moved into escrow.
	assert.Equal(t, uint64(99_000), env.assets.Balance(testCreator))

	custody, err := env.assets.CustodyBalance(t.Context())
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), custody)
}

func TestEngine_CreateWorkflow_Validation(t *testing.T) {
	env := newTestEnv(t)
	deadline := time.Now().Add(time.Hour)

	_, err := env.engine.CreateWorkflow(t.Context(), testCreator, "", "", 1000, deadline)
	assert.ErrorIs(t, err, ErrNameRequired)
	assert.True(t, IsValidationError(err))

	_, err = env.engine.CreateWorkflow(t.Context(), testCreator, "Test", "", 0, deadline)
	assert.ErrorIs(t, err, ErrZeroBudget)

	_, err = env.engine.CreateWorkflow(t.Context(), testCreator, "Test", "", 1000, time.Now().Add(-time.Hour))
	assert.ErrorIs(t, err, ErrDeadlineNotFuture)

	// Nothing escrowed by any rejected attempt.
	custody, err := env.assets.CustodyBalance(t.Context())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), custody)
}

func TestEngine_CreateWorkflow_InsufficientBalance(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.engine.CreateWorkflow(t.Context(), "pauper", "Test", "", 1000, time.Now().Add(time.Hour))
	require.ErrorIs(t, err, assets.ErrUnknownAccount)
}

func TestEngine_AddStep_BudgetAllocation(t *testing.T) {
	env := newTestEnv(t)
	workflow := env.createWorkflow(t, 1000)

	env.addStep(t, workflow.ID, 400)
	env.addStep(t, workflow.ID, 400)

	// Remaining unallocated is 200, the third step cannot claim 300.
	_, err := env.engine.AddStep(t.Context(), testCreator, workflow.ID, "Third", "summarize", 300, "", nil, "")
	require.ErrorIs(t, err, ErrRewardExceedsBudget)
	assert.True(t, IsValidationError(err))

	updated, err := env.engine.Workflow(t.Context(), workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(800), updated.Allocated)
	assert.Len(t, updated.Steps, 2)
}

func TestEngine_AddStep_Validation(t *testing.T) {
	env := newTestEnv(t)
	workflow := env.createWorkflow(t, 1000)

	_, err := env.engine.AddStep(t.Context(), testCreator, workflow.ID, "", "summarize", 100, "", nil, "")
	assert.ErrorIs(t, err, ErrNameRequired)

	_, err = env.engine.AddStep(t.Context(), testCreator, workflow.ID, "Step", "", 100, "", nil, "")
	assert.ErrorIs(t, err, ErrCapabilityRequired)

	_, err = env.engine.AddStep(t.Context(), testCreator, workflow.ID, "Step", "summarize", 0, "", nil, "")
	assert.ErrorIs(t, err, ErrZeroReward)

	_, err = env.engine.AddStep(t.Context(), testCreator, workflow.ID, "Step", "summarize", 100, "fanout", nil, "")
	assert.ErrorIs(t, err, ErrInvalidStepKind)

	_, err = env.engine.AddStep(t.Context(), testCreator, workflow.ID, "Step", "summarize", 100, "", []string{"missing"}, "")
	assert.ErrorIs(t, err, ErrDependencyNotFound)
}

func TestEngine_AddStep_OnlyCreatorOnlyDraft(t *testing.T) {
	env := newTestEnv(t)
	workflow := env.createWorkflow(t, 1000)

	_, err := env.engine.AddStep(t.Context(), "mallory", workflow.ID, "Step", "summarize", 100, "", nil, "")
	assert.ErrorIs(t, err, ErrNotCreator)
	assert.True(t, IsAuthorizationError(err))

	env.addStep(t, workflow.ID, 100)

	_, err = env.engine.StartWorkflow(t.Context(), testCreator, workflow.ID)
	require.NoError(t, err)

	_, err = env.engine.AddStep(t.Context(), testCreator, workflow.ID, "Late", "summarize", 100, "", nil, "")
	assert.ErrorIs(t, err, ErrWorkflowNotDraft)
	assert.True(t, IsStateError(err))
}

func TestEngine_StartWorkflow(t *testing.T) {
	env := newTestEnv(t)
	workflow := env.createWorkflow(t, 1000)

	_, err := env.engine.StartWorkflow(t.Context(), testCreator, workflow.ID)
	assert.ErrorIs(t, err, ErrNoSteps)

	env.addStep(t, workflow.ID, 100)

	started, err := env.engine.StartWorkflow(t.Context(), testCreator, workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusActive, started.Status)

	_, err = env.engine.StartWorkflow(t.Context(), testCreator, workflow.ID)
	assert.ErrorIs(t, err, ErrWorkflowNotDraft)
}

func TestEngine_AcceptStep(t *testing.T) {
	env := newTestEnv(t)
	workflow := env.createWorkflow(t, 1000)
	step := env.addStep(t, workflow.ID, 400)
	agent := env.registerAgent(t, testOwner)

	_, err := env.engine.StartWorkflow(t.Context(), testCreator, workflow.ID)
	require.NoError(t, err)

	accepted, err := env.engine.AcceptStep(t.Context(), testOwner, workflow.ID, step.ID, agent.ID)
	require.NoError(t, err)

	assert.Equal(t, models.StepStatusRunning, accepted.Status)
	assert.Equal(t, agent.ID, accepted.AgentID)
	require.NotNil(t, accepted.StartedAt)

	updated, err := env.engine.Workflow(t.Context(), workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(400), updated.Reserved)
}

func TestEngine_AcceptStep_WorkflowNotActive(t *testing.T) {
	env := newTestEnv(t)
	workflow := env.createWorkflow(t, 1000)
	step := env.addStep(t, workflow.ID, 400)
	agent := env.registerAgent(t, testOwner)

	_, err := env.engine.AcceptStep(t.Context(), testOwner, workflow.ID, step.ID, agent.ID)
	assert.ErrorIs(t, err, ErrWorkflowNotActive)
}

func TestEngine_AcceptStep_DependencyGating(t *testing.T) {
	env := newTestEnv(t)
	workflow := env.createWorkflow(t, 1000)
	stepA := env.addStep(t, workflow.ID, 400)
	stepB := env.addStep(t, workflow.ID, 400, stepA.ID)
	agent := env.registerAgent(t, testOwner)

	_, err := env.engine.StartWorkflow(t.Context(), testCreator, workflow.ID)
	require.NoError(t, err)

	// B's dependency A is not completed yet.
	_, err = env.engine.AcceptStep(t.Context(), testOwner, workflow.ID, stepB.ID, agent.ID)
	require.ErrorIs(t, err, ErrDependenciesNotCompleted)
	assert.True(t, IsStateError(err))

	_, err = env.engine.AcceptStep(t.Context(), testOwner, workflow.ID, stepA.ID, agent.ID)
	require.NoError(t, err)

	_, err = env.engine.AcceptStep(t.Context(), testOwner, workflow.ID, stepB.ID, agent.ID)
	require.ErrorIs(t, err, ErrDependenciesNotCompleted, "a running dependency is not a completed one")

	_, err = env.engine.CompleteStep(t.Context(), testOwner, workflow.ID, stepA.ID, "ref://a")
	require.NoError(t, err)

	accepted, err := env.engine.AcceptStep(t.Context(), testOwner, workflow.ID, stepB.ID, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusRunning, accepted.Status)
}

func TestEngine_AcceptStep_AgentEligibility(t *testing.T) {
	env := newTestEnv(t)
	workflow := env.createWorkflow(t, 1000)
	step := env.addStep(t, workflow.ID, 400)

	_, err := env.engine.StartWorkflow(t.Context(), testCreator, workflow.ID)
	require.NoError(t, err)

	// Wrong capability.
	require.NoError(t, env.assets.Mint("carol", 1000))
	translator, err := env.trust.Register(t.Context(), "carol", "Translator", []string{"translate"}, 500)
	require.NoError(t, err)

	_, err = env.engine.AcceptStep(t.Context(), "carol", workflow.ID, step.ID, translator.ID)
	assert.ErrorIs(t, err, ErrAgentNotEligible)

	// Deactivated agent.
	agent := env.registerAgent(t, testOwner)
	_, err = env.trust.Deactivate(t.Context(), testOwner, agent.ID)
	require.NoError(t, err)

	_, err = env.engine.AcceptStep(t.Context(), testOwner, workflow.ID, step.ID, agent.ID)
	assert.ErrorIs(t, err, ErrAgentNotEligible)

	// Caller is not the agent's owner.
	_, err = env.trust.Reactivate(t.Context(), testOwner, agent.ID)
	require.NoError(t, err)

	_, err = env.engine.AcceptStep(t.Context(), "mallory", workflow.ID, step.ID, agent.ID)
	assert.ErrorIs(t, err, ErrNotAssignedAgent)
}

func TestEngine_AcceptStep_SingleWinner(t *testing.T) {
	env := newTestEnv(t)
	workflow := env.createWorkflow(t, 1000)
	step := env.addStep(t, workflow.ID, 400)

	_, err := env.engine.StartWorkflow(t.Context(), testCreator, workflow.ID)
	require.NoError(t, err)

	owners := []string{"owner-0", "owner-1", "owner-2", "owner-3"}
	agents := make([]*models.Agent, len(owners))

	for i, owner := range owners {
		require.NoError(t, env.assets.Mint(owner, 1000))
		agents[i] = env.registerAgent(t, owner)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)

	for i, owner := range owners {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := env.engine.AcceptStep(t.Context(), owner, workflow.ID, step.ID, agents[i].ID)
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, ErrStepNotPending)
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, 1, wins, "exactly one concurrent accept may win")

	updated, err := env.engine.Workflow(t.Context(), workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(400), updated.Reserved, "only the winner's reward is reserved")
}

func TestEngine_CompleteStep_RoundTrip(t *testing.T) {
	env := newTestEnv(t)
	workflow := env.createWorkflow(t, 1000)
	step1 := env.addStep(t, workflow.ID, 400)
	step2 := env.addStep(t, workflow.ID, 300)
	agent := env.registerAgent(t, testOwner)

	_, err := env.engine.StartWorkflow(t.Context(), testCreator, workflow.ID)
	require.NoError(t, err)

	ownerBefore := env.assets.Balance(testOwner)

	_, err = env.engine.AcceptStep(t.Context(), testOwner, workflow.ID, step1.ID, agent.ID)
	require.NoError(t, err)

	completed, err := env.engine.CompleteStep(t.Context(), testOwner, workflow.ID, step1.ID, "ref://out-1")
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusCompleted, completed.Status)
	assert.Equal(t, "ref://out-1", completed.OutputRef)

	// Reward paid out, success recorded.
	assert.Equal(t, ownerBefore+400, env.assets.Balance(testOwner))

	scored, err := env.trust.Agent(t.Context(), agent.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), scored.Completed)
	assert.Equal(t, uint64(400), scored.TotalEarned)
	assert.Equal(t, models.ReputationInitial+trust.ReputationRewardStep, scored.Reputation)

	_, err = env.engine.AcceptStep(t.Context(), testOwner, workflow.ID, step2.ID, agent.ID)
	require.NoError(t, err)

	_, err = env.engine.CompleteStep(t.Context(), testOwner, workflow.ID, step2.ID, "ref://out-2")
	require.NoError(t, err)

	// The last settled step completes the workflow, spent = r1 + r2.
	final, err := env.engine.Workflow(t.Context(), workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusCompleted, final.Status)
	assert.Equal(t, uint64(700), final.Spent)
	assert.Equal(t, uint64(0), final.Reserved)
	assert.LessOrEqual(t, final.Spent, final.TotalBudget)
}

func TestEngine_CompleteStep_Preconditions(t *testing.T) {
	env := newTestEnv(t)
	workflow := env.createWorkflow(t, 1000)
	step := env.addStep(t, workflow.ID, 400)
	agent := env.registerAgent(t, testOwner)

	_, err := env.engine.StartWorkflow(t.Context(), testCreator, workflow.ID)
	require.NoError(t, err)

	// Step is still pending.
	_, err = env.engine.CompleteStep(t.Context(), testOwner, workflow.ID, step.ID, "ref://out")
	assert.ErrorIs(t, err, ErrStepNotRunning)

	_, err = env.engine.AcceptStep(t.Context(), testOwner, workflow.ID, step.ID, agent.ID)
	require.NoError(t, err)

	_, err = env.engine.CompleteStep(t.Context(), testOwner, workflow.ID, step.ID, "")
	assert.ErrorIs(t, err, ErrOutputRefRequired)

	_, err = env.engine.CompleteStep(t.Context(), "mallory", workflow.ID, step.ID, "ref://out")
	assert.ErrorIs(t, err, ErrNotAssignedAgent)
}

func TestEngine_CompleteStep_ByOracle(t *testing.T) {
	env := newTestEnv(t)
	workflow := env.createWorkflow(t, 1000)
	step := env.addStep(t, workflow.ID, 400)
	agent := env.registerAgent(t, testOwner)

	_, err := env.engine.StartWorkflow(t.Context(), testCreator, workflow.ID)
	require.NoError(t, err)

	_, err = env.engine.AcceptStep(t.Context(), testOwner, workflow.ID, step.ID, agent.ID)
	require.NoError(t, err)

	completed, err := env.engine.CompleteStep(t.Context(), testOracle, workflow.ID, step.ID, "ref://out")
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusCompleted, completed.Status)

	// The reward still goes to the agent's owner, not the oracle.
	assert.Equal(t, uint64(10_000-500+400), env.assets.Balance(testOwner))
}

func TestEngine_FailStep(t *testing.T) {
	env := newTestEnv(t)
	workflow := env.createWorkflow(t, 1000)
	step := env.addStep(t, workflow.ID, 400)
	agent := env.registerAgent(t, testOwner)

	_, err := env.engine.StartWorkflow(t.Context(), testCreator, workflow.ID)
	require.NoError(t, err)

	_, err = env.engine.AcceptStep(t.Context(), testOwner, workflow.ID, step.ID, agent.ID)
	require.NoError(t, err)

	ownerBefore := env.assets.Balance(testOwner)

	failed, err := env.engine.FailStep(t.Context(), testOwner, workflow.ID, step.ID, "model refused")
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusFailed, failed.Status)

	// No payout; the reward returned to the unallocated budget.
	assert.Equal(t, ownerBefore, env.assets.Balance(testOwner))

	updated, err := env.engine.Workflow(t.Context(), workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), updated.Reserved)
	assert.Equal(t, uint64(0), updated.Allocated)
	assert.Equal(t, uint64(1000), updated.Unallocated())

	scored, err := env.trust.Agent(t.Context(), agent.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), scored.Failed)
	assert.Equal(t, models.ReputationInitial-trust.ReputationPenaltyStep, scored.Reputation)
	assert.Equal(t, uint64(500), scored.Staked, "failure alone never slashes")
}

func TestEngine_FailStep_CreatorOnlyWhenOverdue(t *testing.T) {
	env := newTestEnv(t)

	workflow, err := env.engine.CreateWorkflow(t.Context(), testCreator, "Short", "", 1000, time.Now().Add(50*time.Millisecond))
	require.NoError(t, err)

	step, err := env.engine.AddStep(t.Context(), testCreator, workflow.ID, "Step", "summarize", 400, "", nil, "")
	require.NoError(t, err)

	agent := env.registerAgent(t, testOwner)

	_, err = env.engine.StartWorkflow(t.Context(), testCreator, workflow.ID)
	require.NoError(t, err)

	_, err = env.engine.AcceptStep(t.Context(), testOwner, workflow.ID, step.ID, agent.ID)
	require.NoError(t, err)

	// Before the deadline the creator cannot fail someone else's step.
	_, err = env.engine.FailStep(t.Context(), testCreator, workflow.ID, step.ID, "too slow")
	require.ErrorIs(t, err, ErrNotAssignedAgent)

	time.Sleep(60 * time.Millisecond)

	failed, err := env.engine.FailStep(t.Context(), testCreator, workflow.ID, step.ID, "too slow")
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusFailed, failed.Status)
}

func TestEngine_CancelWorkflow(t *testing.T) {
	env := newTestEnv(t)
	workflow := env.createWorkflow(t, 1000)
	step1 := env.addStep(t, workflow.ID, 400)
	step2 := env.addStep(t, workflow.ID, 300)
	agent := env.registerAgent(t, testOwner)

	_, err := env.engine.StartWorkflow(t.Context(), testCreator, workflow.ID)
	require.NoError(t, err)

	_, err = env.engine.AcceptStep(t.Context(), testOwner, workflow.ID, step1.ID, agent.ID)
	require.NoError(t, err)

	_, err = env.engine.CompleteStep(t.Context(), testOwner, workflow.ID, step1.ID, "ref://out")
	require.NoError(t, err)

	creatorBefore := env.assets.Balance(testCreator)

	cancelled, err := env.engine.CancelWorkflow(t.Context(), testCreator, workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusCancelled, cancelled.Status)

	// Refund is exactly totalBudget - spent; the completed payout stays paid.
	assert.Equal(t, creatorBefore+600, env.assets.Balance(testCreator))
	assert.Equal(t, models.StepStatusSkipped, cancelled.StepByID(step2.ID).Status)

	// A second cancel must not double-refund.
	_, err = env.engine.CancelWorkflow(t.Context(), testCreator, workflow.ID)
	require.ErrorIs(t, err, ErrWorkflowTerminal)
	assert.True(t, IsStateError(err))
	assert.Equal(t, creatorBefore+600, env.assets.Balance(testCreator))
}

func TestEngine_CancelWorkflow_NotCreator(t *testing.T) {
	env := newTestEnv(t)
	workflow := env.createWorkflow(t, 1000)

	_, err := env.engine.CancelWorkflow(t.Context(), "mallory", workflow.ID)
	assert.ErrorIs(t, err, ErrNotCreator)
}

func TestEngine_CancelWorkflow_RunningStepCompletes(t *testing.T) {
	env := newTestEnv(t)
	workflow := env.createWorkflow(t, 1000)
	step := env.addStep(t, workflow.ID, 400)
	agent := env.registerAgent(t, testOwner)

	_, err := env.engine.StartWorkflow(t.Context(), testCreator, workflow.ID)
	require.NoError(t, err)

	_, err = env.engine.AcceptStep(t.Context(), testOwner, workflow.ID, step.ID, agent.ID)
	require.NoError(t, err)

	creatorBefore := env.assets.Balance(testCreator)
	ownerBefore := env.assets.Balance(testOwner)

	// Cancellation holds back the running step's reserve.
	cancelled, err := env.engine.CancelWorkflow(t.Context(), testCreator, workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, creatorBefore+600, env.assets.Balance(testCreator))
	assert.Equal(t, models.StepStatusRunning, cancelled.StepByID(step.ID).Status)

	// The in-flight step still settles and its payout is honored.
	_, err = env.engine.CompleteStep(t.Context(), testOwner, workflow.ID, step.ID, "ref://out")
	require.NoError(t, err)
	assert.Equal(t, ownerBefore+400, env.assets.Balance(testOwner))

	// Escrow fully drained: 600 refunded, 400 paid.
	custody, err := env.assets.CustodyBalance(t.Context())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), custody)
}

func TestEngine_CancelWorkflow_RunningStepFails(t *testing.T) {
	env := newTestEnv(t)
	workflow := env.createWorkflow(t, 1000)
	step := env.addStep(t, workflow.ID, 400)
	agent := env.registerAgent(t, testOwner)

	_, err := env.engine.StartWorkflow(t.Context(), testCreator, workflow.ID)
	require.NoError(t, err)

	_, err = env.engine.AcceptStep(t.Context(), testOwner, workflow.ID, step.ID, agent.ID)
	require.NoError(t, err)

	creatorBefore := env.assets.Balance(testCreator)

	_, err = env.engine.CancelWorkflow(t.Context(), testCreator, workflow.ID)
	require.NoError(t, err)

	// Post-cancel failure sends the held-back reserve home as well.
	_, err = env.engine.FailStep(t.Context(), testOwner, workflow.ID, step.ID, "gave up")
	require.NoError(t, err)
	assert.Equal(t, creatorBefore+1000, env.assets.Balance(testCreator))

	custody, err := env.assets.CustodyBalance(t.Context())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), custody)
}

func TestEngine_ExpireWorkflow(t *testing.T) {
	env := newTestEnv(t)

	workflow, err := env.engine.CreateWorkflow(t.Context(), testCreator, "Short", "", 1000, time.Now().Add(50*time.Millisecond))
	require.NoError(t, err)

	step, err := env.engine.AddStep(t.Context(), testCreator, workflow.ID, "Step", "summarize", 400, "", nil, "")
	require.NoError(t, err)

	_, err = env.engine.StartWorkflow(t.Context(), testCreator, workflow.ID)
	require.NoError(t, err)

	_, err = env.engine.ExpireWorkflow(t.Context(), workflow.ID)
	require.ErrorIs(t, err, ErrDeadlineNotReached)

	time.Sleep(60 * time.Millisecond)

	creatorBefore := env.assets.Balance(testCreator)

	// Anyone may expire an overdue workflow.
	expired, err := env.engine.ExpireWorkflow(t.Context(), workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusFailed, expired.Status)
	assert.Equal(t, models.StepStatusSkipped, expired.StepByID(step.ID).Status)
	assert.Equal(t, creatorBefore+1000, env.assets.Balance(testCreator))
}

func TestEngine_ExpireWorkflow_RunningStepsBlock(t *testing.T) {
	env := newTestEnv(t)

	workflow, err := env.engine.CreateWorkflow(t.Context(), testCreator, "Short", "", 1000, time.Now().Add(50*time.Millisecond))
	require.NoError(t, err)

	step, err := env.engine.AddStep(t.Context(), testCreator, workflow.ID, "Step", "summarize", 400, "", nil, "")
	require.NoError(t, err)

	agent := env.registerAgent(t, testOwner)

	_, err = env.engine.StartWorkflow(t.Context(), testCreator, workflow.ID)
	require.NoError(t, err)

	_, err = env.engine.AcceptStep(t.Context(), testOwner, workflow.ID, step.ID, agent.ID)
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond)

	_, err = env.engine.ExpireWorkflow(t.Context(), workflow.ID)
	require.ErrorIs(t, err, ErrStepsStillRunning)

	// Once the step resolves, expiry goes through.
	_, err = env.engine.FailStep(t.Context(), testOwner, workflow.ID, step.ID, "overdue")
	require.NoError(t, err)

	expired, err := env.engine.ExpireWorkflow(t.Context(), workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusFailed, expired.Status)
}

func TestEngine_Workflow_NotFound(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.engine.Workflow(t.Context(), "missing")
	assert.True(t, persistence.IsWorkflowNotFound(err))

	_, err = env.engine.AcceptStep(t.Context(), testOwner, "missing", "step", "agent")
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func TestEngine_WorkflowsByCreator(t *testing.T) {
	env := newTestEnv(t)
	env.createWorkflow(t, 1000)

	second, err := env.engine.CreateWorkflow(t.Context(), testCreator, "Second", "", 500, time.Now().Add(time.Hour))
	require.NoError(t, err)

	workflows, err := env.engine.WorkflowsByCreator(t.Context(), testCreator)
	require.NoError(t, err)
	assert.Len(t, workflows, 2)

	steps, err := env.engine.WorkflowSteps(t.Context(), second.ID)
	require.NoError(t, err)
	assert.Empty(t, steps)
}

func TestEngine_CompleteStep_SaveFailureClawsBackPayout(t *testing.T) {
	env := newTestEnv(t)

	workflow := env.createWorkflow(t, 1000)
	step := env.addStep(t, workflow.ID, 400)

	_, err := env.engine.StartWorkflow(t.Context(), testCreator, workflow.ID)
	require.NoError(t, err)

	agent := env.registerAgent(t, testOwner)

	_, err = env.engine.AcceptStep(t.Context(), testOwner, workflow.ID, step.ID, agent.ID)
	require.NoError(t, err)

	paidBefore := env.assets.Balance(testOwner)

	env.workflows.failSave = true

	_, err = env.engine.CompleteStep(t.Context(), testOwner, workflow.ID, step.ID, "ref://out")
	require.Error(t, err)

	// The payout was clawed back and the step is still running in the
	// store, so a retry settles exactly once.
	assert.Equal(t, paidBefore, env.assets.Balance(testOwner))

	stored, err := env.engine.Workflow(t.Context(), workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusRunning, stored.StepByID(step.ID).Status)
	assert.Equal(t, uint64(0), stored.Spent)
	assert.Equal(t, uint64(400), stored.Reserved)

	env.workflows.failSave = false

	completed, err := env.engine.CompleteStep(t.Context(), testOwner, workflow.ID, step.ID, "ref://out")
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusCompleted, completed.Status)
	assert.Equal(t, paidBefore+400, env.assets.Balance(testOwner))

	stored, err = env.engine.Workflow(t.Context(), workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusCompleted, stored.Status)
	assert.Equal(t, uint64(400), stored.Spent)
}

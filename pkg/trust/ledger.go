package trust

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agoralabs/agora/pkg/assets"
	"github.com/agoralabs/agora/pkg/eventbus"
	"github.com/agoralabs/agora/pkg/events"
	"github.com/agoralabs/agora/pkg/models"
	"github.com/agoralabs/agora/pkg/persistence"
)

// Reputation moves by fixed integer steps, not percentages of the current
// score. The penalty is deliberately larger than the reward: trust is slow to
// earn and quick to lose.
const (
	ReputationRewardStep   int64 = 100
	ReputationPenaltyStep  int64 = 200
	SlashReputationPenalty int64 = 500

	DefaultSlashPercent uint64 = 10
	MaxSlashPercent     uint64 = 50
)

// Config holds the trust ledger parameters fixed at construction.
type Config struct {
	// MinimumStake every active agent must keep locked.
	MinimumStake uint64
	// SlashPercent of current stake removed per slash. Zero means DefaultSlashPercent.
	SlashPercent uint64
	// Treasury receives slashed stake.
	Treasury string
	// Governance manages the authorized settlement caller list.
	Governance string
}

// Ledger is the authoritative record of agent stake and reputation. It is the
// only component permitted to move reputation scores or slash stake; the
// settlement engine reaches it through the authorized-caller allow-list.
type Ledger struct {
	mu         sync.Mutex
	cfg        Config
	assets     assets.Ledger
	agents     persistence.AgentRepository
	authorized map[string]bool
	publisher  eventbus.EventPublisher
	logger     *slog.Logger
}

// NewLedger creates a trust ledger. The publisher may be nil; events are then
// dropped.
func NewLedger(cfg Config, assetLedger assets.Ledger, agents persistence.AgentRepository, publisher eventbus.EventPublisher, logger *slog.Logger) (*Ledger, error) {
	if cfg.SlashPercent == 0 {
		cfg.SlashPercent = DefaultSlashPercent
	}

	if cfg.SlashPercent > MaxSlashPercent {
		return nil, ErrSlashPercentTooHigh
	}

	return &Ledger{
		cfg:        cfg,
		assets:     assetLedger,
		agents:     agents,
		authorized: make(map[string]bool),
		publisher:  publisher,
		logger:     logger,
	}, nil
}

// AuthorizeCaller adds a settlement component to the allow-list. Governance only.
func (l *Ledger) AuthorizeCaller(caller, component string) error {
	if caller != l.cfg.Governance {
		return ErrNotGovernance
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.authorized[component] = true

	return nil
}

// RevokeCaller removes a settlement component from the allow-list. Governance only.
func (l *Ledger) RevokeCaller(caller, component string) error {
	if caller != l.cfg.Governance {
		return ErrNotGovernance
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.authorized, component)

	return nil
}

// Register records a new agent and pulls its stake into custody. The
// reputation score starts at the midpoint of its domain.
func (l *Ledger) Register(ctx context.Context, owner, name string, capabilities []string, stakeAmount uint64) (*models.Agent, error) {
	if name == "" {
		return nil, ErrNameRequired
	}

	normalized := models.NormalizeCapabilities(capabilities)
	if len(normalized) == 0 {
		return nil, ErrCapabilitiesRequired
	}

	if stakeAmount < l.cfg.MinimumStake {
		return nil, ErrStakeBelowMinimum
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.assets.TransferIn(ctx, owner, stakeAmount); err != nil {
		return nil, fmt.Errorf("failed to pull stake into custody: %w", err)
	}

	now := time.Now().UTC()
	agent := &models.Agent{
		ID:           uuid.NewString(),
		Owner:        owner,
		Name:         name,
		Capabilities: normalized,
		Staked:       stakeAmount,
		Reputation:   models.ReputationInitial,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := l.agents.Save(ctx, agent); err != nil {
		// Undo the escrow pull so a failed registration never strands stake.
		if refundErr := l.assets.TransferOut(ctx, owner, stakeAmount); refundErr != nil {
			l.logger.ErrorContext(ctx, "failed to refund stake after registration failure",
				"owner", owner, "amount", stakeAmount, "error", refundErr)
		}

		return nil, fmt.Errorf("failed to save agent: %w", err)
	}

	l.publish(ctx, agent.ID, events.AgentRegistered{
		BaseEvent: l.baseEvent(events.AgentRegisteredEvent),
		AgentID:   agent.ID,
		Owner:     agent.Owner,
		Staked:    agent.Staked,
	})

	return agent, nil
}

// AddStake pulls additional stake from the owner into custody.
func (l *Ledger) AddStake(ctx context.Context, caller, agentID string, amount uint64) (*models.Agent, error) {
	if amount == 0 {
		return nil, ErrZeroAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	agent, err := l.ownedAgent(ctx, caller, agentID)
	if err != nil {
		return nil, err
	}

	staked, err := assets.CheckedAdd(agent.Staked, amount)
	if err != nil {
		return nil, l.invariant(ctx, "AddStake", agentID, err)
	}

	if err := l.assets.TransferIn(ctx, agent.Owner, amount); err != nil {
		return nil, fmt.Errorf("failed to pull stake into custody: %w", err)
	}

	agent.Staked = staked
	agent.UpdatedAt = time.Now().UTC()

	if err := l.agents.Save(ctx, agent); err != nil {
		if refundErr := l.assets.TransferOut(ctx, agent.Owner, amount); refundErr != nil {
			l.logger.ErrorContext(ctx, "failed to refund stake after save failure",
				"agent_id", agentID, "amount", amount, "error", refundErr)
		}

		return nil, fmt.Errorf("failed to save agent: %w", err)
	}

	return agent, nil
}

// WithdrawStake returns stake from custody to the owner. While the agent is
// active the remainder must stay at or above the minimum.
func (l *Ledger) WithdrawStake(ctx context.Context, caller, agentID string, amount uint64) (*models.Agent, error) {
	if amount == 0 {
		return nil, ErrZeroAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	agent, err := l.ownedAgent(ctx, caller, agentID)
	if err != nil {
		return nil, err
	}

	if amount > agent.Staked {
		return nil, ErrStakeBelowMinimum
	}

	remaining := agent.Staked - amount
	if agent.Active && remaining < l.cfg.MinimumStake {
		return nil, ErrStakeBelowMinimum
	}

	if err := l.assets.TransferOut(ctx, agent.Owner, amount); err != nil {
		return nil, fmt.Errorf("failed to release stake from custody: %w", err)
	}

	agent.Staked = remaining
	agent.UpdatedAt = time.Now().UTC()

	if err := l.agents.Save(ctx, agent); err != nil {
		// Pull the released stake back so the stored stake and custody agree.
		if undoErr := l.assets.TransferIn(ctx, agent.Owner, amount); undoErr != nil {
			l.logger.ErrorContext(ctx, "failed to re-escrow stake after save failure",
				"agent_id", agentID, "amount", amount, "error", undoErr)
		}

		return nil, fmt.Errorf("failed to save agent: %w", err)
	}

	return agent, nil
}

// Deactivate soft-deletes an agent. Owner only. The stake stays in custody
// until withdrawn.
func (l *Ledger) Deactivate(ctx context.Context, caller, agentID string) (*models.Agent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	agent, err := l.ownedAgent(ctx, caller, agentID)
	if err != nil {
		return nil, err
	}

	if !agent.Active {
		return nil, ErrAgentInactive
	}

	agent.Active = false
	agent.UpdatedAt = time.Now().UTC()

	if err := l.agents.Save(ctx, agent); err != nil {
		return nil, fmt.Errorf("failed to save agent: %w", err)
	}

	return agent, nil
}

// Reactivate re-enables a deactivated agent. Fails while stake is below the
// minimum.
func (l *Ledger) Reactivate(ctx context.Context, caller, agentID string) (*models.Agent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	agent, err := l.ownedAgent(ctx, caller, agentID)
	if err != nil {
		return nil, err
	}

	if agent.Active {
		return nil, ErrAgentAlreadyActive
	}

	if agent.Staked < l.cfg.MinimumStake {
		return nil, ErrStakeBelowMinimum
	}

	agent.Active = true
	agent.UpdatedAt = time.Now().UTC()

	if err := l.agents.Save(ctx, agent); err != nil {
		return nil, fmt.Errorf("failed to save agent: %w", err)
	}

	return agent, nil
}

// RecordOutcome adjusts counters, earnings and reputation after a settled
// step. Authorized settlement callers only. Payment itself is the settlement
// engine's business; the trust ledger only keeps score.
func (l *Ledger) RecordOutcome(ctx context.Context, caller, agentID string, success bool, earned uint64) (*models.Agent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.authorized[caller] {
		return nil, ErrNotAuthorized
	}

	agent, err := l.agents.GetByID(ctx, agentID)
	if err != nil {
		return nil, err
	}

	if success {
		total, err := assets.CheckedAdd(agent.TotalEarned, earned)
		if err != nil {
			return nil, l.invariant(ctx, "RecordOutcome", agentID, err)
		}

		agent.Completed++
		agent.TotalEarned = total
		agent.Reputation = models.ClampReputation(agent.Reputation + ReputationRewardStep)
	} else {
		agent.Failed++
		agent.Reputation = models.ClampReputation(agent.Reputation - ReputationPenaltyStep)
	}

	agent.UpdatedAt = time.Now().UTC()

	if err := l.agents.Save(ctx, agent); err != nil {
		return nil, fmt.Errorf("failed to save agent: %w", err)
	}

	l.publish(ctx, agent.ID, events.OutcomeRecorded{
		BaseEvent:  l.baseEvent(events.OutcomeRecordedEvent),
		AgentID:    agent.ID,
		Success:    success,
		Earned:     earned,
		Reputation: agent.Reputation,
	})

	return agent, nil
}

// Slash removes a fixed percentage of current stake to the treasury and
// applies the reputation penalty. Reserved for provable misbehavior; a mere
// failed step goes through RecordOutcome instead. Auto-deactivates the agent
// when the remaining stake falls under the minimum.
func (l *Ledger) Slash(ctx context.Context, caller, agentID, reason string) (*models.Agent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.authorized[caller] {
		return nil, ErrNotAuthorized
	}

	agent, err := l.agents.GetByID(ctx, agentID)
	if err != nil {
		return nil, err
	}

	slashAmount := agent.Staked * l.cfg.SlashPercent / 100

	if slashAmount > 0 {
		if err := l.assets.TransferOut(ctx, l.cfg.Treasury, slashAmount); err != nil {
			return nil, fmt.Errorf("failed to move slashed stake to treasury: %w", err)
		}

		agent.Staked -= slashAmount
	}

	agent.Reputation = models.ClampReputation(agent.Reputation - SlashReputationPenalty)

	deactivated := false
	if agent.Active && agent.Staked < l.cfg.MinimumStake {
		agent.Active = false
		deactivated = true
	}

	agent.UpdatedAt = time.Now().UTC()

	if err := l.agents.Save(ctx, agent); err != nil {
		// Pull the slashed amount back from the treasury so custody still
		// backs the stored stake.
		if slashAmount > 0 {
			if undoErr := l.assets.TransferIn(ctx, l.cfg.Treasury, slashAmount); undoErr != nil {
				l.logger.ErrorContext(ctx, "failed to return slashed stake after save failure",
					"agent_id", agentID, "amount", slashAmount, "error", undoErr)
			}
		}

		return nil, fmt.Errorf("failed to save agent: %w", err)
	}

	l.logger.WarnContext(ctx, "agent slashed",
		"agent_id", agent.ID, "amount", slashAmount, "reason", reason, "deactivated", deactivated)

	l.publish(ctx, agent.ID, events.AgentSlashed{
		BaseEvent:   l.baseEvent(events.AgentSlashedEvent),
		AgentID:     agent.ID,
		Amount:      slashAmount,
		Reason:      reason,
		Deactivated: deactivated,
	})

	return agent, nil
}

// Agent returns the agent record by id.
func (l *Ledger) Agent(ctx context.Context, agentID string) (*models.Agent, error) {
	return l.agents.GetByID(ctx, agentID)
}

// AgentsByCapability returns agents declaring the given capability tag.
func (l *Ledger) AgentsByCapability(ctx context.Context, capability string) ([]*models.Agent, error) {
	return l.agents.GetByCapability(ctx, capability)
}

// ownedAgent loads an agent and checks the caller is its recorded owner.
// Callers hold l.mu.
func (l *Ledger) ownedAgent(ctx context.Context, caller, agentID string) (*models.Agent, error) {
	agent, err := l.agents.GetByID(ctx, agentID)
	if err != nil {
		return nil, err
	}

	if agent.Owner != caller {
		return nil, ErrNotOwner
	}

	return agent, nil
}

func (l *Ledger) invariant(ctx context.Context, op, agentID string, err error) error {
	l.logger.ErrorContext(ctx, "trust ledger invariant violation",
		"op", op, "agent_id", agentID, "error", err)

	return fmt.Errorf("%w: %s: %w", ErrInvariantViolation, op, err)
}

func (l *Ledger) baseEvent(eventType events.EventType) events.BaseEvent {
	return events.BaseEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
	}
}

func (l *Ledger) publish(ctx context.Context, key string, event eventbus.Event) {
	if l.publisher == nil {
		return
	}

	if err := l.publisher.Publish(ctx, key, event); err != nil {
		l.logger.ErrorContext(ctx, "failed to publish trust event",
			"event_type", event.GetType(), "error", err)
	}
}

// Package recommender picks a mitigation action with a tabular Q-learning
// agent trained on a small simulated environment.
//
// An Agent is not safe for concurrent use. Build one per request.
package recommender

import (
	"math/rand"
	"time"

	"github.com/synapseshield/shield/internal/domain"
)

// Learning constants.
const (
	Alpha           = 0.2 // learning rate
	Gamma           = 0.9 // discount factor
	Epsilon         = 0.1 // exploration rate
	DefaultEpisodes = 200
)

const (
	numStates  = 3
	numActions = 4
)

// Agent is an ε-greedy Q-learning agent over domain.States × domain.Actions.
// Its Q-table starts at zero.
type Agent struct {
	q        [numStates][numActions]float64
	epsilon  float64
	episodes int
	rng      *rand.Rand
}

// Option configures an Agent.
type Option func(*Agent)

// WithEpsilon overrides the exploration rate. 0 makes action choice greedy
// and deterministic.
func WithEpsilon(eps float64) Option {
	return func(a *Agent) { a.epsilon = eps }
}

// WithSeed seeds the agent's random source.
func WithSeed(seed int64) Option {
	return func(a *Agent) { a.rng = rand.New(rand.NewSource(seed)) }
}

// WithEpisodes sets how many simulated episodes Recommend trains for.
func WithEpisodes(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.episodes = n
		}
	}
}

// New creates an agent with a zeroed Q-table.
func New(opts ...Option) *Agent {
	a := &Agent{
		epsilon:  Epsilon,
		episodes: DefaultEpisodes,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.rng == nil {
		a.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return a
}

// Q returns the current estimate for (s, a).
func (a *Agent) Q(s domain.State, act domain.Action) float64 {
	return a.q[s][act]
}

// BestAction returns the highest-valued action for s. Ties go to the action
// that comes first in domain.Actions.
func (a *Agent) BestAction(s domain.State) domain.Action {
	best := domain.Actions[0]
	for _, act := range domain.Actions[1:] {
		if a.q[s][act] > a.q[s][best] {
			best = act
		}
	}
	return best
}

func (a *Agent) maxQ(s domain.State) float64 {
	return a.q[s][a.BestAction(s)]
}

// ChooseAction explores uniformly with probability ε and otherwise exploits.
func (a *Agent) ChooseAction(s domain.State) domain.Action {
	if a.rng.Float64() < a.epsilon {
		return domain.Actions[a.rng.Intn(numActions)]
	}
	return a.BestAction(s)
}

// Learn applies the Q-learning update
// Q(s,a) += α·(r + γ·max Q(s',·) − Q(s,a)).
func (a *Agent) Learn(s domain.State, act domain.Action, reward float64, next domain.State) {
	target := reward + Gamma*a.maxQ(next)
	a.q[s][act] += Alpha * (target - a.q[s][act])
}

// Reward pays 1 for isolating a device in the AnomalyDetected state.
func Reward(s domain.State, act domain.Action) float64 {
	if s == domain.StateAnomalyDetected && act == domain.ActionIsolateDevice {
		return 1
	}
	return 0
}

// TrainSim runs episodes of one-step simulation: uniform random state,
// ε-greedy action, Reward, uniform random next state.
func (a *Agent) TrainSim(episodes int) {
	for i := 0; i < episodes; i++ {
		s := domain.States[a.rng.Intn(numStates)]
		act := a.ChooseAction(s)
		next := domain.States[a.rng.Intn(numStates)]
		a.Learn(s, act, Reward(s, act), next)
	}
}

// Snapshot returns the Q-table keyed by state name, then action name.
func (a *Agent) Snapshot() map[string]map[string]float64 {
	out := make(map[string]map[string]float64, numStates)
	for _, s := range domain.States {
		row := make(map[string]float64, numActions)
		for _, act := range domain.Actions {
			row[act.String()] = a.q[s][act]
		}
		out[s.String()] = row
	}
	return out
}

// Recommend trains the agent for its configured episodes, then returns the
// best action for AnomalyDetected and the IDs of the anomalous rows.
func (a *Agent) Recommend(rows []domain.ScoredRow) domain.Recommendation {
	a.TrainSim(a.episodes)

	risky := []string{}
	for _, r := range rows {
		if r.IsAnomaly {
			risky = append(risky, r.ID)
		}
	}
	return domain.Recommendation{
		HighRisk: risky,
		Action:   a.BestAction(domain.StateAnomalyDetected),
		QTable:   a.Snapshot(),
	}
}

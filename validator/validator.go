package validator

import (
	"fmt"
	"sync"
	"time"

	"github.com/luhuimao/morgan/accounts"
	"github.com/luhuimao/morgan/bankforks"
	"github.com/luhuimao/morgan/epoch"
	"github.com/luhuimao/morgan/leaderschedule"
	"github.com/luhuimao/morgan/ledger"
	"github.com/luhuimao/morgan/locktower"
	"github.com/luhuimao/morgan/log"
	"github.com/luhuimao/morgan/poh"
	"github.com/luhuimao/morgan/replay"
	"github.com/luhuimao/morgan/stakes"
	"github.com/luhuimao/morgan/types"
)

// TickDuration is the target interval between PoH ticks. The real cadence is
// a network-wide constant tuned for hardware throughput; this value matches
// the spec's example target_tick_duration order of magnitude.
const TickDuration = 6 * time.Millisecond

// Validator is the top-level process that manages the ledger, bank-forks
// DAG, PoH recorder, replay engine, and locktower for one node, and drives
// them forward on a background tick/replay loop. Observability surfaces
// (RPC, metrics, blockstream) are collaborators, §6: they are expected to
// read state through the same accessors replay itself uses, not through
// this type.
type Validator struct {
	config *Config

	store    ledger.Store
	forks    *bankforks.BankForks
	recorder *poh.Recorder
	engine   *replay.Engine
	tower    *locktower.Locktower
	schedule *epoch.Schedule

	mu        sync.Mutex
	schedules map[types.Epoch]*leaderschedule.LeaderSchedule

	running bool
	exit    chan struct{}
	wg      sync.WaitGroup

	log *log.Logger
}

// New constructs a Validator from config: it materializes the genesis bank,
// the bank-forks DAG rooted on it, the PoH recorder seeded at the genesis
// hash, and a replay engine wired to this node's identity and leader-schedule
// resolver. It does not start any background threads.
func New(config *Config) (*Validator, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validator: %w", err)
	}

	ledgerStore := ledger.NewMemStore()
	acctStore := accounts.NewStore()
	genesisBank := config.Genesis.ToBank(acctStore)
	forks := bankforks.New(genesisBank)
	tower := locktower.New(genesisBank.Slot())
	recorder := poh.NewRecorder(genesisBank.Hash(), genesisBank.TickHeight(), ledgerStore)
	epochSchedule := epoch.NewSchedule(config.SlotsPerEpoch, config.StakersSlotOffset, config.EpochWarmup)

	v := &Validator{
		config:    config,
		store:     ledgerStore,
		forks:     forks,
		recorder:  recorder,
		tower:     tower,
		schedule:  epochSchedule,
		schedules: make(map[types.Epoch]*leaderschedule.LeaderSchedule),
		exit:      make(chan struct{}),
		log:       log.Default().Module("validator"),
	}
	v.engine = replay.New(forks, ledgerStore, epochSchedule, tower, recorder, config.NodeIdentity, v.leaderOf)
	return v, nil
}

// leaderOf resolves slot's assigned leader from a per-epoch schedule cache,
// computing and caching the schedule the first time a slot in a given epoch
// is asked for, seeded from the current root bank's stakes (mirroring
// §4.6: the schedule for an epoch is fixed once its stakers-epoch boundary
// bank is rooted).
func (v *Validator) leaderOf(slot types.Slot) types.Pubkey {
	e, idx := v.schedule.GetEpochAndSlotIndex(slot)

	v.mu.Lock()
	ls, ok := v.schedules[e]
	v.mu.Unlock()
	if ok {
		return ls.LeaderAt(idx)
	}

	root := v.forks.RootBank()
	st := &stakes.Stakes{VoteAccounts: root.VoteAccounts()}
	seed := root.Hash()
	built, err := leaderschedule.New(e, seed, st, v.schedule.GetSlotsInEpoch(e))
	if err != nil {
		v.log.Warn("leader schedule unavailable, defaulting to root's own leader", "epoch", e, "error", err)
		leader, _ := root.Collector()
		return leader
	}

	v.mu.Lock()
	v.schedules[e] = built
	v.mu.Unlock()
	return built.LeaderAt(idx)
}

// Start launches the validator's background tick/replay loop.
func (v *Validator) Start() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.running {
		return fmt.Errorf("validator: already running")
	}
	v.running = true
	v.log.Info("starting validator", "identity", v.config.NodeIdentity, "voting_disabled", v.config.VotingDisabled)

	v.wg.Add(1)
	go v.run()
	return nil
}

// run is the single background loop: it ticks PoH, discovers and replays
// new bank forks, and (unless voting is disabled) hands votable banks to
// locktower, same division of labor as §4.7/§4.8 split across threads in
// the original design but serialized here onto one loop for simplicity.
func (v *Validator) run() {
	defer v.wg.Done()
	defer v.recoverAndExit()

	ticker := time.NewTicker(TickDuration)
	defer ticker.Stop()

	for {
		select {
		case <-v.exit:
			return
		case <-ticker.C:
			v.tick()
		}
	}
}

func (v *Validator) recoverAndExit() {
	if r := recover(); r != nil {
		v.log.Error("validator thread panicked, signaling exit", "panic", r)
		v.mu.Lock()
		if v.running {
			v.running = false
			close(v.exit)
		}
		v.mu.Unlock()
	}
}

func (v *Validator) tick() {
	if wb := v.recorder.WorkingBank(); wb != nil {
		if _, err := v.recorder.Tick(); err != nil {
			v.log.Warn("poh tick failed", "slot", wb.Slot(), "error", err)
		}
	}

	v.engine.GenerateNewBankForks()
	v.engine.ReplayActiveBanks()

	if !v.config.VotingDisabled {
		candidates := v.engine.GenerateVotableBanks()
		if len(candidates) > 0 {
			if _, err := v.engine.HandleVotableBank(candidates); err != nil {
				v.log.Warn("handle votable bank failed", "error", err)
			}
		}
	}

	root := v.forks.RootBank()
	tip := root
	for _, b := range v.forks.Frozen() {
		if b.Slot() > tip.Slot() {
			tip = b
		}
	}
	v.engine.MaybeStartLeaderSlot(tip, tip.Slot()+1)
}

// Exit signals the validator's background thread to stop. It does not
// block; call Join to wait for the thread to actually finish.
func (v *Validator) Exit() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.running {
		return
	}
	v.running = false
	close(v.exit)
}

// Join blocks until the background thread has fully stopped.
func (v *Validator) Join() {
	v.wg.Wait()
}

// Running reports whether the validator's background loop is active.
func (v *Validator) Running() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.running
}

// BankForks returns the validator's bank-forks DAG, for collaborators
// (RPC, metrics) that read state through the same accessors replay uses.
func (v *Validator) BankForks() *bankforks.BankForks { return v.forks }

// Locktower returns the validator's vote-lockout tower.
func (v *Validator) Locktower() *locktower.Locktower { return v.tower }

// Ledger returns the validator's ledger store.
func (v *Validator) Ledger() ledger.Store { return v.store }

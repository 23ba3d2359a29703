package engine

import (
	"errors"
	"fmt"
	randv2 "math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"

	"github.com/halcyonkv/halcyon/cluster"
	"github.com/halcyonkv/halcyon/expire"
	"github.com/halcyonkv/halcyon/keyspace"
	"github.com/halcyonkv/halcyon/persist"
	"github.com/halcyonkv/halcyon/protocol"
	"github.com/halcyonkv/halcyon/repl"
	"github.com/halcyonkv/halcyon/script"
	"github.com/halcyonkv/halcyon/txn"
)

// Role is the replication role of this node
type Role int32

const (
	RolePrimary Role = iota
	RoleReplica
)

var (
	// ErrReadOnly refuses writes on a replica
	ErrReadOnly = errors.New("READONLY You can't write against a read only replica.")

	// ErrMasterDown refuses stale reads on a disconnected replica
	ErrMasterDown = errors.New("MASTERDOWN Link with MASTER is down and replica-serve-stale-data is set to 'no'.")

	// ErrNoReplicas refuses writes under the minimum-replicas fence
	ErrNoReplicas = errors.New("NOREPLICAS Not enough good replicas to write.")

	// ErrOOM refuses writes over the memory budget
	ErrOOM = errors.New("OOM command not allowed when used memory > 'maxmemory'.")
)

var (
	commandsTotal      = metrics.NewCounter("halcyon_commands_total")
	commandErrorsTotal = metrics.NewCounter("halcyon_command_errors_total")
)

// Executor runs commands against the keyspace one at a time and owns the
// propagation of their effects
type Executor struct {
	mu sync.Mutex

	store   *keyspace.Store
	prop    *repl.Propagator
	sweeper *expire.Manager
	scripts *script.Engine

	slots     *cluster.SlotTable
	members   *cluster.Membership
	transport cluster.Transport
	handoff   cluster.Handoff

	aof          *persist.AppendLog
	snapshotPath string
	aofPath      string

	rng *randv2.Rand

	role        atomic.Int32
	staleLink   atomic.Bool
	minReplicas int
	maxMemory   int64
	memUsage    func() int64

	startedAt time.Time
	log       Logger
}

// ExecutorOption configures an Executor
type ExecutorOption func(*Executor)

// WithPropagator replaces the default replication propagator
func WithPropagator(p *repl.Propagator) ExecutorOption {
	return func(x *Executor) { x.prop = p }
}

// WithSweeper attaches the active-expiry manager DEBUG SET-ACTIVE-EXPIRE
// toggles
func WithSweeper(m *expire.Manager) ExecutorOption {
	return func(x *Executor) { x.sweeper = m }
}

// WithSlotTable enables cluster slot routing
func WithSlotTable(t *cluster.SlotTable) ExecutorOption {
	return func(x *Executor) { x.slots = t }
}

// WithMembership attaches the gossip membership view CLUSTER MEET and
// CLUSTER NODES operate on
func WithMembership(m *cluster.Membership, t cluster.Transport) ExecutorOption {
	return func(x *Executor) {
		x.members = m
		x.transport = t
	}
}

// WithHandoff sets the carrier MIGRATE delivers keys through
func WithHandoff(h cluster.Handoff) ExecutorOption {
	return func(x *Executor) { x.handoff = h }
}

// WithAppendLog attaches an open append log; it is fed through the
// propagator like any replica sink
func WithAppendLog(l *persist.AppendLog, path string) ExecutorOption {
	return func(x *Executor) {
		x.aof = l
		x.aofPath = path
	}
}

// WithSnapshotPath sets where SAVE and BGSAVE write
func WithSnapshotPath(path string) ExecutorOption {
	return func(x *Executor) { x.snapshotPath = path }
}

// WithMinReplicas sets the minimum attached replica sinks required to
// accept writes
func WithMinReplicas(n int) ExecutorOption {
	return func(x *Executor) { x.minReplicas = n }
}

// WithMaxMemory sets the write budget in bytes; usage reports the current
// consumption
func WithMaxMemory(limit int64, usage func() int64) ExecutorOption {
	return func(x *Executor) {
		x.maxMemory = limit
		x.memUsage = usage
	}
}

// WithRandSeed makes the randomized commands deterministic for tests
func WithRandSeed(seed uint64) ExecutorOption {
	return func(x *Executor) { x.rng = randv2.New(randv2.NewPCG(seed, seed)) }
}

// WithLogger sets the executor's logger
func WithLogger(l Logger) ExecutorOption {
	return func(x *Executor) { x.log = l }
}

// NewExecutor creates an executor over the store. The zero configuration
// is a standalone primary with no fences.
func NewExecutor(store *keyspace.Store, opts ...ExecutorOption) *Executor {
	x := &Executor{
		store:     store,
		scripts:   script.NewEngine(),
		rng:       randv2.New(randv2.NewPCG(randv2.Uint64(), randv2.Uint64())),
		startedAt: time.Now(),
		log:       &defaultLogger{},
	}
	for _, opt := range opts {
		opt(x)
	}
	if x.prop == nil {
		x.prop = repl.NewPropagator()
	}
	if x.aof != nil {
		x.prop.AttachSink(x.aof)
	}
	return x
}

// Store returns the underlying keyspace
func (x *Executor) Store() *keyspace.Store {
	return x.store
}

// Propagator returns the replication propagator
func (x *Executor) Propagator() *repl.Propagator {
	return x.prop
}

// Scripts returns the script engine
func (x *Executor) Scripts() *script.Engine {
	return x.scripts
}

// Role returns the node's replication role
func (x *Executor) Role() Role {
	return Role(x.role.Load())
}

// SetRole switches the replication role. Promotion to primary re-enables
// self-expiry; demotion hands expiry authority to the upstream primary.
func (x *Executor) SetRole(r Role) {
	x.role.Store(int32(r))
	x.store.SetSelfExpire(r == RolePrimary)
	if r == RolePrimary {
		x.staleLink.Store(false)
	}
}

// SetStaleLink marks the upstream link state; a stale replica refuses
// reads
func (x *Executor) SetStaleLink(stale bool) {
	x.staleLink.Store(stale)
}

// OnExpired propagates the removal of a logically dead key. Wire this as
// the store's expire hook; it is the only source of expiry DELs.
func (x *Executor) OnExpired(db int, key string) {
	x.prop.Feed(db, repl.DelRecord(key))
}

// effect is one canonical record captured during handler execution
type effect struct {
	db  int
	rec protocol.Command
}

// invocation is the execution context of one command (or one batch: EXEC
// and EVAL accumulate the effects of their inner commands here)
type invocation struct {
	sess     *Session
	cmd      protocol.Command
	inScript bool
	effects  []effect
}

func (inv *invocation) arg(i int) []byte {
	return inv.cmd.Args[i]
}

func (inv *invocation) argStr(i int) string {
	return string(inv.cmd.Args[i])
}

func (inv *invocation) argc() int {
	return len(inv.cmd.Args)
}

// emit records one canonical effect for propagation
func (inv *invocation) emit(rec protocol.Command) {
	inv.effects = append(inv.effects, effect{db: inv.sess.db, rec: rec})
}

// verbatim propagates the command exactly as issued
func (inv *invocation) verbatim() {
	inv.emit(protocol.NewCommandBytes(inv.cmd.Name, inv.cmd.Args...))
}

// Execute runs one command through the full pipeline and returns its
// reply. Calls are serialized; the keyspace observes one command at a
// time.
func (x *Executor) Execute(sess *Session, cmd protocol.Command) protocol.Value {
	commandsTotal.Inc()

	name := strings.ToUpper(cmd.Name)
	cmd.Name = name

	// SCRIPT KILL must get in while a script holds the executor
	if x.scripts.Busy() {
		if name == "SCRIPT" && len(cmd.Args) > 0 && upperArg(cmd.Args[0]) == "KILL" {
			if err := x.scripts.Kill(); err != nil {
				return errReply(err)
			}
			return protocol.OK
		}
		commandErrorsTotal.Inc()
		return errReply(script.ErrBusy)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	spec := lookupCommand(name)
	if spec == nil {
		if sess.tx.Open() {
			sess.tx.Poison()
		}
		commandErrorsTotal.Inc()
		return unknownCommand(name)
	}
	if !spec.arityOK(len(cmd.Args) + 1) {
		if sess.tx.Open() {
			sess.tx.Poison()
		}
		commandErrorsTotal.Inc()
		return wrongArity(name)
	}

	if sess.tx.Open() && spec.flags&flagImmediate == 0 {
		sess.tx.Enqueue(cmd)
		return protocol.SimpleString("QUEUED")
	}

	inv := &invocation{sess: sess, cmd: cmd}

	if err := x.fence(spec); err != nil {
		commandErrorsTotal.Inc()
		return errReply(err)
	}

	reply := x.run(spec, inv)
	if reply.IsError() {
		commandErrorsTotal.Inc()
	}

	x.feedEffects(inv)

	if name != "ASKING" {
		sess.asking = false
	}
	return reply
}

// run routes and executes one command, accumulating effects on inv. The
// fence is the caller's concern: it runs once per batch, not per inner
// command.
func (x *Executor) run(spec *command, inv *invocation) protocol.Value {
	if inv.inScript && spec.flags&flagNoScript != 0 {
		return protocol.Err("ERR This Redis command is not allowed from script: " + strings.ToLower(spec.name))
	}
	if err := x.route(spec, inv); err != nil {
		return errReply(err)
	}
	return spec.handler(x, inv)
}

// dispatch resolves and runs an inner command on behalf of EXEC or a
// script
func (x *Executor) dispatch(inv *invocation, cmd protocol.Command) protocol.Value {
	cmd.Name = strings.ToUpper(cmd.Name)
	spec := lookupCommand(cmd.Name)
	if spec == nil {
		return unknownCommand(cmd.Name)
	}
	if !spec.arityOK(len(cmd.Args) + 1) {
		return wrongArity(cmd.Name)
	}
	inner := &invocation{sess: inv.sess, cmd: cmd, inScript: inv.inScript}
	reply := x.run(spec, inner)
	inv.effects = append(inv.effects, inner.effects...)
	return reply
}

// fence applies the once-per-batch admission checks for writes, and the
// stale-link check for every data command on a replica
func (x *Executor) fence(spec *command) error {
	if spec.flags&flagAdmin != 0 {
		return nil
	}
	if x.Role() == RoleReplica && spec.flags&flagWrite == 0 && x.staleLink.Load() {
		return ErrMasterDown
	}
	if spec.flags&flagWrite == 0 {
		return nil
	}
	return x.writeFence()
}

// writeFence is the admission check EXEC applies once per batch when the
// queue contains a write
func (x *Executor) writeFence() error {
	if x.Role() == RoleReplica {
		return ErrReadOnly
	}
	if x.minReplicas > 0 && x.prop.NumSinks() < x.minReplicas {
		return ErrNoReplicas
	}
	if x.maxMemory > 0 && x.memUsage != nil && x.memUsage() > x.maxMemory {
		return ErrOOM
	}
	return nil
}

// route applies cluster slot routing when a slot table is configured.
// Multi-key commands must land on one slot; the ASKING flag admits one
// request into an importing slot.
func (x *Executor) route(spec *command, inv *invocation) error {
	if x.slots == nil || spec.flags&flagAdmin != 0 {
		return nil
	}
	keys := spec.keys(inv.cmd.Args)
	if len(keys) == 0 {
		return nil
	}
	slot := cluster.KeySlot(keys[0])
	for _, k := range keys[1:] {
		if cluster.KeySlot(k) != slot {
			return cluster.ErrCrossSlot
		}
	}
	present := x.store.Exists(inv.sess.db, keys...) == int64(len(keys))
	return x.slots.Route(slot, present, inv.sess.asking)
}

// feedEffects hands the captured records to the propagator, split into
// contiguous same-database spans so every record lands under the right
// SELECT marker
func (x *Executor) feedEffects(inv *invocation) {
	if len(inv.effects) == 0 {
		return
	}
	i := 0
	for i < len(inv.effects) {
		j := i + 1
		for j < len(inv.effects) && inv.effects[j].db == inv.effects[i].db {
			j++
		}
		records := make([]protocol.Command, 0, j-i)
		for _, e := range inv.effects[i:j] {
			records = append(records, e.rec)
		}
		x.prop.Feed(inv.effects[i].db, records...)
		i = j
	}
	if x.aof != nil {
		if err := x.aof.Sync(); err != nil {
			x.log.Error("append log sync failed", Field{Key: "error", Value: err})
		}
	}
}

// nowMs returns the store clock, frozen inside scripts
func (x *Executor) nowMs() int64 {
	return x.store.Now()
}

// ApplyRecord installs one replicated record. Fences and routing do not
// apply: records arrive from the primary already admitted, and their
// effects are not re-propagated here.
func (x *Executor) ApplyRecord(db int, cmd protocol.Command) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	cmd.Name = strings.ToUpper(cmd.Name)
	spec := lookupCommand(cmd.Name)
	if spec == nil {
		return fmt.Errorf("unknown replicated command %q", cmd.Name)
	}
	sess := &Session{db: db, tx: txn.New()}
	inv := &invocation{sess: sess, cmd: cmd}
	if reply := spec.handler(x, inv); reply.IsError() {
		return errors.New(reply.ErrorMessage())
	}
	return nil
}

package phy

import (
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"

	"github.com/umts-sim/umts-sim/sim"
	"github.com/umts-sim/umts-sim/sim/channel"
	"github.com/umts-sim/umts-sim/sim/codetree"
	"github.com/umts-sim/umts-sim/sim/engine"
	"github.com/umts-sim/umts-sim/sim/metrics"
	"github.com/umts-sim/umts-sim/sim/mobility"
	"github.com/umts-sim/umts-sim/sim/packet"
)

// Upper is the layer above the physical layer.
type Upper interface {
	ReceiveFromPhy(p *packet.Packet)
}

// ResourceReporter supplies the packed free-code bitmap broadcast by the NodeB.
type ResourceReporter interface {
	ResourceBitmap() []byte
}

type rachKey struct {
	scrambling uint32
	signature  int
}

// rachSession is a reserved (scrambling code, signature) pair between the
// preamble and the end of the message part.
type rachSession struct {
	terminal   sim.NodeID
	collecting bool
	parts      []*packet.Packet
	expiry     *engine.Timer
}

// terminalRecord is the per-terminal radio registry entry.
type terminalRecord struct {
	id         sim.NodeID
	scrambling uint32
	dedicated  *channel.Dedicated
	queue      *packet.Queue
	alloc      allocation

	commonRx, dedicatedRx     float64 // last received power, dBm
	commonRate, dedicatedRate float64 // last received rate, bit/s
	transmitting              bool    // heard on the uplink during the current period
	commonSIR, sir            float64
	heard                     bool // dedicatedRx refreshed since the channel was bound
	measured                  bool // sir reflects the bound dedicated channel
	commonErr, dedErr         *ErrorCounter
}

// NodeB is the base-station physical layer.
type NodeB struct {
	id      sim.NodeID
	cfg     Config
	sched   engine.Scheduler
	mob     mobility.Model
	gain    float64
	rng     sim.RandSource
	metrics *metrics.Collector

	shared    *channel.Shared
	upper     Upper
	resources ResourceReporter

	order     []sim.NodeID
	terminals map[sim.NodeID]*terminalRecord
	common    *packet.Queue
	aich      []*packet.Packet
	rach      map[rachKey]*rachSession
	external  []float64 // other-cell interference samples, mW

	slot    int64
	tickers []*engine.Ticker
}

// NewNodeB creates the physical layer of station id. The channel and the upper
// layer are attached afterwards with SetChannel and Bind.
func NewNodeB(id sim.NodeID, cfg Config, s engine.Scheduler, mob mobility.Model, gain float64, rng sim.RandSource, m *metrics.Collector) *NodeB {
	if s == nil || mob == nil || rng == nil {
		panic("NewNodeB: scheduler, mobility and rng must not be nil")
	}
	if err := cfg.Validate(); err != nil {
		panic("NewNodeB: " + err.Error())
	}
	return &NodeB{
		id:        id,
		cfg:       cfg,
		sched:     s,
		mob:       mob,
		gain:      gain,
		rng:       rng,
		metrics:   m,
		terminals: make(map[sim.NodeID]*terminalRecord),
		common:    packet.NewQueue(cfg.QueueLimit),
		rach:      make(map[rachKey]*rachSession),
	}
}

// SetChannel attaches the station's common channel.
func (b *NodeB) SetChannel(c *channel.Shared) { b.shared = c }

// Channel returns the common channel.
func (b *NodeB) Channel() *channel.Shared { return b.shared }

// Bind sets the upper layer. It may be called once.
func (b *NodeB) Bind(u Upper) {
	if b.upper != nil {
		panic("NodeB.Bind: upper layer already bound")
	}
	b.upper = u
}

// SetResourceReporter sets the source of the broadcast free-code bitmap.
func (b *NodeB) SetResourceReporter(r ResourceReporter) { b.resources = r }

// Start arms the slot, access-indication, interference and uplink-error timers.
func (b *NodeB) Start() {
	if b.shared == nil || b.upper == nil {
		panic("NodeB.Start: channel and upper layer must be attached first")
	}
	b.tickers = append(b.tickers,
		engine.Every(b.sched, 0, b.cfg.SlotDuration, b.onSlot),
		engine.Every(b.sched, 0, b.cfg.AccessSlot(), b.onAccessSlot),
		engine.Every(b.sched, b.cfg.InterferencePeriod, b.cfg.InterferencePeriod, b.onInterference),
		engine.Every(b.sched, b.cfg.UplinkErrorPeriod, b.cfg.UplinkErrorPeriod, b.onUplinkError),
	)
}

// Stop halts all timers.
func (b *NodeB) Stop() {
	for _, t := range b.tickers {
		t.Stop()
	}
	b.tickers = nil
}

// ID implements channel.Endpoint.
func (b *NodeB) ID() sim.NodeID { return b.id }

// Position implements channel.Endpoint.
func (b *NodeB) Position(now sim.Time) r3.Vec { return b.mob.Position(now) }

// AntennaGain implements channel.Endpoint.
func (b *NodeB) AntennaGain() float64 { return b.gain }

// Register creates the registry entry of a terminal. Registering twice is a no-op.
func (b *NodeB) Register(ue sim.NodeID) {
	if _, ok := b.terminals[ue]; ok {
		return
	}
	b.terminals[ue] = &terminalRecord{
		id:          ue,
		scrambling:  ScramblingCode(ue),
		queue:       packet.NewQueue(b.cfg.QueueLimit),
		commonRx:    b.cfg.NoiseFloor,
		dedicatedRx: b.cfg.NoiseFloor,
		commonErr:   NewErrorCounter(b.rng),
		dedErr:      NewErrorCounter(b.rng),
	}
	b.order = append(b.order, ue)
}

// Registered reports whether ue has a registry entry.
func (b *NodeB) Registered(ue sim.NodeID) bool {
	_, ok := b.terminals[ue]
	return ok
}

// Terminals returns registered terminals in registration order.
func (b *NodeB) Terminals() []sim.NodeID {
	return append([]sim.NodeID(nil), b.order...)
}

// Deregister releases the registry entry of ue and its dedicated binding.
// Queued downlink data for the terminal is discarded.
func (b *NodeB) Deregister(ue sim.NodeID) {
	rec, ok := b.terminals[ue]
	if !ok {
		return
	}
	if rec.dedicated != nil {
		rec.dedicated.Unbind()
	}
	delete(b.terminals, ue)
	for i, id := range b.order {
		if id == ue {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	for k, s := range b.rach {
		if s.terminal == ue {
			s.expiry.Stop()
			delete(b.rach, k)
		}
	}
	b.common.RemoveIf(func(p *packet.Packet) bool { return p.Ctrl.Phy.Dst == ue && p.Ctrl.Common.Kind != packet.KindBroadcast })
}

// BindDedicated brings up the dedicated channel to ue, creating it on first use.
// Returns nil when ue is not reachable on the common channel.
func (b *NodeB) BindDedicated(ue sim.NodeID) *channel.Dedicated {
	rec, ok := b.terminals[ue]
	if !ok {
		return nil
	}
	if rec.dedicated == nil {
		t, ok := b.shared.Terminal(ue)
		if !ok {
			return nil
		}
		rec.dedicated = channel.NewDedicated(b.sched, b.shared.Loss(), b, t, b.cfg.UplinkPower, b.cfg.DownlinkPower)
		rec.heard, rec.measured = false, false
		rec.dedErr.SetBLER(0)
	}
	rec.dedicated.Bind()
	return rec.dedicated
}

// UnbindDedicated tears the dedicated channel to ue down and drops queued dedicated data.
func (b *NodeB) UnbindDedicated(ue sim.NodeID) {
	rec, ok := b.terminals[ue]
	if !ok || rec.dedicated == nil {
		return
	}
	rec.dedicated.Unbind()
	rec.dedicated = nil
	rec.queue.Drain()
	rec.alloc.set(nil)
}

// Dedicated reports whether a bound dedicated channel to ue exists.
func (b *NodeB) Dedicated(ue sim.NodeID) bool {
	rec, ok := b.terminals[ue]
	return ok && rec.dedicated != nil && rec.dedicated.Bound()
}

// SetAllocation sets the downlink codes held for ue.
func (b *NodeB) SetAllocation(ue sim.NodeID, codes []codetree.Code) {
	if rec, ok := b.terminals[ue]; ok {
		rec.alloc.set(codes)
	}
}

// Send queues p for transmission. DCH traffic goes to the terminal's dedicated
// queue when it has a bound channel; everything else goes to the common queue.
// Returns false when the target queue is full.
func (b *NodeB) Send(p *packet.Packet) bool {
	if p.Ctrl.Common.Channel == packet.DCH {
		if rec, ok := b.terminals[p.Ctrl.Phy.Dst]; ok && rec.dedicated != nil && rec.dedicated.Bound() {
			return rec.queue.Enqueue(p)
		}
		p.Ctrl.Common.Channel = packet.FACH
	}
	return b.common.Enqueue(p)
}

// LastRate returns the rate of the last dedicated frame sent to ue, bit/s.
func (b *NodeB) LastRate(ue sim.NodeID) float64 {
	if rec, ok := b.terminals[ue]; ok {
		return rec.alloc.rate
	}
	return 0
}

// ReceivedRate returns the rates of the last common and dedicated
// transmissions heard from ue, bit/s.
func (b *NodeB) ReceivedRate(ue sim.NodeID) (common, dedicated float64) {
	if rec, ok := b.terminals[ue]; ok {
		return rec.commonRate, rec.dedicatedRate
	}
	return 0, 0
}

// RecordInterference adds an other-cell interference sample in mW.
func (b *NodeB) RecordInterference(mw float64) {
	b.external = append(b.external, mw)
}

// TransmitPower returns the total transmit power of the station in dBm:
// common channels plus every bound dedicated channel.
func (b *NodeB) TransmitPower() float64 {
	mw := []float64{sim.DBmToMilliwatt(b.cfg.CommonPower)}
	for _, id := range b.order {
		if rec := b.terminals[id]; rec.dedicated != nil && rec.dedicated.Bound() {
			mw = append(mw, sim.DBmToMilliwatt(rec.dedicated.DownlinkPower()))
		}
	}
	return sim.MilliwattToDBm(floats.Sum(mw))
}

// UplinkSIR returns the last dedicated uplink SIR measured for ue.
func (b *NodeB) UplinkSIR(ue sim.NodeID) (float64, bool) {
	rec, ok := b.terminals[ue]
	if !ok {
		return 0, false
	}
	return rec.sir, true
}

// UplinkBLER returns the dedicated and common uplink error rates currently injected for ue.
func (b *NodeB) UplinkBLER(ue sim.NodeID) (dedicated, common float64) {
	rec, ok := b.terminals[ue]
	if !ok {
		return 0, 0
	}
	return rec.dedErr.BLER(), rec.commonErr.BLER()
}

// QueuedFor returns the number of dedicated PDUs waiting for ue.
func (b *NodeB) QueuedFor(ue sim.NodeID) int {
	if rec, ok := b.terminals[ue]; ok {
		return rec.queue.Len()
	}
	return 0
}

func (b *NodeB) onSlot(now sim.Time) {
	b.slot++
	for _, id := range b.order {
		rec := b.terminals[id]
		if rec.dedicated == nil || !rec.dedicated.Bound() {
			continue
		}
		if f := rec.alloc.buildFrame(b.cfg, rec.queue, b.id, id); f != nil {
			rec.dedicated.SendDown(f)
			b.metrics.IncFrame(sim.NodeB.String(), packet.DCH.String())
		}
	}

	if b.slot%int64(b.cfg.BroadcastPeriodSlots) == 0 && b.resources != nil {
		bc := packet.New(b.resources.ResourceBitmap(), packet.Common{
			MsgType: packet.MsgResourceBroadcast,
			Channel: packet.BCH,
			Kind:    packet.KindBroadcast,
			Src:     sim.AddrOf(b.id),
		})
		bc.Ctrl.Phy.Src = b.id
		bc.Ctrl.Phy.TxPower = b.cfg.CommonPower
		bc.Ctrl.Phy.SF = b.cfg.CommonSF
		if b.shared.SendDown(bc) > 0 {
			b.metrics.IncFrame(sim.NodeB.String(), packet.BCH.String())
		}
	}

	for b.common.Len() > 0 {
		p := b.common.Dequeue()
		p.Ctrl.Phy.Src = b.id
		p.Ctrl.Phy.TxPower = b.cfg.CommonPower
		p.Ctrl.Phy.SF = b.cfg.CommonSF
		if b.shared.SendDown(p) > 0 {
			b.metrics.IncFrame(sim.NodeB.String(), p.Ctrl.Common.Channel.String())
		}
	}
}

func (b *NodeB) onAccessSlot(now sim.Time) {
	pending := b.aich
	b.aich = nil
	for _, p := range pending {
		b.shared.SendDown(p)
		b.metrics.IncFrame(sim.NodeB.String(), packet.AICH.String())
	}
}

// onInterference measures every terminal's uplink SIR against thermal noise,
// averaged other-cell samples and the power of the other transmitting
// terminals, then sends a power-control command on each dedicated channel.
func (b *NodeB) onInterference(now sim.Time) {
	ext := 0.0
	if len(b.external) > 0 {
		ext = stat.Mean(b.external, nil)
	}
	b.external = b.external[:0]
	noise := sim.DBmToMilliwatt(b.cfg.NoiseFloor)

	rx := make([]float64, 0, len(b.order))
	for _, id := range b.order {
		if rec := b.terminals[id]; rec.transmitting {
			rx = append(rx, sim.DBmToMilliwatt(rec.received()))
		}
	}
	total := floats.Sum(rx)

	for _, id := range b.order {
		rec := b.terminals[id]
		own := 0.0
		if rec.transmitting {
			own = sim.DBmToMilliwatt(rec.received())
		}
		interference := noise + ext + total - own
		rec.sir = SIR(rec.dedicatedRx, interference, rec.alloc.sf(b.cfg))
		rec.commonSIR = SIR(rec.commonRx, interference, b.cfg.CommonSF)
		rec.transmitting = false
		bound := rec.dedicated != nil && rec.dedicated.Bound()
		rec.measured = rec.heard && bound

		if !bound {
			continue
		}
		cmd := packet.New(nil, packet.Common{MsgType: packet.MsgPowerControl, Channel: packet.DCH, Kind: packet.KindDedicated})
		cmd.Ctrl.Phy.Src, cmd.Ctrl.Phy.Dst = b.id, id
		cmd.Ctrl.Phy.TPC = tpc(rec.sir, b.cfg.TargetSIR)
		rec.dedicated.SendDown(cmd)
		logrus.Debugf("[tick %07d] NodeB %d: uplink SIR of %d = %.1f dB, TPC %+d", now.Micros(), b.id, id, rec.sir, cmd.Ctrl.Phy.TPC)
	}
}

func (b *NodeB) onUplinkError(now sim.Time) {
	for _, id := range b.order {
		rec := b.terminals[id]
		if rec.measured {
			rec.dedErr.SetBLER(b.cfg.sirToBLER(rec.sir))
		}
		rec.commonErr.SetBLER(b.cfg.sirToBLER(rec.commonSIR))
	}
}

func (r *terminalRecord) received() float64 {
	if r.dedicated != nil && r.dedicated.Bound() {
		return r.dedicatedRx
	}
	return r.commonRx
}

// ReceiveFromChannel implements channel.Receiver.
func (b *NodeB) ReceiveFromChannel(p *packet.Packet) {
	now := b.sched.Now()
	src := p.Ctrl.Phy.Src
	rec, ok := b.terminals[src]
	if !ok {
		if _, reachable := b.shared.Terminal(src); !reachable {
			return
		}
		// first radio contact
		b.Register(src)
		rec = b.terminals[src]
	}
	rec.transmitting = true

	switch p.Ctrl.Common.MsgType {
	case packet.MsgPreamble:
		rec.commonRx = p.Ctrl.Phy.RxPower
		b.onPreamble(now, rec, p)
	case packet.MsgPowerControl:
		rec.dedicatedRx = p.Ctrl.Phy.RxPower
		rec.heard = true
		if rec.dedicated == nil {
			return
		}
		step := float64(p.Ctrl.Phy.TPC) * b.cfg.PowerStep
		rec.dedicated.StepDownlinkPower(step)
		b.metrics.IncPowerStep("downlink", step > 0)
	default:
		if !isPayload(p) {
			return
		}
		if p.Ctrl.Common.Channel == packet.RACH {
			rec.commonRx = p.Ctrl.Phy.RxPower
			rec.commonRate = usedRate(b.cfg, p.Ctrl.Common.Size)
			b.onMessagePart(now, rec, p)
			return
		}
		rec.dedicatedRx = p.Ctrl.Phy.RxPower
		rec.heard = true
		rec.dedicatedRate = usedRate(b.cfg, p.Ctrl.Common.Size)
		b.deliver(rec.dedErr, "dedicated", p.Flatten())
	}
}

func (b *NodeB) onPreamble(now sim.Time, rec *terminalRecord, p *packet.Packet) {
	key := rachKey{p.Ctrl.Phy.Scrambling, p.Ctrl.Phy.Signature}
	if _, busy := b.rach[key]; busy {
		logrus.Debugf("[tick %07d] NodeB %d: preamble from %d on busy signature %d", now.Micros(), b.id, rec.id, key.signature)
		return
	}
	s := &rachSession{terminal: rec.id, expiry: engine.NewTimer(b.sched)}
	b.rach[key] = s
	s.expiry.Reset(b.cfg.RACHTimeout, func(sim.Time) {
		if b.rach[key] == s {
			delete(b.rach, key)
		}
	})

	ind := packet.New(nil, packet.Common{MsgType: packet.MsgAccessIndication, Channel: packet.AICH, Kind: packet.KindCommon})
	ind.Ctrl.Phy.Src, ind.Ctrl.Phy.Dst = b.id, rec.id
	ind.Ctrl.Phy.Scrambling, ind.Ctrl.Phy.Signature = key.scrambling, key.signature
	ind.Ctrl.Phy.TxPower = b.cfg.CommonPower
	b.aich = append(b.aich, ind)
}

// onMessagePart collects the random-access message between its begin and end
// markers. Parts without a reserved signature or an opening marker are dropped.
func (b *NodeB) onMessagePart(now sim.Time, rec *terminalRecord, p *packet.Packet) {
	key := rachKey{p.Ctrl.Phy.Scrambling, p.Ctrl.Phy.Signature}
	s, ok := b.rach[key]
	if !ok || s.terminal != rec.id {
		logrus.Debugf("[tick %07d] NodeB %d: message part from %d without access grant", now.Micros(), b.id, rec.id)
		return
	}
	if p.Ctrl.Phy.Begin {
		s.collecting = true
		s.parts = s.parts[:0]
	}
	if !s.collecting {
		return
	}
	s.parts = append(s.parts, p.Flatten()...)
	if !p.Ctrl.Phy.End {
		return
	}
	s.expiry.Stop()
	delete(b.rach, key)
	b.deliver(rec.commonErr, "common", s.parts)
}

func (b *NodeB) deliver(errs *ErrorCounter, link string, leaves []*packet.Packet) {
	for _, l := range leaves {
		if errs.Corrupt() {
			b.metrics.IncCorrupted(sim.NodeB.String(), link)
			continue
		}
		b.upper.ReceiveFromPhy(l)
	}
}

// ScramblingCode returns the uplink scrambling code of a terminal.
func ScramblingCode(ue sim.NodeID) uint32 {
	return uint32(ue)
}

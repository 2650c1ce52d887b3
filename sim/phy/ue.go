package phy

import (
	"github.com/sirupsen/logrus"
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

// TerminalUpper is the layer above a terminal physical layer. AccessFailed is
// called exactly once per abandoned random-access procedure with the packets
// that could not be sent.
type TerminalUpper interface {
	Upper
	AccessFailed(pkts []*packet.Packet)
}

// access is the state of one random-access procedure.
type access struct {
	active    bool
	attempt   int
	signature int
	power     float64
	timer     *engine.Timer
}

// UE is the terminal physical layer.
type UE struct {
	id      sim.NodeID
	cfg     Config
	sched   engine.Scheduler
	mob     mobility.Model
	gain    float64
	rng     sim.RandSource
	metrics *metrics.Collector

	upper     TerminalUpper
	shared    *channel.Shared
	dedicated *channel.Dedicated

	scrambling uint32
	alloc      allocation
	dch        *packet.Queue // uplink dedicated PDUs
	rach       *packet.Queue // uplink common PDUs awaiting access
	acc        access
	votes      *MajorityVote

	commonRx, dedicatedRx float64 // dBm
	external              []float64
	ext                   float64 // last other-cell interference mean, mW
	measured              bool    // dedicated SIR reflects the bound channel
	commonErr, dedErr     *ErrorCounter
	commonSIR, sir        float64
	lastTx                sim.Time
	sentAny               bool
	resources             []byte

	tickers []*engine.Ticker
}

// NewUE creates the physical layer of terminal id.
func NewUE(id sim.NodeID, cfg Config, s engine.Scheduler, mob mobility.Model, gain float64, rng sim.RandSource, m *metrics.Collector) *UE {
	if s == nil || mob == nil || rng == nil {
		panic("NewUE: scheduler, mobility and rng must not be nil")
	}
	if err := cfg.Validate(); err != nil {
		panic("NewUE: " + err.Error())
	}
	return &UE{
		id:          id,
		cfg:         cfg,
		sched:       s,
		mob:         mob,
		gain:        gain,
		rng:         rng,
		metrics:     m,
		scrambling:  ScramblingCode(id),
		dch:         packet.NewQueue(cfg.QueueLimit),
		rach:        packet.NewQueue(cfg.QueueLimit),
		acc:         access{timer: engine.NewTimer(s)},
		votes:       NewMajorityVote(cfg.MajorityWindow),
		commonRx:    cfg.NoiseFloor,
		dedicatedRx: cfg.NoiseFloor,
		commonErr:   NewErrorCounter(rng),
		dedErr:      NewErrorCounter(rng),
	}
}

// Bind sets the upper layer. It may be called once.
func (u *UE) Bind(up TerminalUpper) {
	if u.upper != nil {
		panic("UE.Bind: upper layer already bound")
	}
	u.upper = up
}

// Start arms the slot and interference timers.
func (u *UE) Start() {
	if u.upper == nil {
		panic("UE.Start: upper layer must be bound first")
	}
	u.tickers = append(u.tickers,
		engine.Every(u.sched, 0, u.cfg.SlotDuration, u.onSlot),
		engine.Every(u.sched, u.cfg.InterferencePeriod, u.cfg.InterferencePeriod, u.onInterference),
	)
}

// Stop halts all timers and any access procedure.
func (u *UE) Stop() {
	for _, t := range u.tickers {
		t.Stop()
	}
	u.tickers = nil
	u.acc.timer.Stop()
}

// ID implements channel.Endpoint.
func (u *UE) ID() sim.NodeID { return u.id }

// Position implements channel.Endpoint.
func (u *UE) Position(now sim.Time) r3.Vec { return u.mob.Position(now) }

// AntennaGain implements channel.Endpoint.
func (u *UE) AntennaGain() float64 { return u.gain }

// Attach registers the terminal on a station's common channel.
func (u *UE) Attach(c *channel.Shared) {
	if u.shared == c {
		return
	}
	u.Detach()
	u.shared = c
	c.AddTerminal(u)
}

// Detach leaves the serving station. Pending uplink data and any access
// procedure in progress are dropped without notification; connection-loss
// cleanup above is responsible for the flows.
func (u *UE) Detach() {
	if u.shared == nil {
		return
	}
	u.shared.RemoveTerminal(u.id)
	u.shared = nil
	if u.dedicated != nil {
		u.dedicated.Unbind()
	}
	u.acc.timer.Stop()
	u.acc.active = false
	u.rach.Drain()
	u.dch.Drain()
	u.alloc.set(nil)
	u.votes.Reset()
	u.commonRx, u.dedicatedRx = u.cfg.NoiseFloor, u.cfg.NoiseFloor
}

// Serving returns the station the terminal is attached to, or zero.
func (u *UE) Serving() sim.NodeID {
	if u.shared == nil {
		return 0
	}
	return u.shared.Station().ID()
}

// OnBind implements channel.Terminal.
func (u *UE) OnBind(d *channel.Dedicated) {
	u.dedicated = d
	u.votes.Reset()
	u.measured = false
	u.dedErr.SetBLER(0)
}

// OnUnbind implements channel.Terminal. Dedicated data not yet sent falls back to the common channel.
func (u *UE) OnUnbind(d *channel.Dedicated) {
	if u.dedicated != d {
		return
	}
	u.dedicated = nil
	u.alloc.set(nil)
	for _, p := range u.dch.Drain() {
		p.Ctrl.Common.Channel = packet.RACH
		u.rach.Enqueue(p)
	}
	u.startAccess()
}

// Dedicated reports whether a bound dedicated channel exists. The peer is ignored.
func (u *UE) Dedicated(sim.NodeID) bool {
	return u.dedicated != nil && u.dedicated.Bound()
}

// DedicatedChannel returns the bound dedicated channel, if any.
func (u *UE) DedicatedChannel() *channel.Dedicated { return u.dedicated }

// SetAllocation sets the uplink codes held by the terminal.
func (u *UE) SetAllocation(codes []codetree.Code) { u.alloc.set(codes) }

// Send queues p. DCH traffic uses the dedicated queue while a channel is bound;
// everything else starts (or joins) a random-access procedure.
func (u *UE) Send(p *packet.Packet) bool {
	p.Ctrl.Phy.Src = u.id
	if p.Ctrl.Common.Channel == packet.DCH && u.Dedicated(0) {
		return u.dch.Enqueue(p)
	}
	p.Ctrl.Common.Channel = packet.RACH
	if !u.rach.Enqueue(p) {
		return false
	}
	u.startAccess()
	return true
}

// Transmitting reports whether the terminal sent anything during the last interference period.
func (u *UE) Transmitting() bool {
	return u.sentAny && u.sched.Now()-u.lastTx < u.cfg.InterferencePeriod
}

// RecordInterference adds an other-cell interference sample in mW.
func (u *UE) RecordInterference(mw float64) {
	u.external = append(u.external, mw)
}

// DownlinkSIR returns the last dedicated and common downlink SIR.
func (u *UE) DownlinkSIR() (dedicated, common float64) { return u.sir, u.commonSIR }

// DownlinkBLER returns the dedicated and common error rates currently injected.
func (u *UE) DownlinkBLER() (dedicated, common float64) {
	return u.dedErr.BLER(), u.commonErr.BLER()
}

// Resources returns the last free-code bitmap broadcast by the serving station.
func (u *UE) Resources() []byte { return u.resources }

// TransmitPower returns the current uplink power in dBm: the dedicated
// channel's while one is bound, otherwise the last random-access power.
func (u *UE) TransmitPower() float64 {
	if u.dedicated != nil && u.dedicated.Bound() {
		return u.dedicated.UplinkPower()
	}
	return u.acc.power
}

// AccessInProgress reports whether a random-access procedure is running.
func (u *UE) AccessInProgress() bool { return u.acc.active }

func (u *UE) markTx() {
	u.lastTx = u.sched.Now()
	u.sentAny = true
}

func (u *UE) onSlot(now sim.Time) {
	if !u.Dedicated(0) {
		return
	}
	if f := u.alloc.buildFrame(u.cfg, u.dch, u.id, u.dedicated.Station().ID()); f != nil {
		u.dedicated.SendUp(f)
		u.markTx()
		u.metrics.IncFrame(sim.NodeUE.String(), packet.DCH.String())
	}
}

// onInterference measures downlink quality, refreshes the error counters and
// sends a downlink power-control command when a dedicated channel is up.
func (u *UE) onInterference(now sim.Time) {
	u.ext = 0
	if len(u.external) > 0 {
		u.ext = stat.Mean(u.external, nil)
	}
	u.external = u.external[:0]
	noise := sim.DBmToMilliwatt(u.cfg.NoiseFloor)

	u.commonSIR = SIR(u.commonRx, noise+u.ext, u.cfg.CommonSF)
	u.commonErr.SetBLER(u.cfg.sirToBLER(u.commonSIR))
	u.measureDedicated()

	if !u.Dedicated(0) {
		return
	}
	cmd := packet.New(nil, packet.Common{MsgType: packet.MsgPowerControl, Channel: packet.DCH, Kind: packet.KindDedicated})
	cmd.Ctrl.Phy.Src, cmd.Ctrl.Phy.Dst = u.id, u.dedicated.Station().ID()
	cmd.Ctrl.Phy.TPC = tpc(u.sir, u.cfg.TargetSIR)
	u.dedicated.SendUp(cmd)
}

// measureDedicated refreshes the dedicated downlink SIR and error rate from
// the last received dedicated power.
func (u *UE) measureDedicated() {
	noise := sim.DBmToMilliwatt(u.cfg.NoiseFloor)
	intra := u.cfg.Orthogonality * sim.DBmToMilliwatt(u.commonRx)
	u.sir = SIR(u.dedicatedRx, noise+u.ext+intra, u.alloc.sf(u.cfg))
	u.dedErr.SetBLER(u.cfg.sirToBLER(u.sir))
	u.measured = u.dedicated != nil
}

// startAccess begins a random-access procedure when data is waiting and none is running.
func (u *UE) startAccess() {
	if u.acc.active || u.rach.Len() == 0 || u.shared == nil {
		return
	}
	u.acc.active = true
	u.acc.attempt = 0
	u.acc.power = u.cfg.PreamblePower
	u.acc.timer.Reset(u.untilAccessSlot(), u.sendPreamble)
}

// untilAccessSlot returns the delay to the next access-slot boundary.
func (u *UE) untilAccessSlot() sim.Time {
	as := u.cfg.AccessSlot()
	return (as - u.sched.Now()%as) % as
}

func (u *UE) sendPreamble(now sim.Time) {
	if u.shared == nil {
		u.acc.active = false
		return
	}
	u.acc.attempt++
	u.acc.signature = u.rng.Intn(u.cfg.Signatures)
	p := packet.New(nil, packet.Common{MsgType: packet.MsgPreamble, Channel: packet.RACH, Kind: packet.KindCommon, Src: sim.AddrOf(u.id)})
	p.Ctrl.Phy.Src = u.id
	p.Ctrl.Phy.Dst = u.shared.Station().ID()
	p.Ctrl.Phy.Scrambling = u.scrambling
	p.Ctrl.Phy.Signature = u.acc.signature
	p.Ctrl.Phy.TxPower = u.acc.power
	u.shared.SendUp(u.id, p)
	u.markTx()
	u.metrics.IncPreamble()
	logrus.Debugf("[tick %07d] UE %d: preamble %d/%d signature %d at %.0f dBm",
		now.Micros(), u.id, u.acc.attempt, u.cfg.MaxPreambles, u.acc.signature, u.acc.power)
	u.acc.timer.Reset(u.cfg.AICHTimeout, u.onAICHTimeout)
}

func (u *UE) onAICHTimeout(now sim.Time) {
	if u.acc.attempt >= u.cfg.MaxPreambles {
		u.failAccess(now)
		return
	}
	u.acc.power += u.cfg.PreambleRamp
	slots := u.cfg.BackoffMin + u.rng.Intn(u.cfg.BackoffMax-u.cfg.BackoffMin+1)
	u.acc.timer.Reset(sim.Time(slots)*u.cfg.AccessSlot(), u.sendPreamble)
}

func (u *UE) failAccess(now sim.Time) {
	u.acc.active = false
	pkts := u.rach.Drain()
	u.metrics.IncAccessFailure()
	logrus.Debugf("[tick %07d] UE %d: random access failed after %d preambles, %d packets dropped",
		now.Micros(), u.id, u.acc.attempt, len(pkts))
	u.upper.AccessFailed(pkts)
}

// onAccessIndication sends the whole pending message part, marked begin and end.
func (u *UE) onAccessIndication(now sim.Time, p *packet.Packet) {
	if !u.acc.active || p.Ctrl.Phy.Signature != u.acc.signature || p.Ctrl.Phy.Scrambling != u.scrambling {
		return
	}
	if !u.acc.timer.Armed() || u.shared == nil {
		return
	}
	u.acc.timer.Stop()
	u.acc.active = false
	parts := u.rach.Drain()
	for i, part := range parts {
		part.Ctrl.Phy.Src = u.id
		part.Ctrl.Phy.Dst = u.shared.Station().ID()
		part.Ctrl.Phy.Scrambling = u.scrambling
		part.Ctrl.Phy.Signature = u.acc.signature
		part.Ctrl.Phy.TxPower = u.acc.power
		part.Ctrl.Phy.SF = u.cfg.CommonSF
		part.Ctrl.Phy.Begin = i == 0
		part.Ctrl.Phy.End = i == len(parts)-1
		u.shared.SendUp(u.id, part)
		u.metrics.IncFrame(sim.NodeUE.String(), packet.RACH.String())
	}
	u.markTx()
	logrus.Debugf("[tick %07d] UE %d: access granted after %d preambles, sent %d parts", now.Micros(), u.id, u.acc.attempt, len(parts))
	u.startAccess()
}

// ReceiveFromChannel implements channel.Receiver.
func (u *UE) ReceiveFromChannel(p *packet.Packet) {
	now := u.sched.Now()
	switch p.Ctrl.Common.MsgType {
	case packet.MsgAccessIndication:
		u.commonRx = p.Ctrl.Phy.RxPower
		u.onAccessIndication(now, p)
	case packet.MsgResourceBroadcast:
		u.commonRx = p.Ctrl.Phy.RxPower
		u.resources = append(u.resources[:0], p.Payload...)
	case packet.MsgPowerControl:
		u.dedicatedRx = p.Ctrl.Phy.RxPower
		if dir := u.votes.Add(p.Ctrl.Phy.TPC); dir != 0 && u.dedicated != nil {
			step := float64(dir) * u.cfg.PowerStep
			u.dedicated.StepUplinkPower(step)
			u.metrics.IncPowerStep("uplink", dir > 0)
		}
	default:
		if !isPayload(p) {
			return
		}
		errs, link := u.commonErr, "common"
		if p.Ctrl.Common.Channel == packet.DCH {
			u.dedicatedRx = p.Ctrl.Phy.RxPower
			if !u.measured {
				// first block on a fresh channel: the last sample predates the bind
				u.measureDedicated()
			}
			errs, link = u.dedErr, "dedicated"
		} else {
			u.commonRx = p.Ctrl.Phy.RxPower
		}
		for _, l := range p.Flatten() {
			if errs.Corrupt() {
				u.metrics.IncCorrupted(sim.NodeUE.String(), link)
				continue
			}
			u.upper.ReceiveFromPhy(l)
		}
	}
}

// Package sim holds the vocabulary shared by every layer of the UMTS radio
// simulator: node and flow identifiers, the simulated clock, power units and
// the partitioned random-number sources.
//
// # Reading Guide
//
// The protocol stack is built bottom-up, one package per layer:
//   - sim/engine: the discrete-event clock (binary heap, or iti/evt)
//   - sim/channel: shared and dedicated radio channels, path loss
//   - sim/phy: slot-synchronized physical layers of NodeB and UE
//   - sim/mac: link multiplexing header
//   - sim/rlc: acknowledged and unacknowledged ARQ entities
//   - sim/rrc: flow admission, spreading codes, paging and release
//   - sim/manager: attachment, handover and connection loss
//
// Supporting packages:
//   - sim/codetree: OVSF code allocation
//   - sim/packet: the cross-layer packet descriptor and bounded queues
//   - sim/mobility, sim/traffic: node motion and application sources
//   - sim/scenario, sim/network: scenario files and the node wiring
//   - sim/metrics, sim/trace: Prometheus counters and decision records
//
// Every layer talks to its neighbours through a small interface implemented by
// the layer above or below, bound once at node construction.
package sim

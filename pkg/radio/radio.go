// Package radio defines the external radio adapter contract the mesh
// core and hybrid MAC transmit through: send a whole frame, poll for
// inbound frames with their RSSI/SNR, sample the current RSSI for
// clear-channel assessment, and sleep/wake the transceiver.
//
// This package holds only the contract; pkg/radio/simradio and
// pkg/radio/serialradio are reference implementations.
package radio

// MaxFrameSize bounds a whole over-the-air frame (20-byte header plus
// up to 255 bytes of payload).
const MaxFrameSize = 275

// Radio is the adapter contract every node is built against. Within
// this stack only pkg/node calls one: it polls inbound frames, feeds
// RSSINow to the MAC and sends the frames the MAC releases.
type Radio interface {
	// Send transmits frame whole, reporting whether it was accepted
	// for transmission (not whether any peer received it).
	Send(frame []byte) bool

	// Poll returns the next inbound frame along with the signal
	// quality it was heard at, or ok=false if nothing is pending.
	Poll() (frame []byte, rssiDBm int16, snrDB int8, ok bool)

	// RSSINow samples the instantaneous channel RSSI, used by the MAC
	// for clear-channel assessment ahead of a CSMA-CA transmission.
	RSSINow() int16

	// Sleep and Wake put the transceiver into/out of a low-power
	// state between TDMA slots or while idle.
	Sleep()
	Wake()
}

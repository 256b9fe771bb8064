// # Go Receiver Package for Immersive Video Hand-off
//
// This repository provides a Go package for the receiving end of a one-to-one live video hand-off. A scene shows a remote peer's video once a call is streaming and falls back to a local camera passthrough while no remote stream exists. The package owns the session state machine, the receive-only peer connection and the rules that decide which display plane is visible.
package receiver

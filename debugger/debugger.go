// Package debugger is the attach-side client for the Magma VM's shared
// debug segment. It never blocks the VM: it observes the most recently
// published snapshot and leaves command flags for the VM to notice at
// its next instruction boundary.
package debugger

import (
	"fmt"
	"time"

	"github.com/tliron/commonlog"

	"github.com/chazu/magma/vm"
)

// DefaultAttachTimeout bounds how long Attach polls for a segment to
// appear and mark itself running.
const DefaultAttachTimeout = 5 * time.Second

// Client is an attached debugger session over a shared debug segment.
type Client struct {
	seg *vm.DebugSegment
	log commonlog.Logger
}

// Attach polls for the named segment at the fixed attach interval until
// the VM has created it and marked itself running, or the timeout
// passes. A zero timeout uses DefaultAttachTimeout.
func Attach(name string, timeout time.Duration) (*Client, error) {
	if timeout == 0 {
		timeout = DefaultAttachTimeout
	}
	log := commonlog.GetLogger("magma.debugger")
	deadline := time.Now().Add(timeout)

	for {
		seg, err := vm.OpenDebugSegment(name)
		if err == nil {
			if seg.Running() {
				log.Infof("attached to segment %s (%d byte mirror)", name, seg.MemoryLen())
				return &Client{seg: seg, log: log}, nil
			}
			// Created but not yet published; keep polling.
			seg.Close()
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("debugger: no running VM on segment %s after %s", name, timeout)
		}
		time.Sleep(vm.AttachPollInterval)
	}
}

// Close detaches from the segment. The VM keeps running.
func (c *Client) Close() error {
	return c.seg.Close()
}

// Registers returns the most recently published register snapshot.
func (c *Client) Registers() [vm.RegisterCount]uint64 {
	return c.seg.ReadRegisters()
}

// Register returns one register from the latest snapshot.
func (c *Client) Register(r vm.Register) uint64 {
	return c.seg.ReadRegisters()[r]
}

// MemorySnapshot copies the published memory mirror.
func (c *Client) MemorySnapshot() []byte {
	return c.seg.ReadMemory()
}

// Counter returns the segment's update counter.
func (c *Client) Counter() byte {
	return c.seg.Counter()
}

// Running reports whether the VM still marks itself running.
func (c *Client) Running() bool {
	return c.seg.Running()
}

// WaitForUpdate polls until the update counter moves past last, or the
// timeout passes. It returns the new counter value.
func (c *Client) WaitForUpdate(last byte, timeout time.Duration) (byte, error) {
	deadline := time.Now().Add(timeout)
	for {
		if now := c.seg.Counter(); now != last {
			return now, nil
		}
		if time.Now().After(deadline) {
			return last, fmt.Errorf("debugger: no update within %s", timeout)
		}
		time.Sleep(vm.UpdatePollInterval)
	}
}

// RequestPause asks the VM to stop at its next instruction boundary.
func (c *Client) RequestPause() {
	c.seg.SetPause(true)
}

// Resume clears a pending pause request.
func (c *Client) Resume() {
	c.seg.SetPause(false)
}

// RequestTerminate asks the VM to shut down cleanly. The VM notices
// within one command-poll interval and publishes a final complete
// mirror before clearing its running flag.
func (c *Client) RequestTerminate() {
	c.seg.SetTerminate()
}

// WaitForExit polls until the VM clears its running flag.
func (c *Client) WaitForExit(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for c.seg.Running() {
		if time.Now().After(deadline) {
			return fmt.Errorf("debugger: VM still running after %s", timeout)
		}
		time.Sleep(vm.CommandPollInterval)
	}
	return nil
}

// WriteCoreDump captures the current snapshot and writes it to the
// operator-chosen path.
func (c *Client) WriteCoreDump(path string) error {
	dump := vm.NewCoreDump(c.seg.ReadRegisters(), c.seg.ReadMemory(), c.seg.Counter())
	if err := vm.WriteCoreDumpFile(path, dump); err != nil {
		return err
	}
	c.log.Infof("core dump written to %s", path)
	return nil
}

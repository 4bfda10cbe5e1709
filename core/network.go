package core

import (
	"fmt"
	"sync"
)

// NetworkConfig holds the network parameters captured once from the first node
// response and shared process-wide.
type NetworkConfig struct {
	NetworkName       string
	AddressHrp        string
	GenesisPayloadHex string
}

// NetworkConfigCell is a one-shot cell guarding the one-time capture of the
// network configuration from multiple possible sources. The first capture
// wins; a later capture with different content is an error, a later identical
// capture is a no-op.
type NetworkConfigCell struct {
	lock sync.Mutex
	cfg  *NetworkConfig
}

func (c *NetworkConfigCell) Capture(cfg NetworkConfig) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.cfg != nil {
		if *c.cfg != cfg {
			return fmt.Errorf("network configuration already captured for %s, refusing %s", c.cfg.NetworkName, cfg.NetworkName)
		}

		return nil
	}

	c.cfg = &cfg

	return nil
}

func (c *NetworkConfigCell) Get() (NetworkConfig, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.cfg == nil {
		return NetworkConfig{}, false
	}

	return *c.cfg, true
}

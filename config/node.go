// Node configuration (TOML-loaded, compiled-in defaults)
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package config

import (
	"os"

	"github.com/BurntSushi/toml"
)

// Node holds the per-device parameters that vary across an otherwise
// identical firmware image: the 802.15.4 channel and PAN, the node's
// advertised hostname, and the MQTT broker it publishes sensor readings to
// (EXTERNAL INTERFACES).
type Node struct {
	PanID   uint16 `toml:"pan_id"`
	Channel int    `toml:"channel"`

	Gateway  string `toml:"gateway"`  // site-local IPv6 text form
	Hostname string `toml:"hostname"` // mDNS-advertised name, no ".local" suffix

	MQTTBroker string `toml:"mqtt_broker"` // "host:port", host may be a hostname for mDNS resolution
	MQTTTopic  string `toml:"mqtt_topic"`
}

// Defaults returns the compiled-in node configuration used when no config
// file is present, matching tve-devices/cmd/mqttradio's pattern of a
// flag-selected config file that overlays compiled-in behavior rather than
// being strictly required.
func Defaults() Node {
	return Node{
		PanID:      0x1eaf,
		Channel:    20,
		Gateway:    "fd00:1eaf::1",
		Hostname:   "aethernode",
		MQTTBroker: "portal.local:1883",
		MQTTTopic:  "particle",
	}
}

// Load reads path as TOML over Defaults(), so a config file only needs to
// set the fields it wants to override. A missing file is not an error: the
// defaults are returned unchanged, mirroring boards without persistent
// storage for a config file at all.
func Load(path string) (Node, error) {
	node := Defaults()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return node, nil
	}

	if _, err := toml.DecodeFile(path, &node); err != nil {
		return Node{}, err
	}

	return node, nil
}

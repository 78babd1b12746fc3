// Declarative socket table
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package config provides the node's two build-time tables: the socket
// table SS constructs from (DATA MODEL, "declarative... known at compile
// time") and the runtime-tunable node parameters (PAN ID, channel, default
// gateway, hostname, MQTT broker) loaded from TOML the way
// tve-devices/cmd/mqttradio's main.go loads its radio/module tables, with
// compiled-in defaults so a missing config file still boots.
package config

import (
	"github.com/usbarmory/aethernode/aether/socket"
	"github.com/usbarmory/aethernode/kernel"
)

// Task IDs are the closed, compile-time enum EXTERNAL INTERFACES describes
// as "names are a closed enum known at compile time" applied to tasks
// rather than sockets.
const (
	TaskInterface kernel.TaskID = iota
	TaskMQTT
	TaskMDNS
	TaskApp
)

// Notification bits assigned to each non-IF task, starting at
// kernel.NotifyTaskBase.
const (
	NotifyMQTT uint32 = 1 << (kernel.NotifyTaskBase + iota)
	NotifyMDNS
	NotifyApp
)

// Socket names, the closed enum EXTERNAL INTERFACES names.
const (
	SocketMQTT  socket.Name = "mqtt"
	SocketMDNS  socket.Name = "mdns"
	SocketApp   socket.Name = "app"
	SocketDNS   socket.Name = "dns"
)

// Sockets returns the node's static socket table: one TCP socket for the
// MQTT Adapter, one UDP socket for the mDNS Resolver, one UDP socket for
// the application task, and the single DNS query slot (COMPONENT DESIGN
// 4.4, "one DNS resolution operation in flight at a time").
func Sockets() []socket.Entry {
	return []socket.Entry{
		{
			Name:      SocketMQTT,
			Kind:      socket.KindTCP,
			Owner:     TaskMQTT,
			NotifyBit: NotifyMQTT,
			RxBufSize: 2048,
			TxBufSize: 2048,
		},
		{
			Name:      SocketMDNS,
			Kind:      socket.KindUDP,
			Owner:     TaskMDNS,
			NotifyBit: NotifyMDNS,
			Port:      5353,
			RxBufSize: 8,
			TxBufSize: 8,
		},
		{
			Name:      SocketApp,
			Kind:      socket.KindUDP,
			Owner:     TaskApp,
			NotifyBit: NotifyApp,
			Port:      4242,
			RxBufSize: 16,
			TxBufSize: 16,
		},
		{
			Name:      SocketDNS,
			Kind:      socket.KindDNS,
			Owner:     TaskMQTT,
			NotifyBit: NotifyMQTT,
		},
	}
}

// aethernode: sensor-node firmware entry point
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Command aethernode is the board bring-up sequence for the nRF52840
// wireless sensor node: it brings up the 802.15.4 radio, constructs the
// socket table, and launches the Interface, MQTT Adapter and mDNS
// Resolver tasks, in the style of example/example.go's goroutine-per-task
// launch sequence.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net"
	"os"
	"time"

	"github.com/usbarmory/aethernode/aether"
	"github.com/usbarmory/aethernode/aether/ipv6"
	"github.com/usbarmory/aethernode/aether/socket"
	"github.com/usbarmory/aethernode/config"
	"github.com/usbarmory/aethernode/internal/rng"
	"github.com/usbarmory/aethernode/kernel"
	"github.com/usbarmory/aethernode/mdns"
	"github.com/usbarmory/aethernode/mqtt"
	"github.com/usbarmory/aethernode/soc/nrf52"
	"github.com/usbarmory/aethernode/soc/nrf52/radio"
)

const verbose = true
const ringDepth = 8

func init() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	if verbose {
		log.SetOutput(os.Stdout)
	} else {
		log.SetOutput(io.Discard)
	}
}

func mustParseAddr(s string) ipv6.Addr {
	ip := net.ParseIP(s)
	if ip == nil || ip.To16() == nil {
		panic("aethernode: invalid configured gateway address " + s)
	}
	var a ipv6.Addr
	copy(a[:], ip.To16())
	return a
}

func main() {
	fmt.Println("-- aethernode ----------------------------------------------------------")

	node, err := config.Load("aethernode.toml")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	word1, word2 := nrf52.DeviceID()
	eui64 := aether.DeriveEUI64(word1, word2)
	selfAddr := aether.DeriveSiteLocal(node.PanID, eui64)
	gateway := mustParseAddr(node.Gateway)

	log.Printf("node address %x, pan 0x%04x, channel %d", selfAddr, node.PanID, node.Channel)

	rd := radio.New(node.Channel, ringDepth, radio.ExtAddr(eui64))
	rd.Initialize()

	entropy := rng.NewSource(rng.SeedFromLCG())

	table := socket.Construct(config.Sockets())
	srv := socket.NewServer(table, eui64, entropy)

	ifTask := kernel.NewTask(config.TaskInterface)
	mqttTask := kernel.NewTask(config.TaskMQTT)
	mdnsTask := kernel.NewTask(config.TaskMDNS)

	iface := aether.New(rd, srv, node.PanID, selfAddr, gateway, ifTask)
	iface.RegisterTask(config.TaskMQTT, mqttTask)
	iface.RegisterTask(config.TaskMDNS, mdnsTask)

	resolver := mdns.NewResolver(node.Hostname, selfAddr, gateway)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go iface.Run(time.Now)

	go mdns.NewTask(srv, mdnsTask, config.TaskMDNS, config.SocketMDNS, config.NotifyMDNS, resolver).Run(ctx)

	mqttAdapter := mqtt.NewTask(srv, mqttTask, config.TaskMQTT, config.SocketMQTT, config.NotifyMQTT, mdnsTask, config.NotifyMDNS, node.MQTTBroker, node.MQTTTopic)
	go mqttAdapter.Run(ctx, 10*time.Second, sampleReading)

	log.Printf("aethernode ready, hostname=%s.local", node.Hostname)

	select {}
}

// sampleReading stands in for the out-of-scope sensor drivers (Sensirion
// SPS30, Bosch BME68x/BSEC) with a synthetic particulate-matter reading,
// since those drivers are explicitly out of scope (SYSTEM OVERVIEW,
// "Out of scope... the sensor drivers themselves").
func sampleReading() (metric string, value float64) {
	return "pm2_5", 5 + rand.Float64()*10
}

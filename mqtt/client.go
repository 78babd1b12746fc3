// MQTT Adapter (MA): CBOR-encoded publish over natiu-mqtt
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package mqtt

import (
	"context"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	natiu "github.com/soypat/natiu-mqtt"
)

// Sample is one sensor reading, CBOR-encoded as the publish payload
// (COMPONENT DESIGN 4.5, "the payload is CBOR-encoded sensor data").
type Sample struct {
	Node   string  `cbor:"node"`
	Metric string  `cbor:"metric"`
	Value  float64 `cbor:"value"`
	Millis uint32  `cbor:"ms"`
}

// Client wraps natiu-mqtt's Client over a Conn, publishing Samples to a
// single fixed topic at QoS 0 (COMPONENT DESIGN 4.5, "topic 'particle',
// QoS 0").
type Client struct {
	conn   *Conn
	client *natiu.Client

	clientID string
	topic    string
}

// NewClient constructs an MA client bound to conn. clientID becomes both
// the MQTT client identifier and the Sample.Node field.
func NewClient(conn *Conn, clientID, topic string) *Client {
	return &Client{
		conn:     conn,
		clientID: clientID,
		topic:    topic,
		client: natiu.NewClient(natiu.ClientConfig{
			Decoder: natiu.DecoderNoAlloc{UserBuffer: make([]byte, 2048)},
		}),
	}
}

// Connect performs the MQTT CONNECT handshake over conn with a clean
// session and a 60 s keepalive.
func (c *Client) Connect(ctx context.Context) error {
	var v natiu.VariablesConnect
	v.ClientID = []byte(c.clientID)
	v.Protocol = natiu.ProtocolLevel4
	v.CleanSession = true
	v.KeepAlive = 60

	return c.client.Connect(ctx, c.conn, &v)
}

// Publish CBOR-encodes a single reading and publishes it at QoS 0.
func (c *Client) Publish(metric string, value float64, millis uint32) error {
	payload, err := cbor.Marshal(Sample{
		Node:   c.clientID,
		Metric: metric,
		Value:  value,
		Millis: millis,
	})
	if err != nil {
		return fmt.Errorf("mqtt: encode sample: %w", err)
	}

	flags, err := natiu.NewPublishFlags(natiu.QoS0, false, false)
	if err != nil {
		return err
	}

	return c.client.PublishPayload(flags, c.topic, payload)
}

// IsConnected reports whether the MQTT session is up, for the adapter's
// reconnect loop.
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

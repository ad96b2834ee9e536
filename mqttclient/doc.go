// Package mqttclient provides an MQTT transport for the PLC bridges, built
// on the Eclipse paho client.
//
// The client uses a persistent session (CleanSession false) and paho's
// automatic reconnect with exponential backoff capped at
// MaxReconnectInterval. Every topic registered through Subscribe is
// subscribed again from the OnConnect handler, so subscriptions survive a
// broker that lost its session state.
//
// Bridge topics are written with dots ("plc.input") and mapped to MQTT's
// slash form ("plc/input") by transport.MQTTTopic.
//
//	client, err := mqttclient.NewClient(mqttclient.Config{Broker: "tcp://localhost:1883"},
//	    mqttclient.WithLogger(logger))
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
package mqttclient

// Package mqtt provides MQTT client connectivity for Tublink Core.
//
// This package manages:
//   - Connection to Mosquitto broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// Tublink uses MQTT as the local automation bus. The bridge publishes
// spa state onto raw scalar topics and accepts desired values on sibling
// "_writetopic" channels, decoupling local automations from the cloud API.
//
//	Cloud API ↔ Tublink Core ↔ MQTT Broker ↔ Local automations/UIs
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//   - Message payloads are not encrypted beyond TLS transport
//
// # Performance Characteristics
//
//   - Connection: <1 second to local broker
//   - Publish latency: <10ms for QoS 1 to local broker
//   - Reconnect: Exponential backoff 1s-60s with jitter
//   - Message throughput: Broker-limited (typically 10K+ msg/sec)
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	topics := mqtt.Topics{Base: cfg.MQTT.BaseTopic}
//
//	// Subscribe to light mode write requests across all spas and zones
//	err = client.Subscribe(topics.AllLightWrites("mode"), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
//
//	// Publish current state (raw scalar payload)
//	client.Publish(topics.LightProperty("spa-01", 1, "mode"), []byte("PURPLE"), 1, true)
package mqtt

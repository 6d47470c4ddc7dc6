// Package mqtt connects ferrobot to an MQTT broker.
//
// The broker is the robot's optional remote surface: the bridge package
// republishes telemetry on state topics and turns command topic messages
// into queued device commands. Device topics follow
// {prefix}/{category}/{kind}/{id}:
//
//	ferrobot/state/spark_max/7
//	ferrobot/command/spark_max/7
//	ferrobot/ack/spark_max/7
//
// The client keeps {prefix}/system/status retained: online after each
// connect, offline on Close, and offline through the will message when
// the link dies. Subscriptions are tracked and restored on reconnect.
//
// Enable TLS (mqtt.broker.tls) whenever the broker is off the robot.
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	err = client.Subscribe(client.Topics().AllCommands(), 1, handle)
package mqtt

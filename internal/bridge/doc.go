// Package bridge connects the robot to an MQTT broker.
//
// Outbound, every telemetry sample is published as JSON to the device's
// state topic and every mode change to the mode topic. Both are retained,
// so a subscriber joining late gets the current state at once:
//
//	{prefix}/state/spark_max/7   {"device":{...},"fields":{...},"timestamp":"..."}
//	{prefix}/mode                {"mode":"teleoperated","timestamp":"..."}
//
// Inbound, messages on {prefix}/command/{kind}/{id} are decoded into robot
// requests and applied. Each command is answered on the device's ack topic
// with "accepted" or "failed" plus an error code.
//
// Unchanged device states are not republished; the last published fields
// per device are kept in a small cache.
package bridge

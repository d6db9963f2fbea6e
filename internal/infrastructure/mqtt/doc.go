// Package mqtt provides the MQTT client behind the devicelive relay.
//
// This package manages:
//   - Connection to the broker with paho's auto-reconnect
//   - Publishing with QoS and retained flags
//   - Tracked subscriptions restored after reconnect
//   - Last Will and Testament for offline detection
//
// # Topics
//
//	{prefix}/system/status        retained online/offline, LWT
//	{prefix}/live/{id}/status     retained channel status per device
//	{prefix}/live/{id}/reading    latest readings, not retained
//	{prefix}/control/target       retarget requests
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.PublishRetained(client.Topics().LiveStatus("dev-1"), payload)
package mqtt

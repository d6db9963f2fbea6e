// Package relay mirrors the live channel onto MQTT.
//
// Each observed state is published retained to {prefix}/live/{id}/status,
// and each new reading to {prefix}/live/{id}/reading without the retain
// flag. Retarget requests arrive on {prefix}/control/target as
// {"device_id": "..."}; the channel keeps its configured token. A request
// that carries a token is rejected.
package relay

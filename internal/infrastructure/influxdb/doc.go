// Package influxdb records water heater telemetry in InfluxDB v2.
//
// Each successful poll writes one point per device to the water_heater
// measurement, tagged by device id and name:
//
//	water_heater,device_id=…,name=Kitchen target_temperature=48.5,outlet_temperature=45,running=true,recirculation=false
//
// Writes are non-blocking and batched according to batch_size and
// flush_interval. Asynchronous failures are delivered to the SetOnError
// callback.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry off
//	}
//	defer client.Close()
//	client.WriteWaterHeater(sample)
package influxdb

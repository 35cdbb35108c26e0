package main

import (
	"github.com/nerrad567/rinnai-bridge/internal/device"
	"github.com/nerrad567/rinnai-bridge/internal/infrastructure/influxdb"
)

// sampleWriter is the InfluxDB write the observer needs.
type sampleWriter interface {
	WriteWaterHeater(s influxdb.WaterHeaterSample)
}

// influxObserver records a water_heater sample every time the engine
// reports a device update. It satisfies rinnai.Observer.
type influxObserver struct {
	client sampleWriter
}

// DeviceUpdated implements rinnai.Observer.
func (o influxObserver) DeviceUpdated(rec device.Record) {
	o.client.WriteWaterHeater(influxdb.WaterHeaterSample{
		DeviceID:          rec.ID,
		Name:              rec.Name(),
		TargetTemperature: rec.TargetTemperature,
		OutletTemperature: rec.OutletTemperature,
		Running:           rec.IsRunning,
		Recirculation:     rec.RecirculationEnabled,
		Time:              rec.UpdatedAt,
	})
}

// DeviceRemoved implements rinnai.Observer. History of removed devices is
// kept.
func (influxObserver) DeviceRemoved(string) {}

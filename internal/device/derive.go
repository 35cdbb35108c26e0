package device

import "github.com/nerrad567/rinnai-bridge/internal/units"

// Refresh recomputes the derived fields from Attributes. Without an info
// block the temperature and running fields keep their previous values and
// ErrInfoMissing is returned.
func (r *Record) Refresh(pref units.Preference) error {
	if s := r.Attributes.Shadow; s != nil {
		r.RecirculationEnabled = bool(s.RecirculationEnabled)
	}

	info := r.Attributes.Info
	if info == nil {
		return ErrInfoMissing
	}
	r.TargetTemperature = units.ControllerToDisplay(float64(info.DomesticTemperature), pref)
	r.OutletTemperature = units.ControllerToDisplay(float64(info.OutletTemperature), pref)
	r.IsRunning = bool(info.DomesticCombustion)
	return nil
}

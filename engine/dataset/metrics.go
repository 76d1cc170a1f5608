package dataset

import "github.com/complimo/complimo/engine/domain"

// Metrics groups one row's readings the way the dashboard renders them.
type Metrics struct {
	PowerConsumption        PowerConsumption        `json:"Power_Consumption"`
	TemperatureDifferential TemperatureDifferential `json:"Temperature_Differential"`
	FlowPerformance         FlowPerformance         `json:"Flow_Performance"`
	EnergyConsumption       EnergyConsumption       `json:"Energy_Consumption"`
	OperationalMetrics      OperationalMetrics      `json:"Operational_Metrics"`
	SystemStatus            SystemStatus            `json:"System_Status"`
}

type PowerConsumption struct {
	AbsolutePowerW float64 `json:"Absolute_Power_W"`
}

type TemperatureDifferential struct {
	DeltaTemperatureK     float64 `json:"Delta_Temperature_K"`
	SetpointDeltaTK       float64 `json:"Setpoint_Delta_T_K"`
	Temperature1RemoteK   float64 `json:"Temperature_1_Remote_K"`
	Temperature2EmbeddedK float64 `json:"Temperature_2_Embedded_K"`
}

type FlowPerformance struct {
	RelativeFlowPercentage float64 `json:"Relative_Flow_Percentage"`
	AbsoluteFlowM3S        float64 `json:"Absolute_Flow_m3_s"`
	FlowVolumeTotalM3      float64 `json:"Flow_Volume_Total_m3"`
}

type EnergyConsumption struct {
	CoolingEnergyJ float64 `json:"Cooling_Energy_J"`
	HeatingEnergyJ float64 `json:"Heating_Energy_J"`
}

type OperationalMetrics struct {
	OperatingTimeH float64 `json:"Operating_Time_h"`
	ActiveTimeH    float64 `json:"Active_Time_h"`
}

type SystemStatus struct {
	FlowSignalFaulty bool `json:"Flow_Signal_Faulty"`
}

// Envelope is the response body of the metrics endpoint.
type Envelope struct {
	HVACMetrics Metrics `json:"HVAC_Metrics"`
}

// MetricsOf reads the known columns from row. Missing or non-numeric
// readings are zero.
func MetricsOf(row domain.Row) Metrics {
	num := func(k string) float64 {
		v, _ := row.Number(k)
		return v
	}
	faulty := false
	switch v := row["Flow_Signal_Faulty"].(type) {
	case bool:
		faulty = v
	case float64:
		faulty = v != 0
	}
	return Metrics{
		PowerConsumption: PowerConsumption{AbsolutePowerW: num("Absolute_Power_W")},
		TemperatureDifferential: TemperatureDifferential{
			DeltaTemperatureK:     num("Delta_Temperature_K"),
			SetpointDeltaTK:       num("Setpoint_Delta_T_K"),
			Temperature1RemoteK:   num("Temperature_1_Remote_K"),
			Temperature2EmbeddedK: num("Temperature_2_Embedded_K"),
		},
		FlowPerformance: FlowPerformance{
			RelativeFlowPercentage: num("Relative_Flow_Percentage"),
			AbsoluteFlowM3S:        num("Absolute_Flow_m3_s"),
			FlowVolumeTotalM3:      num("Flow_Volume_Total_m3"),
		},
		EnergyConsumption: EnergyConsumption{
			CoolingEnergyJ: num("Cooling_Energy_J"),
			HeatingEnergyJ: num("Heating_Energy_J"),
		},
		OperationalMetrics: OperationalMetrics{
			OperatingTimeH: num("Operating_Time_h"),
			ActiveTimeH:    num("Active_Time_h"),
		},
		SystemStatus: SystemStatus{FlowSignalFaulty: faulty},
	}
}

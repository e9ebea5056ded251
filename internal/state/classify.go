package state

import "github.com/langchou/fleetgazer/internal/models"

// 供应商 stateId 中表示点火的取值
const stateIDIgnition = 1

// Input 分类所需的原始状态字段
type Input struct {
	StateID              *int
	StatusCode           *int
	Speed                int
	VoltageMillivolts    float64
	StarterDisabledSince int64
	BuzzerActiveSince    int64
}

// Classification 分类结果
type Classification struct {
	MovementState   models.MovementState `json:"movement_state"`
	IsMoving        bool                 `json:"is_moving"`
	IgnitionOn      bool                 `json:"ignition_on"`
	StarterDisabled bool                 `json:"starter_disabled"`
	BuzzerActive    bool                 `json:"buzzer_active"`
	VoltageVolts    float64              `json:"voltage_volts"`
	StatusLabel     string               `json:"status_label"`
}

// statusLabels 供应商状态码说明，仅用于展示，不参与状态判断
var statusLabels = map[int]string{
	0:  "Ignition Off",
	1:  "Ignition On",
	2:  "Moving",
	3:  "Stopped",
	4:  "Idle",
	5:  "Heartbeat",
	6:  "Harsh Brake",
	7:  "Harsh Acceleration",
	8:  "Harsh Turn",
	9:  "Speeding",
	10: "Low Battery",
	11: "Power Disconnected",
	12: "Power Restored",
	13: "Cold Boot",
	14: "Warm Boot",
	15: "Starter Disabled",
	16: "Starter Enabled",
	17: "Buzzer On",
	18: "Buzzer Off",
	19: "GPS Lost",
}

// StatusLabel 状态码对应的说明，未知或缺失返回 "Unknown"
func StatusLabel(code *int) string {
	if code == nil {
		return "Unknown"
	}
	if label, ok := statusLabels[*code]; ok {
		return label
	}
	return "Unknown"
}

// Classify 把原始状态映射为四种运动状态及派生标志
// stateId == 1 时 speed > 0 为行驶，否则为点火；其余（含缺失）一律视为熄火
func Classify(in Input) Classification {
	movement := models.MovementIgnitionOff
	if in.StateID != nil && *in.StateID == stateIDIgnition {
		if in.Speed > 0 {
			movement = models.MovementMovingHeartbeat
		} else {
			movement = models.MovementIgnitionOn
		}
	}

	return Classification{
		MovementState:   movement,
		IsMoving:        movement == models.MovementMovingHeartbeat,
		IgnitionOn:      movement.IgnitionOn(),
		StarterDisabled: in.StarterDisabledSince > 0,
		BuzzerActive:    in.BuzzerActiveSince > 0,
		VoltageVolts:    in.VoltageMillivolts / 1000,
		StatusLabel:     StatusLabel(in.StatusCode),
	}
}

// FromStatus 由已存储的当前状态还原分类结果
func FromStatus(s *models.CurrentStatus) Classification {
	return Classification{
		MovementState:   s.MovementState,
		IsMoving:        s.MovementState == models.MovementMovingHeartbeat,
		IgnitionOn:      s.MovementState.IgnitionOn(),
		StarterDisabled: s.StarterDisabledSince > 0,
		BuzzerActive:    s.BuzzerActiveSince > 0,
		VoltageVolts:    s.VoltageMillivolts / 1000,
		StatusLabel:     s.StatusLabel,
	}
}

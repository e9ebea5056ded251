package state

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"

	"github.com/langchou/fleetgazer/internal/models"
)

// 状态机事件
const (
	EventIgnitionOn  = "ignition_on"
	EventIgnitionOff = "ignition_off"
	EventStartMoving = "start_moving"
	EventStopMoving  = "stop_moving"
	EventHeartbeat   = "heartbeat"
)

var (
	stateOff     = string(models.MovementIgnitionOff)
	stateStopped = string(models.MovementStoppedHeartbeat)
	stateOn      = string(models.MovementIgnitionOn)
	stateMoving  = string(models.MovementMovingHeartbeat)
)

// transitionsTo 到达目标状态可用的事件，按顺序尝试
var transitionsTo = map[string][]string{
	stateOn:      {EventIgnitionOn, EventStopMoving},
	stateMoving:  {EventStartMoving},
	stateOff:     {EventIgnitionOff},
	stateStopped: {EventHeartbeat},
}

// VehicleState 车辆实时状态（内存缓存）
type VehicleState struct {
	VehicleID       int64     `json:"vehicle_id"`
	FleetID         int64     `json:"fleet_id"`
	CurrentState    string    `json:"state"`
	Since           time.Time `json:"since"`
	RecordedAt      time.Time `json:"recorded_at"`
	Latitude        float64   `json:"latitude"`
	Longitude       float64   `json:"longitude"`
	SpeedKmh        int       `json:"speed_kmh"`
	Heading         *int      `json:"heading,omitempty"`
	VoltageVolts    float64   `json:"voltage_volts"`
	StarterDisabled bool      `json:"starter_disabled"`
	BuzzerActive    bool      `json:"buzzer_active"`
	StatusLabel     string    `json:"status_label"`
}

// Machine 车辆状态机
type Machine struct {
	mu            sync.RWMutex
	vehicleID     int64
	fsm           *fsm.FSM
	state         *VehicleState
	onStateChange func(vehicleID int64, from, to string)
}

// NewMachine 创建状态机
func NewMachine(vehicleID int64, initialState string, onStateChange func(vehicleID int64, from, to string)) *Machine {
	if initialState == "" {
		initialState = stateOff
	}

	m := &Machine{
		vehicleID:     vehicleID,
		onStateChange: onStateChange,
		state: &VehicleState{
			VehicleID:    vehicleID,
			CurrentState: initialState,
			Since:        time.Now(),
			StatusLabel:  "Unknown",
		},
	}

	m.fsm = fsm.NewFSM(
		initialState,
		fsm.Events{
			{Name: EventIgnitionOn, Src: []string{stateOff, stateStopped}, Dst: stateOn},
			{Name: EventStartMoving, Src: []string{stateOff, stateStopped, stateOn}, Dst: stateMoving},
			{Name: EventStopMoving, Src: []string{stateMoving}, Dst: stateOn},
			{Name: EventIgnitionOff, Src: []string{stateOn, stateMoving, stateStopped}, Dst: stateOff},
			{Name: EventHeartbeat, Src: []string{stateOff}, Dst: stateStopped},
		},
		fsm.Callbacks{
			"after_event": func(ctx context.Context, e *fsm.Event) {
				if m.onStateChange != nil && e.Src != e.Dst {
					m.onStateChange(m.vehicleID, e.Src, e.Dst)
				}
			},
		},
	)

	return m
}

// CurrentState 获取当前状态
func (m *Machine) CurrentState() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fsm.Current()
}

// GetState 获取完整状态（副本）
func (m *Machine) GetState() *VehicleState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stateCopy := *m.state
	stateCopy.CurrentState = m.fsm.Current()
	return &stateCopy
}

// Trigger 触发事件
func (m *Machine) Trigger(event string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.trigger(event, time.Now())
}

func (m *Machine) trigger(event string, at time.Time) error {
	if err := m.fsm.Event(context.Background(), event); err != nil {
		return fmt.Errorf("trigger event %s: %w", event, err)
	}
	m.state.CurrentState = m.fsm.Current()
	m.state.Since = at
	return nil
}

// CanTransition 检查是否可以转换
func (m *Machine) CanTransition(event string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fsm.Can(event)
}

// Observe 用一次已应用的状态更新缓存，必要时驱动状态迁移
// 早于缓存中 RecordedAt 的状态直接忽略
func (m *Machine) Observe(status *models.CurrentStatus, c Classification) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.state.RecordedAt.IsZero() && !status.RecordedAt.After(m.state.RecordedAt) {
		return nil
	}

	m.state.RecordedAt = status.RecordedAt
	m.state.Latitude = status.Latitude
	m.state.Longitude = status.Longitude
	m.state.SpeedKmh = status.SpeedKmh
	m.state.Heading = status.Heading
	m.state.VoltageVolts = c.VoltageVolts
	m.state.StarterDisabled = c.StarterDisabled
	m.state.BuzzerActive = c.BuzzerActive
	m.state.StatusLabel = c.StatusLabel

	target := string(c.MovementState)
	if m.fsm.Current() == target {
		return nil
	}
	for _, event := range transitionsTo[target] {
		if m.fsm.Can(event) {
			return m.trigger(event, status.RecordedAt)
		}
	}
	return fmt.Errorf("no transition from %s to %s", m.fsm.Current(), target)
}

// Manager 状态机管理器
type Manager struct {
	mu       sync.RWMutex
	machines map[int64]*Machine
	onChange func(vehicleID int64, from, to string)
}

// NewManager 创建管理器
func NewManager(onChange func(vehicleID int64, from, to string)) *Manager {
	return &Manager{
		machines: make(map[int64]*Machine),
		onChange: onChange,
	}
}

// GetOrCreate 获取或创建状态机
func (m *Manager) GetOrCreate(vehicleID, fleetID int64, initialState string) *Machine {
	m.mu.Lock()
	defer m.mu.Unlock()

	if machine, ok := m.machines[vehicleID]; ok {
		return machine
	}

	machine := NewMachine(vehicleID, initialState, m.onChange)
	machine.state.FleetID = fleetID
	m.machines[vehicleID] = machine
	return machine
}

// Get 获取状态机
func (m *Manager) Get(vehicleID int64) (*Machine, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	machine, ok := m.machines[vehicleID]
	return machine, ok
}

// GetAllStates 获取所有车辆状态
func (m *Manager) GetAllStates() map[int64]*VehicleState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	states := make(map[int64]*VehicleState)
	for vehicleID, machine := range m.machines {
		states[vehicleID] = machine.GetState()
	}
	return states
}

// FleetStates 指定车队的实时状态
func (m *Manager) FleetStates(fleetID int64) []*VehicleState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var states []*VehicleState
	for _, machine := range m.machines {
		s := machine.GetState()
		if s.FleetID == fleetID {
			states = append(states, s)
		}
	}
	return states
}

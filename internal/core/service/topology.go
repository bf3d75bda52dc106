package service

import (
	"fmt"
	"math"

	"github.com/berfenger/homebattery2mqtt/internal/core/channel"
	"github.com/berfenger/homebattery2mqtt/internal/core/domain"
	"github.com/berfenger/homebattery2mqtt/internal/core/regmap"
	"go.uber.org/zap"
)

const maxModulesPerTower = 10

type moduleKey struct {
	tower, module int
}

// topology tracks the towers and modules whose channels and tasks already exist.
type topology struct {
	towers  map[int]bool
	modules map[moduleKey]bool
}

func newTopology() topology {
	return topology{towers: map[int]bool{}, modules: map[moduleKey]bool{}}
}

// Topology is the battery layout derived from the last poll.
type Topology struct {
	Towers          int
	ModulesPerTower int
	HardwareType    HardwareType
}

// Topology reports the derived layout, ok is false while it is unknown.
func (b *HomeBattery) Topology() (Topology, bool) {
	modules, ok := b.tbl.Get(b.ch.modulesPerTower).Int()
	if !ok || modules <= 0 {
		return Topology{}, false
	}
	versions := make([]channel.Value, len(b.ch.towerVersions))
	for i, id := range b.ch.towerVersions {
		versions[i] = b.tbl.Get(id)
	}
	towers, ok := TowerCount(versions)
	if !ok {
		return Topology{}, false
	}
	code, ok := b.tbl.Get(b.ch.hardwareType).Int()
	if !ok {
		return Topology{}, false
	}
	hw, known := HardwareTypeByCode(int(code))
	if !known {
		hw = DefaultHardwareType
	}
	return Topology{Towers: towers, ModulesPerTower: int(modules), HardwareType: hw}, true
}

// refreshTopology publishes the derived values and appends the channels and tasks of towers and modules that
// appeared since the last call. It never removes anything.
func (b *HomeBattery) refreshTopology() error {
	topo, ok := b.Topology()
	if !ok {
		return nil
	}
	if topo.ModulesPerTower > maxModulesPerTower {
		return fmt.Errorf("%d modules per tower exceeds the supported %d", topo.ModulesPerTower, maxModulesPerTower)
	}
	hw := topo.HardwareType

	b.tbl.Set(b.ch.numberOfTowers, channel.IntValue(int32(topo.Towers)))
	b.tbl.Set(b.ch.chargeMaxVoltage, channel.IntValue(int32(math.Round(float64(topo.ModulesPerTower)*hw.ModuleMaxVoltage))))
	b.tbl.Set(b.ch.dischargeMinVoltage, channel.IntValue(int32(math.Round(float64(topo.ModulesPerTower)*hw.ModuleMinVoltage))))
	b.tbl.Set(b.ch.capacity, channel.IntValue(int32(topo.Towers*topo.ModulesPerTower*hw.CapacityPerModule)))

	var tasks []*regmap.Task
	for tower := 0; tower < topo.Towers; tower++ {
		if !b.topo.towers[tower] {
			t, err := b.towerTask(tower, hw)
			if err != nil {
				b.proto.AddTasks(tasks...)
				return fmt.Errorf("tower %d: %w", tower, err)
			}
			tasks = append(tasks, t)
			b.topo.towers[tower] = true
		}
		for module := 0; module < topo.ModulesPerTower; module++ {
			key := moduleKey{tower: tower, module: module}
			if b.topo.modules[key] {
				continue
			}
			t, err := b.moduleTask(tower, module, hw)
			if err != nil {
				b.proto.AddTasks(tasks...)
				return fmt.Errorf("tower %d module %d: %w", tower, module, err)
			}
			tasks = append(tasks, t)
			b.topo.modules[key] = true
		}
	}
	if len(tasks) > 0 {
		b.proto.AddTasks(tasks...)
		b.logger.Info("battery@topology: expanded register map",
			zap.Int("towers", topo.Towers),
			zap.Int("modules_per_tower", topo.ModulesPerTower),
			zap.String("hardware_type", hw.Name),
			zap.Int("new_tasks", len(tasks)),
			zap.Int("channels", b.tbl.Len()))
	}
	return nil
}

// Info summarizes the battery for discovery and the API.
func (b *HomeBattery) Info() domain.BatteryInfo {
	info := domain.BatteryInfo{
		State:     b.sm.State().String(),
		StartStop: b.StartStopTarget().String(),
	}
	topo, ok := b.Topology()
	if !ok {
		return info
	}
	info.Known = true
	info.HardwareType = topo.HardwareType.Name
	info.Towers = topo.Towers
	info.ModulesPerTower = topo.ModulesPerTower
	info.Capacity = b.tbl.Get(b.ch.capacity).IntOr(0)
	return info
}

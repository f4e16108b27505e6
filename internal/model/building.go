package model

import (
	"sort"
	"time"
)

// Building is the root of the entity graph: one Miniserver's rooms, keyed
// through a frozen Registry, plus the bookkeeping needed to decide when the
// graph should next be persisted (§3, §6).
type Building struct {
	registry *Registry

	Name          string
	Serial        string
	LastModified  time.Time
	Rooms         []*Room
	Change        ChangeClass
	LastPersisted time.Time
}

// control type names recognised in the structure document (§3). Jalousie is
// a top-level control type, a sibling of IRoomControllerV2 and
// LightControllerV2, never a LightControllerV2 sub-control. Unknown control
// types are ignored, not an error: a Miniserver's structure file routinely
// contains controls this client has no use for.
const (
	controlRoomTemperature = "IRoomControllerV2"
	controlLight           = "LightControllerV2"
	controlJalousie        = "Jalousie"
	controlPresence        = "PresenceDetector"
)

// sub-control types nested under a LightControllerV2 (§3).
const (
	subControlSwitch = "Switch"
)

// state keys read off each recognised control (§3).
const (
	stateTempActual          = "tempActual"
	stateTempTarget          = "tempTarget"
	stateHumidityActual      = "humidityActual"
	stateVentilationOpen     = "openWindow"
	stateSwitchOn            = "active"
	stateJalousiePos         = "position"
	statePresenceActive      = "active"
	roundedTempHumidityScale = 0.5
	roundedJalousieScale     = 1
)

// NewBuilding builds the entity graph from a decoded structure document. It
// performs the two-phase construction described in §9: every leaf is
// allocated first, and only once a room's full set of leaves exists are they
// installed into the registry, so no leaf ever needs a back-pointer to the
// registry that owns it.
func NewBuilding(doc StructureDocument) (*Building, error) {
	typing := buildTyping(doc)
	registry := newRegistry(typing)

	lastModified, _ := time.Parse(time.RFC3339, doc.LastModified)

	b := &Building{
		registry:     registry,
		Name:         doc.MsInfo.MsName,
		Serial:       doc.MsInfo.SerialNr,
		LastModified: lastModified,
	}

	roomIDs := make([]string, 0, len(doc.Rooms))
	for id := range doc.Rooms {
		roomIDs = append(roomIDs, id)
	}
	sort.Strings(roomIDs)

	for _, roomID := range roomIDs {
		room, leaves := buildRoom(roomID, doc.Rooms[roomID].Name, doc)
		for _, leaf := range leaves {
			if err := registry.install(leaf); err != nil {
				return nil, err
			}
		}
		b.Rooms = append(b.Rooms, room)
	}

	return b, nil
}

// buildRoom allocates every leaf belonging to roomID and wraps them into the
// room's aggregates, returning the flat leaf list for registration.
func buildRoom(roomID, roomName string, doc StructureDocument) (*Room, []Leaf) {
	room := &Room{ID: roomID, Name: roomName}
	var leaves []Leaf

	var temperature, temperatureTarget, humidity, shading []*RoundedValue
	var light, presence, ventilation []*BoolValue

	for _, control := range doc.Controls {
		if control.Room != roomID {
			continue
		}

		switch control.Type {
		case controlRoomTemperature:
			if id, ok := control.States[stateTempActual]; ok {
				leaf := NewRoundedValue(id, ChangeLater, roundedTempHumidityScale)
				temperature = append(temperature, leaf)
				leaves = append(leaves, leaf)
			}
			if id, ok := control.States[stateTempTarget]; ok {
				leaf := NewRoundedValue(id, ChangeLater, roundedTempHumidityScale)
				temperatureTarget = append(temperatureTarget, leaf)
				leaves = append(leaves, leaf)
			}
			if id, ok := control.States[stateHumidityActual]; ok {
				leaf := NewRoundedValue(id, ChangeLater, roundedTempHumidityScale)
				humidity = append(humidity, leaf)
				leaves = append(leaves, leaf)
			}
			if id, ok := control.States[stateVentilationOpen]; ok {
				leaf := NewBoolValue(id, ChangeLater)
				ventilation = append(ventilation, leaf)
				leaves = append(leaves, leaf)
			}

		case controlLight:
			for _, sub := range control.SubControls {
				if sub.Type != subControlSwitch {
					continue
				}
				if id, ok := sub.States[stateSwitchOn]; ok {
					leaf := NewBoolValue(id, ChangeImmediate)
					light = append(light, leaf)
					leaves = append(leaves, leaf)
				}
			}

		case controlJalousie:
			if id, ok := control.States[stateJalousiePos]; ok {
				leaf := NewRoundedValue(id, ChangeLater, roundedJalousieScale)
				shading = append(shading, leaf)
				leaves = append(leaves, leaf)
			}

		case controlPresence:
			if id, ok := control.States[statePresenceActive]; ok {
				leaf := NewBoolValue(id, ChangeImmediate)
				presence = append(presence, leaf)
				leaves = append(leaves, leaf)
			}
		}
	}

	room.Temperature = NewRoundedAggregate(AggregateMean, temperature)
	room.TemperatureTarget = NewRoundedAggregate(AggregateMean, temperatureTarget)
	room.Humidity = NewRoundedAggregate(AggregateMean, humidity)
	room.Light = NewBoolAggregate(AggregateOr, light)
	room.Shading = NewRoundedAggregate(AggregateMean, shading)
	room.Valve = NewRoundedAggregate(AggregateMean, nil)
	room.Ventilation = NewBoolAggregate(AggregateOr, ventilation)
	room.Presence = NewBoolAggregate(AggregateOr, presence)

	return room, leaves
}

// ApplyUpdate routes a single value-state update into the registry and
// folds its ChangeClass into Building.Change, which only ever increases
// between persists (§3 invariants).
func (b *Building) ApplyUpdate(id string, value float64) ChangeClass {
	change := b.registry.Update(id, value)
	b.Change = max(b.Change, change)
	return change
}

// Dropped reports how many updates have arrived for identifiers absent from
// the structure document (§8 scenario 6).
func (b *Building) Dropped() int64 {
	return b.registry.Dropped()
}

// ResetAfterPersist clears Change back to NO and records when the persist
// happened, ready for the next aggregation window (§6).
func (b *Building) ResetAfterPersist(at time.Time) {
	b.Change = ChangeNone
	b.LastPersisted = at
}

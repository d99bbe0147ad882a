// Package devicecomm is a resource kind that models a communication session
// with a register-mapped device: a register file loaded from a CSV map, four
// 8-bit GPIO ports, and a bus protocol chosen at initialization. The resource
// name is the device identifier.
package devicecomm

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ggoodman/session-sharing-go/registry"
)

const (
	// KindName is the registry kind served by this package.
	KindName = "device-communication"
	// ServiceClass and ProvidedInterface identify the service in discovery.
	ServiceClass      = "ni.devicecomm.DeviceCommunicationService"
	ProvidedInterface = "ni.devicecomm.v1"
	// DisplayName is the human readable service name.
	DisplayName = "Device Communication Service"

	// Ports is the number of GPIO ports; each has Channels channels.
	Ports    = 4
	Channels = 8
)

// Protocol is the bus used to reach the device.
type Protocol string

const (
	ProtocolSPI  Protocol = "SPI"
	ProtocolI2C  Protocol = "I2C"
	ProtocolUART Protocol = "UART"
)

// Valid reports whether p is a supported protocol.
func (p Protocol) Valid() bool {
	switch p {
	case ProtocolSPI, ProtocolI2C, ProtocolUART:
		return true
	}
	return false
}

// Params are the construction parameters of a device session.
type Params struct {
	RegisterMap string   `json:"register_map" jsonschema:"description=path to the register map .csv file"`
	Protocol    Protocol `json:"protocol" jsonschema:"enum=SPI,enum=I2C,enum=UART"`
	Reset       bool     `json:"reset,omitempty" jsonschema:"description=drive GPIO low and load register defaults"`
}

// Validate implements registry.Validator. Protocol names are case-insensitive.
func (p *Params) Validate() error {
	if p.RegisterMap == "" {
		return fmt.Errorf("register_map is required")
	}
	p.Protocol = Protocol(strings.ToUpper(string(p.Protocol)))
	if !p.Protocol.Valid() {
		return fmt.Errorf("unsupported protocol %q: expected SPI, I2C or UART", p.Protocol)
	}
	return nil
}

// Device is an open device session. It is safe for concurrent use.
type Device struct {
	id       string
	protocol Protocol
	regMap   string

	mu     sync.RWMutex
	regs   []Register
	byName map[string]int
	byAddr map[uint32]int
	values []uint32
	gpio   [Ports]uint8
	closed bool
}

// Kind returns the registry kind for device communication sessions.
func Kind() registry.Kind {
	return registry.NewKind(KindName,
		func(ctx context.Context, resourceName string, p Params) (registry.Handle, error) {
			return Open(resourceName, p)
		},
		registry.WithKindDescription("Register and GPIO access to a device over SPI, I2C or UART."),
		registry.WithNameNormalizer(func(name string) (string, error) {
			return strings.TrimSpace(name), nil
		}),
		registry.WithOperations(operations()...),
	)
}

// Open loads the register map and powers the device up. With Reset the GPIO
// ports are driven low and every register holds its default; otherwise the
// ports float high through their pull-ups and registers keep their defaults.
func Open(deviceID string, p Params) (*Device, error) {
	if err := p.Validate(); err != nil {
		return nil, registry.Errorf(registry.CodeInvalidArgument, "%v", err)
	}
	regs, err := LoadRegisterMap(p.RegisterMap)
	if err != nil {
		return nil, err
	}
	d := &Device{
		id:       deviceID,
		protocol: p.Protocol,
		regMap:   p.RegisterMap,
		regs:     regs,
		byName:   make(map[string]int, len(regs)),
		byAddr:   make(map[uint32]int, len(regs)),
		values:   make([]uint32, len(regs)),
	}
	for i, r := range regs {
		d.byName[r.Name] = i
		d.byAddr[r.Address] = i
		d.values[i] = r.Default
	}
	level := uint8(0xFF)
	if p.Reset {
		level = 0
	}
	for i := range d.gpio {
		d.gpio[i] = level
	}
	return d, nil
}

// ID returns the device identifier.
func (d *Device) ID() string { return d.id }

// Protocol returns the bus protocol of the session.
func (d *Device) Protocol() Protocol { return d.protocol }

// Close implements registry.Handle.
func (d *Device) Close(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fmt.Errorf("device %s already closed", d.id)
	}
	d.closed = true
	return nil
}

// RegisterRef addresses a register by name or by address, never both.
type RegisterRef struct {
	Register string  `json:"register,omitempty"`
	Address  *uint32 `json:"address,omitempty"`
}

func (r RegisterRef) check() error {
	if (r.Register == "") == (r.Address == nil) {
		return registry.Errorf(registry.CodeInvalidArgument, "exactly one of register or address must be set")
	}
	return nil
}

// RegisterValue is the result of a register access.
type RegisterValue struct {
	Register string `json:"register"`
	Address  uint32 `json:"address"`
	Value    uint32 `json:"value"`
}

// ReadRegister returns the current value of a register.
func (d *Device) ReadRegister(ref RegisterRef) (RegisterValue, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	i, err := d.resolveLocked(ref)
	if err != nil {
		return RegisterValue{}, err
	}
	return RegisterValue{Register: d.regs[i].Name, Address: d.regs[i].Address, Value: d.values[i]}, nil
}

// WriteRegister stores value in a register and returns the stored value.
func (d *Device) WriteRegister(ref RegisterRef, value uint32) (RegisterValue, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	i, err := d.resolveLocked(ref)
	if err != nil {
		return RegisterValue{}, err
	}
	d.values[i] = value
	return RegisterValue{Register: d.regs[i].Name, Address: d.regs[i].Address, Value: value}, nil
}

func (d *Device) resolveLocked(ref RegisterRef) (int, error) {
	if d.closed {
		return 0, fmt.Errorf("device %s is closed", d.id)
	}
	if err := ref.check(); err != nil {
		return 0, err
	}
	if ref.Address != nil {
		i, ok := d.byAddr[*ref.Address]
		if !ok {
			return 0, registry.Errorf(registry.CodeInvalidArgument, "no register at address %#x", *ref.Address)
		}
		return i, nil
	}
	i, ok := d.byName[ref.Register]
	if !ok {
		return 0, registry.Errorf(registry.CodeInvalidArgument, "unknown register %q", ref.Register)
	}
	return i, nil
}

// ReadGPIOChannel returns the level of one channel.
func (d *Device) ReadGPIOChannel(port, channel int) (bool, error) {
	if err := checkChannel(port, channel); err != nil {
		return false, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false, fmt.Errorf("device %s is closed", d.id)
	}
	return d.gpio[port]&(1<<channel) != 0, nil
}

// WriteGPIOChannel drives one channel high or low.
func (d *Device) WriteGPIOChannel(port, channel int, high bool) error {
	if err := checkChannel(port, channel); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fmt.Errorf("device %s is closed", d.id)
	}
	if high {
		d.gpio[port] |= 1 << channel
	} else {
		d.gpio[port] &^= 1 << channel
	}
	return nil
}

// ReadGPIOPort returns the levels of the channels selected by mask.
func (d *Device) ReadGPIOPort(port int, mask uint8) (uint8, error) {
	if err := checkPort(port); err != nil {
		return 0, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return 0, fmt.Errorf("device %s is closed", d.id)
	}
	return d.gpio[port] & mask, nil
}

// WriteGPIOPort sets the channels selected by mask to the matching bits of
// value and returns the resulting port state.
func (d *Device) WriteGPIOPort(port int, mask, value uint8) (uint8, error) {
	if err := checkPort(port); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, fmt.Errorf("device %s is closed", d.id)
	}
	d.gpio[port] = d.gpio[port]&^mask | value&mask
	return d.gpio[port], nil
}

func checkPort(port int) error {
	if port < 0 || port >= Ports {
		return registry.Errorf(registry.CodeInvalidArgument, "gpio port %d out of range 0-%d", port, Ports-1)
	}
	return nil
}

func checkChannel(port, channel int) error {
	if err := checkPort(port); err != nil {
		return err
	}
	if channel < 0 || channel >= Channels {
		return registry.Errorf(registry.CodeInvalidArgument, "gpio channel %d out of range 0-%d", channel, Channels-1)
	}
	return nil
}

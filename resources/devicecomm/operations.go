package devicecomm

import (
	"context"

	"github.com/ggoodman/session-sharing-go/registry"
)

// WriteRegisterParams are the parameters of write_register.
type WriteRegisterParams struct {
	RegisterRef
	Value uint32 `json:"value"`
}

// ChannelParams address a single GPIO channel.
type ChannelParams struct {
	Port    int `json:"port" jsonschema:"minimum=0,maximum=3"`
	Channel int `json:"channel" jsonschema:"minimum=0,maximum=7"`
}

// WriteChannelParams are the parameters of write_gpio_channel.
type WriteChannelParams struct {
	ChannelParams
	State bool `json:"state" jsonschema:"description=true drives the channel high"`
}

// ChannelState is the result of a channel access.
type ChannelState struct {
	Port    int  `json:"port"`
	Channel int  `json:"channel"`
	State   bool `json:"state"`
}

// PortParams are the parameters of read_gpio_port. A nil mask selects every
// channel.
type PortParams struct {
	Port int    `json:"port" jsonschema:"minimum=0,maximum=3"`
	Mask *uint8 `json:"mask,omitempty"`
}

func (p PortParams) mask() uint8 {
	if p.Mask == nil {
		return 0xFF
	}
	return *p.Mask
}

// WritePortParams are the parameters of write_gpio_port.
type WritePortParams struct {
	PortParams
	Value uint8 `json:"value"`
}

// PortState is the result of a port access.
type PortState struct {
	Port  int   `json:"port"`
	Mask  uint8 `json:"mask"`
	Value uint8 `json:"value"`
}

func operations() []registry.Operation {
	return []registry.Operation{
		registry.NewOperation("read_register", func(ctx context.Context, d *Device, p RegisterRef) (RegisterValue, error) {
			return d.ReadRegister(p)
		}, registry.WithOperationDescription("Read a register by name or address.")),

		registry.NewOperation("write_register", func(ctx context.Context, d *Device, p WriteRegisterParams) (RegisterValue, error) {
			return d.WriteRegister(p.RegisterRef, p.Value)
		}, registry.WithOperationDescription("Write a register by name or address.")),

		registry.NewOperation("read_gpio_channel", func(ctx context.Context, d *Device, p ChannelParams) (ChannelState, error) {
			state, err := d.ReadGPIOChannel(p.Port, p.Channel)
			return ChannelState{Port: p.Port, Channel: p.Channel, State: state}, err
		}, registry.WithOperationDescription("Read the level of one GPIO channel.")),

		registry.NewOperation("write_gpio_channel", func(ctx context.Context, d *Device, p WriteChannelParams) (ChannelState, error) {
			err := d.WriteGPIOChannel(p.Port, p.Channel, p.State)
			return ChannelState{Port: p.Port, Channel: p.Channel, State: p.State}, err
		}, registry.WithOperationDescription("Drive one GPIO channel high or low.")),

		registry.NewOperation("read_gpio_port", func(ctx context.Context, d *Device, p PortParams) (PortState, error) {
			v, err := d.ReadGPIOPort(p.Port, p.mask())
			return PortState{Port: p.Port, Mask: p.mask(), Value: v}, err
		}, registry.WithOperationDescription("Read the masked levels of a GPIO port.")),

		registry.NewOperation("write_gpio_port", func(ctx context.Context, d *Device, p WritePortParams) (PortState, error) {
			v, err := d.WriteGPIOPort(p.Port, p.mask(), p.Value)
			return PortState{Port: p.Port, Mask: p.mask(), Value: v}, err
		}, registry.WithOperationDescription("Set the masked channels of a GPIO port.")),
	}
}
